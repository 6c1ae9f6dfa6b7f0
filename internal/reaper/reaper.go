// Package reaper cleans up after replicas that died mid-run. It sweeps job
// leases whose heartbeat lapsed, records the abandoned run as failed and
// frees the kind for the next trigger.
package reaper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/toolscout/catalogd/internal/domain"
	"github.com/toolscout/catalogd/internal/metrics"
)

// AbandonedError is the error recorded on a run whose holder stopped heartbeating.
const AbandonedError = "run abandoned: heartbeat lost"

// LeaseStore is the lease backend being swept.
type LeaseStore interface {
	ExpiredLeases(ctx context.Context) ([]domain.JobLease, error)
	// ReleaseExpired drops lease only if the same run still holds it and it
	// is still expired. It reports whether the lease was removed.
	ReleaseExpired(ctx context.Context, lease domain.JobLease) (bool, error)
}

// ReportStore holds the latest report per kind.
type ReportStore interface {
	SaveReport(ctx context.Context, r domain.RunReport) error
	LatestReport(ctx context.Context, kind domain.JobKind) (*domain.RunReport, error)
}

// ReportArchiver keeps a history copy of each run report.
type ReportArchiver interface {
	ArchiveRunReport(ctx context.Context, r domain.RunReport) error
}

// Status summarizes one sweep.
type Status struct {
	LeasesReaped   int `json:"leasesReaped"`
	ReportsWritten int `json:"reportsWritten"`
}

// Reaper is a background daemon that sweeps expired leases.
type Reaper struct {
	leases   LeaseStore
	reports  ReportStore
	archive  ReportArchiver
	metrics  *metrics.Metrics
	interval time.Duration
	now      func() time.Time
	cancel   context.CancelFunc
	done     chan struct{}
}

// Option configures a Reaper.
type Option func(*Reaper)

// WithInterval sets the sweep interval.
func WithInterval(d time.Duration) Option { return func(r *Reaper) { r.interval = d } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(r *Reaper) { r.now = now } }

// WithArchiver also archives the failed reports the reaper writes.
func WithArchiver(a ReportArchiver) Option { return func(r *Reaper) { r.archive = a } }

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option { return func(r *Reaper) { r.metrics = m } }

// New creates a Reaper. The default interval is one minute.
func New(leases LeaseStore, reports ReportStore, opts ...Option) *Reaper {
	r := &Reaper{
		leases:   leases,
		reports:  reports,
		interval: time.Minute,
		now:      time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	if r.interval < time.Second {
		r.interval = time.Second
	}
	return r
}

// Start begins the background reaper goroutine.
func (r *Reaper) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := r.RunNow(ctx); err != nil {
					slog.Error("reaper: sweep failed", "error", err)
				}
			}
		}
	}()
}

// Stop cancels the background goroutine and waits for it to finish.
func (r *Reaper) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	if r.done != nil {
		<-r.done
	}
}

// RunNow sweeps once. A failure on one lease does not stop the others.
func (r *Reaper) RunNow(ctx context.Context) (Status, error) {
	var status Status
	leases, err := r.leases.ExpiredLeases(ctx)
	if err != nil {
		return status, fmt.Errorf("list expired leases: %w", err)
	}

	for _, lease := range leases {
		r.safeRun(lease, func() {
			written, released, err := r.reap(ctx, lease)
			if err != nil {
				slog.Warn("reaper: failed to reap lease",
					"kind", lease.Kind, "holder", lease.Holder, "run_id", lease.RunID, "error", err)
				return
			}
			if written {
				status.ReportsWritten++
			}
			if released {
				status.LeasesReaped++
			}
		})
	}

	if status.LeasesReaped > 0 {
		slog.Info("reaper: sweep complete",
			"leases_reaped", status.LeasesReaped,
			"reports_written", status.ReportsWritten)
	}
	return status, nil
}

// reap records the abandoned run unless a report newer than the lease
// already exists, then releases the lease. The release only matches the
// same holder and run while still expired; a lease that was renewed or
// re-acquired since the listing is left alone and released is false.
func (r *Reaper) reap(ctx context.Context, lease domain.JobLease) (written, released bool, err error) {
	latest, err := r.reports.LatestReport(ctx, lease.Kind)
	if err != nil {
		return false, false, fmt.Errorf("load latest report: %w", err)
	}

	if latest == nil || (latest.RunID != lease.RunID && latest.Timestamp.Before(lease.AcquiredAt)) {
		report := abandonedReport(lease, r.now())
		if err := r.reports.SaveReport(ctx, report); err != nil {
			return false, false, fmt.Errorf("save abandoned report: %w", err)
		}
		if r.archive != nil {
			if err := r.archive.ArchiveRunReport(ctx, report); err != nil {
				slog.Warn("reaper: failed to archive report", "run_id", report.RunID, "error", err)
			}
		}
		written = true
	}

	released, err = r.leases.ReleaseExpired(ctx, lease)
	if err != nil {
		return written, false, fmt.Errorf("release lease: %w", err)
	}
	if !released {
		slog.Info("reaper: lease renewed before release, left in place",
			"kind", lease.Kind, "holder", lease.Holder, "run_id", lease.RunID)
		return written, false, nil
	}
	r.metrics.LeaseReaped()
	slog.Info("reaper: released abandoned lease",
		"kind", lease.Kind, "holder", lease.Holder, "run_id", lease.RunID, "report_written", written)
	return written, true, nil
}

func abandonedReport(lease domain.JobLease, now time.Time) domain.RunReport {
	return domain.RunReport{
		RunID:      lease.RunID,
		Kind:       lease.Kind,
		Timestamp:  now,
		Success:    false,
		Errors:     []string{AbandonedError},
		DurationMs: now.Sub(lease.AcquiredAt).Milliseconds(),
	}
}

func (r *Reaper) safeRun(lease domain.JobLease, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("reaper: sweep panicked", "kind", lease.Kind, "panic", rec)
		}
	}()
	fn()
}
