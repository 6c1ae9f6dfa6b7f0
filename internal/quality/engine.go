package quality

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"github.com/toolscout/catalogd/internal/domain"
	"github.com/toolscout/catalogd/internal/metrics"
	"github.com/toolscout/catalogd/internal/trending"
)

// CatalogStore is the slice of the catalog store the engine needs.
type CatalogStore interface {
	ListRecords(ctx context.Context) ([]domain.CatalogRecord, error)
	// ApplyFix writes patch, the recomputed trending score and the fix stamp in
	// one statement, guarded by the updated_at value read during the pass.
	// Returns domain.ErrRecordChanged when the record is gone or was modified.
	ApplyFix(ctx context.Context, id string, readAt time.Time, patch domain.RecordPatch, score float64, fixedAt time.Time) error
}

// AlertSink delivers threshold alerts. Delivery is fire-and-forget.
type AlertSink interface {
	SendAlert(ctx context.Context, payload domain.AlertPayload) error
}

// ReportArchiver keeps a copy of each quality report.
type ReportArchiver interface {
	ArchiveQualityReport(ctx context.Context, report *domain.QualityReport) error
}

// Engine runs quality passes over the catalog.
type Engine struct {
	store        CatalogStore
	fingerprints FingerprintSet
	rand         Rand
	randMu       sync.Mutex
	now          func() time.Time
	sink         AlertSink
	archive      ReportArchiver
	metrics      *metrics.Metrics
	fixWorkers   int
	fixTries     uint
	fixBackoff   func() backoff.BackOff
}

// Option configures an Engine.
type Option func(*Engine)

// WithFingerprints replaces the default fingerprint table.
func WithFingerprints(fs FingerprintSet) Option { return func(e *Engine) { e.fingerprints = fs } }

// WithClock overrides the time source used for fix stamps and report times.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithAlertSink sets where threshold alerts go.
func WithAlertSink(s AlertSink) Option { return func(e *Engine) { e.sink = s } }

// WithArchiver sets where quality reports are archived.
func WithArchiver(a ReportArchiver) Option { return func(e *Engine) { e.archive = a } }

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// WithFixRetry sets how often a transient fix write is retried and the backoff between tries.
func WithFixRetry(tries uint, b func() backoff.BackOff) Option {
	return func(e *Engine) {
		e.fixTries = tries
		e.fixBackoff = b
	}
}

// WithFixWorkers bounds how many fixes are written concurrently.
func WithFixWorkers(n int) Option { return func(e *Engine) { e.fixWorkers = max(1, n) } }

// NewEngine creates an engine drawing synthesized values from r.
func NewEngine(store CatalogStore, r Rand, opts ...Option) *Engine {
	e := &Engine{
		store:        store,
		fingerprints: DefaultFingerprints(),
		rand:         r,
		now:          time.Now,
		fixWorkers:   4,
		fixTries:     3,
		fixBackoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 100 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		},
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Fingerprints returns the table the engine matches against.
func (e *Engine) Fingerprints() FingerprintSet { return e.fingerprints }

type pendingFix struct {
	rec   domain.CatalogRecord
	patch domain.RecordPatch
}

// RunQualityPass scans the whole catalog once. A malformed or vanished record
// never aborts the pass; only a failure to list the catalog does.
func (e *Engine) RunQualityPass(ctx context.Context, cfg Config) (*domain.QualityReport, error) {
	records, err := e.store.ListRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("list catalog records: %w", err)
	}

	report := &domain.QualityReport{
		GeneratedAt:        e.now().UTC(),
		TotalRecords:       len(records),
		FingerprintVersion: e.fingerprints.Version,
		Findings:           []domain.QualityFinding{},
	}
	var fixes []pendingFix

	for _, rec := range records {
		findings, patch := e.inspect(rec)
		report.Findings = append(report.Findings, findings...)

		var schemaErrs, warnings, mock int
		for _, f := range findings {
			switch f.Kind {
			case domain.FindingSchemaError:
				schemaErrs++
			case domain.FindingRangeWarning:
				warnings++
			case domain.FindingMockData:
				mock++
			}
		}
		if schemaErrs == 0 {
			report.ValidRecords++
		} else {
			report.RecordsWithErrors++
		}
		if warnings > 0 {
			report.RecordsWithWarnings++
		}
		if mock > 0 {
			report.MockDataRecords++
		}
		if len(findings) == 0 {
			report.CleanRecords++
		}
		if len(findings) > cfg.MaxErrorsPerRecord {
			report.SuspiciousRecords++
		}
		if patch != nil {
			fixes = append(fixes, pendingFix{rec: rec, patch: *patch})
		}
	}

	report.QualityScore = score(report.TotalRecords, report.ValidRecords, report.RecordsWithErrors)

	if cfg.AutoFix && len(fixes) > 0 {
		e.applyFixes(ctx, fixes, report)
	}

	report.AlertReasons = alertReasons(report, cfg)
	if len(report.AlertReasons) > 0 {
		report.Alerted = true
		e.alert(ctx, report)
	}

	if e.archive != nil {
		if err := e.archive.ArchiveQualityReport(ctx, report); err != nil {
			slog.Warn("quality: archive report failed", "error", err)
		}
	}

	byKind := make(map[string]int)
	for _, f := range report.Findings {
		byKind[string(f.Kind)]++
	}
	e.metrics.QualityPass(report.QualityScore, byKind, report.FixesApplied, len(report.SkippedFixes), report.Alerted)

	slog.Info("quality: pass complete",
		"total", report.TotalRecords,
		"valid", report.ValidRecords,
		"score", report.QualityScore,
		"findings", len(report.Findings),
		"fixed", report.FixesApplied,
		"skipped", len(report.SkippedFixes),
		"alerted", report.Alerted,
	)
	return report, nil
}

// inspect validates one record, fingerprints it and, when it has only
// correctable findings, synthesizes a patch shared by those findings.
func (e *Engine) inspect(rec domain.CatalogRecord) ([]domain.QualityFinding, *domain.RecordPatch) {
	findings := validate(rec)

	var matched []Fingerprint
	if !rec.DataQualityFixed {
		matched = e.fingerprints.Match(rec)
	}
	for _, fp := range matched {
		findings = append(findings, domain.QualityFinding{
			RecordID:   rec.ID,
			RecordName: rec.Name,
			Kind:       domain.FindingMockData,
			Detail:     fmt.Sprintf("matches placeholder fingerprint %q (v%d)", fp.Name, e.fingerprints.Version),
		})
	}

	correctable := false
	for _, f := range findings {
		if f.Kind == domain.FindingSchemaError {
			return findings, nil
		}
		correctable = true
	}
	if !correctable {
		return findings, nil
	}

	fields := fieldsOf(matched)
	for f := range outOfBand(rec) {
		fields[f] = true
	}
	if len(fields) == 0 {
		return findings, nil
	}

	e.randMu.Lock()
	patch := synthesize(e.rand, fields)
	e.randMu.Unlock()

	for i := range findings {
		findings[i].Suggestion = &patch
	}
	return findings, &patch
}

// applyFixes writes each patch as one guarded update. Vanished or modified
// records are skipped; transient errors are retried then skipped.
func (e *Engine) applyFixes(ctx context.Context, fixes []pendingFix, report *domain.QualityReport) {
	var (
		mu      sync.Mutex
		applied int
		skipped []string
	)
	fixedAt := e.now().UTC()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.fixWorkers)
	for _, fx := range fixes {
		g.Go(func() error {
			err := e.applyOne(gctx, fx, fixedAt)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				skipped = append(skipped, fx.rec.ID)
				if errors.Is(err, domain.ErrRecordChanged) {
					slog.Info("quality: record changed during pass, fix skipped", "record_id", fx.rec.ID)
				} else {
					slog.Warn("quality: fix failed, skipped", "record_id", fx.rec.ID, "error", err)
				}
				return nil
			}
			applied++
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(skipped)
	report.FixesApplied = applied
	report.SkippedFixes = skipped
}

func (e *Engine) applyOne(ctx context.Context, fx pendingFix, fixedAt time.Time) error {
	patched := fx.patch.Apply(fx.rec)
	ts := trending.Score(patched.Rating, patched.ReviewCount, patched.WeeklyUsers, patched.Growth)

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := e.store.ApplyFix(ctx, fx.rec.ID, fx.rec.UpdatedAt, fx.patch, ts, fixedAt)
		if errors.Is(err, domain.ErrRecordChanged) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(e.fixBackoff()), backoff.WithMaxTries(e.fixTries))
	return err
}

func (e *Engine) alert(ctx context.Context, report *domain.QualityReport) {
	payload := BuildAlert(report)
	if e.sink == nil {
		slog.Warn("quality: thresholds crossed", "reasons", report.AlertReasons, "score", report.QualityScore)
		return
	}
	if err := e.sink.SendAlert(ctx, payload); err != nil {
		slog.Warn("quality: alert delivery failed", "error", err)
	}
}

// score averages the valid share and the error-free share, each out of 50.
// An empty catalog scores 100.
func score(total, valid, withErrors int) int {
	if total == 0 {
		return 100
	}
	t := float64(total)
	s := math.Round(float64(valid)/t*100/2 + float64(total-withErrors)/t*100/2)
	return int(max(0, min(100, s)))
}

func alertReasons(r *domain.QualityReport, cfg Config) []string {
	var reasons []string
	if pct := r.MockDataPct(); pct > cfg.MaxMockDataPct {
		reasons = append(reasons, fmt.Sprintf("mock data %.1f%% exceeds %.1f%%", pct, cfg.MaxMockDataPct))
	}
	if pct := r.SuspiciousPct(); pct > cfg.MaxSuspiciousPct {
		reasons = append(reasons, fmt.Sprintf("suspicious records %.1f%% exceeds %.1f%%", pct, cfg.MaxSuspiciousPct))
	}
	if float64(r.QualityScore) < cfg.MinQualityScore {
		reasons = append(reasons, fmt.Sprintf("quality score %d below %.0f", r.QualityScore, cfg.MinQualityScore))
	}
	return reasons
}

// BuildAlert turns a report into the alert payload, carrying every finding.
func BuildAlert(r *domain.QualityReport) domain.AlertPayload {
	issues := make([]domain.AlertIssue, 0, len(r.Findings))
	for _, f := range r.Findings {
		issues = append(issues, domain.AlertIssue{Name: f.RecordName, Type: f.Kind, Field: f.Field, Detail: f.Detail})
	}
	return domain.AlertPayload{
		QualityScore:      r.QualityScore,
		TotalTools:        r.TotalRecords,
		ValidTools:        r.ValidRecords,
		ToolsWithErrors:   r.RecordsWithErrors,
		ToolsWithWarnings: r.RecordsWithWarnings,
		MockDataTools:     r.MockDataRecords,
		SuspiciousTools:   r.SuspiciousRecords,
		Issues:            issues,
		Reasons:           r.AlertReasons,
		Summary: fmt.Sprintf("Data quality score %d/100: %d of %d records valid, %d with errors, %d with warnings, %d suspected mock data",
			r.QualityScore, r.ValidRecords, r.TotalRecords, r.RecordsWithErrors, r.RecordsWithWarnings, r.MockDataRecords),
		Timestamp: r.GeneratedAt,
	}
}
