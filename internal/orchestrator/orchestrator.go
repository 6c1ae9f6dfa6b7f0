// Package orchestrator runs catalog discovery and refresh jobs as supervised
// background tasks.
//
// Each job kind has at most one task in this process (an in-memory registry)
// and at most one across replicas (a Locker lease kept alive by a heartbeat).
// When a task exits, for any reason, its completion continuation runs exactly
// once: persist the RunReport, invalidate dependent caches, broadcast a
// completion event and bump the content markers.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/toolscout/catalogd/internal/domain"
	"github.com/toolscout/catalogd/internal/events"
	"github.com/toolscout/catalogd/internal/metrics"
)

// Deps are the orchestrator's collaborators. Archive, Metrics and Markers
// may be nil.
type Deps struct {
	Catalog  CatalogStore
	Reports  ReportStore
	Settings SettingsStore
	Markers  MarkerStore
	Producer Producer
	Views    Invalidator
	Bus      events.Bus
	Locker   Locker
	Archive  ReportArchiver
	Metrics  *metrics.Metrics
}

// Options tunes timing. Zero values take the defaults below.
type Options struct {
	RunTimeout          time.Duration
	LockTTL             time.Duration
	HeartbeatInterval   time.Duration
	StaleAfter          time.Duration
	ReportRetries       uint
	ReportBackoff       func() backoff.BackOff
	AutoRefreshSchedule string

	// CancelGrace is how long a cancelled or timed-out task may keep
	// running before it is abandoned and its kind freed.
	CancelGrace time.Duration
	Now         func() time.Time
}

const (
	defaultRunTimeout   = 30 * time.Minute
	defaultLockTTL      = 2 * time.Minute
	defaultHeartbeat    = 30 * time.Second
	defaultStaleAfter   = 24 * time.Hour
	defaultRetries      = 5
	defaultAutoSchedule = "@every 6h"
	defaultCancelGrace  = 10 * time.Second
	continuationTimeout = 30 * time.Second
)

// Orchestrator owns the task registry and the auto-refresh loop.
type Orchestrator struct {
	deps   Deps
	opts   Options
	holder string

	mu      sync.Mutex
	baseCtx context.Context
	running map[domain.JobKind]*task
	// unsaved holds the newest report per kind that could not be persisted,
	// so GetStatus can surface it as failed.
	unsaved map[domain.JobKind]domain.RunReport
	auto    *autoRefresh
	wg      sync.WaitGroup
}

type task struct {
	runID     string
	startedAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}
}

// New creates an orchestrator. Call Start to restore the auto-refresh loop.
func New(deps Deps, opts Options) *Orchestrator {
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = defaultRunTimeout
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = defaultLockTTL
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = defaultHeartbeat
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = defaultStaleAfter
	}
	if opts.ReportRetries == 0 {
		opts.ReportRetries = defaultRetries
	}
	if opts.ReportBackoff == nil {
		opts.ReportBackoff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			return b
		}
	}
	if opts.AutoRefreshSchedule == "" {
		opts.AutoRefreshSchedule = defaultAutoSchedule
	}
	if opts.CancelGrace <= 0 {
		opts.CancelGrace = defaultCancelGrace
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if deps.Locker == nil {
		deps.Locker = NewMemoryLocker()
	}
	if deps.Bus == nil {
		deps.Bus = events.NewMemoryBus()
	}
	return &Orchestrator{
		deps:    deps,
		opts:    opts,
		holder:  uuid.NewString(),
		baseCtx: context.Background(),
		running: make(map[domain.JobKind]*task),
		unsaved: make(map[domain.JobKind]domain.RunReport),
	}
}

// Holder identifies this replica in job leases.
func (o *Orchestrator) Holder() string { return o.holder }

// TriggerRun starts a background task for kind and returns immediately.
// If kind is already running the call starts nothing and reports
// AlreadyRunning with the in-flight run id.
func (o *Orchestrator) TriggerRun(_ context.Context, kind domain.JobKind) (domain.RunAccepted, error) {
	if _, err := domain.ParseJobKind(string(kind)); err != nil {
		return domain.RunAccepted{}, err
	}
	now := o.opts.Now()

	o.mu.Lock()
	defer o.mu.Unlock()

	if t, ok := o.running[kind]; ok {
		o.deps.Metrics.RunRejected(string(kind))
		slog.Info("orchestrator: run already in progress", "kind", kind, "run_id", t.runID)
		return domain.RunAccepted{
			Message:        fmt.Sprintf("%s already running since %s", kind, t.startedAt.UTC().Format(time.RFC3339)),
			Timestamp:      now,
			SyncEnabled:    true,
			Kind:           kind,
			RunID:          t.runID,
			AlreadyRunning: true,
		}, nil
	}

	ctx, cancel := context.WithTimeout(o.baseCtx, o.opts.RunTimeout)
	t := &task{
		runID:     uuid.NewString(),
		startedAt: now,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	o.running[kind] = t
	o.wg.Add(1)
	go o.execute(ctx, kind, t)

	slog.Info("orchestrator: run started", "kind", kind, "run_id", t.runID)
	return domain.RunAccepted{
		Message:     acceptedMessage(kind),
		Timestamp:   now,
		SyncEnabled: true,
		Kind:        kind,
		RunID:       t.runID,
	}, nil
}

func acceptedMessage(kind domain.JobKind) string {
	switch kind {
	case domain.JobDiscovery:
		return "Automation started in background"
	case domain.JobManualRefresh:
		return "Data refresh started in background"
	default:
		return "Refresh started in background"
	}
}

// GetStatus returns the latest completed outcome for kind. An in-flight run
// never replaces the previous report; it only sets Running.
func (o *Orchestrator) GetStatus(ctx context.Context, kind domain.JobKind) (domain.RunStatus, error) {
	if _, err := domain.ParseJobKind(string(kind)); err != nil {
		return domain.RunStatus{}, err
	}
	rep, err := o.deps.Reports.LatestReport(ctx, kind)
	if err != nil {
		return domain.RunStatus{}, fmt.Errorf("load %s report: %w", kind, err)
	}

	o.mu.Lock()
	_, running := o.running[kind]
	unsaved, hasUnsaved := o.unsaved[kind]
	o.mu.Unlock()

	if hasUnsaved && (rep == nil || unsaved.Timestamp.After(rep.Timestamp)) {
		rep = &unsaved
	}

	st := domain.RunStatus{Kind: kind, Running: running}
	if rep == nil {
		st.State = domain.RunStateNoData
		return st, nil
	}
	st.Report = rep
	st.State = domain.RunStateCompleted
	if !rep.Success {
		st.State = domain.RunStateFailed
	}
	st.Stale = o.opts.Now().Sub(rep.Timestamp) > o.opts.StaleAfter
	return st, nil
}

// IsRunning reports whether kind has a task in this process.
func (o *Orchestrator) IsRunning(kind domain.JobKind) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.running[kind]
	return ok
}

// Wait blocks until the in-process task for kind, if any, has finished
// including its continuation.
func (o *Orchestrator) Wait(ctx context.Context, kind domain.JobKind) error {
	o.mu.Lock()
	t, ok := o.running[kind]
	o.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel cooperatively cancels the in-process task for kind. The task still
// writes its report.
func (o *Orchestrator) Cancel(kind domain.JobKind) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.running[kind]
	if ok {
		t.cancel()
	}
	return ok
}

// Start binds background work to ctx and restores the auto-refresh loop
// from the persisted setting.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	o.baseCtx = ctx
	o.mu.Unlock()

	enabled, err := o.AutoRefreshEnabled(ctx)
	if err != nil {
		return fmt.Errorf("orchestrator: read auto-refresh setting: %w", err)
	}
	if enabled {
		return o.startAutoRefresh(ctx)
	}
	return nil
}

// Stop ends the auto-refresh loop, cancels running tasks and waits for
// their continuations to finish.
func (o *Orchestrator) Stop() {
	o.stopAutoRefresh()
	o.mu.Lock()
	for _, t := range o.running {
		t.cancel()
	}
	o.mu.Unlock()
	o.wg.Wait()
}

var errLeaseLost = errors.New("lease lost")
