// Package scheduler fires background quality passes on a cron schedule.
// It runs on the leader replica only, checking the schedule at a fixed
// interval (default 30s).
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/toolscout/catalogd/internal/domain"
	"github.com/toolscout/catalogd/internal/quality"
)

// PassRunner runs one quality pass. *quality.Engine satisfies it.
type PassRunner interface {
	RunQualityPass(ctx context.Context, cfg quality.Config) (*domain.QualityReport, error)
}

// Scheduler fires quality passes when the schedule is due.
type Scheduler struct {
	engine   PassRunner
	settings quality.SettingsReader
	spec     string
	sched    cron.Schedule
	interval time.Duration
	now      func() time.Time

	nextRun time.Time
	running atomic.Bool
	passes  sync.WaitGroup

	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval sets how often the schedule is checked.
func WithInterval(d time.Duration) Option { return func(s *Scheduler) { s.interval = d } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(s *Scheduler) { s.now = now } }

// New parses spec (standard cron or a descriptor such as "@every 1h").
func New(spec string, engine PassRunner, settings quality.SettingsReader, opts ...Option) (*Scheduler, error) {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parse quality schedule %q: %w", spec, err)
	}
	s := &Scheduler{
		engine:   engine,
		settings: settings,
		spec:     spec,
		sched:    sched,
		interval: 30 * time.Second,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Start begins the background scheduler goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.tick(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
	slog.Info("scheduler: quality passes scheduled", "schedule", s.spec)
}

// Stop cancels the loop and waits for an in-flight pass to return.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
	s.passes.Wait()
}

// tick fires a pass when the schedule is due. The first tick only computes
// the next run time.
func (s *Scheduler) tick(ctx context.Context) {
	now := s.now()
	if s.nextRun.IsZero() {
		s.nextRun = s.sched.Next(now)
		return
	}
	if s.nextRun.After(now) {
		return
	}
	s.nextRun = s.sched.Next(now)

	if !s.running.CompareAndSwap(false, true) {
		slog.Warn("scheduler: skipping quality pass, previous pass still running", "next_run_at", s.nextRun)
		return
	}
	s.passes.Add(1)
	go func() {
		defer s.passes.Done()
		defer s.running.Store(false)
		s.runPass(ctx)
	}()
}

func (s *Scheduler) runPass(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("scheduler: quality pass panicked", "panic", r)
		}
	}()

	cfg, err := quality.LoadConfig(ctx, s.settings)
	if err != nil {
		slog.Warn("scheduler: using default quality config", "error", err)
	}
	report, err := s.engine.RunQualityPass(ctx, cfg)
	if err != nil {
		slog.Error("scheduler: quality pass failed", "error", err)
		return
	}
	slog.Info("scheduler: quality pass finished",
		"score", report.QualityScore,
		"records", report.TotalRecords,
		"fixes", report.FixesApplied,
		"alerted", report.Alerted,
		"next_run_at", s.nextRun)
}
