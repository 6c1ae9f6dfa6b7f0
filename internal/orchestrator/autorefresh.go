package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cast"

	"github.com/toolscout/catalogd/internal/domain"
)

type autoRefresh struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// ToggleAutoRefresh persists the flag and starts or cooperatively stops the
// recurring refresh loop.
func (o *Orchestrator) ToggleAutoRefresh(ctx context.Context, enabled bool) error {
	if err := o.deps.Settings.PutSetting(ctx, domain.SettingAutoRefreshEnabled, strconv.FormatBool(enabled)); err != nil {
		return fmt.Errorf("save auto-refresh setting: %w", err)
	}
	if enabled {
		return o.startAutoRefresh(ctx)
	}
	o.stopAutoRefresh()
	return nil
}

// AutoRefreshEnabled reads the persisted flag. A missing setting means off.
func (o *Orchestrator) AutoRefreshEnabled(ctx context.Context) (bool, error) {
	v, err := o.deps.Settings.GetSetting(ctx, domain.SettingAutoRefreshEnabled)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return cast.ToBool(v), nil
}

// AutoRefreshActive reports whether the recurring loop is running in this process.
func (o *Orchestrator) AutoRefreshActive() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.auto != nil
}

// Settings lists every persisted setting, filling in defaults for the
// automation keys that were never written.
func (o *Orchestrator) Settings(ctx context.Context) ([]domain.Setting, error) {
	rows, err := o.deps.Settings.ListSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	seen := make(map[string]bool, len(rows))
	for _, r := range rows {
		seen[r.Key] = true
	}
	defaults := []domain.Setting{
		{Key: domain.SettingAutoRefreshEnabled, Value: "false"},
		{Key: domain.SettingAutoRefreshSchedule, Value: o.opts.AutoRefreshSchedule},
	}
	for _, d := range defaults {
		if !seen[d.Key] {
			rows = append(rows, d)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Key < rows[j].Key })
	return rows, nil
}

func (o *Orchestrator) schedule(ctx context.Context) (cron.Schedule, string, error) {
	spec := o.opts.AutoRefreshSchedule
	v, err := o.deps.Settings.GetSetting(ctx, domain.SettingAutoRefreshSchedule)
	switch {
	case err == nil && v != "":
		spec = v
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		return nil, "", fmt.Errorf("read auto-refresh schedule: %w", err)
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, "", fmt.Errorf("parse auto-refresh schedule %q: %w", spec, err)
	}
	return sched, spec, nil
}

func (o *Orchestrator) startAutoRefresh(ctx context.Context) error {
	sched, spec, err := o.schedule(ctx)
	if err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.auto != nil {
		return nil
	}
	loopCtx, cancel := context.WithCancel(o.baseCtx)
	a := &autoRefresh{cancel: cancel, done: make(chan struct{})}
	o.auto = a
	go func() {
		defer close(a.done)
		o.autoRefreshLoop(loopCtx, sched)
	}()
	slog.Info("orchestrator: auto-refresh enabled", "schedule", spec)
	return nil
}

func (o *Orchestrator) stopAutoRefresh() {
	o.mu.Lock()
	a := o.auto
	o.auto = nil
	o.mu.Unlock()
	if a == nil {
		return
	}
	a.cancel()
	<-a.done
	slog.Info("orchestrator: auto-refresh disabled")
}

// autoRefreshLoop fires a refresh at every schedule tick until ctx is done.
// Cancellation is checked between ticks; a refresh already started runs to
// completion under its own timeout.
func (o *Orchestrator) autoRefreshLoop(ctx context.Context, sched cron.Schedule) {
	for {
		now := o.opts.Now()
		wait := sched.Next(now).Sub(now)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if ctx.Err() != nil {
			return
		}
		acc, err := o.TriggerRun(ctx, domain.JobRefresh)
		if err != nil {
			slog.Error("orchestrator: auto-refresh trigger failed", "error", err)
			continue
		}
		if acc.AlreadyRunning {
			slog.Debug("orchestrator: auto-refresh skipped, refresh still running", "run_id", acc.RunID)
		}
	}
}
