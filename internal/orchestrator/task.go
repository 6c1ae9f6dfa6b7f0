package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/toolscout/catalogd/internal/cache"
	"github.com/toolscout/catalogd/internal/domain"
	"github.com/toolscout/catalogd/internal/events"
	"github.com/toolscout/catalogd/internal/trending"
)

// execute is the body of one supervised task.
func (o *Orchestrator) execute(ctx context.Context, kind domain.JobKind, t *task) {
	defer o.wg.Done()
	defer func() {
		t.cancel()
		o.mu.Lock()
		delete(o.running, kind)
		o.mu.Unlock()
		close(t.done)
	}()

	log := slog.With("kind", kind, "run_id", t.runID)

	acquired, err := o.deps.Locker.Acquire(ctx, kind, o.holder, t.runID, o.opts.LockTTL)
	if err != nil {
		log.Error("orchestrator: acquire lease failed", "error", err)
		report := o.newReport(kind, t)
		report.Errors = append(report.Errors, fmt.Sprintf("acquire lease: %v", err))
		o.finish(&report, t)
		o.continueOnce(kind, report)
		return
	}
	if !acquired {
		log.Info("orchestrator: lease held by another replica, skipping run")
		return
	}

	runCtx, cancelRun := context.WithCancelCause(ctx)
	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		o.heartbeat(runCtx, kind, cancelRun, log)
	}()

	report, finished := o.runBounded(runCtx, kind, t, log)
	if !finished {
		report.Errors = append(report.Errors,
			fmt.Sprintf("task did not stop within %s of cancellation, result discarded", o.opts.CancelGrace))
	}

	switch {
	case errors.Is(context.Cause(runCtx), errLeaseLost):
		report.Errors = append(report.Errors, "run aborted: lease lost")
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		report.Errors = append(report.Errors, fmt.Sprintf("run timed out after %s", o.opts.RunTimeout))
	case errors.Is(ctx.Err(), context.Canceled):
		report.Errors = append(report.Errors, "run cancelled")
	}
	cancelRun(nil)
	<-hbDone

	o.finish(&report, t)
	o.continueOnce(kind, report)

	relCtx, cancel := o.detached()
	defer cancel()
	if err := o.deps.Locker.Release(relCtx, kind, o.holder); err != nil {
		log.Warn("orchestrator: release lease failed", "error", err)
	}
}

func (o *Orchestrator) newReport(kind domain.JobKind, t *task) domain.RunReport {
	return domain.RunReport{
		RunID:  t.runID,
		Kind:   kind,
		Errors: []string{},
	}
}

func (o *Orchestrator) finish(r *domain.RunReport, t *task) {
	end := o.opts.Now()
	r.Timestamp = end.UTC()
	r.DurationMs = end.Sub(t.startedAt).Milliseconds()
	r.Success = len(r.Errors) == 0
}

// detached returns a context for continuation work that survives the run's
// own cancellation but not forever.
func (o *Orchestrator) detached() (context.Context, context.CancelFunc) {
	o.mu.Lock()
	base := o.baseCtx
	o.mu.Unlock()
	return context.WithTimeout(context.WithoutCancel(base), continuationTimeout)
}

func (o *Orchestrator) heartbeat(ctx context.Context, kind domain.JobKind, cancelRun context.CancelCauseFunc, log *slog.Logger) {
	ticker := time.NewTicker(o.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := o.deps.Locker.Heartbeat(ctx, kind, o.holder, o.opts.LockTTL)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Warn("orchestrator: heartbeat failed", "error", err)
				continue
			}
			if !ok {
				log.Error("orchestrator: lease lost, aborting run")
				cancelRun(errLeaseLost)
				return
			}
		}
	}
}

// runBounded runs the job body in its own goroutine. Once ctx is done the
// body gets CancelGrace to return; after that it is abandoned, finished is
// false and the returned report is a fresh one. The abandoned body only
// writes to its own report, which nobody reads.
func (o *Orchestrator) runBounded(ctx context.Context, kind domain.JobKind, t *task, log *slog.Logger) (domain.RunReport, bool) {
	work := o.newReport(kind, t)
	done := make(chan struct{})
	go func() {
		defer close(done)
		o.runSafely(ctx, kind, &work)
	}()

	select {
	case <-done:
		return work, true
	case <-ctx.Done():
	}
	grace := time.NewTimer(o.opts.CancelGrace)
	defer grace.Stop()
	select {
	case <-done:
		return work, true
	case <-grace.C:
		log.Error("orchestrator: task ignored cancellation, abandoning it", "grace", o.opts.CancelGrace)
		return o.newReport(kind, t), false
	}
}

// runSafely runs the job body and converts a panic into a report error.
func (o *Orchestrator) runSafely(ctx context.Context, kind domain.JobKind, r *domain.RunReport) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("orchestrator: task panicked", "kind", kind, "run_id", r.RunID, "panic", rec)
			r.Errors = append(r.Errors, fmt.Sprintf("panic: %v", rec))
		}
	}()
	switch kind {
	case domain.JobDiscovery:
		o.discover(ctx, r)
	default:
		o.refresh(ctx, r)
	}
}

// discover pulls candidates from the producer, upserts each with a fresh
// trending score and then refreshes news.
func (o *Orchestrator) discover(ctx context.Context, r *domain.RunReport) {
	tools := &domain.StreamResult{Errors: []string{}}
	r.Tools = tools
	r.Sources = map[string]int{}
	r.Categories = map[string]int{}

	candidates, err := o.deps.Producer.DiscoverTools(ctx)
	if err != nil {
		tools.Errors = append(tools.Errors, fmt.Sprintf("discover tools: %v", err))
	}
	r.ItemsFound = len(candidates)

	for _, c := range candidates {
		if ctx.Err() != nil {
			tools.Errors = append(tools.Errors, fmt.Sprintf("stopped after %d of %d candidates: %v",
				r.Summary.NewTools+r.Summary.UpdatedTools+r.Summary.Errors, len(candidates), ctx.Err()))
			break
		}
		score := trending.Score(c.Rating, c.ReviewCount, c.WeeklyUsers, c.Growth)
		res, err := o.deps.Catalog.UpsertCandidate(ctx, c, score)
		if err != nil {
			r.Summary.Errors++
			tools.Errors = append(tools.Errors, fmt.Sprintf("upsert %q: %v", c.Name, err))
			continue
		}
		if res.Created {
			r.Summary.NewTools++
		} else {
			r.Summary.UpdatedTools++
		}
		if c.Source != "" {
			r.Sources[c.Source]++
		}
		if c.Category != "" {
			r.Categories[c.Category]++
		}
	}
	r.ItemsAdded = r.Summary.NewTools
	tools.Count = domain.Count(r.Summary.NewTools + r.Summary.UpdatedTools)
	tools.Success = len(tools.Errors) == 0
	r.Errors = append(r.Errors, tools.Errors...)

	o.refreshNews(ctx, r, false)
}

// refresh recomputes every record's trending score and refreshes news.
func (o *Orchestrator) refresh(ctx context.Context, r *domain.RunReport) {
	tools := &domain.StreamResult{Count: domain.Refreshed(), Errors: []string{}}
	r.Tools = tools

	records, err := o.deps.Catalog.ListRecords(ctx)
	if err != nil {
		tools.Errors = append(tools.Errors, fmt.Sprintf("list records: %v", err))
	} else {
		r.ItemsFound = len(records)
		scores := make(map[string]float64, len(records))
		for _, rec := range records {
			scores[rec.ID] = trending.Score(rec.Rating, rec.ReviewCount, rec.WeeklyUsers, rec.Growth)
		}
		n, err := o.deps.Catalog.SetTrendingScores(ctx, scores)
		if err != nil {
			tools.Errors = append(tools.Errors, fmt.Sprintf("rescore: %v", err))
		}
		r.Summary.UpdatedTools = n
	}
	tools.Success = len(tools.Errors) == 0
	r.Errors = append(r.Errors, tools.Errors...)

	o.refreshNews(ctx, r, true)
}

func (o *Orchestrator) refreshNews(ctx context.Context, r *domain.RunReport, asRefreshed bool) {
	news := &domain.StreamResult{Errors: []string{}}
	r.News = news
	if ctx.Err() != nil {
		news.Errors = append(news.Errors, fmt.Sprintf("news skipped: %v", ctx.Err()))
	} else if n, err := o.deps.Producer.RefreshNews(ctx); err != nil {
		news.Errors = append(news.Errors, fmt.Sprintf("refresh news: %v", err))
	} else if asRefreshed {
		news.Count = domain.Refreshed()
	} else {
		news.Count = domain.Count(n)
	}
	news.Success = len(news.Errors) == 0
	r.Errors = append(r.Errors, news.Errors...)
}

// continueOnce runs the completion continuation. It is called exactly once
// per acquired task and never panics out.
func (o *Orchestrator) continueOnce(kind domain.JobKind, r domain.RunReport) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("orchestrator: continuation panicked", "kind", kind, "run_id", r.RunID, "panic", rec)
		}
	}()
	ctx, cancel := o.detached()
	defer cancel()
	log := slog.With("kind", kind, "run_id", r.RunID)

	o.persist(ctx, r, log)
	o.invalidate(r)
	o.broadcast(ctx, r, log)
	o.mark(ctx, r, log)

	o.deps.Metrics.RunFinished(string(kind), r.Success, time.Duration(r.DurationMs)*time.Millisecond)
	log.Info("orchestrator: run finished",
		"success", r.Success,
		"items_found", r.ItemsFound,
		"items_added", r.ItemsAdded,
		"errors", len(r.Errors),
		"duration_ms", r.DurationMs,
	)
}

func (o *Orchestrator) persist(ctx context.Context, r domain.RunReport, log *slog.Logger) {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, o.deps.Reports.SaveReport(ctx, r)
	}, backoff.WithBackOff(o.opts.ReportBackoff()), backoff.WithMaxTries(o.opts.ReportRetries))

	o.mu.Lock()
	if err != nil {
		failed := r
		failed.Success = false
		failed.Errors = append(append([]string{}, r.Errors...), fmt.Sprintf("persist report: %v", err))
		o.unsaved[r.Kind] = failed
	} else {
		delete(o.unsaved, r.Kind)
	}
	o.mu.Unlock()

	if err != nil {
		o.deps.Metrics.ReportWriteFailed()
		log.Error("orchestrator: persist report failed", "error", err)
		return
	}
	if o.deps.Archive != nil {
		if err := o.deps.Archive.ArchiveRunReport(ctx, r); err != nil {
			log.Warn("orchestrator: archive report failed", "error", err)
		}
	}
}

// invalidate drops every catalog view and the tag caches. News views are
// only dropped when the news stream actually refreshed.
func (o *Orchestrator) invalidate(r domain.RunReport) {
	if o.deps.Views == nil {
		return
	}
	for _, view := range cache.CatalogViews {
		o.deps.Views.InvalidateView(view)
		o.deps.Metrics.Invalidated(view)
	}
	o.deps.Views.InvalidateTag(cache.TagTools)
	o.deps.Metrics.Invalidated(cache.TagTools)
	if r.News != nil && r.News.Success {
		o.deps.Views.InvalidateTag(cache.TagNews)
		o.deps.Metrics.Invalidated(cache.TagNews)
	}
}

func (o *Orchestrator) broadcast(ctx context.Context, r domain.RunReport, log *slog.Logger) {
	msg := fmt.Sprintf("%s completed: %d found, %d added", r.Kind, r.ItemsFound, r.ItemsAdded)
	if !r.Success {
		msg = fmt.Sprintf("%s finished with %d errors", r.Kind, len(r.Errors))
	}
	ev := domain.SyncEvent{Type: r.Kind.SyncType(), Timestamp: r.Timestamp, Message: msg}
	if err := o.deps.Bus.Publish(ctx, events.ChannelCatalogUpdates, ev); err != nil {
		o.deps.Metrics.BroadcastFailed()
		log.Warn("orchestrator: broadcast failed", "error", err)
	}
}

func (o *Orchestrator) mark(ctx context.Context, r domain.RunReport, log *slog.Logger) {
	if o.deps.Markers == nil {
		return
	}
	upsert := func(contentType string) {
		m := domain.ContentMarker{ContentType: contentType, UpdatedAt: r.Timestamp, RunKind: r.Kind}
		if err := o.deps.Markers.UpsertMarker(ctx, m); err != nil {
			log.Warn("orchestrator: upsert marker failed", "content_type", contentType, "error", err)
		}
	}
	if r.Tools != nil && r.Tools.Success {
		upsert(domain.StreamTools)
	}
	if r.News != nil && r.News.Success {
		upsert(domain.StreamNews)
	}
}
