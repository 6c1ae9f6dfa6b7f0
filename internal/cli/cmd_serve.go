package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/toolscout/catalogd/internal/api"
	"github.com/toolscout/catalogd/internal/auth"
	"github.com/toolscout/catalogd/internal/leader"
	"github.com/toolscout/catalogd/internal/ratelimit"
	"github.com/toolscout/catalogd/internal/scheduler"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(opts *GlobalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and run the orchestrator and background workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}
}

func runServe(ctx context.Context, opts *GlobalOpts, logOut io.Writer) error {
	cfg, err := loadConfig(opts, logOut)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.orch.Start(ctx); err != nil {
		return err
	}
	defer func() {
		a.orch.Stop()
		slog.Info("orchestrator stopped")
	}()

	elector := leader.New(a.leaderLock(), 0, a.startLeaderWorkers)
	elector.Start(ctx)
	defer func() {
		elector.Stop()
		slog.Info("leader elector stopped")
	}()

	srv := &api.Server{
		Orchestrator: a.orch,
		Catalog:      a.catalog,
		Markers:      a.markers,
		Settings:     a.settings,
		Quality:      a.engine,
		Views:        a.views,
		Metrics:      a.metrics,
		CORSOrigins:  cfg.CORSOrigins,
		Health:       a.health,
	}
	if cfg.APIKey != "" {
		srv.Auth = auth.APIKey(cfg.APIKey)
		slog.Info("API key authentication enabled")
	} else if strings.HasPrefix(cfg.ListenAddr, "0.0.0.0") || strings.HasPrefix(cfg.ListenAddr, ":") {
		slog.Warn("listening on all interfaces without CATALOGD_API_KEY, the API is unauthenticated")
	}
	if limiter := a.rateLimiter(); limiter != nil {
		srv.RateLimiter = limiter
		defer limiter.Close()
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.NewRouter(srv),
		ReadTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("starting catalogd", "addr", cfg.ListenAddr, "version", api.Version)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	if err != nil {
		slog.Error("server failed", "error", err)
	}
	slog.Info("catalogd shutdown complete")
	return err
}

// leaderLock elects through a Postgres advisory lock when a database is
// configured. A single replica without one always leads.
func (a *app) leaderLock() leader.TryLockFunc {
	if a.pool == nil {
		return leader.Always
	}
	lock := leader.NewPgLock(a.pool, leader.AdvisoryLockID)
	a.closers = append(a.closers, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		lock.Release(ctx)
	})
	return lock.TryLock
}

// startLeaderWorkers runs the lease reaper and, when a schedule is set,
// scheduled quality passes for as long as this replica leads.
func (a *app) startLeaderWorkers(ctx context.Context) func() {
	r := a.reaper()
	r.Start(ctx)
	slog.Info("reaper started", "interval", a.cfg.Reaper.Interval)

	var sched *scheduler.Scheduler
	if spec := a.cfg.Quality.Schedule; spec != "" {
		s, err := scheduler.New(spec, a.engine, a.settings)
		if err != nil {
			slog.Error("quality schedule rejected, scheduled passes disabled", "schedule", spec, "error", err)
		} else {
			sched = s
			sched.Start(ctx)
			slog.Info("quality scheduler started", "schedule", spec)
		}
	}

	return func() {
		if sched != nil {
			sched.Stop()
			slog.Info("quality scheduler stopped")
		}
		r.Stop()
		slog.Info("reaper stopped")
	}
}

// rateLimiter returns nil when rate limiting is disabled (zero rps).
func (a *app) rateLimiter() ratelimit.Limiter {
	rc := a.cfg.RateLimit
	if rc.RequestsPerSecond <= 0 {
		return nil
	}
	lcfg := ratelimit.Config{RequestsPerSecond: rc.RequestsPerSecond, Burst: rc.Burst, Window: rc.Window}
	if rc.Backend == "redis" {
		slog.Info("rate limiting enabled (redis)", "rps", rc.RequestsPerSecond, "window", rc.Window)
		return ratelimit.NewRedisLimiter(a.rdb, lcfg, "")
	}
	slog.Info("rate limiting enabled", "rps", rc.RequestsPerSecond, "burst", rc.Burst)
	return ratelimit.NewLocalLimiter(lcfg, time.Minute)
}
