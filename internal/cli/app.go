package cli

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/toolscout/catalogd/internal/api"
	"github.com/toolscout/catalogd/internal/cache"
	"github.com/toolscout/catalogd/internal/config"
	"github.com/toolscout/catalogd/internal/discovery"
	"github.com/toolscout/catalogd/internal/events"
	"github.com/toolscout/catalogd/internal/memstore"
	"github.com/toolscout/catalogd/internal/metrics"
	"github.com/toolscout/catalogd/internal/notify"
	"github.com/toolscout/catalogd/internal/orchestrator"
	"github.com/toolscout/catalogd/internal/postgres"
	"github.com/toolscout/catalogd/internal/quality"
	"github.com/toolscout/catalogd/internal/reaper"
	"github.com/toolscout/catalogd/internal/redisx"
	"github.com/toolscout/catalogd/internal/storage"
	"github.com/toolscout/catalogd/internal/transport"
)

type catalogStore interface {
	orchestrator.CatalogStore
	quality.CatalogStore
	api.CatalogReader
}

type markerStore interface {
	orchestrator.MarkerStore
	api.MarkerLister
}

type leaseStore interface {
	orchestrator.Locker
	reaper.LeaseStore
}

// app holds every component one catalogd process wires together. Commands
// build it from the loaded config and close it on exit.
type app struct {
	cfg *config.Config

	pool *pgxpool.Pool
	rdb  *redis.Client

	catalog  catalogStore
	reports  orchestrator.ReportStore
	settings orchestrator.SettingsStore
	markers  markerStore
	leases   leaseStore
	bus      events.Bus
	archive  *storage.Archive
	views    *cache.Views
	metrics  *metrics.Metrics
	producer orchestrator.Producer
	sink     notify.Sink

	orch   *orchestrator.Orchestrator
	engine *quality.Engine
	health map[string]api.HealthChecker

	closers []func()
}

// buildApp connects the configured backends. Anything left unconfigured
// falls back to its in-memory implementation.
func buildApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{
		cfg:     cfg,
		views:   cache.NewViews(cache.Options{TTL: cfg.Cache.TTL, MaxEntries: cfg.Cache.MaxEntries}),
		metrics: metrics.New(api.Version),
		health:  make(map[string]api.HealthChecker),
	}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	if err := a.connect(ctx); err != nil {
		return nil, err
	}
	if err := a.stores(); err != nil {
		return nil, err
	}
	a.eventBus(ctx)
	if err := a.producerFromConfig(); err != nil {
		return nil, err
	}
	a.alertSink()

	deps := orchestrator.Deps{
		Catalog:  a.catalog,
		Reports:  a.reports,
		Settings: a.settings,
		Markers:  a.markers,
		Producer: a.producer,
		Views:    a.views,
		Bus:      a.bus,
		Locker:   a.leases,
		Metrics:  a.metrics,
	}
	if a.archive != nil {
		deps.Archive = a.archive
	}
	oc := cfg.Orchestrator
	a.orch = orchestrator.New(deps, orchestrator.Options{
		RunTimeout:          oc.RunTimeout,
		LockTTL:             oc.LockTTL,
		HeartbeatInterval:   oc.HeartbeatInterval,
		StaleAfter:          oc.StaleAfter,
		ReportRetries:       oc.ReportRetries,
		AutoRefreshSchedule: oc.AutoRefreshSchedule,
		CancelGrace:         oc.CancelGrace,
	})

	a.engine = quality.NewEngine(a.catalog, newRand(cfg.Quality.Seed), a.engineOptions()...)
	return a, nil
}

func (a *app) connect(ctx context.Context) error {
	cfg := a.cfg
	if cfg.Database.URL != "" {
		pool, err := postgres.NewPool(ctx, cfg.Database.URL, postgres.PoolOptions{
			MaxConns: cfg.Database.MaxConns,
			MinConns: cfg.Database.MinConns,
		})
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		a.pool = pool
		a.closers = append(a.closers, pool.Close)
		if err := postgres.Migrate(ctx, pool); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		a.health["postgres"] = postgres.NewHealthChecker(pool)
		slog.Info("postgres stores initialized")
	} else {
		slog.Warn("DATABASE_URL not set, running without persistence")
	}

	if cfg.Redis.Addr != "" {
		rdb, err := redisx.NewClient(ctx, redisx.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return err
		}
		a.rdb = rdb
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		a.health["redis"] = redisx.NewHealthChecker(rdb)
		slog.Info("redis connected", "addr", cfg.Redis.Addr)
	}

	if cfg.S3.Endpoint != "" {
		archive, err := storage.NewArchive(ctx, storage.S3Config{
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Bucket:    cfg.S3.Bucket,
			UseSSL:    cfg.S3.UseSSL,
			Prefix:    cfg.S3.Prefix,
		})
		if err != nil {
			return fmt.Errorf("connect to s3: %w", err)
		}
		a.archive = archive
		a.health["s3"] = storage.NewHealthChecker(archive)
		slog.Info("report archive initialized", "endpoint", cfg.S3.Endpoint, "bucket", cfg.S3.Bucket)
	}
	return nil
}

func (a *app) stores() error {
	if a.pool != nil {
		a.catalog = postgres.NewCatalogStore(a.pool)
		a.reports = postgres.NewReportStore(a.pool)
		a.settings = postgres.NewSettingsStore(a.pool)
		a.markers = postgres.NewMarkerStore(a.pool)
	} else {
		a.catalog = memstore.NewCatalog()
		a.settings = memstore.NewSettings()
		a.markers = memstore.NewMarkers()
		if dir := a.cfg.Orchestrator.ReportDir; dir != "" {
			fs, err := storage.NewFileReportStore(dir)
			if err != nil {
				return err
			}
			a.reports = fs
			slog.Info("run reports stored on disk", "dir", dir)
		} else {
			a.reports = storage.NewMemoryReportStore()
		}
	}

	switch backend := a.cfg.Orchestrator.LockBackend; backend {
	case "postgres":
		a.leases = postgres.NewLockStore(a.pool)
	case "redis":
		a.leases = redisx.NewLocker(a.rdb, "")
	default:
		a.leases = orchestrator.NewMemoryLocker()
	}
	slog.Info("job lease backend selected", "backend", a.cfg.Orchestrator.LockBackend)
	return nil
}

// eventBus starts the broadcast backend. A bus that fails to start falls
// back to the in-process bus.
func (a *app) eventBus(ctx context.Context) {
	switch a.cfg.Orchestrator.Bus {
	case "postgres":
		bus := postgres.NewPgEventBus(a.pool)
		if err := bus.Start(ctx); err != nil {
			slog.Warn("event bus failed to start, continuing with in-process events", "error", err)
			break
		}
		a.bus = bus
		a.closers = append(a.closers, bus.Stop)
	case "redis":
		bus := redisx.NewBus(a.rdb)
		if err := bus.Start(ctx); err != nil {
			slog.Warn("event bus failed to start, continuing with in-process events", "error", err)
			break
		}
		a.bus = bus
		a.closers = append(a.closers, bus.Stop)
	}
	if a.bus == nil {
		a.bus = events.NewMemoryBus()
	}
}

func (a *app) producerFromConfig() error {
	dc := a.cfg.Discovery
	if dc.Mode != "http" {
		a.producer = discovery.NewMockProducer()
		slog.Info("discovery producer initialized (mock)")
		return nil
	}
	client, err := transport.NewClient(transport.TLSConfig{
		CACertFile: dc.CACert,
		CertFile:   dc.ClientCert,
		KeyFile:    dc.ClientKey,
		H2C:        dc.H2C,
	}, dc.Timeout)
	if err != nil {
		return fmt.Errorf("discovery client: %w", err)
	}
	p, err := discovery.NewHTTPProducer(discovery.HTTPOptions{
		BaseURL:    dc.URL,
		AuthHeader: dc.AuthHeader,
		RatePerSec: dc.RatePerSec,
		Burst:      dc.Burst,
		Timeout:    dc.Timeout,
		Client:     client,
	})
	if err != nil {
		return err
	}
	a.producer = p
	a.health["discovery"] = transport.NewTCPHealthChecker(dc.URL, "discovery producer")
	slog.Info("discovery producer initialized (http)", "url", dc.URL)
	return nil
}

func (a *app) alertSink() {
	sinks := notify.Multi{notify.LogSink{}}
	if url := a.cfg.Alerts.WebhookURL; url != "" {
		sinks = append(sinks, notify.NewWebhookSink(url))
	}
	if brokers := a.cfg.Alerts.KafkaBrokers; len(brokers) > 0 {
		k := notify.NewKafkaSink(brokers, a.cfg.Alerts.KafkaTopic)
		sinks = append(sinks, k)
		a.closers = append(a.closers, func() {
			if err := k.Close(); err != nil {
				slog.Warn("kafka writer close failed", "error", err)
			}
		})
	}
	a.sink = sinks
}

func (a *app) engineOptions() []quality.Option {
	opts := []quality.Option{
		quality.WithAlertSink(a.sink),
		quality.WithMetrics(a.metrics),
	}
	if a.archive != nil {
		opts = append(opts, quality.WithArchiver(a.archive))
	}
	return opts
}

func (a *app) reaper() *reaper.Reaper {
	opts := []reaper.Option{
		reaper.WithInterval(a.cfg.Reaper.Interval),
		reaper.WithMetrics(a.metrics),
	}
	if a.archive != nil {
		opts = append(opts, reaper.WithArchiver(a.archive))
	}
	return reaper.New(a.leases, a.reports, opts...)
}

// close releases connections in reverse order of acquisition.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// newRand seeds the synthesis source. Seed 0 draws a fresh seed.
func newRand(seed uint64) *rand.Rand {
	if seed == 0 {
		seed = rand.Uint64()
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}
