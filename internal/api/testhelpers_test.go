package api_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/toolscout/catalogd/internal/api"
	"github.com/toolscout/catalogd/internal/cache"
	"github.com/toolscout/catalogd/internal/domain"
	"github.com/toolscout/catalogd/internal/memstore"
	"github.com/toolscout/catalogd/internal/quality"
)

// fakeOrchestrator records control calls and answers with canned values.
type fakeOrchestrator struct {
	mu        sync.Mutex
	triggered []domain.JobKind
	running   map[domain.JobKind]bool
	status    map[domain.JobKind]domain.RunStatus
	statusErr error
	enabled   bool
	toggleErr error
	settings  []domain.Setting
}

func newFakeOrchestrator() *fakeOrchestrator {
	return &fakeOrchestrator{
		running: make(map[domain.JobKind]bool),
		status:  make(map[domain.JobKind]domain.RunStatus),
	}
}

func (f *fakeOrchestrator) TriggerRun(_ context.Context, kind domain.JobKind) (domain.RunAccepted, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggered = append(f.triggered, kind)
	acc := domain.RunAccepted{
		Message:     "Sync started",
		Timestamp:   time.Now().UTC(),
		SyncEnabled: true,
		Kind:        kind,
	}
	if f.running[kind] {
		acc.Message = "Sync already running"
		acc.AlreadyRunning = true
		return acc, nil
	}
	acc.RunID = "run-" + string(kind)
	f.running[kind] = true
	return acc, nil
}

func (f *fakeOrchestrator) GetStatus(_ context.Context, kind domain.JobKind) (domain.RunStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return domain.RunStatus{}, f.statusErr
	}
	if st, ok := f.status[kind]; ok {
		return st, nil
	}
	return domain.RunStatus{Kind: kind, State: domain.RunStateNoData}, nil
}

func (f *fakeOrchestrator) ToggleAutoRefresh(_ context.Context, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.toggleErr != nil {
		return f.toggleErr
	}
	f.enabled = enabled
	return nil
}

func (f *fakeOrchestrator) AutoRefreshEnabled(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled, nil
}

func (f *fakeOrchestrator) Settings(context.Context) ([]domain.Setting, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settings, nil
}

func (f *fakeOrchestrator) triggeredKinds() []domain.JobKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.JobKind(nil), f.triggered...)
}

// fakeQuality records the config of every pass it runs.
type fakeQuality struct {
	mu   sync.Mutex
	cfgs []quality.Config
	err  error
}

func (f *fakeQuality) RunQualityPass(_ context.Context, cfg quality.Config) (*domain.QualityReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfgs = append(f.cfgs, cfg)
	if f.err != nil {
		return nil, f.err
	}
	return &domain.QualityReport{GeneratedAt: time.Now().UTC(), TotalRecords: 2, ValidRecords: 2, QualityScore: 100}, nil
}

// countingCatalog counts ListRecords calls so cache hits are observable.
type countingCatalog struct {
	*memstore.Catalog
	mu    sync.Mutex
	lists int
	err   error
}

func (c *countingCatalog) ListRecords(ctx context.Context) ([]domain.CatalogRecord, error) {
	c.mu.Lock()
	c.lists++
	err := c.err
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return c.Catalog.ListRecords(ctx)
}

func (c *countingCatalog) listCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lists
}

var errBoom = errors.New("boom")

// testEnv bundles a fully wired server with its in-memory collaborators.
type testEnv struct {
	srv      *api.Server
	orch     *fakeOrchestrator
	catalog  *countingCatalog
	settings *memstore.Settings
	markers  *memstore.Markers
	quality  *fakeQuality
	views    *cache.Views
	router   http.Handler
}

func newTestEnv() *testEnv {
	env := &testEnv{
		orch:     newFakeOrchestrator(),
		catalog:  &countingCatalog{Catalog: memstore.NewCatalog()},
		settings: memstore.NewSettings(),
		markers:  memstore.NewMarkers(),
		quality:  &fakeQuality{},
		views:    cache.NewViews(cache.Options{}),
	}
	env.srv = &api.Server{
		Orchestrator: env.orch,
		Catalog:      env.catalog,
		Markers:      env.markers,
		Settings:     env.settings,
		Quality:      env.quality,
		Views:        env.views,
	}
	env.router = api.NewRouter(env.srv)
	return env
}

// do sends a request through the router. A non-empty body is sent as JSON.
func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, http.NoBody)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func seedRecord(c *memstore.Catalog, name, category string, score float64) domain.CatalogRecord {
	return c.Put(domain.CatalogRecord{
		Name:          name,
		Description:   name + " does things",
		Category:      category,
		Website:       "https://" + strings.ToLower(name) + ".dev",
		Rating:        4.2,
		ReviewCount:   120,
		WeeklyUsers:   3000,
		Growth:        "+10%",
		TrendingScore: &score,
	})
}
