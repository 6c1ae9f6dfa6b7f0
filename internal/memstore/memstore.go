// Package memstore provides in-memory catalog, settings and marker stores.
// catalogd uses them when no DATABASE_URL is configured; tests use them as
// fakes for the Postgres stores.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/toolscout/catalogd/internal/domain"
)

// Catalog is an in-memory catalog store.
type Catalog struct {
	mu      sync.RWMutex
	records map[string]domain.CatalogRecord
	keys    map[string]string // natural key -> id
	now     func() time.Time
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		records: make(map[string]domain.CatalogRecord),
		keys:    make(map[string]string),
		now:     time.Now,
	}
}

// WithClock overrides the clock, for tests.
func (c *Catalog) WithClock(now func() time.Time) *Catalog {
	c.now = now
	return c
}

func naturalKey(website, name string) string {
	if w := strings.ToLower(strings.TrimRight(strings.TrimSpace(website), "/")); w != "" {
		return "w:" + w
	}
	return "n:" + strings.ToLower(strings.TrimSpace(name))
}

// Put inserts or replaces rec as is. An empty ID gets a fresh one.
func (c *Catalog) Put(rec domain.CatalogRecord) domain.CatalogRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := c.now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = now
	}
	c.records[rec.ID] = rec
	c.keys[naturalKey(rec.Website, rec.Name)] = rec.ID
	return rec
}

// Delete removes a record.
func (c *Catalog) Delete(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rec, ok := c.records[id]; ok {
		delete(c.keys, naturalKey(rec.Website, rec.Name))
		delete(c.records, id)
	}
}

// ListRecords returns every record ordered by id.
func (c *Catalog) ListRecords(_ context.Context) ([]domain.CatalogRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.CatalogRecord, 0, len(c.records))
	for _, r := range c.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetRecord returns domain.ErrNotFound for unknown ids.
func (c *Catalog) GetRecord(_ context.Context, id string) (*domain.CatalogRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.records[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &r, nil
}

// ListCategories counts records per category, ordered by name.
func (c *Catalog) ListCategories(_ context.Context) ([]domain.Category, error) {
	c.mu.RLock()
	counts := make(map[string]int)
	for _, r := range c.records {
		if r.Category != "" {
			counts[r.Category]++
		}
	}
	c.mu.RUnlock()
	out := make([]domain.Category, 0, len(counts))
	for name, n := range counts {
		out = append(out, domain.Category{Name: name, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// TopTrending returns up to limit records by descending trending score.
// Unscored records sort last.
func (c *Catalog) TopTrending(ctx context.Context, limit int) ([]domain.CatalogRecord, error) {
	recs, _ := c.ListRecords(ctx)
	sort.SliceStable(recs, func(i, j int) bool {
		a, b := recs[i].TrendingScore, recs[j].TrendingScore
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return *a > *b
		}
	})
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

// UpsertCandidate matches on website, falling back to name.
func (c *Catalog) UpsertCandidate(_ context.Context, cand domain.Candidate, score float64) (domain.UpsertResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now().UTC()
	key := naturalKey(cand.Website, cand.Name)

	if id, ok := c.keys[key]; ok {
		rec := c.records[id]
		rec.Name = cand.Name
		rec.Description = cand.Description
		rec.Category = cand.Category
		rec.Website = cand.Website
		rec.Source = cand.Source
		rec.Rating = cand.Rating
		rec.ReviewCount = cand.ReviewCount
		rec.WeeklyUsers = cand.WeeklyUsers
		rec.Growth = cand.Growth
		rec.TrendingScore = &score
		rec.DataQualityFixed = false
		rec.UpdatedAt = now
		c.records[id] = rec
		return domain.UpsertResult{ID: id, Created: false}, nil
	}

	rec := domain.CatalogRecord{
		ID:            uuid.NewString(),
		Name:          cand.Name,
		Description:   cand.Description,
		Category:      cand.Category,
		Website:       cand.Website,
		Source:        cand.Source,
		Rating:        cand.Rating,
		ReviewCount:   cand.ReviewCount,
		WeeklyUsers:   cand.WeeklyUsers,
		Growth:        cand.Growth,
		TrendingScore: &score,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	c.records[rec.ID] = rec
	c.keys[key] = rec.ID
	return domain.UpsertResult{ID: rec.ID, Created: true}, nil
}

// SetTrendingScores writes scores for known ids and returns how many changed.
func (c *Catalog) SetTrendingScores(_ context.Context, scores map[string]float64) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for id, s := range scores {
		rec, ok := c.records[id]
		if !ok {
			continue
		}
		if rec.TrendingScore != nil && *rec.TrendingScore == s {
			continue
		}
		rec.TrendingScore = &s
		c.records[id] = rec
		n++
	}
	return n, nil
}

// ApplyFix applies a quality fix if the record is unchanged since readAt.
func (c *Catalog) ApplyFix(_ context.Context, id string, readAt time.Time, patch domain.RecordPatch, score float64, fixedAt time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[id]
	if !ok || !rec.UpdatedAt.Equal(readAt) {
		return domain.ErrRecordChanged
	}
	rec = patch.Apply(rec)
	rec.TrendingScore = &score
	rec.DataQualityFixed = true
	rec.AutoFixedAt = &fixedAt
	now := c.now().UTC()
	if !now.After(rec.UpdatedAt) {
		now = rec.UpdatedAt.Add(time.Microsecond)
	}
	rec.UpdatedAt = now
	c.records[id] = rec
	return nil
}

// Settings is an in-memory settings store.
type Settings struct {
	mu   sync.RWMutex
	vals map[string]string
}

// NewSettings creates an empty settings store.
func NewSettings() *Settings {
	return &Settings{vals: make(map[string]string)}
}

func (s *Settings) GetSetting(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vals[key]
	if !ok {
		return "", domain.ErrNotFound
	}
	return v, nil
}

func (s *Settings) PutSetting(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vals[key] = value
	return nil
}

func (s *Settings) ListSettings(_ context.Context) ([]domain.Setting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Setting, 0, len(s.vals))
	for k, v := range s.vals {
		out = append(out, domain.Setting{Key: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Markers is an in-memory content marker store.
type Markers struct {
	mu      sync.RWMutex
	markers map[string]domain.ContentMarker
}

// NewMarkers creates an empty marker store.
func NewMarkers() *Markers {
	return &Markers{markers: make(map[string]domain.ContentMarker)}
}

// UpsertMarker stores mk unless the current marker is newer.
func (m *Markers) UpsertMarker(_ context.Context, mk domain.ContentMarker) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.markers[mk.ContentType]; ok && cur.UpdatedAt.After(mk.UpdatedAt) {
		return nil
	}
	m.markers[mk.ContentType] = mk
	return nil
}

func (m *Markers) ListMarkers(_ context.Context) ([]domain.ContentMarker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.ContentMarker, 0, len(m.markers))
	for _, mk := range m.markers {
		out = append(out, mk)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ContentType < out[j].ContentType })
	return out, nil
}
