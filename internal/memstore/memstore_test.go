package memstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolscout/catalogd/internal/domain"
	"github.com/toolscout/catalogd/internal/memstore"
)

func cand(name, site string) domain.Candidate {
	return domain.Candidate{Name: name, Description: "d", Category: "dev", Website: site, Source: "hn", Rating: 4.1, ReviewCount: 10, WeeklyUsers: 900, Growth: "+3%"}
}

func TestCatalog_UpsertCandidate_MatchesOnWebsite(t *testing.T) {
	c := memstore.NewCatalog()
	ctx := context.Background()

	first, err := c.UpsertCandidate(ctx, cand("Alpha", "https://alpha.dev/"), 1.5)
	require.NoError(t, err)
	second, err := c.UpsertCandidate(ctx, cand("Alpha Renamed", "https://ALPHA.dev"), 1.7)
	require.NoError(t, err)

	assert.True(t, first.Created)
	assert.False(t, second.Created)
	assert.Equal(t, first.ID, second.ID)
	rec, err := c.GetRecord(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alpha Renamed", rec.Name)
	assert.Equal(t, 1.7, *rec.TrendingScore)
}

func TestCatalog_ApplyFix_GuardedByUpdatedAt(t *testing.T) {
	c := memstore.NewCatalog()
	rec := c.Put(domain.CatalogRecord{Name: "a", Rating: 4.2})
	ctx := context.Background()
	rating := 4.5

	err := c.ApplyFix(ctx, rec.ID, rec.UpdatedAt.Add(-time.Second), domain.RecordPatch{Rating: &rating}, 2, time.Now())
	assert.ErrorIs(t, err, domain.ErrRecordChanged)

	require.NoError(t, c.ApplyFix(ctx, rec.ID, rec.UpdatedAt, domain.RecordPatch{Rating: &rating}, 2, time.Now()))
	got, _ := c.GetRecord(ctx, rec.ID)
	assert.Equal(t, 4.5, got.Rating)
	assert.True(t, got.DataQualityFixed)
	assert.True(t, got.UpdatedAt.After(rec.UpdatedAt))

	err = c.ApplyFix(ctx, "missing", time.Now(), domain.RecordPatch{}, 0, time.Now())
	assert.ErrorIs(t, err, domain.ErrRecordChanged)
}

func TestCatalog_TopTrending_UnscoredLast(t *testing.T) {
	c := memstore.NewCatalog()
	hi, lo := 3.0, 1.0
	c.Put(domain.CatalogRecord{ID: "1", Name: "none"})
	c.Put(domain.CatalogRecord{ID: "2", Name: "lo", TrendingScore: &lo})
	c.Put(domain.CatalogRecord{ID: "3", Name: "hi", TrendingScore: &hi})

	got, err := c.TopTrending(context.Background(), 2)

	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "3", got[0].ID)
	assert.Equal(t, "2", got[1].ID)
}

func TestCatalog_ListCategories_Counts(t *testing.T) {
	c := memstore.NewCatalog()
	c.Put(domain.CatalogRecord{Name: "a", Category: "dev"})
	c.Put(domain.CatalogRecord{Name: "b", Category: "dev"})
	c.Put(domain.CatalogRecord{Name: "c", Category: "ai"})

	cats, err := c.ListCategories(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []domain.Category{{Name: "ai", Count: 1}, {Name: "dev", Count: 2}}, cats)
}

func TestSettings_MissingKey_ErrNotFound(t *testing.T) {
	s := memstore.NewSettings()

	_, err := s.GetSetting(context.Background(), "nope")

	assert.ErrorIs(t, err, domain.ErrNotFound)
}
