package orchestrator

import (
	"context"
	"time"

	"github.com/toolscout/catalogd/internal/domain"
)

// CatalogStore is the catalog access orchestrator jobs need.
type CatalogStore interface {
	// UpsertCandidate inserts or updates the record matching the candidate's
	// website (or name when the website is empty).
	UpsertCandidate(ctx context.Context, c domain.Candidate, trendingScore float64) (domain.UpsertResult, error)
	ListRecords(ctx context.Context) ([]domain.CatalogRecord, error)
	// SetTrendingScores writes scores by record id and returns how many rows changed.
	SetTrendingScores(ctx context.Context, scores map[string]float64) (int, error)
}

// ReportStore persists one RunReport per job kind. SaveReport must replace
// the previous report atomically and must ignore a report older than the
// stored one, so readers see either the old or the new report in full.
type ReportStore interface {
	SaveReport(ctx context.Context, r domain.RunReport) error
	// LatestReport returns nil, nil when the kind has never completed.
	LatestReport(ctx context.Context, kind domain.JobKind) (*domain.RunReport, error)
}

// SettingsStore holds named runtime settings.
type SettingsStore interface {
	// GetSetting returns domain.ErrNotFound for unknown keys.
	GetSetting(ctx context.Context, key string) (string, error)
	PutSetting(ctx context.Context, key, value string) error
	ListSettings(ctx context.Context) ([]domain.Setting, error)
}

// MarkerStore records per-content-type last-updated markers.
type MarkerStore interface {
	UpsertMarker(ctx context.Context, m domain.ContentMarker) error
}

// Producer is the upstream discovery producer.
type Producer interface {
	DiscoverTools(ctx context.Context) ([]domain.Candidate, error)
	// RefreshNews refreshes the secondary news stream and returns the item count.
	RefreshNews(ctx context.Context) (int, error)
}

// Invalidator drops cached views. cache.Views satisfies it.
type Invalidator interface {
	InvalidateView(view string) int
	InvalidateTag(tag string) int
}

// ReportArchiver keeps a history copy of each run report.
type ReportArchiver interface {
	ArchiveRunReport(ctx context.Context, r domain.RunReport) error
}

// Locker grants per-kind leases across replicas. A lease whose heartbeat
// stops expires after its TTL and may then be taken by anyone.
type Locker interface {
	// Acquire returns false when another live holder owns the kind.
	Acquire(ctx context.Context, kind domain.JobKind, holder, runID string, ttl time.Duration) (bool, error)
	// Heartbeat extends the lease. It returns false once the lease is lost.
	Heartbeat(ctx context.Context, kind domain.JobKind, holder string, ttl time.Duration) (bool, error)
	// Release drops the lease if holder still owns it.
	Release(ctx context.Context, kind domain.JobKind, holder string) error
}
