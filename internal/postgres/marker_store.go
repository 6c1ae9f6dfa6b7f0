package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/toolscout/catalogd/internal/domain"
)

// MarkerStore records when each content type was last refreshed.
type MarkerStore struct {
	pool *pgxpool.Pool
}

// NewMarkerStore creates a MarkerStore backed by the given pool.
func NewMarkerStore(pool *pgxpool.Pool) *MarkerStore {
	return &MarkerStore{pool: pool}
}

// UpsertMarker never moves a marker backwards.
func (s *MarkerStore) UpsertMarker(ctx context.Context, m domain.ContentMarker) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO content_markers (content_type, updated_at, run_kind) VALUES ($1, $2, $3)
		 ON CONFLICT (content_type) DO UPDATE SET updated_at = EXCLUDED.updated_at, run_kind = EXCLUDED.run_kind
		 WHERE content_markers.updated_at <= EXCLUDED.updated_at`,
		m.ContentType, m.UpdatedAt, string(m.RunKind))
	if err != nil {
		return fmt.Errorf("upsert %s marker: %w", m.ContentType, err)
	}
	return nil
}

// ListMarkers returns every marker ordered by content type.
func (s *MarkerStore) ListMarkers(ctx context.Context) ([]domain.ContentMarker, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT content_type, updated_at, run_kind FROM content_markers ORDER BY content_type`)
	if err != nil {
		return nil, fmt.Errorf("list markers: %w", err)
	}
	defer rows.Close()

	var out []domain.ContentMarker
	for rows.Next() {
		var (
			m    domain.ContentMarker
			kind string
		)
		if err := rows.Scan(&m.ContentType, &m.UpdatedAt, &kind); err != nil {
			return nil, fmt.Errorf("scan marker: %w", err)
		}
		m.RunKind = domain.JobKind(kind)
		out = append(out, m)
	}
	return out, rows.Err()
}
