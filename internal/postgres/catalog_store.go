package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/toolscout/catalogd/internal/domain"
)

// CatalogStore implements the catalog access used by the orchestrator, the
// quality engine and the read API.
type CatalogStore struct {
	pool *pgxpool.Pool
}

// NewCatalogStore creates a CatalogStore backed by the given pool.
func NewCatalogStore(pool *pgxpool.Pool) *CatalogStore {
	return &CatalogStore{pool: pool}
}

const recordColumns = `id, name, description, category, website, source,
	rating, review_count, weekly_users, growth, trending_score,
	data_quality_fixed, auto_fixed_at, created_at, updated_at`

// NaturalKey identifies a record across discovery runs: the normalized
// website, or the name when there is no website.
func NaturalKey(website, name string) string {
	if w := strings.ToLower(strings.TrimRight(strings.TrimSpace(website), "/")); w != "" {
		return "w:" + w
	}
	return "n:" + strings.ToLower(strings.TrimSpace(name))
}

func scanRecord(row pgx.Row) (domain.CatalogRecord, error) {
	var (
		r     domain.CatalogRecord
		score pgtype.Float8
	)
	err := row.Scan(&r.ID, &r.Name, &r.Description, &r.Category, &r.Website, &r.Source,
		&r.Rating, &r.ReviewCount, &r.WeeklyUsers, &r.Growth, &score,
		&r.DataQualityFixed, &r.AutoFixedAt, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return r, err
	}
	if score.Valid {
		v := score.Float64
		r.TrendingScore = &v
	}
	return r, nil
}

func collectRecords(rows pgx.Rows) ([]domain.CatalogRecord, error) {
	defer rows.Close()
	var out []domain.CatalogRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan catalog record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListRecords returns every record ordered by id.
func (s *CatalogStore) ListRecords(ctx context.Context) ([]domain.CatalogRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+recordColumns+` FROM catalog_records ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list catalog records: %w", err)
	}
	return collectRecords(rows)
}

// GetRecord returns domain.ErrNotFound for unknown ids.
func (s *CatalogStore) GetRecord(ctx context.Context, id string) (*domain.CatalogRecord, error) {
	r, err := scanRecord(s.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM catalog_records WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("catalog record %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get catalog record %s: %w", id, err)
	}
	return &r, nil
}

// ListCategories counts records per non-empty category, ordered by name.
func (s *CatalogStore) ListCategories(ctx context.Context) ([]domain.Category, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT category, count(*) FROM catalog_records
		 WHERE category <> '' GROUP BY category ORDER BY category`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var out []domain.Category
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.Name, &c.Count); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// TopTrending returns up to limit records by descending trending score.
func (s *CatalogStore) TopTrending(ctx context.Context, limit int) ([]domain.CatalogRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM catalog_records
		 ORDER BY trending_score DESC NULLS LAST, id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("top trending: %w", err)
	}
	return collectRecords(rows)
}

// UpsertCandidate inserts or updates by natural key. An upstream update
// clears data_quality_fixed so the record is fingerprint-checked again.
func (s *CatalogStore) UpsertCandidate(ctx context.Context, c domain.Candidate, score float64) (domain.UpsertResult, error) {
	var res domain.UpsertResult
	err := s.pool.QueryRow(ctx,
		`INSERT INTO catalog_records
			(natural_key, name, description, category, website, source,
			 rating, review_count, weekly_users, growth, trending_score)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (natural_key) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			category = EXCLUDED.category,
			website = EXCLUDED.website,
			source = EXCLUDED.source,
			rating = EXCLUDED.rating,
			review_count = EXCLUDED.review_count,
			weekly_users = EXCLUDED.weekly_users,
			growth = EXCLUDED.growth,
			trending_score = EXCLUDED.trending_score,
			data_quality_fixed = false,
			updated_at = now()
		 RETURNING id, (xmax = 0)`,
		NaturalKey(c.Website, c.Name), c.Name, c.Description, c.Category, c.Website, c.Source,
		c.Rating, c.ReviewCount, c.WeeklyUsers, c.Growth, score,
	).Scan(&res.ID, &res.Created)
	if err != nil {
		return res, fmt.Errorf("upsert candidate %q: %w", c.Name, err)
	}
	return res, nil
}

// SetTrendingScores writes scores in one batch and returns how many rows
// actually changed.
func (s *CatalogStore) SetTrendingScores(ctx context.Context, scores map[string]float64) (int, error) {
	if len(scores) == 0 {
		return 0, nil
	}
	batch := &pgx.Batch{}
	for id, score := range scores {
		batch.Queue(
			`UPDATE catalog_records SET trending_score = $2
			 WHERE id = $1 AND trending_score IS DISTINCT FROM $2`, id, score)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	changed := 0
	for range scores {
		tag, err := br.Exec()
		if err != nil {
			return changed, fmt.Errorf("set trending score: %w", err)
		}
		changed += int(tag.RowsAffected())
	}
	return changed, nil
}

// ApplyFix writes a quality fix in a single statement guarded by the
// updated_at value read during the pass. A record that moved on or vanished
// yields domain.ErrRecordChanged.
func (s *CatalogStore) ApplyFix(ctx context.Context, id string, readAt time.Time, patch domain.RecordPatch, score float64, fixedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE catalog_records SET
			rating = COALESCE($3, rating),
			review_count = COALESCE($4, review_count),
			weekly_users = COALESCE($5, weekly_users),
			growth = COALESCE($6, growth),
			trending_score = $7,
			data_quality_fixed = true,
			auto_fixed_at = $8,
			updated_at = GREATEST(now(), updated_at + interval '1 microsecond')
		 WHERE id = $1 AND updated_at = $2`,
		id, readAt, patch.Rating, patch.ReviewCount, patch.WeeklyUsers, patch.Growth, score, fixedAt)
	if err != nil {
		return fmt.Errorf("apply fix to %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("apply fix to %s: %w", id, domain.ErrRecordChanged)
	}
	return nil
}
