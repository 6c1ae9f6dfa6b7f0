package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/toolscout/catalogd/internal/domain"
)

// ReportStore keeps the latest RunReport per job kind as a JSONB row. The
// upsert replaces the whole document in one statement, so readers see
// either the previous or the new report.
type ReportStore struct {
	pool *pgxpool.Pool
}

// NewReportStore creates a ReportStore backed by the given pool.
func NewReportStore(pool *pgxpool.Pool) *ReportStore {
	return &ReportStore{pool: pool}
}

// SaveReport replaces the kind's report unless the stored one is newer.
func (s *ReportStore) SaveReport(ctx context.Context, r domain.RunReport) error {
	doc, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal %s report: %w", r.Kind, err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO run_reports (kind, run_id, success, finished_at, report)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (kind) DO UPDATE SET
			run_id = EXCLUDED.run_id,
			success = EXCLUDED.success,
			finished_at = EXCLUDED.finished_at,
			report = EXCLUDED.report
		 WHERE run_reports.finished_at <= EXCLUDED.finished_at`,
		string(r.Kind), r.RunID, r.Success, r.Timestamp, doc)
	if err != nil {
		return fmt.Errorf("save %s report: %w", r.Kind, err)
	}
	return nil
}

// LatestReport returns nil, nil when the kind has never completed.
func (s *ReportStore) LatestReport(ctx context.Context, kind domain.JobKind) (*domain.RunReport, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, `SELECT report FROM run_reports WHERE kind = $1`, string(kind)).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s report: %w", kind, err)
	}
	var r domain.RunReport
	if err := json.Unmarshal(doc, &r); err != nil {
		return nil, fmt.Errorf("decode %s report: %w", kind, err)
	}
	return &r, nil
}
