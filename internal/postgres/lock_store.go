package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/toolscout/catalogd/internal/domain"
)

// LockStore grants per-kind job leases through rows in job_locks. A lease
// is live while expires_at is in the future; the holder pushes expires_at
// forward with Heartbeat. Time comes from the database clock so replicas
// with skewed clocks agree.
type LockStore struct {
	pool *pgxpool.Pool
}

// NewLockStore creates a LockStore backed by the given pool.
func NewLockStore(pool *pgxpool.Pool) *LockStore {
	return &LockStore{pool: pool}
}

func interval(d time.Duration) string {
	return fmt.Sprintf("%d microseconds", d.Microseconds())
}

// Acquire takes the lease if it is free, expired, or already ours.
func (s *LockStore) Acquire(ctx context.Context, kind domain.JobKind, holder, runID string, ttl time.Duration) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO job_locks (kind, holder, run_id, acquired_at, heartbeat_at, expires_at)
		 VALUES ($1, $2, $3, now(), now(), now() + $4::interval)
		 ON CONFLICT (kind) DO UPDATE SET
			holder = EXCLUDED.holder,
			run_id = EXCLUDED.run_id,
			acquired_at = EXCLUDED.acquired_at,
			heartbeat_at = EXCLUDED.heartbeat_at,
			expires_at = EXCLUDED.expires_at
		 WHERE job_locks.expires_at <= now() OR job_locks.holder = EXCLUDED.holder`,
		string(kind), holder, runID, interval(ttl))
	if err != nil {
		return false, fmt.Errorf("acquire %s lease: %w", kind, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Heartbeat extends the lease. It returns false once another holder has
// taken it over.
func (s *LockStore) Heartbeat(ctx context.Context, kind domain.JobKind, holder string, ttl time.Duration) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE job_locks SET heartbeat_at = now(), expires_at = now() + $3::interval
		 WHERE kind = $1 AND holder = $2`,
		string(kind), holder, interval(ttl))
	if err != nil {
		return false, fmt.Errorf("heartbeat %s lease: %w", kind, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Release drops the lease if holder still owns it.
func (s *LockStore) Release(ctx context.Context, kind domain.JobKind, holder string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM job_locks WHERE kind = $1 AND holder = $2`, string(kind), holder); err != nil {
		return fmt.Errorf("release %s lease: %w", kind, err)
	}
	return nil
}

// ReleaseExpired deletes lease only while the row still belongs to the same
// run and is still expired, so a renewal or re-acquire that raced the
// caller survives.
func (s *LockStore) ReleaseExpired(ctx context.Context, lease domain.JobLease) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM job_locks
		 WHERE kind = $1 AND holder = $2 AND run_id = $3 AND expires_at <= now()`,
		string(lease.Kind), lease.Holder, lease.RunID)
	if err != nil {
		return false, fmt.Errorf("release expired %s lease: %w", lease.Kind, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ExpiredLeases lists leases whose heartbeat lapsed, oldest first.
func (s *LockStore) ExpiredLeases(ctx context.Context) ([]domain.JobLease, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT kind, holder, run_id, acquired_at, heartbeat_at FROM job_locks
		 WHERE expires_at <= now() ORDER BY heartbeat_at`)
	if err != nil {
		return nil, fmt.Errorf("list expired leases: %w", err)
	}
	defer rows.Close()

	var out []domain.JobLease
	for rows.Next() {
		var (
			l    domain.JobLease
			kind string
		)
		if err := rows.Scan(&kind, &l.Holder, &l.RunID, &l.AcquiredAt, &l.HeartbeatAt); err != nil {
			return nil, fmt.Errorf("scan lease: %w", err)
		}
		l.Kind = domain.JobKind(kind)
		out = append(out, l)
	}
	return out, rows.Err()
}
