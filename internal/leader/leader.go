// Package leader elects one catalogd replica to run the cluster-wide
// background workers: scheduled quality passes and the lease reaper.
// Orchestrator runs do not need a leader; their per-kind leases already
// keep them exclusive.
//
// The Postgres lock holds a session-level advisory lock on a dedicated
// connection. When that replica dies its session ends and Postgres frees
// the lock for the next replica to take.
package leader

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AdvisoryLockID is the Postgres advisory lock key for leadership. It must
// differ from the migration lock.
const AdvisoryLockID int64 = 7526700533049

// RetryInterval is the default interval between election attempts.
const RetryInterval = 30 * time.Second

// TryLockFunc attempts to acquire leadership, or confirms it is still held
// when called by the current leader. It returns false when another replica
// leads or the lock was lost.
type TryLockFunc func(ctx context.Context) (acquired bool, err error)

// OnElected starts leader-only workers. The returned stop function is
// called when leadership ends.
type OnElected func(ctx context.Context) (stop func())

// Elector runs the election loop.
type Elector struct {
	tryLock       TryLockFunc
	retryInterval time.Duration
	onElected     OnElected

	mu       sync.Mutex
	isLeader bool
	stopFn   func()
	cancel   context.CancelFunc
	done     chan struct{}
}

// New creates an Elector. retryInterval is both the retry period for
// followers and the liveness check period for the leader.
func New(tryLock TryLockFunc, retryInterval time.Duration, onElected OnElected) *Elector {
	if retryInterval <= 0 {
		retryInterval = RetryInterval
	}
	return &Elector{
		tryLock:       tryLock,
		retryInterval: retryInterval,
		onElected:     onElected,
	}
}

// Start tries immediately, then on every tick until ctx is cancelled.
func (e *Elector) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})

	go func() {
		defer close(e.done)

		e.tick(ctx)

		ticker := time.NewTicker(e.retryInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				e.relinquish()
				return
			case <-ticker.C:
				e.tick(ctx)
			}
		}
	}()
}

// Stop cancels the loop and waits for the leader's workers to stop.
func (e *Elector) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	if e.done != nil {
		<-e.done
	}
}

// IsLeader reports whether this replica currently leads.
func (e *Elector) IsLeader() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isLeader
}

func (e *Elector) tick(ctx context.Context) {
	acquired, err := e.tryLock(ctx)
	leading := e.IsLeader()

	switch {
	case err != nil && leading:
		slog.Error("leader: lock check failed, stepping down", "error", err)
		e.relinquish()
	case err != nil:
		slog.Error("leader: failed to try advisory lock", "error", err)
	case !acquired && leading:
		slog.Warn("leader: lock lost, stepping down")
		e.relinquish()
	case !acquired:
		slog.Debug("leader: lock not acquired, another replica is leader")
	case acquired && !leading:
		slog.Info("leader: elected, starting background workers")
		e.mu.Lock()
		e.isLeader = true
		e.mu.Unlock()

		stopFn := e.onElected(ctx)

		e.mu.Lock()
		e.stopFn = stopFn
		e.mu.Unlock()
	}
}

func (e *Elector) relinquish() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.isLeader {
		return
	}

	slog.Info("leader: relinquishing leadership, stopping background workers")
	if e.stopFn != nil {
		e.stopFn()
		e.stopFn = nil
	}
	e.isLeader = false
}

// Always is the TryLockFunc of a single-replica deployment.
func Always(context.Context) (bool, error) { return true, nil }

// PgLock holds the leadership advisory lock on one pooled connection that
// is taken out of circulation for as long as the lock is held.
type PgLock struct {
	pool *pgxpool.Pool
	id   int64

	mu   sync.Mutex
	conn *pgxpool.Conn
}

// NewPgLock creates a lock for id on pool.
func NewPgLock(pool *pgxpool.Pool, id int64) *PgLock {
	return &PgLock{pool: pool, id: id}
}

// TryLock implements TryLockFunc. While held, it pings the dedicated
// connection; a dead connection means the session and its lock are gone.
func (l *PgLock) TryLock(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn != nil {
		if err := l.conn.Ping(ctx); err != nil {
			l.conn.Hijack().Close(context.WithoutCancel(ctx)) //nolint:errcheck // connection is already broken
			l.conn = nil
			return false, nil
		}
		return true, nil
	}

	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire leader connection: %w", err)
	}
	var acquired bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", l.id).Scan(&acquired); err != nil {
		conn.Release()
		return false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

// Release unlocks and returns the connection to the pool.
func (l *PgLock) Release(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return
	}
	if _, err := l.conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", l.id); err != nil {
		slog.Warn("leader: advisory unlock failed", "error", err)
	}
	l.conn.Release()
	l.conn = nil
}
