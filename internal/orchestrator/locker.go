package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/toolscout/catalogd/internal/domain"
)

// MemoryLocker is a single-process Locker. It is the default when no
// Postgres or Redis lock backend is configured.
type MemoryLocker struct {
	mu     sync.Mutex
	leases map[domain.JobKind]memLease
	now    func() time.Time
}

type memLease struct {
	lease     domain.JobLease
	expiresAt time.Time
}

// NewMemoryLocker creates an empty locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{leases: make(map[domain.JobKind]memLease), now: time.Now}
}

// WithClock overrides the clock, for tests.
func (l *MemoryLocker) WithClock(now func() time.Time) *MemoryLocker {
	l.now = now
	return l
}

func (l *MemoryLocker) Acquire(_ context.Context, kind domain.JobKind, holder, runID string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if cur, ok := l.leases[kind]; ok && now.Before(cur.expiresAt) && cur.lease.Holder != holder {
		return false, nil
	}
	l.leases[kind] = memLease{
		lease:     domain.JobLease{Kind: kind, Holder: holder, RunID: runID, AcquiredAt: now, HeartbeatAt: now},
		expiresAt: now.Add(ttl),
	}
	return true, nil
}

func (l *MemoryLocker) Heartbeat(_ context.Context, kind domain.JobKind, holder string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur, ok := l.leases[kind]
	if !ok || cur.lease.Holder != holder {
		return false, nil
	}
	now := l.now()
	cur.lease.HeartbeatAt = now
	cur.expiresAt = now.Add(ttl)
	l.leases[kind] = cur
	return true, nil
}

func (l *MemoryLocker) Release(_ context.Context, kind domain.JobKind, holder string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.leases[kind]; ok && cur.lease.Holder == holder {
		delete(l.leases, kind)
	}
	return nil
}

// ReleaseExpired drops lease only if it is still the same run and still
// expired. It reports whether anything was removed.
func (l *MemoryLocker) ReleaseExpired(_ context.Context, lease domain.JobLease) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur, ok := l.leases[lease.Kind]
	if !ok || cur.lease.Holder != lease.Holder || cur.lease.RunID != lease.RunID || l.now().Before(cur.expiresAt) {
		return false, nil
	}
	delete(l.leases, lease.Kind)
	return true, nil
}

// ExpiredLeases lists leases whose heartbeat has lapsed.
func (l *MemoryLocker) ExpiredLeases(_ context.Context) ([]domain.JobLease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	var out []domain.JobLease
	for _, cur := range l.leases {
		if !now.Before(cur.expiresAt) {
			out = append(out, cur.lease)
		}
	}
	return out, nil
}
