package redisx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cast"

	"github.com/toolscout/catalogd/internal/domain"
)

// Locker grants per-kind job leases. Each lease is two keys: a holder key
// with a PX expiry that is the lease itself, and a hash without expiry that
// records who held it. A record whose holder key has expired is an
// abandoned lease that the reaper can find.
type Locker struct {
	rdb    redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewLocker creates a locker. Keys are namespaced under prefix
// (default "catalogd:").
func NewLocker(rdb redis.UniversalClient, prefix string) *Locker {
	if prefix == "" {
		prefix = "catalogd:"
	}
	return &Locker{rdb: rdb, prefix: prefix, now: time.Now}
}

func (l *Locker) keys(kind domain.JobKind) []string {
	return []string{l.prefix + "lease:" + string(kind), l.prefix + "lease-record:" + string(kind)}
}

var acquireScript = redis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if cur and cur ~= ARGV[1] then
	return 0
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[3])
redis.call("HSET", KEYS[2], "holder", ARGV[1], "run_id", ARGV[2], "acquired_at", ARGV[4], "heartbeat_at", ARGV[4])
return 1
`)

var heartbeatScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
	redis.call("HSET", KEYS[2], "heartbeat_at", ARGV[3])
	return 1
end
return 0
`)

var releaseScript = redis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if cur == ARGV[1] or (not cur and redis.call("HGET", KEYS[2], "holder") == ARGV[1]) then
	redis.call("DEL", KEYS[1], KEYS[2])
	return 1
end
return 0
`)

var releaseExpiredScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	return 0
end
if redis.call("HGET", KEYS[2], "holder") ~= ARGV[1] or redis.call("HGET", KEYS[2], "run_id") ~= ARGV[2] then
	return 0
end
redis.call("DEL", KEYS[2])
return 1
`)

func (l *Locker) Acquire(ctx context.Context, kind domain.JobKind, holder, runID string, ttl time.Duration) (bool, error) {
	n, err := acquireScript.Run(ctx, l.rdb, l.keys(kind),
		holder, runID, ttl.Milliseconds(), l.now().UnixMilli()).Int()
	if err != nil {
		return false, fmt.Errorf("acquire %s lease: %w", kind, err)
	}
	return n == 1, nil
}

func (l *Locker) Heartbeat(ctx context.Context, kind domain.JobKind, holder string, ttl time.Duration) (bool, error) {
	n, err := heartbeatScript.Run(ctx, l.rdb, l.keys(kind),
		holder, ttl.Milliseconds(), l.now().UnixMilli()).Int()
	if err != nil {
		return false, fmt.Errorf("heartbeat %s lease: %w", kind, err)
	}
	return n == 1, nil
}

func (l *Locker) Release(ctx context.Context, kind domain.JobKind, holder string) error {
	if err := releaseScript.Run(ctx, l.rdb, l.keys(kind), holder).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release %s lease: %w", kind, err)
	}
	return nil
}

// ReleaseExpired removes the record of lease if its holder key is still gone
// and the record still names the same holder and run.
func (l *Locker) ReleaseExpired(ctx context.Context, lease domain.JobLease) (bool, error) {
	n, err := releaseExpiredScript.Run(ctx, l.rdb, l.keys(lease.Kind), lease.Holder, lease.RunID).Int()
	if err != nil {
		return false, fmt.Errorf("release expired %s lease: %w", lease.Kind, err)
	}
	return n == 1, nil
}

// ExpiredLeases returns the records of kinds whose holder key has expired.
func (l *Locker) ExpiredLeases(ctx context.Context) ([]domain.JobLease, error) {
	var out []domain.JobLease
	for _, kind := range domain.JobKinds {
		keys := l.keys(kind)
		live, err := l.rdb.Exists(ctx, keys[0]).Result()
		if err != nil {
			return nil, fmt.Errorf("check %s lease: %w", kind, err)
		}
		if live > 0 {
			continue
		}
		rec, err := l.rdb.HGetAll(ctx, keys[1]).Result()
		if err != nil {
			return nil, fmt.Errorf("read %s lease record: %w", kind, err)
		}
		if rec["holder"] == "" {
			continue
		}
		out = append(out, domain.JobLease{
			Kind:        kind,
			Holder:      rec["holder"],
			RunID:       rec["run_id"],
			AcquiredAt:  time.UnixMilli(cast.ToInt64(rec["acquired_at"])).UTC(),
			HeartbeatAt: time.UnixMilli(cast.ToInt64(rec["heartbeat_at"])).UTC(),
		})
	}
	return out, nil
}
