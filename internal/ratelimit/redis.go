package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter implements a sliding window counter shared by every replica.
//
// Each key gets one counter per fixed window. A request increments the
// current window and is weighed against the previous one:
//
//	weighted = prev * (1 - elapsed/window) + current
//
// and is allowed while weighted stays within RequestsPerSecond*Window.
// Counters expire after two windows.
type RedisLimiter struct {
	rdb    redis.UniversalClient
	cfg    Config
	prefix string
	now    func() time.Time
}

// NewRedisLimiter creates a limiter on rdb. The client is owned by the
// caller. An empty prefix defaults to "catalogd:rl:".
func NewRedisLimiter(rdb redis.UniversalClient, cfg Config, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "catalogd:rl:"
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	return &RedisLimiter{rdb: rdb, cfg: cfg, prefix: prefix, now: time.Now}
}

func (r *RedisLimiter) limit() int {
	return max(1, int(r.cfg.RequestsPerSecond*r.cfg.Window.Seconds()))
}

func (r *RedisLimiter) windowKey(key string, start time.Time) string {
	return r.prefix + key + ":" + strconv.FormatInt(start.UnixMilli(), 10)
}

func (r *RedisLimiter) Allow(ctx context.Context, key string) (Result, error) {
	now := r.now()
	start := now.Truncate(r.cfg.Window)

	pipe := r.rdb.TxPipeline()
	cur := pipe.Incr(ctx, r.windowKey(key, start))
	pipe.PExpire(ctx, r.windowKey(key, start), 2*r.cfg.Window)
	prev := pipe.Get(ctx, r.windowKey(key, start.Add(-r.cfg.Window)))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Result{}, fmt.Errorf("rate limit %s: %w", key, err)
	}

	prevCount, err := prev.Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Result{}, fmt.Errorf("rate limit %s: read previous window: %w", key, err)
	}

	elapsed := float64(now.Sub(start)) / float64(r.cfg.Window)
	weighted := float64(prevCount)*(1-elapsed) + float64(cur.Val())
	limit := r.limit()

	res := Result{
		Allowed:   weighted <= float64(limit),
		Remaining: max(0, limit-int(math.Ceil(weighted))),
		Limit:     limit,
	}
	if !res.Allowed {
		res.ResetMs = start.Add(r.cfg.Window).Sub(now).Milliseconds()
	}
	return res, nil
}

// Close is a no-op; the Redis client is closed by its owner.
func (r *RedisLimiter) Close() error { return nil }
