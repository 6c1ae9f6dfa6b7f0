// Package ratelimit provides per-client rate limiting for the catalogd API.
//
// LocalLimiter keeps a token bucket per key in memory and is correct for a
// single replica. RedisLimiter coordinates all replicas through a sliding
// window counter in Redis. Both satisfy Limiter, which the API middleware
// consumes.
package ratelimit

import (
	"context"
	"time"
)

// Result holds the outcome of a rate limit check.
type Result struct {
	Allowed   bool
	Remaining int   // approximate requests left before the limit is hit
	ResetMs   int64 // milliseconds until a request is allowed again (0 if allowed)
	Limit     int
}

// Limiter abstracts rate limiting behind a simple interface.
type Limiter interface {
	// Allow checks whether a request identified by key (typically the client
	// IP) is permitted.
	Allow(ctx context.Context, key string) (Result, error)
	// Close releases background resources.
	Close() error
}

// Config holds limiter configuration shared across implementations.
type Config struct {
	RequestsPerSecond float64
	Burst             int
	// Window is the sliding window size of the Redis limiter.
	Window time.Duration
}

// DefaultConfig returns 50 req/s with a burst of 100.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 50,
		Burst:             100,
		Window:            time.Minute,
	}
}
