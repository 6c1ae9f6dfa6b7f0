// Package redisx holds the Redis-backed event bus and job lease locker, an
// alternative to the Postgres implementations for deployments that already
// run Redis.
package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Options selects the Redis server.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// NewClient connects and pings once.
func NewClient(ctx context.Context, opts Options) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	return rdb, nil
}

// HealthChecker pings Redis for the /health endpoint.
type HealthChecker struct {
	rdb redis.UniversalClient
}

// NewHealthChecker wraps a client.
func NewHealthChecker(rdb redis.UniversalClient) *HealthChecker {
	return &HealthChecker{rdb: rdb}
}

// HealthCheck returns nil if Redis answers PING.
func (h *HealthChecker) HealthCheck(ctx context.Context) error {
	if err := h.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}
