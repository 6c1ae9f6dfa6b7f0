package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// idleAfter is how long a key may go unused before its bucket is evicted.
const idleAfter = 10 * time.Minute

type visitor struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// LocalLimiter is an in-memory per-key token bucket limiter.
type LocalLimiter struct {
	cfg Config
	now func() time.Time

	mu       sync.Mutex
	visitors map[string]*visitor

	stop     chan struct{}
	stopOnce sync.Once
}

// NewLocalLimiter creates a limiter and starts evicting idle keys every
// cleanupInterval. Call Close to stop the cleanup goroutine.
func NewLocalLimiter(cfg Config, cleanupInterval time.Duration) *LocalLimiter {
	l := &LocalLimiter{
		cfg:      cfg,
		now:      time.Now,
		visitors: make(map[string]*visitor),
		stop:     make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go l.cleanup(cleanupInterval)
	}
	return l
}

func (l *LocalLimiter) Allow(_ context.Context, key string) (Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{lim: rate.NewLimiter(rate.Limit(l.cfg.RequestsPerSecond), l.cfg.Burst)}
		l.visitors[key] = v
	}
	v.lastSeen = now

	res := Result{Allowed: v.lim.AllowN(now, 1), Limit: l.cfg.Burst}
	tokens := v.lim.TokensAt(now)
	res.Remaining = int(math.Max(0, tokens))
	if !res.Allowed && l.cfg.RequestsPerSecond > 0 {
		res.ResetMs = int64(math.Ceil((1 - tokens) / l.cfg.RequestsPerSecond * 1000))
	}
	return res, nil
}

// Close stops the cleanup goroutine.
func (l *LocalLimiter) Close() error {
	l.stopOnce.Do(func() { close(l.stop) })
	return nil
}

func (l *LocalLimiter) cleanup(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.evictIdle()
		}
	}
}

func (l *LocalLimiter) evictIdle() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-idleAfter)
	n := 0
	for key, v := range l.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(l.visitors, key)
			n++
		}
	}
	return n
}
