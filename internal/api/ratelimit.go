package api

import (
	"net"
	"net/http"
	"strconv"

	"github.com/toolscout/catalogd/internal/ratelimit"
)

// setRateLimitHeaders adds the IETF draft RateLimit headers, plus
// Retry-After on rejection.
func setRateLimitHeaders(w http.ResponseWriter, res ratelimit.Result) {
	w.Header().Set("RateLimit-Limit", strconv.Itoa(res.Limit))
	w.Header().Set("RateLimit-Remaining", strconv.Itoa(res.Remaining))
	if !res.Allowed {
		secs := max(1, (res.ResetMs+999)/1000)
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
}

// clientIP keys the limiter. chi's RealIP middleware has already rewritten
// RemoteAddr from X-Real-IP / X-Forwarded-For.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// RateLimit returns a middleware that limits requests per client IP. When
// the limiter itself errors the request is let through and the error logged.
func RateLimit(l ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, err := l.Allow(r.Context(), clientIP(r))
			if err != nil {
				LoggerFromContext(r.Context()).Warn("rate limit check failed, allowing request", "error", err)
				next.ServeHTTP(w, r)
				return
			}
			setRateLimitHeaders(w, res)
			if !res.Allowed {
				errorJSON(w, "rate limit exceeded", "RESOURCE_EXHAUSTED", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
