// Package api provides the catalogd HTTP API. Operator control and status
// endpoints and the cached catalog read views are mounted under /api/v1;
// health probes and /metrics live at the root.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/toolscout/catalogd/internal/domain"
	"github.com/toolscout/catalogd/internal/metrics"
	"github.com/toolscout/catalogd/internal/quality"
	"github.com/toolscout/catalogd/internal/ratelimit"
)

// maxJSONBodySize is the maximum size for JSON request bodies (1MB).
const maxJSONBodySize = 1 << 20

// Structured error type codes for machine-readable error categorization.
const (
	ErrorTypeValidation     = "VALIDATION"
	ErrorTypeAuthentication = "AUTHENTICATION"
	ErrorTypeNotFound       = "NOT_FOUND"
	ErrorTypeConflict       = "CONFLICT"
	ErrorTypeRateLimit      = "RATE_LIMIT"
	ErrorTypeInternal       = "INTERNAL"
	ErrorTypeUnavailable    = "UNAVAILABLE"
)

// APIError is the structured JSON error envelope returned by API errors.
// Format: {"error": {"code": "ERROR_CODE", "type": "ERROR_TYPE", "message": "..."}}
type APIError struct {
	Error APIErrorDetail `json:"error"`
}

// APIErrorDetail holds the code, type, and message inside the error envelope.
type APIErrorDetail struct {
	Code    string `json:"code"`
	Type    string `json:"type,omitempty"`
	Message string `json:"message"`
}

func errorTypeFromStatus(status int) string {
	switch {
	case status == http.StatusBadRequest:
		return ErrorTypeValidation
	case status == http.StatusUnauthorized:
		return ErrorTypeAuthentication
	case status == http.StatusNotFound:
		return ErrorTypeNotFound
	case status == http.StatusConflict:
		return ErrorTypeConflict
	case status == http.StatusTooManyRequests:
		return ErrorTypeRateLimit
	case status == http.StatusServiceUnavailable:
		return ErrorTypeUnavailable
	case status >= 500:
		return ErrorTypeInternal
	default:
		return ""
	}
}

// errorJSON writes a structured JSON error response. The type is derived
// from the status code.
func errorJSON(w http.ResponseWriter, message, code string, status int) {
	writeJSON(w, status, APIError{
		Error: APIErrorDetail{Code: code, Type: errorTypeFromStatus(status), Message: message},
	})
}

// internalError logs the full error server-side and returns a generic JSON error to clients.
func internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	LoggerFromContext(r.Context()).Error(msg, "error", err)
	errorJSON(w, msg, "INTERNAL", http.StatusInternalServerError)
}

// writeJSON encodes v as JSON and writes it to w with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

// writeCachedJSON writes an already encoded body.
func writeCachedJSON(w http.ResponseWriter, body []byte, hit bool) {
	w.Header().Set("Content-Type", "application/json")
	if hit {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// limitJSONBody caps request body size.
func limitJSONBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
		}
		next.ServeHTTP(w, r)
	})
}

// securityHeaders adds standard HTTP security headers to every response.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "0")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// Orchestrator is the job control surface. *orchestrator.Orchestrator
// satisfies it.
type Orchestrator interface {
	TriggerRun(ctx context.Context, kind domain.JobKind) (domain.RunAccepted, error)
	GetStatus(ctx context.Context, kind domain.JobKind) (domain.RunStatus, error)
	ToggleAutoRefresh(ctx context.Context, enabled bool) error
	AutoRefreshEnabled(ctx context.Context) (bool, error)
	Settings(ctx context.Context) ([]domain.Setting, error)
}

// CatalogReader serves the read views.
type CatalogReader interface {
	ListRecords(ctx context.Context) ([]domain.CatalogRecord, error)
	// GetRecord returns domain.ErrNotFound for unknown ids.
	GetRecord(ctx context.Context, id string) (*domain.CatalogRecord, error)
	ListCategories(ctx context.Context) ([]domain.Category, error)
	TopTrending(ctx context.Context, limit int) ([]domain.CatalogRecord, error)
}

// MarkerLister lists per-content-type last-updated markers.
type MarkerLister interface {
	ListMarkers(ctx context.Context) ([]domain.ContentMarker, error)
}

// SettingsStore holds runtime settings such as the quality config.
type SettingsStore interface {
	// GetSetting returns domain.ErrNotFound for unknown keys.
	GetSetting(ctx context.Context, key string) (string, error)
	PutSetting(ctx context.Context, key, value string) error
}

// QualityRunner runs one synchronous quality pass. *quality.Engine satisfies it.
type QualityRunner interface {
	RunQualityPass(ctx context.Context, cfg quality.Config) (*domain.QualityReport, error)
}

// ViewCache caches encoded read views. *cache.Views satisfies it.
type ViewCache interface {
	Get(view, key string) ([]byte, bool)
	Set(view, key string, body []byte)
}

// Server holds dependencies for all API handlers. Nil optional fields
// disable the routes or middleware that need them.
type Server struct {
	Orchestrator Orchestrator
	Catalog      CatalogReader
	Markers      MarkerLister  // Optional: lastUpdated in the status response.
	Settings     SettingsStore // Optional: quality config routes.
	Quality      QualityRunner // Optional: POST /quality/run.
	Views        ViewCache     // Optional: read views are uncached without it.
	Metrics      *metrics.Metrics
	Auth         func(http.Handler) http.Handler
	RateLimiter  ratelimit.Limiter // Optional: per-IP limiting of /api/v1.
	CORSOrigins  []string          // Defaults to ["http://localhost:3000"].

	// Health checkers by dependency name ("postgres", "redis", "s3", "discovery").
	Health map[string]HealthChecker
}

// NewRouter creates the chi router with all API routes mounted.
func NewRouter(srv *Server) chi.Router {
	r := chi.NewRouter()

	corsOrigins := srv.CORSOrigins
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"http://localhost:3000"}
	}
	corsOpts := cors.Options{
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "X-Cache", "RateLimit-Limit", "RateLimit-Remaining", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}
	if slices.Contains(corsOrigins, "*") {
		// Credentials forbid a literal "*", so reflect the request origin instead.
		slog.Warn("CORS: wildcard origin '*' with AllowCredentials, using dynamic origin reflection")
		corsOpts.AllowOriginFunc = func(_ *http.Request, _ string) bool { return true }
	} else {
		corsOpts.AllowedOrigins = corsOrigins
	}

	r.Use(cors.Handler(corsOpts))
	r.Use(securityHeaders)
	r.Use(RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(srv.Metrics))
	r.Use(middleware.Recoverer)

	r.Get("/health", srv.HandleHealth)
	r.Get("/health/live", srv.HandleHealthLive)
	r.Get("/health/ready", srv.HandleHealthReady)
	if srv.Metrics != nil {
		r.Handle("/metrics", srv.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(limitJSONBody)
		if srv.RateLimiter != nil {
			r.Use(RateLimit(srv.RateLimiter))
		}
		if srv.Auth != nil {
			r.Use(srv.Auth)
		}

		MountAutomationRoutes(r, srv)
		MountCatalogRoutes(r, srv)
		if srv.Settings != nil {
			MountQualityRoutes(r, srv)
		}
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		errorJSON(w, "route not found", "NOT_FOUND", http.StatusNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		errorJSON(w, "method "+strings.ToUpper(r.Method)+" not allowed", "METHOD_NOT_ALLOWED", http.StatusMethodNotAllowed)
	})

	return r
}
