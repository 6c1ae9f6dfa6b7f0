package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolscout/catalogd/internal/api"
)

// serveWithID runs one request through RequestID and returns the id the
// handler saw plus the recorder.
func serveWithID(header string) (string, *httptest.ResponseRecorder) {
	var seen string
	h := api.RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = api.RequestIDFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/automation", http.NoBody)
	if header != "" {
		req.Header.Set("X-Request-ID", header)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return seen, rec
}

// --- RequestID middleware ---

func TestRequestID_HeaderHandling(t *testing.T) {
	for _, tc := range []struct {
		name     string
		header   string
		keepSent bool
	}{
		{"missing generates uuid", "", false},
		{"client id kept", "operator-run-7f3a", true},
		{"128 chars kept", strings.Repeat("a", 128), true},
		{"oversized replaced", strings.Repeat("x", 129), false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			seen, rec := serveWithID(tc.header)

			assert.Equal(t, seen, rec.Header().Get("X-Request-ID"))
			if tc.keepSent {
				assert.Equal(t, tc.header, seen)
				return
			}
			_, err := uuid.Parse(seen)
			require.NoError(t, err, "generated id %q", seen)
		})
	}
}

func TestRequestID_GeneratedIDsAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for range 10 {
		id, _ := serveWithID("")
		assert.False(t, seen[id], "duplicate request id %s", id)
		seen[id] = true
	}
}

func TestRequestIDFromContext_BareContext_Empty(t *testing.T) {
	assert.Empty(t, api.RequestIDFromContext(context.Background()))
	assert.Equal(t, "run-42", api.RequestIDFromContext(api.ContextWithRequestID(context.Background(), "run-42")))
}

func TestLoggerFromContext_CarriesRequestID(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	h := api.RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		api.LoggerFromContext(r.Context()).Info("automation: run requested")
	}))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/automation", http.NoBody)
	req.Header.Set("X-Request-ID", "req-77")
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Contains(t, buf.String(), `"request_id":"req-77"`)
	assert.Same(t, slog.Default(), api.LoggerFromContext(context.Background()))
}

// --- ContextHandler ---

func logEntry(t *testing.T, ctx context.Context, decorate func(*slog.Logger) *slog.Logger) map[string]any {
	t.Helper()
	var buf bytes.Buffer
	logger := decorate(slog.New(api.NewContextHandler(slog.NewJSONHandler(&buf, nil))))
	logger.InfoContext(ctx, "quality: pass finished")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "quality: pass finished", entry["msg"])
	return entry
}

func TestContextHandler_AddsRequestID(t *testing.T) {
	ctx := api.ContextWithRequestID(context.Background(), "req-123")
	plain := func(l *slog.Logger) *slog.Logger { return l }

	assert.Equal(t, "req-123", logEntry(t, ctx, plain)["request_id"])
	assert.NotContains(t, logEntry(t, context.Background(), plain), "request_id")
}

func TestContextHandler_WithAttrsAndGroup(t *testing.T) {
	ctx := api.ContextWithRequestID(context.Background(), "req-456")

	entry := logEntry(t, ctx, func(l *slog.Logger) *slog.Logger { return l.With("service", "catalogd") })
	assert.Equal(t, "req-456", entry["request_id"])
	assert.Equal(t, "catalogd", entry["service"])

	entry = logEntry(t, ctx, func(l *slog.Logger) *slog.Logger { return l.WithGroup("http") })
	group, ok := entry["http"].(map[string]any)
	require.True(t, ok, "expected http group")
	assert.Equal(t, "req-456", group["request_id"])
}
