package discovery_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolscout/catalogd/internal/discovery"
	"github.com/toolscout/catalogd/internal/domain"
)

func noWait() backoff.BackOff { return &backoff.ZeroBackOff{} }

func newProducer(t *testing.T, h http.Handler) *discovery.HTTPProducer {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	p, err := discovery.NewHTTPProducer(discovery.HTTPOptions{
		BaseURL: srv.URL + "/v1", AuthHeader: "Bearer t0ken", RatePerSec: 1000, Burst: 10, Backoff: noWait,
	})
	require.NoError(t, err)
	return p
}

// --- HTTPProducer ---

func TestHTTPProducer_DiscoverTools_FollowsPages(t *testing.T) {
	p := newProducer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/tools", r.URL.Path)
		assert.Equal(t, "Bearer t0ken", r.Header.Get("Authorization"))
		switch r.URL.Query().Get("page") {
		case "1":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"tools":    []domain.Candidate{{Name: "a"}, {Name: "b"}},
				"nextPage": 2,
			})
		default:
			_ = json.NewEncoder(w).Encode(map[string]any{"tools": []domain.Candidate{{Name: "c"}}})
		}
	}))

	got, err := p.DiscoverTools(context.Background())

	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "c", got[2].Name)
}

func TestHTTPProducer_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	p := newProducer(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"count": 9}`))
	}))

	n, err := p.RefreshNews(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 9, n)
	assert.Equal(t, int32(2), calls.Load())
}

func TestHTTPProducer_ClientError_NotRetried(t *testing.T) {
	var calls atomic.Int32
	p := newProducer(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))

	_, err := p.DiscoverTools(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Equal(t, int32(1), calls.Load())
}

func TestNewHTTPProducer_InvalidURL(t *testing.T) {
	_, err := discovery.NewHTTPProducer(discovery.HTTPOptions{BaseURL: "not a url"})

	assert.Error(t, err)
}

// --- MockProducer ---

func TestMockProducer_SampleAndFailure(t *testing.T) {
	p := discovery.NewMockProducer()

	got, err := p.DiscoverTools(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, len(discovery.SampleCandidates()))

	p.FailWith(errors.New("offline"))
	_, err = p.RefreshNews(context.Background())
	assert.EqualError(t, err, "offline")
}
