package transport

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/http2"
)

// --- NewClient ---

func TestNewClient_Default_PlainTransport(t *testing.T) {
	client, err := NewClient(TLSConfig{}, 5*time.Second)

	require.NoError(t, err)
	assert.IsType(t, &http.Transport{}, client.Transport)
	assert.Equal(t, 5*time.Second, client.Timeout)
}

func TestNewClient_H2C_UsesHTTP2Transport(t *testing.T) {
	client, err := NewClient(TLSConfig{H2C: true}, time.Second)

	require.NoError(t, err)
	tr, ok := client.Transport.(*http2.Transport)
	require.True(t, ok)
	assert.True(t, tr.AllowHTTP)
}

func TestNewClient_MissingCACert_ReturnsError(t *testing.T) {
	_, err := NewClient(TLSConfig{CACertFile: "/nonexistent/ca.pem"}, time.Second)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "read CA cert")
}

func TestNewClient_GarbageCACert_ReturnsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ca.pem")
	require.NoError(t, os.WriteFile(path, []byte("not a certificate"), 0o600))

	_, err := NewClient(TLSConfig{CACertFile: path}, time.Second)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse CA cert")
}

func TestNewClient_MissingClientCert_ReturnsError(t *testing.T) {
	_, err := NewClient(TLSConfig{CertFile: "/nonexistent/c.pem", KeyFile: "/nonexistent/k.pem"}, time.Second)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "load client cert")
}

func TestNewClient_Default_TalksToServer(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()
	client, err := NewClient(TLSConfig{}, time.Second)
	require.NoError(t, err)

	resp, err := client.Get(ts.URL)

	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

// --- TCPHealthChecker ---

func TestNewTCPHealthChecker_AddressForms(t *testing.T) {
	for _, tc := range []struct {
		in, want string
	}{
		{"http://producer:9000/api", "producer:9000"},
		{"https://producer.example.com", "producer.example.com:443"},
		{"http://producer", "producer:80"},
		{"producer:9000", "producer:9000"},
	} {
		t.Run(tc.in, func(t *testing.T) {
			assert.Equal(t, tc.want, NewTCPHealthChecker(tc.in, "producer").Addr())
		})
	}
}

func TestTCPHealthChecker_Reachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	err = NewTCPHealthChecker("http://"+ln.Addr().String(), "producer").HealthCheck(context.Background())

	assert.NoError(t, err)
}

func TestTCPHealthChecker_Unreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err = NewTCPHealthChecker(addr, "producer").HealthCheck(ctx)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "producer unreachable")
}
