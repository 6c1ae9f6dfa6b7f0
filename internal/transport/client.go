// Package transport builds the HTTP clients catalogd uses to talk to
// upstream producers. It supports plain HTTP/1.1, TLS with a private CA
// (optionally mTLS) and cleartext HTTP/2.
package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"golang.org/x/net/http2"
)

// TLSConfig holds paths to TLS material. With no CACertFile the system
// roots are used.
type TLSConfig struct {
	CACertFile string // private CA, enables HTTP/2 over TLS when set
	CertFile   string // client certificate for mTLS, optional
	KeyFile    string // client key for mTLS, optional
	H2C        bool   // cleartext HTTP/2, ignored when CACertFile is set
}

// NewClient creates an HTTP client for cfg with an overall request timeout.
func NewClient(cfg TLSConfig, timeout time.Duration) (*http.Client, error) {
	switch {
	case cfg.CACertFile != "":
		return newTLSClient(cfg, timeout)
	case cfg.H2C:
		return newH2CClient(timeout), nil
	default:
		t := http.DefaultTransport.(*http.Transport).Clone()
		if cfg.CertFile != "" {
			cert, err := loadClientCert(cfg)
			if err != nil {
				return nil, err
			}
			t.TLSClientConfig = &tls.Config{Certificates: cert, MinVersion: tls.VersionTLS12}
		}
		return &http.Client{Transport: t, Timeout: timeout}, nil
	}
}

func newH2CClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http2.Transport{
			AllowHTTP: true,
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				return (&net.Dialer{}).DialContext(ctx, network, addr)
			},
		},
	}
}

func newTLSClient(cfg TLSConfig, timeout time.Duration) (*http.Client, error) {
	caCert, err := os.ReadFile(cfg.CACertFile)
	if err != nil {
		return nil, fmt.Errorf("read CA cert %s: %w", cfg.CACertFile, err)
	}
	caPool := x509.NewCertPool()
	if !caPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to parse CA cert %s", cfg.CACertFile)
	}

	tlsConfig := &tls.Config{
		RootCAs:    caPool,
		MinVersion: tls.VersionTLS12,
	}
	if cfg.CertFile != "" {
		certs, err := loadClientCert(cfg)
		if err != nil {
			return nil, err
		}
		tlsConfig.Certificates = certs
	}

	t := http.DefaultTransport.(*http.Transport).Clone()
	t.TLSClientConfig = tlsConfig
	if _, err := http2.ConfigureTransports(t); err != nil {
		return nil, fmt.Errorf("configure http2: %w", err)
	}
	return &http.Client{Transport: t, Timeout: timeout}, nil
}

func loadClientCert(cfg TLSConfig) ([]tls.Certificate, error) {
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load client cert: %w", err)
	}
	return []tls.Certificate{cert}, nil
}
