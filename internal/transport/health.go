package transport

import (
	"context"
	"fmt"
	"net"
	"net/url"
)

// TCPHealthChecker implements api.HealthChecker by dialing the producer's
// address. A successful connection confirms something is listening; it says
// nothing about the producer's own health. The context deadline bounds the
// dial.
type TCPHealthChecker struct {
	addr string
	name string
}

// NewTCPHealthChecker creates a checker for addr, which may be a URL or a
// raw host:port. URLs without a port get the scheme's default.
func NewTCPHealthChecker(addr, name string) *TCPHealthChecker {
	if u, err := url.Parse(addr); err == nil && u.Host != "" {
		addr = u.Host
		if u.Port() == "" {
			port := "80"
			if u.Scheme == "https" {
				port = "443"
			}
			addr = net.JoinHostPort(u.Hostname(), port)
		}
	}
	return &TCPHealthChecker{addr: addr, name: name}
}

// Addr returns the dialed host:port.
func (h *TCPHealthChecker) Addr() string { return h.addr }

func (h *TCPHealthChecker) HealthCheck(ctx context.Context) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", h.addr)
	if err != nil {
		return fmt.Errorf("%s unreachable: %w", h.name, err)
	}
	conn.Close()
	return nil
}
