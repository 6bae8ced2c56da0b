// Package transport is the egress HTTP layer (spec §2 component 1): it
// issues unary and streaming requests to the upstream, honors a
// process-wide proxy, prefers IPv4 with IPv6 fallback, and keeps
// connections alive via a pooled uTLS/http2 round tripper. Grounded on the
// teacher's transport/transport.go Manager, generalized from a
// per-account proxy pool (the teacher lets each OAuth account carry its
// own proxy) to the single process-wide proxy this spec calls for.
package transport

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/http2"
)

// Manager owns the single shared round tripper for the process and a
// last-used timestamp touched on every client hand-out; RunCleanup closes
// idle connections on a fixed ticker without consulting it.
type Manager struct {
	client         *http.Client
	requestTimeout time.Duration

	mu       sync.Mutex
	lastUsed time.Time
}

// NewManager builds a Manager. proxyCfg may be nil for a direct connection.
func NewManager(proxyCfg *ProxyConfig, requestTimeout time.Duration) *Manager {
	rt := buildRoundTripper(proxyCfg)
	return &Manager{
		client:         &http.Client{Transport: rt, Timeout: requestTimeout},
		requestTimeout: requestTimeout,
		lastUsed:       time.Now(),
	}
}

// Client returns the shared *http.Client for unary calls.
func (m *Manager) Client() *http.Client {
	m.touch()
	return m.client
}

// StreamClient returns an *http.Client with no response timeout, suitable
// for long-lived SSE reads; the transport itself is shared with Client.
func (m *Manager) StreamClient() *http.Client {
	m.touch()
	return &http.Client{Transport: m.client.Transport}
}

func (m *Manager) touch() {
	m.mu.Lock()
	m.lastUsed = time.Now()
	m.mu.Unlock()
}

// RunCleanup periodically closes idle connections; blocks until ctx is
// canceled, grounded on the teacher's Manager.RunCleanup shape.
func (m *Manager) RunCleanup(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if t, ok := m.client.Transport.(interface{ CloseIdleConnections() }); ok {
				t.CloseIdleConnections()
			}
		}
	}
}

// Close releases pooled connections.
func (m *Manager) Close() {
	if t, ok := m.client.Transport.(interface{ CloseIdleConnections() }); ok {
		t.CloseIdleConnections()
	}
}

func buildRoundTripper(proxyCfg *ProxyConfig) http.RoundTripper {
	if proxyCfg != nil {
		return &http.Transport{
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     5 * time.Minute,
			DialTLSContext:      proxyDialer(proxyCfg),
		}
	}
	return &http2.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
			return dialUTLS(ctx, network, addr)
		},
	}
}
