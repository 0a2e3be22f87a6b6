/*
Package upstream implements the Upstream Client Pool of spec §4.H: one
reusable HTTP client per (scheme, authority, negotiated protocol) key,
so repeated dispatches to the same backend reuse connections instead of
dialing fresh ones per request.

Grounded on cuemby-warren's pkg/ingress/proxy.go (it builds one
*http.Client per proxied request via httputil.NewSingleHostReverseProxy,
which this pool replaces with a persistent, keyed pool) and on
golang.org/x/net/http2's explicit Transport configuration, which the
teacher's module graph already carries transitively through net/http's
own h2 support but this proxy promotes to direct, explicit use so h2c
dialing to plaintext backends (spec §4.H) is reachable.
*/
package upstream

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/http2"

	"github.com/cuemby/rpxy/internal/config"
)

// poolKey identifies one reusable client: the backend authority plus
// how we speak to it.
type poolKey struct {
	authority string
	tlsOn     bool
	h2c       bool
}

// Pool is a keyed set of *http.Client, safe for concurrent use.
type Pool struct {
	mu      sync.RWMutex
	clients map[poolKey]*http.Client
}

// New creates an empty Pool.
func New() *Pool {
	return &Pool{clients: make(map[poolKey]*http.Client)}
}

// Client returns the pooled client for up, building and caching one on
// first use. TLS backend server name resolution follows
// server_name_override, falling back to the authority's host, per
// spec §4.H.
func (p *Pool) Client(up *config.UpstreamLocation) *http.Client {
	key := poolKey{authority: up.Location, tlsOn: up.TLS, h2c: up.H2C}

	p.mu.RLock()
	c, ok := p.clients[key]
	p.mu.RUnlock()
	if ok {
		return c
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[key]; ok {
		return c
	}
	c = buildClient(up)
	p.clients[key] = c
	return c
}

func buildClient(up *config.UpstreamLocation) *http.Client {
	serverName := up.ServerNameOverride
	if serverName == "" {
		serverName = hostOnly(up.Location)
	}

	switch {
	case up.H2C:
		// h2c: cleartext HTTP/2, dialed directly without a TLS handshake
		// (spec §4.H — "only when explicitly enabled per upstream").
		transport := &http2.Transport{
			AllowHTTP: true,
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				d := net.Dialer{Timeout: 10 * time.Second}
				return d.DialContext(ctx, network, addr)
			},
		}
		return &http.Client{Transport: transport}

	case up.TLS:
		transport := &http.Transport{
			MaxIdleConnsPerHost: 16,
			IdleConnTimeout:     90 * time.Second,
			TLSClientConfig:     &tls.Config{ServerName: serverName},
		}
		if err := http2.ConfigureTransport(transport); err != nil {
			// ALPN negotiation falls back to HTTP/1.1 over TLS; h2 is an
			// optimization, not a correctness requirement, here.
			_ = err
		}
		return &http.Client{Transport: transport}

	default:
		return &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 16,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
}

func hostOnly(authority string) string {
	host, _, err := net.SplitHostPort(authority)
	if err != nil {
		return authority
	}
	return host
}

// Scheme returns the URL scheme dispatch should use for up.
func Scheme(up *config.UpstreamLocation) string {
	if up.TLS {
		return "https"
	}
	return "http"
}
