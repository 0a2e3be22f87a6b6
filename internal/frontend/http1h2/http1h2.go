/*
Package http1h2 is the HTTP/1.1 & HTTP/2 front of spec §4.F: a
net/http.Server serving both the plaintext listener (listen_port) and
the TLS listener (listen_port_tls), with HTTP/2 configured explicitly
via golang.org/x/net/http2.ConfigureServer rather than net/http's
implicit h2 support, so the MaxConcurrentStreams/MaxReadFrameSize
tuning spec §4.F names is actually reachable.

Grounded on cuemby-warren's pkg/ingress/proxy.go Start, which builds one
*http.Server per listener and calls ListenAndServeTLS directly; this
front splits that into two constructors (plain and TLS) since this
proxy, unlike Warren, serves a plaintext listener at all (for the
HTTPS-redirect gate spec §4.I describes) in addition to the TLS one.
*/
package http1h2

import (
	"context"
	"crypto/tls"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/net/http2"

	"github.com/cuemby/rpxy/internal/config"
)

const (
	defaultMaxConcurrentStreams = 250
	defaultMaxReadFrameSize     = 1 << 20 // 1 MiB
)

// NewPlainServer builds the HTTP/1.1-only listener used for the
// HTTPS-redirect gate and for applications that never enable TLS.
func NewPlainServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              listenAddr(cfg.ListenPort),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       idleTimeout(cfg),
	}
}

// NewTLSServer builds the TLS listener with HTTP/2 explicitly
// configured. tlsConfig is the tlsaccept-built config carrying the
// Certificate Store's GetCertificate callback.
func NewTLSServer(cfg *config.Config, tlsConfig *tls.Config, handler http.Handler) *http.Server {
	srv := &http.Server{
		Addr:              listenAddr(cfg.ListenPortTLS),
		Handler:           handler,
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       idleTimeout(cfg),
	}

	h2Conf := &http2.Server{
		MaxConcurrentStreams: maxConcurrentStreams(cfg),
		MaxReadFrameSize:     uint32(defaultMaxReadFrameSize),
		IdleTimeout:          idleTimeout(cfg),
	}
	// ConfigureServer registers h2 support and appends "h2" to
	// TLSConfig.NextProtos if it is not already present; tlsaccept
	// already lists it explicitly, so this is a safe no-op there.
	if err := http2.ConfigureServer(srv, h2Conf); err != nil {
		panic("http1h2: failed to configure HTTP/2: " + err.Error())
	}
	return srv
}

// Shutdown gracefully drains srv, bounded by the configured
// graceful_timeout, per spec §4.I.
func Shutdown(ctx context.Context, srv *http.Server, graceful time.Duration) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, graceful)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func maxConcurrentStreams(cfg *config.Config) uint32 {
	if cfg.MaxConcurrentStreams <= 0 {
		return defaultMaxConcurrentStreams
	}
	return uint32(cfg.MaxConcurrentStreams)
}

func idleTimeout(cfg *config.Config) time.Duration {
	if cfg.KeepaliveTimeout <= 0 {
		return 120 * time.Second
	}
	return cfg.KeepaliveTimeout
}

func listenAddr(port int) string {
	if port <= 0 {
		return ""
	}
	return ":" + strconv.Itoa(port)
}
