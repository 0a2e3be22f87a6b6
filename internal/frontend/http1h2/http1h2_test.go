package http1h2

import (
	"crypto/tls"
	"net/http"
	"testing"

	"github.com/cuemby/rpxy/internal/config"
)

func TestNewPlainServerUsesListenPort(t *testing.T) {
	cfg := &config.Config{ListenPort: 8080}
	srv := NewPlainServer(cfg, http.NotFoundHandler())
	if srv.Addr != ":8080" {
		t.Errorf("Addr = %q, want :8080", srv.Addr)
	}
}

func TestNewTLSServerConfiguresHTTP2(t *testing.T) {
	cfg := &config.Config{ListenPortTLS: 8443, MaxConcurrentStreams: 500}
	tlsConfig := &tls.Config{NextProtos: []string{"h2", "http/1.1"}}
	srv := NewTLSServer(cfg, tlsConfig, http.NotFoundHandler())

	if srv.Addr != ":8443" {
		t.Errorf("Addr = %q, want :8443", srv.Addr)
	}
	if srv.TLSConfig != tlsConfig {
		t.Errorf("expected the supplied tls.Config to be reused verbatim")
	}
	found := false
	for _, proto := range srv.TLSConfig.NextProtos {
		if proto == "h2" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected NextProtos to include h2 after ConfigureServer, got %v", srv.TLSConfig.NextProtos)
	}
}

func TestMaxConcurrentStreamsDefault(t *testing.T) {
	if got := maxConcurrentStreams(&config.Config{}); got != defaultMaxConcurrentStreams {
		t.Errorf("maxConcurrentStreams(default) = %d, want %d", got, defaultMaxConcurrentStreams)
	}
}
