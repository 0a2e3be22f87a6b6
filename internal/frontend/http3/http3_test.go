package http3

import (
	"crypto/tls"
	"net/http"
	"testing"

	"github.com/cuemby/rpxy/internal/config"
)

func TestNewSetsH3ALPNAndAddr(t *testing.T) {
	cfg := &config.Config{ListenPortH3: 8443}
	tlsConfig := &tls.Config{NextProtos: []string{"h2", "http/1.1"}}

	srv := New(cfg, tlsConfig, http.NotFoundHandler())

	if srv.Addr != ":8443" {
		t.Errorf("Addr = %q, want :8443", srv.Addr)
	}
	if len(srv.TLSConfig.NextProtos) != 1 || srv.TLSConfig.NextProtos[0] != "h3" {
		t.Errorf("NextProtos = %v, want [h3]", srv.TLSConfig.NextProtos)
	}
	if tlsConfig.NextProtos[0] == "h3" {
		t.Errorf("expected the original tls.Config to be left untouched (Clone, not mutate)")
	}
}

func TestAltSvcValue(t *testing.T) {
	got := AltSvcValue(8443)
	want := `h3=":8443"; ma=86400`
	if got != want {
		t.Errorf("AltSvcValue(8443) = %q, want %q", got, want)
	}
}
