package upstream

import (
	"testing"

	"github.com/cuemby/rpxy/internal/config"
)

func TestClientCachesByKey(t *testing.T) {
	p := New()
	up := &config.UpstreamLocation{Location: "backend.local:80"}

	c1 := p.Client(up)
	c2 := p.Client(up)
	if c1 != c2 {
		t.Fatalf("expected the same cached client for identical upstream locations")
	}
}

func TestClientDistinguishesTLSAndH2C(t *testing.T) {
	p := New()
	plain := p.Client(&config.UpstreamLocation{Location: "backend.local:80"})
	tlsClient := p.Client(&config.UpstreamLocation{Location: "backend.local:80", TLS: true})
	h2c := p.Client(&config.UpstreamLocation{Location: "backend.local:80", H2C: true})

	if plain == tlsClient {
		t.Errorf("expected distinct clients for plaintext vs TLS upstreams sharing an authority")
	}
	if plain == h2c {
		t.Errorf("expected distinct clients for plaintext vs h2c upstreams sharing an authority")
	}
}

func TestSchemeReflectsTLS(t *testing.T) {
	if got := Scheme(&config.UpstreamLocation{Location: "b:1", TLS: true}); got != "https" {
		t.Errorf("Scheme(TLS) = %q, want https", got)
	}
	if got := Scheme(&config.UpstreamLocation{Location: "b:1"}); got != "http" {
		t.Errorf("Scheme(plain) = %q, want http", got)
	}
}
