package rewrite

import (
	"context"
	"net/http"
	"testing"

	"github.com/cuemby/rpxy/internal/config"
	"github.com/cuemby/rpxy/internal/inbound"
	"github.com/cuemby/rpxy/internal/router"
)

func testInbound() *inbound.Request {
	h := make(http.Header)
	h.Set("Connection", "close")
	h.Set("X-Forwarded-For", "10.0.0.1")
	return &inbound.Request{
		Method:     http.MethodGet,
		Scheme:     "https",
		Host:       "app1.example.com",
		Path:       "/p/q/extra",
		RawQuery:   "a=1&b=2",
		Header:     h,
		RemoteAddr: "203.0.113.7:54321",
	}
}

func TestForwardReplacesPathAndPreservesQuery(t *testing.T) {
	in := testInbound()
	route := &router.Route{Path: "/p/q", ReplacePath: "/r", KeepOriginalHost: false}
	up := &config.UpstreamLocation{Location: "backend.local:80"}

	out, err := Forward(context.Background(), in, route, up)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if out.URL.Path != "/r/extra" {
		t.Errorf("path = %q, want /r/extra", out.URL.Path)
	}
	if out.URL.RawQuery != "a=1&b=2" {
		t.Errorf("query = %q, want a=1&b=2", out.URL.RawQuery)
	}
	if out.Host != "backend.local:80" {
		t.Errorf("host = %q, want backend.local:80", out.Host)
	}
}

func TestForwardReplacePathWholesaleOnDefaultRoute(t *testing.T) {
	in := testInbound()
	in.Path = "/anything"
	route := &router.Route{Path: "", ReplacePath: "/fixed"}
	up := &config.UpstreamLocation{Location: "backend.local:80"}

	out, err := Forward(context.Background(), in, route, up)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if out.URL.Path != "/fixed" {
		t.Errorf("path = %q, want /fixed", out.URL.Path)
	}
}

func TestForwardStripsHopByHopHeaders(t *testing.T) {
	in := testInbound()
	in.Header.Set("Upgrade", "h2c")
	route := &router.Route{Path: "/p/q"}
	up := &config.UpstreamLocation{Location: "backend.local:80"}

	out, err := Forward(context.Background(), in, route, up)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	for _, h := range []string{"Connection", "Upgrade"} {
		if out.Header.Get(h) != "" {
			t.Errorf("hop-by-hop header %q leaked into forwarded request", h)
		}
	}
}

func TestForwardKeepsWebsocketHandshakeHeaders(t *testing.T) {
	in := testInbound()
	in.Header.Set("Connection", "Upgrade")
	in.Header.Set("Upgrade", "websocket")
	in.Header.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")
	in.Header.Set("Sec-WebSocket-Version", "13")
	route := &router.Route{Path: "/p/q"}
	up := &config.UpstreamLocation{Location: "backend.local:80"}

	out, err := Forward(context.Background(), in, route, up)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if out.Header.Get("Sec-WebSocket-Key") == "" {
		t.Errorf("expected Sec-WebSocket-Key to survive hop-by-hop stripping")
	}
	if out.Header.Get("Sec-WebSocket-Version") == "" {
		t.Errorf("expected Sec-WebSocket-Version to survive hop-by-hop stripping")
	}
}

func TestForwardAppendsXForwardedFor(t *testing.T) {
	in := testInbound()
	route := &router.Route{Path: "/p/q"}
	up := &config.UpstreamLocation{Location: "backend.local:80"}

	out, err := Forward(context.Background(), in, route, up)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	want := "10.0.0.1, 203.0.113.7"
	if got := out.Header.Get("X-Forwarded-For"); got != want {
		t.Errorf("X-Forwarded-For = %q, want %q", got, want)
	}
	if got := out.Header.Get("X-Forwarded-Proto"); got != "https" {
		t.Errorf("X-Forwarded-Proto = %q, want https", got)
	}
	if got := out.Header.Get("X-Real-IP"); got != "203.0.113.7" {
		t.Errorf("X-Real-IP = %q, want 203.0.113.7", got)
	}
}

func TestForwardKeepOriginalHost(t *testing.T) {
	in := testInbound()
	route := &router.Route{Path: "/p/q", KeepOriginalHost: true}
	up := &config.UpstreamLocation{Location: "backend.local:80"}

	out, err := Forward(context.Background(), in, route, up)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if out.Host != "app1.example.com" {
		t.Errorf("Host = %q, want original app1.example.com", out.Host)
	}
}
