package proxyengine

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cuemby/rpxy/internal/config"
	"github.com/cuemby/rpxy/internal/router"
)

func buildTestEngine(t *testing.T, backend *httptest.Server) *Engine {
	t.Helper()
	cfg := &config.Config{
		Apps: map[string]*config.Application{
			"test": {
				ID:         "test",
				ServerName: "example.com",
				Routes: []*config.Route{
					{
						Path:        "",
						LoadBalance: config.LoadBalanceRoundRobin,
						Upstream: []*config.UpstreamLocation{
							{Location: backend.Listener.Addr().String()},
						},
					},
				},
			},
		},
	}
	idx, err := router.Build(cfg)
	if err != nil {
		t.Fatalf("router.Build: %v", err)
	}
	e := New()
	e.Reload(idx)
	return e
}

func TestServeHTTPRoutesToUpstream(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-From-Backend", "yes")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("hello"))
	}))
	defer backend.Close()

	e := buildTestEngine(t, backend)

	req := httptest.NewRequest(http.MethodGet, "http://example.com/anything", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "hello" {
		t.Errorf("body = %q, want %q", rec.Body.String(), "hello")
	}
	if rec.Header().Get("X-From-Backend") != "yes" {
		t.Errorf("expected backend header to be forwarded")
	}
}

func TestServeHTTPUnknownHostReturns404(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer backend.Close()

	e := buildTestEngine(t, backend)

	req := httptest.NewRequest(http.MethodGet, "http://unknown.invalid/", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestServeHTTPRejectsSNIHostMismatch(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer backend.Close()

	e := buildTestEngine(t, backend)

	req := httptest.NewRequest(http.MethodGet, "https://example.com/", nil)
	req.TLS = &tls.ConnectionState{ServerName: "evil.com"}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusMisdirectedRequest {
		t.Errorf("status = %d, want 421", rec.Code)
	}
}

func TestServeHTTPAllUpstreamsDownReturns502(t *testing.T) {
	cfg := &config.Config{
		Apps: map[string]*config.Application{
			"test": {
				ID:         "test",
				ServerName: "example.com",
				Routes: []*config.Route{
					{
						Path:        "",
						LoadBalance: config.LoadBalanceRoundRobin,
						Upstream: []*config.UpstreamLocation{
							{Location: "127.0.0.1:1"},
						},
					},
				},
			},
		},
	}
	idx, err := router.Build(cfg)
	if err != nil {
		t.Fatalf("router.Build: %v", err)
	}
	e := New()
	e.Reload(idx)

	req := httptest.NewRequest(http.MethodGet, "http://example.com/", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
}

func TestServeHTTPStickyCookiePinsReturningClient(t *testing.T) {
	backendA := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("a"))
	}))
	defer backendA.Close()
	backendB := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("b"))
	}))
	defer backendB.Close()

	cfg := &config.Config{
		Apps: map[string]*config.Application{
			"test": {
				ID:         "test",
				ServerName: "example.com",
				Routes: []*config.Route{
					{
						Path:        "",
						LoadBalance: config.LoadBalanceSticky,
						Upstream: []*config.UpstreamLocation{
							{Location: backendA.Listener.Addr().String()},
							{Location: backendB.Listener.Addr().String()},
						},
					},
				},
			},
		},
	}
	idx, err := router.Build(cfg)
	if err != nil {
		t.Fatalf("router.Build: %v", err)
	}
	e := New()
	e.Reload(idx)

	first := httptest.NewRequest(http.MethodGet, "http://example.com/", nil)
	firstRec := httptest.NewRecorder()
	e.ServeHTTP(firstRec, first)

	cookies := firstRec.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("expected the sticky cookie to be set on a cache miss, got %d cookies", len(cookies))
	}

	for i := 0; i < 5; i++ {
		again := httptest.NewRequest(http.MethodGet, "http://example.com/", nil)
		again.AddCookie(cookies[0])
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, again)

		if rec.Body.String() != firstRec.Body.String() {
			t.Fatalf("sticky cookie did not pin the upstream: first=%q got=%q", firstRec.Body.String(), rec.Body.String())
		}
		if len(rec.Result().Cookies()) != 0 {
			t.Errorf("should not re-set the sticky cookie once it already matches")
		}
	}
}
