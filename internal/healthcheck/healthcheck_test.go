package healthcheck

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPCheckerHealthyEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	checker := NewHTTPChecker(srv.URL)
	result := checker.Check(context.Background())
	if !result.Healthy {
		t.Fatalf("expected healthy result, got %+v", result)
	}
}

func TestHTTPCheckerUnhealthyStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	checker := NewHTTPChecker(srv.URL)
	result := checker.Check(context.Background())
	if result.Healthy {
		t.Fatalf("expected unhealthy result for a 500 response")
	}
}

func TestHTTPCheckerConnectionRefused(t *testing.T) {
	checker := NewHTTPChecker("http://127.0.0.1:1")
	result := checker.Check(context.Background())
	if result.Healthy {
		t.Fatalf("expected unhealthy result for a connection failure")
	}
}

func TestTCPCheckerReachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unexpected listener error: %v", err)
	}
	defer ln.Close()

	checker := NewTCPChecker(ln.Addr().String())
	result := checker.Check(context.Background())
	if !result.Healthy {
		t.Fatalf("expected healthy result for a reachable listener")
	}
}

func TestTCPCheckerUnreachable(t *testing.T) {
	checker := NewTCPChecker("127.0.0.1:1")
	result := checker.Check(context.Background())
	if result.Healthy {
		t.Fatalf("expected unhealthy result for an unreachable address")
	}
}
