package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func resetHealth() {
	health = &healthChecker{
		components: make(map[string]componentHealth),
		startTime:  time.Now(),
	}
}

func TestUpdateComponentMarksUnhealthyOverall(t *testing.T) {
	resetHealth()
	UpdateComponent("router", true, "")
	UpdateComponent("certstore", false, "reload failed")

	got := GetHealth()
	if got.Status != "unhealthy" {
		t.Fatalf("Status = %q, want unhealthy", got.Status)
	}
	if got.Components["router"] != "healthy" {
		t.Errorf("router component = %q, want healthy", got.Components["router"])
	}
	if got.Components["certstore"] != "unhealthy: reload failed" {
		t.Errorf("certstore component = %q", got.Components["certstore"])
	}
}

func TestHealthHandlerStatusCode(t *testing.T) {
	resetHealth()
	UpdateComponent("router", true, "")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	HealthHandler()(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var body Status
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body.Status != "healthy" {
		t.Errorf("body status = %q, want healthy", body.Status)
	}
}

func TestHealthHandlerReturns503WhenUnhealthy(t *testing.T) {
	resetHealth()
	UpdateComponent("router", false, "no routes loaded")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	HealthHandler()(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rr.Code)
	}
}
