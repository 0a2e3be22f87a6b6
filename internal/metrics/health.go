package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Status is the JSON shape returned by /health, grounded on
// pkg/metrics/health.go's HealthStatus.
type Status struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components,omitempty"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime,omitempty"`
}

type componentHealth struct {
	healthy bool
	message string
}

var health = &healthChecker{
	components: make(map[string]componentHealth),
	startTime:  time.Now(),
}

type healthChecker struct {
	mu         sync.RWMutex
	components map[string]componentHealth
	startTime  time.Time
	version    string
}

// SetVersion records the build version reported in health responses.
func SetVersion(version string) {
	health.mu.Lock()
	defer health.mu.Unlock()
	health.version = version
}

// UpdateComponent records the current health of a named component —
// "router", "certstore", "upstream-pool" for this proxy, in place of
// Warren's cluster subsystems.
func UpdateComponent(name string, healthy bool, message string) {
	health.mu.Lock()
	defer health.mu.Unlock()
	health.components[name] = componentHealth{healthy: healthy, message: message}
}

// GetHealth returns the aggregate health: unhealthy if any registered
// component reports unhealthy.
func GetHealth() Status {
	health.mu.RLock()
	defer health.mu.RUnlock()

	status := "healthy"
	components := make(map[string]string, len(health.components))
	for name, c := range health.components {
		if !c.healthy {
			status = "unhealthy"
			components[name] = "unhealthy: " + c.message
		} else {
			components[name] = "healthy"
		}
	}

	return Status{
		Status:     status,
		Timestamp:  time.Now(),
		Components: components,
		Version:    health.version,
		Uptime:     time.Since(health.startTime).String(),
	}
}

// HealthHandler serves GET /health.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := GetHealth()
		w.Header().Set("Content-Type", "application/json")
		code := http.StatusOK
		if status.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	}
}

// LivenessHandler serves GET /livez: always 200 while the process runs.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status": "alive",
			"uptime": time.Since(health.startTime).String(),
		})
	}
}
