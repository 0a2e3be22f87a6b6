/*
Package metrics exposes the proxy's Prometheus surface, grounded on
cuemby-warren's pkg/metrics/metrics.go: package-level
GaugeVec/CounterVec/HistogramVec globals registered in init(), plus a
Timer helper and an http.Handler for the admin listener.

Metric names and label sets are specific to this proxy's domain
(requests by app/route/status, upstream latency, certificate expiry,
load-balancer demotions) rather than Warren's cluster/scheduler
surface, but the construction style is identical.
*/
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rpxy_requests_total",
			Help: "Total number of proxied requests by application, route, and response status",
		},
		[]string{"app", "route", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rpxy_request_duration_seconds",
			Help:    "End-to-end request duration in seconds, from accept to response completion",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"app", "route"},
	)

	UpstreamLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rpxy_upstream_latency_seconds",
			Help:    "Time spent waiting on the upstream response, per dispatch attempt",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"app", "upstream"},
	)

	ActiveConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rpxy_active_connections",
			Help: "Currently open client connections by front end protocol",
		},
		[]string{"proto"},
	)

	CertificateExpirySeconds = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rpxy_certificate_expiry_seconds",
			Help: "Seconds until certificate expiry, by server name",
		},
		[]string{"server_name"},
	)

	UpstreamDemotionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rpxy_upstream_demotions_total",
			Help: "Total number of times an upstream was demoted by the circuit breaker",
		},
		[]string{"app", "upstream"},
	)

	UpstreamRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rpxy_upstream_retries_total",
			Help: "Total number of retried dispatch attempts after an upstream failure",
		},
		[]string{"app", "route"},
	)

	RateLimitRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rpxy_rate_limit_rejections_total",
			Help: "Total number of requests rejected by the per-client rate limiter",
		},
		[]string{"app", "route"},
	)

	ACMERenewalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rpxy_acme_renewals_total",
			Help: "Total number of ACME certificate renewal attempts by result",
		},
		[]string{"result"},
	)

	WebSocketFramesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rpxy_websocket_frames_total",
			Help: "Total number of WebSocket frames observed on upgraded connections, by frame type",
		},
		[]string{"type"},
	)

	AccessControlRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rpxy_access_control_rejections_total",
			Help: "Total number of requests rejected by a route's IP access control list",
		},
		[]string{"app", "route"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		UpstreamLatency,
		ActiveConnections,
		CertificateExpirySeconds,
		UpstreamDemotionsTotal,
		UpstreamRetriesTotal,
		RateLimitRejectionsTotal,
		ACMERenewalsTotal,
		WebSocketFramesTotal,
		AccessControlRejectionsTotal,
	)
}

// Handler returns the Prometheus scrape handler, mounted on the
// internal admin listener by cmd/rpxy, never on the public front end.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer times one operation and observes it to a histogram on completion.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDurationVec records the elapsed time to a labeled histogram.
func (t *Timer) ObserveDurationVec(h prometheus.ObserverVec, labels ...string) {
	h.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
