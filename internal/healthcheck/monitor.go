package healthcheck

import (
	"context"
	"time"

	"github.com/cuemby/rpxy/internal/lb"
)

// Target pairs one lb.Upstream with the checker that probes it.
type Target struct {
	Upstream *lb.Upstream
	Checker  Checker
}

// Monitor runs every Target's checker on Interval and feeds the result
// into the upstream's circuit breaker (lb.Upstream.RecordSuccess/
// RecordFailure), giving the passive dispatch-failure counter an active
// out-of-band signal — an upstream that has gone quiet (no live
// traffic) still gets demoted if it stops answering probes.
type Monitor struct {
	Interval time.Duration
	Timeout  time.Duration
	targets  []Target
	stopCh   chan struct{}
}

// NewMonitor builds a Monitor over targets.
func NewMonitor(targets []Target, interval, timeout time.Duration) *Monitor {
	return &Monitor{Interval: interval, Timeout: timeout, targets: targets, stopCh: make(chan struct{})}
}

// Start begins probing in a background goroutine.
func (m *Monitor) Start() {
	ticker := time.NewTicker(m.Interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.probeAll()
			case <-m.stopCh:
				return
			}
		}
	}()
}

// Stop halts probing.
func (m *Monitor) Stop() {
	close(m.stopCh)
}

func (m *Monitor) probeAll() {
	now := time.Now()
	for _, t := range m.targets {
		ctx, cancel := context.WithTimeout(context.Background(), m.Timeout)
		result := t.Checker.Check(ctx)
		cancel()

		if result.Healthy {
			t.Upstream.RecordSuccess()
		} else {
			t.Upstream.RecordFailure(now)
		}
	}
}
