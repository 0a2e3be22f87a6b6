package metrics

import "time"

// Sampler is implemented by internal/certstore.Store (certificate
// expiry). Load-balancer demotions are not sampled: they are counted at
// the point of failure via UpstreamDemotionsTotal.
type Sampler interface {
	// SampleCertificateExpiry reports seconds-until-expiry per server name.
	SampleCertificateExpiry() map[string]float64
}

// Collector periodically samples slowly-changing state (certificate
// expiry) into gauges, grounded on pkg/metrics/collector.go's
// ticker-driven Start/Stop/collect shape.
type Collector struct {
	sampler Sampler
	stopCh  chan struct{}
}

// NewCollector builds a Collector over sampler.
func NewCollector(sampler Sampler) *Collector {
	return &Collector{sampler: sampler, stopCh: make(chan struct{})}
}

// Start begins sampling every 15 seconds, matching the teacher's cadence.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	for serverName, seconds := range c.sampler.SampleCertificateExpiry() {
		CertificateExpirySeconds.WithLabelValues(serverName).Set(seconds)
	}
}
