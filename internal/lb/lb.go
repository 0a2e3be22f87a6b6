/*
Package lb implements the per-Upstream-Group load balancer of spec
§4.C: round-robin (default), random, and sticky-cookie policies over a
set of Upstream Locations, each carrying its own circuit-breaker state.

All hot-path state is per-Upstream atomics — no group-wide mutex — so
concurrent requests against the same group never contend (spec §5).
*/
package lb

import (
	"math/rand/v2"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cuemby/rpxy/internal/config"
	"github.com/cuemby/rpxy/internal/metrics"
	"github.com/cuemby/rpxy/internal/router"
)

const (
	// failureThreshold is the number of consecutive transport errors
	// before an Upstream is demoted (spec §4.C). No time window applies:
	// the count is reset only by a success or by a demotion.
	failureThreshold = 3

	baseCooldown = 1 * time.Second
	maxCooldown  = 60 * time.Second
)

// Upstream wraps a config.UpstreamLocation with circuit-breaker state.
type Upstream struct {
	Location *config.UpstreamLocation

	// appID labels rpxy_upstream_demotions_total; it plays no role in
	// load-balancing or health.
	appID string

	consecutiveFailures atomic.Int32
	demotions           atomic.Int32
	coolUntilUnixNano   atomic.Int64
}

// Healthy reports whether the cool-off period (if any) has elapsed.
func (u *Upstream) Healthy(now time.Time) bool {
	return now.UnixNano() >= u.coolUntilUnixNano.Load()
}

// RecordSuccess resets the circuit breaker for this upstream.
func (u *Upstream) RecordSuccess() {
	u.consecutiveFailures.Store(0)
	u.demotions.Store(0)
	u.coolUntilUnixNano.Store(0)
}

// RecordFailure registers one transport-level failure, demoting the
// upstream with exponential back-off once failureThreshold consecutive
// failures accumulate.
func (u *Upstream) RecordFailure(now time.Time) {
	if u.consecutiveFailures.Add(1) < failureThreshold {
		return
	}
	u.consecutiveFailures.Store(0)
	demotion := u.demotions.Add(1)
	metrics.UpstreamDemotionsTotal.WithLabelValues(u.appID, u.Location.Location).Inc()
	cooldown := baseCooldown << uint(demotion-1)
	if cooldown > maxCooldown || cooldown <= 0 {
		cooldown = maxCooldown
	}
	u.coolUntilUnixNano.Store(now.Add(cooldown).UnixNano())
}

// Group is the runtime load-balancer state for one Route's Upstream Group.
type Group struct {
	Upstreams        []*Upstream
	Policy           string
	StickyCookieName string
	MaxRetries       int

	cursor atomic.Uint64
}

// NewGroup builds load-balancer state for a resolved route.
func NewGroup(route *router.Route) *Group {
	ups := make([]*Upstream, len(route.Upstream))
	for i, loc := range route.Upstream {
		ups[i] = &Upstream{Location: loc, appID: route.AppID}
	}
	return &Group{
		Upstreams:        ups,
		Policy:           route.LoadBalance,
		StickyCookieName: route.StickyCookieName,
		MaxRetries:       route.MaxRetries,
	}
}

// healthySet returns the currently healthy upstreams, or every
// upstream if none are healthy — "all demoted" falls back to retrying
// everyone rather than black-holing traffic (spec §4.C).
func (g *Group) healthySet(now time.Time) []*Upstream {
	healthy := make([]*Upstream, 0, len(g.Upstreams))
	for _, u := range g.Upstreams {
		if u.Healthy(now) {
			healthy = append(healthy, u)
		}
	}
	if len(healthy) == 0 {
		return g.Upstreams
	}
	return healthy
}

// Pick selects an upstream for the given inbound request header
// according to the group's policy. header is the inbound request's
// Cookie-bearing headers (nil when the caller has none to offer, e.g.
// unit tests exercising non-sticky policies). stickySet is true
// only when the sticky policy chose a fresh upstream and the caller
// must set the session cookie on the response.
func (g *Group) Pick(header http.Header, now time.Time) (u *Upstream, stickySet bool) {
	healthy := g.healthySet(now)
	if len(healthy) == 0 {
		return nil, false
	}

	switch g.Policy {
	case config.LoadBalanceRandom:
		// Weighted pick; a weight of zero or less counts as 1.
		total := 0
		for _, u := range healthy {
			total += max(u.Location.Weight, 1)
		}
		n := rand.IntN(total)
		for _, u := range healthy {
			if n -= max(u.Location.Weight, 1); n < 0 {
				return u, false
			}
		}
		return healthy[len(healthy)-1], false

	case config.LoadBalanceSticky:
		if header != nil {
			if c, err := (&http.Request{Header: header}).Cookie(g.StickyCookieName); err == nil {
				for _, u := range healthy {
					if u.Location.Location == c.Value {
						return u, false
					}
				}
			}
		}
		picked := g.roundRobin(healthy)
		return picked, true

	default: // round_robin
		return g.roundRobin(healthy), false
	}
}

func (g *Group) roundRobin(healthy []*Upstream) *Upstream {
	idx := g.cursor.Add(1) - 1
	return healthy[idx%uint64(len(healthy))]
}

// Retries returns how many additional upstreams a failed dispatch may
// try, per spec §4.I: min(group size, max_retries).
func (g *Group) Retries() int {
	if g.MaxRetries > len(g.Upstreams) {
		return len(g.Upstreams)
	}
	return g.MaxRetries
}
