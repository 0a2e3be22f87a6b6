/*
Package ratelimit implements the per-client-IP request limiter the
Proxy Engine consults before dispatching to an upstream.

Grounded directly on cuemby-warren's pkg/ingress/middleware.go
CheckRateLimit/CleanupRateLimiters: one golang.org/x/time/rate.Limiter
per client IP, created lazily on first sight, with the same "if the map
grows past a cap, drop it and start over" cleanup strategy rather than
tracking last-access times.
*/
package ratelimit

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxTrackedClients bounds the limiter map's size; past this, Cleanup
// resets it rather than tracking per-entry last-seen times.
const maxTrackedClients = 10000

// Config mirrors a route's optional rate_limit block.
type Config struct {
	RequestsPerSecond float64
	Burst             int
}

// Limiter holds one rate.Limiter per client IP.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates an empty Limiter.
func New() *Limiter {
	return &Limiter{limiters: make(map[string]*rate.Limiter)}
}

// Allow reports whether a request from clientAddr (host:port or bare
// host) is within cfg's limit. A nil cfg always allows.
func (l *Limiter) Allow(clientAddr string, cfg *Config) bool {
	if cfg == nil {
		return true
	}
	ip := hostOf(clientAddr)

	l.mu.Lock()
	limiter, ok := l.limiters[ip]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)
		l.limiters[ip] = limiter
	}
	l.mu.Unlock()

	return limiter.Allow()
}

// Cleanup drops the whole limiter map once it grows past
// maxTrackedClients. Call periodically (spec §4.I wires this to a
// ticker alongside the ACME renewal loop).
func (l *Limiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.limiters) > maxTrackedClients {
		l.limiters = make(map[string]*rate.Limiter)
	}
}

// StartCleanupLoop runs Cleanup once an hour until stop is closed.
func (l *Limiter) StartCleanupLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(time.Hour)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.Cleanup()
			case <-stop:
				return
			}
		}
	}()
}

func hostOf(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
