package ratelimit

import "testing"

func TestAllowNilConfigAlwaysAllows(t *testing.T) {
	l := New()
	for i := 0; i < 5; i++ {
		if !l.Allow("1.2.3.4:1000", nil) {
			t.Fatalf("expected nil config to always allow")
		}
	}
}

func TestAllowEnforcesBurstThenDenies(t *testing.T) {
	l := New()
	cfg := &Config{RequestsPerSecond: 1, Burst: 2}

	allowed := 0
	for i := 0; i < 5; i++ {
		if l.Allow("1.2.3.4:1000", cfg) {
			allowed++
		}
	}
	if allowed != 2 {
		t.Fatalf("expected exactly burst=2 requests allowed immediately, got %d", allowed)
	}
}

func TestAllowTracksClientsIndependently(t *testing.T) {
	l := New()
	cfg := &Config{RequestsPerSecond: 1, Burst: 1}

	if !l.Allow("1.2.3.4:1", cfg) {
		t.Fatalf("first client's first request should be allowed")
	}
	if !l.Allow("5.6.7.8:1", cfg) {
		t.Fatalf("second client should have its own independent budget")
	}
	if l.Allow("1.2.3.4:1", cfg) {
		t.Fatalf("first client's second immediate request should be denied")
	}
}

func TestCleanupResetsOversizedMap(t *testing.T) {
	l := New()
	cfg := &Config{RequestsPerSecond: 1, Burst: 1}
	for i := 0; i < maxTrackedClients+1; i++ {
		l.Allow(ipFor(i), cfg)
	}
	if len(l.limiters) <= maxTrackedClients {
		t.Fatalf("expected the map to exceed maxTrackedClients before Cleanup")
	}
	l.Cleanup()
	if len(l.limiters) != 0 {
		t.Fatalf("expected Cleanup to reset an oversized map, len=%d", len(l.limiters))
	}
}

func ipFor(i int) string {
	return "10.0." + itoa(i/256) + "." + itoa(i%256) + ":1"
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [4]byte
	pos := len(buf)
	for n > 0 {
		pos--
		buf[pos] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[pos:])
}
