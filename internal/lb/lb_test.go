package lb

import (
	"net/http"
	"testing"
	"time"

	"github.com/cuemby/rpxy/internal/config"
	"github.com/cuemby/rpxy/internal/router"
)

func testGroup(policy string) *Group {
	route := &router.Route{
		LoadBalance:      policy,
		StickyCookieName: config.DefaultStickyCookieName,
		MaxRetries:       3,
		Upstream: []*config.UpstreamLocation{
			{Location: "a:1"},
			{Location: "b:1"},
		},
	}
	return NewGroup(route)
}

func TestRoundRobinAlternates(t *testing.T) {
	g := testGroup(config.LoadBalanceRoundRobin)
	now := time.Now()

	var picks []string
	for i := 0; i < 4; i++ {
		u, _ := g.Pick(nil, now)
		picks = append(picks, u.Location.Location)
	}

	for i := 2; i < len(picks); i++ {
		if picks[i] != picks[i-2] {
			t.Fatalf("round robin not periodic: %v", picks)
		}
	}
	if picks[0] == picks[1] {
		t.Fatalf("round robin did not alternate: %v", picks)
	}
}

func TestDemotionSkipsUpstreamUntilAllDemoted(t *testing.T) {
	g := testGroup(config.LoadBalanceRoundRobin)
	now := time.Now()

	a := g.Upstreams[0]
	for i := 0; i < failureThreshold; i++ {
		a.RecordFailure(now)
	}
	if a.Healthy(now) {
		t.Fatalf("expected upstream a to be demoted")
	}

	for i := 0; i < 4; i++ {
		u, _ := g.Pick(nil, now)
		if u.Location.Location != "b:1" {
			t.Fatalf("expected only b:1 to be picked while a is demoted, got %s", u.Location.Location)
		}
	}

	// Demote b too: all-demoted must fall back to retrying everyone.
	b := g.Upstreams[1]
	for i := 0; i < failureThreshold; i++ {
		b.RecordFailure(now)
	}
	seen := map[string]bool{}
	for i := 0; i < 10; i++ {
		u, _ := g.Pick(nil, now)
		seen[u.Location.Location] = true
	}
	if len(seen) != 2 {
		t.Fatalf("expected both upstreams reachable when all demoted, saw %v", seen)
	}
}

func TestStickyCookieFallsThroughOnMiss(t *testing.T) {
	g := testGroup(config.LoadBalanceSticky)
	now := time.Now()

	req, _ := http.NewRequest(http.MethodGet, "/", nil)
	u, setCookie := g.Pick(req.Header, now)
	if u == nil {
		t.Fatalf("expected a pick")
	}
	if !setCookie {
		t.Fatalf("expected the response to set the sticky cookie on a cache miss")
	}

	req2, _ := http.NewRequest(http.MethodGet, "/", nil)
	req2.AddCookie(&http.Cookie{Name: g.StickyCookieName, Value: u.Location.Location})
	u2, setCookie2 := g.Pick(req2.Header, now)
	if u2.Location.Location != u.Location.Location {
		t.Fatalf("sticky cookie did not pin the same upstream")
	}
	if setCookie2 {
		t.Fatalf("should not re-set the cookie once it already matches")
	}
}
