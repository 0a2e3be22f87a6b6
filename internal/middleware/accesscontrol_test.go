package middleware

import "testing"

func TestAllowNilConfigAllows(t *testing.T) {
	ok, _ := Allow("203.0.113.5:1234", nil)
	if !ok {
		t.Fatal("expected nil config to allow")
	}
}

func TestAllowDenyTakesPrecedence(t *testing.T) {
	cfg := &AccessControl{
		AllowedIPs: []string{"203.0.113.0/24"},
		DeniedIPs:  []string{"203.0.113.5"},
	}
	ok, reason := Allow("203.0.113.5:1234", cfg)
	if ok {
		t.Fatalf("expected deny to win, reason=%q", reason)
	}
}

func TestAllowListRejectsNonMember(t *testing.T) {
	cfg := &AccessControl{AllowedIPs: []string{"203.0.113.0/24"}}
	ok, _ := Allow("198.51.100.1:1234", cfg)
	if ok {
		t.Fatal("expected client outside allow list to be denied")
	}
}

func TestAllowListAcceptsMember(t *testing.T) {
	cfg := &AccessControl{AllowedIPs: []string{"203.0.113.0/24"}}
	ok, _ := Allow("203.0.113.9:1234", cfg)
	if !ok {
		t.Fatal("expected client inside allow list to be allowed")
	}
}

func TestAllowWithNoListsAllows(t *testing.T) {
	cfg := &AccessControl{}
	ok, _ := Allow("198.51.100.1:1234", cfg)
	if !ok {
		t.Fatal("expected no lists to allow everything")
	}
}

func TestAllowBareIPDenyEntry(t *testing.T) {
	cfg := &AccessControl{DeniedIPs: []string{"198.51.100.1"}}
	ok, _ := Allow("198.51.100.1:9999", cfg)
	if ok {
		t.Fatal("expected bare-IP deny entry to match")
	}
}

func TestAllowInvalidClientAddrDenied(t *testing.T) {
	cfg := &AccessControl{}
	ok, reason := Allow("not-an-ip", cfg)
	if ok {
		t.Fatalf("expected invalid address to be denied, reason=%q", reason)
	}
}
