/*
Package middleware implements per-route IP access control, checked by
the Proxy Engine immediately before rate limiting (spec §4.I's request
pipeline: invariant check, routing, access control, rate limit,
rewrite, dispatch).

Grounded directly on cuemby-warren's pkg/ingress/middleware.go
CheckAccessControl/matchCIDR: a deny list checked first (deny always
wins), then an optional allow list a client must match if present,
otherwise the request passes.
*/
package middleware

import (
	"net"
	"strings"
)

// AccessControl mirrors a route's optional access_control block.
type AccessControl struct {
	AllowedIPs []string
	DeniedIPs  []string
}

// Allow reports whether clientAddr (host:port or bare host) passes cfg.
// A nil cfg always allows. reason is set only when the request is denied.
func Allow(clientAddr string, cfg *AccessControl) (ok bool, reason string) {
	if cfg == nil {
		return true, ""
	}

	host := clientAddr
	if h, _, err := net.SplitHostPort(clientAddr); err == nil {
		host = h
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false, "invalid client address"
	}

	for _, cidr := range cfg.DeniedIPs {
		if matchCIDR(ip, cidr) {
			return false, "denied by IP filter"
		}
	}

	if len(cfg.AllowedIPs) > 0 {
		for _, cidr := range cfg.AllowedIPs {
			if matchCIDR(ip, cidr) {
				return true, ""
			}
		}
		return false, "not in allow list"
	}

	return true, ""
}

// matchCIDR reports whether ip falls within cidr, which may be a bare
// address (treated as a /32 or /128) or a CIDR range.
func matchCIDR(ip net.IP, cidr string) bool {
	if !strings.Contains(cidr, "/") {
		parsed := net.ParseIP(cidr)
		return parsed != nil && ip.Equal(parsed)
	}
	_, ipNet, err := net.ParseCIDR(cidr)
	if err != nil {
		return false
	}
	return ipNet.Contains(ip)
}
