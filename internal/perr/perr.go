/*
Package perr defines the proxy's error taxonomy (spec §7). Each kind
carries enough context — application, route, upstream, client address —
to become a structured log event, and maps to exactly one HTTP status
code (or "no response" for handshake-level failures).
*/
package perr

import "fmt"

// Kind identifies one of the fixed error categories from spec §7.
type Kind string

const (
	KindConfig             Kind = "config_error"
	KindTLSHandshake       Kind = "tls_handshake_error"
	KindBadRequest         Kind = "bad_request"
	KindHostNotFound       Kind = "host_not_found"
	KindRouteNotFound      Kind = "route_not_found"
	KindMisdirectedRequest Kind = "misdirected_request"
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	KindUpstreamTimeout    Kind = "upstream_timeout"
	KindBodyTooLarge       Kind = "body_too_large"
	KindUpgradeRejected    Kind = "upgrade_rejected"

	// KindAccessDenied is a supplemented kind (not in the original
	// error table): a route's access_control block rejected the
	// client's IP.
	KindAccessDenied Kind = "access_denied"
)

// StatusCode is the HTTP status spec §7 assigns to each Kind. A zero
// value means "no HTTP response" (the connection is simply closed, as
// for TLS handshake failures).
func (k Kind) StatusCode() int {
	switch k {
	case KindBadRequest:
		return 400
	case KindUpgradeRejected:
		return 400
	case KindHostNotFound, KindRouteNotFound:
		return 404
	case KindMisdirectedRequest:
		return 421
	case KindAccessDenied:
		return 403
	case KindBodyTooLarge:
		return 413
	case KindUpstreamUnavailable:
		return 502
	case KindUpstreamTimeout:
		return 504
	default:
		return 0
	}
}

// Error is a Kind plus the request context spec §7 requires every
// structured error event to carry.
type Error struct {
	Kind       Kind
	AppID      string
	Route      string
	Upstream   string
	ClientAddr string
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an *Error of the given kind wrapping err, with no
// request context attached. Callers on the hot path should prefer
// WithContext once the app/route/upstream are known.
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// WithContext returns a copy of e with the request context fields set.
func (e *Error) WithContext(appID, route, upstream, clientAddr string) *Error {
	cp := *e
	cp.AppID = appID
	cp.Route = route
	cp.Upstream = upstream
	cp.ClientAddr = clientAddr
	return &cp
}
