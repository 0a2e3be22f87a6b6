/*
Package proxyengine orchestrates one request end to end (spec §4.I):
enforce the HTTPS-redirect gate, route, rewrite (4.D), dispatch through
the Upstream Client Pool (4.H) with retries across the Upstream Group,
and stream the response back — or, for a WebSocket upgrade, hijack both
connections and shuttle raw bytes.

Engine implements http.Handler, so the same instance is handed to both
the HTTP/1.1+HTTP/2 front (net/http.Server) and the HTTP/3 front
(quic-go/http3.Server), matching spec.md's description of the Proxy
Engine as the single place request handling converges regardless of
which front accepted the connection.

Grounded on cuemby-warren's pkg/ingress/proxy.go handleRequest/
proxyRequest (route → select backend → proxy → error-handle), replacing
httputil.NewSingleHostReverseProxy with explicit rewrite+dispatch+retry
so the retry-across-the-group and WebSocket-hijack behavior spec.md
requires have somewhere to live.
*/
package proxyengine

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/google/uuid"

	"github.com/cuemby/rpxy/internal/config"
	"github.com/cuemby/rpxy/internal/inbound"
	"github.com/cuemby/rpxy/internal/lb"
	"github.com/cuemby/rpxy/internal/log"
	"github.com/cuemby/rpxy/internal/metrics"
	"github.com/cuemby/rpxy/internal/middleware"
	"github.com/cuemby/rpxy/internal/perr"
	"github.com/cuemby/rpxy/internal/ratelimit"
	"github.com/cuemby/rpxy/internal/rewrite"
	"github.com/cuemby/rpxy/internal/router"
	"github.com/cuemby/rpxy/internal/upstream"
)

// Engine is the shared request handler for every front end.
type Engine struct {
	idx   atomic.Pointer[router.Index]
	pool  *upstream.Pool
	limit *ratelimit.Limiter

	groupsMu sync.Mutex
	groups   map[*router.Route]*lb.Group

	// GracefulTimeout is set by cmd/rpxy from graceful_timeout. Nothing
	// reads it: cmd/rpxy bounds listener shutdown with the configured
	// value directly, and the engine does not enforce it.
	GracefulTimeout time.Duration

	// AltSvc, when non-empty, is set on every TLS response so clients
	// discover the HTTP/3 listener (spec §4.G). Empty when HTTP/3 is
	// disabled.
	AltSvc string
}

// New builds an Engine with no routes loaded; call Reload before serving.
func New() *Engine {
	e := &Engine{
		pool:   upstream.New(),
		limit:  ratelimit.New(),
		groups: make(map[*router.Route]*lb.Group),
	}
	e.idx.Store(&router.Index{})
	return e
}

// Reload atomically swaps in a freshly built Router Index. In-flight
// requests keep dereferencing the prior index.
func (e *Engine) Reload(idx *router.Index) {
	e.idx.Store(idx)

	e.groupsMu.Lock()
	e.groups = make(map[*router.Route]*lb.Group, len(e.groups))
	e.groupsMu.Unlock()
}

// StartBackgroundLoops runs the engine's periodic maintenance (rate
// limiter map cleanup) until stop is closed.
func (e *Engine) StartBackgroundLoops(stop <-chan struct{}) {
	e.limit.StartCleanupLoop(stop)
}

func (e *Engine) groupFor(route *router.Route) *lb.Group {
	e.groupsMu.Lock()
	defer e.groupsMu.Unlock()
	if g, ok := e.groups[route]; ok {
		return g
	}
	g := lb.NewGroup(route)
	e.groups[route] = g
	return g
}

// ServeHTTP implements http.Handler.
func (e *Engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	in := inbound.FromHTTPRequest(r)

	if err := enforceSNIHostInvariant(in); err != nil {
		e.writeError(w, in, "", "", err)
		return
	}

	if in.TLS != nil && e.AltSvc != "" {
		w.Header().Set("Alt-Svc", e.AltSvc)
	}

	idx := e.idx.Load()
	appID, ok := idx.LookupHost(inbound.NormalizeHost(inbound.HostOnly(in.Host)))
	if !ok {
		if def, hasDefault := idx.DefaultApplication(); hasDefault {
			appID = def
		} else {
			e.writeError(w, in, "", "", perr.New(perr.KindHostNotFound, errors.New("no application matches host")))
			return
		}
	}

	route, err := idx.LookupRoute(appID, in.Path)
	if err != nil {
		e.writeError(w, in, appID, "", err)
		return
	}

	if route.App.TLS != nil && route.App.TLS.HTTPSRedirection && in.TLS == nil {
		redirectToHTTPS(w, r)
		return
	}

	if ok, reason := middleware.Allow(in.RemoteAddr, toAccessControl(route.AccessControl)); !ok {
		metrics.AccessControlRejectionsTotal.WithLabelValues(appID, route.Path).Inc()
		e.writeError(w, in, appID, route.Path, perr.New(perr.KindAccessDenied, errors.New(reason)))
		return
	}

	if !e.limit.Allow(in.RemoteAddr, toRateLimitConfig(route.RateLimit)) {
		metrics.RateLimitRejectionsTotal.WithLabelValues(appID, route.Path).Inc()
		e.writeError(w, in, appID, route.Path, perr.New(perr.KindBadRequest, errors.New("rate limit exceeded")))
		return
	}

	timer := metrics.NewTimer()
	wrapped := wrapResponseWriter(w)

	e.dispatch(r.Context(), wrapped, in, appID, route, requestID)

	timer.ObserveDurationVec(metrics.RequestDuration, appID, route.Path)
	metrics.RequestsTotal.WithLabelValues(appID, route.Path, statusClass(wrapped.status())).Inc()
}

func (e *Engine) dispatch(ctx context.Context, w http.ResponseWriter, in *inbound.Request, appID string, route *router.Route, requestID string) {
	group := e.groupFor(route)
	now := time.Now()

	attempts := 1 + group.Retries()
	retryable := isIdempotentMethod(in.Method) || !requestHasBody(in)
	var lastErr error
	tried := map[*lb.Upstream]bool{}

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 && !retryable {
			// spec §4.I: a non-idempotent method with a request body is
			// only ever dispatched once; its bytes may already be on the
			// wire to the failed upstream, so replaying against another
			// one risks a duplicate side effect.
			break
		}

		u, setCookie := group.Pick(in.Header, now)
		if u == nil || tried[u] {
			break
		}
		tried[u] = true

		if isUpgradeRequest(in) {
			if err := e.dispatchUpgrade(w, in, u.Location); err != nil {
				lastErr = err
				u.RecordFailure(now)
				metrics.UpstreamRetriesTotal.WithLabelValues(appID, route.Path).Inc()
				continue
			}
			u.RecordSuccess()
			return
		}

		outReq, err := rewrite.Forward(ctx, in, route, u.Location)
		if err != nil {
			lastErr = perr.New(perr.KindBadRequest, err)
			break
		}

		upstreamTimer := metrics.NewTimer()
		resp, err := e.pool.Client(u.Location).Do(outReq)
		if err != nil {
			lastErr = classifyDispatchError(err)
			u.RecordFailure(now)
			metrics.UpstreamRetriesTotal.WithLabelValues(appID, route.Path).Inc()
			log.Event(log.WarnLevel).Str("upstream", u.Location.Location).Str("request_id", requestID).Err(err).Msg("upstream dispatch failed")
			continue
		}
		upstreamTimer.ObserveDurationVec(metrics.UpstreamLatency, appID, u.Location.Location)

		u.RecordSuccess()
		if setCookie {
			http.SetCookie(w, &http.Cookie{Name: route.StickyCookieName, Value: u.Location.Location, Path: "/"})
		}
		streamResponse(w, resp)
		return
	}

	if lastErr == nil {
		lastErr = perr.New(perr.KindUpstreamUnavailable, errors.New("no healthy upstream"))
	}
	e.writeError(w, in, appID, route.Path, lastErr)
}

func classifyDispatchError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return perr.New(perr.KindUpstreamTimeout, err)
	}
	return perr.New(perr.KindUpstreamUnavailable, err)
}

// streamResponse copies the upstream response to the client, stripping
// hop-by-hop headers in the reverse direction too.
func streamResponse(w http.ResponseWriter, resp *http.Response) {
	defer resp.Body.Close()

	header := w.Header()
	for k, vv := range resp.Header {
		if isHopByHopResponseHeader(k) {
			continue
		}
		for _, v := range vv {
			header.Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

func isHopByHopResponseHeader(name string) bool {
	switch http.CanonicalHeaderKey(name) {
	case "Connection", "Keep-Alive", "Proxy-Authenticate", "Transfer-Encoding", "Upgrade":
		return true
	}
	return false
}

func (e *Engine) writeError(w http.ResponseWriter, in *inbound.Request, appID, routeName string, err error) {
	var pe *perr.Error
	if !errors.As(err, &pe) {
		pe = perr.New(perr.KindUpstreamUnavailable, err)
	}
	pe = pe.WithContext(appID, routeName, "", in.RemoteAddr)

	log.Event(log.ErrorLevel).
		Str("app", pe.AppID).Str("route", pe.Route).Str("client_addr", pe.ClientAddr).
		Err(pe).Msg("request failed")

	status := pe.Kind.StatusCode()
	if status == 0 {
		// Handshake-level failures have no HTTP response; nothing to write.
		return
	}
	http.Error(w, http.StatusText(status), status)
}

func redirectToHTTPS(w http.ResponseWriter, r *http.Request) {
	target := "https://" + r.Host + r.URL.RequestURI()
	http.Redirect(w, r, target, http.StatusMovedPermanently)
}

// enforceSNIHostInvariant implements spec §4.E/§4.F: over TLS, the
// negotiated SNI must match the Host header's hostname, or the request
// is misdirected (421) rather than silently routed by Host alone.
func enforceSNIHostInvariant(in *inbound.Request) error {
	if in.TLS == nil {
		return nil
	}
	host := inbound.NormalizeHost(inbound.HostOnly(in.Host))
	if host != "" && host != in.TLS.ServerName {
		return perr.New(perr.KindMisdirectedRequest, errors.New("SNI does not match Host header"))
	}
	return nil
}

func isUpgradeRequest(in *inbound.Request) bool {
	return strings.EqualFold(in.Header.Get("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(in.Header.Get("Connection")), "upgrade")
}

// isIdempotentMethod reports whether method may safely be dispatched
// more than once, per RFC 7231 §4.2.2.
func isIdempotentMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete, http.MethodOptions, http.MethodTrace:
		return true
	default:
		return false
	}
}

// requestHasBody reports whether in carries a request body whose bytes
// a retry would need to resend. A nil body or an explicit
// Content-Length: 0 carries nothing, so retrying it is always safe
// regardless of method.
func requestHasBody(in *inbound.Request) bool {
	if in.Body == nil || in.Body == http.NoBody {
		return false
	}
	if cl := in.Header.Get("Content-Length"); cl == "0" {
		return false
	}
	return true
}

func toRateLimitConfig(rl *config.RateLimit) *ratelimit.Config {
	if rl == nil {
		return nil
	}
	return &ratelimit.Config{RequestsPerSecond: rl.RequestsPerSecond, Burst: rl.Burst}
}

func toAccessControl(ac *config.AccessControl) *middleware.AccessControl {
	if ac == nil {
		return nil
	}
	return &middleware.AccessControl{AllowedIPs: ac.AllowedIPs, DeniedIPs: ac.DeniedIPs}
}

func statusClass(code int) string {
	switch {
	case code == 0:
		return "0"
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

// responseWriter wraps http.ResponseWriter with httpsnoop so Hijacker/
// Flusher keep working (required for WebSocket upgrades and streaming)
// while the status code is captured for metrics.
type responseWriter struct {
	http.ResponseWriter
	code *int32
}

func wrapResponseWriter(w http.ResponseWriter) *responseWriter {
	code := new(int32)
	hooks := httpsnoop.Hooks{
		WriteHeader: func(next httpsnoop.WriteHeaderFunc) httpsnoop.WriteHeaderFunc {
			return func(statusCode int) {
				atomic.StoreInt32(code, int32(statusCode))
				next(statusCode)
			}
		},
	}
	return &responseWriter{ResponseWriter: httpsnoop.Wrap(w, hooks), code: code}
}

func (r *responseWriter) status() int {
	c := atomic.LoadInt32(r.code)
	if c == 0 {
		return http.StatusOK
	}
	return int(c)
}
