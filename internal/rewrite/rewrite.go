/*
Package rewrite implements the Request Rewriter of spec §4.D: given an
inbound request, the matched Route, and the chosen Upstream Location,
it produces the *http.Request the Proxy Engine dispatches upstream.

It owns three concerns: hop-by-hop header stripping, authority/Host
rewriting, and the replace_path path substitution — none of which may
leak the original request's header map, since the same inbound.Request
may be retried against a second upstream after a failed dispatch.
*/
package rewrite

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/cuemby/rpxy/internal/config"
	"github.com/cuemby/rpxy/internal/inbound"
	"github.com/cuemby/rpxy/internal/router"
)

// hopByHop lists the headers that are meaningful only for one hop of
// the connection and must never be forwarded (RFC 7230 §6.1).
var hopByHop = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// websocketHeaders survive stripHopByHop even when an inbound Connection
// header names them. The Proxy Engine's upgrade path (spec §4.I) does
// not go through Forward: it builds its own handshake request, with a
// fresh Connection/Upgrade pair, from the inbound headers.
var websocketHeaders = map[string]bool{
	"Sec-Websocket-Key":        true,
	"Sec-Websocket-Version":    true,
	"Sec-Websocket-Protocol":   true,
	"Sec-Websocket-Extensions": true,
}

// Forward builds the outbound request for one dispatch attempt. ctx
// should carry the attempt's deadline/cancellation (spec §4.I retries
// each get their own context derived from the inbound request's).
func Forward(ctx context.Context, in *inbound.Request, route *router.Route, up *config.UpstreamLocation) (*http.Request, error) {
	target := targetURL(in, route, up)

	out, err := http.NewRequestWithContext(ctx, in.Method, target.String(), in.Body)
	if err != nil {
		return nil, err
	}

	out.Header = cloneHeader(in.Header)
	stripHopByHop(out.Header)

	if route.KeepOriginalHost {
		out.Host = in.Host
	} else {
		out.Host = authority(up)
	}

	addForwardingHeaders(out, in)

	return out, nil
}

func targetURL(in *inbound.Request, route *router.Route, up *config.UpstreamLocation) *url.URL {
	scheme := "http"
	if up.TLS {
		scheme = "https"
	}
	return &url.URL{
		Scheme:   scheme,
		Host:     authority(up),
		Path:     rewritePath(in.Path, route),
		RawQuery: in.RawQuery,
	}
}

func authority(up *config.UpstreamLocation) string {
	return up.Location
}

// rewritePath applies replace_path per spec §4.D: when a route names a
// replace_path, everything the path trie matched under route.Path is
// swapped for it, leaving the remainder of the request path (the part
// past the matched pattern) untouched. The query string is carried
// separately in targetURL and is never touched here.
func rewritePath(requestPath string, route *router.Route) string {
	if route.ReplacePath == "" {
		return requestPath
	}
	remainder := strings.TrimPrefix(requestPath, route.Path)
	if remainder == requestPath {
		// Path didn't actually carry the matched prefix (the default
		// route, whose Path is ""): replace wholesale.
		return route.ReplacePath
	}
	if remainder == "" {
		return route.ReplacePath
	}
	if !strings.HasPrefix(remainder, "/") {
		remainder = "/" + remainder
	}
	return strings.TrimSuffix(route.ReplacePath, "/") + remainder
}

func cloneHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, v := range h {
		vv := make([]string, len(v))
		copy(vv, v)
		out[k] = vv
	}
	return out
}

// stripHopByHop removes the standard hop-by-hop set plus any header
// named by an inbound Connection header (RFC 7230 §6.1), preserving
// the WebSocket handshake headers the Upgrade path still needs.
func stripHopByHop(h http.Header) {
	if conn := h.Get("Connection"); conn != "" {
		for _, name := range strings.Split(conn, ",") {
			name = strings.TrimSpace(name)
			if name != "" && !websocketHeaders[http.CanonicalHeaderKey(name)] {
				h.Del(name)
			}
		}
	}
	for _, name := range hopByHop {
		if websocketHeaders[http.CanonicalHeaderKey(name)] {
			continue
		}
		h.Del(name)
	}
}

// addForwardingHeaders sets the four client-identity headers spec
// §4.D requires, appending to any existing X-Forwarded-For chain
// rather than overwriting it, since the proxy may itself sit behind
// another proxy.
func addForwardingHeaders(out *http.Request, in *inbound.Request) {
	clientIP := clientAddrHost(in.RemoteAddr)

	if prior := out.Header.Get("X-Forwarded-For"); prior != "" {
		out.Header.Set("X-Forwarded-For", prior+", "+clientIP)
	} else if clientIP != "" {
		out.Header.Set("X-Forwarded-For", clientIP)
	}

	// These describe this hop, so any inbound value is overwritten.
	out.Header.Set("X-Forwarded-Proto", in.Scheme)
	out.Header.Set("X-Forwarded-Host", in.Host)
	if clientIP != "" {
		out.Header.Set("X-Real-IP", clientIP)
	}
}

func clientAddrHost(remoteAddr string) string {
	return inbound.HostOnly(remoteAddr)
}
