/*
Package http3 is the HTTP/3 front of spec §4.G: a quic-go/http3.Server
sharing the same tlsaccept-built *tls.Config (so SNI-based certificate
selection is identical across fronts) and the same proxyengine.Engine
handler the HTTP/1.1 & HTTP/2 front uses, since http3.Server accepts a
plain http.Handler — no separate inbound-request adapter is needed, so
the InboundRequest abstraction stays exactly as internal/inbound built
it for every front.

Grounded on the retrieval pack's zist gateway (other_examples), the one
example wiring quic-go/http3.Server directly: Addr/Handler/TLSConfig,
ListenAndServe run in its own goroutine alongside the H1/H2 listeners.
*/
package http3

import (
	"context"
	"crypto/tls"
	"net/http"
	"strconv"

	"github.com/quic-go/quic-go/http3"

	"github.com/cuemby/rpxy/internal/config"
)

// AltSvcHeaderName is set on HTTPS responses from the H1/H2 front so
// clients discover the HTTP/3 listener, per spec §4.G.
const AltSvcHeaderName = "Alt-Svc"

// AltSvcValue builds the Alt-Svc header value advertising this proxy's
// HTTP/3 listener at port.
func AltSvcValue(port int) string {
	return `h3=":` + strconv.Itoa(port) + `"; ma=86400`
}

// New builds the HTTP/3 server. handler is the same proxyengine.Engine
// the H1/H2 front dispatches to.
func New(cfg *config.Config, tlsConfig *tls.Config, handler http.Handler) *http3.Server {
	h3TLS := tlsConfig.Clone()
	h3TLS.NextProtos = []string{"h3"}

	return &http3.Server{
		Addr:      listenAddr(cfg.ListenPortH3),
		Handler:   handler,
		TLSConfig: h3TLS,
	}
}

// Shutdown closes srv; http3.Server has no graceful drain, so this is
// best-effort relative to the H1/H2 front's context-bounded Shutdown.
func Shutdown(_ context.Context, srv *http3.Server) error {
	return srv.Close()
}

func listenAddr(port int) string {
	if port <= 0 {
		return ""
	}
	return ":" + strconv.Itoa(port)
}
