/*
Package tlsaccept builds the shared *tls.Config the HTTP/1.1+HTTP/2 and
HTTP/3 fronts both hand to their listeners (spec §4.E): SNI-based
certificate selection via the Certificate Store, ALPN negotiation
between "h2" and "http/1.1" (HTTP/3's ALPN is negotiated by the QUIC
stack itself and does not go through this tls.Config).

Grounded on cuemby-warren's pkg/ingress/proxy.go loadTLSCertificates,
which builds a tls.Config with an explicit cipher suite list once per
reload; here only the version floor (TLS 1.2) is carried forward, and
certificate selection is delegated to certstore.Store.GetCertificate
instead of a static Certificates slice, since this proxy serves many
virtual hosts behind one listener.
*/
package tlsaccept

import (
	"crypto/tls"

	"github.com/cuemby/rpxy/internal/certstore"
)

// Build returns the tls.Config for the front-end listeners.
func Build(store *certstore.Store) *tls.Config {
	return &tls.Config{
		MinVersion:     tls.VersionTLS12,
		NextProtos:     []string{"h2", "http/1.1"},
		GetCertificate: store.GetCertificate,
	}
}
