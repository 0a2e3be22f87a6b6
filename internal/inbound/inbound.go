/*
Package inbound defines the protocol-neutral request abstraction that
every front end (HTTP/1.1, HTTP/2, HTTP/3) produces and the Proxy
Engine consumes (spec §4.F/§4.G): method, scheme, authority, path and
query, headers, a streaming body, the client socket address, and TLS
metadata (SNI, ALPN, peer certificate).
*/
package inbound

import (
	"crypto/tls"
	"io"
	"net/http"
)

// Request is the decoded inbound request, independent of whether it
// arrived over HTTP/1.1, HTTP/2, or HTTP/3.
type Request struct {
	Method     string
	Scheme     string // "http" or "https"
	Host       string // Host header / authority pseudo-header, as sent
	Path       string
	RawQuery   string
	Header     http.Header
	Body       io.ReadCloser
	RemoteAddr string // client socket address (host:port)

	// TLS is nil for plaintext connections.
	TLS *TLSInfo

	// Proto names the wire protocol for logging/metrics ("HTTP/1.1",
	// "HTTP/2.0", "HTTP/3.0").
	Proto string
}

// TLSInfo carries the handshake metadata spec §4.F requires the
// inbound-request abstraction to expose.
type TLSInfo struct {
	ServerName       string // negotiated SNI, lower-cased, trailing dot trimmed
	NegotiatedProto  string // ALPN result ("h2", "http/1.1", "h3")
	// PeerCertificates is not populated: FromHTTPRequest leaves it nil.
	PeerCertificates []*tls.Certificate
}

// FromHTTPRequest adapts a stdlib *http.Request (as produced by the
// HTTP/1.1 & HTTP/2 front) into the shared abstraction.
func FromHTTPRequest(r *http.Request) *Request {
	scheme := "http"
	var tlsInfo *TLSInfo
	if r.TLS != nil {
		scheme = "https"
		tlsInfo = &TLSInfo{
			ServerName:      NormalizeHost(r.TLS.ServerName),
			NegotiatedProto: r.TLS.NegotiatedProtocol,
		}
	}
	return &Request{
		Method:     r.Method,
		Scheme:     scheme,
		Host:       r.Host,
		Path:       r.URL.Path,
		RawQuery:   r.URL.RawQuery,
		Header:     r.Header,
		Body:       r.Body,
		RemoteAddr: r.RemoteAddr,
		TLS:        tlsInfo,
		Proto:      r.Proto,
	}
}

// NormalizeHost lower-cases a host name and trims a single trailing
// dot, per spec §4.E's SNI⇔Host comparison rule.
func NormalizeHost(host string) string {
	if host == "" {
		return host
	}
	if host[len(host)-1] == '.' {
		host = host[:len(host)-1]
	}
	return toLower(host)
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// HostOnly strips an optional ":port" suffix, as spec §4.B step 1 and
// the middleware's host matching both need.
func HostOnly(hostport string) string {
	for i := 0; i < len(hostport); i++ {
		if hostport[i] == ':' {
			return hostport[:i]
		}
		if hostport[i] == '[' {
			// IPv6 literal; find the closing bracket.
			for j := i + 1; j < len(hostport); j++ {
				if hostport[j] == ']' {
					return hostport[i : j+1]
				}
			}
		}
	}
	return hostport
}
