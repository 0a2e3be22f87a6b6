package proxyengine

import (
	"bufio"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cuemby/rpxy/internal/config"
	"github.com/cuemby/rpxy/internal/inbound"
	"github.com/cuemby/rpxy/internal/metrics"
	"github.com/cuemby/rpxy/internal/perr"
)

// dispatchUpgrade handles a WebSocket handshake (spec §4.I): dial the
// chosen upstream directly, forward the handshake request, and if the
// backend answers 101 Switching Protocols, hijack the client connection
// and shuttle raw bytes both ways for the life of the socket. The
// normal rewrite.Forward + http.Client path isn't used here since
// neither side's connection may be reused for anything else afterward.
func (e *Engine) dispatchUpgrade(w http.ResponseWriter, in *inbound.Request, up *config.UpstreamLocation) error {
	hijacker, ok := w.(http.Hijacker)
	if !ok {
		return perr.New(perr.KindUpgradeRejected, errors.New("response writer does not support hijacking"))
	}

	backendConn, err := net.DialTimeout("tcp", up.Location, 10*time.Second)
	if err != nil {
		return perr.New(perr.KindUpstreamUnavailable, err)
	}

	handshake := buildUpgradeRequest(in, up)
	if err := handshake.Write(backendConn); err != nil {
		backendConn.Close()
		return perr.New(perr.KindUpstreamUnavailable, err)
	}

	backendReader := bufio.NewReader(backendConn)
	backendResp, err := http.ReadResponse(backendReader, handshake)
	if err != nil {
		backendConn.Close()
		return perr.New(perr.KindUpstreamUnavailable, err)
	}
	defer backendResp.Body.Close()

	if backendResp.StatusCode != http.StatusSwitchingProtocols {
		// The backend declined the upgrade; relay its response as a
		// normal HTTP reply instead of hijacking anything.
		streamResponse(w, backendResp)
		backendConn.Close()
		return nil
	}

	clientConn, clientBuf, err := hijacker.Hijack()
	if err != nil {
		backendConn.Close()
		return perr.New(perr.KindUpgradeRejected, err)
	}

	if err := backendResp.Write(clientConn); err != nil {
		clientConn.Close()
		backendConn.Close()
		return perr.New(perr.KindUpstreamUnavailable, err)
	}

	metrics.ActiveConnections.WithLabelValues("websocket").Inc()
	shuttle(clientConn, clientBuf, backendConn, backendReader)
	metrics.ActiveConnections.WithLabelValues("websocket").Dec()
	return nil
}

func buildUpgradeRequest(in *inbound.Request, up *config.UpstreamLocation) *http.Request {
	header := in.Header.Clone()
	// Drop every hop-by-hop header, including any the inbound Connection
	// header names, then re-insert the WebSocket upgrade pair.
	for _, name := range strings.Split(header.Get("Connection"), ",") {
		if name = strings.TrimSpace(name); name != "" {
			header.Del(name)
		}
	}
	for _, name := range []string{"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization", "TE", "Trailer", "Transfer-Encoding", "Upgrade"} {
		header.Del(name)
	}
	header.Set("Connection", "Upgrade")
	header.Set("Upgrade", "websocket")
	header.Set("Host", up.Location)
	return &http.Request{
		Method:     in.Method,
		URL:        &url.URL{Path: in.Path, RawQuery: in.RawQuery},
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     header,
		Host:       up.Location,
	}
}

// shuttle copies bytes in both directions until one side closes. The
// client->backend leg is additionally teed through a passive
// gorilla/websocket reader purely to count frames for metrics; the
// io.Copy pair remains the actual proxying mechanism, so a parse error
// on the tee never affects the data path.
func shuttle(clientConn net.Conn, clientBuf *bufio.ReadWriter, backendConn net.Conn, backendReader *bufio.Reader) {
	defer clientConn.Close()
	defer backendConn.Close()

	done := make(chan struct{}, 2)

	var clientReader io.Reader = clientConn
	if clientBuf.Reader.Buffered() > 0 {
		clientReader = clientBuf.Reader
	}

	pr, pw := io.Pipe()
	tee := io.TeeReader(clientReader, pw)
	go countFrames(pr)

	go func() {
		_, _ = io.Copy(backendConn, tee)
		pw.Close()
		done <- struct{}{}
	}()
	go func() {
		_, _ = io.Copy(clientConn, backendReader)
		done <- struct{}{}
	}()

	<-done
}

// countFrames drains a tee of the client->backend WebSocket stream
// through gorilla's frame reader solely to increment rpxy_websocket_frames_total;
// it never writes anything back, and its errors are expected once the
// socket closes or a non-WebSocket byte stream defeats the framer.
func countFrames(r io.Reader) {
	// Client frames are masked, so the parser runs in server mode.
	conn := websocket.NewConn(readOnlyConn{Reader: r}, true, 4096, 4096)
	for {
		messageType, _, err := conn.NextReader()
		if err != nil {
			// Keep draining so the tee in shuttle never blocks on the pipe.
			_, _ = io.Copy(io.Discard, r)
			return
		}
		metrics.WebSocketFramesTotal.WithLabelValues(frameTypeLabel(messageType)).Inc()
	}
}

func frameTypeLabel(messageType int) string {
	switch messageType {
	case websocket.TextMessage:
		return "text"
	case websocket.BinaryMessage:
		return "binary"
	default:
		return "other"
	}
}

// readOnlyConn adapts an io.Reader into the minimal net.Conn surface
// gorilla/websocket.NewConn needs for read-only frame parsing; writes
// are discarded since countFrames never sends anything.
type readOnlyConn struct {
	io.Reader
}

func (readOnlyConn) Write(b []byte) (int, error)       { return len(b), nil }
func (readOnlyConn) Close() error                       { return nil }
func (readOnlyConn) LocalAddr() net.Addr                { return readOnlyAddr{} }
func (readOnlyConn) RemoteAddr() net.Addr               { return readOnlyAddr{} }
func (readOnlyConn) SetDeadline(t time.Time) error      { return nil }
func (readOnlyConn) SetReadDeadline(t time.Time) error  { return nil }
func (readOnlyConn) SetWriteDeadline(t time.Time) error { return nil }

type readOnlyAddr struct{}

func (readOnlyAddr) Network() string { return "ws-frame-counter" }
func (readOnlyAddr) String() string  { return "ws-frame-counter" }
