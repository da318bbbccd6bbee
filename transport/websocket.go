// Package transport accepts TLS connections and upgrades them to
// WebSocket, handing each one to the session engine as a session.Conn.
package transport

import (
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// Conn adapts a gorilla websocket.Conn to the frame-oriented interface
// session.Session expects. Every frame is sent/read as a single binary
// WebSocket message, matching the wire package's one-PacketKind-per-frame
// contract.
type Conn struct {
	ws *websocket.Conn
}

// NewConn wraps an already-upgraded websocket connection.
func NewConn(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

func (c *Conn) ReadFrame() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		// A normal WebSocket close is the orderly end of the stream.
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read frame: %w", err)
	}
	return data, nil
}

func (c *Conn) WriteFrame(frame []byte) error {
	if err := c.ws.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.ws.SetReadDeadline(t)
}

func (c *Conn) SetWriteDeadline(t time.Time) error {
	return c.ws.SetWriteDeadline(t)
}

func (c *Conn) Close() error {
	return c.ws.Close()
}

// RemoteAddr returns the underlying TCP connection's remote address,
// used as the peer address bound into the handshake's signed challenge.
func (c *Conn) RemoteAddr() net.Addr {
	return c.ws.RemoteAddr()
}

// Listener accepts TLS connections on addr and upgrades each to
// WebSocket, dispatching the result to a per-connection handler. It
// wraps an *http.Server rather than a raw net.Listener because the
// WebSocket upgrade happens inside the HTTP handshake, the same
// TLS-then-upgrade order the gateway's original transport used.
type Listener struct {
	addr      string
	path      string
	tlsConfig *tls.Config
	srv       *http.Server
}

// NewListener builds a Listener serving WebSocket upgrades for path on
// addr, terminating TLS with tlsConfig (which callers should have
// configured for at least TLS 1.2).
func NewListener(addr, path string, tlsConfig *tls.Config) *Listener {
	if tlsConfig != nil && tlsConfig.MinVersion == 0 {
		tlsConfig.MinVersion = tls.VersionTLS12
	}
	return &Listener{addr: addr, path: path, tlsConfig: tlsConfig}
}

// Serve blocks accepting connections until the listener is closed,
// invoking onConnect once per successfully upgraded connection. The
// engine is expected to run each call in its own goroutine internally,
// or onConnect itself should go func() the hand-off.
func (l *Listener) Serve(onConnect func(remote net.Addr, conn *Conn)) error {
	mux := http.NewServeMux()
	mux.HandleFunc(l.path, func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn := NewConn(ws)
		onConnect(conn.RemoteAddr(), conn)
	})

	l.srv = &http.Server{
		Addr:      l.addr,
		Handler:   mux,
		TLSConfig: l.tlsConfig,
	}

	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", l.addr, err)
	}
	tlsLn := tls.NewListener(ln, l.tlsConfig)
	return l.srv.Serve(tlsLn)
}

// Close shuts down the underlying HTTP server.
func (l *Listener) Close() error {
	if l.srv == nil {
		return nil
	}
	return l.srv.Close()
}
