package bidi

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/bidicdp/mediator/internal/logging"
)

// Transport is the BiDi-facing duplex channel: it delivers inbound raw
// messages and accepts outbound raw messages, the same "send a string out /
// invoke a callback on each incoming string" host-environment shape BiDi
// expects, made concrete as a Go interface.
type Transport interface {
	// Receive blocks until the next inbound message is available or the
	// transport fails; it returns ErrClosed when the peer closed the
	// connection.
	Receive(ctx context.Context) ([]byte, error)
	// Send writes one outbound message.
	Send(ctx context.Context, data []byte) error
	// Close tears down the transport.
	Close() error
}

// ErrClosed is returned by Receive once the peer has closed the transport.
var ErrClosed = websocket.ErrCloseSent

// WebSocketServer accepts exactly one client connection, matching the
// single-session assumption throughout the mediator; every later connection
// attempt is rejected, also after the first client has disconnected.
type WebSocketServer struct {
	addr     string
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conn     *websocket.Conn
	connCh   chan *websocket.Conn
	listener net.Listener
	server   *http.Server
}

// NewWebSocketServer builds a server that will accept connections on addr
// (e.g. "127.0.0.1:9222") at path "/session".
func NewWebSocketServer(addr string) *WebSocketServer {
	return &WebSocketServer{
		addr:     addr,
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		connCh:   make(chan *websocket.Conn, 1),
	}
}

// ListenAndServe starts the HTTP server and blocks until ctx is canceled or
// a fatal listen error occurs.
func (s *WebSocketServer) ListenAndServe(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/session", s.handleUpgrade)
	s.server = &http.Server{Addr: s.addr, Handler: mux}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = ln

	errCh := make(chan error, 1)
	go func() {
		logging.Transport("bidi websocket server listening on %s", s.addr)
		errCh <- s.server.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		s.server.Close()
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *WebSocketServer) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.TransportError("bidi websocket upgrade failed: %v", err)
		return
	}

	s.mu.Lock()
	if s.conn != nil {
		// Single-client policy: reject the new connection, keep the existing one.
		s.mu.Unlock()
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "already connected"))
		conn.Close()
		return
	}
	s.conn = conn
	s.mu.Unlock()

	select {
	case s.connCh <- conn:
	default:
	}
}

// Accept waits for the single client connection and returns a Transport
// wrapping it.
func (s *WebSocketServer) Accept(ctx context.Context) (Transport, error) {
	select {
	case conn := <-s.connCh:
		return &wsTransport{conn: conn}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close shuts down the listening server.
func (s *WebSocketServer) Close() error {
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}

// wsTransport adapts a *websocket.Conn to the Transport interface.
type wsTransport struct {
	conn     *websocket.Conn
	writeMu  sync.Mutex
}

// Receive does not observe ctx: ReadMessage blocks until a message arrives
// or the connection fails.
func (t *wsTransport) Receive(ctx context.Context) ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	if err != nil {
		if _, ok := err.(*websocket.CloseError); ok {
			return nil, ErrClosed
		}
		return nil, err
	}
	return data, nil
}

func (t *wsTransport) Send(ctx context.Context, data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}

// Encode marshals v to JSON, returning json.Marshal's error; v is
// always a plain envelope struct defined in this package.
func Encode(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}
