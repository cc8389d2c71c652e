// Package cdpconn implements CdpConnection: a multiplexed CDP client over
// one websocket transport, correlating request ids to replies and fanning
// events out by session (pendingReqs map, reader goroutine, graceful
// shutdown via done/WaitGroup).
package cdpconn

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/bidicdp/mediator/internal/bidi"
	"github.com/bidicdp/mediator/internal/logging"
)

// CdpError is returned when the browser replies with an error object.
type CdpError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *CdpError) Error() string {
	return fmt.Sprintf("cdp error %d: %s", e.Code, e.Message)
}

// ErrDisconnected is returned to every pending sink when the transport closes.
var ErrDisconnected = fmt.Errorf("cdp transport disconnected")

// EventHandler is invoked for every CDP event matching its registration.
type EventHandler func(sessionID string, params json.RawMessage)

// outboundMessage is the wire shape of a command sent to the browser.
type outboundMessage struct {
	ID        int64           `json:"id"`
	Method    string          `json:"method"`
	Params    interface{}     `json:"params"`
	SessionID string          `json:"sessionId,omitempty"`
}

// inboundMessage is the wire shape of anything received from the browser:
// either a reply (has ID) or an event (has Method).
type inboundMessage struct {
	ID        int64           `json:"id"`
	SessionID string          `json:"sessionId,omitempty"`
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params"`
	Result    json.RawMessage `json:"result"`
	Error     *CdpError       `json:"error"`
}

type pendingRequest struct {
	resultCh chan json.RawMessage
	errCh    chan error
}

// Connection is the single multiplexed CDP connection to the browser.
type Connection struct {
	conn *websocket.Conn

	nextID int64

	mu       sync.Mutex
	pending  map[int64]*pendingRequest
	handlers map[string]map[string][]EventHandler // sessionID ("" = browser) -> method -> handlers

	closed   chan struct{}
	closeErr error
	closeOnce sync.Once
	wg       sync.WaitGroup
}

// Dial connects to the browser's CDP websocket debugger URL.
func Dial(ctx context.Context, url string) (*Connection, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial cdp websocket: %w", err)
	}
	c := &Connection{
		conn:     conn,
		pending:  make(map[int64]*pendingRequest),
		handlers: make(map[string]map[string][]EventHandler),
		closed:   make(chan struct{}),
	}
	c.wg.Add(1)
	go c.readLoop()
	return c, nil
}

// SendCommand issues one CDP command within an optional session (empty
// sessionID targets the browser-level null-session client) and blocks for
// the correlated reply.
func (c *Connection) SendCommand(ctx context.Context, sessionID, method string, params interface{}) (json.RawMessage, error) {
	id := atomic.AddInt64(&c.nextID, 1)
	req := &pendingRequest{resultCh: make(chan json.RawMessage, 1), errCh: make(chan error, 1)}

	c.mu.Lock()
	c.pending[id] = req
	c.mu.Unlock()

	msg := outboundMessage{ID: id, Method: method, Params: params, SessionID: sessionID}
	data, err := json.Marshal(msg)
	if err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("marshal cdp command: %w", err)
	}

	logging.TransportDebug("cdp -> session=%s method=%s id=%d", sessionID, method, id)
	if err := c.writeMessage(data); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, err
	}

	select {
	case res := <-req.resultCh:
		return res, nil
	case err := <-req.errCh:
		return nil, err
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	case <-c.closed:
		return nil, ErrDisconnected
	}
}

func (c *Connection) writeMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// On registers a handler for (sessionID, method). sessionID = "" matches
// browser-level events (no sessionId on the wire message).
func (c *Connection) On(sessionID, method string, handler EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handlers[sessionID] == nil {
		c.handlers[sessionID] = make(map[string][]EventHandler)
	}
	c.handlers[sessionID][method] = append(c.handlers[sessionID][method], handler)
}

// RemoveSession drops all handlers registered for sessionID, called on
// target detach.
func (c *Connection) RemoveSession(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, sessionID)
}

func (c *Connection) readLoop() {
	defer c.wg.Done()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.disconnect(err)
			return
		}
		c.dispatch(data)
	}
}

func (c *Connection) dispatch(data []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		logging.TransportWarn("cdp received unparseable message: %v", err)
		return
	}

	if msg.Method != "" {
		c.mu.Lock()
		var matched []EventHandler
		if byMethod, ok := c.handlers[msg.SessionID]; ok {
			matched = append(matched, byMethod[msg.Method]...)
		}
		c.mu.Unlock()
		for _, h := range matched {
			h(msg.SessionID, msg.Params)
		}
		return
	}

	c.mu.Lock()
	req, ok := c.pending[msg.ID]
	if ok {
		delete(c.pending, msg.ID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	if msg.Error != nil {
		req.errCh <- msg.Error
		return
	}
	req.resultCh <- msg.Result
}

func (c *Connection) disconnect(err error) {
	c.closeOnce.Do(func() {
		c.closeErr = err
		close(c.closed)
		c.mu.Lock()
		for id, req := range c.pending {
			req.errCh <- ErrDisconnected
			delete(c.pending, id)
		}
		c.mu.Unlock()
		logging.TransportWarn("cdp connection closed: %v", err)
	})
}

// Close tears down the websocket and rejects any in-flight commands.
func (c *Connection) Close() error {
	err := c.conn.Close()
	c.disconnect(fmt.Errorf("closed by caller"))
	c.wg.Wait()
	return err
}

// IsClosed reports whether the connection has been disconnected.
func (c *Connection) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// UnknownErrorFromCdp translates a CdpError into the BiDi taxonomy: anything
// from CDP that has no more specific mapping becomes an unknown error.
func UnknownErrorFromCdp(err error) *bidi.Error {
	return bidi.UnknownErrorFrom(err)
}
