package cdpconn

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"))
}

// fakeBrowser is a minimal CDP-speaking websocket server for exercising
// Connection without a real browser process.
type fakeBrowser struct {
	upgrader websocket.Upgrader
	server   *httptest.Server

	mu   sync.Mutex
	conn *websocket.Conn
}

func newFakeBrowser(t *testing.T) *fakeBrowser {
	fb := &fakeBrowser{}
	fb.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := fb.upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		fb.mu.Lock()
		fb.conn = c
		fb.mu.Unlock()
	}))
	return fb
}

func (fb *fakeBrowser) wsURL() string {
	return "ws" + strings.TrimPrefix(fb.server.URL, "http")
}

func (fb *fakeBrowser) waitForConn(t *testing.T) *websocket.Conn {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		fb.mu.Lock()
		c := fb.conn
		fb.mu.Unlock()
		if c != nil {
			return c
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("server never received a client connection")
	return nil
}

func (fb *fakeBrowser) close() {
	fb.mu.Lock()
	if fb.conn != nil {
		fb.conn.Close()
	}
	fb.mu.Unlock()
	fb.server.Close()
}

func TestConnection_SendCommand_CorrelatesReplyByID(t *testing.T) {
	fb := newFakeBrowser(t)
	defer fb.close()

	c, err := Dial(context.Background(), fb.wsURL())
	require.NoError(t, err)
	defer c.Close()

	serverConn := fb.waitForConn(t)
	go func() {
		_, data, err := serverConn.ReadMessage()
		if err != nil {
			return
		}
		var req map[string]interface{}
		_ = json.Unmarshal(data, &req)
		reply, _ := json.Marshal(map[string]interface{}{
			"id":     req["id"],
			"result": map[string]interface{}{"ok": true},
		})
		_ = serverConn.WriteMessage(websocket.TextMessage, reply)
	}()

	raw, err := c.SendCommand(context.Background(), "", "Target.getTargets", map[string]interface{}{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(raw))
}

func TestConnection_SendCommand_ReturnsCdpError(t *testing.T) {
	fb := newFakeBrowser(t)
	defer fb.close()

	c, err := Dial(context.Background(), fb.wsURL())
	require.NoError(t, err)
	defer c.Close()

	serverConn := fb.waitForConn(t)
	go func() {
		_, data, err := serverConn.ReadMessage()
		if err != nil {
			return
		}
		var req map[string]interface{}
		_ = json.Unmarshal(data, &req)
		reply, _ := json.Marshal(map[string]interface{}{
			"id":    req["id"],
			"error": map[string]interface{}{"code": -32000, "message": "no such target"},
		})
		_ = serverConn.WriteMessage(websocket.TextMessage, reply)
	}()

	_, err = c.SendCommand(context.Background(), "", "Target.activateTarget", map[string]interface{}{})
	require.Error(t, err)
	var cdpErr *CdpError
	require.ErrorAs(t, err, &cdpErr)
	assert.Equal(t, "no such target", cdpErr.Message)
}

func TestConnection_On_DispatchesEventsBySession(t *testing.T) {
	fb := newFakeBrowser(t)
	defer fb.close()

	c, err := Dial(context.Background(), fb.wsURL())
	require.NoError(t, err)
	defer c.Close()

	serverConn := fb.waitForConn(t)

	received := make(chan json.RawMessage, 1)
	c.On("session-1", "Page.loadEventFired", func(sessionID string, params json.RawMessage) {
		received <- params
	})

	evt, _ := json.Marshal(map[string]interface{}{
		"sessionId": "session-1",
		"method":    "Page.loadEventFired",
		"params":    map[string]interface{}{"timestamp": 1.5},
	})
	require.NoError(t, serverConn.WriteMessage(websocket.TextMessage, evt))

	select {
	case params := <-received:
		assert.JSONEq(t, `{"timestamp":1.5}`, string(params))
	case <-time.After(time.Second):
		t.Fatal("handler was not invoked")
	}
}

func TestConnection_RemoveSession_StopsDelivery(t *testing.T) {
	fb := newFakeBrowser(t)
	defer fb.close()

	c, err := Dial(context.Background(), fb.wsURL())
	require.NoError(t, err)
	defer c.Close()

	serverConn := fb.waitForConn(t)

	called := false
	c.On("session-1", "Page.loadEventFired", func(string, json.RawMessage) { called = true })
	c.RemoveSession("session-1")

	evt, _ := json.Marshal(map[string]interface{}{"sessionId": "session-1", "method": "Page.loadEventFired", "params": map[string]interface{}{}})
	require.NoError(t, serverConn.WriteMessage(websocket.TextMessage, evt))

	time.Sleep(50 * time.Millisecond)
	assert.False(t, called)
}

func TestConnection_Disconnect_FailsPendingCommands(t *testing.T) {
	fb := newFakeBrowser(t)

	c, err := Dial(context.Background(), fb.wsURL())
	require.NoError(t, err)

	fb.waitForConn(t)

	resultCh := make(chan error, 1)
	go func() {
		_, err := c.SendCommand(context.Background(), "", "Target.getTargets", map[string]interface{}{})
		resultCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	fb.close()

	select {
	case err := <-resultCh:
		require.Error(t, err)
		assert.Equal(t, ErrDisconnected, err)
	case <-time.After(2 * time.Second):
		t.Fatal("pending command was not failed on disconnect")
	}
	assert.True(t, c.IsClosed())
	c.Close()
}
