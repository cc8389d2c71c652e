package processor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bidicdp/mediator/internal/browsingcontext"
	"github.com/bidicdp/mediator/internal/cdpconn"
)

func TestCdpHandlers_SendCommand_ForwardsToConnection(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		_, data, err := c.ReadMessage()
		require.NoError(t, err)
		var req map[string]interface{}
		_ = json.Unmarshal(data, &req)
		reply, _ := json.Marshal(map[string]interface{}{
			"id":     req["id"],
			"result": map[string]interface{}{"targetInfos": []interface{}{}},
		})
		_ = c.WriteMessage(websocket.TextMessage, reply)
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, err := cdpconn.Dial(context.Background(), wsURL)
	require.NoError(t, err)
	defer conn.Close()

	d := newTestDomains()
	d.Conn = conn

	p := New(&fakeSink{})
	registerCdpHandlers(p, d)

	handler := p.handlers["cdp.sendCommand"]
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, perr := handler(ctx, json.RawMessage(`{"method":"Target.getTargets","params":{}}`))
	require.Nil(t, perr)
	m := result.(map[string]interface{})
	assert.NotNil(t, m["result"])
}

func TestCdpHandlers_GetSession_ReturnsTargetSessionID(t *testing.T) {
	d := newTestDomains()
	bc := browsingcontext.NewContext("ctx-1", "", "ctx-1")
	d.Contexts.AddContext(bc)
	caller := &fakeCaller{}
	target := browsingcontext.NewTarget("ctx-1", "session-42", caller)
	d.Targets["ctx-1"] = target

	p := New(&fakeSink{})
	registerCdpHandlers(p, d)

	handler := p.handlers["cdp.getSession"]
	result, err := handler(context.Background(), json.RawMessage(`{"context":"ctx-1"}`))
	require.Nil(t, err)
	m := result.(map[string]interface{})
	assert.Equal(t, "session-42", m["session"])
}

func TestCdpHandlers_GetSession_UnknownContextFails(t *testing.T) {
	d := newTestDomains()
	p := New(&fakeSink{})
	registerCdpHandlers(p, d)

	handler := p.handlers["cdp.getSession"]
	_, err := handler(context.Background(), json.RawMessage(`{"context":"missing"}`))
	require.NotNil(t, err)
}
