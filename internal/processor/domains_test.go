package processor

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bidicdp/mediator/internal/bidi"
	"github.com/bidicdp/mediator/internal/browsingcontext"
	"github.com/bidicdp/mediator/internal/cdpconn"
	"github.com/bidicdp/mediator/internal/eventmgr"
)

type fakeCaller struct {
	responses map[string]json.RawMessage
	errs      map[string]error

	mu    sync.Mutex
	calls []string
}

func (f *fakeCaller) SendCommand(_ context.Context, _ string, method string, _ interface{}) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, method)
	f.mu.Unlock()
	if err, ok := f.errs[method]; ok {
		return nil, err
	}
	return f.responses[method], nil
}

func (f *fakeCaller) On(string, string, cdpconn.EventHandler) {}
func (f *fakeCaller) RemoveSession(string)                    {}

type fakeEventSink struct{}

func (fakeEventSink) DeliverEvent(bidi.Event) {}

func newTestDomains() *Domains {
	d := NewDomains()
	d.Contexts = browsingcontext.New()
	d.Events = eventmgr.New(fakeEventSink{})
	return d
}

func TestSessionHandlers_Subscribe_RejectsUnknownContext(t *testing.T) {
	d := newTestDomains()
	p := New(&fakeSink{})
	registerSessionHandlers(p, d)

	handler := p.handlers["session.subscribe"]
	_, err := handler(context.Background(), json.RawMessage(`{"events":["browsingContext.load"],"contexts":["missing"]}`))
	require.NotNil(t, err)
	assert.Equal(t, bidi.NoSuchFrame, err.Code)
}

func TestSessionHandlers_Subscribe_RejectsEmptyEvents(t *testing.T) {
	d := newTestDomains()
	p := New(&fakeSink{})
	registerSessionHandlers(p, d)

	handler := p.handlers["session.subscribe"]
	_, err := handler(context.Background(), json.RawMessage(`{"events":[],"contexts":[]}`))
	require.NotNil(t, err)
	assert.Equal(t, bidi.InvalidArgument, err.Code)
}

func TestSessionHandlers_SubscribeThenUnsubscribe(t *testing.T) {
	d := newTestDomains()
	p := New(&fakeSink{})
	registerSessionHandlers(p, d)

	subscribe := p.handlers["session.subscribe"]
	_, err := subscribe(context.Background(), json.RawMessage(`{"events":["browsingContext.load"],"contexts":[]}`))
	require.Nil(t, err)

	unsubscribe := p.handlers["session.unsubscribe"]
	_, err = unsubscribe(context.Background(), json.RawMessage(`{"events":["browsingContext.load"],"contexts":[]}`))
	require.Nil(t, err)
}

func TestBrowsingContextHandlers_Navigate_WaitNone(t *testing.T) {
	d := newTestDomains()
	root := browsingcontext.NewContext("ctx-1", "", "ctx-1")
	root.MarkUnblocked()
	d.Contexts.AddContext(root)

	caller := &fakeCaller{responses: map[string]json.RawMessage{
		"Page.navigate": json.RawMessage(`{"frameId":"ctx-1","loaderId":"loader-1"}`),
	}}
	target := browsingcontext.NewTarget("ctx-1", "session-1", caller)
	d.Targets["ctx-1"] = target

	p := New(&fakeSink{})
	registerBrowsingContextHandlers(p, d)

	handler := p.handlers["browsingContext.navigate"]
	result, err := handler(context.Background(), json.RawMessage(`{"context":"ctx-1","url":"https://example.com","wait":"none"}`))
	require.Nil(t, err)
	m := result.(map[string]interface{})
	assert.Equal(t, "loader-1", m["navigation"])
}

func TestBrowsingContextHandlers_Navigate_FailedTargetRejected(t *testing.T) {
	d := newTestDomains()
	root := browsingcontext.NewContext("ctx-1", "", "ctx-1")
	root.MarkUnblocked()
	d.Contexts.AddContext(root)

	caller := &fakeCaller{errs: map[string]error{"Page.enable": assert.AnError}}
	target := browsingcontext.NewTarget("ctx-1", "session-1", caller)
	require.Error(t, target.Start(context.Background(), func() {}, nil, "ctx-1"))
	d.Targets["ctx-1"] = target

	p := New(&fakeSink{})
	registerBrowsingContextHandlers(p, d)

	handler := p.handlers["browsingContext.navigate"]
	_, err := handler(context.Background(), json.RawMessage(`{"context":"ctx-1","url":"https://example.com","wait":"none"}`))
	require.NotNil(t, err)
}

func TestBrowsingContextHandlers_GetTree_FiltersSelfTarget(t *testing.T) {
	d := newTestDomains()
	visible := browsingcontext.NewContext("ctx-1", "", "ctx-1")
	hidden := browsingcontext.NewContext("ctx-2", "", "ctx-2")
	d.Contexts.AddContext(visible)
	d.Contexts.AddContext(hidden)
	d.SelfTargetID = "ctx-2"

	p := New(&fakeSink{})
	registerBrowsingContextHandlers(p, d)

	handler := p.handlers["browsingContext.getTree"]
	result, err := handler(context.Background(), json.RawMessage(`{}`))
	require.Nil(t, err)
	m := result.(map[string]interface{})
	contexts := m["contexts"].([]map[string]interface{})
	require.Len(t, contexts, 1)
	assert.Equal(t, "ctx-1", contexts[0]["context"])
}
