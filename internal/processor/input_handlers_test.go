package processor

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bidicdp/mediator/internal/browsingcontext"
	"github.com/bidicdp/mediator/internal/input"
)

func TestInputHandlers_PerformActions_DispatchesKeyPress(t *testing.T) {
	d := newTestDomains()
	bc := browsingcontext.NewContext("ctx-1", "", "ctx-1")
	bc.MarkUnblocked()
	d.Contexts.AddContext(bc)

	caller := &fakeCaller{responses: map[string]json.RawMessage{}}
	target := browsingcontext.NewTarget("ctx-1", "session-1", caller)
	d.Targets["ctx-1"] = target
	d.Input = input.NewDispatcher(caller)

	p := New(&fakeSink{})
	registerInputHandlers(p, d)

	handler := p.handlers["input.performActions"]
	_, err := handler(context.Background(), json.RawMessage(`{
		"context": "ctx-1",
		"actions": [{"type":"key","id":"keyboard","actions":[{"type":"keyDown","key":"a"},{"type":"keyUp","key":"a"}]}]
	}`))
	require.Nil(t, err)
	assert.Contains(t, caller.calls, "Input.dispatchKeyEvent")
}

func TestInputHandlers_ReleaseActions_NoPriorStateIsNoOp(t *testing.T) {
	d := newTestDomains()
	bc := browsingcontext.NewContext("ctx-1", "", "ctx-1")
	d.Contexts.AddContext(bc)

	caller := &fakeCaller{responses: map[string]json.RawMessage{}}
	target := browsingcontext.NewTarget("ctx-1", "session-1", caller)
	d.Targets["ctx-1"] = target
	d.Input = input.NewDispatcher(caller)

	p := New(&fakeSink{})
	registerInputHandlers(p, d)

	handler := p.handlers["input.releaseActions"]
	_, err := handler(context.Background(), json.RawMessage(`{"context":"ctx-1"}`))
	require.Nil(t, err)
}
