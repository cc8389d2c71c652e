package input

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCaller struct {
	mu     sync.Mutex
	calls  []string
	params []map[string]interface{}
}

func (f *fakeCaller) SendCommand(_ context.Context, _ string, method string, params interface{}) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, method)
	if p, ok := params.(map[string]interface{}); ok {
		f.params = append(f.params, p)
	}
	return json.RawMessage(`{}`), nil
}

func (f *fakeCaller) methodCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == method {
			n++
		}
	}
	return n
}

func TestDispatcher_PerformActions_KeyDownUp(t *testing.T) {
	caller := &fakeCaller{}
	d := NewDispatcher(caller)

	err := d.PerformActions(context.Background(), "session-1", "ctx-1", []SourceAction{
		{SourceID: "keyboard", Type: SourceKey, Actions: []Action{
			{Type: "keyDown", Key: "a"},
			{Type: "keyUp", Key: "a"},
		}},
	})
	require.Nil(t, err)
	assert.Equal(t, 2, caller.methodCount("Input.dispatchKeyEvent"))
}

func TestDispatcher_PerformActions_RejectsPointerSubtypeChange(t *testing.T) {
	caller := &fakeCaller{}
	d := NewDispatcher(caller)

	err := d.PerformActions(context.Background(), "session-1", "ctx-1", []SourceAction{
		{SourceID: "p1", Type: SourcePointer, Subtype: PointerMouse, Actions: []Action{{Type: "pointerDown", X: 1, Y: 1}}},
	})
	require.Nil(t, err)

	err = d.PerformActions(context.Background(), "session-1", "ctx-1", []SourceAction{
		{SourceID: "p1", Type: SourcePointer, Subtype: PointerTouch, Actions: []Action{{Type: "pointerUp", X: 1, Y: 1}}},
	})
	require.NotNil(t, err)
}

func TestDispatcher_PerformActions_TicksAlignAcrossSources(t *testing.T) {
	caller := &fakeCaller{}
	d := NewDispatcher(caller)

	err := d.PerformActions(context.Background(), "session-1", "ctx-1", []SourceAction{
		{SourceID: "keyboard", Type: SourceKey, Actions: []Action{{Type: "keyDown", Key: "a"}}},
		{SourceID: "p1", Type: SourcePointer, Subtype: PointerMouse, Actions: []Action{
			{Type: "pointerDown", X: 1, Y: 1},
			{Type: "pointerUp", X: 1, Y: 1},
		}},
	})
	require.Nil(t, err)
	assert.Equal(t, 1, caller.methodCount("Input.dispatchKeyEvent"))
	assert.Equal(t, 2, caller.methodCount("Input.dispatchMouseEvent"))
}

func TestDispatcher_PerformActions_PauseWaitsMaxAcrossSources(t *testing.T) {
	caller := &fakeCaller{}
	d := NewDispatcher(caller)

	start := time.Now()
	err := d.PerformActions(context.Background(), "session-1", "ctx-1", []SourceAction{
		{SourceID: "a", Type: SourceNone, Actions: []Action{{Type: "pause", Pause: 20 * time.Millisecond}}},
		{SourceID: "b", Type: SourceNone, Actions: []Action{{Type: "pause", Pause: 50 * time.Millisecond}}},
	})
	elapsed := time.Since(start)
	require.Nil(t, err)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
}

func TestDispatcher_PerformActions_UnsupportedActionType(t *testing.T) {
	caller := &fakeCaller{}
	d := NewDispatcher(caller)

	err := d.PerformActions(context.Background(), "session-1", "ctx-1", []SourceAction{
		{SourceID: "a", Type: SourceNone, Actions: []Action{{Type: "not-a-real-action"}}},
	})
	require.NotNil(t, err)
}

func TestDispatcher_ReleaseActions_ReplaysInverseAndClearsState(t *testing.T) {
	caller := &fakeCaller{}
	d := NewDispatcher(caller)

	require.Nil(t, d.PerformActions(context.Background(), "session-1", "ctx-1", []SourceAction{
		{SourceID: "keyboard", Type: SourceKey, Actions: []Action{{Type: "keyDown", Key: "a"}}},
	}))

	countBefore := caller.methodCount("Input.dispatchKeyEvent")
	require.Nil(t, d.ReleaseActions(context.Background(), "session-1", "ctx-1"))
	assert.Equal(t, countBefore+1, caller.methodCount("Input.dispatchKeyEvent"))

	// releasing again is a no-op: state was deleted.
	require.Nil(t, d.ReleaseActions(context.Background(), "session-1", "ctx-1"))
	assert.Equal(t, countBefore+1, caller.methodCount("Input.dispatchKeyEvent"))
}
