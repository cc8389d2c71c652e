package eventmgr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bidicdp/mediator/internal/bidi"
)

type fakeSink struct {
	events []bidi.Event
}

func (f *fakeSink) DeliverEvent(ev bidi.Event) {
	f.events = append(f.events, ev)
}

func TestManager_Subscribe_DeliversMatchingEvents(t *testing.T) {
	sink := &fakeSink{}
	m := New(sink)
	m.Subscribe([]string{"browsingContext.load"}, []string{"ctx-1"}, "")

	m.RegisterEvent("browsingContext.load", "ctx-1", map[string]interface{}{"url": "https://example.com"})
	require.Len(t, sink.events, 1)
	assert.Equal(t, "browsingContext.load", sink.events[0].Method)
}

func TestManager_Subscribe_NullContextMatchesEverything(t *testing.T) {
	sink := &fakeSink{}
	m := New(sink)
	m.Subscribe([]string{"browsingContext.load"}, nil, "")

	m.RegisterEvent("browsingContext.load", "ctx-1", nil)
	m.RegisterEvent("browsingContext.load", "ctx-2", nil)
	assert.Len(t, sink.events, 2)
}

func TestManager_Subscribe_IsIdempotent(t *testing.T) {
	sink := &fakeSink{}
	m := New(sink)
	m.Subscribe([]string{"browsingContext.load"}, []string{"ctx-1"}, "")
	m.Subscribe([]string{"browsingContext.load"}, []string{"ctx-1"}, "")

	m.RegisterEvent("browsingContext.load", "ctx-1", nil)
	assert.Len(t, sink.events, 1)
}

func TestManager_Unsubscribe_StopsDelivery(t *testing.T) {
	sink := &fakeSink{}
	m := New(sink)
	m.Subscribe([]string{"browsingContext.load"}, []string{"ctx-1"}, "")
	m.Unsubscribe([]string{"browsingContext.load"}, []string{"ctx-1"}, "")

	m.RegisterEvent("browsingContext.load", "ctx-1", nil)
	assert.Empty(t, sink.events)
}

func TestManager_AlwaysBufferEvents_FlushInOrderOnLateSubscribe(t *testing.T) {
	sink := &fakeSink{}
	m := New(sink)

	m.RegisterEvent("browsingContext.contextCreated", "ctx-1", "first")
	m.RegisterEvent("browsingContext.contextCreated", "ctx-1", "second")
	assert.Empty(t, sink.events, "no subscriber yet, events should be buffered not dropped")

	m.Subscribe([]string{"browsingContext.contextCreated"}, []string{"ctx-1"}, "")
	require.Len(t, sink.events, 2)
	assert.Equal(t, "first", sink.events[0].Params)
	assert.Equal(t, "second", sink.events[1].Params)
}

func TestManager_AlwaysBufferEvents_NullContextSubscribeFlushesEveryContext(t *testing.T) {
	sink := &fakeSink{}
	m := New(sink)

	m.RegisterEvent("browsingContext.contextCreated", "ctx-1", "ctx-1-created")
	m.RegisterEvent("browsingContext.contextCreated", "ctx-2", "ctx-2-created")
	assert.Empty(t, sink.events, "no subscriber yet, events should be buffered not dropped")

	m.Subscribe([]string{"browsingContext.contextCreated"}, nil, "")
	require.Len(t, sink.events, 2)

	var params []interface{}
	for _, ev := range sink.events {
		params = append(params, ev.Params)
	}
	assert.ElementsMatch(t, []interface{}{"ctx-1-created", "ctx-2-created"}, params)
}

func TestManager_NonBufferedEvent_IsDroppedWithoutSubscriber(t *testing.T) {
	sink := &fakeSink{}
	m := New(sink)
	m.RegisterEvent("log.entryAdded", "ctx-1", "entry")

	m.Subscribe([]string{"log.entryAdded"}, []string{"ctx-1"}, "")
	assert.Empty(t, sink.events, "log.entryAdded is not in the always-buffer list")
}

func TestManager_DiscardContext_DropsBuffer(t *testing.T) {
	sink := &fakeSink{}
	m := New(sink)
	m.RegisterEvent("browsingContext.load", "ctx-1", "buffered")
	m.DiscardContext("ctx-1")

	m.Subscribe([]string{"browsingContext.load"}, []string{"ctx-1"}, "")
	assert.Empty(t, sink.events)
}
