// Package eventmgr implements the event manager: subscription bookkeeping,
// per-(context,event) buffering, and ordered outbound event delivery. Plain
// in-memory set/map bookkeeping, generalized here to context-scoped
// buffering.
package eventmgr

import (
	"github.com/bidicdp/mediator/internal/bidi"
	"github.com/bidicdp/mediator/internal/logging"
)

// alwaysBufferEvents is the short list of events buffered even with no
// matching subscription, so a late subscriber sees creation history for
// still-live contexts.
var alwaysBufferEvents = map[string]bool{
	"browsingContext.contextCreated":     true,
	"browsingContext.domContentLoaded":   true,
	"browsingContext.load":               true,
}

// subscriptionKey identifies one (event, contextId|null, channel|null) entry.
type subscriptionKey struct {
	event     string
	contextID string // "" means "all contexts"
	channel   string // "" means default/no channel
}

// bufferedEvent is one event held pending subscription or later delivery.
type bufferedEvent struct {
	event     string
	contextID string
	params    interface{}
	seq       uint64
}

// Sink receives outbound events ready for delivery to the client.
type Sink interface {
	DeliverEvent(ev bidi.Event)
}

// Manager is the single-writer subscription and buffering store.
type Manager struct {
	subscriptions map[subscriptionKey]struct{}
	buffers       map[string][]bufferedEvent // contextID -> buffered events, keyed loosely by event within
	seq           uint64
	sink          Sink
}

// New constructs an EventManager delivering through sink.
func New(sink Sink) *Manager {
	return &Manager{
		subscriptions: make(map[subscriptionKey]struct{}),
		buffers:       make(map[string][]bufferedEvent),
		sink:          sink,
	}
}

// Subscribe adds subscription entries for the cross product of events and
// contexts (contexts == nil means "all contexts", i.e. a null-context
// entry). Flushes any already-buffered events matching a new entry (see
// flushBuffered for their order), and is idempotent: re-subscribing
// to an already-present tuple does not duplicate delivery.
func (m *Manager) Subscribe(events []string, contexts []string, channel string) {
	contextIDs := contexts
	if len(contextIDs) == 0 {
		contextIDs = []string{""}
	}
	for _, event := range events {
		for _, cid := range contextIDs {
			key := subscriptionKey{event: event, contextID: cid, channel: channel}
			if _, exists := m.subscriptions[key]; exists {
				continue
			}
			m.subscriptions[key] = struct{}{}
			m.flushBuffered(key)
		}
	}
}

// Unsubscribe symmetrically removes subscription entries.
func (m *Manager) Unsubscribe(events []string, contexts []string, channel string) {
	contextIDs := contexts
	if len(contextIDs) == 0 {
		contextIDs = []string{""}
	}
	for _, event := range events {
		for _, cid := range contextIDs {
			delete(m.subscriptions, subscriptionKey{event: event, contextID: cid, channel: channel})
		}
	}
}

// flushBuffered delivers every buffered event matching key's event name,
// then removes it from the buffer: events are consumed on flush. Within one
// context's buffer, events are delivered in their registration order. A
// null-context key matches every context's buffer, mirroring RegisterEvent's
// own matching rule; the buffers of different contexts are flushed one after
// another in no defined order, not interleaved by registration order.
func (m *Manager) flushBuffered(key subscriptionKey) {
	if key.contextID == "" {
		for contextID := range m.buffers {
			m.flushBufferedContext(key, contextID)
		}
		return
	}
	m.flushBufferedContext(key, key.contextID)
}

func (m *Manager) flushBufferedContext(key subscriptionKey, contextID string) {
	bucket := m.buffers[contextID]
	var remaining []bufferedEvent
	for _, be := range bucket {
		if be.event == key.event {
			m.sink.DeliverEvent(bidi.Event{Method: be.event, Params: be.params, Channel: key.channel})
		} else {
			remaining = append(remaining, be)
		}
	}
	m.buffers[contextID] = remaining
}

// RegisterEvent is called by domain processors whenever a CDP-driven
// outbound event occurs. It delivers to every matching subscription; if
// none match but the event is in alwaysBufferEvents, it is stored for a
// later subscriber instead of being dropped.
func (m *Manager) RegisterEvent(event, contextID string, params interface{}) {
	m.seq++
	delivered := false
	for key := range m.subscriptions {
		if key.event != event {
			continue
		}
		if key.contextID != "" && key.contextID != contextID {
			continue
		}
		m.sink.DeliverEvent(bidi.Event{Method: event, Params: params, Channel: key.channel})
		delivered = true
	}
	if !delivered && alwaysBufferEvents[event] && contextID != "" {
		m.buffers[contextID] = append(m.buffers[contextID], bufferedEvent{event: event, contextID: contextID, params: params, seq: m.seq})
	}
	logging.EventDebug("event %s context=%s delivered=%v", event, contextID, delivered)
}

// DiscardContext drops the buffer for contextID, called on context
// deletion.
func (m *Manager) DiscardContext(contextID string) {
	delete(m.buffers, contextID)
}
