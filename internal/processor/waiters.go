package processor

import (
	"context"
	"sync"

	"github.com/bidicdp/mediator/internal/bidi"
)

// contextWaiters coordinates browsingContext.create / browsingContext.close
// with the asynchronous CDP events (Target.attachedToTarget /
// Target.detachedFromTarget) that actually complete them. internal/mediator
// resolves these as it wires CDP events into storage mutations.
type contextWaiters struct {
	mu           sync.Mutex
	newContext   map[string]chan string // targetID -> contextID once attached
	detached     map[string]chan struct{}
}

func newContextWaiters() *contextWaiters {
	return &contextWaiters{
		newContext: make(map[string]chan string),
		detached:   make(map[string]chan struct{}),
	}
}

// ResolveNewContext is called by internal/mediator once a
// Target.attachedToTarget event has produced a Context for targetID.
func (w *contextWaiters) ResolveNewContext(targetID, contextID string) {
	w.mu.Lock()
	ch, ok := w.newContext[targetID]
	w.mu.Unlock()
	if ok {
		ch <- contextID
	}
}

// ResolveDetach is called by internal/mediator once
// Target.detachedFromTarget(targetID) has been observed.
func (w *contextWaiters) ResolveDetach(targetID string) {
	w.mu.Lock()
	ch, ok := w.detached[targetID]
	w.mu.Unlock()
	if ok {
		close(ch)
	}
}

func (w *contextWaiters) waitForNewContext(targetID string) chan string {
	w.mu.Lock()
	defer w.mu.Unlock()
	ch := make(chan string, 1)
	w.newContext[targetID] = ch
	return ch
}

func (w *contextWaiters) waitForDetach(targetID string) chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	ch := make(chan struct{})
	w.detached[targetID] = ch
	return ch
}

func awaitNewContext(ctx context.Context, d *Domains, targetID string) (interface{}, *bidi.Error) {
	ch := d.Waiters.waitForNewContext(targetID)
	select {
	case contextID := <-ch:
		return map[string]interface{}{"context": contextID}, nil
	case <-ctx.Done():
		return nil, bidi.New(bidi.UnknownError, ctx.Err().Error())
	}
}

func awaitDetach(ctx context.Context, d *Domains, targetID string) *bidi.Error {
	ch := d.Waiters.waitForDetach(targetID)
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return bidi.New(bidi.UnknownError, ctx.Err().Error())
	}
}
