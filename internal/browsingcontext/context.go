package browsingcontext

import (
	"context"
	"sync"

	"github.com/bidicdp/mediator/internal/bidi"
	"github.com/bidicdp/mediator/internal/logging"
)

// NavigationState is the BrowsingContextImpl state machine.
type NavigationState string

const (
	StateInitial     NavigationState = "initial"
	StateNavigating  NavigationState = "navigating"
	StateLoading     NavigationState = "loading"
	StateInteractive NavigationState = "interactive"
	StateComplete    NavigationState = "complete"
	StateDeleted     NavigationState = "deleted"
)

// WaitCondition is the BiDi browsingContext.navigate `wait` parameter.
type WaitCondition string

const (
	WaitNone        WaitCondition = "none"
	WaitInteractive WaitCondition = "interactive"
	WaitComplete    WaitCondition = "complete"
)

// navWaiter is a one-shot completion sink for a pending navigate() call,
// keyed by the loader id it is waiting on.
type navWaiter struct {
	loaderID string
	wait     WaitCondition
	done     chan navResult
}

type navResult struct {
	url string
	err *bidi.Error
}

// Context is one BrowsingContext entity. It holds its own
// navigation state machine and the edge-triggered unblocked/loaded signals
// that gate operations needing a fully initialized context (§4.3
// "awaitUnblocked / awaitLoaded").
type Context struct {
	ID        string
	ParentID  string // "" means top-level
	TargetID  string // owning CdpTarget's target id

	mu         sync.Mutex
	url        string
	state      NavigationState
	loaderID   string // current navigation's loader id (== "navigableId")

	unblocked   chan struct{} // closed once the about:blank bootstrap completes
	unblockedOk bool

	loaded   chan struct{} // closed at `load` for the current navigation
	loadedOk bool

	waiters []*navWaiter

	sandboxRealms map[string]string // sandbox name -> realmId, for quick lookup
}

// NewContext constructs a fresh context in the Initial state.
func NewContext(id, parentID, targetID string) *Context {
	return &Context{
		ID:            id,
		ParentID:      parentID,
		TargetID:      targetID,
		state:         StateInitial,
		unblocked:     make(chan struct{}),
		loaded:        make(chan struct{}),
		sandboxRealms: make(map[string]string),
	}
}

// URL returns the context's current URL.
func (c *Context) URL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.url
}

// State returns the current navigation state.
func (c *Context) State() NavigationState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LoaderID returns the loader id ("navigableId") of the current/most recent
// navigation, used to scope sharedId values.
func (c *Context) LoaderID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loaderID
}

// MarkUnblocked signals that the about:blank bootstrap has completed,
// releasing every operation parked in AwaitUnblocked.
func (c *Context) MarkUnblocked() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.unblockedOk {
		c.unblockedOk = true
		close(c.unblocked)
	}
}

// AwaitUnblocked parks the caller until MarkUnblocked has been called or
// ctx is done. Deleting the context does not release it.
func (c *Context) AwaitUnblocked(ctx context.Context) *bidi.Error {
	c.mu.Lock()
	ch := c.unblocked
	c.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return bidi.New(bidi.UnknownError, ctx.Err().Error())
	}
}

// AwaitLoaded parks the caller until the current navigation reaches `load`.
func (c *Context) AwaitLoaded(ctx context.Context) *bidi.Error {
	c.mu.Lock()
	ch := c.loaded
	c.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return bidi.New(bidi.UnknownError, ctx.Err().Error())
	}
}

// StartNavigation transitions Initial/Complete -> Navigating and resets the
// edge-triggered `loaded` signal for the new navigation.
func (c *Context) StartNavigation() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateNavigating
	c.loaded = make(chan struct{})
	c.loadedOk = false
}

// RegisterWaiter parks a navigate() call until loaderID reaches the state
// implied by wait, returning the result channel to block on.
func (c *Context) RegisterWaiter(loaderID string, wait WaitCondition) <-chan navResult {
	w := &navWaiter{loaderID: loaderID, wait: wait, done: make(chan navResult, 1)}
	c.mu.Lock()
	c.waiters = append(c.waiters, w)
	c.mu.Unlock()
	return w.done
}

// OnFrameNavigated handles Page.frameNavigated: Navigating -> Loading,
// recording the URL and loader id.
func (c *Context) OnFrameNavigated(url, loaderID string) {
	c.mu.Lock()
	c.url = url
	c.loaderID = loaderID
	c.state = StateLoading
	c.mu.Unlock()
	c.resolveWaiters(loaderID, WaitNone, navResult{url: url})
}

// OnLifecycleEvent handles Page.lifecycleEvent: DOMContentLoaded drives
// Loading -> Interactive; load drives Interactive -> Complete.
func (c *Context) OnLifecycleEvent(name, loaderID string) {
	switch name {
	case "DOMContentLoaded":
		c.mu.Lock()
		if c.state == StateLoading {
			c.state = StateInteractive
		}
		url := c.url
		c.mu.Unlock()
		c.resolveWaiters(loaderID, WaitInteractive, navResult{url: url})
	case "load":
		c.mu.Lock()
		if c.state == StateInteractive || c.state == StateLoading {
			c.state = StateComplete
		}
		url := c.url
		if !c.loadedOk {
			c.loadedOk = true
			close(c.loaded)
		}
		c.mu.Unlock()
		c.resolveWaiters(loaderID, WaitComplete, navResult{url: url})
	}
}

// OnNavigateCommandSent records that a navigate() command was issued, for
// the WaitNone case where the caller resolves before any lifecycle event.
func (c *Context) OnNavigateCommandSent(loaderID, url string) {
	c.mu.Lock()
	c.state = StateNavigating
	c.mu.Unlock()
	c.resolveWaiters(loaderID, WaitNone, navResult{url: url})
}

// FailNavigation resolves every pending waiter for loaderID with err (an
// unknown error when err is nil) — used when Page.navigate itself returns
// errorText.
func (c *Context) FailNavigation(loaderID string, err *bidi.Error) {
	if err == nil {
		err = bidi.New(bidi.UnknownError, "navigation failed")
	}
	c.mu.Lock()
	remaining := c.waiters[:0]
	var matched []*navWaiter
	for _, w := range c.waiters {
		if w.loaderID == loaderID {
			matched = append(matched, w)
		} else {
			remaining = append(remaining, w)
		}
	}
	c.waiters = remaining
	c.mu.Unlock()
	for _, w := range matched {
		w.done <- navResult{err: err}
	}
}

// Delete transitions the context to Deleted and fails every pending
// navigation waiter with "navigation aborted".
func (c *Context) Delete() {
	c.mu.Lock()
	c.state = StateDeleted
	waiters := c.waiters
	c.waiters = nil
	c.mu.Unlock()
	for _, w := range waiters {
		w.done <- navResult{err: bidi.New(bidi.UnknownError, "navigation aborted")}
	}
	logging.ContextDebug("context %s deleted", c.ID)
}

// resolveWaiters completes every waiter for loaderID whose requested wait
// condition has now been reached.
func (c *Context) resolveWaiters(loaderID string, reached WaitCondition, result navResult) {
	levels := map[WaitCondition]int{WaitNone: 0, WaitInteractive: 1, WaitComplete: 2}
	c.mu.Lock()
	var remaining []*navWaiter
	var matched []*navWaiter
	for _, w := range c.waiters {
		if w.loaderID == loaderID && levels[reached] >= levels[w.wait] {
			matched = append(matched, w)
		} else {
			remaining = append(remaining, w)
		}
	}
	c.waiters = remaining
	c.mu.Unlock()
	for _, w := range matched {
		w.done <- result
	}
}

// AddSandboxRealm records the realm id materialized for a sandbox name.
func (c *Context) AddSandboxRealm(sandbox, realmID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sandboxRealms[sandbox] = realmID
}

// SandboxRealm looks up the realm id for a sandbox name, if one exists.
func (c *Context) SandboxRealm(sandbox string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.sandboxRealms[sandbox]
	return id, ok
}
