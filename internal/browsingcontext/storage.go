// Package browsingcontext implements BrowsingContextStorage, the
// BrowsingContext navigation state machine, and CdpTarget bring-up,
// generalizing plain target/session bookkeeping into a full navigation
// state machine.
package browsingcontext

import (
	"github.com/bidicdp/mediator/internal/bidi"
)

// Storage is the single-writer tree of browsing contexts, keyed by opaque
// context id.
type Storage struct {
	contexts map[string]*Context
}

// New constructs an empty context storage.
func New() *Storage {
	return &Storage{contexts: make(map[string]*Context)}
}

// FindContext returns the context for id, or nil if absent.
func (s *Storage) FindContext(id string) *Context {
	return s.contexts[id]
}

// GetContext returns the context for id, failing with NoSuchFrame if absent.
func (s *Storage) GetContext(id string) (*Context, *bidi.Error) {
	c, ok := s.contexts[id]
	if !ok {
		return nil, bidi.NoSuchFrameErr(id)
	}
	return c, nil
}

// AddContext registers a newly created context.
func (s *Storage) AddContext(c *Context) {
	s.contexts[c.ID] = c
}

// GetTopLevelContexts returns every context with no parent, in no
// particular persisted order (callers needing stable order sort by
// creation sequence, tracked separately by the caller if required).
func (s *Storage) GetTopLevelContexts() []*Context {
	var out []*Context
	for _, c := range s.contexts {
		if c.ParentID == "" {
			out = append(out, c)
		}
	}
	return out
}

// Children returns the direct children of id.
func (s *Storage) Children(id string) []*Context {
	var out []*Context
	for _, c := range s.contexts {
		if c.ParentID == id {
			out = append(out, c)
		}
	}
	return out
}

// DeleteContext removes id and cascades to every descendant, mirroring
// frame-detach cascade-delete semantics. Each removed context has Delete
// called on it (failing any pending navigate() waiters) before it leaves
// the map, so callers never need a post-removal lookup to trigger that.
// Returns the full set of ids removed, so callers (realm/preload storages)
// can purge their own state for each one.
func (s *Storage) DeleteContext(id string) []string {
	removed := []string{}
	var cascade func(string)
	cascade = func(cid string) {
		for _, child := range s.Children(cid) {
			cascade(child.ID)
		}
		if c, ok := s.contexts[cid]; ok {
			c.Delete()
			delete(s.contexts, cid)
			removed = append(removed, cid)
		}
	}
	cascade(id)
	return removed
}

// All returns every context currently in storage.
func (s *Storage) All() []*Context {
	out := make([]*Context, 0, len(s.contexts))
	for _, c := range s.contexts {
		out = append(out, c)
	}
	return out
}
