// Package realm implements RealmStorage and Realm:
// the indexed store of JavaScript execution realms and the ownership
// bookkeeping for remote object handles.
package realm

import (
	"github.com/google/uuid"

	"github.com/bidicdp/mediator/internal/bidi"
)

// Type is the BiDi realm type enumeration.
type Type string

const (
	TypeWindow         Type = "window"
	TypeDedicatedWorker Type = "dedicated-worker"
	TypeSharedWorker    Type = "shared-worker"
	TypeServiceWorker   Type = "service-worker"
	TypeWorker          Type = "worker"
	TypePaintWorklet     Type = "paint-worklet"
	TypeAudioWorklet     Type = "audio-worklet"
	TypeWorklet          Type = "worklet"
)

// Realm is one JavaScript execution environment.
type Realm struct {
	ID                 string
	BrowsingContextID   string
	SessionID           string
	ExecutionContextID  int64
	Origin              string
	RealmType           Type
	Sandbox             string // empty means no sandbox (principal realm)
}

// Filter selects realms by any combination of fields; zero fields are
// wildcards.
type Filter struct {
	ID          string
	ContextID   string
	RealmType   Type
	SessionID   string
	Sandbox     string
	HasSandbox  bool // when true, Sandbox is significant even if ""
}

func (f Filter) matches(r *Realm) bool {
	if f.ID != "" && r.ID != f.ID {
		return false
	}
	if f.ContextID != "" && r.BrowsingContextID != f.ContextID {
		return false
	}
	if f.RealmType != "" && r.RealmType != f.RealmType {
		return false
	}
	if f.SessionID != "" && r.SessionID != f.SessionID {
		return false
	}
	if f.HasSandbox && r.Sandbox != f.Sandbox {
		return false
	}
	return true
}

// Storage is the single-writer indexed store of realms and handle ownership.
// The entire event loop is cooperative and single-threaded, so Storage
// relies on confinement to one goroutine rather than mutexes.
type Storage struct {
	realms  map[string]*Realm
	handles map[string]string // handle -> realmId
}

// New constructs an empty realm storage.
func New() *Storage {
	return &Storage{
		realms:  make(map[string]*Realm),
		handles: make(map[string]string),
	}
}

// AddRealm registers a newly created realm, minting an id if one was not
// supplied by the caller.
func (s *Storage) AddRealm(r *Realm) *Realm {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	s.realms[r.ID] = r
	return r
}

// DeleteRealm removes a realm and purges every handle that pointed to it.
func (s *Storage) DeleteRealm(id string) {
	delete(s.realms, id)
	for h, rid := range s.handles {
		if rid == id {
			delete(s.handles, h)
		}
	}
}

// DeleteRealmsForContext removes every realm belonging to contextID, used
// on context teardown (cascade delete).
func (s *Storage) DeleteRealmsForContext(contextID string) {
	for id, r := range s.realms {
		if r.BrowsingContextID == contextID {
			s.DeleteRealm(id)
		}
	}
}

// DeleteRealmsForSession removes every realm belonging to sessionID, used
// on target/session detach.
func (s *Storage) DeleteRealmsForSession(sessionID string) {
	for id, r := range s.realms {
		if r.SessionID == sessionID {
			s.DeleteRealm(id)
		}
	}
}

// FindRealms returns every realm matching filter.
func (s *Storage) FindRealms(filter Filter) []*Realm {
	var out []*Realm
	for _, r := range s.realms {
		if filter.matches(r) {
			out = append(out, r)
		}
	}
	return out
}

// GetRealm returns exactly one realm matching filter, failing with
// NoSuchScript on zero matches or an ambiguity error on more than one.
func (s *Storage) GetRealm(filter Filter) (*Realm, *bidi.Error) {
	matches := s.FindRealms(filter)
	switch len(matches) {
	case 0:
		return nil, bidi.New(bidi.NoSuchScript, "no realm matches the given filter")
	case 1:
		return matches[0], nil
	default:
		return nil, bidi.New(bidi.UnknownError, "ambiguous realm filter: more than one realm matches")
	}
}

// RegisterHandle records that handle was granted by realmID.
func (s *Storage) RegisterHandle(handle, realmID string) {
	s.handles[handle] = realmID
}

// RealmForHandle returns the realm id that granted handle, if known.
func (s *Storage) RealmForHandle(handle string) (string, bool) {
	rid, ok := s.handles[handle]
	return rid, ok
}

// Disown removes a handle from the ownership table. It is a no-op (not an
// error) both when the handle is unknown and when it belongs to a
// different realm than the one requesting disown, so it is
// always idempotent.
func (s *Storage) Disown(handle, requestingRealmID string) {
	rid, ok := s.handles[handle]
	if !ok {
		return
	}
	if rid != requestingRealmID {
		return
	}
	delete(s.handles, handle)
}
