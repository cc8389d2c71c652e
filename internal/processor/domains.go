package processor

import (
	"encoding/json"

	"github.com/bidicdp/mediator/internal/bidi"
	"github.com/bidicdp/mediator/internal/browsingcontext"
	"github.com/bidicdp/mediator/internal/cdpconn"
	"github.com/bidicdp/mediator/internal/eventmgr"
	"github.com/bidicdp/mediator/internal/input"
	"github.com/bidicdp/mediator/internal/preload"
	"github.com/bidicdp/mediator/internal/realm"
)

// Domains bundles every collaborator the domain handlers need. Built once
// by internal/mediator and threaded through as an explicit collaborator
//, never stored as package state here.
type Domains struct {
	Contexts  *browsingcontext.Storage
	Realms    *realm.Storage
	Preloads  *preload.Storage
	Events    *eventmgr.Manager
	Input     *input.Dispatcher
	Conn      *cdpconn.Connection

	// Targets maps a top-level context id to its live CdpTarget. Target
	// lifecycle (attach/detach) is driven by internal/mediator's CDP event
	// wiring, which keeps this map current.
	Targets map[string]*browsingcontext.Target

	// SelfTargetID is filtered out of every public response and never
	// generates client-visible events.
	SelfTargetID string

	// NewUUID is the id generator supplied by internal/mediator; no handler
	// calls it (browsingContext.create takes its id from the browser).
	NewUUID func() string

	// Waiters coordinates commands that complete only once a later CDP
	// event arrives (browsingContext.create/close).
	Waiters *contextWaiters
}

// NewDomains constructs a Domains bundle with its internal waiter state
// initialized.
func NewDomains() *Domains {
	return &Domains{
		Targets: make(map[string]*browsingcontext.Target),
		Waiters: newContextWaiters(),
	}
}

// RegisterAll installs every domain's handlers into p.
func RegisterAll(p *CommandProcessor, d *Domains) {
	registerSessionHandlers(p, d)
	registerBrowsingContextHandlers(p, d)
	registerScriptHandlers(p, d)
	registerPreloadHandlers(p, d)
	registerInputHandlers(p, d)
	registerCdpHandlers(p, d)
}

// targetFor resolves the live CdpTarget owning contextID's top-level
// ancestor, failing with NoSuchFrame if the context or its target is gone.
func (d *Domains) targetFor(contextID string) (*browsingcontext.Target, *bidi.Error) {
	bc, err := d.Contexts.GetContext(contextID)
	if err != nil {
		return nil, err
	}
	topID := bc.ID
	for {
		ctxNode := d.Contexts.FindContext(topID)
		if ctxNode == nil || ctxNode.ParentID == "" {
			break
		}
		topID = ctxNode.ParentID
	}
	t, ok := d.Targets[topID]
	if !ok {
		return nil, bidi.NoSuchFrameErr(contextID)
	}
	return t, nil
}

// decodeParams unmarshals raw into v, translating a JSON error into the
// BiDi "invalid argument" taxonomy.
func decodeParams(raw json.RawMessage, v interface{}) *bidi.Error {
	if err := json.Unmarshal(raw, v); err != nil {
		return bidi.New(bidi.InvalidArgument, "failed to parse params: "+err.Error())
	}
	return nil
}

// isSelfTarget reports whether targetID is the mediator's own hosting tab,
// which must be filtered from all public responses.
func (d *Domains) isSelfTarget(targetID string) bool {
	return d.SelfTargetID != "" && targetID == d.SelfTargetID
}
