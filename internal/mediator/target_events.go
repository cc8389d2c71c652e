package mediator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bidicdp/mediator/internal/browsingcontext"
	"github.com/bidicdp/mediator/internal/logging"
	"github.com/bidicdp/mediator/internal/processor"
)

type targetInfo struct {
	TargetID string `json:"targetId"`
	Type     string `json:"type"`
	Title    string `json:"title"`
	URL      string `json:"url"`
}

// wireTargetEvents registers the browser-level (null-session) handlers for
// Target.attachedToTarget and Target.detachedFromTarget, handling target
// attach/detach and the out-of-process-iframe (OOPIF) session swap.
func (m *Mediator) wireTargetEvents() {
	m.cdpConn.On("", "Target.attachedToTarget", func(_ string, params json.RawMessage) {
		var evt struct {
			SessionID        string     `json:"sessionId"`
			TargetInfo       targetInfo `json:"targetInfo"`
			WaitingForDebugger bool     `json:"waitingForDebugger"`
		}
		if err := json.Unmarshal(params, &evt); err != nil {
			logging.TargetError("failed to parse Target.attachedToTarget: %v", err)
			return
		}
		if evt.TargetInfo.Type != "page" && evt.TargetInfo.Type != "iframe" {
			return
		}
		m.handleTargetAttached(evt.SessionID, evt.TargetInfo)
	})

	m.cdpConn.On("", "Target.detachedFromTarget", func(_ string, params json.RawMessage) {
		var evt struct {
			SessionID string `json:"sessionId"`
			TargetID  string `json:"targetId"`
		}
		if err := json.Unmarshal(params, &evt); err != nil {
			logging.TargetError("failed to parse Target.detachedFromTarget: %v", err)
			return
		}
		m.handleTargetDetached(evt.SessionID, evt.TargetID)
	})
}

func (m *Mediator) handleTargetAttached(sessionID string, info targetInfo) {
	d := m.domains

	if existing := d.Contexts.FindContext(info.TargetID); existing != nil {
		// OOPIF migration: same targetId re-attaching under a new session.
		// Swap the cdpTarget reference rather than creating a new context.
		newTarget := browsingcontext.NewTarget(info.TargetID, sessionID, m.cdpConn)
		d.Targets[info.TargetID] = newTarget
		processor.WireSessionEvents(d, sessionID, info.TargetID)
		go m.startTarget(newTarget, existing.ID)
		return
	}

	bc := browsingcontext.NewContext(info.TargetID, "", info.TargetID)
	d.Contexts.AddContext(bc)

	target := browsingcontext.NewTarget(info.TargetID, sessionID, m.cdpConn)
	d.Targets[info.TargetID] = target

	processor.WireSessionEvents(d, sessionID, info.TargetID)

	go m.startTarget(target, info.TargetID)

	d.Events.RegisterEvent("browsingContext.contextCreated", info.TargetID, map[string]interface{}{"context": info.TargetID, "parent": nil, "url": info.URL})
	d.Waiters.ResolveNewContext(info.TargetID, info.TargetID)

	logging.Target("target attached: %s (session %s)", info.TargetID, sessionID)
	logging.TargetAttach(info.TargetID, sessionID)
}

func (m *Mediator) startTarget(target *browsingcontext.Target, topLevelContextID string) {
	start := time.Now()
	subscribe := func() {} // event subscriptions are installed eagerly by WireSessionEvents before Start runs
	if err := target.Start(context.Background(), subscribe, m.domains.Preloads, topLevelContextID); err != nil {
		logging.TargetError("target %s failed to start: %v", target.TargetID, err)
		logging.TargetFail(target.TargetID, err)
		for _, id := range m.domains.Contexts.DeleteContext(topLevelContextID) {
			m.domains.Realms.DeleteRealmsForContext(id)
			m.domains.Events.DiscardContext(id)
		}
		return
	}
	logging.TargetReady(target.TargetID, time.Since(start).Milliseconds())
	if bc := m.domains.Contexts.FindContext(topLevelContextID); bc != nil {
		bc.MarkUnblocked()
	}
}

func (m *Mediator) handleTargetDetached(sessionID, targetID string) {
	d := m.domains

	if target, ok := d.Targets[targetID]; ok {
		target.Detach()
		delete(d.Targets, targetID)
	}
	d.Preloads.RemoveCdpPreloadScripts(targetID)

	for _, id := range d.Contexts.DeleteContext(targetID) {
		d.Realms.DeleteRealmsForContext(id)
		d.Realms.DeleteRealmsForSession(sessionID)
		d.Events.DiscardContext(id)
		logging.ContextDestroy(id)
	}

	d.Waiters.ResolveDetach(targetID)
	logging.Target("target detached: %s (session %s)", targetID, sessionID)
	logging.TargetDetach(targetID, sessionID)
}
