package processor

import (
	"encoding/json"

	"github.com/bidicdp/mediator/internal/browsingcontext"
	"github.com/bidicdp/mediator/internal/logging"
	"github.com/bidicdp/mediator/internal/realm"
)

// WireSessionEvents registers every per-session CDP event handler needed
// for one attached target's session: execution context lifecycle, frame
// lifecycle/navigation, and log forwarding. Called by internal/mediator
// once per CdpTarget, before CdpTarget.Start issues Page.enable /
// Runtime.enable.
func WireSessionEvents(d *Domains, sessionID, topLevelContextID string) {
	conn := d.Conn

	conn.On(sessionID, "Runtime.executionContextCreated", func(_ string, params json.RawMessage) {
		var evt struct {
			Context struct {
				ID     int64                  `json:"id"`
				Origin string                 `json:"origin"`
				AuxData map[string]interface{} `json:"auxData"`
			} `json:"context"`
		}
		if err := json.Unmarshal(params, &evt); err != nil {
			return
		}
		frameID, _ := evt.Context.AuxData["frameId"].(string)
		isDefault, _ := evt.Context.AuxData["isDefault"].(bool)
		if frameID == "" {
			frameID = topLevelContextID
		}
		sandbox := ""
		if name, ok := evt.Context.AuxData["name"].(string); ok && !isDefault {
			sandbox = name
		}
		r := d.Realms.AddRealm(&realm.Realm{
			BrowsingContextID:  frameID,
			SessionID:          sessionID,
			ExecutionContextID: evt.Context.ID,
			Origin:             evt.Context.Origin,
			RealmType:          realm.TypeWindow,
			Sandbox:            sandbox,
		})
		if sandbox != "" {
			if bc := d.Contexts.FindContext(frameID); bc != nil {
				bc.AddSandboxRealm(sandbox, r.ID)
			}
		}
		logging.RealmDebug("realm %s created for context %s (sandbox=%q)", r.ID, frameID, sandbox)
		logging.RealmCreate(r.ID, frameID, sandbox)
	})

	conn.On(sessionID, "Runtime.executionContextDestroyed", func(_ string, params json.RawMessage) {
		var evt struct {
			ExecutionContextID int64 `json:"executionContextId"`
		}
		if err := json.Unmarshal(params, &evt); err != nil {
			return
		}
		for _, r := range d.Realms.FindRealms(realm.Filter{SessionID: sessionID}) {
			if r.ExecutionContextID == evt.ExecutionContextID {
				d.Realms.DeleteRealm(r.ID)
				logging.RealmDestroy(r.ID)
			}
		}
	})

	conn.On(sessionID, "Runtime.executionContextsCleared", func(_ string, _ json.RawMessage) {
		d.Realms.DeleteRealmsForSession(sessionID)
	})

	conn.On(sessionID, "Page.frameAttached", func(_ string, params json.RawMessage) {
		var evt struct {
			FrameID       string `json:"frameId"`
			ParentFrameID string `json:"parentFrameId"`
		}
		if err := json.Unmarshal(params, &evt); err != nil {
			return
		}
		if d.Contexts.FindContext(evt.FrameID) != nil {
			return
		}
		child := browsingcontext.NewContext(evt.FrameID, evt.ParentFrameID, topLevelContextID)
		d.Contexts.AddContext(child)
		d.Events.RegisterEvent("browsingContext.contextCreated", evt.FrameID, map[string]interface{}{"context": evt.FrameID, "parent": evt.ParentFrameID})
	})

	conn.On(sessionID, "Page.frameDetached", func(_ string, params json.RawMessage) {
		var evt struct {
			FrameID string `json:"frameId"`
			Reason  string `json:"reason"`
		}
		if err := json.Unmarshal(params, &evt); err != nil {
			return
		}
		if evt.Reason == "swap" {
			return
		}
		for _, id := range d.Contexts.DeleteContext(evt.FrameID) {
			d.Realms.DeleteRealmsForContext(id)
			d.Events.DiscardContext(id)
			logging.ContextDestroy(id)
		}
	})

	conn.On(sessionID, "Page.frameNavigated", func(_ string, params json.RawMessage) {
		var evt struct {
			Frame struct {
				ID       string `json:"id"`
				URL      string `json:"url"`
				LoaderID string `json:"loaderId"`
			} `json:"frame"`
		}
		if err := json.Unmarshal(params, &evt); err != nil {
			return
		}
		bc := d.Contexts.FindContext(evt.Frame.ID)
		if bc == nil {
			return
		}
		bc.OnFrameNavigated(evt.Frame.URL, evt.Frame.LoaderID)
	})

	conn.On(sessionID, "Page.lifecycleEvent", func(_ string, params json.RawMessage) {
		var evt struct {
			FrameID  string `json:"frameId"`
			LoaderID string `json:"loaderId"`
			Name     string `json:"name"`
		}
		if err := json.Unmarshal(params, &evt); err != nil {
			return
		}
		bc := d.Contexts.FindContext(evt.FrameID)
		if bc == nil {
			return
		}
		bc.OnLifecycleEvent(evt.Name, evt.LoaderID)
		switch evt.Name {
		case "DOMContentLoaded":
			d.Events.RegisterEvent("browsingContext.domContentLoaded", evt.FrameID, map[string]interface{}{"context": evt.FrameID, "navigation": evt.LoaderID, "url": bc.URL()})
		case "load":
			d.Events.RegisterEvent("browsingContext.load", evt.FrameID, map[string]interface{}{"context": evt.FrameID, "navigation": evt.LoaderID, "url": bc.URL()})
			logging.ContextLoaded(evt.FrameID, evt.LoaderID, 0)
			if evt.FrameID == topLevelContextID {
				bc.MarkUnblocked()
			}
		}
	})

	conn.On(sessionID, "Page.fileChooserOpened", func(_ string, params json.RawMessage) {
		var evt struct {
			FrameID string `json:"frameId"`
			Mode    string `json:"mode"`
		}
		if err := json.Unmarshal(params, &evt); err != nil {
			return
		}
		logging.ContextDebug("file chooser opened in frame %s (mode=%s)", evt.FrameID, evt.Mode)
	})

	wireLogEvents(d, sessionID, topLevelContextID)
}

// wireLogEvents is the SPEC_FULL.md §12 supplemented feature: forwarding
// Runtime.consoleAPICalled / Runtime.exceptionThrown as BiDi log.entryAdded
// events, reusing the same EventManager buffering/subscription path as
// browsingContext.* events.
func wireLogEvents(d *Domains, sessionID, topLevelContextID string) {
	conn := d.Conn

	conn.On(sessionID, "Runtime.consoleAPICalled", func(_ string, params json.RawMessage) {
		var evt struct {
			Type      string          `json:"type"`
			Args      json.RawMessage `json:"args"`
			Timestamp float64         `json:"timestamp"`
		}
		if err := json.Unmarshal(params, &evt); err != nil {
			return
		}
		d.Events.RegisterEvent("log.entryAdded", topLevelContextID, map[string]interface{}{
			"level":     consoleLevel(evt.Type),
			"source":    map[string]interface{}{"realm": "", "context": topLevelContextID},
			"text":      "",
			"timestamp": int64(evt.Timestamp),
			"args":      json.RawMessage(evt.Args),
			"type":      "console",
			"method":    evt.Type,
		})
	})

	conn.On(sessionID, "Runtime.exceptionThrown", func(_ string, params json.RawMessage) {
		var evt struct {
			Timestamp        float64 `json:"timestamp"`
			ExceptionDetails struct {
				Text string `json:"text"`
			} `json:"exceptionDetails"`
		}
		if err := json.Unmarshal(params, &evt); err != nil {
			return
		}
		d.Events.RegisterEvent("log.entryAdded", topLevelContextID, map[string]interface{}{
			"level":     "error",
			"source":    map[string]interface{}{"realm": "", "context": topLevelContextID},
			"text":      evt.ExceptionDetails.Text,
			"timestamp": int64(evt.Timestamp),
			"type":      "javascript",
		})
	})
}

func consoleLevel(consoleType string) string {
	switch consoleType {
	case "warning":
		return "warn"
	case "error", "assert":
		return "error"
	case "debug":
		return "debug"
	default:
		return "info"
	}
}
