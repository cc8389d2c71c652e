// Package preload implements PreloadScriptStorage: BiDi preload-script
// records and their fan-out to per-target CDP preload-script ids. Plain
// indexed bookkeeping over per-target tracking.
package preload

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/bidicdp/mediator/internal/bidi"
	"github.com/bidicdp/mediator/internal/browsingcontext"
	"github.com/bidicdp/mediator/internal/logging"
)

// CdpInstallation is one (target, cdpPreloadScriptId) pair materializing a
// BidiPreloadScript on a specific target.
type CdpInstallation struct {
	TargetID         string
	CdpScriptID       string
}

// Script is a BidiPreloadScript record.
type Script struct {
	ID             string
	ContextFilter  string // "" means global (every top-level context)
	FunctionSource string
	Sandbox        string
	Installations  []CdpInstallation
}

// Filter selects preload scripts by id, context, or target.
type Filter struct {
	ID        string
	ContextID string
	TargetID  string
}


// Storage is the single-writer store of preload script records.
type Storage struct {
	scripts map[string]*Script
}

// New constructs an empty preload script storage.
func New() *Storage {
	return &Storage{scripts: make(map[string]*Script)}
}

// AddPreloadScripts registers a new BidiPreloadScript record. CDP
// installation onto already-attached targets is the caller's
// responsibility (internal/processor iterates live targets after this
// call), since that requires a live CdpCaller per target.
func (s *Storage) AddPreloadScripts(contextFilter, functionSource, sandbox string) *Script {
	rec := &Script{
		ID:             uuid.NewString(),
		ContextFilter:  contextFilter,
		FunctionSource: functionSource,
		Sandbox:        sandbox,
	}
	s.scripts[rec.ID] = rec
	return rec
}

// FindPreloadScripts returns every record matching filter.
func (s *Storage) FindPreloadScripts(filter Filter) []*Script {
	var out []*Script
	for _, rec := range s.scripts {
		if filter.ID != "" && rec.ID != filter.ID {
			continue
		}
		if filter.ContextID != "" && rec.ContextFilter != "" && rec.ContextFilter != filter.ContextID {
			continue
		}
		if filter.TargetID != "" {
			found := false
			for _, inst := range rec.Installations {
				if inst.TargetID == filter.TargetID {
					found = true
					break
				}
			}
			if !found {
				continue
			}
		}
		out = append(out, rec)
	}
	return out
}

// RemoveBiDiPreloadScripts deletes the record entirely;
// callers must separately issue Page.removeScriptToEvaluateOnNewDocument
// for each of its remaining installations before calling this.
func (s *Storage) RemoveBiDiPreloadScripts(id string) {
	delete(s.scripts, id)
}

// RemoveCdpPreloadScripts drops every installation on targetID across all
// records, called on target teardown. It retains the BiDi record itself
// when other targets still carry it.
func (s *Storage) RemoveCdpPreloadScripts(targetID string) {
	for _, rec := range s.scripts {
		filtered := rec.Installations[:0]
		for _, inst := range rec.Installations {
			if inst.TargetID != targetID {
				filtered = append(filtered, inst)
			}
		}
		rec.Installations = filtered
	}
}

// InstallOnTarget iterates every record whose ContextFilter is global or
// equal to topLevelContextID, installs it via
// Page.addScriptToEvaluateOnNewDocument, and records the installation
//. Satisfies
// browsingcontext.PreloadInstaller.
func (s *Storage) InstallOnTarget(ctx context.Context, caller browsingcontext.CdpCaller, sessionID, topLevelContextID string) ([]string, error) {
	var installedIDs []string
	for _, rec := range s.scripts {
		if rec.ContextFilter != "" && rec.ContextFilter != topLevelContextID {
			continue
		}
		params := map[string]interface{}{"source": rec.FunctionSource}
		if rec.Sandbox != "" {
			params["worldName"] = rec.Sandbox
		}
		raw, err := caller.SendCommand(ctx, sessionID, "Page.addScriptToEvaluateOnNewDocument", params)
		if err != nil {
			return installedIDs, fmt.Errorf("install preload script %s: %w", rec.ID, err)
		}
		var res struct {
			Identifier string `json:"identifier"`
		}
		if err := json.Unmarshal(raw, &res); err != nil {
			return installedIDs, fmt.Errorf("unmarshal preload install result: %w", err)
		}
		rec.Installations = append(rec.Installations, CdpInstallation{TargetID: topLevelContextID, CdpScriptID: res.Identifier})
		installedIDs = append(installedIDs, res.Identifier)
		logging.PreloadDebug("installed preload script %s on target %s as cdp id %s", rec.ID, topLevelContextID, res.Identifier)
	}
	return installedIDs, nil
}

// ValidateArguments rejects preload scripts declared with a non-empty
// `arguments` array: unsupported until the evaluator can thread extra CDP
// bindings through addScriptToEvaluateOnNewDocument.
func ValidateArguments(arguments []json.RawMessage) *bidi.Error {
	if len(arguments) > 0 {
		return bidi.New(bidi.UnsupportedOperation, "preload script arguments are not supported")
	}
	return nil
}
