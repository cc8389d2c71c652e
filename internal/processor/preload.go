package processor

import (
	"context"
	"encoding/json"

	"github.com/bidicdp/mediator/internal/bidi"
	"github.com/bidicdp/mediator/internal/logging"
	"github.com/bidicdp/mediator/internal/preload"
)

type addPreloadScriptParams struct {
	FunctionDeclaration string            `json:"functionDeclaration"`
	Arguments           []json.RawMessage `json:"arguments"`
	Sandbox             string            `json:"sandbox"`
	Contexts            []string          `json:"contexts"`
}

type removePreloadScriptParams struct {
	Script string `json:"script"`
}

// registerPreloadHandlers wires script.addPreloadScript and
// script.removePreloadScript. Installation onto live
// targets happens here rather than inside internal/preload, since only
// the processor has access to the set of currently attached targets.
func registerPreloadHandlers(p *CommandProcessor, d *Domains) {
	p.Register("script.addPreloadScript", func(ctx context.Context, raw json.RawMessage) (interface{}, *bidi.Error) {
		var params addPreloadScriptParams
		if err := decodeParams(raw, &params); err != nil {
			return nil, err
		}
		if err := preload.ValidateArguments(params.Arguments); err != nil {
			return nil, err
		}
		contextFilter := ""
		if len(params.Contexts) > 0 {
			contextFilter = params.Contexts[0]
		}
		rec := d.Preloads.AddPreloadScripts(contextFilter, params.FunctionDeclaration, params.Sandbox)

		for topLevelContextID, target := range d.Targets {
			if contextFilter != "" && contextFilter != topLevelContextID {
				continue
			}
			ids, err := d.Preloads.InstallOnTarget(ctx, d.Conn, target.SessionID, topLevelContextID)
			if err != nil {
				logging.PreloadError("failed to install preload script %s on target %s: %v", rec.ID, topLevelContextID, err)
				continue
			}
			for _, cdpID := range ids {
				logging.PreloadInstall(rec.ID, topLevelContextID, cdpID)
			}
		}
		return map[string]interface{}{"script": rec.ID}, nil
	})

	p.Register("script.removePreloadScript", func(ctx context.Context, raw json.RawMessage) (interface{}, *bidi.Error) {
		var params removePreloadScriptParams
		if err := decodeParams(raw, &params); err != nil {
			return nil, err
		}
		matches := d.Preloads.FindPreloadScripts(preload.Filter{ID: params.Script})
		if len(matches) == 0 {
			return nil, bidi.New(bidi.NoSuchScript, "no preload script with id "+params.Script)
		}
		rec := matches[0]
		for _, inst := range rec.Installations {
			target, ok := d.Targets[inst.TargetID]
			if !ok {
				continue
			}
			if _, err := d.Conn.SendCommand(ctx, target.SessionID, "Page.removeScriptToEvaluateOnNewDocument", map[string]interface{}{"identifier": inst.CdpScriptID}); err != nil {
				logging.PreloadWarn("failed to remove cdp preload script %s on target %s: %v", inst.CdpScriptID, inst.TargetID, err)
			}
		}
		d.Preloads.RemoveBiDiPreloadScripts(rec.ID)
		logging.PreloadRemove(rec.ID)
		return map[string]interface{}{}, nil
	})
}
