package processor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bidicdp/mediator/internal/bidi"
	"github.com/bidicdp/mediator/internal/input"
)

type rawAction struct {
	Type     string  `json:"type"`
	Duration int64   `json:"duration"`
	Key      string  `json:"key"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Button   int     `json:"button"`
	DeltaX   float64 `json:"deltaX"`
	DeltaY   float64 `json:"deltaY"`
}

type rawSourceActions struct {
	Type    string      `json:"type"`
	ID      string      `json:"id"`
	Actions []rawAction `json:"actions"`
}

type performActionsParams struct {
	Context string             `json:"context"`
	Actions []rawSourceActions `json:"actions"`
}

type releaseActionsParams struct {
	Context string `json:"context"`
}

func registerInputHandlers(p *CommandProcessor, d *Domains) {
	p.Register("input.performActions", func(ctx context.Context, raw json.RawMessage) (interface{}, *bidi.Error) {
		var params performActionsParams
		if err := decodeParams(raw, &params); err != nil {
			return nil, err
		}
		bc, err := d.Contexts.GetContext(params.Context)
		if err != nil {
			return nil, err
		}
		if err := bc.AwaitUnblocked(ctx); err != nil {
			return nil, err
		}
		target, err := d.targetFor(params.Context)
		if err != nil {
			return nil, err
		}

		sources := make([]input.SourceAction, 0, len(params.Actions))
		for _, src := range params.Actions {
			sourceType := input.SourceType(src.Type)
			subtype := input.PointerSubtype("")
			if sourceType == input.SourcePointer {
				subtype = input.PointerMouse
			}
			actions := make([]input.Action, 0, len(src.Actions))
			for _, a := range src.Actions {
				actions = append(actions, input.Action{
					Type:   a.Type,
					Pause:  time.Duration(a.Duration) * time.Millisecond,
					Key:    a.Key,
					X:      a.X,
					Y:      a.Y,
					Button: a.Button,
					DeltaX: a.DeltaX,
					DeltaY: a.DeltaY,
				})
			}
			sources = append(sources, input.SourceAction{SourceID: src.ID, Type: sourceType, Subtype: subtype, Actions: actions})
		}

		if perr := d.Input.PerformActions(ctx, target.SessionID, params.Context, sources); perr != nil {
			return nil, perr
		}
		return map[string]interface{}{}, nil
	})

	p.Register("input.releaseActions", func(ctx context.Context, raw json.RawMessage) (interface{}, *bidi.Error) {
		var params releaseActionsParams
		if err := decodeParams(raw, &params); err != nil {
			return nil, err
		}
		target, err := d.targetFor(params.Context)
		if err != nil {
			return nil, err
		}
		if perr := d.Input.ReleaseActions(ctx, target.SessionID, params.Context); perr != nil {
			return nil, perr
		}
		return map[string]interface{}{}, nil
	})
}
