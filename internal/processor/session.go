package processor

import (
	"context"
	"encoding/json"

	"github.com/bidicdp/mediator/internal/bidi"
	"github.com/bidicdp/mediator/internal/logging"
)

type subscribeParams struct {
	Events   []string `json:"events"`
	Contexts []string `json:"contexts"`
}

func registerSessionHandlers(p *CommandProcessor, d *Domains) {
	p.Register("session.subscribe", func(ctx context.Context, raw json.RawMessage) (interface{}, *bidi.Error) {
		var params subscribeParams
		if err := decodeParams(raw, &params); err != nil {
			return nil, err
		}
		if len(params.Events) == 0 {
			return nil, bidi.New(bidi.InvalidArgument, "events must be non-empty")
		}
		for _, cid := range params.Contexts {
			if _, err := d.Contexts.GetContext(cid); err != nil {
				return nil, err
			}
		}
		channel := commandChannel(ctx)
		d.Events.Subscribe(params.Events, params.Contexts, channel)
		logging.Subscribe(params.Events, params.Contexts, channel)
		return map[string]interface{}{}, nil
	})

	p.Register("session.unsubscribe", func(ctx context.Context, raw json.RawMessage) (interface{}, *bidi.Error) {
		var params subscribeParams
		if err := decodeParams(raw, &params); err != nil {
			return nil, err
		}
		channel := commandChannel(ctx)
		d.Events.Unsubscribe(params.Events, params.Contexts, channel)
		logging.Unsubscribe(params.Events, params.Contexts, channel)
		return map[string]interface{}{}, nil
	})

	p.Register("session.status", func(ctx context.Context, raw json.RawMessage) (interface{}, *bidi.Error) {
		return map[string]interface{}{"ready": true, "message": ""}, nil
	})
}
