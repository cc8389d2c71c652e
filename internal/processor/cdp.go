package processor

import (
	"context"
	"encoding/json"

	"github.com/bidicdp/mediator/internal/bidi"
)

// cdpSendCommandParams mirrors BiDi's escape-hatch "cdp.sendCommand" method,
// which forwards arbitrary CDP calls through the same mediated connection.
type cdpSendCommandParams struct {
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params"`
	SessionID string          `json:"session"`
}

func registerCdpHandlers(p *CommandProcessor, d *Domains) {
	p.Register("cdp.sendCommand", func(ctx context.Context, raw json.RawMessage) (interface{}, *bidi.Error) {
		var params cdpSendCommandParams
		if err := decodeParams(raw, &params); err != nil {
			return nil, err
		}
		var cdpParams interface{}
		if len(params.Params) > 0 {
			if err := json.Unmarshal(params.Params, &cdpParams); err != nil {
				return nil, bidi.New(bidi.InvalidArgument, "failed to parse cdp params: "+err.Error())
			}
		}
		result, err := d.Conn.SendCommand(ctx, params.SessionID, params.Method, cdpParams)
		if err != nil {
			return nil, bidi.UnknownErrorFrom(err)
		}
		var decoded interface{}
		_ = json.Unmarshal(result, &decoded)
		return map[string]interface{}{"result": decoded}, nil
	})

	p.Register("cdp.getSession", func(ctx context.Context, raw json.RawMessage) (interface{}, *bidi.Error) {
		var params struct {
			Context string `json:"context"`
		}
		if err := decodeParams(raw, &params); err != nil {
			return nil, err
		}
		target, terr := d.targetFor(params.Context)
		if terr != nil {
			return nil, terr
		}
		return map[string]interface{}{"session": target.SessionID}, nil
	})
}
