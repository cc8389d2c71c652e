package processor

import (
	"context"
	"encoding/json"

	"github.com/bidicdp/mediator/internal/bidi"
	"github.com/bidicdp/mediator/internal/realm"
)

type targetRef struct {
	Context string `json:"context"`
	Sandbox string `json:"sandbox"`
}

type evaluateParams struct {
	Expression      string                         `json:"expression"`
	Target          targetRef                      `json:"target"`
	AwaitPromise    bool                           `json:"awaitPromise"`
	ResultOwnership string                         `json:"resultOwnership"`
	SerializationOptions *realm.SerializationOptions `json:"serializationOptions"`
}

type callFunctionParams struct {
	FunctionDeclaration string                         `json:"functionDeclaration"`
	Target               targetRef                      `json:"target"`
	This                 *struct{ Handle string `json:"handle"` } `json:"this"`
	Arguments            []struct{ Handle string `json:"handle"` } `json:"arguments"`
	AwaitPromise         bool                           `json:"awaitPromise"`
	ResultOwnership      string                         `json:"resultOwnership"`
	SerializationOptions *realm.SerializationOptions    `json:"serializationOptions"`
}

type disownParams struct {
	Handles []string  `json:"handles"`
	Target  targetRef `json:"target"`
}

func registerScriptHandlers(p *CommandProcessor, d *Domains) {
	evaluator := realm.NewEvaluator(d.Conn, d.Realms, func(contextID string) string {
		if bc := d.Contexts.FindContext(contextID); bc != nil {
			return bc.LoaderID()
		}
		return ""
	})

	p.Register("script.evaluate", func(ctx context.Context, raw json.RawMessage) (interface{}, *bidi.Error) {
		var params evaluateParams
		if err := decodeParams(raw, &params); err != nil {
			return nil, err
		}
		r, err := d.resolveRealm(params.Target)
		if err != nil {
			return nil, err
		}
		value, evalErr := evaluator.ScriptEvaluate(ctx, r, params.Expression, params.AwaitPromise, realm.ResultOwnership(params.ResultOwnership), params.SerializationOptions)
		if evalErr != nil {
			return nil, evalErr
		}
		return map[string]interface{}{"type": "success", "result": value, "realm": r.ID}, nil
	})

	p.Register("script.callFunction", func(ctx context.Context, raw json.RawMessage) (interface{}, *bidi.Error) {
		var params callFunctionParams
		if err := decodeParams(raw, &params); err != nil {
			return nil, err
		}
		r, err := d.resolveRealm(params.Target)
		if err != nil {
			return nil, err
		}
		thisHandle := ""
		if params.This != nil {
			// Open Question (a): pass the this-handle straight through even
			// if it belongs to a different realm; do not pre-validate.
			thisHandle = params.This.Handle
		}
		var argHandles []string
		for _, a := range params.Arguments {
			argHandles = append(argHandles, a.Handle)
		}
		value, evalErr := evaluator.CallFunction(ctx, r, params.FunctionDeclaration, thisHandle, argHandles, params.AwaitPromise, realm.ResultOwnership(params.ResultOwnership), params.SerializationOptions)
		if evalErr != nil {
			return nil, evalErr
		}
		return map[string]interface{}{"type": "success", "result": value, "realm": r.ID}, nil
	})

	p.Register("script.disown", func(ctx context.Context, raw json.RawMessage) (interface{}, *bidi.Error) {
		var params disownParams
		if err := decodeParams(raw, &params); err != nil {
			return nil, err
		}
		r, err := d.resolveRealm(params.Target)
		if err != nil {
			return nil, err
		}
		for _, h := range params.Handles {
			d.Realms.Disown(h, r.ID)
		}
		return map[string]interface{}{}, nil
	})
}

// resolveRealm finds the principal or sandboxed realm for a script target
//: the context's principal realm when Sandbox is empty,
// otherwise the realm materialized for that sandbox name.
func (d *Domains) resolveRealm(t targetRef) (*realm.Realm, *bidi.Error) {
	bc, err := d.Contexts.GetContext(t.Context)
	if err != nil {
		return nil, err
	}
	filter := realm.Filter{ContextID: bc.ID}
	if t.Sandbox != "" {
		if realmID, ok := bc.SandboxRealm(t.Sandbox); ok {
			filter = realm.Filter{ID: realmID}
		} else {
			return nil, bidi.New(bidi.NoSuchScript, "no realm for sandbox "+t.Sandbox)
		}
	} else {
		filter.HasSandbox = true
		filter.Sandbox = ""
	}
	return d.Realms.GetRealm(filter)
}
