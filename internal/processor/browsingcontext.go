package processor

import (
	"context"
	"encoding/json"

	"github.com/bidicdp/mediator/internal/bidi"
	"github.com/bidicdp/mediator/internal/browsingcontext"
)

type navigateParams struct {
	Context string `json:"context"`
	URL     string `json:"url"`
	Wait    string `json:"wait"`
}

type contextOnlyParams struct {
	Context string `json:"context"`
}

type captureScreenshotParams struct {
	Context string `json:"context"`
}

func registerBrowsingContextHandlers(p *CommandProcessor, d *Domains) {
	p.Register("browsingContext.navigate", func(ctx context.Context, raw json.RawMessage) (interface{}, *bidi.Error) {
		var params navigateParams
		if err := decodeParams(raw, &params); err != nil {
			return nil, err
		}
		bc, err := d.Contexts.GetContext(params.Context)
		if err != nil {
			return nil, err
		}
		target, err := d.targetFor(params.Context)
		if err != nil {
			return nil, err
		}
		if target.Failed() {
			return nil, bidi.New(bidi.UnknownError, "target failed during initialization")
		}

		wait := browsingcontext.WaitCondition(params.Wait)
		if wait == "" {
			wait = browsingcontext.WaitNone
		}

		if err := bc.AwaitUnblocked(ctx); err != nil {
			return nil, err
		}
		bc.StartNavigation()

		loaderID, url, navErr := target.Navigate(ctx, bc, params.URL, wait)
		if navErr != nil {
			return nil, navErr
		}
		return map[string]interface{}{"navigation": loaderID, "url": url}, nil
	})

	p.Register("browsingContext.getTree", func(ctx context.Context, raw json.RawMessage) (interface{}, *bidi.Error) {
		var tops []map[string]interface{}
		for _, c := range d.Contexts.GetTopLevelContexts() {
			if d.isSelfTarget(c.TargetID) {
				continue
			}
			tops = append(tops, contextInfo(d, c))
		}
		if tops == nil {
			tops = []map[string]interface{}{}
		}
		return map[string]interface{}{"contexts": tops}, nil
	})

	p.Register("browsingContext.create", func(ctx context.Context, raw json.RawMessage) (interface{}, *bidi.Error) {
		var params struct {
			Type string `json:"type"`
		}
		if err := decodeParams(raw, &params); err != nil {
			return nil, err
		}
		result, cerr := d.Conn.SendCommand(ctx, "", "Target.createTarget", map[string]interface{}{"url": "about:blank"})
		if cerr != nil {
			return nil, bidi.UnknownErrorFrom(cerr)
		}
		var res struct {
			TargetID string `json:"targetId"`
		}
		if err := json.Unmarshal(result, &res); err != nil {
			return nil, bidi.UnknownErrorFrom(err)
		}
		// The context record itself materializes from the
		// Target.attachedToTarget event this command triggers, handled by
		// internal/mediator's CDP event wiring; here we just await it.
		return awaitNewContext(ctx, d, res.TargetID)
	})

	p.Register("browsingContext.close", func(ctx context.Context, raw json.RawMessage) (interface{}, *bidi.Error) {
		var params contextOnlyParams
		if err := decodeParams(raw, &params); err != nil {
			return nil, err
		}
		bc, err := d.Contexts.GetContext(params.Context)
		if err != nil {
			return nil, err
		}
		if bc.ParentID != "" {
			return nil, bidi.New(bidi.InvalidArgument, "browsingContext.close requires a top-level context")
		}
		target, err := d.targetFor(params.Context)
		if err != nil {
			return nil, err
		}
		if err := target.CloseTarget(ctx); err != nil {
			return nil, err
		}
		// Resolution additionally requires observing
		// Target.detachedFromTarget; that signal
		// is delivered by internal/mediator's event wiring closing this
		// same context's "detached" channel, awaited here.
		return map[string]interface{}{}, awaitDetach(ctx, d, params.Context)
	})

	p.Register("browsingContext.captureScreenshot", func(ctx context.Context, raw json.RawMessage) (interface{}, *bidi.Error) {
		var params captureScreenshotParams
		if err := decodeParams(raw, &params); err != nil {
			return nil, err
		}
		bc, err := d.Contexts.GetContext(params.Context)
		if err != nil {
			return nil, err
		}
		// Per DESIGN.md Open Question (b): awaits Unblocked only, not Loaded.
		if err := bc.AwaitUnblocked(ctx); err != nil {
			return nil, err
		}
		target, err := d.targetFor(params.Context)
		if err != nil {
			return nil, err
		}
		result, cerr := target.CaptureScreenshot(ctx, map[string]interface{}{})
		if cerr != nil {
			return nil, cerr
		}
		var res map[string]interface{}
		_ = json.Unmarshal(result, &res)
		return map[string]interface{}{"data": res["data"]}, nil
	})

	p.Register("browsingContext.print", func(ctx context.Context, raw json.RawMessage) (interface{}, *bidi.Error) {
		var params contextOnlyParams
		if err := decodeParams(raw, &params); err != nil {
			return nil, err
		}
		target, err := d.targetFor(params.Context)
		if err != nil {
			return nil, err
		}
		result, cerr := target.PrintToPDF(ctx, map[string]interface{}{})
		if cerr != nil {
			return nil, cerr
		}
		var res map[string]interface{}
		_ = json.Unmarshal(result, &res)
		return map[string]interface{}{"data": res["data"]}, nil
	})
}

func contextInfo(d *Domains, c *browsingcontext.Context) map[string]interface{} {
	children := []map[string]interface{}{}
	for _, child := range d.Contexts.Children(c.ID) {
		children = append(children, contextInfo(d, child))
	}
	return map[string]interface{}{
		"context":  c.ID,
		"url":      c.URL(),
		"children": children,
		"parent":   nilableString(c.ParentID),
	}
}

func nilableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
