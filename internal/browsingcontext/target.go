package browsingcontext

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/bidicdp/mediator/internal/bidi"
	"github.com/bidicdp/mediator/internal/cdpconn"
	"github.com/bidicdp/mediator/internal/logging"
)

// CdpCaller is the minimal CDP surface CdpTarget needs. Satisfied by
// *cdpconn.Connection.
type CdpCaller interface {
	SendCommand(ctx context.Context, sessionID, method string, params interface{}) (json.RawMessage, error)
	On(sessionID, method string, handler cdpconn.EventHandler)
	RemoveSession(sessionID string)
}

// PreloadInstaller installs every applicable preload script on a newly
// attached target, returning the CDP preload-script ids it registered.
// Implemented by internal/preload.Storage; declared as an interface here to
// avoid an import cycle.
type PreloadInstaller interface {
	InstallOnTarget(ctx context.Context, caller CdpCaller, sessionID, topLevelContextID string) ([]string, error)
}

// Target is one attached browser target. Owns the
// CdpSession (identified here by sessionID) and gates operations behind a
// "ready" signal until Runtime/Page are enabled and preload scripts are
// installed.
type Target struct {
	TargetID  string
	SessionID string

	caller  CdpCaller
	ready   chan struct{}
	readyOk bool
	failed  bool

	preloadScriptIDs []string
}

// NewTarget constructs a Target bound to one CDP session.
func NewTarget(targetID, sessionID string, caller CdpCaller) *Target {
	return &Target{TargetID: targetID, SessionID: sessionID, caller: caller, ready: make(chan struct{})}
}

// Start runs the fixed target bring-up order:
//  1. subscribe to the required CDP events (caller-supplied, since the
//     concrete handlers live in the processor that owns storages)
//  2. enable Page/Runtime/lifecycle events concurrently
//  3. install preload scripts
//  4. release runIfWaitingForDebugger
//
// Any failure marks the target failed and returns an error; the caller
// (internal/mediator wiring) is responsible for destroying the context.
func (t *Target) Start(ctx context.Context, subscribe func(), installer PreloadInstaller, topLevelContextID string) error {
	subscribe()
	defer func() {
		if t.failed {
			close(t.ready)
		}
	}()

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		_, err := t.caller.SendCommand(egCtx, t.SessionID, "Page.enable", map[string]interface{}{})
		return err
	})
	eg.Go(func() error {
		_, err := t.caller.SendCommand(egCtx, t.SessionID, "Runtime.enable", map[string]interface{}{})
		return err
	})
	eg.Go(func() error {
		_, err := t.caller.SendCommand(egCtx, t.SessionID, "Page.setLifecycleEventsEnabled", map[string]interface{}{"enabled": true})
		return err
	})
	if err := eg.Wait(); err != nil {
		t.failed = true
		logging.TargetError("target %s failed domain bring-up: %v", t.TargetID, err)
		return fmt.Errorf("enable CDP domains: %w", err)
	}

	if installer != nil {
		ids, err := installer.InstallOnTarget(ctx, t.caller, t.SessionID, topLevelContextID)
		if err != nil {
			t.failed = true
			logging.TargetError("target %s failed preload install: %v", t.TargetID, err)
			return fmt.Errorf("install preload scripts: %w", err)
		}
		t.preloadScriptIDs = ids
	}

	if _, err := t.caller.SendCommand(ctx, t.SessionID, "Runtime.runIfWaitingForDebugger", map[string]interface{}{}); err != nil {
		t.failed = true
		logging.TargetError("target %s failed runIfWaitingForDebugger: %v", t.TargetID, err)
		return fmt.Errorf("runIfWaitingForDebugger: %w", err)
	}

	t.readyOk = true
	close(t.ready)
	logging.TargetDebug("target %s ready", t.TargetID)
	return nil
}

// AwaitReady parks the caller until bring-up finishes.
func (t *Target) AwaitReady(ctx context.Context) *bidi.Error {
	select {
	case <-t.ready:
		if t.failed {
			return bidi.New(bidi.UnknownError, "target failed during initialization")
		}
		return nil
	case <-ctx.Done():
		return bidi.New(bidi.UnknownError, ctx.Err().Error())
	}
}

// Failed reports whether bring-up ended in failure.
func (t *Target) Failed() bool { return t.failed }

// Detach removes this target's session from the CDP connection's listener
// tables.
func (t *Target) Detach() {
	t.caller.RemoveSession(t.SessionID)
}

// Navigate issues Page.navigate and threads the result into the owning
// context's navigation state machine per the `wait` contract.
func (t *Target) Navigate(ctx context.Context, bc *Context, url string, wait WaitCondition) (loaderID, resultURL string, bidiErr *bidi.Error) {
	raw, err := t.caller.SendCommand(ctx, t.SessionID, "Page.navigate", map[string]interface{}{"url": url})
	if err != nil {
		return "", "", bidi.UnknownErrorFrom(err)
	}

	var res struct {
		FrameID   string `json:"frameId"`
		LoaderID  string `json:"loaderId"`
		ErrorText string `json:"errorText"`
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return "", "", bidi.UnknownErrorFrom(fmt.Errorf("unmarshal Page.navigate result: %w", err))
	}
	if res.ErrorText != "" {
		bidiErr := bidi.New(bidi.UnknownError, res.ErrorText)
		bc.FailNavigation(res.LoaderID, bidiErr)
		return "", "", bidiErr
	}

	waitCh := bc.RegisterWaiter(res.LoaderID, wait)
	bc.OnNavigateCommandSent(res.LoaderID, url)
	logging.ContextNavigate(bc.ID, url, res.LoaderID)

	if wait == WaitNone {
		return res.LoaderID, url, nil
	}

	select {
	case result := <-waitCh:
		if result.err != nil {
			return "", "", result.err
		}
		return res.LoaderID, result.url, nil
	case <-ctx.Done():
		return "", "", bidi.New(bidi.UnknownError, ctx.Err().Error())
	}
}

// CaptureScreenshot delegates to Page.captureScreenshot without awaiting
// anything itself; per the Open Question decision in DESIGN.md, the caller
// awaits only Unblocked, not Loaded, before calling it.
func (t *Target) CaptureScreenshot(ctx context.Context, params map[string]interface{}) (json.RawMessage, *bidi.Error) {
	raw, err := t.caller.SendCommand(ctx, t.SessionID, "Page.captureScreenshot", params)
	if err != nil {
		return nil, bidi.UnknownErrorFrom(err)
	}
	return raw, nil
}

// PrintToPDF delegates to Page.printToPDF.
func (t *Target) PrintToPDF(ctx context.Context, params map[string]interface{}) (json.RawMessage, *bidi.Error) {
	raw, err := t.caller.SendCommand(ctx, t.SessionID, "Page.printToPDF", params)
	if err != nil {
		return nil, bidi.UnknownErrorFrom(err)
	}
	return raw, nil
}

// CloseTarget issues Target.closeTarget; the caller is responsible for
// waiting on the corresponding Target.detachedFromTarget event before
// resolving browsingContext.close.
func (t *Target) CloseTarget(ctx context.Context) *bidi.Error {
	_, err := t.caller.SendCommand(ctx, "", "Target.closeTarget", map[string]interface{}{"targetId": t.TargetID})
	if err != nil {
		return bidi.UnknownErrorFrom(err)
	}
	return nil
}
