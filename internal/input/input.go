// Package input implements the input dispatcher: per top-level context
// InputState, tick decomposition of performActions, and releaseActions.
// Actions use the same tagged-variant idiom as the CDP proto types they
// get translated into.
package input

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bidicdp/mediator/internal/bidi"
)

// SourceType is the input source subtype, fixed on first use.
type SourceType string

const (
	SourceNone    SourceType = "none"
	SourceKey     SourceType = "key"
	SourcePointer SourceType = "pointer"
	SourceWheel   SourceType = "wheel"
)

// PointerSubtype distinguishes pointer sources.
type PointerSubtype string

const (
	PointerMouse PointerSubtype = "mouse"
	PointerPen   PointerSubtype = "pen"
	PointerTouch PointerSubtype = "touch"
)

// Action is a tagged-variant action; dispatch on action.Type maps to a
// specific CDP Input.* call.
type Action struct {
	Type     string // "pause", "keyDown", "keyUp", "pointerDown", "pointerUp", "pointerMove", "scroll", ...
	Pause    time.Duration
	Key      string
	X, Y     float64
	Button   int
	DeltaX   float64
	DeltaY   float64
	Raw      json.RawMessage
}

// SourceAction is one source's full action sequence for performActions.
type SourceAction struct {
	SourceID string
	Type     SourceType
	Subtype  PointerSubtype
	Actions  []Action
}

// sourceState tracks per-source runtime state across ticks.
type sourceState struct {
	sourceType SourceType
	subtype    PointerSubtype
	subtypeSet bool
	pressed    map[int]bool
	modifiers  int
	lastX, lastY float64
}

// cancelAction is one inverse action recorded for releaseActions.
type cancelAction struct {
	sourceID string
	action   Action
}

// State is the InputState for one top-level context.
type State struct {
	ContextID  string
	sources    map[string]*sourceState
	cancelList []cancelAction
}

// NewState constructs an empty InputState for a context.
func NewState(contextID string) *State {
	return &State{ContextID: contextID, sources: make(map[string]*sourceState)}
}

// Dispatcher decomposes performActions into ticks and issues the matching
// CDP Input.* calls.
type Dispatcher struct {
	caller CdpCaller
	states map[string]*State // contextID -> InputState
}

// CdpCaller is the minimal CDP surface the dispatcher needs.
type CdpCaller interface {
	SendCommand(ctx context.Context, sessionID, method string, params interface{}) (json.RawMessage, error)
}

// NewDispatcher constructs an input dispatcher issuing CDP calls via caller.
func NewDispatcher(caller CdpCaller) *Dispatcher {
	return &Dispatcher{caller: caller, states: make(map[string]*State)}
}

func (d *Dispatcher) stateFor(contextID string) *State {
	s, ok := d.states[contextID]
	if !ok {
		s = NewState(contextID)
		d.states[contextID] = s
	}
	return s
}

// PerformActions decomposes sources into ticks: tick i contains one action
// from each source whose sequence has length > i.
func (d *Dispatcher) PerformActions(ctx context.Context, sessionID, contextID string, sources []SourceAction) *bidi.Error {
	state := d.stateFor(contextID)

	for _, src := range sources {
		existing, ok := state.sources[src.SourceID]
		if !ok {
			existing = &sourceState{sourceType: src.Type, pressed: make(map[int]bool)}
			state.sources[src.SourceID] = existing
		}
		if src.Type == SourcePointer {
			if existing.subtypeSet && existing.subtype != src.Subtype {
				return bidi.New(bidi.InvalidArgument, fmt.Sprintf("source %s already uses pointer subtype %s", src.SourceID, existing.subtype))
			}
			existing.subtype = src.Subtype
			existing.subtypeSet = true
		}
	}

	maxLen := 0
	for _, src := range sources {
		if len(src.Actions) > maxLen {
			maxLen = len(src.Actions)
		}
	}

	for tick := 0; tick < maxLen; tick++ {
		if err := d.dispatchTick(ctx, sessionID, state, sources, tick); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) dispatchTick(ctx context.Context, sessionID string, state *State, sources []SourceAction, tick int) *bidi.Error {
	var maxPause time.Duration
	type dispatchJob struct {
		srcID  string
		action Action
	}
	var jobs []dispatchJob

	for _, src := range sources {
		if tick >= len(src.Actions) {
			continue
		}
		action := src.Actions[tick]
		if action.Type == "pause" {
			if action.Pause > maxPause {
				maxPause = action.Pause
			}
			continue
		}
		jobs = append(jobs, dispatchJob{srcID: src.SourceID, action: action})
	}

	start := time.Now()
	errCh := make(chan *bidi.Error, len(jobs))
	for _, job := range jobs {
		go func(j dispatchJob) {
			errCh <- d.dispatchAction(ctx, sessionID, state, j.srcID, j.action)
		}(job)
	}
	var firstErr *bidi.Error
	for range jobs {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
		}
	}

	elapsed := time.Since(start)
	if remaining := maxPause - elapsed; remaining > 0 {
		select {
		case <-time.After(remaining):
		case <-ctx.Done():
			return bidi.New(bidi.UnknownError, ctx.Err().Error())
		}
	}

	return firstErr
}

// dispatchAction issues the CDP call for one action and prepends its
// inverse to cancelList.
func (d *Dispatcher) dispatchAction(ctx context.Context, sessionID string, state *State, sourceID string, action Action) *bidi.Error {
	src := state.sources[sourceID]

	var method string
	var params map[string]interface{}
	var inverse Action

	switch action.Type {
	case "keyDown":
		method = "Input.dispatchKeyEvent"
		params = map[string]interface{}{"type": "keyDown", "key": action.Key}
		inverse = Action{Type: "keyUp", Key: action.Key}
	case "keyUp":
		method = "Input.dispatchKeyEvent"
		params = map[string]interface{}{"type": "keyUp", "key": action.Key}
		inverse = Action{Type: "keyDown", Key: action.Key}
	case "pointerDown":
		method = pointerMethod(src.subtype)
		params = map[string]interface{}{"type": "mousePressed", "x": action.X, "y": action.Y, "button": buttonName(action.Button)}
		inverse = Action{Type: "pointerUp", X: action.X, Y: action.Y, Button: action.Button}
	case "pointerUp":
		method = pointerMethod(src.subtype)
		params = map[string]interface{}{"type": "mouseReleased", "x": action.X, "y": action.Y, "button": buttonName(action.Button)}
		inverse = Action{Type: "pointerDown", X: action.X, Y: action.Y, Button: action.Button}
	case "pointerMove":
		method = pointerMethod(src.subtype)
		params = map[string]interface{}{"type": "mouseMoved", "x": action.X, "y": action.Y}
		inverse = Action{Type: "pointerMove", X: src.lastX, Y: src.lastY}
	case "scroll":
		method = "Input.dispatchMouseEvent"
		params = map[string]interface{}{"type": "mouseWheel", "x": action.X, "y": action.Y, "deltaX": action.DeltaX, "deltaY": action.DeltaY}
		inverse = Action{Type: "scroll", X: action.X, Y: action.Y, DeltaX: -action.DeltaX, DeltaY: -action.DeltaY}
	default:
		return bidi.New(bidi.InvalidArgument, fmt.Sprintf("unsupported action type %q", action.Type))
	}

	if _, err := d.caller.SendCommand(ctx, sessionID, method, params); err != nil {
		return bidi.UnknownErrorFrom(err)
	}

	src.lastX, src.lastY = action.X, action.Y
	state.cancelList = append([]cancelAction{{sourceID: sourceID, action: inverse}}, state.cancelList...)
	return nil
}

func pointerMethod(subtype PointerSubtype) string {
	if subtype == PointerTouch {
		return "Input.dispatchTouchEvent"
	}
	return "Input.dispatchMouseEvent"
}

func buttonName(button int) string {
	switch button {
	case 1:
		return "middle"
	case 2:
		return "right"
	default:
		return "left"
	}
}

// ReleaseActions dispatches the accumulated cancelList as a single tick
// sequence (newest-first, i.e. as accumulated) and deletes the InputState.
func (d *Dispatcher) ReleaseActions(ctx context.Context, sessionID, contextID string) *bidi.Error {
	state, ok := d.states[contextID]
	if !ok {
		return nil
	}
	for _, ca := range state.cancelList {
		if err := d.dispatchAction(ctx, sessionID, state, ca.sourceID, ca.action); err != nil {
			return err
		}
	}
	delete(d.states, contextID)
	return nil
}
