// Package processor implements CommandProcessor and the per-domain
// handler registries: envelope dispatch, per-method parameter validation,
// and concurrent command handling with id/channel correlation preserved.
// Handlers are registered into a name -> func dispatch table, the same
// shape as a CLI command tree, adapted from CLI commands to BiDi methods.
package processor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bidicdp/mediator/internal/bidi"
	"github.com/bidicdp/mediator/internal/logging"
)

// Handler processes one command's params and returns a result to be
// wrapped as {id, result, channel?}, or a *bidi.Error to be wrapped as
// {id, error, message, stacktrace?, channel?}. The originating command's
// channel is available from ctx via commandChannel.
type Handler func(ctx context.Context, params json.RawMessage) (interface{}, *bidi.Error)

type channelKey struct{}

// commandChannel returns the channel the currently-dispatched command was
// sent on ("" if none), as attached to ctx by dispatch.
func commandChannel(ctx context.Context) string {
	ch, _ := ctx.Value(channelKey{}).(string)
	return ch
}

// ResponseSink receives fully-formed outbound envelopes ready to send on
// the BiDi transport.
type ResponseSink interface {
	SendResponse(resp bidi.CommandResponse)
	SendError(resp bidi.ErrorResponse)
}

// CommandProcessor parses inbound BiDi messages, dispatches by method, and
// emits correlated responses. Commands are processed concurrently — each
// inbound message is dispatched in its own goroutine — but every response
// still carries the matching id and channel.
type CommandProcessor struct {
	handlers map[string]Handler
	sink     ResponseSink
}

// New constructs a CommandProcessor delivering through sink.
func New(sink ResponseSink) *CommandProcessor {
	return &CommandProcessor{handlers: make(map[string]Handler), sink: sink}
}

// Register installs the handler for one BiDi method (e.g. "browsingContext.navigate").
func (p *CommandProcessor) Register(method string, h Handler) {
	p.handlers[method] = h
}

// HandleMessage parses raw and dispatches it. Envelope-level failures
// are sent immediately; successful parses are dispatched to their handler
// on a new goroutine so independent commands interleave freely instead of
// serializing against each other.
func (p *CommandProcessor) HandleMessage(ctx context.Context, raw []byte) {
	cmd, parseErr := bidi.ParseCommand(raw)
	if parseErr != nil {
		logging.CommandError("envelope parse failed: %v", parseErr)
		p.sink.SendError(parseErr.ToErrorResponse(""))
		return
	}

	go p.dispatch(ctx, cmd)
}

func (p *CommandProcessor) dispatch(ctx context.Context, cmd *bidi.Command) {
	logging.CommandReceive(cmd.ID, cmd.Method)
	start := time.Now()

	handler, ok := p.handlers[cmd.Method]
	if !ok {
		err := bidi.New(bidi.UnknownCommand, "unknown command: "+cmd.Method)
		logging.LogCommandError(cmd.ID, cmd.Method, err)
		p.sink.SendError(bidi.ErrorResponse{
			ID:      uintPtr(cmd.ID),
			Error:   string(bidi.UnknownCommand),
			Message: "unknown command: " + cmd.Method,
			Channel: cmd.Channel,
		})
		return
	}

	result, err := handler(context.WithValue(ctx, channelKey{}, cmd.Channel), cmd.Params)
	if err != nil {
		logging.CommandDebug("command %s id=%d failed: %v", cmd.Method, cmd.ID, err)
		logging.LogCommandError(cmd.ID, cmd.Method, err)
		resp := err.ToErrorResponse(cmd.Channel)
		resp.ID = uintPtr(cmd.ID)
		p.sink.SendError(resp)
		return
	}

	logging.CommandComplete(cmd.ID, cmd.Method, time.Since(start).Milliseconds())
	p.sink.SendResponse(bidi.CommandResponse{ID: cmd.ID, Result: result, Channel: cmd.Channel})
}

func uintPtr(v uint64) *uint64 { return &v }
