// Package bidi defines the BiDi wire envelope, the error taxonomy, and the
// transport interface used to exchange JSON messages with a client.
package bidi

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// Command is a parsed inbound BiDi command envelope.
//
//	{ "id": <uint>, "method": "<domain>.<name>", "params": {...}, "channel"?: "<string>" }
type Command struct {
	ID      uint64
	Method  string
	Params  json.RawMessage
	Channel string // empty means absent
}

// CommandResponse is the outbound success envelope for a command.
type CommandResponse struct {
	ID      uint64      `json:"id"`
	Result  interface{} `json:"result"`
	Channel string      `json:"channel,omitempty"`
}

// ErrorResponse is the outbound failure envelope for a command, or for a
// malformed envelope that could not be dispatched at all.
type ErrorResponse struct {
	ID         *uint64 `json:"id,omitempty"`
	Error      string  `json:"error"`
	Message    string  `json:"message"`
	StackTrace string  `json:"stacktrace,omitempty"`
	Channel    string  `json:"channel,omitempty"`
}

// Event is an outbound BiDi event.
type Event struct {
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	Channel string      `json:"channel,omitempty"`
}

// rawEnvelope is the strict-unmarshal shape of an inbound command.
type rawEnvelope struct {
	ID      *int64          `json:"id"`
	Method  *string         `json:"method"`
	Params  json.RawMessage `json:"params"`
	Channel *string         `json:"channel"`
}

// ParseCommand parses a raw inbound message into a Command. On failure it
// returns an *Error (Invalid Argument) with Err.RecoveredID populated via a
// best-effort gjson scan when the strict unmarshal fails, so the client's
// "id" can still be recovered from a malformed payload when possible.
func ParseCommand(raw []byte) (*Command, *Error) {
	var env rawEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, newMalformedError(raw, fmt.Sprintf("malformed JSON: %v", err))
	}

	if env.ID == nil {
		return nil, newMalformedError(raw, "Expected unsigned integer but got undefined")
	}
	if *env.ID < 0 {
		return nil, newMalformedError(raw, "Expected unsigned integer but got negative value")
	}
	if env.Method == nil || *env.Method == "" {
		id := uint64(*env.ID)
		return nil, &Error{Code: InvalidArgument, Message: "Expected non-empty string for \"method\"", RecoveredID: &id}
	}
	if env.Params == nil {
		id := uint64(*env.ID)
		return nil, &Error{Code: InvalidArgument, Message: "Expected object for \"params\"", RecoveredID: &id}
	}

	channel := ""
	if env.Channel != nil {
		channel = *env.Channel // empty string normalizes to "" == absent, handled by callers
	}

	return &Command{
		ID:      uint64(*env.ID),
		Method:  *env.Method,
		Params:  env.Params,
		Channel: channel,
	}, nil
}

// newMalformedError builds an Invalid Argument error, attempting to recover
// an "id" field from otherwise-malformed JSON via gjson so the client still
// gets a correlated response when at all possible.
func newMalformedError(raw []byte, message string) *Error {
	err := &Error{Code: InvalidArgument, Message: message}
	if !gjson.ValidBytes(raw) {
		// Best effort even on invalid JSON: gjson.GetBytes degrades gracefully.
		res := gjson.GetBytes(raw, "id")
		if res.Type == gjson.Number && res.Num >= 0 {
			id := uint64(res.Num)
			err.RecoveredID = &id
		}
		return err
	}
	res := gjson.GetBytes(raw, "id")
	if res.Type == gjson.Number && res.Num >= 0 {
		id := uint64(res.Num)
		err.RecoveredID = &id
	}
	return err
}

// ToErrorResponse renders an Error as the outbound wire envelope.
func (e *Error) ToErrorResponse(channel string) ErrorResponse {
	resp := ErrorResponse{
		Error:      string(e.Code),
		Message:    e.Message,
		StackTrace: e.StackTrace,
		Channel:    channel,
	}
	if e.RecoveredID != nil {
		resp.ID = e.RecoveredID
	}
	return resp
}
