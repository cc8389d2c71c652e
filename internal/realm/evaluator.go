package realm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bidicdp/mediator/internal/bidi"
)

// sharedIDDivider is the literal divider used to build a node's sharedId
// from its owning navigable id and CDP backend node id.
// Kept as a single named constant so every caller uses the same format.
const sharedIDDivider = "_node_"

// CdpCaller is the minimal CDP surface the evaluator needs: calling
// Runtime.callFunctionOn / Runtime.evaluate and releasing objects. Satisfied
// by *cdpconn.Connection scoped to one session; kept as an interface here so
// this package has no import-cycle dependency on cdpconn.
type CdpCaller interface {
	SendCommand(ctx context.Context, sessionID, method string, params interface{}) (json.RawMessage, error)
}

// SerializationOptions forwards directly into CDP's serializationOptions.
type SerializationOptions struct {
	MaxDOMDepth         *int    `json:"maxDomDepth,omitempty"`
	MaxObjectDepth       *int    `json:"maxObjectDepth,omitempty"`
	IncludeShadowTree    string  `json:"includeShadowTree,omitempty"`
}

// ResultOwnership mirrors BiDi's resultOwnership enum.
type ResultOwnership string

const (
	OwnershipRoot ResultOwnership = "root"
	OwnershipNone ResultOwnership = "none"
)

// RemoteValue is the BiDi-shaped serialized value returned from script
// evaluation. Represented generically (map-based) because RemoteValue is a
// recursive, many-shaped union; a full typed tree is unnecessary ceremony
// for a JSON-in/JSON-out translation layer.
type RemoteValue map[string]interface{}

// deepSerializedValue is the CDP-side shape returned in result.value when
// serializationOptions requests deep serialization.
type deepSerializedValue struct {
	Type                    string                 `json:"type"`
	Value                   json.RawMessage        `json:"value,omitempty"`
	ObjectID                string                 `json:"objectId,omitempty"`
	WeakLocalObjectReference string                `json:"weakLocalObjectReference,omitempty"`
}

type evalResult struct {
	Type                     string                  `json:"type"`
	Subtype                  string                  `json:"subtype,omitempty"`
	ObjectID                 string                  `json:"objectId,omitempty"`
	DeepSerializedValue      json.RawMessage         `json:"deepSerializedValue,omitempty"`
}

type callFunctionOnResult struct {
	Result           evalResult `json:"result"`
	ExceptionDetails *struct {
		Text string `json:"text"`
	} `json:"exceptionDetails,omitempty"`
}

// Evaluator evaluates and calls functions inside one realm and serializes
// CDP results into BiDi RemoteValues.
type Evaluator struct {
	conn       CdpCaller
	storage    *Storage
	navigableID func(contextID string) string // looks up the current loader id for sharedId construction
}

// NewEvaluator constructs an Evaluator bound to a CdpCaller and the shared
// realm storage (for handle registration).
func NewEvaluator(conn CdpCaller, storage *Storage, navigableID func(string) string) *Evaluator {
	return &Evaluator{conn: conn, storage: storage, navigableID: navigableID}
}

// ScriptEvaluate evaluates expression in r via Runtime.evaluate.
func (e *Evaluator) ScriptEvaluate(ctx context.Context, r *Realm, expression string, awaitPromise bool, ownership ResultOwnership, opts *SerializationOptions) (RemoteValue, *bidi.Error) {
	params := map[string]interface{}{
		"expression":          expression,
		"contextId":           r.ExecutionContextID,
		"awaitPromise":        awaitPromise,
		"serializationOptions": opts,
		"generatePreview":     false,
	}
	raw, err := e.conn.SendCommand(ctx, r.SessionID, "Runtime.evaluate", params)
	if err != nil {
		return nil, bidi.UnknownErrorFrom(err)
	}
	return e.handleResult(raw, r, ownership)
}

// CallFunction evaluates functionDeclaration with the given arguments and
// optional `this` handle. A this-handle from a different realm is passed
// straight through to CDP rather than pre-validated.
func (e *Evaluator) CallFunction(ctx context.Context, r *Realm, functionDeclaration string, thisHandle string, argumentHandles []string, awaitPromise bool, ownership ResultOwnership, opts *SerializationOptions) (RemoteValue, *bidi.Error) {
	args := make([]map[string]interface{}, 0, len(argumentHandles))
	for _, h := range argumentHandles {
		args = append(args, map[string]interface{}{"objectId": h})
	}
	params := map[string]interface{}{
		"functionDeclaration": functionDeclaration,
		"arguments":           args,
		"executionContextId":  r.ExecutionContextID,
		"awaitPromise":        awaitPromise,
		"serializationOptions": opts,
		"generatePreview":     false,
	}
	if thisHandle != "" {
		params["objectId"] = thisHandle
	}
	raw, err := e.conn.SendCommand(ctx, r.SessionID, "Runtime.callFunctionOn", params)
	if err != nil {
		return nil, bidi.UnknownErrorFrom(err)
	}
	return e.handleResult(raw, r, ownership)
}

func (e *Evaluator) handleResult(raw json.RawMessage, r *Realm, ownership ResultOwnership) (RemoteValue, *bidi.Error) {
	var res callFunctionOnResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, bidi.UnknownErrorFrom(fmt.Errorf("unmarshal Runtime result: %w", err))
	}
	if res.ExceptionDetails != nil {
		return nil, bidi.New(bidi.UnknownError, res.ExceptionDetails.Text)
	}

	var dsv deepSerializedValue
	if len(res.Result.DeepSerializedValue) > 0 {
		if err := json.Unmarshal(res.Result.DeepSerializedValue, &dsv); err != nil {
			return nil, bidi.UnknownErrorFrom(fmt.Errorf("unmarshal deepSerializedValue: %w", err))
		}
	} else {
		dsv = deepSerializedValue{Type: res.Result.Type}
	}

	value := e.serialize(dsv, r)

	if res.Result.ObjectID != "" {
		switch ownership {
		case OwnershipRoot:
			value["handle"] = res.Result.ObjectID
			e.storage.RegisterHandle(res.Result.ObjectID, r.ID)
		case OwnershipNone:
			// fire-and-forget release; "Invalid remote object id" (-32000) is
			// swallowed.
			go func(objID string) {
				ctx := context.Background()
				_, _ = e.conn.SendCommand(ctx, r.SessionID, "Runtime.releaseObject", map[string]interface{}{"objectId": objID})
			}(res.Result.ObjectID)
		}
	}

	return value, nil
}

// serialize transforms one deepSerializedValue node into a BiDi RemoteValue,
// applying three rewrites:
//   - weakLocalObjectReference -> internalId
//   - {type: "platformobject", ...} -> {type: "object"}
//   - {type: "node", value: {backendNodeId, ...}} gets sharedId attached
func (e *Evaluator) serialize(dsv deepSerializedValue, r *Realm) RemoteValue {
	out := RemoteValue{"type": dsv.Type}

	if dsv.WeakLocalObjectReference != "" {
		out["internalId"] = dsv.WeakLocalObjectReference
	}

	switch dsv.Type {
	case "platformobject":
		out["type"] = "object"
		return out
	case "node":
		var nodeValue map[string]interface{}
		if len(dsv.Value) > 0 {
			_ = json.Unmarshal(dsv.Value, &nodeValue)
		}
		if nodeValue == nil {
			nodeValue = map[string]interface{}{}
		}
		if backendNodeID, ok := nodeValue["backendNodeId"]; ok {
			navigableID := e.navigableID(r.BrowsingContextID)
			out["sharedId"] = fmt.Sprintf("%s%s%v", navigableID, sharedIDDivider, backendNodeID)
		}
		out["value"] = e.serializeChildren(nodeValue, r)
		return out
	}

	if len(dsv.Value) == 0 {
		return out
	}

	switch dsv.Type {
	case "array", "set":
		var items []deepSerializedValue
		if err := json.Unmarshal(dsv.Value, &items); err == nil {
			serializedItems := make([]RemoteValue, 0, len(items))
			for _, item := range items {
				serializedItems = append(serializedItems, e.serialize(item, r))
			}
			out["value"] = serializedItems
			return out
		}
	case "object", "map":
		var entries [][2]deepSerializedValue
		if err := json.Unmarshal(dsv.Value, &entries); err == nil {
			serializedEntries := make([][2]interface{}, 0, len(entries))
			for _, entry := range entries {
				serializedEntries = append(serializedEntries, [2]interface{}{
					e.serialize(entry[0], r),
					e.serialize(entry[1], r),
				})
			}
			out["value"] = serializedEntries
			return out
		}
	}

	var generic interface{}
	_ = json.Unmarshal(dsv.Value, &generic)
	out["value"] = generic
	return out
}

func (e *Evaluator) serializeChildren(nodeValue map[string]interface{}, r *Realm) map[string]interface{} {
	// Node children (nodeType, nodeName, attributes, childNodeCount,
	// children) pass through as-is; only backendNodeId drives sharedId, and
	// that's handled by the caller.
	result := make(map[string]interface{}, len(nodeValue))
	for k, v := range nodeValue {
		if strings.EqualFold(k, "backendNodeId") {
			continue
		}
		result[k] = v
	}
	return result
}
