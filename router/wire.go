package router

import (
	"encoding/json"

	"github.com/chris-alexander-pop/wsrouter/internal/wserr"
	"github.com/chris-alexander-pop/wsrouter/schema"
)

// reservedMetaKeys are server-only keys stripped from any client- or
// handler-supplied meta before it reaches the wire (spec §3).
var reservedMetaKeys = []string{"clientId", "receivedAt", "correlationId"}

func stripReservedKeys(meta map[string]any) {
	for _, k := range reservedMetaKeys {
		delete(meta, k)
	}
}

// wireFrame is the JSON shape of every frame (spec §6.1).
type wireFrame struct {
	Type    string         `json:"type"`
	Meta    map[string]any `json:"meta"`
	Payload any            `json:"payload,omitempty"`
}

// validatePayload round-trips payload through JSON and re-validates it
// against sch, reusing the inbound SafeParse capability for outgoing
// strictness (spec §4.1: "By default every send/reply/progress/publish
// validates the outgoing message against its schema").
func validatePayload(sch schema.Schema, payload any) (schema.Result, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return schema.Result{}, err
	}
	var asMap map[string]any
	if err := json.Unmarshal(raw, &asMap); err != nil {
		return schema.Result{}, err
	}
	result := sch.SafeParse(map[string]any{
		"type":    sch.Type(),
		"meta":    map[string]any{},
		"payload": asMap,
	})
	if !result.OK {
		return result, wserr.New(wserr.ValidationError, "outgoing payload failed schema validation", nil).WithDetails(result.Issues)
	}
	return result, nil
}

func encodeOutgoing(sch schema.Schema, meta map[string]any, payload any) ([]byte, error) {
	if sch != nil && sch.ValidateOutgoing() {
		if _, err := validatePayload(sch, payload); err != nil {
			return nil, err
		}
	}
	msgType := ""
	if sch != nil {
		msgType = sch.Type()
	}
	return json.Marshal(wireFrame{Type: msgType, Meta: meta, Payload: payload})
}

func encodeErrorFrame(meta map[string]any, payload map[string]any) ([]byte, error) {
	return json.Marshal(wireFrame{Type: "ERROR", Meta: meta, Payload: payload})
}

func encodeProgressFrame(meta map[string]any, payload any) ([]byte, error) {
	return json.Marshal(wireFrame{Type: ProgressType, Meta: meta, Payload: payload})
}

// ProgressType is the reserved namespace for RPC progress frames (spec §6.1).
const ProgressType = "$ws:rpc-progress"
