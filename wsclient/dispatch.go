package wsclient

import "encoding/json"

// Frame is the client's view of a wire envelope (spec §6.1).
type Frame struct {
	Type    string          `json:"type"`
	Meta    map[string]any  `json:"meta"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ProgressType is the reserved progress frame type (spec §6.1).
const ProgressType = "$ws:rpc-progress"

// ErrorType is the reserved error frame type (spec §6.1).
const ErrorType = "ERROR"

// DispatchOutcome is the result of classifying one inbound frame against
// a pending request (spec §9: "a pure function of (frame, pendingEntry)").
type DispatchOutcome int

const (
	OutcomeResolve DispatchOutcome = iota
	OutcomeServerError
	OutcomeProgress
	OutcomeTypeMismatch
)

// Classify implements the four-way dispatch rule (spec §4.7 step 2,
// §9): a single decision point so the wire-format rules live in one
// place, independent of any timer/map/channel plumbing.
func Classify(frame Frame, expectedResponseType string) DispatchOutcome {
	switch frame.Type {
	case ErrorType:
		return OutcomeServerError
	case ProgressType:
		return OutcomeProgress
	case expectedResponseType:
		return OutcomeResolve
	default:
		return OutcomeTypeMismatch
	}
}
