// Package wsclient implements the typed client state machine (spec
// §4.7): connection lifecycle, outbound normalization, pending-request
// correlation with four-way reply dispatch, offline queueing, and
// reconnect with exponential backoff. Grounded on the teacher library's
// pkg/resilience/retry.go (ExponentialBackoff formula, jitter model) and
// pkg/client's dial/reconnect loop shape.
package wsclient

// State is one of the five client lifecycle states (spec §3, §4.7).
type State string

const (
	StateClosed       State = "closed"
	StateConnecting   State = "connecting"
	StateOpen         State = "open"
	StateClosing      State = "closing"
	StateReconnecting State = "reconnecting"
)
