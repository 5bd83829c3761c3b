package wsclient

import "fmt"

// The client reports failures as one of five distinct error kinds (spec
// §7 "Client-side errors"), rather than the server-side AppError
// taxonomy — the client never constructs AppErrors, it only reconstructs
// ServerError from inbound "ERROR" frames.

// ValidationError is a bad inbound frame or a reply whose type didn't
// match the expected response schema.
type ValidationError struct{ Msg string }

func (e *ValidationError) Error() string { return "wsclient: validation error: " + e.Msg }

// TimeoutError is raised when a pending request's timeoutMs elapses.
type TimeoutError struct{ CorrelationID string }

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("wsclient: request %s timed out", e.CorrelationID)
}

// ConnectionClosedError is raised for pending requests that cannot
// survive a disconnect (already in flight, or the client closed).
type ConnectionClosedError struct{ CorrelationID string }

func (e *ConnectionClosedError) Error() string {
	return fmt.Sprintf("wsclient: connection closed while request %s was pending", e.CorrelationID)
}

// StateError covers abort-before-dispatch, abort-mid-flight,
// pending-limit exceeded, and send-while-disconnected-with-queue-off.
type StateError struct{ Msg string }

func (e *StateError) Error() string { return "wsclient: " + e.Msg }

// ServerError is reconstructed from an "ERROR" wire frame (spec §7).
type ServerError struct {
	Code         string
	Message      string
	Context      map[string]any
	Retryable    bool
	RetryAfterMs *int64
}

func (e *ServerError) Error() string { return fmt.Sprintf("wsclient: server error %s: %s", e.Code, e.Message) }
