// Package wserr provides the structured error taxonomy used across the
// router, pub/sub, rate limiter and client packages.
//
// It implements the AppError contract described by the teacher library's
// pkg/errors package: a stable Code, a human Message, and an optional
// wrapped cause, plus a Retryable/RetryAfter derivation used by the router
// to decide how to surface a failure on the wire.
package wserr

import (
	"errors"
	"fmt"
)

// Code is one of the standard taxonomy codes (spec §7) or an app-defined
// literal. App code is free to mint its own Code values.
type Code string

const (
	Unauthenticated    Code = "UNAUTHENTICATED"
	PermissionDenied   Code = "PERMISSION_DENIED"
	InvalidArgument    Code = "INVALID_ARGUMENT"
	FailedPrecondition Code = "FAILED_PRECONDITION"
	NotFound           Code = "NOT_FOUND"
	AlreadyExists      Code = "ALREADY_EXISTS"
	Unimplemented      Code = "UNIMPLEMENTED"
	Cancelled          Code = "CANCELLED"
	DeadlineExceeded   Code = "DEADLINE_EXCEEDED"
	ResourceExhausted  Code = "RESOURCE_EXHAUSTED"
	Unavailable        Code = "UNAVAILABLE"
	Aborted            Code = "ABORTED"
	Internal           Code = "INTERNAL"

	// Non-standard codes used by the topics subsystem (spec §4.3) and, for
	// VALIDATION_ERROR, by the router's schema validation step.
	InvalidTopic         Code = "INVALID_TOPIC"
	TopicLimitExceeded   Code = "TOPIC_LIMIT_EXCEEDED"
	AdapterError         Code = "ADAPTER_ERROR"
	ValidationError      Code = "VALIDATION_ERROR"
)

// defaultRetryable mirrors the table in spec §7. Codes absent from this map
// default to non-retryable.
var defaultRetryable = map[Code]bool{
	DeadlineExceeded:  true,
	ResourceExhausted: true,
	Unavailable:       true,
	Aborted:           true,
}

// AppError is the structured error carried through the router pipeline and
// surfaced as an "ERROR" wire frame.
type AppError struct {
	Code         Code
	Message      string
	Details      any
	Cause        error
	retryable    *bool
	retryAfterMs *int64
}

// New creates an AppError. cause may be nil.
func New(code Code, message string, cause error) *AppError {
	return &AppError{Code: code, Message: message, Cause: cause}
}

// Newf creates an AppError with a formatted message.
func Newf(code Code, cause error, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Wrap attaches a Code to an arbitrary error, used at middleware/handler
// panic-recovery boundaries where the underlying error carries no code.
func Wrap(err error, code Code, message string) *AppError {
	if err == nil {
		return nil
	}
	var ae *AppError
	if errors.As(err, &ae) {
		return ae
	}
	return New(code, message, err)
}

// WithDetails attaches structured details (e.g. validation issues) and
// returns the same error for chaining.
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// WithRetryAfter marks the error retryable with an explicit retry-after
// duration in milliseconds. Pass nil-equivalent via WithImpossible for the
// "impossible under policy" case.
func (e *AppError) WithRetryAfter(ms int64) *AppError {
	t := true
	e.retryable = &t
	e.retryAfterMs = &ms
	return e
}

// WithImpossible marks the error as non-retryable with no retry-after,
// used for the "cost > capacity" rate-limit case (spec §4.5, §8).
func (e *AppError) WithImpossible() *AppError {
	f := false
	e.retryable = &f
	e.retryAfterMs = nil
	return e
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Cause }

// Retryable reports whether the error should be retried, falling back to
// the spec §7 default table when not explicitly set.
func (e *AppError) Retryable() bool {
	if e.retryable != nil {
		return *e.retryable
	}
	return defaultRetryable[e.Code]
}

// RetryAfterMs returns the retry-after hint in milliseconds, or nil when
// none applies (matches the wire payload's retryAfterMs?: number|null).
func (e *AppError) RetryAfterMs() *int64 {
	return e.retryAfterMs
}

// As reports whether err (or a wrapped error in its chain) is an *AppError,
// populating target like errors.As.
func As(err error, target **AppError) bool {
	return errors.As(err, target)
}

// CodeOf extracts the Code from err, defaulting to Internal when err is not
// an *AppError (the "exception caught and mapped to INTERNAL" rule, §7).
func CodeOf(err error) Code {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return Internal
}
