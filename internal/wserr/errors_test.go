package wserr

import (
	"errors"
	"testing"
)

func TestRetryableDefaults(t *testing.T) {
	if New(Internal, "x", nil).Retryable() {
		t.Fatal("INTERNAL should default to non-retryable")
	}
	if !New(Unavailable, "x", nil).Retryable() {
		t.Fatal("UNAVAILABLE should default to retryable")
	}
}

func TestWithImpossibleIsNonRetryableWithNilRetryAfter(t *testing.T) {
	e := New(FailedPrecondition, "cost exceeds capacity", nil).WithImpossible()
	if e.Retryable() {
		t.Fatal("WithImpossible should mark non-retryable")
	}
	if e.RetryAfterMs() != nil {
		t.Fatal("WithImpossible should leave retryAfterMs nil")
	}
}

func TestWithRetryAfterOverridesRetryable(t *testing.T) {
	e := New(ResourceExhausted, "rate limited", nil).WithRetryAfter(500)
	if !e.Retryable() {
		t.Fatal("explicit retryAfterMs should imply retryable")
	}
	if e.RetryAfterMs() == nil || *e.RetryAfterMs() != 500 {
		t.Fatalf("expected retryAfterMs 500, got %v", e.RetryAfterMs())
	}
}

func TestCodeOfDefaultsToInternal(t *testing.T) {
	if CodeOf(errors.New("plain error")) != Internal {
		t.Fatal("non-AppError should map to INTERNAL (spec §7)")
	}
	if CodeOf(New(NotFound, "x", nil)) != NotFound {
		t.Fatal("AppError should report its own code")
	}
}

func TestWrapDoesNotDoubleWrapAnAppError(t *testing.T) {
	inner := New(NotFound, "missing", nil)
	wrapped := Wrap(inner, Internal, "outer message")
	if wrapped.Code != NotFound {
		t.Fatalf("Wrap should preserve the original AppError's code, got %s", wrapped.Code)
	}
}

func TestAsUnwrapsThroughStandardWrapping(t *testing.T) {
	inner := New(Unauthenticated, "no identity", nil)
	outer := errors.New("context: " + inner.Error())
	var appErr *AppError
	if As(outer, &appErr) {
		t.Fatal("plain fmt-wrapped string should not unwrap via errors.As")
	}
}

func TestWithDetailsRoundTrips(t *testing.T) {
	e := New(InvalidArgument, "bad", nil).WithDetails(map[string]int{"limit": 3})
	details, ok := e.Details.(map[string]int)
	if !ok || details["limit"] != 3 {
		t.Fatalf("expected details to round-trip, got %v", e.Details)
	}
}
