package ratelimit

import "testing"

func TestValidatePolicyRejectsNonPositiveCapacity(t *testing.T) {
	if err := ValidatePolicy(0, 1); err == nil {
		t.Fatal("expected capacity < 1 to be rejected")
	}
	if err := ValidatePolicy(1, 0); err == nil {
		t.Fatal("expected tokensPerSecond <= 0 to be rejected")
	}
	if err := ValidatePolicy(5, 2.5); err != nil {
		t.Fatalf("expected valid policy to pass, got %v", err)
	}
}

func TestValidateCostRejectsNonPositive(t *testing.T) {
	if err := ValidateCost(0); err == nil {
		t.Fatal("expected cost 0 to be rejected")
	}
	if err := ValidateCost(-1); err == nil {
		t.Fatal("expected negative cost to be rejected")
	}
	if err := ValidateCost(1); err != nil {
		t.Fatalf("expected cost 1 to pass, got %v", err)
	}
}

func TestKeyPerUser(t *testing.T) {
	f := KeyPerUser("userId")
	key := f(KeyContext{Data: map[string]any{"userId": "u1"}})
	if key != "user:u1" {
		t.Fatalf("expected user:u1, got %s", key)
	}
}

func TestKeyPerUserPerType(t *testing.T) {
	f := KeyPerUserPerType("userId")
	key := f(KeyContext{Type: "JOIN_ROOM", Data: map[string]any{"userId": "u1"}})
	if key != "user:u1:type:JOIN_ROOM" {
		t.Fatalf("expected user:u1:type:JOIN_ROOM, got %s", key)
	}
}

func TestKeyPerUserOrIpPerTypeFallsBackToIpThenAnon(t *testing.T) {
	f := KeyPerUserOrIpPerType("userId")

	if key := f(KeyContext{Type: "T", Data: map[string]any{"userId": "u1"}}); key != "id:u1:type:T" {
		t.Fatalf("expected user identity to win, got %s", key)
	}
	if key := f(KeyContext{Type: "T", IP: "1.2.3.4"}); key != "id:1.2.3.4:type:T" {
		t.Fatalf("expected IP fallback, got %s", key)
	}
	if key := f(KeyContext{Type: "T"}); key != "id:anon:type:T" {
		t.Fatalf("expected anon fallback, got %s", key)
	}
}

func TestLimitExceededErrorMapsToResourceExhaustedWhenRetryable(t *testing.T) {
	retryAfter := int64(200)
	e := LimitExceededError{Observed: 6, Limit: 5, RetryAfterMs: &retryAfter}
	appErr := e.ToAppError()
	if !appErr.Retryable() {
		t.Fatal("expected retryable when retryAfterMs is set")
	}
	if appErr.RetryAfterMs() == nil || *appErr.RetryAfterMs() != 200 {
		t.Fatalf("expected retryAfterMs 200, got %v", appErr.RetryAfterMs())
	}
}

func TestLimitExceededErrorMapsToFailedPreconditionWhenImpossible(t *testing.T) {
	e := LimitExceededError{Observed: 100, Limit: 5, RetryAfterMs: nil}
	appErr := e.ToAppError()
	if appErr.Retryable() {
		t.Fatal("expected non-retryable when cost can never succeed")
	}
	if appErr.RetryAfterMs() != nil {
		t.Fatal("expected nil retryAfterMs when impossible")
	}
}
