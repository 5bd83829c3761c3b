// Package ratelimit implements the token-bucket rate limiter contract
// (spec §4.5): an atomic consume(key, cost), canned key-derivation
// functions, and pluggable in-memory/distributed backends. Grounded on
// the teacher library's pkg/algorithms/ratelimit (in-memory token bucket
// math) and pkg/api/ratelimit/adapters/redis (Lua-script backend).
package ratelimit

import (
	"context"

	"github.com/chris-alexander-pop/wsrouter/internal/wserr"
)

// Result is the outcome of a consume call.
type Result struct {
	Allowed      bool
	Remaining    int64
	RetryAfterMs *int64 // nil when allowed, or when cost > capacity (impossible under policy)
}

// Policy describes a limiter's fixed capacity/refill configuration.
type Policy struct {
	Capacity       int64
	TokensPerSecond float64
	Prefix         string
}

// Limiter is the abstract rate limiter contract.
type Limiter interface {
	Consume(ctx context.Context, key string, cost int64) (Result, error)
	GetPolicy() Policy
}

// ValidatePolicy enforces the construction-time invariants from spec §4.5.
func ValidatePolicy(capacity int64, tokensPerSecond float64) error {
	if capacity < 1 {
		return wserr.New(wserr.InvalidArgument, "rate limiter capacity must be >= 1", nil)
	}
	if tokensPerSecond <= 0 {
		return wserr.New(wserr.InvalidArgument, "rate limiter tokensPerSecond must be > 0", nil)
	}
	return nil
}

// ValidateCost enforces the per-call invariant: cost must be a positive
// integer (spec §4.5 — the caller passes a Go int64, so "non-integer" only
// manifests as <= 0 here).
func ValidateCost(cost int64) error {
	if cost <= 0 {
		return wserr.New(wserr.InvalidArgument, "rate limiter cost must be a positive integer", nil)
	}
	return nil
}

// KeyContext is the minimal context the canned key functions need (spec
// §4.5).
type KeyContext struct {
	Type string
	Data map[string]any
	IP   string
}

// KeyFunc derives a rate-limit bucket key from a KeyContext.
type KeyFunc func(KeyContext) string

// KeyPerUser buckets by user identity alone.
func KeyPerUser(userIDKey string) KeyFunc {
	return func(kc KeyContext) string {
		return "user:" + userID(kc, userIDKey)
	}
}

// KeyPerUserPerType buckets by (user, message type).
func KeyPerUserPerType(userIDKey string) KeyFunc {
	return func(kc KeyContext) string {
		return "user:" + userID(kc, userIDKey) + ":type:" + kc.Type
	}
}

// KeyPerUserOrIpPerType buckets by (user or IP, message type), falling
// back to a shared "anon" bucket when IP is unknown (spec §4.5).
func KeyPerUserOrIpPerType(userIDKey string) KeyFunc {
	return func(kc KeyContext) string {
		id := userID(kc, userIDKey)
		if id == "" {
			id = kc.IP
		}
		if id == "" {
			id = "anon"
		}
		return "id:" + id + ":type:" + kc.Type
	}
}

func userID(kc KeyContext, key string) string {
	if kc.Data == nil {
		return ""
	}
	v, _ := kc.Data[key].(string)
	return v
}

// LimitExceededError carries the details the router's rate-limit
// middleware uses to synthesize an error frame (spec §4.5).
type LimitExceededError struct {
	Observed     int64
	Limit        int64
	RetryAfterMs *int64
}

// ToAppError maps a limit-exceeded decision to the taxonomy code spec §4.5
// and §7 require: RESOURCE_EXHAUSTED when retryable, FAILED_PRECONDITION
// when the cost could never succeed under this policy.
func (e LimitExceededError) ToAppError() *wserr.AppError {
	details := map[string]any{"observed": e.Observed, "limit": e.Limit, "retryAfterMs": e.RetryAfterMs}
	if e.RetryAfterMs == nil {
		return wserr.New(wserr.FailedPrecondition, "rate limit cost exceeds policy capacity", nil).
			WithImpossible().WithDetails(details)
	}
	return wserr.New(wserr.ResourceExhausted, "rate limit exceeded", nil).
		WithRetryAfter(*e.RetryAfterMs).WithDetails(details)
}
