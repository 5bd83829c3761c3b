// Package memory implements an in-process token-bucket ratelimit.Limiter,
// grounded on the teacher library's pkg/algorithms/ratelimit.InMemLimiter:
// a mutex-protected map of buckets, lazily created, refilled by elapsed
// wall-clock time on every Consume call.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/chris-alexander-pop/wsrouter/internal/wserr"
	"github.com/chris-alexander-pop/wsrouter/ratelimit"
)

type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// Limiter is a single-process token bucket limiter keyed by string.
type Limiter struct {
	policy ratelimit.Policy

	mu      sync.Mutex
	buckets map[string]*bucket
}

// New constructs a Limiter. It never panics: a policy rejected by
// ValidatePolicy is returned as the error, mirroring the teacher's
// constructor style (MustNew is the panicking variant).
func New(capacity int64, tokensPerSecond float64) (*Limiter, error) {
	if err := ratelimit.ValidatePolicy(capacity, tokensPerSecond); err != nil {
		return nil, err
	}
	return &Limiter{
		policy:  ratelimit.Policy{Capacity: capacity, TokensPerSecond: tokensPerSecond},
		buckets: make(map[string]*bucket),
	}, nil
}

func (l *Limiter) GetPolicy() ratelimit.Policy { return l.policy }

// Consume atomically refills and debits the bucket for key by cost
// tokens. cost > capacity is a permanent failure (spec §4.5: "impossible
// under current policy" → no retryAfterMs).
func (l *Limiter) Consume(_ context.Context, key string, cost int64) (ratelimit.Result, error) {
	if err := ratelimit.ValidateCost(cost); err != nil {
		return ratelimit.Result{}, err
	}

	if cost > l.policy.Capacity {
		return ratelimit.Result{Allowed: false, Remaining: 0}, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(l.policy.Capacity), lastRefill: now}
		l.buckets[key] = b
	}

	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * l.policy.TokensPerSecond
		if b.tokens > float64(l.policy.Capacity) {
			b.tokens = float64(l.policy.Capacity)
		}
		b.lastRefill = now
	}

	if b.tokens < float64(cost) {
		deficit := float64(cost) - b.tokens
		retryAfterMs := int64(deficit / l.policy.TokensPerSecond * 1000)
		if retryAfterMs < 1 {
			retryAfterMs = 1
		}
		return ratelimit.Result{
			Allowed:      false,
			Remaining:    int64(b.tokens),
			RetryAfterMs: &retryAfterMs,
		}, nil
	}

	b.tokens -= float64(cost)
	return ratelimit.Result{Allowed: true, Remaining: int64(b.tokens)}, nil
}

var _ ratelimit.Limiter = (*Limiter)(nil)

// must is a convenience constructor for call sites (tests, via MustNew)
// that treat a bad static policy as a startup-time fatal error rather than
// a recoverable one.
func must(l *Limiter, err error) *Limiter {
	if err != nil {
		panic(&wserr.AppError{Code: wserr.InvalidArgument, Message: err.Error(), Cause: err})
	}
	return l
}

// MustNew is New, panicking on policy validation failure.
func MustNew(capacity int64, tokensPerSecond float64) *Limiter {
	return must(New(capacity, tokensPerSecond))
}
