// Package topics implements the per-connection subscription state with
// strict all-or-nothing batch operations described in spec §4.3. It
// encodes the "newer, strict" TopicsImpl contract the spec singles out in
// §9 (reverse-order rollback, confirm option) rather than the older,
// looser variant.
package topics

import (
	"context"
	"regexp"
	"sort"
	"time"

	"github.com/chris-alexander-pop/wsrouter/internal/wserr"
)

// DefaultPattern is the default topic validation pattern (spec §3).
var DefaultPattern = regexp.MustCompile(`^[a-zA-Z0-9:_\-/.]{1,128}$`)

const MaxTopicLength = 128

// Adapter is the platform-native fan-out capability Topics calls into for
// every state change. Implementations must be safe for concurrent use
// across different connections, but calls for a single connection are
// only ever issued sequentially by Topics itself.
type Adapter interface {
	Subscribe(ctx context.Context, clientID, topic string) error
	Unsubscribe(ctx context.Context, clientID, topic string) error
}

// Settler is an optional capability an Adapter may implement to support
// "settled" confirmation mode: a platform whose Subscribe/Unsubscribe call
// only issues a change, with out-of-band confirmation arriving later, can
// implement Settle to let Topics block until that confirmation lands. An
// Adapter that does not implement Settler makes "settled" behave exactly
// like "optimistic", since its Subscribe/Unsubscribe calls are already
// synchronous and fully confirmed by the time they return (spec §9 open
// question: the two confirmation modes collapse to one for adapters whose
// calls are inherently synchronous).
type Settler interface {
	Settle(ctx context.Context, clientID, topic string) error
}

// ConfirmMode selects when a batch operation is considered resolved.
type ConfirmMode int

const (
	// Optimistic resolves once internal state is updated (default).
	Optimistic ConfirmMode = iota
	// Settled waits for the adapter to acknowledge every change, via
	// Settler, before resolving.
	Settled
)

// Options configures a single topic operation.
type Options struct {
	Confirm   ConfirmMode
	TimeoutMs int
	Signal    context.Context // caller passes a cancelable context; Done() models "abort"
}

func (o Options) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	ctx := parent
	if o.Signal != nil {
		ctx = o.Signal
	}
	if o.TimeoutMs > 0 {
		return context.WithTimeout(ctx, time.Duration(o.TimeoutMs)*time.Millisecond)
	}
	return context.WithCancel(ctx)
}

func preAborted(o Options) bool {
	return o.Signal != nil && o.Signal.Err() != nil
}

// SubscribeResult is returned by single/batch subscribe operations.
type SubscribeResult struct {
	Added int
	Total int
}

// UnsubscribeResult is returned by single/batch unsubscribe operations.
type UnsubscribeResult struct {
	Removed int
	Total   int
}

// SetResult is returned by Set.
type SetResult struct {
	Added   int
	Removed int
	Total   int
}

// ClearResult is returned by Clear.
type ClearResult struct {
	Removed int
}

// Topics is the per-connection subscription set.
type Topics struct {
	clientID  string
	adapter   Adapter
	pattern   *regexp.Regexp
	maxTopics int

	mu  chan struct{} // 1-buffered mutex, held for the duration of a batch op
	set map[string]struct{}
}

// New creates a Topics bound to clientID, backed by adapter.
func New(clientID string, adapter Adapter, maxTopics int, pattern *regexp.Regexp) *Topics {
	if pattern == nil {
		pattern = DefaultPattern
	}
	t := &Topics{
		clientID:  clientID,
		adapter:   adapter,
		pattern:   pattern,
		maxTopics: maxTopics,
		mu:        make(chan struct{}, 1),
		set:       make(map[string]struct{}),
	}
	t.mu <- struct{}{}
	return t
}

func (t *Topics) lock()   { <-t.mu }
func (t *Topics) unlock() { t.mu <- struct{}{} }

// Has reports whether topic is currently a member.
func (t *Topics) Has(topic string) bool {
	t.lock()
	defer t.unlock()
	_, ok := t.set[topic]
	return ok
}

// Size returns the current member count.
func (t *Topics) Size() int {
	t.lock()
	defer t.unlock()
	return len(t.set)
}

// Snapshot returns a read-only copy of the current set (spec §3's
// "exposed as a read-only set to outside callers").
func (t *Topics) Snapshot() []string {
	t.lock()
	defer t.unlock()
	out := make([]string, 0, len(t.set))
	for topic := range t.set {
		out = append(out, topic)
	}
	sort.Strings(out)
	return out
}

func validate(topic string, pattern *regexp.Regexp) error {
	if len(topic) == 0 || len(topic) > MaxTopicLength || !pattern.MatchString(topic) {
		return wserr.New(wserr.InvalidTopic, "invalid topic: "+topic, nil)
	}
	return nil
}

func dedupe(topics []string) []string {
	seen := make(map[string]struct{}, len(topics))
	out := make([]string, 0, len(topics))
	for _, tp := range topics {
		if _, ok := seen[tp]; ok {
			continue
		}
		seen[tp] = struct{}{}
		out = append(out, tp)
	}
	return out
}

// Subscribe adds a single topic. A no-op if already subscribed.
func (t *Topics) Subscribe(ctx context.Context, topic string, opts Options) (SubscribeResult, error) {
	if err := validate(topic, t.pattern); err != nil {
		return SubscribeResult{}, err
	}
	added, total, err := t.mutate(ctx, []string{topic}, nil, opts)
	if err != nil {
		return SubscribeResult{}, err
	}
	return SubscribeResult{Added: added, Total: total}, nil
}

// Unsubscribe removes a single topic. A soft no-op if not a member.
func (t *Topics) Unsubscribe(ctx context.Context, topic string, opts Options) (UnsubscribeResult, error) {
	removed, total, err := t.mutate(ctx, nil, []string{topic}, opts)
	if err != nil {
		return UnsubscribeResult{}, err
	}
	return UnsubscribeResult{Removed: removed, Total: total}, nil
}

// SubscribeMany adds a batch of topics atomically.
func (t *Topics) SubscribeMany(ctx context.Context, topicsIn []string, opts Options) (SubscribeResult, error) {
	deduped := dedupe(topicsIn)
	for _, tp := range deduped {
		if err := validate(tp, t.pattern); err != nil {
			return SubscribeResult{}, err
		}
	}
	added, total, err := t.mutate(ctx, deduped, nil, opts)
	if err != nil {
		return SubscribeResult{}, err
	}
	return SubscribeResult{Added: added, Total: total}, nil
}

// UnsubscribeMany removes a batch of topics atomically.
func (t *Topics) UnsubscribeMany(ctx context.Context, topicsIn []string, opts Options) (UnsubscribeResult, error) {
	deduped := dedupe(topicsIn)
	removed, total, err := t.mutate(ctx, nil, deduped, opts)
	if err != nil {
		return UnsubscribeResult{}, err
	}
	return UnsubscribeResult{Removed: removed, Total: total}, nil
}

// Set atomically replaces the subscription set with desired, computing the
// add/remove delta against current state.
func (t *Topics) Set(ctx context.Context, desired []string, opts Options) (SetResult, error) {
	deduped := dedupe(desired)
	for _, tp := range deduped {
		if err := validate(tp, t.pattern); err != nil {
			return SetResult{}, err
		}
	}

	t.lock()
	desiredSet := make(map[string]struct{}, len(deduped))
	for _, tp := range deduped {
		desiredSet[tp] = struct{}{}
	}
	var adds, removes []string
	for _, tp := range deduped {
		if _, ok := t.set[tp]; !ok {
			adds = append(adds, tp)
		}
	}
	for tp := range t.set {
		if _, ok := desiredSet[tp]; !ok {
			removes = append(removes, tp)
		}
	}
	t.unlock()

	added, _, err := t.mutateDelta(ctx, adds, removes, opts)
	if err != nil {
		return SetResult{}, err
	}
	return SetResult{Added: added, Removed: len(removes), Total: len(deduped)}, nil
}

// Update applies mutatorFn to a draft copy of the current set; the
// resulting delta is computed and applied atomically.
func (t *Topics) Update(ctx context.Context, mutatorFn func(draft map[string]struct{}), opts Options) (SetResult, error) {
	draft := make(map[string]struct{}, t.Size())
	for _, tp := range t.Snapshot() {
		draft[tp] = struct{}{}
	}
	mutatorFn(draft)

	desired := make([]string, 0, len(draft))
	for tp := range draft {
		desired = append(desired, tp)
	}
	return t.Set(ctx, desired, opts)
}

// Clear removes every topic atomically.
func (t *Topics) Clear(ctx context.Context, opts Options) (ClearResult, error) {
	current := t.Snapshot()
	_, _, err := t.mutateDelta(ctx, nil, current, opts)
	if err != nil {
		return ClearResult{}, err
	}
	return ClearResult{Removed: len(current)}, nil
}

// Settle waits for in-flight confirmations for topic (or all topics, when
// topic == "") to land on the adapter. A no-op unless the adapter
// implements Settler.
func (t *Topics) Settle(ctx context.Context, topic string, opts Options) error {
	settler, ok := t.adapter.(Settler)
	if !ok {
		return nil
	}
	cctx, cancel := opts.ctx(ctx)
	defer cancel()

	topicsToSettle := []string{topic}
	if topic == "" {
		topicsToSettle = t.Snapshot()
	}
	for _, tp := range topicsToSettle {
		if err := settler.Settle(cctx, t.clientID, tp); err != nil {
			return wserr.New(wserr.AdapterError, "settle failed for topic "+tp, err)
		}
	}
	return nil
}

// mutate validates capacity for an add/remove request expressed as raw
// (possibly non-deduped, for single-topic callers) topic lists, computing
// the actual delta against current membership before delegating to
// mutateDelta. added/removed counts reflect only topics whose membership
// actually changed (idempotency, spec §4.3).
func (t *Topics) mutate(ctx context.Context, adds, removes []string, opts Options) (added, total int, err error) {
	t.lock()
	var realAdds, realRemoves []string
	for _, tp := range adds {
		if _, ok := t.set[tp]; !ok {
			realAdds = append(realAdds, tp)
		}
	}
	for _, tp := range removes {
		if _, ok := t.set[tp]; ok {
			realRemoves = append(realRemoves, tp)
		}
	}
	t.unlock()

	a, total, err := t.mutateDelta(ctx, realAdds, realRemoves, opts)
	if err != nil {
		return 0, 0, err
	}
	return a + len(realRemoves), total, nil
}

// mutateDelta performs the atomic, ordered, rollback-capable batch
// operation described in spec §4.3 steps 1-5, given an already-computed
// add/remove delta. It returns (added, total-after) on success.
func (t *Topics) mutateDelta(ctx context.Context, adds, removes []string, opts Options) (int, int, error) {
	if preAborted(opts) {
		return 0, 0, wserr.New(wserr.Cancelled, "operation aborted before dispatch", nil)
	}

	t.lock()
	defer t.unlock()

	resulting := len(t.set) + len(adds) - len(removes)
	if t.maxTopics > 0 && resulting > t.maxTopics {
		return 0, 0, wserr.New(wserr.TopicLimitExceeded, "topic limit exceeded", nil).
			WithDetails(map[string]int{
				"limit":     t.maxTopics,
				"current":   len(t.set),
				"requested": len(adds),
				"resulting": resulting,
			})
	}

	if len(adds) == 0 && len(removes) == 0 {
		return 0, len(t.set), nil
	}

	cctx, cancel := opts.ctx(ctx)
	defer cancel()

	// Forward pass, sequential and ordered: removals first (frees
	// capacity on the adapter side), then additions. This ordering is
	// what makes reverse-order rollback correct when the adapter itself
	// enforces a capacity cap (spec §4.3, §9, scenario §8.4).
	var doneRemoves, doneAdds []string
	var failedErr error

	for _, tp := range removes {
		if err := t.adapter.Unsubscribe(cctx, t.clientID, tp); err != nil {
			failedErr = err
			break
		}
		doneRemoves = append(doneRemoves, tp)
	}
	if failedErr == nil {
		for _, tp := range adds {
			if err := t.adapter.Subscribe(cctx, t.clientID, tp); err != nil {
				failedErr = err
				break
			}
			doneAdds = append(doneAdds, tp)
		}
	}

	if failedErr != nil {
		// Reverse-order rollback: undo completed additions first (in
		// reverse completion order), then restore completed removals (in
		// reverse completion order).
		for i := len(doneAdds) - 1; i >= 0; i-- {
			_ = t.adapter.Unsubscribe(cctx, t.clientID, doneAdds[i])
		}
		for i := len(doneRemoves) - 1; i >= 0; i-- {
			_ = t.adapter.Subscribe(cctx, t.clientID, doneRemoves[i])
		}
		return 0, 0, wserr.New(wserr.AdapterError, "topic adapter call failed", failedErr)
	}

	for _, tp := range removes {
		delete(t.set, tp)
	}
	for _, tp := range adds {
		t.set[tp] = struct{}{}
	}

	if opts.Confirm == Settled {
		if settler, ok := t.adapter.(Settler); ok {
			for _, tp := range append(append([]string(nil), adds...), removes...) {
				if err := settler.Settle(cctx, t.clientID, tp); err != nil {
					return len(adds), len(t.set), wserr.New(wserr.AdapterError, "settle failed", err)
				}
			}
		}
	}

	return len(adds), len(t.set), nil
}
