// Package registry implements the message registry (spec §4.2): a
// type -> entry map with last-writer-wins semantics during setup and an
// immutability freeze once serving begins. Grounded on the teacher
// library's pkg/datastructures map-registry style and pkg/messaging's
// "register handlers before Start, then freeze" lifecycle.
package registry

import (
	"sync"

	"github.com/chris-alexander-pop/wsrouter/internal/wserr"
)

// Entry is whatever a router associates with a registered message type —
// the router package defines the concrete shape (schema + handler +
// event/rpc kind); registry only needs it as an opaque value.
type Entry = any

// Registry holds one Entry per message type, last-writer-wins, frozen
// after serving starts (spec §4.2: "re-registering the same type during
// setup replaces the previous entry; after the router starts serving,
// registration is immutable").
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
	frozen  bool
}

// New creates an empty, unfrozen Registry.
func New() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Register adds or replaces the entry for msgType. Returns an error once
// the registry has been frozen.
func (r *Registry) Register(msgType string, entry Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return wserr.Newf(wserr.FailedPrecondition, nil, "cannot register message type %q after the router has started serving", msgType).
			WithDetails(map[string]string{"type": msgType})
	}
	r.entries[msgType] = entry
	return nil
}

// Lookup returns the entry for msgType, if any.
func (r *Registry) Lookup(msgType string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[msgType]
	return e, ok
}

// Iterate calls fn for every registered (type, entry) pair. fn must not
// call back into Register.
func (r *Registry) Iterate(fn func(msgType string, entry Entry)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for t, e := range r.entries {
		fn(t, e)
	}
}

// Freeze marks the registry immutable; subsequent Register calls fail.
// Idempotent.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// Len reports the number of registered types.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
