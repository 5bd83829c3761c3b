package wsclient

import (
	"sync"
	"sync/atomic"
	"time"
)

// pendingEntry is one outstanding request (spec §3 "Pending request
// entry"). Its settle path is funneled through a single settler guarded
// by an atomic.Bool compare-and-swap, regardless of whether the trigger was a reply, a timeout, an
// abort signal, or connection close (spec §9: "cancellation of a waiting
// request removes its entry from the pending map exactly once").
type pendingEntry struct {
	correlationID        string
	expectedResponseType string
	onProgress           func(payload []byte)

	settled atomic.Bool
	done    chan struct{}

	resultCh chan pendingResult
	timer    *time.Timer
	abortSub func() // unsubscribe from the abort signal, if any
}

type pendingResult struct {
	frame Frame
	err   error
}

func newPendingEntry(correlationID, expectedResponseType string, onProgress func([]byte)) *pendingEntry {
	return &pendingEntry{
		correlationID:        correlationID,
		expectedResponseType: expectedResponseType,
		onProgress:           onProgress,
		done:                 make(chan struct{}),
		resultCh:             make(chan pendingResult, 1),
	}
}

// settle is the single funnel every cancellation source calls into. Only
// the first caller's outcome is observed; later callers are no-ops.
func (p *pendingEntry) settle(frame Frame, err error) {
	if !p.settled.CompareAndSwap(false, true) {
		return
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	if p.abortSub != nil {
		p.abortSub()
	}
	p.resultCh <- pendingResult{frame: frame, err: err}
	close(p.done)
}

// pendingMap is the client's correlation-id -> pendingEntry table (spec
// §3, §5: "owned by the client's single-threaded event loop" in the
// original; here guarded by a mutex since Go clients are typically driven
// from multiple goroutines reading the socket and calling Request).
type pendingMap struct {
	mu      sync.Mutex
	entries map[string]*pendingEntry
	limit   int
}

func newPendingMap(limit int) *pendingMap {
	return &pendingMap{entries: make(map[string]*pendingEntry), limit: limit}
}

// add admits a new pending entry, enforcing pendingRequestsLimit
// synchronously with admission (spec §4.7, §8 #5: "this check is
// synchronous with admission, not wall-clock-timed").
func (m *pendingMap) add(entry *pendingEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.limit > 0 && len(m.entries) >= m.limit {
		return &StateError{Msg: "Pending request limit exceeded"}
	}
	m.entries[entry.correlationID] = entry
	return nil
}

// lookup returns the entry for id without removing it.
func (m *pendingMap) lookup(id string) (*pendingEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	return e, ok
}

// remove deletes id from the map; safe to call even if already removed.
func (m *pendingMap) remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
}

// drainAll settles every pending entry with err (spec §4.7: "On
// connection close while pending, reject all entries with
// ConnectionClosedError").
func (m *pendingMap) drainAll(err error) {
	m.mu.Lock()
	entries := make([]*pendingEntry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	m.entries = make(map[string]*pendingEntry)
	m.mu.Unlock()

	for _, e := range entries {
		e.settle(Frame{}, err)
	}
}

func (m *pendingMap) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
