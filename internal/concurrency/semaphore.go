// Package concurrency provides the weighted semaphore used to bound
// per-connection in-flight handler concurrency (see connection.Connection).
// Adapted from the teacher library's pkg/concurrency.Semaphore: a
// mutex-protected counter with a FIFO waiter queue for the blocking
// Acquire path, plus a non-blocking TryAcquire used by the router's
// admission check.
package concurrency

import (
	"context"
	"sync"
)

// Semaphore is a weighted semaphore: up to `size` units may be held at
// once, acquired/released in arbitrary weights.
type Semaphore struct {
	size    int64
	cur     int64
	mu      sync.Mutex
	waiters []*waiter
}

type waiter struct {
	n     int64
	ready chan struct{}
}

// NewSemaphore constructs a Semaphore with the given total capacity.
func NewSemaphore(limit int64) *Semaphore {
	return &Semaphore{
		size: limit,
	}
}

// Acquire blocks until n units are available or ctx is done.
func (s *Semaphore) Acquire(ctx context.Context, n int64) error {
	s.mu.Lock()
	if s.size-s.cur >= n && len(s.waiters) == 0 {
		s.cur += n
		s.mu.Unlock()
		return nil
	}

	w := &waiter{n: n, ready: make(chan struct{})}
	s.waiters = append(s.waiters, w)
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		s.mu.Lock()
		for i, waiter := range s.waiters {
			if waiter == w {
				s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
				break
			}
		}
		select {
		case <-w.ready:
			// Woken just as we cancelled; release what we were granted.
			s.cur -= n
			s.notifyWaiters()
		default:
		}
		s.mu.Unlock()
		return ctx.Err()
	case <-w.ready:
		return nil
	}
}

// TryAcquire acquires n units without blocking, reporting whether it
// succeeded.
func (s *Semaphore) TryAcquire(n int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.size-s.cur >= n && len(s.waiters) == 0 {
		s.cur += n
		return true
	}
	return false
}

// Release returns n units to the semaphore, waking any waiters it can now
// satisfy. Panics if more is released than is currently held.
func (s *Semaphore) Release(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur -= n
	if s.cur < 0 {
		panic("semaphore released more than held")
	}
	s.notifyWaiters()
}

func (s *Semaphore) notifyWaiters() {
	for {
		if len(s.waiters) == 0 {
			break
		}
		w := s.waiters[0]
		if s.size-s.cur >= w.n {
			s.cur += w.n
			s.waiters = s.waiters[1:]
			close(w.ready)
		} else {
			break
		}
	}
}
