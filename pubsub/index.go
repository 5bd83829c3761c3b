package pubsub

import "sync"

// Index is the concurrent-safe local subscription index shared by every
// driver: a map from topic to the set of locally-subscribed clientIDs.
// Mutation of a topic's entry only locks that entry, not the whole index
// (spec §5: "mutation requires exclusive access to that topic's entry
// only").
type Index struct {
	mu     sync.RWMutex
	topics map[string]*topicEntry
}

type topicEntry struct {
	mu      sync.RWMutex
	clients map[string]struct{}
}

// NewIndex creates an empty subscription index.
func NewIndex() *Index {
	return &Index{topics: make(map[string]*topicEntry)}
}

func (idx *Index) entry(topic string, create bool) *topicEntry {
	idx.mu.RLock()
	e, ok := idx.topics[topic]
	idx.mu.RUnlock()
	if ok || !create {
		return e
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if e, ok = idx.topics[topic]; ok {
		return e
	}
	e = &topicEntry{clients: make(map[string]struct{})}
	idx.topics[topic] = e
	return e
}

// Subscribe adds clientID to topic's subscriber set.
func (idx *Index) Subscribe(clientID, topic string) {
	for {
		e := idx.entry(topic, true)
		e.mu.Lock()
		e.clients[clientID] = struct{}{}
		e.mu.Unlock()

		// A concurrent Unsubscribe may have dropped this entry from the
		// map before the add landed; retry against the current entry.
		idx.mu.RLock()
		cur := idx.topics[topic]
		idx.mu.RUnlock()
		if cur == e {
			return
		}
	}
}

// Unsubscribe removes clientID from topic's subscriber set. A no-op if
// either is absent.
func (idx *Index) Unsubscribe(clientID, topic string) {
	e := idx.entry(topic, false)
	if e == nil {
		return
	}
	e.mu.Lock()
	delete(e.clients, clientID)
	empty := len(e.clients) == 0
	e.mu.Unlock()

	if empty {
		idx.mu.Lock()
		if cur, ok := idx.topics[topic]; ok && cur == e {
			cur.mu.RLock()
			stillEmpty := len(cur.clients) == 0
			cur.mu.RUnlock()
			if stillEmpty {
				delete(idx.topics, topic)
			}
		}
		idx.mu.Unlock()
	}
}

// UnsubscribeAll removes clientID from every topic it belongs to, used on
// connection close for O(k) cleanup where k is the connection's topic
// count (spec §9) — callers should pass the connection's own topic list
// rather than scanning the whole index.
func (idx *Index) UnsubscribeAll(clientID string, topics []string) {
	for _, topic := range topics {
		idx.Unsubscribe(clientID, topic)
	}
}

// GetLocalSubscribers returns a snapshot of topic's subscriber clientIDs.
func (idx *Index) GetLocalSubscribers(topic string) []string {
	e := idx.entry(topic, false)
	if e == nil {
		return nil
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.clients))
	for clientID := range e.clients {
		out = append(out, clientID)
	}
	return out
}

// ListTopics returns every topic with at least one local subscriber.
func (idx *Index) ListTopics() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]string, 0, len(idx.topics))
	for topic := range idx.topics {
		out = append(out, topic)
	}
	return out
}

// HasTopic reports whether topic currently has any local subscriber.
func (idx *Index) HasTopic(topic string) bool {
	e := idx.entry(topic, false)
	if e == nil {
		return false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.clients) > 0
}
