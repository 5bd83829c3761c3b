// Package connection implements the per-socket Connection entity (spec
// §4.6): clientId, app data, topic subscriptions, backpressure counter,
// and close hooks. Grounded on the teacher library's pkg/messaging
// connection/session bookkeeping style (mutex-protected struct with
// explicit lifecycle methods) generalized from per-message-broker-session
// to per-WebSocket-connection state.
package connection

import (
	"sync"
	"sync/atomic"

	"github.com/chris-alexander-pop/wsrouter/internal/concurrency"
	"github.com/chris-alexander-pop/wsrouter/pubsub"
	"github.com/chris-alexander-pop/wsrouter/topics"
)

// CloseHandler is invoked, in registration order, when a Connection is
// destroyed.
type CloseHandler func(c *Connection)

// Connection is one accepted, authenticated socket (spec §3: "Connection
// (entity; one per accepted socket)").
type Connection struct {
	ClientID string
	Topics   *topics.Topics

	mu   sync.RWMutex
	data map[string]any

	pendingIncoming int64 // atomic, mirrors sem's admitted count for PendingCount()
	sem             *concurrency.Semaphore

	closeMu       sync.Mutex
	closeHandlers []CloseHandler
	closed        bool
}

// New creates a Connection bound to clientID, backed by adapter for topic
// subscription fan-out and capped at maxTopics subscriptions. maxPending
// bounds concurrent in-flight handlers for this connection (spec §4.1 step
// 4, §5); zero or negative means unlimited.
func New(clientID string, adapter topics.Adapter, maxTopics int, maxPending int64) *Connection {
	var sem *concurrency.Semaphore
	if maxPending > 0 {
		sem = concurrency.NewSemaphore(maxPending)
	}
	return &Connection{
		ClientID: clientID,
		Topics:   topics.New(clientID, adapter, maxTopics, nil),
		data:     make(map[string]any),
		sem:      sem,
	}
}

// Data returns a shallow copy of the connection's app-defined data (spec
// §4.1: "ctx.data — read ... per-connection data").
func (c *Connection) Data() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.data))
	for k, v := range c.data {
		out[k] = v
	}
	return out
}

// AssignData shallow-merges partial into the connection's data (spec
// §3: "mutable via ctx.assignData({...partial}) with shallow merge").
func (c *Connection) AssignData(partial map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range partial {
		c.data[k] = v
	}
}

// BeginPending admits one more in-flight handler, reporting false when
// maxPending is already saturated (spec §4.1 step 4, §5). Non-blocking:
// the pipeline rejects with a RESOURCE_EXHAUSTED error rather than
// queuing, so this is TryAcquire rather than Acquire.
func (c *Connection) BeginPending() bool {
	if c.sem != nil && !c.sem.TryAcquire(1) {
		return false
	}
	atomic.AddInt64(&c.pendingIncoming, 1)
	return true
}

// EndPending releases one in-flight handler slot.
func (c *Connection) EndPending() {
	atomic.AddInt64(&c.pendingIncoming, -1)
	if c.sem != nil {
		c.sem.Release(1)
	}
}

// PendingCount reports the number of handlers currently in flight for
// this connection.
func (c *Connection) PendingCount() int64 { return atomic.LoadInt64(&c.pendingIncoming) }

// OnClose registers a handler fired exactly once, in registration order,
// when Close runs.
func (c *Connection) OnClose(h CloseHandler) {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	c.closeHandlers = append(c.closeHandlers, h)
}

// Close fires close handlers in registration order, then clears every
// topic subscription this connection held via driver (spec §4.6: "fires
// onClose handlers ... invokes the driver to remove this clientId from
// every topic it held ... discards any connection-local state"). Idempotent.
func (c *Connection) Close(driver pubsub.Driver) {
	c.closeMu.Lock()
	if c.closed {
		c.closeMu.Unlock()
		return
	}
	c.closed = true
	handlers := append([]CloseHandler(nil), c.closeHandlers...)
	c.closeMu.Unlock()

	for _, h := range handlers {
		h(c)
	}

	for _, topic := range c.Topics.Snapshot() {
		driver.Unsubscribe(c.ClientID, topic)
	}
}
