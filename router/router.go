package router

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/chris-alexander-pop/wsrouter/connection"
	"github.com/chris-alexander-pop/wsrouter/internal/obslog"
	"github.com/chris-alexander-pop/wsrouter/internal/wserr"
	"github.com/chris-alexander-pop/wsrouter/platform"
	"github.com/chris-alexander-pop/wsrouter/pubsub"
	"github.com/chris-alexander-pop/wsrouter/ratelimit"
	"github.com/chris-alexander-pop/wsrouter/registry"
	"github.com/chris-alexander-pop/wsrouter/schema"
	"github.com/google/uuid"
)

// Config carries the construction-time policy knobs named across spec
// §4.1, §4.6, §5.
type Config struct {
	PubSubDriver           pubsub.Driver
	MaxTopicsPerConnection int
	MaxPayloadBytes        int
	MaxPending             int64
	Limiter                ratelimit.Limiter // optional; nil disables rate limiting
	RateLimitKey           ratelimit.KeyFunc // optional; nil falls back to a per-client-per-type key (spec §4.5: "key derivation is caller-owned")
}

// Router is the fluent builder + runtime dispatcher (spec §4.1, §6.3).
// Registration methods are only safe to call before Freeze/serving
// begins; Freeze matches the registry's own immutability rule (spec §4.2).
type Router struct {
	cfg      Config
	registry *registry.Registry

	mu                sync.Mutex
	globalMiddleware  []Middleware
	typeMiddleware    map[string][]Middleware
	onOpenHandlers    []func(ctx context.Context, conn *connection.Connection)
	onCloseHandlers   []func(conn *connection.Connection)
	onErrorHandlers   []func(ctx context.Context, err error, conn *connection.Connection)
	onUnhandled       func(ctx context.Context, msgType string, conn *connection.Connection)
	onConnectionClose func(clientID string)

	started atomic.Bool

	socketsMu sync.RWMutex
	sockets   map[string]platform.ServerSocket
	conns     map[string]*connection.Connection
}

// New constructs an unstarted Router.
func New(cfg Config) *Router {
	return &Router{
		cfg:            cfg,
		registry:       registry.New(),
		typeMiddleware: make(map[string][]Middleware),
		sockets:        make(map[string]platform.ServerSocket),
		conns:          make(map[string]*connection.Connection),
	}
}

// On registers an event handler (spec §4.1, §6.3). A package-level
// generic function, since Go methods cannot carry their own type
// parameters (spec §9: "collapse the layers into one type").
func On[P any](r *Router, sch *schema.Def[P], handler func(ctx *EventContext[P]) error, mw ...Middleware) error {
	return r.register(sch.Type(), routeEntry{
		kind:       kindEvent,
		schema:     sch,
		middleware: mw,
		dispatch: func(bc *baseContext) error {
			payload, _ := bc.rawValue.(P)
			return handler(&EventContext[P]{baseContext: bc, Payload: payload})
		},
	})
}

// Rpc registers a request/response handler. sch.Response() must be
// non-nil (spec §4.1: "the schema must carry a response descriptor").
func Rpc[P any, R any](r *Router, sch *schema.Def[P], handler func(ctx *RpcContext[P, R]) error, mw ...Middleware) error {
	resp := sch.Response()
	if resp == nil {
		return wserr.New(wserr.InvalidArgument, "rpc schema must declare a response descriptor", nil).
			WithDetails(map[string]string{"type": sch.Type()})
	}
	return r.register(sch.Type(), routeEntry{
		kind:           kindRPC,
		schema:         sch,
		responseSchema: resp,
		middleware:     mw,
		dispatch: func(bc *baseContext) error {
			payload, _ := bc.rawValue.(P)
			return handler(&RpcContext[P, R]{baseContext: bc, Payload: payload})
		},
	})
}

func (r *Router) register(msgType string, entry routeEntry) error {
	return r.registry.Register(msgType, entry)
}

// SetPubSubDriver wires the pub/sub backend after construction, for the
// common bootstrap case where the driver itself needs a pubsub.LocalSender
// implemented by this very Router (spec §6.5: wiring order is
// driver-needs-router before router-needs-driver). Call before Freeze.
func (r *Router) SetPubSubDriver(d pubsub.Driver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg.PubSubDriver = d
}

// Use appends global middleware, the no-schema form of spec §4.1's
// overloaded `use`; per-type middleware is registered with UseFor.
func (r *Router) Use(mw Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.globalMiddleware = append(r.globalMiddleware, mw)
}

// UseFor appends middleware tied to a specific message type (spec §4.1
// "use(schema, middleware)").
func (r *Router) UseFor(sch schema.Schema, mw Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.typeMiddleware[sch.Type()] = append(r.typeMiddleware[sch.Type()], mw)
}

// Merge composes other's registry entries, middleware and lifecycle
// hooks into r. Duplicate types follow last-writer-wins via the
// underlying registry; non-registry state (middleware, hooks) is
// appended, never dropped (spec §4.1 "merge").
func (r *Router) Merge(other *Router) {
	other.registry.Iterate(func(msgType string, entry registry.Entry) {
		_ = r.registry.Register(msgType, entry)
	})

	r.mu.Lock()
	r.globalMiddleware = append(r.globalMiddleware, other.globalMiddleware...)
	for t, mws := range other.typeMiddleware {
		r.typeMiddleware[t] = append(r.typeMiddleware[t], mws...)
	}
	r.onOpenHandlers = append(r.onOpenHandlers, other.onOpenHandlers...)
	r.onCloseHandlers = append(r.onCloseHandlers, other.onCloseHandlers...)
	r.onErrorHandlers = append(r.onErrorHandlers, other.onErrorHandlers...)
	if other.onUnhandled != nil {
		r.onUnhandled = other.onUnhandled
	}
	if other.onConnectionClose != nil {
		r.onConnectionClose = other.onConnectionClose
	}
	r.mu.Unlock()
}

func (r *Router) OnOpen(h func(ctx context.Context, conn *connection.Connection)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onOpenHandlers = append(r.onOpenHandlers, h)
}

func (r *Router) OnClose(h func(conn *connection.Connection)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onCloseHandlers = append(r.onCloseHandlers, h)
}

func (r *Router) OnError(h func(ctx context.Context, err error, conn *connection.Connection)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onErrorHandlers = append(r.onErrorHandlers, h)
}

// ObserveOptions configures router.Observe (spec §6.3).
type ObserveOptions struct {
	OnConnectionClose func(clientID string)
	OnUnhandled       func(ctx context.Context, msgType string, conn *connection.Connection)
}

func (r *Router) Observe(opts ObserveOptions) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if opts.OnConnectionClose != nil {
		r.onConnectionClose = opts.OnConnectionClose
	}
	if opts.OnUnhandled != nil {
		r.onUnhandled = opts.OnUnhandled
	}
}

// Freeze stops further registration, matching the registry's own
// immutability (spec §4.2). Idempotent.
func (r *Router) Freeze() {
	r.started.Store(true)
	r.registry.Freeze()
}

// Publish is the router-level publish entry point (spec §6.3), used
// outside of any handler (e.g. from a background job). ctx.Publish
// inside a handler is the same operation scoped to the current frame.
func (r *Router) Publish(ctx context.Context, topic string, sch schema.Schema, payload any, opts PublishOptions) (pubsub.PublishResult, error) {
	if sch.ValidateOutgoing() {
		if _, err := validatePayload(sch, payload); err != nil {
			return pubsub.PublishResult{}, err
		}
	}
	return r.cfg.PubSubDriver.Publish(ctx, pubsub.PublishEnvelope{Topic: topic, Payload: payload, Meta: opts.Meta}, pubsub.PublishOptions{})
}

// SendToClient implements pubsub.LocalSender: it looks up the socket
// registered for clientID and writes the already-encoded frame. Used by
// the configured pubsub.Driver for local fan-out delivery.
func (r *Router) SendToClient(ctx context.Context, clientID string, frame []byte) error {
	r.socketsMu.RLock()
	sock, ok := r.sockets[clientID]
	r.socketsMu.RUnlock()
	if !ok {
		return nil // client disconnected between index lookup and delivery; not an error
	}
	return sock.Send(ctx, frame)
}

var _ pubsub.LocalSender = (*Router)(nil)

// OnOpenSocket creates the Connection for a newly accepted socket (spec
// §4.6), invokes onOpen handlers, and registers the socket for local
// publish delivery. clientID/data come from the Authenticator; pass a
// generated UUID as clientID when the caller has none.
func (r *Router) OnOpenSocket(ctx context.Context, sock platform.ServerSocket, clientID string, data map[string]any) *connection.Connection {
	if clientID == "" {
		clientID = uuid.NewString()
	}
	adapter := connection.DriverTopicAdapter{Driver: r.cfg.PubSubDriver}
	conn := connection.New(clientID, adapter, r.cfg.MaxTopicsPerConnection, r.cfg.MaxPending)
	conn.AssignData(data)

	r.socketsMu.Lock()
	r.sockets[clientID] = sock
	r.conns[clientID] = conn
	r.socketsMu.Unlock()

	r.mu.Lock()
	handlers := append([]func(context.Context, *connection.Connection){}, r.onOpenHandlers...)
	r.mu.Unlock()
	for _, h := range handlers {
		h(ctx, conn)
	}
	return conn
}

// OnCloseSocket tears down the Connection (spec §4.6).
func (r *Router) OnCloseSocket(conn *connection.Connection) {
	r.mu.Lock()
	handlers := append([]func(*connection.Connection){}, r.onCloseHandlers...)
	onConnClose := r.onConnectionClose
	r.mu.Unlock()

	conn.Close(r.cfg.PubSubDriver)

	for _, h := range handlers {
		h(conn)
	}
	if onConnClose != nil {
		onConnClose(conn.ClientID)
	}

	r.socketsMu.Lock()
	delete(r.sockets, conn.ClientID)
	delete(r.conns, conn.ClientID)
	r.socketsMu.Unlock()
}

func (r *Router) lookupConnection(clientID string) (*connection.Connection, bool) {
	r.socketsMu.RLock()
	defer r.socketsMu.RUnlock()
	c, ok := r.conns[clientID]
	return c, ok
}

func (r *Router) reportError(ctx context.Context, err error, conn *connection.Connection) {
	r.mu.Lock()
	handlers := append([]func(context.Context, error, *connection.Connection){}, r.onErrorHandlers...)
	r.mu.Unlock()

	if len(handlers) == 0 {
		obslog.L().ErrorContext(ctx, "router: unhandled error", "error", err)
		return
	}
	for _, h := range handlers {
		safeInvoke(func() { h(ctx, err, conn) }, ctx)
	}
}

// safeInvoke runs fn, recovering a panic so observer callbacks can never
// crash the ingress pipeline (spec §4.9: "Observer callbacks must not
// throw into the pipeline; any exception is caught and logged").
func safeInvoke(fn func(), ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			obslog.L().ErrorContext(ctx, "router: observer callback panicked", "panic", rec)
		}
	}()
	fn()
}
