package wsclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/chris-alexander-pop/wsrouter/internal/obslog"
	"github.com/chris-alexander-pop/wsrouter/schema"
)

// AuthAttach selects how a token is attached to the connection attempt
// (spec §4.7, §6.6).
type AuthAttach string

const (
	AttachQuery    AuthAttach = "query"
	AttachProtocol AuthAttach = "protocol"
)

// AuthConfig configures token attachment (spec §6.6).
type AuthConfig struct {
	GetToken         func(ctx context.Context) (string, error)
	Attach           AuthAttach
	QueryParam       string // default "access_token"
	ProtocolPrefix   string // default "bearer."
	ProtocolPosition string // "append" (default) or "prepend"
}

// Options configures a Client (spec §6.6).
type Options struct {
	URL                  string
	Protocols            []string
	Reconnect            ReconnectPolicy
	Queue                QueuePolicy
	QueueSize            int
	AutoConnect          bool
	PendingRequestsLimit int
	Auth                 *AuthConfig
}

// DefaultOptions fills in spec §6.6's documented defaults around a caller
// supplied URL.
func DefaultOptions(url string) Options {
	return Options{
		URL:                  url,
		Reconnect:            DefaultReconnectPolicy(),
		Queue:                QueueDropNewest,
		QueueSize:            1000,
		PendingRequestsLimit: 1000,
	}
}

// Client is the typed client state machine (spec §4.7).
type Client struct {
	opts Options

	mu           sync.Mutex
	state        State
	manualClose  bool
	attempt      int
	conn         *websocket.Conn
	openWaiters  []chan struct{}
	outbox       *outboxQueue
	pending      *pendingMap
	reconnecting bool

	onState func(State)
	onError func(error)
}

// New constructs a closed Client. Call Connect to begin dialing; New does
// not act on Options.AutoConnect.
func New(opts Options) *Client {
	if opts.QueueSize == 0 && opts.Queue == "" {
		opts.Queue = QueueDropNewest
	}
	return &Client{
		opts:    opts,
		state:   StateClosed,
		outbox:  newOutboxQueue(opts.Queue, opts.QueueSize),
		pending: newPendingMap(opts.PendingRequestsLimit),
	}
}

func (c *Client) OnState(cb func(State))  { c.mu.Lock(); c.onState = cb; c.mu.Unlock() }
func (c *Client) OnError(cb func(error))  { c.mu.Lock(); c.onError = cb; c.mu.Unlock() }

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	cb := c.onState
	var waiters []chan struct{}
	if s == StateOpen {
		waiters = c.openWaiters
		c.openWaiters = nil
	}
	c.mu.Unlock()
	for _, w := range waiters {
		close(w)
	}
	if cb != nil {
		safeInvoke(func() { cb(s) })
	}
}

func safeInvoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			obslog.L().Error("wsclient: observer callback panicked", "panic", r)
		}
	}()
	fn()
}

// State reports the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnceOpen resolves the next time state becomes open, or immediately if
// already open (spec §4.7).
func (c *Client) OnceOpen() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan struct{})
	if c.state == StateOpen {
		close(ch)
		return ch
	}
	c.openWaiters = append(c.openWaiters, ch)
	return ch
}

// Connect dials the server. Idempotent while connecting/open (spec
// §4.7: "connect() while already connecting returns the in-flight
// promise; while open resolves immediately").
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateOpen:
		c.mu.Unlock()
		return nil
	case StateConnecting:
		c.mu.Unlock()
		<-c.OnceOpen()
		return nil
	}
	c.manualClose = false
	c.mu.Unlock()

	c.setState(StateConnecting)
	return c.dial(ctx)
}

func (c *Client) dial(ctx context.Context) error {
	url := c.opts.URL
	protocols := append([]string(nil), c.opts.Protocols...)

	if c.opts.Auth != nil {
		token, err := c.opts.Auth.GetToken(ctx)
		if err != nil {
			c.setState(StateClosed)
			return err
		}
		switch c.opts.Auth.Attach {
		case AttachQuery:
			param := c.opts.Auth.QueryParam
			if param == "" {
				param = "access_token"
			}
			sep := "?"
			if containsQuery(url) {
				sep = "&"
			}
			url = fmt.Sprintf("%s%s%s=%s", url, sep, param, token)
		case AttachProtocol:
			prefix := c.opts.Auth.ProtocolPrefix
			if prefix == "" {
				prefix = "bearer."
			}
			proto := prefix + token
			if c.opts.Auth.ProtocolPosition == "prepend" {
				protocols = append([]string{proto}, protocols...)
			} else {
				protocols = append(protocols, proto)
			}
		}
	}

	dialer := *websocket.DefaultDialer
	dialer.Subprotocols = protocols

	conn, _, err := dialer.DialContext(ctx, url, http.Header{})
	if err != nil {
		c.handleDisconnect(ctx, err)
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.attempt = 0
	c.mu.Unlock()

	c.setState(StateOpen)
	c.flushOutbox(ctx)
	go c.readLoop(ctx)
	return nil
}

func containsQuery(url string) bool {
	for _, r := range url {
		if r == '?' {
			return true
		}
	}
	return false
}

func (c *Client) flushOutbox(ctx context.Context) {
	c.mu.Lock()
	items := c.outbox.drain()
	conn := c.conn
	c.mu.Unlock()
	for _, item := range items {
		if conn == nil {
			if item.onDrop != nil {
				item.onDrop(&ConnectionClosedError{})
			}
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, item.frame); err != nil && item.onDrop != nil {
			item.onDrop(err)
		}
	}
}

func (c *Client) readLoop(ctx context.Context) {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.handleDisconnect(ctx, err)
			return
		}
		c.handleInbound(raw)
	}
}

func (c *Client) handleInbound(raw []byte) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		c.reportError(&ValidationError{Msg: "malformed inbound frame"})
		return
	}
	cid, _ := frame.Meta["correlationId"].(string)
	if cid == "" {
		return // unsolicited server-initiated message; this client does not deliver these anywhere
	}
	entry, ok := c.pending.lookup(cid)
	if !ok {
		return // late reply, silently dropped (spec §4.7)
	}

	switch Classify(frame, entry.expectedResponseType) {
	case OutcomeServerError:
		var payload struct {
			Code         string         `json:"code"`
			Message      string         `json:"message"`
			Context      map[string]any `json:"context"`
			Retryable    bool           `json:"retryable"`
			RetryAfterMs *int64         `json:"retryAfterMs"`
		}
		_ = json.Unmarshal(frame.Payload, &payload)
		c.pending.remove(cid)
		entry.settle(frame, &ServerError{
			Code: payload.Code, Message: payload.Message, Context: payload.Context,
			Retryable: payload.Retryable, RetryAfterMs: payload.RetryAfterMs,
		})
	case OutcomeProgress:
		if entry.onProgress != nil {
			safeInvoke(func() { entry.onProgress(frame.Payload) })
		}
	case OutcomeResolve:
		c.pending.remove(cid)
		entry.settle(frame, nil)
	case OutcomeTypeMismatch:
		c.pending.remove(cid)
		entry.settle(frame, &ValidationError{Msg: fmt.Sprintf("expected type %s, got %s", entry.expectedResponseType, frame.Type)})
	}
}

func (c *Client) reportError(err error) {
	c.mu.Lock()
	cb := c.onError
	c.mu.Unlock()
	if cb != nil {
		safeInvoke(func() { cb(err) })
	}
}

func (c *Client) handleDisconnect(ctx context.Context, cause error) {
	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	manual := c.manualClose
	c.mu.Unlock()

	c.pending.drainAll(&ConnectionClosedError{})

	if manual {
		c.setState(StateClosed)
		return
	}
	if !c.opts.Reconnect.Enabled {
		c.setState(StateClosed)
		return
	}

	c.mu.Lock()
	c.attempt++
	attempt := c.attempt
	c.mu.Unlock()

	if c.opts.Reconnect.MaxAttempts > 0 && attempt > c.opts.Reconnect.MaxAttempts {
		c.setState(StateClosed)
		return
	}

	c.setState(StateReconnecting)
	delay := backoffDelay(c.opts.Reconnect, attempt-1)
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		c.mu.Lock()
		if c.manualClose {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
		c.setState(StateConnecting)
		_ = c.dial(ctx)
	}()
}

// Close is idempotent and safe from any state (spec §4.7, §8).
func (c *Client) Close() {
	c.mu.Lock()
	c.manualClose = true
	conn := c.conn
	alreadyClosed := c.state == StateClosed
	if alreadyClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateClosing
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	c.pending.drainAll(&ConnectionClosedError{})
	c.setState(StateClosed)
}

// normalize applies spec §4.7's outbound normalization steps.
func normalize(userMeta map[string]any, correlationID string) map[string]any {
	out := map[string]any{"timestamp": time.Now().UnixMilli()}
	for k, v := range userMeta {
		out[k] = v
	}
	if correlationID != "" {
		out["correlationId"] = correlationID
	}
	delete(out, "clientId")
	delete(out, "receivedAt")
	return out
}

// Send transmits a one-way message, queueing it if not open (spec
// §4.7).
func (c *Client) Send(sch schema.Schema, payload any, meta map[string]any) error {
	frame, err := encodeFrame(sch, payload, normalize(meta, ""))
	if err != nil {
		return err
	}
	return c.writeOrQueue(frame)
}

func (c *Client) writeOrQueue(frame []byte) error {
	c.mu.Lock()
	state := c.state
	conn := c.conn
	c.mu.Unlock()

	if state == StateOpen && conn != nil {
		return conn.WriteMessage(websocket.TextMessage, frame)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outbox.offer(frame, nil)
}

func encodeFrame(sch schema.Schema, payload any, meta map[string]any) ([]byte, error) {
	return json.Marshal(struct {
		Type    string         `json:"type"`
		Meta    map[string]any `json:"meta"`
		Payload any            `json:"payload,omitempty"`
	}{Type: sch.Type(), Meta: meta, Payload: payload})
}

// RequestOptions configures Request (spec §4.7, §6.3 analog for clients).
type RequestOptions struct {
	CorrelationID string
	TimeoutMs     int
	OnProgress    func(payload []byte)
	Signal        context.Context
	Meta          map[string]any
}

// Request issues an RPC and blocks until resolve/reject (spec §4.7). It
// returns the single result (reply frame or error) funneled through the
// entry's single settle path regardless of trigger.
func (c *Client) Request(sch schema.Schema, payload any, responseSchema schema.Schema, opts RequestOptions) (Frame, error) {
	if opts.Signal != nil && opts.Signal.Err() != nil {
		return Frame{}, &StateError{Msg: "aborted before dispatch"}
	}

	correlationID := opts.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	entry := newPendingEntry(correlationID, responseSchema.Type(), opts.OnProgress)
	if err := c.pending.add(entry); err != nil {
		return Frame{}, err
	}

	timeoutMs := opts.TimeoutMs
	if timeoutMs > 0 {
		entry.timer = time.AfterFunc(time.Duration(timeoutMs)*time.Millisecond, func() {
			c.pending.remove(correlationID)
			entry.settle(Frame{}, &TimeoutError{CorrelationID: correlationID})
		})
	}
	if opts.Signal != nil {
		done := make(chan struct{})
		entry.abortSub = func() { close(done) }
		go func() {
			select {
			case <-opts.Signal.Done():
				c.pending.remove(correlationID)
				entry.settle(Frame{}, &StateError{Msg: "aborted"})
			case <-done:
			}
		}()
	}

	frame, err := encodeFrame(sch, payload, normalize(opts.Meta, correlationID))
	if err != nil {
		c.pending.remove(correlationID)
		return Frame{}, err
	}
	if err := c.writeOrQueue(frame); err != nil {
		c.pending.remove(correlationID)
		return Frame{}, err
	}

	<-entry.done
	res := <-entry.resultCh
	return res.frame, res.err
}
