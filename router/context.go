// Package router implements the ingress pipeline and Context API (spec
// §4.1, §6.3, §6.4, §9): schema lookup, validation, middleware chaining,
// handler dispatch, and the capability-gated Context/EventContext/
// RpcContext split. Grounded on the teacher library's pkg/messaging
// instrumented-decorator wiring (for the OTel/slog plumbing around
// dispatch) and pkg/api/middleware's func(next) http.Handler-style chain,
// generalized from HTTP middleware to WebSocket-frame middleware.
package router

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/chris-alexander-pop/wsrouter/connection"
	"github.com/chris-alexander-pop/wsrouter/internal/wserr"
	"github.com/chris-alexander-pop/wsrouter/platform"
	"github.com/chris-alexander-pop/wsrouter/pubsub"
	"github.com/chris-alexander-pop/wsrouter/schema"
	"github.com/chris-alexander-pop/wsrouter/topics"
)

// SendOptions configures ctx.Send (spec §4.1).
type SendOptions struct {
	Meta                 map[string]any
	WaitFor              string // "", "drain", "ack" ("ack" is treated identically to "drain" — spec §9)
	Signal               context.Context
	InheritCorrelationID bool
}

// PublishOptions configures ctx.Publish. Meta is placed on the published
// envelope as given; ctx.Publish does not merge it with the inbound meta
// or strip reserved keys from it.
type PublishOptions struct {
	Meta map[string]any
}

// ErrorOptions configures ctx.Error.
type ErrorOptions struct {
	Retryable    *bool
	RetryAfterMs *int64
}

// Context is the capability surface common to every handler and
// middleware invocation (spec §4.1 "Context capabilities"). Event and RPC
// handlers see richer wrappers (EventContext[P], RpcContext[P,R]) that
// embed *baseContext and so satisfy this interface automatically — no
// runtime capability checks are needed (spec §9).
type Context interface {
	Context() context.Context
	Type() string
	Meta() map[string]any
	ClientID() string
	Data() map[string]any
	AssignData(partial map[string]any)
	Topics() *topics.Topics
	Send(sch schema.Schema, payload any, opts SendOptions) (bool, error)
	Publish(topic string, sch schema.Schema, payload any, opts PublishOptions) (pubsub.PublishResult, error)
	Error(code wserr.Code, message string, details any, opts ErrorOptions)
}

// baseContext holds everything common to event and RPC dispatch. It
// implements Context directly; EventContext/RpcContext embed a pointer to
// it so promoted methods satisfy the interface without duplication.
type baseContext struct {
	ctx      context.Context
	msgType  string
	meta     map[string]any
	rawValue any // the validated payload value, boxed; concrete type is the registered P

	conn   *connection.Connection
	socket platform.ServerSocket
	router *Router

	// RPC-only fields; nil/zero for event contexts.
	correlationID  string
	responseSchema schema.Schema
	replied        *int32 // atomic idempotency guard, shared so Reply is at-most-once
}

func (c *baseContext) Context() context.Context { return c.ctx }
func (c *baseContext) Type() string              { return c.msgType }
func (c *baseContext) Meta() map[string]any      { return c.meta }
func (c *baseContext) ClientID() string          { return c.conn.ClientID }
func (c *baseContext) Data() map[string]any      { return c.conn.Data() }
func (c *baseContext) AssignData(partial map[string]any) { c.conn.AssignData(partial) }
func (c *baseContext) Topics() *topics.Topics    { return c.conn.Topics }

// Send encodes payload against sch and writes it to the connection's
// socket (spec §4.1 ctx.send). Reserved keys in opts.Meta are stripped;
// correlationId is copied from the inbound meta when InheritCorrelationID
// is set. waitFor "drain"/"ack" both resolve true on a successful write
// in this adapter (no platform write-buffer introspection is exposed —
// spec §9 treats "ack" as "drain" pending a real ack protocol).
func (c *baseContext) Send(sch schema.Schema, payload any, opts SendOptions) (bool, error) {
	outMeta := map[string]any{"timestamp": time.Now().UnixMilli()}
	for k, v := range opts.Meta {
		outMeta[k] = v
	}
	stripReservedKeys(outMeta)
	if opts.InheritCorrelationID {
		if cid, ok := c.meta["correlationId"]; ok {
			outMeta["correlationId"] = cid
		}
	}

	frame, err := encodeOutgoing(sch, outMeta, payload)
	if err != nil {
		return false, err
	}

	sendCtx := c.ctx
	if opts.Signal != nil {
		sendCtx = opts.Signal
	}
	if sendCtx.Err() != nil {
		return false, nil
	}
	if err := c.socket.Send(sendCtx, frame); err != nil {
		return false, err
	}
	return true, nil
}

// Publish validates payload (unless disabled) and hands the envelope to
// the pub/sub driver (spec §4.1 ctx.publish).
func (c *baseContext) Publish(topic string, sch schema.Schema, payload any, opts PublishOptions) (pubsub.PublishResult, error) {
	if sch.ValidateOutgoing() {
		if _, err := validatePayload(sch, payload); err != nil {
			return pubsub.PublishResult{}, err
		}
	}
	return c.router.cfg.PubSubDriver.Publish(c.ctx, pubsub.PublishEnvelope{
		Topic:   topic,
		Payload: payload,
		Meta:    opts.Meta,
	}, pubsub.PublishOptions{})
}

// Error writes an "ERROR" frame (spec §4.1 ctx.error, §6.1, §7). For RPC
// contexts it mirrors the request's correlationId and counts toward the
// at-most-once reply guarantee the same way Reply does.
func (c *baseContext) Error(code wserr.Code, message string, details any, opts ErrorOptions) {
	if !c.settleReply() {
		return
	}
	appErr := wserr.New(code, message, nil)
	if details != nil {
		appErr = appErr.WithDetails(details)
	}
	if opts.RetryAfterMs != nil {
		appErr = appErr.WithRetryAfter(*opts.RetryAfterMs)
	}
	retryable := appErr.Retryable()
	if opts.Retryable != nil {
		retryable = *opts.Retryable
	}

	payload := map[string]any{
		"code":    string(code),
		"message": message,
	}
	if details != nil {
		payload["context"] = details
	}
	payload["retryable"] = retryable
	if rms := appErr.RetryAfterMs(); rms != nil {
		payload["retryAfterMs"] = *rms
	}

	outMeta := map[string]any{"timestamp": time.Now().UnixMilli()}
	if c.correlationID != "" {
		outMeta["correlationId"] = c.correlationID
	}

	frame, err := encodeErrorFrame(outMeta, payload)
	if err != nil {
		return
	}
	_ = c.socket.Send(c.ctx, frame)
}

// settleReply reports whether this call is the first to settle the
// reply slot (spec §4.1: "subsequent calls are silently ignored,
// idempotent"; §8: "reply is externally observed at most once").
func (c *baseContext) settleReply() bool {
	if c.replied == nil {
		return true // event context: no reply concept, never gates
	}
	return atomic.CompareAndSwapInt32(c.replied, 0, 1)
}

// EventContext is handed to handlers registered via On: it has ctx.Send
// but not ctx.Reply/ctx.Progress (spec §4.1, §9).
type EventContext[P any] struct {
	*baseContext
	Payload P
}

// RpcContext is handed to handlers registered via Rpc: it additionally
// exposes Reply/Progress (spec §4.1, §9).
type RpcContext[P any, R any] struct {
	*baseContext
	Payload P
}

// Reply validates payload against the schema's response descriptor and
// writes the terminal reply frame, settling the RPC exactly once (spec
// §4.1 ctx.reply, §8).
func (c *RpcContext[P, R]) Reply(payload R, meta map[string]any) error {
	if !c.settleReply() {
		return nil
	}
	outMeta := map[string]any{"timestamp": time.Now().UnixMilli()}
	for k, v := range meta {
		outMeta[k] = v
	}
	stripReservedKeys(outMeta)
	if c.correlationID != "" {
		outMeta["correlationId"] = c.correlationID
	}
	frame, err := encodeOutgoing(c.responseSchema, outMeta, payload)
	if err != nil {
		return err
	}
	return c.socket.Send(c.ctx, frame)
}

// Progress writes a non-terminal "$ws:rpc-progress" frame; it never
// settles the reply slot and may be called any number of times (spec
// §4.1 ctx.progress, §6.1).
func (c *RpcContext[P, R]) Progress(payload any) error {
	outMeta := map[string]any{"timestamp": time.Now().UnixMilli()}
	if c.correlationID != "" {
		outMeta["correlationId"] = c.correlationID
	}
	frame, err := encodeProgressFrame(outMeta, payload)
	if err != nil {
		return err
	}
	return c.socket.Send(c.ctx, frame)
}

var (
	_ Context = (*baseContext)(nil)
)
