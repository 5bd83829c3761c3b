package router

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chris-alexander-pop/wsrouter/connection"
	"github.com/chris-alexander-pop/wsrouter/internal/obslog"
	"github.com/chris-alexander-pop/wsrouter/internal/wserr"
	"github.com/chris-alexander-pop/wsrouter/platform"
	"github.com/chris-alexander-pop/wsrouter/ratelimit"
)

// inboundFrame is the minimally-parsed shape of a client frame, read
// before schema lookup so routing can happen on `.type` alone (spec §4.1
// steps 1-2).
type inboundFrame struct {
	Type    string         `json:"type"`
	Meta    map[string]any `json:"meta"`
	Payload any            `json:"payload"`
}

// HandleFrame runs the full ingress pipeline for one received frame
// (spec §4.1 steps 1-10). It never panics the caller: handler/middleware
// panics are recovered and routed to the error sink, matching "Parse/
// validation failures do not close the connection" (spec §7).
func (r *Router) HandleFrame(ctx context.Context, conn *connection.Connection, sock platform.ServerSocket, raw []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		r.reportError(ctx, wserr.New(wserr.InvalidArgument, "malformed frame: not valid JSON", err), conn)
		return
	}

	if frame.Type == "" {
		r.reportError(ctx, wserr.New(wserr.InvalidArgument, "frame missing required \"type\" field", nil), conn)
		return
	}

	rawEntry, ok := r.registry.Lookup(frame.Type)
	if !ok {
		r.mu.Lock()
		unhandled := r.onUnhandled
		r.mu.Unlock()
		if unhandled != nil {
			safeInvoke(func() { unhandled(ctx, frame.Type, conn) }, ctx)
			return
		}
		r.emitUnhandledError(ctx, conn, frame)
		return
	}
	entry := rawEntry.(routeEntry)

	if r.cfg.MaxPayloadBytes > 0 && len(raw) > r.cfg.MaxPayloadBytes {
		r.emitLimitError(ctx, conn, frame, wserr.New(wserr.InvalidArgument, "frame exceeds maxPayloadBytes", nil))
		return
	}
	if !conn.BeginPending() {
		r.emitLimitError(ctx, conn, frame, wserr.New(wserr.ResourceExhausted, "per-connection maxPending exceeded", nil))
		return
	}
	defer conn.EndPending()

	if r.cfg.Limiter != nil {
		if err := r.checkRateLimit(ctx, conn, frame); err != nil {
			r.emitLimitError(ctx, conn, frame, err)
			return
		}
	}

	meta := frame.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	result := entry.schema.SafeParse(map[string]any{
		"type":    frame.Type,
		"meta":    meta,
		"payload": frame.Payload,
	})
	if !result.OK {
		r.emitValidationError(ctx, conn, frame, result.Issues)
		return
	}

	normalizedMeta := map[string]any{}
	for k, v := range result.Meta {
		normalizedMeta[k] = v
	}
	normalizedMeta["clientId"] = conn.ClientID
	normalizedMeta["receivedAt"] = time.Now().UnixMilli()

	bc := &baseContext{
		ctx:      ctx,
		msgType:  frame.Type,
		meta:     normalizedMeta,
		rawValue: result.Payload,
		conn:     conn,
		socket:   sock,
		router:   r,
	}
	if entry.kind == kindRPC {
		if cid, ok := normalizedMeta["correlationId"].(string); ok {
			bc.correlationID = cid
		}
		bc.responseSchema = entry.responseSchema
		var replied int32
		bc.replied = &replied
	}

	r.mu.Lock()
	chain := make([]Middleware, 0, len(r.globalMiddleware)+len(entry.middleware)+len(r.typeMiddleware[frame.Type]))
	chain = append(chain, r.globalMiddleware...)
	chain = append(chain, entry.middleware...)
	chain = append(chain, r.typeMiddleware[frame.Type]...)
	r.mu.Unlock()

	r.dispatch(ctx, conn, bc, chain, entry)
}

func (r *Router) dispatch(ctx context.Context, conn *connection.Connection, bc *baseContext, chain []Middleware, entry routeEntry) {
	defer func() {
		if rec := recover(); rec != nil {
			err := wserr.New(wserr.Internal, fmt.Sprintf("handler panicked: %v", rec), nil)
			r.reportError(ctx, err, conn)
			if entry.kind == kindRPC {
				bc.Error(wserr.Internal, err.Message, nil, ErrorOptions{})
			}
		}
	}()

	err := runChain(bc, chain, func() error { return entry.dispatch(bc) })
	if err != nil {
		appErr := toAppError(err)
		r.reportError(ctx, appErr, conn)
		if entry.kind == kindRPC {
			bc.Error(appErr.Code, appErr.Message, appErr.Details, ErrorOptions{})
		}
	}
}

func toAppError(err error) *wserr.AppError {
	var appErr *wserr.AppError
	if wserr.As(err, &appErr) {
		return appErr
	}
	return wserr.New(wserr.Internal, err.Error(), err)
}

// rateLimitKey derives the bucket key for a frame: the caller-supplied
// Config.RateLimitKey when set (spec §4.5: "key derivation is caller-owned"),
// else a per-client-per-type key.
func (r *Router) rateLimitKey(conn *connection.Connection, frame inboundFrame) string {
	if r.cfg.RateLimitKey == nil {
		return conn.ClientID + ":" + frame.Type
	}
	ip, _ := frame.Meta["ip"].(string)
	kc := ratelimit.KeyContext{
		Type: frame.Type,
		Data: conn.Data(),
		IP:   ip,
	}
	kc.Data["clientId"] = conn.ClientID
	return r.cfg.RateLimitKey(kc)
}

func (r *Router) checkRateLimit(ctx context.Context, conn *connection.Connection, frame inboundFrame) error {
	key := r.rateLimitKey(conn, frame)
	res, err := r.cfg.Limiter.Consume(ctx, key, 1)
	if err != nil {
		return err
	}
	if !res.Allowed {
		lim := r.cfg.Limiter.GetPolicy().Capacity
		return ratelimit.LimitExceededError{Observed: 1, Limit: lim, RetryAfterMs: res.RetryAfterMs}.ToAppError()
	}
	return nil
}

func (r *Router) emitUnhandledError(ctx context.Context, conn *connection.Connection, frame inboundFrame) {
	err := wserr.New(wserr.Unimplemented, fmt.Sprintf("no handler registered for type %q", frame.Type), nil)
	r.emitFrameError(ctx, conn, frame, err)
}

func (r *Router) emitLimitError(ctx context.Context, conn *connection.Connection, frame inboundFrame, err error) {
	r.emitFrameError(ctx, conn, frame, err)
}

func (r *Router) emitValidationError(ctx context.Context, conn *connection.Connection, frame inboundFrame, issues any) {
	err := wserr.New(wserr.ValidationError, "schema validation failed", nil).WithDetails(issues)
	r.emitFrameError(ctx, conn, frame, err)
}

// emitFrameError reports err to the router's onError observers and writes
// an ERROR frame to the connection's socket, copying the frame's
// correlationId into its meta when one was present (steps 2-6 run before
// a Context exists, so this path writes the wire frame itself rather than
// going through baseContext.Error).
func (r *Router) emitFrameError(ctx context.Context, conn *connection.Connection, frame inboundFrame, err error) {
	appErr := toAppError(err)
	r.reportError(ctx, appErr, conn)

	r.socketsMu.RLock()
	sock, ok := r.sockets[conn.ClientID]
	r.socketsMu.RUnlock()
	if !ok {
		return
	}

	meta := map[string]any{"timestamp": time.Now().UnixMilli()}
	if frame.Meta != nil {
		if cid, ok := frame.Meta["correlationId"].(string); ok {
			meta["correlationId"] = cid
		}
	}
	payload := map[string]any{
		"code":      string(appErr.Code),
		"message":   appErr.Message,
		"retryable": appErr.Retryable(),
	}
	if rms := appErr.RetryAfterMs(); rms != nil {
		payload["retryAfterMs"] = *rms
	}
	if appErr.Details != nil {
		payload["context"] = appErr.Details
	}
	wire, encErr := encodeErrorFrame(meta, payload)
	if encErr != nil {
		obslog.L().ErrorContext(ctx, "router: failed to encode error frame", "error", encErr)
		return
	}
	_ = sock.Send(ctx, wire)
}
