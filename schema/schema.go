// Package schema implements the Schema capability consumed by the router
// (spec §6.2): a declared {type, meta, payload?} shape exposing SafeParse,
// optionally carrying a response descriptor for RPC.
//
// Implementations are backed by github.com/go-playground/validator/v10
// struct-tag validation, grounded on the teacher library's pkg/validator.
// Unknown payload keys are rejected by decoding the payload through a
// strict (DisallowUnknownFields) json round-trip before validation. Keys
// inside meta and unknown top-level envelope keys are not checked.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Issue is one validation failure, roughly mirroring go-playground's
// FieldError but decoupled from it so callers never import the validator
// package directly.
type Issue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// Result is the outcome of SafeParse.
type Result struct {
	OK      bool
	Type    string
	Meta    map[string]any
	Payload any
	Issues  []Issue
}

// Schema is the capability the router depends on. Type-erased so the
// router's middleware chain and registry can hold heterogeneous schemas;
// concrete typed access happens at registration time via Def[P].
type Schema interface {
	// Type returns the literal message type this schema matches.
	Type() string
	// SafeParse validates a raw envelope (already JSON-decoded into a
	// map) and returns a typed Result.
	SafeParse(raw map[string]any) Result
	// Response returns the RPC response schema, or nil for event schemas
	// and schemas with no declared response.
	Response() Schema
	// ValidateOutgoing reports whether outgoing messages using this
	// schema should be validated before being written to the wire.
	ValidateOutgoing() bool
}

// Option configures a Def at construction time.
type Option func(*options)

type options struct {
	validateOutgoing bool
	response         Schema
}

// WithResponse declares the RPC response schema.
func WithResponse(resp Schema) Option {
	return func(o *options) { o.response = resp }
}

// WithValidateOutgoing overrides the default (true) outgoing-validation
// behavior for this schema.
func WithValidateOutgoing(v bool) Option {
	return func(o *options) { o.validateOutgoing = v }
}

// Def is a generic Schema implementation where P is the payload struct.
// Use struct tags (`validate:"..."`) from go-playground/validator to
// declare payload constraints.
type Def[P any] struct {
	msgType string
	opts    options
	validate *validator.Validate
}

// New declares a schema for message type msgType with payload type P.
func New[P any](msgType string, opts ...Option) *Def[P] {
	o := options{validateOutgoing: true}
	for _, fn := range opts {
		fn(&o)
	}
	return &Def[P]{msgType: msgType, opts: o, validate: validator.New()}
}

func (d *Def[P]) Type() string          { return d.msgType }
func (d *Def[P]) Response() Schema      { return d.opts.response }
func (d *Def[P]) ValidateOutgoing() bool { return d.opts.validateOutgoing }

// SafeParse validates raw["type"], raw["meta"] and raw["payload"] (unless
// P is NoPayload) against the declared shape. Unknown payload keys are
// rejected by round-tripping through a strict JSON decoder.
func (d *Def[P]) SafeParse(raw map[string]any) Result {
	var issues []Issue

	t, _ := raw["type"].(string)
	if t != d.msgType {
		issues = append(issues, Issue{Path: "type", Message: fmt.Sprintf("expected %q, got %q", d.msgType, t)})
	}

	meta, _ := raw["meta"].(map[string]any)
	if meta == nil {
		meta = map[string]any{}
	}

	var payload P
	if rawPayload, hasPayload := raw["payload"]; hasPayload && !isNoPayload[P]() {
		buf, err := json.Marshal(rawPayload)
		if err != nil {
			issues = append(issues, Issue{Path: "payload", Message: "payload is not serializable: " + err.Error()})
		} else {
			dec := json.NewDecoder(bytes.NewReader(buf))
			dec.DisallowUnknownFields()
			if err := dec.Decode(&payload); err != nil {
				issues = append(issues, Issue{Path: "payload", Message: err.Error()})
			}
		}
	} else if !hasPayload && !isNoPayload[P]() {
		issues = append(issues, Issue{Path: "payload", Message: "payload is required"})
	}

	if len(issues) == 0 {
		if err := d.validate.Struct(&payload); err != nil {
			if verrs, ok := err.(validator.ValidationErrors); ok {
				for _, fe := range verrs {
					issues = append(issues, Issue{Path: fe.Namespace(), Message: fe.Tag()})
				}
			} else {
				issues = append(issues, Issue{Path: "payload", Message: err.Error()})
			}
		}
	}

	if len(issues) > 0 {
		return Result{OK: false, Issues: issues}
	}

	return Result{OK: true, Type: t, Meta: meta, Payload: payload}
}

// NoPayload is used as the P type parameter for schemas with no payload
// (pure events carrying only type+meta).
type NoPayload struct{}

func isNoPayload[P any]() bool {
	var zero P
	_, ok := any(zero).(NoPayload)
	return ok
}
