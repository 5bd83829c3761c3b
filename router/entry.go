package router

import "github.com/chris-alexander-pop/wsrouter/schema"

type entryKind int

const (
	kindEvent entryKind = iota
	kindRPC
)

// routeEntry is what the registry (registry.Registry, type-erased via
// registry.Entry = any) stores per message type (spec §4.2, §3 "Message
// registry entry").
type routeEntry struct {
	kind           entryKind
	schema         schema.Schema
	responseSchema schema.Schema // non-nil only for kindRPC
	middleware     []Middleware  // per-route middleware from on/rpc registration
	dispatch       func(bc *baseContext) error
}
