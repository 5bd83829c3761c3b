// Package platform defines the narrow contract a concrete transport
// (net/http + gorilla/websocket, Cloudflare Durable Objects, etc.) must
// satisfy to host the router (spec §6.5). The router only ever sees these
// interfaces — platform/wsadapter provides the one concrete adapter this
// repository ships.
package platform

import "context"

// Socket readiness states, mirroring the familiar WebSocket readyState
// values so adapters can reuse platform constants directly.
const (
	Connecting = 0
	Open       = 1
	Closing    = 2
	Closed     = 3
)

// ServerSocket is the abstract server-side connection the router writes
// frames to and reads lifecycle state from (spec §6.5).
type ServerSocket interface {
	// Send transmits frame (already-encoded JSON) to the peer. Send must
	// be safe to call concurrently with itself.
	Send(ctx context.Context, frame []byte) error
	// Subscribe/Unsubscribe notify a platform-native fan-out mechanism,
	// if the platform has one (e.g. Cloudflare's socket.subscribe). Pure
	// net/http sockets implement these as no-ops.
	Subscribe(topic string)
	Unsubscribe(topic string)
	Close(code int, reason string) error
	ReadyState() int
}

// Authenticator runs once per incoming connection before a Connection is
// created. Returning an error refuses the upgrade (spec §4.6: "Auth
// failure ... the adapter refuses the upgrade; no Connection is created").
type Authenticator func(ctx context.Context) (clientID string, data map[string]any, err error)
