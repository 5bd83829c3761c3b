// Package wsadapter bridges net/http + gorilla/websocket to the
// platform.ServerSocket contract (spec §6.5), the one concrete transport
// this repository ships. Grounded on the pack's recurring
// upgrade-handler/read-pump/write-pump shape (e.g.
// stepherg-blizzardgw/internal/ws/handler.go,
// paulwilltell-OFFGRIDFLOW/internal/realtime/hub.go): a single reader
// goroutine per connection feeding the router, a mutex-serialized writer
// since gorilla's Conn forbids concurrent writes, and a ping ticker to
// detect dead peers.
package wsadapter

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chris-alexander-pop/wsrouter/connection"
	"github.com/chris-alexander-pop/wsrouter/internal/obslog"
	"github.com/chris-alexander-pop/wsrouter/platform"
	"github.com/chris-alexander-pop/wsrouter/router"
)

// Tunable keepalive timing, aligned with the gorilla/websocket chat
// example convention the pack repeatedly follows.
const (
	defaultPongWait   = 60 * time.Second
	defaultPingPeriod = (defaultPongWait * 9) / 10
	defaultWriteWait  = 10 * time.Second
)

// Socket adapts one gorilla *websocket.Conn to platform.ServerSocket.
// Subscribe/Unsubscribe are no-ops: plain net/http sockets have no
// platform-native fan-out mechanism to notify (spec §6.5).
type Socket struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	state     int32 // atomic, one of platform.{Connecting,Open,Closing,Closed}
	closeOnce sync.Once
}

func newSocket(conn *websocket.Conn) *Socket {
	s := &Socket{conn: conn}
	atomic.StoreInt32(&s.state, platform.Open)
	return s
}

// Send writes frame as a single text message. Safe for concurrent callers
// — gorilla/websocket forbids concurrent writes on one Conn, so every
// write is serialized through writeMu (spec §6.5: "Send must be safe to
// call concurrently with itself").
func (s *Socket) Send(ctx context.Context, frame []byte) error {
	if atomic.LoadInt32(&s.state) != platform.Open {
		return nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(defaultWriteWait))
	return s.conn.WriteMessage(websocket.TextMessage, frame)
}

func (s *Socket) Subscribe(string)   {}
func (s *Socket) Unsubscribe(string) {}

// Close sends a close frame (best-effort) and tears down the underlying
// connection. Idempotent.
func (s *Socket) Close(code int, reason string) error {
	var err error
	s.closeOnce.Do(func() {
		atomic.StoreInt32(&s.state, platform.Closing)
		s.writeMu.Lock()
		deadline := time.Now().Add(defaultWriteWait)
		_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		s.writeMu.Unlock()
		err = s.conn.Close()
		atomic.StoreInt32(&s.state, platform.Closed)
	})
	return err
}

func (s *Socket) ReadyState() int { return int(atomic.LoadInt32(&s.state)) }

var _ platform.ServerSocket = (*Socket)(nil)

// Handler upgrades incoming HTTP requests to WebSocket connections and
// drives each one's read pump into the router (spec §6.5).
type Handler struct {
	Router        *router.Router
	Upgrader      websocket.Upgrader
	Authenticator platform.Authenticator
	ReadLimit     int64 // bytes; 0 means gorilla's default (no limit)
	PongWait      time.Duration
	PingPeriod    time.Duration
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var clientID string
	var connData map[string]any
	if h.Authenticator != nil {
		cid, data, err := h.Authenticator(ctx)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		clientID, connData = cid, data
	}

	conn, err := h.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		obslog.L().WarnContext(ctx, "wsadapter: upgrade failed", "error", err)
		return
	}

	sock := newSocket(conn)
	pongWait := h.PongWait
	if pongWait <= 0 {
		pongWait = defaultPongWait
	}
	pingPeriod := h.PingPeriod
	if pingPeriod <= 0 {
		pingPeriod = defaultPingPeriod
	}
	if h.ReadLimit > 0 {
		conn.SetReadLimit(h.ReadLimit)
	}
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	wsConn := h.Router.OnOpenSocket(ctx, sock, clientID, connData)

	done := make(chan struct{})
	go h.pingLoop(sock, pingPeriod, done)

	h.readLoop(ctx, wsConn, sock)
	close(done)
	h.Router.OnCloseSocket(wsConn)
}

func (h *Handler) readLoop(ctx context.Context, conn *connection.Connection, sock *Socket) {
	for {
		_, raw, err := sock.conn.ReadMessage()
		if err != nil {
			return
		}
		h.Router.HandleFrame(ctx, conn, sock, raw)
	}
}

func (h *Handler) pingLoop(sock *Socket, period time.Duration, done chan struct{}) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			sock.writeMu.Lock()
			err := sock.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(defaultWriteWait))
			sock.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
