package wsadapter

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chris-alexander-pop/wsrouter/pubsub/adapters/memory"
	"github.com/chris-alexander-pop/wsrouter/router"
	"github.com/chris-alexander-pop/wsrouter/schema"
)

type pingPayload struct {
	Message string `json:"message" validate:"required"`
}
type pongPayload struct {
	Echo string `json:"echo"`
}

func TestHandlerRoundTripsAFrameThroughTheRouter(t *testing.T) {
	r := router.New(router.Config{MaxTopicsPerConnection: 10})
	r.SetPubSubDriver(memory.New(r))

	respSchema := schema.New[pongPayload]("PONG_RESULT", schema.WithValidateOutgoing(true))
	reqWithResp := schema.New[pingPayload]("PING", schema.WithResponse(respSchema))

	if err := router.Rpc(r, reqWithResp, func(ctx *router.RpcContext[pingPayload, pongPayload]) error {
		return ctx.Reply(pongPayload{Echo: ctx.Payload.Message}, nil)
	}); err != nil {
		t.Fatal(err)
	}
	r.Freeze()

	handler := &Handler{Router: r, Upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}}
	server := httptest.NewServer(handler)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	raw, _ := json.Marshal(map[string]any{
		"type":    "PING",
		"meta":    map[string]any{"correlationId": "c1"},
		"payload": pingPayload{Message: "hello"},
	})
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatal(err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, reply, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	var frame struct {
		Type    string         `json:"type"`
		Meta    map[string]any `json:"meta"`
		Payload pongPayload    `json:"payload"`
	}
	if err := json.Unmarshal(reply, &frame); err != nil {
		t.Fatal(err)
	}
	if frame.Type != "PONG_RESULT" || frame.Payload.Echo != "hello" {
		t.Fatalf("unexpected reply frame: %+v", frame)
	}
	if frame.Meta["correlationId"] != "c1" {
		t.Fatalf("expected correlationId to be mirrored, got %+v", frame.Meta)
	}
}
