package wsclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chris-alexander-pop/wsrouter/schema"
)

func TestNormalizeSetsTimestampCorrelationIdAndStripsReservedKeys(t *testing.T) {
	meta := normalize(map[string]any{"clientId": "forged", "receivedAt": 1, "custom": "keep"}, "cid-1")
	if _, ok := meta["clientId"]; ok {
		t.Fatal("expected clientId to be stripped")
	}
	if _, ok := meta["receivedAt"]; ok {
		t.Fatal("expected receivedAt to be stripped")
	}
	if meta["correlationId"] != "cid-1" {
		t.Fatalf("expected correlationId to be set, got %v", meta["correlationId"])
	}
	if meta["custom"] != "keep" {
		t.Fatal("expected non-reserved keys to survive")
	}
	if _, ok := meta["timestamp"]; !ok {
		t.Fatal("expected timestamp to be stamped")
	}
}

func TestNormalizeOmitsCorrelationIdWhenEmpty(t *testing.T) {
	meta := normalize(nil, "")
	if _, ok := meta["correlationId"]; ok {
		t.Fatal("expected no correlationId for a one-way send")
	}
}

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

type echoPayload struct {
	Message string `json:"message"`
}

// newEchoServer replies to every inbound frame with a frame of type
// respType carrying the same correlationId, echoing payload.message into
// payload.echo.
func newEchoServer(t *testing.T, respType string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var in Frame
			_ = json.Unmarshal(raw, &in)
			var payload echoPayload
			_ = json.Unmarshal(in.Payload, &payload)

			out, _ := json.Marshal(map[string]any{
				"type":    respType,
				"meta":    in.Meta,
				"payload": echoPayload{Message: payload.Message},
			})
			if err := conn.WriteMessage(websocket.TextMessage, out); err != nil {
				return
			}
		}
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestClientRequestRoundTrip(t *testing.T) {
	server := newEchoServer(t, "ECHO_RESULT")
	defer server.Close()

	c := New(DefaultOptions(wsURL(server)))
	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	reqSchema := schema.New[echoPayload]("ECHO")
	respSchema := schema.New[echoPayload]("ECHO_RESULT")

	frame, err := c.Request(reqSchema, echoPayload{Message: "hi"}, respSchema, RequestOptions{TimeoutMs: 2000})
	if err != nil {
		t.Fatal(err)
	}
	var payload echoPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		t.Fatal(err)
	}
	if payload.Message != "hi" {
		t.Fatalf("expected echoed message, got %+v", payload)
	}
}

func TestClientRequestTypeMismatchSurfacesValidationError(t *testing.T) {
	server := newEchoServer(t, "WRONG_TYPE")
	defer server.Close()

	c := New(DefaultOptions(wsURL(server)))
	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	reqSchema := schema.New[echoPayload]("ECHO")
	respSchema := schema.New[echoPayload]("ECHO_RESULT")

	_, err := c.Request(reqSchema, echoPayload{Message: "hi"}, respSchema, RequestOptions{TimeoutMs: 2000})
	if err == nil {
		t.Fatal("expected a type-mismatch error")
	}
	if _, ok := err.(*ValidationError); !ok {
		t.Fatalf("expected *ValidationError, got %T: %v", err, err)
	}
}

func TestClientRequestTimesOutWhenServerNeverReplies(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	c := New(DefaultOptions(wsURL(server)))
	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	reqSchema := schema.New[echoPayload]("ECHO")
	respSchema := schema.New[echoPayload]("ECHO_RESULT")

	start := time.Now()
	_, err := c.Request(reqSchema, echoPayload{Message: "hi"}, respSchema, RequestOptions{TimeoutMs: 100})
	if err == nil {
		t.Fatal("expected a timeout error")
	}
	if _, ok := err.(*TimeoutError); !ok {
		t.Fatalf("expected *TimeoutError, got %T: %v", err, err)
	}
	if time.Since(start) < 100*time.Millisecond {
		t.Fatal("expected Request to block for roughly the timeout duration")
	}
}

func TestClientSendQueuesWhileDisconnectedThenFlushesOnOpen(t *testing.T) {
	received := make(chan echoPayload, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var in Frame
		_ = json.Unmarshal(raw, &in)
		var payload echoPayload
		_ = json.Unmarshal(in.Payload, &payload)
		received <- payload
	}))
	defer server.Close()

	opts := DefaultOptions(wsURL(server))
	c := New(opts)
	sch := schema.New[echoPayload]("ONE_WAY")

	// Not connected yet: Send must queue rather than error under the
	// default drop-newest policy with room in the buffer.
	if err := c.Send(sch, echoPayload{Message: "queued"}, nil); err != nil {
		t.Fatal(err)
	}

	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	select {
	case payload := <-received:
		if payload.Message != "queued" {
			t.Fatalf("expected queued message to flush on open, got %+v", payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for queued frame to flush")
	}
}

func TestClientCloseIsIdempotent(t *testing.T) {
	server := newEchoServer(t, "ECHO_RESULT")
	defer server.Close()

	c := New(DefaultOptions(wsURL(server)))
	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	c.Close()
	c.Close()
	if c.State() != StateClosed {
		t.Fatalf("expected closed state, got %v", c.State())
	}
}
