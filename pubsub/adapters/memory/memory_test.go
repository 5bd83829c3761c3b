package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/chris-alexander-pop/wsrouter/pubsub"
)

type fakeSender struct {
	mu      sync.Mutex
	sent    map[string][][]byte
	failFor string
}

func newFakeSender() *fakeSender { return &fakeSender{sent: map[string][][]byte{}} }

func (f *fakeSender) SendToClient(_ context.Context, clientID string, frame []byte) error {
	if clientID == f.failFor {
		return errors.New("send failed")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[clientID] = append(f.sent[clientID], frame)
	return nil
}

func TestPublishDeliversToAllLocalSubscribers(t *testing.T) {
	sender := newFakeSender()
	d := New(sender)
	d.Subscribe("c1", "room:general")
	d.Subscribe("c2", "room:general")

	result, err := d.Publish(context.Background(), pubsub.PublishEnvelope{
		Topic:   "room:general",
		Payload: map[string]any{"text": "hi"},
		Meta:    map[string]any{},
	}, pubsub.PublishOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if !result.OK || result.Capability != pubsub.CapabilityExact {
		t.Fatalf("expected exact capability, got %+v", result)
	}
	if result.Matched == nil || *result.Matched != 2 || result.MatchedLocal != 2 {
		t.Fatalf("expected matched=2, got %+v", result)
	}

	var clients []string
	for c := range sender.sent {
		clients = append(clients, c)
	}
	sort.Strings(clients)
	if len(clients) != 2 || clients[0] != "c1" || clients[1] != "c2" {
		t.Fatalf("expected both clients delivered, got %v", clients)
	}
}

func TestPublishWithNoSubscribersReportsZeroMatched(t *testing.T) {
	d := New(newFakeSender())
	result, err := d.Publish(context.Background(), pubsub.PublishEnvelope{Topic: "nobody-here"}, pubsub.PublishOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if *result.Matched != 0 || result.MatchedLocal != 0 {
		t.Fatalf("expected zero matched, got %+v", result)
	}
}

// A single failing delivery must not abort delivery to the rest (spec §4.4).
func TestPublishIsBestEffortAcrossSubscribers(t *testing.T) {
	sender := newFakeSender()
	sender.failFor = "c1"
	d := New(sender)
	d.Subscribe("c1", "room:general")
	d.Subscribe("c2", "room:general")

	result, err := d.Publish(context.Background(), pubsub.PublishEnvelope{Topic: "room:general"}, pubsub.PublishOptions{})
	if err != nil {
		t.Fatalf("best-effort delivery must not surface a per-client send error: %v", err)
	}
	if len(sender.sent["c2"]) != 1 {
		t.Fatal("expected c2 to still receive the frame despite c1 failing")
	}
	if _, ok := sender.sent["c1"]; ok {
		t.Fatal("c1's send was supposed to fail")
	}
	if result.MatchedLocal != 2 {
		t.Fatalf("matched accounting should count subscribers, not successful deliveries, got %d", result.MatchedLocal)
	}
}

func TestHealthyIsAlwaysTrue(t *testing.T) {
	d := New(newFakeSender())
	if !d.Healthy(context.Background()) {
		t.Fatal("memory driver has no external backend to fail")
	}
}
