package connection

import (
	"context"
	"testing"

	"github.com/chris-alexander-pop/wsrouter/pubsub"
	"github.com/chris-alexander-pop/wsrouter/pubsub/adapters/memory"
	"github.com/chris-alexander-pop/wsrouter/topics"
)

type nopSender struct{}

func (nopSender) SendToClient(context.Context, string, []byte) error { return nil }

func newTestDriver() pubsub.Driver { return memory.New(nopSender{}) }

func TestDataShallowCopyAndMerge(t *testing.T) {
	c := New("c1", DriverTopicAdapter{Driver: newTestDriver()}, 10, 0)
	c.AssignData(map[string]any{"role": "guest"})
	c.AssignData(map[string]any{"name": "ada"})

	data := c.Data()
	if data["role"] != "guest" || data["name"] != "ada" {
		t.Fatalf("expected merged data, got %+v", data)
	}

	data["role"] = "mutated-externally"
	if fresh := c.Data(); fresh["role"] != "guest" {
		t.Fatal("Data() must return a shallow copy, not a live reference")
	}
}

func TestPendingCounterTracksInFlightHandlers(t *testing.T) {
	c := New("c1", DriverTopicAdapter{Driver: newTestDriver()}, 10, 0)
	if c.PendingCount() != 0 {
		t.Fatal("expected zero pending at start")
	}
	c.BeginPending()
	c.BeginPending()
	if c.PendingCount() != 2 {
		t.Fatalf("expected 2 pending, got %d", c.PendingCount())
	}
	c.EndPending()
	if c.PendingCount() != 1 {
		t.Fatalf("expected 1 pending, got %d", c.PendingCount())
	}
}

func TestCloseFiresHandlersInRegistrationOrderAndUnsubscribesAll(t *testing.T) {
	driver := newTestDriver()
	c := New("c1", DriverTopicAdapter{Driver: driver}, 10, 0)
	ctx := context.Background()
	if _, err := c.Topics.Subscribe(ctx, "room:a", topics.Options{}); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Topics.Subscribe(ctx, "room:b", topics.Options{}); err != nil {
		t.Fatal(err)
	}

	var order []int
	c.OnClose(func(*Connection) { order = append(order, 1) })
	c.OnClose(func(*Connection) { order = append(order, 2) })

	c.Close(driver)

	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("expected close handlers in registration order, got %v", order)
	}
	if driver.HasTopic("room:a") || driver.HasTopic("room:b") {
		t.Fatal("expected Close to unsubscribe from every held topic")
	}
}

func TestBeginPendingRejectsAtMaxPendingCapacity(t *testing.T) {
	c := New("c1", DriverTopicAdapter{Driver: newTestDriver()}, 10, 2)
	if !c.BeginPending() || !c.BeginPending() {
		t.Fatal("expected the first two admissions to succeed")
	}
	if c.BeginPending() {
		t.Fatal("expected the third admission to be rejected at maxPending=2")
	}
	c.EndPending()
	if !c.BeginPending() {
		t.Fatal("expected a released slot to admit a new handler")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	driver := newTestDriver()
	c := New("c1", DriverTopicAdapter{Driver: driver}, 10, 0)
	calls := 0
	c.OnClose(func(*Connection) { calls++ })

	c.Close(driver)
	c.Close(driver)

	if calls != 1 {
		t.Fatalf("expected close handlers to fire exactly once, fired %d times", calls)
	}
}
