package wsclient

import "testing"

func TestQueueOffRejectsImmediately(t *testing.T) {
	q := newOutboxQueue(QueueOff, 10)
	if err := q.offer([]byte("x"), nil); err == nil {
		t.Fatal("expected QueueOff to reject every offer")
	}
	if q.len() != 0 {
		t.Fatal("expected nothing enqueued")
	}
}

// spec §8: "queueSize = 0 with queue: drop-newest and disconnected: every
// send is immediately dropped".
func TestDropNewestWithZeroSizeDropsEveryOffer(t *testing.T) {
	q := newOutboxQueue(QueueDropNewest, 0)
	dropped := false
	if err := q.offer([]byte("x"), func(error) { dropped = true }); err != nil {
		t.Fatalf("offer itself should not error, got %v", err)
	}
	if !dropped {
		t.Fatal("expected the offered frame to be dropped immediately")
	}
	if q.len() != 0 {
		t.Fatal("expected queue to remain empty")
	}
}

func TestDropOldestWithZeroSizeDropsEveryOffer(t *testing.T) {
	q := newOutboxQueue(QueueDropOldest, 0)
	dropped := false
	if err := q.offer([]byte("x"), func(error) { dropped = true }); err != nil {
		t.Fatalf("offer itself should not error, got %v", err)
	}
	if !dropped {
		t.Fatal("expected the offered frame to be dropped immediately with zero capacity")
	}
	if q.len() != 0 {
		t.Fatal("expected queue to remain empty")
	}
}

func TestDropNewestDropsTheIncomingFrameAtCapacity(t *testing.T) {
	q := newOutboxQueue(QueueDropNewest, 1)
	if err := q.offer([]byte("first"), nil); err != nil {
		t.Fatal(err)
	}
	droppedIdx := -1
	if err := q.offer([]byte("second"), func(error) { droppedIdx = 1 }); err != nil {
		t.Fatal(err)
	}
	if droppedIdx != 1 {
		t.Fatal("expected the second (incoming) frame to be dropped")
	}
	items := q.drain()
	if len(items) != 1 || string(items[0].frame) != "first" {
		t.Fatalf("expected only the first frame to survive, got %v", items)
	}
}

func TestDropOldestEvictsTheOldestFrameAtCapacity(t *testing.T) {
	q := newOutboxQueue(QueueDropOldest, 1)
	firstDropped := false
	if err := q.offer([]byte("first"), func(error) { firstDropped = true }); err != nil {
		t.Fatal(err)
	}
	if err := q.offer([]byte("second"), nil); err != nil {
		t.Fatal(err)
	}
	if !firstDropped {
		t.Fatal("expected the oldest frame to be evicted and its onDrop invoked")
	}
	items := q.drain()
	if len(items) != 1 || string(items[0].frame) != "second" {
		t.Fatalf("expected only the newest frame to survive, got %v", items)
	}
}

func TestDrainReturnsFIFOOrderAndEmptiesQueue(t *testing.T) {
	q := newOutboxQueue(QueueDropNewest, 10)
	_ = q.offer([]byte("a"), nil)
	_ = q.offer([]byte("b"), nil)
	_ = q.offer([]byte("c"), nil)

	items := q.drain()
	if len(items) != 3 || string(items[0].frame) != "a" || string(items[2].frame) != "c" {
		t.Fatalf("expected FIFO order a,b,c, got %v", items)
	}
	if q.len() != 0 {
		t.Fatal("expected drain to empty the queue")
	}
}
