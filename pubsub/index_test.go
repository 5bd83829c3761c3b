package pubsub

import (
	"sort"
	"sync"
	"testing"
)

func TestSubscribeAndGetLocalSubscribers(t *testing.T) {
	idx := NewIndex()
	idx.Subscribe("c1", "room:general")
	idx.Subscribe("c2", "room:general")

	subs := idx.GetLocalSubscribers("room:general")
	sort.Strings(subs)
	if len(subs) != 2 || subs[0] != "c1" || subs[1] != "c2" {
		t.Fatalf("unexpected subscribers: %v", subs)
	}
}

func TestUnsubscribeRemovesEntryWhenEmpty(t *testing.T) {
	idx := NewIndex()
	idx.Subscribe("c1", "room:general")
	idx.Unsubscribe("c1", "room:general")

	if idx.HasTopic("room:general") {
		t.Fatal("expected topic entry to be cleaned up once empty")
	}
	if len(idx.GetLocalSubscribers("room:general")) != 0 {
		t.Fatal("expected no subscribers after unsubscribe")
	}
}

func TestUnsubscribeAllCleansUpMultipleTopics(t *testing.T) {
	idx := NewIndex()
	idx.Subscribe("c1", "a")
	idx.Subscribe("c1", "b")
	idx.UnsubscribeAll("c1", []string{"a", "b"})

	if idx.HasTopic("a") || idx.HasTopic("b") {
		t.Fatal("expected both topics cleaned up")
	}
}

func TestListTopics(t *testing.T) {
	idx := NewIndex()
	idx.Subscribe("c1", "a")
	idx.Subscribe("c2", "b")
	topics := idx.ListTopics()
	sort.Strings(topics)
	if len(topics) != 2 || topics[0] != "a" || topics[1] != "b" {
		t.Fatalf("unexpected topic list: %v", topics)
	}
}

// Concurrent subscribe/unsubscribe across many topics and clients must not
// race (spec §5: "subscribe/unsubscribe/getLocalSubscribers/listTopics
// must be safe under concurrent calls").
func TestIndexConcurrentAccess(t *testing.T) {
	idx := NewIndex()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			topic := "topic"
			client := "client"
			idx.Subscribe(client, topic)
			idx.GetLocalSubscribers(topic)
			idx.ListTopics()
			idx.Unsubscribe(client, topic)
		}(i)
	}
	wg.Wait()
}
