package pubsub

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type fakeConsumer struct {
	name      string
	failStart bool
	started   bool
	stopped   bool
	log       *[]string
}

func (f *fakeConsumer) Start(_ context.Context, _ func(PublishEnvelope)) (func(), error) {
	if f.failStart {
		return nil, errors.New("fake consumer: start failed")
	}
	f.started = true
	*f.log = append(*f.log, "start:"+f.name)
	return func() {
		f.stopped = true
		*f.log = append(*f.log, "stop:"+f.name)
	}, nil
}

func TestCombineConsumersStopsInReverseOrderOnSuccess(t *testing.T) {
	var log []string
	a := &fakeConsumer{name: "a", log: &log}
	b := &fakeConsumer{name: "b", log: &log}
	c := &fakeConsumer{name: "c", log: &log}

	combined := CombineConsumers(a, b, c)
	stop, err := combined.Start(context.Background(), func(PublishEnvelope) {})
	if err != nil {
		t.Fatal(err)
	}
	stop()

	want := []string{"start:a", "start:b", "start:c", "stop:c", "stop:b", "stop:a"}
	if len(log) != len(want) {
		t.Fatalf("expected %v, got %v", want, log)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, log)
		}
	}
}

func TestCombineConsumersRollsBackOnFailure(t *testing.T) {
	var log []string
	a := &fakeConsumer{name: "a", log: &log}
	b := &fakeConsumer{name: "b", log: &log}
	failing := &fakeConsumer{name: "fail", log: &log, failStart: true}

	combined := CombineConsumers(a, b, failing)
	_, err := combined.Start(context.Background(), func(PublishEnvelope) {})
	if err == nil {
		t.Fatal("expected Start to fail")
	}

	want := []string{"start:a", "start:b", "stop:b", "stop:a"}
	if len(log) != len(want) {
		t.Fatalf("expected %v, got %v", want, log)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, log)
		}
	}
}

func TestCombinedStopIsIdempotentUnderConcurrency(t *testing.T) {
	var log []string
	a := &fakeConsumer{name: "a", log: &log}
	combined := CombineConsumers(a)
	stop, err := combined.Start(context.Background(), func(PublishEnvelope) {})
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stop()
		}()
	}
	wg.Wait()

	count := 0
	for _, l := range log {
		if l == "stop:a" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected stop to fire exactly once, fired %d times", count)
	}
}
