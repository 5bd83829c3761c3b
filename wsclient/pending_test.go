package wsclient

import (
	"errors"
	"testing"
)

func TestPendingMapAddEnforcesLimitSynchronously(t *testing.T) {
	m := newPendingMap(1)
	if err := m.add(newPendingEntry("c1", "RESULT", nil)); err != nil {
		t.Fatal(err)
	}
	if err := m.add(newPendingEntry("c2", "RESULT", nil)); err == nil {
		t.Fatal("expected the second admission to be rejected at the limit")
	}
	if m.size() != 1 {
		t.Fatalf("expected exactly one admitted entry, got %d", m.size())
	}
}

func TestPendingMapUnlimitedWhenLimitIsZero(t *testing.T) {
	m := newPendingMap(0)
	for i := 0; i < 5; i++ {
		if err := m.add(newPendingEntry(string(rune('a'+i)), "RESULT", nil)); err != nil {
			t.Fatalf("expected no limit to be enforced, got %v at i=%d", err, i)
		}
	}
}

func TestSettleIsObservedExactlyOnce(t *testing.T) {
	e := newPendingEntry("c1", "RESULT", nil)
	e.settle(Frame{Type: "RESULT"}, nil)
	e.settle(Frame{Type: "ERROR"}, errors.New("too late"))

	select {
	case res := <-e.resultCh:
		if res.frame.Type != "RESULT" {
			t.Fatalf("expected the first settle to win, got %+v", res)
		}
	default:
		t.Fatal("expected a result to be available")
	}
}

func TestDrainAllSettlesEveryEntryAndClearsMap(t *testing.T) {
	m := newPendingMap(0)
	e1 := newPendingEntry("c1", "RESULT", nil)
	e2 := newPendingEntry("c2", "RESULT", nil)
	_ = m.add(e1)
	_ = m.add(e2)

	cause := errors.New("connection closed")
	m.drainAll(cause)

	for _, e := range []*pendingEntry{e1, e2} {
		select {
		case res := <-e.resultCh:
			if res.err != cause {
				t.Fatalf("expected drainAll's cause to be delivered, got %v", res.err)
			}
		default:
			t.Fatal("expected every entry to be settled")
		}
	}
	if m.size() != 0 {
		t.Fatal("expected the pending map to be emptied")
	}
}

func TestLookupAndRemove(t *testing.T) {
	m := newPendingMap(0)
	e := newPendingEntry("c1", "RESULT", nil)
	_ = m.add(e)

	if found, ok := m.lookup("c1"); !ok || found != e {
		t.Fatal("expected lookup to find the admitted entry")
	}
	m.remove("c1")
	if _, ok := m.lookup("c1"); ok {
		t.Fatal("expected entry to be gone after remove")
	}
	m.remove("c1") // must not panic
}
