package event

import (
	"errors"
	"testing"
)

func TestEmitRunsHandlersInOrder(t *testing.T) {
	var ev Event[int]
	var got []string
	ev.Subscribe(func(v int) error {
		got = append(got, "first")
		return nil
	})
	ev.Subscribe(func(v int) error {
		got = append(got, "second")
		return nil
	})

	if err := ev.Emit(7); err != nil {
		t.Fatalf("unexpected emit error: %v", err)
	}
	if len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Fatalf("unexpected handler order: %v", got)
	}
}

func TestEmitStopsAtFirstError(t *testing.T) {
	var ev Event[string]
	boom := errors.New("boom")
	calledAfter := false
	ev.Subscribe(func(string) error { return boom })
	ev.Subscribe(func(string) error {
		calledAfter = true
		return nil
	})

	if err := ev.Emit("x"); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if calledAfter {
		t.Fatalf("expected emission to stop after failing handler")
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	var ev Event[int]
	calls := 0
	sub := ev.Subscribe(func(int) error {
		calls++
		return nil
	})
	other := ev.Subscribe(func(int) error { return nil })

	sub.Unsubscribe()
	sub.Unsubscribe()

	if ev.Len() != 1 {
		t.Fatalf("expected one subscriber after unsubscribe, got %d", ev.Len())
	}
	if err := ev.Emit(1); err != nil {
		t.Fatalf("unexpected emit error: %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected removed handler not to run, ran %d times", calls)
	}

	other.Unsubscribe()
	if ev.Len() != 0 {
		t.Fatalf("expected no subscribers, got %d", ev.Len())
	}
}

func TestNilEventIsSafe(t *testing.T) {
	var ev *Event[int]
	if err := ev.Emit(1); err != nil {
		t.Fatalf("nil event emit returned %v", err)
	}
	ev.Subscribe(func(int) error { return nil }).Unsubscribe()
	var sub *Subscription
	sub.Unsubscribe()
}
