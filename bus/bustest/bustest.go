// Package bustest provides a reusable behavioural test suite that every
// bus.Bus implementation must pass.
package bustest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/growhaus/premium-client-go/bus"
)

// BusFactory creates a fresh bus instance for one test.
type BusFactory func(t *testing.T) bus.Bus

// RunBusTests runs the conformance suite against the provided factory.
func RunBusTests(t *testing.T, factory BusFactory) {
	t.Run("PublishReachesSubscriber", func(t *testing.T) {
		testPublishReachesSubscriber(t, factory)
	})
	t.Run("EventNameIsolation", func(t *testing.T) {
		testEventNameIsolation(t, factory)
	})
	t.Run("MultipleSubscribersSameEvent", func(t *testing.T) {
		testMultipleSubscribersSameEvent(t, factory)
	})
	t.Run("UnsubscribeStopsDelivery", func(t *testing.T) {
		testUnsubscribeStopsDelivery(t, factory)
	})
	t.Run("DoubleUnsubscribeReturnsSentinel", func(t *testing.T) {
		testDoubleUnsubscribe(t, factory)
	})
}

type recorder struct {
	mu     sync.Mutex
	events []bus.Event
	notify chan struct{}
}

func newRecorder() *recorder {
	return &recorder{notify: make(chan struct{}, 64)}
}

func (r *recorder) handle(_ context.Context, evt bus.Event) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

func (r *recorder) waitFor(t *testing.T, n int, timeout time.Duration) []bus.Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		r.mu.Lock()
		if len(r.events) >= n {
			out := make([]bus.Event, len(r.events))
			copy(out, r.events)
			r.mu.Unlock()
			return out
		}
		r.mu.Unlock()
		select {
		case <-r.notify:
		case <-deadline:
			r.mu.Lock()
			out := make([]bus.Event, len(r.events))
			copy(out, r.events)
			r.mu.Unlock()
			return out
		}
	}
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func event(name, payload string) bus.Event {
	return bus.Event{Type: "request", Name: name, Data: json.RawMessage(payload)}
}

func testPublishReachesSubscriber(t *testing.T, factory BusFactory) {
	b := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rec := newRecorder()
	unsub, err := b.Subscribe(ctx, "conf:event", rec.handle)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer func() { _ = unsub(ctx) }()

	if err := b.Publish(ctx, event("conf:event", `{"n":1}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	events := rec.waitFor(t, 1, 2*time.Second)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Name != "conf:event" {
		t.Errorf("expected event name %q, got %q", "conf:event", events[0].Name)
	}
	if string(events[0].Data) != `{"n":1}` {
		t.Errorf("payload mangled: %s", events[0].Data)
	}
}

func testEventNameIsolation(t *testing.T, factory BusFactory) {
	b := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	recA := newRecorder()
	recB := newRecorder()
	unsubA, err := b.Subscribe(ctx, "conf:a", recA.handle)
	if err != nil {
		t.Fatalf("subscribe a: %v", err)
	}
	defer func() { _ = unsubA(ctx) }()
	unsubB, err := b.Subscribe(ctx, "conf:b", recB.handle)
	if err != nil {
		t.Fatalf("subscribe b: %v", err)
	}
	defer func() { _ = unsubB(ctx) }()

	if err := b.Publish(ctx, event("conf:a", `{"for":"a"}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	events := recA.waitFor(t, 1, 2*time.Second)
	if len(events) != 1 {
		t.Fatalf("expected 1 event for a, got %d", len(events))
	}
	if recB.count() != 0 {
		t.Errorf("subscriber b received %d events for name a", recB.count())
	}
}

func testMultipleSubscribersSameEvent(t *testing.T, factory BusFactory) {
	b := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rec1 := newRecorder()
	rec2 := newRecorder()
	unsub1, err := b.Subscribe(ctx, "conf:shared", rec1.handle)
	if err != nil {
		t.Fatalf("subscribe 1: %v", err)
	}
	defer func() { _ = unsub1(ctx) }()
	unsub2, err := b.Subscribe(ctx, "conf:shared", rec2.handle)
	if err != nil {
		t.Fatalf("subscribe 2: %v", err)
	}
	defer func() { _ = unsub2(ctx) }()

	if err := b.Publish(ctx, event("conf:shared", `{}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if got := rec1.waitFor(t, 1, 2*time.Second); len(got) != 1 {
		t.Errorf("subscriber 1 got %d events, want 1", len(got))
	}
	if got := rec2.waitFor(t, 1, 2*time.Second); len(got) != 1 {
		t.Errorf("subscriber 2 got %d events, want 1", len(got))
	}
}

func testUnsubscribeStopsDelivery(t *testing.T, factory BusFactory) {
	b := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rec := newRecorder()
	unsub, err := b.Subscribe(ctx, "conf:stop", rec.handle)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := b.Publish(ctx, event("conf:stop", `{"n":1}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	rec.waitFor(t, 1, 2*time.Second)

	if err := unsub(ctx); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}

	if err := b.Publish(ctx, event("conf:stop", `{"n":2}`)); err != nil {
		t.Fatalf("publish after unsubscribe: %v", err)
	}

	// Give any misrouted delivery a moment to land.
	time.Sleep(100 * time.Millisecond)
	if rec.count() != 1 {
		t.Errorf("expected 1 event after unsubscribe, got %d", rec.count())
	}
}

func testDoubleUnsubscribe(t *testing.T, factory BusFactory) {
	b := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rec := newRecorder()
	unsub, err := b.Subscribe(ctx, "conf:twice", rec.handle)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := unsub(ctx); err != nil {
		t.Fatalf("first unsubscribe: %v", err)
	}
	if err := unsub(ctx); !errors.Is(err, bus.ErrAlreadyUnsubscribed) {
		t.Errorf("second unsubscribe: want ErrAlreadyUnsubscribed, got %v", err)
	}
}
