// Package memorybus provides an in-process implementation of the bus.Bus
// interface using Go channels for delivery. It is suitable for tests and
// single-process examples; nothing is shared across processes.
package memorybus

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/growhaus/premium-client-go/bus"
)

// Bus implements bus.Bus with in-memory fan-out per event name. Delivery to
// each subscriber is ordered; ordering between subscribers is not defined.
type Bus struct {
	mu        sync.Mutex
	subs      map[string]map[*subscription]struct{}
	connected atomic.Bool
	closed    bool
}

type subscription struct {
	bus   *Bus
	name  string
	ch    chan bus.Event
	done  chan struct{}
	ended atomic.Bool
}

// New creates a connected in-memory bus.
func New() *Bus {
	b := &Bus{subs: make(map[string]map[*subscription]struct{})}
	b.connected.Store(true)
	return b
}

// SetConnected toggles the connection-presence signal. Publish fails while
// disconnected; subscriptions stay registered.
func (b *Bus) SetConnected(up bool) {
	b.connected.Store(up)
}

// Connected implements bus.Bus.
func (b *Bus) Connected() bool {
	return b.connected.Load()
}

// Publish implements bus.Bus. Events are delivered asynchronously so a
// publisher is never blocked by a subscriber.
func (b *Bus) Publish(ctx context.Context, evt bus.Event) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if !b.connected.Load() {
		return bus.ErrNotConnected
	}

	b.mu.Lock()
	targets := make([]*subscription, 0, len(b.subs[evt.Name]))
	for sub := range b.subs[evt.Name] {
		targets = append(targets, sub)
	}
	b.mu.Unlock()

	for _, sub := range targets {
		select {
		case sub.ch <- evt:
		case <-sub.done:
		}
	}
	return nil
}

// Subscribe implements bus.Bus.
func (b *Bus) Subscribe(ctx context.Context, eventName string, h bus.Handler) (bus.UnsubscribeFunc, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	sub := &subscription{
		bus:  b,
		name: eventName,
		ch:   make(chan bus.Event, 64),
		done: make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, bus.ErrNotConnected
	}
	set, ok := b.subs[eventName]
	if !ok {
		set = make(map[*subscription]struct{})
		b.subs[eventName] = set
	}
	set[sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		for {
			select {
			case evt := <-sub.ch:
				h(context.Background(), evt)
			case <-sub.done:
				return
			}
		}
	}()

	return sub.unsubscribe, nil
}

// Close tears down every subscription and marks the bus disconnected.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.connected.Store(false)
	for _, set := range b.subs {
		for sub := range set {
			sub.end()
		}
	}
	b.subs = make(map[string]map[*subscription]struct{})
}

func (s *subscription) end() {
	if s.ended.CompareAndSwap(false, true) {
		close(s.done)
	}
}

func (s *subscription) unsubscribe(ctx context.Context) error {
	if !s.ended.CompareAndSwap(false, true) {
		return bus.ErrAlreadyUnsubscribed
	}
	close(s.done)

	s.bus.mu.Lock()
	if set, ok := s.bus.subs[s.name]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(s.bus.subs, s.name)
		}
	}
	s.bus.mu.Unlock()
	return nil
}

var _ bus.Bus = (*Bus)(nil)
