// Package correlate implements the pending-request table that turns the
// one-way event bus into a request/response protocol. Each outgoing request
// registers a slot keyed by a fresh correlation id before anything is
// published, closing the race between publish and a same-tick response. A
// single sweep goroutine expires overdue slots; there are no per-request
// timers.
package correlate

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/growhaus/premium-client-go/wire"
)

// ErrClosed indicates the table was shut down while requests were pending.
var ErrClosed = errors.New("correlation table closed")

// DefaultSweepInterval is how often the sweep goroutine scans for expired
// slots when no interval is configured.
const DefaultSweepInterval = 100 * time.Millisecond

type outcome struct {
	resp *wire.Response
	err  error
}

type pending struct {
	id         string
	event      string
	deadline   time.Time
	timeoutErr error
	ch         chan outcome
}

// Pending is the caller's handle on one registered request.
type Pending struct {
	// ID is the correlation id stamped onto the outgoing request.
	ID string

	p *pending
}

// Wait blocks until the request is resolved, rejected, timed out, or the
// context ends. The outcome is delivered exactly once; a context cancellation
// leaves the slot in place until the sweep expires it.
func (p *Pending) Wait(ctx context.Context) (*wire.Response, error) {
	select {
	case out := <-p.p.ch:
		return out.resp, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Table tracks pending requests keyed by correlation id.
type Table struct {
	mu      sync.Mutex
	pending map[string]*pending
	closed  bool

	done chan struct{}
	now  func() time.Time
}

// Option configures a Table.
type Option func(*Table, *time.Duration)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Table, _ *time.Duration) { t.now = now }
}

// WithSweepInterval overrides how often expired slots are collected.
func WithSweepInterval(d time.Duration) Option {
	return func(_ *Table, interval *time.Duration) { *interval = d }
}

// New creates a Table and starts its sweep goroutine. Callers must Close the
// table when done with it.
func New(opts ...Option) *Table {
	t := &Table{
		pending: make(map[string]*pending),
		done:    make(chan struct{}),
		now:     time.Now,
	}
	interval := DefaultSweepInterval
	for _, opt := range opts {
		opt(t, &interval)
	}
	go t.sweepLoop(interval)
	return t
}

// Register allocates a correlation id and a slot that expires after timeout.
// The slot must be registered before the request is published. timeoutErr is
// the error delivered to the waiter when the deadline passes.
func (t *Table) Register(eventName string, timeout time.Duration, timeoutErr error) (*Pending, error) {
	p := &pending{
		id:         uuid.NewString(),
		event:      eventName,
		timeoutErr: timeoutErr,
		ch:         make(chan outcome, 1),
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}
	p.deadline = t.now().Add(timeout)
	t.pending[p.id] = p
	return &Pending{ID: p.id, p: p}, nil
}

// Drop removes a slot without delivering an outcome. Used when the publish
// itself failed and the error is surfaced synchronously to the caller.
func (t *Table) Drop(id string) {
	t.mu.Lock()
	delete(t.pending, id)
	t.mu.Unlock()
}

// Resolve delivers a success outcome to the waiter for id. It reports whether
// a slot existed; a false return means the request already timed out, was
// dropped, or the id is unknown, and the response is discarded.
func (t *Table) Resolve(id string, resp *wire.Response) bool {
	p := t.take(id)
	if p == nil {
		return false
	}
	p.ch <- outcome{resp: resp}
	return true
}

// Reject delivers an error outcome to the waiter for id. Same exactly-once
// semantics as Resolve.
func (t *Table) Reject(id string, err error) bool {
	p := t.take(id)
	if p == nil {
		return false
	}
	p.ch <- outcome{err: err}
	return true
}

// Len reports how many requests are currently pending.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Close stops the sweep goroutine and rejects every pending request with
// ErrClosed. Close is idempotent.
func (t *Table) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	drained := make([]*pending, 0, len(t.pending))
	for id, p := range t.pending {
		delete(t.pending, id)
		drained = append(drained, p)
	}
	t.mu.Unlock()

	close(t.done)
	for _, p := range drained {
		p.ch <- outcome{err: ErrClosed}
	}
}

// take removes and returns the slot for id, or nil if absent. Removing under
// the lock before sending guarantees each slot delivers at most one outcome.
func (t *Table) take(id string) *pending {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.pending[id]
	if !ok {
		return nil
	}
	delete(t.pending, id)
	return p
}

func (t *Table) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.sweep()
		case <-t.done:
			return
		}
	}
}

func (t *Table) sweep() {
	now := t.now()

	t.mu.Lock()
	var expired []*pending
	for id, p := range t.pending {
		if now.After(p.deadline) {
			delete(t.pending, id)
			expired = append(expired, p)
		}
	}
	t.mu.Unlock()

	for _, p := range expired {
		p.ch <- outcome{err: p.timeoutErr}
	}
}
