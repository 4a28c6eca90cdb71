// Package bus abstracts the host platform's fire-and-forget event bus. The
// bus offers no request/response pairing of its own: publishing and
// subscribing are independent operations, delivery to subscribers is
// at-least-once, and acknowledgements stop at "the bus accepted the message".
// Correlation of responses to requests is layered on top by the client.
//
// Implementations
//
//	memorybus : in-process channels, used for tests and single-process examples
//	redisbus  : Redis pub/sub for deployments where the host platform bridges over Redis
//	wsbus     : WebSocket connection to the host platform's socket endpoint
package bus

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	// ErrNotConnected indicates a publish was attempted while the underlying
	// connection is down. Callers must fail fast rather than queue.
	ErrNotConnected = errors.New("bus: not connected")

	// ErrAlreadyUnsubscribed indicates an unsubscribe function was invoked
	// after the subscription was already torn down, either by a prior call or
	// by the bus side. This is an expected race at shutdown.
	ErrAlreadyUnsubscribed = errors.New("bus: already unsubscribed")
)

// Event is a single message on the bus. Data carries the JSON payload; its
// shape is owned by the wire package.
type Event struct {
	Type string          `json:"type"`
	Name string          `json:"eventName"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Handler consumes events delivered to a subscription. Handlers are invoked
// sequentially per subscription; a slow handler delays later events on the
// same subscription but never blocks publishers.
type Handler func(ctx context.Context, evt Event)

// UnsubscribeFunc tears down one subscription. It is safe to call from any
// goroutine. A second call, or a call after the bus already dropped the
// subscription, returns ErrAlreadyUnsubscribed.
type UnsubscribeFunc func(ctx context.Context) error

// Bus is the transport consumed by the premium client.
type Bus interface {
	// Connected reports whether the underlying connection is currently up.
	Connected() bool

	// Publish sends an event to the bus. It returns once the bus has
	// accepted the message; it says nothing about delivery to any consumer.
	Publish(ctx context.Context, evt Event) error

	// Subscribe registers a handler for events with the given name and
	// returns the function that tears the subscription down.
	Subscribe(ctx context.Context, eventName string, h Handler) (UnsubscribeFunc, error)
}
