package premiumclient

import (
	"context"
	"errors"
	"log/slog"

	"github.com/growhaus/premium-client-go/bus"
	"github.com/growhaus/premium-client-go/wire"
)

// Start subscribes the fixed set of response channels. Calling Start on an
// already-started client is a no-op. On partial failure every subscription
// made so far is torn down and the error is returned.
func (c *Client) Start(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if c.subsActive {
		return nil
	}
	return c.startLocked(ctx)
}

func (c *Client) startLocked(ctx context.Context) error {
	gen := c.generation.Add(1)

	bindings := []struct {
		channel string
		handler func(ctx context.Context, evt bus.Event)
	}{
		{wire.ChannelResponse, func(ctx context.Context, evt bus.Event) {
			c.onResponse(ctx, wire.ChannelResponse, evt)
		}},
		{wire.ChannelBroadcast, func(ctx context.Context, evt bus.Event) {
			c.onResponse(ctx, wire.ChannelBroadcast, evt)
		}},
		{wire.ChannelUsage, c.onUsageTick},
	}

	var unsubs []bus.UnsubscribeFunc
	for _, binding := range bindings {
		handler := binding.handler
		unsub, err := c.bus.Subscribe(ctx, binding.channel, func(hctx context.Context, evt bus.Event) {
			// Events from a replaced connection must never touch current
			// state.
			if !c.isCurrentGeneration(gen) {
				return
			}
			handler(hctx, evt)
		})
		if err != nil {
			c.teardownLocked(ctx, unsubs)
			return err
		}
		unsubs = append(unsubs, unsub)
	}

	c.unsubs = unsubs
	c.subsActive = true
	return nil
}

// Stop tears down every subscription. Idempotent: a second Stop is a no-op,
// and unsubscribe functions that report an already-torn-down subscription are
// swallowed since that race is expected at shutdown.
func (c *Client) Stop(ctx context.Context) error {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.stopLocked(ctx)
	return nil
}

func (c *Client) stopLocked(ctx context.Context) {
	if !c.subsActive {
		return
	}
	// Invalidate handlers before unwinding so late deliveries racing the
	// unsubscribe cannot update state.
	c.generation.Add(1)
	c.teardownLocked(ctx, c.unsubs)
	c.unsubs = nil
	c.subsActive = false
}

func (c *Client) teardownLocked(ctx context.Context, unsubs []bus.UnsubscribeFunc) {
	for _, unsub := range unsubs {
		if err := unsub(ctx); err != nil && !errors.Is(err, bus.ErrAlreadyUnsubscribed) {
			c.log.Debug("unsubscribe failed during teardown", slog.String("err", err.Error()))
		}
	}
}

// Rebind replaces the bus after a reconnect and re-establishes subscriptions
// from scratch. Handlers bound to the prior connection are invalidated even
// if their unsubscribe calls fail.
func (c *Client) Rebind(ctx context.Context, b bus.Bus) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.stopLocked(ctx)
	c.bus = b
	return c.startLocked(ctx)
}

// Close stops subscriptions and rejects every in-flight request with
// ErrClosed. Close is idempotent.
func (c *Client) Close(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.subMu.Lock()
	c.stopLocked(ctx)
	c.subMu.Unlock()
	c.table.Close()
	return nil
}
