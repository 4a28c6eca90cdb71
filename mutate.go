package premiumclient

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/growhaus/premium-client-go/wire"
)

// Action is a mutating operation on a managed resource.
type Action string

const (
	ActionActivate   Action = "activate"
	ActionPause      Action = "pause"
	ActionResume     Action = "resume"
	ActionDelete     Action = "delete"
	ActionDisconnect Action = "disconnect"
)

func (a Action) eventName() (string, bool) {
	switch a {
	case ActionActivate:
		return wire.EventResourceActivate, true
	case ActionPause:
		return wire.EventResourcePause, true
	case ActionResume:
		return wire.EventResourceResume, true
	case ActionDelete:
		return wire.EventResourceDelete, true
	case ActionDisconnect:
		return wire.EventResourceDisconnect, true
	default:
		return "", false
	}
}

func (a Action) destructive() bool {
	return a == ActionDelete || a == ActionDisconnect
}

type mutateOptions struct {
	confirmed bool
}

// MutateOption configures MutateResource.
type MutateOption func(*mutateOptions)

// WithConfirmation acknowledges a destructive action on the active resource.
func WithConfirmation() MutateOption {
	return func(o *mutateOptions) { o.confirmed = true }
}

// MutateResource applies action to the resource optimistically: the local set
// is updated and the selection pointer cleared before the request is issued.
// Whatever the outcome, the authoritative list is re-fetched afterwards. On
// failure the true state is unknown (the action may have partially applied
// server-side), so recovery is always a re-sync, never a computed rollback.
func (c *Client) MutateResource(ctx context.Context, action Action, id string, opts ...MutateOption) error {
	if c.closed.Load() {
		return ErrClosed
	}

	eventName, ok := action.eventName()
	if !ok {
		return fmt.Errorf("premiumclient: unsupported action %q", action)
	}

	var o mutateOptions
	for _, opt := range opts {
		opt(&o)
	}

	res, found := c.resources.Get(id)
	if !found {
		return fmt.Errorf("%w: %s", ErrUnknownResource, id)
	}
	if action.destructive() && res.Status == wire.ResourceActive && !o.confirmed {
		return ErrConfirmationRequired
	}

	// Optimistic update. The next successful list fetch is the truth.
	switch action {
	case ActionDelete, ActionDisconnect:
		c.resources.Remove(id)
	case ActionPause:
		c.resources.SetStatus(id, wire.ResourcePaused)
	case ActionActivate, ActionResume:
		c.resources.SetStatus(id, wire.ResourceActive)
	}
	c.clearSelectionIf(id)

	_, err := c.send(ctx, eventName, map[string]any{"resourceId": id})
	if err == nil && action == ActionDisconnect {
		c.state.SetRoomLimit(false)
	}

	c.refreshAfterMutation(ctx)
	return err
}

// refreshAfterMutation waits out the settle delay and forces an authoritative
// list fetch. It runs on its own deadline: the caller's context may already
// be done, but the re-sync must still happen.
func (c *Client) refreshAfterMutation(ctx context.Context) {
	if d := c.cfg.SettleDelay; d > 0 {
		timer := time.NewTimer(d)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}

	rctx, cancel := context.WithTimeout(context.Background(), c.cfg.RequestTimeout)
	defer cancel()
	if err := c.RefreshResources(rctx, true); err != nil {
		c.log.Warn("post-mutation refresh failed", slog.String("err", err.Error()))
	}
}
