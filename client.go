package premiumclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/growhaus/premium-client-go/bus"
	"github.com/growhaus/premium-client-go/internal/correlate"
	"github.com/growhaus/premium-client-go/internal/logctx"
	"github.com/growhaus/premium-client-go/internal/oplock"
	"github.com/growhaus/premium-client-go/session"
	"github.com/growhaus/premium-client-go/wire"
)

// Coarse operation names serialized by the operation mutex.
const (
	opProfileLoad  = "profile-load"
	opResourceList = "resource-list"
)

// Client is the session coordinator. Construct with New, wire it to a bus
// with Start, and Close it on teardown. All methods are safe for concurrent
// use.
type Client struct {
	log   *slog.Logger
	cfg   Config
	table *correlate.Table
	locks *oplock.Registry

	state     *session.State
	resources *session.ResourceSet

	selMu      sync.Mutex
	selectedID string

	// subMu guards the bus binding and subscription bookkeeping. The
	// generation counter invalidates handlers from replaced connections.
	subMu      sync.Mutex
	bus        bus.Bus
	unsubs     []bus.UnsubscribeFunc
	subsActive bool
	generation atomic.Uint64

	closed atomic.Bool
}

// New constructs a Client bound to the given bus. The client is inert until
// Start is called.
func New(b bus.Bus, cfg Config) *Client {
	cfg = cfg.withDefaults()
	log := slog.New(logctx.Handler{Handler: cfg.Logger.Handler()})

	return &Client{
		log:       log,
		cfg:       cfg,
		bus:       b,
		table:     correlate.New(correlate.WithSweepInterval(cfg.SweepInterval)),
		locks:     oplock.NewRegistry(),
		state:     session.NewState(),
		resources: session.NewResourceSet(),
	}
}

// Session returns a snapshot of the current session state.
func (c *Client) Session() session.Snapshot {
	return c.state.Snapshot()
}

// Resources returns every known resource in backend order.
func (c *Client) Resources() []wire.Resource {
	return c.resources.All()
}

// OwnedResources returns the resources owned by the authenticated user.
func (c *Client) OwnedResources() []wire.Resource {
	snap := c.state.Snapshot()
	if snap.User == nil {
		return nil
	}
	return c.resources.Owned(snap.User.ID)
}

// VisibleResources returns public resources owned by other users.
func (c *Client) VisibleResources() []wire.Resource {
	var userID string
	if snap := c.state.Snapshot(); snap.User != nil {
		userID = snap.User.ID
	}
	return c.resources.Visible(userID)
}

// RoomLimitReached reports whether the backend declared the room full.
func (c *Client) RoomLimitReached() bool {
	return c.state.RoomLimitReached()
}

// CanAddResource reports whether the session may create another resource.
func (c *Client) CanAddResource() bool {
	return c.state.CanAddResource()
}

// SelectResource points the UI selection at a known resource.
func (c *Client) SelectResource(id string) error {
	if _, ok := c.resources.Get(id); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownResource, id)
	}
	c.selMu.Lock()
	c.selectedID = id
	c.selMu.Unlock()
	return nil
}

// SelectedResource returns the currently selected resource, if any.
func (c *Client) SelectedResource() (wire.Resource, bool) {
	c.selMu.Lock()
	id := c.selectedID
	c.selMu.Unlock()
	if id == "" {
		return wire.Resource{}, false
	}
	return c.resources.Get(id)
}

// clearSelectionIf drops the selection pointer when it references id. An
// empty id clears unconditionally.
func (c *Client) clearSelectionIf(id string) {
	c.selMu.Lock()
	if id == "" || c.selectedID == id {
		c.selectedID = ""
	}
	c.selMu.Unlock()
}

// dropDanglingSelection clears the selection pointer when the authoritative
// list no longer contains the selected resource.
func (c *Client) dropDanglingSelection() {
	c.selMu.Lock()
	id := c.selectedID
	c.selMu.Unlock()
	if id == "" {
		return
	}
	if _, ok := c.resources.Get(id); !ok {
		c.clearSelectionIf(id)
	}
}

// Login authenticates the session. Canonical state lands via the dispatch
// path; the returned error is for local flow control only (closing a modal,
// showing an inline failure).
func (c *Client) Login(ctx context.Context, email, password string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.state.BeginAuth()

	_, err := c.send(ctx, wire.EventLogin, map[string]any{
		"email":    email,
		"password": password,
	})
	if err != nil {
		// A rejected or lost login attempt lands in the error state unless a
		// concurrent broadcast already authenticated the session.
		if c.state.Status() == session.StatusAuthenticating {
			c.state.SetError(loginFailureReason(err))
		}
		return err
	}
	return nil
}

func loginFailureReason(err error) string {
	var re *RejectedError
	if errors.As(err, &re) {
		return string(re.Tag)
	}
	return err.Error()
}

// Logout ends the session. State is reset by the LogoutSuccess dispatch.
func (c *Client) Logout(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	_, err := c.send(ctx, wire.EventLogout, nil)
	return err
}

// LoadProfile fetches the profile, coalescing concurrent triggers: while a
// load is in flight a duplicate call returns immediately without issuing a
// request. force bypasses the coalescing for explicit user-triggered
// refreshes.
func (c *Client) LoadProfile(ctx context.Context, force bool) error {
	if c.closed.Load() {
		return ErrClosed
	}
	_, err := c.locks.Do(ctx, opProfileLoad, force, func(ctx context.Context) error {
		_, err := c.send(ctx, wire.EventProfileGet, nil)
		return err
	})
	return err
}

// RefreshResources fetches the authoritative resource list with the same
// coalescing semantics as LoadProfile.
func (c *Client) RefreshResources(ctx context.Context, force bool) error {
	if c.closed.Load() {
		return ErrClosed
	}
	_, err := c.locks.Do(ctx, opResourceList, force, func(ctx context.Context) error {
		_, err := c.send(ctx, wire.EventResourceList, nil)
		return err
	})
	return err
}

// send issues one correlated request: register the pending slot, publish,
// wait. The slot is registered before publishing so a same-tick response
// cannot be lost, and dropped synchronously when the publish itself fails so
// transport errors surface without a timeout wait.
func (c *Client) send(ctx context.Context, eventName string, fields map[string]any) (*wire.Response, error) {
	b := c.currentBus()
	if b == nil || !b.Connected() {
		return nil, fmt.Errorf("%w: cannot publish %s", ErrTransportUnavailable, eventName)
	}

	p, err := c.table.Register(eventName, c.cfg.RequestTimeout, &TimeoutError{Event: eventName})
	if err != nil {
		return nil, err
	}

	data, err := wire.NewRequestData(fields, c.cfg.Room, p.ID, time.Now())
	if err != nil {
		c.table.Drop(p.ID)
		return nil, err
	}

	evt := bus.Event{Type: "request", Name: eventName, Data: data}
	if err := b.Publish(ctx, evt); err != nil {
		c.table.Drop(p.ID)
		if errors.Is(err, bus.ErrNotConnected) {
			return nil, fmt.Errorf("%w: cannot publish %s", ErrTransportUnavailable, eventName)
		}
		return nil, fmt.Errorf("publish %s: %w", eventName, err)
	}

	return p.Wait(ctx)
}

func (c *Client) currentBus() bus.Bus {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	return c.bus
}

// isCurrentGeneration reports whether work started under gen may still touch
// state. Background continuations check this before every state update.
func (c *Client) isCurrentGeneration(gen uint64) bool {
	return !c.closed.Load() && c.generation.Load() == gen
}
