package premiumclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/growhaus/premium-client-go/session"
	"github.com/growhaus/premium-client-go/wire"
)

func TestLoginResolvesAndPopulatesState(t *testing.T) {
	t.Parallel()

	c, _, fb := newTestClient(t)
	wireBackend(t, fb, "u1", []wire.Resource{
		{ID: "r1", Status: wire.ResourceActive, OwnerID: "u1"},
	})

	if err := c.Login(context.Background(), "u1@example.com", "hunter2"); err != nil {
		t.Fatalf("login: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		snap := c.Session()
		return snap.Status == session.StatusAuthenticated &&
			snap.User != nil && snap.User.ID == "u1" &&
			snap.SessionToken == "tok-1"
	}, "session authenticated with user u1 and token tok-1")

	if !c.Session().Premium {
		t.Error("premium flag not readable after login")
	}

	// The fresh login chains profile + resource loads and auto-selects the
	// active resource.
	waitFor(t, 2*time.Second, func() bool {
		sel, ok := c.SelectedResource()
		return ok && sel.ID == "r1"
	}, "active resource auto-selected after login")
}

func TestLoginRejectedLandsInErrorState(t *testing.T) {
	t.Parallel()

	c, _, fb := newTestClient(t)
	fb.respondTo(wire.EventLogin, func(map[string]any) *wire.Response {
		return &wire.Response{
			Status:  wire.StatusError,
			Message: wire.MessageTag("badCredentials"),
			Data:    mustJSON(t, map[string]string{"reason": "wrong password"}),
		}
	})

	err := c.Login(context.Background(), "u1@example.com", "nope")
	var re *RejectedError
	if !errors.As(err, &re) {
		t.Fatalf("got %v, want RejectedError", err)
	}
	if re.Reason != "wrong password" {
		t.Errorf("reason %q", re.Reason)
	}

	if got := c.Session().Status; got != session.StatusError {
		t.Errorf("status %q, want error", got)
	}
	if c.Session().Premium {
		t.Error("premium readable after rejected login")
	}
}

func TestTransportFailureFailsFastWithoutTimeout(t *testing.T) {
	t.Parallel()

	c, mb, _ := newTestClient(t)
	mb.SetConnected(false)

	start := time.Now()
	err := c.Login(context.Background(), "u1@example.com", "pw")
	if !errors.Is(err, ErrTransportUnavailable) {
		t.Fatalf("got %v, want ErrTransportUnavailable", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("transport failure took %v; must not wait out the timeout window", elapsed)
	}
	if n := c.table.Len(); n != 0 {
		t.Errorf("%d pending requests left after synchronous failure", n)
	}
}

func TestRequestTimesOutWhenBackendSilent(t *testing.T) {
	t.Parallel()

	mb := newMemoryBusForTest(t)
	backend := newFakeBackend(t, mb)
	t.Cleanup(backend.close)
	backend.respondTo(wire.EventLogin, func(map[string]any) *wire.Response {
		return nil // swallow the request
	})

	cfg := testConfig()
	cfg.RequestTimeout = 50 * time.Millisecond
	c := New(mb, cfg)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = c.Close(context.Background()) })

	err := c.Login(context.Background(), "u1@example.com", "pw")
	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("got %v, want TimeoutError", err)
	}
	if te.Event != wire.EventLogin {
		t.Errorf("timeout names event %q, want %q", te.Event, wire.EventLogin)
	}
	if n := c.table.Len(); n != 0 {
		t.Errorf("%d pending requests left after timeout", n)
	}
}

func TestLogoutResetsEverything(t *testing.T) {
	t.Parallel()

	c, _, fb := newTestClient(t)
	wireBackend(t, fb, "u1", []wire.Resource{{ID: "r1", OwnerID: "u1"}})
	fb.respondTo(wire.EventLogout, func(map[string]any) *wire.Response {
		return &wire.Response{Status: wire.StatusSuccess, Message: wire.TagLogoutSuccess}
	})

	if err := c.Login(context.Background(), "u1@example.com", "pw"); err != nil {
		t.Fatalf("login: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return len(c.Resources()) == 1 }, "resources loaded")

	if err := c.Logout(context.Background()); err != nil {
		t.Fatalf("logout: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return c.Session().Status == session.StatusIdle
	}, "session reset to idle")
	if len(c.Resources()) != 0 {
		t.Errorf("%d resources survived logout", len(c.Resources()))
	}
	if _, ok := c.SelectedResource(); ok {
		t.Error("selection survived logout")
	}
}

func TestConcurrentRefreshesCoalesce(t *testing.T) {
	t.Parallel()

	c, _, fb := newTestClient(t)
	release := make(chan struct{})
	fb.respondTo(wire.EventResourceList, func(data map[string]any) *wire.Response {
		<-release
		return &wire.Response{
			Status:  wire.StatusSuccess,
			Message: wire.TagResourceList,
			Data:    mustJSON(t, wire.ResourceListPayload{}),
		}
	})

	first := make(chan error, 1)
	go func() { first <- c.RefreshResources(context.Background(), false) }()

	waitFor(t, time.Second, func() bool { return fb.seen(wire.EventResourceList) == 1 }, "first request issued")

	// Duplicate trigger while the first is in flight: coalesced to a no-op.
	if err := c.RefreshResources(context.Background(), false); err != nil {
		t.Fatalf("duplicate refresh: %v", err)
	}
	if n := fb.seen(wire.EventResourceList); n != 1 {
		t.Fatalf("duplicate refresh issued a request (%d total)", n)
	}

	close(release)
	if err := <-first; err != nil {
		t.Fatalf("first refresh: %v", err)
	}

	// With the lock released, a new trigger runs again.
	if err := c.RefreshResources(context.Background(), false); err != nil {
		t.Fatalf("subsequent refresh: %v", err)
	}
	if n := fb.seen(wire.EventResourceList); n != 2 {
		t.Errorf("expected 2 requests total, saw %d", n)
	}
}

func TestCallsAfterCloseReturnErrClosed(t *testing.T) {
	t.Parallel()

	c, _, _ := newTestClient(t)
	if err := c.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	if err := c.Login(context.Background(), "a", "b"); !errors.Is(err, ErrClosed) {
		t.Errorf("login after close: %v", err)
	}
	if err := c.RefreshResources(context.Background(), false); !errors.Is(err, ErrClosed) {
		t.Errorf("refresh after close: %v", err)
	}
	if err := c.MutateResource(context.Background(), ActionDelete, "x"); !errors.Is(err, ErrClosed) {
		t.Errorf("mutate after close: %v", err)
	}
}
