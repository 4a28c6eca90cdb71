package premiumclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/growhaus/premium-client-go/wire"
)

func seedResources(t *testing.T, c *Client, fb *fakeBackend, resources []wire.Resource) {
	t.Helper()
	fb.push(wire.ChannelBroadcast, &wire.Response{
		Status:  wire.StatusSuccess,
		Message: wire.TagResourceList,
		Data:    mustJSON(t, wire.ResourceListPayload{Resources: resources}),
	})
	waitFor(t, 2*time.Second, func() bool { return len(c.Resources()) == len(resources) }, "seed resources")
}

func TestFailedDeleteResurfacesItemAfterRefresh(t *testing.T) {
	t.Parallel()

	c, _, fb := newTestClient(t)
	full := []wire.Resource{
		{ID: "r1", Name: "basil", Status: wire.ResourcePaused, OwnerID: "u1"},
		{ID: "r2", Name: "chili", Status: wire.ResourcePaused, OwnerID: "u1"},
	}
	seedResources(t, c, fb, full)

	fb.respondTo(wire.EventResourceDelete, func(map[string]any) *wire.Response {
		return &wire.Response{
			Status:  wire.StatusError,
			Message: wire.MessageTag("deleteFailed"),
			Data:    mustJSON(t, map[string]string{"reason": "resource is provisioning"}),
		}
	})
	// The authoritative list still contains both items.
	fb.respondTo(wire.EventResourceList, func(map[string]any) *wire.Response {
		return &wire.Response{
			Status:  wire.StatusSuccess,
			Message: wire.TagResourceList,
			Data:    mustJSON(t, wire.ResourceListPayload{Resources: full}),
		}
	})

	if err := c.SelectResource("r1"); err != nil {
		t.Fatalf("select: %v", err)
	}

	err := c.MutateResource(context.Background(), ActionDelete, "r1")
	var re *RejectedError
	if !errors.As(err, &re) {
		t.Fatalf("got %v, want RejectedError", err)
	}

	// The optimistic removal has been reconciled: the item is back.
	waitFor(t, 2*time.Second, func() bool {
		_, ok := c.resources.Get("r1")
		return ok
	}, "r1 reappears after authoritative refresh")

	if _, ok := c.SelectedResource(); ok {
		t.Error("selection pointer still references the mutated item")
	}
}

func TestSuccessfulDeleteTriggersAuthoritativeRefresh(t *testing.T) {
	t.Parallel()

	c, _, fb := newTestClient(t)
	seedResources(t, c, fb, []wire.Resource{
		{ID: "r1", Status: wire.ResourcePaused, OwnerID: "u1"},
		{ID: "r2", Status: wire.ResourcePaused, OwnerID: "u1"},
	})

	fb.respondTo(wire.EventResourceDelete, func(map[string]any) *wire.Response {
		return &wire.Response{Status: wire.StatusSuccess, Message: wire.MessageTag("deleted")}
	})
	fb.respondTo(wire.EventResourceList, func(map[string]any) *wire.Response {
		return &wire.Response{
			Status:  wire.StatusSuccess,
			Message: wire.TagResourceList,
			Data:    mustJSON(t, wire.ResourceListPayload{Resources: []wire.Resource{{ID: "r2", OwnerID: "u1"}}}),
		}
	})

	if err := c.MutateResource(context.Background(), ActionDelete, "r1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if fb.seen(wire.EventResourceList) == 0 {
		t.Error("success path skipped the authoritative refresh")
	}
	if _, ok := c.resources.Get("r1"); ok {
		t.Error("r1 still present after delete + refresh")
	}
}

func TestDestructiveActionOnActiveResourceNeedsConfirmation(t *testing.T) {
	t.Parallel()

	c, _, fb := newTestClient(t)
	seedResources(t, c, fb, []wire.Resource{{ID: "r1", Status: wire.ResourceActive, OwnerID: "u1"}})

	err := c.MutateResource(context.Background(), ActionDelete, "r1")
	if !errors.Is(err, ErrConfirmationRequired) {
		t.Fatalf("got %v, want ErrConfirmationRequired", err)
	}
	// No optimistic removal happened.
	if _, ok := c.resources.Get("r1"); !ok {
		t.Fatal("unconfirmed delete removed the item optimistically")
	}

	fb.respondTo(wire.EventResourceDelete, func(map[string]any) *wire.Response {
		return &wire.Response{Status: wire.StatusSuccess, Message: wire.MessageTag("deleted")}
	})
	fb.respondTo(wire.EventResourceList, func(map[string]any) *wire.Response {
		return &wire.Response{
			Status:  wire.StatusSuccess,
			Message: wire.TagResourceList,
			Data:    mustJSON(t, wire.ResourceListPayload{}),
		}
	})
	if err := c.MutateResource(context.Background(), ActionDelete, "r1", WithConfirmation()); err != nil {
		t.Fatalf("confirmed delete: %v", err)
	}
}

func TestPauseIsOptimisticallyFlaggedNotRemoved(t *testing.T) {
	t.Parallel()

	c, _, fb := newTestClient(t)
	seedResources(t, c, fb, []wire.Resource{{ID: "r1", Status: wire.ResourceActive, OwnerID: "u1"}})

	block := make(chan struct{})
	fb.respondTo(wire.EventResourcePause, func(map[string]any) *wire.Response {
		<-block
		return &wire.Response{Status: wire.StatusSuccess, Message: wire.MessageTag("paused")}
	})
	fb.respondTo(wire.EventResourceList, func(map[string]any) *wire.Response {
		return &wire.Response{
			Status:  wire.StatusSuccess,
			Message: wire.TagResourceList,
			Data:    mustJSON(t, wire.ResourceListPayload{Resources: []wire.Resource{{ID: "r1", Status: wire.ResourcePaused, OwnerID: "u1"}}}),
		}
	})

	done := make(chan error, 1)
	go func() { done <- c.MutateResource(context.Background(), ActionPause, "r1") }()

	// While the request is in flight the local copy is already flagged.
	waitFor(t, 2*time.Second, func() bool {
		r, ok := c.resources.Get("r1")
		return ok && r.Status == wire.ResourcePaused
	}, "optimistic pause flag")

	close(block)
	if err := <-done; err != nil {
		t.Fatalf("pause: %v", err)
	}
}

func TestDisconnectClearsRoomLimit(t *testing.T) {
	t.Parallel()

	c, _, fb := newTestClient(t)
	seedResources(t, c, fb, []wire.Resource{{ID: "r1", Status: wire.ResourcePaused, OwnerID: "u1"}})

	fb.push(wire.ChannelBroadcast, &wire.Response{Status: wire.StatusError, Message: wire.TagRoomLimitReached})
	waitFor(t, 2*time.Second, c.RoomLimitReached, "room limit set")

	fb.respondTo(wire.EventResourceDisconnect, func(map[string]any) *wire.Response {
		return &wire.Response{Status: wire.StatusSuccess, Message: wire.MessageTag("disconnected")}
	})
	fb.respondTo(wire.EventResourceList, func(map[string]any) *wire.Response {
		return &wire.Response{
			Status:  wire.StatusSuccess,
			Message: wire.TagResourceList,
			Data:    mustJSON(t, wire.ResourceListPayload{}),
		}
	})

	if err := c.MutateResource(context.Background(), ActionDisconnect, "r1"); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if c.RoomLimitReached() {
		t.Error("room limit flag survived a successful disconnect")
	}
}

func TestMutateUnknownResource(t *testing.T) {
	t.Parallel()

	c, _, _ := newTestClient(t)
	if err := c.MutateResource(context.Background(), ActionDelete, "ghost"); !errors.Is(err, ErrUnknownResource) {
		t.Fatalf("got %v, want ErrUnknownResource", err)
	}
}
