package premiumclient

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/growhaus/premium-client-go/bus"
	"github.com/growhaus/premium-client-go/bus/memorybus"
	"github.com/growhaus/premium-client-go/wire"
)

func testConfig() Config {
	return Config{
		RequestTimeout: 2 * time.Second,
		SettleDelay:    -1, // no settle pause in tests
		SweepInterval:  5 * time.Millisecond,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}

func busEvent(name string, data json.RawMessage) bus.Event {
	return bus.Event{Type: "event", Name: name, Data: data}
}

// waitFor polls cond until it holds or the timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("condition never held: %s", msg)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// fakeBackend plays the premium backend over an in-memory bus: it answers
// correlated requests per registered responder and pushes unsolicited
// broadcasts.
type fakeBackend struct {
	t *testing.T
	b *memorybus.Bus

	mu       sync.Mutex
	requests map[string]int // eventName -> times seen
	unsubs   []bus.UnsubscribeFunc
}

func newFakeBackend(t *testing.T, b *memorybus.Bus) *fakeBackend {
	return &fakeBackend{t: t, b: b, requests: make(map[string]int)}
}

// respondTo answers every request on eventName with the responder's response,
// echoing the request's correlation id. A nil response drops the request on
// the floor (for timeout tests).
func (fb *fakeBackend) respondTo(eventName string, respond func(data map[string]any) *wire.Response) {
	fb.t.Helper()
	unsub, err := fb.b.Subscribe(context.Background(), eventName, func(ctx context.Context, evt bus.Event) {
		fb.mu.Lock()
		fb.requests[eventName]++
		fb.mu.Unlock()

		var data map[string]any
		if err := json.Unmarshal(evt.Data, &data); err != nil {
			fb.t.Errorf("backend received malformed request on %s: %v", eventName, err)
			return
		}
		resp := respond(data)
		if resp == nil {
			return
		}
		if resp.CorrelationID == "" {
			resp.CorrelationID, _ = data["correlationId"].(string)
		}
		fb.push(wire.ChannelResponse, resp)
	})
	if err != nil {
		fb.t.Fatalf("backend subscribe %s: %v", eventName, err)
	}
	fb.mu.Lock()
	fb.unsubs = append(fb.unsubs, unsub)
	fb.mu.Unlock()
}

// push publishes a response envelope on the given channel.
func (fb *fakeBackend) push(channel string, resp *wire.Response) {
	fb.t.Helper()
	payload, err := json.Marshal(resp)
	if err != nil {
		fb.t.Fatalf("marshal response: %v", err)
	}
	if err := fb.b.Publish(context.Background(), bus.Event{Type: "event", Name: channel, Data: payload}); err != nil {
		fb.t.Fatalf("backend publish %s: %v", channel, err)
	}
}

func (fb *fakeBackend) seen(eventName string) int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.requests[eventName]
}

func (fb *fakeBackend) close() {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	for _, unsub := range fb.unsubs {
		_ = unsub(context.Background())
	}
	fb.unsubs = nil
}

func sessionData(userID, token string) json.RawMessage {
	return json.RawMessage(`{"user":{"id":"` + userID + `"},"sessionToken":"` + token + `","premium":true}`)
}

// wireBackend registers happy-path responders for login, profile, and
// resource list, returning the resources served.
func wireBackend(t *testing.T, fb *fakeBackend, userID string, resources []wire.Resource) {
	t.Helper()
	fb.respondTo(wire.EventLogin, func(map[string]any) *wire.Response {
		return &wire.Response{Status: wire.StatusSuccess, Message: wire.TagLoginSuccess, Data: sessionData(userID, "tok-1")}
	})
	fb.respondTo(wire.EventProfileGet, func(map[string]any) *wire.Response {
		return &wire.Response{Status: wire.StatusSuccess, Message: wire.TagProfileRetrieved, Data: sessionData(userID, "")}
	})
	fb.respondTo(wire.EventResourceList, func(map[string]any) *wire.Response {
		return &wire.Response{
			Status:  wire.StatusSuccess,
			Message: wire.TagResourceList,
			Data:    mustJSON(t, wire.ResourceListPayload{Resources: resources}),
		}
	})
}

func newMemoryBusForTest(t *testing.T) *memorybus.Bus {
	t.Helper()
	mb := memorybus.New()
	t.Cleanup(mb.Close)
	return mb
}

// newTestClient wires a client, a memory bus, and a fake backend together.
func newTestClient(t *testing.T) (*Client, *memorybus.Bus, *fakeBackend) {
	t.Helper()
	mb := newMemoryBusForTest(t)
	fb := newFakeBackend(t, mb)
	t.Cleanup(fb.close)

	c := New(mb, testConfig())
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c, mb, fb
}
