// Package wsbus implements the bus.Bus interface over a WebSocket connection
// to the host platform's socket endpoint. The platform pushes every event for
// the connection down the socket; subscriptions are a client-side routing
// table keyed by event name.
package wsbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joeshaw/envdecode"

	"github.com/growhaus/premium-client-go/bus"
)

// Config contains configuration options for the WebSocket bus.
type Config struct {
	// URL is the socket endpoint, e.g. "wss://host.local/premium/socket".
	URL string `env:"PREMIUM_SOCKET_URL"`

	// Header is sent with the dial request (auth cookies etc).
	Header http.Header

	// WriteTimeout bounds a single frame write. Defaults to 10s.
	WriteTimeout time.Duration `env:"PREMIUM_SOCKET_WRITE_TIMEOUT,default=10s"`

	// Logger receives read-loop diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// Bus is a WebSocket-backed implementation of bus.Bus.
type Bus struct {
	cfg  Config
	log  *slog.Logger
	conn *websocket.Conn

	writeMu sync.Mutex

	mu   sync.Mutex
	subs map[string]map[*subscription]struct{}

	connected atomic.Bool
	closed    atomic.Bool
}

type subscription struct {
	handler bus.Handler
	ended   atomic.Bool
}

// Dial connects to the socket endpoint and starts the read loop.
func Dial(ctx context.Context, cfg Config) (*Bus, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("wsbus: no socket URL configured")
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, cfg.URL, cfg.Header)
	if err != nil {
		return nil, fmt.Errorf("wsbus: dial %s: %w", cfg.URL, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	b := &Bus{
		cfg:  cfg,
		log:  log,
		conn: conn,
		subs: make(map[string]map[*subscription]struct{}),
	}
	b.connected.Store(true)
	go b.readLoop()
	return b, nil
}

// DialFromEnv connects using envdecode-populated Config.
func DialFromEnv(ctx context.Context) (*Bus, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("wsbus: config: %w", err)
	}
	return Dial(ctx, cfg)
}

// Connected implements bus.Bus.
func (b *Bus) Connected() bool {
	return b.connected.Load()
}

// Publish implements bus.Bus. Frames are written one at a time; concurrent
// publishers serialize on the write lock.
func (b *Bus) Publish(ctx context.Context, evt bus.Event) error {
	if !b.connected.Load() {
		return bus.ErrNotConnected
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("wsbus: marshal event %q: %w", evt.Name, err)
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	deadline := time.Now().Add(b.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = b.conn.SetWriteDeadline(deadline)
	if err := b.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("wsbus: write event %q: %w", evt.Name, err)
	}
	return nil
}

// Subscribe implements bus.Bus. Registration is purely local; the platform
// already pushes every event for this connection.
func (b *Bus) Subscribe(ctx context.Context, eventName string, h bus.Handler) (bus.UnsubscribeFunc, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if b.closed.Load() {
		return nil, bus.ErrNotConnected
	}

	sub := &subscription{handler: h}
	b.mu.Lock()
	set, ok := b.subs[eventName]
	if !ok {
		set = make(map[*subscription]struct{})
		b.subs[eventName] = set
	}
	set[sub] = struct{}{}
	b.mu.Unlock()

	unsub := func(ctx context.Context) error {
		if !sub.ended.CompareAndSwap(false, true) {
			return bus.ErrAlreadyUnsubscribed
		}
		b.mu.Lock()
		if set, ok := b.subs[eventName]; ok {
			delete(set, sub)
			if len(set) == 0 {
				delete(b.subs, eventName)
			}
		}
		b.mu.Unlock()
		return nil
	}
	return unsub, nil
}

// Close tears down the connection. Pending subscriptions are dropped; their
// unsubscribe functions report bus.ErrAlreadyUnsubscribed afterwards.
func (b *Bus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	b.connected.Store(false)

	b.mu.Lock()
	for _, set := range b.subs {
		for sub := range set {
			sub.ended.Store(true)
		}
	}
	b.subs = make(map[string]map[*subscription]struct{})
	b.mu.Unlock()

	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	_ = b.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return b.conn.Close()
}

func (b *Bus) readLoop() {
	defer b.connected.Store(false)

	for {
		_, payload, err := b.conn.ReadMessage()
		if err != nil {
			if !b.closed.Load() {
				b.log.Warn("socket read loop ended", slog.String("err", err.Error()))
			}
			return
		}

		var evt bus.Event
		if err := json.Unmarshal(payload, &evt); err != nil {
			b.log.Warn("dropping malformed socket frame", slog.String("err", err.Error()))
			continue
		}

		b.mu.Lock()
		targets := make([]*subscription, 0, len(b.subs[evt.Name]))
		for sub := range b.subs[evt.Name] {
			targets = append(targets, sub)
		}
		b.mu.Unlock()

		for _, sub := range targets {
			if sub.ended.Load() {
				continue
			}
			sub.handler(context.Background(), evt)
		}
	}
}

var _ bus.Bus = (*Bus)(nil)
