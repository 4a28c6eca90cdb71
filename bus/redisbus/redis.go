// Package redisbus implements the bus.Bus interface over Redis pub/sub, for
// deployments where the host platform bridges its event bus through Redis.
// Redis pub/sub is fire-and-forget with no replay, which matches the bus
// contract exactly: subscribers only see events published while they are
// attached.
package redisbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"

	"github.com/growhaus/premium-client-go/bus"
)

// Config contains configuration options for the Redis bus.
type Config struct {
	// Client is the Redis client to use. If nil, a default client is created
	// from Addr.
	Client redis.UniversalClient

	// Addr is the Redis address used when Client is nil.
	Addr string `env:"PREMIUM_REDIS_ADDR,default=localhost:6379"`

	// KeyPrefix is prepended to every channel name. Defaults to
	// "premium:bus:" if empty.
	KeyPrefix string `env:"PREMIUM_REDIS_PREFIX,default=premium:bus:"`

	// Logger receives subscription-loop diagnostics. Defaults to
	// slog.Default().
	Logger *slog.Logger
}

// Bus is a Redis pub/sub implementation of bus.Bus.
type Bus struct {
	client    redis.UniversalClient
	keyPrefix string
	log       *slog.Logger
}

// New creates a Redis-backed bus.
func New(cfg Config) *Bus {
	client := cfg.Client
	if client == nil {
		addr := cfg.Addr
		if addr == "" {
			addr = "localhost:6379"
		}
		client = redis.NewClient(&redis.Options{Addr: addr})
	}

	keyPrefix := cfg.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "premium:bus:"
	}

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Bus{client: client, keyPrefix: keyPrefix, log: log}
}

// NewFromEnv builds a Bus with Config populated via envdecode.
func NewFromEnv() *Bus {
	var cfg Config
	// Defaults are provided via struct tags; decode errors only occur for
	// malformed values, in which case defaults win.
	_ = envdecode.Decode(&cfg)
	return New(cfg)
}

// Close closes the Redis connection.
func (b *Bus) Close() error {
	return b.client.Close()
}

// Connected reports whether the Redis connection answers a ping.
func (b *Bus) Connected() bool {
	return b.client.Ping(context.Background()).Err() == nil
}

// Publish implements bus.Bus.
func (b *Bus) Publish(ctx context.Context, evt bus.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event %q: %w", evt.Name, err)
	}
	if err := b.client.Publish(ctx, b.channel(evt.Name), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to %q: %w", evt.Name, err)
	}
	return nil
}

// Subscribe implements bus.Bus. The handler runs on a dedicated goroutine
// consuming the Redis subscription; malformed payloads are logged and
// skipped.
func (b *Bus) Subscribe(ctx context.Context, eventName string, h bus.Handler) (bus.UnsubscribeFunc, error) {
	ps := b.client.Subscribe(ctx, b.channel(eventName))

	// Wait for the subscription to be confirmed so a publish immediately
	// after Subscribe returns cannot be missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("failed to subscribe to %q: %w", eventName, err)
	}

	var ended atomic.Bool
	go func() {
		for msg := range ps.Channel() {
			var evt bus.Event
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				b.log.Warn("dropping malformed bus event", slog.String("channel", eventName), slog.String("err", err.Error()))
				continue
			}
			h(context.Background(), evt)
		}
	}()

	unsub := func(ctx context.Context) error {
		if !ended.CompareAndSwap(false, true) {
			return bus.ErrAlreadyUnsubscribed
		}
		if err := ps.Close(); err != nil {
			return bus.ErrAlreadyUnsubscribed
		}
		return nil
	}
	return unsub, nil
}

func (b *Bus) channel(eventName string) string {
	return b.keyPrefix + eventName
}

var _ bus.Bus = (*Bus)(nil)
