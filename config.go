package premiumclient

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/joeshaw/envdecode"
)

// Config tunes a Client. The zero value is usable; unset durations take the
// documented defaults.
type Config struct {
	// Room optionally scopes every outbound request to a named room. The
	// backend uses it to route limit notifications.
	Room string `env:"PREMIUM_ROOM"`

	// RequestTimeout bounds how long a correlated request waits for its
	// response. Defaults to 30s.
	RequestTimeout time.Duration `env:"PREMIUM_REQUEST_TIMEOUT,default=30s"`

	// SettleDelay is the pause between a mutation outcome and the
	// authoritative list refresh, giving the backend time to settle.
	// Defaults to 250ms; a negative value disables the delay.
	SettleDelay time.Duration `env:"PREMIUM_SETTLE_DELAY,default=250ms"`

	// SweepInterval is how often expired pending requests are collected.
	// Defaults to 100ms.
	SweepInterval time.Duration `env:"PREMIUM_SWEEP_INTERVAL,default=100ms"`

	// Logger receives client diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// ConfigFromEnv populates a Config via envdecode struct tags.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("premiumclient: config: %w", err)
	}
	return cfg, nil
}

func (c Config) withDefaults() Config {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.SettleDelay < 0 {
		c.SettleDelay = 0
	} else if c.SettleDelay == 0 {
		c.SettleDelay = 250 * time.Millisecond
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 100 * time.Millisecond
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}
