/*
Package config handles application-wide settings and environment parsing.

It leverages 'caarlos0/env' to map OS environment variables into a strongly
typed Go struct, providing early validation and sane defaults.

Usage:

	cfg, err := config.Load()
	if err != nil {
	    log.Fatal(err)
	}

Once loaded, configuration is read-only and passed to core components via
constructors; there is no global mutable config state.
*/
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all runtime configuration for the quipubase engine.
type Config struct {
	// DataDir is the storage root directory for the embedded KV engine.
	DataDir string `env:"QUIPU_DATA_DIR" envDefault:"./data"`

	// ListenAddr is the address the HTTP surface binds to.
	ListenAddr string `env:"QUIPU_LISTEN_ADDR" envDefault:":8080"`

	// SubscriberBuffer is the per-subscription bounded buffer capacity.
	SubscriberBuffer int `env:"QUIPU_SUBSCRIBER_BUFFER" envDefault:"64"`

	// ShutdownTimeout bounds how long graceful shutdown waits for
	// in-flight requests and subscription tasks to drain.
	ShutdownTimeout time.Duration `env:"QUIPU_SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// KeepAliveInterval is the cadence of keep-alive comment frames sent on
	// streaming subscriptions.
	KeepAliveInterval time.Duration `env:"QUIPU_KEEPALIVE_INTERVAL" envDefault:"15s"`

	// Debug enables verbose (debug-level) logging.
	Debug bool `env:"QUIPU_DEBUG" envDefault:"false"`
}

// Load parses environment variables into a Config struct.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse environment variables: %w", err)
	}
	return cfg, nil
}
