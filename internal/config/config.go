// Package config defines process configuration for the trackbridge commands.
//
// Conventions:
// - New() returns defaults; Load(ctx) layers file and env on top.
// - Errors are wrapped with this package's sentinel kinds.
package config

import (
	"fmt"
	"runtime"
	"time"
)

// Channel kinds.
const (
	ChannelIPC     = "ipc"
	ChannelPostHog = "posthog"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Channel selects the invocation channel: ipc or posthog.
	Channel string `koanf:"channel"`

	// HostURL is the base URL the ipc channel posts invocations to.
	HostURL string `koanf:"host_url"`

	// InvokeTimeoutMS bounds one ipc invocation. 0 disables the bound.
	InvokeTimeoutMS int `koanf:"invoke_timeout_ms"`

	// Workers and QueueSize size the replay fan-out.
	Workers   int `koanf:"workers"`
	QueueSize int `koanf:"queue_size"`

	// Addr is the dev host listen address, e.g. ":1430".
	Addr string `koanf:"addr"`

	// MetricsAddr serves /metrics from the CLI when set.
	MetricsAddr string `koanf:"metrics_addr"`

	// PostHog settings, used by the posthog channel and the dev host forwarder.
	PostHogAPIKey   string `koanf:"posthog_api_key"`
	PostHogEndpoint string `koanf:"posthog_endpoint"`
	DistinctID      string `koanf:"distinct_id"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:        "info",
		Channel:         ChannelIPC,
		HostURL:         "http://localhost:1430/ipc",
		InvokeTimeoutMS: 10_000,
		Workers:         runtime.NumCPU() * 2,
		QueueSize:       1024,
		Addr:            ":1430",
		DistinctID:      "anonymous",
	}
}

// InvokeTimeout returns InvokeTimeoutMS as a duration.
func (c *Config) InvokeTimeout() time.Duration {
	return time.Duration(c.InvokeTimeoutMS) * time.Millisecond
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Channel {
	case ChannelIPC:
		if c.HostURL == "" {
			return fmt.Errorf("%w: host_url must not be empty", ErrInvalidConfig)
		}
	case ChannelPostHog:
		if c.PostHogAPIKey == "" {
			return fmt.Errorf("%w: posthog_api_key is required for the posthog channel", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown channel %q", ErrInvalidConfig, c.Channel)
	}
	if c.InvokeTimeoutMS < 0 {
		return fmt.Errorf("%w: invoke_timeout_ms must not be negative", ErrInvalidConfig)
	}
	if c.Workers < 1 {
		return fmt.Errorf("%w: workers must be positive", ErrInvalidConfig)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("%w: queue_size must be positive", ErrInvalidConfig)
	}
	if c.Addr == "" {
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	}
	return nil
}
