package tracking

import (
	"github.com/okian/trackbridge/pkg/logger"
)

// Option applies a configuration option to the Client.
type Option func(*Client)

// WithLogger sets the logger used for debug records. Defaults to logger.Nop().
func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithPanicHook replaces the hook run by TrackPanic.
func WithPanicHook(hook PanicHook) Option {
	return func(c *Client) {
		if hook != nil {
			c.panicHook = hook
		}
	}
}

// WithPanicEventName sets the event name DefaultPanicHook tracks.
func WithPanicEventName(name string) Option {
	return func(c *Client) {
		if name != "" {
			c.panicEventName = name
		}
	}
}
