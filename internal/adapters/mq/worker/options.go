// Package worker drains the replay queue into a tracking client.
package worker

import (
	"github.com/okian/trackbridge/pkg/logger"
)

// Option applies a configuration option to the InMemoryWorker.
type Option func(*InMemoryWorker)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(w *InMemoryWorker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(l logger.Logger) Option {
	return func(w *InMemoryWorker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithResultFunc registers a callback invoked once per processed request.
func WithResultFunc(fn ResultFunc) Option {
	return func(w *InMemoryWorker) {
		if fn != nil {
			w.onResult = fn
		}
	}
}
