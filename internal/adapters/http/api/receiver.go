package api

import (
	"context"
	"fmt"
	"sync"

	"github.com/okian/trackbridge/internal/domain/model"
	"github.com/okian/trackbridge/pkg/logger"
	"github.com/okian/trackbridge/pkg/tracking"
)

// Forwarder passes a received event on, e.g. to PostHog.
type Forwarder interface {
	Track(ctx context.Context, req model.TrackRequest) error
}

// Receiver acknowledges track_event invocations by logging and counting
// them. Its Receive method is a router.Sink.
type Receiver struct {
	forward Forwarder
	logger  logger.Logger

	mu        sync.Mutex
	total     int64
	forwarded int64
	byName    map[string]int64
}

// ReceiverOption applies a configuration option to the Receiver.
type ReceiverOption func(*Receiver)

// WithForwarder forwards every received event to f.
func WithForwarder(f Forwarder) ReceiverOption {
	return func(r *Receiver) {
		r.forward = f
	}
}

// WithLogger sets the logger received events are written to.
func WithLogger(l logger.Logger) ReceiverOption {
	return func(r *Receiver) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewReceiver creates a Receiver.
func NewReceiver(opts ...ReceiverOption) *Receiver {
	r := &Receiver{
		logger: logger.Nop(),
		byName: make(map[string]int64),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Receive records one event. A forwarding failure is returned to the caller
// so the invoking client sees it.
func (r *Receiver) Receive(ctx context.Context, args tracking.TrackEventArgs) error {
	r.logger.Info(ctx, "track_event",
		logger.String("name", args.Name),
		logger.Int("props", len(args.Props)),
		logger.Any("properties", propsForLog(args.Props)),
	)

	r.mu.Lock()
	r.total++
	r.byName[args.Name]++
	r.mu.Unlock()

	if r.forward == nil {
		return nil
	}
	if err := r.forward.Track(ctx, model.TrackRequest{Name: args.Name, Props: args.Props}); err != nil {
		return fmt.Errorf("%w %s: %w", ErrForward, args.Name, err)
	}

	r.mu.Lock()
	r.forwarded++
	r.mu.Unlock()
	return nil
}

// GetStats returns received counts overall and per event name.
func (r *Receiver) GetStats() map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	byName := make(map[string]int64, len(r.byName))
	for k, v := range r.byName {
		byName[k] = v
	}
	return map[string]interface{}{
		"received":   r.total,
		"forwarded":  r.forwarded,
		"forwarding": r.forward != nil,
		"events":     byName,
	}
}

func propsForLog(p tracking.Properties) map[string]any {
	if p == nil {
		return nil
	}
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v.Any()
	}
	return out
}
