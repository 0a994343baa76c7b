// Package tracking forwards analytics events to a host through an injected
// invocation channel.
//
// A Client owns no state beyond its configuration. Every TrackEvent call
// issues exactly one Invoke on the channel with command TrackEventCommand and
// a TrackEventArgs body, waits for the answer, discards the acknowledgment and
// reports any channel error as *InvocationFailure. Nothing is retried,
// buffered or reordered here; concurrent calls are independent.
package tracking

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/okian/trackbridge/pkg/logger"
	"github.com/okian/trackbridge/pkg/metrics"
)

// TrackEventCommand addresses the host's event tracking handler.
const TrackEventCommand = "plugin:aptabase|track_event"

// InvocationChannel is the host-provided request/response primitive.
// Implementations decide how args are encoded and own any timeout policy.
type InvocationChannel interface {
	Invoke(ctx context.Context, command string, args any) (string, error)
}

// InvokerFunc adapts a function to InvocationChannel.
type InvokerFunc func(ctx context.Context, command string, args any) (string, error)

func (f InvokerFunc) Invoke(ctx context.Context, command string, args any) (string, error) {
	return f(ctx, command, args)
}

// TrackEventArgs is the request body sent with TrackEventCommand.
type TrackEventArgs struct {
	Name  string     `json:"name"`
	Props Properties `json:"props,omitempty"`
}

// MarshalJSON omits "props" only when Props is nil, so an explicitly empty
// map still reaches the host as {}.
func (a TrackEventArgs) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	name, err := json.Marshal(a.Name)
	if err != nil {
		return nil, err
	}
	buf.WriteString(`{"name":`)
	buf.Write(name)
	if a.Props != nil {
		props, err := json.Marshal(map[string]Value(a.Props))
		if err != nil {
			return nil, err
		}
		buf.WriteString(`,"props":`)
		buf.Write(props)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Client forwards events to an InvocationChannel.
type Client struct {
	channel        InvocationChannel
	logger         logger.Logger
	panicHook      PanicHook
	panicEventName string
}

// New returns a Client bound to channel. A nil channel is accepted; every
// call then fails with an InvocationFailure wrapping ErrNoChannel.
func New(channel InvocationChannel, opts ...Option) *Client {
	c := &Client{
		channel:        channel,
		logger:         logger.Nop(),
		panicHook:      DefaultPanicHook,
		panicEventName: defaultPanicEventName,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TrackEvent sends one event. props may be nil, in which case the body has no
// "props" field. The host's acknowledgment is discarded.
func (c *Client) TrackEvent(ctx context.Context, name string, props Properties) error {
	if c.channel == nil {
		metrics.RecordInvocation(TrackEventCommand, metrics.OutcomeFailed)
		return &InvocationFailure{Command: TrackEventCommand, Err: ErrNoChannel}
	}

	metrics.RecordPropertyCount(len(props))
	start := time.Now()
	ack, err := c.channel.Invoke(ctx, TrackEventCommand, TrackEventArgs{Name: name, Props: props})
	metrics.RecordInvocationLatency(TrackEventCommand, float64(time.Since(start).Milliseconds()))

	if err != nil {
		metrics.RecordInvocation(TrackEventCommand, metrics.OutcomeFailed)
		c.logger.Debug(ctx, "track_event rejected",
			logger.String("name", name),
			logger.Error(err),
		)
		return &InvocationFailure{Command: TrackEventCommand, Err: err}
	}

	metrics.RecordInvocation(TrackEventCommand, metrics.OutcomeOK)
	c.logger.Debug(ctx, "track_event acknowledged",
		logger.String("name", name),
		logger.Int("props", len(props)),
		logger.String("ack", ack),
	)
	return nil
}

// Go runs TrackEvent on its own goroutine. The returned channel yields exactly
// one value and is never closed without one.
func (c *Client) Go(ctx context.Context, name string, props Properties) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- c.TrackEvent(ctx, name, props)
	}()
	return done
}
