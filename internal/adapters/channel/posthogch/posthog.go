// Package posthogch is an invocation channel that hands track_event calls to
// the PostHog SDK. Delivery, batching and retries are the SDK's business.
package posthogch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/posthog/posthog-go"

	"github.com/okian/trackbridge/internal/adapters/channel/router"
	"github.com/okian/trackbridge/pkg/logger"
	"github.com/okian/trackbridge/pkg/metrics"
	"github.com/okian/trackbridge/pkg/tracking"
)

const (
	channelName     = "posthog"
	ack             = "ok"
	defaultInterval = 5 * time.Second
	defaultBatch    = 25
)

// Sentinel error kinds for this package.
var (
	ErrMissingAPIKey  = errors.New("posthog api key is required")
	ErrUnknownCommand = router.ErrUnknownCommand
	ErrClosed         = errors.New("posthog channel closed")
)

// enqueuer is the subset of posthog.Client the channel uses.
type enqueuer interface {
	io.Closer
	Enqueue(msg posthog.Message) error
}

// Config configures the SDK client.
type Config struct {
	APIKey     string
	Endpoint   string
	DistinctID string
	Interval   time.Duration
	BatchSize  int
	Logger     logger.Logger
}

// Channel serves tracking.TrackEventCommand by enqueueing a capture.
type Channel struct {
	client     enqueuer
	distinctID string
	logger     logger.Logger

	mu     sync.RWMutex
	closed bool
}

// New builds a PostHog SDK client from cfg.
func New(cfg Config) (*Channel, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatch
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}

	phConfig := posthog.Config{
		Interval:  cfg.Interval,
		BatchSize: cfg.BatchSize,
		Logger:    sdkLogger{l: cfg.Logger.Named("posthog-sdk")},
	}
	if cfg.Endpoint != "" {
		phConfig.Endpoint = cfg.Endpoint
	}

	client, err := posthog.NewWithConfig(cfg.APIKey, phConfig)
	if err != nil {
		return nil, fmt.Errorf("create posthog client: %w", err)
	}
	return newWithEnqueuer(client, cfg.DistinctID, cfg.Logger), nil
}

func newWithEnqueuer(enq enqueuer, distinctID string, l logger.Logger) *Channel {
	if l == nil {
		l = logger.Nop()
	}
	return &Channel{
		client:     enq,
		distinctID: distinctID,
		logger:     l,
	}
}

// Invoke enqueues one capture per track_event invocation.
func (c *Channel) Invoke(ctx context.Context, command string, args any) (string, error) {
	if command != tracking.TrackEventCommand {
		metrics.RecordChannelRequest(channelName, "unknown")
		return "", fmt.Errorf("%w %s", ErrUnknownCommand, command)
	}

	raw, err := json.Marshal(args)
	if err != nil {
		metrics.RecordChannelRequest(channelName, "malformed")
		return "", fmt.Errorf("%w: %w", router.ErrMalformedPayload, err)
	}
	ev, err := router.DecodeTrackEventArgs(raw)
	if err != nil {
		metrics.RecordChannelRequest(channelName, "malformed")
		return "", err
	}

	props := posthog.NewProperties()
	for k, v := range ev.Props {
		props.Set(k, v.Any())
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		metrics.RecordChannelRequest(channelName, "closed")
		return "", ErrClosed
	}
	if err := c.client.Enqueue(posthog.Capture{
		DistinctId: c.distinctID,
		Event:      ev.Name,
		Properties: props,
	}); err != nil {
		metrics.RecordChannelRequest(channelName, "error")
		return "", fmt.Errorf("posthog enqueue: %w", err)
	}

	metrics.RecordChannelRequest(channelName, "ok")
	c.logger.Debug(ctx, "capture enqueued", logger.String("event", ev.Name))
	return ack, nil
}

// Close flushes pending captures through the SDK.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.client.Close()
}

// sdkLogger routes SDK messages into the structured logger.
type sdkLogger struct {
	l logger.Logger
}

func (s sdkLogger) Debugf(format string, args ...interface{}) {
	s.l.Debug(context.Background(), fmt.Sprintf(format, args...))
}

func (s sdkLogger) Logf(format string, args ...interface{}) {
	s.l.Info(context.Background(), fmt.Sprintf(format, args...))
}

func (s sdkLogger) Warnf(format string, args ...interface{}) {
	s.l.Warn(context.Background(), fmt.Sprintf(format, args...))
}

func (s sdkLogger) Errorf(format string, args ...interface{}) {
	s.l.Error(context.Background(), fmt.Sprintf(format, args...))
}
