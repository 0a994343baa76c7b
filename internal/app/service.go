// Package service wires the configured invocation channel, the tracking
// client and the replay fan-out into one unit the commands can start and stop.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/trackbridge/internal/adapters/channel/ipc"
	"github.com/okian/trackbridge/internal/adapters/channel/posthogch"
	eventqueue "github.com/okian/trackbridge/internal/adapters/mq/queue"
	workerpool "github.com/okian/trackbridge/internal/adapters/mq/worker"
	"github.com/okian/trackbridge/internal/config"
	"github.com/okian/trackbridge/internal/domain/model"
	"github.com/okian/trackbridge/pkg/logger"
	"github.com/okian/trackbridge/pkg/metrics"
	"github.com/okian/trackbridge/pkg/tracking"
)

// ChannelCustom names a channel injected with WithChannel.
const ChannelCustom = "custom"

// Sentinel error kinds for this package.
var (
	ErrNotStarted     = errors.New("service not started")
	ErrUnknownChannel = errors.New("unknown channel")
)

// Stats summarises one Replay. Total = Sent + Failed + Skipped. Skipped counts
// requests never invoked: those not queued before ctx ended plus Dropped,
// the ones queued but abandoned when ctx ended.
type Stats struct {
	Total   int64         `json:"total"`
	Sent    int64         `json:"sent"`
	Failed  int64         `json:"failed"`
	Skipped int64         `json:"skipped"`
	Dropped int64         `json:"dropped"`
	Elapsed time.Duration `json:"elapsed"`
}

// Service owns the channel and client for one process.
type Service struct {
	mu sync.RWMutex

	// Core components
	channel tracking.InvocationChannel
	closer  io.Closer
	client  *tracking.Client

	// Configuration
	channelKind   string
	hostURL       string
	invokeTimeout time.Duration
	posthog       posthogch.Config
	workerCount   int
	queueSize     int

	// State
	started bool
	tracked atomic.Int64
	failed  atomic.Int64

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithChannel uses ch instead of building one from configuration.
func WithChannel(ch tracking.InvocationChannel) Option {
	return func(s *Service) {
		s.channelKind = ChannelCustom
		s.channel = ch
	}
}

// WithIPC selects the HTTP channel posting to hostURL.
func WithIPC(hostURL string, timeout time.Duration) Option {
	return func(s *Service) {
		s.channelKind = config.ChannelIPC
		s.hostURL = hostURL
		s.invokeTimeout = timeout
	}
}

// WithPostHog selects the PostHog channel.
func WithPostHog(cfg posthogch.Config) Option {
	return func(s *Service) {
		s.channelKind = config.ChannelPostHog
		s.posthog = cfg
	}
}

// WithWorkerCount sets the number of replay workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the replay queue capacity.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// OptionsFromConfig maps process configuration onto Service options.
func OptionsFromConfig(cfg *config.Config) []Option {
	opts := []Option{
		WithWorkerCount(cfg.Workers),
		WithQueueSize(cfg.QueueSize),
	}
	switch cfg.Channel {
	case config.ChannelPostHog:
		opts = append(opts, WithPostHog(posthogch.Config{
			APIKey:     cfg.PostHogAPIKey,
			Endpoint:   cfg.PostHogEndpoint,
			DistinctID: cfg.DistinctID,
		}))
	default:
		opts = append(opts, WithIPC(cfg.HostURL, cfg.InvokeTimeout()))
	}
	return opts
}

// New constructs a Service. Nothing is dialled until Start.
func New(opts ...Option) *Service {
	s := &Service{
		channelKind: config.ChannelIPC,
		workerCount: runtime.NumCPU() * 2,
		queueSize:   1024,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start builds the channel and the client.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}

	if s.channel == nil {
		ch, closer, err := s.buildChannel()
		if err != nil {
			return err
		}
		s.channel, s.closer = ch, closer
	}
	s.client = tracking.New(s.channel, tracking.WithLogger(s.logger.Named("tracking")))

	s.started = true
	s.logger.Info(ctx, "tracking service started",
		logger.String("channel", s.channelKind),
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
	)
	return nil
}

func (s *Service) buildChannel() (tracking.InvocationChannel, io.Closer, error) {
	switch s.channelKind {
	case config.ChannelIPC:
		ch, err := ipc.New(s.hostURL,
			ipc.WithTimeout(s.invokeTimeout),
			ipc.WithLogger(s.logger.Named("ipc")),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("build ipc channel: %w", err)
		}
		return ch, nil, nil
	case config.ChannelPostHog:
		cfg := s.posthog
		if cfg.Logger == nil {
			cfg.Logger = s.logger.Named("posthog")
		}
		ch, err := posthogch.New(cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("build posthog channel: %w", err)
		}
		return ch, ch, nil
	default:
		return nil, nil, fmt.Errorf("%w %q", ErrUnknownChannel, s.channelKind)
	}
}

// Stop closes the channel if it holds resources.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	if s.closer != nil {
		if err := s.closer.Close(); err != nil {
			s.logger.Warn(context.Background(), "close channel", logger.Error(err))
		}
		s.closer = nil
		s.channel = nil
	}
	s.client = nil
	s.started = false
	s.logger.Info(context.Background(), "tracking service stopped")
}

// Client returns the tracking client, or nil before Start.
func (s *Service) Client() *tracking.Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client
}

// Track sends one event.
func (s *Service) Track(ctx context.Context, req model.TrackRequest) error {
	client := s.Client()
	if client == nil {
		return ErrNotStarted
	}
	return s.track(ctx, client, req.Name, req.Props)
}

func (s *Service) track(ctx context.Context, client *tracking.Client, name string, props tracking.Properties) error {
	err := client.TrackEvent(ctx, name, props)
	if err != nil {
		s.failed.Add(1)
		return err
	}
	s.tracked.Add(1)
	return nil
}

// trackerFunc lets the service count outcomes for the worker pool.
type trackerFunc func(ctx context.Context, name string, props tracking.Properties) error

func (f trackerFunc) TrackEvent(ctx context.Context, name string, props tracking.Properties) error {
	return f(ctx, name, props)
}

// Replay sends every request through the worker pool, one invocation each.
// When ctx ends, in-flight invocations are waited for before counting.
func (s *Service) Replay(ctx context.Context, reqs []model.TrackRequest) (Stats, error) {
	client := s.Client()
	if client == nil {
		return Stats{}, ErrNotStarted
	}

	start := time.Now()
	stats := Stats{Total: int64(len(reqs))}
	var sent, failed atomic.Int64

	q := eventqueue.NewInMemoryQueue(eventqueue.WithCapacity(s.queueSize))
	pool := workerpool.NewPool(s.workerCount, q,
		trackerFunc(func(ctx context.Context, name string, props tracking.Properties) error {
			return s.track(ctx, client, name, props)
		}),
		workerpool.WithLogger(s.logger.Named("replay")),
		workerpool.WithResultFunc(func(_ context.Context, r workerpool.Result) {
			if r.Err != nil {
				failed.Add(1)
				return
			}
			sent.Add(1)
		}),
	)
	pool.Start(ctx)

	queued := s.fill(ctx, q, reqs)
	_ = q.Close()

	// Workers stop on ctx, so this returns once in-flight calls finish.
	pool.Join()
	stats.Sent = sent.Load()
	stats.Failed = failed.Load()
	stats.Dropped = int64(queued) - stats.Sent - stats.Failed
	stats.Skipped = stats.Total - int64(queued) + stats.Dropped
	stats.Elapsed = time.Since(start)
	metrics.UpdateQueueSize(0)

	s.logger.Info(ctx, "replay finished",
		logger.Int("total", int(stats.Total)),
		logger.Int("queued", queued),
		logger.Int("sent", int(stats.Sent)),
		logger.Int("failed", int(stats.Failed)),
		logger.Int("dropped", int(stats.Dropped)),
		logger.Duration("elapsed", stats.Elapsed),
	)
	if err := ctx.Err(); err != nil {
		return stats, fmt.Errorf("replay: %w", err)
	}
	return stats, nil
}

// fill enqueues reqs in order, waiting while the queue is full. It returns
// how many were queued before ctx ended.
func (s *Service) fill(ctx context.Context, q *eventqueue.InMemoryQueue, reqs []model.TrackRequest) int {
	for i, req := range reqs {
		if !q.EnqueueWait(ctx, req) {
			return i
		}
	}
	return len(reqs)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]interface{}{
		"started":     s.started,
		"channel":     s.channelKind,
		"workerCount": s.workerCount,
		"queueSize":   s.queueSize,
		"tracked":     s.tracked.Load(),
		"failed":      s.failed.Load(),
	}
}
