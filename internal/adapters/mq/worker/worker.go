// Package worker drains the replay queue into a tracking client.
package worker

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"time"

	"github.com/okian/trackbridge/internal/adapters/mq/queue"
	"github.com/okian/trackbridge/pkg/logger"
	"github.com/okian/trackbridge/pkg/metrics"
	"github.com/okian/trackbridge/pkg/tracking"
)

const (
	defaultWorkerMultiplier = 2 // multiplier for runtime.NumCPU()
)

// Tracker sends one event. *tracking.Client satisfies it.
type Tracker interface {
	TrackEvent(ctx context.Context, name string, props tracking.Properties) error
}

// Queue defines how workers receive requests.
type Queue interface {
	Dequeue(ctx context.Context) <-chan queue.Request
}

// Result describes the outcome of one request.
type Result struct {
	Request queue.Request
	Worker  string
	Latency time.Duration
	Err     error
}

// ResultFunc receives every Result. It is called from worker goroutines and
// must be safe for concurrent use.
type ResultFunc func(ctx context.Context, r Result)

// InMemoryWorker forwards queued requests to a Tracker one at a time.
type InMemoryWorker struct {
	queue    Queue
	tracker  Tracker
	name     string
	onResult ResultFunc

	done chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(q Queue, tracker Tracker, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:    q,
		tracker:  tracker,
		name:     "worker",
		onResult: func(context.Context, Result) {},
		done:     make(chan struct{}),
		logger:   logger.Nop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.Named(w.name)
	return w
}

// Run processes requests until the queue is drained or ctx is done.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	for r := range w.queue.Dequeue(ctx) {
		w.onResult(ctx, w.process(ctx, r))
	}
}

// Done is closed once Run returns.
func (w *InMemoryWorker) Done() <-chan struct{} {
	return w.done
}

func (w *InMemoryWorker) process(ctx context.Context, r queue.Request) Result {
	start := time.Now()
	err := w.tracker.TrackEvent(ctx, r.Name, r.Props)
	latency := time.Since(start)
	metrics.RecordWorkerProcessingLatency(float64(latency.Milliseconds()))

	if err != nil {
		metrics.RecordWorkerError()
		metrics.RecordErrorByComponent("worker", "track_error")
		w.logger.Warn(ctx, "track failed",
			logger.String("name", r.Name),
			logger.Error(err),
		)
	}
	return Result{Request: r, Worker: w.name, Latency: latency, Err: err}
}

// Pool runs several workers over one queue.
type Pool struct {
	workers []*InMemoryWorker
}

// NewPool creates count workers sharing q and tracker. opts apply to every
// worker; names are assigned per worker.
func NewPool(count int, q Queue, tracker Tracker, opts ...Option) *Pool {
	if count < 1 {
		count = runtime.NumCPU() * defaultWorkerMultiplier
	}

	p := &Pool{
		workers: make([]*InMemoryWorker, count),
	}
	for i := 0; i < count; i++ {
		wopts := append([]Option{}, opts...)
		wopts = append(wopts, WithName("worker-"+strconv.Itoa(i)))
		p.workers[i] = NewInMemoryWorker(q, tracker, wopts...)
	}
	metrics.UpdateWorkerCount(count)
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return len(p.workers)
}

// Start starts all workers.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
}

// Join blocks until every worker has returned. Workers return once the queue
// is drained or the context passed to Start is done.
func (p *Pool) Join() {
	for _, w := range p.workers {
		<-w.Done()
	}
	metrics.UpdateWorkerCount(0)
}

// Wait blocks until every worker has returned or ctx is done.
func (p *Pool) Wait(ctx context.Context) error {
	for i, w := range p.workers {
		select {
		case <-w.Done():
		case <-ctx.Done():
			return fmt.Errorf("wait for worker %d: %w", i, ctx.Err())
		}
	}
	metrics.UpdateWorkerCount(0)
	return nil
}
