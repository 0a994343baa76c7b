// Package queue holds track requests waiting for a replay worker.
//
// The queue is a bounded in-memory channel. It never retries or reorders on
// its own; whatever a worker fails to deliver is reported, not re-enqueued.
package queue

import (
	"context"
	"sync"

	"github.com/okian/trackbridge/internal/domain/model"
	"github.com/okian/trackbridge/pkg/metrics"
)

const (
	defaultQueueCapacity = 1024
)

// Request is the payload type flowing through the queue.
type Request = model.TrackRequest

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds a request. It returns false if the queue is full, closed,
	// or ctx is done.
	Enqueue(ctx context.Context, r Request) bool

	// EnqueueWait adds a request, waiting for room while the queue is full.
	// It returns false if the queue is closed or ctx ends first.
	EnqueueWait(ctx context.Context, r Request) bool

	// Dequeue returns a channel receiving requests until the queue is closed
	// and drained or ctx is done.
	Dequeue(ctx context.Context) <-chan Request

	// Len returns the current number of queued requests.
	Len(ctx context.Context) int

	// Close stops accepting requests. Queued requests stay readable.
	Close() error

	// IsClosed returns true if the queue has been closed.
	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	requests chan Request
	capacity int

	mu     sync.RWMutex
	closed bool
}

// NewInMemoryQueue creates a new in-memory queue with configuration options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{
		capacity: defaultQueueCapacity,
	}
	for _, opt := range opts {
		opt(q)
	}
	q.requests = make(chan Request, q.capacity)

	metrics.UpdateQueueCapacity(q.capacity)
	metrics.UpdateQueueSize(0)
	return q
}

// Enqueue adds a request to the queue.
func (q *InMemoryQueue) Enqueue(ctx context.Context, r Request) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "closed")
		return false
	}
	if ctx.Err() != nil {
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "context_cancelled")
		return false
	}

	select {
	case q.requests <- r:
		metrics.RecordQueueEnqueue()
		metrics.UpdateQueueSize(len(q.requests))
		return true
	default:
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "queue_full")
		return false
	}
}

// EnqueueWait adds a request, blocking until there is room or ctx is done.
// Close waits for blocked callers to return.
func (q *InMemoryQueue) EnqueueWait(ctx context.Context, r Request) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "closed")
		return false
	}

	select {
	case q.requests <- r:
		metrics.RecordQueueEnqueue()
		metrics.UpdateQueueSize(len(q.requests))
		return true
	case <-ctx.Done():
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "context_cancelled")
		return false
	}
}

// Dequeue returns a channel that will receive requests as they become available.
func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan Request {
	out := make(chan Request)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case r, ok := <-q.requests:
				if !ok {
					return
				}
				select {
				case out <- r:
					metrics.RecordQueueDequeue()
					metrics.UpdateQueueSize(len(q.requests))
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// Len returns the current number of queued requests.
func (q *InMemoryQueue) Len(_ context.Context) int {
	size := len(q.requests)
	metrics.UpdateQueueSize(size)
	return size
}

// Close stops accepting requests and lets consumers drain the backlog.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	close(q.requests)
	q.closed = true
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
