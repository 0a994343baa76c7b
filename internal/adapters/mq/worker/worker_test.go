package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	queue "github.com/okian/trackbridge/internal/adapters/mq/queue"
	worker "github.com/okian/trackbridge/internal/adapters/mq/worker"
	model "github.com/okian/trackbridge/internal/domain/model"
	logging "github.com/okian/trackbridge/pkg/logger"
	"github.com/okian/trackbridge/pkg/tracking"
	"github.com/smartystreets/goconvey/convey"
)

type mockQueue struct {
	ch chan queue.Request
}

func newMockQueue(reqs ...queue.Request) *mockQueue {
	q := &mockQueue{ch: make(chan queue.Request, len(reqs))}
	for _, r := range reqs {
		q.ch <- r
	}
	close(q.ch)
	return q
}

func (m *mockQueue) Dequeue(context.Context) <-chan queue.Request { return m.ch }

type mockTracker struct {
	mu    sync.Mutex
	names []string
	fail  map[string]error
}

func (m *mockTracker) TrackEvent(_ context.Context, name string, _ tracking.Properties) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.names = append(m.names, name)
	return m.fail[name]
}

func (m *mockTracker) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.names)
}

type resultCollector struct {
	mu      sync.Mutex
	results []worker.Result
}

func (c *resultCollector) collect(_ context.Context, r worker.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, r)
}

func (c *resultCollector) failed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, r := range c.results {
		if r.Err != nil {
			n++
		}
	}
	return n
}

func TestInMemoryWorker(t *testing.T) {
	convey.Convey("Given a worker over a finite queue", t, func() {
		_ = logging.Init()
		q := newMockQueue(model.TrackRequest{Name: "a"}, model.TrackRequest{Name: "b"})
		tracker := &mockTracker{fail: map[string]error{"b": errors.New("host down")}}
		results := &resultCollector{}

		w := worker.NewInMemoryWorker(q, tracker,
			worker.WithName("w1"),
			worker.WithLogger(logging.Get()),
			worker.WithResultFunc(results.collect),
		)

		convey.Convey("When it runs to completion", func() {
			w.Run(context.Background())

			convey.Convey("Then every request is tracked once and failures are reported", func() {
				convey.So(tracker.count(), convey.ShouldEqual, 2)
				convey.So(results.results, convey.ShouldHaveLength, 2)
				convey.So(results.failed(), convey.ShouldEqual, 1)
				convey.So(results.results[0].Worker, convey.ShouldEqual, "w1")

				_, open := <-w.Done()
				convey.So(open, convey.ShouldBeFalse)
			})
		})
	})
}

func TestPool(t *testing.T) {
	convey.Convey("Given a pool draining a real queue", t, func() {
		q := queue.NewInMemoryQueue(queue.WithCapacity(500))
		ctx := context.Background()
		for i := 0; i < 200; i++ {
			convey.So(q.Enqueue(ctx, model.TrackRequest{Name: fmt.Sprintf("e%d", i)}), convey.ShouldBeTrue)
		}
		convey.So(q.Close(), convey.ShouldBeNil)

		tracker := &mockTracker{}
		results := &resultCollector{}
		pool := worker.NewPool(8, q, tracker, worker.WithResultFunc(results.collect))
		pool.Start(ctx)

		waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		err := pool.Wait(waitCtx)

		convey.Convey("Then all requests are delivered exactly once", func() {
			convey.So(err, convey.ShouldBeNil)
			convey.So(pool.Size(), convey.ShouldEqual, 8)
			convey.So(tracker.count(), convey.ShouldEqual, 200)
			convey.So(results.results, convey.ShouldHaveLength, 200)
		})
	})

	convey.Convey("Given a pool whose queue never closes", t, func() {
		q := queue.NewInMemoryQueue()
		pool := worker.NewPool(2, q, &mockTracker{})
		runCtx, stop := context.WithCancel(context.Background())
		defer stop()
		pool.Start(runCtx)

		waitCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		convey.Convey("Then Wait gives up with the context error", func() {
			err := pool.Wait(waitCtx)
			convey.So(errors.Is(err, context.DeadlineExceeded), convey.ShouldBeTrue)
		})
	})
}

type slowTracker struct {
	calls atomic.Int64
	done  atomic.Int64
}

func (s *slowTracker) TrackEvent(context.Context, string, tracking.Properties) error {
	s.calls.Add(1)
	time.Sleep(20 * time.Millisecond)
	s.done.Add(1)
	return nil
}

func TestPoolJoin(t *testing.T) {
	convey.Convey("Given a pool cancelled while workers are busy", t, func() {
		q := queue.NewInMemoryQueue(queue.WithCapacity(10))
		ctx, cancel := context.WithCancel(context.Background())
		for i := 0; i < 10; i++ {
			convey.So(q.Enqueue(ctx, model.TrackRequest{Name: fmt.Sprintf("e%d", i)}), convey.ShouldBeTrue)
		}

		tracker := &slowTracker{}
		results := &resultCollector{}
		pool := worker.NewPool(2, q, tracker, worker.WithResultFunc(results.collect))
		pool.Start(ctx)
		time.Sleep(5 * time.Millisecond)
		cancel()
		pool.Join()

		convey.Convey("Then Join returns only after in-flight calls finish", func() {
			convey.So(tracker.calls.Load(), convey.ShouldBeGreaterThan, 0)
			convey.So(tracker.done.Load(), convey.ShouldEqual, tracker.calls.Load())
			convey.So(len(results.results), convey.ShouldEqual, int(tracker.calls.Load()))
		})
	})
}
