package service_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/trackbridge/internal/adapters/channel/posthogch"
	"github.com/okian/trackbridge/internal/adapters/channel/router"
	service "github.com/okian/trackbridge/internal/app"
	"github.com/okian/trackbridge/internal/config"
	"github.com/okian/trackbridge/internal/domain/model"
	"github.com/okian/trackbridge/pkg/logger"
	"github.com/okian/trackbridge/pkg/tracking"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	// Initialize logging for tests
	err := logger.Init()
	if err != nil {
		panic(err)
	}
}

type inbox struct {
	mu     sync.Mutex
	events []tracking.TrackEventArgs
	fail   map[string]bool
}

func (b *inbox) sink(_ context.Context, args tracking.TrackEventArgs) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail[args.Name] {
		return errors.New("rejected " + args.Name)
	}
	b.events = append(b.events, args)
	return nil
}

func (b *inbox) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

func newMux(b *inbox) *router.Mux {
	mux := router.New()
	mux.Handle(tracking.TrackEventCommand, router.TrackEventHandler(b.sink))
	return mux
}

func TestService_New(t *testing.T) {
	Convey("Given a new service with default options", t, func() {
		svc := service.New()

		Convey("Then it reports defaults and is not started", func() {
			stats := svc.GetStats()
			So(stats["started"], ShouldEqual, false)
			So(stats["channel"], ShouldEqual, config.ChannelIPC)
			So(svc.Client(), ShouldBeNil)
		})
	})

	Convey("Given an injected channel", t, func() {
		svc := service.New(service.WithChannel(newMux(&inbox{})))

		Convey("Then it is reported as a custom channel", func() {
			So(svc.GetStats()["channel"], ShouldEqual, service.ChannelCustom)
		})
	})

	Convey("Given options built from configuration", t, func() {
		cfg := config.New()
		cfg.Workers = 3
		cfg.QueueSize = 7
		cfg.Channel = config.ChannelPostHog
		cfg.PostHogAPIKey = "phc_test"

		svc := service.New(service.OptionsFromConfig(cfg)...)

		Convey("Then they are applied", func() {
			stats := svc.GetStats()
			So(stats["workerCount"], ShouldEqual, 3)
			So(stats["queueSize"], ShouldEqual, 7)
			So(stats["channel"], ShouldEqual, config.ChannelPostHog)
		})
	})
}

func TestService_StartStop(t *testing.T) {
	Convey("Given a service with an in-process channel", t, func() {
		b := &inbox{}
		svc := service.New(service.WithChannel(newMux(b)))
		ctx := context.Background()

		Convey("When tracking before Start", func() {
			err := svc.Track(ctx, model.TrackRequest{Name: "early"})

			Convey("Then it fails with ErrNotStarted", func() {
				So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
			})
		})

		Convey("When started and stopped", func() {
			So(svc.Start(ctx), ShouldBeNil)
			So(svc.Start(ctx), ShouldBeNil)
			So(svc.GetStats()["started"], ShouldEqual, true)
			svc.Stop()

			Convey("Then it is marked as stopped and refuses work", func() {
				So(svc.GetStats()["started"], ShouldEqual, false)
				So(errors.Is(svc.Track(ctx, model.TrackRequest{Name: "late"}), service.ErrNotStarted), ShouldBeTrue)
			})
		})
	})

	Convey("Given an ipc service with a malformed host url", t, func() {
		svc := service.New(service.WithIPC("not a url", 0))

		Convey("Then Start reports the channel error", func() {
			err := svc.Start(context.Background())
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "build ipc channel")
		})
	})

	Convey("Given a posthog service without an api key", t, func() {
		svc := service.New(service.WithPostHog(posthogch.Config{}))

		Convey("Then Start fails", func() {
			So(svc.Start(context.Background()), ShouldNotBeNil)
		})
	})
}

func TestService_Track(t *testing.T) {
	Convey("Given a started service", t, func() {
		b := &inbox{fail: map[string]bool{"bad": true}}
		svc := service.New(service.WithChannel(newMux(b)))
		ctx := context.Background()
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		Convey("When tracking an event with props", func() {
			err := svc.Track(ctx, model.TrackRequest{
				Name:  "logo_click",
				Props: tracking.Properties{"logo": tracking.String("vite")},
			})

			Convey("Then the channel receives it once", func() {
				So(err, ShouldBeNil)
				So(b.len(), ShouldEqual, 1)
				So(b.events[0].Name, ShouldEqual, "logo_click")
				So(svc.GetStats()["tracked"], ShouldEqual, int64(1))
			})
		})

		Convey("When the host rejects the event", func() {
			err := svc.Track(ctx, model.TrackRequest{Name: "bad"})

			Convey("Then an InvocationFailure is returned and counted", func() {
				So(errors.Is(err, tracking.ErrInvocationFailure), ShouldBeTrue)
				So(svc.GetStats()["failed"], ShouldEqual, int64(1))
			})
		})
	})
}

func TestService_Replay(t *testing.T) {
	Convey("Given a service with a small queue", t, func() {
		b := &inbox{fail: map[string]bool{"e3": true, "e7": true}}
		svc := service.New(
			service.WithChannel(newMux(b)),
			service.WithWorkerCount(4),
			service.WithQueueSize(2),
		)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		reqs := make([]model.TrackRequest, 50)
		for i := range reqs {
			reqs[i] = model.TrackRequest{Name: fmt.Sprintf("e%d", i)}
		}

		Convey("When replaying more requests than the queue holds", func() {
			stats, err := svc.Replay(ctx, reqs)

			Convey("Then every request is invoked exactly once", func() {
				So(err, ShouldBeNil)
				So(stats.Total, ShouldEqual, int64(50))
				So(stats.Sent, ShouldEqual, int64(48))
				So(stats.Failed, ShouldEqual, int64(2))
				So(stats.Skipped, ShouldEqual, int64(0))
				So(b.len(), ShouldEqual, 48)
			})
		})

		Convey("When replaying nothing", func() {
			stats, err := svc.Replay(ctx, nil)

			Convey("Then nothing is sent", func() {
				So(err, ShouldBeNil)
				So(stats.Total, ShouldEqual, int64(0))
				So(b.len(), ShouldEqual, 0)
			})
		})
	})

	Convey("Given a service that was never started", t, func() {
		_, err := service.New().Replay(context.Background(), []model.TrackRequest{{Name: "x"}})

		Convey("Then Replay fails with ErrNotStarted", func() {
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
		})
	})
}

func TestService_ReplayCancelled(t *testing.T) {
	Convey("Given a slow channel and a replay that outlives its deadline", t, func() {
		var calls atomic.Int64
		slow := tracking.InvokerFunc(func(context.Context, string, any) (string, error) {
			calls.Add(1)
			time.Sleep(20 * time.Millisecond)
			return "ok", nil
		})
		svc := service.New(
			service.WithChannel(slow),
			service.WithWorkerCount(2),
			service.WithQueueSize(2),
		)
		So(svc.Start(context.Background()), ShouldBeNil)
		defer svc.Stop()

		reqs := make([]model.TrackRequest, 20)
		for i := range reqs {
			reqs[i] = model.TrackRequest{Name: fmt.Sprintf("e%d", i)}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()
		stats, err := svc.Replay(ctx, reqs)

		Convey("Then every invocation made is counted as sent or failed", func() {
			So(errors.Is(err, context.DeadlineExceeded), ShouldBeTrue)
			So(stats.Sent+stats.Failed, ShouldEqual, calls.Load())
			So(stats.Sent+stats.Failed, ShouldBeGreaterThan, 0)
		})

		Convey("Then only requests never invoked are skipped", func() {
			So(stats.Total, ShouldEqual, int64(20))
			So(stats.Sent+stats.Failed+stats.Skipped, ShouldEqual, stats.Total)
			So(stats.Dropped, ShouldBeGreaterThanOrEqualTo, 0)
			So(stats.Dropped, ShouldBeLessThanOrEqualTo, stats.Skipped)
			So(stats.Skipped, ShouldBeLessThan, stats.Total)
		})

		Convey("Then no invocation starts after Replay returns", func() {
			before := calls.Load()
			time.Sleep(50 * time.Millisecond)
			So(calls.Load(), ShouldEqual, before)
		})
	})
}

func TestService_IPCEndToEnd(t *testing.T) {
	Convey("Given an ipc service pointed at a router served over HTTP", t, func() {
		b := &inbox{}
		srv := httptest.NewServer(http.StripPrefix("/ipc", newMux(b).HTTPHandler()))
		defer srv.Close()

		svc := service.New(service.WithIPC(srv.URL+"/ipc", time.Second), service.WithWorkerCount(2))
		ctx := context.Background()
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		Convey("Then single events and replays reach the host", func() {
			So(svc.Track(ctx, model.TrackRequest{Name: "one"}), ShouldBeNil)
			stats, err := svc.Replay(ctx, []model.TrackRequest{{Name: "two"}, {Name: "three"}})
			So(err, ShouldBeNil)
			So(stats.Sent, ShouldEqual, int64(2))
			So(b.len(), ShouldEqual, 3)
		})
	})
}
