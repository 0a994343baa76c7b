package posthogch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/posthog/posthog-go"

	"github.com/okian/trackbridge/internal/adapters/channel/router"
	"github.com/okian/trackbridge/pkg/tracking"
	. "github.com/smartystreets/goconvey/convey"
)

// mockEnqueuer captures messages for testing.
type mockEnqueuer struct {
	mu     sync.Mutex
	events []posthog.Capture
	err    error
	closed bool
}

func (m *mockEnqueuer) Enqueue(msg posthog.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if capture, ok := msg.(posthog.Capture); ok {
		m.events = append(m.events, capture)
	}
	return nil
}

func (m *mockEnqueuer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func TestChannel(t *testing.T) {
	Convey("Given a PostHog channel over a mock SDK client", t, func() {
		mock := &mockEnqueuer{}
		ch := newWithEnqueuer(mock, "device-1", nil)
		client := tracking.New(ch)
		ctx := context.Background()

		Convey("When tracking an event with props", func() {
			err := client.TrackEvent(ctx, "logo_click", tracking.Properties{
				"logo":  tracking.String("vite"),
				"count": tracking.Int(1),
			})

			Convey("Then one capture is enqueued with the same fields", func() {
				So(err, ShouldBeNil)
				So(mock.events, ShouldHaveLength, 1)
				ev := mock.events[0]
				So(ev.Event, ShouldEqual, "logo_click")
				So(ev.DistinctId, ShouldEqual, "device-1")
				So(ev.Properties["logo"], ShouldEqual, "vite")
				So(ev.Properties["count"], ShouldEqual, 1.0)
			})
		})

		Convey("When the command is not track_event", func() {
			_, err := ch.Invoke(ctx, "plugin:aptabase|flush", nil)

			Convey("Then it is rejected as unknown", func() {
				So(errors.Is(err, router.ErrUnknownCommand), ShouldBeTrue)
				So(mock.events, ShouldBeEmpty)
			})
		})

		Convey("When the SDK refuses the message", func() {
			mock.err = errors.New("queue full")
			err := client.TrackEvent(ctx, "x", nil)

			Convey("Then the client sees an InvocationFailure", func() {
				So(errors.Is(err, tracking.ErrInvocationFailure), ShouldBeTrue)
				So(err.Error(), ShouldContainSubstring, "queue full")
			})
		})

		Convey("When the channel is closed", func() {
			So(ch.Close(), ShouldBeNil)
			So(ch.Close(), ShouldBeNil)
			_, err := ch.Invoke(ctx, tracking.TrackEventCommand, tracking.TrackEventArgs{Name: "late"})

			Convey("Then the SDK was flushed and later calls fail", func() {
				So(mock.closed, ShouldBeTrue)
				So(errors.Is(err, ErrClosed), ShouldBeTrue)
			})
		})
	})
}

func TestNewRequiresAPIKey(t *testing.T) {
	Convey("Given an empty API key", t, func() {
		_, err := New(Config{})
		So(errors.Is(err, ErrMissingAPIKey), ShouldBeTrue)
	})
}
