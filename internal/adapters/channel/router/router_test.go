package router_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/okian/trackbridge/internal/adapters/channel/router"
	"github.com/okian/trackbridge/pkg/tracking"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMuxInvoke(t *testing.T) {
	Convey("Given a mux with a track_event sink", t, func() {
		var got []tracking.TrackEventArgs
		mux := router.New()
		mux.Handle(tracking.TrackEventCommand, router.TrackEventHandler(func(_ context.Context, args tracking.TrackEventArgs) error {
			got = append(got, args)
			return nil
		}))
		client := tracking.New(mux)
		ctx := context.Background()

		Convey("When the client tracks an event with props", func() {
			err := client.TrackEvent(ctx, "logo_click", tracking.Properties{
				"logo":  tracking.String("vite"),
				"count": tracking.Int(1),
			})

			Convey("Then the sink receives the same name and props", func() {
				So(err, ShouldBeNil)
				So(got, ShouldHaveLength, 1)
				So(got[0].Name, ShouldEqual, "logo_click")
				So(got[0].Props, ShouldResemble, tracking.Properties{
					"logo":  tracking.String("vite"),
					"count": tracking.Number(1),
				})
			})
		})

		Convey("When the client tracks an event without props", func() {
			So(client.TrackEvent(ctx, "logo_click", nil), ShouldBeNil)

			Convey("Then the sink sees nil props", func() {
				So(got[0].Props, ShouldBeNil)
			})
		})

		Convey("When a command is not registered", func() {
			_, err := mux.Invoke(ctx, "plugin:other|cmd", map[string]string{})

			Convey("Then it fails with ErrUnknownCommand naming the command", func() {
				So(errors.Is(err, router.ErrUnknownCommand), ShouldBeTrue)
				So(err.Error(), ShouldEqual, "unknown command plugin:other|cmd")
			})
		})

		Convey("When the sink fails", func() {
			mux.Handle(tracking.TrackEventCommand, router.TrackEventHandler(func(context.Context, tracking.TrackEventArgs) error {
				return errors.New("disk full")
			}))
			err := client.TrackEvent(ctx, "x", nil)

			Convey("Then the client reports an InvocationFailure with the sink's message", func() {
				So(errors.Is(err, tracking.ErrInvocationFailure), ShouldBeTrue)
				So(err.Error(), ShouldContainSubstring, "disk full")
			})
		})

		Convey("When args are not an object", func() {
			_, err := mux.Invoke(ctx, tracking.TrackEventCommand, []int{1})

			Convey("Then the payload is rejected", func() {
				So(errors.Is(err, router.ErrMalformedPayload), ShouldBeTrue)
			})
		})
	})
}

func TestMuxHTTPHandler(t *testing.T) {
	Convey("Given the mux served over HTTP", t, func() {
		mux := router.New()
		mux.HandleFunc("plugin:echo|ping", func(_ context.Context, args json.RawMessage) (string, error) {
			return string(args), nil
		})
		mux.HandleFunc("plugin:echo|fail", func(context.Context, json.RawMessage) (string, error) {
			return "", errors.New("exploded")
		})
		srv := httptest.NewServer(mux.HTTPHandler())
		defer srv.Close()

		post := func(path, body string) (int, string) {
			resp, err := http.Post(srv.URL+path, "application/json", strings.NewReader(body))
			So(err, ShouldBeNil)
			defer resp.Body.Close()
			var msg string
			So(json.NewDecoder(resp.Body).Decode(&msg), ShouldBeNil)
			return resp.StatusCode, msg
		}

		Convey("Then a registered command answers 200 with the ack", func() {
			status, msg := post("/plugin:echo%7Cping", `{"a":1}`)
			So(status, ShouldEqual, http.StatusOK)
			So(msg, ShouldEqual, `{"a":1}`)
		})

		Convey("Then an unknown command answers 404", func() {
			status, msg := post("/plugin:nope%7Cx", `{}`)
			So(status, ShouldEqual, http.StatusNotFound)
			So(msg, ShouldEqual, "unknown command plugin:nope|x")
		})

		Convey("Then invalid JSON answers 400", func() {
			status, _ := post("/plugin:echo%7Cping", `{`)
			So(status, ShouldEqual, http.StatusBadRequest)
		})

		Convey("Then a handler error answers 500 with its message", func() {
			status, msg := post("/plugin:echo%7Cfail", `{}`)
			So(status, ShouldEqual, http.StatusInternalServerError)
			So(msg, ShouldEqual, "exploded")
		})
	})
}
