package tracking

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"github.com/okian/trackbridge/pkg/logger"
	"github.com/okian/trackbridge/pkg/metrics"
)

const (
	defaultPanicEventName = "panic"
	maxPanicFrames        = 32
)

// PanicHook reports a recovered panic. message is the panic value rendered as
// text and location is file:line of the panicking call, empty if unknown.
type PanicHook func(ctx context.Context, c *Client, recovered any, message, location string)

// DefaultPanicHook tracks one event named after the client's panic event name
// with an "info" property of the form "message (file:line)".
func DefaultPanicHook(ctx context.Context, c *Client, _ any, message, location string) {
	props := Properties{"info": String(fmt.Sprintf("%s (%s)", message, location))}
	if err := c.TrackEvent(ctx, c.panicEventName, props); err != nil {
		c.logger.Warn(ctx, "failed to track panic", logger.Error(err))
	}
}

// TrackPanic must be deferred directly:
//
//	defer client.TrackPanic(ctx)
//
// When the goroutine is panicking it runs the panic hook and then panics
// again with the same value. Otherwise it does nothing.
func (c *Client) TrackPanic(ctx context.Context) {
	r := recover()
	if r == nil {
		return
	}
	metrics.RecordPanicTracked()
	c.panicHook(ctx, c, r, panicMessage(r), panicLocation())
	panic(r)
}

func panicMessage(r any) string {
	switch x := r.(type) {
	case string:
		return x
	case error:
		return x.Error()
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprintf("%v", r)
	}
}

// panicLocation walks the stack of the deferred call and returns the first
// frame outside the runtime after runtime.gopanic.
func panicLocation() string {
	pcs := make([]uintptr, maxPanicFrames)
	n := runtime.Callers(2, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	seenPanic := false
	for {
		frame, more := frames.Next()
		switch {
		case frame.Function == "runtime.gopanic":
			seenPanic = true
		case seenPanic && !strings.HasPrefix(frame.Function, "runtime."):
			return fmt.Sprintf("%s:%d", frame.File, frame.Line)
		}
		if !more {
			return ""
		}
	}
}
