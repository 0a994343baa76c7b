package tracking

import (
	"errors"
)

// Sentinel error kinds for this package. These allow errors.Is from callers.
var (
	// ErrInvocationFailure matches every *InvocationFailure.
	ErrInvocationFailure = errors.New("invocation failed")
	// ErrNoChannel is the cause reported when a Client has no channel to call.
	ErrNoChannel = errors.New("no invocation channel")
	// ErrUnsupportedValue is returned for property values that are neither
	// text nor a finite number.
	ErrUnsupportedValue = errors.New("unsupported property value")
)

// InvocationFailure is the only error TrackEvent returns. It carries the
// channel's error unchanged.
type InvocationFailure struct {
	Command string
	Err     error
}

func (e *InvocationFailure) Error() string {
	if e.Err == nil {
		return "invoke " + e.Command + ": " + ErrInvocationFailure.Error()
	}
	return "invoke " + e.Command + ": " + e.Err.Error()
}

func (e *InvocationFailure) Unwrap() error { return e.Err }

func (e *InvocationFailure) Is(target error) bool { return target == ErrInvocationFailure }
