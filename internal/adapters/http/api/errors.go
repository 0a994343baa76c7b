package api

import "errors"

// Sentinel kinds for API errors.
var (
	ErrForward = errors.New("forward event")
)
