// Package router is an in-process invocation channel: a table of command
// handlers, the way a host dispatches invoke calls to its plugins.
package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/okian/trackbridge/pkg/logger"
	"github.com/okian/trackbridge/pkg/metrics"
	"github.com/okian/trackbridge/pkg/tracking"
)

const (
	channelName     = "router"
	maxRequestBytes = 1 << 20
	defaultAck      = "ok"
)

// Sentinel error kinds for this package.
var (
	ErrUnknownCommand   = errors.New("unknown command")
	ErrMalformedPayload = errors.New("malformed payload")
)

// Handler serves one command. args is the JSON-encoded invocation body.
type Handler interface {
	Serve(ctx context.Context, args json.RawMessage) (string, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, args json.RawMessage) (string, error)

func (f HandlerFunc) Serve(ctx context.Context, args json.RawMessage) (string, error) {
	return f(ctx, args)
}

// Mux dispatches invocations by command. It implements
// tracking.InvocationChannel.
type Mux struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	logger   logger.Logger
}

// Option applies a configuration option to the Mux.
type Option func(*Mux)

// WithLogger sets the logger used for dispatch records.
func WithLogger(l logger.Logger) Option {
	return func(m *Mux) {
		if l != nil {
			m.logger = l
		}
	}
}

// New returns an empty Mux.
func New(opts ...Option) *Mux {
	m := &Mux{
		handlers: make(map[string]Handler),
		logger:   logger.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Handle registers h for command, replacing any previous handler.
func (m *Mux) Handle(command string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[command] = h
}

// HandleFunc registers fn for command.
func (m *Mux) HandleFunc(command string, fn func(ctx context.Context, args json.RawMessage) (string, error)) {
	m.Handle(command, HandlerFunc(fn))
}

// Invoke encodes args and dispatches them to the handler for command.
func (m *Mux) Invoke(ctx context.Context, command string, args any) (string, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		metrics.RecordChannelRequest(channelName, "malformed")
		return "", fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	return m.dispatch(ctx, command, raw)
}

func (m *Mux) dispatch(ctx context.Context, command string, raw json.RawMessage) (string, error) {
	m.mu.RLock()
	h, ok := m.handlers[command]
	m.mu.RUnlock()
	if !ok {
		metrics.RecordChannelRequest(channelName, "unknown")
		return "", fmt.Errorf("%w %s", ErrUnknownCommand, command)
	}

	ack, err := h.Serve(ctx, raw)
	if err != nil {
		metrics.RecordChannelRequest(channelName, "error")
		m.logger.Debug(ctx, "handler failed", logger.String("command", command), logger.Error(err))
		return "", err
	}
	metrics.RecordChannelRequest(channelName, "ok")
	return ack, nil
}

// HTTPHandler exposes the mux as POST /{command}. Success answers 200 with the
// JSON-encoded ack; failures answer with a JSON-encoded error string.
func (m *Mux) HTTPHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /{command}", func(w http.ResponseWriter, r *http.Request) {
		command := r.PathValue("command")
		body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, err.Error())
			return
		}
		if len(body) == 0 {
			body = []byte("null")
		}
		if !json.Valid(body) {
			writeJSON(w, http.StatusBadRequest, fmt.Sprintf("%s: invalid JSON", ErrMalformedPayload))
			return
		}

		ack, err := m.dispatch(r.Context(), command, body)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, ack)
		case errors.Is(err, ErrUnknownCommand):
			writeJSON(w, http.StatusNotFound, err.Error())
		case errors.Is(err, ErrMalformedPayload):
			writeJSON(w, http.StatusBadRequest, err.Error())
		default:
			writeJSON(w, http.StatusInternalServerError, err.Error())
		}
	})
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Sink receives decoded track_event bodies.
type Sink func(ctx context.Context, args tracking.TrackEventArgs) error

// TrackEventHandler decodes the track_event body and hands it to sink.
// Bodies that are not a JSON object with text or numeric props are rejected
// with ErrMalformedPayload.
func TrackEventHandler(sink Sink) Handler {
	return HandlerFunc(func(ctx context.Context, raw json.RawMessage) (string, error) {
		args, err := DecodeTrackEventArgs(raw)
		if err != nil {
			return "", err
		}
		if err := sink(ctx, args); err != nil {
			return "", err
		}
		return defaultAck, nil
	})
}

// DecodeTrackEventArgs parses a track_event body.
func DecodeTrackEventArgs(raw json.RawMessage) (tracking.TrackEventArgs, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return tracking.TrackEventArgs{}, fmt.Errorf("%w: body must be an object", ErrMalformedPayload)
	}
	var args tracking.TrackEventArgs
	if err := json.Unmarshal(trimmed, &args); err != nil {
		return tracking.TrackEventArgs{}, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	return args, nil
}
