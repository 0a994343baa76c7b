// Package ipc is an invocation channel that reaches the host over HTTP.
//
// Every Invoke is one POST of the JSON-encoded args to
// <base URL>/<path-escaped command>. A 2xx answer carries the
// acknowledgment; anything else is a HostError with the host's message.
package ipc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/okian/trackbridge/pkg/logger"
	"github.com/okian/trackbridge/pkg/metrics"
)

const (
	channelName     = "ipc"
	maxResponseSize = 1 << 20

	// InvokeIDHeader carries a fresh id per invocation.
	InvokeIDHeader = "Invoke-Id"
)

// Sentinel error kinds for this package.
var (
	ErrInvalidURL = errors.New("invalid host url")
	ErrTransport  = errors.New("host transport failed")
	ErrEncode     = errors.New("encode invocation args")
)

// HostError is a non-2xx answer from the host.
type HostError struct {
	Command string
	Status  int
	Message string
}

func (e *HostError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("host answered %d for %s", e.Status, e.Command)
	}
	return e.Message
}

// Channel posts invocations to a host endpoint.
type Channel struct {
	base    string
	client  *http.Client
	timeout time.Duration
	headers http.Header
	logger  logger.Logger
}

// Option applies a configuration option to the Channel.
type Option func(*Channel)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(ch *Channel) {
		if c != nil {
			ch.client = c
		}
	}
}

// WithTimeout bounds each invocation. Zero leaves the caller's context in charge.
func WithTimeout(d time.Duration) Option {
	return func(ch *Channel) {
		if d >= 0 {
			ch.timeout = d
		}
	}
}

// WithHeader adds a header to every request.
func WithHeader(key, value string) Option {
	return func(ch *Channel) {
		ch.headers.Add(key, value)
	}
}

// WithLogger sets the logger used for request records.
func WithLogger(l logger.Logger) Option {
	return func(ch *Channel) {
		if l != nil {
			ch.logger = l
		}
	}
}

// New returns a Channel for the host at baseURL.
func New(baseURL string, opts ...Option) (*Channel, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme must be http or https, got %q", ErrInvalidURL, u.Scheme)
	}

	ch := &Channel{
		base:    strings.TrimRight(baseURL, "/"),
		client:  http.DefaultClient,
		headers: make(http.Header),
		logger:  logger.Nop(),
	}
	for _, opt := range opts {
		opt(ch)
	}
	return ch, nil
}

// Endpoint returns the URL an invocation of command is posted to.
func (c *Channel) Endpoint(command string) string {
	return c.base + "/" + url.PathEscape(command)
}

// Invoke posts args to the host and returns its acknowledgment.
func (c *Channel) Invoke(ctx context.Context, command string, args any) (string, error) {
	body, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrEncode, err)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint(command), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTransport, err)
	}
	for k, vs := range c.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	invokeID := uuid.NewString()
	req.Header.Set(InvokeIDHeader, invokeID)

	resp, err := c.client.Do(req)
	if err != nil {
		metrics.RecordChannelRequest(channelName, "transport_error")
		return "", fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		metrics.RecordChannelRequest(channelName, "transport_error")
		return "", fmt.Errorf("%w: read answer: %w", ErrTransport, err)
	}
	metrics.RecordChannelRequest(channelName, strconv.Itoa(resp.StatusCode))

	msg := decodeMessage(payload)
	c.logger.Debug(ctx, "host answered",
		logger.String("command", command),
		logger.String("invoke_id", invokeID),
		logger.Int("status", resp.StatusCode),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &HostError{Command: command, Status: resp.StatusCode, Message: msg}
	}
	return msg, nil
}

// decodeMessage returns a JSON string body decoded, {"message": "..."} or
// {"error": "..."} unwrapped, and any other body trimmed as-is.
func decodeMessage(payload []byte) string {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return ""
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return s
		}
	case '{':
		var obj struct {
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		if err := json.Unmarshal(trimmed, &obj); err == nil {
			if obj.Message != "" {
				return obj.Message
			}
			if obj.Error != "" {
				return obj.Error
			}
		}
	}
	return string(trimmed)
}
