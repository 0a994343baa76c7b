package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/okian/trackbridge/pkg/metrics"
)

// HTTP status code constants.
const (
	statusBadRequest    = 400
	statusNotFound      = 404
	statusInternalError = 500
)

// MetricsMiddleware records request count and duration per endpoint, and an
// error sample for every 4xx/5xx answer.
func MetricsMiddleware(next http.HandlerFunc, endpoint string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		status := rec.Status()
		code := strconv.Itoa(status)
		metrics.RecordHTTPRequest(endpoint, r.Method, code)
		metrics.RecordHTTPRequestDuration(endpoint, r.Method, code, float64(time.Since(start).Milliseconds()))
		if status >= statusBadRequest {
			metrics.RecordErrorByComponent("http_"+endpoint, errorType(status))
		}
	}
}

func errorType(status int) string {
	switch {
	case status >= statusInternalError:
		return "server_error"
	case status == statusNotFound:
		return "not_found"
	case status >= statusBadRequest:
		return "client_error"
	default:
		return "unknown"
	}
}

// statusRecorder remembers the first status written. A handler that only
// calls Write answers 200.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) Status() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
