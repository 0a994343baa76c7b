// Package metrics provides Prometheus metrics for trackbridge.
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	defaultRefreshInterval = 10 * time.Second
)

// Outcome label values for invocation metrics.
const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
)

// Manager owns every collector exported by trackbridge.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Client bridge
	invocations       *prometheus.CounterVec
	invocationLatency *prometheus.HistogramVec
	propertyCount     prometheus.Histogram
	panicsTracked     prometheus.Counter

	// Channel adapters
	channelRequests *prometheus.CounterVec

	// Dev host HTTP surface
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Replay queue and workers
	queueSize         prometheus.Gauge
	queueCapacity     prometheus.Gauge
	queueEnqueued     prometheus.Counter
	queueDequeued     prometheus.Counter
	queueEnqueueError prometheus.Counter
	workerCount       prometheus.Gauge
	workerLatency     prometheus.Histogram
	workerErrors      prometheus.Counter

	errorsByComponent *prometheus.CounterVec
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // keeps default Go collectors out

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager. Collectors are registered on the
// configured registry, prometheus.DefaultRegisterer unless overridden.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "trackbridge",
		subsystem:        "",
		histogramBuckets: prometheus.DefBuckets,
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
		customLabels:     make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) name(n string) string {
	if m.metricPrefix == "" {
		return n
	}
	return m.metricPrefix + "_" + n
}

func (m *Manager) initializeMetrics() { //nolint:funlen // flat list of collectors
	auto := promauto.With(m.registry)
	labels := prometheus.Labels(m.customLabels)

	m.invocations = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("invocations_total"),
		Help:        "Invocations issued to the host channel by command and outcome",
		ConstLabels: labels,
	}, []string{"command", "outcome"})

	m.invocationLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("invocation_latency_milliseconds"),
		Help:        "Time spent waiting for the host channel to answer",
		Buckets:     m.histogramBuckets,
		ConstLabels: labels,
	}, []string{"command"})

	m.propertyCount = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("event_properties"),
		Help:        "Number of properties attached to tracked events",
		Buckets:     []float64{0, 1, 2, 4, 8, 16, 32},
		ConstLabels: labels,
	})

	m.panicsTracked = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("panics_tracked_total"),
		Help:        "Panics recovered and reported as events",
		ConstLabels: labels,
	})

	m.channelRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("channel_requests_total"),
		Help:        "Requests sent by channel adapters by adapter and status",
		ConstLabels: labels,
	}, []string{"channel", "status"})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("http_requests_total"),
		Help:        "HTTP requests served by the dev host by endpoint, method and status",
		ConstLabels: labels,
	}, []string{"endpoint", "method", "status_code"})

	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("http_request_duration_milliseconds"),
		Help:        "HTTP request duration in milliseconds",
		Buckets:     m.histogramBuckets,
		ConstLabels: labels,
	}, []string{"endpoint", "method", "status_code"})

	m.queueSize = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("queue_size"),
		Help:        "Replay requests waiting in the queue",
		ConstLabels: labels,
	})

	m.queueCapacity = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("queue_capacity"),
		Help:        "Configured replay queue capacity",
		ConstLabels: labels,
	})

	m.queueEnqueued = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("queue_enqueued_total"),
		Help:        "Replay requests accepted by the queue",
		ConstLabels: labels,
	})

	m.queueDequeued = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("queue_dequeued_total"),
		Help:        "Replay requests handed to workers",
		ConstLabels: labels,
	})

	m.queueEnqueueError = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("queue_enqueue_errors_total"),
		Help:        "Replay requests rejected by the queue",
		ConstLabels: labels,
	})

	m.workerCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("worker_count"),
		Help:        "Replay workers running",
		ConstLabels: labels,
	})

	m.workerLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("worker_processing_latency_milliseconds"),
		Help:        "Time a worker spends on one replay request",
		Buckets:     m.histogramBuckets,
		ConstLabels: labels,
	})

	m.workerErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("worker_errors_total"),
		Help:        "Replay requests that failed",
		ConstLabels: labels,
	})

	m.errorsByComponent = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name("errors_total"),
		Help:        "Errors by component and type",
		ConstLabels: labels,
	}, []string{"component", "error_type"})
}

// RecordInvocation counts one invocation of command with the given outcome.
func RecordInvocation(command, outcome string) {
	if !globalManager.enabled {
		return
	}
	globalManager.invocations.WithLabelValues(command, outcome).Inc()
}

// RecordInvocationLatency observes how long the channel took to answer.
func RecordInvocationLatency(command string, latencyMs float64) {
	if !globalManager.enabled {
		return
	}
	globalManager.invocationLatency.WithLabelValues(command).Observe(latencyMs)
}

// RecordPropertyCount observes the number of properties on a tracked event.
func RecordPropertyCount(n int) {
	if !globalManager.enabled {
		return
	}
	globalManager.propertyCount.Observe(float64(n))
}

// RecordPanicTracked counts one recovered panic.
func RecordPanicTracked() {
	if !globalManager.enabled {
		return
	}
	globalManager.panicsTracked.Inc()
}

// RecordChannelRequest counts one adapter request.
func RecordChannelRequest(channel, status string) {
	if !globalManager.enabled {
		return
	}
	globalManager.channelRequests.WithLabelValues(channel, status).Inc()
}

// RecordHTTPRequest counts one request served by the dev host.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	if !globalManager.enabled {
		return
	}
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration observes a dev host request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	if !globalManager.enabled {
		return
	}
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// UpdateQueueSize sets the replay queue backlog.
func UpdateQueueSize(size int) {
	if !globalManager.enabled {
		return
	}
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the replay queue capacity.
func UpdateQueueCapacity(capacity int) {
	if !globalManager.enabled {
		return
	}
	globalManager.queueCapacity.Set(float64(capacity))
}

// RecordQueueEnqueue counts an accepted replay request.
func RecordQueueEnqueue() {
	if !globalManager.enabled {
		return
	}
	globalManager.queueEnqueued.Inc()
}

// RecordQueueDequeue counts a replay request handed to a worker.
func RecordQueueDequeue() {
	if !globalManager.enabled {
		return
	}
	globalManager.queueDequeued.Inc()
}

// RecordQueueEnqueueError counts a rejected replay request.
func RecordQueueEnqueueError() {
	if !globalManager.enabled {
		return
	}
	globalManager.queueEnqueueError.Inc()
}

// UpdateWorkerCount sets the number of running replay workers.
func UpdateWorkerCount(count int) {
	if !globalManager.enabled {
		return
	}
	globalManager.workerCount.Set(float64(count))
}

// RecordWorkerProcessingLatency observes one worker iteration.
func RecordWorkerProcessingLatency(latencyMs float64) {
	if !globalManager.enabled {
		return
	}
	globalManager.workerLatency.Observe(latencyMs)
}

// RecordWorkerError counts a failed replay request.
func RecordWorkerError() {
	if !globalManager.enabled {
		return
	}
	globalManager.workerErrors.Inc()
}

// RecordErrorByComponent counts an error attributed to component.
func RecordErrorByComponent(component, errorType string) {
	if !globalManager.enabled {
		return
	}
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// GetRegistry returns the registry holding the global collectors.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

// RegisterRuntimeCollectors adds the Go runtime and process collectors to the
// global registry. Calling it again is a no-op.
func RegisterRuntimeCollectors() error {
	for _, c := range []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := customRegistry.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return fmt.Errorf("register runtime collector: %w", err)
		}
	}
	return nil
}
