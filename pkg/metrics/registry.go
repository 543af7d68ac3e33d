package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry manages all Prometheus metrics for hookrelay.
type Registry struct {
	config     Config
	registry   *prometheus.Registry
	registerer prometheus.Registerer

	// HTTP metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec
	httpActiveRequests  *prometheus.GaugeVec

	// Database metrics
	dbQueriesTotal      *prometheus.CounterVec
	dbQueryDuration     *prometheus.HistogramVec
	dbConnectionsActive prometheus.Gauge
	dbConnectionsIdle   prometheus.Gauge
	dbConnectionsMax    prometheus.Gauge
	dbQueryErrors       *prometheus.CounterVec

	// Dispatch engine metrics
	dispatchesTotal   *prometheus.CounterVec
	dispatchDuration  *prometheus.HistogramVec
	dispatchBatchSize prometheus.Histogram
	eventStatusTotal  *prometheus.CounterVec
	engineErrorsTotal *prometheus.CounterVec
	retryQueueDepth   *prometheus.GaugeVec
	retryingWebhooks  prometheus.Gauge

	mu sync.RWMutex
}

// Global registry instance
var (
	globalRegistry *Registry
	once           sync.Once
)

// NewRegistry creates a new metrics registry with the given configuration.
func NewRegistry(config Config) *Registry {
	reg := prometheus.NewRegistry()

	// DefaultLabels are stamped on every metric at collection time.
	var registerer prometheus.Registerer = reg
	if len(config.DefaultLabels) > 0 {
		registerer = prometheus.WrapRegistererWith(prometheus.Labels(config.DefaultLabels), reg)
	}

	r := &Registry{
		config:     config,
		registry:   reg,
		registerer: registerer,
	}

	r.registerHTTPMetrics()
	r.registerDatabaseMetrics()
	r.registerDispatchMetrics()

	// Register process and runtime metrics if enabled
	if config.EnableProcessMetrics {
		registerer.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	if config.EnableRuntimeMetrics {
		registerer.MustRegister(collectors.NewGoCollector())
	}

	return r
}

// Global returns the global registry instance, initializing it with default config if needed.
func Global() *Registry {
	once.Do(func() {
		globalRegistry = NewRegistry(DefaultConfig())
	})
	return globalRegistry
}

// SetGlobal sets the global registry instance.
func SetGlobal(r *Registry) {
	globalRegistry = r
}

// PrometheusRegistry returns the underlying Prometheus registry.
func (r *Registry) PrometheusRegistry() *prometheus.Registry {
	return r.registry
}

// Config returns the registry configuration.
func (r *Registry) Config() Config {
	return r.config
}

func (r *Registry) registerHTTPMetrics() {
	ns := r.config.Namespace

	r.httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests processed",
		},
		[]string{"method", "path", "status_code"},
	)

	r.httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   r.config.HistogramBuckets.HTTPDuration,
		},
		[]string{"method", "path"},
	)

	r.httpRequestSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: "http",
			Name:      "request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   r.config.HistogramBuckets.HTTPSize,
		},
		[]string{"method", "path"},
	)

	r.httpResponseSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: "http",
			Name:      "response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   r.config.HistogramBuckets.HTTPSize,
		},
		[]string{"method", "path"},
	)

	r.httpActiveRequests = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: "http",
			Name:      "active_requests",
			Help:      "Number of currently active HTTP requests",
		},
		[]string{"method", "path"},
	)

	r.registerer.MustRegister(
		r.httpRequestsTotal,
		r.httpRequestDuration,
		r.httpRequestSize,
		r.httpResponseSize,
		r.httpActiveRequests,
	)
}

func (r *Registry) registerDatabaseMetrics() {
	ns := r.config.Namespace

	r.dbQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "db",
			Name:      "queries_total",
			Help:      "Total number of database queries executed",
		},
		[]string{"operation", "table", "status"},
	)

	r.dbQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: "db",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   r.config.HistogramBuckets.DBDuration,
		},
		[]string{"operation", "table"},
	)

	r.dbConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: "db",
			Name:      "connections_active",
			Help:      "Number of active database connections",
		},
	)

	r.dbConnectionsIdle = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: "db",
			Name:      "connections_idle",
			Help:      "Number of idle database connections",
		},
	)

	r.dbConnectionsMax = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: "db",
			Name:      "connections_max",
			Help:      "Maximum number of database connections",
		},
	)

	r.dbQueryErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "db",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		},
		[]string{"operation", "table", "error_type"},
	)

	r.registerer.MustRegister(
		r.dbQueriesTotal,
		r.dbQueryDuration,
		r.dbConnectionsActive,
		r.dbConnectionsIdle,
		r.dbConnectionsMax,
		r.dbQueryErrors,
	)
}

func (r *Registry) registerDispatchMetrics() {
	ns := r.config.Namespace

	r.dispatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "dispatch",
			Name:      "requests_total",
			Help:      "Total number of webhook dispatch attempts",
		},
		[]string{"mode", "outcome"},
	)

	r.dispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: "dispatch",
			Name:      "request_duration_seconds",
			Help:      "Webhook dispatch duration in seconds",
			Buckets:   r.config.HistogramBuckets.DispatchDuration,
		},
		[]string{"mode"},
	)

	r.dispatchBatchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: "dispatch",
			Name:      "batch_size",
			Help:      "Number of events per batched dispatch",
			Buckets:   r.config.HistogramBuckets.BatchSize,
		},
	)

	r.eventStatusTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "dispatch",
			Name:      "event_status_total",
			Help:      "Event status transitions written by the dispatcher",
		},
		[]string{"status"},
	)

	r.engineErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "dispatch",
			Name:      "errors_total",
			Help:      "Structural errors surfaced on the engine's error stream",
		},
		[]string{"kind"},
	)

	r.retryQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: "dispatch",
			Name:      "retry_queue_depth",
			Help:      "Events queued for retry per webhook",
		},
		[]string{"webhook_id"},
	)

	r.retryingWebhooks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: "dispatch",
			Name:      "retrying_webhooks",
			Help:      "Number of webhooks currently in retry",
		},
	)

	r.registerer.MustRegister(
		r.dispatchesTotal,
		r.dispatchDuration,
		r.dispatchBatchSize,
		r.eventStatusTotal,
		r.engineErrorsTotal,
		r.retryQueueDepth,
		r.retryingWebhooks,
	)
}
