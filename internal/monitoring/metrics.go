package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Policy gate metrics
	GateDecisionsTotal    *prometheus.CounterVec
	GateDenialsTotal      *prometheus.CounterVec
	GateEvalDuration      prometheus.Histogram
	GateRemainingQuota    *prometheus.GaugeVec
	GateConfigErrorsTotal prometheus.Counter

	// PDF processing metrics
	PDFOperationLatency *prometheus.HistogramVec
	PDFOperationsTotal  *prometheus.CounterVec
	PDFOperationErrors  *prometheus.CounterVec
	PDFBatchItemsTotal  *prometheus.CounterVec
	PDFFileSizeBytes    *prometheus.HistogramVec

	// Storage metrics
	StorageUploadsTotal  *prometheus.CounterVec
	StorageUploadBytes   prometheus.Counter
	StorageSweepDeleted  prometheus.Counter

	// Audit metrics
	AuditEventsTotal  *prometheus.CounterVec
	AuditDroppedTotal prometheus.Counter
	AuditBufferDepth  prometheus.Gauge

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
	DBQueryDuration     *prometheus.HistogramVec

	// Business metrics
	UsersRegistered  prometheus.Counter
	APIKeysCreated   prometheus.Counter
	SubscriptionsTotal *prometheus.CounterVec
	WebhookEventsTotal *prometheus.CounterVec

	// Circuit breaker metrics
	CircuitBreakerState *prometheus.GaugeVec
}

var metrics *Metrics

// Init initializes all Prometheus metrics
func Init() *Metrics {
	if metrics != nil {
		return metrics
	}

	metrics = &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed",
			},
		),

		// Policy gate metrics
		GateDecisionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gate_decisions_total",
				Help: "Total number of policy gate evaluations",
			},
			[]string{"action", "outcome"},
		),
		GateDenialsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gate_denials_total",
				Help: "Total number of policy gate denials by reason",
			},
			[]string{"action", "reason"},
		),
		GateEvalDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gate_eval_duration_seconds",
				Help:    "Policy gate evaluation duration in seconds",
				Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1},
			},
		),
		GateRemainingQuota: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gate_remaining_quota",
				Help: "Remaining operations in the current period per subject class",
			},
			[]string{"subject_class"},
		),
		GateConfigErrorsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "gate_config_errors_total",
				Help: "Total number of invalid policy configurations rejected",
			},
		),

		// PDF processing metrics
		PDFOperationLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pdf_operation_latency_seconds",
				Help:    "PDF processing operation latency in seconds",
				Buckets: []float64{.5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"operation"},
		),
		PDFOperationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pdf_operations_total",
				Help: "Total number of PDF processing operations",
			},
			[]string{"operation", "status"},
		),
		PDFOperationErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pdf_operation_errors_total",
				Help: "Total number of PDF processing failures",
			},
			[]string{"operation", "error_type"},
		),
		PDFBatchItemsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pdf_batch_items_total",
				Help: "Total number of batch items processed",
			},
			[]string{"operation", "status"},
		),
		PDFFileSizeBytes: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pdf_file_size_bytes",
				Help:    "Size of uploaded PDF files in bytes",
				Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
			},
			[]string{"operation"},
		),

		// Storage metrics
		StorageUploadsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storage_uploads_total",
				Help: "Total number of blob store uploads",
			},
			[]string{"status"},
		),
		StorageUploadBytes: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "storage_upload_bytes_total",
				Help: "Total bytes uploaded to the blob store",
			},
		),
		StorageSweepDeleted: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "storage_sweep_deleted_total",
				Help: "Total number of expired files removed by the sweeper",
			},
		),

		// Audit metrics
		AuditEventsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "audit_events_total",
				Help: "Total number of audit events recorded",
			},
			[]string{"outcome"},
		),
		AuditDroppedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "audit_events_dropped_total",
				Help: "Total number of audit events dropped due to a full buffer",
			},
		),
		AuditBufferDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "audit_buffer_depth",
				Help: "Number of audit events waiting to be written",
			},
		),

		// Database metrics
		DBConnectionsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
		DBQueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Database query duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"query_type"},
		),

		// Business metrics
		UsersRegistered: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "users_registered_total",
				Help: "Total number of registered users",
			},
		),
		APIKeysCreated: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "api_keys_created_total",
				Help: "Total number of API keys created",
			},
		),
		SubscriptionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subscriptions_total",
				Help: "Total number of subscription lifecycle events",
			},
			[]string{"plan", "event"},
		),
		WebhookEventsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhook_events_total",
				Help: "Total number of billing webhook events processed",
			},
			[]string{"type", "status"},
		),

		// Circuit breaker metrics
		CircuitBreakerState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 0.5=half-open)",
			},
			[]string{"endpoint"},
		),
	}

	return metrics
}

// Get returns the global metrics instance
func Get() *Metrics {
	if metrics == nil {
		return Init()
	}
	return metrics
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// GinHandler returns a Gin-compatible handler for Prometheus metrics
func GinHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// MetricsMiddleware is a Gin middleware for collecting HTTP metrics
func MetricsMiddleware() gin.HandlerFunc {
	m := Get()
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		method := c.Request.Method

		m.HTTPRequestsInFlight.Inc()
		defer m.HTTPRequestsInFlight.Dec()

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		duration := time.Since(start).Seconds()

		m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
		m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// RecordGateDecision records a policy gate evaluation outcome
func RecordGateDecision(action string, allowed bool, reason string, duration time.Duration) {
	m := Get()
	outcome := "allow"
	if !allowed {
		outcome = "deny"
		m.GateDenialsTotal.WithLabelValues(action, reason).Inc()
	}
	m.GateDecisionsTotal.WithLabelValues(action, outcome).Inc()
	m.GateEvalDuration.Observe(duration.Seconds())
}

// RecordGateConfigError records a rejected policy configuration
func RecordGateConfigError() {
	Get().GateConfigErrorsTotal.Inc()
}

// RecordPDFOperation records a PDF processing operation result
func RecordPDFOperation(operation, status string, duration time.Duration) {
	m := Get()
	m.PDFOperationsTotal.WithLabelValues(operation, status).Inc()
	m.PDFOperationLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordPDFOperationError records a PDF processing failure
func RecordPDFOperationError(operation, errorType string) {
	Get().PDFOperationErrors.WithLabelValues(operation, errorType).Inc()
}

// RecordBatchItem records one item of a batch operation
func RecordBatchItem(operation, status string) {
	Get().PDFBatchItemsTotal.WithLabelValues(operation, status).Inc()
}

// RecordFileSize records the size of an uploaded file
func RecordFileSize(operation string, size int64) {
	Get().PDFFileSizeBytes.WithLabelValues(operation).Observe(float64(size))
}

// RecordStorageUpload records a blob store upload
func RecordStorageUpload(status string, size int64) {
	m := Get()
	m.StorageUploadsTotal.WithLabelValues(status).Inc()
	if size > 0 {
		m.StorageUploadBytes.Add(float64(size))
	}
}

// RecordSweepDeleted records expired files removed by the sweeper
func RecordSweepDeleted(count int) {
	Get().StorageSweepDeleted.Add(float64(count))
}

// RecordAuditEvent records an audit event write
func RecordAuditEvent(allowed bool) {
	outcome := "allow"
	if !allowed {
		outcome = "deny"
	}
	Get().AuditEventsTotal.WithLabelValues(outcome).Inc()
}

// RecordAuditDropped records an audit event lost to backpressure
func RecordAuditDropped() {
	Get().AuditDroppedTotal.Inc()
}

// SetAuditBufferDepth sets the current audit buffer depth
func SetAuditBufferDepth(depth int) {
	Get().AuditBufferDepth.Set(float64(depth))
}

// RecordDBQuery records a database query duration
func RecordDBQuery(queryType string, duration time.Duration) {
	Get().DBQueryDuration.WithLabelValues(queryType).Observe(duration.Seconds())
}

// SetDBConnections sets database connection metrics
func SetDBConnections(active, idle int) {
	Get().DBConnectionsActive.Set(float64(active))
	Get().DBConnectionsIdle.Set(float64(idle))
}

// RecordUserRegistered records a user registration
func RecordUserRegistered() {
	Get().UsersRegistered.Inc()
}

// RecordAPIKeyCreated records an API key creation
func RecordAPIKeyCreated() {
	Get().APIKeysCreated.Inc()
}

// RecordSubscriptionEvent records a subscription lifecycle event
func RecordSubscriptionEvent(plan, event string) {
	Get().SubscriptionsTotal.WithLabelValues(plan, event).Inc()
}

// RecordWebhookEvent records a processed billing webhook
func RecordWebhookEvent(eventType, status string) {
	Get().WebhookEventsTotal.WithLabelValues(eventType, status).Inc()
}

// SetCircuitBreakerState sets the circuit breaker state for an endpoint
func SetCircuitBreakerState(endpoint string, state float64) {
	Get().CircuitBreakerState.WithLabelValues(endpoint).Set(state)
}
