package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting runtime metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - Run lifecycle: starts, outcomes, iteration counts, wall time
//   - Model request performance, retries, and token consumption
//   - Tool execution patterns and latencies
//   - Context compaction activity
//   - Error rates categorized by component
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.RunStarted()
//	defer metrics.RunEnded("completed", time.Since(start).Seconds(), iterations)
type Metrics struct {
	// RunCounter counts runs by terminal status.
	// Labels: status (completed|cancelled|failed|max_iterations|awaiting_input)
	RunCounter *prometheus.CounterVec

	// RunDuration measures run wall time in seconds.
	// Buckets: 0.5s, 1s, 5s, 15s, 30s, 60s, 120s, 300s
	RunDuration prometheus.Histogram

	// RunIterations measures model-call iterations per run.
	// Buckets: 1, 2, 3, 5, 8, 13, 21, 34
	RunIterations prometheus.Histogram

	// ActiveRuns is a gauge tracking currently executing runs.
	ActiveRuns prometheus.Gauge

	// ModelRequestCounter counts model requests by provider, model, and status.
	// Labels: provider (anthropic|openai|ollama), model, status (success|error)
	ModelRequestCounter *prometheus.CounterVec

	// ModelRequestDuration measures model API call latency in seconds.
	// Labels: provider, model
	// Buckets: 0.1s, 0.5s, 1s, 2s, 5s, 10s, 30s, 60s
	ModelRequestDuration *prometheus.HistogramVec

	// ModelTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	ModelTokensUsed *prometheus.CounterVec

	// ModelRetryCounter counts retry attempts by provider and failure reason.
	// Labels: provider, reason (timeout|rate_limit|connection_reset|server_error)
	ModelRetryCounter *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	// Buckets: 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s, 10s, 30s, 60s
	ToolExecutionDuration *prometheus.HistogramVec

	// CompactionCounter counts compaction outcomes.
	// Labels: status (compacted|skipped|error)
	CompactionCounter *prometheus.CounterVec

	// ParseDegradations counts streams where a malformed or unterminated
	// tool tag was downgraded to literal text.
	ParseDegradations prometheus.Counter

	// ErrorCounter tracks errors by type and component.
	// Labels: component (runtime|parser|store|gateway), error_type
	ErrorCounter *prometheus.CounterVec

	// HTTPRequestDuration measures HTTP API request latency.
	// Labels: method, path, status_code
	// Buckets: 0.001s, 0.005s, 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s
	HTTPRequestDuration *prometheus.HistogramVec

	// HTTPRequestCounter counts HTTP requests.
	// Labels: method, path, status_code
	HTTPRequestCounter *prometheus.CounterVec

	// DatabaseQueryDuration measures database query latency.
	// Labels: operation (select|insert), table
	// Buckets: 0.001s, 0.005s, 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s
	DatabaseQueryDuration *prometheus.HistogramVec

	// DatabaseQueryCounter counts database queries.
	// Labels: operation, table, status (success|error)
	DatabaseQueryCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
// This should be called once at application startup.
//
// All metrics are automatically registered with Prometheus's default registry
// and will be available at the /metrics endpoint when using prometheus HTTP handler.
func NewMetrics() *Metrics {
	return &Metrics{
		RunCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "strand_runs_total",
				Help: "Total number of runs by terminal status",
			},
			[]string{"status"},
		),

		RunDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "strand_run_duration_seconds",
				Help:    "Wall time of runs in seconds",
				Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300},
			},
		),

		RunIterations: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "strand_run_iterations",
				Help:    "Number of model-call iterations per run",
				Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 34},
			},
		),

		ActiveRuns: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "strand_active_runs",
				Help: "Current number of executing runs",
			},
		),

		ModelRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "strand_model_requests_total",
				Help: "Total number of model requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		ModelRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "strand_model_request_duration_seconds",
				Help:    "Duration of model API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		ModelTokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "strand_model_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		ModelRetryCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "strand_model_retries_total",
				Help: "Total number of model request retries by provider and reason",
			},
			[]string{"provider", "reason"},
		),

		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "strand_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "strand_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		CompactionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "strand_compactions_total",
				Help: "Total number of compaction passes by outcome",
			},
			[]string{"status"},
		),

		ParseDegradations: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "strand_parse_degradations_total",
				Help: "Total number of streams with tool markup downgraded to text",
			},
		),

		ErrorCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "strand_errors_total",
				Help: "Total number of errors by component and error type",
			},
			[]string{"component", "error_type"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "strand_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status_code"},
		),

		HTTPRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "strand_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),

		DatabaseQueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "strand_database_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"operation", "table"},
		),

		DatabaseQueryCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "strand_database_queries_total",
				Help: "Total number of database queries",
			},
			[]string{"operation", "table", "status"},
		),
	}
}

// RunStarted increments the active runs gauge.
func (m *Metrics) RunStarted() {
	m.ActiveRuns.Inc()
}

// RunEnded decrements the active runs gauge and records the run outcome.
//
// Example:
//
//	start := time.Now()
//	// ... run lifecycle ...
//	metrics.RunEnded("completed", time.Since(start).Seconds(), 3)
func (m *Metrics) RunEnded(status string, durationSeconds float64, iterations int) {
	m.ActiveRuns.Dec()
	m.RunCounter.WithLabelValues(status).Inc()
	m.RunDuration.Observe(durationSeconds)
	m.RunIterations.Observe(float64(iterations))
}

// RecordModelRequest records metrics for a model API request.
//
// Example:
//
//	start := time.Now()
//	// ... make model request ...
//	metrics.RecordModelRequest("anthropic", "claude-sonnet-4-5", "success", time.Since(start).Seconds(), 100, 500)
func (m *Metrics) RecordModelRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	m.ModelRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.ModelRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.ModelTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.ModelTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordModelRetry increments the retry counter for a transient failure.
//
// Example:
//
//	metrics.RecordModelRetry("anthropic", "rate_limit")
func (m *Metrics) RecordModelRetry(provider, reason string) {
	m.ModelRetryCounter.WithLabelValues(provider, reason).Inc()
}

// RecordToolExecution records metrics for a tool execution.
//
// Example:
//
//	start := time.Now()
//	// ... execute tool ...
//	metrics.RecordToolExecution("list_files", "success", time.Since(start).Seconds())
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordCompaction increments the compaction counter for a given outcome.
//
// Example:
//
//	metrics.RecordCompaction("compacted")
//	metrics.RecordCompaction("skipped")
func (m *Metrics) RecordCompaction(status string) {
	m.CompactionCounter.WithLabelValues(status).Inc()
}

// RecordParseDegradation counts a stream whose tool markup could not be
// parsed and was emitted as literal text instead.
func (m *Metrics) RecordParseDegradation() {
	m.ParseDegradations.Inc()
}

// RecordError increments the error counter for a given component and error type.
//
// Example:
//
//	metrics.RecordError("runtime", "retry_exhausted")
//	metrics.RecordError("store", "append_failed")
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}

// RecordHTTPRequest records metrics for an HTTP request.
//
// Example:
//
//	start := time.Now()
//	// ... handle HTTP request ...
//	metrics.RecordHTTPRequest("GET", "/api/threads", "200", time.Since(start).Seconds())
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, durationSeconds float64) {
	m.HTTPRequestCounter.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationSeconds)
}

// RecordDatabaseQuery records metrics for a database query.
//
// Example:
//
//	start := time.Now()
//	// ... execute database query ...
//	metrics.RecordDatabaseQuery("select", "messages", "success", time.Since(start).Seconds())
func (m *Metrics) RecordDatabaseQuery(operation, table, status string, durationSeconds float64) {
	m.DatabaseQueryCounter.WithLabelValues(operation, table, status).Inc()
	m.DatabaseQueryDuration.WithLabelValues(operation, table).Observe(durationSeconds)
}
