// Package observability provides monitoring and debugging capabilities for
// the strand runtime through metrics, structured logging, distributed
// tracing, and a run event timeline.
//
// # Overview
//
// The observability package implements:
//
//  1. Metrics - Quantitative measurements using Prometheus
//  2. Logging - Structured logs with sensitive data redaction
//  3. Tracing - Distributed request tracing with OpenTelemetry
//  4. Events - An in-memory timeline of run activity for debugging
//  5. Usage - Token usage accounting per model and per thread
//
// # Metrics
//
// Metrics are implemented using Prometheus client libraries and track:
//   - Run lifecycle: outcomes, iteration counts, wall time, active runs
//   - Model API request latency, retries, and token usage
//   - Tool execution performance
//   - Context compaction activity and parser degradations
//   - Error rates by component and type
//   - HTTP and database query performance
//
// Example usage:
//
//	metrics := observability.NewMetrics()
//
//	metrics.RunStarted()
//	// ... run lifecycle ...
//	metrics.RunEnded("completed", time.Since(start).Seconds(), iterations)
//
//	start := time.Now()
//	// ... make model request ...
//	metrics.RecordModelRequest("anthropic", "claude-sonnet-4-5", "success",
//	    time.Since(start).Seconds(), promptTokens, completionTokens)
//
// # Logging
//
// Logging is built on Go's slog package with enhancements for:
//   - Automatic run_id/thread_id correlation from context
//   - Sensitive data redaction (API keys, passwords, tokens)
//   - JSON output for production, text for development
//   - Configurable log levels
//
// Example usage:
//
//	logger := observability.NewLogger(observability.LogConfig{
//	    Level:  "info",
//	    Format: "json",
//	})
//
//	ctx = observability.WithRunID(ctx, runID)
//	ctx = observability.WithThreadID(ctx, threadID)
//
//	// Structured logging with automatic context correlation
//	logger.Info(ctx, "model request complete",
//	    "provider", "anthropic",
//	    "duration_ms", elapsed.Milliseconds(),
//	)
//
//	// Error logging with automatic redaction
//	logger.Error(ctx, "model request failed",
//	    "error", err,
//	    "api_key", apiKey, // Automatically redacted
//	)
//
// # Tracing
//
// Distributed tracing uses OpenTelemetry. Each run produces a root span
// with child spans for model requests, tool executions, compaction passes,
// and store queries:
//
//	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
//	    ServiceName:    "strand",
//	    ServiceVersion: "1.0.0",
//	    Endpoint:       "localhost:4317", // OTLP collector
//	    SamplingRate:   0.1,              // Sample 10% of traces
//	})
//	defer shutdown(context.Background())
//
//	ctx, span := tracer.TraceRun(ctx, runID, threadID)
//	defer span.End()
//
//	ctx, modelSpan := tracer.TraceModelRequest(ctx, "anthropic", model)
//	defer modelSpan.End()
//	if err != nil {
//	    tracer.RecordError(modelSpan, err)
//	}
//
// If no OTLP endpoint is configured, tracing degrades to a no-op.
//
// # Events
//
// The event timeline records discrete run activity (state transitions,
// tool starts and ends, retries, compactions) into a bounded in-memory
// store. Timelines are queryable per run for debugging:
//
//	events := observability.NewMemoryEventStore(10000)
//	recorder := observability.NewEventRecorder(events, logger)
//
//	recorder.RecordRunStart(ctx, nil)
//	recorder.RecordTransition(ctx, "preparing", "calling")
//	recorder.RecordToolEnd(ctx, "list_files", elapsed, nil)
//
//	evts, _ := events.ByRun(runID)
//	fmt.Println(observability.FormatTimeline(observability.BuildTimeline(evts)))
//
// # Security Considerations
//
// The logging component automatically redacts:
//   - Provider API keys (Anthropic, OpenAI, generic)
//   - Passwords and secrets
//   - JWT and bearer tokens
//   - Custom patterns via configuration
//
// Sensitive keys in maps are also redacted: password, secret, token,
// api_key, authorization, jwt_secret.
//
// # Dashboard Queries
//
// The exposed metrics support standard dashboards:
//
//	# Run throughput
//	rate(strand_runs_total[5m])
//
//	# Model request latency (95th percentile)
//	histogram_quantile(0.95, rate(strand_model_request_duration_seconds_bucket[5m]))
//
//	# Retry pressure
//	rate(strand_model_retries_total[5m])
//
//	# Active runs
//	strand_active_runs
package observability
