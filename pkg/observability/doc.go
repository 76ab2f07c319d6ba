// Package observability provides logging, metrics, tracing and health checks
// for rolegate.
//
// # Logging
//
// Logger wraps slog with a JSON handler:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("user_id", 42).Info("access granted")
//
// # Metrics
//
// Metrics registers the rolegate_* Prometheus collectors; OTelMetrics records
// the same measurements as OpenTelemetry instruments. Both implement Recorder
// and can be combined with Tee:
//
//	rec := observability.Tee(promMetrics, otelMetrics)
//
// # Tracing
//
// InitOTel installs OTLP gRPC tracer and meter providers. Spans are started
// from Tracer().
//
// # Health
//
// HealthChecker serves /healthz, /healthz/live and /healthz/ready. The store
// is required; Redis only degrades the status when down.
package observability
