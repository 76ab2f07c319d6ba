package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/platinummonkey/rolegate"

// OTelMetrics mirrors Metrics as OpenTelemetry instruments, exported over OTLP
// when InitOTel installed a meter provider
type OTelMetrics struct {
	decisions     metric.Int64Counter
	checkDuration metric.Float64Histogram
	storageErrors metric.Int64Counter
	auditErrors   metric.Int64Counter
	cacheHits     metric.Int64Counter
	cacheMisses   metric.Int64Counter
	swept         metric.Int64Counter
}

// NewOTelMetrics creates the instruments on provider, or on the global meter
// provider when provider is nil
func NewOTelMetrics(provider metric.MeterProvider) (*OTelMetrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(instrumentationName)

	m := &OTelMetrics{}
	var err error

	m.decisions, err = meter.Int64Counter(
		"rolegate.access.decisions",
		metric.WithDescription("Access decisions by result"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create decisions counter: %w", err)
	}

	m.checkDuration, err = meter.Float64Histogram(
		"rolegate.access.check.duration",
		metric.WithDescription("Access check duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create check duration histogram: %w", err)
	}

	m.storageErrors, err = meter.Int64Counter(
		"rolegate.storage.errors",
		metric.WithDescription("Storage failures by operation"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage errors counter: %w", err)
	}

	m.auditErrors, err = meter.Int64Counter(
		"rolegate.audit.write_errors",
		metric.WithDescription("Access log entries that could not be written"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit errors counter: %w", err)
	}

	m.cacheHits, err = meter.Int64Counter(
		"rolegate.cache.hits",
		metric.WithDescription("Permission cache hits"),
		metric.WithUnit("{hit}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache hits counter: %w", err)
	}

	m.cacheMisses, err = meter.Int64Counter(
		"rolegate.cache.misses",
		metric.WithDescription("Permission cache misses"),
		metric.WithUnit("{miss}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache misses counter: %w", err)
	}

	m.swept, err = meter.Int64Counter(
		"rolegate.assignments.swept",
		metric.WithDescription("Role assignments moved to expired by the sweeper"),
		metric.WithUnit("{assignment}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create swept counter: %w", err)
	}

	return m, nil
}

func (m *OTelMetrics) RecordDecision(result string) {
	m.decisions.Add(context.Background(), 1, metric.WithAttributes(attribute.String("result", result)))
}

func (m *OTelMetrics) ObserveCheckDuration(d time.Duration) {
	m.checkDuration.Record(context.Background(), d.Seconds())
}

func (m *OTelMetrics) RecordCacheHit(backend string) {
	m.cacheHits.Add(context.Background(), 1, metric.WithAttributes(attribute.String("backend", backend)))
}

func (m *OTelMetrics) RecordCacheMiss(backend string) {
	m.cacheMisses.Add(context.Background(), 1, metric.WithAttributes(attribute.String("backend", backend)))
}

func (m *OTelMetrics) AddSwept(n int64) {
	if n > 0 {
		m.swept.Add(context.Background(), n)
	}
}

func (m *OTelMetrics) RecordAuditWriteError() {
	m.auditErrors.Add(context.Background(), 1)
}

func (m *OTelMetrics) RecordStorageError(operation string) {
	m.storageErrors.Add(context.Background(), 1, metric.WithAttributes(attribute.String("operation", operation)))
}
