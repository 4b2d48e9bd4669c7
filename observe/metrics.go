package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names emitted by the layer.
const (
	MetricOpTotal          = "resaccess.op.total"
	MetricOpErrors         = "resaccess.op.errors"
	MetricOpDuration       = "resaccess.op.duration_ms"
	MetricRetryAttempts    = "resaccess.retry.attempts"
	MetricCacheLookups     = "resaccess.cache.lookups"
	MetricCacheExpirations = "resaccess.cache.expirations"
	MetricEventsAppended   = "resaccess.events.appended"
	MetricDurableFailures  = "resaccess.events.durable_failures"
	MetricDeliveryDropped  = "resaccess.router.dropped"
	MetricHandlerFailures  = "resaccess.router.handler_failures"
)

// Metrics records resource-access measurements.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordOperation records one wrapped operation with its duration.
	RecordOperation(ctx context.Context, meta OpMeta, duration time.Duration, err error)

	// RecordRetryAttempt records one attempt and the outcome it was classified as.
	// outcome is "success" for attempts that did not fail.
	RecordRetryAttempt(ctx context.Context, operation, outcome string)

	// RecordCacheLookup records a cache hit or miss for a resource type.
	RecordCacheLookup(ctx context.Context, resourceType string, hit bool)

	// RecordCacheExpiration records n entries purged because their TTL elapsed.
	RecordCacheExpiration(ctx context.Context, resourceType string, n int)

	// RecordEventAppend records an appended event and whether it reached the durable log.
	RecordEventAppend(ctx context.Context, eventType string, durable bool)

	// RecordDeliveryDropped records an event that was not offered to subscribers.
	RecordDeliveryDropped(ctx context.Context)

	// RecordHandlerFailure records a subscriber handler that errored or panicked.
	RecordHandlerFailure(ctx context.Context, subscription string)
}

type metricsImpl struct {
	opTotal         metric.Int64Counter
	opErrors        metric.Int64Counter
	opDuration      metric.Float64Histogram
	retryAttempts   metric.Int64Counter
	cacheLookups    metric.Int64Counter
	cacheExpired    metric.Int64Counter
	eventsAppended  metric.Int64Counter
	durableFailures metric.Int64Counter
	dropped         metric.Int64Counter
	handlerFailures metric.Int64Counter
}

// NewMetrics creates the layer's instruments on meter. A nil meter yields a no-op.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	if meter == nil {
		return NopMetrics(), nil
	}

	m := &metricsImpl{}
	var err error

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
		unit string
	}{
		{&m.opTotal, MetricOpTotal, "Total number of resource-access operations", "{call}"},
		{&m.opErrors, MetricOpErrors, "Total number of failed resource-access operations", "{error}"},
		{&m.retryAttempts, MetricRetryAttempts, "Attempts made by the retry executor by outcome", "{attempt}"},
		{&m.cacheLookups, MetricCacheLookups, "Resource cache lookups by result", "{lookup}"},
		{&m.cacheExpired, MetricCacheExpirations, "Resource cache entries purged on expiry", "{entry}"},
		{&m.eventsAppended, MetricEventsAppended, "Events appended to the event store", "{event}"},
		{&m.durableFailures, MetricDurableFailures, "Event appends that failed to reach the durable log", "{event}"},
		{&m.dropped, MetricDeliveryDropped, "Events not delivered because the dispatch queue was full", "{event}"},
		{&m.handlerFailures, MetricHandlerFailures, "Subscriber handler failures", "{failure}"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit(c.unit))
		if err != nil {
			return nil, err
		}
	}

	m.opDuration, err = meter.Float64Histogram(
		MetricOpDuration,
		metric.WithDescription("Resource-access operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

func (m *metricsImpl) RecordOperation(ctx context.Context, meta OpMeta, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{attribute.String("op.name", meta.Operation)}
	if meta.ResourceType != "" {
		attrs = append(attrs, attribute.String("resource.type", meta.ResourceType))
	}
	opt := metric.WithAttributes(attrs...)

	m.opTotal.Add(ctx, 1, opt)
	if err != nil {
		m.opErrors.Add(ctx, 1, opt)
	}
	m.opDuration.Record(ctx, float64(duration.Microseconds())/1000.0, opt)
}

func (m *metricsImpl) RecordRetryAttempt(ctx context.Context, operation, outcome string) {
	m.retryAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op.name", operation),
		attribute.String("outcome", outcome),
	))
}

func (m *metricsImpl) RecordCacheLookup(ctx context.Context, resourceType string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("resource.type", resourceType),
		attribute.String("result", result),
	))
}

func (m *metricsImpl) RecordCacheExpiration(ctx context.Context, resourceType string, n int) {
	if n <= 0 {
		return
	}
	m.cacheExpired.Add(ctx, int64(n), metric.WithAttributes(attribute.String("resource.type", resourceType)))
}

func (m *metricsImpl) RecordEventAppend(ctx context.Context, eventType string, durable bool) {
	opt := metric.WithAttributes(attribute.String("event.type", eventType))
	m.eventsAppended.Add(ctx, 1, opt)
	if !durable {
		m.durableFailures.Add(ctx, 1, opt)
	}
}

func (m *metricsImpl) RecordDeliveryDropped(ctx context.Context) {
	m.dropped.Add(ctx, 1)
}

func (m *metricsImpl) RecordHandlerFailure(ctx context.Context, subscription string) {
	m.handlerFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("subscription", subscription)))
}

type noopMetrics struct{}

// NopMetrics returns a Metrics that records nothing.
func NopMetrics() Metrics { return noopMetrics{} }

func (noopMetrics) RecordOperation(context.Context, OpMeta, time.Duration, error) {}
func (noopMetrics) RecordRetryAttempt(context.Context, string, string)            {}
func (noopMetrics) RecordCacheLookup(context.Context, string, bool)               {}
func (noopMetrics) RecordCacheExpiration(context.Context, string, int)            {}
func (noopMetrics) RecordEventAppend(context.Context, string, bool)               {}
func (noopMetrics) RecordDeliveryDropped(context.Context)                         {}
func (noopMetrics) RecordHandlerFailure(context.Context, string)                  {}
