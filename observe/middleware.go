package observe

import (
	"context"
	"time"
)

// OpFunc is the signature of an observed operation.
type OpFunc func(ctx context.Context) error

// Middleware wraps operations with tracing, metrics and logging.
//
// Contract:
//   - Concurrency: Wrap returns a function safe for concurrent use.
//   - Errors: errors from the wrapped function are recorded and returned unchanged.
type Middleware struct {
	tracer  Tracer
	metrics Metrics
	logger  Logger
	now     func() time.Time
}

// NewMiddleware creates a Middleware. Nil components are replaced by no-ops.
func NewMiddleware(tracer Tracer, metrics Metrics, logger Logger) *Middleware {
	if tracer == nil {
		tracer = NopTracer()
	}
	if metrics == nil {
		metrics = NopMetrics()
	}
	if logger == nil {
		logger = NopLogger()
	}
	return &Middleware{tracer: tracer, metrics: metrics, logger: logger, now: time.Now}
}

// MiddlewareFromObserver creates a Middleware from an Observer.
func MiddlewareFromObserver(obs Observer) (*Middleware, error) {
	if obs == nil {
		return nil, ErrNilObserver
	}
	return NewMiddleware(NewTracer(obs.Tracer()), obs.Metrics(), obs.Logger()), nil
}

// Wrap returns fn instrumented for meta.
func (m *Middleware) Wrap(meta OpMeta, fn OpFunc) OpFunc {
	return func(ctx context.Context) error {
		ctx, span := m.tracer.StartSpan(ctx, meta)
		start := m.now()

		err := fn(ctx)

		duration := m.now().Sub(start)
		m.tracer.EndSpan(span, err)
		m.metrics.RecordOperation(ctx, meta, duration, err)

		log := m.logger.WithOperation(meta)
		fields := []Field{{Key: "duration_ms", Value: float64(duration.Microseconds()) / 1000.0}}
		if err != nil {
			log.Error(ctx, "operation failed", append(fields, Err(err))...)
		} else {
			log.Debug(ctx, "operation completed", fields...)
		}
		return err
	}
}

// Logger returns the middleware's logger.
func (m *Middleware) Logger() Logger { return m.logger }

// Metrics returns the middleware's metrics.
func (m *Middleware) Metrics() Metrics { return m.metrics }
