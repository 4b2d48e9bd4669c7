package observe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/jonwraymond/resaccess/observe/exporters"
)

// Config holds all configuration for the Observer.
type Config struct {
	ServiceName string        `yaml:"service_name"`
	Version     string        `yaml:"version"`
	Tracing     TracingConfig `yaml:"tracing"`
	Metrics     MetricsConfig `yaml:"metrics"`
	Logging     LoggingConfig `yaml:"logging"`
}

// TracingConfig configures the tracing subsystem.
type TracingConfig struct {
	Enabled   bool    `yaml:"enabled"`
	Exporter  string  `yaml:"exporter"`   // otlp|stdout|none
	SamplePct float64 `yaml:"sample_pct"` // 0.0-1.0
}

// MetricsConfig configures the metrics subsystem.
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // otlp|prometheus|stdout|none
}

// LoggingConfig configures the logging subsystem.
type LoggingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`  // debug|info|warn|error
	Format  string `yaml:"format"` // json|text

	// Output receives log lines. Default: os.Stderr.
	Output io.Writer `yaml:"-"`
}

var (
	tracingExporters = []string{"", "otlp", "stdout", "none"}
	metricsExporters = []string{"", "otlp", "prometheus", "stdout", "none"}
	logLevels        = []string{"", "debug", "info", "warn", "error"}
	logFormats       = []string{"", "json", "text"}
)

// Validate reports every invalid setting, joined.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, sentinel error, value any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %v", sentinel, value))
		}
	}

	if c.ServiceName == "" {
		errs = append(errs, ErrMissingServiceName)
	}
	if t := c.Tracing; t.Enabled {
		check(slices.Contains(tracingExporters, t.Exporter), ErrInvalidTracingExporter, strconv.Quote(t.Exporter))
		check(t.SamplePct >= 0 && t.SamplePct <= 1, ErrInvalidSamplePct, t.SamplePct)
	}
	if m := c.Metrics; m.Enabled {
		check(slices.Contains(metricsExporters, m.Exporter), ErrInvalidMetricsExporter, strconv.Quote(m.Exporter))
	}
	if l := c.Logging; l.Enabled {
		check(slices.Contains(logLevels, l.Level), ErrInvalidLogLevel, strconv.Quote(l.Level))
		check(slices.Contains(logFormats, l.Format), ErrInvalidLogFormat, strconv.Quote(l.Format))
	}
	return errors.Join(errs...)
}

// Observer provides access to telemetry primitives.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: Shutdown must honor cancellation/deadlines.
// - Errors: Shutdown should be idempotent and return the first error encountered.
type Observer interface {
	Tracer() trace.Tracer
	Meter() metric.Meter
	Logger() Logger

	// Metrics returns the resource-access instruments bound to Meter.
	Metrics() Metrics

	// Gatherer exposes the prometheus registry backing the prometheus
	// exporter. It is an empty registry for other exporters.
	Gatherer() prometheus.Gatherer

	Shutdown(ctx context.Context) error
}

// Logger is a minimal structured logging interface.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: logging must be best-effort and must not panic.
type Logger interface {
	Info(ctx context.Context, msg string, fields ...Field)
	Warn(ctx context.Context, msg string, fields ...Field)
	Error(ctx context.Context, msg string, fields ...Field)
	Debug(ctx context.Context, msg string, fields ...Field)

	// With returns a logger that adds fields to every entry.
	With(fields ...Field) Logger

	// WithOperation returns a logger bound to an operation's metadata.
	WithOperation(meta OpMeta) Logger
}

// Field represents a structured log field.
type Field struct {
	Key   string
	Value any
}

// F is shorthand for a Field literal.
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Err returns an "error" field, or an empty-valued one for nil errors.
func Err(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

// Component returns the conventional field naming the emitting component.
func Component(name string) Field {
	return Field{Key: "component", Value: name}
}

type observer struct {
	tracer         trace.Tracer
	meter          metric.Meter
	logger         Logger
	metrics        Metrics
	registry       *prometheus.Registry
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
}

// NewObserver creates a new Observer with the given configuration.
func NewObserver(ctx context.Context, cfg Config) (Observer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	obs := &observer{registry: prometheus.NewRegistry()}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if cfg.Tracing.Enabled {
		tp, tracer, err := setupTracing(ctx, cfg, res)
		if err != nil {
			return nil, fmt.Errorf("failed to setup tracing: %w", err)
		}
		obs.tracerProvider = tp
		obs.tracer = tracer
	} else {
		obs.tracer = tracenoop.NewTracerProvider().Tracer("noop")
	}

	if cfg.Metrics.Enabled {
		mp, meter, err := setupMetrics(ctx, cfg, res, obs.registry)
		if err != nil {
			return nil, fmt.Errorf("failed to setup metrics: %w", err)
		}
		obs.meterProvider = mp
		obs.meter = meter
	} else {
		obs.meter = noop.NewMeterProvider().Meter("noop")
	}

	metrics, err := NewMetrics(obs.meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create instruments: %w", err)
	}
	obs.metrics = metrics

	if cfg.Logging.Enabled {
		out := cfg.Logging.Output
		if out == nil {
			out = os.Stderr
		}
		if cfg.Logging.Format == "text" {
			obs.logger = NewConsoleLogger(cfg.Logging.Level, out)
		} else {
			obs.logger = NewLoggerWithWriter(cfg.Logging.Level, out)
		}
		obs.logger = obs.logger.With(F("service", cfg.ServiceName))
	} else {
		obs.logger = NopLogger()
	}

	return obs, nil
}

func setupTracing(ctx context.Context, cfg Config, res *resource.Resource) (*sdktrace.TracerProvider, trace.Tracer, error) {
	exporter, err := exporters.NewTracingExporter(ctx, cfg.Tracing.Exporter)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case cfg.Tracing.SamplePct >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case cfg.Tracing.SamplePct <= 0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(cfg.Tracing.SamplePct)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)

	return tp, tp.Tracer(cfg.ServiceName), nil
}

func setupMetrics(ctx context.Context, cfg Config, res *resource.Resource, reg *prometheus.Registry) (*sdkmetric.MeterProvider, metric.Meter, error) {
	reader, err := exporters.NewMetricsReader(ctx, cfg.Metrics.Exporter, exporters.WithRegisterer(reg))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create metrics reader: %w", err)
	}

	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if reader != nil {
		opts = append(opts, sdkmetric.WithReader(reader))
	}

	mp := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)

	return mp, mp.Meter(cfg.ServiceName), nil
}

func (o *observer) Tracer() trace.Tracer          { return o.tracer }
func (o *observer) Meter() metric.Meter           { return o.meter }
func (o *observer) Logger() Logger                { return o.logger }
func (o *observer) Metrics() Metrics              { return o.metrics }
func (o *observer) Gatherer() prometheus.Gatherer { return o.registry }

func (o *observer) Shutdown(ctx context.Context) error {
	var errs []error

	if o.tracerProvider != nil {
		if err := o.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer shutdown: %w", err))
		}
	}

	if o.meterProvider != nil {
		if err := o.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter shutdown: %w", err))
		}
	}

	return errors.Join(errs...)
}
