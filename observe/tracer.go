package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// OpMeta describes one resource-access operation for telemetry purposes.
type OpMeta struct {
	Operation    string // e.g. "get_issue", "update_project" (required)
	ResourceType string // optional
	ResourceID   string // optional
	Namespace    string // optional
}

// SpanName returns the deterministic span name for this operation.
// Format: resaccess.<resource_type>.<operation> or resaccess.<operation>
func (m OpMeta) SpanName() string {
	if m.ResourceType != "" {
		return "resaccess." + m.ResourceType + "." + m.Operation
	}
	return "resaccess." + m.Operation
}

// Validate reports whether the metadata names an operation.
func (m OpMeta) Validate() error {
	if m.Operation == "" {
		return ErrMissingOperation
	}
	return nil
}

func (m OpMeta) attributes() []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String("op.name", m.Operation)}
	if m.ResourceType != "" {
		attrs = append(attrs, attribute.String("resource.type", m.ResourceType))
	}
	if m.ResourceID != "" {
		attrs = append(attrs, attribute.String("resource.id", m.ResourceID))
	}
	if m.Namespace != "" {
		attrs = append(attrs, attribute.String("resource.namespace", m.Namespace))
	}
	return attrs
}

func (m OpMeta) fields() []Field {
	fields := []Field{{Key: "op", Value: m.Operation}}
	if m.ResourceType != "" {
		fields = append(fields, Field{Key: "resource_type", Value: m.ResourceType})
	}
	if m.ResourceID != "" {
		fields = append(fields, Field{Key: "resource_id", Value: m.ResourceID})
	}
	if m.Namespace != "" {
		fields = append(fields, Field{Key: "namespace", Value: m.Namespace})
	}
	return fields
}

// Tracer wraps OpenTelemetry tracing with operation-scoped spans.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: EndSpan must be best-effort and must not panic.
type Tracer interface {
	StartSpan(ctx context.Context, meta OpMeta) (context.Context, trace.Span)
	EndSpan(span trace.Span, err error)
}

type tracerImpl struct {
	tracer trace.Tracer
}

// NewTracer wraps an OpenTelemetry tracer. A nil tracer yields a no-op.
func NewTracer(t trace.Tracer) Tracer {
	if t == nil {
		return NopTracer()
	}
	return &tracerImpl{tracer: t}
}

func (t *tracerImpl) StartSpan(ctx context.Context, meta OpMeta) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, meta.SpanName(),
		trace.WithAttributes(meta.attributes()...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (t *tracerImpl) EndSpan(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

type noopTracer struct {
	noop trace.Tracer
}

// NopTracer returns a Tracer whose spans are never recorded.
func NopTracer() Tracer {
	return &noopTracer{noop: tracenoop.NewTracerProvider().Tracer("noop")}
}

func (t *noopTracer) StartSpan(ctx context.Context, meta OpMeta) (context.Context, trace.Span) {
	return t.noop.Start(ctx, meta.SpanName())
}

func (t *noopTracer) EndSpan(span trace.Span, _ error) {
	span.End()
}
