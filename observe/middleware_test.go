package observe

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestMiddleware_RecordsSpanMetricsAndLog(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	metrics, reader := newTestMetrics(t)
	var buf bytes.Buffer

	mw := NewMiddleware(NewTracer(tp.Tracer("test")), metrics, NewLoggerWithWriter("debug", &buf))
	meta := OpMeta{Operation: "update_issue", ResourceType: "issue", ResourceID: "I_9"}
	wantErr := errors.New("remote said no")

	err := mw.Wrap(meta, func(ctx context.Context) error { return wantErr })(context.Background())
	if !errors.Is(err, wantErr) {
		t.Fatalf("Wrap() error = %v, want %v", err, wantErr)
	}

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(spans))
	}
	if spans[0].Name() != "resaccess.issue.update_issue" {
		t.Errorf("span name = %q", spans[0].Name())
	}
	if spans[0].Status().Code != codes.Error {
		t.Errorf("span status = %v, want Error", spans[0].Status().Code)
	}

	if got := sumWhere(t, collect(t, reader), MetricOpErrors, "op.name", "update_issue"); got != 1 {
		t.Errorf("op errors = %d, want 1", got)
	}
	if !strings.Contains(buf.String(), "operation failed") {
		t.Errorf("log output = %s, want failure entry", buf.String())
	}
}

func TestMiddleware_SuccessLogsAtDebug(t *testing.T) {
	var buf bytes.Buffer
	mw := NewMiddleware(nil, nil, NewLoggerWithWriter("info", &buf))

	err := mw.Wrap(OpMeta{Operation: "get_project"}, func(ctx context.Context) error { return nil })(context.Background())
	if err != nil {
		t.Fatalf("Wrap() error = %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("expected no info-level output for success, got %s", buf.String())
	}
}

func TestMiddlewareFromObserver_Nil(t *testing.T) {
	if _, err := MiddlewareFromObserver(nil); !errors.Is(err, ErrNilObserver) {
		t.Errorf("error = %v, want ErrNilObserver", err)
	}
}
