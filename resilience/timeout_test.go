package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNewTimeout_Default(t *testing.T) {
	if got := NewTimeout(TimeoutConfig{}).Config().Timeout; got != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", got)
	}
}

func TestTimeout_PassesThroughResult(t *testing.T) {
	to := NewTimeout(TimeoutConfig{Timeout: time.Second})
	want := errors.New("boom")

	if err := to.Execute(context.Background(), succeed); err != nil {
		t.Errorf("Execute(success) = %v", err)
	}
	if err := to.Execute(context.Background(), failWith(want)); !errors.Is(err, want) {
		t.Errorf("Execute(failure) = %v, want %v", err, want)
	}
}

func TestTimeout_AttemptOverrun(t *testing.T) {
	err := ExecuteWithTimeout(context.Background(), 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("error = %v, want ErrTimeout", err)
	}
	if got := DefaultClassifier().ClassifyError("", err); got.Outcome != OutcomeTransient {
		t.Errorf("attempt timeout classified as %v, want transient", got.Outcome)
	}
}

func TestTimeout_IgnoredContextStillReturns(t *testing.T) {
	start := time.Now()
	err := ExecuteWithTimeout(context.Background(), 10*time.Millisecond, func(ctx context.Context) error {
		time.Sleep(200 * time.Millisecond)
		return nil
	})
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("error = %v, want ErrTimeout", err)
	}
	if time.Since(start) > 150*time.Millisecond {
		t.Error("Execute waited for the stuck operation")
	}
}

func TestTimeout_CallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := ExecuteWithTimeout(ctx, time.Second, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}
