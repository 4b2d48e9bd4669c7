package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func newTestBreaker(clock *fakeClock, cfg CircuitBreakerConfig) *CircuitBreaker {
	cfg.Now = clock.Now
	return NewCircuitBreaker(cfg)
}

func failWith(err error) func(context.Context) error {
	return func(context.Context) error { return err }
}

func succeed(context.Context) error { return nil }

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{})

	if cb.config.MaxFailures != 5 {
		t.Errorf("MaxFailures = %d, want 5", cb.config.MaxFailures)
	}
	if cb.config.ResetTimeout != 30*time.Second {
		t.Errorf("ResetTimeout = %v, want 30s", cb.config.ResetTimeout)
	}
	if cb.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_OpensOnTransientFailures(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock, CircuitBreakerConfig{MaxFailures: 3, ResetTimeout: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, failWith(status(503)))
	}

	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}
	if err := cb.Execute(ctx, succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Execute() while open = %v, want ErrCircuitOpen", err)
	}
	if m := cb.Metrics(); m.Rejected != 1 || m.Failures != 3 {
		t.Errorf("Metrics = %+v, want 1 rejection after 3 failures", m)
	}
}

func TestCircuitBreaker_IgnoresPermanentAndCancelled(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock, CircuitBreakerConfig{MaxFailures: 2})
	ctx := context.Background()

	permanent := &ClassifiedError{Classification: Classification{Outcome: OutcomePermanent}, Attempts: 1}
	cancelled := &CancelledError{Attempts: 1, Cause: context.Canceled}

	for i := 0; i < 5; i++ {
		_ = cb.Execute(ctx, failWith(status(404)))
		_ = cb.Execute(ctx, failWith(permanent))
		_ = cb.Execute(ctx, failWith(cancelled))
	}

	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed", cb.State())
	}
	if m := cb.Metrics(); m.Failures != 0 {
		t.Errorf("Failures = %d, want 0", m.Failures)
	}
}

func TestCircuitBreaker_CountsExhaustion(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock, CircuitBreakerConfig{MaxFailures: 1})

	exhausted := &ExhaustedError{Attempts: 3}
	_ = cb.Execute(context.Background(), failWith(exhausted))

	if cb.State() != StateOpen {
		t.Errorf("state = %v, want open", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock, CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: 10 * time.Second})
	ctx := context.Background()

	_ = cb.Execute(ctx, failWith(status(500)))
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}

	clock.Advance(10 * time.Second)
	if cb.State() != StateHalfOpen {
		t.Fatalf("state after reset timeout = %v, want half-open", cb.State())
	}

	if err := cb.Execute(ctx, succeed); err != nil {
		t.Fatalf("probe error = %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("state after successful probe = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock, CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: 10 * time.Second})
	ctx := context.Background()

	_ = cb.Execute(ctx, failWith(status(500)))
	clock.Advance(10 * time.Second)
	_ = cb.Execute(ctx, failWith(status(502)))

	if cb.State() != StateOpen {
		t.Errorf("state after failed probe = %v, want open", cb.State())
	}
	clock.Advance(5 * time.Second)
	if cb.State() != StateOpen {
		t.Errorf("reset timeout should restart from the failed probe")
	}
}

func TestCircuitBreaker_HalfOpenLimitsProbes(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock, CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Second})
	ctx := context.Background()

	_ = cb.Execute(ctx, failWith(status(503)))
	clock.Advance(time.Second)

	var inner error
	err := cb.Execute(ctx, func(ctx context.Context) error {
		inner = cb.Execute(ctx, succeed)
		return nil
	})
	if err != nil {
		t.Fatalf("probe = %v", err)
	}
	if !errors.Is(inner, ErrCircuitOpen) {
		t.Errorf("second concurrent probe = %v, want ErrCircuitOpen", inner)
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	clock := newFakeClock()
	var transitions []string
	cb := newTestBreaker(clock, CircuitBreakerConfig{
		MaxFailures:  1,
		ResetTimeout: time.Second,
		OnStateChange: func(from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})
	ctx := context.Background()

	_ = cb.Execute(ctx, failWith(status(503)))
	clock.Advance(time.Second)
	_ = cb.Execute(ctx, succeed)

	want := []string{"closed->open", "open->half-open", "half-open->closed"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition[%d] = %s, want %s", i, transitions[i], want[i])
		}
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock, CircuitBreakerConfig{MaxFailures: 1})

	_ = cb.Execute(context.Background(), failWith(status(500)))
	cb.Reset()

	if cb.State() != StateClosed {
		t.Errorf("state after Reset = %v, want closed", cb.State())
	}
}

func TestIsCircuitFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"context canceled", context.Canceled, false},
		{"status 404", status(404), false},
		{"status 503", status(503), true},
		{"rate limited", status(429), true},
		{"unclassified", errors.New("odd"), false},
		{"classified unknown", fmt.Errorf("call: %w", ErrUnknown), false},
		{"connection reset", errors.New("read: connection reset by peer"), true},
	}
	for _, tt := range tests {
		if got := IsCircuitFailure(tt.err); got != tt.want {
			t.Errorf("%s: IsCircuitFailure = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestState_String(t *testing.T) {
	if StateClosed.String() != "closed" || StateOpen.String() != "open" || StateHalfOpen.String() != "half-open" {
		t.Error("unexpected state names")
	}
	if State(42).String() != "unknown" {
		t.Errorf("State(42) = %q, want unknown", State(42).String())
	}
}
