package resilience

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"testing"
	"time"
)

func newTestRetry(clock *fakeClock, cfg RetryConfig) *Retry {
	cfg.Sleep = clock.Sleep
	cfg.Now = clock.Now
	if cfg.Classifier == nil {
		cfg.Classifier = NewClassifier(ClassifierConfig{Now: clock.Now})
	}
	return NewRetry(cfg)
}

func status(code int) error {
	return &StatusError{StatusCode: code}
}

func TestNewRetry_Defaults(t *testing.T) {
	r := NewRetry(RetryConfig{})

	if r.config.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", r.config.MaxAttempts)
	}
	if r.config.BaseDelay != time.Second {
		t.Errorf("BaseDelay = %v, want 1s", r.config.BaseDelay)
	}
	if r.config.MaxDelay != 30*time.Second {
		t.Errorf("MaxDelay = %v, want 30s", r.config.MaxDelay)
	}
	if r.config.Jitter {
		t.Error("Jitter should default to false")
	}
	if r.Classifier() == nil {
		t.Error("Classifier should default to DefaultClassifier")
	}
}

func TestRetry_SuccessOnFirstAttempt(t *testing.T) {
	clock := newFakeClock()
	r := newTestRetry(clock, RetryConfig{})

	report, err := r.ExecuteReport(context.Background(), func(ctx context.Context) error { return nil })
	if err != nil {
		t.Fatalf("ExecuteReport() error = %v", err)
	}
	if report.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", report.Attempts)
	}
	if len(clock.Sleeps()) != 0 {
		t.Errorf("sleeps = %v, want none", clock.Sleeps())
	}
}

func TestRetry_TwoTransientThenSuccess(t *testing.T) {
	clock := newFakeClock()
	r := newTestRetry(clock, RetryConfig{MaxAttempts: 3})

	calls := 0
	value, report, err := Do(context.Background(), r, func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", status(503)
		}
		return "ok", nil
	})

	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if value != "ok" {
		t.Errorf("value = %q, want ok", value)
	}
	if report.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", report.Attempts)
	}

	want := []time.Duration{time.Second, 2 * time.Second}
	got := clock.Sleeps()
	if len(got) != len(want) {
		t.Fatalf("sleeps = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sleep[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	if report.TotalDelay != 3*time.Second {
		t.Errorf("TotalDelay = %v, want 3s", report.TotalDelay)
	}
}

func TestRetry_PermanentStopsAfterOneAttempt(t *testing.T) {
	clock := newFakeClock()
	r := newTestRetry(clock, RetryConfig{MaxAttempts: 5, Operation: "get_issue"})

	calls := 0
	err := r.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return status(404)
	})

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if !errors.Is(err, ErrPermanent) {
		t.Fatalf("error = %v, want ErrPermanent", err)
	}
	var classified *ClassifiedError
	if !errors.As(err, &classified) {
		t.Fatalf("error = %T, want *ClassifiedError", err)
	}
	if classified.Attempts != 1 || classified.Operation != "get_issue" {
		t.Errorf("classified = %+v", classified)
	}
	var st *StatusError
	if !errors.As(err, &st) || st.StatusCode != 404 {
		t.Errorf("original failure not preserved: %v", err)
	}
	if len(clock.Sleeps()) != 0 {
		t.Errorf("permanent failure should not back off, slept %v", clock.Sleeps())
	}
}

func TestRetry_UnknownStopsImmediately(t *testing.T) {
	clock := newFakeClock()
	r := newTestRetry(clock, RetryConfig{MaxAttempts: 5})

	calls := 0
	err := r.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New("schema mismatch")
	})

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if !errors.Is(err, ErrUnknown) {
		t.Errorf("error = %v, want ErrUnknown", err)
	}
	if errors.Is(err, ErrMaxRetriesExceeded) {
		t.Error("unknown failure must not look like exhaustion")
	}
}

func TestRetry_ExhaustionWrapsLastFailure(t *testing.T) {
	clock := newFakeClock()
	r := newTestRetry(clock, RetryConfig{MaxAttempts: 3})

	calls := 0
	err := r.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return status(502)
	})

	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if !errors.Is(err, ErrMaxRetriesExceeded) {
		t.Fatalf("error = %v, want ErrMaxRetriesExceeded", err)
	}
	if !errors.Is(err, ErrTransient) {
		t.Errorf("exhaustion should wrap the last transient failure: %v", err)
	}
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) || exhausted.Attempts != 3 {
		t.Errorf("ExhaustedError = %+v", exhausted)
	}
	if n, ok := Attempts(err); !ok || n != 3 {
		t.Errorf("Attempts(err) = %d, %v; want 3, true", n, ok)
	}
	if len(clock.Sleeps()) != 2 {
		t.Errorf("sleeps = %v, want 2 backoffs", clock.Sleeps())
	}
}

func TestRetry_TransientDelaysNonDecreasingAndCapped(t *testing.T) {
	clock := newFakeClock()
	r := newTestRetry(clock, RetryConfig{
		MaxAttempts: 8,
		BaseDelay:   time.Second,
		MaxDelay:    10 * time.Second,
	})

	_ = r.Execute(context.Background(), func(ctx context.Context) error { return status(500) })

	sleeps := clock.Sleeps()
	if len(sleeps) != 7 {
		t.Fatalf("sleeps = %v, want 7", sleeps)
	}
	for i := 1; i < len(sleeps); i++ {
		if sleeps[i] < sleeps[i-1] {
			t.Errorf("delay decreased: %v then %v", sleeps[i-1], sleeps[i])
		}
		if sleeps[i] > 10*time.Second {
			t.Errorf("delay %v exceeds cap", sleeps[i])
		}
	}
	if sleeps[len(sleeps)-1] != 10*time.Second {
		t.Errorf("last delay = %v, want cap 10s", sleeps[len(sleeps)-1])
	}
}

func TestRetry_BackoffOverflowClampsToMax(t *testing.T) {
	r := NewRetry(RetryConfig{BaseDelay: time.Hour, MaxDelay: 2 * time.Hour})
	if got := r.backoff(200); got != 2*time.Hour {
		t.Errorf("backoff(200) = %v, want 2h", got)
	}
	if got := r.backoff(40); got != 2*time.Hour {
		t.Errorf("backoff(40) = %v, want 2h", got)
	}
}

func TestRetry_JitterStaysWithinQuarter(t *testing.T) {
	r := NewRetry(RetryConfig{BaseDelay: time.Second, MaxDelay: time.Minute, Jitter: true})
	for i := 0; i < 50; i++ {
		d := r.backoff(2)
		if d < 4*time.Second || d >= 5*time.Second {
			t.Fatalf("backoff(2) with jitter = %v, want [4s, 5s)", d)
		}
	}
}

func TestRetry_RateLimitedWaitsRetryAfter(t *testing.T) {
	clock := newFakeClock()
	r := newTestRetry(clock, RetryConfig{MaxAttempts: 2, MaxDelay: time.Second})

	h := http.Header{}
	h.Set("X-RateLimit-Reset", strconv.FormatInt(clock.Now().Add(42*time.Second).Unix(), 10))

	calls := 0
	err := r.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return &StatusError{StatusCode: 429, Header: h}
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	sleeps := clock.Sleeps()
	if len(sleeps) != 1 || sleeps[0] != 42*time.Second {
		t.Errorf("sleeps = %v, want [42s] (not capped by MaxDelay)", sleeps)
	}
}

func TestRetry_RateLimitedExhaustion(t *testing.T) {
	clock := newFakeClock()
	r := newTestRetry(clock, RetryConfig{MaxAttempts: 2})

	err := r.Execute(context.Background(), func(ctx context.Context) error { return status(429) })

	if !errors.Is(err, ErrMaxRetriesExceeded) || !errors.Is(err, ErrRateLimited) {
		t.Fatalf("error = %v, want exhaustion wrapping a rate limit", err)
	}
	if d, ok := RetryAfter(err); !ok || d != 60*time.Second {
		t.Errorf("RetryAfter(err) = %v, %v; want 60s, true", d, ok)
	}
}

func TestRetry_OnRetryReceivesState(t *testing.T) {
	clock := newFakeClock()
	var states []RetryState
	r := newTestRetry(clock, RetryConfig{
		MaxAttempts: 3,
		OnRetry:     func(s RetryState) { states = append(states, s) },
	})

	_ = r.Execute(context.Background(), func(ctx context.Context) error { return status(503) })

	if len(states) != 2 {
		t.Fatalf("OnRetry calls = %d, want 2", len(states))
	}
	if states[0].Attempt != 1 || states[0].NextDelay != time.Second {
		t.Errorf("states[0] = %+v", states[0])
	}
	if states[1].Attempt != 2 || states[1].NextDelay != 2*time.Second {
		t.Errorf("states[1] = %+v", states[1])
	}
	if states[1].LastClassification.Outcome != OutcomeTransient {
		t.Errorf("LastClassification = %v, want transient", states[1].LastClassification.Outcome)
	}
}

func TestRetry_CancelDuringBackoff(t *testing.T) {
	r := NewRetry(RetryConfig{MaxAttempts: 5, BaseDelay: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	started := make(chan struct{}, 1)

	go func() {
		errCh <- r.Execute(ctx, func(ctx context.Context) error {
			select {
			case started <- struct{}{}:
			default:
			}
			return status(503)
		})
	}()

	<-started
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrCancelled) {
			t.Fatalf("error = %v, want ErrCancelled", err)
		}
		if !errors.Is(err, context.Canceled) {
			t.Errorf("error should unwrap to context.Canceled: %v", err)
		}
		if errors.Is(err, ErrMaxRetriesExceeded) {
			t.Error("cancellation must be distinct from exhaustion")
		}
		if n, _ := Attempts(err); n != 1 {
			t.Errorf("attempts = %d, want 1", n)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Execute did not return after cancellation")
	}
}

func TestRetry_CancelledBeforeStart(t *testing.T) {
	r := NewRetry(RetryConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := r.Execute(ctx, func(ctx context.Context) error {
		calls++
		return nil
	})
	if calls != 0 {
		t.Errorf("calls = %d, want 0", calls)
	}
	if !errors.Is(err, ErrCancelled) {
		t.Errorf("error = %v, want ErrCancelled", err)
	}
}

func TestRetry_DeadlineBudgetBehavesLikeExhaustion(t *testing.T) {
	clock := newFakeClock()
	r := newTestRetry(clock, RetryConfig{
		MaxAttempts: 10,
		BaseDelay:   time.Second,
		Deadline:    2500 * time.Millisecond,
	})

	calls := 0
	err := r.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return status(503)
	})

	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("error = %v, want *ExhaustedError", err)
	}
	if !exhausted.DeadlineExceeded {
		t.Error("DeadlineExceeded = false, want true")
	}
	// 1s + 2s of backoff fits; the following 4s does not.
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestRetry_DeadlineDuringAttempt(t *testing.T) {
	r := NewRetry(RetryConfig{MaxAttempts: 3, Deadline: 20 * time.Millisecond})

	err := r.Execute(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	if !errors.Is(err, ErrMaxRetriesExceeded) {
		t.Fatalf("error = %v, want ErrMaxRetriesExceeded", err)
	}
	if errors.Is(err, ErrCancelled) {
		t.Error("overall deadline must not be reported as cancellation")
	}
}

func TestRetry_WithOperation(t *testing.T) {
	r := NewRetry(RetryConfig{Operation: "a"})
	named := r.WithOperation("b")
	if r.Config().Operation != "a" || named.Config().Operation != "b" {
		t.Errorf("WithOperation should copy: %q, %q", r.Config().Operation, named.Config().Operation)
	}
}

func TestRetry_WithMaxAttempts(t *testing.T) {
	r := NewRetry(RetryConfig{MaxAttempts: 3})
	if got := r.WithMaxAttempts(5).Config().MaxAttempts; got != 5 {
		t.Errorf("WithMaxAttempts(5) budget = %d", got)
	}
	if r.Config().MaxAttempts != 3 {
		t.Errorf("WithMaxAttempts modified the receiver: %d", r.Config().MaxAttempts)
	}
	if r.WithMaxAttempts(0) != r {
		t.Error("WithMaxAttempts(0) should keep the receiver")
	}
}

func TestSleepContext(t *testing.T) {
	if err := sleepContext(context.Background(), 0); err != nil {
		t.Errorf("sleepContext(0) = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("sleepContext(cancelled) = %v, want context.Canceled", err)
	}
}
