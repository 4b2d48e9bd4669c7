package resilience

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/jonwraymond/resaccess/observe"
)

// errRetryDeadline is the cancellation cause installed for RetryConfig.Deadline.
var errRetryDeadline = errors.New("resilience: retry deadline reached")

// RetryConfig configures the retry executor.
type RetryConfig struct {
	// Operation names the wrapped call in errors, logs and metrics.
	Operation string

	// MaxAttempts is the maximum number of attempts (including initial).
	// Default: 3
	MaxAttempts int

	// BaseDelay is the backoff before the second attempt. Attempt n
	// (0-indexed) waits BaseDelay * 2^n after a transient failure.
	// Default: 1s
	BaseDelay time.Duration

	// MaxDelay caps transient backoff. Rate-limited waits are capped by the
	// classifier instead.
	// Default: 30s
	MaxDelay time.Duration

	// Deadline bounds the whole invocation, attempts and waits included.
	// Zero means no overall deadline.
	Deadline time.Duration

	// Jitter adds up to 25% to transient delays.
	// Default: false
	Jitter bool

	// Classifier maps failures to outcomes.
	// Default: DefaultClassifier()
	Classifier *Classifier

	// OnRetry is called before each backoff.
	OnRetry func(state RetryState)

	Logger  observe.Logger
	Metrics observe.Metrics

	// Sleep waits for d or until ctx ends. Tests replace it to simulate time.
	// Default: a timer raced against ctx.Done()
	Sleep func(ctx context.Context, d time.Duration) error

	// Now is used for the overall deadline budget.
	// Default: time.Now
	Now func() time.Time
}

// RetryState is the per-invocation view handed to OnRetry.
type RetryState struct {
	// Attempt is the number of attempts made so far (1-based).
	Attempt            int
	LastClassification Classification
	LastErr            error
	NextDelay          time.Duration
}

// Report summarises one invocation of the retry executor.
type Report struct {
	Attempts        int
	Classifications []Classification
	TotalDelay      time.Duration
}

// Retry runs operations under a bounded, classified retry loop.
type Retry struct {
	config RetryConfig
}

// NewRetry creates a new retry executor.
func NewRetry(config RetryConfig) *Retry {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = time.Second
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}
	if config.Classifier == nil {
		config.Classifier = DefaultClassifier()
	}
	if config.Logger == nil {
		config.Logger = observe.NopLogger()
	}
	if config.Metrics == nil {
		config.Metrics = observe.NopMetrics()
	}
	if config.Sleep == nil {
		config.Sleep = sleepContext
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Retry{config: config}
}

// Config returns the retry configuration.
func (r *Retry) Config() RetryConfig {
	return r.config
}

// Classifier returns the classifier consulted on each failure.
func (r *Retry) Classifier() *Classifier {
	return r.config.Classifier
}

// WithOperation returns a copy of r that reports under a different
// operation name.
func (r *Retry) WithOperation(name string) *Retry {
	cfg := r.config
	cfg.Operation = name
	return &Retry{config: cfg}
}

// WithMaxAttempts returns a copy of r with a different attempt budget.
// n <= 0 keeps the current budget.
func (r *Retry) WithMaxAttempts(n int) *Retry {
	if n <= 0 {
		return r
	}
	cfg := r.config
	cfg.MaxAttempts = n
	return &Retry{config: cfg}
}

// Execute runs op until it succeeds, fails with a non-retryable outcome,
// exhausts its attempts, or ctx ends.
func (r *Retry) Execute(ctx context.Context, op func(context.Context) error) error {
	_, err := r.ExecuteReport(ctx, op)
	return err
}

// ExecuteReport is Execute returning the attempt report as well.
func (r *Retry) ExecuteReport(ctx context.Context, op func(context.Context) error) (Report, error) {
	var (
		report     Report
		last       *ClassifiedError
		deadlineAt time.Time
	)

	if r.config.Deadline > 0 {
		deadlineAt = r.config.Now().Add(r.config.Deadline)
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, r.config.Deadline, errRetryDeadline)
		defer cancel()
	}

	log := r.config.Logger.With(observe.F("op", r.config.Operation))

	for attempt := 0; attempt < r.config.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return report, r.interrupted(ctx, report, last)
		}

		report.Attempts = attempt + 1
		err := op(ctx)
		if err == nil {
			r.config.Metrics.RecordRetryAttempt(ctx, r.config.Operation, "success")
			return report, nil
		}

		if ctx.Err() != nil {
			return report, r.interrupted(ctx, report, last)
		}

		cl := r.config.Classifier.ClassifyError(r.config.Operation, err)
		report.Classifications = append(report.Classifications, cl)
		r.config.Metrics.RecordRetryAttempt(ctx, r.config.Operation, cl.Outcome.String())

		failure := &ClassifiedError{
			Operation:      r.config.Operation,
			Classification: cl,
			Attempts:       report.Attempts,
			Err:            err,
		}

		switch cl.Outcome {
		case OutcomePermanent:
			log.Debug(ctx, "permanent failure, not retrying",
				observe.F("attempt", report.Attempts), observe.F("reason", cl.Reason), observe.Err(err))
			return report, failure
		case OutcomeUnknown:
			log.Warn(ctx, "unclassified failure, not retrying",
				observe.F("attempt", report.Attempts), observe.F("reason", cl.Reason), observe.Err(err))
			return report, failure
		}
		last = failure

		if report.Attempts >= r.config.MaxAttempts {
			break
		}

		delay := r.delay(attempt, cl)
		if !deadlineAt.IsZero() && r.config.Now().Add(delay).After(deadlineAt) {
			return report, &ExhaustedError{
				Operation:        r.config.Operation,
				Attempts:         report.Attempts,
				DeadlineExceeded: true,
				Last:             last,
			}
		}

		if r.config.OnRetry != nil {
			r.config.OnRetry(RetryState{
				Attempt:            report.Attempts,
				LastClassification: cl,
				LastErr:            err,
				NextDelay:          delay,
			})
		}
		log.Info(ctx, "retrying after failure",
			observe.F("attempt", report.Attempts),
			observe.F("outcome", cl.Outcome.String()),
			observe.F("delay", delay.String()),
			observe.Err(err))

		if err := r.config.Sleep(ctx, delay); err != nil {
			return report, r.interrupted(ctx, report, last)
		}
		report.TotalDelay += delay
	}

	log.Warn(ctx, "retries exhausted", observe.F("attempts", report.Attempts), observe.Err(last))
	return report, &ExhaustedError{
		Operation: r.config.Operation,
		Attempts:  report.Attempts,
		Last:      last,
	}
}

// interrupted maps an ended context to the right terminal error: the
// overall deadline counts as exhaustion, anything else as cancellation.
func (r *Retry) interrupted(ctx context.Context, report Report, last *ClassifiedError) error {
	cause := context.Cause(ctx)
	if errors.Is(cause, errRetryDeadline) {
		return &ExhaustedError{
			Operation:        r.config.Operation,
			Attempts:         report.Attempts,
			DeadlineExceeded: true,
			Last:             last,
		}
	}
	if cause == nil {
		cause = ctx.Err()
	}
	return &CancelledError{
		Operation: r.config.Operation,
		Attempts:  report.Attempts,
		Cause:     cause,
		Last:      last,
	}
}

// delay returns the wait before the attempt following attempt (0-indexed).
func (r *Retry) delay(attempt int, cl Classification) time.Duration {
	if cl.Outcome == OutcomeRateLimited {
		return cl.RetryAfter
	}
	return r.backoff(attempt)
}

func (r *Retry) backoff(attempt int) time.Duration {
	delay := r.config.MaxDelay
	if attempt < 62 {
		if d := r.config.BaseDelay << uint(attempt); d > 0 && d>>uint(attempt) == r.config.BaseDelay {
			delay = min(d, r.config.MaxDelay)
		}
	}

	if r.config.Jitter && delay >= 4 {
		// #nosec G404 -- jitter is non-cryptographic timing variance.
		delay += time.Duration(rand.Int64N(int64(delay / 4)))
	}
	return delay
}

// Do runs op under r and returns its value along with the attempt report.
func Do[T any](ctx context.Context, r *Retry, op func(context.Context) (T, error)) (T, Report, error) {
	var out T
	report, err := r.ExecuteReport(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, report, err
	}
	return out, report, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
