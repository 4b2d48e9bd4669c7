package resilience

import (
	"context"
	"time"
)

// Executor composes the resilience patterns around a remote call.
type Executor struct {
	circuitBreaker *CircuitBreaker
	retry          *Retry
	rateLimiter    *RateLimiter
	bulkhead       *Bulkhead
	timeout        *Timeout
	now            func() time.Time
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// NewExecutor creates a new resilience executor.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WithCircuitBreaker adds a circuit breaker to the executor.
func WithCircuitBreaker(cb *CircuitBreaker) ExecutorOption {
	return func(e *Executor) { e.circuitBreaker = cb }
}

// WithRetry adds the classified retry loop to the executor.
func WithRetry(r *Retry) ExecutorOption {
	return func(e *Executor) { e.retry = r }
}

// WithRateLimiter adds client-side rate limiting. Rate-limited responses
// seen by the retry loop pause the limiter until the remote's reset.
func WithRateLimiter(rl *RateLimiter) ExecutorOption {
	return func(e *Executor) { e.rateLimiter = rl }
}

// WithBulkhead adds a concurrency cap to the executor.
func WithBulkhead(b *Bulkhead) ExecutorOption {
	return func(e *Executor) { e.bulkhead = b }
}

// WithTimeout bounds each attempt.
func WithTimeout(timeout time.Duration) ExecutorOption {
	return func(e *Executor) { e.timeout = NewTimeout(TimeoutConfig{Timeout: timeout}) }
}

// WithTimeoutConfig bounds each attempt with a prepared Timeout.
func WithTimeoutConfig(t *Timeout) ExecutorOption {
	return func(e *Executor) { e.timeout = t }
}

// WithClock sets the clock used to compute rate-limit pauses.
func WithClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

// Retry returns the executor's retry loop, or nil.
func (e *Executor) Retry() *Retry { return e.retry }

// CircuitBreaker returns the executor's breaker, or nil.
func (e *Executor) CircuitBreaker() *CircuitBreaker { return e.circuitBreaker }

// RateLimiter returns the executor's limiter, or nil.
func (e *Executor) RateLimiter() *RateLimiter { return e.rateLimiter }

// CallOption adjusts a single ExecuteNamed or ExecuteValue call.
type CallOption func(*callOptions)

type callOptions struct {
	maxAttempts int
}

// MaxAttempts overrides the retry loop's attempt budget for one call.
// n <= 0 keeps the configured budget.
func MaxAttempts(n int) CallOption {
	return func(o *callOptions) { o.maxAttempts = n }
}

// Execute runs op through every configured pattern, outermost first:
// rate limiter, bulkhead, circuit breaker, retry, per-attempt timeout.
func (e *Executor) Execute(ctx context.Context, op func(context.Context) error) error {
	return e.ExecuteNamed(ctx, "", op)
}

// ExecuteNamed is Execute with the retry loop reporting under operation.
// The operation name also selects per-operation classification overrides.
func (e *Executor) ExecuteNamed(ctx context.Context, operation string, op func(context.Context) error, opts ...CallOption) error {
	var call callOptions
	for _, opt := range opts {
		opt(&call)
	}
	execute := op

	if e.timeout != nil {
		inner := execute
		execute = func(ctx context.Context) error {
			return e.timeout.Execute(ctx, inner)
		}
	}

	if e.retry != nil && e.rateLimiter != nil {
		inner := execute
		classifier := e.retry.Classifier()
		execute = func(ctx context.Context) error {
			err := inner(ctx)
			if err != nil {
				if cl := classifier.ClassifyError(operation, err); cl.Outcome == OutcomeRateLimited {
					e.rateLimiter.PauseUntil(e.now().Add(cl.RetryAfter))
				}
			}
			return err
		}
	}

	if e.retry != nil {
		inner := execute
		retry := e.retry
		if operation != "" {
			retry = retry.WithOperation(operation)
		}
		retry = retry.WithMaxAttempts(call.maxAttempts)
		execute = func(ctx context.Context) error {
			return retry.Execute(ctx, inner)
		}
	}

	if e.circuitBreaker != nil {
		inner := execute
		execute = func(ctx context.Context) error {
			return e.circuitBreaker.Execute(ctx, inner)
		}
	}

	if e.bulkhead != nil {
		inner := execute
		execute = func(ctx context.Context) error {
			return e.bulkhead.Execute(ctx, inner)
		}
	}

	if e.rateLimiter != nil {
		inner := execute
		execute = func(ctx context.Context) error {
			return e.rateLimiter.Execute(ctx, inner)
		}
	}

	return execute(ctx)
}

// ExecuteValue runs op through e and returns its value.
func ExecuteValue[T any](ctx context.Context, e *Executor, operation string, op func(context.Context) (T, error), opts ...CallOption) (T, error) {
	var out T
	err := e.ExecuteNamed(ctx, operation, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	}, opts...)
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}
