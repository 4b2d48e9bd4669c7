// Package resilience classifies remote-call failures and retries them.
//
// # Classification
//
// A Classifier maps a Failure (HTTP status, headers, transport error) to one
// of four outcomes:
//
//   - transient: 500, 502, 503, 504 and transport faults. Retried with
//     exponential backoff.
//   - rate_limited: 429, or 403 with X-RateLimit-Remaining: 0. Retried after
//     the server's reset time.
//   - permanent: 400, 401, 403, 404. Never retried.
//   - unknown: everything else. Never retried, logged distinctly.
//
// Remote-call code returns a *StatusError (see CheckResponse) so the status
// and headers survive wrapping.
//
// # Retry
//
// Retry runs an operation up to MaxAttempts times. Transient failures wait
// BaseDelay*2^attempt capped at MaxDelay; rate-limited failures wait the
// classified RetryAfter. Waits race a timer against ctx.Done() and never
// block other goroutines. Terminal errors are typed:
//
//   - *ClassifiedError for permanent or unknown failures
//   - *ExhaustedError when attempts or the overall Deadline run out
//   - *CancelledError when the caller's context ends
//
// # Composition
//
// Executor layers a rate limiter, bulkhead, circuit breaker, the retry loop
// and a per-attempt timeout:
//
//	exec := resilience.NewExecutor(
//	    resilience.WithRateLimiter(resilience.NewRateLimiter(resilience.RateLimiterConfig{Rate: 20})),
//	    resilience.WithCircuitBreaker(resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{})),
//	    resilience.WithRetry(resilience.NewRetry(resilience.RetryConfig{MaxAttempts: 3})),
//	    resilience.WithTimeout(10*time.Second),
//	)
//
//	issue, err := resilience.ExecuteValue(ctx, exec, "get_issue", fetchIssue)
package resilience
