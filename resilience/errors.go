package resilience

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Sentinel errors for resilience operations.
var (
	// ErrCircuitOpen is returned when the circuit breaker is open.
	ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

	// ErrMaxRetriesExceeded is returned when max retry attempts are exhausted.
	ErrMaxRetriesExceeded = errors.New("resilience: max retries exceeded")

	// ErrRateLimitExceeded is returned when the client-side rate limit is exceeded.
	ErrRateLimitExceeded = errors.New("resilience: rate limit exceeded")

	// ErrBulkheadFull is returned when the bulkhead is at capacity.
	ErrBulkheadFull = errors.New("resilience: bulkhead at capacity")

	// ErrTimeout is returned when a single attempt times out.
	ErrTimeout = errors.New("resilience: operation timed out")

	// ErrCancelled is returned when the caller cancels a retried operation.
	ErrCancelled = errors.New("resilience: operation cancelled")
)

// Classification sentinels. A *ClassifiedError matches exactly one of them
// with errors.Is.
var (
	ErrTransient   = errors.New("resilience: transient failure")
	ErrRateLimited = errors.New("resilience: rate limited")
	ErrPermanent   = errors.New("resilience: permanent failure")
	ErrUnknown     = errors.New("resilience: unclassified failure")
)

// StatusError carries the HTTP status and headers of a failed remote call
// so the classifier can inspect them.
type StatusError struct {
	StatusCode int
	Header     http.Header
	Err        error
}

func (e *StatusError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("remote returned %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("remote returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

func (e *StatusError) Unwrap() error { return e.Err }

// CheckResponse returns nil for 1xx-3xx responses and a *StatusError
// otherwise. Up to 512 bytes of the body are kept as the error message.
func CheckResponse(resp *http.Response) error {
	if resp == nil {
		return &StatusError{Err: errors.New("nil response")}
	}
	if resp.StatusCode < 400 {
		return nil
	}
	var detail error
	if resp.Body != nil {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if msg := strings.TrimSpace(string(body)); msg != "" {
			detail = errors.New(msg)
		}
	}
	return &StatusError{StatusCode: resp.StatusCode, Header: resp.Header.Clone(), Err: detail}
}

// ClassifiedError is a failure the retry executor stopped on, annotated with
// its classification and the attempts made so far.
type ClassifiedError struct {
	Operation      string
	Classification Classification
	Attempts       int
	Err            error
}

func (e *ClassifiedError) Error() string {
	var b strings.Builder
	b.WriteString("resilience: ")
	if e.Operation != "" {
		b.WriteString(e.Operation)
		b.WriteString(": ")
	}
	fmt.Fprintf(&b, "%s failure after %d attempt(s)", e.Classification.Outcome, e.Attempts)
	if e.Classification.Outcome == OutcomeRateLimited {
		fmt.Fprintf(&b, " (retry after %s)", e.Classification.RetryAfter)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ClassifiedError) Unwrap() []error {
	errs := []error{e.Classification.Outcome.sentinel()}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// ExhaustedError is returned when every attempt failed with a retryable
// outcome, or the overall deadline ran out before the next attempt.
type ExhaustedError struct {
	Operation        string
	Attempts         int
	DeadlineExceeded bool
	Last             *ClassifiedError
}

func (e *ExhaustedError) Error() string {
	var b strings.Builder
	b.WriteString("resilience: ")
	if e.Operation != "" {
		b.WriteString(e.Operation)
		b.WriteString(": ")
	}
	if e.DeadlineExceeded {
		fmt.Fprintf(&b, "retry deadline exceeded after %d attempt(s)", e.Attempts)
	} else {
		fmt.Fprintf(&b, "retries exhausted after %d attempt(s)", e.Attempts)
	}
	if e.Last != nil && e.Last.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Last.Err.Error())
	}
	return b.String()
}

func (e *ExhaustedError) Unwrap() []error {
	errs := []error{ErrMaxRetriesExceeded}
	if e.Last != nil {
		errs = append(errs, e.Last)
	}
	return errs
}

// CancelledError is returned when the caller's context ends while an attempt
// or a backoff is in progress.
type CancelledError struct {
	Operation string
	Attempts  int
	Cause     error
	Last      *ClassifiedError
}

func (e *CancelledError) Error() string {
	msg := fmt.Sprintf("resilience: cancelled after %d attempt(s)", e.Attempts)
	if e.Operation != "" {
		msg = fmt.Sprintf("resilience: %s: cancelled after %d attempt(s)", e.Operation, e.Attempts)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *CancelledError) Unwrap() []error {
	errs := []error{ErrCancelled}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// Attempts reports how many attempts produced err, when err came from Retry.
func Attempts(err error) (int, bool) {
	var exhausted *ExhaustedError
	if errors.As(err, &exhausted) {
		return exhausted.Attempts, true
	}
	var cancelled *CancelledError
	if errors.As(err, &cancelled) {
		return cancelled.Attempts, true
	}
	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified.Attempts, true
	}
	return 0, false
}

// RetryAfter reports the server-requested wait carried by a rate-limited error.
func RetryAfter(err error) (time.Duration, bool) {
	var classified *ClassifiedError
	if errors.As(err, &classified) && classified.Classification.Outcome == OutcomeRateLimited {
		return classified.Classification.RetryAfter, true
	}
	return 0, false
}
