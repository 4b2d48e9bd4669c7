package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// Outcome is the retry-relevant category of a failure.
type Outcome int

const (
	// OutcomeUnknown is any failure the classifier has no rule for. It is
	// not retried.
	OutcomeUnknown Outcome = iota
	// OutcomeTransient is a temporary fault worth retrying with backoff.
	OutcomeTransient
	// OutcomeRateLimited means the remote asked the caller to wait.
	OutcomeRateLimited
	// OutcomePermanent will fail the same way on every attempt.
	OutcomePermanent
)

func (o Outcome) String() string {
	switch o {
	case OutcomeTransient:
		return "transient"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomePermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// ParseOutcome parses the String form of an Outcome.
func ParseOutcome(s string) (Outcome, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "transient":
		return OutcomeTransient, nil
	case "rate_limited", "ratelimited", "rate-limited":
		return OutcomeRateLimited, nil
	case "permanent":
		return OutcomePermanent, nil
	case "unknown":
		return OutcomeUnknown, nil
	default:
		return OutcomeUnknown, fmt.Errorf("resilience: unknown outcome %q", s)
	}
}

// Retryable reports whether the retry executor re-attempts this outcome.
func (o Outcome) Retryable() bool {
	return o == OutcomeTransient || o == OutcomeRateLimited
}

func (o Outcome) sentinel() error {
	switch o {
	case OutcomeTransient:
		return ErrTransient
	case OutcomeRateLimited:
		return ErrRateLimited
	case OutcomePermanent:
		return ErrPermanent
	default:
		return ErrUnknown
	}
}

// Failure is the raw material the classifier inspects.
// StatusCode 0 means no HTTP response was received.
type Failure struct {
	Operation  string
	StatusCode int
	Header     http.Header
	Err        error
}

// Classification is the classifier's verdict on a Failure.
type Classification struct {
	Outcome Outcome

	// RetryAfter is set for OutcomeRateLimited only.
	RetryAfter time.Duration

	// Reason is a short human-readable explanation, e.g. "status 503".
	Reason string
}

// ClassificationRule overrides the built-in table for matching failures.
type ClassificationRule struct {
	// Operation restricts the rule to one operation. Empty matches all.
	Operation string `yaml:"operation"`

	// StatusCodes lists the codes the rule applies to. Empty matches all
	// failures that carry an HTTP status.
	StatusCodes []int `yaml:"status_codes"`

	Outcome Outcome `yaml:"-"`
}

func (r ClassificationRule) matches(f Failure) bool {
	if r.Operation != "" && r.Operation != f.Operation {
		return false
	}
	if len(r.StatusCodes) == 0 {
		return f.StatusCode != 0
	}
	for _, code := range r.StatusCodes {
		if code == f.StatusCode {
			return true
		}
	}
	return false
}

// ClassifierConfig configures a Classifier.
type ClassifierConfig struct {
	// DefaultRetryAfter applies to rate-limited responses without usable
	// reset metadata.
	// Default: 60s
	DefaultRetryAfter time.Duration

	// MaxRetryAfter caps any computed retry-after.
	// Default: 1h
	MaxRetryAfter time.Duration

	// Overrides are consulted, in order, before the built-in table.
	Overrides []ClassificationRule

	// Now is the clock used to turn reset timestamps into durations.
	// Default: time.Now
	Now func() time.Time
}

// Classifier maps failures to outcomes. It is pure and safe for concurrent use.
type Classifier struct {
	config ClassifierConfig
}

// NewClassifier creates a classifier.
func NewClassifier(config ClassifierConfig) *Classifier {
	if config.DefaultRetryAfter <= 0 {
		config.DefaultRetryAfter = 60 * time.Second
	}
	if config.MaxRetryAfter <= 0 {
		config.MaxRetryAfter = time.Hour
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Classifier{config: config}
}

var defaultClassifier = NewClassifier(ClassifierConfig{})

// DefaultClassifier returns a classifier with default settings.
func DefaultClassifier() *Classifier { return defaultClassifier }

// Config returns the classifier configuration.
func (c *Classifier) Config() ClassifierConfig { return c.config }

// Classify maps a failure to an outcome.
func (c *Classifier) Classify(f Failure) Classification {
	for _, rule := range c.config.Overrides {
		if rule.matches(f) {
			cl := Classification{Outcome: rule.Outcome, Reason: "override"}
			if rule.Outcome == OutcomeRateLimited {
				cl.RetryAfter = c.retryAfter(f.Header)
			}
			return cl
		}
	}

	switch f.StatusCode {
	case http.StatusTooManyRequests:
		return Classification{
			Outcome:    OutcomeRateLimited,
			RetryAfter: c.retryAfter(f.Header),
			Reason:     "status 429",
		}
	case http.StatusForbidden:
		if f.Header != nil && f.Header.Get("X-RateLimit-Remaining") == "0" {
			return Classification{
				Outcome:    OutcomeRateLimited,
				RetryAfter: c.retryAfter(f.Header),
				Reason:     "status 403 with exhausted quota",
			}
		}
		return Classification{Outcome: OutcomePermanent, Reason: "status 403"}
	case http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return Classification{Outcome: OutcomeTransient, Reason: "status " + strconv.Itoa(f.StatusCode)}
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound:
		return Classification{Outcome: OutcomePermanent, Reason: "status " + strconv.Itoa(f.StatusCode)}
	case 0:
		if isTransportError(f.Err) {
			return Classification{Outcome: OutcomeTransient, Reason: "transport"}
		}
		return Classification{Outcome: OutcomeUnknown, Reason: "no status"}
	default:
		return Classification{Outcome: OutcomeUnknown, Reason: "status " + strconv.Itoa(f.StatusCode)}
	}
}

// ClassifyError classifies an error returned by an operation. A
// *StatusError anywhere in the chain supplies the status and headers; an
// already classified error keeps its classification.
func (c *Classifier) ClassifyError(operation string, err error) Classification {
	if err == nil {
		return Classification{}
	}
	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified.Classification
	}
	f := Failure{Operation: operation, Err: err}
	var status *StatusError
	if errors.As(err, &status) {
		f.StatusCode = status.StatusCode
		f.Header = status.Header
	}
	return c.Classify(f)
}

// retryAfter derives the wait from rate-limit headers, floored at zero and
// capped at MaxRetryAfter. The larger of reset and Retry-After wins.
func (c *Classifier) retryAfter(h http.Header) time.Duration {
	wait, found := time.Duration(0), false

	if h != nil {
		if v := h.Get("X-RateLimit-Reset"); v != "" {
			if secs, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
				d := time.Unix(secs, 0).Sub(c.config.Now())
				wait, found = max(d, 0), true
			}
		}
		if v := h.Get("Retry-After"); v != "" {
			if d, ok := c.parseRetryAfter(v); ok {
				if !found || d > wait {
					wait = d
				}
				found = true
			}
		}
	}

	if !found {
		wait = c.config.DefaultRetryAfter
	}
	return min(wait, c.config.MaxRetryAfter)
}

func (c *Classifier) parseRetryAfter(v string) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		return max(time.Duration(secs)*time.Second, 0), true
	}
	if t, err := http.ParseTime(v); err == nil {
		return max(t.Sub(c.config.Now()), 0), true
	}
	return 0, false
}

var transportMarkers = []string{
	"timeout",
	"timed out",
	"connection reset",
	"connection refused",
	"broken pipe",
	"unexpected eof",
	"no such host",
	"tls handshake",
}

func isTransportError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	// A per-attempt deadline looks like the context's; the retry loop
	// checks the caller's context separately.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range transportMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
