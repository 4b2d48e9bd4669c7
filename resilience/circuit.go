package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonwraymond/resaccess/observe"
)

// State is a circuit breaker position.
type State int

const (
	// StateClosed lets every call through.
	StateClosed State = iota
	// StateOpen rejects calls with ErrCircuitOpen until ResetTimeout passes.
	StateOpen
	// StateHalfOpen admits a limited number of probe calls.
	StateHalfOpen
)

var stateNames = [...]string{
	StateClosed:   "closed",
	StateOpen:     "open",
	StateHalfOpen: "half-open",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// CircuitBreakerConfig configures a CircuitBreaker.
type CircuitBreakerConfig struct {
	// Remote names the protected dependency in logs.
	Remote string

	// MaxFailures is the run of consecutive failures that opens the circuit.
	// Default: 5
	MaxFailures int

	// ResetTimeout is how long the circuit stays open after the last
	// failure before it admits a probe.
	// Default: 30s
	ResetTimeout time.Duration

	// HalfOpenMaxRequests caps concurrent probes while half-open.
	// Default: 1
	HalfOpenMaxRequests int

	// OnStateChange observes transitions. It runs with the breaker locked
	// and must not call back into it.
	OnStateChange func(from, to State)

	// IsFailure decides which errors count against the remote.
	// Default: IsCircuitFailure
	IsFailure func(err error) bool

	Logger observe.Logger
	Now    func() time.Time
}

// IsCircuitFailure reports whether err indicates an unhealthy remote: only
// transient and rate-limited outcomes count. Permanent and unclassified
// failures and caller cancellations do not.
func IsCircuitFailure(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled),
		errors.Is(err, ErrPermanent), errors.Is(err, ErrUnknown):
		return false
	case errors.Is(err, ErrMaxRetriesExceeded), errors.Is(err, ErrTransient), errors.Is(err, ErrRateLimited):
		return true
	}
	return DefaultClassifier().ClassifyError("", err).Outcome.Retryable()
}

// CircuitBreaker stops calling a remote that keeps failing with retryable
// outcomes, then probes it again after ResetTimeout.
//
// The open-to-half-open move is lazy: it happens on the first State,
// Metrics or Execute call after the timeout.
type CircuitBreaker struct {
	config CircuitBreakerConfig
	log    observe.Logger

	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	probes      int
	lastFailure time.Time
	rejected    uint64
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.MaxFailures <= 0 {
		config.MaxFailures = 5
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 30 * time.Second
	}
	if config.HalfOpenMaxRequests <= 0 {
		config.HalfOpenMaxRequests = 1
	}
	if config.IsFailure == nil {
		config.IsFailure = IsCircuitFailure
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	log := config.Logger
	if log == nil {
		log = observe.NopLogger()
	}
	return &CircuitBreaker{
		config: config,
		log:    log.With(observe.Component("circuit"), observe.F("remote", config.Remote)),
	}
}

// Execute runs op unless the circuit rejects it with ErrCircuitOpen, and
// records the outcome.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := op(ctx)
	cb.record(err)
	return err
}

// State returns the current position.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.refreshLocked()
}

// Reset closes the circuit and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures, cb.successes, cb.probes = 0, 0, 0
	cb.moveLocked(StateClosed)
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.refreshLocked() {
	case StateOpen:
		cb.rejected++
		return ErrCircuitOpen
	case StateHalfOpen:
		if cb.probes >= cb.config.HalfOpenMaxRequests {
			cb.rejected++
			return ErrCircuitOpen
		}
		cb.probes++
	}
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	failed := cb.config.IsFailure(err)

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if failed {
		cb.lastFailure = cb.config.Now()
	}
	switch cb.state {
	case StateClosed:
		if !failed {
			cb.failures = 0
			return
		}
		cb.failures++
		if cb.failures >= cb.config.MaxFailures {
			cb.moveLocked(StateOpen)
		}
	case StateHalfOpen:
		if failed {
			cb.moveLocked(StateOpen)
			return
		}
		cb.successes++
		cb.failures = 0
		cb.moveLocked(StateClosed)
	}
}

// refreshLocked applies the lazy open-to-half-open move.
func (cb *CircuitBreaker) refreshLocked() State {
	if cb.state == StateOpen && cb.config.Now().Sub(cb.lastFailure) >= cb.config.ResetTimeout {
		cb.moveLocked(StateHalfOpen)
	}
	return cb.state
}

func (cb *CircuitBreaker) moveLocked(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if to == StateHalfOpen {
		cb.probes = 0
	}
	if to == StateOpen {
		cb.log.Warn(context.Background(), "circuit opened",
			observe.F("failures", cb.failures), observe.F("reset_timeout", cb.config.ResetTimeout.String()))
	} else {
		cb.log.Info(context.Background(), "circuit state changed",
			observe.F("from", from.String()), observe.F("to", to.String()))
	}
	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(from, to)
	}
}

// Metrics returns a snapshot of the breaker.
func (cb *CircuitBreaker) Metrics() CircuitBreakerMetrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return CircuitBreakerMetrics{
		State:       cb.refreshLocked(),
		Failures:    cb.failures,
		Successes:   cb.successes,
		Rejected:    cb.rejected,
		LastFailure: cb.lastFailure,
	}
}

// CircuitBreakerMetrics is a CircuitBreaker snapshot. Failures is the
// current run of consecutive failures.
type CircuitBreakerMetrics struct {
	State       State
	Failures    int
	Successes   int
	Rejected    uint64
	LastFailure time.Time
}
