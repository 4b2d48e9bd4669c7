package health

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultTimeout bounds a full aggregation.
const DefaultTimeout = 5 * time.Second

// Report is an aggregated health result.
type Report struct {
	Status    Status            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]Result `json:"checks,omitempty"`
}

// Aggregator runs a set of checkers.
type Aggregator struct {
	timeout time.Duration
	now     func() time.Time

	mu       sync.RWMutex
	checkers []Checker
}

// NewAggregator creates an aggregator. A non-positive timeout uses
// DefaultTimeout.
func NewAggregator(timeout time.Duration, checkers ...Checker) *Aggregator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	a := &Aggregator{timeout: timeout, now: time.Now}
	for _, c := range checkers {
		a.Register(c)
	}
	return a
}

// Register adds c, replacing any checker with the same name.
func (a *Aggregator) Register(c Checker) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if i := slices.IndexFunc(a.checkers, func(x Checker) bool { return x.Name() == c.Name() }); i >= 0 {
		a.checkers[i] = c
		return
	}
	a.checkers = append(a.checkers, c)
}

// Names returns checker names in registration order.
func (a *Aggregator) Names() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	names := make([]string, len(a.checkers))
	for i, c := range a.checkers {
		names[i] = c.Name()
	}
	return names
}

// Check runs the named checker alone.
func (a *Aggregator) Check(ctx context.Context, name string) (Result, error) {
	a.mu.RLock()
	i := slices.IndexFunc(a.checkers, func(x Checker) bool { return x.Name() == name })
	var c Checker
	if i >= 0 {
		c = a.checkers[i]
	}
	a.mu.RUnlock()
	if c == nil {
		return Result{}, ErrCheckerNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	return run(ctx, c), nil
}

// Run executes every checker concurrently. A checker still running when
// the timeout expires is reported unhealthy.
func (a *Aggregator) Run(ctx context.Context) Report {
	a.mu.RLock()
	checkers := slices.Clone(a.checkers)
	a.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	results := make([]Result, len(checkers))
	var g errgroup.Group
	for i, c := range checkers {
		g.Go(func() error {
			results[i] = run(ctx, c)
			return nil
		})
	}
	_ = g.Wait()

	report := Report{Status: StatusHealthy, Timestamp: a.now().UTC(), Checks: make(map[string]Result, len(checkers))}
	for i, c := range checkers {
		report.Checks[c.Name()] = results[i]
		report.Status = report.Status.Worse(results[i].Status)
	}
	return report
}

func run(ctx context.Context, c Checker) Result {
	start := time.Now()
	done := make(chan Result, 1)
	go func() { done <- c.Check(ctx) }()

	var r Result
	select {
	case r = <-done:
	case <-ctx.Done():
		r = Unhealthy("check timed out", ErrCheckTimeout)
	}
	r.Duration = time.Since(start)
	if r.Err != nil {
		r.Details = maps.Clone(r.Details)
		if r.Details == nil {
			r.Details = map[string]any{}
		}
		r.Details["error"] = r.Err.Error()
	}
	return r
}
