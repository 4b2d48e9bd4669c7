package health

import (
	"context"
	"encoding/json"
	"time"
)

// Status is a component's health.
type Status int

const (
	StatusHealthy Status = iota
	StatusDegraded
	StatusUnhealthy
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Worse returns the more severe of s and o.
func (s Status) Worse(o Status) Status {
	return max(s, o)
}

// Result is the outcome of one check.
type Result struct {
	Status   Status         `json:"status"`
	Message  string         `json:"message,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
	Duration time.Duration  `json:"-"`
	Err      error          `json:"-"`
}

func Healthy(msg string) Result  { return Result{Status: StatusHealthy, Message: msg} }
func Degraded(msg string) Result { return Result{Status: StatusDegraded, Message: msg} }

func Unhealthy(msg string, err error) Result {
	return Result{Status: StatusUnhealthy, Message: msg, Err: err}
}

// With returns r with details attached.
func (r Result) With(details map[string]any) Result {
	r.Details = details
	return r
}

// Checker inspects one component.
type Checker interface {
	Name() string
	Check(ctx context.Context) Result
}

type funcChecker struct {
	name string
	fn   func(context.Context) Result
}

func (f funcChecker) Name() string                     { return f.name }
func (f funcChecker) Check(ctx context.Context) Result { return f.fn(ctx) }

// CheckerFunc adapts fn to a Checker.
func CheckerFunc(name string, fn func(context.Context) Result) Checker {
	return funcChecker{name: name, fn: fn}
}
