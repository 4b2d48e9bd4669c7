package health

import (
	"context"
	"fmt"

	"github.com/jonwraymond/resaccess/cache"
	"github.com/jonwraymond/resaccess/eventstore"
	"github.com/jonwraymond/resaccess/resilience"
)

// EventStoreChecker reports the event store degraded after a failed
// durable write, and unhealthy when the durable log cannot be read.
type EventStoreChecker struct {
	Store *eventstore.Store
}

func (EventStoreChecker) Name() string { return "event_store" }

func (c EventStoreChecker) Check(ctx context.Context) Result {
	st := c.Store.Stats(ctx)
	details := map[string]any{
		"in_memory":              st.InMemory,
		"durable":                st.Durable,
		"last_seq":               st.LastSeq,
		"durable_write_failures": st.DurableWriteFailures,
	}
	switch {
	case st.Durable < 0:
		return Unhealthy("durable log unreadable", nil).With(details)
	case st.Degraded:
		return Degraded("durable writes failing, events kept in memory").With(details)
	default:
		return Healthy(fmt.Sprintf("%d events", st.TotalEvents)).With(details)
	}
}

// CircuitChecker maps a circuit breaker's state: open is unhealthy,
// half-open is degraded.
type CircuitChecker struct {
	// Remote names the protected dependency.
	Remote  string
	Breaker *resilience.CircuitBreaker
}

func (c CircuitChecker) Name() string { return "circuit:" + c.Remote }

func (c CircuitChecker) Check(context.Context) Result {
	m := c.Breaker.Metrics()
	details := map[string]any{"state": m.State.String(), "failures": m.Failures}
	if !m.LastFailure.IsZero() {
		details["last_failure"] = m.LastFailure
	}
	switch m.State {
	case resilience.StateOpen:
		return Unhealthy("circuit open", resilience.ErrCircuitOpen).With(details)
	case resilience.StateHalfOpen:
		return Degraded("circuit half-open").With(details)
	default:
		return Healthy("circuit closed").With(details)
	}
}

// Sizer is satisfied by *cache.ResourceCache.
type Sizer interface {
	Stats() cache.Stats
}

// CacheChecker reports the cache degraded above SoftLimit entries.
// A zero SoftLimit never degrades.
type CacheChecker struct {
	Cache     Sizer
	SoftLimit int
}

func (CacheChecker) Name() string { return "cache" }

func (c CacheChecker) Check(context.Context) Result {
	st := c.Cache.Stats()
	details := map[string]any{
		"entries":   st.Entries,
		"hits":      st.Hits,
		"misses":    st.Misses,
		"evictions": st.Evictions,
	}
	if c.SoftLimit > 0 && st.Entries > c.SoftLimit {
		return Degraded(fmt.Sprintf("%d entries exceeds soft limit %d", st.Entries, c.SoftLimit)).With(details)
	}
	return Healthy(fmt.Sprintf("%d entries", st.Entries)).With(details)
}
