package eventstore

import (
	"context"
	"sync"
	"time"
)

// Log is a durable, append-only event log.
//
// Contract:
//   - Ordering: Query and Tail return events in ascending Seq order, and
//     events must be replayable in that order after a restart.
//   - Concurrency: implementations must be safe for concurrent use.
//   - Query applies Limit and Offset after filtering.
type Log interface {
	Append(ctx context.Context, e Event) error
	Query(ctx context.Context, q Query) ([]Event, error)
	// Tail returns the n most recent events.
	Tail(ctx context.Context, n int) ([]Event, error)
	// LastSeq returns the highest stored Seq, or 0 for an empty log.
	LastSeq(ctx context.Context) (uint64, error)
	// PruneBefore deletes events with Timestamp before cutoff.
	PruneBefore(ctx context.Context, cutoff time.Time) (int, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// MemoryLog is a Log held in process memory.
type MemoryLog struct {
	mu     sync.RWMutex
	events []Event
	closed bool
}

// NewMemoryLog creates an empty MemoryLog.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

func (l *MemoryLog) Append(_ context.Context, e Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	e = e.Clone()
	if n := len(l.events); n > 0 && l.events[n-1].Seq >= e.Seq {
		l.events = append(l.events, e)
		sortBySeq(l.events)
		return nil
	}
	l.events = append(l.events, e)
	return nil
}

func (l *MemoryLog) Query(_ context.Context, q Query) ([]Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return nil, ErrClosed
	}
	return cloneAll(q.Filter(l.events)), nil
}

func (l *MemoryLog) Tail(_ context.Context, n int) ([]Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return nil, ErrClosed
	}
	if n <= 0 {
		return nil, nil
	}
	start := max(len(l.events)-n, 0)
	return cloneAll(l.events[start:]), nil
}

func (l *MemoryLog) LastSeq(context.Context) (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return 0, ErrClosed
	}
	if len(l.events) == 0 {
		return 0, nil
	}
	return l.events[len(l.events)-1].Seq, nil
}

func (l *MemoryLog) PruneBefore(_ context.Context, cutoff time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, ErrClosed
	}
	kept := l.events[:0]
	for _, e := range l.events {
		if !e.Timestamp.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	pruned := len(l.events) - len(kept)
	clear(l.events[len(kept):])
	l.events = kept
	return pruned, nil
}

func (l *MemoryLog) Count(context.Context) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return 0, ErrClosed
	}
	return len(l.events), nil
}

// Close marks the log closed; later calls return ErrClosed.
func (l *MemoryLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func cloneAll(events []Event) []Event {
	if len(events) == 0 {
		return nil
	}
	out := make([]Event, len(events))
	for i, e := range events {
		out[i] = e.Clone()
	}
	return out
}

var _ Log = (*MemoryLog)(nil)
