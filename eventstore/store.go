package eventstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonwraymond/resaccess/observe"
)

// Defaults for Options.
const (
	DefaultCapacity    = 1000
	DefaultRetention   = 7 * 24 * time.Hour
	DefaultRotateEvery = time.Minute
)

// Options configures a Store.
type Options struct {
	// Capacity bounds the in-memory buffer.
	// Default: 1000
	Capacity int

	// Retention is how long events are kept before Rotate prunes them.
	// Default: 7 days
	Retention time.Duration

	// RotateEvery is the minimum interval between rotations triggered by
	// Append, and the tick of Run. Negative disables rotation on append.
	// Default: 1m
	RotateEvery time.Duration

	// Log is the durable log. Nil keeps events in the buffer only.
	Log Log

	// Router receives every appended event. Optional.
	Router *Router

	Logger  observe.Logger
	Metrics observe.Metrics
	Now     func() time.Time
}

func (o *Options) setDefaults() error {
	if o.Capacity < 0 {
		return fmt.Errorf("%w: capacity %d", ErrInvalidOptions, o.Capacity)
	}
	if o.Retention < 0 {
		return fmt.Errorf("%w: retention %s", ErrInvalidOptions, o.Retention)
	}
	if o.Capacity == 0 {
		o.Capacity = DefaultCapacity
	}
	if o.Retention == 0 {
		o.Retention = DefaultRetention
	}
	if o.RotateEvery == 0 {
		o.RotateEvery = DefaultRotateEvery
	}
	if o.Logger == nil {
		o.Logger = observe.NopLogger()
	}
	if o.Metrics == nil {
		o.Metrics = observe.NopMetrics()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return nil
}

// Stats describes the store's contents.
type Stats struct {
	// TotalEvents is the durable count, or the buffer count without a log.
	TotalEvents          int       `json:"total_events"`
	InMemory             int       `json:"in_memory"`
	Durable              int       `json:"durable"`
	OldestInMemory       time.Time `json:"oldest_in_memory,omitzero"`
	NewestInMemory       time.Time `json:"newest_in_memory,omitzero"`
	FirstSeq             uint64    `json:"first_seq"`
	LastSeq              uint64    `json:"last_seq"`
	Appended             uint64    `json:"appended"`
	DurableWriteFailures uint64    `json:"durable_write_failures"`
	Degraded             bool      `json:"degraded"`
	LastRotation         time.Time `json:"last_rotation,omitzero"`
}

// RotateResult reports what a rotation removed.
type RotateResult struct {
	Cutoff        time.Time `json:"cutoff"`
	PrunedDurable int       `json:"pruned_durable"`
	PrunedMemory  int       `json:"pruned_memory"`
}

// Store is the event store: a bounded buffer of recent events in front of
// a durable Log.
//
// Contract:
//   - Concurrency: safe for concurrent use. Append and Rotate are atomic
//     with respect to each other and to readers.
//   - Ordering: Seq is assigned under the lock, so it is strictly
//     increasing in append order.
//   - Durability: a failed durable write keeps the event in the buffer,
//     is logged, and marks the store degraded. It never fails Append.
type Store struct {
	mu  sync.RWMutex
	buf *ring

	// evicted is set once any event has left the buffer while still
	// possibly present in the log. watermark and evictedSeq describe the
	// newest such event; the buffer alone answers queries past them.
	evicted    bool
	watermark  time.Time
	evictedSeq uint64

	lastSeq         uint64
	appended        uint64
	durableFailures uint64
	degraded        bool
	lastRotate      time.Time
	closed          bool

	log    Log
	router *Router
	opts   Options
	logger observe.Logger
}

// Open creates a Store, recovering the sequence counter from the log and
// warming the buffer with its most recent events.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if err := opts.setDefaults(); err != nil {
		return nil, err
	}

	s := &Store{
		buf:        newRing(opts.Capacity),
		log:        opts.Log,
		router:     opts.Router,
		opts:       opts,
		logger:     opts.Logger.With(observe.Component("eventstore")),
		lastRotate: opts.Now(),
	}

	if s.log == nil {
		return s, nil
	}

	last, err := s.log.LastSeq(ctx)
	if err != nil {
		return nil, fmt.Errorf("eventstore: recover last seq: %w", err)
	}
	s.lastSeq = last

	tail, err := s.log.Tail(ctx, opts.Capacity)
	if err != nil {
		return nil, fmt.Errorf("eventstore: warm buffer: %w", err)
	}
	for _, e := range tail {
		s.buf.push(e)
	}

	count, err := s.log.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("eventstore: count log: %w", err)
	}
	if count > len(tail) {
		// Older events exist only in the log; treat everything up to the
		// oldest warmed event as uncovered.
		if oldest, ok := s.buf.oldest(); ok {
			s.evicted = true
			s.watermark = oldest.Timestamp
			s.evictedSeq = oldest.Seq - 1
		}
	}

	s.logger.Info(ctx, "event store opened",
		observe.F("last_seq", last), observe.F("warmed", len(tail)), observe.F("durable", count))
	return s, nil
}

// Append stores e and returns it with Seq, ID and Timestamp filled in.
func (s *Store) Append(ctx context.Context, e Event) (Event, error) {
	stored, err := s.AppendBatch(ctx, []Event{e})
	if err != nil {
		return Event{}, err
	}
	return stored[0], nil
}

// AppendBatch stores events in order. Every event is validated before any
// is stored, so an invalid event rejects the whole batch.
func (s *Store) AppendBatch(ctx context.Context, events []Event) ([]Event, error) {
	for i, e := range events {
		if err := e.Validate(); err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
	}
	if len(events) == 0 {
		return nil, nil
	}

	stored := make([]Event, 0, len(events))
	durable := make([]bool, 0, len(events))

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	for _, e := range events {
		e = e.Clone()
		s.lastSeq++
		e.Seq = s.lastSeq
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.Timestamp.IsZero() {
			e.Timestamp = s.opts.Now()
		}
		e.Timestamp = e.Timestamp.UTC()

		if old, ok := s.buf.push(e); ok {
			s.evicted = true
			s.evictedSeq = old.Seq
			if old.Timestamp.After(s.watermark) {
				s.watermark = old.Timestamp
			}
		}
		s.appended++

		ok := true
		if s.log != nil {
			if err := s.log.Append(ctx, e); err != nil {
				ok = false
				s.durableFailures++
				s.degraded = true
				s.logger.Warn(ctx, "durable write failed, event kept in memory only",
					observe.F("seq", e.Seq), observe.F("event_id", e.ID), observe.Err(err))
			}
		}
		stored = append(stored, e)
		durable = append(durable, ok && s.log != nil)
	}
	rotateDue := s.opts.RotateEvery > 0 && s.opts.Now().Sub(s.lastRotate) >= s.opts.RotateEvery
	s.mu.Unlock()

	for i, e := range stored {
		s.opts.Metrics.RecordEventAppend(ctx, string(e.Type), durable[i])
		if s.router != nil {
			s.router.Publish(e)
		}
	}

	if rotateDue {
		if _, err := s.Rotate(ctx); err != nil {
			s.logger.Warn(ctx, "rotation on append failed", observe.Err(err))
		}
	}

	out := make([]Event, len(stored))
	for i, e := range stored {
		out[i] = e.Clone()
	}
	return out, nil
}

// Query returns matching events in append order. The buffer answers when
// the query window lies past the newest event it has evicted; otherwise
// the durable log is read and merged with the buffer.
func (s *Store) Query(ctx context.Context, q Query) ([]Event, error) {
	window := q.Window()

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrClosed
	}
	var fromBuf []Event
	s.buf.each(func(e Event) bool {
		if window.Match(e) {
			fromBuf = append(fromBuf, e.Clone())
		}
		return true
	})
	covered := s.coveredLocked(q)
	log := s.log
	s.mu.RUnlock()

	if covered || log == nil {
		return q.Page(fromBuf), nil
	}

	fromLog, err := log.Query(ctx, window)
	if err != nil {
		s.logger.Warn(ctx, "durable log unavailable, returning buffered events only", observe.Err(err))
		return q.Page(fromBuf), nil
	}
	return q.Page(mergeBySeq(fromLog, fromBuf)), nil
}

func (s *Store) coveredLocked(q Query) bool {
	if !s.evicted {
		return true
	}
	if q.AfterSeq >= s.evictedSeq {
		return true
	}
	return !q.Since.IsZero() && q.Since.After(s.watermark)
}

// Recent returns up to n buffered events, newest first.
func (s *Store) Recent(_ context.Context, n int) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 || n > s.buf.len() {
		n = s.buf.len()
	}
	out := make([]Event, 0, n)
	for i := s.buf.len() - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.buf.at(i).Clone())
	}
	return out
}

// Rotate prunes events older than the retention window from the log and
// the buffer.
func (s *Store) Rotate(ctx context.Context) (RotateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return RotateResult{}, ErrClosed
	}

	now := s.opts.Now()
	res := RotateResult{Cutoff: now.Add(-s.opts.Retention)}
	s.lastRotate = now

	// The log goes first so the buffer never drops events the log still
	// holds.
	if s.log != nil {
		n, err := s.log.PruneBefore(ctx, res.Cutoff)
		if err != nil {
			return res, fmt.Errorf("eventstore: prune durable log: %w", err)
		}
		res.PrunedDurable = n
	}

	res.PrunedMemory = s.buf.retain(func(e Event) bool {
		return !e.Timestamp.Before(res.Cutoff)
	})

	if res.PrunedMemory > 0 || res.PrunedDurable > 0 {
		s.logger.Info(ctx, "events rotated",
			observe.F("cutoff", res.Cutoff),
			observe.F("pruned_memory", res.PrunedMemory),
			observe.F("pruned_durable", res.PrunedDurable))
	}
	return res, nil
}

// Run rotates every RotateEvery until ctx ends.
func (s *Store) Run(ctx context.Context) error {
	interval := s.opts.RotateEvery
	if interval <= 0 {
		interval = DefaultRotateEvery
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Rotate(ctx); err != nil {
				if errors.Is(err, ErrClosed) {
					return nil
				}
				s.logger.Warn(ctx, "scheduled rotation failed", observe.Err(err))
			}
		}
	}
}

// Stats returns a snapshot of the store. A durable count that cannot be
// read is reported as -1.
func (s *Store) Stats(ctx context.Context) Stats {
	s.mu.RLock()
	st := Stats{
		InMemory:             s.buf.len(),
		LastSeq:              s.lastSeq,
		Appended:             s.appended,
		DurableWriteFailures: s.durableFailures,
		Degraded:             s.degraded,
		LastRotation:         s.lastRotate,
	}
	if e, ok := s.buf.oldest(); ok {
		st.OldestInMemory = e.Timestamp
		st.FirstSeq = e.Seq
	}
	if e, ok := s.buf.newest(); ok {
		st.NewestInMemory = e.Timestamp
	}
	log := s.log
	s.mu.RUnlock()

	st.TotalEvents = st.InMemory
	if log != nil {
		n, err := log.Count(ctx)
		if err != nil {
			st.Durable = -1
			return st
		}
		st.Durable = n
		st.TotalEvents = max(n, st.InMemory)
		if first, err := log.Query(ctx, Query{Limit: 1}); err == nil && len(first) == 1 {
			st.FirstSeq = first[0].Seq
		}
	}
	return st
}

// Buffered returns the buffered events in append order.
func (s *Store) Buffered() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Event, 0, s.buf.len())
	s.buf.each(func(e Event) bool {
		out = append(out, e.Clone())
		return true
	})
	return slices.Clip(out)
}

// Close closes the durable log. The router, if any, belongs to the caller.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.log != nil {
		return s.log.Close()
	}
	return nil
}
