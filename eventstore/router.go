package eventstore

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jonwraymond/resaccess/observe"
)

// Predicate selects the events a subscription receives.
type Predicate func(Event) bool

// Handler receives a matching event. A returned error is logged and
// counted against the subscription; it does not affect other handlers.
type Handler func(ctx context.Context, e Event) error

// Filter is a declarative Predicate. Empty fields match everything.
type Filter struct {
	ResourceType string    `json:"resource_type,omitempty" yaml:"resource_type"`
	Type         EventType `json:"type,omitempty" yaml:"type"`
	ResourceID   string    `json:"resource_id,omitempty" yaml:"resource_id"`
	Source       string    `json:"source,omitempty" yaml:"source"`
}

// Predicate returns f as a Predicate.
func (f Filter) Predicate() Predicate {
	return func(e Event) bool {
		return (f.ResourceType == "" || f.ResourceType == e.ResourceType) &&
			(f.Type == "" || f.Type == e.Type) &&
			(f.ResourceID == "" || f.ResourceID == e.ResourceID) &&
			(f.Source == "" || f.Source == e.Source)
	}
}

// AnyOf matches events accepted by at least one filter. With no filters it
// matches every event.
func AnyOf(filters ...Filter) Predicate {
	if len(filters) == 0 {
		return func(Event) bool { return true }
	}
	preds := make([]Predicate, len(filters))
	for i, f := range filters {
		preds[i] = f.Predicate()
	}
	return func(e Event) bool {
		for _, p := range preds {
			if p(e) {
				return true
			}
		}
		return false
	}
}

// Transport names how a subscription delivers events out of process.
type Transport string

const (
	TransportInternal Transport = "internal"
	TransportWebhook  Transport = "webhook"
	TransportRedis    Transport = "redis"
)

// SubscribeOption configures a subscription.
type SubscribeOption func(*Subscription)

// WithClientID groups subscriptions for UnsubscribeClient.
func WithClientID(id string) SubscribeOption {
	return func(s *Subscription) { s.clientID = id }
}

// WithTransport records the delivery transport.
func WithTransport(t Transport) SubscribeOption {
	return func(s *Subscription) { s.transport = t }
}

// WithName sets the name used in logs and metrics.
func WithName(name string) SubscribeOption {
	return func(s *Subscription) { s.name = name }
}

// Subscription is a registered handler with its own bounded queue and
// delivery goroutine.
type Subscription struct {
	id        string
	name      string
	clientID  string
	transport Transport
	createdAt time.Time
	pred      Predicate
	handler   Handler
	router    *Router

	queue    chan envelope
	stopOnce sync.Once

	active    atomic.Bool
	delivered atomic.Uint64
	failures  atomic.Uint64
	dropped   atomic.Uint64
}

// ID returns the subscription's unique id.
func (s *Subscription) ID() string { return s.id }

// Unsubscribe stops delivery. An event already being handled completes;
// queued events are discarded.
func (s *Subscription) Unsubscribe() {
	if s.active.CompareAndSwap(true, false) {
		s.router.remove(s)
	}
}

// Info returns a snapshot of the subscription.
func (s *Subscription) Info() SubscriptionInfo {
	return SubscriptionInfo{
		ID:        s.id,
		Name:      s.name,
		ClientID:  s.clientID,
		Transport: s.transport,
		CreatedAt: s.createdAt,
		Active:    s.active.Load(),
		Queued:    len(s.queue),
		Delivered: s.delivered.Load(),
		Failures:  s.failures.Load(),
		Dropped:   s.dropped.Load(),
	}
}

// stop closes the queue; callers hold the router's write lock.
func (s *Subscription) stop() {
	s.stopOnce.Do(func() { close(s.queue) })
}

// SubscriptionInfo describes a subscription.
type SubscriptionInfo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	ClientID  string    `json:"client_id,omitempty"`
	Transport Transport `json:"transport"`
	CreatedAt time.Time `json:"created_at"`
	Active    bool      `json:"active"`
	Queued    int       `json:"queued"`
	Delivered uint64    `json:"delivered"`
	Failures  uint64    `json:"failures"`
	Dropped   uint64    `json:"dropped"`
}

// RouterStats summarises router activity.
type RouterStats struct {
	Subscriptions int               `json:"subscriptions"`
	ByTransport   map[Transport]int `json:"by_transport"`
	Published     uint64            `json:"published"`
	Delivered     uint64            `json:"delivered"`
	Dropped       uint64            `json:"dropped"`
	Failures      uint64            `json:"failures"`
	Queued        int               `json:"queued"`
}

// RouterOptions configures a Router.
type RouterOptions struct {
	// QueueSize bounds the events waiting for each subscription. A full
	// queue drops the event for that subscription only.
	// Default: 256
	QueueSize int

	// HandlerTimeout bounds each handler call. Zero means no bound.
	HandlerTimeout time.Duration

	Logger  observe.Logger
	Metrics observe.Metrics
	Now     func() time.Time
}

type envelope struct {
	event Event
	flush chan struct{}
}

// Router offers published events to matching subscriptions in
// registration order. Each subscription is served by its own goroutine, so
// a slow or failing handler delays only its own deliveries.
//
// Contract:
//   - Concurrency: safe for concurrent use.
//   - Ordering: each subscription sees events in publish order.
//   - Publish never blocks; a full subscription queue drops the event for
//     that subscription.
//   - Handler errors and panics are contained per handler.
type Router struct {
	mu     sync.RWMutex
	subs   []*Subscription
	closed bool

	workers sync.WaitGroup
	done    chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	published atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
	failures  atomic.Uint64

	opts RouterOptions
}

// NewRouter creates a Router. Call Close to stop its delivery goroutines.
func NewRouter(opts RouterOptions) *Router {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Logger == nil {
		opts.Logger = observe.NopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = observe.NopMetrics()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	opts.Logger = opts.Logger.With(observe.Component("router"))

	ctx, cancel := context.WithCancel(context.Background())
	return &Router{
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
		opts:   opts,
	}
}

// Subscribe registers handler for events matching pred. A nil pred matches
// every event. Subscribing to a closed router returns an inactive
// subscription.
func (r *Router) Subscribe(pred Predicate, handler Handler, opts ...SubscribeOption) *Subscription {
	if pred == nil {
		pred = func(Event) bool { return true }
	}
	s := &Subscription{
		id:        uuid.NewString(),
		transport: TransportInternal,
		createdAt: r.opts.Now(),
		pred:      pred,
		handler:   handler,
		router:    r,
		queue:     make(chan envelope, r.opts.QueueSize),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.name == "" {
		s.name = s.id
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return s
	}
	s.active.Store(true)
	r.subs = append(r.subs, s)
	r.workers.Add(1)
	go r.run(s)
	return s
}

// UnsubscribeClient removes every subscription registered with clientID
// and returns how many were removed.
func (r *Router) UnsubscribeClient(clientID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	r.subs = slices.DeleteFunc(r.subs, func(s *Subscription) bool {
		if s.clientID != clientID {
			return false
		}
		s.active.Store(false)
		s.stop()
		n++
		return true
	})
	return n
}

func (r *Router) remove(s *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = slices.DeleteFunc(r.subs, func(x *Subscription) bool { return x == s })
	s.stop()
}

// Subscriptions returns a snapshot of active subscriptions in registration order.
func (r *Router) Subscriptions() []SubscriptionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]SubscriptionInfo, len(r.subs))
	for i, s := range r.subs {
		out[i] = s.Info()
	}
	return out
}

// Stats returns router counters.
func (r *Router) Stats() RouterStats {
	r.mu.RLock()
	byTransport := make(map[Transport]int)
	queued := 0
	for _, s := range r.subs {
		byTransport[s.transport]++
		queued += len(s.queue)
	}
	n := len(r.subs)
	r.mu.RUnlock()

	return RouterStats{
		Subscriptions: n,
		ByTransport:   byTransport,
		Published:     r.published.Load(),
		Delivered:     r.delivered.Load(),
		Dropped:       r.dropped.Load(),
		Failures:      r.failures.Load(),
		Queued:        queued,
	}
}

// Publish offers e to every matching subscription, in registration order.
// It reports false when the router is closed or any matching subscription
// had to drop e.
func (r *Router) Publish(e Event) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return false
	}

	r.published.Add(1)
	accepted := true
	for _, s := range r.subs {
		if !r.matches(s, e) {
			continue
		}
		select {
		case s.queue <- envelope{event: e}:
		default:
			accepted = false
			s.dropped.Add(1)
			r.dropped.Add(1)
			r.opts.Metrics.RecordDeliveryDropped(r.ctx)
			r.opts.Logger.Warn(r.ctx, "subscriber queue full, event dropped",
				observe.F("subscription", s.name), observe.F("seq", e.Seq),
				observe.F("event_type", string(e.Type)),
				observe.F("resource_type", e.ResourceType), observe.F("resource_id", e.ResourceID))
		}
	}
	return accepted
}

func (r *Router) matches(s *Subscription, e Event) (ok bool) {
	defer func() {
		if p := recover(); p != nil {
			r.opts.Logger.Warn(r.ctx, "subscriber predicate panicked",
				observe.F("subscription", s.name), observe.F("panic", fmt.Sprint(p)))
			ok = false
		}
	}()
	return s.active.Load() && s.pred(e)
}

// Flush waits until every event published before the call has been
// handled by every subscription, or ctx ends.
func (r *Router) Flush(ctx context.Context) error {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return ErrClosed
	}
	markers := make([]chan struct{}, 0, len(r.subs))
	for _, s := range r.subs {
		marker := make(chan struct{})
		select {
		case s.queue <- envelope{flush: marker}:
			markers = append(markers, marker)
		case <-ctx.Done():
			r.mu.RUnlock()
			return ctx.Err()
		}
	}
	r.mu.RUnlock()

	for _, marker := range markers {
		select {
		case <-marker:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close stops accepting events, delivers what is queued, and stops every
// delivery goroutine. If ctx ends first, in-flight handlers see their
// context cancelled.
func (r *Router) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		<-r.done
		return nil
	}
	r.closed = true
	for _, s := range r.subs {
		s.stop()
	}
	r.mu.Unlock()

	go func() {
		r.workers.Wait()
		close(r.done)
	}()

	select {
	case <-r.done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		<-r.done
		return ctx.Err()
	}
}

func (r *Router) run(s *Subscription) {
	defer r.workers.Done()
	for env := range s.queue {
		if env.flush != nil {
			close(env.flush)
			continue
		}
		if !s.active.Load() {
			continue
		}
		r.deliver(s, env.event)
	}
}

func (r *Router) deliver(s *Subscription, e Event) {
	if err := r.call(s, e); err != nil {
		s.failures.Add(1)
		r.failures.Add(1)
		r.opts.Metrics.RecordHandlerFailure(r.ctx, s.name)
		r.opts.Logger.Warn(r.ctx, "subscriber failed",
			observe.F("subscription", s.name), observe.F("seq", e.Seq), observe.Err(err))
		return
	}
	s.delivered.Add(1)
	r.delivered.Add(1)
}

func (r *Router) call(s *Subscription, e Event) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("eventstore: subscriber panic: %v", p)
		}
	}()

	ctx := r.ctx
	if r.opts.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.HandlerTimeout)
		defer cancel()
	}
	return s.handler(ctx, e.Clone())
}
