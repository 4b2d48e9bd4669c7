package access

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonwraymond/resaccess/cache"
	"github.com/jonwraymond/resaccess/eventstore"
	"github.com/jonwraymond/resaccess/observe"
	"github.com/jonwraymond/resaccess/resilience"
)

// DefaultSource is recorded on events when Deps.Source is empty.
const DefaultSource = "resaccess"

// Deps are the collaborators of a Layer. Every field is optional.
type Deps struct {
	// Executor runs remote calls.
	// Default: an executor with a default retry loop
	Executor *resilience.Executor

	// Cache stores fetched resources and list results.
	// Default: cache.New[any]() with the default policy
	Cache *cache.ResourceCache[any]

	// Events records mutations. Nil disables event recording.
	Events *eventstore.Store

	// Router is closed with the layer. It should be the router Events
	// publishes to.
	Router *eventstore.Router

	// Source is stamped on recorded events.
	Source string

	// Observe traces and times every Fetch, List and Mutate.
	// Default: untraced middleware over Logger and Metrics
	Observe *observe.Middleware

	Logger  observe.Logger
	Metrics observe.Metrics
}

// Layer is the resource-access layer.
type Layer struct {
	exec   *resilience.Executor
	cache  *cache.ResourceCache[any]
	reads  *cache.ReadThrough[any]
	events *eventstore.Store
	router *eventstore.Router
	source string
	obs    *observe.Middleware
	logger observe.Logger
}

// New builds a Layer from deps.
func New(deps Deps) *Layer {
	if deps.Logger == nil {
		deps.Logger = observe.NopLogger()
	}
	if deps.Metrics == nil {
		deps.Metrics = observe.NopMetrics()
	}
	if deps.Executor == nil {
		deps.Executor = resilience.NewExecutor(resilience.WithRetry(resilience.NewRetry(resilience.RetryConfig{
			Logger:  deps.Logger,
			Metrics: deps.Metrics,
		})))
	}
	if deps.Cache == nil {
		deps.Cache = cache.New[any](cache.WithLogger(deps.Logger), cache.WithMetrics(deps.Metrics))
	}
	if deps.Observe == nil {
		deps.Observe = observe.NewMiddleware(nil, deps.Metrics, deps.Logger)
	}
	if deps.Source == "" {
		deps.Source = DefaultSource
	}
	logger := deps.Logger.With(observe.Component("access"))
	return &Layer{
		exec:   deps.Executor,
		cache:  deps.Cache,
		reads:  cache.NewReadThrough[any](deps.Cache, logger),
		events: deps.Events,
		router: deps.Router,
		source: deps.Source,
		obs:    deps.Observe,
		logger: logger,
	}
}

func (l *Layer) Executor() *resilience.Executor   { return l.exec }
func (l *Layer) Cache() *cache.ResourceCache[any] { return l.cache }

// Events returns the event store, or nil.
func (l *Layer) Events() *eventstore.Store { return l.events }

// Router returns the subscription router, or nil.
func (l *Layer) Router() *eventstore.Router { return l.router }

func (l *Layer) observed(ctx context.Context, meta observe.OpMeta, fn func(context.Context) error) error {
	return l.obs.Wrap(meta, fn)(ctx)
}

// Close closes the event store, then drains and stops the router.
func (l *Layer) Close(ctx context.Context) error {
	var errs []error
	if l.events != nil {
		if err := l.events.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close event store: %w", err))
		}
	}
	if l.router != nil {
		if err := l.router.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close router: %w", err))
		}
	}
	return errors.Join(errs...)
}
