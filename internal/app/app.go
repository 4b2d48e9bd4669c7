// Package app assembles the resource-access layer and its admin API from
// a config.Config.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/jonwraymond/resaccess/access"
	"github.com/jonwraymond/resaccess/auth"
	"github.com/jonwraymond/resaccess/cache"
	"github.com/jonwraymond/resaccess/config"
	"github.com/jonwraymond/resaccess/eventstore"
	"github.com/jonwraymond/resaccess/eventstore/badgerlog"
	"github.com/jonwraymond/resaccess/eventstore/pglog"
	"github.com/jonwraymond/resaccess/eventstore/sqlitelog"
	"github.com/jonwraymond/resaccess/health"
	"github.com/jonwraymond/resaccess/observe"
	"github.com/jonwraymond/resaccess/relay"
	"github.com/jonwraymond/resaccess/resilience"
	"github.com/jonwraymond/resaccess/server"
)

// OpenLog opens the durable event log selected by cfg.Events.Backend.
// The memory backend returns a nil Log: the store keeps its buffer only.
func OpenLog(ctx context.Context, cfg *config.Config, logger observe.Logger) (eventstore.Log, error) {
	switch cfg.Events.Backend {
	case config.BackendMemory:
		return nil, nil
	case config.BackendBadger:
		bc := badgerlog.DefaultConfig(cfg.EventsPath())
		bc.SyncWrites = cfg.Events.SyncWrites
		bc.Logger = logger
		return badgerlog.Open(bc)
	case config.BackendSQLite:
		path := cfg.EventsPath()
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("app: create event log directory: %w", err)
		}
		return sqlitelog.Open(path)
	case config.BackendPostgres:
		return pglog.Open(ctx, pglog.DefaultConfig(cfg.Events.DSN))
	default:
		return nil, fmt.Errorf("app: unknown events backend %q", cfg.Events.Backend)
	}
}

// OpenStore opens the event store over the configured log, without a router.
// Commands that only read events use it.
func OpenStore(ctx context.Context, cfg *config.Config, logger observe.Logger) (*eventstore.Store, error) {
	log, err := OpenLog(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	store, err := eventstore.Open(ctx, eventstore.Options{
		Capacity:    cfg.Events.Capacity,
		Retention:   cfg.Events.Retention,
		RotateEvery: cfg.Events.RotateEvery,
		Log:         log,
		Logger:      logger,
	})
	if err != nil && log != nil {
		_ = log.Close()
	}
	return store, err
}

// NewExecutor builds the retry executor with the optional circuit breaker,
// rate limiter and bulkhead.
func NewExecutor(cfg *config.Config, logger observe.Logger, metrics observe.Metrics) (*resilience.Executor, error) {
	classifier, err := cfg.Classifier()
	if err != nil {
		return nil, err
	}
	opts := []resilience.ExecutorOption{
		resilience.WithRetry(resilience.NewRetry(cfg.RetryConfig(classifier, logger, metrics))),
	}
	if cfg.Circuit.Enabled {
		opts = append(opts, resilience.WithCircuitBreaker(resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Remote:       "remote",
			MaxFailures:  cfg.Circuit.MaxFailures,
			ResetTimeout: cfg.Circuit.ResetTimeout,
			Logger:       logger,
		})))
	}
	if cfg.RateLimit.Enabled {
		opts = append(opts, resilience.WithRateLimiter(resilience.NewRateLimiter(resilience.RateLimiterConfig{
			Rate:        cfg.RateLimit.Rate,
			Burst:       cfg.RateLimit.Burst,
			WaitOnLimit: true,
		})))
	}
	if cfg.RateLimit.MaxConcurrent > 0 {
		opts = append(opts, resilience.WithBulkhead(resilience.NewBulkhead(resilience.BulkheadConfig{
			MaxConcurrent: cfg.RateLimit.MaxConcurrent,
		})))
	}
	return resilience.NewExecutor(opts...), nil
}

// NewAuthenticator builds the admin API authenticator: JWT when a key is
// set, API keys when any are listed. Nil when neither is configured.
func NewAuthenticator(cfg config.AdminConfig) (auth.Authenticator, error) {
	var chain auth.Chain
	if cfg.JWTKey != "" {
		a, err := auth.NewJWTAuthenticator(auth.JWTConfig{Key: []byte(cfg.JWTKey), Issuer: cfg.Issuer})
		if err != nil {
			return nil, err
		}
		chain = append(chain, a)
	}
	if len(cfg.APIKeys) > 0 {
		chain = append(chain, auth.NewAPIKeyAuthenticator(cfg.APIKeys, server.AdminRole))
	}
	if len(chain) == 0 {
		return nil, nil
	}
	return chain, nil
}

// App is a running resource-access layer with its relays and admin API.
type App struct {
	Config   *config.Config
	Observer observe.Observer
	Layer    *access.Layer
	Server   *server.Server
	Health   *health.Aggregator

	relays []relay.Relay
	logger observe.Logger
}

// Build wires every component described by cfg. obs supplies logging,
// tracing and metrics.
func Build(ctx context.Context, cfg *config.Config, obs observe.Observer) (_ *App, err error) {
	mw, err := observe.MiddlewareFromObserver(obs)
	if err != nil {
		return nil, err
	}
	logger := obs.Logger()
	metrics := obs.Metrics()

	var closers []func() error
	defer func() {
		if err != nil {
			for i := len(closers) - 1; i >= 0; i-- {
				_ = closers[i]()
			}
		}
	}()

	router := eventstore.NewRouter(eventstore.RouterOptions{
		QueueSize:      cfg.Events.QueueSize,
		HandlerTimeout: cfg.Events.HandlerTimeout,
		Logger:         logger,
		Metrics:        metrics,
	})
	closers = append(closers, func() error { return router.Close(context.WithoutCancel(ctx)) })

	log, err := OpenLog(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	store, err := eventstore.Open(ctx, eventstore.Options{
		Capacity:    cfg.Events.Capacity,
		Retention:   cfg.Events.Retention,
		RotateEvery: cfg.Events.RotateEvery,
		Log:         log,
		Router:      router,
		Logger:      logger,
		Metrics:     metrics,
	})
	if err != nil {
		if log != nil {
			_ = log.Close()
		}
		return nil, err
	}
	closers = append(closers, store.Close)

	relays, err := attachRelays(ctx, cfg, router, logger, metrics)
	if err != nil {
		return nil, err
	}
	for _, r := range relays {
		closers = append(closers, r.Close)
	}

	exec, err := NewExecutor(cfg, logger, metrics)
	if err != nil {
		return nil, err
	}
	rc := cache.New[any](
		cache.WithPolicy(cfg.CachePolicy()),
		cache.WithLogger(logger),
		cache.WithMetrics(metrics),
	)
	layer := access.New(access.Deps{
		Executor: exec,
		Cache:    rc,
		Events:   store,
		Router:   router,
		Observe:  mw,
		Logger:   logger,
		Metrics:  metrics,
	})

	agg := health.NewAggregator(health.DefaultTimeout,
		health.EventStoreChecker{Store: store},
		health.CacheChecker{Cache: rc},
	)
	if cb := exec.CircuitBreaker(); cb != nil {
		agg.Register(health.CircuitChecker{Remote: "remote", Breaker: cb})
	}

	authn, err := NewAuthenticator(cfg.Admin)
	if err != nil {
		return nil, err
	}
	if authn == nil {
		logger.Warn(ctx, "admin API has no credentials configured; /v1 is unauthenticated",
			observe.F("addr", cfg.Admin.Addr))
	}
	srv := server.New(server.Deps{
		Store:    store,
		Router:   router,
		Cache:    rc,
		Health:   agg,
		Gatherer: obs.Gatherer(),
		Auth:     authn,
		Observe:  mw,
		Logger:   logger,
	})

	return &App{
		Config:   cfg,
		Observer: obs,
		Layer:    layer,
		Server:   srv,
		Health:   agg,
		relays:   relays,
		logger:   logger.With(observe.Component("app")),
	}, nil
}

func attachRelays(ctx context.Context, cfg *config.Config, router *eventstore.Router, logger observe.Logger, metrics observe.Metrics) ([]relay.Relay, error) {
	var relays []relay.Relay

	if rc := cfg.Relay.Redis; rc.URL != "" {
		pub, err := relay.NewRedisPublisher(ctx, relay.RedisConfig{
			URL:           rc.URL,
			ChannelPrefix: rc.ChannelPrefix,
			Logger:        logger,
		})
		if err != nil {
			return nil, err
		}
		relay.Attach(router, pub, eventstore.AnyOf(rc.Filter...), eventstore.WithName("redis"))
		relays = append(relays, pub)
	}

	if wc := cfg.Relay.Webhook; wc.URL != "" {
		hook, err := relay.NewWebhook(relay.WebhookConfig{
			URL:     wc.URL,
			Secret:  wc.Secret,
			Timeout: wc.Timeout,
			Retry:   resilience.RetryConfig{Deadline: wc.Deadline, Logger: logger, Metrics: metrics},
			Logger:  logger,
		})
		if err != nil {
			for _, r := range relays {
				_ = r.Close()
			}
			return nil, err
		}
		relay.Attach(router, hook, eventstore.AnyOf(wc.Filter...), eventstore.WithName("webhook"))
		relays = append(relays, hook)
	}
	return relays, nil
}

// Run serves the admin API and runs event rotation and cache sweeping
// until ctx ends, then closes everything.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := a.Layer.Events().Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		a.Layer.Cache().RunJanitor(gctx, a.Config.Cache.SweepInterval)
		return nil
	})
	g.Go(func() error {
		return a.Server.Run(gctx, a.Config.Admin.Addr)
	})

	a.logger.Info(ctx, "resource access layer running",
		observe.F("backend", a.Config.Events.Backend),
		observe.F("admin_addr", a.Config.Admin.Addr),
		observe.F("relays", len(a.relays)))

	err := g.Wait()
	if cerr := a.Close(context.WithoutCancel(ctx)); cerr != nil {
		err = errors.Join(err, cerr)
	}
	return err
}

// Close closes the layer and the relays.
func (a *App) Close(ctx context.Context) error {
	err := a.Layer.Close(ctx)
	for _, r := range a.relays {
		err = errors.Join(err, r.Close())
	}
	return err
}
