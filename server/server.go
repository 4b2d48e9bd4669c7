package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jonwraymond/resaccess/auth"
	"github.com/jonwraymond/resaccess/eventstore"
	"github.com/jonwraymond/resaccess/health"
	"github.com/jonwraymond/resaccess/observe"
)

// AdminRole is required to rotate the event store.
const AdminRole = "admin"

// ShutdownTimeout bounds graceful shutdown in Run.
const ShutdownTimeout = 10 * time.Second

// Deps are the components the admin API reads from. Store is required.
type Deps struct {
	Store  *eventstore.Store
	Router *eventstore.Router
	Cache  health.Sizer
	Health *health.Aggregator

	// Gatherer backs /metrics. Nil omits the route.
	Gatherer prometheus.Gatherer

	// Auth guards /v1. Nil leaves it open and skips the role check.
	Auth auth.Authenticator

	Observe *observe.Middleware
	Logger  observe.Logger
}

// Server is the admin HTTP API.
type Server struct {
	deps    Deps
	log     observe.Logger
	handler http.Handler
}

// New builds the router.
func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = observe.NopLogger()
	}
	if deps.Observe == nil {
		deps.Observe = observe.NewMiddleware(nil, nil, deps.Logger)
	}
	if deps.Health == nil {
		deps.Health = health.NewAggregator(0, health.EventStoreChecker{Store: deps.Store})
	}
	s := &Server{deps: deps, log: deps.Logger.With(observe.Component("server"))}
	s.handler = s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	health.Mount(r, s.deps.Health)
	if s.deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		if s.deps.Auth != nil {
			r.Use(auth.Middleware(s.deps.Auth, s.deps.Logger))
		}
		r.Get("/events", s.handleQueryEvents)
		r.Get("/events/recent", s.handleRecentEvents)
		r.Get("/events/stats", s.handleEventStats)
		r.Get("/subscriptions", s.handleSubscriptions)
		r.Get("/cache/stats", s.handleCacheStats)
		r.Group(func(r chi.Router) {
			if s.deps.Auth != nil {
				r.Use(auth.RequireRole(AdminRole))
			}
			r.Post("/events/rotate", s.handleRotate)
		})
	})
	return r
}

// Run serves on addr until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	s.log.Info(ctx, "admin server listening", observe.F("addr", ln.Addr().String()))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
