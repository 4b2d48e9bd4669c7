package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/jonwraymond/resaccess/eventstore"
	"github.com/jonwraymond/resaccess/observe"
)

// DefaultRecent is the page size of /v1/events/recent without ?n.
const DefaultRecent = 50

var (
	errBadRequest    = errors.New("bad request")
	errNotConfigured = errors.New("not configured")
)

func (s *Server) handleQueryEvents(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, "query_events", func(ctx context.Context) (any, error) {
		q, err := ParseQuery(r.URL.Query())
		if err != nil {
			return nil, err
		}
		events, err := s.deps.Store.Query(ctx, q)
		if err != nil {
			return nil, err
		}
		return map[string]any{"events": nonNil(events), "count": len(events)}, nil
	})
}

func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, "recent_events", func(ctx context.Context) (any, error) {
		n := DefaultRecent
		if v := r.URL.Query().Get("n"); v != "" {
			parsed, err := strconv.Atoi(v)
			if err != nil || parsed <= 0 {
				return nil, fmt.Errorf("%w: n must be a positive integer", errBadRequest)
			}
			n = parsed
		}
		events := s.deps.Store.Recent(ctx, n)
		return map[string]any{"events": nonNil(events), "count": len(events)}, nil
	})
}

func (s *Server) handleEventStats(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, "event_stats", func(ctx context.Context) (any, error) {
		return s.deps.Store.Stats(ctx), nil
	})
}

func (s *Server) handleRotate(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, "rotate_events", func(ctx context.Context) (any, error) {
		res, err := s.deps.Store.Rotate(ctx)
		if err != nil {
			return nil, err
		}
		s.log.Info(ctx, "event store rotated",
			observe.F("pruned_durable", res.PrunedDurable), observe.F("pruned_memory", res.PrunedMemory))
		return res, nil
	})
}

func (s *Server) handleSubscriptions(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, "list_subscriptions", func(context.Context) (any, error) {
		if s.deps.Router == nil {
			return map[string]any{"subscriptions": []eventstore.SubscriptionInfo{}}, nil
		}
		return map[string]any{
			"subscriptions": s.deps.Router.Subscriptions(),
			"stats":         s.deps.Router.Stats(),
		}, nil
	})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, "cache_stats", func(context.Context) (any, error) {
		if s.deps.Cache == nil {
			return nil, errNotConfigured
		}
		return s.deps.Cache.Stats(), nil
	})
}

// serve runs fn as an observed operation and writes its result as JSON.
func (s *Server) serve(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context) (any, error)) {
	var out any
	err := s.deps.Observe.Wrap(observe.OpMeta{Operation: op}, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx)
		return err
	})(r.Context())
	if err != nil {
		writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, eventstore.ErrUnknownEventType):
		return http.StatusBadRequest
	case errors.Is(err, errNotConfigured):
		return http.StatusNotFound
	case errors.Is(err, eventstore.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ParseQuery builds an event query from URL parameters: resource_type,
// resource_id, type, source, since, until (RFC 3339), after_seq, limit
// and offset.
func ParseQuery(v url.Values) (eventstore.Query, error) {
	q := eventstore.Query{
		ResourceType: v.Get("resource_type"),
		ResourceID:   v.Get("resource_id"),
		Source:       v.Get("source"),
	}
	if t := v.Get("type"); t != "" {
		et, err := eventstore.ParseEventType(t)
		if err != nil {
			return q, err
		}
		q.Type = et
	}

	var err error
	if q.Since, err = parseTime(v, "since"); err != nil {
		return q, err
	}
	if q.Until, err = parseTime(v, "until"); err != nil {
		return q, err
	}
	if s := v.Get("after_seq"); s != "" {
		if q.AfterSeq, err = strconv.ParseUint(s, 10, 64); err != nil {
			return q, fmt.Errorf("%w: after_seq: %v", errBadRequest, err)
		}
	}
	if q.Limit, err = parseCount(v, "limit"); err != nil {
		return q, err
	}
	if q.Offset, err = parseCount(v, "offset"); err != nil {
		return q, err
	}
	return q, nil
}

func parseTime(v url.Values, key string) (time.Time, error) {
	s := v.Get(key)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s: %v", errBadRequest, key, err)
	}
	return t, nil
}

func parseCount(v url.Values, key string) (int, error) {
	s := v.Get(key)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", errBadRequest, key)
	}
	return n, nil
}

func nonNil(events []eventstore.Event) []eventstore.Event {
	if events == nil {
		return []eventstore.Event{}
	}
	return events
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
