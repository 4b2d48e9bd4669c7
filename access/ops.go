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

// FetchSpec describes a single-resource read.
type FetchSpec struct {
	// Operation names the remote call for retries, logs and metrics.
	Operation string
	Type      cache.ResourceType
	ID        string
	Cache     cache.SetOptions

	// Refresh skips the cached value and replaces it with a fresh load.
	Refresh bool

	// MaxAttempts overrides the executor's retry budget for this call.
	MaxAttempts int
}

// ListSpec describes a list query. Results are cached under
// cache.QueryID(Operation, Params).
type ListSpec struct {
	Operation string
	Params    any
	Cache     cache.SetOptions
	Refresh   bool

	MaxAttempts int
}

// MutationSpec describes a write.
type MutationSpec struct {
	Operation string
	Type      cache.ResourceType
	ID        string

	// Event is the recorded event type.
	// Default: eventstore.EventUpdated
	Event eventstore.EventType

	Payload  map[string]any
	Metadata map[string]any

	// Cache applies to the stored result. Ignored for deletions.
	Cache cache.SetOptions

	// InvalidateTags are dropped from the cache after the write, typically
	// the tags of list queries the mutation affects.
	InvalidateTags []string

	// MaxAttempts overrides the executor's retry budget for this call.
	MaxAttempts int
}

// Fetch returns the resource described by spec, loading it through the
// executor on a miss. Concurrent misses for one resource share a load.
func Fetch[V any](ctx context.Context, l *Layer, spec FetchSpec, load func(context.Context) (V, error)) (V, error) {
	if spec.Refresh {
		l.cache.Delete(ctx, spec.Type, spec.ID)
	}
	var out V
	err := l.observed(ctx, observe.OpMeta{Operation: spec.Operation, ResourceType: string(spec.Type), ResourceID: spec.ID},
		func(ctx context.Context) (err error) {
			out, err = read(ctx, l, spec.Operation, spec.MaxAttempts, spec.Type, spec.ID, spec.Cache, load)
			return err
		})
	return out, err
}

// List runs a cached list query.
func List[V any](ctx context.Context, l *Layer, spec ListSpec, load func(context.Context) ([]V, error)) ([]V, error) {
	id, err := cache.QueryID(spec.Operation, spec.Params)
	if err != nil {
		return nil, fmt.Errorf("access: %w", err)
	}
	if spec.Refresh {
		l.cache.Delete(ctx, cache.TypeQuery, id)
	}
	var out []V
	err = l.observed(ctx, observe.OpMeta{Operation: spec.Operation, ResourceType: string(cache.TypeQuery), ResourceID: id},
		func(ctx context.Context) (err error) {
			out, err = read(ctx, l, spec.Operation, spec.MaxAttempts, cache.TypeQuery, id, spec.Cache, load)
			return err
		})
	return out, err
}

func read[V any](ctx context.Context, l *Layer, op string, attempts int, t cache.ResourceType, id string, opts cache.SetOptions, load func(context.Context) (V, error)) (V, error) {
	budget := resilience.MaxAttempts(attempts)
	remote := func(ctx context.Context) (any, error) {
		return resilience.ExecuteValue(ctx, l.exec, op, load, budget)
	}
	v, hit, err := l.reads.Get(ctx, t, id, opts, remote)
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, resilience.ErrCancelled) {
			// The caller stopped waiting on a shared load.
			err = &resilience.CancelledError{Operation: op, Cause: err}
		}
		var zero V
		return zero, err
	}
	out, ok := v.(V)
	if !ok && v != nil {
		// The key holds a value of another type; replace it.
		l.logger.Warn(ctx, "cached value has unexpected type, reloading",
			observe.F("key", cache.Key{Type: t, ID: id}.String()), observe.F("type", fmt.Sprintf("%T", v)))
		l.cache.Delete(ctx, t, id)
		fresh, err := resilience.ExecuteValue(ctx, l.exec, op, load, budget)
		if err != nil {
			var zero V
			return zero, err
		}
		l.cache.Set(ctx, t, id, fresh, opts)
		return fresh, nil
	}
	if hit {
		l.logger.Debug(ctx, "cache hit", observe.F("key", cache.Key{Type: t, ID: id}.String()))
	}
	return out, nil
}

// Mutate runs op through the executor. On success the cache is updated
// first (or the entry removed for deletions), then the event is recorded.
// A failure to record the event is logged and does not fail the mutation.
func Mutate[V any](ctx context.Context, l *Layer, spec MutationSpec, op func(context.Context) (V, error)) (V, error) {
	var v V
	err := l.observed(ctx, observe.OpMeta{Operation: spec.Operation, ResourceType: string(spec.Type), ResourceID: spec.ID},
		func(ctx context.Context) (err error) {
			v, err = resilience.ExecuteValue(ctx, l.exec, spec.Operation, op, resilience.MaxAttempts(spec.MaxAttempts))
			return err
		})
	if err != nil {
		return v, err
	}

	kind := spec.Event
	if kind == "" {
		kind = eventstore.EventUpdated
	}
	if kind == eventstore.EventDeleted {
		l.cache.Delete(ctx, spec.Type, spec.ID)
	} else {
		l.cache.Set(ctx, spec.Type, spec.ID, v, spec.Cache)
	}
	l.reads.Forget(spec.Type, spec.ID)
	for _, tag := range spec.InvalidateTags {
		l.cache.InvalidateTag(ctx, tag)
	}

	if l.events != nil {
		e := eventstore.Event{
			Type:         kind,
			ResourceType: string(spec.Type),
			ResourceID:   spec.ID,
			Source:       l.source,
			Payload:      spec.Payload,
			Metadata:     spec.Metadata,
		}
		if _, err := l.events.Append(ctx, e); err != nil {
			l.logger.Warn(ctx, "mutation succeeded but event was not recorded",
				observe.F("operation", spec.Operation),
				observe.F("resource_type", string(spec.Type)),
				observe.F("resource_id", spec.ID),
				observe.Err(err))
		}
	}
	return v, nil
}
