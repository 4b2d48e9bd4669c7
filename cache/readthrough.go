package cache

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/jonwraymond/resaccess/observe"
)

// Loader fetches a value from the remote on a cache miss.
type Loader[V any] func(ctx context.Context) (V, error)

// ReadThrough serves reads from a Cache and loads misses through a Loader.
// Concurrent misses on the same key share one load, which runs detached
// from the callers' cancellation. Loader errors are returned to every
// waiting caller and are not cached.
//
// A nil cache bypasses caching entirely. A cache that panics is treated as
// a miss on read and ignored on write.
type ReadThrough[V any] struct {
	cache  Cache[V]
	group  singleflight.Group
	logger observe.Logger
}

// NewReadThrough wraps c. Both arguments may be nil.
func NewReadThrough[V any](c Cache[V], logger observe.Logger) *ReadThrough[V] {
	if logger == nil {
		logger = observe.NopLogger()
	}
	return &ReadThrough[V]{cache: c, logger: logger}
}

// Cache returns the wrapped cache, or nil.
func (r *ReadThrough[V]) Cache() Cache[V] { return r.cache }

// Get returns the cached value for (t, id), or calls load, stores its
// result with opts and returns it. The bool reports a cache hit.
func (r *ReadThrough[V]) Get(ctx context.Context, t ResourceType, id string, opts SetOptions, load Loader[V]) (V, bool, error) {
	if r.cache == nil {
		v, err := load(ctx)
		return v, false, err
	}

	if v, ok := r.safeGet(ctx, t, id); ok {
		return v, true, nil
	}

	// The shared load outlives any single caller; each caller stops
	// waiting when its own ctx ends.
	flight := context.WithoutCancel(ctx)
	key := Key{Type: t, ID: id}.String()
	ch := r.group.DoChan(key, func() (any, error) {
		// Another flight may have filled the entry while we waited.
		if v, ok := r.safeGet(flight, t, id); ok {
			return v, nil
		}
		v, err := load(flight)
		if err != nil {
			return v, err
		}
		r.safeSet(flight, t, id, v, opts)
		return v, nil
	})

	var zero V
	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, false, res.Err
		}
		v, _ := res.Val.(V)
		return v, false, nil
	case <-ctx.Done():
		return zero, false, context.Cause(ctx)
	}
}

// Forget drops any in-flight load for (t, id) so the next miss starts a new one.
func (r *ReadThrough[V]) Forget(t ResourceType, id string) {
	r.group.Forget(Key{Type: t, ID: id}.String())
}

func (r *ReadThrough[V]) safeGet(ctx context.Context, t ResourceType, id string) (v V, ok bool) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Warn(ctx, "cache read failed, treating as miss",
				observe.F("key", Key{Type: t, ID: id}.String()), observe.F("panic", fmt.Sprint(p)))
			var zero V
			v, ok = zero, false
		}
	}()
	return r.cache.Get(ctx, t, id)
}

func (r *ReadThrough[V]) safeSet(ctx context.Context, t ResourceType, id string, v V, opts SetOptions) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Warn(ctx, "cache write failed",
				observe.F("key", Key{Type: t, ID: id}.String()), observe.F("panic", fmt.Sprint(p)))
		}
	}()
	r.cache.Set(ctx, t, id, v, opts)
}
