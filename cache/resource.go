package cache

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonwraymond/resaccess/observe"
)

// Entry is a cached value with its metadata.
type Entry[V any] struct {
	Key       Key
	Value     V
	StoredAt  time.Time
	ExpiresAt time.Time
	Tags      []string
	Namespace string

	// Version counts writes to this key since it was first stored.
	Version uint64
}

func (e *Entry[V]) expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Entries     int    `json:"entries"`
	Hits        uint64 `json:"hits"`
	Misses      uint64 `json:"misses"`
	Expirations uint64 `json:"expirations"`
	Evictions   uint64 `json:"evictions"`
	Tags        int    `json:"tags"`
	Namespaces  int    `json:"namespaces"`
}

// Option configures a ResourceCache.
type Option func(*options)

type options struct {
	policy  Policy
	now     func() time.Time
	logger  observe.Logger
	metrics observe.Metrics
}

// WithPolicy sets the TTL policy. A zero Policy keeps the default.
func WithPolicy(p Policy) Option {
	return func(o *options) {
		if p != (Policy{}) {
			o.policy = p
		}
	}
}

// WithClock sets the clock used for expiry.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l observe.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics sets the metrics sink for hits, misses and expirations.
func WithMetrics(m observe.Metrics) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

type keySet map[Key]struct{}

// ResourceCache is an in-memory, TTL-bounded cache of remote resources with
// type, tag and namespace indices.
//
// Contract:
//   - Concurrency: safe for concurrent use. All index maintenance happens
//     under one lock, so readers never see an index entry without its
//     primary entry.
//   - Expiry: an entry is a miss once now >= ExpiresAt. Expired entries
//     are purged when a read touches them, by Sweep, or by the janitor.
type ResourceCache[V any] struct {
	mu          sync.RWMutex
	entries     map[Key]*Entry[V]
	byType      map[ResourceType]keySet
	byTag       map[string]keySet
	byNamespace map[string]keySet

	hits        atomic.Uint64
	misses      atomic.Uint64
	expirations atomic.Uint64
	evictions   atomic.Uint64

	opts options
}

// New creates an empty ResourceCache.
func New[V any](opts ...Option) *ResourceCache[V] {
	o := options{
		policy:  DefaultPolicy(),
		now:     time.Now,
		logger:  observe.NopLogger(),
		metrics: observe.NopMetrics(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = o.logger.With(observe.Component("cache"))

	return &ResourceCache[V]{
		entries:     make(map[Key]*Entry[V]),
		byType:      make(map[ResourceType]keySet),
		byTag:       make(map[string]keySet),
		byNamespace: make(map[string]keySet),
		opts:        o,
	}
}

// Policy returns the cache's TTL policy.
func (c *ResourceCache[V]) Policy() Policy { return c.opts.policy }

// Set stores value under (t, id), replacing any previous entry and its
// index memberships. A write whose effective TTL is zero stores nothing
// and removes the previous entry.
func (c *ResourceCache[V]) Set(ctx context.Context, t ResourceType, id string, value V, opts SetOptions) {
	key := Key{Type: t, ID: id}
	if err := key.Validate(); err != nil {
		c.opts.logger.Warn(ctx, "refusing cache write", observe.F("key", key.String()), observe.Err(err))
		return
	}

	ttl := c.opts.policy.EffectiveTTL(opts.TTL)
	now := c.opts.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	var version uint64
	if prev, ok := c.entries[key]; ok {
		version = prev.Version
		c.removeLocked(prev)
	}
	if ttl <= 0 {
		return
	}

	e := &Entry[V]{
		Key:       key,
		Value:     value,
		StoredAt:  now,
		ExpiresAt: now.Add(ttl),
		Tags:      dedupTags(opts.Tags),
		Namespace: opts.Namespace,
		Version:   version + 1,
	}
	c.entries[key] = e
	addTo(c.byType, t, key)
	for _, tag := range e.Tags {
		addTo(c.byTag, tag, key)
	}
	if e.Namespace != "" {
		addTo(c.byNamespace, e.Namespace, key)
	}
}

// Get returns the live value stored under (t, id). With requireTags, an
// entry missing any of them is a miss.
func (c *ResourceCache[V]) Get(ctx context.Context, t ResourceType, id string, requireTags ...string) (V, bool) {
	e, ok := c.Lookup(ctx, t, id, requireTags...)
	if !ok {
		var zero V
		return zero, false
	}
	return e.Value, true
}

// Lookup is Get returning the full entry.
func (c *ResourceCache[V]) Lookup(ctx context.Context, t ResourceType, id string, requireTags ...string) (Entry[V], bool) {
	key := Key{Type: t, ID: id}
	now := c.opts.now()

	c.mu.RLock()
	e, ok := c.entries[key]
	if ok && !e.expired(now) {
		out := *e
		c.mu.RUnlock()
		if !hasTags(out.Tags, requireTags) {
			c.record(ctx, t, false)
			return Entry[V]{}, false
		}
		c.record(ctx, t, true)
		return out, true
	}
	c.mu.RUnlock()

	if ok {
		c.mu.Lock()
		// Re-check: a writer may have replaced the entry between locks.
		if cur, still := c.entries[key]; still && cur.expired(now) {
			c.removeLocked(cur)
			c.expirations.Add(1)
			c.mu.Unlock()
			c.opts.metrics.RecordCacheExpiration(ctx, string(t), 1)
		} else {
			c.mu.Unlock()
		}
	}
	c.record(ctx, t, false)
	return Entry[V]{}, false
}

func hasTags(tags, required []string) bool {
	for _, tag := range required {
		if !slices.Contains(tags, tag) {
			return false
		}
	}
	return true
}

// GetByType returns every live value of type t, ordered by id.
func (c *ResourceCache[V]) GetByType(ctx context.Context, t ResourceType) []V {
	return c.collect(ctx, func() keySet { return c.byType[t] }, nil)
}

// GetByTag returns every live value carrying tag, ordered by key. When
// types are given only entries of those types are returned.
func (c *ResourceCache[V]) GetByTag(ctx context.Context, tag string, types ...ResourceType) []V {
	var filter func(Key) bool
	if len(types) > 0 {
		filter = func(k Key) bool { return slices.Contains(types, k.Type) }
	}
	return c.collect(ctx, func() keySet { return c.byTag[tag] }, filter)
}

// GetByNamespace returns every live value in namespace ns, ordered by key.
func (c *ResourceCache[V]) GetByNamespace(ctx context.Context, ns string) []V {
	return c.collect(ctx, func() keySet { return c.byNamespace[ns] }, nil)
}

// collect resolves an index bucket under the read lock and purges any
// expired members it saw under the write lock.
func (c *ResourceCache[V]) collect(ctx context.Context, bucket func() keySet, filter func(Key) bool) []V {
	now := c.opts.now()

	type hit struct {
		key   Key
		value V
	}
	var (
		live  []hit
		stale []Key
	)

	c.mu.RLock()
	for key := range bucket() {
		if filter != nil && !filter(key) {
			continue
		}
		e := c.entries[key]
		if e == nil || e.expired(now) {
			stale = append(stale, key)
			continue
		}
		live = append(live, hit{key: key, value: e.Value})
	}
	c.mu.RUnlock()

	if len(stale) > 0 {
		c.purge(ctx, stale, now)
	}

	slices.SortFunc(live, func(a, b hit) int { return compareKeys(a.key, b.key) })
	out := make([]V, len(live))
	for i, h := range live {
		out[i] = h.value
	}
	return out
}

func (c *ResourceCache[V]) purge(ctx context.Context, keys []Key, now time.Time) int {
	perType := make(map[ResourceType]int)
	removed := 0

	c.mu.Lock()
	for _, key := range keys {
		if e, ok := c.entries[key]; ok && e.expired(now) {
			c.removeLocked(e)
			c.expirations.Add(1)
			perType[key.Type]++
			removed++
		}
	}
	c.mu.Unlock()

	for t, n := range perType {
		c.opts.metrics.RecordCacheExpiration(ctx, string(t), n)
	}
	return removed
}

// Delete removes (t, id) and reports whether an entry was present.
func (c *ResourceCache[V]) Delete(_ context.Context, t ResourceType, id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[Key{Type: t, ID: id}]
	if !ok {
		return false
	}
	c.removeLocked(e)
	return true
}

// InvalidateTag removes every entry carrying tag and returns the count.
func (c *ResourceCache[V]) InvalidateTag(ctx context.Context, tag string) int {
	return c.invalidate(ctx, "tag", tag, func() keySet { return c.byTag[tag] })
}

// InvalidateNamespace removes every entry in ns and returns the count.
func (c *ResourceCache[V]) InvalidateNamespace(ctx context.Context, ns string) int {
	return c.invalidate(ctx, "namespace", ns, func() keySet { return c.byNamespace[ns] })
}

// InvalidateType removes every entry of type t and returns the count.
func (c *ResourceCache[V]) InvalidateType(ctx context.Context, t ResourceType) int {
	return c.invalidate(ctx, "type", string(t), func() keySet { return c.byType[t] })
}

func (c *ResourceCache[V]) invalidate(ctx context.Context, kind, name string, bucket func() keySet) int {
	c.mu.Lock()
	keys := slices.Collect(maps.Keys(bucket()))
	for _, key := range keys {
		if e, ok := c.entries[key]; ok {
			c.removeLocked(e)
			c.evictions.Add(1)
		}
	}
	c.mu.Unlock()

	if len(keys) > 0 {
		c.opts.logger.Debug(ctx, "cache invalidated",
			observe.F("by", kind), observe.F("name", name), observe.F("count", len(keys)))
	}
	return len(keys)
}

// Clear removes every entry.
func (c *ResourceCache[V]) Clear(_ context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[Key]*Entry[V])
	c.byType = make(map[ResourceType]keySet)
	c.byTag = make(map[string]keySet)
	c.byNamespace = make(map[string]keySet)
}

// Sweep purges every expired entry and returns how many were removed.
func (c *ResourceCache[V]) Sweep(ctx context.Context) int {
	now := c.opts.now()

	c.mu.RLock()
	var stale []Key
	for key, e := range c.entries {
		if e.expired(now) {
			stale = append(stale, key)
		}
	}
	c.mu.RUnlock()

	if len(stale) == 0 {
		return 0
	}
	return c.purge(ctx, stale, now)
}

// RunJanitor sweeps every interval until ctx ends.
func (c *ResourceCache[V]) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Sweep(ctx); n > 0 {
				c.opts.logger.Debug(ctx, "cache sweep", observe.F("expired", n))
			}
		}
	}
}

// StartJanitor runs RunJanitor in a goroutine. The returned function stops
// it and waits for it to exit.
func (c *ResourceCache[V]) StartJanitor(ctx context.Context, interval time.Duration) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.RunJanitor(ctx, interval)
	}()
	return func() {
		cancel()
		<-done
	}
}

// Len returns the number of stored entries, expired ones included until
// they are purged.
func (c *ResourceCache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns a snapshot of the cache counters.
func (c *ResourceCache[V]) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		Entries:     len(c.entries),
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Expirations: c.expirations.Load(),
		Evictions:   c.evictions.Load(),
		Tags:        len(c.byTag),
		Namespaces:  len(c.byNamespace),
	}
}

func (c *ResourceCache[V]) record(ctx context.Context, t ResourceType, hit bool) {
	if hit {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	c.opts.metrics.RecordCacheLookup(ctx, string(t), hit)
}

// removeLocked drops e from the primary map and every index. c.mu must be
// held for writing.
func (c *ResourceCache[V]) removeLocked(e *Entry[V]) {
	delete(c.entries, e.Key)
	removeFrom(c.byType, e.Key.Type, e.Key)
	for _, tag := range e.Tags {
		removeFrom(c.byTag, tag, e.Key)
	}
	if e.Namespace != "" {
		removeFrom(c.byNamespace, e.Namespace, e.Key)
	}
}

func addTo[K comparable](idx map[K]keySet, name K, key Key) {
	set, ok := idx[name]
	if !ok {
		set = make(keySet)
		idx[name] = set
	}
	set[key] = struct{}{}
}

func removeFrom[K comparable](idx map[K]keySet, name K, key Key) {
	set, ok := idx[name]
	if !ok {
		return
	}
	delete(set, key)
	if len(set) == 0 {
		delete(idx, name)
	}
}

func dedupTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t != "" && !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}

func compareKeys(a, b Key) int {
	if c := cmp.Compare(a.Type, b.Type); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

var _ Cache[any] = (*ResourceCache[any])(nil)
