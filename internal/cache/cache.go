// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cache

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DefaultMaxEntries is the entry count ceiling before eviction.
	DefaultMaxEntries = 100

	// DefaultTTL is applied when Set is called without an explicit TTL.
	DefaultTTL = 5 * time.Minute

	// staleFraction is the portion of the TTL window after which an entry
	// is considered stale (but still servable).
	staleFraction = 0.8
)

// =============================================================================
// ENTRY
// =============================================================================

// entry is a cached value with its TTL window.
type entry struct {
	data      any
	timestamp time.Time // creation time
	expiresAt time.Time // hard TTL boundary
	tags      []string
}

// =============================================================================
// CACHE
// =============================================================================

// Options configures a Cache.
type Options struct {
	// MaxEntries is the eviction ceiling (default: 100).
	MaxEntries int

	// DefaultTTL is used when SetOptions.TTL is zero (default: 5 minutes).
	DefaultTTL time.Duration

	// Clock overrides time.Now (tests).
	Clock func() time.Time
}

// SetOptions configures a single Set or Fetch insertion.
type SetOptions struct {
	// TTL overrides the cache default for this entry.
	TTL time.Duration

	// Tags registers the key for bulk invalidation.
	Tags []string
}

// Stats is a snapshot of cache effectiveness counters.
type Stats struct {
	Hits     int
	Misses   int
	Entries  int
	InFlight int
	HitRate  float64
}

// Cache is an in-memory TTL cache with tag invalidation, size-bounded
// eviction (oldest creation first), and singleflight fetch deduplication.
//
// All methods are safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	tags    map[string]map[string]struct{}
	// creationOrder holds live keys ordered by entry creation time;
	// eviction removes from the front.
	creationOrder []string
	pending       map[string]struct{}

	maxEntries int
	defaultTTL time.Duration
	now        func() time.Time

	group singleflight.Group

	hits   int
	misses int
}

// New creates a cache. Zero-value options take the package defaults.
func New(opts Options) *Cache {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = DefaultTTL
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Cache{
		entries:    make(map[string]*entry),
		tags:       make(map[string]map[string]struct{}),
		pending:    make(map[string]struct{}),
		maxEntries: opts.MaxEntries,
		defaultTTL: opts.DefaultTTL,
		now:        opts.Clock,
	}
}

// =============================================================================
// BASIC OPERATIONS
// =============================================================================

// Get returns the live value for key. Reading an expired entry evicts it and
// reports a miss. Stale-but-unexpired data is returned normally.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if c.expiredLocked(e) {
		c.removeLocked(key)
		c.misses++
		return nil, false
	}

	c.hits++
	return e.data, true
}

// GetAs returns the value for key asserted to T.
// A live entry of the wrong type is a miss.
func GetAs[T any](c *Cache, key string) (T, bool) {
	var zero T
	v, ok := c.Get(key)
	if !ok {
		return zero, false
	}
	typed, ok := v.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}

// Set inserts or overwrites key. Overwriting restarts the entry's creation
// time and tag registration. Eviction runs afterward if the cache is over
// its ceiling.
func (c *Cache) Set(key string, data any, opts SetOptions) {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		c.removeLocked(key)
	}

	now := c.now()
	c.entries[key] = &entry{
		data:      data,
		timestamp: now,
		expiresAt: now.Add(ttl),
		tags:      opts.Tags,
	}
	c.creationOrder = append(c.creationOrder, key)

	for _, tag := range opts.Tags {
		set, ok := c.tags[tag]
		if !ok {
			set = make(map[string]struct{})
			c.tags[tag] = set
		}
		set[key] = struct{}{}
	}

	c.evictLocked()
}

// Has reports whether key holds an unexpired entry. Does not touch stats.
func (c *Cache) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	return ok && !c.expiredLocked(e)
}

// IsStale reports whether key's entry has passed 80% of its TTL window.
// Staleness is advisory: stale data is still served by Get, and the cache
// never revalidates on its own. Missing or expired entries report stale.
func (c *Cache) IsStale(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || c.expiredLocked(e) {
		return true
	}
	return c.staleLocked(e)
}

// Delete removes key and scrubs it from all tag sets.
// Returns whether an entry was removed.
func (c *Cache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.entries[key]
	if ok {
		c.removeLocked(key)
	}
	return ok
}

// Len returns the number of live entries (including expired-but-unread ones).
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a snapshot of the hit/miss counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	rate := 0.0
	if total > 0 {
		rate = float64(c.hits) / float64(total)
	}
	return Stats{
		Hits:     c.hits,
		Misses:   c.misses,
		Entries:  len(c.entries),
		InFlight: len(c.pending),
		HitRate:  rate,
	}
}

// =============================================================================
// INVALIDATION
// =============================================================================

// Invalidate deletes every key matching a glob-style pattern, where "*"
// matches any run of characters. Returns the count removed.
func (c *Cache) Invalidate(pattern string) int {
	return c.InvalidateRegexp(globToRegexp(pattern))
}

// InvalidateRegexp deletes every key matching re. Returns the count removed.
func (c *Cache) InvalidateRegexp(re *regexp.Regexp) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var matched []string
	for key := range c.entries {
		if re.MatchString(key) {
			matched = append(matched, key)
		}
	}
	for _, key := range matched {
		c.removeLocked(key)
	}
	return len(matched)
}

// InvalidateTag deletes every key registered under tag and drops the tag.
// Returns the count of live entries removed; a second call returns 0.
func (c *Cache) InvalidateTag(tag string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	set, ok := c.tags[tag]
	if !ok {
		return 0
	}

	removed := 0
	for key := range set {
		// Tag sets may reference keys already deleted elsewhere; that is
		// harmless, the dangling reference is simply skipped.
		if _, live := c.entries[key]; live {
			c.removeLocked(key)
			removed++
		}
	}
	delete(c.tags, tag)
	return removed
}

// Clear resets entries, tags, and in-flight bookkeeping atomically.
// Fetchers already running are not cancelled; their results will silently
// repopulate the cache when they complete.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*entry)
	c.tags = make(map[string]map[string]struct{})
	c.creationOrder = c.creationOrder[:0]

	for key := range c.pending {
		c.group.Forget(key)
		delete(c.pending, key)
	}
}

// =============================================================================
// FETCH (stale-while-revalidate entry point)
// =============================================================================

// Fetch returns the cached value for key if it is fresh (present, unexpired,
// not stale). Otherwise it invokes fetcher, caching the result with opts on
// success. Concurrent calls for the same key during one in-flight window
// share a single fetcher invocation and all observe its outcome; a failure
// is propagated to every waiter and the next call re-fetches.
func (c *Cache) Fetch(ctx context.Context, key string, fetcher func(context.Context) (any, error), opts SetOptions) (any, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok && !c.expiredLocked(e) && !c.staleLocked(e) {
		c.hits++
		data := e.data
		c.mu.Unlock()
		return data, nil
	}
	c.misses++
	c.pending[key] = struct{}{}
	c.mu.Unlock()

	v, err, _ := c.group.Do(key, func() (any, error) {
		defer func() {
			c.mu.Lock()
			delete(c.pending, key)
			c.mu.Unlock()
		}()

		data, err := fetcher(ctx)
		if err != nil {
			return nil, err
		}
		c.Set(key, data, opts)
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// FetchAs is Fetch with the result asserted to T.
func FetchAs[T any](ctx context.Context, c *Cache, key string, fetcher func(context.Context) (T, error), opts SetOptions) (T, error) {
	var zero T
	v, err := c.Fetch(ctx, key, func(ctx context.Context) (any, error) {
		return fetcher(ctx)
	}, opts)
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, nil
	}
	return typed, nil
}

// Prefetch warms the cache for key without surfacing fetcher errors.
// A fresh entry short-circuits without invoking fetcher at all.
func (c *Cache) Prefetch(ctx context.Context, key string, fetcher func(context.Context) (any, error), opts SetOptions) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok && !c.expiredLocked(e) && !c.staleLocked(e) {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	// Best effort: failures are swallowed, a later Fetch will retry.
	_, _ = c.Fetch(ctx, key, fetcher, opts)
}

// =============================================================================
// INTERNALS
// =============================================================================

// expiredLocked reports whether e has passed its hard TTL. Caller holds mu.
func (c *Cache) expiredLocked(e *entry) bool {
	return c.now().After(e.expiresAt)
}

// staleLocked reports whether e has passed the stale fraction of its TTL
// window. Caller holds mu.
func (c *Cache) staleLocked(e *entry) bool {
	window := e.expiresAt.Sub(e.timestamp)
	elapsed := c.now().Sub(e.timestamp)
	return elapsed > time.Duration(float64(window)*staleFraction)
}

// removeLocked deletes key from entries, tag sets, and the creation order.
// Caller holds mu.
func (c *Cache) removeLocked(key string) {
	e, ok := c.entries[key]
	if !ok {
		return
	}
	delete(c.entries, key)

	for _, tag := range e.tags {
		if set, ok := c.tags[tag]; ok {
			delete(set, key)
			if len(set) == 0 {
				delete(c.tags, tag)
			}
		}
	}

	for i, k := range c.creationOrder {
		if k == key {
			c.creationOrder = append(c.creationOrder[:i], c.creationOrder[i+1:]...)
			break
		}
	}
}

// evictLocked removes oldest-created entries until the cache is back at its
// ceiling. Caller holds mu.
func (c *Cache) evictLocked() {
	for len(c.entries) > c.maxEntries && len(c.creationOrder) > 0 {
		c.removeLocked(c.creationOrder[0])
	}
}

// globToRegexp compiles a glob-style pattern ("*" wildcard) to an anchored
// regular expression.
func globToRegexp(pattern string) *regexp.Regexp {
	escaped := regexp.QuoteMeta(pattern)
	return regexp.MustCompile("^" + strings.ReplaceAll(escaped, `\*`, ".*") + "$")
}
