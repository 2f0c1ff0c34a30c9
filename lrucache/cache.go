/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package lrucache

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/acronis/go-lrucache/log"
)

// DefaultMaxLoadFactor is used when Options.MaxLoadFactor is not set.
const DefaultMaxLoadFactor = 1.0

// MinMaxLoadFactor is the smallest accepted Options.MaxLoadFactor.
const MinMaxLoadFactor = 1.0 / 64

// MaxSize is the largest accepted Options.Size hint.
const MaxSize = 1 << 24

// ErrInvalidMaxLoadFactor is returned by New when the max load factor is less than MinMaxLoadFactor, NaN or infinite.
var ErrInvalidMaxLoadFactor = errors.New("maxLoadFactor must be a finite number not less than 1/64")

// Options represents options for the cache.
type Options struct {
	// MaxElements is a hard cap on the number of entries. 0 means no cap.
	MaxElements int

	// MaxAge is a sliding TTL window measured from the last access (Get or Set) of an entry.
	// 0 means entries never expire by age.
	// Please note that expired entries are not removed immediately,
	// but only when they are accessed, swept (see SweepEvery, DeleteExpired),
	// or during periodic cleanup (see SyncLRUCache.RunPeriodicCleanup).
	MaxAge time.Duration

	// Size is a hint for the initial number of entries the index should hold without growing.
	Size int

	// MaxLoadFactor is the ceiling for entries per bucket. Exceeding it doubles the bucket array.
	// 0 means DefaultMaxLoadFactor.
	MaxLoadFactor float64

	// SweepEvery makes every N-th Set remove expired entries from the least recently used end.
	// 0 disables the sweep, so expiration stays purely lazy.
	SweepEvery int

	// MetricsCollector is used to collect statistics about cache usage. nil disables metrics.
	MetricsCollector MetricsCollector

	// Logger receives debug messages about index growth and bulk evictions. nil disables logging.
	Logger log.FieldLogger
}

// LRUCache is a string-keyed cache with LRU eviction and lazy TTL expiration.
// Entries live in a single arena shared by the hash index and the recency list.
//
// LRUCache is not safe for concurrent use. Use SyncLRUCache when the cache is shared between goroutines.
type LRUCache[V any] struct {
	store   *entryStore[V]
	index   *index[V]
	recency *recencyList[V]

	maxElements int
	maxAge      time.Duration
	sweepEvery  int
	setsCounter int

	evictions   uint64
	expirations uint64

	metricsCollector MetricsCollector
	logger           log.FieldLogger
	nowFn            func() time.Time
}

// New creates a new LRUCache with the provided options.
func New[V any](opts Options) (*LRUCache[V], error) {
	if opts.MaxElements < 0 {
		return nil, fmt.Errorf("maxElements must be greater or equal to 0 (no limit)")
	}
	if opts.MaxAge < 0 {
		return nil, fmt.Errorf("maxAge must be greater or equal to 0 (no expiration)")
	}
	if opts.Size < 0 || opts.Size > MaxSize {
		return nil, fmt.Errorf("size must be in range [0, %d]", MaxSize)
	}
	if opts.SweepEvery < 0 {
		return nil, fmt.Errorf("sweepEvery must be greater or equal to 0 (no sweep)")
	}
	maxLoadFactor := opts.MaxLoadFactor
	if maxLoadFactor == 0 {
		maxLoadFactor = DefaultMaxLoadFactor
	}
	if maxLoadFactor < MinMaxLoadFactor || math.IsNaN(maxLoadFactor) || math.IsInf(maxLoadFactor, 0) {
		return nil, fmt.Errorf("%w, got %v", ErrInvalidMaxLoadFactor, opts.MaxLoadFactor)
	}

	metricsCollector := opts.MetricsCollector
	if metricsCollector == nil {
		metricsCollector = disabledMetrics{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewDisabledLogger()
	}

	store := newEntryStore[V](opts.Size)
	c := &LRUCache[V]{
		store:            store,
		index:            newIndex[V](store, opts.Size, maxLoadFactor),
		recency:          newRecencyList[V](store),
		maxElements:      opts.MaxElements,
		maxAge:           opts.MaxAge,
		sweepEvery:       opts.SweepEvery,
		metricsCollector: metricsCollector,
		logger:           logger,
		nowFn:            time.Now,
	}
	c.index.onGrow = func(oldBuckets, newBuckets int) {
		c.logger.Debug("cache index grown",
			log.Int("old_buckets", oldBuckets), log.Int("new_buckets", newBuckets), log.Int("size", c.index.count),
			log.Float64("max_load_factor", c.index.maxLoadFactor))
	}
	return c, nil
}

// Get returns a value from the cache by the provided key.
// A hit refreshes both the recency and the TTL window of the entry.
func (c *LRUCache[V]) Get(key string) (value V, ok bool) {
	h, found := c.index.lookup(key, hashKey(key))
	if !found {
		c.metricsCollector.IncMisses()
		return value, false
	}
	now := c.nowFn()
	if c.isExpired(h, now) {
		c.expire(h)
		c.metricsCollector.IncMisses()
		return value, false
	}
	c.store.touch(h, now)
	c.recency.moveToFront(h)
	c.metricsCollector.IncHits()
	return c.store.get(h).value, true
}

// Peek returns a value without updating its recency and TTL window.
// Expired entries are still removed.
func (c *LRUCache[V]) Peek(key string) (value V, ok bool) {
	h, found := c.index.lookup(key, hashKey(key))
	if !found {
		return value, false
	}
	if c.isExpired(h, c.nowFn()) {
		c.expire(h)
		return value, false
	}
	return c.store.get(h).value, true
}

// Set adds a value to the cache or replaces the existing one.
// If the cache is full, the least recently used entries are evicted.
func (c *LRUCache[V]) Set(key string, value V) {
	now := c.nowFn()
	hash := hashKey(key)

	if h, found := c.index.lookup(key, hash); found {
		if !c.isExpired(h, now) {
			e := c.store.get(h)
			e.value = value
			e.touchedAt = now
			c.recency.moveToFront(h)
			c.maybeSweep(now)
			return
		}
		c.expire(h)
	}

	h := c.store.create(key, hash, value, now)
	c.index.insert(h)
	c.recency.pushFront(h)

	if c.maxElements > 0 && c.store.len() > c.maxElements {
		if evicted := c.evict(c.store.len() - c.maxElements); evicted > 0 {
			c.metricsCollector.AddEvictions(evicted)
		}
	}
	c.maybeSweep(now)
	c.metricsCollector.SetAmount(c.store.len())
}

// Remove removes a value from the cache by the provided key.
// It returns false if there was nothing to remove.
func (c *LRUCache[V]) Remove(key string) bool {
	h, found := c.index.lookup(key, hashKey(key))
	if !found {
		return false
	}
	c.release(h)
	c.metricsCollector.SetAmount(c.store.len())
	return true
}

// Clear removes all entries from the cache.
// The index keeps its bucket count, and eviction and expiration counters are not reset.
// Removed entries are counted neither as evictions nor as expirations.
func (c *LRUCache[V]) Clear() {
	c.index.clear()
	c.recency.reset()
	c.store.reset()
	c.metricsCollector.SetAmount(0)
}

// Len returns the number of entries in the cache.
// Expired entries that were not accessed yet are counted too.
func (c *LRUCache[V]) Len() int {
	return c.store.len()
}

// Stats returns a snapshot of the cache geometry and counters.
func (c *LRUCache[V]) Stats() Stats {
	return Stats{
		Size:          c.store.len(),
		Buckets:       c.index.bucketCount(),
		LoadFactor:    c.index.loadFactor(),
		MaxLoadFactor: c.index.maxLoadFactor,
		Evictions:     c.evictions,
		Expirations:   c.expirations,
	}
}

// SetMaxElements changes the cap on the number of entries and returns the number of evicted entries.
// If the cache holds more entries than the new cap, the least recently used ones are evicted immediately.
// n <= 0 removes the cap.
func (c *LRUCache[V]) SetMaxElements(n int) (evicted int) {
	if n < 0 {
		n = 0
	}
	c.maxElements = n
	if n == 0 || c.store.len() <= n {
		return 0
	}
	evicted = c.evict(c.store.len() - n)
	c.metricsCollector.SetAmount(c.store.len())
	c.metricsCollector.AddEvictions(evicted)
	c.logger.Debug("cache entries evicted after max elements change",
		log.Int("max_elements", n), log.Int("evicted", evicted))
	return evicted
}

// MaxElements returns the current cap on the number of entries (0 means no cap).
func (c *LRUCache[V]) MaxElements() int {
	return c.maxElements
}

// SetMaxAge changes the TTL window. Existing entries are judged against the new window
// using their last access time on subsequent calls; nothing is removed right away.
// d <= 0 disables expiration.
func (c *LRUCache[V]) SetMaxAge(d time.Duration) {
	if d < 0 {
		d = 0
	}
	c.maxAge = d
}

// MaxAge returns the current TTL window (0 means no expiration).
func (c *LRUCache[V]) MaxAge() time.Duration {
	return c.maxAge
}

// Keys returns all keys ordered from the most to the least recently used.
func (c *LRUCache[V]) Keys() []string {
	keys := make([]string, 0, c.store.len())
	for h := c.recency.front(); h != nilHandle; {
		e := c.store.get(h)
		keys = append(keys, e.key)
		h = e.next
	}
	return keys
}

// DeleteExpired removes expired entries and returns their number.
// The recency list is ordered by access time, so the walk from the tail stops at the first fresh entry.
func (c *LRUCache[V]) DeleteExpired() int {
	n := c.deleteExpired(c.nowFn())
	if n > 0 {
		c.metricsCollector.SetAmount(c.store.len())
	}
	return n
}

func (c *LRUCache[V]) deleteExpired(now time.Time) int {
	if c.maxAge <= 0 {
		return 0
	}
	removed := 0
	for h := c.recency.back(); h != nilHandle && c.isExpired(h, now); h = c.recency.back() {
		c.expire(h)
		removed++
	}
	return removed
}

func (c *LRUCache[V]) maybeSweep(now time.Time) {
	if c.sweepEvery <= 0 {
		return
	}
	c.setsCounter++
	if c.setsCounter < c.sweepEvery {
		return
	}
	c.setsCounter = 0
	c.deleteExpired(now)
}

// isExpired reports whether the entry is older than maxAge. An entry aged exactly maxAge is still alive.
func (c *LRUCache[V]) isExpired(h handle, now time.Time) bool {
	return c.maxAge > 0 && now.Sub(c.store.get(h).touchedAt) > c.maxAge
}

// evict removes up to n least recently used entries.
func (c *LRUCache[V]) evict(n int) int {
	evicted := 0
	for ; evicted < n; evicted++ {
		h := c.recency.back()
		if h == nilHandle {
			break
		}
		c.release(h)
	}
	c.evictions += uint64(evicted)
	return evicted
}

func (c *LRUCache[V]) expire(h handle) {
	c.release(h)
	c.expirations++
	c.metricsCollector.AddExpirations(1)
	c.metricsCollector.SetAmount(c.store.len())
}

func (c *LRUCache[V]) release(h handle) {
	c.index.remove(h)
	c.recency.remove(h)
	c.store.destroy(h)
}
