/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package lrucache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/acronis/go-lrucache/log"
)

// SyncLRUCache wraps LRUCache with a mutex so it can be shared between goroutines.
// It also provides loading with duplicate suppression and periodic cleanup of expired entries.
type SyncLRUCache[V any] struct {
	mu    sync.Mutex
	cache *LRUCache[V]

	loads          loadGroup[V]
	cleanupRunning atomic.Bool
	logger         log.FieldLogger
}

// NewSync creates a new SyncLRUCache with the provided options.
func NewSync[V any](opts Options) (*SyncLRUCache[V], error) {
	c, err := New[V](opts)
	if err != nil {
		return nil, err
	}
	return &SyncLRUCache[V]{cache: c, logger: c.logger}, nil
}

// Get returns a value from the cache by the provided key.
func (c *SyncLRUCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Get(key)
}

// Peek returns a value without updating its recency and TTL window.
func (c *SyncLRUCache[V]) Peek(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Peek(key)
}

// Set adds a value to the cache or replaces the existing one.
func (c *SyncLRUCache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Set(key, value)
}

// Remove removes a value from the cache by the provided key.
func (c *SyncLRUCache[V]) Remove(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Remove(key)
}

// Clear removes all entries from the cache.
func (c *SyncLRUCache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Clear()
}

// Len returns the number of entries in the cache.
func (c *SyncLRUCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Len()
}

// Stats returns a snapshot of the cache geometry and counters.
func (c *SyncLRUCache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Stats()
}

// SetMaxElements changes the cap on the number of entries and returns the number of evicted entries.
func (c *SyncLRUCache[V]) SetMaxElements(n int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.SetMaxElements(n)
}

// SetMaxAge changes the TTL window.
func (c *SyncLRUCache[V]) SetMaxAge(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.SetMaxAge(d)
}

// MaxAge returns the current TTL window.
func (c *SyncLRUCache[V]) MaxAge() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.MaxAge()
}

// Keys returns all keys ordered from the most to the least recently used.
func (c *SyncLRUCache[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Keys()
}

// DeleteExpired removes expired entries and returns their number.
func (c *SyncLRUCache[V]) DeleteExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.DeleteExpired()
}

// GetOrLoad returns a value from the cache by the provided key.
// On a miss it calls loader and stores the result unless loader fails.
// Concurrent misses for the same key share a single loader call.
// The returned bool reports whether the value was found in the cache.
func (c *SyncLRUCache[V]) GetOrLoad(key string, loader func(key string) (V, error)) (value V, exists bool, err error) {
	if value, exists = c.Get(key); exists {
		return value, true, nil
	}
	value, _, err = c.loads.Do(key, func() (V, error) {
		// Another loader might have finished between the miss and joining the group.
		if v, ok := c.Peek(key); ok {
			return v, nil
		}
		v, loadErr := loader(key)
		if loadErr != nil {
			return v, loadErr
		}
		c.Set(key, v)
		return v, nil
	})
	return value, false, err
}

// RunPeriodicCleanup runs a cycle of periodic cleanup of expired entries.
// It's supposed to be run in a separate goroutine and stops when ctx is done.
// Only one cleanup cycle may run at a time, extra calls return immediately.
func (c *SyncLRUCache[V]) RunPeriodicCleanup(ctx context.Context, cleanupInterval time.Duration) {
	if !c.cleanupRunning.CompareAndSwap(false, true) {
		c.logger.Warn("periodic cache cleanup is already running")
		return
	}
	defer c.cleanupRunning.Store(false)

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	c.logger.Info("periodic cache cleanup started", log.Duration("interval", cleanupInterval))
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("periodic cache cleanup stopped")
			return
		case <-ticker.C:
			if n := c.DeleteExpired(); n > 0 {
				c.logger.Debug("expired cache entries removed", log.Int("removed", n))
			}
		}
	}
}
