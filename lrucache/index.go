/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package lrucache

import (
	"math"

	"github.com/cespare/xxhash/v2"
)

const (
	minBuckets = 8
	maxBuckets = 1 << 30
)

// index maps keys to entry handles using separate chaining.
// Chains are threaded through entry.chainNext, so the index itself stores only bucket heads.
type index[V any] struct {
	store         *entryStore[V]
	buckets       []handle
	mask          uint64
	count         int
	maxLoadFactor float64
	bucketsLimit  int

	onGrow func(oldBuckets, newBuckets int)
}

func newIndex[V any](store *entryStore[V], sizeHint int, maxLoadFactor float64) *index[V] {
	idx := &index[V]{store: store, maxLoadFactor: maxLoadFactor, bucketsLimit: maxBuckets}
	idx.allocate(bucketsFor(sizeHint, maxLoadFactor, idx.bucketsLimit))
	return idx
}

// bucketsFor returns the smallest power of two holding sizeHint entries within maxLoadFactor.
// The result never exceeds limit.
func bucketsFor(sizeHint int, maxLoadFactor float64, limit int) int {
	want := math.Ceil(float64(sizeHint) / maxLoadFactor)
	n := minBuckets
	for float64(n) < want && n < limit {
		n <<= 1
	}
	return n
}

func hashKey(key string) uint64 {
	return xxhash.Sum64String(key)
}

func (idx *index[V]) allocate(n int) {
	idx.buckets = make([]handle, n)
	for i := range idx.buckets {
		idx.buckets[i] = nilHandle
	}
	idx.mask = uint64(n - 1)
}

func (idx *index[V]) lookup(key string, hash uint64) (handle, bool) {
	for h := idx.buckets[hash&idx.mask]; h != nilHandle; {
		e := idx.store.get(h)
		if e.hash == hash && e.key == key {
			return h, true
		}
		h = e.chainNext
	}
	return nilHandle, false
}

// insert links the entry into its bucket. The key must not be present.
func (idx *index[V]) insert(h handle) {
	e := idx.store.get(h)
	b := e.hash & idx.mask
	e.chainNext = idx.buckets[b]
	idx.buckets[b] = h
	idx.count++
	if idx.loadFactor() > idx.maxLoadFactor {
		idx.grow()
	}
}

func (idx *index[V]) remove(h handle) {
	e := idx.store.get(h)
	b := e.hash & idx.mask
	if idx.buckets[b] == h {
		idx.buckets[b] = e.chainNext
	} else {
		prev := idx.store.get(idx.buckets[b])
		for prev.chainNext != h {
			if prev.chainNext == nilHandle {
				return
			}
			prev = idx.store.get(prev.chainNext)
		}
		prev.chainNext = e.chainNext
	}
	e.chainNext = nilHandle
	idx.count--
}

// grow doubles the bucket array until the load factor fits and rehashes every live entry.
// At bucketsLimit the index stops growing and chains get longer instead.
func (idx *index[V]) grow() {
	oldBuckets := idx.buckets
	n := len(oldBuckets)
	if n >= idx.bucketsLimit {
		return
	}
	for float64(idx.count)/float64(n) > idx.maxLoadFactor && n < idx.bucketsLimit {
		n <<= 1
	}
	idx.allocate(n)
	for _, head := range oldBuckets {
		for h := head; h != nilHandle; {
			e := idx.store.get(h)
			next := e.chainNext
			b := e.hash & idx.mask
			e.chainNext = idx.buckets[b]
			idx.buckets[b] = h
			h = next
		}
	}
	if idx.onGrow != nil {
		idx.onGrow(len(oldBuckets), n)
	}
}

// clear empties all buckets but keeps the current geometry.
func (idx *index[V]) clear() {
	for i := range idx.buckets {
		idx.buckets[i] = nilHandle
	}
	idx.count = 0
}

func (idx *index[V]) loadFactor() float64 {
	return float64(idx.count) / float64(len(idx.buckets))
}

func (idx *index[V]) bucketCount() int {
	return len(idx.buckets)
}
