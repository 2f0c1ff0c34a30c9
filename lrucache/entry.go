/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package lrucache

import "time"

// handle addresses an entry inside the entryStore arena.
type handle int32

const nilHandle handle = -1

type entry[V any] struct {
	key       string
	hash      uint64
	value     V
	touchedAt time.Time

	// Recency list links.
	prev handle
	next handle

	// Next entry in the same index bucket.
	chainNext handle
}

// entryStore owns all entry records. The index and the recency list only keep handles.
type entryStore[V any] struct {
	entries []entry[V]
	free    []handle
	live    int
}

func newEntryStore[V any](capacityHint int) *entryStore[V] {
	return &entryStore[V]{entries: make([]entry[V], 0, capacityHint)}
}

func (s *entryStore[V]) create(key string, hash uint64, value V, now time.Time) handle {
	e := entry[V]{
		key:       key,
		hash:      hash,
		value:     value,
		touchedAt: now,
		prev:      nilHandle,
		next:      nilHandle,
		chainNext: nilHandle,
	}
	s.live++
	if n := len(s.free); n > 0 {
		h := s.free[n-1]
		s.free = s.free[:n-1]
		s.entries[h] = e
		return h
	}
	s.entries = append(s.entries, e)
	return handle(len(s.entries) - 1)
}

// destroy releases the slot. The entry must be unlinked from the index and the recency list.
func (s *entryStore[V]) destroy(h handle) {
	s.entries[h] = entry[V]{prev: nilHandle, next: nilHandle, chainNext: nilHandle}
	s.free = append(s.free, h)
	s.live--
}

func (s *entryStore[V]) get(h handle) *entry[V] {
	return &s.entries[h]
}

func (s *entryStore[V]) touch(h handle, now time.Time) {
	s.entries[h].touchedAt = now
}

func (s *entryStore[V]) len() int {
	return s.live
}

func (s *entryStore[V]) reset() {
	var zero entry[V]
	for i := range s.entries {
		s.entries[i] = zero
	}
	s.entries = s.entries[:0]
	s.free = s.free[:0]
	s.live = 0
}
