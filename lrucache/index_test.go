/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package lrucache

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBucketsFor(t *testing.T) {
	tests := []struct {
		sizeHint      int
		maxLoadFactor float64
		want          int
	}{
		{0, 1, minBuckets},
		{8, 1, 8},
		{9, 1, 16},
		{100, 1, 128},
		{100, 0.5, 256},
		{100, 4, 32},
		{1000, 0.75, 2048},
		{MaxSize, MinMaxLoadFactor, maxBuckets},
		{math.MaxInt, 1e-20, maxBuckets},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d/%v", tt.sizeHint, tt.maxLoadFactor), func(t *testing.T) {
			require.Equal(t, tt.want, bucketsFor(tt.sizeHint, tt.maxLoadFactor, maxBuckets))
		})
	}
}

func TestIndex(t *testing.T) {
	newTestIndex := func(maxLoadFactor float64) (*index[int], *entryStore[int]) {
		store := newEntryStore[int](0)
		return newIndex[int](store, 0, maxLoadFactor), store
	}
	add := func(idx *index[int], store *entryStore[int], key string, val int) handle {
		h := store.create(key, hashKey(key), val, time.Time{})
		idx.insert(h)
		return h
	}

	t.Run("lookup, insert, remove", func(t *testing.T) {
		idx, store := newTestIndex(1)
		handles := make(map[string]handle)
		for i := 0; i < 100; i++ {
			key := fmt.Sprintf("key%d", i)
			handles[key] = add(idx, store, key, i)
		}
		require.Equal(t, 100, idx.count)
		require.Equal(t, 128, idx.bucketCount())
		require.LessOrEqual(t, idx.loadFactor(), 1.0)

		for key, want := range handles {
			h, found := idx.lookup(key, hashKey(key))
			require.True(t, found, key)
			require.Equal(t, want, h)
		}
		_, found := idx.lookup("absent", hashKey("absent"))
		require.False(t, found)

		for i := 0; i < 100; i += 2 {
			key := fmt.Sprintf("key%d", i)
			idx.remove(handles[key])
			store.destroy(handles[key])
		}
		require.Equal(t, 50, idx.count)
		for i := 0; i < 100; i++ {
			key := fmt.Sprintf("key%d", i)
			h, found := idx.lookup(key, hashKey(key))
			require.Equal(t, i%2 == 1, found, key)
			if found {
				require.Equal(t, i, store.get(h).value)
			}
		}
	})

	t.Run("colliding chain", func(t *testing.T) {
		// Entries sharing a hash go to the same bucket, so removal must relink the chain.
		idx, store := newTestIndex(100)
		var hs []handle
		for i := 0; i < 5; i++ {
			h := store.create(fmt.Sprintf("k%d", i), 42, i, time.Time{})
			idx.insert(h)
			hs = append(hs, h)
		}
		require.Equal(t, minBuckets, idx.bucketCount())

		idx.remove(hs[2]) // middle of the chain
		idx.remove(hs[4]) // head of the chain
		idx.remove(hs[0]) // tail of the chain
		for i, want := range []bool{false, true, false, true, false} {
			_, found := idx.lookup(fmt.Sprintf("k%d", i), 42)
			require.Equal(t, want, found, i)
		}
		require.Equal(t, 2, idx.count)
	})

	t.Run("grow rehashes all entries", func(t *testing.T) {
		idx, store := newTestIndex(0.25)
		var grows [][2]int
		idx.onGrow = func(oldBuckets, newBuckets int) {
			grows = append(grows, [2]int{oldBuckets, newBuckets})
		}
		for i := 0; i < 64; i++ {
			add(idx, store, fmt.Sprintf("key%d", i), i)
		}
		require.Equal(t, 256, idx.bucketCount())
		require.Equal(t, [][2]int{{8, 16}, {16, 32}, {32, 64}, {64, 128}, {128, 256}}, grows)
		for i := 0; i < 64; i++ {
			key := fmt.Sprintf("key%d", i)
			h, found := idx.lookup(key, hashKey(key))
			require.True(t, found)
			require.Equal(t, i, store.get(h).value)
		}

		idx.clear()
		require.Equal(t, 0, idx.count)
		require.Equal(t, 256, idx.bucketCount())
		_, found := idx.lookup("key1", hashKey("key1"))
		require.False(t, found)
	})

	t.Run("grow stops at buckets limit", func(t *testing.T) {
		idx, store := newTestIndex(MinMaxLoadFactor)
		idx.bucketsLimit = 32
		var grows int
		idx.onGrow = func(oldBuckets, newBuckets int) {
			grows++
			require.LessOrEqual(t, newBuckets, 32)
		}
		for i := 0; i < 100; i++ {
			add(idx, store, fmt.Sprintf("key%d", i), i)
		}
		require.Equal(t, 32, idx.bucketCount())
		require.Equal(t, 1, grows)
		for i := 0; i < 100; i++ {
			key := fmt.Sprintf("key%d", i)
			h, found := idx.lookup(key, hashKey(key))
			require.True(t, found)
			require.Equal(t, i, store.get(h).value)
		}
	})
}

func TestRecencyList(t *testing.T) {
	store := newEntryStore[int](0)
	l := newRecencyList[int](store)

	order := func() []string {
		var keys []string
		for h := l.front(); h != nilHandle; h = store.get(h).next {
			keys = append(keys, store.get(h).key)
		}
		return keys
	}

	require.Equal(t, nilHandle, l.back())
	a := store.create("a", 0, 1, time.Time{})
	b := store.create("b", 0, 2, time.Time{})
	c := store.create("c", 0, 3, time.Time{})
	l.pushFront(a)
	l.pushFront(b)
	l.pushFront(c)
	require.Equal(t, []string{"c", "b", "a"}, order())
	require.Equal(t, a, l.back())

	l.moveToFront(a)
	require.Equal(t, []string{"a", "c", "b"}, order())
	require.Equal(t, b, l.back())

	l.moveToFront(a)
	require.Equal(t, []string{"a", "c", "b"}, order())

	l.remove(c)
	require.Equal(t, []string{"a", "b"}, order())
	l.remove(b)
	require.Equal(t, a, l.back())
	require.Equal(t, a, l.front())
	l.remove(a)
	require.Nil(t, order())
	require.Equal(t, nilHandle, l.back())
}

func TestEntryStore(t *testing.T) {
	store := newEntryStore[string](0)
	now := time.Now()

	a := store.create("a", 1, "A", now)
	b := store.create("b", 2, "B", now)
	require.Equal(t, 2, store.len())

	store.destroy(a)
	require.Equal(t, 1, store.len())
	require.Equal(t, "", store.get(a).value)

	c := store.create("c", 3, "C", now)
	require.Equal(t, a, c, "freed slot is reused")
	require.Equal(t, "C", store.get(c).value)

	later := now.Add(time.Minute)
	store.touch(b, later)
	require.Equal(t, later, store.get(b).touchedAt)

	store.reset()
	require.Equal(t, 0, store.len())
	d := store.create("d", 4, "D", now)
	require.Equal(t, handle(0), d)
}
