/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package lrucache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acronis/go-lrucache/log/logtest"
)

func TestSyncLRUCache(t *testing.T) {
	cache, err := NewSync[int](Options{MaxElements: 100})
	require.NoError(t, err)

	const numGoroutines = 8
	const numKeys = 200
	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for g := 0; g < numGoroutines; g++ {
		go func(g int) {
			defer wg.Done()
			for i := 0; i < numKeys; i++ {
				key := fmt.Sprintf("key%d", (i+g)%numKeys)
				cache.Set(key, i)
				cache.Get(key)
				if i%10 == 0 {
					cache.Remove(key)
				}
			}
		}(g)
	}
	wg.Wait()

	require.LessOrEqual(t, cache.Len(), 100)
	stats := cache.Stats()
	require.Equal(t, cache.Len(), stats.Size)
	require.Len(t, cache.Keys(), stats.Size)

	cache.Clear()
	require.Equal(t, 0, cache.Len())
	for i := 0; i < 10; i++ {
		cache.Set(fmt.Sprintf("key%d", i), i)
	}
	cache.SetMaxAge(time.Minute)
	require.Equal(t, 5, cache.SetMaxElements(5))
	require.Equal(t, 0, cache.DeleteExpired())
	require.Equal(t, []string{"key9", "key8", "key7", "key6", "key5"}, cache.Keys())
	cache.Clear()
	require.Equal(t, 0, cache.Len())
	_, found := cache.Peek("key1")
	require.False(t, found)
}

func TestSyncLRUCache_GetOrLoad(t *testing.T) {
	t.Run("concurrent misses share one load", func(t *testing.T) {
		cache, err := NewSync[string](Options{})
		require.NoError(t, err)

		var loads int32
		loader := func(key string) (string, error) {
			atomic.AddInt32(&loads, 1)
			time.Sleep(100 * time.Millisecond)
			return "value of " + key, nil
		}

		const numGoroutines = 10
		var wg sync.WaitGroup
		values := make([]string, numGoroutines)
		wg.Add(numGoroutines)
		for i := 0; i < numGoroutines; i++ {
			go func(i int) {
				defer wg.Done()
				val, exists, loadErr := cache.GetOrLoad("foo", loader)
				assert.NoError(t, loadErr)
				assert.False(t, exists)
				values[i] = val
			}(i)
		}
		wg.Wait()

		require.Equal(t, int32(1), loads)
		for _, v := range values {
			require.Equal(t, "value of foo", v)
		}

		val, exists, err := cache.GetOrLoad("foo", loader)
		require.NoError(t, err)
		require.True(t, exists)
		require.Equal(t, "value of foo", val)
		require.Equal(t, int32(1), loads)
	})

	t.Run("failed load is not cached", func(t *testing.T) {
		cache, err := NewSync[string](Options{})
		require.NoError(t, err)

		loadErr := errors.New("backend is down")
		_, exists, err := cache.GetOrLoad("foo", func(string) (string, error) {
			return "", loadErr
		})
		require.ErrorIs(t, err, loadErr)
		require.False(t, exists)
		require.Equal(t, 0, cache.Len())

		val, exists, err := cache.GetOrLoad("foo", func(string) (string, error) {
			return "bar", nil
		})
		require.NoError(t, err)
		require.False(t, exists)
		require.Equal(t, "bar", val)
		require.Equal(t, 1, cache.Len())
	})
}

func TestSyncLRUCache_RunPeriodicCleanup(t *testing.T) {
	logRecorder := logtest.NewRecorder()
	cache, err := NewSync[int](Options{MaxAge: 50 * time.Millisecond, Logger: logRecorder})
	require.NoError(t, err)

	cache.Set("foo", 1)
	cache.Set("bar", 2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		cache.RunPeriodicCleanup(ctx, 20*time.Millisecond)
	}()

	require.Eventually(t, func() bool {
		return cache.Len() == 0
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, uint64(2), cache.Stats().Expirations)

	// The second cleanup loop exits right away.
	cache.RunPeriodicCleanup(ctx, time.Millisecond)
	_, found := logRecorder.FindEntry("periodic cache cleanup is already running")
	require.True(t, found)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup did not stop after context cancellation")
	}
	_, found = logRecorder.FindEntry("periodic cache cleanup stopped")
	require.True(t, found)
}
