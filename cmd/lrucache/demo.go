/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/acronis/go-lrucache/lrucache"
)

type demoTimings struct {
	MaxAge     time.Duration
	ShortWait  time.Duration // less than MaxAge
	LongWait   time.Duration // more than MaxAge, counted from the start of the age section
	Elements   int
	KeepAmount int
}

var defaultDemoTimings = demoTimings{
	MaxAge:     time.Second,
	ShortWait:  500 * time.Millisecond,
	LongWait:   1600 * time.Millisecond,
	Elements:   10,
	KeepAmount: 5,
}

// runDemo walks through the basic cache operations and prints what it reads back.
func runDemo(ctx context.Context, cache *lrucache.LRUCache[int], out io.Writer, t demoTimings) error {
	printAll := func(title string) {
		_, _ = fmt.Fprintln(out, title)
		for i := 0; i < t.Elements; i++ {
			if v, ok := cache.Get("test" + strconv.Itoa(i)); ok {
				_, _ = fmt.Fprintf(out, "%d %d\n", i, v)
			} else {
				_, _ = fmt.Fprintf(out, "%d <missing>\n", i)
			}
		}
		_, _ = fmt.Fprintln(out)
	}

	cache.Set("test", 1)
	v, _ := cache.Get("test")
	_, _ = fmt.Fprintf(out, "Set/Get\n%d\n\n", v)

	for i := 0; i < t.Elements; i++ {
		cache.Set("test"+strconv.Itoa(i), i)
	}
	cache.SetMaxElements(t.KeepAmount)
	printAll(fmt.Sprintf("SetMaxElements: remain %d items", t.KeepAmount))

	start := time.Now()
	cache.SetMaxAge(t.MaxAge)
	printAll(fmt.Sprintf("SetMaxAge #1: remain %d items", t.KeepAmount))

	for _, step := range []struct {
		wait  time.Duration
		title string
	}{
		{t.ShortWait, fmt.Sprintf("SetMaxAge #2: remain %d items", t.KeepAmount)},
		{t.LongWait, "SetMaxAge #3: remain 0 items"},
	} {
		timer := time.NewTimer(time.Until(start.Add(step.wait)))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		printAll(step.title)
	}

	stats := cache.Stats()
	_, _ = fmt.Fprintf(out, "Stats: size=%d buckets=%d loadFactor=%.2f maxLoadFactor=%.2f evictions=%d expirations=%d\n",
		stats.Size, stats.Buckets, stats.LoadFactor, stats.MaxLoadFactor, stats.Evictions, stats.Expirations)
	return nil
}
