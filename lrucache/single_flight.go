/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package lrucache

import (
	"bytes"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
)

// loadCall is an in-flight or completed load of a single key.
type loadCall[V any] struct {
	wg     sync.WaitGroup
	val    V
	err    error
	shared bool
}

// loadGroup suppresses duplicate loads of the same cache key.
type loadGroup[V any] struct {
	mu    sync.Mutex
	calls map[string]*loadCall[V]
}

// Do runs fn once per key at a time. Callers that arrive while fn is running wait for it
// and receive the same result with shared set to true.
func (g *loadGroup[V]) Do(key string, fn func() (V, error)) (val V, shared bool, err error) {
	g.mu.Lock()
	if g.calls == nil {
		g.calls = make(map[string]*loadCall[V])
	}
	if c, ok := g.calls[key]; ok {
		c.shared = true
		g.mu.Unlock()
		c.wg.Wait()
		return c.val, true, c.err
	}
	c := &loadCall[V]{}
	c.wg.Add(1)
	g.calls[key] = c
	g.mu.Unlock()

	val, err = g.do(c, key, fn)
	return val, false, err
}

func (g *loadGroup[V]) do(c *loadCall[V], key string, fn func() (V, error)) (val V, err error) {
	normalReturn := false
	recovered := false

	// double-defer to distinguish panic from runtime.Goexit
	defer func() {
		if !normalReturn && !recovered {
			c.err = ErrGoexit
		}

		c.wg.Done()

		g.mu.Lock()
		delete(g.calls, key)
		g.mu.Unlock()

		if recovered {
			panic(c.err.(*PanicError).Value) // re-panic on the same goroutine
		}

		val, err = c.val, c.err
	}()

	defer func() {
		if !normalReturn {
			if v := recover(); v != nil {
				c.err = newPanicError(v)
				recovered = true
			}
		}
	}()
	c.val, c.err = fn()
	normalReturn = true

	return c.val, c.err
}

// ErrGoexit is returned to waiting callers when the loader calls runtime.Goexit.
var ErrGoexit = errors.New("runtime.Goexit was called")

// PanicError is returned to waiting callers when the loader panics.
// It holds the panic value and the stack trace of the loading goroutine.
type PanicError struct {
	Value interface{}
	Stack []byte
}

func (p *PanicError) Error() string {
	return fmt.Sprintf("%v\n\n%s", p.Value, p.Stack)
}

// Unwrap returns the panic value if it is an error.
func (p *PanicError) Unwrap() error {
	err, ok := p.Value.(error)
	if !ok {
		return nil
	}
	return err
}

func newPanicError(v interface{}) error {
	stack := debug.Stack()

	// The first line is "goroutine N [status]:", which is stale by the time waiters read it.
	if line := bytes.IndexByte(stack, '\n'); line >= 0 {
		stack = stack[line+1:]
	}
	return &PanicError{Value: v, Stack: stack}
}
