/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package middleware contains HTTP middlewares shared by the cache HTTP server and the profiling server:
// request ids, access logging, panic recovery and request metrics.
package middleware

import (
	"net/http"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/vasayxtx/go-glob"
)

// RoutePatternGetterFunc is a function for getting route pattern from the request.
// The returned value is used as a metric label, so the set of values must be finite.
type RoutePatternGetterFunc func(r *http.Request) string

// WrapResponseWriter is a proxy around http.ResponseWriter that captures status code and written bytes.
type WrapResponseWriter = chimiddleware.WrapResponseWriter

// WrapResponseWriterIfNeeded wraps an http.ResponseWriter if it is not already wrapped.
func WrapResponseWriterIfNeeded(rw http.ResponseWriter, protoMajor int) WrapResponseWriter {
	if wrw, ok := rw.(WrapResponseWriter); ok {
		return wrw
	}
	return chimiddleware.NewWrapResponseWriter(rw, protoMajor)
}

// endpointMatcher reports whether URL path matches one of the glob patterns (e.g. "/debug/*").
type endpointMatcher []func(string) bool

func newEndpointMatcher(patterns []string) endpointMatcher {
	m := make(endpointMatcher, 0, len(patterns))
	for _, p := range patterns {
		m = append(m, glob.Compile(p))
	}
	return m
}

func (m endpointMatcher) match(urlPath string) bool {
	for i := range m {
		if m[i](urlPath) {
			return true
		}
	}
	return false
}
