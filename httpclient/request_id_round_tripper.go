/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package httpclient

import (
	"net/http"

	"github.com/acronis/go-lrucache/httpserver/middleware"
)

// RequestIDRoundTripper sets X-Request-ID header of the outgoing request
// from the request id stored in the context (see middleware.NewContextWithRequestID).
type RequestIDRoundTripper struct {
	Delegate http.RoundTripper
}

// NewRequestIDRoundTripper creates an HTTP transport with X-Request-ID header support.
func NewRequestIDRoundTripper(delegate http.RoundTripper) *RequestIDRoundTripper {
	if delegate == nil {
		delegate = http.DefaultTransport
	}
	return &RequestIDRoundTripper{Delegate: delegate}
}

// RoundTrip adds X-Request-ID header to the request if it's not set yet.
func (rt *RequestIDRoundTripper) RoundTrip(r *http.Request) (*http.Response, error) {
	requestID := middleware.GetRequestIDFromContext(r.Context())
	if r.Header.Get(middleware.HeaderRequestID) != "" || requestID == "" {
		return rt.Delegate.RoundTrip(r)
	}
	r = r.Clone(r.Context())
	r.Header.Set(middleware.HeaderRequestID, requestID)
	return rt.Delegate.RoundTrip(r)
}
