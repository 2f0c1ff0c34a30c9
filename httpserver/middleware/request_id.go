/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"net/http"

	"github.com/rs/xid"
)

// Request id headers.
const (
	HeaderRequestID         = "X-Request-ID"
	HeaderInternalRequestID = "X-Int-Request-ID"
)

// RequestIDOpts represents an options for RequestID middleware.
type RequestIDOpts struct {
	GenerateID         func() string
	GenerateInternalID func() string
}

type requestIDHandler struct {
	next http.Handler
	opts RequestIDOpts
}

// NewRequestID returns a new xid-based request id.
func NewRequestID() string {
	return xid.New().String()
}

// RequestID is a middleware that reads X-Request-ID request header and generates a new id if it's empty.
// It also generates an internal request id, unique for every request even when the client repeats
// the external one (e.g. on retries).
// Both ids are put into the request context and returned in X-Request-ID and X-Int-Request-ID response headers.
func RequestID() func(next http.Handler) http.Handler {
	return RequestIDWithOpts(RequestIDOpts{})
}

// RequestIDWithOpts is a more configurable version of RequestID middleware.
func RequestIDWithOpts(opts RequestIDOpts) func(next http.Handler) http.Handler {
	if opts.GenerateID == nil {
		opts.GenerateID = NewRequestID
	}
	if opts.GenerateInternalID == nil {
		opts.GenerateInternalID = NewRequestID
	}
	return func(next http.Handler) http.Handler {
		return &requestIDHandler{next: next, opts: opts}
	}
}

func (h *requestIDHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	requestID := r.Header.Get(HeaderRequestID)
	if requestID == "" {
		requestID = h.opts.GenerateID()
	}
	ctx = NewContextWithRequestID(ctx, requestID)
	rw.Header().Set(HeaderRequestID, requestID)

	internalRequestID := h.opts.GenerateInternalID()
	ctx = NewContextWithInternalRequestID(ctx, internalRequestID)
	rw.Header().Set(HeaderInternalRequestID, internalRequestID)

	h.next.ServeHTTP(rw, r.WithContext(ctx))
}
