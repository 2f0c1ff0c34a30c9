/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package cacheserver

import (
	"errors"
	"net/http"

	"github.com/acronis/go-lrucache/log"
	"github.com/acronis/go-lrucache/restapi"
)

// ErrorDomain is the domain of all errors returned by the server.
const ErrorDomain = "LRUCache"

// ErrInvalidArgument means the request did not carry the arguments the operation expects
// (e.g. an empty key or a malformed settings document).
var ErrInvalidArgument = errors.New("invalid argument")

// Cache specific error codes.
const (
	ErrCodeInvalidArgument = "invalidArgument"
	ErrCodeValueTooLarge   = "valueTooLarge"
)

func respondError(rw http.ResponseWriter, statusCode int, code, message string, logger log.FieldLogger) {
	restapi.RespondError(rw, statusCode, restapi.NewError(ErrorDomain, code, message), logger)
}

func respondInvalidArgument(rw http.ResponseWriter, err error, logger log.FieldLogger) {
	respondError(rw, http.StatusBadRequest, ErrCodeInvalidArgument, err.Error(), logger)
}

// respondMalformedRequest maps body reading and decoding errors to the cache error codes.
func respondMalformedRequest(rw http.ResponseWriter, err error, logger log.FieldLogger) {
	var reqErr *restapi.MalformedRequestError
	if !errors.As(err, &reqErr) {
		restapi.RespondInternalError(rw, ErrorDomain, logger)
		return
	}
	switch reqErr.HTTPStatusCode {
	case http.StatusRequestEntityTooLarge:
		respondError(rw, reqErr.HTTPStatusCode, ErrCodeValueTooLarge, reqErr.Message, logger)
	case http.StatusBadRequest:
		respondError(rw, reqErr.HTTPStatusCode, ErrCodeInvalidArgument, reqErr.Message, logger)
	default:
		restapi.RespondMalformedRequestError(rw, ErrorDomain, reqErr, logger)
	}
}
