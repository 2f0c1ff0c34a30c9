/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package restapi contains the JSON envelope and helpers shared by the cache HTTP API
// and the middlewares serving it.
package restapi

import (
	"net/http"
	"strings"
	"unicode"
)

// Error represents an error details.
type Error struct {
	Domain  string `json:"domain"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// Common error codes.
const (
	ErrCodeInternal         = "internalError"
	ErrCodeNotFound         = "notFound"
	ErrCodeMethodNotAllowed = "methodNotAllowed"
)

// Common error messages.
const (
	ErrMessageInternal         = "Internal error."
	ErrMessageNotFound         = "Not found."
	ErrMessageMethodNotAllowed = "Method not allowed."
)

// NewError creates a new Error with specified params.
func NewError(domain, code, message string) *Error {
	return &Error{Domain: domain, Code: code, Message: message}
}

// NewInternalError creates a new internal error with specified domain.
func NewInternalError(domain string) *Error {
	return NewError(domain, ErrCodeInternal, ErrMessageInternal)
}

// httpCode2ErrorCode turns the status text into a camelCase error code ("Unsupported Media Type" -> "unsupportedMediaType").
func httpCode2ErrorCode(httpCode int) string {
	if httpCode == http.StatusInternalServerError {
		return ErrCodeInternal
	}
	var builder strings.Builder
	capitalizeNext := false
	for _, char := range http.StatusText(httpCode) {
		if unicode.IsSpace(char) {
			capitalizeNext = true
			continue
		}
		if capitalizeNext {
			builder.WriteRune(unicode.ToTitle(char))
			capitalizeNext = false
			continue
		}
		builder.WriteRune(unicode.ToLower(char))
	}
	return builder.String()
}
