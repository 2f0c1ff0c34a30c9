/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package restapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"code.cloudfoundry.org/bytefmt"
)

// MalformedRequestError is an error that occurs in case of incorrect request.
type MalformedRequestError struct {
	HTTPStatusCode int
	Message        string
}

func (e *MalformedRequestError) Error() string {
	return e.Message
}

// NewTooLargeMalformedRequestError creates a new MalformedRequestError for case when request body is too large.
func NewTooLargeMalformedRequestError(maxSizeBytes uint64) *MalformedRequestError {
	return &MalformedRequestError{
		http.StatusRequestEntityTooLarge,
		fmt.Sprintf("Request body must not be larger than %s.", bytefmt.ByteSize(maxSizeBytes)),
	}
}

// ReadRequestBody reads at most maxSizeBytes of the request body.
// A larger body results in MalformedRequestError with 413 status code.
func ReadRequestBody(rw http.ResponseWriter, r *http.Request, maxSizeBytes uint64) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(rw, r.Body, int64(maxSizeBytes))) //nolint:gosec // limit is validated by config
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return nil, NewTooLargeMalformedRequestError(maxSizeBytes)
		}
		return nil, &MalformedRequestError{http.StatusBadRequest, fmt.Sprintf("Failed to read request body: %v.", err)}
	}
	return body, nil
}

// DecodeRequestJSONStrict reads at most maxSizeBytes of the request body and decodes it as JSON.
func DecodeRequestJSONStrict(
	rw http.ResponseWriter, r *http.Request, dst interface{}, maxSizeBytes uint64, disallowUnknownFields bool,
) error {
	if reqContentType := r.Header.Get("Content-Type"); reqContentType != "" {
		contentType, _, err := mime.ParseMediaType(reqContentType)
		if err != nil {
			return &MalformedRequestError{
				http.StatusUnsupportedMediaType,
				fmt.Sprintf("Failed to parse Content-Type header for request: %s.", err),
			}
		}
		if contentType != ContentTypeAppJSON {
			return &MalformedRequestError{
				http.StatusUnsupportedMediaType,
				fmt.Sprintf("Content-Type %q is not supported.", contentType),
			}
		}
	}

	body, err := ReadRequestBody(rw, r, maxSizeBytes)
	if err != nil {
		return err
	}
	decoder := json.NewDecoder(bytes.NewReader(body))
	if disallowUnknownFields {
		decoder.DisallowUnknownFields()
	}
	return decodeRequest(decoder, dst)
}

func decodeRequest(decoder *json.Decoder, dst interface{}) error {
	err := decoder.Decode(dst)
	if err == nil {
		return nil
	}

	var syntaxErr *json.SyntaxError
	var unmarshalTypeErr *json.UnmarshalTypeError
	switch {
	case errors.Is(err, io.EOF):
		return &MalformedRequestError{http.StatusBadRequest, "Request body must not be empty."}
	case errors.Is(err, io.ErrUnexpectedEOF):
		return &MalformedRequestError{http.StatusBadRequest, "Request body contains badly-formed JSON."}
	case errors.As(err, &syntaxErr):
		return &MalformedRequestError{
			http.StatusBadRequest,
			fmt.Sprintf("Request body contains badly-formed JSON (at position %d).", syntaxErr.Offset),
		}
	case errors.As(err, &unmarshalTypeErr) && unmarshalTypeErr.Field != "":
		return &MalformedRequestError{
			http.StatusBadRequest,
			fmt.Sprintf("Request body contains an invalid value for the %q field (at position %d).",
				unmarshalTypeErr.Field, unmarshalTypeErr.Offset),
		}
	case strings.HasPrefix(err.Error(), "json: unknown field "):
		fieldName := strings.TrimPrefix(err.Error(), "json: unknown field ")
		return &MalformedRequestError{http.StatusBadRequest, fmt.Sprintf("Request body contains unknown field %s.", fieldName)}
	}
	return &MalformedRequestError{http.StatusBadRequest, fmt.Sprintf("Request body is invalid: %v.", err)}
}
