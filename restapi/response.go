/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package restapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/acronis/go-lrucache/log"
)

// ContentTypeAppJSON represents a content type for JSON data.
const ContentTypeAppJSON = "application/json"

// ErrorResponseData is used for answer on requests with error.
type ErrorResponseData struct {
	Err *Error `json:"error"`
}

func (e *ErrorResponseData) Error() string {
	return fmt.Sprintf("HTTP error occurs: %+v", e.Err)
}

func jsonMarshal(v interface{}) ([]byte, error) {
	var buffer bytes.Buffer
	encoder := json.NewEncoder(&buffer)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(v); err != nil {
		return nil, err
	}
	return buffer.Bytes()[:buffer.Len()-1], nil
}

// RespondJSON sends a 200 response with respData marshaled to JSON.
func RespondJSON(rw http.ResponseWriter, respData interface{}, logger log.FieldLogger) {
	RespondCodeAndJSON(rw, http.StatusOK, respData, logger)
}

// RespondCodeAndJSON sends a response with the passed status code and respData marshaled to JSON.
// Nil respData means an empty body.
func RespondCodeAndJSON(rw http.ResponseWriter, statusCode int, respData interface{}, logger log.FieldLogger) {
	if respData == nil {
		rw.WriteHeader(statusCode)
		return
	}

	respJSON, err := jsonMarshal(respData)
	if err != nil {
		if logger != nil {
			logger.Error("error while marshaling json for response body", log.Error(err))
		}
		rw.WriteHeader(http.StatusInternalServerError)
		return
	}

	if rw.Header().Get("Content-Type") == "" {
		rw.Header().Set("Content-Type", ContentTypeAppJSON)
	}
	rw.WriteHeader(statusCode)
	if _, err = rw.Write(respJSON); err != nil && logger != nil {
		logger.Error("error while writing response body", log.Error(err))
	}
}

// RespondError sends the error wrapped into ErrorResponseData.
// Server-side errors (5xx) are logged, client ones are visible in the access log only.
func RespondError(rw http.ResponseWriter, httpStatusCode int, err *Error, logger log.FieldLogger) {
	if httpStatusCode >= http.StatusInternalServerError && logger != nil {
		fields := []log.Field{log.String("error_code", err.Code), log.String("error_message", err.Message)}
		logger.Error("error in response", fields...)
	}
	RespondCodeAndJSON(rw, httpStatusCode, ErrorResponseData{err}, logger)
}

// RespondInternalError sends the internal error of the given domain.
func RespondInternalError(rw http.ResponseWriter, domain string, logger log.FieldLogger) {
	RespondError(rw, http.StatusInternalServerError, NewInternalError(domain), logger)
}

// RespondMalformedRequestError sends reqErr with the error code derived from its HTTP status.
func RespondMalformedRequestError(rw http.ResponseWriter, domain string, reqErr *MalformedRequestError, logger log.FieldLogger) {
	RespondError(rw, reqErr.HTTPStatusCode, NewError(domain, httpCode2ErrorCode(reqErr.HTTPStatusCode), reqErr.Message), logger)
}
