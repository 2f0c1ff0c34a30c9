/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package restapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-lrucache/log/logtest"
)

func TestRespondCodeAndJSON(t *testing.T) {
	resp := httptest.NewRecorder()
	RespondJSON(resp, map[string]string{"html": "<b>"}, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, ContentTypeAppJSON, resp.Header().Get("Content-Type"))
	require.Equal(t, `{"html":"<b>"}`, resp.Body.String())

	resp = httptest.NewRecorder()
	RespondCodeAndJSON(resp, http.StatusNoContent, nil, nil)
	require.Equal(t, http.StatusNoContent, resp.Code)
	require.Empty(t, resp.Body.String())

	logger := logtest.NewRecorder()
	resp = httptest.NewRecorder()
	RespondJSON(resp, map[string]interface{}{"ch": make(chan int)}, logger)
	require.Equal(t, http.StatusInternalServerError, resp.Code)
	_, found := logger.FindEntry("error while marshaling json for response body")
	require.True(t, found)
}

func TestRespondError(t *testing.T) {
	tests := []struct {
		name     string
		respond  func(rw http.ResponseWriter, logger *logtest.Recorder)
		wantCode int
		wantBody string
		wantLog  bool
	}{
		{
			name: "client error is not logged",
			respond: func(rw http.ResponseWriter, logger *logtest.Recorder) {
				RespondError(rw, http.StatusNotFound, NewError("LRUCache", ErrCodeNotFound, ErrMessageNotFound), logger)
			},
			wantCode: http.StatusNotFound,
			wantBody: `{"error":{"domain":"LRUCache","code":"notFound","message":"Not found."}}`,
		},
		{
			name: "internal error is logged",
			respond: func(rw http.ResponseWriter, logger *logtest.Recorder) {
				RespondInternalError(rw, "LRUCache", logger)
			},
			wantCode: http.StatusInternalServerError,
			wantBody: `{"error":{"domain":"LRUCache","code":"internalError","message":"Internal error."}}`,
			wantLog:  true,
		},
		{
			name: "malformed request error code is derived from status",
			respond: func(rw http.ResponseWriter, logger *logtest.Recorder) {
				reqErr := &MalformedRequestError{http.StatusUnsupportedMediaType, "Content-Type \"text/plain\" is not supported."}
				RespondMalformedRequestError(rw, "LRUCache", reqErr, logger)
			},
			wantCode: http.StatusUnsupportedMediaType,
			wantBody: `{"error":{"domain":"LRUCache","code":"unsupportedMediaType","message":"Content-Type \"text/plain\" is not supported."}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := logtest.NewRecorder()
			resp := httptest.NewRecorder()
			tt.respond(resp, logger)
			require.Equal(t, tt.wantCode, resp.Code)
			require.Equal(t, ContentTypeAppJSON, resp.Header().Get("Content-Type"))
			require.JSONEq(t, tt.wantBody, resp.Body.String())
			_, found := logger.FindEntry("error in response")
			require.Equal(t, tt.wantLog, found)
		})
	}
}

func TestHTTPCode2ErrorCode(t *testing.T) {
	require.Equal(t, "requestEntityTooLarge", httpCode2ErrorCode(http.StatusRequestEntityTooLarge))
	require.Equal(t, "badRequest", httpCode2ErrorCode(http.StatusBadRequest))
	require.Equal(t, ErrCodeInternal, httpCode2ErrorCode(http.StatusInternalServerError))
}
