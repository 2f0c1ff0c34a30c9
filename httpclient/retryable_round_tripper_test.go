/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package httpclient

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-lrucache/log/logtest"
	"github.com/acronis/go-lrucache/retry"
)

type reqInfo struct {
	method             string
	body               string
	retryAttemptHeader string
}

type testServerForRetryableRoundTripper struct {
	*httptest.Server
	sync.Mutex
	reqInfos  []reqInfo
	respCodes []int // Consumed from the head, 200 when exhausted.
}

func (s *testServerForRetryableRoundTripper) ReqInfos() []reqInfo {
	s.Lock()
	defer s.Unlock()
	return append([]reqInfo(nil), s.reqInfos...)
}

func newTestServerForRetryableRoundTripper(t *testing.T, respCodes ...int) *testServerForRetryableRoundTripper {
	srv := &testServerForRetryableRoundTripper{respCodes: respCodes}
	srv.Server = httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		reqBody, _ := io.ReadAll(r.Body)

		srv.Lock()
		srv.reqInfos = append(srv.reqInfos, reqInfo{
			method:             r.Method,
			body:               string(reqBody),
			retryAttemptHeader: r.Header.Get(RetryAttemptNumberHeader),
		})
		respCode := http.StatusOK
		if len(srv.respCodes) > 0 {
			respCode, srv.respCodes = srv.respCodes[0], srv.respCodes[1:]
		}
		srv.Unlock()

		rw.WriteHeader(respCode)
		_, _ = rw.Write([]byte("body"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func doRequest(t *testing.T, rt http.RoundTripper, method, url string, body io.Reader) (*http.Response, error) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), method, url, body)
	require.NoError(t, err)
	resp, err := rt.RoundTrip(req)
	if resp != nil {
		t.Cleanup(func() { _ = resp.Body.Close() })
	}
	return resp, err
}

func TestNewRetryableRoundTripperWithOpts(t *testing.T) {
	_, err := NewRetryableRoundTripperWithOpts(http.DefaultTransport, RetryableRoundTripperOpts{MaxRetryAttempts: -2})
	require.Error(t, err)

	rt, err := NewRetryableRoundTripper(nil)
	require.NoError(t, err)
	require.Equal(t, DefaultMaxRetryAttempts, rt.MaxRetryAttempts)
	require.Equal(t, http.DefaultTransport, rt.Delegate)
}

func TestRetryableRoundTripper_RoundTrip(t *testing.T) {
	constBackoff := retry.NewConstantBackoffPolicy(time.Millisecond, 0)

	tests := []struct {
		name             string
		respCodes        []int
		body             io.Reader
		maxRetryAttempts int
		wantStatus       int
		wantReqs         int
	}{
		{
			name:       "success from the first attempt",
			wantStatus: http.StatusOK,
			wantReqs:   1,
		},
		{
			name:       "5xx and 429 are retried",
			respCodes:  []int{http.StatusServiceUnavailable, http.StatusTooManyRequests, http.StatusInternalServerError},
			body:       strings.NewReader("payload"),
			wantStatus: http.StatusOK,
			wantReqs:   4,
		},
		{
			name:       "4xx is not retried",
			respCodes:  []int{http.StatusBadRequest},
			wantStatus: http.StatusBadRequest,
			wantReqs:   1,
		},
		{
			name:             "max retry attempts exceeded",
			respCodes:        []int{http.StatusBadGateway, http.StatusBadGateway, http.StatusBadGateway, http.StatusBadGateway},
			body:             bytes.NewReader([]byte("payload")),
			maxRetryAttempts: 2,
			wantStatus:       http.StatusBadGateway,
			wantReqs:         3,
		},
		{
			name:       "non-seekable body is buffered",
			respCodes:  []int{http.StatusServiceUnavailable},
			body:       io.MultiReader(strings.NewReader("pay"), strings.NewReader("load")),
			wantStatus: http.StatusOK,
			wantReqs:   2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServerForRetryableRoundTripper(t, tt.respCodes...)
			logRecorder := logtest.NewRecorder()
			rt, err := NewRetryableRoundTripperWithOpts(http.DefaultTransport, RetryableRoundTripperOpts{
				Logger: logRecorder, MaxRetryAttempts: tt.maxRetryAttempts, BackoffPolicy: constBackoff,
			})
			require.NoError(t, err)

			method := http.MethodGet
			if tt.body != nil {
				method = http.MethodPut
			}
			resp, err := doRequest(t, rt, method, srv.URL, tt.body)
			require.NoError(t, err)
			require.Equal(t, tt.wantStatus, resp.StatusCode)

			reqInfos := srv.ReqInfos()
			require.Len(t, reqInfos, tt.wantReqs)
			for i, info := range reqInfos {
				if i == 0 {
					require.Empty(t, info.retryAttemptHeader)
				} else {
					require.Equal(t, strconv.Itoa(i), info.retryAttemptHeader)
				}
				if tt.body != nil {
					require.Equal(t, "payload", info.body)
				}
			}

			var retriedLogs int
			for _, entry := range logRecorder.Entries() {
				if entry.Text == "request failed, will be retried" {
					retriedLogs++
				}
			}
			require.Equal(t, tt.wantReqs-1, retriedLogs)
		})
	}
}

func TestRetryableRoundTripper_BackoffPolicyStops(t *testing.T) {
	srv := newTestServerForRetryableRoundTripper(t,
		http.StatusInternalServerError, http.StatusInternalServerError, http.StatusInternalServerError)
	rt, err := NewRetryableRoundTripperWithOpts(http.DefaultTransport, RetryableRoundTripperOpts{
		MaxRetryAttempts: UnlimitedRetryAttempts,
		BackoffPolicy:    retry.NewConstantBackoffPolicy(time.Millisecond, 1),
	})
	require.NoError(t, err)

	resp, err := doRequest(t, rt, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "body", string(respBody), "the last response is returned untouched")
	require.Len(t, srv.ReqInfos(), 2)
}

func TestRetryableRoundTripper_RetryAfter(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			rw.Header().Set("Retry-After", "0")
			rw.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		rw.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	// Backoff would wait for an hour, Retry-After tells to retry immediately.
	rt, err := NewRetryableRoundTripperWithOpts(http.DefaultTransport, RetryableRoundTripperOpts{
		BackoffPolicy: retry.NewConstantBackoffPolicy(time.Hour, 0),
	})
	require.NoError(t, err)
	resp, err := doRequest(t, rt, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, 2, calls)
}

func TestRetryableRoundTripper_ContextCanceledWhileWaiting(t *testing.T) {
	srv := newTestServerForRetryableRoundTripper(t, http.StatusServiceUnavailable)
	rt, err := NewRetryableRoundTripperWithOpts(http.DefaultTransport, RetryableRoundTripperOpts{
		BackoffPolicy: retry.NewConstantBackoffPolicy(time.Hour, 0),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := rt.RoundTrip(req) //nolint:bodyclose // resp is nil on error
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Nil(t, resp)
	require.Len(t, srv.ReqInfos(), 1)
}

func TestRetryableRoundTripper_TransportErrors(t *testing.T) {
	errTransport := errors.New("connection reset")
	var calls int
	delegate := roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		calls++
		if calls < 3 {
			return nil, errTransport
		}
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(""))}, nil
	})
	rt, err := NewRetryableRoundTripperWithOpts(delegate, RetryableRoundTripperOpts{
		BackoffPolicy: retry.NewConstantBackoffPolicy(time.Millisecond, 0),
	})
	require.NoError(t, err)
	resp, err := doRequest(t, rt, http.MethodDelete, "http://127.0.0.1/cache/foo", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 3, calls)

	needRetry, err := DefaultCheckRetry(context.Background(), nil, context.Canceled, 0)
	require.NoError(t, err)
	require.False(t, needRetry)
}

type roundTripperFunc func(r *http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}
