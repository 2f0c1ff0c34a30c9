/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package cacheserver

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/acronis/go-lrucache/httpserver/middleware"
	"github.com/acronis/go-lrucache/log/logtest"
	"github.com/acronis/go-lrucache/lrucache"
	"github.com/acronis/go-lrucache/restapi"
	"github.com/acronis/go-lrucache/testutil"
)

type testEnv struct {
	cache          *lrucache.SyncLRUCache[string]
	cacheMetrics   *lrucache.PrometheusMetrics
	httpReqMetrics *middleware.HTTPRequestMetricsCollector
	logRecorder    *logtest.Recorder
	handler        http.Handler
}

func newTestEnv(t *testing.T, maxElements int) *testEnv {
	t.Helper()
	cacheMetrics := lrucache.NewPrometheusMetrics()
	cache, err := lrucache.NewSync[string](lrucache.Options{MaxElements: maxElements, MetricsCollector: cacheMetrics})
	require.NoError(t, err)
	cfg := NewDefaultConfig()
	cfg.Limits.MaxValueSize = 16
	logRecorder := logtest.NewRecorder()
	httpReqMetrics := middleware.NewHTTPRequestMetricsCollector()
	return &testEnv{
		cache:          cache,
		cacheMetrics:   cacheMetrics,
		httpReqMetrics: httpReqMetrics,
		logRecorder:    logRecorder,
		handler:        NewRouter(cfg, cache, logRecorder, httpReqMetrics, nil),
	}
}

func (e *testEnv) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}
	resp := httptest.NewRecorder()
	e.handler.ServeHTTP(resp, httptest.NewRequest(method, target, bodyReader))
	return resp
}

func requireErrorResponse(t *testing.T, resp *httptest.ResponseRecorder, wantStatus int, wantCode string) {
	t.Helper()
	require.Equal(t, wantStatus, resp.Code)
	require.Equal(t, "application/json", resp.Header().Get("Content-Type"))
	var respData restapi.ErrorResponseData
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &respData))
	require.Equal(t, ErrorDomain, respData.Err.Domain)
	require.Equal(t, wantCode, respData.Err.Code)
}

func TestRouter_CacheOperations(t *testing.T) {
	env := newTestEnv(t, 0)

	resp := env.do(t, http.MethodPut, "/cache/foo", "bar")
	require.Equal(t, http.StatusNoContent, resp.Code)

	resp = env.do(t, http.MethodGet, "/cache/foo", "")
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, "bar", resp.Body.String())

	resp = env.do(t, http.MethodGet, "/cache/missing", "")
	requireErrorResponse(t, resp, http.StatusNotFound, restapi.ErrCodeNotFound)

	resp = env.do(t, http.MethodDelete, "/cache/foo", "")
	require.Equal(t, http.StatusNoContent, resp.Code)
	resp = env.do(t, http.MethodDelete, "/cache/foo", "")
	require.Equal(t, http.StatusNoContent, resp.Code, "removing an absent key is not an error")

	resp = env.do(t, http.MethodGet, "/cache/foo", "")
	requireErrorResponse(t, resp, http.StatusNotFound, restapi.ErrCodeNotFound)

	require.Equal(t, 1, int(promtestutil.ToFloat64(env.cacheMetrics.HitsTotal.With(nil))))
	require.Equal(t, 2, int(promtestutil.ToFloat64(env.cacheMetrics.MissesTotal.With(nil))))
}

func TestRouter_EmptyValue(t *testing.T) {
	env := newTestEnv(t, 0)
	require.Equal(t, http.StatusNoContent, env.do(t, http.MethodPut, "/cache/empty", "").Code)
	resp := env.do(t, http.MethodGet, "/cache/empty", "")
	require.Equal(t, http.StatusOK, resp.Code)
	require.Empty(t, resp.Body.String())
}

func TestRouter_EmptyKey(t *testing.T) {
	tests := []struct {
		name   string
		method string
		body   string
	}{
		{name: "get", method: http.MethodGet},
		{name: "put", method: http.MethodPut, body: "v"},
		{name: "delete", method: http.MethodDelete},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, 0)
			env.cache.Set("a", "1")
			env.cache.Set("b", "2")

			requireErrorResponse(t, env.do(t, tt.method, "/cache/", tt.body), http.StatusBadRequest, ErrCodeInvalidArgument)
			require.Equal(t, []string{"b", "a"}, env.cache.Keys(), "cache must stay untouched")
		})
	}
}

func TestRouter_InvalidArguments(t *testing.T) {
	env := newTestEnv(t, 0)

	resp := env.do(t, http.MethodPut, "/cache/big", strings.Repeat("x", 17))
	requireErrorResponse(t, resp, http.StatusRequestEntityTooLarge, ErrCodeValueTooLarge)
	require.Equal(t, 0, env.cache.Len())

	requireErrorResponse(t, env.do(t, http.MethodPost, "/stats", ""), http.StatusMethodNotAllowed, restapi.ErrCodeMethodNotAllowed)
	requireErrorResponse(t, env.do(t, http.MethodGet, "/unknown", ""), http.StatusNotFound, restapi.ErrCodeNotFound)
}

func TestRouter_ClearAndKeys(t *testing.T) {
	env := newTestEnv(t, 0)
	for _, k := range []string{"a", "b", "c"} {
		require.Equal(t, http.StatusNoContent, env.do(t, http.MethodPut, "/cache/"+k, k).Code)
	}

	resp := env.do(t, http.MethodGet, "/keys", "")
	require.Equal(t, http.StatusOK, resp.Code)
	var keys []string
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &keys))
	require.Equal(t, []string{"c", "b", "a"}, keys)

	require.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, "/cache", "").Code)
	require.Equal(t, 0, env.cache.Len())
}

func TestRouter_SettingsAndStats(t *testing.T) {
	env := newTestEnv(t, 0)
	for i := 0; i < 10; i++ {
		env.cache.Set(string(rune('a'+i)), "v")
	}

	resp := env.do(t, http.MethodPut, "/settings", `{"maxElements": 5, "maxAge": "250ms"}`)
	require.Equal(t, http.StatusOK, resp.Code)
	var stats lrucache.Stats
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &stats))
	require.Equal(t, 5, stats.Size)
	require.Equal(t, uint64(5), stats.Evictions)
	require.Equal(t, []string{"j", "i", "h", "g", "f"}, env.cache.Keys())

	_, found := env.logRecorder.FindEntry("cache max elements changed")
	require.True(t, found)
	_, found = env.logRecorder.FindEntry("cache max age changed")
	require.True(t, found)

	resp = env.do(t, http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, resp.Code)
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &stats))
	require.Equal(t, 5, stats.Size)
	require.Equal(t, lrucache.DefaultMaxLoadFactor, stats.MaxLoadFactor)

	// Integer maxAge is milliseconds, and it's 0 (disabled) here.
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPut, "/settings", `{"maxAge": 0}`).Code)

	requireErrorResponse(t, env.do(t, http.MethodPut, "/settings", `{"maxElements": -1}`),
		http.StatusBadRequest, ErrCodeInvalidArgument)
	requireErrorResponse(t, env.do(t, http.MethodPut, "/settings", `{"maxAge": "soon"}`),
		http.StatusBadRequest, ErrCodeInvalidArgument)
	requireErrorResponse(t, env.do(t, http.MethodPut, "/settings", `{"unknown": 1}`),
		http.StatusBadRequest, ErrCodeInvalidArgument)
	requireErrorResponse(t, env.do(t, http.MethodPut, "/settings", `not json`),
		http.StatusBadRequest, ErrCodeInvalidArgument)
	requireErrorResponse(t, env.do(t, http.MethodPut, "/settings", ""),
		http.StatusBadRequest, ErrCodeInvalidArgument)
}

func TestRouter_SettingsNegativeMaxAge(t *testing.T) {
	for _, body := range []string{`{"maxAge": "-1s"}`, `{"maxAge": -5}`} {
		t.Run(body, func(t *testing.T) {
			env := newTestEnv(t, 0)
			require.Equal(t, http.StatusOK, env.do(t, http.MethodPut, "/settings", `{"maxAge": "1m"}`).Code)

			requireErrorResponse(t, env.do(t, http.MethodPut, "/settings", body), http.StatusBadRequest, ErrCodeInvalidArgument)
			require.Equal(t, time.Minute, env.cache.MaxAge())
		})
	}
}

func TestRouter_SettingsUnsupportedContentType(t *testing.T) {
	env := newTestEnv(t, 0)
	req := httptest.NewRequest(http.MethodPut, "/settings", strings.NewReader(`{"maxElements": 1}`))
	req.Header.Set("Content-Type", "text/plain")
	resp := httptest.NewRecorder()
	env.handler.ServeHTTP(resp, req)
	requireErrorResponse(t, resp, http.StatusUnsupportedMediaType, "unsupportedMediaType")
}

func TestRouter_RequestIDAndLogging(t *testing.T) {
	env := newTestEnv(t, 0)

	resp := env.do(t, http.MethodGet, "/stats", "")
	generatedID := resp.Header().Get(middleware.HeaderRequestID)
	require.NotEmpty(t, generatedID)
	require.NotEmpty(t, resp.Header().Get(middleware.HeaderInternalRequestID))

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	req.Header.Set(middleware.HeaderRequestID, "my-request-id")
	resp = httptest.NewRecorder()
	env.handler.ServeHTTP(resp, req)
	require.Equal(t, "my-request-id", resp.Header().Get(middleware.HeaderRequestID))

	env.do(t, http.MethodGet, "/metrics", "")

	var completed []logtest.RecordedEntry
	for _, entry := range env.logRecorder.Entries() {
		if strings.HasPrefix(entry.Text, "response completed in") {
			completed = append(completed, entry)
		}
	}
	require.Len(t, completed, 2, "successful /metrics requests are not logged")
	reqIDField, found := completed[1].FindField("request_id")
	require.True(t, found)
	require.Equal(t, "my-request-id", string(reqIDField.Bytes))
}

func TestRouter_CacheHitLogged(t *testing.T) {
	env := newTestEnv(t, 0)
	env.cache.Set("foo", "bar")
	env.do(t, http.MethodGet, "/cache/foo", "")
	env.do(t, http.MethodGet, "/cache/missing", "")

	var hits []bool
	for _, entry := range env.logRecorder.Entries() {
		if !strings.HasPrefix(entry.Text, "response completed in") {
			continue
		}
		field, found := entry.FindField("cache_hit")
		require.True(t, found)
		hits = append(hits, field.Int != 0)
	}
	require.Equal(t, []bool{true, false}, hits)
}

func TestRouter_Recovery(t *testing.T) {
	env := newTestEnv(t, 0)
	router := env.handler.(chi.Router)
	router.Get("/panic", func(rw http.ResponseWriter, r *http.Request) {
		panic("boom")
	})
	router.Get("/panic-after-write", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusAccepted)
		panic("boom")
	})

	requireErrorResponse(t, env.do(t, http.MethodGet, "/panic", ""), http.StatusInternalServerError, restapi.ErrCodeInternal)

	resp := env.do(t, http.MethodGet, "/panic-after-write", "")
	require.Equal(t, http.StatusAccepted, resp.Code)
	require.Empty(t, resp.Body.String())
	_, found := env.logRecorder.FindEntry("response headers were already written before panic")
	require.True(t, found)
}

func TestRouter_HTTPRequestMetrics(t *testing.T) {
	env := newTestEnv(t, 0)
	env.do(t, http.MethodPut, "/cache/foo", "bar")
	env.do(t, http.MethodGet, "/cache/foo", "")
	env.do(t, http.MethodGet, "/cache/bar", "")

	env.do(t, http.MethodDelete, "/cache", "")

	labels := func(method, routePattern, status string) prometheus.Labels {
		return prometheus.Labels{
			"method": method, "route_pattern": routePattern, "user_agent_type": "http-client", "status_code": status,
		}
	}
	testutil.AssertSamplesCountInHistogram(t, env.httpReqMetrics.Durations.With(labels(http.MethodGet, "/cache/{key}", "404")), 1)
	testutil.AssertSamplesCountInHistogram(t, env.httpReqMetrics.Durations.With(labels(http.MethodGet, "/cache/{key}", "200")), 1)
	testutil.AssertSamplesCountInHistogram(t, env.httpReqMetrics.Durations.With(labels(http.MethodPut, "/cache/{key}", "204")), 1)
	testutil.AssertSamplesCountInHistogram(t, env.httpReqMetrics.Durations.With(labels(http.MethodDelete, "/cache", "204")), 1)
}

func TestServer_StartStop(t *testing.T) {
	cacheMetrics := lrucache.NewPrometheusMetrics()
	cache, err := lrucache.NewSync[string](lrucache.Options{MetricsCollector: cacheMetrics})
	require.NoError(t, err)

	cfg := NewDefaultConfig()
	cfg.Address = testutil.GetLocalAddrWithFreeTCPPort()
	registry := prometheus.NewRegistry()
	srv := New(cfg, cache, logtest.NewRecorder(), Opts{
		CacheMetrics:   cacheMetrics,
		Registerer:     registry,
		MetricsHandler: promhttpHandlerFor(registry),
	})
	srv.MustRegisterMetrics()
	defer srv.UnregisterMetrics()

	fatalErr := make(chan error, 1)
	go srv.Start(fatalErr)
	require.NoError(t, testutil.WaitListeningServer(cfg.Address, time.Second*3))
	defer func() {
		require.NoError(t, srv.Stop(true))
		testutil.RequireNoErrorInChannel(t, fatalErr)
	}()
	require.NotZero(t, srv.GetPort())

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/cache/foo", strings.NewReader("bar"))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer func() { require.NoError(t, resp.Body.Close()) }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(respBody), "cache_entries_amount 1")
	require.Contains(t, string(respBody), "http_request_duration_seconds")
}

func promhttpHandlerFor(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
