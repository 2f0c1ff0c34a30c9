/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package cacheserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/acronis/go-lrucache/httpserver/middleware"
	"github.com/acronis/go-lrucache/log"
	"github.com/acronis/go-lrucache/lrucache"
	"github.com/acronis/go-lrucache/restapi"
	"github.com/acronis/go-lrucache/service"
)

// Opts represents options for creating Server.
type Opts struct {
	// CacheMetrics are the Prometheus metrics the cache was created with.
	// They are registered and unregistered together with the server ones.
	CacheMetrics *lrucache.PrometheusMetrics

	// HTTPRequestMetrics contains options for configuring HTTP request metrics.
	HTTPRequestMetrics middleware.HTTPRequestMetricsCollectorOpts

	// Registerer is used for metrics registration. prometheus.DefaultRegisterer is used if nil.
	Registerer prometheus.Registerer

	// MetricsHandler is a custom handler for the /metrics endpoint. promhttp.Handler() is used if nil.
	MetricsHandler http.Handler

	// Listener is a pre-configured network listener to use instead of creating a new one.
	Listener net.Listener
}

// Server is an HTTP server which exposes SyncLRUCache[string] operations.
// It implements service.Unit and service.MetricsRegisterer interfaces.
type Server struct {
	URL             string
	HTTPServer      *http.Server
	HTTPRouter      chi.Router
	Logger          log.FieldLogger
	ShutdownTimeout time.Duration

	listener       net.Listener
	port           int32
	httpServerDone atomic.Value
	registerer     prometheus.Registerer
	cacheMetrics   *lrucache.PrometheusMetrics
	httpReqMetrics *middleware.HTTPRequestMetricsCollector
}

var _ service.Unit = (*Server)(nil)
var _ service.MetricsRegisterer = (*Server)(nil)

// New creates a new Server over the passed cache.
func New(cfg *Config, cache *lrucache.SyncLRUCache[string], logger log.FieldLogger, opts Opts) *Server {
	httpReqMetrics := middleware.NewHTTPRequestMetricsCollectorWithOpts(opts.HTTPRequestMetrics)
	router := NewRouter(cfg, cache, logger, httpReqMetrics, opts.MetricsHandler)

	httpServer := &http.Server{
		Addr:              cfg.Address,
		Handler:           router,
		ReadHeaderTimeout: time.Duration(cfg.Timeouts.ReadHeader),
	}

	registerer := opts.Registerer
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &Server{
		URL:             "http://" + httpServer.Addr,
		HTTPServer:      httpServer,
		HTTPRouter:      router,
		Logger:          logger,
		ShutdownTimeout: time.Duration(cfg.Timeouts.Shutdown),
		listener:        opts.Listener,
		registerer:      registerer,
		cacheMetrics:    opts.CacheMetrics,
		httpReqMetrics:  httpReqMetrics,
	}
}

// NewRouter creates a new chi.Router with all cache routes and default middlewares.
// httpReqMetrics may be nil, then HTTP request metrics are not collected.
func NewRouter(
	cfg *Config, cache *lrucache.SyncLRUCache[string], logger log.FieldLogger,
	httpReqMetrics *middleware.HTTPRequestMetricsCollector, metricsHandler http.Handler,
) chi.Router {
	h := &cacheHandler{cache: cache, maxValueSize: uint64(cfg.Limits.MaxValueSize), logger: logger}

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID(),
		middleware.LoggingWithOpts(logger, middleware.LoggingOpts{
			RequestStart:         cfg.Log.RequestStart,
			ExcludedEndpoints:    cfg.Log.ExcludedEndpoints,
			SlowRequestThreshold: time.Duration(cfg.Log.SlowRequestThreshold),
		}),
		middleware.Recovery(ErrorDomain),
	)
	if httpReqMetrics != nil {
		router.Use(middleware.HTTPRequestMetricsWithOpts(httpReqMetrics, getChiRoutePattern,
			middleware.HTTPRequestMetricsOpts{ExcludedEndpoints: []string{"/metrics"}}))
	}

	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	router.Method(http.MethodGet, "/metrics", metricsHandler)

	// Flat routes: a chi sub-router matches "/cache/" by its "/" pattern too,
	// and DELETE with an empty key must not clear the whole cache.
	router.Delete("/cache", h.clear)
	router.Get("/cache/", h.get)
	router.Put("/cache/", h.set)
	router.Delete("/cache/", h.remove)
	router.Get("/cache/{key}", h.get)
	router.Put("/cache/{key}", h.set)
	router.Delete("/cache/{key}", h.remove)
	router.Get("/keys", h.keys)
	router.Get("/stats", h.stats)
	router.Put("/settings", h.settings)

	router.NotFound(func(rw http.ResponseWriter, r *http.Request) {
		restapi.RespondError(rw, http.StatusNotFound,
			restapi.NewError(ErrorDomain, restapi.ErrCodeNotFound, restapi.ErrMessageNotFound), logger)
	})
	router.MethodNotAllowed(func(rw http.ResponseWriter, r *http.Request) {
		restapi.RespondError(rw, http.StatusMethodNotAllowed,
			restapi.NewError(ErrorDomain, restapi.ErrCodeMethodNotAllowed, restapi.ErrMessageMethodNotAllowed), logger)
	})

	return router
}

// getChiRoutePattern is called after the request is routed, so the matched pattern is already known.
// Unmatched requests get an empty pattern.
func getChiRoutePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.RoutePattern()
	}
	return ""
}

// Start starts the server in a blocking way.
// It's supposed that this method will be called in a separate goroutine.
// If a fatal error occurs, it will be sent to the fatalError channel.
func (s *Server) Start(fatalError chan<- error) {
	done := make(chan struct{})
	defer close(done)
	s.httpServerDone.Store(done)

	logger := s.Logger.With(
		log.String("address", s.HTTPServer.Addr),
		log.Duration("read_header_timeout", s.HTTPServer.ReadHeaderTimeout),
		log.Duration("shutdown_timeout", s.ShutdownTimeout),
	)
	logger.Info("starting cache HTTP server...")

	var err error
	if s.listener == nil {
		if s.listener, err = net.Listen("tcp", s.HTTPServer.Addr); err != nil {
			logger.Error("cache HTTP server error", log.Error(err))
			fatalError <- err
			return
		}
	}
	if tcpAddr, ok := s.listener.Addr().(*net.TCPAddr); ok {
		atomic.StoreInt32(&s.port, int32(tcpAddr.Port)) //nolint:gosec // port number fits int32
	}

	if err = s.HTTPServer.Serve(s.listener); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			logger.Info("cache HTTP server closed")
			return
		}
		logger.Error("cache HTTP server error", log.Error(err))
		fatalError <- err
	}
}

// Stop stops the server (gracefully or not).
func (s *Server) Stop(gracefully bool) error {
	waitDone := func() {
		if done, ok := s.httpServerDone.Load().(chan struct{}); ok && done != nil {
			<-done // Wait for the listener to be closed.
		}
	}

	if !gracefully {
		s.Logger.Info("closing cache HTTP server...")
		if err := s.HTTPServer.Close(); err != nil {
			s.Logger.Error("cache HTTP server closing error", log.Error(err))
			return err
		}
		waitDone()
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.ShutdownTimeout)
	defer cancel()

	s.Logger.Info("shutting down cache HTTP server...", log.Duration("timeout", s.ShutdownTimeout))
	if err := s.HTTPServer.Shutdown(ctx); err != nil {
		s.Logger.Error("cache HTTP server shutting down error", log.Error(err))
		return err
	}
	s.Logger.Info("cache HTTP server shut down")
	waitDone()
	return nil
}

// MustRegisterMetrics registers HTTP request and cache metrics and panics if any error occurs.
func (s *Server) MustRegisterMetrics() {
	s.httpReqMetrics.MustRegisterIn(s.registerer)
	if s.cacheMetrics != nil {
		s.cacheMetrics.MustRegisterIn(s.registerer)
	}
}

// UnregisterMetrics unregisters HTTP request and cache metrics.
func (s *Server) UnregisterMetrics() {
	s.httpReqMetrics.UnregisterFrom(s.registerer)
	if s.cacheMetrics != nil {
		s.cacheMetrics.UnregisterFrom(s.registerer)
	}
}

// GetPort returns the TCP port the server listens on (0 until the listener is created).
func (s *Server) GetPort() int {
	return int(atomic.LoadInt32(&s.port))
}
