/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package profserver provides an HTTP server exposing pprof endpoints of the cache process.
package profserver

import (
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/acronis/go-lrucache/httpserver/middleware"
	"github.com/acronis/go-lrucache/log"
	"github.com/acronis/go-lrucache/service"
)

// ErrorDomain is the domain of errors returned by the profiling server.
const ErrorDomain = "ProfServer"

const readHeaderTimeout = 5 * time.Second

// ProfServer serves pprof handlers under /debug/pprof/.
// It implements service.Unit interface.
type ProfServer struct {
	URL        string
	HTTPServer *http.Server
	Logger     log.FieldLogger

	port           int32
	httpServerDone chan struct{}
}

var _ service.Unit = (*ProfServer)(nil)

// New creates a new profiling HTTP server.
func New(cfg *Config, logger log.FieldLogger) *ProfServer {
	return &ProfServer{
		URL: "http://" + cfg.Address,
		HTTPServer: &http.Server{
			Addr:              cfg.Address,
			Handler:           NewRouter(logger),
			ReadHeaderTimeout: readHeaderTimeout,
		},
		Logger:         logger,
		httpServerDone: make(chan struct{}),
	}
}

// NewRouter creates a router with pprof handlers. Every request is logged as profiling may take long.
func NewRouter(logger log.FieldLogger) chi.Router {
	router := chi.NewRouter()
	router.Use(
		middleware.RequestID(),
		middleware.LoggingWithOpts(logger, middleware.LoggingOpts{RequestStart: true}),
		middleware.Recovery(ErrorDomain),
	)
	router.Mount("/debug", chimiddleware.Profiler())
	return router
}

// Start starts profiling HTTP server in a blocking way. Supposed this methods will be called in a separate goroutine.
// If a fatal error occurs, it's sent into passed fatalError channel and should be processed outside.
func (s *ProfServer) Start(fatalError chan<- error) {
	defer close(s.httpServerDone)

	logger := s.Logger.With(log.String("address", s.HTTPServer.Addr))
	logger.Info("starting profiling HTTP server...")

	listener, err := net.Listen("tcp", s.HTTPServer.Addr)
	if err != nil {
		logger.Error("profiling HTTP server error", log.Error(err))
		fatalError <- err
		return
	}
	if tcpAddr, ok := listener.Addr().(*net.TCPAddr); ok {
		atomic.StoreInt32(&s.port, int32(tcpAddr.Port)) //nolint:gosec // port number fits int32
	}

	if err = s.HTTPServer.Serve(listener); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			logger.Info("profiling HTTP server closed")
			return
		}
		logger.Error("profiling HTTP server error", log.Error(err))
		fatalError <- err
	}
}

// Stop closes profiling HTTP server. Long profiling requests are interrupted, so gracefully is ignored.
func (s *ProfServer) Stop(gracefully bool) error {
	s.Logger.Info("closing profiling HTTP server...")
	if err := s.HTTPServer.Close(); err != nil {
		s.Logger.Error("profiling HTTP server closing error", log.Error(err))
		return err
	}
	<-s.httpServerDone
	return nil
}

// GetPort returns the TCP port the server listens on (0 until the listener is created).
func (s *ProfServer) GetPort() int {
	return int(atomic.LoadInt32(&s.port))
}
