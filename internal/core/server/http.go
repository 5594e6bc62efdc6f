package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/solatis/pmengine/internal/core/api"
	"github.com/solatis/pmengine/internal/core/config"
)

// HTTPServer serves the REST API.
type HTTPServer struct {
	server *http.Server
	ready  atomic.Bool
	logger *zap.Logger
}

// NewHTTPServer builds the router: request ids, panic recovery, access
// logging, per-client rate limiting and a per-request timeout wrap every
// API route. /healthz answers 503 until SetServing is called.
func NewHTTPServer(cfg config.ServerConfig, service *api.Service, logger *zap.Logger) (*HTTPServer, error) {
	if service == nil {
		return nil, fmt.Errorf("service cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &HTTPServer{logger: logger.With(zap.String("component", "http"))}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.accessLog)
	r.Get("/healthz", s.healthz)

	r.Group(func(r chi.Router) {
		r.Use(NewRateLimiter(cfg.RateLimit, cfg.RateBurst).Middleware)
		r.Use(middleware.Timeout(cfg.RequestTimeout))
		service.Routes(r)
	})

	s.server = &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.HTTPPort)),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler returns the root handler.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

// SetServing marks the engine ready for /healthz.
func (s *HTTPServer) SetServing() {
	s.ready.Store(true)
}

// Start binds the listener and serves until Shutdown is called.
func (s *HTTPServer) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", s.server.Addr, err)
	}
	return s.Serve(listener)
}

// Serve serves on an existing listener. A clean Shutdown returns nil.
func (s *HTTPServer) Serve(listener net.Listener) error {
	s.logger.Info("REST API listening", zap.String("addr", listener.Addr().String()))
	if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones, at most
// until ctx ends or 30 seconds pass.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.ready.Store(false)
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
	}
	if err := s.server.Shutdown(ctx); err != nil {
		_ = s.server.Close()
		return fmt.Errorf("graceful shutdown failed, forced close: %w", err)
	}
	return nil
}

func (s *HTTPServer) healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if !s.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"starting"}` + "\n"))
		return
	}
	_, _ = w.Write([]byte(`{"status":"ok"}` + "\n"))
}

func (s *HTTPServer) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}
