// Package server runs the engine's network listeners: the REST API over
// HTTP and the standard gRPC health service.
package server

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// shutdownTimeout bounds graceful stops when the caller's context has no deadline.
const shutdownTimeout = 30 * time.Second

// GRPCServer serves the gRPC health service. It reports NOT_SERVING until
// SetServing is called and again once shutdown starts.
type GRPCServer struct {
	server *grpc.Server
	health *health.Server
	addr   string
	logger *zap.Logger
}

// NewGRPCServer creates a gRPC server listening on addr when started.
func NewGRPCServer(addr string, logger *zap.Logger) (*GRPCServer, error) {
	if addr == "" {
		return nil, fmt.Errorf("addr cannot be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	server := grpc.NewServer()
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(server, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	return &GRPCServer{
		server: server,
		health: healthServer,
		addr:   addr,
		logger: logger.With(zap.String("component", "grpc")),
	}, nil
}

// SetServing marks the engine ready.
func (s *GRPCServer) SetServing() {
	s.health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
}

// Start binds the listener and serves until Shutdown is called.
func (s *GRPCServer) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", s.addr, err)
	}
	return s.Serve(listener)
}

// Serve serves on an existing listener.
func (s *GRPCServer) Serve(listener net.Listener) error {
	s.logger.Info("gRPC health service listening", zap.String("addr", listener.Addr().String()))
	return s.server.Serve(listener)
}

// Shutdown reports NOT_SERVING and stops gracefully, forcing a stop when
// ctx ends or after 30 seconds.
func (s *GRPCServer) Shutdown(ctx context.Context) error {
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		s.server.Stop()
		<-stopped
		return fmt.Errorf("shutdown cancelled by context: %w", ctx.Err())
	case <-time.After(shutdownTimeout):
		s.server.Stop()
		<-stopped
		return fmt.Errorf("graceful shutdown timeout, forced stop")
	}
}
