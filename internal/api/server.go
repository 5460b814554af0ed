// Package api exposes the daemon's gRPC health endpoint.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// PipelineService is the health service name reporting the outcome of the
// most recent pipeline run.
const PipelineService = "cryptobars.Pipeline"

// Server hosts the standard grpc.health.v1 service. The overall status is
// SERVING while the process is up; PipelineService turns NOT_SERVING after
// a failed run and back to SERVING after a successful one.
type Server struct {
	addr   string
	gs     *grpc.Server
	health *health.Server
	log    *slog.Logger
}

// NewServer creates a Server that will listen on addr.
func NewServer(addr string) *Server {
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(PipelineService, healthpb.HealthCheckResponse_SERVING)

	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	return &Server{
		addr:   addr,
		gs:     gs,
		health: hs,
		log:    slog.Default().With("component", "health"),
	}
}

// SetPipelineHealthy records the outcome of the latest pipeline run.
func (s *Server) SetPipelineHealthy(ok bool) {
	status := healthpb.HealthCheckResponse_SERVING
	if !ok {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus(PipelineService, status)
}

// ListenAndServe listens on the configured address and serves until ctx is
// cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	return s.Serve(ctx, lis)
}

// Serve serves on lis until ctx is cancelled, then stops gracefully.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		s.Shutdown()
	}()

	s.log.Info("health server listening", "addr", lis.Addr().String())
	if err := s.gs.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serving health: %w", err)
	}
	return nil
}

// Shutdown marks every service NOT_SERVING and drains open connections.
func (s *Server) Shutdown() {
	s.health.Shutdown()
	s.gs.GracefulStop()
}
