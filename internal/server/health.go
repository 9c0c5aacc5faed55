package server

import (
	"context"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServer runs a gRPC endpoint exposing the standard health service.
// Serving status follows the store probe: a failed probe flips the service to
// NOT_SERVING until the next successful one.
type HealthServer struct {
	grpc   *grpc.Server
	health *health.Server
	probe  func(ctx context.Context) error
	logger *slog.Logger
}

// NewHealthServer wires the health service. probe is typically the database
// ping; nil means always serving.
func NewHealthServer(probe func(ctx context.Context) error, logger *slog.Logger) *HealthServer {
	if logger == nil {
		logger = slog.Default()
	}
	gs := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	return &HealthServer{grpc: gs, health: hs, probe: probe, logger: logger}
}

// Serve listens on addr and blocks until Stop is called.
func (s *HealthServer) Serve(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.logger.Info("grpc health server listening", "addr", addr)
	return s.grpc.Serve(lis)
}

// Probe refreshes the serving status.
func (s *HealthServer) Probe(ctx context.Context) {
	status := healthpb.HealthCheckResponse_SERVING
	if s.probe != nil {
		if err := s.probe(ctx); err != nil {
			s.logger.Warn("health probe failed", "err", err)
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	s.health.SetServingStatus("", status)
}

// Stop drains in-flight RPCs and shuts the listener down.
func (s *HealthServer) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
