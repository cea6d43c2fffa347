// Package rpc serves the standard gRPC health service for the relay.
package rpc

import (
	"net"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/BrandonDHaskell/Portunus/relay/internal/mode"
)

// LinkService is the health service name reported for the radio link.
const LinkService = "portunus.relay.Link"

type Server struct {
	grpc   *grpc.Server
	health *health.Server
	logger zerolog.Logger
}

func NewServer(logger zerolog.Logger) *Server {
	s := &Server{
		grpc:   grpc.NewServer(),
		health: health.NewServer(),
		logger: logger,
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	s.health.SetServingStatus(LinkService, healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Serve blocks serving on lis until Shutdown.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info().Str("addr", lis.Addr().String()).Msg("grpc health listening")
	return s.grpc.Serve(lis)
}

// SetRunning marks the process as serving or not.
func (s *Server) SetRunning(running bool) {
	s.health.SetServingStatus("", status(running))
}

// ObserveMode reports the link as NOT_SERVING while the relay is disabled.
func (s *Server) ObserveMode(st mode.State) {
	s.health.SetServingStatus(LinkService, status(st != mode.Disabled))
}

// Shutdown flips every service to NOT_SERVING and stops gracefully.
func (s *Server) Shutdown() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

func status(ok bool) healthpb.HealthCheckResponse_ServingStatus {
	if ok {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}
