package server

import (
	"context"
	"fmt"
	"net"
	"time"

	"MarginIndexer/internal/observability"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the gRPC health service name reported alongside "".
const ServiceName = "marginindexer.v1.Indexer"

// GRPCServer serves the standard health service and reflection. Serving
// status follows the readiness checks of the health checker.
type GRPCServer struct {
	grpcServer    *grpc.Server
	healthServer  *health.Server
	healthChecker *observability.HealthChecker
	addr          string
	logger        zerolog.Logger
}

func NewGRPCServer(addr string, checker *observability.HealthChecker, logger zerolog.Logger) *GRPCServer {
	grpcServer := grpc.NewServer()

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	// Reflection for grpcurl / grpcui
	reflection.Register(grpcServer)

	return &GRPCServer{
		grpcServer:    grpcServer,
		healthServer:  healthServer,
		healthChecker: checker,
		addr:          addr,
		logger:        logger,
	}
}

// SetServing flips the reported health status of every service.
func (s *GRPCServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.healthServer.SetServingStatus("", status)
	s.healthServer.SetServingStatus(ServiceName, status)
}

// SyncHealth polls the readiness checks until ctx ends and mirrors the
// result into the gRPC health service.
func (s *GRPCServer) SyncHealth(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		checkCtx, cancel := context.WithTimeout(ctx, interval)
		ok, failures := s.healthChecker.Ready(checkCtx)
		cancel()
		if !ok {
			s.logger.Debug().Interface("failures", failures).Msg("not ready")
		}
		s.SetServing(ok)

		select {
		case <-ctx.Done():
			s.healthServer.Shutdown()
			return
		case <-ticker.C:
		}
	}
}

// Start serves gRPC until ctx is cancelled (blocking).
func (s *GRPCServer) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("gRPC server shutting down")
		s.grpcServer.GracefulStop()
	}()

	s.logger.Info().Str("addr", s.addr).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}
