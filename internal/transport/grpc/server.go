package transportgrpc

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	grpcinterceptors "github.com/arklim/social-platform-profiles/internal/transport/grpc/interceptors"
)

const defaultHealthInterval = 10 * time.Second

// ReadinessCheck reports whether one dependency is usable.
type ReadinessCheck func(ctx context.Context) error

// ServerDependencies encapsulates services required by the gRPC server layer.
type ServerDependencies struct {
	Commands CommandService
	Tokens   grpcinterceptors.InitiatorParser
	// AuthRequired rejects command calls without a bearer token.
	AuthRequired bool
	Metrics      *grpcinterceptors.GRPCMetrics
	Tracing      *grpcinterceptors.TracingOptions
	Checks       map[string]ReadinessCheck
	// HealthInterval is how often Checks are re-evaluated by WatchHealth.
	HealthInterval time.Duration
	Logger         *zap.Logger
}

// Server bundles the grpc.Server with the health service it reports through.
type Server struct {
	*grpc.Server

	health   *health.Server
	checks   map[string]ReadinessCheck
	names    []string
	interval time.Duration
	logger   *zap.Logger
}

// NewServer wires the command service, health and reflection with metrics,
// tracing and initiator authentication.
func NewServer(deps ServerDependencies) (*Server, error) {
	if deps.Commands == nil {
		return nil, fmt.Errorf("command service is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	authInterceptor := grpcinterceptors.NewAuthInterceptor(deps.Tokens, grpcinterceptors.AuthOptions{
		Logger:        logger,
		Required:      deps.AuthRequired,
		AllowPrefixes: []string{"/" + healthpb.Health_ServiceDesc.ServiceName + "/", "/grpc.reflection."},
	})

	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(deps.Metrics.UnaryServerInterceptor(), authInterceptor.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(deps.Metrics.StreamServerInterceptor()),
	}
	if deps.Tracing != nil {
		opts = append(opts, grpcinterceptors.TracingServerOption(*deps.Tracing))
	}

	server := grpc.NewServer(opts...)
	server.RegisterService(&CommandServiceDesc, NewCommandServer(deps.Commands))

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(server, healthServer)
	healthServer.SetServingStatus(CommandServiceName, healthpb.HealthCheckResponse_SERVING)

	// Register reflection service for tools like grpcurl.
	reflection.Register(server)

	names := make([]string, 0, len(deps.Checks))
	for name := range deps.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	interval := deps.HealthInterval
	if interval <= 0 {
		interval = defaultHealthInterval
	}

	return &Server{
		Server:   server,
		health:   healthServer,
		checks:   deps.Checks,
		names:    names,
		interval: interval,
		logger:   logger,
	}, nil
}

// CheckHealth evaluates every readiness check once and publishes the overall status.
// Each check is also published under its own name.
func (s *Server) CheckHealth(ctx context.Context) bool {
	healthy := true
	for _, name := range s.names {
		checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := s.checks[name](checkCtx)
		cancel()

		status := healthpb.HealthCheckResponse_SERVING
		if err != nil {
			healthy = false
			status = healthpb.HealthCheckResponse_NOT_SERVING
			s.logger.Warn("readiness check failed", zap.String("check", name), zap.Error(err))
		}
		s.health.SetServingStatus(name, status)
	}

	overall := healthpb.HealthCheckResponse_SERVING
	if !healthy {
		overall = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", overall)
	s.health.SetServingStatus(CommandServiceName, overall)
	return healthy
}

// WatchHealth re-runs CheckHealth until ctx is done.
func (s *Server) WatchHealth(ctx context.Context) {
	s.CheckHealth(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.CheckHealth(ctx)
		}
	}
}

// Shutdown marks every service as not serving and stops the server gracefully.
func (s *Server) Shutdown() {
	s.health.Shutdown()
	s.GracefulStop()
}
