// Package health exposes server readiness over the standard gRPC health
// protocol.
package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

// BackendService is the service name whose status tracks the agent backend.
// The empty service name tracks the server as a whole.
const BackendService = "studybuddy.AgentBackend"

const defaultInterval = 15 * time.Second

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping implements Pinger.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Server serves grpc.health.v1.Health.
type Server struct {
	grpc     *grpc.Server
	health   *health.Server
	db       Pinger
	backend  Pinger
	interval time.Duration
	logger   *slog.Logger
}

// NewServer creates a health server probing db and backend every interval.
func NewServer(db, backend Pinger, interval time.Duration, logger *slog.Logger) *Server {
	if interval <= 0 {
		interval = defaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	gs := grpc.NewServer(grpc.KeepaliveParams(keepalive.ServerParameters{
		Time:    2 * time.Minute,
		Timeout: 10 * time.Second,
	}))
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(BackendService, healthpb.HealthCheckResponse_NOT_SERVING)

	return &Server{
		grpc:     gs,
		health:   hs,
		db:       db,
		backend:  backend,
		interval: interval,
		logger:   logger,
	}
}

// Check probes the dependencies once and updates the served statuses.
// The server is serving while the database answers; the backend has its
// own status.
func (s *Server) Check(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, s.interval)
	defer cancel()

	overall := healthpb.HealthCheckResponse_SERVING
	if err := s.db.Ping(probeCtx); err != nil {
		s.logger.Warn("health: database unreachable", "error", err)
		overall = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", overall)

	backend := healthpb.HealthCheckResponse_SERVING
	if err := s.backend.Ping(probeCtx); err != nil {
		s.logger.Warn("health: agent backend unreachable", "error", err)
		backend = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus(BackendService, backend)
}

// Serve probes the dependencies periodically and serves on lis until ctx
// is done.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	probeDone := make(chan struct{})
	go func() {
		defer close(probeDone)
		s.Check(ctx)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Check(ctx)
			}
		}
	}()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.grpc.Serve(lis)
	}()

	var err error
	select {
	case <-ctx.Done():
		s.health.Shutdown()
		s.grpc.GracefulStop()
		err = <-serveErr
	case err = <-serveErr:
	}
	<-probeDone
	if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("grpc health server: %w", err)
	}
	return nil
}
