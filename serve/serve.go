package serve

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/angelgalvisc/clawkernel/agent"
)

// ServiceName is the health service name reported alongside the empty
// (overall) service.
const ServiceName = "ckp.Agent"

// Config holds health server configuration.
type Config struct {
	// Address is the TCP address the gRPC server listens on.
	// Default: :50051
	Address string

	// GracefulTimeout is the maximum duration to wait for active health
	// RPCs during shutdown.
	// Default: 10 seconds
	GracefulTimeout time.Duration

	// TLSCertFile is the path to the TLS certificate file.
	// If empty, TLS is disabled.
	TLSCertFile string

	// TLSKeyFile is the path to the TLS private key file.
	// If empty, TLS is disabled.
	TLSKeyFile string
}

// DefaultConfig returns default health server configuration.
func DefaultConfig() *Config {
	return &Config{
		Address:         ":50051",
		GracefulTimeout: 10 * time.Second,
	}
}

func (c *Config) withDefaults() *Config {
	out := DefaultConfig()
	if c == nil {
		return out
	}
	if c.Address != "" {
		out.Address = c.Address
	}
	if c.GracefulTimeout > 0 {
		out.GracefulTimeout = c.GracefulTimeout
	}
	out.TLSCertFile = c.TLSCertFile
	out.TLSKeyFile = c.TLSKeyFile
	return out
}

// Server wraps a gRPC server exposing the health checking protocol.
type Server struct {
	grpcServer   *grpc.Server
	listener     net.Listener
	config       *Config
	healthServer *health.Server
	logger       *slog.Logger
}

// NewServer listens on cfg.Address and registers the health service.
// Every service starts NOT_SERVING.
func NewServer(cfg *Config, logger *slog.Logger) (*Server, error) {
	cfg = cfg.withDefaults()

	listener, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", cfg.Address, err)
	}
	srv, err := NewServerWithListener(listener, cfg, logger)
	if err != nil {
		listener.Close()
		return nil, err
	}
	return srv, nil
}

// NewServerWithListener is NewServer on an existing listener. The listener
// is owned by the returned Server.
func NewServerWithListener(listener net.Listener, cfg *Config, logger *slog.Logger) (*Server, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	var opts []grpc.ServerOption
	if cfg.TLSCertFile != "" && cfg.TLSKeyFile != "" {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLSCertFile, cfg.TLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS credentials: %w", err)
		}
		opts = append(opts, grpc.Creds(creds))
	}

	grpcServer := grpc.NewServer(opts...)
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)

	s := &Server{
		grpcServer:   grpcServer,
		listener:     listener,
		config:       cfg,
		healthServer: healthServer,
		logger:       logger,
	}
	s.SetState(agent.StateInit)
	return s, nil
}

// HealthServer returns the health check server.
func (s *Server) HealthServer() *health.Server {
	return s.healthServer
}

// SetState maps an agent lifecycle state onto the health status.
func (s *Server) SetState(state agent.State) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if state == agent.StateReady {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	s.healthServer.SetServingStatus("", status)
	s.healthServer.SetServingStatus(ServiceName, status)
}

// Serve accepts connections until ctx is canceled or the server stops.
// Cancellation triggers GracefulStop.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.grpcServer.Serve(s.listener); err != nil {
			errCh <- fmt.Errorf("gRPC server error: %w", err)
			return
		}
		errCh <- nil
	}()
	s.logger.Info("health server listening", "address", s.Addr())

	select {
	case <-ctx.Done():
		s.GracefulStop()
		return nil
	case err := <-errCh:
		return err
	}
}

// Stop immediately stops the gRPC server.
func (s *Server) Stop() {
	s.grpcServer.Stop()
}

// GracefulStop marks every service NOT_SERVING, then waits up to the
// configured timeout for active RPCs before forcing a stop. Later SetState
// calls have no effect.
func (s *Server) GracefulStop() {
	s.healthServer.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), s.config.GracefulTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Debug("health server stopped gracefully")
	case <-ctx.Done():
		s.logger.Warn("health server graceful shutdown timed out, forcing stop")
		s.grpcServer.Stop()
	}
}

// Addr returns the listener address. This is useful with port 0.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}
