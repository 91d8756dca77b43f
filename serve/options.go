package serve

import (
	"log/slog"
	"time"

	"github.com/angelgalvisc/clawkernel/clock"
	"github.com/angelgalvisc/clawkernel/transport"
)

// DefaultPollInterval is how often the health status is refreshed from the
// agent's lifecycle state.
const DefaultPollInterval = 250 * time.Millisecond

// Option is a functional option for configuring Run.
type Option func(*runConfig)

type runConfig struct {
	transport    transport.Transport
	health       *Config
	healthServer *Server
	logger       *slog.Logger
	clock        clock.Clock
	pollInterval time.Duration
	signals      bool
}

func defaultRunConfig() *runConfig {
	return &runConfig{
		logger:       slog.Default(),
		clock:        clock.Real(),
		pollInterval: DefaultPollInterval,
		signals:      true,
	}
}

// WithTransport replaces the stdin/stdout transport.
//
// Example:
//
//	serve.Run(ctx, a, serve.WithTransport(transport.NewLine(conn, conn)))
func WithTransport(tr transport.Transport) Option {
	return func(c *runConfig) {
		c.transport = tr
	}
}

// WithHealth starts a gRPC health server with cfg while the agent runs.
//
// Example:
//
//	serve.Run(ctx, a, serve.WithHealth(&serve.Config{Address: ":50051"}))
func WithHealth(cfg *Config) Option {
	return func(c *runConfig) {
		c.health = cfg.withDefaults()
	}
}

// WithHealthServer uses an already constructed health server. It takes
// precedence over WithHealth. Run stops the server before returning.
func WithHealthServer(s *Server) Option {
	return func(c *runConfig) {
		c.healthServer = s
	}
}

// WithLogger sets the logger for the transport and health server.
func WithLogger(logger *slog.Logger) Option {
	return func(c *runConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock sets the clock driving health status polling.
func WithClock(clk clock.Clock) Option {
	return func(c *runConfig) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// WithPollInterval overrides DefaultPollInterval. Non-positive values are
// ignored.
func WithPollInterval(d time.Duration) Option {
	return func(c *runConfig) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithoutSignals disables SIGINT and SIGTERM handling, leaving shutdown to
// the caller's context.
func WithoutSignals() Option {
	return func(c *runConfig) {
		c.signals = false
	}
}
