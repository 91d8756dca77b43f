package serve

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/angelgalvisc/clawkernel/agent"
	"github.com/angelgalvisc/clawkernel/clock"
	"github.com/angelgalvisc/clawkernel/transport"
)

// StateSource reports a lifecycle state. *agent.Agent implements it.
type StateSource interface {
	State() agent.State
}

// Run serves a over stdin/stdout, or the transport given by WithTransport,
// until the input ends, ctx is canceled, or a termination signal arrives.
// Cancellation and signals are a clean exit and return nil.
func Run(ctx context.Context, a *agent.Agent, opts ...Option) error {
	cfg := defaultRunConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.signals {
		var stop context.CancelFunc
		ctx, stop = signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()
	}

	tr := cfg.transport
	if tr == nil {
		line := transport.Stdio(transport.WithLogger(cfg.logger))
		defer line.Close()
		tr = line
	}

	srv := cfg.healthServer
	if srv == nil && cfg.health != nil {
		var err error
		srv, err = NewServer(cfg.health, cfg.logger)
		if err != nil {
			return err
		}
	}

	healthCtx, stopHealth := context.WithCancel(ctx)
	var wg sync.WaitGroup
	healthErr := make(chan error, 1)
	if srv != nil {
		wg.Add(2)
		go func() {
			defer wg.Done()
			healthErr <- srv.Serve(healthCtx)
		}()
		go func() {
			defer wg.Done()
			Mirror(healthCtx, a, srv, cfg.clock, cfg.pollInterval)
		}()
	}

	cfg.logger.Info("agent serving", "name", a.Info().Name, "version", a.Info().Version)
	err := a.Run(ctx, tr)

	if srv != nil {
		srv.SetState(a.State())
	}
	stopHealth()
	wg.Wait()

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		cfg.logger.Info("agent stopped", "reason", err.Error(), "state", a.State())
		err = nil
	}
	if err != nil {
		return fmt.Errorf("agent run failed: %w", err)
	}
	select {
	case herr := <-healthErr:
		if herr != nil {
			return herr
		}
	default:
	}
	cfg.logger.Info("agent exited", "state", a.State())
	return nil
}

// Mirror keeps srv's health status in step with src until ctx ends. The
// status is set immediately and then re-read every interval.
func Mirror(ctx context.Context, src StateSource, srv *Server, clk clock.Clock, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	last := src.State()
	srv.SetState(last)

	ticker := clk.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if state := src.State(); state != last {
				last = state
				srv.SetState(state)
			}
		}
	}
}
