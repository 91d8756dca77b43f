package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/angelgalvisc/clawkernel/clock"
	"github.com/angelgalvisc/clawkernel/memory"
	"github.com/angelgalvisc/clawkernel/protocol"
	"github.com/angelgalvisc/clawkernel/swarm"
	"github.com/angelgalvisc/clawkernel/task"
	"github.com/angelgalvisc/clawkernel/telemetry"
	"github.com/angelgalvisc/clawkernel/tool"
	"github.com/angelgalvisc/clawkernel/transport"
)

// ErrRunning is returned by Run when the agent is already serving a
// transport.
var ErrRunning = errors.New("agent: already running")

// Agent is one CKP runtime instance.
type Agent struct {
	info              Info
	caps              Capabilities
	methods           map[string]protocol.Handler
	heartbeatInterval time.Duration
	drainTimeout      time.Duration
	clock             clock.Clock
	logger            *slog.Logger
	events            *telemetry.Emitter

	mu            sync.Mutex
	state         State
	level         ConformanceLevel
	initTime      time.Time
	tr            transport.Transport
	stopHeartbeat func()

	// inflight counts capability handlers for shutdown draining. Add is
	// only called under mu while the state accepts capabilities.
	inflight sync.WaitGroup
	// handlers counts every dispatched goroutine so Run can wait for them.
	handlers sync.WaitGroup
}

// New builds an Agent. The method registry is fixed here from the supplied
// capability groups.
func New(info Info, opts ...Option) (*Agent, error) {
	o := options{
		heartbeatInterval: DefaultHeartbeatInterval,
		drainTimeout:      DefaultDrainTimeout,
		clock:             clock.Real(),
		logger:            slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	a := &Agent{
		info:              info,
		caps:              o.caps,
		heartbeatInterval: o.heartbeatInterval,
		drainTimeout:      o.drainTimeout,
		clock:             o.clock,
		logger:            o.logger,
		events:            o.events,
		state:             StateInit,
	}

	if o.tools {
		toolOpts := append([]tool.Option{
			tool.WithClock(o.clock),
			tool.WithLogger(o.logger),
			tool.WithTelemetry(o.events),
		}, o.toolOpts...)
		p, err := tool.NewPipeline(toolOpts...)
		if err != nil {
			return nil, fmt.Errorf("building tool pipeline: %w", err)
		}
		a.caps.Tools = p
	}

	a.methods = map[string]protocol.Handler{
		protocol.MethodInitialize:  a.handleInitialize,
		protocol.MethodInitialized: a.handleInitialized,
		protocol.MethodStatus:      a.handleStatus,
		protocol.MethodShutdown:    a.handleShutdown,
	}
	if a.caps.Tools != nil {
		register(a.methods, a.caps.Tools.Methods())
	}
	if a.caps.Memory != nil {
		register(a.methods, memory.NewExecutor(a.caps.Memory).Methods())
	}
	if a.caps.Swarm != nil {
		register(a.methods, swarm.NewExecutor(a.caps.Swarm, a.logger).Methods())
	}
	if a.caps.Tasks != nil {
		register(a.methods, task.NewExecutor(a.caps.Tasks).Methods())
	}
	return a, nil
}

func register(dst, src map[string]protocol.Handler) {
	for name, h := range src {
		dst[name] = h
	}
}

// Info returns the agent identity.
func (a *Agent) Info() Info { return a.info }

// Capabilities returns the capability groups the agent was built with.
func (a *Agent) Capabilities() Capabilities { return a.caps }

// Methods lists the registered method names in sorted order.
func (a *Agent) Methods() []string {
	return slices.Sorted(maps.Keys(a.methods))
}

// State returns the current lifecycle state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Uptime returns the time since initialize, or zero before it.
func (a *Agent) Uptime() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.uptimeLocked()
}

func (a *Agent) uptimeLocked() time.Duration {
	if a.initTime.IsZero() {
		return 0
	}
	return a.clock.Now().Sub(a.initTime)
}

// Run serves frames from tr until the input ends or ctx is canceled. It
// waits for dispatched handlers to return before returning itself. When the
// input ends first, handlers keep running for up to the drain timeout before
// their context is canceled. Run never closes tr.
func (a *Agent) Run(ctx context.Context, tr transport.Transport) error {
	a.mu.Lock()
	if a.tr != nil {
		a.mu.Unlock()
		return ErrRunning
	}
	a.tr = tr
	a.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	err := tr.Run(runCtx, func(frame []byte) {
		a.dispatch(runCtx, frame)
	})

	a.mu.Lock()
	a.haltHeartbeatLocked()
	a.mu.Unlock()

	// Input ended but the caller did not cancel: pending handlers keep a
	// live context for up to the drain timeout so their answers still go out.
	if ctx.Err() == nil {
		a.awaitHandlers(ctx)
	}
	cancel()
	a.handlers.Wait()
	return err
}

// awaitHandlers waits for dispatched handlers up to the drain timeout or
// until ctx is canceled.
func (a *Agent) awaitHandlers(ctx context.Context) {
	if a.drainTimeout <= 0 {
		return
	}
	done := make(chan struct{})
	go func() {
		a.handlers.Wait()
		close(done)
	}()
	timer := a.clock.NewTimer(a.drainTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-ctx.Done():
	case <-timer.C:
		a.logger.Warn("handlers still running after input ended", "timeout", a.drainTimeout)
	}
}

// transitionLocked moves the agent to next. Callers hold mu.
func (a *Agent) transitionLocked(next State) error {
	from := a.state
	if !from.CanTransition(next) {
		return fmt.Errorf("illegal transition %s -> %s", from, next)
	}
	a.state = next
	if next == StateStarting {
		a.initTime = a.clock.Now()
	}
	a.logger.Debug("agent state changed", "from", from, "to", next)
	a.events.Emit(telemetry.Event{
		Kind:  telemetry.KindLifecycle,
		Name:  "transition",
		Attrs: map[string]any{"from": string(from), "to": string(next)},
	})
	return nil
}

func (a *Agent) send(msg any) error {
	a.mu.Lock()
	tr := a.tr
	a.mu.Unlock()
	if tr == nil {
		return transport.ErrClosed
	}
	return tr.Send(msg)
}
