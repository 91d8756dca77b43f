package swarm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/angelgalvisc/clawkernel/clock"
	"github.com/angelgalvisc/clawkernel/queue"
	"github.com/angelgalvisc/clawkernel/registry"
)

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithSwarm sets the swarm used when a call names none.
func WithSwarm(name string) CoordinatorOption {
	return func(c *Coordinator) { c.swarm = name }
}

// WithIdentity sets the identity stamped on delegated tasks and broadcasts.
func WithIdentity(name string) CoordinatorOption {
	return func(c *Coordinator) { c.identity = name }
}

// WithClock sets the time source for timestamps.
func WithClock(clk clock.Clock) CoordinatorOption {
	return func(c *Coordinator) { c.clock = clk }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.logger = l }
}

// Coordinator is a Handler that delegates through a Redis task list and
// discovers peers in a Registry.
type Coordinator struct {
	queue    queue.Client
	registry registry.Registry
	swarm    string
	identity string
	clock    clock.Clock
	logger   *slog.Logger
}

// NewCoordinator returns a Coordinator. The default swarm is "default".
func NewCoordinator(q queue.Client, r registry.Registry, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		queue:    q,
		registry: r,
		swarm:    "default",
		clock:    clock.Real(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) swarmOr(name string) string {
	if name == "" {
		return c.swarm
	}
	return name
}

// Delegate implements Handler by queueing the task for the swarm's workers.
func (c *Coordinator) Delegate(ctx context.Context, taskID string, task Task, sc Context) (*Ack, error) {
	swarm := c.swarmOr(sc.Swarm)
	err := c.queue.Push(ctx, swarm, queue.Task{
		TaskID:      taskID,
		Swarm:       swarm,
		Description: task.Description,
		Input:       task.Input,
		RequestID:   sc.RequestID,
		From:        c.identity,
		SubmittedAt: c.clock.Now().UnixMilli(),
	})
	if err != nil {
		return nil, err
	}
	c.logger.Info("swarm task delegated", "swarm", swarm, "task_id", taskID)
	return &Ack{Acknowledged: true}, nil
}

// Discover implements Handler. A peer whose heartbeat has lapsed is reported
// unavailable and a peer with tasks in flight is reported busy.
func (c *Coordinator) Discover(ctx context.Context, swarm string) (*DiscoverResult, error) {
	registered, err := c.registry.Discover(ctx, c.swarmOr(swarm))
	if err != nil {
		return nil, err
	}
	peers := make([]Peer, 0, len(registered))
	for _, p := range registered {
		peers = append(peers, Peer{
			Identity: p.Identity,
			URI:      p.URI,
			Status:   c.liveStatus(ctx, p),
		})
	}
	return &DiscoverResult{Peers: peers}, nil
}

func (c *Coordinator) liveStatus(ctx context.Context, p registry.Peer) string {
	status := p.Status
	if status == "" {
		status = registry.StatusReady
	}
	alive, err := c.queue.Alive(ctx, p.Identity)
	if err != nil {
		c.logger.Debug("peer health check failed", "identity", p.Identity, "error", err)
		return status
	}
	if !alive {
		return registry.StatusUnavailable
	}
	if n, err := c.queue.InFlight(ctx, p.Identity); err == nil && n > 0 {
		return registry.StatusBusy
	}
	return status
}

// Report implements Handler by publishing on the default swarm's report
// channel.
func (c *Coordinator) Report(ctx context.Context, taskID, status string, result map[string]any) (*Ack, error) {
	err := c.queue.PublishReport(ctx, c.swarm, queue.Report{
		TaskID:     taskID,
		Status:     status,
		Result:     result,
		Peer:       c.identity,
		ReportedAt: c.clock.Now().UnixMilli(),
	})
	if err != nil {
		return nil, err
	}
	return &Ack{Acknowledged: true}, nil
}

// Broadcast implements Handler.
func (c *Coordinator) Broadcast(ctx context.Context, swarm string, message map[string]any) error {
	swarm = c.swarmOr(swarm)
	if err := c.queue.Broadcast(ctx, swarm, queue.Message{
		ID:     uuid.NewString(),
		Swarm:  swarm,
		From:   c.identity,
		Body:   message,
		SentAt: c.clock.Now().UnixMilli(),
	}); err != nil {
		return fmt.Errorf("broadcast to %s: %w", swarm, err)
	}
	return nil
}
