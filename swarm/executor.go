package swarm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/angelgalvisc/clawkernel/protocol"
)

// Executor adapts a Handler to the claw.swarm.* methods.
type Executor struct {
	handler Handler
	logger  *slog.Logger
}

// NewExecutor returns an Executor serving h. A nil logger uses
// slog.Default.
func NewExecutor(h Handler, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{handler: h, logger: logger}
}

// Methods returns the protocol handlers keyed by method name.
func (e *Executor) Methods() map[string]protocol.Handler {
	return map[string]protocol.Handler{
		protocol.MethodSwarmDelegate:  e.handleDelegate,
		protocol.MethodSwarmDiscover:  e.handleDiscover,
		protocol.MethodSwarmReport:    e.handleReport,
		protocol.MethodSwarmBroadcast: e.handleBroadcast,
	}
}

type delegateParams struct {
	TaskID  string   `json:"task_id"`
	Task    *Task    `json:"task"`
	Context *Context `json:"context"`
}

type discoverParams struct {
	Swarm string `json:"swarm"`
}

type reportParams struct {
	TaskID string         `json:"task_id"`
	Status string         `json:"status"`
	Result map[string]any `json:"result"`
}

type broadcastParams struct {
	Swarm   string         `json:"swarm"`
	Message map[string]any `json:"message"`
}

func (e *Executor) handleDelegate(ctx context.Context, req *protocol.Request) (any, error) {
	var p delegateParams
	if err := protocol.DecodeParams(req.Params, &p); err != nil {
		return nil, err
	}
	if p.TaskID == "" {
		return nil, protocol.InvalidParams("Missing task_id")
	}
	if p.Task == nil || p.Task.Description == "" {
		return nil, protocol.InvalidParams("Missing task.description")
	}
	var sc Context
	if p.Context != nil {
		sc = *p.Context
	}
	return protocol.Guard("Swarm delegate", func() (*Ack, error) {
		return e.handler.Delegate(ctx, p.TaskID, *p.Task, sc)
	})
}

func (e *Executor) handleDiscover(ctx context.Context, req *protocol.Request) (any, error) {
	var p discoverParams
	if err := protocol.DecodeParams(req.Params, &p); err != nil {
		return nil, err
	}
	return protocol.Guard("Swarm discover", func() (*DiscoverResult, error) {
		return e.handler.Discover(ctx, p.Swarm)
	})
}

func (e *Executor) handleReport(ctx context.Context, req *protocol.Request) (any, error) {
	var p reportParams
	if err := protocol.DecodeParams(req.Params, &p); err != nil {
		return nil, err
	}
	if p.TaskID == "" {
		return nil, protocol.InvalidParams("Missing task_id")
	}
	if p.Status == "" {
		return nil, protocol.InvalidParams("Missing status")
	}
	if p.Result == nil {
		p.Result = map[string]any{}
	}
	return protocol.Guard("Swarm report", func() (*Ack, error) {
		return e.handler.Report(ctx, p.TaskID, p.Status, p.Result)
	})
}

// handleBroadcast never answers, even when the message carries an id.
func (e *Executor) handleBroadcast(ctx context.Context, req *protocol.Request) (any, error) {
	var p broadcastParams
	if err := protocol.DecodeParams(req.Params, &p); err != nil {
		e.logger.Debug("swarm broadcast dropped", "error", err)
		return nil, protocol.ErrNoResponse
	}
	if p.Message == nil {
		p.Message = map[string]any{}
	}
	func() {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Debug("swarm broadcast failed", "swarm", p.Swarm, "error", fmt.Sprint(r))
			}
		}()
		if err := e.handler.Broadcast(ctx, p.Swarm, p.Message); err != nil {
			e.logger.Debug("swarm broadcast failed", "swarm", p.Swarm, "error", err)
		}
	}()
	return nil, protocol.ErrNoResponse
}
