package task

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/angelgalvisc/clawkernel/protocol"
)

// Executor adapts a Handler to the claw.task.* methods.
type Executor struct {
	handler Handler
}

// NewExecutor returns an Executor serving h.
func NewExecutor(h Handler) *Executor {
	return &Executor{handler: h}
}

// Methods returns the protocol handlers keyed by method name.
func (e *Executor) Methods() map[string]protocol.Handler {
	return map[string]protocol.Handler{
		protocol.MethodTaskCreate:    e.handleCreate,
		protocol.MethodTaskGet:       e.handleGet,
		protocol.MethodTaskList:      e.handleList,
		protocol.MethodTaskCancel:    e.handleCancel,
		protocol.MethodTaskSubscribe: e.handleSubscribe,
	}
}

// rawParams keeps every member undecoded. Task params are read leniently:
// members of the wrong JSON type are treated as absent.
type rawParams map[string]json.RawMessage

func decodeRaw(req *protocol.Request) (rawParams, error) {
	var p rawParams
	if err := protocol.DecodeParams(req.Params, &p); err != nil {
		return nil, err
	}
	return p, nil
}

func (p rawParams) string(key string) string {
	var s string
	if raw, ok := p[key]; ok && json.Unmarshal(raw, &s) == nil {
		return s
	}
	return ""
}

func (p rawParams) object(key string) map[string]any {
	var m map[string]any
	if raw, ok := p[key]; ok && json.Unmarshal(raw, &m) == nil {
		return m
	}
	return nil
}

func (p rawParams) number(key string) (float64, bool) {
	var f float64
	if raw, ok := p[key]; ok && json.Unmarshal(raw, &f) == nil {
		return f, true
	}
	return 0, false
}

func (e *Executor) handleCreate(ctx context.Context, req *protocol.Request) (any, error) {
	p, err := decodeRaw(req)
	if err != nil {
		return nil, err
	}
	params := CreateParams{
		TaskID:   p.string("task_id"),
		Metadata: p.object("metadata"),
	}
	if p.object("message") != nil {
		var msg Message
		if err := json.Unmarshal(p["message"], &msg); err != nil {
			return nil, protocol.InvalidParams("Invalid param message: " + err.Error())
		}
		params.Message = &msg
	}
	if raw, ok := p["messages"]; ok {
		var msgs []Message
		if json.Unmarshal(raw, &msgs) == nil {
			params.Messages = msgs
		}
	}
	if params.Message == nil && len(params.Messages) == 0 {
		return nil, protocol.InvalidParams("Task creation requires message or messages")
	}

	rec, err := protocol.Guard("Task create", func() (*Record, error) {
		return e.handler.Create(ctx, params)
	})
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.TaskID == "" || !rec.State.Valid() {
		return nil, protocol.Internal("Task create handler returned invalid task record")
	}
	return rec, nil
}

func (e *Executor) handleGet(ctx context.Context, req *protocol.Request) (any, error) {
	p, err := decodeRaw(req)
	if err != nil {
		return nil, err
	}
	taskID := p.string("task_id")
	if taskID == "" {
		return nil, protocol.InvalidParams("Missing task_id")
	}
	rec, err := protocol.Guard("Task get", func() (*Record, error) {
		return e.handler.Get(ctx, taskID)
	})
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, protocol.InvalidParams("Unknown task_id: " + taskID)
	}
	return rec, nil
}

func (e *Executor) handleList(ctx context.Context, req *protocol.Request) (any, error) {
	p, err := decodeRaw(req)
	if err != nil {
		return nil, err
	}
	var filter ListFilter
	if s := State(p.string("state")); s.Valid() {
		filter.State = s
	}
	filter.Cursor = p.string("cursor")
	if n, ok := p.number("limit"); ok && !math.IsInf(n, 0) && !math.IsNaN(n) {
		filter.Limit = int(math.Max(1, math.Floor(n)))
	}
	tasks, err := protocol.Guard("Task list", func() ([]Record, error) {
		return e.handler.List(ctx, filter)
	})
	if err != nil {
		return nil, err
	}
	if tasks == nil {
		tasks = []Record{}
	}
	return map[string]any{"tasks": tasks}, nil
}

func (e *Executor) handleCancel(ctx context.Context, req *protocol.Request) (any, error) {
	p, err := decodeRaw(req)
	if err != nil {
		return nil, err
	}
	taskID := p.string("task_id")
	if taskID == "" {
		return nil, protocol.InvalidParams("Missing task_id")
	}
	reason := p.string("reason")
	rec, err := protocol.Guard("Task cancel", func() (*Record, error) {
		return e.handler.Cancel(ctx, taskID, reason)
	})
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, protocol.InvalidParams(fmt.Sprintf("Unknown task_id: %s", taskID))
	}
	return rec, nil
}

func (e *Executor) handleSubscribe(ctx context.Context, req *protocol.Request) (any, error) {
	p, err := decodeRaw(req)
	if err != nil {
		return nil, err
	}
	taskID := p.string("task_id")
	if taskID == "" {
		return nil, protocol.InvalidParams("Missing task_id")
	}
	return protocol.Guard("Task subscribe", func() (*SubscribeResult, error) {
		return e.handler.Subscribe(ctx, taskID)
	})
}
