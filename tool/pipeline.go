package tool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/angelgalvisc/clawkernel/approval"
	"github.com/angelgalvisc/clawkernel/clock"
	"github.com/angelgalvisc/clawkernel/protocol"
	"github.com/angelgalvisc/clawkernel/telemetry"
)

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithTools registers tools by name.
func WithTools(tools ...Tool) Option {
	return func(p *Pipeline) { p.pending = append(p.pending, tools...) }
}

// WithPolicy installs the policy gate.
func WithPolicy(e PolicyEvaluator) Option {
	return func(p *Pipeline) { p.policy = e }
}

// WithSandbox installs the sandbox gate.
func WithSandbox(c SandboxChecker) Option {
	return func(p *Pipeline) { p.sandbox = c }
}

// WithQuota installs the quota gate.
func WithQuota(c QuotaChecker) Option {
	return func(p *Pipeline) { p.quota = c }
}

// WithApproval installs the approval gate.
func WithApproval(a ApprovalPolicy) Option {
	return func(p *Pipeline) { p.approval = a }
}

// WithApprovalQueue shares an existing approval queue.
func WithApprovalQueue(q *approval.Queue) Option {
	return func(p *Pipeline) { p.queue = q }
}

// WithArgumentValidation checks arguments against each tool's input schema
// before the approval gate.
func WithArgumentValidation() Option {
	return func(p *Pipeline) { p.validate = true }
}

// WithClock sets the time source for execution timeouts.
func WithClock(c clock.Clock) Option {
	return func(p *Pipeline) { p.clock = c }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// WithTelemetry emits gate and execution events.
func WithTelemetry(e *telemetry.Emitter) Option {
	return func(p *Pipeline) { p.events = e }
}

// Pipeline runs claw.tool.call through the gates in order: quota, policy,
// sandbox, tool lookup, approval, then execution raced against the tool
// timeout.
type Pipeline struct {
	tools    map[string]Tool
	pending  []Tool
	policy   PolicyEvaluator
	sandbox  SandboxChecker
	quota    QuotaChecker
	approval ApprovalPolicy
	queue    *approval.Queue
	validate bool
	clock    clock.Clock
	logger   *slog.Logger
	events   *telemetry.Emitter
}

// NewPipeline builds a Pipeline. Tool names must be unique.
func NewPipeline(opts ...Option) (*Pipeline, error) {
	p := &Pipeline{
		tools:  make(map[string]Tool),
		clock:  clock.Real(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	for _, t := range p.pending {
		if t == nil {
			return nil, errors.New("nil tool")
		}
		if _, dup := p.tools[t.Name()]; dup {
			return nil, fmt.Errorf("duplicate tool %q", t.Name())
		}
		p.tools[t.Name()] = t
	}
	p.pending = nil
	if p.queue == nil {
		p.queue = approval.NewQueue(approval.WithClock(p.clock), approval.WithLogger(p.logger))
	}
	return p, nil
}

// Tools returns the descriptors of the registered tools sorted by name.
func (p *Pipeline) Tools() []Descriptor {
	out := make([]Descriptor, 0, len(p.tools))
	for _, t := range p.tools {
		out = append(out, ToDescriptor(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Queue returns the approval queue used by the approval gate.
func (p *Pipeline) Queue() *approval.Queue {
	return p.queue
}

// CallParams are the params of claw.tool.call.
type CallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
}

// Call runs one tool call. fallbackRequestID keys the approval wait when
// the call context carries no request_id. Protocol-level failures are
// returned as *protocol.Error; tool failures are reported inside the Result.
func (p *Pipeline) Call(ctx context.Context, params CallParams, fallbackRequestID string) (*Result, error) {
	name := params.Name
	if name == "" {
		return nil, protocol.InvalidParams("Missing tool name")
	}
	args := params.Arguments
	if args == nil {
		args = map[string]any{}
	}
	callCtx := params.Context
	if callCtx == nil {
		callCtx = map[string]any{}
	}

	if p.quota != nil {
		if r := p.quota.Check(name); !r.Allowed {
			p.denied(name, "quota", r)
			return nil, protocol.QuotaExceeded(r.Message)
		}
	}
	if p.policy != nil {
		if r := p.policy.Evaluate(name, callCtx); !r.Allowed {
			p.denied(name, "policy", r)
			return nil, protocol.PolicyDenied(r.Message)
		}
	}
	if p.sandbox != nil {
		if r := p.sandbox.Check(name, args); !r.Allowed {
			p.denied(name, "sandbox", r)
			return nil, protocol.SandboxDenied(r.Message)
		}
	}

	t, ok := p.tools[name]
	if !ok {
		return nil, protocol.InvalidParams("Unknown tool: " + name)
	}
	if p.validate {
		if err := t.InputSchema().Validate(args); err != nil {
			return nil, protocol.InvalidParams(fmt.Sprintf("Invalid arguments for %s: %v", name, err))
		}
	}

	if p.approval != nil && p.approval.Required(name) {
		requestID, _ := callCtx["request_id"].(string)
		if requestID == "" {
			requestID = fallbackRequestID
		}
		if err := p.awaitApproval(ctx, name, requestID); err != nil {
			return nil, err
		}
	}

	return p.execute(ctx, t, args)
}

func (p *Pipeline) awaitApproval(ctx context.Context, name, requestID string) error {
	p.logger.Info("tool call awaiting approval", "tool", name, "request_id", requestID)
	p.emit("approval_pending", map[string]any{"tool": name, "request_id": requestID})

	err := p.queue.Wait(ctx, requestID, p.approval.Timeout(name))
	var denied *approval.DeniedError
	switch {
	case err == nil:
		p.emit("approval_granted", map[string]any{"tool": name, "request_id": requestID})
		return nil
	case errors.Is(err, approval.ErrTimeout):
		p.emit("approval_timeout", map[string]any{"tool": name, "request_id": requestID})
		return protocol.ApprovalTimeout()
	case errors.As(err, &denied):
		p.emit("approval_denied", map[string]any{"tool": name, "request_id": requestID, "reason": denied.Reason})
		return protocol.ApprovalDenied(denied.Reason)
	default:
		return err
	}
}

type outcome struct {
	result *Result
	err    error
}

func (p *Pipeline) execute(ctx context.Context, t Tool, args map[string]any) (*Result, error) {
	timeout := t.Timeout()
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	execCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	start := p.clock.Now()
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		res, err := t.Execute(execCtx, args)
		done <- outcome{result: res, err: err}
	}()

	timer := p.clock.NewTimer(timeout)
	defer timer.Stop()

	select {
	case o := <-done:
		res := o.result
		if o.err != nil {
			p.logger.Debug("tool returned error", "tool", t.Name(), "error", o.err)
			res = ErrorResult(o.err)
		} else if res == nil {
			res = &Result{}
		}
		if res.Content == nil {
			res.Content = []protocol.ContentBlock{}
		}
		p.emit("executed", map[string]any{
			"tool":        t.Name(),
			"is_error":    res.IsError,
			"duration_ms": p.clock.Now().Sub(start).Milliseconds(),
		})
		return res, nil
	case <-timer.C:
		p.logger.Warn("tool execution timed out", "tool", t.Name(), "timeout", timeout)
		p.emit("timeout", map[string]any{"tool": t.Name(), "timeout_ms": timeout.Milliseconds()})
		return nil, protocol.ToolTimeout(t.Name())
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Pipeline) denied(name, gate string, r GateResult) {
	p.logger.Info("tool call denied", "tool", name, "gate", gate, "message", r.Message)
	attrs := map[string]any{"tool": name, "gate": gate}
	if r.Code != 0 {
		attrs["code"] = r.Code
	}
	p.emit("gate_denied", attrs)
}

func (p *Pipeline) emit(name string, attrs map[string]any) {
	p.events.Emit(telemetry.Event{Kind: telemetry.KindTool, Name: name, Attrs: attrs})
}

// ApprovalParams are the params of claw.tool.approve and claw.tool.deny.
type ApprovalParams struct {
	RequestID string `json:"request_id"`
	Reason    string `json:"reason,omitempty"`
}

// Acknowledged is the result of approve and deny.
type Acknowledged struct {
	Acknowledged bool `json:"acknowledged"`
}

// Approve releases a pending approval. Unknown ids are acknowledged too.
func (p *Pipeline) Approve(requestID string) Acknowledged {
	p.queue.Approve(requestID)
	return Acknowledged{Acknowledged: true}
}

// Deny rejects a pending approval. Unknown ids are acknowledged too.
func (p *Pipeline) Deny(requestID, reason string) Acknowledged {
	p.queue.Deny(requestID, reason)
	return Acknowledged{Acknowledged: true}
}

// Methods returns the JSON-RPC handlers for the tool methods.
func (p *Pipeline) Methods() map[string]protocol.Handler {
	return map[string]protocol.Handler{
		protocol.MethodToolCall:    p.handleCall,
		protocol.MethodToolApprove: p.handleApprove,
		protocol.MethodToolDeny:    p.handleDeny,
	}
}

func (p *Pipeline) handleCall(ctx context.Context, req *protocol.Request) (any, error) {
	var params CallParams
	if err := protocol.DecodeParams(req.Params, &params); err != nil {
		return nil, err
	}
	return p.Call(ctx, params, req.IDString())
}

func (p *Pipeline) handleApprove(_ context.Context, req *protocol.Request) (any, error) {
	var params ApprovalParams
	if err := protocol.DecodeParams(req.Params, &params); err != nil {
		return nil, err
	}
	return p.Approve(params.RequestID), nil
}

func (p *Pipeline) handleDeny(_ context.Context, req *protocol.Request) (any, error) {
	var params ApprovalParams
	if err := protocol.DecodeParams(req.Params, &params); err != nil {
		return nil, err
	}
	return p.Deny(params.RequestID, params.Reason), nil
}
