package agent

import (
	"log/slog"
	"time"

	"github.com/angelgalvisc/clawkernel/clock"
	"github.com/angelgalvisc/clawkernel/memory"
	"github.com/angelgalvisc/clawkernel/swarm"
	"github.com/angelgalvisc/clawkernel/task"
	"github.com/angelgalvisc/clawkernel/telemetry"
	"github.com/angelgalvisc/clawkernel/tool"
)

const (
	// DefaultHeartbeatInterval is used when no interval is configured.
	DefaultHeartbeatInterval = 30 * time.Second

	// MinHeartbeatInterval is the floor applied to positive intervals.
	MinHeartbeatInterval = 100 * time.Millisecond

	// DefaultDrainTimeout bounds how long shutdown waits for in-flight
	// capability handlers.
	DefaultDrainTimeout = 5 * time.Second
)

// Info identifies the agent in the initialize result.
type Info struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Capabilities holds the optional capability groups. A group is present
// when its field is set.
type Capabilities struct {
	// Tools is the tool pipeline. It is built by New from WithTools,
	// WithPolicy, WithSandbox, WithQuota and WithApproval.
	Tools  *tool.Pipeline
	Memory memory.Handler
	Swarm  swarm.Handler
	Tasks  task.Handler
}

// Level derives the conformance level from which groups are present.
func (c Capabilities) Level() ConformanceLevel {
	switch {
	case c.Memory != nil && c.Swarm != nil:
		return Level3
	case c.Tools != nil:
		return Level2
	default:
		return Level1
	}
}

// Option configures an Agent.
type Option func(*options)

type options struct {
	toolOpts          []tool.Option
	tools             bool
	caps              Capabilities
	heartbeatInterval time.Duration
	drainTimeout      time.Duration
	clock             clock.Clock
	logger            *slog.Logger
	events            *telemetry.Emitter
}

func (o *options) withTool(opt tool.Option) {
	o.tools = true
	o.toolOpts = append(o.toolOpts, opt)
}

// WithTools registers tools and enables the tool capability.
func WithTools(tools ...tool.Tool) Option {
	return func(o *options) { o.withTool(tool.WithTools(tools...)) }
}

// WithPolicy sets the policy gate and enables the tool capability.
func WithPolicy(e tool.PolicyEvaluator) Option {
	return func(o *options) { o.withTool(tool.WithPolicy(e)) }
}

// WithSandbox sets the sandbox gate and enables the tool capability.
func WithSandbox(c tool.SandboxChecker) Option {
	return func(o *options) { o.withTool(tool.WithSandbox(c)) }
}

// WithQuota sets the quota gate and enables the tool capability.
func WithQuota(c tool.QuotaChecker) Option {
	return func(o *options) { o.withTool(tool.WithQuota(c)) }
}

// WithApproval sets which tools need operator approval.
func WithApproval(a tool.ApprovalPolicy) Option {
	return func(o *options) { o.withTool(tool.WithApproval(a)) }
}

// WithArgumentValidation checks tool arguments against input schemas.
func WithArgumentValidation() Option {
	return func(o *options) { o.withTool(tool.WithArgumentValidation()) }
}

// WithMemory enables the memory capability.
func WithMemory(h memory.Handler) Option {
	return func(o *options) { o.caps.Memory = h }
}

// WithSwarm enables the swarm capability.
func WithSwarm(h swarm.Handler) Option {
	return func(o *options) { o.caps.Swarm = h }
}

// WithTasks enables the task interop capability.
func WithTasks(h task.Handler) Option {
	return func(o *options) { o.caps.Tasks = h }
}

// WithHeartbeatInterval sets the heartbeat period. Values <= 0 disable the
// heartbeat; positive values below MinHeartbeatInterval are raised to it.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(o *options) { o.heartbeatInterval = d }
}

// WithDrainTimeout sets how long shutdown waits for in-flight handlers.
func WithDrainTimeout(d time.Duration) Option {
	return func(o *options) { o.drainTimeout = d }
}

// WithClock sets the time source for uptime, heartbeats and tool timeouts.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithTelemetry emits lifecycle, dispatch and tool events to e.
func WithTelemetry(e *telemetry.Emitter) Option {
	return func(o *options) { o.events = e }
}
