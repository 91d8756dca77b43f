// Package quota implements the tool pipeline's quota gate with token-bucket
// rate limits and daily call budgets.
package quota

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/angelgalvisc/clawkernel/clock"
	"github.com/angelgalvisc/clawkernel/schema"
	"github.com/angelgalvisc/clawkernel/tool"
)

// Option configures a Checker.
type Option func(*Checker)

// WithCallsPerMinute limits all tool calls together. Bursts of up to one
// minute's worth of calls are allowed.
func WithCallsPerMinute(n int) Option {
	return func(c *Checker) {
		if n > 0 {
			c.global = perMinute(n)
		}
	}
}

// WithToolCallsPerMinute limits calls to a single tool.
func WithToolCallsPerMinute(name string, n int) Option {
	return func(c *Checker) {
		if n > 0 {
			c.perTool[name] = perMinute(n)
		}
	}
}

// WithDailyCalls caps the number of calls to a tool per UTC day. A cap of
// zero blocks the tool entirely.
func WithDailyCalls(name string, n int) Option {
	return func(c *Checker) { c.daily[name] = &budget{limit: n} }
}

// WithExhausted marks tools whose provider budget is already spent.
func WithExhausted(names ...string) Option {
	return func(c *Checker) {
		for _, name := range names {
			c.daily[name] = &budget{limit: 0}
		}
	}
}

// WithClock sets the time source.
func WithClock(clk clock.Clock) Option {
	return func(c *Checker) { c.clock = clk }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Checker) { c.logger = logger }
}

// Checker implements tool.QuotaChecker.
type Checker struct {
	clock  clock.Clock
	logger *slog.Logger

	mu      sync.Mutex
	global  *rate.Limiter
	perTool map[string]*rate.Limiter
	daily   map[string]*budget
}

type budget struct {
	limit int
	used  int
	day   string
}

func perMinute(n int) *rate.Limiter {
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), n)
}

// New builds a Checker. Without options every call is allowed.
func New(opts ...Option) *Checker {
	c := &Checker{
		clock:   clock.Real(),
		logger:  slog.Default(),
		perTool: make(map[string]*rate.Limiter),
		daily:   make(map[string]*budget),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FromPolicy derives options from the rate limits of Policy primitives.
func FromPolicy(specs ...*schema.PolicySpec) []Option {
	var opts []Option
	for _, spec := range specs {
		if spec == nil || spec.RateLimits == nil {
			continue
		}
		opts = append(opts, WithCallsPerMinute(spec.RateLimits.ToolCallsPerMinute))
	}
	return opts
}

// Check implements tool.QuotaChecker. A denied call consumes no budget from
// any limit.
func (c *Checker) Check(name string) tool.GateResult {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if b, ok := c.daily[name]; ok {
		day := now.UTC().Format(time.DateOnly)
		if b.day != day {
			b.day, b.used = day, 0
		}
		if b.used >= b.limit {
			return c.deny(name, fmt.Sprintf("Provider quota exceeded: daily budget for %s is spent", name))
		}
	}
	var held *rate.Reservation
	if l, ok := c.perTool[name]; ok {
		r := l.ReserveN(now, 1)
		if !r.OK() || r.DelayFrom(now) > 0 {
			r.CancelAt(now)
			return c.deny(name, fmt.Sprintf("Provider quota exceeded: rate limit for %s", name))
		}
		held = r
	}
	if c.global != nil && !c.global.AllowN(now, 1) {
		// The per-tool token goes back: the call never ran.
		if held != nil {
			held.CancelAt(now)
		}
		return c.deny(name, "Provider quota exceeded: tool call rate limit")
	}
	if b, ok := c.daily[name]; ok {
		b.used++
	}
	return tool.Allow()
}

func (c *Checker) deny(name, msg string) tool.GateResult {
	c.logger.Info("quota exceeded", "tool", name, "reason", msg)
	return tool.Deny(msg)
}
