// Package policy turns Policy primitives into the policy and approval gates
// of the tool pipeline.
//
// Rules are evaluated in declaration order and the first rule that matches
// decides. audit-only rules log the call and let evaluation continue. A rule
// may carry a CEL expression under conditions.when; it sees the variables
// tool (string), context (map), annotations (map) and tags (list of
// strings) and must evaluate to a bool.
package policy

import (
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/angelgalvisc/clawkernel/schema"
	"github.com/angelgalvisc/clawkernel/tool"
)

// DefaultApprovalTimeout is the approval window of require-approval rules
// that do not set approval.timeout_seconds.
const DefaultApprovalTimeout = 60 * time.Second

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithTools supplies the tool metadata that annotation and category
// matches are evaluated against.
func WithTools(descs ...tool.Descriptor) Option {
	return func(e *Evaluator) {
		for _, d := range descs {
			e.tools[d.Name] = d
		}
	}
}

// WithDefaultDeny denies calls that no rule matches. The default is allow.
func WithDefaultDeny(reason string) Option {
	return func(e *Evaluator) {
		e.defaultDeny = true
		e.defaultReason = reason
	}
}

// WithLogger sets the logger used for audit-only rules.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Evaluator) { e.logger = logger }
}

// Evaluator implements tool.PolicyEvaluator and tool.ApprovalPolicy.
type Evaluator struct {
	rules         []rule
	tools         map[string]tool.Descriptor
	defaultDeny   bool
	defaultReason string
	logger        *slog.Logger
}

type rule struct {
	schema.PolicyRule
	when cel.Program
}

// New compiles the rules of the given policies, in order.
func New(specs []*schema.PolicySpec, opts ...Option) (*Evaluator, error) {
	e := &Evaluator{
		tools:  make(map[string]tool.Descriptor),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}

	env, err := newEnv()
	if err != nil {
		return nil, err
	}
	for _, spec := range specs {
		if spec == nil {
			continue
		}
		for _, r := range spec.Rules {
			compiled, err := compileRule(env, r)
			if err != nil {
				return nil, err
			}
			e.rules = append(e.rules, compiled)
		}
	}
	return e, nil
}

func newEnv() (*cel.Env, error) {
	env, err := cel.NewEnv(
		cel.Variable("tool", cel.StringType),
		cel.Variable("context", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("annotations", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("tags", cel.ListType(cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return env, nil
}

func compileRule(env *cel.Env, r schema.PolicyRule) (rule, error) {
	switch r.Action {
	case schema.ActionAllow, schema.ActionDeny, schema.ActionRequireApproval, schema.ActionAuditOnly:
	default:
		return rule{}, fmt.Errorf("rule %s: unknown action %q", r.ID, r.Action)
	}
	switch r.Scope {
	case schema.ScopeTool, schema.ScopeCategory, schema.ScopeAll:
	default:
		return rule{}, fmt.Errorf("rule %s: unknown scope %q", r.ID, r.Scope)
	}

	compiled := rule{PolicyRule: r}
	expr, _ := r.Conditions["when"].(string)
	if expr == "" {
		return compiled, nil
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return rule{}, fmt.Errorf("rule %s: invalid condition: %w", r.ID, iss.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return rule{}, fmt.Errorf("rule %s: condition must be a bool expression, got %s", r.ID, ast.OutputType())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return rule{}, fmt.Errorf("rule %s: %w", r.ID, err)
	}
	compiled.when = prg
	return compiled, nil
}

// Evaluate implements tool.PolicyEvaluator. require-approval rules pass
// this gate; the approval gate enforces them.
func (e *Evaluator) Evaluate(name string, callCtx map[string]any) tool.GateResult {
	r := e.decide(name, callCtx)
	if r == nil {
		if e.defaultDeny {
			return tool.Deny(e.defaultReason)
		}
		return tool.Allow()
	}
	if r.Action == schema.ActionDeny {
		return tool.Deny(r.Reason)
	}
	return tool.Allow()
}

// Required implements tool.ApprovalPolicy.
func (e *Evaluator) Required(name string) bool {
	r := e.decide(name, nil)
	return r != nil && r.Action == schema.ActionRequireApproval
}

// Timeout implements tool.ApprovalPolicy.
func (e *Evaluator) Timeout(name string) time.Duration {
	r := e.decide(name, nil)
	if r == nil || r.Approval == nil || r.Approval.TimeoutSeconds <= 0 {
		return DefaultApprovalTimeout
	}
	return time.Duration(r.Approval.TimeoutSeconds) * time.Second
}

// decide returns the first deciding rule for the call, or nil.
func (e *Evaluator) decide(name string, callCtx map[string]any) *rule {
	desc, known := e.tools[name]
	for i := range e.rules {
		r := &e.rules[i]
		if !e.matches(r, name, desc, known, callCtx) {
			continue
		}
		if r.Action == schema.ActionAuditOnly {
			e.logger.Info("policy audit", "rule", r.ID, "tool", name)
			continue
		}
		return r
	}
	return nil
}

func (e *Evaluator) matches(r *rule, name string, desc tool.Descriptor, known bool, callCtx map[string]any) bool {
	switch r.Scope {
	case schema.ScopeTool:
		if r.Match == nil || (r.Match.Tool == "" && len(r.Match.Annotations) == 0) {
			return false
		}
		if r.Match.Tool != "" && r.Match.Tool != name {
			return false
		}
	case schema.ScopeCategory:
		if r.Match == nil || r.Match.Category == "" || !known {
			return false
		}
		category, _ := desc.Annotations["category"].(string)
		if category != r.Match.Category && !slices.Contains(desc.Tags, r.Match.Category) {
			return false
		}
	}

	if r.Match != nil && len(r.Match.Annotations) > 0 {
		if !known {
			return false
		}
		for k, want := range r.Match.Annotations {
			if !reflect.DeepEqual(desc.Annotations[k], want) {
				return false
			}
		}
	}

	if r.when != nil {
		return e.evalCondition(r, name, desc, callCtx)
	}
	return true
}

func (e *Evaluator) evalCondition(r *rule, name string, desc tool.Descriptor, callCtx map[string]any) bool {
	if callCtx == nil {
		callCtx = map[string]any{}
	}
	annotations := desc.Annotations
	if annotations == nil {
		annotations = map[string]any{}
	}
	tags := desc.Tags
	if tags == nil {
		tags = []string{}
	}
	out, _, err := r.when.Eval(map[string]any{
		"tool":        name,
		"context":     callCtx,
		"annotations": annotations,
		"tags":        tags,
	})
	if err != nil {
		// A condition that cannot be evaluated, for example because it reads
		// a context key the call did not send, does not match.
		e.logger.Debug("policy condition failed", "rule", r.ID, "tool", name, "error", err)
		return false
	}
	matched, ok := out.Value().(bool)
	return ok && matched
}
