package main

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/angelgalvisc/clawkernel/config"
	"github.com/angelgalvisc/clawkernel/policy"
	"github.com/angelgalvisc/clawkernel/quota"
	"github.com/angelgalvisc/clawkernel/sandbox"
	"github.com/angelgalvisc/clawkernel/schema"
	"github.com/angelgalvisc/clawkernel/tool"
)

// Reference tool names. destructive-tool and expensive-tool are never
// implemented: the gates reject them before the existence check.
const (
	toolEcho        = "echo"
	toolSlow        = "slow-tool"
	toolDestructive = "destructive-tool"
	toolExpensive   = "expensive-tool"
)

// slowToolDelay is how long slow-tool works, far beyond its timeout.
const slowToolDelay = 5 * time.Second

// referenceTools returns the built-in tools. A manifest Tool primitive with
// the same name overrides description, input schema, annotations and
// timeout.
func referenceTools(specs map[string]*schema.ToolSpec) ([]tool.Tool, error) {
	defs := []*tool.Config{
		tool.NewConfig().
			SetName(toolEcho).
			SetDescription("Echo the text argument").
			SetInputSchema(schema.Object(map[string]schema.JSON{
				"text": schema.StringWithDesc("Text to echo"),
			})).
			SetAnnotation("readOnlyHint", true).
			SetAnnotation("idempotentHint", true).
			SetExecuteFunc(echo),
		tool.NewConfig().
			SetName(toolSlow).
			SetDescription("Sleep well past its own timeout").
			SetTimeout(100 * time.Millisecond).
			SetExecuteFunc(slow),
	}

	tools := make([]tool.Tool, 0, len(defs))
	for _, cfg := range defs {
		t, err := tool.New(cfg)
		if err != nil {
			return nil, err
		}
		if spec, ok := specs[t.Name()]; ok {
			cfg, err = cfg.FromSpec(t.Name(), spec)
			if err != nil {
				return nil, err
			}
			if t, err = tool.New(cfg); err != nil {
				return nil, err
			}
		}
		tools = append(tools, t)
	}
	return tools, nil
}

func echo(_ context.Context, args map[string]any) (*tool.Result, error) {
	text, _ := args["text"].(string)
	return tool.TextResult(text), nil
}

func slow(ctx context.Context, _ map[string]any) (*tool.Result, error) {
	select {
	case <-time.After(slowToolDelay):
		return tool.TextResult("done"), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// referencePolicy denies destructive-tool and requires approval for the
// configured tools. Manifest policies are evaluated first.
func referencePolicy(manifest []*schema.PolicySpec, cfg config.ToolsConfig, tools []tool.Tool, logger *slog.Logger) (*policy.Evaluator, error) {
	rules := []schema.PolicyRule{{
		ID:     "deny-destructive-tool",
		Action: schema.ActionDeny,
		Scope:  schema.ScopeTool,
		Match:  &schema.RuleMatch{Tool: toolDestructive},
		Reason: "Policy denied: " + toolDestructive + " is not allowed",
	}}

	timeout := int(math.Ceil(cfg.GetApprovalTimeout().Seconds()))
	for _, name := range cfg.RequireApproval {
		rules = append(rules, schema.PolicyRule{
			ID:       "approve-" + name,
			Action:   schema.ActionRequireApproval,
			Scope:    schema.ScopeTool,
			Match:    &schema.RuleMatch{Tool: name},
			Approval: &schema.RuleApproval{TimeoutSeconds: timeout},
		})
	}

	descs := make([]tool.Descriptor, 0, len(tools))
	for _, t := range tools {
		descs = append(descs, tool.ToDescriptor(t))
	}

	specs := slices.Clone(manifest)
	specs = append(specs, &schema.PolicySpec{Rules: rules})
	eval, err := policy.New(specs, policy.WithTools(descs...), policy.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to compile policies: %w", err)
	}
	return eval, nil
}

// referenceSandbox uses the manifest sandbox, or the container defaults
// which block link-local metadata addresses such as 169.254.169.254.
func referenceSandbox(spec *schema.SandboxSpec, logger *slog.Logger) (*sandbox.Checker, error) {
	if spec == nil {
		spec = sandbox.ContainerDefaults()
	}
	return sandbox.New(spec, sandbox.WithLogger(logger))
}

// referenceQuota always treats expensive-tool as exhausted.
func referenceQuota(cfg config.QuotaConfig, policies []*schema.PolicySpec, logger *slog.Logger) *quota.Checker {
	opts := quota.FromPolicy(policies...)
	if cfg.CallsPerMinute > 0 {
		opts = append(opts, quota.WithCallsPerMinute(cfg.CallsPerMinute))
	}
	for name, n := range cfg.ToolCallsPerMinute {
		opts = append(opts, quota.WithToolCallsPerMinute(name, n))
	}
	for name, n := range cfg.DailyCalls {
		opts = append(opts, quota.WithDailyCalls(name, n))
	}
	opts = append(opts,
		quota.WithExhausted(append([]string{toolExpensive}, cfg.Exhausted...)...),
		quota.WithLogger(logger),
	)
	return quota.New(opts...)
}
