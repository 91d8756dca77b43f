package policy

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelgalvisc/clawkernel/schema"
	"github.com/angelgalvisc/clawkernel/tool"
)

func descriptors() []tool.Descriptor {
	return []tool.Descriptor{
		{Name: "read-file", Tags: []string{"filesystem"}, Annotations: map[string]any{"readOnlyHint": true}},
		{Name: "delete-file", Tags: []string{"filesystem"}, Annotations: map[string]any{"destructiveHint": true}},
		{Name: "shell", Annotations: map[string]any{"category": "exec"}},
		{Name: "web-search"},
	}
}

func TestEvaluate(t *testing.T) {
	spec := &schema.PolicySpec{Rules: []schema.PolicyRule{
		{ID: "audit-all", Action: schema.ActionAuditOnly, Scope: schema.ScopeAll},
		{ID: "no-destructive", Action: schema.ActionDeny, Scope: schema.ScopeAll,
			Match:  &schema.RuleMatch{Annotations: map[string]any{"destructiveHint": true}},
			Reason: "Destructive tools are blocked"},
		{ID: "approve-exec", Action: schema.ActionRequireApproval, Scope: schema.ScopeCategory,
			Match: &schema.RuleMatch{Category: "exec"}, Approval: &schema.RuleApproval{TimeoutSeconds: 5}},
		{ID: "deny-named", Action: schema.ActionDeny, Scope: schema.ScopeTool,
			Match: &schema.RuleMatch{Tool: "destructive-tool"}},
		{ID: "fs-ok", Action: schema.ActionAllow, Scope: schema.ScopeCategory,
			Match: &schema.RuleMatch{Category: "filesystem"}},
	}}
	e, err := New([]*schema.PolicySpec{spec}, WithTools(descriptors()...))
	require.NoError(t, err)

	tests := []struct {
		name    string
		tool    string
		allowed bool
		message string
	}{
		{name: "annotation match denies", tool: "delete-file", message: "Destructive tools are blocked"},
		{name: "named tool denied without metadata", tool: "destructive-tool"},
		{name: "category allow", tool: "read-file", allowed: true},
		{name: "approval rules pass the policy gate", tool: "shell", allowed: true},
		{name: "no rule matches", tool: "web-search", allowed: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := e.Evaluate(tt.tool, map[string]any{})
			assert.Equal(t, tt.allowed, r.Allowed)
			assert.Equal(t, tt.message, r.Message)
		})
	}

	assert.True(t, e.Required("shell"))
	assert.Equal(t, 5*time.Second, e.Timeout("shell"))
	assert.False(t, e.Required("read-file"))
	assert.Equal(t, DefaultApprovalTimeout, e.Timeout("read-file"))
}

func TestDefaultDeny(t *testing.T) {
	spec := &schema.PolicySpec{Rules: []schema.PolicyRule{
		{ID: "allow-search", Action: schema.ActionAllow, Scope: schema.ScopeTool, Match: &schema.RuleMatch{Tool: "web-search"}},
	}}
	e, err := New([]*schema.PolicySpec{spec}, WithDefaultDeny("not allowlisted"))
	require.NoError(t, err)

	assert.True(t, e.Evaluate("web-search", nil).Allowed)
	r := e.Evaluate("shell", nil)
	assert.False(t, r.Allowed)
	assert.Equal(t, "not allowlisted", r.Message)
}

func TestCELConditions(t *testing.T) {
	spec := &schema.PolicySpec{Rules: []schema.PolicyRule{
		{ID: "guest-readonly", Action: schema.ActionDeny, Scope: schema.ScopeAll,
			Reason: "Guests may only use read-only tools",
			Conditions: map[string]any{
				"when": `context.identity == "guest" && !(has(annotations.readOnlyHint) && annotations.readOnlyHint == true)`,
			}},
		{ID: "fs-tag", Action: schema.ActionDeny, Scope: schema.ScopeAll,
			Conditions: map[string]any{"when": `"filesystem" in tags && tool.startsWith("delete")`}},
	}}
	e, err := New([]*schema.PolicySpec{spec}, WithTools(descriptors()...))
	require.NoError(t, err)

	assert.False(t, e.Evaluate("web-search", map[string]any{"identity": "guest"}).Allowed)
	assert.True(t, e.Evaluate("read-file", map[string]any{"identity": "guest"}).Allowed)
	assert.True(t, e.Evaluate("web-search", map[string]any{"identity": "admin"}).Allowed)
	assert.False(t, e.Evaluate("delete-file", map[string]any{"identity": "admin"}).Allowed)

	// A missing context key makes the condition fail to evaluate, which
	// does not match.
	assert.True(t, e.Evaluate("web-search", map[string]any{}).Allowed)
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name    string
		rule    schema.PolicyRule
		wantErr string
	}{
		{name: "bad action", rule: schema.PolicyRule{ID: "r", Action: "block", Scope: schema.ScopeAll}, wantErr: `unknown action "block"`},
		{name: "bad scope", rule: schema.PolicyRule{ID: "r", Action: schema.ActionDeny, Scope: "global"}, wantErr: `unknown scope "global"`},
		{name: "syntax", rule: schema.PolicyRule{ID: "r", Action: schema.ActionDeny, Scope: schema.ScopeAll,
			Conditions: map[string]any{"when": "tool =="}}, wantErr: "invalid condition"},
		{name: "not bool", rule: schema.PolicyRule{ID: "r", Action: schema.ActionDeny, Scope: schema.ScopeAll,
			Conditions: map[string]any{"when": "tool + \"x\""}}, wantErr: "must be a bool expression"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New([]*schema.PolicySpec{{Rules: []schema.PolicyRule{tt.rule}}})
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestAuditOnlyLogs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	spec := &schema.PolicySpec{Rules: []schema.PolicyRule{
		{ID: "audit", Action: schema.ActionAuditOnly, Scope: schema.ScopeTool, Match: &schema.RuleMatch{Tool: "shell"}},
	}}
	e, err := New([]*schema.PolicySpec{spec}, WithLogger(logger))
	require.NoError(t, err)

	assert.True(t, e.Evaluate("shell", nil).Allowed)
	assert.True(t, strings.Contains(buf.String(), "rule=audit"))
}

func TestGatePipelineIntegration(t *testing.T) {
	spec := &schema.PolicySpec{Rules: []schema.PolicyRule{
		{ID: "deny", Action: schema.ActionDeny, Scope: schema.ScopeTool, Match: &schema.RuleMatch{Tool: "destructive-tool"}},
	}}
	e, err := New([]*schema.PolicySpec{spec})
	require.NoError(t, err)

	var _ tool.PolicyEvaluator = e
	var _ tool.ApprovalPolicy = e
}
