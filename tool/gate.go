package tool

import (
	"time"
)

// GateResult is the verdict of a policy, sandbox or quota gate. Code and
// Message are optional and only meaningful when Allowed is false.
type GateResult struct {
	Allowed bool
	Code    int
	Message string
}

// Allow is the passing verdict.
func Allow() GateResult {
	return GateResult{Allowed: true}
}

// Deny is a failing verdict with an optional message.
func Deny(message string) GateResult {
	return GateResult{Message: message}
}

// PolicyEvaluator decides whether a tool may be called in the given call
// context.
type PolicyEvaluator interface {
	Evaluate(tool string, callCtx map[string]any) GateResult
}

// SandboxChecker decides whether the arguments of a call stay within the
// sandbox.
type SandboxChecker interface {
	Check(tool string, args map[string]any) GateResult
}

// QuotaChecker decides whether the caller still has budget for a call.
type QuotaChecker interface {
	Check(tool string) GateResult
}

// ApprovalPolicy decides which tools need an operator decision and how long
// to wait for it.
type ApprovalPolicy interface {
	Required(tool string) bool
	Timeout(tool string) time.Duration
}

// PolicyFunc adapts a function to a PolicyEvaluator.
type PolicyFunc func(tool string, callCtx map[string]any) GateResult

// Evaluate calls f.
func (f PolicyFunc) Evaluate(tool string, callCtx map[string]any) GateResult { return f(tool, callCtx) }

// SandboxFunc adapts a function to a SandboxChecker.
type SandboxFunc func(tool string, args map[string]any) GateResult

// Check calls f.
func (f SandboxFunc) Check(tool string, args map[string]any) GateResult { return f(tool, args) }

// QuotaFunc adapts a function to a QuotaChecker.
type QuotaFunc func(tool string) GateResult

// Check calls f.
func (f QuotaFunc) Check(tool string) GateResult { return f(tool) }

// RequireApproval returns an ApprovalPolicy that gates the named tools with
// the same window.
func RequireApproval(window time.Duration, tools ...string) ApprovalPolicy {
	set := make(map[string]bool, len(tools))
	for _, name := range tools {
		set[name] = true
	}
	return staticApproval{tools: set, window: window}
}

type staticApproval struct {
	tools  map[string]bool
	window time.Duration
}

func (a staticApproval) Required(tool string) bool { return a.tools[tool] }
func (a staticApproval) Timeout(string) time.Duration { return a.window }
