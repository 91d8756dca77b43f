package tool

import (
	"context"
	"time"

	"github.com/angelgalvisc/clawkernel/protocol"
	"github.com/angelgalvisc/clawkernel/schema"
)

// DefaultTimeout bounds a tool execution when the tool declares none.
const DefaultTimeout = 30 * time.Second

// Tool is an executable capability reachable through claw.tool.call.
type Tool interface {
	// Name returns the unique identifier the tool is called by.
	Name() string

	// Version returns the semantic version of this tool.
	Version() string

	// Description returns a human-readable description of what this tool does.
	Description() string

	// Tags returns labels for categorizing the tool. Policy rules with
	// category scope match against them.
	Tags() []string

	// InputSchema describes the accepted arguments. A zero schema accepts
	// anything.
	InputSchema() schema.JSON

	// Annotations returns behavioural hints such as readOnlyHint or
	// destructiveHint.
	Annotations() map[string]any

	// Timeout returns the execution budget. Zero means DefaultTimeout.
	Timeout() time.Duration

	// Execute runs the tool. The context is canceled once the call is
	// answered, including when the timeout fires first.
	Execute(ctx context.Context, args map[string]any) (*Result, error)
}

// Result is the claw.tool.call result envelope.
type Result struct {
	Content []protocol.ContentBlock `json:"content"`
	IsError bool                    `json:"isError,omitempty"`
}

// TextResult returns a successful result holding one text block.
func TextResult(text string) *Result {
	return &Result{Content: []protocol.ContentBlock{protocol.TextContent(text)}}
}

// ErrorResult reports a tool failure inside a successful response.
func ErrorResult(err error) *Result {
	return &Result{
		Content: []protocol.ContentBlock{protocol.TextContent("Error: " + err.Error())},
		IsError: true,
	}
}
