// Package tool defines tools, the gates that guard them and the pipeline
// that runs claw.tool.call.
//
// # Tools
//
// Tools are built with the fluent Config:
//
//	echo, err := tool.New(tool.NewConfig().
//		SetName("echo").
//		SetDescription("Echo the input message").
//		SetInputSchema(schema.Object(map[string]schema.JSON{
//			"message": schema.String(),
//		}, "message")).
//		SetTimeout(5 * time.Second).
//		SetExecuteFunc(func(ctx context.Context, args map[string]any) (*tool.Result, error) {
//			return tool.TextResult(args["message"].(string)), nil
//		}))
//
// A tool that returns an error or panics does not fail the request. The
// failure is reported as a Result with IsError set and a single text block
// starting with "Error: ".
//
// # Pipeline
//
// A call passes the gates in a fixed order:
//
//  1. quota (PROVIDER_QUOTA_EXCEEDED)
//  2. policy (POLICY_DENIED)
//  3. sandbox (SANDBOX_DENIED)
//  4. tool lookup (INVALID_PARAMS "Unknown tool: <name>")
//  5. approval, when the ApprovalPolicy requires it (APPROVAL_TIMEOUT or
//     APPROVAL_DENIED)
//  6. execution raced against the tool timeout (TOOL_EXECUTION_TIMEOUT)
//
// The gates run before the lookup, so a denied name is reported as denied
// even when no such tool exists. The approval wait and the execution
// timeout are separate budgets.
package tool
