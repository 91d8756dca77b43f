// Package clawkernel is a Go runtime for agents that speak the Claw Kernel
// Protocol (CKP), a JSON-RPC 2.0 dialect exchanged as newline-delimited
// frames over stdio.
//
// The root package holds no code. The runtime is split into packages:
//
//   - protocol: JSON-RPC envelopes, method names and CKP error codes
//   - transport: the line-delimited frame reader and writer
//   - agent: the lifecycle state machine, dispatcher, heartbeat and drain
//   - tool: tool definitions and the gated call pipeline
//   - policy, sandbox, quota, approval: the gates a tool call passes through
//   - memory, swarm, task: the L3 and A2A capability executors
//   - a2a: projections between CKP and Agent-to-Agent cards and messages
//   - schema: the Claw manifest and its primitive documents
//   - telemetry: the non-blocking event emitter and its sinks
//   - config, serve, health: process configuration, the run loop and probes
//
// # Conformance Levels
//
// An agent's level follows from the capabilities it is built with:
//
//   - L1: lifecycle only (initialize, status, heartbeat, shutdown)
//   - L2: L1 plus tools and their gates
//   - L3: L2 plus memory and swarm
//
// # Getting Started
//
// Build an agent, then run it on a transport:
//
//	echo := tool.Must(tool.New(tool.NewConfig().
//		SetName("echo").
//		SetDescription("Echoes its input").
//		SetExecuteFunc(func(ctx context.Context, args map[string]any) (*tool.Result, error) {
//			text, _ := args["text"].(string)
//			return tool.TextResult(text), nil
//		})))
//
//	a, err := agent.New(agent.Info{Name: "demo", Version: "0.1.0"},
//		agent.WithTools(echo),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := a.Run(ctx, transport.Stdio()); err != nil {
//		log.Fatal(err)
//	}
//
// The ckp-agent command under cmd/ wires the same packages from a YAML
// config file and a Claw manifest.
package clawkernel
