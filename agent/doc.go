// Package agent is the CKP protocol runtime: the lifecycle state machine and
// the method dispatcher that gates every frame on the current state before
// routing it to a lifecycle handler or a capability executor.
//
// An Agent is built once from options. Which capability groups are supplied
// fixes both the registered methods and the conformance level reported at
// initialize:
//
//	a, err := agent.New(agent.Info{Name: "demo", Version: "1.0.0"},
//		agent.WithTools(echo),
//		agent.WithPolicy(rules),
//	)
//	if err != nil {
//		return err
//	}
//	return a.Run(ctx, transport.Stdio())
//
// Every message is handled on its own goroutine, so a tool waiting for
// approval never blocks intake. Responses are written in completion order.
package agent
