// Package swarm implements the CKP swarm capability: claw.swarm.delegate,
// claw.swarm.discover, claw.swarm.report and the claw.swarm.broadcast
// notification.
//
// Executor validates parameters and calls a Handler. Handlers provided here:
//
//   - StaticHandler acknowledges every delegation and reports a fixed peer
//     list. It suits single-agent deployments and conformance runs.
//   - Coordinator delegates through a Redis task list (package queue) and
//     discovers peers through a Registry (package registry).
//
// Worker is the other half of Coordinator: it registers the agent as a peer,
// pops delegated tasks, runs them and publishes reports.
package swarm
