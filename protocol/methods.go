package protocol

import "strings"

// Lifecycle methods.
const (
	MethodInitialize  = "claw.initialize"
	MethodInitialized = "claw.initialized"
	MethodStatus      = "claw.status"
	MethodShutdown    = "claw.shutdown"
	MethodHeartbeat   = "claw.heartbeat"
)

// Tool methods (level-2).
const (
	MethodToolCall    = "claw.tool.call"
	MethodToolApprove = "claw.tool.approve"
	MethodToolDeny    = "claw.tool.deny"
)

// Memory methods (level-3).
const (
	MethodMemoryStore   = "claw.memory.store"
	MethodMemoryQuery   = "claw.memory.query"
	MethodMemoryCompact = "claw.memory.compact"
)

// Swarm methods (level-3).
const (
	MethodSwarmDelegate  = "claw.swarm.delegate"
	MethodSwarmDiscover  = "claw.swarm.discover"
	MethodSwarmReport    = "claw.swarm.report"
	MethodSwarmBroadcast = "claw.swarm.broadcast"
)

// Task methods (A2A interop layer).
const (
	MethodTaskCreate    = "claw.task.create"
	MethodTaskGet       = "claw.task.get"
	MethodTaskList      = "claw.task.list"
	MethodTaskCancel    = "claw.task.cancel"
	MethodTaskSubscribe = "claw.task.subscribe"
)

var capabilityPrefixes = []string{"claw.tool.", "claw.memory.", "claw.swarm.", "claw.task."}

// IsCapabilityMethod reports whether method belongs to one of the optional
// capability groups rather than the lifecycle.
func IsCapabilityMethod(method string) bool {
	for _, prefix := range capabilityPrefixes {
		if strings.HasPrefix(method, prefix) {
			return true
		}
	}
	return false
}
