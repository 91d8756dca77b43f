package agent

// State is the coarse lifecycle state of an Agent.
type State string

const (
	StateInit     State = "INIT"
	StateStarting State = "STARTING"
	StateReady    State = "READY"
	StateStopping State = "STOPPING"
	StateStopped  State = "STOPPED"
	StateError    State = "ERROR"
)

var edges = map[State]State{
	StateInit:     StateStarting,
	StateStarting: StateReady,
	StateReady:    StateStopping,
	StateStopping: StateStopped,
}

// CanTransition reports whether the lifecycle allows moving from s to next.
// ERROR is reachable from every state except STOPPED and ERROR.
func (s State) CanTransition(next State) bool {
	if next == StateError {
		return !s.Terminal()
	}
	return edges[s] == next
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateError
}

// acceptsCapabilities reports whether capability methods may run in s.
func (s State) acceptsCapabilities() bool {
	return s == StateStarting || s == StateReady
}

// ConformanceLevel is the CKP level an agent reports at initialize.
type ConformanceLevel string

const (
	Level1 ConformanceLevel = "level-1"
	Level2 ConformanceLevel = "level-2"
	Level3 ConformanceLevel = "level-3"
)
