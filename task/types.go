package task

import (
	"context"

	"github.com/angelgalvisc/clawkernel/protocol"
)

// State is the lifecycle state of a task record.
type State string

const (
	StateSubmitted     State = "submitted"
	StateWorking       State = "working"
	StateInputRequired State = "input_required"
	StateAuthRequired  State = "auth_required"
	StateCompleted     State = "completed"
	StateFailed        State = "failed"
	StateCanceled      State = "canceled"
	StateRejected      State = "rejected"
)

// States lists every recognised state.
var States = []State{
	StateSubmitted,
	StateWorking,
	StateInputRequired,
	StateAuthRequired,
	StateCompleted,
	StateFailed,
	StateCanceled,
	StateRejected,
}

// Valid reports whether s is a recognised state.
func (s State) Valid() bool {
	for _, known := range States {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are expected from s.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCanceled, StateRejected:
		return true
	}
	return false
}

// Message is one conversational turn attached to a task.
type Message struct {
	Role     string                  `json:"role"`
	Content  []protocol.ContentBlock `json:"content"`
	Metadata map[string]any          `json:"metadata,omitempty"`
}

// Artifact is an output produced while working a task.
type Artifact struct {
	ArtifactID string                  `json:"artifact_id,omitempty"`
	Name       string                  `json:"name,omitempty"`
	Content    []protocol.ContentBlock `json:"content"`
	Metadata   map[string]any          `json:"metadata,omitempty"`
}

// Record is the stored view of a task.
type Record struct {
	TaskID    string         `json:"task_id"`
	State     State          `json:"state"`
	Messages  []Message      `json:"messages,omitempty"`
	Artifacts []Artifact     `json:"artifacts,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// CreateParams carries a validated claw.task.create request. At least one of
// Message or Messages is set.
type CreateParams struct {
	TaskID   string         `json:"task_id,omitempty"`
	Message  *Message       `json:"message,omitempty"`
	Messages []Message      `json:"messages,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ListFilter narrows claw.task.list. Zero values mean no constraint.
type ListFilter struct {
	State  State  `json:"state,omitempty"`
	Cursor string `json:"cursor,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// SubscribeResult answers claw.task.subscribe.
type SubscribeResult struct {
	TaskID     string `json:"task_id"`
	Subscribed bool   `json:"subscribed"`
	State      State  `json:"state,omitempty"`
}

// Handler owns task records. Get and Cancel return a nil record for an
// unknown task id.
type Handler interface {
	Create(ctx context.Context, params CreateParams) (*Record, error)
	Get(ctx context.Context, taskID string) (*Record, error)
	List(ctx context.Context, filter ListFilter) ([]Record, error)
	Cancel(ctx context.Context, taskID, reason string) (*Record, error)
	Subscribe(ctx context.Context, taskID string) (*SubscribeResult, error)
}
