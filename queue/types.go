package queue

import (
	"fmt"
	"time"
)

// Task is a unit of work delegated to a swarm.
type Task struct {
	// TaskID identifies the task across delegate and report.
	TaskID string `json:"task_id"`

	// Swarm is the swarm the task was delegated to.
	Swarm string `json:"swarm"`

	Description string         `json:"description"`
	Input       map[string]any `json:"input,omitempty"`

	// RequestID correlates the task with the delegating request.
	RequestID string `json:"request_id,omitempty"`

	// From is the identity of the delegating agent.
	From string `json:"from,omitempty"`

	// SubmittedAt is the Unix timestamp in milliseconds when the task was
	// pushed.
	SubmittedAt int64 `json:"submitted_at"`
}

// Report is a peer's status update for a task.
type Report struct {
	TaskID string         `json:"task_id"`
	Status string         `json:"status"`
	Result map[string]any `json:"result,omitempty"`

	// Peer is the identity of the reporting peer.
	Peer string `json:"peer,omitempty"`

	// ReportedAt is the Unix timestamp in milliseconds.
	ReportedAt int64 `json:"reported_at"`
}

// Message is a broadcast to every member of a swarm.
type Message struct {
	ID     string         `json:"id"`
	Swarm  string         `json:"swarm"`
	From   string         `json:"from,omitempty"`
	Body   map[string]any `json:"body"`
	SentAt int64          `json:"sent_at"`
}

// IsValid checks that the task can be delegated.
func (t *Task) IsValid() error {
	if t.TaskID == "" {
		return fmt.Errorf("task_id is required")
	}
	if t.Swarm == "" {
		return fmt.Errorf("swarm is required")
	}
	if t.Description == "" {
		return fmt.Errorf("description is required")
	}
	if t.SubmittedAt <= 0 {
		return fmt.Errorf("submitted_at must be positive, got %d", t.SubmittedAt)
	}
	return nil
}

// Age returns how long ago the task was submitted, relative to now.
func (t *Task) Age(now time.Time) time.Duration {
	if t.SubmittedAt <= 0 {
		return 0
	}
	return time.Duration(now.UnixMilli()-t.SubmittedAt) * time.Millisecond
}

// IsValid checks that the report names a task and a status.
func (r *Report) IsValid() error {
	if r.TaskID == "" {
		return fmt.Errorf("task_id is required")
	}
	if r.Status == "" {
		return fmt.Errorf("status is required")
	}
	return nil
}

// Terminal reports whether the status ends the task.
func (r *Report) Terminal() bool {
	switch r.Status {
	case "completed", "failed", "canceled", "rejected":
		return true
	}
	return false
}

func tasksKey(swarm string) string     { return "ckp:swarm:" + swarm + ":tasks" }
func reportsKey(swarm string) string   { return "ckp:swarm:" + swarm + ":reports" }
func broadcastKey(swarm string) string { return "ckp:swarm:" + swarm + ":broadcast" }
func healthKey(peer string) string     { return "ckp:peer:" + peer + ":health" }
func inflightKey(peer string) string   { return "ckp:peer:" + peer + ":inflight" }
