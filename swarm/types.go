package swarm

import (
	"context"

	"github.com/angelgalvisc/clawkernel/registry"
)

// Task is the work description of claw.swarm.delegate.
type Task struct {
	Description string         `json:"description"`
	Input       map[string]any `json:"input,omitempty"`
}

// Context carries the delegation context. Both fields may be empty.
type Context struct {
	RequestID string `json:"request_id"`
	Swarm     string `json:"swarm"`
}

// Peer is one entry of claw.swarm.discover.
type Peer struct {
	Identity string `json:"identity"`
	URI      string `json:"uri"`
	Status   string `json:"status"`
}

// Ack is the result of delegate and report.
type Ack struct {
	Acknowledged bool `json:"acknowledged"`
}

// DiscoverResult is the result of claw.swarm.discover.
type DiscoverResult struct {
	Peers []Peer `json:"peers"`
}

// Handler serves the swarm capability. Implementations must be safe for
// concurrent use.
type Handler interface {
	Delegate(ctx context.Context, taskID string, task Task, sc Context) (*Ack, error)
	Discover(ctx context.Context, swarm string) (*DiscoverResult, error)
	Report(ctx context.Context, taskID, status string, result map[string]any) (*Ack, error)

	// Broadcast delivers a message to every member of swarm. Its error is
	// never sent to the caller.
	Broadcast(ctx context.Context, swarm string, message map[string]any) error
}

// StaticHandler acknowledges delegations and reports and discovers a fixed
// set of peers.
type StaticHandler struct {
	Peers []Peer
}

// DefaultPeers is the single local peer used by reference agents.
var DefaultPeers = []Peer{{
	Identity: "peer-1",
	URI:      "claw://local/identity/peer-1",
	Status:   registry.StatusReady,
}}

// Delegate implements Handler.
func (h StaticHandler) Delegate(context.Context, string, Task, Context) (*Ack, error) {
	return &Ack{Acknowledged: true}, nil
}

// Discover implements Handler.
func (h StaticHandler) Discover(context.Context, string) (*DiscoverResult, error) {
	peers := make([]Peer, len(h.Peers))
	copy(peers, h.Peers)
	return &DiscoverResult{Peers: peers}, nil
}

// Report implements Handler.
func (h StaticHandler) Report(context.Context, string, string, map[string]any) (*Ack, error) {
	return &Ack{Acknowledged: true}, nil
}

// Broadcast implements Handler.
func (h StaticHandler) Broadcast(context.Context, string, map[string]any) error {
	return nil
}
