// Package registry provides swarm peer registration and discovery.
//
// Each agent that joins a swarm registers a Peer under
// /<namespace>/<swarm>/<identity>/<instance-id>. The etcd-backed Client
// attaches the entry to a lease that is renewed every TTL/3, so a crashed
// agent disappears from discovery once its lease expires. Memory is an
// in-process implementation for single-process swarms and tests.
package registry

import (
	"context"
	"errors"
	"time"
)

// Peer statuses reported by claw.swarm.discover.
const (
	StatusReady       = "ready"
	StatusBusy        = "busy"
	StatusUnavailable = "unavailable"
)

// ErrClosed is returned by every method after Close.
var ErrClosed = errors.New("registry client is closed")

// Peer describes one registered swarm member.
type Peer struct {
	// Swarm is the swarm the peer belongs to.
	Swarm string `json:"swarm"`

	// Identity is the peer's identity name (e.g., "researcher").
	Identity string `json:"identity"`

	// InstanceID distinguishes processes sharing an identity.
	InstanceID string `json:"instance_id"`

	// URI is where the peer can be addressed, typically a claw:// identity
	// URI or a network endpoint.
	URI string `json:"uri"`

	// Status is one of the Status* constants.
	Status string `json:"status"`

	Metadata  map[string]string `json:"metadata,omitempty"`
	StartedAt time.Time         `json:"started_at"`
}

// Registry defines peer registration and discovery.
//
// Implementations must be safe for concurrent use.
type Registry interface {
	// Register adds or replaces a peer instance. The entry stays
	// discoverable until Deregister, Close or lease expiry.
	Register(ctx context.Context, peer Peer) error

	// Deregister removes a peer instance. Unknown instances are a no-op.
	Deregister(ctx context.Context, peer Peer) error

	// Discover lists the peers of a swarm, or of every swarm when swarm is
	// empty. The slice may be empty.
	Discover(ctx context.Context, swarm string) ([]Peer, error)

	// Watch sends the current peers of a swarm immediately and again after
	// every change. The channel closes when ctx ends or the registry is
	// closed.
	Watch(ctx context.Context, swarm string) (<-chan []Peer, error)

	// Close releases resources. Registered peers are removed.
	Close() error
}

// Config holds etcd connection configuration.
type Config struct {
	// Endpoints is the list of etcd endpoints, e.g. ["host1:2379"].
	Endpoints []string `json:"endpoints" yaml:"endpoints"`

	// Namespace prefixes every key. Default: "ckp".
	Namespace string `json:"namespace" yaml:"namespace"`

	// TTL is the lease time-to-live in seconds. Default: 30.
	TTL int `json:"ttl" yaml:"ttl"`

	// DialTimeout bounds the initial connection. Default: 5s.
	DialTimeout time.Duration `json:"dial_timeout" yaml:"dial_timeout"`

	// TLS enables mutual TLS when set and enabled.
	TLS *TLSConfig `json:"tls" yaml:"tls"`
}

// TLSConfig holds TLS certificate configuration for etcd.
type TLSConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	CertFile string `json:"cert_file" yaml:"cert_file"`
	KeyFile  string `json:"key_file" yaml:"key_file"`
	CAFile   string `json:"ca_file" yaml:"ca_file"`
}

func (c Config) withDefaults() Config {
	if c.Namespace == "" {
		c.Namespace = "ckp"
	}
	if c.TTL <= 0 {
		c.TTL = 30
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	return c
}
