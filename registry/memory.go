package registry

import (
	"context"
	"sync"
)

// Memory is an in-process Registry.
type Memory struct {
	namespace string

	mu       sync.Mutex
	peers    map[string]Peer
	watchers map[chan struct{}]struct{}
	closed   bool
}

// NewMemory returns an empty Memory registry pre-populated with peers.
func NewMemory(peers ...Peer) *Memory {
	m := &Memory{
		namespace: "ckp",
		peers:     make(map[string]Peer),
		watchers:  make(map[chan struct{}]struct{}),
	}
	for _, p := range peers {
		m.peers[peerKey(m.namespace, p)] = p
	}
	return m
}

// Register implements Registry.
func (m *Memory) Register(_ context.Context, peer Peer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.peers[peerKey(m.namespace, peer)] = peer
	m.notifyLocked()
	return nil
}

// Deregister implements Registry.
func (m *Memory) Deregister(_ context.Context, peer Peer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	key := peerKey(m.namespace, peer)
	if _, ok := m.peers[key]; ok {
		delete(m.peers, key)
		m.notifyLocked()
	}
	return nil
}

// Discover implements Registry.
func (m *Memory) Discover(_ context.Context, swarm string) ([]Peer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	return m.discoverLocked(swarm), nil
}

func (m *Memory) discoverLocked(swarm string) []Peer {
	peers := make([]Peer, 0, len(m.peers))
	for _, p := range m.peers {
		if swarm == "" || p.Swarm == swarm {
			peers = append(peers, p)
		}
	}
	sortPeers(peers)
	return peers
}

// Watch implements Registry.
func (m *Memory) Watch(ctx context.Context, swarm string) (<-chan []Peer, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	changed := make(chan struct{}, 1)
	m.watchers[changed] = struct{}{}
	initial := m.discoverLocked(swarm)
	m.mu.Unlock()

	out := make(chan []Peer, 1)
	out <- initial

	go func() {
		defer close(out)
		defer func() {
			m.mu.Lock()
			delete(m.watchers, changed)
			m.mu.Unlock()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-changed:
				if !ok {
					return
				}
				m.mu.Lock()
				peers := m.discoverLocked(swarm)
				m.mu.Unlock()
				select {
				case out <- peers:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close implements Registry.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for ch := range m.watchers {
		close(ch)
	}
	m.watchers = nil
	m.peers = make(map[string]Peer)
	return nil
}

func (m *Memory) notifyLocked() {
	for ch := range m.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
