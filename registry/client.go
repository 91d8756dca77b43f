package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// EnvEndpoints names the environment variable read by NewClientFromEnv.
const EnvEndpoints = "CKP_REGISTRY_ENDPOINTS"

// Client implements Registry on etcd.
//
// Thread-safety: All methods are safe for concurrent use.
type Client struct {
	client    *clientv3.Client
	namespace string
	ttl       int
	logger    *slog.Logger

	mu         sync.RWMutex
	leases     map[string]clientv3.LeaseID // key: etcd key
	cancelFns  map[string]context.CancelFunc
	wg         sync.WaitGroup
	closed     bool
	closedChan chan struct{}
}

// NewClient connects to etcd and verifies connectivity.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("registry endpoints cannot be empty")
	}
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	clientCfg := clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
	}
	tlsConfig, err := clientTLS(cfg.TLS)
	if err != nil {
		return nil, fmt.Errorf("failed to configure TLS: %w", err)
	}
	clientCfg.TLS = tlsConfig

	cli, err := clientv3.New(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if _, err := cli.Get(ctx, "/"+cfg.Namespace+"/health-check"); err != nil {
		cli.Close()
		return nil, fmt.Errorf("etcd health check failed: %w", err)
	}

	return &Client{
		client:     cli,
		namespace:  cfg.Namespace,
		ttl:        cfg.TTL,
		logger:     logger,
		leases:     make(map[string]clientv3.LeaseID),
		cancelFns:  make(map[string]context.CancelFunc),
		closedChan: make(chan struct{}),
	}, nil
}

// NewClientFromEnv connects using the comma-separated endpoints in
// CKP_REGISTRY_ENDPOINTS. It returns (nil, nil) when the variable is unset
// so agents run without discovery.
func NewClientFromEnv(logger *slog.Logger) (*Client, error) {
	endpoints := ParseEndpoints(os.Getenv(EnvEndpoints))
	if len(endpoints) == 0 {
		return nil, nil
	}
	return NewClient(Config{Endpoints: endpoints}, logger)
}

// ParseEndpoints splits a comma-separated endpoint list, dropping blanks.
func ParseEndpoints(s string) []string {
	var out []string
	for _, ep := range strings.Split(s, ",") {
		if ep = strings.TrimSpace(ep); ep != "" {
			out = append(out, ep)
		}
	}
	return out
}

// Register implements Registry. The entry is attached to a fresh lease that
// a background goroutine renews every TTL/3.
func (c *Client) Register(ctx context.Context, peer Peer) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	key := peerKey(c.namespace, peer)
	if cancelFn, exists := c.cancelFns[key]; exists {
		cancelFn()
		delete(c.cancelFns, key)
	}

	leaseResp, err := c.client.Grant(ctx, int64(c.ttl))
	if err != nil {
		return fmt.Errorf("failed to create lease: %w", err)
	}

	data, err := json.Marshal(peer)
	if err != nil {
		return fmt.Errorf("failed to marshal peer: %w", err)
	}
	if _, err := c.client.Put(ctx, key, string(data), clientv3.WithLease(leaseResp.ID)); err != nil {
		return fmt.Errorf("failed to register peer: %w", err)
	}
	c.leases[key] = leaseResp.ID

	keepaliveCtx, cancel := context.WithCancel(context.Background())
	c.cancelFns[key] = cancel

	c.wg.Add(1)
	go c.keepalive(keepaliveCtx, leaseResp.ID, key)

	c.logger.Info("swarm peer registered", "swarm", peer.Swarm, "identity", peer.Identity, "instance_id", peer.InstanceID)
	return nil
}

// Deregister implements Registry by revoking the peer's lease.
func (c *Client) Deregister(ctx context.Context, peer Peer) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	key := peerKey(c.namespace, peer)
	if cancelFn, exists := c.cancelFns[key]; exists {
		cancelFn()
		delete(c.cancelFns, key)
	}

	leaseID, exists := c.leases[key]
	if !exists {
		return nil
	}
	if _, err := c.client.Revoke(ctx, leaseID); err != nil {
		return fmt.Errorf("failed to revoke lease: %w", err)
	}
	delete(c.leases, key)
	return nil
}

// Discover implements Registry.
func (c *Client) Discover(ctx context.Context, swarm string) ([]Peer, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, ErrClosed
	}
	return c.discover(ctx, swarm)
}

func (c *Client) discover(ctx context.Context, swarm string) ([]Peer, error) {
	resp, err := c.client.Get(ctx, swarmPrefix(c.namespace, swarm), clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to discover peers: %w", err)
	}

	values := make([][]byte, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		values = append(values, kv.Value)
	}
	return decodePeers(values, c.logger), nil
}

// Watch implements Registry.
func (c *Client) Watch(ctx context.Context, swarm string) (<-chan []Peer, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, ErrClosed
	}

	peers, err := c.discover(ctx, swarm)
	if err != nil {
		return nil, err
	}
	ch := make(chan []Peer, 1)
	ch <- peers

	watchChan := c.client.Watch(ctx, swarmPrefix(c.namespace, swarm), clientv3.WithPrefix())

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(ch)

		for {
			select {
			case <-ctx.Done():
				return
			case <-c.closedChan:
				return
			case watchResp, ok := <-watchChan:
				if !ok || watchResp.Err() != nil {
					return
				}

				peers, err := c.discover(ctx, swarm)
				if err != nil {
					c.logger.Debug("peer watch refresh failed", "swarm", swarm, "error", err)
					continue
				}

				select {
				case ch <- peers:
				case <-ctx.Done():
					return
				case <-c.closedChan:
					return
				}
			}
		}
	}()

	return ch, nil
}

// Close implements Registry. Leases are revoked so peers disappear at once.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true

	for _, cancel := range c.cancelFns {
		cancel()
	}
	c.cancelFns = make(map[string]context.CancelFunc)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for key, lease := range c.leases {
		if _, err := c.client.Revoke(ctx, lease); err != nil {
			c.logger.Debug("failed to revoke lease on close", "key", key, "error", err)
		}
	}
	c.leases = make(map[string]clientv3.LeaseID)

	close(c.closedChan)
	c.mu.Unlock()

	c.wg.Wait()
	return c.client.Close()
}

// keepalive renews the lease every TTL/3 until canceled or the lease is lost.
func (c *Client) keepalive(ctx context.Context, leaseID clientv3.LeaseID, key string) {
	defer c.wg.Done()

	ticker := time.NewTicker(time.Duration(c.ttl) * time.Second / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closedChan:
			return
		case <-ticker.C:
			if _, err := c.client.KeepAliveOnce(ctx, leaseID); err != nil {
				if ctx.Err() != nil {
					return
				}
				c.logger.Warn("swarm peer lease lost", "key", key, "error", err)
				c.mu.Lock()
				delete(c.leases, key)
				delete(c.cancelFns, key)
				c.mu.Unlock()
				return
			}
		}
	}
}

// peerKey builds /namespace/swarm/identity/instance-id.
func peerKey(namespace string, p Peer) string {
	return fmt.Sprintf("/%s/%s/%s/%s", namespace, p.Swarm, p.Identity, p.InstanceID)
}

// swarmPrefix is the key prefix of a swarm, or of all swarms when swarm is
// empty.
func swarmPrefix(namespace, swarm string) string {
	if swarm == "" {
		return "/" + namespace + "/"
	}
	return "/" + namespace + "/" + swarm + "/"
}

// decodePeers parses registry values, skipping malformed entries, and
// orders peers by swarm, identity and instance.
func decodePeers(values [][]byte, logger *slog.Logger) []Peer {
	peers := make([]Peer, 0, len(values))
	for _, v := range values {
		var p Peer
		if err := json.Unmarshal(v, &p); err != nil {
			logger.Debug("skipping malformed peer entry", "error", err)
			continue
		}
		peers = append(peers, p)
	}
	sortPeers(peers)
	return peers
}

func sortPeers(peers []Peer) {
	sort.Slice(peers, func(i, j int) bool {
		a, b := peers[i], peers[j]
		if a.Swarm != b.Swarm {
			return a.Swarm < b.Swarm
		}
		if a.Identity != b.Identity {
			return a.Identity < b.Identity
		}
		return a.InstanceID < b.InstanceID
	})
}
