package queue

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultHealthTTL is how long a heartbeat keeps a peer alive.
const DefaultHealthTTL = 30 * time.Second

const popPollInterval = time.Second

// Client defines the interface for swarm coordination over Redis.
type Client interface {
	// Push adds a task to the end of a swarm's task list (LPUSH).
	Push(ctx context.Context, swarm string, task Task) error

	// Pop removes and returns the oldest task of a swarm (BRPOP).
	// Blocks until a task is available or ctx is canceled.
	Pop(ctx context.Context, swarm string) (*Task, error)

	// Pending returns the number of tasks waiting in a swarm's list.
	Pending(ctx context.Context, swarm string) (int64, error)

	// PublishReport sends a task report to the swarm's report channel.
	PublishReport(ctx context.Context, swarm string, report Report) error

	// SubscribeReports streams reports until ctx is canceled.
	SubscribeReports(ctx context.Context, swarm string) (<-chan Report, error)

	// Broadcast sends a message to the swarm's broadcast channel.
	Broadcast(ctx context.Context, swarm string, msg Message) error

	// SubscribeBroadcasts streams broadcast messages until ctx is canceled.
	SubscribeBroadcasts(ctx context.Context, swarm string) (<-chan Message, error)

	// Heartbeat refreshes the peer's health key.
	Heartbeat(ctx context.Context, peer string) error

	// Alive reports whether the peer's health key exists.
	Alive(ctx context.Context, peer string) (bool, error)

	// InFlight returns the number of tasks the peer is working on.
	InFlight(ctx context.Context, peer string) (int, error)

	// Acquire and Release track the peer's in-flight tasks.
	Acquire(ctx context.Context, peer string) error
	Release(ctx context.Context, peer string) error

	// Close closes the Redis connection.
	Close() error
}

// RedisOptions configures the Redis connection.
type RedisOptions struct {
	// URL is the Redis connection string (e.g., "redis://localhost:6379")
	URL string

	// TLS configuration for secure connections
	TLS *tls.Config

	// ConnectTimeout is the maximum time to wait for connection establishment
	ConnectTimeout time.Duration

	// ReadTimeout is the maximum time to wait for read operations
	ReadTimeout time.Duration

	// WriteTimeout is the maximum time to wait for write operations
	WriteTimeout time.Duration

	// HealthTTL overrides DefaultHealthTTL.
	HealthTTL time.Duration

	Logger *slog.Logger
}

// RedisClient implements the Client interface using go-redis/v9.
type RedisClient struct {
	client    *redis.Client
	healthTTL time.Duration
	logger    *slog.Logger
}

// NewRedisClient creates a new Redis queue client with the given options.
func NewRedisClient(opts RedisOptions) (*RedisClient, error) {
	if opts.URL == "" {
		opts.URL = "redis://localhost:6379"
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 30 * time.Second
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if opts.HealthTTL == 0 {
		opts.HealthTTL = DefaultHealthTTL
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	redisOpts.TLSConfig = opts.TLS
	redisOpts.DialTimeout = opts.ConnectTimeout
	redisOpts.ReadTimeout = opts.ReadTimeout
	redisOpts.WriteTimeout = opts.WriteTimeout

	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), opts.ConnectTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisClient{client: client, healthTTL: opts.HealthTTL, logger: opts.Logger}, nil
}

// Redis exposes the underlying client so other stores can share the
// connection pool.
func (c *RedisClient) Redis() *redis.Client {
	return c.client
}

// Push adds a task to the end of a swarm's task list.
func (c *RedisClient) Push(ctx context.Context, swarm string, task Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	if err := c.client.LPush(ctx, tasksKey(swarm), data).Err(); err != nil {
		return fmt.Errorf("failed to push to swarm %s: %w", swarm, err)
	}
	return nil
}

// Pop removes and returns the oldest task of a swarm. BRPOP is issued with
// a short server-side timeout so a canceled ctx without a deadline is
// noticed between polls.
func (c *RedisClient) Pop(ctx context.Context, swarm string) (*Task, error) {
	var result []string
	for {
		var err error
		// BRPOP returns [key, value]
		result, err = c.client.BRPop(ctx, popPollInterval, tasksKey(swarm)).Result()
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("failed to pop from swarm %s: %w", swarm, err)
		}
	}

	if len(result) != 2 {
		return nil, fmt.Errorf("unexpected BRPOP result length: %d", len(result))
	}

	var task Task
	if err := json.Unmarshal([]byte(result[1]), &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}
	return &task, nil
}

// Pending returns the number of tasks waiting in a swarm's list.
func (c *RedisClient) Pending(ctx context.Context, swarm string) (int64, error) {
	n, err := c.client.LLen(ctx, tasksKey(swarm)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read swarm %s length: %w", swarm, err)
	}
	return n, nil
}

// PublishReport sends a task report to the swarm's report channel.
func (c *RedisClient) PublishReport(ctx context.Context, swarm string, report Report) error {
	return c.publish(ctx, reportsKey(swarm), report)
}

// SubscribeReports streams reports until ctx is canceled.
func (c *RedisClient) SubscribeReports(ctx context.Context, swarm string) (<-chan Report, error) {
	return subscribe[Report](ctx, c, reportsKey(swarm))
}

// Broadcast sends a message to the swarm's broadcast channel.
func (c *RedisClient) Broadcast(ctx context.Context, swarm string, msg Message) error {
	return c.publish(ctx, broadcastKey(swarm), msg)
}

// SubscribeBroadcasts streams broadcast messages until ctx is canceled.
func (c *RedisClient) SubscribeBroadcasts(ctx context.Context, swarm string) (<-chan Message, error) {
	return subscribe[Message](ctx, c, broadcastKey(swarm))
}

func (c *RedisClient) publish(ctx context.Context, channel string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := c.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to channel %s: %w", channel, err)
	}
	return nil
}

func subscribe[T any](ctx context.Context, c *RedisClient, channel string) (<-chan T, error) {
	pubsub := c.client.Subscribe(ctx, channel)

	// Wait for subscription confirmation
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to channel %s: %w", channel, err)
	}

	out := make(chan T)

	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var v T
				if err := json.Unmarshal([]byte(msg.Payload), &v); err != nil {
					c.logger.Debug("dropping malformed message", "channel", channel, "error", err)
					continue
				}

				select {
				case out <- v:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Heartbeat refreshes the peer's health key.
func (c *RedisClient) Heartbeat(ctx context.Context, peer string) error {
	if err := c.client.Set(ctx, healthKey(peer), "ok", c.healthTTL).Err(); err != nil {
		return fmt.Errorf("failed to set heartbeat for peer %s: %w", peer, err)
	}
	return nil
}

// Alive reports whether the peer's health key exists.
func (c *RedisClient) Alive(ctx context.Context, peer string) (bool, error) {
	n, err := c.client.Exists(ctx, healthKey(peer)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check health of peer %s: %w", peer, err)
	}
	return n == 1, nil
}

// InFlight returns the number of tasks the peer is working on.
func (c *RedisClient) InFlight(ctx context.Context, peer string) (int, error) {
	countStr, err := c.client.Get(ctx, inflightKey(peer)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get in-flight count for peer %s: %w", peer, err)
	}

	count, err := strconv.Atoi(countStr)
	if err != nil {
		return 0, fmt.Errorf("invalid in-flight count value: %w", err)
	}
	return count, nil
}

// Acquire increments the peer's in-flight count.
func (c *RedisClient) Acquire(ctx context.Context, peer string) error {
	if err := c.client.Incr(ctx, inflightKey(peer)).Err(); err != nil {
		return fmt.Errorf("failed to increment in-flight count for peer %s: %w", peer, err)
	}
	return nil
}

// Release decrements the peer's in-flight count.
func (c *RedisClient) Release(ctx context.Context, peer string) error {
	if err := c.client.Decr(ctx, inflightKey(peer)).Err(); err != nil {
		return fmt.Errorf("failed to decrement in-flight count for peer %s: %w", peer, err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *RedisClient) Close() error {
	return c.client.Close()
}
