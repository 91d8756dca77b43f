package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces the Redis lists of a RedisStore.
const DefaultKeyPrefix = "ckp:memory:"

// RedisStore is a Handler that keeps each named store in a Redis list,
// oldest entry first.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	opts   options
}

// NewRedisStore wraps an existing Redis client. The caller owns the client.
func NewRedisStore(client redis.UniversalClient, opts ...Option) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: DefaultKeyPrefix,
		opts:   newOptions(opts),
	}
}

// WithPrefix overrides DefaultKeyPrefix.
func (s *RedisStore) WithPrefix(prefix string) *RedisStore {
	s.prefix = prefix
	return s
}

func (s *RedisStore) key(store string) string {
	return s.prefix + store
}

// Store implements Handler.
func (s *RedisStore) Store(ctx context.Context, store string, entries []Entry) (*StoreResult, error) {
	if err := s.opts.check(store); err != nil {
		return nil, err
	}
	now := s.opts.clock.Now().UTC()
	ids := make([]string, 0, len(entries))
	values := make([]any, 0, len(entries))
	for _, e := range entries {
		rec := record{
			ID:        s.opts.newID(),
			Key:       e.Key,
			Content:   e.Content,
			Metadata:  e.Metadata,
			Timestamp: now,
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal entry: %w", err)
		}
		ids = append(ids, rec.ID)
		values = append(values, data)
	}
	if len(values) > 0 {
		if err := s.client.RPush(ctx, s.key(store), values...).Err(); err != nil {
			return nil, fmt.Errorf("failed to append to %s: %w", store, err)
		}
	}
	return &StoreResult{Stored: len(entries), IDs: ids}, nil
}

// Query implements Handler.
func (s *RedisStore) Query(ctx context.Context, store string, q Query) (*QueryResult, error) {
	if err := s.opts.check(store); err != nil {
		return nil, err
	}
	records, err := s.load(ctx, s.client, store)
	if err != nil {
		return nil, err
	}
	entries, err := search(records, q)
	if err != nil {
		return nil, err
	}
	return &QueryResult{Entries: entries}, nil
}

// Compact implements Handler. The list is rewritten in a WATCH transaction
// so entries stored concurrently are never lost.
func (s *RedisStore) Compact(ctx context.Context, store string) (*CompactResult, error) {
	if err := s.opts.check(store); err != nil {
		return nil, err
	}
	key := s.key(store)
	var result CompactResult

	txf := func(tx *redis.Tx) error {
		records, err := s.load(ctx, tx, store)
		if err != nil {
			return err
		}
		kept := compact(records, s.opts.retentionFor(store), s.opts.clock.Now())
		result = CompactResult{EntriesBefore: len(records), EntriesAfter: len(kept)}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			if len(kept) == 0 {
				return nil
			}
			values := make([]any, 0, len(kept))
			for _, rec := range kept {
				data, err := json.Marshal(rec)
				if err != nil {
					return fmt.Errorf("failed to marshal entry: %w", err)
				}
				values = append(values, data)
			}
			pipe.RPush(ctx, key, values...)
			return nil
		})
		return err
	}

	const maxRetries = 5
	for i := 0; i < maxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			s.opts.logger.Debug("memory store compacted", "store", store,
				"before", result.EntriesBefore, "after", result.EntriesAfter)
			return &result, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return nil, fmt.Errorf("failed to compact %s: %w", store, err)
		}
	}
	return nil, fmt.Errorf("failed to compact %s: too much concurrent activity", store)
}

type listReader interface {
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
}

func (s *RedisStore) load(ctx context.Context, c listReader, store string) ([]record, error) {
	raw, err := c.LRange(ctx, s.key(store), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", store, err)
	}
	records := make([]record, 0, len(raw))
	for _, item := range raw {
		var rec record
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			s.opts.logger.Warn("skipping malformed memory entry", "store", store, "error", err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}
