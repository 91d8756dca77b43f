package memory

import (
	"context"
	"sync"
)

// InMemoryStore is a Handler backed by process memory.
type InMemoryStore struct {
	opts options

	mu     sync.RWMutex
	stores map[string][]record
}

// NewInMemoryStore creates an empty InMemoryStore.
func NewInMemoryStore(opts ...Option) *InMemoryStore {
	return &InMemoryStore{
		opts:   newOptions(opts),
		stores: make(map[string][]record),
	}
}

// Store implements Handler.
func (s *InMemoryStore) Store(_ context.Context, store string, entries []Entry) (*StoreResult, error) {
	if err := s.opts.check(store); err != nil {
		return nil, err
	}
	now := s.opts.clock.Now().UTC()
	ids := make([]string, 0, len(entries))

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		id := s.opts.newID()
		ids = append(ids, id)
		s.stores[store] = append(s.stores[store], record{
			ID:        id,
			Key:       e.Key,
			Content:   e.Content,
			Metadata:  e.Metadata,
			Timestamp: now,
		})
	}
	return &StoreResult{Stored: len(entries), IDs: ids}, nil
}

// Query implements Handler.
func (s *InMemoryStore) Query(_ context.Context, store string, q Query) (*QueryResult, error) {
	if err := s.opts.check(store); err != nil {
		return nil, err
	}
	s.mu.RLock()
	records := s.stores[store]
	s.mu.RUnlock()

	entries, err := search(records, q)
	if err != nil {
		return nil, err
	}
	return &QueryResult{Entries: entries}, nil
}

// Compact implements Handler.
func (s *InMemoryStore) Compact(_ context.Context, store string) (*CompactResult, error) {
	if err := s.opts.check(store); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	before := s.stores[store]
	after := compact(before, s.opts.retentionFor(store), s.opts.clock.Now())
	if len(after) > 0 {
		s.stores[store] = after
	} else {
		delete(s.stores, store)
	}
	s.opts.logger.Debug("memory store compacted", "store", store, "before", len(before), "after", len(after))
	return &CompactResult{EntriesBefore: len(before), EntriesAfter: len(after)}, nil
}

// Len returns the number of entries in store.
func (s *InMemoryStore) Len(store string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.stores[store])
}
