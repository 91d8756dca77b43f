package task

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/angelgalvisc/clawkernel/clock"
)

// ErrNotFound is returned by Store.Transition for an unknown task id.
var ErrNotFound = errors.New("task not found")

// DefaultReason is recorded when a task is canceled without a reason.
const DefaultReason = "unspecified"

// MessageDecoder turns a metadata member into an extra task message. It
// reports false when the value is not a message it understands.
type MessageDecoder func(v any) (Message, bool)

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock sets the time source for created_at and canceled_at.
func WithClock(c clock.Clock) StoreOption {
	return func(s *Store) { s.clock = c }
}

// WithIDGenerator replaces the sequential task-0001 style ids.
func WithIDGenerator(fn func() string) StoreOption {
	return func(s *Store) { s.newID = fn }
}

// WithMetadataMessage appends the message decoded from metadata[key] to
// every created task that carries one.
func WithMetadataMessage(key string, decode MessageDecoder) StoreOption {
	return func(s *Store) {
		s.decodeKey = key
		s.decode = decode
	}
}

// Store is an in-process Handler. List returns records in creation order.
type Store struct {
	mu      sync.RWMutex
	records map[string]*Record
	order   []string
	seq     int

	clock     clock.Clock
	newID     func() string
	decodeKey string
	decode    MessageDecoder
}

var _ Handler = (*Store)(nil)

// NewStore returns an empty Store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		records: make(map[string]*Record),
		clock:   clock.Real(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) nextID() string {
	if s.newID != nil {
		return s.newID()
	}
	s.seq++
	return fmt.Sprintf("task-%04d", s.seq)
}

func (s *Store) timestamp() string {
	return s.clock.Now().UTC().Format(time.RFC3339Nano)
}

// Create records a submitted task holding the first message of params. A
// caller-supplied task id replaces any existing record with that id.
func (s *Store) Create(_ context.Context, params CreateParams) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := params.TaskID
	if id == "" {
		id = s.nextID()
	}
	rec := &Record{
		TaskID:   id,
		State:    StateSubmitted,
		Messages: []Message{},
		Metadata: map[string]any{"created_at": s.timestamp()},
	}
	switch {
	case params.Message != nil:
		rec.Messages = append(rec.Messages, *params.Message)
	case len(params.Messages) > 0:
		rec.Messages = append(rec.Messages, params.Messages[0])
	}
	maps.Copy(rec.Metadata, params.Metadata)

	if s.decode != nil {
		if v, ok := params.Metadata[s.decodeKey]; ok {
			if msg, ok := s.decode(v); ok {
				rec.Messages = append(rec.Messages, msg)
			}
		}
	}

	if _, exists := s.records[id]; !exists {
		s.order = append(s.order, id)
	}
	s.records[id] = rec
	return rec.clone(), nil
}

// Get returns the record or nil when id is unknown.
func (s *Store) Get(_ context.Context, taskID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rec, ok := s.records[taskID]; ok {
		return rec.clone(), nil
	}
	return nil, nil
}

// List returns records matching filter. Cursor is a task id; listing resumes
// after it.
func (s *Store) List(_ context.Context, filter ListFilter) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.order
	if filter.Cursor != "" {
		for i, id := range ids {
			if id == filter.Cursor {
				ids = ids[i+1:]
				break
			}
		}
	}

	out := []Record{}
	for _, id := range ids {
		rec := s.records[id]
		if filter.State != "" && rec.State != filter.State {
			continue
		}
		out = append(out, *rec.clone())
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

// Cancel moves the task to canceled and records why and when. It returns
// nil when id is unknown.
func (s *Store) Cancel(_ context.Context, taskID, reason string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[taskID]
	if !ok {
		return nil, nil
	}
	if reason == "" {
		reason = DefaultReason
	}
	rec.State = StateCanceled
	if rec.Metadata == nil {
		rec.Metadata = make(map[string]any)
	}
	rec.Metadata["canceled_reason"] = reason
	rec.Metadata["canceled_at"] = s.timestamp()
	return rec.clone(), nil
}

// Subscribe reports whether the task exists and, if so, its current state.
func (s *Store) Subscribe(_ context.Context, taskID string) (*SubscribeResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res := &SubscribeResult{TaskID: taskID}
	if rec, ok := s.records[taskID]; ok {
		res.Subscribed = true
		res.State = rec.State
	}
	return res, nil
}

// Transition sets the state of a task and appends any artifacts.
func (s *Store) Transition(taskID string, state State, artifacts ...Artifact) error {
	if !state.Valid() {
		return fmt.Errorf("invalid task state %q", state)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, taskID)
	}
	rec.State = state
	rec.Artifacts = append(rec.Artifacts, artifacts...)
	return nil
}

func (r *Record) clone() *Record {
	cp := *r
	cp.Messages = append([]Message(nil), r.Messages...)
	if cp.Messages == nil {
		cp.Messages = []Message{}
	}
	cp.Artifacts = append([]Artifact(nil), r.Artifacts...)
	cp.Metadata = maps.Clone(r.Metadata)
	return &cp
}
