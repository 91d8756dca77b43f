package memory

import (
	"encoding/json"
	"fmt"
	"time"
)

// QueryType selects how a query matches entries.
type QueryType string

// Query types.
const (
	QuerySemantic  QueryType = "semantic"
	QueryKey       QueryType = "key"
	QueryTimeRange QueryType = "time-range"
)

// Valid reports whether t is a known query type.
func (t QueryType) Valid() bool {
	switch t {
	case QuerySemantic, QueryKey, QueryTimeRange:
		return true
	}
	return false
}

// Entry is one item submitted to claw.memory.store. Content is either a
// string or a JSON object.
type Entry struct {
	Content  any            `json:"content"`
	Key      string         `json:"key,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// TimeRange bounds a time-range query. Both ends are RFC 3339 timestamps.
type TimeRange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Bounds parses the range. An empty end is unbounded.
func (r TimeRange) Bounds() (from, to time.Time, err error) {
	if r.From != "" {
		if from, err = time.Parse(time.RFC3339Nano, r.From); err != nil {
			return from, to, fmt.Errorf("invalid from: %w", err)
		}
	}
	if r.To != "" {
		if to, err = time.Parse(time.RFC3339Nano, r.To); err != nil {
			return from, to, fmt.Errorf("invalid to: %w", err)
		}
	}
	return from, to, nil
}

// Query is the query object of claw.memory.query.
type Query struct {
	Type      QueryType  `json:"type"`
	Text      string     `json:"text,omitempty"`
	Key       string     `json:"key,omitempty"`
	TimeRange *TimeRange `json:"time_range,omitempty"`
	TopK      int        `json:"top_k,omitempty"`
}

// QueryEntry is one query match.
type QueryEntry struct {
	ID        string  `json:"id"`
	Content   any     `json:"content"`
	Score     float64 `json:"score,omitempty"`
	Timestamp string  `json:"timestamp,omitempty"`
}

// StoreResult is the result of claw.memory.store.
type StoreResult struct {
	Stored int      `json:"stored"`
	IDs    []string `json:"ids"`
}

// QueryResult is the result of claw.memory.query.
type QueryResult struct {
	Entries []QueryEntry `json:"entries"`
}

// CompactResult is the result of claw.memory.compact.
type CompactResult struct {
	EntriesBefore int `json:"entries_before"`
	EntriesAfter  int `json:"entries_after"`
}

// record is the stored form of an entry, shared by every backend.
type record struct {
	ID        string         `json:"id"`
	Key       string         `json:"key,omitempty"`
	Content   any            `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

func (r record) text() string {
	if s, ok := r.Content.(string); ok {
		return s
	}
	data, err := json.Marshal(r.Content)
	if err != nil {
		return ""
	}
	return string(data)
}
