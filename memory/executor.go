package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/angelgalvisc/clawkernel/protocol"
)

// Executor adapts a Handler to the claw.memory.* methods.
type Executor struct {
	handler Handler
}

// NewExecutor returns an Executor serving h.
func NewExecutor(h Handler) *Executor {
	return &Executor{handler: h}
}

// Methods returns the protocol handlers keyed by method name.
func (e *Executor) Methods() map[string]protocol.Handler {
	return map[string]protocol.Handler{
		protocol.MethodMemoryStore:   e.handleStore,
		protocol.MethodMemoryQuery:   e.handleQuery,
		protocol.MethodMemoryCompact: e.handleCompact,
	}
}

type storeParams struct {
	Store   string          `json:"store"`
	Entries json.RawMessage `json:"entries"`
}

type queryParams struct {
	Store string          `json:"store"`
	Query json.RawMessage `json:"query"`
}

type compactParams struct {
	Store string `json:"store"`
}

func (e *Executor) handleStore(ctx context.Context, req *protocol.Request) (any, error) {
	var p storeParams
	if err := protocol.DecodeParams(req.Params, &p); err != nil {
		return nil, err
	}
	if p.Store == "" {
		return nil, protocol.InvalidParams("Missing store name")
	}
	entries, err := decodeEntries(p.Entries)
	if err != nil {
		return nil, err
	}
	return protocol.Guard("Memory store", func() (*StoreResult, error) {
		return e.handler.Store(ctx, p.Store, entries)
	})
}

func (e *Executor) handleQuery(ctx context.Context, req *protocol.Request) (any, error) {
	var p queryParams
	if err := protocol.DecodeParams(req.Params, &p); err != nil {
		return nil, err
	}
	if p.Store == "" {
		return nil, protocol.InvalidParams("Missing store name")
	}
	q, err := decodeQuery(p.Query)
	if err != nil {
		return nil, err
	}
	return protocol.Guard("Memory query", func() (*QueryResult, error) {
		return e.handler.Query(ctx, p.Store, q)
	})
}

func (e *Executor) handleCompact(ctx context.Context, req *protocol.Request) (any, error) {
	var p compactParams
	if err := protocol.DecodeParams(req.Params, &p); err != nil {
		return nil, err
	}
	if p.Store == "" {
		return nil, protocol.InvalidParams("Missing store name")
	}
	return protocol.Guard("Memory compact", func() (*CompactResult, error) {
		return e.handler.Compact(ctx, p.Store)
	})
}

func decodeEntries(raw json.RawMessage) ([]Entry, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '[' {
		return nil, protocol.InvalidParams("Missing or invalid entries")
	}
	var entries []Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, protocol.InvalidParams("Missing or invalid entries")
	}
	for i, entry := range entries {
		switch entry.Content.(type) {
		case string, map[string]any:
		default:
			return nil, protocol.InvalidParams(fmt.Sprintf("Invalid entries[%d].content: expected string or object", i))
		}
	}
	return entries, nil
}

func decodeQuery(raw json.RawMessage) (Query, error) {
	var q Query
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return q, protocol.InvalidParams("Missing query")
	}
	if err := json.Unmarshal(raw, &q); err != nil {
		return q, protocol.InvalidParams("Invalid query: " + err.Error())
	}
	if !q.Type.Valid() {
		return q, protocol.InvalidParams(fmt.Sprintf("Invalid query.type %q: expected semantic, key or time-range", q.Type))
	}
	switch q.Type {
	case QueryKey:
		if q.Key == "" {
			return q, protocol.InvalidParams("Missing query.key")
		}
	case QueryTimeRange:
		if q.TimeRange == nil {
			return q, protocol.InvalidParams("Missing query.time_range")
		}
		if _, _, err := q.TimeRange.Bounds(); err != nil {
			return q, protocol.InvalidParams("Invalid query.time_range: " + err.Error())
		}
	}
	return q, nil
}
