package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/angelgalvisc/clawkernel/schema"
)

// DefaultTopK caps semantic query results when the query sets no top_k.
const DefaultTopK = 10

// DefaultKeepLast is the number of entries compaction keeps when no
// retention is configured for a store.
const DefaultKeepLast = 100

var (
	// ErrUnknownStore is returned when a store name is not among the
	// configured stores.
	ErrUnknownStore = errors.New("unknown memory store")

	// ErrInvalidQuery is returned for a query the store cannot run.
	ErrInvalidQuery = errors.New("invalid memory query")
)

// Handler serves the memory capability. Implementations must be safe for
// concurrent use.
type Handler interface {
	Store(ctx context.Context, store string, entries []Entry) (*StoreResult, error)
	Query(ctx context.Context, store string, q Query) (*QueryResult, error)
	Compact(ctx context.Context, store string) (*CompactResult, error)
}

// Retention bounds what compaction keeps in one store.
type Retention struct {
	// MaxEntries keeps only the newest entries. Zero means DefaultKeepLast.
	MaxEntries int

	// MaxAge drops entries older than this. Zero keeps entries of any age.
	MaxAge time.Duration
}

// RetentionFromSpec reads the per-store retention of a Memory primitive.
// Ages accept Go durations plus a day suffix, e.g. "30d".
func RetentionFromSpec(spec *schema.MemorySpec) (map[string]Retention, error) {
	out := make(map[string]Retention)
	if spec == nil {
		return out, nil
	}
	for _, s := range spec.Stores {
		var r Retention
		if s.Retention != nil {
			r.MaxEntries = s.Retention.MaxEntries
			if s.Retention.MaxAge != "" {
				age, err := parseAge(s.Retention.MaxAge)
				if err != nil {
					return nil, fmt.Errorf("store %s: invalid max_age %q: %w", s.Name, s.Retention.MaxAge, err)
				}
				r.MaxAge = age
			}
		}
		out[s.Name] = r
	}
	return out, nil
}

func parseAge(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

// compact applies retention to records ordered oldest first.
func compact(records []record, r Retention, now time.Time) []record {
	if r.MaxAge > 0 {
		cutoff := now.Add(-r.MaxAge)
		kept := records[:0:0]
		for _, rec := range records {
			if !rec.Timestamp.Before(cutoff) {
				kept = append(kept, rec)
			}
		}
		records = kept
	}
	limit := r.MaxEntries
	if limit <= 0 {
		limit = DefaultKeepLast
	}
	if len(records) > limit {
		records = records[len(records)-limit:]
	}
	return records
}

// search runs q over records ordered oldest first.
func search(records []record, q Query) ([]QueryEntry, error) {
	var matches []QueryEntry
	switch q.Type {
	case QueryKey:
		for _, rec := range records {
			if rec.Key == q.Key {
				matches = append(matches, toQueryEntry(rec, 1))
			}
		}
	case QueryTimeRange:
		var tr TimeRange
		if q.TimeRange != nil {
			tr = *q.TimeRange
		}
		from, to, err := tr.Bounds()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
		}
		for _, rec := range records {
			if !from.IsZero() && rec.Timestamp.Before(from) {
				continue
			}
			if !to.IsZero() && rec.Timestamp.After(to) {
				continue
			}
			matches = append(matches, toQueryEntry(rec, 1))
		}
	case QuerySemantic:
		terms := tokenize(q.Text)
		for _, rec := range records {
			matches = append(matches, toQueryEntry(rec, overlap(terms, rec.text())))
		}
		// Newest first among equal scores.
		for i, j := 0, len(matches)-1; i < j; i, j = i+1, j-1 {
			matches[i], matches[j] = matches[j], matches[i]
		}
		sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	default:
		return nil, fmt.Errorf("%w: unsupported type %q", ErrInvalidQuery, q.Type)
	}

	limit := q.TopK
	if limit <= 0 && q.Type == QuerySemantic {
		limit = DefaultTopK
	}
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	if matches == nil {
		matches = []QueryEntry{}
	}
	return matches, nil
}

func toQueryEntry(rec record, score float64) QueryEntry {
	return QueryEntry{
		ID:        rec.ID,
		Content:   rec.Content,
		Score:     score,
		Timestamp: rec.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	seen := make(map[string]bool, len(fields))
	out := fields[:0]
	for _, f := range fields {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}

// overlap is the share of terms found in text. An empty term list matches
// everything equally.
func overlap(terms []string, text string) float64 {
	if len(terms) == 0 {
		return 1
	}
	words := make(map[string]bool)
	for _, w := range tokenize(text) {
		words[w] = true
	}
	hits := 0
	for _, t := range terms {
		if words[t] {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}
