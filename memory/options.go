package memory

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/angelgalvisc/clawkernel/clock"
)

// Option configures InMemoryStore and RedisStore.
type Option func(*options)

type options struct {
	clock     clock.Clock
	logger    *slog.Logger
	newID     func() string
	stores    map[string]bool
	retention map[string]Retention
	keepLast  int
}

func newOptions(opts []Option) options {
	o := options{
		clock:     clock.Real(),
		logger:    slog.Default(),
		newID:     uuid.NewString,
		retention: make(map[string]Retention),
		keepLast:  DefaultKeepLast,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithClock sets the time source used for entry timestamps and max-age
// retention.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithIDGenerator replaces the UUID generator for entry ids.
func WithIDGenerator(fn func() string) Option {
	return func(o *options) { o.newID = fn }
}

// WithStores restricts the store to the given names. Any other name fails
// with ErrUnknownStore. Without this option every name is accepted.
func WithStores(names ...string) Option {
	return func(o *options) {
		if o.stores == nil {
			o.stores = make(map[string]bool)
		}
		for _, n := range names {
			o.stores[n] = true
		}
	}
}

// WithRetention sets per-store retention, typically from RetentionFromSpec.
// The named stores are also registered as with WithStores.
func WithRetention(r map[string]Retention) Option {
	return func(o *options) {
		for name, ret := range r {
			o.retention[name] = ret
			WithStores(name)(o)
		}
	}
}

// WithKeepLast sets how many entries compaction keeps in stores without
// explicit retention.
func WithKeepLast(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.keepLast = n
		}
	}
}

func (o *options) check(store string) error {
	if o.stores != nil && !o.stores[store] {
		return fmt.Errorf("%w: %s", ErrUnknownStore, store)
	}
	return nil
}

func (o *options) retentionFor(store string) Retention {
	r, ok := o.retention[store]
	if !ok || r.MaxEntries <= 0 {
		r.MaxEntries = o.keepLast
	}
	return r
}
