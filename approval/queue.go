// Package approval tracks tool calls that are waiting for an operator
// decision.
//
// A waiter registers under a request ID and blocks until the operator
// approves it, denies it, or the approval window closes. Exactly one of the
// three outcomes resolves an entry. Approve and Deny on IDs that are not
// pending are accepted as no-ops, since operators may answer before the call
// reaches the gate or after the window has closed.
//
// Registering a second waiter under an ID that is still pending replaces the
// first (last writer wins). The replaced waiter is released with a denial
// whose reason is ReasonSuperseded.
package approval

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/angelgalvisc/clawkernel/clock"
)

// Sentinel outcomes of Wait.
var (
	ErrTimeout = errors.New("approval: timed out")
	ErrDenied  = errors.New("approval: denied")
)

// ReasonSuperseded is the denial reason given to a waiter replaced by a newer
// request for the same ID.
const ReasonSuperseded = "superseded"

// DeniedError carries the operator's denial reason. It matches ErrDenied.
type DeniedError struct {
	RequestID string
	Reason    string
}

func (e *DeniedError) Error() string {
	if e.Reason == "" {
		return "approval: request " + e.RequestID + " denied"
	}
	return "approval: request " + e.RequestID + " denied: " + e.Reason
}

func (e *DeniedError) Unwrap() error { return ErrDenied }

// Option configures a Queue.
type Option func(*Queue)

// WithClock sets the time source for approval windows.
func WithClock(c clock.Clock) Option {
	return func(q *Queue) { q.clock = c }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) { q.logger = logger }
}

// Queue is the set of pending approvals. The zero value is not usable; call
// NewQueue.
type Queue struct {
	clock  clock.Clock
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]*entry
}

type entry struct {
	// done receives the single resolution. Buffered so the resolver never
	// blocks on a waiter that has already given up.
	done chan error
}

// NewQueue creates an empty Queue.
func NewQueue(opts ...Option) *Queue {
	q := &Queue{
		clock:   clock.Real(),
		logger:  slog.Default(),
		pending: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Wait blocks until requestID is approved (nil), denied (*DeniedError),
// times out (ErrTimeout) or ctx ends (ctx.Err()). A non-positive timeout
// times out immediately without registering.
func (q *Queue) Wait(ctx context.Context, requestID string, timeout time.Duration) error {
	if timeout <= 0 {
		return ErrTimeout
	}

	e := &entry{done: make(chan error, 1)}

	q.mu.Lock()
	if prev, ok := q.pending[requestID]; ok {
		prev.done <- &DeniedError{RequestID: requestID, Reason: ReasonSuperseded}
		q.logger.Warn("approval request superseded", "request_id", requestID)
	}
	q.pending[requestID] = e
	q.mu.Unlock()

	timer := q.clock.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-e.done:
		return err
	case <-timer.C:
		return q.abandon(requestID, e, ErrTimeout)
	case <-ctx.Done():
		return q.abandon(requestID, e, ctx.Err())
	}
}

// abandon removes e if it is still the current entry and returns reason. If
// a resolver won the race, its outcome is returned instead.
func (q *Queue) abandon(requestID string, e *entry, reason error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending[requestID] == e {
		delete(q.pending, requestID)
		return reason
	}
	return <-e.done
}

// Approve releases the waiter for requestID. It reports whether a waiter was
// pending.
func (q *Queue) Approve(requestID string) bool {
	return q.resolve(requestID, nil)
}

// Deny releases the waiter for requestID with a denial. It reports whether a
// waiter was pending.
func (q *Queue) Deny(requestID, reason string) bool {
	return q.resolve(requestID, &DeniedError{RequestID: requestID, Reason: reason})
}

func (q *Queue) resolve(requestID string, outcome error) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.pending[requestID]
	if !ok {
		q.logger.Debug("approval decision for unknown request", "request_id", requestID)
		return false
	}
	delete(q.pending, requestID)
	e.done <- outcome
	return true
}

// Pending returns the number of outstanding approvals.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
