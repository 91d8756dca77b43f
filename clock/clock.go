// Package clock abstracts the time operations used by the runtime so that
// uptime, heartbeats, approval windows and tool timeouts can be driven
// deterministically in tests.
package clock

import "time"

// Clock is the time source. Production code uses Real(); tests use Fake().
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// NewTimer returns a Timer that delivers on C once d elapses.
	NewTimer(d time.Duration) *Timer

	// AfterFunc calls f in its own goroutine (real) or synchronously
	// during Advance (fake) once d elapses. The returned Timer has a nil C.
	AfterFunc(d time.Duration, f func()) *Timer

	// NewTicker returns a Ticker firing every d. Panics if d <= 0.
	NewTicker(d time.Duration) *Ticker
}

// Timer is a one-shot event.
type Timer struct {
	C <-chan time.Time

	stop func() bool
}

// Stop prevents the Timer from firing. It reports whether the call stopped
// the timer, false if it had already fired or been stopped.
func (t *Timer) Stop() bool { return t.stop() }

// Ticker delivers periodic ticks on C. Ticks are dropped when the reader
// falls behind.
type Ticker struct {
	C <-chan time.Time

	stop func()
}

// Stop turns the ticker off. C is not closed.
func (t *Ticker) Stop() { t.stop() }

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTimer(d time.Duration) *Timer {
	t := time.NewTimer(d)
	return &Timer{C: t.C, stop: t.Stop}
}

func (realClock) AfterFunc(d time.Duration, f func()) *Timer {
	t := time.AfterFunc(d, f)
	return &Timer{stop: t.Stop}
}

func (realClock) NewTicker(d time.Duration) *Ticker {
	t := time.NewTicker(d)
	return &Ticker{C: t.C, stop: t.Stop}
}
