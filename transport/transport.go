// Package transport moves CKP frames between the agent and its operator.
//
// The runtime never touches the underlying streams: it receives whole frames
// through the callback given to Run and writes structured messages with
// Send. Line is the newline-delimited implementation used over stdio.
package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/angelgalvisc/clawkernel/protocol"
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("transport: closed")

// DefaultMaxFrameSize bounds a single inbound frame.
const DefaultMaxFrameSize = 4 * 1024 * 1024

// Transport delivers inbound frames and sends outbound messages.
type Transport interface {
	// Run reads frames until the input ends, ctx is canceled or Close is
	// called. handle is invoked sequentially, once per non-empty frame, and
	// may retain the slice it receives.
	Run(ctx context.Context, handle func(frame []byte)) error

	// Send serializes msg as one frame. Safe for concurrent use.
	Send(msg any) error

	// Close stops Run and rejects further sends.
	Close() error
}

// Option configures a Line transport.
type Option func(*Line)

// WithMaxFrameSize overrides DefaultMaxFrameSize.
func WithMaxFrameSize(n int) Option {
	return func(l *Line) {
		if n > 0 {
			l.maxFrame = n
		}
	}
}

// WithLogger sets the logger used for read diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Line) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// Line is a newline-delimited JSON transport over a reader/writer pair.
type Line struct {
	in       io.Reader
	maxFrame int
	logger   *slog.Logger

	mu     sync.Mutex
	enc    *json.Encoder
	closed bool
	done   chan struct{}
}

// NewLine creates a Line transport reading frames from in and writing to out.
func NewLine(in io.Reader, out io.Writer, opts ...Option) *Line {
	l := &Line{
		in:       in,
		maxFrame: DefaultMaxFrameSize,
		logger:   slog.Default(),
		enc:      json.NewEncoder(out),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Stdio creates a Line transport over os.Stdin and os.Stdout.
func Stdio(opts ...Option) *Line {
	return NewLine(os.Stdin, os.Stdout, opts...)
}

// Run implements Transport. It returns nil when the input reaches EOF or the
// transport is closed, and ctx.Err() when ctx is canceled first. A line
// longer than the frame limit is discarded and answered with a parse error;
// reading continues with the next line.
func (l *Line) Run(ctx context.Context, handle func(frame []byte)) error {
	frames := make(chan []byte)
	readErr := make(chan error, 1)

	go func() {
		readErr <- l.read(ctx, frames)
	}()

	for {
		select {
		case frame := <-frames:
			handle(frame)
		case err := <-readErr:
			if err != nil {
				l.logger.Error("transport read failed", "error", err)
				return fmt.Errorf("reading frames: %w", err)
			}
			return nil
		case <-l.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// read feeds frames until EOF, a read error, Close or ctx cancellation.
func (l *Line) read(ctx context.Context, frames chan<- []byte) error {
	r := bufio.NewReaderSize(l.in, min(64*1024, l.maxFrame))
	for {
		line, oversize, err := l.readLine(r)
		if oversize {
			l.rejectOversize()
		} else if line = bytes.TrimSpace(line); len(line) > 0 {
			select {
			case frames <- line:
			case <-l.done:
				return nil
			case <-ctx.Done():
				return nil
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// readLine returns the next line. oversize reports a line longer than the
// frame limit; its bytes are consumed and dropped.
func (l *Line) readLine(r *bufio.Reader) (line []byte, oversize bool, err error) {
	for {
		var chunk []byte
		chunk, err = r.ReadSlice('\n')
		if !oversize {
			line = append(line, chunk...)
			n := len(line)
			if n > 0 && line[n-1] == '\n' {
				n--
			}
			if n > l.maxFrame {
				line, oversize = nil, true
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return line, oversize, err
	}
}

func (l *Line) rejectOversize() {
	l.logger.Warn("discarded oversize frame", "limit", l.maxFrame)
	if err := l.Send(protocol.NewErrorResponse(nil, protocol.ParseError())); err != nil {
		l.logger.Debug("failed to report oversize frame", "error", err)
	}
}

// Send implements Transport.
func (l *Line) Send(msg any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	if err := l.enc.Encode(msg); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// Close implements Transport. It is idempotent.
func (l *Line) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		close(l.done)
	}
	return nil
}
