package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineRunDeliversFrames(t *testing.T) {
	in := strings.NewReader("{\"a\":1}\n\n   \n{\"b\":2}\r\n")
	var out bytes.Buffer
	l := NewLine(in, &out)

	var frames []string
	err := l.Run(context.Background(), func(frame []byte) {
		frames = append(frames, string(frame))
	})
	require.NoError(t, err)
	assert.Equal(t, []string{`{"a":1}`, `{"b":2}`}, frames)
}

func TestLineSendWritesOneLinePerMessage(t *testing.T) {
	var out bytes.Buffer
	l := NewLine(strings.NewReader(""), &out)

	require.NoError(t, l.Send(map[string]any{"jsonrpc": "2.0", "id": 1, "result": map[string]any{}}))
	require.NoError(t, l.Send(map[string]any{"jsonrpc": "2.0", "method": "claw.heartbeat"}))

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	for _, line := range lines {
		assert.True(t, json.Valid([]byte(line)))
	}
}

func TestLineSendConcurrent(t *testing.T) {
	var out bytes.Buffer
	l := NewLine(strings.NewReader(""), &out)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = l.Send(map[string]int{"n": i})
		}(i)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	assert.Len(t, lines, 50)
	for _, line := range lines {
		assert.True(t, json.Valid([]byte(line)), line)
	}
}

func TestLineClose(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	var out bytes.Buffer
	l := NewLine(pr, &out)

	done := make(chan error, 1)
	go func() { done <- l.Run(context.Background(), func([]byte) {}) }()

	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Close")
	}

	assert.ErrorIs(t, l.Send(map[string]any{}), ErrClosed)
}

func TestLineContextCancel(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	l := NewLine(pr, io.Discard)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- l.Run(ctx, func([]byte) {}) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestLineFrameTooLarge(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "valid frame after oversize line",
			input: strings.Repeat("x", 250) + "\n" + `{"ok":true}` + "\n",
			want:  []string{`{"ok":true}`},
		},
		{
			name:  "oversize line at EOF",
			input: `{"a":1}` + "\n" + strings.Repeat("y", 250),
			want:  []string{`{"a":1}`},
		},
		{
			name:  "line exactly at the limit",
			input: strings.Repeat("z", 100) + "\n",
			want:  []string{strings.Repeat("z", 100)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			l := NewLine(strings.NewReader(tt.input), &out, WithMaxFrameSize(100))

			var frames []string
			err := l.Run(context.Background(), func(frame []byte) {
				frames = append(frames, string(frame))
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, frames)
		})
	}
}

func TestLineOversizeFrameAnswersParseError(t *testing.T) {
	var out bytes.Buffer
	in := strings.Repeat("x", 64) + "\n" + `{"jsonrpc":"2.0","id":1,"method":"claw.status"}` + "\n"
	l := NewLine(strings.NewReader(in), &out, WithMaxFrameSize(48))

	var frames int
	require.NoError(t, l.Run(context.Background(), func([]byte) { frames++ }))
	assert.Equal(t, 1, frames)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	assert.Nil(t, resp["id"])
	assert.Contains(t, resp, "id")
	assert.Equal(t, -32700.0, resp["error"].(map[string]any)["code"])
}
