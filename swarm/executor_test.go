package swarm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelgalvisc/clawkernel/protocol"
)

func call(t *testing.T, e *Executor, method, params string) (any, error) {
	t.Helper()
	h, ok := e.Methods()[method]
	require.True(t, ok, "method %s not registered", method)
	return h(context.Background(), &protocol.Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`"r1"`),
		Method:  method,
		Params:  json.RawMessage(params),
	})
}

func requireCode(t *testing.T, err error, code int, msg string) {
	t.Helper()
	var perr *protocol.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, code, perr.Code)
	assert.Equal(t, msg, perr.Message)
}

type recordingHandler struct {
	mu         sync.Mutex
	delegated  []Context
	reports    []map[string]any
	broadcasts []string
	err        error
}

func (h *recordingHandler) Delegate(_ context.Context, _ string, _ Task, sc Context) (*Ack, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.delegated = append(h.delegated, sc)
	return &Ack{Acknowledged: true}, h.err
}

func (h *recordingHandler) Discover(context.Context, string) (*DiscoverResult, error) {
	if h.err != nil {
		return nil, h.err
	}
	return &DiscoverResult{Peers: []Peer{}}, nil
}

func (h *recordingHandler) Report(_ context.Context, _, _ string, result map[string]any) (*Ack, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reports = append(h.reports, result)
	if h.err != nil {
		return nil, h.err
	}
	return &Ack{Acknowledged: true}, nil
}

func (h *recordingHandler) Broadcast(_ context.Context, swarm string, _ map[string]any) error {
	h.mu.Lock()
	h.broadcasts = append(h.broadcasts, swarm)
	h.mu.Unlock()
	if swarm == "panic" {
		panic("boom")
	}
	return h.err
}

func TestExecutorValidation(t *testing.T) {
	e := NewExecutor(StaticHandler{Peers: DefaultPeers}, nil)

	tests := []struct {
		name    string
		method  string
		params  string
		wantMsg string
	}{
		{"delegate without task_id", protocol.MethodSwarmDelegate, `{"task":{"description":"d"}}`, "Missing task_id"},
		{"delegate without task", protocol.MethodSwarmDelegate, `{"task_id":"t1"}`, "Missing task.description"},
		{"delegate with empty description", protocol.MethodSwarmDelegate, `{"task_id":"t1","task":{"input":{}}}`, "Missing task.description"},
		{"delegate with string task", protocol.MethodSwarmDelegate, `{"task_id":"t1","task":"do it"}`, "Invalid param task: expected object"},
		{"report without task_id", protocol.MethodSwarmReport, `{"status":"completed"}`, "Missing task_id"},
		{"report without status", protocol.MethodSwarmReport, `{"task_id":"t1"}`, "Missing status"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := call(t, e, tt.method, tt.params)
			requireCode(t, err, protocol.CodeInvalidParams, tt.wantMsg)
		})
	}
}

func TestExecutorStaticHandler(t *testing.T) {
	e := NewExecutor(StaticHandler{Peers: DefaultPeers}, nil)

	res, err := call(t, e, protocol.MethodSwarmDelegate, `{"task_id":"t1","task":{"description":"summarise"},"context":{"request_id":"r","swarm":"s"}}`)
	require.NoError(t, err)
	assert.Equal(t, &Ack{Acknowledged: true}, res)

	res, err = call(t, e, protocol.MethodSwarmDiscover, `{}`)
	require.NoError(t, err)
	data, err := json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, `{"peers":[{"identity":"peer-1","uri":"claw://local/identity/peer-1","status":"ready"}]}`, string(data))

	res, err = call(t, e, protocol.MethodSwarmReport, `{"task_id":"t1","status":"completed"}`)
	require.NoError(t, err)
	assert.Equal(t, &Ack{Acknowledged: true}, res)
}

func TestExecutorDefaults(t *testing.T) {
	h := &recordingHandler{}
	e := NewExecutor(h, nil)

	_, err := call(t, e, protocol.MethodSwarmDelegate, `{"task_id":"t1","task":{"description":"d"}}`)
	require.NoError(t, err)
	assert.Equal(t, []Context{{}}, h.delegated)

	_, err = call(t, e, protocol.MethodSwarmReport, `{"task_id":"t1","status":"working"}`)
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{}}, h.reports)
}

func TestExecutorHandlerErrors(t *testing.T) {
	e := NewExecutor(&recordingHandler{err: errors.New("redis down")}, nil)

	_, err := call(t, e, protocol.MethodSwarmDelegate, `{"task_id":"t1","task":{"description":"d"}}`)
	requireCode(t, err, protocol.CodeInternalError, "Swarm delegate error: redis down")

	_, err = call(t, e, protocol.MethodSwarmDiscover, `{"swarm":"s"}`)
	requireCode(t, err, protocol.CodeInternalError, "Swarm discover error: redis down")

	_, err = call(t, e, protocol.MethodSwarmReport, `{"task_id":"t1","status":"failed"}`)
	requireCode(t, err, protocol.CodeInternalError, "Swarm report error: redis down")
}

func TestExecutorBroadcastNeverAnswers(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	h := &recordingHandler{err: errors.New("redis down")}
	e := NewExecutor(h, logger)

	tests := []struct {
		name   string
		params string
	}{
		{"handler error", `{"swarm":"s","message":{"hello":"world"}}`},
		{"handler panic", `{"swarm":"panic","message":{}}`},
		{"bad params", `{"swarm":5}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := call(t, e, protocol.MethodSwarmBroadcast, tt.params)
			assert.Nil(t, res)
			assert.ErrorIs(t, err, protocol.ErrNoResponse)
		})
	}
	assert.Equal(t, []string{"s", "panic"}, h.broadcasts)
	assert.Contains(t, buf.String(), "swarm broadcast failed")
	assert.Contains(t, buf.String(), "swarm broadcast dropped")
}
