package tool

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelgalvisc/clawkernel/clock"
	"github.com/angelgalvisc/clawkernel/protocol"
	"github.com/angelgalvisc/clawkernel/schema"
)

func echoTool(t *testing.T) Tool {
	t.Helper()
	tl, err := New(NewConfig().
		SetName("echo").
		SetDescription("Echo the message").
		SetInputSchema(schema.Object(map[string]schema.JSON{"message": schema.String()}, "message")).
		SetExecuteFunc(func(_ context.Context, args map[string]any) (*Result, error) {
			msg, _ := args["message"].(string)
			return TextResult(msg), nil
		}))
	require.NoError(t, err)
	return tl
}

func funcTool(t *testing.T, name string, timeout time.Duration, fn ExecuteFunc) Tool {
	t.Helper()
	tl, err := New(NewConfig().SetName(name).SetTimeout(timeout).SetExecuteFunc(fn))
	require.NoError(t, err)
	return tl
}

func codeOf(t *testing.T, err error) int {
	t.Helper()
	var perr *protocol.Error
	require.ErrorAs(t, err, &perr)
	return perr.Code
}

type callResult struct {
	res *Result
	err error
}

func callAsync(p *Pipeline, params CallParams, fallback string) <-chan callResult {
	ch := make(chan callResult, 1)
	go func() {
		res, err := p.Call(context.Background(), params, fallback)
		ch <- callResult{res, err}
	}()
	return ch
}

func await(t *testing.T, ch <-chan callResult) callResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("call did not complete")
		return callResult{}
	}
}

func TestPipelineExecutes(t *testing.T) {
	p, err := NewPipeline(WithTools(echoTool(t)))
	require.NoError(t, err)

	res, err := p.Call(context.Background(), CallParams{Name: "echo", Arguments: map[string]any{"message": "hi"}}, "1")
	require.NoError(t, err)
	assert.Equal(t, TextResult("hi"), res)

	data, err := json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, `{"content":[{"type":"text","text":"hi"}]}`, string(data))
}

func TestPipelineMissingName(t *testing.T) {
	p, err := NewPipeline()
	require.NoError(t, err)
	_, err = p.Call(context.Background(), CallParams{}, "1")
	assert.Equal(t, protocol.CodeInvalidParams, codeOf(t, err))
	assert.EqualError(t, err, protocol.InvalidParams("Missing tool name").Error())
}

func TestPipelineGateOrder(t *testing.T) {
	var calls []string
	quota := QuotaFunc(func(name string) GateResult {
		calls = append(calls, "quota")
		if name == "expensive" {
			return Deny("")
		}
		return Allow()
	})
	policy := PolicyFunc(func(name string, _ map[string]any) GateResult {
		calls = append(calls, "policy")
		if name == "dangerous" {
			return Deny("Destructive tools are blocked")
		}
		return Allow()
	})
	sandbox := SandboxFunc(func(_ string, args map[string]any) GateResult {
		calls = append(calls, "sandbox")
		if args["url"] == "http://169.254.169.254/" {
			return Deny("")
		}
		return Allow()
	})
	p, err := NewPipeline(WithTools(echoTool(t)), WithQuota(quota), WithPolicy(policy), WithSandbox(sandbox))
	require.NoError(t, err)

	tests := []struct {
		name      string
		params    CallParams
		wantCode  int
		wantMsg   string
		wantCalls []string
	}{
		{
			name:      "quota first",
			params:    CallParams{Name: "expensive"},
			wantCode:  protocol.CodeQuotaExceeded,
			wantMsg:   "Provider quota exceeded",
			wantCalls: []string{"quota"},
		},
		{
			name:      "policy before existence",
			params:    CallParams{Name: "dangerous"},
			wantCode:  protocol.CodePolicyDenied,
			wantMsg:   "Destructive tools are blocked",
			wantCalls: []string{"quota", "policy"},
		},
		{
			name:      "sandbox before existence",
			params:    CallParams{Name: "fetch", Arguments: map[string]any{"url": "http://169.254.169.254/"}},
			wantCode:  protocol.CodeSandboxDenied,
			wantMsg:   "Sandbox denied",
			wantCalls: []string{"quota", "policy", "sandbox"},
		},
		{
			name:      "unknown tool after gates",
			params:    CallParams{Name: "ghost"},
			wantCode:  protocol.CodeInvalidParams,
			wantMsg:   "Unknown tool: ghost",
			wantCalls: []string{"quota", "policy", "sandbox"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls = nil
			_, err := p.Call(context.Background(), tt.params, "1")
			var perr *protocol.Error
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tt.wantCode, perr.Code)
			assert.Equal(t, tt.wantMsg, perr.Message)
			assert.Equal(t, tt.wantCalls, calls)
		})
	}
}

func TestPipelineToolFailureIsResult(t *testing.T) {
	failing := funcTool(t, "fail", 0, func(context.Context, map[string]any) (*Result, error) {
		return nil, errors.New("disk full")
	})
	panicking := funcTool(t, "panic", 0, func(context.Context, map[string]any) (*Result, error) {
		panic("boom")
	})
	empty := funcTool(t, "empty", 0, func(context.Context, map[string]any) (*Result, error) {
		return nil, nil
	})
	p, err := NewPipeline(WithTools(failing, panicking, empty))
	require.NoError(t, err)

	res, err := p.Call(context.Background(), CallParams{Name: "fail"}, "1")
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, "Error: disk full", res.Content[0].Text)

	res, err = p.Call(context.Background(), CallParams{Name: "panic"}, "2")
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content[0].Text, "boom")

	res, err = p.Call(context.Background(), CallParams{Name: "empty"}, "3")
	require.NoError(t, err)
	data, _ := json.Marshal(res)
	assert.JSONEq(t, `{"content":[]}`, string(data))
}

func TestPipelineTimeout(t *testing.T) {
	fc := clock.Fake(time.Unix(0, 0))
	canceled := make(chan struct{})
	slow := funcTool(t, "slow", 5*time.Second, func(ctx context.Context, _ map[string]any) (*Result, error) {
		<-ctx.Done()
		close(canceled)
		return nil, ctx.Err()
	})
	p, err := NewPipeline(WithTools(slow), WithClock(fc))
	require.NoError(t, err)

	ch := callAsync(p, CallParams{Name: "slow"}, "1")
	fc.WaitForTimers(1)
	fc.Advance(4999 * time.Millisecond)
	select {
	case <-ch:
		t.Fatal("call finished before its timeout")
	default:
	}
	fc.Advance(time.Millisecond)

	r := await(t, ch)
	assert.Equal(t, protocol.CodeToolTimeout, codeOf(t, r.err))
	assert.Contains(t, r.err.Error(), "Tool execution timeout: slow")

	select {
	case <-canceled:
	case <-time.After(time.Second):
		t.Fatal("tool context was not canceled")
	}
}

func TestPipelineDefaultTimeout(t *testing.T) {
	fc := clock.Fake(time.Unix(0, 0))
	block := funcTool(t, "block", 0, func(ctx context.Context, _ map[string]any) (*Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	p, err := NewPipeline(WithTools(block), WithClock(fc))
	require.NoError(t, err)

	ch := callAsync(p, CallParams{Name: "block"}, "1")
	fc.WaitForTimers(1)
	fc.Advance(DefaultTimeout)
	assert.Equal(t, protocol.CodeToolTimeout, codeOf(t, await(t, ch).err))
}

func TestPipelineApproval(t *testing.T) {
	newPipeline := func(t *testing.T) (*Pipeline, *clock.FakeClock) {
		fc := clock.Fake(time.Unix(0, 0))
		p, err := NewPipeline(
			WithTools(echoTool(t)),
			WithApproval(RequireApproval(10*time.Second, "echo")),
			WithClock(fc),
		)
		require.NoError(t, err)
		return p, fc
	}
	params := CallParams{
		Name:      "echo",
		Arguments: map[string]any{"message": "approved"},
		Context:   map[string]any{"request_id": "req-7"},
	}

	t.Run("approved", func(t *testing.T) {
		p, fc := newPipeline(t)
		ch := callAsync(p, params, "42")
		fc.WaitForTimers(1)
		assert.Equal(t, Acknowledged{Acknowledged: true}, p.Approve("req-7"))
		r := await(t, ch)
		require.NoError(t, r.err)
		assert.Equal(t, "approved", r.res.Content[0].Text)
	})

	t.Run("denied with reason", func(t *testing.T) {
		p, fc := newPipeline(t)
		ch := callAsync(p, params, "42")
		fc.WaitForTimers(1)
		p.Deny("req-7", "not today")
		r := await(t, ch)
		assert.Equal(t, protocol.CodeApprovalDenied, codeOf(t, r.err))
		assert.Contains(t, r.err.Error(), "not today")
	})

	t.Run("denied without reason", func(t *testing.T) {
		p, fc := newPipeline(t)
		ch := callAsync(p, params, "42")
		fc.WaitForTimers(1)
		p.Deny("req-7", "")
		r := await(t, ch)
		assert.Contains(t, r.err.Error(), "Approval denied")
	})

	t.Run("timeout", func(t *testing.T) {
		p, fc := newPipeline(t)
		ch := callAsync(p, params, "42")
		fc.WaitForTimers(1)
		fc.Advance(10 * time.Second)
		r := await(t, ch)
		assert.Equal(t, protocol.CodeApprovalTimeout, codeOf(t, r.err))
		// The tool never ran, so no execution timer was armed.
		assert.Equal(t, 0, fc.Pending())
	})

	t.Run("falls back to the rpc id", func(t *testing.T) {
		p, fc := newPipeline(t)
		ch := callAsync(p, CallParams{Name: "echo", Arguments: map[string]any{"message": "x"}}, "42")
		fc.WaitForTimers(1)
		p.Approve("42")
		require.NoError(t, await(t, ch).err)
	})

	t.Run("unknown ids are acknowledged", func(t *testing.T) {
		p, _ := newPipeline(t)
		assert.True(t, p.Approve("nobody").Acknowledged)
		assert.True(t, p.Deny("nobody", "x").Acknowledged)
	})
}

func TestPipelineArgumentValidation(t *testing.T) {
	p, err := NewPipeline(WithTools(echoTool(t)), WithArgumentValidation())
	require.NoError(t, err)

	_, err = p.Call(context.Background(), CallParams{Name: "echo", Arguments: map[string]any{"message": 3.0}}, "1")
	assert.Equal(t, protocol.CodeInvalidParams, codeOf(t, err))
	assert.Contains(t, err.Error(), "Invalid arguments for echo")
}

func TestPipelineDuplicateTool(t *testing.T) {
	_, err := NewPipeline(WithTools(echoTool(t), echoTool(t)))
	assert.EqualError(t, err, `duplicate tool "echo"`)
}

func TestPipelineMethods(t *testing.T) {
	p, err := NewPipeline(WithTools(echoTool(t)))
	require.NoError(t, err)
	methods := p.Methods()

	req := &protocol.Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`5`),
		Method:  protocol.MethodToolCall,
		Params:  json.RawMessage(`{"name":"echo","arguments":{"message":"via rpc"}}`),
	}
	res, err := methods[protocol.MethodToolCall](context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "via rpc", res.(*Result).Content[0].Text)

	req.Params = json.RawMessage(`{"name":7}`)
	_, err = methods[protocol.MethodToolCall](context.Background(), req)
	assert.Equal(t, protocol.CodeInvalidParams, codeOf(t, err))

	req.Params = json.RawMessage(`{"request_id":"r1"}`)
	ack, err := methods[protocol.MethodToolApprove](context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, Acknowledged{Acknowledged: true}, ack)

	ack, err = methods[protocol.MethodToolDeny](context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, Acknowledged{Acknowledged: true}, ack)

	descs := p.Tools()
	require.Len(t, descs, 1)
	assert.Equal(t, "echo", descs[0].Name)
	assert.Equal(t, DefaultTimeout.Milliseconds(), descs[0].TimeoutMS)
}
