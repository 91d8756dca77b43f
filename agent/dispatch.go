package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/angelgalvisc/clawkernel/protocol"
	"github.com/angelgalvisc/clawkernel/telemetry"
)

// dispatch handles one inbound frame. Validation runs on the caller's
// goroutine; most handlers run on their own so intake never waits for them.
func (a *Agent) dispatch(ctx context.Context, frame []byte) {
	req, id, perr := protocol.Decode(frame)
	if perr != nil {
		if req != nil && req.IsNotification() {
			a.logger.Debug("dropped malformed notification", "method", req.Method, "error", perr.Message)
			return
		}
		a.respondError(id, perr)
		return
	}

	a.mu.Lock()
	state := a.state
	illegal := a.illegalLocked(state, req.Method)
	capability := illegal == nil && protocol.IsCapabilityMethod(req.Method)
	if capability {
		a.inflight.Add(1)
	}
	a.mu.Unlock()

	if illegal != nil {
		a.events.Emit(telemetry.Event{
			Kind:  telemetry.KindError,
			Name:  "illegal_method",
			Attrs: map[string]any{"method": req.Method, "state": string(state)},
		})
		if !req.IsNotification() {
			a.respondError(req.ID, illegal)
		}
		return
	}

	h, ok := a.methods[req.Method]
	if !ok {
		if capability {
			a.inflight.Done()
		}
		if !req.IsNotification() {
			a.respondError(req.ID, protocol.MethodNotFound(req.Method))
		}
		return
	}

	if inline[req.Method] {
		a.complete(ctx, h, req)
		return
	}

	if req.Method == protocol.MethodShutdown {
		// The transition to STOPPING happens before the next frame is read;
		// only the drain runs in the background.
		done, err := a.beginShutdown()
		if err != nil || done != nil {
			a.complete(ctx, func(context.Context, *protocol.Request) (any, error) {
				if err != nil {
					return nil, err
				}
				return done, nil
			}, req)
			return
		}
		h = func(ctx context.Context, _ *protocol.Request) (any, error) {
			return a.finishShutdown(ctx)
		}
	}

	a.handlers.Add(1)
	go func() {
		defer a.handlers.Done()
		if capability {
			defer a.inflight.Done()
		}
		a.complete(ctx, h, req)
	}()
}

// inline methods never block, so they run on the intake goroutine. This keeps
// the handshake ordered with respect to the frames that follow it.
var inline = map[string]bool{
	protocol.MethodInitialize:  true,
	protocol.MethodInitialized: true,
	protocol.MethodStatus:      true,
}

// complete runs h and writes its response, if any.
func (a *Agent) complete(ctx context.Context, h protocol.Handler, req *protocol.Request) {
	result, err := invoke(ctx, h, req)
	if req.IsNotification() || errors.Is(err, protocol.ErrNoResponse) {
		if err != nil && !errors.Is(err, protocol.ErrNoResponse) {
			a.logger.Debug("notification handler failed", "method", req.Method, "error", err)
		}
		return
	}
	if err != nil {
		a.respondError(req.ID, protocol.AsError(err))
		return
	}
	if sendErr := a.send(protocol.NewResult(req.ID, result)); sendErr != nil {
		a.logger.Warn("failed to send response", "method", req.Method, "error", sendErr)
	}
}

// illegalLocked returns the error for a method that may not run in state,
// or nil. Callers hold mu.
func (a *Agent) illegalLocked(state State, method string) *protocol.Error {
	switch {
	case state == StateInit && method != protocol.MethodInitialize:
		return protocol.InvalidRequest("Agent not initialized")
	case protocol.IsCapabilityMethod(method) && !state.acceptsCapabilities():
		return protocol.InvalidRequest(fmt.Sprintf("Method %s not allowed in state %s", method, state))
	}
	return nil
}

// invoke calls h, turning a panic into an internal error.
func invoke(ctx context.Context, h protocol.Handler, req *protocol.Request) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, protocol.Internal(fmt.Sprintf("Internal error: %v", r))
		}
	}()
	return h(ctx, req)
}

func (a *Agent) respondError(id json.RawMessage, perr *protocol.Error) {
	if err := a.send(protocol.NewErrorResponse(id, perr)); err != nil {
		a.logger.Warn("failed to send error response", "code", perr.Code, "error", err)
	}
}
