package agent

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/angelgalvisc/clawkernel/protocol"
	"github.com/angelgalvisc/clawkernel/telemetry"
)

// InitializeResult is the result of claw.initialize.
type InitializeResult struct {
	ProtocolVersion  string           `json:"protocolVersion"`
	AgentInfo        Info             `json:"agentInfo"`
	ConformanceLevel ConformanceLevel `json:"conformanceLevel"`
	Capabilities     map[string]any   `json:"capabilities"`
}

// StatusResult is the result of claw.status.
type StatusResult struct {
	State    State `json:"state"`
	UptimeMS int64 `json:"uptime_ms"`
}

// ShutdownResult is the result of claw.shutdown.
type ShutdownResult struct {
	Drained bool `json:"drained"`
}

// HeartbeatParams are the params of the claw.heartbeat notification.
type HeartbeatParams struct {
	State     State  `json:"state"`
	UptimeMS  int64  `json:"uptime_ms"`
	Timestamp string `json:"timestamp"`
}

const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

func (a *Agent) handleInitialize(_ context.Context, req *protocol.Request) (any, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != StateInit {
		return nil, protocol.InvalidRequest("Agent already initialized")
	}

	var params map[string]json.RawMessage
	if err := protocol.DecodeParams(req.Params, &params); err != nil {
		return nil, err
	}
	version, err := checkInitializeParams(params)
	if err != nil {
		return nil, err
	}
	if !compatible(version) {
		return nil, protocol.VersionNotSupported()
	}

	if err := a.transitionLocked(StateStarting); err != nil {
		return nil, protocol.Internal(err.Error())
	}
	a.level = a.caps.Level()
	if err := a.transitionLocked(StateReady); err != nil {
		return nil, protocol.Internal(err.Error())
	}
	a.startHeartbeatLocked()
	a.logger.Info("agent initialized",
		"name", a.info.Name,
		"client_version", version,
		"conformance_level", a.level,
	)

	return &InitializeResult{
		ProtocolVersion:  protocol.Version,
		AgentInfo:        a.info,
		ConformanceLevel: a.level,
		Capabilities:     a.declaredCapabilities(),
	}, nil
}

// checkInitializeParams validates the required members and returns the
// client protocol version.
func checkInitializeParams(params map[string]json.RawMessage) (string, error) {
	raw, ok := params["protocolVersion"]
	if !ok || isNull(raw) {
		return "", protocol.InvalidParams("Missing required param: protocolVersion")
	}
	var version string
	if err := json.Unmarshal(raw, &version); err != nil {
		return "", protocol.InvalidParams("Invalid param protocolVersion: expected string")
	}

	raw, ok = params["clientInfo"]
	if !ok || isNull(raw) {
		return "", protocol.InvalidParams("Missing required param: clientInfo")
	}
	var clientInfo map[string]any
	if err := json.Unmarshal(raw, &clientInfo); err != nil {
		return "", protocol.InvalidParams("Invalid param clientInfo: expected object")
	}

	if raw, ok = params["manifest"]; !ok || isNull(raw) {
		return "", protocol.InvalidParams("Missing required param: manifest")
	}
	if _, ok = params["capabilities"]; !ok {
		return "", protocol.InvalidParams("Missing required param: capabilities")
	}
	return version, nil
}

func isNull(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s == "" || s == "null"
}

// compatible compares the integer major version components only.
func compatible(version string) bool {
	major, _, _ := strings.Cut(version, ".")
	want, _, _ := strings.Cut(protocol.Version, ".")
	m, err := strconv.Atoi(major)
	if err != nil {
		return false
	}
	w, err := strconv.Atoi(want)
	return err == nil && m == w
}

func (a *Agent) declaredCapabilities() map[string]any {
	caps := map[string]any{}
	if a.caps.Tools != nil {
		caps["tools"] = map[string]any{"available": a.caps.Tools.Tools()}
	}
	if a.caps.Memory != nil {
		caps["memory"] = map[string]any{}
	}
	if a.caps.Swarm != nil {
		caps["swarm"] = map[string]any{}
	}
	if a.caps.Tasks != nil {
		caps["tasks"] = map[string]any{}
	}
	return caps
}

// handleInitialized accepts the handshake acknowledgement any number of
// times.
func (a *Agent) handleInitialized(context.Context, *protocol.Request) (any, error) {
	return nil, nil
}

func (a *Agent) handleStatus(context.Context, *protocol.Request) (any, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return &StatusResult{State: a.state, UptimeMS: a.uptimeLocked().Milliseconds()}, nil
}

func (a *Agent) handleShutdown(ctx context.Context, _ *protocol.Request) (any, error) {
	done, err := a.beginShutdown()
	if err != nil {
		return nil, err
	}
	if done != nil {
		return done, nil
	}
	return a.finishShutdown(ctx)
}

// beginShutdown moves a READY agent to STOPPING and stops the heartbeat.
// It returns a result or an error when there is nothing left to drain.
func (a *Agent) beginShutdown() (*ShutdownResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch a.state {
	case StateStopping, StateStopped:
		return &ShutdownResult{Drained: true}, nil
	case StateReady:
		if err := a.transitionLocked(StateStopping); err != nil {
			return nil, protocol.Internal(err.Error())
		}
		a.haltHeartbeatLocked()
		return nil, nil
	default:
		return nil, protocol.InvalidRequest("Cannot shut down in state " + string(a.state))
	}
}

// finishShutdown drains in-flight work and moves the agent to STOPPED.
func (a *Agent) finishShutdown(ctx context.Context) (any, error) {
	drained := a.drain(ctx)

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == StateStopping {
		if err := a.transitionLocked(StateStopped); err != nil {
			return nil, protocol.Internal(err.Error())
		}
	}
	a.logger.Info("agent stopped", "drained", drained)
	return &ShutdownResult{Drained: drained}, nil
}

// drain waits for in-flight capability handlers up to the drain timeout.
func (a *Agent) drain(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		a.inflight.Wait()
		close(done)
	}()

	if a.drainTimeout <= 0 {
		select {
		case <-done:
			return true
		default:
			return false
		}
	}
	timer := a.clock.NewTimer(a.drainTimeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		a.logger.Warn("shutdown drain timed out", "timeout", a.drainTimeout)
		return false
	case <-ctx.Done():
		return false
	}
}

// startHeartbeatLocked starts the heartbeat emitter when enabled. Callers
// hold mu.
func (a *Agent) startHeartbeatLocked() {
	interval := a.heartbeatInterval
	if interval <= 0 {
		return
	}
	interval = max(interval, MinHeartbeatInterval)

	ticker := a.clock.NewTicker(interval)
	stop := make(chan struct{})
	a.stopHeartbeat = func() {
		ticker.Stop()
		close(stop)
	}
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if !a.beat() {
					return
				}
			}
		}
	}()
}

// haltHeartbeatLocked stops the heartbeat emitter if it runs. Callers hold
// mu.
func (a *Agent) haltHeartbeatLocked() {
	if a.stopHeartbeat != nil {
		a.stopHeartbeat()
		a.stopHeartbeat = nil
	}
}

// beat sends one heartbeat. It reports false once the emitter should stop.
// The state check and the send happen under one hold of mu, so no beat
// leaves after a transition out of READY.
func (a *Agent) beat() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != StateReady || a.tr == nil {
		return true
	}
	params := HeartbeatParams{
		State:     a.state,
		UptimeMS:  a.uptimeLocked().Milliseconds(),
		Timestamp: a.clock.Now().UTC().Format(timestampLayout),
	}

	err := a.tr.Send(protocol.NewNotification(protocol.MethodHeartbeat, params))
	if err == nil {
		a.events.Emit(telemetry.Event{
			Kind:  telemetry.KindHeartbeat,
			Name:  "sent",
			Attrs: map[string]any{"uptime_ms": params.UptimeMS},
		})
		return true
	}

	a.logger.Error("heartbeat failed", "error", err)
	if a.state.CanTransition(StateError) {
		_ = a.transitionLocked(StateError)
	}
	a.haltHeartbeatLocked()
	return false
}
