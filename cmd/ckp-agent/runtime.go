package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"

	"github.com/angelgalvisc/clawkernel/a2a"
	"github.com/angelgalvisc/clawkernel/agent"
	"github.com/angelgalvisc/clawkernel/config"
	"github.com/angelgalvisc/clawkernel/memory"
	"github.com/angelgalvisc/clawkernel/queue"
	"github.com/angelgalvisc/clawkernel/registry"
	"github.com/angelgalvisc/clawkernel/serve"
	"github.com/angelgalvisc/clawkernel/swarm"
	"github.com/angelgalvisc/clawkernel/task"
	"github.com/angelgalvisc/clawkernel/telemetry"
	"github.com/angelgalvisc/clawkernel/tool"
)

// runtime is a fully wired agent plus the resources it owns.
type runtime struct {
	agent  *agent.Agent
	worker *swarm.Worker
	logger *slog.Logger

	closers []func(context.Context) error
}

// build wires the agent for cfg's profile. Close must be called even when
// the agent never runs.
func build(cfg *config.Config, m *manifest, logger *slog.Logger) (rt *runtime, err error) {
	rt = &runtime{logger: logger}
	defer func() {
		if err != nil {
			rt.Close(context.Background())
			rt = nil
		}
	}()

	opts := []agent.Option{
		agent.WithLogger(logger),
		agent.WithHeartbeatInterval(cfg.Agent.GetHeartbeatInterval()),
		agent.WithDrainTimeout(cfg.Agent.GetDrainTimeout()),
	}

	emitter := rt.telemetry(cfg)
	if emitter != nil {
		opts = append(opts, agent.WithTelemetry(emitter))
	}

	profile := cfg.Agent.GetProfile()
	var tools []tool.Tool
	if profile == config.ProfileL2 || profile == config.ProfileL3 {
		tools, err = referenceTools(m.tools)
		if err != nil {
			return nil, err
		}
		gates, err := rt.gates(cfg, m, tools)
		if err != nil {
			return nil, err
		}
		opts = append(opts, agent.WithTools(tools...))
		opts = append(opts, gates...)
	}

	var redisClient *queue.RedisClient
	if profile == config.ProfileL3 {
		redisClient, err = rt.redis(cfg)
		if err != nil {
			return nil, err
		}
		store, err := rt.memory(cfg, m, redisClient)
		if err != nil {
			return nil, err
		}
		handler, err := rt.swarm(cfg, redisClient)
		if err != nil {
			return nil, err
		}
		opts = append(opts, agent.WithMemory(store), agent.WithSwarm(handler))
	}

	if profile == config.ProfileA2A {
		opts = append(opts, agent.WithTasks(task.NewStore(
			task.WithMetadataMessage(a2a.MetadataKey, a2a.DecodeTaskMessage),
		)))
	}

	rt.agent, err = agent.New(agent.Info{Name: cfg.Agent.Name, Version: cfg.Agent.Version}, opts...)
	if err != nil {
		return nil, err
	}
	return rt, nil
}

// telemetry builds the event emitter, or nil when no sink is enabled.
// Counters go to the global meter provider, which is a no-op unless the
// embedding program installs one.
func (rt *runtime) telemetry(cfg *config.Config) *telemetry.Emitter {
	var sinks []telemetry.Sink
	if cfg.Telemetry.Log {
		sinks = append(sinks, telemetry.LogSink{Logger: rt.logger})
	}
	if cfg.Telemetry.Tracing {
		service := cfg.Telemetry.ServiceName
		if service == "" {
			service = cfg.Agent.Name
		}
		tp := serve.NewTracerProvider(service, cfg.Agent.Version,
			serve.NewLogSpanExporter(rt.logger, slog.LevelDebug), rt.logger)
		rt.onClose(tp.Shutdown)

		sink, err := telemetry.NewOTelSink(serve.NewTracer(tp), otel.Meter(serve.TracerName))
		if err != nil {
			rt.logger.Warn("tracing disabled", "error", err)
		} else {
			sinks = append(sinks, sink)
		}
	}
	if len(sinks) == 0 {
		return nil
	}

	emitter := telemetry.NewEmitter(sinks,
		telemetry.WithBufferSize(cfg.Telemetry.GetBufferSize()),
		telemetry.WithLogger(rt.logger),
	)
	// Registered after the tracer provider so events flush before spans.
	rt.onClose(emitter.Close)
	return emitter
}

func (rt *runtime) gates(cfg *config.Config, m *manifest, tools []tool.Tool) ([]agent.Option, error) {
	eval, err := referencePolicy(m.policies, cfg.Tools, tools, rt.logger)
	if err != nil {
		return nil, err
	}
	box, err := referenceSandbox(m.sandbox, rt.logger)
	if err != nil {
		return nil, fmt.Errorf("invalid sandbox: %w", err)
	}
	opts := []agent.Option{
		agent.WithPolicy(eval),
		agent.WithApproval(eval),
		agent.WithSandbox(box),
		agent.WithQuota(referenceQuota(cfg.Quota, m.policies, rt.logger)),
	}
	if cfg.Tools.ValidateArguments {
		opts = append(opts, agent.WithArgumentValidation())
	}
	return opts, nil
}

// redis connects when a redis backend is selected and returns nil
// otherwise.
func (rt *runtime) redis(cfg *config.Config) (*queue.RedisClient, error) {
	if cfg.Memory.GetBackend() != config.BackendRedis && cfg.Swarm.GetBackend() != config.BackendRedis {
		return nil, nil
	}
	if cfg.Redis == nil || cfg.Redis.URL == "" {
		return nil, errors.New("redis backend selected but redis.url is not set")
	}
	client, err := queue.NewRedisClient(queue.RedisOptions{
		URL:            cfg.Redis.URL,
		ConnectTimeout: cfg.Redis.GetConnectTimeout(),
		ReadTimeout:    cfg.Redis.GetReadTimeout(),
		WriteTimeout:   cfg.Redis.GetWriteTimeout(),
		Logger:         rt.logger,
	})
	if err != nil {
		return nil, err
	}
	rt.onClose(func(context.Context) error { return client.Close() })
	return client, nil
}

func (rt *runtime) memory(cfg *config.Config, m *manifest, client *queue.RedisClient) (memory.Handler, error) {
	retention, err := memory.RetentionFromSpec(m.memory)
	if err != nil {
		return nil, fmt.Errorf("invalid memory spec: %w", err)
	}
	opts := []memory.Option{
		memory.WithKeepLast(cfg.Memory.GetKeepLast()),
		memory.WithRetention(retention),
		memory.WithLogger(rt.logger),
	}

	if cfg.Memory.GetBackend() == config.BackendRedis {
		store := memory.NewRedisStore(client.Redis(), opts...)
		if cfg.Memory.KeyPrefix != "" {
			store.WithPrefix(cfg.Memory.KeyPrefix)
		}
		return store, nil
	}
	return memory.NewInMemoryStore(opts...), nil
}

func (rt *runtime) swarm(cfg *config.Config, client *queue.RedisClient) (swarm.Handler, error) {
	if cfg.Swarm.GetBackend() != config.BackendRedis {
		return swarm.StaticHandler{Peers: swarm.DefaultPeers}, nil
	}

	var reg registry.Registry
	if cfg.Registry != nil && len(cfg.Registry.Endpoints) > 0 {
		etcd, err := registry.NewClient(*cfg.Registry, rt.logger)
		if err != nil {
			return nil, err
		}
		reg = etcd
	} else {
		reg = registry.NewMemory()
	}
	rt.onClose(func(context.Context) error { return reg.Close() })

	identity := cfg.Swarm.Identity
	if identity == "" {
		identity = cfg.Agent.Name
	}
	coord := swarm.NewCoordinator(client, reg,
		swarm.WithSwarm(cfg.Swarm.GetName()),
		swarm.WithIdentity(identity),
		swarm.WithLogger(rt.logger),
	)

	if cfg.Swarm.Worker {
		w, err := swarm.NewWorker(client, reg, rt.runDelegated, swarm.WorkerOptions{
			Swarm:             cfg.Swarm.GetName(),
			Identity:          identity,
			Concurrency:       cfg.Swarm.GetConcurrency(),
			ShutdownTimeout:   cfg.Swarm.GetShutdownTimeout(),
			HeartbeatInterval: cfg.Swarm.GetHeartbeatInterval(),
			Logger:            rt.logger,
		})
		if err != nil {
			return nil, err
		}
		rt.worker = w
	}
	return coord, nil
}

// runDelegated executes a delegated task. Tasks whose input names a tool
// run through the agent's tool pipeline with every gate applied; other
// tasks are acknowledged with their description.
func (rt *runtime) runDelegated(ctx context.Context, t queue.Task) (map[string]any, error) {
	name, _ := t.Input["tool"].(string)
	pipeline := rt.agent.Capabilities().Tools
	if name == "" || pipeline == nil {
		return map[string]any{"description": t.Description}, nil
	}

	args, _ := t.Input["arguments"].(map[string]any)
	res, err := pipeline.Call(ctx, tool.CallParams{
		Name:      name,
		Arguments: args,
		Context:   map[string]any{"request_id": t.TaskID, "swarm": t.Swarm, "from": t.From},
	}, t.TaskID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"content": res.Content, "isError": res.IsError}, nil
}

func (rt *runtime) onClose(fn func(context.Context) error) {
	rt.closers = append(rt.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (rt *runtime) Close(ctx context.Context) error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}
