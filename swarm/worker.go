package swarm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/angelgalvisc/clawkernel/clock"
	"github.com/angelgalvisc/clawkernel/queue"
	"github.com/angelgalvisc/clawkernel/registry"
)

// Report statuses published by Worker.
const (
	StatusWorking   = "working"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Pop retry delays after a queue error. The delay doubles per consecutive
// failure.
const (
	minPopBackoff = 100 * time.Millisecond
	maxPopBackoff = 5 * time.Second
)

// TaskFunc runs one delegated task and returns its result.
type TaskFunc func(ctx context.Context, task queue.Task) (map[string]any, error)

// WorkerOptions configures a Worker.
type WorkerOptions struct {
	// Swarm is the swarm whose task list the worker consumes. Required.
	Swarm string

	// Identity is the peer identity. Required.
	Identity string

	// URI is advertised in discovery. Default: claw://local/identity/<Identity>.
	URI string

	// Concurrency is the number of tasks run at once. Default: 4.
	Concurrency int

	// ShutdownTimeout bounds how long Run waits for running tasks after ctx
	// ends. Default: 30s.
	ShutdownTimeout time.Duration

	// HeartbeatInterval is how often the peer health key is refreshed.
	// Default: 10s.
	HeartbeatInterval time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// Worker consumes delegated tasks of one swarm.
type Worker struct {
	queue    queue.Client
	registry registry.Registry
	run      TaskFunc
	opts     WorkerOptions
	peer     registry.Peer
	logger   *slog.Logger
}

// NewWorker validates opts and returns a Worker.
func NewWorker(q queue.Client, r registry.Registry, fn TaskFunc, opts WorkerOptions) (*Worker, error) {
	if q == nil || r == nil {
		return nil, errors.New("queue and registry are required")
	}
	if fn == nil {
		return nil, errors.New("task function is required")
	}
	if opts.Swarm == "" || opts.Identity == "" {
		return nil, errors.New("swarm and identity are required")
	}
	if opts.URI == "" {
		opts.URI = "claw://local/identity/" + opts.Identity
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 30 * time.Second
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 10 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	instanceID := generateInstanceID()
	return &Worker{
		queue:    q,
		registry: r,
		run:      fn,
		opts:     opts,
		peer: registry.Peer{
			Swarm:      opts.Swarm,
			Identity:   opts.Identity,
			InstanceID: instanceID,
			URI:        opts.URI,
			Status:     registry.StatusReady,
			StartedAt:  opts.Clock.Now(),
		},
		logger: opts.Logger.With("swarm", opts.Swarm, "identity", opts.Identity, "instance_id", instanceID),
	}, nil
}

// Peer returns the registry entry the worker advertises.
func (w *Worker) Peer() registry.Peer {
	return w.peer
}

// Run registers the peer, starts the worker loops and a heartbeat, and
// blocks until ctx ends. It then waits up to ShutdownTimeout for running
// tasks and deregisters.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.queue.Heartbeat(ctx, w.opts.Identity); err != nil {
		return fmt.Errorf("initial heartbeat: %w", err)
	}
	if err := w.registry.Register(ctx, w.peer); err != nil {
		return fmt.Errorf("register peer: %w", err)
	}
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := w.registry.Deregister(cleanupCtx, w.peer); err != nil {
			w.logger.Error("failed to deregister peer", "error", err)
		}
	}()

	loopCtx, stop := context.WithCancel(ctx)
	defer stop()
	go w.heartbeat(loopCtx)

	var wg sync.WaitGroup
	for i := 0; i < w.opts.Concurrency; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			w.loop(loopCtx, n)
		}(i)
	}
	w.logger.Info("swarm worker started", "workers", w.opts.Concurrency)

	<-ctx.Done()
	w.logger.Info("swarm worker stopping")

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	timer := w.opts.Clock.NewTimer(w.opts.ShutdownTimeout)
	defer timer.Stop()
	select {
	case <-done:
		w.logger.Info("swarm worker shutdown complete")
	case <-timer.C:
		w.logger.Warn("swarm worker shutdown timeout exceeded", "timeout", w.opts.ShutdownTimeout)
	}
	return nil
}

func (w *Worker) heartbeat(ctx context.Context) {
	ticker := w.opts.Clock.NewTicker(w.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.queue.Heartbeat(ctx, w.opts.Identity); err != nil {
				w.logger.Debug("heartbeat failed", "error", err)
			}
		}
	}
}

func (w *Worker) loop(ctx context.Context, n int) {
	logger := w.logger.With("worker_num", n)
	var backoff time.Duration
	for {
		if ctx.Err() != nil {
			return
		}
		task, err := w.queue.Pop(ctx, w.opts.Swarm)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			backoff = min(max(2*backoff, minPopBackoff), maxPopBackoff)
			logger.Warn("failed to pop task", "error", err, "retry_in", backoff)
			if !w.sleep(ctx, backoff) {
				return
			}
			continue
		}
		backoff = 0
		if task == nil {
			continue
		}
		w.process(context.WithoutCancel(ctx), *task, logger)
	}
}

// sleep waits for d on the worker clock. It reports false if ctx ends first.
func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	timer := w.opts.Clock.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// process runs one task and publishes its reports. It runs on a context
// detached from shutdown so an in-flight task can finish and report.
func (w *Worker) process(ctx context.Context, task queue.Task, logger *slog.Logger) {
	logger = logger.With("task_id", task.TaskID)
	logger.Info("received swarm task", "from", task.From)

	if err := w.queue.Acquire(ctx, w.opts.Identity); err != nil {
		logger.Debug("failed to track in-flight task", "error", err)
	}
	defer func() {
		if err := w.queue.Release(ctx, w.opts.Identity); err != nil {
			logger.Debug("failed to release in-flight task", "error", err)
		}
	}()

	w.publish(ctx, task, StatusWorking, nil, logger)

	start := w.opts.Clock.Now()
	result, err := w.execute(ctx, task)
	if err != nil {
		logger.Error("swarm task failed", "error", err)
		w.publish(ctx, task, StatusFailed, map[string]any{"error": err.Error()}, logger)
		return
	}
	if result == nil {
		result = map[string]any{}
	}
	w.publish(ctx, task, StatusCompleted, result, logger)
	logger.Info("swarm task completed", "duration_ms", w.opts.Clock.Now().Sub(start).Milliseconds())
}

func (w *Worker) execute(ctx context.Context, task queue.Task) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return w.run(ctx, task)
}

func (w *Worker) publish(ctx context.Context, task queue.Task, status string, result map[string]any, logger *slog.Logger) {
	swarm := task.Swarm
	if swarm == "" {
		swarm = w.opts.Swarm
	}
	err := w.queue.PublishReport(ctx, swarm, queue.Report{
		TaskID:     task.TaskID,
		Status:     status,
		Result:     result,
		Peer:       w.opts.Identity,
		ReportedAt: w.opts.Clock.Now().UnixMilli(),
	})
	if err != nil {
		logger.Error("failed to publish report", "status", status, "error", err)
	}
}

// generateInstanceID combines hostname, PID and a UUID fragment.
func generateInstanceID() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return fmt.Sprintf("%s-%d-%s", hostname, os.Getpid(), uuid.New().String()[:8])
}
