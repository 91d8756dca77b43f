package swarm

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelgalvisc/clawkernel/clock"
	"github.com/angelgalvisc/clawkernel/queue"
	"github.com/angelgalvisc/clawkernel/registry"
)

func newQueue(t *testing.T) (*queue.RedisClient, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	q, err := queue.NewRedisClient(queue.RedisOptions{URL: fmt.Sprintf("redis://%s", mr.Addr())})
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q, mr
}

func nextReport(t *testing.T, ch <-chan queue.Report) queue.Report {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for report")
		return queue.Report{}
	}
}

func TestCoordinatorDelegateAndReport(t *testing.T) {
	q, _ := newQueue(t)
	reg := registry.NewMemory()
	c := NewCoordinator(q, reg, WithSwarm("research"), WithIdentity("lead"))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ack, err := c.Delegate(ctx, "t1", Task{Description: "summarise", Input: map[string]any{"n": float64(1)}}, Context{RequestID: "r1"})
	require.NoError(t, err)
	assert.True(t, ack.Acknowledged)

	task, err := q.Pop(ctx, "research")
	require.NoError(t, err)
	assert.Equal(t, "t1", task.TaskID)
	assert.Equal(t, "research", task.Swarm)
	assert.Equal(t, "lead", task.From)
	assert.Equal(t, "r1", task.RequestID)
	assert.NoError(t, task.IsValid())

	reports, err := q.SubscribeReports(ctx, "research")
	require.NoError(t, err)
	ack, err = c.Report(ctx, "t1", "completed", map[string]any{"ok": true})
	require.NoError(t, err)
	assert.True(t, ack.Acknowledged)

	r := nextReport(t, reports)
	assert.Equal(t, "t1", r.TaskID)
	assert.Equal(t, "completed", r.Status)
	assert.Equal(t, "lead", r.Peer)
}

func TestCoordinatorBroadcast(t *testing.T) {
	q, _ := newQueue(t)
	c := NewCoordinator(q, registry.NewMemory(), WithSwarm("research"), WithIdentity("lead"))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	msgs, err := q.SubscribeBroadcasts(ctx, "ops")
	require.NoError(t, err)
	require.NoError(t, c.Broadcast(ctx, "ops", map[string]any{"pause": true}))

	select {
	case m := <-msgs:
		assert.Equal(t, "ops", m.Swarm)
		assert.Equal(t, "lead", m.From)
		assert.NotEmpty(t, m.ID)
		assert.Equal(t, map[string]any{"pause": true}, m.Body)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for broadcast")
	}
}

func TestCoordinatorDiscoverLiveStatus(t *testing.T) {
	q, mr := newQueue(t)
	ctx := context.Background()
	reg := registry.NewMemory(
		registry.Peer{Swarm: "research", Identity: "alive", InstanceID: "1", URI: "claw://local/identity/alive", Status: registry.StatusReady},
		registry.Peer{Swarm: "research", Identity: "busy", InstanceID: "1", URI: "claw://local/identity/busy", Status: registry.StatusReady},
		registry.Peer{Swarm: "research", Identity: "gone", InstanceID: "1", URI: "claw://local/identity/gone", Status: registry.StatusReady},
		registry.Peer{Swarm: "other", Identity: "elsewhere", InstanceID: "1"},
	)
	require.NoError(t, q.Heartbeat(ctx, "alive"))
	require.NoError(t, q.Heartbeat(ctx, "busy"))
	require.NoError(t, q.Acquire(ctx, "busy"))
	require.True(t, mr.Exists("ckp:peer:busy:inflight"))

	c := NewCoordinator(q, reg, WithSwarm("research"))
	res, err := c.Discover(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []Peer{
		{Identity: "alive", URI: "claw://local/identity/alive", Status: registry.StatusReady},
		{Identity: "busy", URI: "claw://local/identity/busy", Status: registry.StatusBusy},
		{Identity: "gone", URI: "claw://local/identity/gone", Status: registry.StatusUnavailable},
	}, res.Peers)
}

func TestWorkerProcessesDelegatedTasks(t *testing.T) {
	q, _ := newQueue(t)
	reg := registry.NewMemory()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	reports, err := q.SubscribeReports(ctx, "research")
	require.NoError(t, err)

	w, err := NewWorker(q, reg, func(_ context.Context, task queue.Task) (map[string]any, error) {
		switch task.Description {
		case "fail":
			return nil, errors.New("no data")
		case "panic":
			panic("bad input")
		}
		return map[string]any{"echo": task.Description}, nil
	}, WorkerOptions{Swarm: "research", Identity: "analyst", Concurrency: 1})
	require.NoError(t, err)

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- w.Run(runCtx) }()

	assert.Eventually(t, func() bool {
		peers, _ := reg.Discover(ctx, "research")
		return len(peers) == 1
	}, 5*time.Second, 10*time.Millisecond)

	c := NewCoordinator(q, reg, WithSwarm("research"))
	disc, err := c.Discover(ctx, "research")
	require.NoError(t, err)
	require.Len(t, disc.Peers, 1)
	assert.Equal(t, "analyst", disc.Peers[0].Identity)
	assert.Equal(t, "claw://local/identity/analyst", disc.Peers[0].URI)

	for _, desc := range []string{"hello", "fail", "panic"} {
		_, err := c.Delegate(ctx, "task-"+desc, Task{Description: desc}, Context{})
		require.NoError(t, err)
	}

	want := []struct {
		status string
		result map[string]any
	}{
		{StatusWorking, nil},
		{StatusCompleted, map[string]any{"echo": "hello"}},
		{StatusWorking, nil},
		{StatusFailed, map[string]any{"error": "no data"}},
		{StatusWorking, nil},
		{StatusFailed, map[string]any{"error": "task panicked: bad input"}},
	}
	for i, w := range want {
		r := nextReport(t, reports)
		assert.Equal(t, w.status, r.Status, "report %d", i)
		assert.Equal(t, w.result, r.Result, "report %d", i)
		assert.Equal(t, "analyst", r.Peer)
	}

	stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("worker did not stop")
	}

	peers, err := reg.Discover(ctx, "research")
	require.NoError(t, err)
	assert.Empty(t, peers)
	n, err := q.InFlight(ctx, "analyst")
	require.NoError(t, err)
	assert.Zero(t, n)
}

type countingQueue struct {
	queue.Client
	heartbeats atomic.Int32
}

func (c *countingQueue) Heartbeat(ctx context.Context, peer string) error {
	c.heartbeats.Add(1)
	return c.Client.Heartbeat(ctx, peer)
}

func TestNewWorkerValidation(t *testing.T) {
	q, _ := newQueue(t)
	reg := registry.NewMemory()
	fn := func(context.Context, queue.Task) (map[string]any, error) { return nil, nil }

	_, err := NewWorker(nil, reg, fn, WorkerOptions{Swarm: "s", Identity: "i"})
	assert.EqualError(t, err, "queue and registry are required")
	_, err = NewWorker(q, reg, nil, WorkerOptions{Swarm: "s", Identity: "i"})
	assert.EqualError(t, err, "task function is required")
	_, err = NewWorker(q, reg, fn, WorkerOptions{Swarm: "s"})
	assert.EqualError(t, err, "swarm and identity are required")

	cq := &countingQueue{Client: q}
	w, err := NewWorker(cq, reg, fn, WorkerOptions{Swarm: "s", Identity: "i"})
	require.NoError(t, err)
	assert.Equal(t, "s", w.Peer().Swarm)
	assert.NotEmpty(t, w.Peer().InstanceID)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	assert.Eventually(t, func() bool {
		peers, _ := reg.Discover(context.Background(), "s")
		return len(peers) == 1
	}, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("worker did not stop")
	}
	assert.GreaterOrEqual(t, cq.heartbeats.Load(), int32(1))
}

var errQueueDown = errors.New("connection refused")

type failingPopQueue struct {
	queue.Client
	pops atomic.Int32
}

func (f *failingPopQueue) Pop(context.Context, string) (*queue.Task, error) {
	f.pops.Add(1)
	return nil, errQueueDown
}

func TestWorkerBacksOffOnPopErrors(t *testing.T) {
	q, _ := newQueue(t)
	fq := &failingPopQueue{Client: q}
	fc := clock.Fake(time.Now())
	fn := func(context.Context, queue.Task) (map[string]any, error) { return nil, nil }

	w, err := NewWorker(fq, registry.NewMemory(), fn, WorkerOptions{
		Swarm:       "s",
		Identity:    "i",
		Concurrency: 1,
		Clock:       fc,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// heartbeat ticker plus the retry timer
	fc.WaitForTimers(2)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), fq.pops.Load())

	fc.Advance(minPopBackoff)
	require.Eventually(t, func() bool { return fq.pops.Load() == 2 }, time.Second, 5*time.Millisecond)
	fc.WaitForTimers(2)

	// the second delay is twice the first
	fc.Advance(minPopBackoff)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(2), fq.pops.Load())
	fc.Advance(minPopBackoff)
	require.Eventually(t, func() bool { return fq.pops.Load() == 3 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}
