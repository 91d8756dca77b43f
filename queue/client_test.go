package queue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestClient creates a miniredis instance and returns a connected RedisClient.
func setupTestClient(t *testing.T) (*RedisClient, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client, err := NewRedisClient(RedisOptions{
		URL:            fmt.Sprintf("redis://%s", mr.Addr()),
		ConnectTimeout: 5 * time.Second,
		ReadTimeout:    5 * time.Second,
		WriteTimeout:   5 * time.Second,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = client.Close()
	})

	return client, mr
}

func sampleTask(id string) Task {
	return Task{
		TaskID:      id,
		Swarm:       "research",
		Description: "summarise " + id,
		Input:       map[string]any{"depth": float64(2)},
		RequestID:   "req-" + id,
		SubmittedAt: time.Now().UnixMilli(),
	}
}

func TestNewRedisClient(t *testing.T) {
	t.Run("successful connection", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client, err := NewRedisClient(RedisOptions{URL: fmt.Sprintf("redis://%s", mr.Addr())})
		require.NoError(t, err)
		require.NotNil(t, client.Redis())
		assert.NoError(t, client.Close())
	})

	t.Run("connection failure", func(t *testing.T) {
		_, err := NewRedisClient(RedisOptions{
			URL:            "redis://localhost:1",
			ConnectTimeout: 100 * time.Millisecond,
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to connect to Redis")
	})

	t.Run("invalid URL", func(t *testing.T) {
		_, err := NewRedisClient(RedisOptions{URL: "invalid://url"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse Redis URL")
	})
}

func TestPushPop(t *testing.T) {
	t.Run("fifo order", func(t *testing.T) {
		client, mr := setupTestClient(t)
		ctx := context.Background()

		for _, id := range []string{"t1", "t2", "t3"} {
			require.NoError(t, client.Push(ctx, "research", sampleTask(id)))
		}
		assert.True(t, mr.Exists("ckp:swarm:research:tasks"))

		n, err := client.Pending(ctx, "research")
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)

		for _, want := range []string{"t1", "t2", "t3"} {
			got, err := client.Pop(ctx, "research")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, want, got.TaskID)
			assert.Equal(t, map[string]any{"depth": float64(2)}, got.Input)
		}
	})

	t.Run("swarms are isolated", func(t *testing.T) {
		client, _ := setupTestClient(t)
		ctx := context.Background()

		require.NoError(t, client.Push(ctx, "a", sampleTask("t1")))
		n, err := client.Pending(ctx, "b")
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("pop blocks until push", func(t *testing.T) {
		client, _ := setupTestClient(t)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		got := make(chan *Task, 1)
		go func() {
			task, err := client.Pop(ctx, "research")
			if err == nil {
				got <- task
			}
		}()

		time.Sleep(50 * time.Millisecond)
		require.NoError(t, client.Push(ctx, "research", sampleTask("late")))

		select {
		case task := <-got:
			assert.Equal(t, "late", task.TaskID)
		case <-time.After(3 * time.Second):
			t.Fatal("pop did not return")
		}
	})

	t.Run("pop honours cancellation", func(t *testing.T) {
		client, _ := setupTestClient(t)
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		_, err := client.Pop(ctx, "empty")
		assert.Error(t, err)
	})

	t.Run("malformed payload", func(t *testing.T) {
		client, mr := setupTestClient(t)
		_, err := mr.Lpush("ckp:swarm:bad:tasks", "not json")
		require.NoError(t, err)

		_, err = client.Pop(context.Background(), "bad")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to unmarshal task")
	})
}

func TestReportsAndBroadcasts(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reports, err := client.SubscribeReports(ctx, "research")
	require.NoError(t, err)
	messages, err := client.SubscribeBroadcasts(ctx, "research")
	require.NoError(t, err)

	report := Report{TaskID: "t1", Status: "completed", Result: map[string]any{"summary": "ok"}, Peer: "peer-1", ReportedAt: 1}
	require.NoError(t, client.PublishReport(ctx, "research", report))

	msg := Message{ID: "m1", Swarm: "research", From: "lead", Body: map[string]any{"stop": true}, SentAt: 2}
	require.NoError(t, client.Broadcast(ctx, "research", msg))

	select {
	case got := <-reports:
		assert.Equal(t, report, got)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for report")
	}
	select {
	case got := <-messages:
		assert.Equal(t, msg, got)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for broadcast")
	}

	cancel()
	select {
	case _, open := <-reports:
		assert.False(t, open)
	case <-time.After(2 * time.Second):
		t.Fatal("report channel not closed after cancel")
	}
}

func TestHeartbeat(t *testing.T) {
	client, mr := setupTestClient(t)
	ctx := context.Background()

	alive, err := client.Alive(ctx, "peer-1")
	require.NoError(t, err)
	assert.False(t, alive)

	require.NoError(t, client.Heartbeat(ctx, "peer-1"))
	alive, err = client.Alive(ctx, "peer-1")
	require.NoError(t, err)
	assert.True(t, alive)
	assert.Equal(t, DefaultHealthTTL, mr.TTL("ckp:peer:peer-1:health"))

	mr.FastForward(DefaultHealthTTL + time.Second)
	alive, err = client.Alive(ctx, "peer-1")
	require.NoError(t, err)
	assert.False(t, alive)
}

func TestInFlight(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	n, err := client.InFlight(ctx, "peer-1")
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, client.Acquire(ctx, "peer-1"))
	require.NoError(t, client.Acquire(ctx, "peer-1"))
	require.NoError(t, client.Release(ctx, "peer-1"))

	n, err = client.InFlight(ctx, "peer-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestTypes(t *testing.T) {
	task := sampleTask("t1")
	assert.NoError(t, task.IsValid())
	assert.EqualError(t, (&Task{Swarm: "s", Description: "d", SubmittedAt: 1}).IsValid(), "task_id is required")
	assert.EqualError(t, (&Task{TaskID: "t", Description: "d", SubmittedAt: 1}).IsValid(), "swarm is required")
	assert.EqualError(t, (&Task{TaskID: "t", Swarm: "s", SubmittedAt: 1}).IsValid(), "description is required")

	now := time.UnixMilli(10_000)
	assert.Equal(t, 4*time.Second, (&Task{SubmittedAt: 6_000}).Age(now))
	assert.Zero(t, (&Task{}).Age(now))

	assert.EqualError(t, (&Report{TaskID: "t"}).IsValid(), "status is required")
	for status, terminal := range map[string]bool{"completed": true, "failed": true, "working": false, "submitted": false} {
		r := Report{TaskID: "t", Status: status}
		assert.Equal(t, terminal, r.Terminal(), status)
	}
}
