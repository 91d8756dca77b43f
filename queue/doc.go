// Package queue provides the Redis primitives behind swarm coordination.
//
// A coordinator delegates work by pushing a Task onto the swarm's task list;
// workers pop tasks, run them and publish a Report on the swarm's report
// channel. Broadcast messages travel on a separate pub/sub channel. Peers
// refresh a health key while they are alive.
//
// # Redis Key Schema
//
//   - ckp:swarm:<swarm>:tasks - List of pending tasks (LPUSH/BRPOP)
//   - ckp:swarm:<swarm>:reports - Pub/Sub channel for task reports
//   - ckp:swarm:<swarm>:broadcast - Pub/Sub channel for broadcast messages
//   - ckp:peer:<identity>:health - String with a TTL, refreshed by Heartbeat
//   - ckp:peer:<identity>:inflight - Integer counter of tasks being worked on
//
// # Usage
//
//	client, err := queue.NewRedisClient(queue.RedisOptions{
//		URL: "redis://localhost:6379",
//	})
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	err = client.Push(ctx, "research", queue.Task{
//		TaskID:      "task-1",
//		Swarm:       "research",
//		Description: "Summarise the findings",
//		SubmittedAt: time.Now().UnixMilli(),
//	})
//
// Tasks are consumed in FIFO order. Pop blocks until a task arrives or the
// context is canceled.
package queue
