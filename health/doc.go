// Package health provides preflight checks for the resources an agent
// depends on: manifest and certificate files, Redis and etcd endpoints.
//
// Each check returns a Status; Combine folds several into one:
//
//	status := health.Combine(
//	    health.FileCheck("manifest", "agent.claw.yaml"),
//	    health.RedisCheck(ctx, "redis", "redis://localhost:6379"),
//	)
//	if status.IsUnhealthy() {
//	    log.Fatal(status.Message)
//	}
package health
