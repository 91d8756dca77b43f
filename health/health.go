package health

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
)

// Status values.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// DefaultDialTimeout bounds network checks when ctx has no deadline.
const DefaultDialTimeout = 5 * time.Second

// Status is the outcome of one check.
type Status struct {
	// Name identifies the checked resource, e.g. "redis".
	Name string `json:"name,omitempty"`

	// Status is one of the Status* constants.
	Status string `json:"status"`

	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// IsHealthy returns true if the status is StatusHealthy.
func (s Status) IsHealthy() bool { return s.Status == StatusHealthy }

// IsDegraded returns true if the status is StatusDegraded.
func (s Status) IsDegraded() bool { return s.Status == StatusDegraded }

// IsUnhealthy returns true if the status is StatusUnhealthy.
func (s Status) IsUnhealthy() bool { return s.Status == StatusUnhealthy }

// String renders the status as "name: status: message".
func (s Status) String() string {
	if s.Name == "" {
		return s.Status + ": " + s.Message
	}
	return s.Name + ": " + s.Status + ": " + s.Message
}

func healthy(name, message string) Status {
	return Status{Name: name, Status: StatusHealthy, Message: message}
}

func unhealthy(name, message string, details map[string]any) Status {
	return Status{Name: name, Status: StatusUnhealthy, Message: message, Details: details}
}

// AddressCheck verifies TCP connectivity to a host:port address.
func AddressCheck(ctx context.Context, name, address string) Status {
	if address == "" {
		return unhealthy(name, "address cannot be empty", nil)
	}
	if _, _, err := net.SplitHostPort(address); err != nil {
		return unhealthy(name, fmt.Sprintf("invalid address %q", address), map[string]any{"error": err.Error()})
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultDialTimeout)
		defer cancel()
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return unhealthy(name, fmt.Sprintf("failed to connect to %s", address), map[string]any{
			"address": address,
			"error":   err.Error(),
		})
	}
	conn.Close()
	return healthy(name, fmt.Sprintf("connected to %s", address))
}

// RedisCheck parses a Redis connection URL and checks that its address
// accepts connections.
func RedisCheck(ctx context.Context, name, rawURL string) Status {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return unhealthy(name, "invalid Redis URL", map[string]any{"error": err.Error()})
	}
	return AddressCheck(ctx, name, opts.Addr)
}

// FileCheck verifies that a regular file exists and is readable.
func FileCheck(name, path string) Status {
	if path == "" {
		return unhealthy(name, "path cannot be empty", nil)
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return unhealthy(name, fmt.Sprintf("%s does not exist", path), map[string]any{"path": path})
		}
		return unhealthy(name, fmt.Sprintf("failed to stat %s", path), map[string]any{
			"path":  path,
			"error": err.Error(),
		})
	}
	if info.IsDir() {
		return unhealthy(name, fmt.Sprintf("%s is a directory", path), map[string]any{"path": path})
	}
	f, err := os.Open(path)
	if err != nil {
		return unhealthy(name, fmt.Sprintf("%s is not readable", path), map[string]any{
			"path":  path,
			"error": err.Error(),
		})
	}
	f.Close()
	return healthy(name, fmt.Sprintf("%s exists", path))
}

// Combine aggregates checks. Any unhealthy check makes the result
// unhealthy; otherwise any degraded check makes it degraded.
func Combine(checks ...Status) Status {
	if len(checks) == 0 {
		return healthy("", "no checks provided")
	}

	var unhealthyChecks, degradedChecks []string
	var healthyCount int
	for _, check := range checks {
		label := check.Name
		if label == "" {
			label = check.Message
		}
		if label == "" {
			label = "unnamed check"
		}
		switch check.Status {
		case StatusUnhealthy:
			unhealthyChecks = append(unhealthyChecks, label)
		case StatusDegraded:
			degradedChecks = append(degradedChecks, label)
		case StatusHealthy:
			healthyCount++
		}
	}

	if len(unhealthyChecks) > 0 {
		return unhealthy("", fmt.Sprintf("%d check(s) failed", len(unhealthyChecks)), map[string]any{
			"total":         len(checks),
			"unhealthy":     len(unhealthyChecks),
			"degraded":      len(degradedChecks),
			"healthy":       healthyCount,
			"failed_checks": unhealthyChecks,
		})
	}
	if len(degradedChecks) > 0 {
		return Status{
			Status:  StatusDegraded,
			Message: fmt.Sprintf("%d check(s) degraded", len(degradedChecks)),
			Details: map[string]any{
				"total":           len(checks),
				"degraded":        len(degradedChecks),
				"healthy":         healthyCount,
				"degraded_checks": degradedChecks,
			},
		}
	}
	return healthy("", fmt.Sprintf("all %d check(s) passed", len(checks)))
}
