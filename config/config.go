// Package config loads ckp-agent.yaml, the runtime configuration of the
// ckp-agent binary. Durations are Go duration strings; every getter falls
// back to its default when the value is unset or invalid.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/angelgalvisc/clawkernel/a2a"
	"github.com/angelgalvisc/clawkernel/registry"
)

// Profiles select one of the reference agents.
const (
	ProfileL1  = "l1"
	ProfileL2  = "l2"
	ProfileL3  = "l3"
	ProfileA2A = "a2a"
)

// Backends for memory and swarm.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendStatic = "static"
)

// FileNames are the names Load looks for when given a directory.
var FileNames = []string{"ckp-agent.yaml", "ckp-agent.yml"}

// Config is the root of ckp-agent.yaml.
type Config struct {
	Agent     AgentConfig      `yaml:"agent"`
	Log       LogConfig        `yaml:"log,omitempty"`
	Manifest  string           `yaml:"manifest,omitempty"`
	Tools     ToolsConfig      `yaml:"tools,omitempty"`
	Quota     QuotaConfig      `yaml:"quota,omitempty"`
	Memory    MemoryConfig     `yaml:"memory,omitempty"`
	Swarm     SwarmConfig      `yaml:"swarm,omitempty"`
	Redis     *RedisConfig     `yaml:"redis,omitempty"`
	Registry  *registry.Config `yaml:"registry,omitempty"`
	Health    HealthConfig     `yaml:"health,omitempty"`
	Telemetry TelemetryConfig  `yaml:"telemetry,omitempty"`

	// Card describes the agent for A2A discovery. Name and version default
	// to the agent's own.
	Card *a2a.Agent `yaml:"card,omitempty"`
}

// AgentConfig identifies the agent and tunes the lifecycle.
type AgentConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Profile is l1, l2, l3 or a2a. Default: l1
	Profile string `yaml:"profile,omitempty"`

	// HeartbeatInterval, e.g. "30s". "0s" disables heartbeats.
	// Default: 30s
	HeartbeatInterval string `yaml:"heartbeat_interval,omitempty"`

	// DrainTimeout bounds how long shutdown waits for in-flight calls.
	// Default: 5s
	DrainTimeout string `yaml:"drain_timeout,omitempty"`
}

// GetProfile returns the profile or ProfileL1.
func (a AgentConfig) GetProfile() string {
	if a.Profile == "" {
		return ProfileL1
	}
	return strings.ToLower(a.Profile)
}

// GetHeartbeatInterval parses the heartbeat interval.
func (a AgentConfig) GetHeartbeatInterval() time.Duration {
	return parseDuration(a.HeartbeatInterval, 30*time.Second)
}

// GetDrainTimeout parses the drain timeout.
func (a AgentConfig) GetDrainTimeout() time.Duration {
	return parseDuration(a.DrainTimeout, 5*time.Second)
}

// LogConfig configures the stderr logger.
type LogConfig struct {
	// Level is debug, info, warn or error. Default: info
	Level string `yaml:"level,omitempty"`

	// Format is json or text. Default: json
	Format string `yaml:"format,omitempty"`
}

// GetLevel maps Level to a slog level.
func (l LogConfig) GetLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// ToolsConfig tunes the tool pipeline of the l2 and l3 profiles.
type ToolsConfig struct {
	// ApprovalTimeout applies to tools that require approval when no
	// policy rule sets one. Default: 60s
	ApprovalTimeout string `yaml:"approval_timeout,omitempty"`

	// RequireApproval lists tools that always need operator approval.
	RequireApproval []string `yaml:"require_approval,omitempty"`

	// ValidateArguments checks arguments against each tool's input schema.
	ValidateArguments bool `yaml:"validate_arguments,omitempty"`
}

// GetApprovalTimeout parses the approval timeout.
func (t ToolsConfig) GetApprovalTimeout() time.Duration {
	return parseDuration(t.ApprovalTimeout, 60*time.Second)
}

// QuotaConfig configures the quota gate.
type QuotaConfig struct {
	CallsPerMinute     int            `yaml:"calls_per_minute,omitempty"`
	ToolCallsPerMinute map[string]int `yaml:"tool_calls_per_minute,omitempty"`
	DailyCalls         map[string]int `yaml:"daily_calls,omitempty"`

	// Exhausted tools are always denied.
	Exhausted []string `yaml:"exhausted,omitempty"`
}

// MemoryConfig selects the memory store.
type MemoryConfig struct {
	// Backend is memory or redis. Default: memory
	Backend string `yaml:"backend,omitempty"`

	// KeepLast is how many entries compaction keeps. Default: 100
	KeepLast int `yaml:"keep_last,omitempty"`

	// KeyPrefix overrides the Redis key prefix.
	KeyPrefix string `yaml:"key_prefix,omitempty"`
}

// GetBackend returns the backend or BackendMemory.
func (m MemoryConfig) GetBackend() string {
	if m.Backend == "" {
		return BackendMemory
	}
	return m.Backend
}

// GetKeepLast returns KeepLast or 100.
func (m MemoryConfig) GetKeepLast() int {
	if m.KeepLast <= 0 {
		return 100
	}
	return m.KeepLast
}

// SwarmConfig selects the swarm handler.
type SwarmConfig struct {
	// Backend is static or redis. Default: static
	Backend string `yaml:"backend,omitempty"`

	// Name is the default swarm. Default: "default"
	Name string `yaml:"name,omitempty"`

	// Identity is this peer's identity. Default: the agent name
	Identity string `yaml:"identity,omitempty"`

	// Worker runs a local worker that consumes delegated tasks.
	Worker bool `yaml:"worker,omitempty"`

	// Concurrency of the local worker. Default: 4
	Concurrency int `yaml:"concurrency,omitempty"`

	// ShutdownTimeout of the local worker. Default: 30s
	ShutdownTimeout string `yaml:"shutdown_timeout,omitempty"`

	// HeartbeatInterval of the local worker. Default: 10s
	HeartbeatInterval string `yaml:"heartbeat_interval,omitempty"`
}

// GetBackend returns the backend or BackendStatic.
func (s SwarmConfig) GetBackend() string {
	if s.Backend == "" {
		return BackendStatic
	}
	return s.Backend
}

// GetName returns the swarm name or "default".
func (s SwarmConfig) GetName() string {
	if s.Name == "" {
		return "default"
	}
	return s.Name
}

// GetConcurrency returns the configured concurrency or 4.
func (s SwarmConfig) GetConcurrency() int {
	if s.Concurrency <= 0 {
		return 4
	}
	return s.Concurrency
}

// GetShutdownTimeout parses the worker shutdown timeout.
func (s SwarmConfig) GetShutdownTimeout() time.Duration {
	return parseDuration(s.ShutdownTimeout, 30*time.Second)
}

// GetHeartbeatInterval parses the worker heartbeat interval.
func (s SwarmConfig) GetHeartbeatInterval() time.Duration {
	return parseDuration(s.HeartbeatInterval, 10*time.Second)
}

// RedisConfig is the connection used by the redis backends.
type RedisConfig struct {
	URL            string `yaml:"url"`
	ConnectTimeout string `yaml:"connect_timeout,omitempty"`
	ReadTimeout    string `yaml:"read_timeout,omitempty"`
	WriteTimeout   string `yaml:"write_timeout,omitempty"`
}

// GetConnectTimeout parses the connect timeout. Default: 5s
func (r *RedisConfig) GetConnectTimeout() time.Duration {
	if r == nil {
		return 5 * time.Second
	}
	return parseDuration(r.ConnectTimeout, 5*time.Second)
}

// GetReadTimeout parses the read timeout. Default: 3s
func (r *RedisConfig) GetReadTimeout() time.Duration {
	if r == nil {
		return 3 * time.Second
	}
	return parseDuration(r.ReadTimeout, 3*time.Second)
}

// GetWriteTimeout parses the write timeout. Default: 3s
func (r *RedisConfig) GetWriteTimeout() time.Duration {
	if r == nil {
		return 3 * time.Second
	}
	return parseDuration(r.WriteTimeout, 3*time.Second)
}

// HealthConfig configures the gRPC health endpoint. It is disabled when
// Address is empty.
type HealthConfig struct {
	Address         string `yaml:"address,omitempty"`
	TLSCertFile     string `yaml:"tls_cert_file,omitempty"`
	TLSKeyFile      string `yaml:"tls_key_file,omitempty"`
	GracefulTimeout string `yaml:"graceful_timeout,omitempty"`
}

// GetGracefulTimeout parses the graceful stop timeout. Default: 10s
func (h HealthConfig) GetGracefulTimeout() time.Duration {
	return parseDuration(h.GracefulTimeout, 10*time.Second)
}

// TelemetryConfig configures runtime events.
type TelemetryConfig struct {
	// Log writes every event to the logger at debug level.
	Log bool `yaml:"log,omitempty"`

	// Tracing records events as OpenTelemetry spans and counters.
	Tracing bool `yaml:"tracing,omitempty"`

	// ServiceName is the OpenTelemetry service name. Default: the agent name
	ServiceName string `yaml:"service_name,omitempty"`

	// BufferSize bounds queued events. Default: 256
	BufferSize int `yaml:"buffer_size,omitempty"`
}

// GetBufferSize returns BufferSize or 256.
func (t TelemetryConfig) GetBufferSize() int {
	if t.BufferSize <= 0 {
		return 256
	}
	return t.BufferSize
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			Name:    "ckp-agent",
			Version: "0.1.0",
			Profile: ProfileL1,
		},
	}
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if c.Agent.Name == "" {
		errs = append(errs, errors.New("agent.name is required"))
	}
	if c.Agent.Version == "" {
		errs = append(errs, errors.New("agent.version is required"))
	}
	switch c.Agent.GetProfile() {
	case ProfileL1, ProfileL2, ProfileL3, ProfileA2A:
	default:
		errs = append(errs, fmt.Errorf("agent.profile: unknown profile %q", c.Agent.Profile))
	}
	for field, v := range map[string]string{
		"agent.heartbeat_interval": c.Agent.HeartbeatInterval,
		"agent.drain_timeout":      c.Agent.DrainTimeout,
		"tools.approval_timeout":   c.Tools.ApprovalTimeout,
		"swarm.shutdown_timeout":   c.Swarm.ShutdownTimeout,
		"swarm.heartbeat_interval": c.Swarm.HeartbeatInterval,
		"health.graceful_timeout":  c.Health.GracefulTimeout,
	} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
		}
	}
	switch c.Memory.GetBackend() {
	case BackendMemory:
	case BackendRedis:
		if c.Redis == nil || c.Redis.URL == "" {
			errs = append(errs, errors.New("memory.backend redis requires redis.url"))
		}
	default:
		errs = append(errs, fmt.Errorf("memory.backend: unknown backend %q", c.Memory.Backend))
	}
	switch c.Swarm.GetBackend() {
	case BackendStatic:
	case BackendRedis:
		if c.Redis == nil || c.Redis.URL == "" {
			errs = append(errs, errors.New("swarm.backend redis requires redis.url"))
		}
	default:
		errs = append(errs, fmt.Errorf("swarm.backend: unknown backend %q", c.Swarm.Backend))
	}
	if (c.Health.TLSCertFile == "") != (c.Health.TLSKeyFile == "") {
		errs = append(errs, errors.New("health.tls_cert_file and health.tls_key_file must be set together"))
	}
	return errors.Join(errs...)
}

// Load reads a configuration file. If path is a directory, the first of
// FileNames found in it is used. A relative manifest path is resolved
// against the file's directory.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path: %w", err)
	}

	configPath := path
	if info.IsDir() {
		configPath = ""
		for _, name := range FileNames {
			candidate := filepath.Join(path, name)
			if _, err := os.Stat(candidate); err == nil {
				configPath = candidate
				break
			}
		}
		if configPath == "" {
			return nil, fmt.Errorf("no %s found in %s", strings.Join(FileNames, " or "), path)
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if cfg.Manifest != "" && !filepath.IsAbs(cfg.Manifest) {
		cfg.Manifest = filepath.Join(filepath.Dir(configPath), cfg.Manifest)
	}
	return cfg, nil
}
