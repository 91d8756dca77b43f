package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
agent:
  name: researcher
  version: 2.0.0
  profile: L3
  heartbeat_interval: 5s
log:
  level: debug
manifest: claw.yaml
tools:
  require_approval: [deploy]
quota:
  calls_per_minute: 30
  exhausted: [expensive-tool]
memory:
  backend: redis
  keep_last: 50
swarm:
  backend: redis
  name: research
  worker: true
redis:
  url: redis://localhost:6379
registry:
  endpoints: ["localhost:2379"]
  dial_timeout: 2s
health:
  address: ":50051"
card:
  personality: Careful research assistant
  skills:
    - name: summarize
      description: Summaries
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "ckp-agent.yaml", sample)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "researcher", cfg.Agent.Name)
	assert.Equal(t, ProfileL3, cfg.Agent.GetProfile())
	assert.Equal(t, 5*time.Second, cfg.Agent.GetHeartbeatInterval())
	assert.Equal(t, 5*time.Second, cfg.Agent.GetDrainTimeout())
	assert.Equal(t, slog.LevelDebug, cfg.Log.GetLevel())
	assert.Equal(t, filepath.Join(dir, "claw.yaml"), cfg.Manifest)
	assert.Equal(t, []string{"deploy"}, cfg.Tools.RequireApproval)
	assert.Equal(t, 60*time.Second, cfg.Tools.GetApprovalTimeout())
	assert.Equal(t, 30, cfg.Quota.CallsPerMinute)
	assert.Equal(t, BackendRedis, cfg.Memory.GetBackend())
	assert.Equal(t, 50, cfg.Memory.GetKeepLast())
	assert.Equal(t, "research", cfg.Swarm.GetName())
	assert.Equal(t, 4, cfg.Swarm.GetConcurrency())
	assert.True(t, cfg.Swarm.Worker)
	require.NotNil(t, cfg.Registry)
	assert.Equal(t, 2*time.Second, cfg.Registry.DialTimeout)
	assert.Equal(t, ":50051", cfg.Health.Address)
	require.NotNil(t, cfg.Card)
	assert.Len(t, cfg.Card.Skills, 1)
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "ckp-agent.yml", "agent:\n  name: a\n  version: '1'\n")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "a", cfg.Agent.Name)
	assert.Equal(t, ProfileL1, cfg.Agent.GetProfile())

	_, err = Load(t.TempDir())
	assert.ErrorContains(t, err, "no ckp-agent.yaml or ckp-agent.yml found")

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "bad.yaml", "agent: [unclosed")
	_, err := Load(path)
	assert.ErrorContains(t, err, "failed to parse config file")
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 30*time.Second, cfg.Agent.GetHeartbeatInterval())
	assert.Equal(t, slog.LevelInfo, cfg.Log.GetLevel())
	assert.Equal(t, BackendMemory, cfg.Memory.GetBackend())
	assert.Equal(t, 100, cfg.Memory.GetKeepLast())
	assert.Equal(t, BackendStatic, cfg.Swarm.GetBackend())
	assert.Equal(t, "default", cfg.Swarm.GetName())
	assert.Equal(t, 30*time.Second, cfg.Swarm.GetShutdownTimeout())
	assert.Equal(t, 10*time.Second, cfg.Swarm.GetHeartbeatInterval())
	assert.Equal(t, 5*time.Second, cfg.Redis.GetConnectTimeout())
	assert.Equal(t, 3*time.Second, cfg.Redis.GetReadTimeout())
	assert.Equal(t, 10*time.Second, cfg.Health.GetGracefulTimeout())
	assert.Equal(t, 256, cfg.Telemetry.GetBufferSize())
}

func TestInvalidDurationFallsBack(t *testing.T) {
	a := AgentConfig{HeartbeatInterval: "soon", DrainTimeout: "0s"}
	assert.Equal(t, 30*time.Second, a.GetHeartbeatInterval())
	assert.Equal(t, time.Duration(0), a.GetDrainTimeout())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing name", func(c *Config) { c.Agent.Name = "" }, "agent.name is required"},
		{"unknown profile", func(c *Config) { c.Agent.Profile = "l9" }, `unknown profile "l9"`},
		{"bad duration", func(c *Config) { c.Agent.DrainTimeout = "later" }, "agent.drain_timeout"},
		{"redis memory without url", func(c *Config) { c.Memory.Backend = BackendRedis }, "memory.backend redis requires redis.url"},
		{"unknown swarm backend", func(c *Config) { c.Swarm.Backend = "kafka" }, `unknown backend "kafka"`},
		{"half tls", func(c *Config) { c.Health.TLSCertFile = "cert.pem" }, "must be set together"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}
