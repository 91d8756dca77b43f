package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelgalvisc/clawkernel/schema"
)

func TestContainerDefaults(t *testing.T) {
	c, err := New(ContainerDefaults())
	require.NoError(t, err)

	tests := []struct {
		name    string
		args    map[string]any
		allowed bool
		reason  string
	}{
		{name: "no args", args: map[string]any{}, allowed: true},
		{name: "public url", args: map[string]any{"url": "https://example.com/page"}, allowed: true},
		{name: "metadata ip", args: map[string]any{"url": "http://169.254.169.254/latest/meta-data"}, reason: "link-local"},
		{name: "metadata host", args: map[string]any{"url": "http://metadata.google.internal/"}, reason: "metadata endpoint"},
		{name: "mapped metadata ip", args: map[string]any{"url": "http://[::ffff:169.254.169.254]/"}, reason: "link-local"},
		{name: "private ip allowed without block_private_ips", args: map[string]any{"url": "http://10.0.0.5/"}, allowed: true},
		{name: "group workspace", args: map[string]any{"path": "/workspace/group/notes.md"}, allowed: true},
		{name: "relative path", args: map[string]any{"path": "notes.md"}, allowed: true},
		{name: "outside mounts", args: map[string]any{"path": "/etc/passwd"}, reason: "outside the mounted paths"},
		{name: "traversal", args: map[string]any{"path": "/workspace/group/../../etc/passwd"}, reason: "outside the mounted paths"},
		{name: "prefix is not a mount", args: map[string]any{"path": "/workspace/groupies/x"}, reason: "outside the mounted paths"},
		{name: "credential pattern", args: map[string]any{"path": "/workspace/group/.ssh/id_rsa"}, reason: "blocked pattern .ssh"},
		{name: "credential in list", args: map[string]any{"paths": []any{"/workspace/group/a", "/workspace/group/.env.local"}}, reason: "blocked pattern .env"},
		{name: "write to read-only mount", args: map[string]any{"path": "/workspace/global/x", "content": "hi"}, reason: "mount /workspace/global is read-only"},
		{name: "write to rw mount", args: map[string]any{"path": "/workspace/group/x", "content": "hi"}, allowed: true},
		{name: "blocked command", args: map[string]any{"command": "ls && sudo rm x"}, reason: "command sudo is blocked"},
		{name: "blocked command by path", args: map[string]any{"command": "/usr/bin/sudo id"}, reason: "command sudo is blocked"},
		{name: "blocked pattern", args: map[string]any{"command": "rm -rf /"}, reason: "blocked pattern"},
		{name: "harmless command", args: map[string]any{"command": "ls -la | wc -l"}, allowed: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := c.Check("tool", tt.args)
			assert.Equal(t, tt.allowed, r.Allowed)
			if !tt.allowed {
				assert.Contains(t, r.Message, "Sandbox denied: ")
				assert.Contains(t, r.Message, tt.reason)
			}
		})
	}
}

func TestNetworkModes(t *testing.T) {
	allowlist, err := New(&schema.SandboxSpec{Level: "process", Capabilities: &schema.SandboxCapabilities{
		Network: &schema.NetworkCapability{
			Mode:           "allowlist",
			AllowedHosts:   []string{"api.example.com", "*.internal.example.com"},
			SSRFProtection: &schema.SSRFProtection{Enabled: true, BlockPrivateIPs: true},
		},
	}})
	require.NoError(t, err)

	assert.True(t, allowlist.Check("fetch", map[string]any{"url": "https://API.example.com/v1"}).Allowed)
	assert.True(t, allowlist.Check("fetch", map[string]any{"host": "svc.internal.example.com:8443"}).Allowed)
	assert.False(t, allowlist.Check("fetch", map[string]any{"url": "https://evil.com"}).Allowed)
	assert.False(t, allowlist.Check("fetch", map[string]any{"url": "https://internal.example.com"}).Allowed)

	private, err := New(&schema.SandboxSpec{Level: "process", Capabilities: &schema.SandboxCapabilities{
		Network: &schema.NetworkCapability{SSRFProtection: &schema.SSRFProtection{Enabled: true, BlockPrivateIPs: true}},
	}})
	require.NoError(t, err)
	for _, u := range []string{"http://10.1.2.3", "http://127.0.0.1:8080", "http://[::1]/", "http://0.0.0.0", "http://192.168.1.1"} {
		assert.False(t, private.Check("fetch", map[string]any{"url": u}).Allowed, u)
	}
	assert.True(t, private.Check("fetch", map[string]any{"url": "http://93.184.216.34"}).Allowed)

	denied, err := New(&schema.SandboxSpec{Level: "process", Capabilities: &schema.SandboxCapabilities{
		Network: &schema.NetworkCapability{Mode: "deny"},
	}})
	require.NoError(t, err)
	assert.Contains(t, denied.Check("fetch", map[string]any{"url": "https://example.com"}).Message, "network access is disabled")
}

func TestFilesystemAndShellModes(t *testing.T) {
	c, err := New(&schema.SandboxSpec{Level: "process", Capabilities: &schema.SandboxCapabilities{
		Filesystem: &schema.FilesystemCapability{Mode: "read-only", DeniedPaths: []string{"/var/secrets"}},
		Shell:      &schema.ShellCapability{Mode: "deny"},
	}})
	require.NoError(t, err)

	assert.True(t, c.Check("read", map[string]any{"path": "/tmp/a"}).Allowed)
	assert.Contains(t, c.Check("write", map[string]any{"path": "/tmp/a", "data": "x"}).Message, "read-only")
	assert.Contains(t, c.Check("read", map[string]any{"path": "/var/secrets/db"}).Message, "path /var/secrets/db is denied")
	assert.Contains(t, c.Check("sh", map[string]any{"cmd": "echo hi"}).Message, "shell access is disabled")

	none, err := New(&schema.SandboxSpec{Level: "process", Capabilities: &schema.SandboxCapabilities{
		Filesystem: &schema.FilesystemCapability{Mode: "deny"},
	}})
	require.NoError(t, err)
	assert.False(t, none.Check("read", map[string]any{"file": "a.txt"}).Allowed)
}

func TestNewErrors(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	_, err = New(&schema.SandboxSpec{Level: "process", Capabilities: &schema.SandboxCapabilities{
		Shell: &schema.ShellCapability{BlockedPatterns: []string{"("}},
	}})
	assert.ErrorContains(t, err, "invalid blocked shell pattern")
}
