package sandbox

import "github.com/angelgalvisc/clawkernel/schema"

// CredentialPatterns are path fragments that commonly hold secrets.
var CredentialPatterns = []string{
	".ssh", ".gnupg", ".gpg", ".aws", ".azure", ".gcloud",
	".kube", ".docker", "credentials", ".env", ".netrc",
	".npmrc", ".pypirc", "id_rsa", "id_ed25519", "private_key", ".secret",
}

// ContainerDefaults returns a container sandbox that mounts a per-group
// workspace read-write and the shared and project workspaces read-only,
// blocks credential paths and blocks link-local metadata addresses.
func ContainerDefaults() *schema.SandboxSpec {
	return &schema.SandboxSpec{
		Level:   "container",
		Runtime: "docker",
		Capabilities: &schema.SandboxCapabilities{
			Network: &schema.NetworkCapability{
				Mode:           "allow-all",
				SSRFProtection: &schema.SSRFProtection{Enabled: true},
			},
			Filesystem: &schema.FilesystemCapability{
				Mode: "scoped",
				MountPaths: []schema.MountPath{
					{Path: "/workspace/group", Permissions: "rw"},
					{Path: "/workspace/global", Permissions: "ro"},
					{Path: "/workspace/project", Permissions: "ro"},
				},
				DeniedPaths: append([]string(nil), CredentialPatterns...),
			},
			Shell: &schema.ShellCapability{
				Mode:            "restricted",
				BlockedCommands: []string{"sudo", "su", "mkfs", "shutdown", "reboot"},
				BlockedPatterns: []string{`rm\s+-rf\s+/(\s|$)`},
			},
		},
		ResourceLimits: &schema.ResourceLimits{TimeoutMS: 300_000},
	}
}
