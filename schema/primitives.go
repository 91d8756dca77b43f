package schema

// Version is the primitive schema version every document declares in its
// claw field.
const Version = "0.2.0"

// Kind names a primitive document type.
type Kind string

// Primitive kinds.
const (
	KindIdentity  Kind = "Identity"
	KindProvider  Kind = "Provider"
	KindChannel   Kind = "Channel"
	KindTool      Kind = "Tool"
	KindSkill     Kind = "Skill"
	KindMemory    Kind = "Memory"
	KindSandbox   Kind = "Sandbox"
	KindPolicy    Kind = "Policy"
	KindSwarm     Kind = "Swarm"
	KindTelemetry Kind = "Telemetry"
	KindClaw      Kind = "Claw"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindIdentity, KindProvider, KindChannel, KindTool, KindSkill, KindMemory,
		KindSandbox, KindPolicy, KindSwarm, KindTelemetry, KindClaw:
		return true
	}
	return false
}

// Metadata is shared by every document.
type Metadata struct {
	Name        string            `json:"name" yaml:"name"`
	Version     string            `json:"version,omitempty" yaml:"version,omitempty"`
	Labels      map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
	Annotations map[string]any    `json:"annotations,omitempty" yaml:"annotations,omitempty"`
}

// Identity

type IdentitySpec struct {
	Personality  string            `json:"personality" yaml:"personality"`
	ContextFiles map[string]string `json:"context_files,omitempty" yaml:"context_files,omitempty"`
	Locale       string            `json:"locale,omitempty" yaml:"locale,omitempty"`
	Capabilities []string          `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
	// Autonomy is observer, supervised or autonomous. Empty means supervised.
	Autonomy string `json:"autonomy,omitempty" yaml:"autonomy,omitempty"`
}

// Provider

type ProviderAuth struct {
	Type      string `json:"type" yaml:"type"`
	SecretRef string `json:"secret_ref,omitempty" yaml:"secret_ref,omitempty"`
}

type ProviderLimits struct {
	TokensPerDay      int `json:"tokens_per_day,omitempty" yaml:"tokens_per_day,omitempty"`
	TokensPerRequest  int `json:"tokens_per_request,omitempty" yaml:"tokens_per_request,omitempty"`
	RequestsPerMinute int `json:"requests_per_minute,omitempty" yaml:"requests_per_minute,omitempty"`
	MaxContextWindow  int `json:"max_context_window,omitempty" yaml:"max_context_window,omitempty"`
}

type RetryConfig struct {
	MaxAttempts    int    `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`
	Backoff        string `json:"backoff,omitempty" yaml:"backoff,omitempty"`
	InitialDelayMS int    `json:"initial_delay_ms,omitempty" yaml:"initial_delay_ms,omitempty"`
}

type ProviderSpec struct {
	Protocol     string          `json:"protocol" yaml:"protocol"`
	Endpoint     string          `json:"endpoint" yaml:"endpoint"`
	Model        string          `json:"model" yaml:"model"`
	Auth         ProviderAuth    `json:"auth" yaml:"auth"`
	Streaming    bool            `json:"streaming,omitempty" yaml:"streaming,omitempty"`
	Limits       *ProviderLimits `json:"limits,omitempty" yaml:"limits,omitempty"`
	Retry        *RetryConfig    `json:"retry,omitempty" yaml:"retry,omitempty"`
	Capabilities []string        `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
	Transport    string          `json:"transport,omitempty" yaml:"transport,omitempty"`
}

// Channel

type ChannelAccessControl struct {
	Mode       string   `json:"mode" yaml:"mode"`
	AllowedIDs []string `json:"allowed_ids,omitempty" yaml:"allowed_ids,omitempty"`
}

type ChannelSpec struct {
	Type          string                `json:"type" yaml:"type"`
	Transport     string                `json:"transport" yaml:"transport"`
	Auth          map[string]string     `json:"auth,omitempty" yaml:"auth,omitempty"`
	AccessControl *ChannelAccessControl `json:"access_control,omitempty" yaml:"access_control,omitempty"`
	Processing    map[string]any        `json:"processing,omitempty" yaml:"processing,omitempty"`
	Features      map[string]bool       `json:"features,omitempty" yaml:"features,omitempty"`
	Trigger       map[string]any        `json:"trigger,omitempty" yaml:"trigger,omitempty"`
}

// Tool

type MCPSource struct {
	URI      string `json:"uri" yaml:"uri"`
	ToolName string `json:"tool_name,omitempty" yaml:"tool_name,omitempty"`
}

type ToolSpec struct {
	Description  string         `json:"description,omitempty" yaml:"description,omitempty"`
	InputSchema  map[string]any `json:"input_schema,omitempty" yaml:"input_schema,omitempty"`
	OutputSchema map[string]any `json:"output_schema,omitempty" yaml:"output_schema,omitempty"`
	SandboxRef   string         `json:"sandbox_ref,omitempty" yaml:"sandbox_ref,omitempty"`
	PolicyRef    string         `json:"policy_ref,omitempty" yaml:"policy_ref,omitempty"`
	MCPSource    *MCPSource     `json:"mcp_source,omitempty" yaml:"mcp_source,omitempty"`
	// Annotations carries readOnlyHint, destructiveHint, idempotentHint,
	// openWorldHint and any vendor keys.
	Annotations map[string]any `json:"annotations,omitempty" yaml:"annotations,omitempty"`
	TimeoutMS   int            `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
	Retry       *RetryConfig   `json:"retry,omitempty" yaml:"retry,omitempty"`
	Composite   bool           `json:"composite,omitempty" yaml:"composite,omitempty"`
	SkillRef    string         `json:"skill_ref,omitempty" yaml:"skill_ref,omitempty"`
}

// Skill

type SkillPermissions struct {
	Network          bool   `json:"network,omitempty" yaml:"network,omitempty"`
	Filesystem       string `json:"filesystem,omitempty" yaml:"filesystem,omitempty"`
	ApprovalRequired bool   `json:"approval_required,omitempty" yaml:"approval_required,omitempty"`
}

type SkillSpec struct {
	Description   string            `json:"description" yaml:"description"`
	ToolsRequired []string          `json:"tools_required" yaml:"tools_required"`
	Instruction   string            `json:"instruction" yaml:"instruction"`
	InputSchema   map[string]any    `json:"input_schema,omitempty" yaml:"input_schema,omitempty"`
	OutputSchema  map[string]any    `json:"output_schema,omitempty" yaml:"output_schema,omitempty"`
	Permissions   *SkillPermissions `json:"permissions,omitempty" yaml:"permissions,omitempty"`
}

// Memory

type Retention struct {
	MaxAge     string `json:"max_age,omitempty" yaml:"max_age,omitempty"`
	MaxEntries int    `json:"max_entries,omitempty" yaml:"max_entries,omitempty"`
}

type Compaction struct {
	Enabled  bool   `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Strategy string `json:"strategy,omitempty" yaml:"strategy,omitempty"`
}

type MemoryStore struct {
	Name       string      `json:"name" yaml:"name"`
	Type       string      `json:"type" yaml:"type"`
	Backend    string      `json:"backend,omitempty" yaml:"backend,omitempty"`
	Retention  *Retention  `json:"retention,omitempty" yaml:"retention,omitempty"`
	Compaction *Compaction `json:"compaction,omitempty" yaml:"compaction,omitempty"`
	Scope      string      `json:"scope,omitempty" yaml:"scope,omitempty"`
	Path       string      `json:"path,omitempty" yaml:"path,omitempty"`
}

type MemorySpec struct {
	Stores []MemoryStore `json:"stores" yaml:"stores"`
}

// Sandbox

type SSRFProtection struct {
	Enabled         bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	BlockPrivateIPs bool `json:"block_private_ips,omitempty" yaml:"block_private_ips,omitempty"`
	DNSPinning      bool `json:"dns_pinning,omitempty" yaml:"dns_pinning,omitempty"`
}

type NetworkCapability struct {
	// Mode is deny, allowlist or allow-all.
	Mode           string          `json:"mode,omitempty" yaml:"mode,omitempty"`
	AllowedHosts   []string        `json:"allowed_hosts,omitempty" yaml:"allowed_hosts,omitempty"`
	SSRFProtection *SSRFProtection `json:"ssrf_protection,omitempty" yaml:"ssrf_protection,omitempty"`
}

type MountPath struct {
	Path string `json:"path" yaml:"path"`
	// Permissions is ro or rw.
	Permissions string `json:"permissions" yaml:"permissions"`
}

type FilesystemCapability struct {
	// Mode is deny, read-only, scoped or full.
	Mode        string      `json:"mode,omitempty" yaml:"mode,omitempty"`
	MountPaths  []MountPath `json:"mount_paths,omitempty" yaml:"mount_paths,omitempty"`
	DeniedPaths []string    `json:"denied_paths,omitempty" yaml:"denied_paths,omitempty"`
}

type ShellCapability struct {
	// Mode is deny, restricted or full.
	Mode            string   `json:"mode,omitempty" yaml:"mode,omitempty"`
	BlockedCommands []string `json:"blocked_commands,omitempty" yaml:"blocked_commands,omitempty"`
	BlockedPatterns []string `json:"blocked_patterns,omitempty" yaml:"blocked_patterns,omitempty"`
}

type SandboxCapabilities struct {
	Network    *NetworkCapability    `json:"network,omitempty" yaml:"network,omitempty"`
	Filesystem *FilesystemCapability `json:"filesystem,omitempty" yaml:"filesystem,omitempty"`
	Secrets    map[string]any        `json:"secrets,omitempty" yaml:"secrets,omitempty"`
	Shell      *ShellCapability      `json:"shell,omitempty" yaml:"shell,omitempty"`
}

type ResourceLimits struct {
	MemoryMB       int `json:"memory_mb,omitempty" yaml:"memory_mb,omitempty"`
	CPUShares      int `json:"cpu_shares,omitempty" yaml:"cpu_shares,omitempty"`
	MaxProcesses   int `json:"max_processes,omitempty" yaml:"max_processes,omitempty"`
	MaxOpenFiles   int `json:"max_open_files,omitempty" yaml:"max_open_files,omitempty"`
	TimeoutMS      int `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
	MaxOutputBytes int `json:"max_output_bytes,omitempty" yaml:"max_output_bytes,omitempty"`
}

type SandboxSpec struct {
	// Level is none, process, wasm, container or vm.
	Level          string               `json:"level" yaml:"level"`
	Runtime        string               `json:"runtime,omitempty" yaml:"runtime,omitempty"`
	Capabilities   *SandboxCapabilities `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
	ResourceLimits *ResourceLimits      `json:"resource_limits,omitempty" yaml:"resource_limits,omitempty"`
}

// Policy

// Policy rule actions.
const (
	ActionAllow           = "allow"
	ActionDeny            = "deny"
	ActionRequireApproval = "require-approval"
	ActionAuditOnly       = "audit-only"
)

// Policy rule scopes.
const (
	ScopeTool     = "tool"
	ScopeCategory = "category"
	ScopeAll      = "all"
)

type RuleMatch struct {
	Annotations map[string]any `json:"annotations,omitempty" yaml:"annotations,omitempty"`
	Category    string         `json:"category,omitempty" yaml:"category,omitempty"`
	// Tool names a single tool for tool-scoped rules.
	Tool string `json:"tool,omitempty" yaml:"tool,omitempty"`
}

type RuleApproval struct {
	TimeoutSeconds int `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`
	// DefaultIfTimeout is deny or allow.
	DefaultIfTimeout string `json:"default_if_timeout,omitempty" yaml:"default_if_timeout,omitempty"`
}

type RuleRateLimit struct {
	CostPerDayUSD float64 `json:"cost_per_day_usd,omitempty" yaml:"cost_per_day_usd,omitempty"`
	TokensPerDay  int     `json:"tokens_per_day,omitempty" yaml:"tokens_per_day,omitempty"`
}

type PolicyRule struct {
	ID       string        `json:"id" yaml:"id"`
	Action   string        `json:"action" yaml:"action"`
	Scope    string        `json:"scope" yaml:"scope"`
	Match    *RuleMatch    `json:"match,omitempty" yaml:"match,omitempty"`
	Reason   string        `json:"reason,omitempty" yaml:"reason,omitempty"`
	Approval *RuleApproval `json:"approval,omitempty" yaml:"approval,omitempty"`
	// Conditions holds path_within and an optional CEL expression under
	// "when".
	Conditions map[string]any `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	RateLimit  *RuleRateLimit `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`
}

type PolicyRateLimits struct {
	ToolCallsPerMinute int     `json:"tool_calls_per_minute,omitempty" yaml:"tool_calls_per_minute,omitempty"`
	TokensPerHour      int     `json:"tokens_per_hour,omitempty" yaml:"tokens_per_hour,omitempty"`
	CostPerDayUSD      float64 `json:"cost_per_day_usd,omitempty" yaml:"cost_per_day_usd,omitempty"`
}

type AuditConfig struct {
	LogInputs    bool   `json:"log_inputs,omitempty" yaml:"log_inputs,omitempty"`
	LogOutputs   bool   `json:"log_outputs,omitempty" yaml:"log_outputs,omitempty"`
	LogApprovals bool   `json:"log_approvals,omitempty" yaml:"log_approvals,omitempty"`
	Retention    string `json:"retention,omitempty" yaml:"retention,omitempty"`
	Destination  string `json:"destination,omitempty" yaml:"destination,omitempty"`
}

type PolicySpec struct {
	// Rules are evaluated in order; the first match wins.
	Rules           []PolicyRule      `json:"rules" yaml:"rules"`
	PromptInjection map[string]any    `json:"prompt_injection,omitempty" yaml:"prompt_injection,omitempty"`
	SecretScanning  map[string]any    `json:"secret_scanning,omitempty" yaml:"secret_scanning,omitempty"`
	InputValidation map[string]any    `json:"input_validation,omitempty" yaml:"input_validation,omitempty"`
	RateLimits      *PolicyRateLimits `json:"rate_limits,omitempty" yaml:"rate_limits,omitempty"`
	Audit           *AuditConfig      `json:"audit,omitempty" yaml:"audit,omitempty"`
}

// Swarm

type SwarmAgent struct {
	IdentityRef string `json:"identity_ref" yaml:"identity_ref"`
	Role        string `json:"role" yaml:"role"`
	ProviderRef string `json:"provider_ref,omitempty" yaml:"provider_ref,omitempty"`
	Count       int    `json:"count,omitempty" yaml:"count,omitempty"`
}

type Concurrency struct {
	MaxParallel           int  `json:"max_parallel,omitempty" yaml:"max_parallel,omitempty"`
	SequentialWithinAgent bool `json:"sequential_within_agent,omitempty" yaml:"sequential_within_agent,omitempty"`
}

type SwarmCoordination struct {
	MessagePassing string      `json:"message_passing" yaml:"message_passing"`
	Backend        string      `json:"backend" yaml:"backend"`
	Concurrency    Concurrency `json:"concurrency" yaml:"concurrency"`
}

type SwarmAggregation struct {
	Strategy  string `json:"strategy" yaml:"strategy"`
	CostAware bool   `json:"cost_aware,omitempty" yaml:"cost_aware,omitempty"`
	TimeoutMS int    `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
}

type SwarmSpec struct {
	Topology       string            `json:"topology" yaml:"topology"`
	Agents         []SwarmAgent      `json:"agents" yaml:"agents"`
	Coordination   SwarmCoordination `json:"coordination" yaml:"coordination"`
	Aggregation    SwarmAggregation  `json:"aggregation" yaml:"aggregation"`
	Failure        map[string]any    `json:"failure,omitempty" yaml:"failure,omitempty"`
	ResourceLimits map[string]any    `json:"resource_limits,omitempty" yaml:"resource_limits,omitempty"`
}

// Telemetry

type TelemetryExporter struct {
	// Type is otlp, file, sqlite, webhook or console.
	Type     string `json:"type" yaml:"type"`
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Path     string `json:"path,omitempty" yaml:"path,omitempty"`
}

type TelemetryEvents struct {
	ToolCalls bool `json:"tool_calls,omitempty" yaml:"tool_calls,omitempty"`
	MemoryOps bool `json:"memory_ops,omitempty" yaml:"memory_ops,omitempty"`
	SwarmOps  bool `json:"swarm_ops,omitempty" yaml:"swarm_ops,omitempty"`
	Lifecycle bool `json:"lifecycle,omitempty" yaml:"lifecycle,omitempty"`
	Errors    bool `json:"errors,omitempty" yaml:"errors,omitempty"`
}

type TelemetrySpec struct {
	Exporters []TelemetryExporter `json:"exporters" yaml:"exporters"`
	Events    *TelemetryEvents    `json:"events,omitempty" yaml:"events,omitempty"`
	Sampling  map[string]any      `json:"sampling,omitempty" yaml:"sampling,omitempty"`
	Redaction map[string]bool     `json:"redaction,omitempty" yaml:"redaction,omitempty"`
}

// Manifest

// ManifestSpec is the spec of a Claw document. Every entry is either a
// reference (file path or claw:// URI) or an inline spec.
type ManifestSpec struct {
	Identity  Ref[IdentitySpec]   `json:"identity" yaml:"identity"`
	Providers []Ref[ProviderSpec] `json:"providers" yaml:"providers"`
	Channels  []Ref[ChannelSpec]  `json:"channels,omitempty" yaml:"channels,omitempty"`
	Tools     []Ref[ToolSpec]     `json:"tools,omitempty" yaml:"tools,omitempty"`
	Skills    []Ref[SkillSpec]    `json:"skills,omitempty" yaml:"skills,omitempty"`
	Memory    *Ref[MemorySpec]    `json:"memory,omitempty" yaml:"memory,omitempty"`
	Sandbox   *Ref[SandboxSpec]   `json:"sandbox,omitempty" yaml:"sandbox,omitempty"`
	Policies  []Ref[PolicySpec]   `json:"policies,omitempty" yaml:"policies,omitempty"`
	Swarm     *Ref[SwarmSpec]     `json:"swarm,omitempty" yaml:"swarm,omitempty"`
	Telemetry *Ref[TelemetrySpec] `json:"telemetry,omitempty" yaml:"telemetry,omitempty"`
}
