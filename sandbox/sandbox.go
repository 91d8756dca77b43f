// Package sandbox implements the tool pipeline's sandbox gate from a Sandbox
// primitive.
//
// The checker inspects well-known argument names: url, uri, endpoint and
// host for network access; path, file, dir, cwd and paths for filesystem
// access; command and cmd for shell access. Arguments it does not recognise
// are not checked.
package sandbox

import (
	"fmt"
	"log/slog"
	"net/netip"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/angelgalvisc/clawkernel/schema"
	"github.com/angelgalvisc/clawkernel/tool"
)

var (
	networkArgs    = []string{"url", "uri", "endpoint", "host"}
	filesystemArgs = []string{"path", "file", "dir", "cwd"}
	shellArgs      = []string{"command", "cmd"}
	writeArgs      = []string{"content", "data"}
)

// metadataHosts are cloud instance metadata endpoints reachable by name.
var metadataHosts = map[string]bool{
	"metadata.google.internal": true,
	"metadata.azure.internal":  true,
}

// Option configures a Checker.
type Option func(*Checker)

// WithLogger sets the logger used to report denials.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Checker) { c.logger = logger }
}

// Checker implements tool.SandboxChecker.
type Checker struct {
	spec     schema.SandboxSpec
	network  schema.NetworkCapability
	fs       schema.FilesystemCapability
	shell    schema.ShellCapability
	patterns []*regexp.Regexp
	logger   *slog.Logger
}

// New builds a Checker. Blocked shell patterns must be valid regular
// expressions.
func New(spec *schema.SandboxSpec, opts ...Option) (*Checker, error) {
	if spec == nil {
		return nil, fmt.Errorf("sandbox spec is required")
	}
	c := &Checker{spec: *spec, logger: slog.Default()}
	if caps := spec.Capabilities; caps != nil {
		if caps.Network != nil {
			c.network = *caps.Network
		}
		if caps.Filesystem != nil {
			c.fs = *caps.Filesystem
		}
		if caps.Shell != nil {
			c.shell = *caps.Shell
		}
	}
	for _, p := range c.shell.BlockedPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid blocked shell pattern %q: %w", p, err)
		}
		c.patterns = append(c.patterns, re)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Check implements tool.SandboxChecker.
func (c *Checker) Check(name string, args map[string]any) tool.GateResult {
	if msg := c.check(args); msg != "" {
		c.logger.Info("sandbox denied tool call", "tool", name, "reason", msg)
		return tool.Deny("Sandbox denied: " + msg)
	}
	return tool.Allow()
}

func (c *Checker) check(args map[string]any) string {
	for _, key := range networkArgs {
		if raw, ok := args[key].(string); ok && raw != "" {
			if msg := c.checkNetwork(raw); msg != "" {
				return msg
			}
		}
	}

	write := false
	for _, key := range writeArgs {
		if _, ok := args[key]; ok {
			write = true
		}
	}
	for _, p := range pathArgs(args) {
		if msg := c.checkPath(p, write); msg != "" {
			return msg
		}
	}

	for _, key := range shellArgs {
		if cmd, ok := args[key].(string); ok && cmd != "" {
			if msg := c.checkShell(cmd); msg != "" {
				return msg
			}
		}
	}
	return ""
}

func pathArgs(args map[string]any) []string {
	var out []string
	for _, key := range filesystemArgs {
		if p, ok := args[key].(string); ok && p != "" {
			out = append(out, p)
		}
	}
	if list, ok := args["paths"].([]any); ok {
		for _, item := range list {
			if p, ok := item.(string); ok && p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

func (c *Checker) checkNetwork(raw string) string {
	host := hostOf(raw)
	if host == "" {
		return ""
	}
	switch c.network.Mode {
	case "deny":
		return "network access is disabled"
	case "allowlist":
		if !hostAllowed(host, c.network.AllowedHosts) {
			return fmt.Sprintf("host %s is not in the allowlist", host)
		}
	}

	ssrf := c.network.SSRFProtection
	if ssrf == nil || !ssrf.Enabled {
		return ""
	}
	if metadataHosts[strings.ToLower(host)] {
		return fmt.Sprintf("host %s is a metadata endpoint", host)
	}
	addr, err := netip.ParseAddr(strings.Trim(host, "[]"))
	if err != nil {
		return ""
	}
	addr = addr.Unmap()
	if addr.IsLinkLocalUnicast() {
		return fmt.Sprintf("address %s is link-local", addr)
	}
	if ssrf.BlockPrivateIPs && (addr.IsPrivate() || addr.IsLoopback() || addr.IsUnspecified()) {
		return fmt.Sprintf("address %s is private", addr)
	}
	return ""
}

// hostOf extracts the host from a URL or a bare host[:port].
func hostOf(raw string) string {
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return ""
		}
		return u.Hostname()
	}
	if u, err := url.Parse("//" + raw); err == nil && u.Hostname() != "" {
		return u.Hostname()
	}
	return raw
}

func hostAllowed(host string, allowed []string) bool {
	host = strings.ToLower(host)
	for _, a := range allowed {
		a = strings.ToLower(a)
		if a == host {
			return true
		}
		if suffix, ok := strings.CutPrefix(a, "*."); ok && strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}

func (c *Checker) checkPath(p string, write bool) string {
	if c.fs.Mode == "deny" {
		return "filesystem access is disabled"
	}
	if c.fs.Mode == "read-only" && write {
		return "filesystem is read-only"
	}

	cleaned := p
	if strings.HasPrefix(p, "/") {
		cleaned = path.Clean(p)
	}
	for _, denied := range c.fs.DeniedPaths {
		if strings.HasPrefix(denied, "/") {
			if within(cleaned, path.Clean(denied)) {
				return fmt.Sprintf("path %s is denied", p)
			}
			continue
		}
		for _, part := range strings.Split(cleaned, "/") {
			if part != "" && strings.Contains(part, denied) {
				return fmt.Sprintf("path %s matches blocked pattern %s", p, denied)
			}
		}
	}

	if !strings.HasPrefix(cleaned, "/") || len(c.fs.MountPaths) == 0 || c.fs.Mode == "full" {
		return ""
	}
	for _, m := range c.fs.MountPaths {
		if within(cleaned, path.Clean(m.Path)) {
			if write && m.Permissions == "ro" {
				return fmt.Sprintf("mount %s is read-only", m.Path)
			}
			return ""
		}
	}
	return fmt.Sprintf("path %s is outside the mounted paths", p)
}

// within reports whether p equals dir or lies below it.
func within(p, dir string) bool {
	if dir == "/" {
		return true
	}
	return p == dir || strings.HasPrefix(p, dir+"/")
}

var commandSeparators = regexp.MustCompile(`\|\||&&|[;|&\n]`)

func (c *Checker) checkShell(cmd string) string {
	if c.shell.Mode == "deny" {
		return "shell access is disabled"
	}
	for _, segment := range commandSeparators.Split(cmd, -1) {
		fields := strings.Fields(segment)
		if len(fields) == 0 {
			continue
		}
		bin := path.Base(fields[0])
		for _, blocked := range c.shell.BlockedCommands {
			if bin == blocked {
				return fmt.Sprintf("command %s is blocked", bin)
			}
		}
	}
	for _, re := range c.patterns {
		if re.MatchString(cmd) {
			return fmt.Sprintf("command matches blocked pattern %s", re)
		}
	}
	return ""
}
