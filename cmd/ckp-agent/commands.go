package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/angelgalvisc/clawkernel/a2a"
	"github.com/angelgalvisc/clawkernel/config"
	"github.com/angelgalvisc/clawkernel/health"
	"github.com/angelgalvisc/clawkernel/serve"
	"github.com/angelgalvisc/clawkernel/tool"
)

// closeTimeout bounds resource cleanup after the agent exits.
const closeTimeout = 10 * time.Second

// ServeCmd runs the agent.
type ServeCmd struct {
	Profile string `short:"p" help:"Reference profile: l1, l2, l3 or a2a (overrides config)"`
	Health  string `help:"gRPC health address, e.g. :50051 (overrides config)"`
}

// Run serves the agent on stdin/stdout until EOF or a termination signal.
func (c *ServeCmd) Run(g *Globals) error {
	cfg, err := g.load()
	if err != nil {
		return err
	}
	if c.Profile != "" {
		cfg.Agent.Profile = c.Profile
	}
	if c.Health != "" {
		cfg.Health.Address = c.Health
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return serveAgent(context.Background(), cfg, newLogger(cfg.Log, os.Stderr))
}

// serveAgent builds the runtime for cfg and serves it until the agent
// exits. Extra options are passed to serve.Run after the configured ones.
func serveAgent(ctx context.Context, cfg *config.Config, logger *slog.Logger, extra ...serve.Option) error {
	m, err := loadManifest(cfg.Manifest)
	if err != nil {
		return err
	}
	rt, err := build(cfg, m, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := rt.Close(closeCtx); err != nil {
			logger.Warn("cleanup failed", "error", err)
		}
	}()

	opts := []serve.Option{serve.WithLogger(logger)}
	if cfg.Health.Address != "" {
		opts = append(opts, serve.WithHealth(&serve.Config{
			Address:         cfg.Health.Address,
			GracefulTimeout: cfg.Health.GetGracefulTimeout(),
			TLSCertFile:     cfg.Health.TLSCertFile,
			TLSKeyFile:      cfg.Health.TLSKeyFile,
		}))
	}
	opts = append(opts, extra...)

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	workerDone := make(chan error, 1)
	if rt.worker != nil {
		go func() { workerDone <- rt.worker.Run(runCtx) }()
	} else {
		workerDone <- nil
	}

	err = serve.Run(runCtx, rt.agent, opts...)
	stop()
	if werr := <-workerDone; werr != nil && !errors.Is(werr, context.Canceled) {
		logger.Warn("swarm worker stopped with error", "error", werr)
	}
	return err
}

// ValidateCmd checks the configuration and CKP manifests without running
// anything.
type ValidateCmd struct {
	Manifests []string `arg:"" optional:"" type:"existingfile" help:"Additional manifest files to validate"`
	CheckDeps bool     `help:"Also check that files, Redis and etcd endpoints are reachable"`
}

// Run validates and reports every problem found.
func (c *ValidateCmd) Run(g *Globals) error {
	return c.validate(g, os.Stdout)
}

func (c *ValidateCmd) validate(g *Globals, out io.Writer) error {
	cfg, err := g.load()
	if err != nil {
		return err
	}

	var errs []error
	if err := cfg.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("config: %w", err))
	} else {
		fmt.Fprintf(out, "config ok: %s %s (profile %s)\n", cfg.Agent.Name, cfg.Agent.Version, cfg.Agent.GetProfile())
	}

	paths := c.Manifests
	if cfg.Manifest != "" {
		paths = append([]string{cfg.Manifest}, paths...)
	}
	for _, path := range paths {
		m, err := loadManifest(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		fmt.Fprintf(out, "manifest ok: %s (%d tools, %d policies)\n", path, len(m.tools), len(m.policies))
	}

	if c.CheckDeps {
		checks := preflight(context.Background(), cfg)
		for _, check := range checks {
			fmt.Fprintln(out, check.String())
		}
		if status := health.Combine(checks...); status.IsUnhealthy() {
			errs = append(errs, fmt.Errorf("dependencies: %s", status.Message))
		}
	}
	return errors.Join(errs...)
}

// preflight checks the external resources cfg refers to.
func preflight(ctx context.Context, cfg *config.Config) []health.Status {
	var checks []health.Status
	if cfg.Manifest != "" {
		checks = append(checks, health.FileCheck("manifest", cfg.Manifest))
	}
	if cfg.Health.TLSCertFile != "" {
		checks = append(checks,
			health.FileCheck("tls_cert", cfg.Health.TLSCertFile),
			health.FileCheck("tls_key", cfg.Health.TLSKeyFile),
		)
	}
	if cfg.Redis != nil && cfg.Redis.URL != "" {
		ctx, cancel := context.WithTimeout(ctx, cfg.Redis.GetConnectTimeout())
		checks = append(checks, health.RedisCheck(ctx, "redis", cfg.Redis.URL))
		cancel()
	}
	if cfg.Registry != nil {
		for _, endpoint := range cfg.Registry.Endpoints {
			checks = append(checks, health.AddressCheck(ctx, "etcd", endpointAddress(endpoint)))
		}
	}
	return checks
}

// endpointAddress strips the scheme etcd endpoints may carry.
func endpointAddress(endpoint string) string {
	if i := strings.Index(endpoint, "://"); i >= 0 {
		return endpoint[i+3:]
	}
	return endpoint
}

// CardCmd prints the A2A agent card projected from the configuration.
type CardCmd struct {
	Profile string `short:"p" help:"Reference profile used to derive skills (overrides config)"`
}

// Run writes the card as indented JSON to stdout.
func (c *CardCmd) Run(g *Globals) error {
	cfg, err := g.load()
	if err != nil {
		return err
	}
	if c.Profile != "" {
		cfg.Agent.Profile = c.Profile
	}
	card, err := agentCard(cfg)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(card)
}

// agentCard projects the configured card. Name, version and personality
// default to the agent's and the manifest's; without configured skills,
// profiles with tools advertise one skill per tool.
func agentCard(cfg *config.Config) (a2a.AgentCard, error) {
	m, err := loadManifest(cfg.Manifest)
	if err != nil {
		return a2a.AgentCard{}, err
	}

	var desc a2a.Agent
	if cfg.Card != nil {
		desc = *cfg.Card
	}
	if desc.Name == "" {
		desc.Name = cfg.Agent.Name
	}
	if desc.Version == "" {
		desc.Version = cfg.Agent.Version
	}
	if desc.Personality == "" {
		desc.Personality = m.personality
	}

	profile := cfg.Agent.GetProfile()
	if desc.Skills == nil && (profile == config.ProfileL2 || profile == config.ProfileL3) {
		tools, err := referenceTools(m.tools)
		if err != nil {
			return a2a.AgentCard{}, err
		}
		for _, t := range tools {
			d := tool.ToDescriptor(t)
			skill := a2a.Skill{
				Name:          d.Name,
				Description:   d.Description,
				ToolsRequired: []string{d.Name},
			}
			if !d.InputSchema.IsZero() {
				skill.InputSchema = d.InputSchema.ToMap()
			}
			desc.Skills = append(desc.Skills, skill)
		}
	}
	return a2a.ProjectAgentCard(desc), nil
}
