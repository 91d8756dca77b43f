package tool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelgalvisc/clawkernel/schema"
)

// ExecuteFunc is a function that implements the tool's execution logic.
type ExecuteFunc func(ctx context.Context, args map[string]any) (*Result, error)

// Config holds the configuration for building a Tool.
type Config struct {
	name        string
	version     string
	description string
	tags        []string
	inputSchema schema.JSON
	annotations map[string]any
	timeout     time.Duration
	executeFunc ExecuteFunc
}

// NewConfig creates a new Config with default values.
func NewConfig() *Config {
	return &Config{
		version:     "1.0.0",
		tags:        []string{},
		annotations: map[string]any{},
	}
}

// SetName sets the tool name.
func (c *Config) SetName(name string) *Config {
	c.name = name
	return c
}

// SetVersion sets the tool version.
func (c *Config) SetVersion(version string) *Config {
	c.version = version
	return c
}

// SetDescription sets the tool description.
func (c *Config) SetDescription(desc string) *Config {
	c.description = desc
	return c
}

// SetTags sets the tool tags.
func (c *Config) SetTags(tags []string) *Config {
	c.tags = tags
	return c
}

// SetInputSchema sets the input schema.
func (c *Config) SetInputSchema(s schema.JSON) *Config {
	c.inputSchema = s
	return c
}

// SetAnnotation sets one behavioural hint.
func (c *Config) SetAnnotation(key string, value any) *Config {
	c.annotations[key] = value
	return c
}

// SetTimeout sets the execution budget.
func (c *Config) SetTimeout(d time.Duration) *Config {
	c.timeout = d
	return c
}

// SetExecuteFunc sets the execution function.
func (c *Config) SetExecuteFunc(fn ExecuteFunc) *Config {
	c.executeFunc = fn
	return c
}

// FromSpec fills the config from a Tool primitive.
func (c *Config) FromSpec(name string, spec *schema.ToolSpec) (*Config, error) {
	input, err := schema.FromMap(spec.InputSchema)
	if err != nil {
		return c, fmt.Errorf("tool %s: %w", name, err)
	}
	c.name = name
	c.description = spec.Description
	c.inputSchema = input
	for k, v := range spec.Annotations {
		c.annotations[k] = v
	}
	if spec.TimeoutMS > 0 {
		c.timeout = time.Duration(spec.TimeoutMS) * time.Millisecond
	}
	return c, nil
}

// builtTool is the Tool produced by New.
type builtTool struct {
	name        string
	version     string
	description string
	tags        []string
	inputSchema schema.JSON
	annotations map[string]any
	timeout     time.Duration
	executeFunc ExecuteFunc
}

// New creates a new Tool from the provided Config.
// Returns an error if required fields (name, executeFunc) are missing.
func New(cfg *Config) (Tool, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if cfg.name == "" {
		return nil, errors.New("tool name is required")
	}
	if cfg.executeFunc == nil {
		return nil, errors.New("execute function is required")
	}
	if cfg.timeout < 0 {
		return nil, fmt.Errorf("tool %s: negative timeout", cfg.name)
	}

	return &builtTool{
		name:        cfg.name,
		version:     cfg.version,
		description: cfg.description,
		tags:        cfg.tags,
		inputSchema: cfg.inputSchema,
		annotations: cfg.annotations,
		timeout:     cfg.timeout,
		executeFunc: cfg.executeFunc,
	}, nil
}

// Must is New that panics on error. Intended for static tool tables.
func Must(t Tool, err error) Tool {
	if err != nil {
		panic(err)
	}
	return t
}

func (t *builtTool) Name() string { return t.name }
func (t *builtTool) Version() string { return t.version }
func (t *builtTool) Description() string { return t.description }
func (t *builtTool) Tags() []string { return t.tags }
func (t *builtTool) InputSchema() schema.JSON { return t.inputSchema }
func (t *builtTool) Annotations() map[string]any { return t.annotations }
func (t *builtTool) Timeout() time.Duration { return t.timeout }

// Execute runs the tool's execution function.
func (t *builtTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	return t.executeFunc(ctx, args)
}
