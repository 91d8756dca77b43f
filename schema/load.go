package schema

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Document is one decoded primitive or manifest. Spec holds a pointer to
// the typed spec for Kind, for example *ToolSpec for KindTool.
type Document struct {
	Claw     string   `json:"claw" yaml:"claw"`
	Kind     Kind     `json:"kind" yaml:"kind"`
	Metadata Metadata `json:"metadata" yaml:"metadata"`
	Spec     any      `json:"spec" yaml:"spec"`
}

// UnmarshalYAML decodes the envelope and then the spec into the type
// matching the document kind.
func (d *Document) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		Claw     string    `yaml:"claw"`
		Kind     Kind      `yaml:"kind"`
		Metadata Metadata  `yaml:"metadata"`
		Spec     yaml.Node `yaml:"spec"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	d.Claw, d.Kind, d.Metadata = raw.Claw, raw.Kind, raw.Metadata

	spec, err := newSpec(raw.Kind)
	if err != nil {
		return err
	}
	if raw.Spec.Kind != 0 {
		if err := raw.Spec.Decode(spec); err != nil {
			return fmt.Errorf("%s %q: %w", raw.Kind, raw.Metadata.Name, err)
		}
	}
	d.Spec = spec
	return nil
}

func newSpec(kind Kind) (any, error) {
	switch kind {
	case KindIdentity:
		return &IdentitySpec{}, nil
	case KindProvider:
		return &ProviderSpec{}, nil
	case KindChannel:
		return &ChannelSpec{}, nil
	case KindTool:
		return &ToolSpec{}, nil
	case KindSkill:
		return &SkillSpec{}, nil
	case KindMemory:
		return &MemorySpec{}, nil
	case KindSandbox:
		return &SandboxSpec{}, nil
	case KindPolicy:
		return &PolicySpec{}, nil
	case KindSwarm:
		return &SwarmSpec{}, nil
	case KindTelemetry:
		return &TelemetrySpec{}, nil
	case KindClaw:
		return &ManifestSpec{}, nil
	default:
		return nil, fmt.Errorf("unknown kind %q", kind)
	}
}

// Decode reads every YAML document from r. Empty documents are skipped.
func Decode(r io.Reader) ([]*Document, error) {
	dec := yaml.NewDecoder(r)
	var docs []*Document
	for i := 0; ; i++ {
		var node yaml.Node
		err := dec.Decode(&node)
		if errors.Is(err, io.EOF) {
			return docs, nil
		}
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		if len(node.Content) == 0 || node.Content[0].Tag == "!!null" {
			continue
		}
		var doc Document
		if err := node.Decode(&doc); err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		docs = append(docs, &doc)
	}
}

// Bundle is a set of documents loaded together, typically a manifest plus
// the primitives it references.
type Bundle struct {
	Manifest   *Document
	Primitives map[Kind]map[string]*Document

	dir string
}

// Load reads a bundle from a file. If the file holds a Claw manifest, the
// file references it contains are resolved relative to the file.
func Load(path string) (*Bundle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer f.Close()

	docs, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	b := NewBundle(docs...)
	b.dir = filepath.Dir(path)
	return b, nil
}

// NewBundle indexes docs by kind and name. The last Claw document becomes
// the manifest.
func NewBundle(docs ...*Document) *Bundle {
	b := &Bundle{Primitives: make(map[Kind]map[string]*Document)}
	for _, doc := range docs {
		b.Add(doc)
	}
	return b
}

// Add indexes one document.
func (b *Bundle) Add(doc *Document) {
	if doc.Kind == KindClaw {
		b.Manifest = doc
		return
	}
	byName, ok := b.Primitives[doc.Kind]
	if !ok {
		byName = make(map[string]*Document)
		b.Primitives[doc.Kind] = byName
	}
	byName[doc.Metadata.Name] = doc
}

// Lookup resolves a reference of the given kind. claw://<host>/<kind>/<name>
// URIs and bare names are looked up in the bundle; anything else is treated
// as a file path relative to the manifest and loaded on demand.
func (b *Bundle) Lookup(kind Kind, ref string) (*Document, error) {
	name := ref
	if strings.HasPrefix(ref, "claw://") {
		name = ref[strings.LastIndex(ref, "/")+1:]
	}
	if doc, ok := b.Primitives[kind][name]; ok {
		return doc, nil
	}
	if strings.HasPrefix(ref, "claw://") || b.dir == "" {
		return nil, fmt.Errorf("%s %q not found", kind, ref)
	}

	path := ref
	if !filepath.IsAbs(path) {
		path = filepath.Join(b.dir, path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%s %q not found: %w", kind, ref, err)
	}
	defer f.Close()
	docs, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	for _, doc := range docs {
		if doc.Kind == kind {
			b.Add(doc)
			return doc, nil
		}
	}
	return nil, fmt.Errorf("%s contains no %s document", path, kind)
}

// ResolveSpec returns the spec a manifest entry denotes, following path
// references through Lookup.
func ResolveSpec[T any](b *Bundle, kind Kind, ref Ref[T]) (*T, error) {
	if ref.Inline != nil {
		return ref.Inline, nil
	}
	doc, err := b.Lookup(kind, ref.Path)
	if err != nil {
		return nil, err
	}
	spec, ok := doc.Spec.(*T)
	if !ok {
		return nil, fmt.Errorf("%s %q has unexpected spec type %T", kind, ref.Path, doc.Spec)
	}
	return spec, nil
}

var kebabName = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

// Validate checks the envelope and the required fields of the spec. All
// problems are reported together.
func (d *Document) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if d.Claw != Version {
		add("claw: expected %q, got %q", Version, d.Claw)
	}
	if !d.Kind.Valid() {
		add("kind: unknown kind %q", d.Kind)
	}
	if !kebabName.MatchString(d.Metadata.Name) {
		add("metadata.name: %q is not a kebab-case name", d.Metadata.Name)
	}

	switch spec := d.Spec.(type) {
	case *IdentitySpec:
		if spec.Personality == "" {
			add("spec.personality is required")
		}
		switch spec.Autonomy {
		case "", "observer", "supervised", "autonomous":
		default:
			add("spec.autonomy: unknown level %q", spec.Autonomy)
		}
	case *ProviderSpec:
		if spec.Protocol == "" || spec.Endpoint == "" || spec.Model == "" {
			add("spec.protocol, spec.endpoint and spec.model are required")
		}
		if spec.Auth.Type == "" {
			add("spec.auth.type is required")
		} else if spec.Auth.Type != "none" && spec.Auth.SecretRef == "" {
			add("spec.auth.secret_ref is required when auth.type is %q", spec.Auth.Type)
		}
	case *ToolSpec:
		if spec.MCPSource == nil && (spec.Description == "" || spec.InputSchema == nil) {
			add("spec.description and spec.input_schema are required without mcp_source")
		}
		if spec.Composite && spec.SkillRef == "" {
			add("spec.skill_ref is required for composite tools")
		}
		if _, err := FromMap(spec.InputSchema); err != nil {
			add("spec.input_schema: %v", err)
		}
	case *SkillSpec:
		if spec.Description == "" || spec.Instruction == "" || len(spec.ToolsRequired) == 0 {
			add("spec.description, spec.tools_required and spec.instruction are required")
		}
	case *MemorySpec:
		if len(spec.Stores) == 0 {
			add("spec.stores requires at least one store")
		}
		for i, s := range spec.Stores {
			if s.Name == "" || s.Type == "" {
				add("spec.stores[%d]: name and type are required", i)
			}
		}
	case *SandboxSpec:
		switch spec.Level {
		case "none", "process", "wasm", "container", "vm":
		default:
			add("spec.level: unknown isolation level %q", spec.Level)
		}
	case *PolicySpec:
		for i, rule := range spec.Rules {
			if rule.ID == "" {
				add("spec.rules[%d].id is required", i)
			}
			switch rule.Action {
			case ActionAllow, ActionDeny, ActionRequireApproval, ActionAuditOnly:
			default:
				add("spec.rules[%d].action: unknown action %q", i, rule.Action)
			}
			switch rule.Scope {
			case ScopeTool, ScopeCategory, ScopeAll:
			default:
				add("spec.rules[%d].scope: unknown scope %q", i, rule.Scope)
			}
		}
	case *SwarmSpec:
		if len(spec.Agents) == 0 {
			add("spec.agents requires at least one agent")
		}
	case *TelemetrySpec:
		if len(spec.Exporters) == 0 {
			add("spec.exporters requires at least one exporter")
		}
	case *ManifestSpec:
		if spec.Identity.Path == "" && spec.Identity.Inline == nil {
			add("spec.identity is required")
		}
		if len(spec.Providers) == 0 {
			add("spec.providers requires at least one provider")
		}
	case *ChannelSpec:
		if spec.Type == "" || spec.Transport == "" {
			add("spec.type and spec.transport are required")
		}
	case nil:
		add("spec is required")
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%s %q: %w", d.Kind, d.Metadata.Name, errors.Join(errs...))
}

// Validate checks every document in the bundle and that the manifest's
// references resolve.
func (b *Bundle) Validate() error {
	var errs []error
	if b.Manifest != nil {
		if err := b.Manifest.Validate(); err != nil {
			errs = append(errs, err)
		} else if err := b.resolveAll(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, byName := range b.Primitives {
		for _, doc := range byName {
			if err := doc.Validate(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (b *Bundle) resolveAll() error {
	m := b.Manifest.Spec.(*ManifestSpec)
	var errs []error
	check := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	_, err := ResolveSpec(b, KindIdentity, m.Identity)
	check(err)
	for _, r := range m.Providers {
		_, err := ResolveSpec(b, KindProvider, r)
		check(err)
	}
	for _, r := range m.Tools {
		_, err := ResolveSpec(b, KindTool, r)
		check(err)
	}
	for _, r := range m.Policies {
		_, err := ResolveSpec(b, KindPolicy, r)
		check(err)
	}
	if m.Sandbox != nil {
		_, err := ResolveSpec(b, KindSandbox, *m.Sandbox)
		check(err)
	}
	if m.Memory != nil {
		_, err := ResolveSpec(b, KindMemory, *m.Memory)
		check(err)
	}
	if m.Swarm != nil {
		_, err := ResolveSpec(b, KindSwarm, *m.Swarm)
		check(err)
	}
	return errors.Join(errs...)
}
