package main

import (
	"errors"
	"fmt"

	"github.com/angelgalvisc/clawkernel/schema"
)

// manifest holds the parts of a CKP manifest bundle the runtime consumes.
// The zero value stands for "no manifest".
type manifest struct {
	bundle      *schema.Bundle
	personality string
	tools       map[string]*schema.ToolSpec
	policies    []*schema.PolicySpec
	sandbox     *schema.SandboxSpec
	memory      *schema.MemorySpec
}

// loadManifest loads and validates the bundle at path, then resolves the
// manifest entries. An empty path yields an empty manifest.
func loadManifest(path string) (*manifest, error) {
	m := &manifest{tools: make(map[string]*schema.ToolSpec)}
	if path == "" {
		return m, nil
	}

	b, err := schema.Load(path)
	if err != nil {
		return nil, err
	}
	if err := b.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest %s: %w", path, err)
	}
	m.bundle = b
	if b.Manifest == nil {
		m.fromPrimitives()
		return m, nil
	}
	if err := m.resolve(); err != nil {
		return nil, fmt.Errorf("invalid manifest %s: %w", path, err)
	}
	return m, nil
}

// fromPrimitives uses loose primitive documents when the file has no Claw
// manifest.
func (m *manifest) fromPrimitives() {
	for name, doc := range m.bundle.Primitives[schema.KindTool] {
		if spec, ok := doc.Spec.(*schema.ToolSpec); ok {
			m.tools[name] = spec
		}
	}
	for _, doc := range m.bundle.Primitives[schema.KindPolicy] {
		if spec, ok := doc.Spec.(*schema.PolicySpec); ok {
			m.policies = append(m.policies, spec)
		}
	}
	for _, doc := range m.bundle.Primitives[schema.KindSandbox] {
		if spec, ok := doc.Spec.(*schema.SandboxSpec); ok {
			m.sandbox = spec
		}
	}
	for _, doc := range m.bundle.Primitives[schema.KindMemory] {
		if spec, ok := doc.Spec.(*schema.MemorySpec); ok {
			m.memory = spec
		}
	}
	for _, doc := range m.bundle.Primitives[schema.KindIdentity] {
		if spec, ok := doc.Spec.(*schema.IdentitySpec); ok {
			m.personality = spec.Personality
		}
	}
}

func (m *manifest) resolve() error {
	b := m.bundle
	spec, ok := b.Manifest.Spec.(*schema.ManifestSpec)
	if !ok {
		return fmt.Errorf("claw document has unexpected spec type %T", b.Manifest.Spec)
	}

	var errs []error
	if identity, err := schema.ResolveSpec(b, schema.KindIdentity, spec.Identity); err != nil {
		errs = append(errs, err)
	} else {
		m.personality = identity.Personality
	}

	for _, ref := range spec.Tools {
		t, err := schema.ResolveSpec(b, schema.KindTool, ref)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		name := ref.Name
		if name == "" {
			name = refName(b, schema.KindTool, ref.Path)
		}
		if name != "" {
			m.tools[name] = t
		}
	}

	for _, ref := range spec.Policies {
		p, err := schema.ResolveSpec(b, schema.KindPolicy, ref)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		m.policies = append(m.policies, p)
	}

	if spec.Sandbox != nil {
		s, err := schema.ResolveSpec(b, schema.KindSandbox, *spec.Sandbox)
		if err != nil {
			errs = append(errs, err)
		} else {
			m.sandbox = s
		}
	}
	if spec.Memory != nil {
		mem, err := schema.ResolveSpec(b, schema.KindMemory, *spec.Memory)
		if err != nil {
			errs = append(errs, err)
		} else {
			m.memory = mem
		}
	}
	return errors.Join(errs...)
}

func refName(b *schema.Bundle, kind schema.Kind, path string) string {
	doc, err := b.Lookup(kind, path)
	if err != nil {
		return ""
	}
	return doc.Metadata.Name
}
