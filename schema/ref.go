package schema

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Ref is a manifest entry that either points at another document (Path is
// a file path or claw:// URI) or embeds its spec under an "inline" key.
type Ref[T any] struct {
	Path   string
	Name   string
	Inline *T
}

// IsInline reports whether the entry carries its spec inline.
func (r Ref[T]) IsInline() bool {
	return r.Inline != nil
}

type inlineName struct {
	Name string `json:"name" yaml:"name"`
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (r *Ref[T]) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		return node.Decode(&r.Path)
	case yaml.MappingNode:
		var wrapper struct {
			Inline yaml.Node `yaml:"inline"`
		}
		if err := node.Decode(&wrapper); err != nil {
			return err
		}
		if wrapper.Inline.Kind != yaml.MappingNode {
			return fmt.Errorf("line %d: reference must be a string or an {inline: ...} mapping", node.Line)
		}
		var spec T
		if err := wrapper.Inline.Decode(&spec); err != nil {
			return err
		}
		var n inlineName
		if err := wrapper.Inline.Decode(&n); err != nil {
			return err
		}
		r.Inline, r.Name = &spec, n.Name
		return nil
	default:
		return fmt.Errorf("line %d: reference must be a string or an {inline: ...} mapping", node.Line)
	}
}

// MarshalYAML implements yaml.Marshaler.
func (r Ref[T]) MarshalYAML() (any, error) {
	if r.Inline == nil {
		return r.Path, nil
	}
	return map[string]any{"inline": r.Inline}, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Ref[T]) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &r.Path)
	}
	var wrapper struct {
		Inline json.RawMessage `json:"inline"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return err
	}
	if len(wrapper.Inline) == 0 {
		return fmt.Errorf("reference must be a string or an {inline: ...} object")
	}
	var spec T
	if err := json.Unmarshal(wrapper.Inline, &spec); err != nil {
		return err
	}
	var n inlineName
	if err := json.Unmarshal(wrapper.Inline, &n); err != nil {
		return err
	}
	r.Inline, r.Name = &spec, n.Name
	return nil
}

// MarshalJSON implements json.Marshaler.
func (r Ref[T]) MarshalJSON() ([]byte, error) {
	if r.Inline == nil {
		return json.Marshal(r.Path)
	}
	return json.Marshal(map[string]any{"inline": r.Inline})
}
