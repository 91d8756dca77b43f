package tool

import (
	"github.com/angelgalvisc/clawkernel/schema"
)

// Descriptor describes a tool's metadata.
// It provides a snapshot of a tool's configuration without the execution logic.
type Descriptor struct {
	// Name is the unique identifier for the tool.
	Name string `json:"name"`

	// Version is the semantic version of the tool.
	Version string `json:"version"`

	// Description is a human-readable description of what the tool does.
	Description string `json:"description"`

	// Tags are labels for categorizing and discovering the tool.
	Tags []string `json:"tags"`

	// InputSchema describes the accepted arguments.
	InputSchema schema.JSON `json:"input_schema"`

	// Annotations carries behavioural hints.
	Annotations map[string]any `json:"annotations,omitempty"`

	// TimeoutMS is the execution budget in milliseconds.
	TimeoutMS int64 `json:"timeout_ms"`
}

// ToDescriptor converts a Tool to its Descriptor.
func ToDescriptor(t Tool) Descriptor {
	timeout := t.Timeout()
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return Descriptor{
		Name:        t.Name(),
		Version:     t.Version(),
		Description: t.Description(),
		Tags:        t.Tags(),
		InputSchema: t.InputSchema(),
		Annotations: t.Annotations(),
		TimeoutMS:   timeout.Milliseconds(),
	}
}

// BoolAnnotation returns the boolean hint stored under key, or false.
func (d Descriptor) BoolAnnotation(key string) bool {
	v, ok := d.Annotations[key].(bool)
	return ok && v
}
