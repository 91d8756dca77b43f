// Package schema defines the CKP primitive documents (Identity, Tool,
// Policy, Sandbox, Memory, Swarm, Telemetry and the Claw manifest) and a
// small JSON Schema subset used to validate tool arguments.
//
// # Documents
//
// Primitive files are YAML streams. Decode reads every document in a
// stream and types its spec by kind:
//
//	docs, err := schema.Decode(strings.NewReader(src))
//	tool := docs[0].Spec.(*schema.ToolSpec)
//
// Load reads a manifest file and resolves the file references it contains
// relative to the manifest:
//
//	bundle, err := schema.Load("agent.claw.yaml")
//	if err := bundle.Validate(); err != nil {
//		return err
//	}
//
// # JSON Schema
//
// Tool input schemas use the JSON type:
//
//	input := schema.Object(map[string]schema.JSON{
//		"path": schema.StringWithDesc("File to read"),
//		"max":  schema.Int(),
//	}, "path")
//
//	err := input.Validate(map[string]any{"path": "/workspace/a.txt"})
//
// Validate works on the values encoding/json produces, so arguments
// decoded from a claw.tool.call request can be checked directly.
package schema
