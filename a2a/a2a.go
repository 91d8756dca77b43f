// Package a2a projects CKP agent metadata onto A2A discovery objects and maps
// A2A message payloads to and from CKP task messages.
package a2a

import (
	"encoding/json"
	"maps"
	"regexp"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/angelgalvisc/clawkernel/protocol"
	"github.com/angelgalvisc/clawkernel/task"
)

// MetadataKey is the task metadata member that may carry an A2A message.
const MetadataKey = "a2a_message"

const maxDescription = 200

// Part kinds.
const (
	KindText = "text"
	KindData = "data"
	KindURL  = "url"
	KindRaw  = "raw"
)

// SupportedInterface is an endpoint advertised on an agent card.
type SupportedInterface struct {
	URL             string `json:"url" yaml:"url"`
	ProtocolBinding string `json:"protocol_binding" yaml:"protocol_binding"`
	ProtocolVersion string `json:"protocol_version" yaml:"protocol_version"`
}

// Skill describes a CKP skill to project.
type Skill struct {
	Name          string            `json:"name" yaml:"name"`
	Description   string            `json:"description" yaml:"description"`
	Labels        map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
	ToolsRequired []string          `json:"tools_required,omitempty" yaml:"tools_required,omitempty"`
	InputSchema   map[string]any    `json:"input_schema,omitempty" yaml:"input_schema,omitempty"`
	InputModes    []string          `json:"input_modes,omitempty" yaml:"input_modes,omitempty"`
	OutputModes   []string          `json:"output_modes,omitempty" yaml:"output_modes,omitempty"`
}

// Agent describes a CKP agent to project.
type Agent struct {
	Name                 string               `json:"name" yaml:"name"`
	Version              string               `json:"version" yaml:"version"`
	Personality          string               `json:"personality,omitempty" yaml:"personality,omitempty"`
	Interfaces           []SupportedInterface `json:"interfaces,omitempty" yaml:"interfaces,omitempty"`
	Capabilities         map[string]any       `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
	SecuritySchemes      map[string]any       `json:"security_schemes,omitempty" yaml:"security_schemes,omitempty"`
	SecurityRequirements []map[string]any     `json:"security_requirements,omitempty" yaml:"security_requirements,omitempty"`
	DefaultInputModes    []string             `json:"default_input_modes,omitempty" yaml:"default_input_modes,omitempty"`
	DefaultOutputModes   []string             `json:"default_output_modes,omitempty" yaml:"default_output_modes,omitempty"`
	Skills               []Skill              `json:"skills,omitempty" yaml:"skills,omitempty"`
}

// AgentSkill is a skill entry on an A2A agent card.
type AgentSkill struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Tags        []string       `json:"tags,omitempty"`
	InputModes  []string       `json:"input_modes,omitempty"`
	OutputModes []string       `json:"output_modes,omitempty"`
	Extensions  map[string]any `json:"extensions,omitempty"`
}

// AgentCard is the A2A discovery document.
type AgentCard struct {
	Name                 string               `json:"name"`
	Version              string               `json:"version"`
	Description          string               `json:"description,omitempty"`
	SupportedInterfaces  []SupportedInterface `json:"supported_interfaces,omitempty"`
	Capabilities         map[string]any       `json:"capabilities,omitempty"`
	SecuritySchemes      map[string]any       `json:"security_schemes,omitempty"`
	SecurityRequirements []map[string]any     `json:"security_requirements,omitempty"`
	DefaultInputModes    []string             `json:"default_input_modes,omitempty"`
	DefaultOutputModes   []string             `json:"default_output_modes,omitempty"`
	Skills               []AgentSkill         `json:"skills,omitempty"`
}

// Part is one piece of an A2A message. Data holds an object for data parts
// and a base64 string for raw parts.
type Part struct {
	Kind     string `json:"kind"`
	Text     string `json:"text,omitempty"`
	URL      string `json:"url,omitempty"`
	Data     any    `json:"data,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// Message is an A2A message.
type Message struct {
	Role     string         `json:"role"`
	Parts    []Part         `json:"parts"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

var (
	nonSlug    = regexp.MustCompile(`[^a-z0-9-]+`)
	separators = regexp.MustCompile(`[-_]+`)
)

func skillID(name string) string {
	id := nonSlug.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "-")
	return strings.Trim(id, "-")
}

func humanize(name string) string {
	s := strings.TrimSpace(separators.ReplaceAllString(name, " "))
	if s == "" {
		return name
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[size:]
}

func summarize(personality string) string {
	compact := strings.Join(strings.Fields(personality), " ")
	if utf8.RuneCountInString(compact) <= maxDescription {
		return compact
	}
	runes := []rune(compact)
	return string(runes[:maxDescription-3]) + "..."
}

// ProjectSkill converts a CKP skill into an A2A agent skill.
func ProjectSkill(s Skill) AgentSkill {
	out := AgentSkill{
		ID:          skillID(s.Name),
		Name:        humanize(s.Name),
		Description: s.Description,
		InputModes:  s.InputModes,
		OutputModes: s.OutputModes,
	}
	for _, k := range slices.Sorted(maps.Keys(s.Labels)) {
		out.Tags = append(out.Tags, k+":"+s.Labels[k])
	}
	for _, t := range s.ToolsRequired {
		out.Tags = append(out.Tags, "tool:"+t)
	}
	if s.InputSchema != nil {
		out.Extensions = map[string]any{
			"ckp": map[string]any{"input_schema": s.InputSchema},
		}
	}
	return out
}

// ProjectAgentCard converts CKP agent metadata into an A2A agent card.
func ProjectAgentCard(a Agent) AgentCard {
	card := AgentCard{
		Name:                 a.Name,
		Version:              a.Version,
		Description:          summarize(a.Personality),
		SupportedInterfaces:  a.Interfaces,
		Capabilities:         a.Capabilities,
		SecuritySchemes:      a.SecuritySchemes,
		SecurityRequirements: a.SecurityRequirements,
		DefaultInputModes:    a.DefaultInputModes,
		DefaultOutputModes:   a.DefaultOutputModes,
	}
	if a.Skills != nil {
		card.Skills = make([]AgentSkill, 0, len(a.Skills))
		for _, s := range a.Skills {
			card.Skills = append(card.Skills, ProjectSkill(s))
		}
	}
	return card
}

// PartToContent maps an A2A part to a CKP content block. Unknown kinds map
// to a resource block carrying the part data.
func PartToContent(p Part) protocol.ContentBlock {
	switch p.Kind {
	case KindText:
		return protocol.TextContent(p.Text)
	case KindURL:
		return protocol.ContentBlock{Type: "resource", URI: p.URL, MimeType: p.MimeType}
	case KindRaw:
		return protocol.ContentBlock{Type: "resource", Data: p.Data, Encoding: "base64", MimeType: p.MimeType}
	default:
		return protocol.ContentBlock{Type: "resource", Data: p.Data}
	}
}

// ContentToPart maps a CKP content block to an A2A part. Blocks with a URI
// become url parts, string data becomes a raw part and object data a data
// part. Anything else is wrapped whole in a data part.
func ContentToPart(c protocol.ContentBlock) Part {
	if c.Type == "text" {
		return Part{Kind: KindText, Text: c.Text}
	}
	if c.URI != "" {
		return Part{Kind: KindURL, URL: c.URI, MimeType: c.MimeType}
	}
	switch data := c.Data.(type) {
	case string:
		return Part{Kind: KindRaw, Data: data, MimeType: c.MimeType}
	case map[string]any:
		return Part{Kind: KindData, Data: data}
	}
	return Part{Kind: KindData, Data: blockObject(c)}
}

func blockObject(c protocol.ContentBlock) map[string]any {
	b, err := json.Marshal(c)
	if err != nil {
		return map[string]any{"type": c.Type}
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return map[string]any{"type": c.Type}
	}
	return m
}

// ToTaskMessage maps an A2A message to a CKP task message.
func ToTaskMessage(m Message) task.Message {
	content := make([]protocol.ContentBlock, 0, len(m.Parts))
	for _, p := range m.Parts {
		content = append(content, PartToContent(p))
	}
	return task.Message{Role: m.Role, Content: content, Metadata: m.Metadata}
}

// FromTaskMessage maps a CKP task message to an A2A message.
func FromTaskMessage(m task.Message) Message {
	parts := make([]Part, 0, len(m.Content))
	for _, c := range m.Content {
		parts = append(parts, ContentToPart(c))
	}
	return Message{Role: m.Role, Parts: parts, Metadata: m.Metadata}
}

// DecodeTaskMessage reads an A2A message from a decoded JSON value, such as
// a task metadata member, and maps it to a task message. It is a
// task.MessageDecoder.
func DecodeTaskMessage(v any) (task.Message, bool) {
	obj, ok := v.(map[string]any)
	if !ok {
		return task.Message{}, false
	}
	b, err := json.Marshal(obj)
	if err != nil {
		return task.Message{}, false
	}
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return task.Message{}, false
	}
	return ToTaskMessage(m), true
}

// StateToCKP maps an A2A task state to its CKP equivalent. The state models
// are identical.
func StateToCKP(s string) (task.State, bool) {
	st := task.State(s)
	return st, st.Valid()
}

// StateFromCKP maps a CKP task state to its A2A equivalent.
func StateFromCKP(s task.State) string {
	return string(s)
}

// IsSupportedState reports whether s is an A2A task state CKP can carry.
func IsSupportedState(s string) bool {
	return task.State(s).Valid()
}
