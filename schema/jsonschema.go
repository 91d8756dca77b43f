package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"sort"
	"strings"
)

// JSON is the subset of JSON Schema used for tool and skill input schemas.
// Validate operates on values produced by encoding/json (map[string]any,
// []any, float64, string, bool and nil) plus plain Go numbers.
type JSON struct {
	Type                 string          `json:"type,omitempty" yaml:"type,omitempty"`
	Description          string          `json:"description,omitempty" yaml:"description,omitempty"`
	Properties           map[string]JSON `json:"properties,omitempty" yaml:"properties,omitempty"`
	Required             []string        `json:"required,omitempty" yaml:"required,omitempty"`
	AdditionalProperties *bool           `json:"additionalProperties,omitempty" yaml:"additionalProperties,omitempty"`
	Items                *JSON           `json:"items,omitempty" yaml:"items,omitempty"`
	Enum                 []any           `json:"enum,omitempty" yaml:"enum,omitempty"`
	Default              any             `json:"default,omitempty" yaml:"default,omitempty"`
	Minimum              *float64        `json:"minimum,omitempty" yaml:"minimum,omitempty"`
	Maximum              *float64        `json:"maximum,omitempty" yaml:"maximum,omitempty"`
	MinLength            *int            `json:"minLength,omitempty" yaml:"minLength,omitempty"`
	MaxLength            *int            `json:"maxLength,omitempty" yaml:"maxLength,omitempty"`
	Pattern              string          `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Format               string          `json:"format,omitempty" yaml:"format,omitempty"`
}

// Any creates a schema that accepts any value.
func Any() JSON {
	return JSON{}
}

// String creates a string schema.
func String() JSON {
	return JSON{Type: "string"}
}

// StringWithDesc creates a string schema with a description.
func StringWithDesc(desc string) JSON {
	return JSON{Type: "string", Description: desc}
}

// Int creates an integer schema.
func Int() JSON {
	return JSON{Type: "integer"}
}

// Number creates a number schema.
func Number() JSON {
	return JSON{Type: "number"}
}

// Bool creates a boolean schema.
func Bool() JSON {
	return JSON{Type: "boolean"}
}

// Array creates an array schema with the given item schema.
func Array(items JSON) JSON {
	return JSON{Type: "array", Items: &items}
}

// Object creates an object schema with the given properties and required
// fields.
func Object(properties map[string]JSON, required ...string) JSON {
	return JSON{Type: "object", Properties: properties, Required: required}
}

// Enum creates a schema restricted to the given values.
func Enum(values ...any) JSON {
	return JSON{Enum: values}
}

// FromMap converts a loosely typed schema, as found in manifest documents,
// into a JSON value.
func FromMap(m map[string]any) (JSON, error) {
	var s JSON
	if len(m) == 0 {
		return s, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return s, fmt.Errorf("failed to encode schema: %w", err)
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("failed to decode schema: %w", err)
	}
	return s, nil
}

// ToMap renders the schema as a generic map.
func (s JSON) ToMap() map[string]any {
	data, err := json.Marshal(s)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}

// IsZero reports whether the schema places no constraint at all.
func (s JSON) IsZero() bool {
	return reflect.DeepEqual(s, JSON{})
}

// Validate checks value against the schema. The returned error names the
// offending path, for example "property path: expected string, got float64".
func (s JSON) Validate(value any) error {
	if value == nil {
		if s.Type != "" && s.Type != "null" {
			return fmt.Errorf("expected %s, got null", s.Type)
		}
		return nil
	}

	if len(s.Enum) > 0 {
		return s.validateEnum(value)
	}

	switch s.Type {
	case "":
		return nil
	case "string":
		return s.validateString(value)
	case "integer":
		return s.validateInteger(value)
	case "number":
		return s.validateNumber(value)
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("expected boolean, got %T", value)
		}
		return nil
	case "array":
		return s.validateArray(value)
	case "object":
		return s.validateObject(value)
	case "null":
		return fmt.Errorf("expected null, got %T", value)
	default:
		return fmt.Errorf("unsupported schema type %q", s.Type)
	}
}

func (s JSON) validateString(value any) error {
	str, ok := value.(string)
	if !ok {
		return fmt.Errorf("expected string, got %T", value)
	}
	n := len([]rune(str))
	if s.MinLength != nil && n < *s.MinLength {
		return fmt.Errorf("string length %d is less than minimum %d", n, *s.MinLength)
	}
	if s.MaxLength != nil && n > *s.MaxLength {
		return fmt.Errorf("string length %d is greater than maximum %d", n, *s.MaxLength)
	}
	if s.Pattern != "" {
		re, err := regexp.Compile(s.Pattern)
		if err != nil {
			return fmt.Errorf("invalid pattern: %w", err)
		}
		if !re.MatchString(str) {
			return fmt.Errorf("string does not match pattern %s", s.Pattern)
		}
	}
	return nil
}

func (s JSON) validateInteger(value any) error {
	num, ok := toFloat(value)
	if !ok {
		return fmt.Errorf("expected integer, got %T", value)
	}
	if num != math.Trunc(num) {
		return fmt.Errorf("expected integer, got %v", value)
	}
	return s.validateRange(num)
}

func (s JSON) validateNumber(value any) error {
	num, ok := toFloat(value)
	if !ok {
		return fmt.Errorf("expected number, got %T", value)
	}
	return s.validateRange(num)
}

func (s JSON) validateRange(num float64) error {
	if s.Minimum != nil && num < *s.Minimum {
		return fmt.Errorf("value %v is less than minimum %v", num, *s.Minimum)
	}
	if s.Maximum != nil && num > *s.Maximum {
		return fmt.Errorf("value %v is greater than maximum %v", num, *s.Maximum)
	}
	return nil
}

func (s JSON) validateArray(value any) error {
	items, ok := value.([]any)
	if !ok {
		return fmt.Errorf("expected array, got %T", value)
	}
	if s.Items == nil {
		return nil
	}
	for i, item := range items {
		if err := s.Items.Validate(item); err != nil {
			return fmt.Errorf("item %d: %w", i, err)
		}
	}
	return nil
}

func (s JSON) validateObject(value any) error {
	obj, ok := value.(map[string]any)
	if !ok {
		return fmt.Errorf("expected object, got %T", value)
	}
	for _, req := range s.Required {
		if _, exists := obj[req]; !exists {
			return fmt.Errorf("required field %s is missing", req)
		}
	}

	// Sorted so the reported error is deterministic.
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		prop, exists := s.Properties[key]
		if !exists {
			if s.AdditionalProperties != nil && !*s.AdditionalProperties {
				return fmt.Errorf("property %s is not allowed", key)
			}
			continue
		}
		if err := prop.Validate(obj[key]); err != nil {
			return fmt.Errorf("property %s: %w", key, err)
		}
	}
	return nil
}

func (s JSON) validateEnum(value any) error {
	for _, allowed := range s.Enum {
		if enumEqual(value, allowed) {
			return nil
		}
	}
	vals := make([]string, 0, len(s.Enum))
	for _, v := range s.Enum {
		vals = append(vals, fmt.Sprint(v))
	}
	return fmt.Errorf("value %v is not one of the allowed values: %s", value, strings.Join(vals, ", "))
}

func enumEqual(a, b any) bool {
	fa, aNum := toFloat(a)
	fb, bNum := toFloat(b)
	if aNum && bNum {
		return fa == fb
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
