package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
)

// DecodeParams unmarshals raw params into v. Absent params decode as an
// empty object. Type mismatches are reported as INVALID_PARAMS naming the
// offending field.
func DecodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return InvalidParams(fmt.Sprintf("Invalid param %s: expected %s", typeErr.Field, jsonKind(typeErr.Type)))
		}
		return InvalidParams("Invalid params: " + err.Error())
	}
	return nil
}

// jsonKind names the JSON type a Go type decodes from.
func jsonKind(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Struct, reflect.Map:
		return "object"
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.String:
		return "string"
	case reflect.Bool:
		return "boolean"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return "number"
	}
	return t.String()
}

// ContentBlock is one item of tool or task content. Text blocks carry Text;
// resource blocks carry either a URI or inline Data.
type ContentBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	URI      string `json:"uri,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Data     any    `json:"data,omitempty"`
	Encoding string `json:"encoding,omitempty"`
}

// TextContent returns a text content block.
func TextContent(text string) ContentBlock {
	return ContentBlock{Type: "text", Text: text}
}
