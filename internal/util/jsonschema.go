package util

import (
	"encoding/json"
	"reflect"

	"github.com/invopop/jsonschema"
)

// GenerateJSONSchema returns a JSON schema string for the given object type.
// The object should be a pointer to a struct (or slice) to capture fields and tags.
// Definitions are inlined because provider function declarations do not resolve $ref.
func GenerateJSONSchema(obj any) string {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		Anonymous:      true,
	}
	schema := r.Reflect(obj)
	b, _ := json.Marshal(schema)
	return string(b)
}

// WrapSchema nests schema under a single required property. Output tools use
// it so that arrays and scalars can travel as function arguments, which must
// be objects.
func WrapSchema(property, schema string) string {
	var inner map[string]any
	if err := json.Unmarshal([]byte(schema), &inner); err != nil || inner == nil {
		inner = map[string]any{}
	}
	delete(inner, "$schema")
	delete(inner, "$id")
	b, _ := json.Marshal(map[string]any{
		"type":       "object",
		"properties": map[string]any{property: inner},
		"required":   []string{property},
	})
	return string(b)
}

// geminiUnsupported lists JSON schema keywords outside the OpenAPI subset
// accepted by Gemini function declarations and response schemas.
var geminiUnsupported = map[string]struct{}{
	"$schema":              {},
	"$id":                  {},
	"$ref":                 {},
	"$defs":                {},
	"$anchor":              {},
	"definitions":          {},
	"additionalProperties": {},
	"const":                {},
	"examples":             {},
	"default":              {},
	"title":                {},
}

// GeminiSchema decodes schema and removes keywords Gemini rejects, recursively.
func GeminiSchema(schema string) map[string]any {
	var m map[string]any
	if err := json.Unmarshal([]byte(schema), &m); err != nil || m == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return stripKeys(m).(map[string]any)
}

func stripKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			if _, drop := geminiUnsupported[k]; drop {
				continue
			}
			if k == "properties" {
				// Property names are user data, only their schemas are cleaned.
				if props, ok := child.(map[string]any); ok {
					cleaned := make(map[string]any, len(props))
					for name, ps := range props {
						cleaned[name] = stripKeys(ps)
					}
					out[k] = cleaned
					continue
				}
			}
			out[k] = stripKeys(child)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, child := range t {
			out[i] = stripKeys(child)
		}
		return out
	default:
		return v
	}
}

// IsStringType reports whether T is string for generics handling.
func IsStringType[T any]() bool {
	var zero T
	return reflect.TypeOf(zero) == reflect.TypeOf("")
}
