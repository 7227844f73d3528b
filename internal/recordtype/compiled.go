/*
Package recordtype is the Record Model Compiler (component C): it turns a
JSON Schema document into a runtime "compiled type" built once per schema
and reused for every validate, serialize, deserialize, match, and
project_json_schema call, per the tagged-variant design in §9 of the
specification (Scalar | Array<T> | Object<fields>).

Record values are plain map[string]any. encoding/json marshals Go maps with
keys sorted lexicographically, which makes Serialize deterministic: the same
logical record always produces the same bytes regardless of field
insertion order, which is what makes the round-trip property
(serialize . deserialize == identity on stored bytes) hold.
*/
package recordtype

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/quipubase/quipubase-go/internal/apperr"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// idFieldName is always injected as an optional top-level string field.
const idFieldName = "id"

// Record is a single validated document. It is a plain map so the engine
// never needs per-schema generated Go types.
type Record = map[string]any

// CompiledType is the runtime representation of one collection's schema.
type CompiledType struct {
	root       *Node
	schema     json.RawMessage // the original, caller-supplied schema
	validator  *jsonschema.Schema
	propertyOK map[string]bool // top-level field names allowed on the wire
}

// Compile builds a CompiledType from a raw JSON Schema document. The
// top-level schema must describe a JSON object. An "id" property is
// injected automatically if not already present; it is never required.
func Compile(schema json.RawMessage) (*CompiledType, error) {
	return CompileWithDepth(schema, DefaultMaxDepth)
}

// CompileWithDepth is Compile with an explicit max nesting depth in place
// of DefaultMaxDepth.
func CompileWithDepth(schema json.RawMessage, maxDepth int) (*CompiledType, error) {
	var decoded map[string]any
	dec := json.NewDecoder(bytes.NewReader(schema))
	dec.UseNumber()
	if err := dec.Decode(&decoded); err != nil {
		return nil, apperr.Validation("recordtype: schema is not a JSON object: %v", err)
	}

	if t, _ := decoded["type"].(string); t != "" && t != "object" {
		return nil, apperr.Validation("recordtype: top-level schema must be of type \"object\", got %q", t)
	}
	decoded["type"] = "object"

	withID := injectIDProperty(decoded)

	root, err := buildNode(withID, 0, maxDepth)
	if err != nil {
		return nil, err
	}
	if root.Kind != KindObject {
		return nil, apperr.Validation("recordtype: top-level schema must compile to an object node")
	}

	closed := closeSchema(withID)
	validator, err := compileValidator(closed)
	if err != nil {
		return nil, err
	}

	propertyOK := make(map[string]bool, len(root.Fields))
	for _, f := range root.Fields {
		propertyOK[f.Name] = true
	}

	return &CompiledType{
		root:       root,
		schema:     schema,
		validator:  validator,
		propertyOK: propertyOK,
	}, nil
}

// injectIDProperty returns a deep copy of schema with an "id" string
// property added to "properties" if one is not already declared. It never
// adds "id" to "required".
func injectIDProperty(schema map[string]any) map[string]any {
	out := deepCopyMap(schema)

	props, _ := out["properties"].(map[string]any)
	if props == nil {
		props = map[string]any{}
	} else {
		props = deepCopyMap(props)
	}
	if _, exists := props[idFieldName]; !exists {
		props[idFieldName] = map[string]any{"type": "string"}
	}
	out["properties"] = props
	return out
}

// closeSchema returns a deep copy of schema with additionalProperties set
// to false at every object level, enforcing the closed-by-default policy
// from §4.C.
func closeSchema(schema map[string]any) map[string]any {
	out := deepCopyMap(schema)
	closeSchemaInPlace(out)
	return out
}

func closeSchemaInPlace(schema map[string]any) {
	t, _ := schema["type"].(string)
	_, hasProps := schema["properties"]
	if t == "object" || hasProps {
		if _, set := schema["additionalProperties"]; !set {
			schema["additionalProperties"] = false
		}
		if props, ok := schema["properties"].(map[string]any); ok {
			for _, v := range props {
				if propSchema, ok := v.(map[string]any); ok {
					closeSchemaInPlace(propSchema)
				}
			}
		}
	}
	if t == "array" {
		if itemsSchema, ok := schema["items"].(map[string]any); ok {
			closeSchemaInPlace(itemsSchema)
		}
	}
}

func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case map[string]any:
			out[k] = deepCopyMap(val)
		case []any:
			out[k] = deepCopySlice(val)
		default:
			out[k] = v
		}
	}
	return out
}

func deepCopySlice(s []any) []any {
	out := make([]any, len(s))
	for i, v := range s {
		switch val := v.(type) {
		case map[string]any:
			out[i] = deepCopyMap(val)
		case []any:
			out[i] = deepCopySlice(val)
		default:
			out[i] = v
		}
	}
	return out
}

func compileValidator(schema map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, apperr.Validation("recordtype: failed to marshal closed schema: %v", err)
	}
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft7
	const resourceURL = "collection-schema.json"
	if err := compiler.AddResource(resourceURL, strings.NewReader(string(raw))); err != nil {
		return nil, apperr.Validation("recordtype: invalid schema resource: %v", err)
	}
	compiled, err := compiler.Compile(resourceURL)
	if err != nil {
		return nil, apperr.Validation("recordtype: schema failed to compile: %v", err)
	}
	return compiled, nil
}

// Validate checks payload against the compiled schema and returns the
// resulting Record. Unknown top-level fields and missing required fields
// fail with ValidationError, per the closed-schema and required-field
// policies.
func (c *CompiledType) Validate(payload map[string]any) (Record, error) {
	// Re-decode through json.Number so numeric validation (e.g. integer
	// vs. number) matches what the schema compiler expects.
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, apperr.Validation("recordtype: payload cannot be marshaled: %v", err)
	}
	var decoded any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&decoded); err != nil {
		return nil, apperr.Validation("recordtype: payload is not valid JSON: %v", err)
	}

	if err := c.validator.Validate(decoded); err != nil {
		return nil, apperr.Validation("recordtype: validation failed: %v", err)
	}

	record, ok := decoded.(map[string]any)
	if !ok {
		return nil, apperr.Validation("recordtype: payload must be a JSON object")
	}
	return normalizeNumbers(record), nil
}

// normalizeNumbers converts json.Number leaves back into float64/int64 Go
// values so downstream code (match, serialize) works with ordinary
// comparable types instead of json.Number.
func normalizeNumbers(v any) any {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		f, _ := val.Float64()
		return f
	case map[string]any:
		for k, child := range val {
			val[k] = normalizeNumbers(child)
		}
		return val
	case []any:
		for i, child := range val {
			val[i] = normalizeNumbers(child)
		}
		return val
	default:
		return v
	}
}

// Serialize encodes a Record to its stored byte form.
func (c *CompiledType) Serialize(record Record) ([]byte, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return nil, apperr.Storage(err, "recordtype: failed to serialize record")
	}
	return raw, nil
}

// Deserialize decodes a Record from its stored byte form.
func (c *CompiledType) Deserialize(data []byte) (Record, error) {
	var record map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&record); err != nil {
		return nil, apperr.Storage(err, "recordtype: failed to deserialize record")
	}
	return normalizeNumbers(record).(map[string]any), nil
}

// Match reports whether record satisfies filter, an equality filter map
// over top-level scalar fields. Numeric values are coerced before
// comparison so that, e.g., a filter value of float64(1) matches a stored
// int64(1).
func (c *CompiledType) Match(record Record, filter map[string]any) bool {
	for key, wanted := range filter {
		got, present := record[key]
		if !present {
			return false
		}
		if !scalarEqual(got, wanted) {
			return false
		}
	}
	return true
}

func scalarEqual(a, b any) bool {
	af, aIsNum := toFloat64(a)
	bf, bIsNum := toFloat64(b)
	if aIsNum && bIsNum {
		return af == bf
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// ProjectSchema returns the original defining schema with the injected
// "id" property present, satisfying project_json_schema's round-trip
// contract from §4.C.
func (c *CompiledType) ProjectSchema() (json.RawMessage, error) {
	var decoded map[string]any
	if err := json.Unmarshal(c.schema, &decoded); err != nil {
		return nil, apperr.Storage(err, "recordtype: stored schema is corrupt")
	}
	withID := injectIDProperty(decoded)
	raw, err := json.Marshal(withID)
	if err != nil {
		return nil, apperr.Storage(err, "recordtype: failed to marshal projected schema")
	}
	return raw, nil
}

// RequiredFields returns the top-level required property names.
func (c *CompiledType) RequiredFields() map[string]bool {
	return c.root.Required
}

// AllowsField reports whether name is a declared top-level property.
func (c *CompiledType) AllowsField(name string) bool {
	return c.propertyOK[name]
}
