package recordtype

import (
	"fmt"
	"sort"

	"github.com/quipubase/quipubase-go/internal/apperr"
)

// DefaultMaxDepth is the nested-recursion bound enforced by buildNode.
// The specification requires an implementation-chosen max depth >= 10.
const DefaultMaxDepth = 10

// buildNode walks a decoded JSON Schema fragment and produces the
// corresponding Node, rejecting structures deeper than maxDepth with
// SchemaTooDeep.
func buildNode(schema map[string]any, depth, maxDepth int) (*Node, error) {
	if depth > maxDepth {
		return nil, apperr.Validation("recordtype: schema exceeds max nesting depth %d (SchemaTooDeep)", maxDepth)
	}

	if rawEnum, ok := schema["enum"]; ok {
		values, ok := rawEnum.([]any)
		if !ok {
			return nil, apperr.Validation("recordtype: enum must be a JSON array")
		}
		return &Node{Kind: KindEnum, Enum: values}, nil
	}

	schemaType, _ := schema["type"].(string)
	switch schemaType {
	case "object":
		return buildObjectNode(schema, depth, maxDepth)
	case "array":
		return buildArrayNode(schema, depth, maxDepth)
	case "string":
		return &Node{Kind: KindString}, nil
	case "number":
		return &Node{Kind: KindNumber}, nil
	case "integer":
		return &Node{Kind: KindInteger}, nil
	case "boolean":
		return &Node{Kind: KindBoolean}, nil
	case "null":
		return &Node{Kind: KindNull}, nil
	case "":
		// Schemas with no explicit "type" but a "properties" map are
		// treated as objects, matching common JSON Schema practice.
		if _, hasProps := schema["properties"]; hasProps {
			return buildObjectNode(schema, depth, maxDepth)
		}
		return nil, apperr.Validation("recordtype: schema is missing a \"type\"")
	default:
		return nil, apperr.Validation("recordtype: unsupported schema type %q", schemaType)
	}
}

func buildObjectNode(schema map[string]any, depth, maxDepth int) (*Node, error) {
	rawProps, _ := schema["properties"].(map[string]any)

	names := make([]string, 0, len(rawProps))
	for name := range rawProps {
		names = append(names, name)
	}
	sort.Strings(names)

	fields := make([]*Field, 0, len(names))
	for _, name := range names {
		propSchema, ok := rawProps[name].(map[string]any)
		if !ok {
			return nil, apperr.Validation("recordtype: property %q must be a schema object", name)
		}
		childNode, err := buildNode(propSchema, depth+1, maxDepth)
		if err != nil {
			return nil, err
		}
		fields = append(fields, &Field{Name: name, Type: childNode})
	}

	required := make(map[string]bool)
	if rawRequired, ok := schema["required"].([]any); ok {
		for _, r := range rawRequired {
			name, ok := r.(string)
			if !ok {
				return nil, apperr.Validation("recordtype: required entries must be strings")
			}
			required[name] = true
		}
	}

	return &Node{Kind: KindObject, Fields: fields, Required: required}, nil
}

func buildArrayNode(schema map[string]any, depth, maxDepth int) (*Node, error) {
	itemsSchema, ok := schema["items"].(map[string]any)
	if !ok {
		return nil, apperr.Validation("recordtype: array schema is missing \"items\"")
	}
	items, err := buildNode(itemsSchema, depth+1, maxDepth)
	if err != nil {
		return nil, err
	}
	return &Node{Kind: KindArray, Items: items}, nil
}

// validKind returns a human-readable name for a Kind, used in error
// messages.
func validKind(k Kind) string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindInteger:
		return "integer"
	case KindBoolean:
		return "boolean"
	case KindNull:
		return "null"
	case KindEnum:
		return "enum"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}
