package translate

import (
	"encoding/json"
)

// schemaKeep is the subset of JSON Schema keywords the upstream accepts in
// function declarations. Everything else is dropped during sanitization.
// Keywords taking subschemas are recursed into, not copied through.
var schemaKeep = map[string]bool{
	"type":        true,
	"format":      true,
	"title":       true,
	"description": true,
	"nullable":    true,
	"enum":        true,
	"minimum":     true,
	"maximum":     true,
	"minItems":    true,
	"maxItems":    true,
	"required":    true,
}

// sanitizeSchema reduces a declared tool parameter schema to the subset
// the upstream accepts. The reduction is lossy on purpose: unsupported
// validation keywords are removed, never rejected. A nil or empty input
// yields a minimal empty object schema.
func sanitizeSchema(raw json.RawMessage) map[string]any {
	empty := map[string]any{"type": "object", "properties": map[string]any{}}
	if len(raw) == 0 {
		return empty
	}
	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil {
		return empty
	}
	out := sanitizeNode(schema)
	if _, ok := out["type"]; !ok {
		out["type"] = "object"
	}
	return out
}

func sanitizeNode(node map[string]any) map[string]any {
	out := make(map[string]any, len(node))

	for key, value := range node {
		switch key {
		case "properties":
			props, ok := value.(map[string]any)
			if !ok {
				continue
			}
			cleaned := make(map[string]any, len(props))
			for name, sub := range props {
				if subMap, ok := sub.(map[string]any); ok {
					cleaned[name] = sanitizeNode(subMap)
				}
			}
			out["properties"] = cleaned
		case "items":
			if subMap, ok := value.(map[string]any); ok {
				out["items"] = sanitizeNode(subMap)
			}
		case "anyOf", "oneOf":
			// oneOf is folded into anyOf; the upstream only knows anyOf.
			variants := sanitizeVariants(value)
			if len(variants) > 0 {
				out["anyOf"] = variants
			}
		case "const":
			// A const is a single-value enum.
			out["enum"] = []any{value}
		case "type":
			normalizeType(out, value)
		default:
			if schemaKeep[key] {
				out[key] = value
			}
		}
	}
	return out
}

func sanitizeVariants(value any) []any {
	list, ok := value.([]any)
	if !ok {
		return nil
	}
	variants := make([]any, 0, len(list))
	for _, item := range list {
		if itemMap, ok := item.(map[string]any); ok {
			variants = append(variants, sanitizeNode(itemMap))
		}
	}
	return variants
}

// normalizeType flattens a type union. ["string","null"] becomes a
// nullable string; a wider union keeps its first non-null member.
func normalizeType(out map[string]any, value any) {
	union, ok := value.([]any)
	if !ok {
		out["type"] = value
		return
	}
	for _, member := range union {
		name, ok := member.(string)
		if !ok {
			continue
		}
		if name == "null" {
			out["nullable"] = true
			continue
		}
		if _, set := out["type"]; !set {
			out["type"] = name
		}
	}
}
