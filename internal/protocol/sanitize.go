package protocol

// disallowedSchemaKeys are the JSON-schema keys the upstream rejects,
// including snake_case variants, per §4.2.
var disallowedSchemaKeys = map[string]bool{
	"$schema":             true,
	"additionalProperties": true,
	"minLength":            true,
	"min_length":           true,
	"maxLength":            true,
	"max_length":           true,
	"minItems":             true,
	"min_items":            true,
	"maxItems":             true,
	"max_items":            true,
	"uniqueItems":          true,
	"unique_items":         true,
	"exclusiveMaximum":     true,
	"exclusive_maximum":    true,
	"exclusiveMinimum":     true,
	"exclusive_minimum":    true,
	"const":                true,
	"anyOf":                true,
	"any_of":               true,
	"oneOf":                true,
	"one_of":               true,
	"allOf":                true,
	"all_of":               true,
}

// SanitizeSchema recursively strips disallowed keys and fills the
// type/properties defaults described in §4.2.
func SanitizeSchema(schema map[string]any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	out := make(map[string]any, len(schema))
	for k, v := range schema {
		if disallowedSchemaKeys[k] {
			continue
		}
		switch val := v.(type) {
		case map[string]any:
			out[k] = SanitizeSchema(val)
		case []any:
			out[k] = sanitizeList(val)
		default:
			out[k] = v
		}
	}
	if _, ok := out["type"]; !ok {
		out["type"] = "object"
	}
	if out["type"] == "object" {
		if _, ok := out["properties"]; !ok {
			out["properties"] = map[string]any{}
		}
	}
	return out
}

func sanitizeList(list []any) []any {
	out := make([]any, len(list))
	for i, v := range list {
		if m, ok := v.(map[string]any); ok {
			out[i] = SanitizeSchema(m)
		} else {
			out[i] = v
		}
	}
	return out
}
