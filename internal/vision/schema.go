package vision

// BuildLocateJSONSchema returns a JSON-Schema (draft 2020-12 subset) as a generic map.
// The localization service is asked to answer in this shape and its reply is
// validated locally against the same schema before any box is trusted.
func BuildLocateJSONSchema(fieldIDs []string) map[string]any {
	coord := map[string]any{"type": "number", "minimum": 0.0, "maximum": 1000.0}
	box := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"field_id": map[string]any{"type": "string", "minLength": 1},
			"min_x":    coord,
			"max_x":    coord,
			"min_y":    coord,
			"max_y":    coord,
		},
		"required": []string{"field_id", "min_x", "max_x", "min_y", "max_y"},
	}
	if len(fieldIDs) > 0 {
		box["properties"].(map[string]any)["field_id"] = map[string]any{
			"type": "string",
			"enum": fieldIDs,
		}
	}
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"boxes": map[string]any{"type": "array", "items": box},
		},
		"required": []string{"boxes"},
	}
}

// BuildTextJSONSchema constrains the text-recognition reply: one entry per
// requested field, value string or null when unreadable.
func BuildTextJSONSchema(fieldIDs []string) map[string]any {
	props := map[string]any{}
	for _, id := range fieldIDs {
		props[id] = map[string]any{"type": []string{"string", "null"}}
	}
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           props,
	}
}
