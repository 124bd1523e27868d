package tools

import "slices"

// Param describes one property of a tool's object schema.
type Param struct {
	Name        string
	Type        string
	Description string
	Enum        []string
	Required    bool
}

// Schema builds an object JSON schema from params. The "required" list holds
// the names of required params in declaration order and is always present.
func Schema(params ...Param) map[string]any {
	props := make(map[string]any, len(params))
	required := []string{}
	for _, p := range params {
		prop := map[string]any{"type": p.Type}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if len(p.Enum) > 0 {
			prop["enum"] = slices.Clone(p.Enum)
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}
