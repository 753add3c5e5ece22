package models

import "encoding/json"

// ToolSchema is the model-facing description of one registered tool.
// Immutable once registered.
type ToolSchema struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	// Parameters is a JSON Schema object describing the argument payload.
	Parameters json.RawMessage `json:"parameters"`
	// Surfaces lists the invocation surfaces the tool accepts. Empty means
	// structured only.
	Surfaces []InvocationSurface `json:"surfaces,omitempty"`
}

// SupportsSurface reports whether the schema accepts the given surface.
func (s ToolSchema) SupportsSurface(surface InvocationSurface) bool {
	if len(s.Surfaces) == 0 {
		return surface == SurfaceStructured
	}
	for _, have := range s.Surfaces {
		if have == surface {
			return true
		}
	}
	return false
}
