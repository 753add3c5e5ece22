package models

import "testing"

func TestToolSchema_SupportsSurface(t *testing.T) {
	tests := []struct {
		name     string
		surfaces []InvocationSurface
		surface  InvocationSurface
		want     bool
	}{
		{"empty defaults to structured", nil, SurfaceStructured, true},
		{"empty rejects tagged", nil, SurfaceTagged, false},
		{"explicit structured", []InvocationSurface{SurfaceStructured}, SurfaceStructured, true},
		{"explicit structured rejects tagged", []InvocationSurface{SurfaceStructured}, SurfaceTagged, false},
		{"both surfaces tagged", []InvocationSurface{SurfaceStructured, SurfaceTagged}, SurfaceTagged, true},
		{"both surfaces structured", []InvocationSurface{SurfaceStructured, SurfaceTagged}, SurfaceStructured, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			schema := ToolSchema{Name: "search", Surfaces: tt.surfaces}
			if got := schema.SupportsSurface(tt.surface); got != tt.want {
				t.Errorf("SupportsSurface(%v) = %v, want %v", tt.surface, got, tt.want)
			}
		})
	}
}
