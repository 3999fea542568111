package model

import "github.com/Carmen-Shannon/oxy-deferred/engine/renderer/frame_graph"

// ModelBuilderOption is a functional option for configuring a Model during construction.
type ModelBuilderOption func(*model)

// WithName sets the model's debug name.
//
// Parameters:
//   - name: the name
//
// Returns:
//   - ModelBuilderOption: functional option to set the name
func WithName(name string) ModelBuilderOption {
	return func(m *model) {
		m.name = name
	}
}

// WithPart appends a sub-part to the model.
//
// Parameters:
//   - name: the part's debug name
//   - mesh: the part's mesh
//   - shininess: the Blinn-Phong specular exponent written into the G-buffer
//
// Returns:
//   - ModelBuilderOption: functional option to append the part
func WithPart(name string, mesh *frame_graph.Mesh, shininess float32) ModelBuilderOption {
	return func(m *model) {
		m.parts = append(m.parts, Part{Name: name, Mesh: mesh, Shininess: shininess})
	}
}
