package model

import (
	"github.com/Carmen-Shannon/oxy-deferred/engine/renderer/frame_graph"
	"github.com/go-gl/mathgl/mgl32"
)

// CubeMesh returns an axis-aligned cube of edge length 1 centered on the origin. Every face has its own four
// vertices so face groups stay independent.
func CubeMesh() *frame_graph.Mesh {
	// Each face: normal axis, then two tangent axes whose cross product points along the normal.
	faces := [6][3]mgl32.Vec3{
		{{1, 0, 0}, {0, 0, -1}, {0, 1, 0}},
		{{-1, 0, 0}, {0, 0, 1}, {0, 1, 0}},
		{{0, 1, 0}, {1, 0, 0}, {0, 0, -1}},
		{{0, -1, 0}, {1, 0, 0}, {0, 0, 1}},
		{{0, 0, 1}, {1, 0, 0}, {0, 1, 0}},
		{{0, 0, -1}, {-1, 0, 0}, {0, 1, 0}},
	}
	mesh := &frame_graph.Mesh{Label: "cube"}
	for _, f := range faces {
		n, u, v := f[0].Mul(0.5), f[1].Mul(0.5), f[2].Mul(0.5)
		base := uint32(len(mesh.Positions))
		mesh.Positions = append(mesh.Positions,
			n.Sub(u).Sub(v),
			n.Add(u).Sub(v),
			n.Add(u).Add(v),
			n.Sub(u).Add(v),
		)
		mesh.Indices = append(mesh.Indices, base, base+1, base+2, base, base+2, base+3)
	}
	return mesh
}

// PlaneMesh returns a square of edge length 1 in the XZ plane facing +Y, centered on the origin.
func PlaneMesh() *frame_graph.Mesh {
	return &frame_graph.Mesh{
		Label:     "plane",
		Positions: []mgl32.Vec3{{-0.5, 0, 0.5}, {0.5, 0, 0.5}, {0.5, 0, -0.5}, {-0.5, 0, -0.5}},
		Indices:   []uint32{0, 1, 2, 0, 2, 3},
	}
}

// NewCube creates a single-part cube model.
//
// Parameters:
//   - shininess: the specular exponent of the cube
//
// Returns:
//   - Model: the cube model
func NewCube(shininess float32) Model {
	return NewModel(WithName("cube"), WithPart("cube", CubeMesh(), shininess))
}

// NewPlane creates a single-part ground plane model.
//
// Parameters:
//   - shininess: the specular exponent of the plane
//
// Returns:
//   - Model: the plane model
func NewPlane(shininess float32) Model {
	return NewModel(WithName("plane"), WithPart("plane", PlaneMesh(), shininess))
}
