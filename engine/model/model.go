package model

import (
	"fmt"
	"math"
	"sync"

	"github.com/Carmen-Shannon/oxy-deferred/engine/renderer/frame_graph"
	"github.com/go-gl/mathgl/mgl32"
)

// Part is one sub-part of a model: a mesh drawn with a single material.
type Part struct {
	Name      string
	Mesh      *frame_graph.Mesh
	Shininess float32
}

// Face is a group of a part's triangles that share one object-space normal.
type Face struct {
	Normal mgl32.Vec3
	Mesh   *frame_graph.Mesh
}

type model struct {
	mu *sync.Mutex

	name           string
	parts          []Part
	faces          [][]Face
	boundingRadius float32
}

// Model is a flat-shaded renderable made of sub-parts. Sub-part i of a scene object using the model is drawn
// from Parts()[i].
type Model interface {
	// Name returns the model's debug name.
	Name() string

	// Parts returns a copy of the model's parts.
	Parts() []Part

	// PartCount returns the number of parts.
	PartCount() int

	// Faces returns the flat face groups of a part. The groups are computed on first use and shared.
	//
	// Parameters:
	//   - part: the part index
	//
	// Returns:
	//   - []Face: the face groups, or nil for an out-of-range part
	Faces(part int) []Face

	// BoundingRadius returns the radius of an origin-centered sphere that contains every part.
	BoundingRadius() float32
}

var _ Model = &model{}

// NewModel creates a new Model from the given options.
//
// Parameters:
//   - options: functional options to configure the model
//
// Returns:
//   - Model: the created model
func NewModel(options ...ModelBuilderOption) Model {
	m := &model{
		mu:   &sync.Mutex{},
		name: "model",
	}
	for _, option := range options {
		option(m)
	}
	m.faces = make([][]Face, len(m.parts))
	for _, p := range m.parts {
		if p.Mesh != nil {
			m.boundingRadius = max(m.boundingRadius, ComputeBoundingRadius(p.Mesh.Positions))
		}
	}
	return m
}

func (m *model) Name() string {
	return m.name
}

func (m *model) Parts() []Part {
	return append([]Part(nil), m.parts...)
}

func (m *model) PartCount() int {
	return len(m.parts)
}

func (m *model) Faces(part int) []Face {
	if part < 0 || part >= len(m.parts) {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.faces[part] == nil {
		m.faces[part] = SplitFaces(m.parts[part].Mesh)
	}
	return m.faces[part]
}

func (m *model) BoundingRadius() float32 {
	return m.boundingRadius
}

// SplitFaces groups a mesh's triangles by their normal. Triangles whose normals agree to within a small
// angle share a group; degenerate triangles are dropped.
//
// Parameters:
//   - mesh: the mesh to split
//
// Returns:
//   - []Face: one face per distinct normal, in order of first appearance
func SplitFaces(mesh *frame_graph.Mesh) []Face {
	if mesh == nil {
		return nil
	}
	type quantized [3]int32
	index := make(map[quantized]int)
	var faces []Face
	for t := range mesh.TriangleCount() {
		i0, i1, i2 := mesh.Indices[t*3], mesh.Indices[t*3+1], mesh.Indices[t*3+2]
		a, b, c := mesh.Positions[i0], mesh.Positions[i1], mesh.Positions[i2]
		n := b.Sub(a).Cross(c.Sub(a))
		if n.Len() < 1e-12 {
			continue
		}
		n = n.Normalize()
		key := quantized{quantize(n[0]), quantize(n[1]), quantize(n[2])}
		fi, ok := index[key]
		if !ok {
			fi = len(faces)
			index[key] = fi
			faces = append(faces, Face{
				Normal: n,
				Mesh:   &frame_graph.Mesh{Label: fmt.Sprintf("%s face %d", mesh.Label, fi), Positions: mesh.Positions},
			})
		}
		faces[fi].Mesh.Indices = append(faces[fi].Mesh.Indices, i0, i1, i2)
	}
	return faces
}

func quantize(v float32) int32 {
	return int32(math.Round(float64(v) * 1000))
}
