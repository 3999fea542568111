package model

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/Carmen-Shannon/oxy-deferred/engine/renderer/frame_graph"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSurfaceUniformLayout(t *testing.T) {
	u := GPUSurfaceUniform{ViewProj: mgl32.Ident4(), Normal: mgl32.Vec3{0, 1, 0}}
	buf := u.Marshal()
	require.Len(t, buf, 80)
	assert.Equal(t, 80, u.Size())
	assert.Equal(t, float32(1), math.Float32frombits(binary.LittleEndian.Uint32(buf[68:])))
	assert.Equal(t, uint32(0), binary.LittleEndian.Uint32(buf[76:]))
}

func TestNormalMatrixMatchesInverseTranspose(t *testing.T) {
	m := mgl32.Translate3D(4, -2, 1).Mul4(mgl32.HomogRotate3DY(0.7)).Mul4(mgl32.Scale3D(2, 0.5, 3))
	n := mgl32.Vec3{0.3, 0.8, -0.5}.Normalize()

	want := m.Mat3().Inv().Transpose().Mul3x1(n).Normalize()
	got := NormalMatrix(m).Mul3x1(n).Normalize()
	assert.InDelta(t, 1, float64(got.Dot(want)), 1e-5)
}

func TestNormalMatrixKeepsFacingUnderMirror(t *testing.T) {
	m := mgl32.Scale3D(-1, 1, 1)
	got := NormalMatrix(m).Mul3x1(mgl32.Vec3{1, 0, 0}).Normalize()
	assert.InDelta(t, -1, float64(got.X()), 1e-6)

	flat := NormalMatrix(mgl32.Scale3D(1, 1, 0)).Mul3x1(mgl32.Vec3{0, 0, 1})
	assert.False(t, math.IsNaN(float64(flat.Len())))
}

func TestCubeSplitsIntoSixOutwardFaces(t *testing.T) {
	cube := NewCube(16)
	require.Equal(t, 1, cube.PartCount())
	faces := cube.Faces(0)
	require.Len(t, faces, 6)

	for _, f := range faces {
		assert.Equal(t, 2, f.Mesh.TriangleCount())
		centroid := mgl32.Vec3{}
		for _, i := range f.Mesh.Indices {
			centroid = centroid.Add(f.Mesh.Positions[i])
		}
		centroid = centroid.Mul(1 / float32(len(f.Mesh.Indices)))
		assert.InDelta(t, 0.5, centroid.Dot(f.Normal), 1e-6, "face %v points outwards", f.Normal)
	}
	assert.Same(t, &faces[0], &cube.Faces(0)[0])
	assert.Nil(t, cube.Faces(1))
}

func TestPlaneFacesUp(t *testing.T) {
	faces := NewPlane(4).Faces(0)
	require.Len(t, faces, 1)
	assert.InDelta(t, 1, faces[0].Normal.Y(), 1e-6)
}

func TestSplitFacesDropsDegenerateTriangles(t *testing.T) {
	mesh := &frame_graph.Mesh{
		Label:     "sliver",
		Positions: []mgl32.Vec3{{0, 0, 0}, {1, 0, 0}, {2, 0, 0}, {0, 1, 0}},
		Indices:   []uint32{0, 1, 2, 0, 1, 3},
	}
	faces := SplitFaces(mesh)
	require.Len(t, faces, 1)
	assert.Equal(t, []uint32{0, 1, 3}, faces[0].Mesh.Indices)
	assert.Nil(t, SplitFaces(nil))
}

func TestBoundingRadius(t *testing.T) {
	m := NewModel(WithPart("cube", CubeMesh(), 1), WithPart("plane", PlaneMesh(), 1))
	assert.Equal(t, 2, m.PartCount())
	assert.InDelta(t, math.Sqrt(0.75), m.BoundingRadius(), 1e-6)
	assert.Equal(t, "model", m.Name())
}
