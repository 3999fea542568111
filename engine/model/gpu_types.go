package model

import (
	_ "embed"
	"math"
	"unsafe"

	"github.com/Carmen-Shannon/oxy-deferred/common"
	"github.com/go-gl/mathgl/mgl32"
)

// GeometryShaderSource is the WGSL module of the G-buffer geometry pass. It reads a GPUSurfaceUniform at
// binding 0 and the pooled entity transform and material records at bindings 1 and 2, then writes the
// world-space face normal and shininess into the normals target.
//
//go:embed assets/geometry.wgsl
var GeometryShaderSource string

// GPUSurfaceUniform is the per-draw uniform block of one flat face group. The model matrix is not part of
// it: the geometry pass reads that from the entity's pooled transform record.
// Matches the WGSL SurfaceUniform struct layout exactly (see GeometryShaderSource).
// Size: 80 bytes (WGSL uniform aligned).
//
// Layout:
//
//	mat4x4<f32> view_proj  (64 bytes, offset  0)
//	vec3<f32>   normal     (12 bytes, offset 64)
//	f32         _pad       ( 4 bytes, offset 76)
type GPUSurfaceUniform struct {
	ViewProj mgl32.Mat4 // clip-from-world transform of the camera
	Normal   mgl32.Vec3 // object-space face normal
	_pad     float32
}

// Size returns the size of the GPUSurfaceUniform struct in bytes.
//
// Returns:
//   - int: the struct size in bytes (80)
func (u *GPUSurfaceUniform) Size() int {
	return int(unsafe.Sizeof(*u))
}

// Marshal serializes the GPUSurfaceUniform into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: 80-byte buffer ready for GPU upload
func (u *GPUSurfaceUniform) Marshal() []byte {
	buf := make([]byte, u.Size())
	off := common.PutMat4(buf, u.ViewProj)
	common.PutVec3(buf[off:], u.Normal)
	return buf
}

// NormalMatrix returns the matrix that carries object-space normals of m into world space. It is the
// cofactor matrix of the upper 3x3 signed by its determinant, which points the same way as the
// inverse-transpose and stays finite when m is singular. geometry.wgsl computes the same matrix.
//
// Parameters:
//   - m: the world-from-object transform
//
// Returns:
//   - mgl32.Mat3: the normal matrix, not normalized
func NormalMatrix(m mgl32.Mat4) mgl32.Mat3 {
	c0, c1, c2 := m.Col(0).Vec3(), m.Col(1).Vec3(), m.Col(2).Vec3()
	cof := mgl32.Mat3FromCols(c1.Cross(c2), c2.Cross(c0), c0.Cross(c1))
	if c0.Dot(c1.Cross(c2)) < 0 {
		return cof.Mul(-1)
	}
	return cof
}

// ComputeBoundingRadius returns the radius of the smallest origin-centered sphere that contains every position.
//
// Parameters:
//   - positions: the object-space vertex positions
//
// Returns:
//   - float32: the maximum distance from the origin
func ComputeBoundingRadius(positions []mgl32.Vec3) float32 {
	var maxDistSq float32
	for _, p := range positions {
		if d := p.Dot(p); d > maxDistSq {
			maxDistSq = d
		}
	}
	return float32(math.Sqrt(float64(maxDistSq)))
}
