package common

import (
	"encoding/binary"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Perspective creates a right-handed perspective projection matrix whose clip-space depth
// range is WebGPU's [0, 1] rather than OpenGL's [-1, 1] used by mgl32.Perspective.
//
// Parameters:
//   - fovY: vertical field of view in radians
//   - aspect: viewport aspect ratio (width/height)
//   - near: near clipping plane distance (must be > 0)
//   - far: far clipping plane distance (must be > near)
//
// Returns:
//   - mgl32.Mat4: the column-major projection matrix
func Perspective(fovY, aspect, near, far float32) mgl32.Mat4 {
	f := 1.0 / float32(math.Tan(float64(fovY)/2.0))
	var out mgl32.Mat4
	out[0] = f / aspect
	out[5] = f
	out[10] = far / (near - far)
	out[11] = -1.0
	out[14] = (near * far) / (near - far)
	return out
}

// Ortho creates an orthographic projection matrix with WebGPU's [0, 1] clip-space depth range.
//
// Parameters:
//   - left, right, bottom, top: the view volume extents
//   - near, far: the near and far plane distances
//
// Returns:
//   - mgl32.Mat4: the column-major projection matrix
func Ortho(left, right, bottom, top, near, far float32) mgl32.Mat4 {
	out := mgl32.Ident4()
	rl := right - left
	tb := top - bottom
	fn := far - near

	out[0] = 2.0 / rl
	out[5] = 2.0 / tb
	out[10] = -1.0 / fn
	out[12] = -(right + left) / rl
	out[13] = -(top + bottom) / tb
	out[14] = -near / fn
	return out
}

// StableUp returns an up vector that is not parallel to dir, for building look-at matrices
// along arbitrary light directions.
func StableUp(dir mgl32.Vec3) mgl32.Vec3 {
	if math.Abs(float64(dir.Y())) > 0.99 {
		return mgl32.Vec3{1, 0, 0}
	}
	return mgl32.Vec3{0, 1, 0}
}

// PutMat4 writes m into buf as 16 little-endian float32 values and returns the number of bytes written.
func PutMat4(buf []byte, m mgl32.Mat4) int {
	for i := range 16 {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(m[i]))
	}
	return 64
}

// PutVec3 writes v into buf as 3 little-endian float32 values and returns the number of bytes written.
func PutVec3(buf []byte, v mgl32.Vec3) int {
	for i := range 3 {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v[i]))
	}
	return 12
}

// PutFloat32 writes v into buf as a little-endian float32 and returns the number of bytes written.
func PutFloat32(buf []byte, v float32) int {
	binary.LittleEndian.PutUint32(buf, math.Float32bits(v))
	return 4
}

// ReadMat4 decodes 16 little-endian float32 values from buf.
func ReadMat4(buf []byte) mgl32.Mat4 {
	var m mgl32.Mat4
	for i := range 16 {
		m[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return m
}

// ReadVec3 decodes 3 little-endian float32 values from buf.
func ReadVec3(buf []byte) mgl32.Vec3 {
	var v mgl32.Vec3
	for i := range 3 {
		v[i] = ReadFloat32(buf[i*4:])
	}
	return v
}

// ReadFloat32 decodes a little-endian float32 from buf.
func ReadFloat32(buf []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(buf))
}

// CosDeg converts an angle in degrees to the cosine of that angle.
func CosDeg(deg float32) float32 {
	return float32(math.Cos(float64(mgl32.DegToRad(deg))))
}
