package common

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Plane represents a plane in 3D space using the equation: ax + by + cz + d = 0
// where (a, b, c) is the normal and d is the distance from origin.
type Plane struct {
	Normal   mgl32.Vec3
	Distance float32
}

// Frustum represents the six planes of a view frustum for culling.
// Planes are oriented so that positive half-space is inside the frustum.
type Frustum struct {
	Planes [6]Plane // Left, Right, Bottom, Top, Near, Far
}

// FrustumPlane indices for clarity
const (
	FrustumLeft   = 0
	FrustumRight  = 1
	FrustumBottom = 2
	FrustumTop    = 3
	FrustumNear   = 4
	FrustumFar    = 5
)

// Sphere is a bounding sphere in world space. A negative radius denotes an unbounded volume
// that intersects everything (directional lights).
type Sphere struct {
	Center mgl32.Vec3
	Radius float32
}

// Unbounded reports whether the sphere covers all of space.
func (s Sphere) Unbounded() bool {
	return s.Radius < 0
}

// Contains reports whether p lies inside or on the sphere.
func (s Sphere) Contains(p mgl32.Vec3) bool {
	if s.Unbounded() {
		return true
	}
	return p.Sub(s.Center).Len() <= s.Radius
}

// ExtractFrustumFromMatrix extracts frustum planes from a view-projection matrix.
// Uses the Gribb/Hartmann method for plane extraction, adapted to WebGPU's [0, 1] depth range
// so the near plane is row 2 alone rather than row3 + row2.
//
// Reference: https://www8.cs.umu.se/kurser/5DV051/HT12/lab/plane_extraction.pdf
//
// Parameters:
//   - viewProj: the combined projection * view matrix (column-major)
//
// Returns:
//   - Frustum: the extracted frustum with normalized planes
func ExtractFrustumFromMatrix(viewProj mgl32.Mat4) Frustum {
	var f Frustum
	row := func(i int) mgl32.Vec4 { return viewProj.Row(i) }
	r0, r1, r2, r3 := row(0), row(1), row(2), row(3)

	set := func(index int, v mgl32.Vec4) {
		f.Planes[index] = Plane{Normal: v.Vec3(), Distance: v.W()}
		f.normalizePlane(index)
	}
	set(FrustumLeft, r3.Add(r0))
	set(FrustumRight, r3.Sub(r0))
	set(FrustumBottom, r3.Add(r1))
	set(FrustumTop, r3.Sub(r1))
	set(FrustumNear, r2)
	set(FrustumFar, r3.Sub(r2))
	return f
}

// IntersectsSphere reports whether the sphere is at least partially inside the frustum.
// The test is conservative: spheres near frustum corners may be reported visible.
//
// Parameters:
//   - s: the bounding sphere to test
//
// Returns:
//   - bool: false only when the sphere is fully outside one of the planes
func (f *Frustum) IntersectsSphere(s Sphere) bool {
	if s.Unbounded() {
		return true
	}
	for _, p := range f.Planes {
		if p.Normal.Dot(s.Center)+p.Distance < -s.Radius {
			return false
		}
	}
	return true
}

// normalizePlane normalizes a frustum plane so that the normal has unit length.
func (f *Frustum) normalizePlane(index int) {
	p := &f.Planes[index]
	length := float32(math.Sqrt(float64(p.Normal.Dot(p.Normal))))
	if length > 0 {
		invLen := 1.0 / length
		p.Normal = p.Normal.Mul(invLen)
		p.Distance *= invLen
	}
}
