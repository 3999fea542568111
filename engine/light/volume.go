package light

import (
	"math"
	"sync"

	"github.com/Carmen-Shannon/oxy-deferred/engine/renderer/frame_graph"
	"github.com/go-gl/mathgl/mgl32"
)

const (
	// SphereSlices is the number of longitude segments of the point light volume.
	SphereSlices = 16

	// SphereStacks is the number of latitude segments of the point light volume.
	SphereStacks = 8

	// ConeSegments is the number of sides of the spot light volume.
	ConeSegments = 16
)

// Faceted volumes are pushed outwards so their flat faces enclose the smooth shape they approximate.
var (
	sphereCircumscribe = float32(math.Cos(math.Pi/SphereSlices) * math.Cos(math.Pi/(2*SphereStacks)))
	coneCircumscribe   = float32(math.Cos(math.Pi / ConeSegments))
)

var (
	unitSphereOnce sync.Once
	unitSphere     *frame_graph.Mesh
	unitConeOnce   sync.Once
	unitCone       *frame_graph.Mesh
)

// UnitSphere returns the point light volume: a UV sphere whose faces all lie outside the unit sphere.
// The mesh is built once and shared; callers must not modify it.
//
// Returns:
//   - *frame_graph.Mesh: the sphere mesh, counter-clockwise when seen from outside
func UnitSphere() *frame_graph.Mesh {
	unitSphereOnce.Do(func() {
		unitSphere = buildSphere(SphereSlices, SphereStacks, 1/sphereCircumscribe)
	})
	return unitSphere
}

// UnitCone returns the spot light volume: a cone with its apex at the origin opening along +Z,
// height 1, and a base polygon enclosing the unit circle at z = 1.
// The mesh is built once and shared; callers must not modify it.
//
// Returns:
//   - *frame_graph.Mesh: the cone mesh, counter-clockwise when seen from outside
func UnitCone() *frame_graph.Mesh {
	unitConeOnce.Do(func() {
		unitCone = buildCone(ConeSegments, 1/coneCircumscribe)
	})
	return unitCone
}

// VolumeMesh returns the light volume mesh for a light type, or nil for directional lights.
func VolumeMesh(t LightType) *frame_graph.Mesh {
	switch t {
	case LightTypePoint:
		return UnitSphere()
	case LightTypeSpot:
		return UnitCone()
	default:
		return nil
	}
}

// VolumeTransform returns the world-from-object transform that places the light's volume mesh
// around its influence: the sphere scaled to the range for point lights, and the cone oriented
// along the light direction and stretched to the range and outer angle for spot lights.
//
// Parameters:
//   - l: the light
//
// Returns:
//   - mgl32.Mat4: the model matrix, identity for directional lights
func VolumeTransform(l Light) mgl32.Mat4 {
	r := l.Range()
	switch l.Type() {
	case LightTypePoint:
		return mgl32.Translate3D(l.Position().Elem()).Mul4(mgl32.Scale3D(r, r, r))
	case LightTypeSpot:
		cos := l.OuterCone()
		radius := r * float32(math.Sqrt(float64(max(0, 1-cos*cos)))) / cos
		rotation := mgl32.QuatBetweenVectors(mgl32.Vec3{0, 0, 1}, l.Direction()).Mat4()
		return mgl32.Translate3D(l.Position().Elem()).Mul4(rotation).Mul4(mgl32.Scale3D(radius, radius, r))
	default:
		return mgl32.Ident4()
	}
}

func buildSphere(slices, stacks int, radius float32) *frame_graph.Mesh {
	m := &frame_graph.Mesh{Label: "point_light_volume"}
	for i := 0; i <= stacks; i++ {
		phi := math.Pi/2 - math.Pi*float64(i)/float64(stacks)
		for j := 0; j < slices; j++ {
			theta := 2 * math.Pi * float64(j) / float64(slices)
			m.Positions = append(m.Positions, mgl32.Vec3{
				radius * float32(math.Cos(phi)*math.Cos(theta)),
				radius * float32(math.Sin(phi)),
				radius * float32(math.Cos(phi)*math.Sin(theta)),
			})
		}
	}
	at := func(i, j int) uint32 { return uint32(i*slices + j%slices) }
	for i := 0; i < stacks; i++ {
		for j := 0; j < slices; j++ {
			a, b := at(i, j), at(i, j+1)
			c, d := at(i+1, j), at(i+1, j+1)
			// Rows run from the north pole down; theta turns from +X towards +Z.
			if i > 0 {
				m.Indices = append(m.Indices, a, b, c)
			}
			if i < stacks-1 {
				m.Indices = append(m.Indices, b, d, c)
			}
		}
	}
	return m
}

func buildCone(segments int, radius float32) *frame_graph.Mesh {
	m := &frame_graph.Mesh{Label: "spot_light_volume"}
	m.Positions = append(m.Positions, mgl32.Vec3{0, 0, 0}, mgl32.Vec3{0, 0, 1})
	for j := 0; j < segments; j++ {
		theta := 2 * math.Pi * float64(j) / float64(segments)
		m.Positions = append(m.Positions, mgl32.Vec3{
			radius * float32(math.Cos(theta)),
			radius * float32(math.Sin(theta)),
			1,
		})
	}
	rim := func(j int) uint32 { return uint32(2 + j%segments) }
	for j := 0; j < segments; j++ {
		m.Indices = append(m.Indices, 0, rim(j+1), rim(j))
		m.Indices = append(m.Indices, 1, rim(j), rim(j+1))
	}
	return m
}
