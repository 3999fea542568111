package light

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/Carmen-Shannon/oxy-deferred/common"
	"github.com/Carmen-Shannon/oxy-deferred/engine/renderer/frame_graph"
	"github.com/go-gl/mathgl/mgl32"
)

// ShadowMapResolution is the default width and height in texels of a shadow map image.
// Point light shadow maps are six faces of this size laid out in a horizontal strip.
const ShadowMapResolution = 2048

// DefaultShadowHalfExtent is the default orthographic half-extent (in world units)
// used for the directional light shadow frustum.
const DefaultShadowHalfExtent float32 = 40.0

// DefaultShadowNear is the default near plane for shadow projections.
const DefaultShadowNear float32 = 0.1

// DefaultShadowFar is the default far plane for the directional light's
// orthographic shadow projection.
const DefaultShadowFar float32 = 200.0

// DefaultShadowBias is the constant depth bias applied to shadow comparisons
// to reduce shadow acne artifacts.
const DefaultShadowBias float32 = 0.001

// ShadowKind selects how a shadow map stores occluder depth.
type ShadowKind uint32

const (
	// ShadowKindDepth stores one occluder depth per texel and is compared against the receiver
	// depth with a constant bias.
	ShadowKindDepth ShadowKind = iota

	// ShadowKindVariance stores the first two moments of occluder depth and is filtered with
	// Chebyshev's inequality.
	ShadowKindVariance
)

// Format returns the image format a shadow map of this kind is stored in.
func (k ShadowKind) Format() common.TextureFormat {
	if k == ShadowKindVariance {
		return common.TextureFormatRG32Float
	}
	return common.TextureFormatR32Float
}

func (k ShadowKind) String() string {
	if k == ShadowKindVariance {
		return "variance"
	}
	return "depth"
}

// ShadowMap is a light's shadow map as produced by the shadow subsystem and sampled by the
// shadowed light pass variants.
//
// The stored depth measure depends on the light type:
//   - directional and spot lights store light clip-space depth, addressed through LightVP;
//   - point lights store distance from the light divided by its range, in six square faces laid
//     out left to right as +X, -X, +Y, -Y, +Z, -Z and addressed with CubeFaceUV.
//
// Populated is read without synchronizing against the pass that produces the map, so a frame may
// act on the previous frame's state.
type ShadowMap struct {
	kind  ShadowKind
	image frame_graph.Image
	bias  float32

	mu      *sync.RWMutex
	lightVP mgl32.Mat4

	populated atomic.Bool
}

// NewShadowMap wraps an image produced by the shadow subsystem. The map starts unpopulated.
//
// Parameters:
//   - kind: how the image stores occluder depth
//   - image: the shadow image, in kind.Format()
//   - bias: the depth bias applied to comparisons
//
// Returns:
//   - *ShadowMap: the shadow map
func NewShadowMap(kind ShadowKind, image frame_graph.Image, bias float32) *ShadowMap {
	return &ShadowMap{
		kind:    kind,
		image:   image,
		bias:    bias,
		mu:      &sync.RWMutex{},
		lightVP: mgl32.Ident4(),
	}
}

// Kind returns how the map stores occluder depth.
func (s *ShadowMap) Kind() ShadowKind {
	return s.kind
}

// Image returns the sampled shadow image.
func (s *ShadowMap) Image() frame_graph.Image {
	return s.image
}

// Bias returns the depth comparison bias.
func (s *ShadowMap) Bias() float32 {
	return s.bias
}

// LightVP returns the light view-projection the map was rendered with.
func (s *ShadowMap) LightVP() mgl32.Mat4 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lightVP
}

// SetLightVP records the light view-projection the map is rendered with.
//
// Parameters:
//   - vp: the light view-projection matrix
func (s *ShadowMap) SetLightVP(vp mgl32.Mat4) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lightVP = vp
}

// Populated reports whether the shadow subsystem has finished writing the map at least once since
// it was last invalidated.
func (s *ShadowMap) Populated() bool {
	return s.populated.Load()
}

// MarkPopulated is called by the shadow subsystem once the map holds valid data.
func (s *ShadowMap) MarkPopulated() {
	s.populated.Store(true)
}

// Invalidate marks the map as stale, for example after the light moved or the image was recreated.
func (s *ShadowMap) Invalidate() {
	s.populated.Store(false)
}

// ShadowData returns the uniform block a shadowed variant uploads for this map.
//
// Returns:
//   - GPUShadowData: the map's view-projection, texel size, bias and kind
func (s *ShadowMap) ShadowData() GPUShadowData {
	return GPUShadowData{
		LightVP:   s.LightVP(),
		TexelSize: mgl32.Vec2{1 / float32(s.image.Width()), 1 / float32(s.image.Height())},
		Bias:      s.bias,
		Kind:      uint32(s.kind),
	}
}

// DirectionalLightVP builds an orthographic view-projection matrix for a directional light's
// shadow pass. The frustum is centered on center (typically the camera position) and looks along
// the light's direction.
//
// Parameters:
//   - dir: normalized direction the light travels
//   - center: world-space center of the shadow frustum
//   - halfExtent: half-size of the orthographic frustum in world units
//   - near: near plane distance
//   - far: far plane distance
//
// Returns:
//   - mgl32.Mat4: the light view-projection matrix
func DirectionalLightVP(dir, center mgl32.Vec3, halfExtent, near, far float32) mgl32.Mat4 {
	// The eye sits behind the center, opposite the light direction.
	eye := center.Sub(dir.Mul(far * 0.5))
	view := mgl32.LookAtV(eye, center, common.StableUp(dir))
	proj := common.Ortho(-halfExtent, halfExtent, -halfExtent, halfExtent, near, far)
	return proj.Mul4(view)
}

// SpotLightVP builds the perspective view-projection matrix covering a spot light's outer cone.
//
// Parameters:
//   - l: the spot light
//
// Returns:
//   - mgl32.Mat4: the light view-projection matrix
func SpotLightVP(l Light) mgl32.Mat4 {
	fov := 2 * float32(math.Acos(float64(l.OuterCone())))
	view := mgl32.LookAtV(l.Position(), l.Position().Add(l.Direction()), common.StableUp(l.Direction()))
	proj := common.Perspective(fov, 1, DefaultShadowNear, l.Range())
	return proj.Mul4(view)
}

// CubeFaceUV maps a direction from a point light to the face of its shadow strip and the
// coordinates within that face, following the cube map face convention.
//
// Parameters:
//   - d: the direction from the light to the receiver (need not be normalized)
//
// Returns:
//   - u, v: the coordinates within the face in [0, 1], v pointing down
//   - face: the face index, 0 through 5 for +X, -X, +Y, -Y, +Z, -Z
func CubeFaceUV(d mgl32.Vec3) (u, v float32, face int) {
	ax, ay, az := abs(d.X()), abs(d.Y()), abs(d.Z())
	var sc, tc, ma float32
	switch {
	case ax >= ay && ax >= az:
		ma = ax
		if d.X() > 0 {
			face, sc, tc = 0, -d.Z(), -d.Y()
		} else {
			face, sc, tc = 1, d.Z(), -d.Y()
		}
	case ay >= az:
		ma = ay
		if d.Y() > 0 {
			face, sc, tc = 2, d.X(), d.Z()
		} else {
			face, sc, tc = 3, d.X(), -d.Z()
		}
	default:
		ma = az
		if d.Z() > 0 {
			face, sc, tc = 4, d.X(), -d.Y()
		} else {
			face, sc, tc = 5, -d.X(), -d.Y()
		}
	}
	if ma == 0 {
		return 0.5, 0.5, 0
	}
	return (sc/ma + 1) * 0.5, (tc/ma + 1) * 0.5, face
}

func abs(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
