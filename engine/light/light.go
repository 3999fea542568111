package light

import (
	"math"

	"github.com/Carmen-Shannon/oxy-deferred/common"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
)

// LightType identifies the kind of light source.
type LightType int

const (
	// LightTypeDirectional represents a light with no position, only direction.
	// Used for large distant sources like the sun or moon. Affects all fragments
	// uniformly with no distance attenuation.
	LightTypeDirectional LightType = iota

	// LightTypePoint represents a light that emits in all directions from a position.
	// Attenuates with distance up to a configurable range.
	LightTypePoint

	// LightTypeSpot represents a light that emits in a cone from a position along a direction.
	// Attenuates with both distance and angle from the cone axis, controlled by inner and
	// outer cone angles.
	LightTypeSpot
)

// LightTypes lists every light type in the order the lighting pass accumulates them.
var LightTypes = [...]LightType{LightTypeDirectional, LightTypePoint, LightTypeSpot}

func (t LightType) String() string {
	switch t {
	case LightTypeDirectional:
		return "directional"
	case LightTypePoint:
		return "point"
	case LightTypeSpot:
		return "spot"
	default:
		return "unknown"
	}
}

// MaxSpotAngle is the largest outer cone half-angle, in degrees, a spot light may use.
// The light volume is a finite cone, which needs a half-angle below 90 degrees.
const MaxSpotAngle float32 = 85

// lightImpl is the implementation of the Light interface.
type lightImpl struct {
	id           uuid.UUID
	lightType    LightType
	position     mgl32.Vec3
	direction    mgl32.Vec3
	color        mgl32.Vec3
	intensity    float32
	lightRange   float32
	innerCone    float32 // stored as cos(angle in radians)
	outerCone    float32 // stored as cos(angle in radians)
	enabled      bool
	castsShadows bool
	shadowMap    *ShadowMap
}

// Light defines the interface for a light source in the scene.
//
// Lights are owned by the scene. The lighting pass only reads them, once per frame, to fill
// the per-draw uniform of the variant that renders them. Type-specific properties (cone angles
// for spot lights, range for local lights) are ignored by types they do not apply to.
type Light interface {
	// ID returns the stable identity of the light.
	//
	// Returns:
	//   - uuid.UUID: the light's identity, fixed at construction
	ID() uuid.UUID

	// Type returns the kind of light source.
	//
	// Returns:
	//   - LightType: the light type (directional, point, or spot)
	Type() LightType

	// Position returns the world-space position of the light.
	// Meaningless for directional lights.
	//
	// Returns:
	//   - mgl32.Vec3: the world-space position
	Position() mgl32.Vec3

	// Direction returns the normalized direction of the light.
	// For directional lights this is the direction light travels. For spot lights this
	// is the cone axis. Meaningless for point lights.
	//
	// Returns:
	//   - mgl32.Vec3: the normalized direction
	Direction() mgl32.Vec3

	// Color returns the RGB color of the light.
	//
	// Returns:
	//   - mgl32.Vec3: color as (r, g, b)
	Color() mgl32.Vec3

	// Intensity returns the scalar intensity multiplier for the light.
	//
	// Returns:
	//   - float32: the intensity value
	Intensity() float32

	// Range returns the attenuation cutoff distance for point and spot lights.
	// Beyond this distance the light contributes zero energy.
	//
	// Returns:
	//   - float32: the range value
	Range() float32

	// InnerCone returns the cosine of the inner cone half-angle for spot lights.
	// Fragments within this angle receive full intensity.
	//
	// Returns:
	//   - float32: cos(inner half-angle)
	InnerCone() float32

	// OuterCone returns the cosine of the outer cone half-angle for spot lights.
	// Fragments outside this angle receive nothing from the light.
	//
	// Returns:
	//   - float32: cos(outer half-angle)
	OuterCone() float32

	// Enabled returns whether this light is active for rendering.
	//
	// Returns:
	//   - bool: true if the light is enabled
	Enabled() bool

	// CastsShadows returns whether this light is a shadow producer. A producer is rendered
	// with a shadowed variant only while its shadow map exists and is populated.
	//
	// Returns:
	//   - bool: true if the light casts shadows
	CastsShadows() bool

	// ShadowMap returns the shadow map associated with the light, or nil when none is attached.
	//
	// Returns:
	//   - *ShadowMap: the shadow map, possibly nil
	ShadowMap() *ShadowMap

	// Bounds returns the world-space bounding sphere of the light's influence.
	// Directional lights return an unbounded sphere.
	//
	// Returns:
	//   - common.Sphere: the bounding sphere
	Bounds() common.Sphere

	// SetPosition sets the world-space position of the light.
	//
	// Parameters:
	//   - position: the new world-space position
	SetPosition(position mgl32.Vec3)

	// SetDirection sets the direction of the light and normalizes it.
	//
	// Parameters:
	//   - direction: the new direction (will be normalized)
	SetDirection(direction mgl32.Vec3)

	// SetColor sets the RGB color of the light.
	//
	// Parameters:
	//   - color: color as (r, g, b)
	SetColor(color mgl32.Vec3)

	// SetIntensity sets the scalar intensity multiplier.
	//
	// Parameters:
	//   - intensity: the intensity value
	SetIntensity(intensity float32)

	// SetRange sets the attenuation cutoff distance.
	//
	// Parameters:
	//   - lightRange: the range value
	SetRange(lightRange float32)

	// SetSpotCone sets the inner and outer cone half-angles for spot lights.
	// Angles are specified in degrees, clamped to MaxSpotAngle, and stored as cosines.
	//
	// Parameters:
	//   - innerDeg: inner cone half-angle in degrees
	//   - outerDeg: outer cone half-angle in degrees
	SetSpotCone(innerDeg, outerDeg float32)

	// SetEnabled enables or disables the light for rendering.
	//
	// Parameters:
	//   - enabled: true to enable
	SetEnabled(enabled bool)

	// SetCastsShadows sets whether the light is a shadow producer.
	//
	// Parameters:
	//   - castsShadows: true to enable shadow casting
	SetCastsShadows(castsShadows bool)

	// SetShadowMap attaches a shadow map to the light, or detaches it when nil.
	//
	// Parameters:
	//   - shadowMap: the shadow map produced for this light
	SetShadowMap(shadowMap *ShadowMap)
}

var _ Light = &lightImpl{}

// NewLight creates a new Light of the specified type with sensible defaults and
// any provided options applied.
//
// Parameters:
//   - lightType: the kind of light to create (directional, point, or spot)
//   - opts: variadic list of LightBuilderOption functions to configure the light
//
// Returns:
//   - Light: a new Light instance
func NewLight(lightType LightType, opts ...LightBuilderOption) Light {
	l := &lightImpl{
		id:         uuid.New(),
		lightType:  lightType,
		direction:  mgl32.Vec3{0, -1, 0},
		color:      mgl32.Vec3{1, 1, 1},
		intensity:  1.0,
		lightRange: 10.0,
		innerCone:  common.CosDeg(25),
		outerCone:  common.CosDeg(35),
		enabled:    true,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *lightImpl) ID() uuid.UUID {
	return l.id
}

func (l *lightImpl) Type() LightType {
	return l.lightType
}

func (l *lightImpl) Position() mgl32.Vec3 {
	return l.position
}

func (l *lightImpl) Direction() mgl32.Vec3 {
	return l.direction
}

func (l *lightImpl) Color() mgl32.Vec3 {
	return l.color
}

func (l *lightImpl) Intensity() float32 {
	return l.intensity
}

func (l *lightImpl) Range() float32 {
	return l.lightRange
}

func (l *lightImpl) InnerCone() float32 {
	return l.innerCone
}

func (l *lightImpl) OuterCone() float32 {
	return l.outerCone
}

func (l *lightImpl) Enabled() bool {
	return l.enabled
}

func (l *lightImpl) CastsShadows() bool {
	return l.castsShadows
}

func (l *lightImpl) ShadowMap() *ShadowMap {
	return l.shadowMap
}

func (l *lightImpl) Bounds() common.Sphere {
	switch l.lightType {
	case LightTypePoint:
		return common.Sphere{Center: l.position, Radius: l.lightRange}
	case LightTypeSpot:
		return coneBounds(l.position, l.direction, l.lightRange, l.outerCone)
	default:
		return common.Sphere{Radius: -1}
	}
}

// coneBounds returns the smallest sphere around a cone with its apex at the light, height lightRange
// and the outer half-angle.
func coneBounds(apex, axis mgl32.Vec3, height, cosOuter float32) common.Sphere {
	sin := float32(math.Sqrt(float64(max(0, 1-cosOuter*cosOuter))))
	base := height * sin / cosOuter
	if base >= height {
		return common.Sphere{Center: apex.Add(axis.Mul(height)), Radius: base}
	}
	d := (height*height + base*base) / (2 * height)
	return common.Sphere{Center: apex.Add(axis.Mul(d)), Radius: d}
}

func (l *lightImpl) SetPosition(position mgl32.Vec3) {
	l.position = position
}

func (l *lightImpl) SetDirection(direction mgl32.Vec3) {
	l.direction = normalize(direction)
}

func (l *lightImpl) SetColor(color mgl32.Vec3) {
	l.color = color
}

func (l *lightImpl) SetIntensity(intensity float32) {
	l.intensity = intensity
}

func (l *lightImpl) SetRange(lightRange float32) {
	l.lightRange = lightRange
}

func (l *lightImpl) SetSpotCone(innerDeg, outerDeg float32) {
	l.innerCone, l.outerCone = spotCone(innerDeg, outerDeg)
}

func (l *lightImpl) SetEnabled(enabled bool) {
	l.enabled = enabled
}

func (l *lightImpl) SetCastsShadows(castsShadows bool) {
	l.castsShadows = castsShadows
}

func (l *lightImpl) SetShadowMap(shadowMap *ShadowMap) {
	l.shadowMap = shadowMap
}

// spotCone converts cone half-angles in degrees to the stored cosines, keeping inner <= outer.
func spotCone(innerDeg, outerDeg float32) (inner, outer float32) {
	outerDeg = min(outerDeg, MaxSpotAngle)
	innerDeg = min(innerDeg, outerDeg)
	return common.CosDeg(innerDeg), common.CosDeg(outerDeg)
}

// normalize returns v with unit length, or the zero vector when v has zero length.
func normalize(v mgl32.Vec3) mgl32.Vec3 {
	if v.Len() == 0 {
		return mgl32.Vec3{}
	}
	return v.Normalize()
}
