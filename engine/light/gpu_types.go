package light

import (
	_ "embed"
	"encoding/binary"
	"unsafe"

	"github.com/Carmen-Shannon/oxy-deferred/common"
	"github.com/Carmen-Shannon/oxy-deferred/engine/renderer/shader"
	"github.com/go-gl/mathgl/mgl32"
)

// GPULightPassTypesSource is the canonical WGSL definition of the LightPassUniform and ShadowData
// structs and of the two-target output of every light pass fragment shader.
//
//go:embed assets/light_pass_types.wgsl
var GPULightPassTypesSource string

//go:embed assets/light_pass_unshadowed.wgsl
var unshadowedSource string

//go:embed assets/light_pass_shadowed.wgsl
var shadowedSource string

//go:embed assets/light_pass_shading.wgsl
var shadingSource string

//go:embed assets/light_pass_directional.wgsl
var directionalSource string

//go:embed assets/light_pass_local.wgsl
var localSource string

//go:embed assets/light_pass.wgsl
var lightPassSource string

//go:embed assets/light_volume_stencil.wgsl
var stencilSource string

var lightShaders = shader.NewPreProcessor(
	shader.WithSource("light_pass_types", GPULightPassTypesSource),
	shader.WithSource("light_pass_unshadowed", unshadowedSource),
	shader.WithSource("light_pass_shadowed", shadowedSource),
	shader.WithSource("light_pass_shading", shadingSource),
	shader.WithSource("light_pass_directional", directionalSource),
	shader.WithSource("light_pass_local", localSource),
)

// ShaderSource assembles the WGSL module of one light pass variant.
//
// Bindings: 0 is the uniform block, 1 the scene depth, 2 the scene normals and, for shadowed
// variants, 3 the shadow map.
//
// Parameters:
//   - t: the light type the variant renders
//   - shadowed: whether the variant samples a shadow map
//
// Returns:
//   - string: the complete shader module
func ShaderSource(t LightType, shadowed bool) string {
	var flags []string
	if shadowed {
		flags = append(flags, "shadowed")
	}
	if t == LightTypeDirectional {
		flags = append(flags, "directional")
	}
	return shader.MustProcess(lightShaders, lightPassSource, flags...)
}

// StencilShaderSource assembles the WGSL module of the light volume stencil pre-pass. It reads
// only the volume transform from the unshadowed uniform block and writes no color.
//
// Returns:
//   - string: the complete shader module
func StencilShaderSource() string {
	return shader.MustProcess(lightShaders, stencilSource)
}

// GPULightPassUniform is the per-draw uniform block shared by every light pass variant and the
// stencil pre-pass. Matches the WGSL LightPassUniform struct layout exactly (see GPULightPassTypesSource).
// Size: 208 bytes (WGSL uniform aligned).
//
// Layout:
//
//	mat4x4<f32> volume_mvp       (64 bytes, offset   0)
//	mat4x4<f32> inv_view_proj    (64 bytes, offset  64)
//	vec3<f32>   color            (12 bytes, offset 128)
//	f32         intensity        ( 4 bytes, offset 140)
//	vec3<f32>   position         (12 bytes, offset 144)
//	f32         range            ( 4 bytes, offset 156)
//	vec3<f32>   direction        (12 bytes, offset 160)
//	f32         inner_cone       ( 4 bytes, offset 172)
//	vec3<f32>   camera_position  (12 bytes, offset 176)
//	f32         outer_cone       ( 4 bytes, offset 188)
//	vec2<f32>   viewport         ( 8 bytes, offset 192)
//	u32         light_type       ( 4 bytes, offset 200)
//	u32         _pad             ( 4 bytes, offset 204)
type GPULightPassUniform struct {
	VolumeMVP      mgl32.Mat4 // clip-from-object transform of the light volume; identity for directional lights
	InvViewProj    mgl32.Mat4 // world-from-clip transform used to reconstruct positions from depth
	Color          mgl32.Vec3
	Intensity      float32
	Position       mgl32.Vec3
	Range          float32
	Direction      mgl32.Vec3
	InnerCone      float32 // cos(inner half-angle)
	CameraPosition mgl32.Vec3
	OuterCone      float32 // cos(outer half-angle)
	Viewport       mgl32.Vec2 // attachment size in pixels
	LightType      uint32
	_pad           uint32
}

// Size returns the size of the GPULightPassUniform struct in bytes.
//
// Returns:
//   - int: the struct size in bytes (208)
func (u *GPULightPassUniform) Size() int {
	return int(unsafe.Sizeof(*u))
}

// Marshal serializes the GPULightPassUniform struct into a byte buffer suitable for
// GPU uniform upload.
//
// Returns:
//   - []byte: 208-byte buffer ready for GPU upload
func (u *GPULightPassUniform) Marshal() []byte {
	buf := make([]byte, 208)
	off := common.PutMat4(buf, u.VolumeMVP)
	off += common.PutMat4(buf[off:], u.InvViewProj)
	off += common.PutVec3(buf[off:], u.Color)
	off += common.PutFloat32(buf[off:], u.Intensity)
	off += common.PutVec3(buf[off:], u.Position)
	off += common.PutFloat32(buf[off:], u.Range)
	off += common.PutVec3(buf[off:], u.Direction)
	off += common.PutFloat32(buf[off:], u.InnerCone)
	off += common.PutVec3(buf[off:], u.CameraPosition)
	off += common.PutFloat32(buf[off:], u.OuterCone)
	off += common.PutFloat32(buf[off:], u.Viewport[0])
	off += common.PutFloat32(buf[off:], u.Viewport[1])
	binary.LittleEndian.PutUint32(buf[off:], u.LightType)
	return buf
}

// ToGPULightPassUniform converts a Light into the light-dependent fields of the uniform block.
// The caller fills the transforms, camera position and viewport.
//
// Parameters:
//   - l: the Light to convert
//
// Returns:
//   - GPULightPassUniform: the partially filled uniform block
func ToGPULightPassUniform(l Light) GPULightPassUniform {
	return GPULightPassUniform{
		VolumeMVP: mgl32.Ident4(),
		Color:     l.Color(),
		Intensity: l.Intensity(),
		Position:  l.Position(),
		Range:     l.Range(),
		Direction: l.Direction(),
		InnerCone: l.InnerCone(),
		OuterCone: l.OuterCone(),
		LightType: uint32(l.Type()),
	}
}

// GPUShadowData is the GPU-aligned shadow block appended to the uniform of shadowed variants.
// Matches the WGSL ShadowData struct layout exactly (see GPULightPassTypesSource).
// Size: 80 bytes (WGSL uniform aligned).
//
// Layout:
//
//	mat4x4<f32> light_vp       (64 bytes, offset 0)
//	vec2<f32>   texel_size     ( 8 bytes, offset 64)
//	f32         bias           ( 4 bytes, offset 72)
//	u32         kind           ( 4 bytes, offset 76)
type GPUShadowData struct {
	LightVP   mgl32.Mat4 // view-projection from the light's perspective; unused by point lights
	TexelSize mgl32.Vec2 // 1.0 / shadow image size
	Bias      float32    // depth comparison bias to reduce shadow acne
	Kind      uint32     // ShadowKind
}

// Size returns the size of the GPUShadowData struct in bytes.
//
// Returns:
//   - int: the struct size in bytes (80)
func (s *GPUShadowData) Size() int {
	return int(unsafe.Sizeof(*s))
}

// Marshal serializes the GPUShadowData struct into a byte buffer suitable for
// GPU uniform upload.
//
// Returns:
//   - []byte: 80-byte buffer ready for GPU upload
func (s *GPUShadowData) Marshal() []byte {
	buf := make([]byte, 80)
	off := common.PutMat4(buf, s.LightVP)
	off += common.PutFloat32(buf[off:], s.TexelSize[0])
	off += common.PutFloat32(buf[off:], s.TexelSize[1])
	off += common.PutFloat32(buf[off:], s.Bias)
	binary.LittleEndian.PutUint32(buf[off:], s.Kind)
	return buf
}
