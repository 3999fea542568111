package entity_ubo

import (
	"encoding/binary"
	"unsafe"

	"github.com/Carmen-Shannon/oxy-deferred/common"
	"github.com/go-gl/mathgl/mgl32"
)

// GPUEntityTransform is the GPU-aligned per-entity transform record.
// Size: 128 bytes (WGSL uniform aligned).
//
// Layout:
//
//	mat4x4<f32> model       (64 bytes, offset  0)
//	mat4x4<f32> prev_model  (64 bytes, offset 64)
type GPUEntityTransform struct {
	Model     mgl32.Mat4 // world-from-object transform for this frame
	PrevModel mgl32.Mat4 // the same transform one frame earlier, for motion vectors
}

// Size returns the size of the GPUEntityTransform struct in bytes.
//
// Returns:
//   - int: the struct size in bytes (128)
func (t *GPUEntityTransform) Size() int {
	return int(unsafe.Sizeof(*t))
}

// Marshal serializes the GPUEntityTransform struct into a byte buffer suitable for
// GPU uniform upload.
//
// Returns:
//   - []byte: 128-byte buffer ready for GPU upload
func (t *GPUEntityTransform) Marshal() []byte {
	buf := make([]byte, 128)
	off := common.PutMat4(buf, t.Model)
	common.PutMat4(buf[off:], t.PrevModel)
	return buf
}

// GPUMaterialIndices is the per-entity table of texture and material indices into the bindless arrays.
// An index of NoTexture means the slot is unused.
// Size: 32 bytes.
//
// Layout:
//
//	u32 material        (offset  0)
//	u32 albedo          (offset  4)
//	u32 normal          (offset  8)
//	u32 metal_rough     (offset 12)
//	u32 emissive        (offset 16)
//	u32 occlusion       (offset 20)
//	u32 flags           (offset 24)
//	f32 shininess       (offset 28)
type GPUMaterialIndices struct {
	Material          uint32
	Albedo            uint32
	Normal            uint32
	MetallicRoughness uint32
	Emissive          uint32
	Occlusion         uint32
	Flags             uint32
	Shininess         float32 // specular exponent written by the geometry pass
}

// NoTexture marks an unused texture slot in GPUMaterialIndices.
const NoTexture uint32 = 0xFFFFFFFF

// NewGPUMaterialIndices returns a material table with every texture slot unused.
//
// Parameters:
//   - material: index of the material record
//
// Returns:
//   - GPUMaterialIndices: the table
func NewGPUMaterialIndices(material uint32) GPUMaterialIndices {
	return GPUMaterialIndices{
		Material:          material,
		Albedo:            NoTexture,
		Normal:            NoTexture,
		MetallicRoughness: NoTexture,
		Emissive:          NoTexture,
		Occlusion:         NoTexture,
	}
}

// Size returns the size of the GPUMaterialIndices struct in bytes.
//
// Returns:
//   - int: the struct size in bytes (32)
func (m *GPUMaterialIndices) Size() int {
	return int(unsafe.Sizeof(*m))
}

// Marshal serializes the GPUMaterialIndices struct into a byte buffer suitable for
// GPU upload.
//
// Returns:
//   - []byte: 32-byte buffer ready for GPU upload
func (m *GPUMaterialIndices) Marshal() []byte {
	buf := make([]byte, 32)
	for i, v := range [...]uint32{m.Material, m.Albedo, m.Normal, m.MetallicRoughness, m.Emissive, m.Occlusion, m.Flags} {
		binary.LittleEndian.PutUint32(buf[i*4:], v)
	}
	common.PutFloat32(buf[28:], m.Shininess)
	return buf
}

// GPUPickingID identifies the entity a picking-pass pixel belongs to.
// Size: 16 bytes.
//
// Layout:
//
//	u32 object   (offset 0)
//	u32 sub_part (offset 4)
//	u32 pass     (offset 8)
//	u32 _pad     (offset 12)
type GPUPickingID struct {
	Object  uint32 // transform slice index plus one, so zero reads as background
	SubPart uint32
	Pass    uint32
	_pad    uint32
}

// Size returns the size of the GPUPickingID struct in bytes.
func (p *GPUPickingID) Size() int {
	return int(unsafe.Sizeof(*p))
}

// Marshal serializes the GPUPickingID struct into a byte buffer suitable for GPU upload.
func (p *GPUPickingID) Marshal() []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint32(buf, p.Object)
	binary.LittleEndian.PutUint32(buf[4:], p.SubPart)
	binary.LittleEndian.PutUint32(buf[8:], p.Pass)
	return buf
}
