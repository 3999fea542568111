// package common contains common types that are used throughout this engine. They are not interface-wrapped structs, just plain structs that express
// commonly used data-types.
package common

import "strconv"

// TextureFormat identifies the texel layout of an image. Backends map it onto their native format enums.
type TextureFormat int

const (
	// TextureFormatUndefined is the zero value and never valid for image creation.
	TextureFormatUndefined TextureFormat = iota

	// TextureFormatRGBA8Unorm is 8-bit normalized RGBA, used for presentation targets.
	TextureFormatRGBA8Unorm

	// TextureFormatBGRA8Unorm is the common swapchain layout on desktop surfaces.
	TextureFormatBGRA8Unorm

	// TextureFormatRGBA16Float is half-float RGBA, used for the HDR accumulation targets and packed normals.
	TextureFormatRGBA16Float

	// TextureFormatR32Float is a single 32-bit float channel, used for depth-kind shadow maps.
	TextureFormatR32Float

	// TextureFormatRG32Float holds two 32-bit float channels, used for variance shadow map moments.
	TextureFormatRG32Float

	// TextureFormatDepth32Float is a depth-only attachment format.
	TextureFormatDepth32Float

	// TextureFormatDepth24PlusStencil8 is a combined depth and 8-bit stencil attachment format.
	TextureFormatDepth24PlusStencil8
)

// HasDepth reports whether the format carries a depth aspect.
func (f TextureFormat) HasDepth() bool {
	return f == TextureFormatDepth32Float || f == TextureFormatDepth24PlusStencil8
}

// HasStencil reports whether the format carries a stencil aspect.
func (f TextureFormat) HasStencil() bool {
	return f == TextureFormatDepth24PlusStencil8
}

// Channels returns the number of color channels in the format, or 0 for depth formats.
func (f TextureFormat) Channels() int {
	switch f {
	case TextureFormatR32Float:
		return 1
	case TextureFormatRG32Float:
		return 2
	case TextureFormatRGBA8Unorm, TextureFormatBGRA8Unorm, TextureFormatRGBA16Float:
		return 4
	default:
		return 0
	}
}

func (f TextureFormat) String() string {
	switch f {
	case TextureFormatRGBA8Unorm:
		return "rgba8unorm"
	case TextureFormatBGRA8Unorm:
		return "bgra8unorm"
	case TextureFormatRGBA16Float:
		return "rgba16float"
	case TextureFormatR32Float:
		return "r32float"
	case TextureFormatRG32Float:
		return "rg32float"
	case TextureFormatDepth32Float:
		return "depth32float"
	case TextureFormatDepth24PlusStencil8:
		return "depth24plus-stencil8"
	default:
		return "undefined"
	}
}

// PassID names the material pass a renderable sub-part is drawn with. A sub-part drawn by several
// passes holds one per-entity buffer bundle per pass.
type PassID uint32

const (
	// PassGBuffer writes depth, normals and material data for deferred lighting.
	PassGBuffer PassID = iota

	// PassShadow renders the sub-part into a light's shadow map.
	PassShadow

	// PassPicking writes object ids for editor selection.
	PassPicking
)

func (p PassID) String() string {
	switch p {
	case PassGBuffer:
		return "gbuffer"
	case PassShadow:
		return "shadow"
	case PassPicking:
		return "picking"
	default:
		return "pass(" + strconv.Itoa(int(p)) + ")"
	}
}
