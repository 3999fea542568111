package pipeline

// CullMode selects which triangle faces are discarded before rasterization.
type CullMode int

const (
	CullModeNone CullMode = iota
	CullModeFront
	CullModeBack
)

// FrontFace selects the winding order, in normalized device coordinates, that counts as front facing.
type FrontFace int

const (
	FrontFaceCCW FrontFace = iota
	FrontFaceCW
)

// CompareFunction is a depth or stencil comparison.
type CompareFunction int

const (
	CompareFunctionAlways CompareFunction = iota
	CompareFunctionNever
	CompareFunctionLess
	CompareFunctionLessEqual
	CompareFunctionEqual
	CompareFunctionNotEqual
	CompareFunctionGreater
	CompareFunctionGreaterEqual
)

// Compare evaluates the function with a as the incoming value and b as the stored value.
//
// Parameters:
//   - a: the incoming (fragment or reference) value
//   - b: the stored (attachment) value
//
// Returns:
//   - bool: true if the test passes
func (c CompareFunction) Compare(a, b float32) bool {
	switch c {
	case CompareFunctionNever:
		return false
	case CompareFunctionLess:
		return a < b
	case CompareFunctionLessEqual:
		return a <= b
	case CompareFunctionEqual:
		return a == b
	case CompareFunctionNotEqual:
		return a != b
	case CompareFunctionGreater:
		return a > b
	case CompareFunctionGreaterEqual:
		return a >= b
	default:
		return true
	}
}

// StencilOperation is applied to the stored stencil value after a test outcome.
type StencilOperation int

const (
	StencilOperationKeep StencilOperation = iota
	StencilOperationZero
	StencilOperationReplace
	StencilOperationInvert
	StencilOperationIncrementClamp
	StencilOperationDecrementClamp
	StencilOperationIncrementWrap
	StencilOperationDecrementWrap
)

// Apply returns the new 8-bit stencil value after applying the operation to current.
//
// Parameters:
//   - current: the stored stencil value
//   - reference: the pipeline's stencil reference, used by Replace
//
// Returns:
//   - uint8: the updated stencil value
func (o StencilOperation) Apply(current, reference uint8) uint8 {
	switch o {
	case StencilOperationZero:
		return 0
	case StencilOperationReplace:
		return reference
	case StencilOperationInvert:
		return ^current
	case StencilOperationIncrementClamp:
		if current == 0xFF {
			return current
		}
		return current + 1
	case StencilOperationDecrementClamp:
		if current == 0 {
			return current
		}
		return current - 1
	case StencilOperationIncrementWrap:
		return current + 1
	case StencilOperationDecrementWrap:
		return current - 1
	default:
		return current
	}
}

// StencilFaceState configures the stencil test and operations for one facing.
type StencilFaceState struct {
	Compare     CompareFunction
	FailOp      StencilOperation
	DepthFailOp StencilOperation
	PassOp      StencilOperation
}

// StencilState configures stencil testing for a pipeline. A zero StencilState disables stencil use.
type StencilState struct {
	Enabled   bool
	Front     StencilFaceState
	Back      StencilFaceState
	Reference uint8
	ReadMask  uint8
	WriteMask uint8
}

// BlendMode selects how fragment output combines with the attachment contents.
type BlendMode int

const (
	// BlendModeReplace overwrites the attachment.
	BlendModeReplace BlendMode = iota

	// BlendModeAdditive adds the fragment output to the attachment (src * 1 + dst * 1) on all channels.
	BlendModeAdditive
)
