package pipeline

import (
	"github.com/Carmen-Shannon/oxy-deferred/common"
)

// PipelineBuilderOption is a functional option used to configure a Pipeline during construction.
type PipelineBuilderOption func(*pipeline)

// WithShaderSource sets the WGSL module source and its entry points.
//
// Parameters:
//   - source: the WGSL source containing both entry points
//   - vertexEntry: the vertex entry point name
//   - fragmentEntry: the fragment entry point name
//
// Returns:
//   - PipelineBuilderOption: a function that sets the shader source for this pipeline
func WithShaderSource(source, vertexEntry, fragmentEntry string) PipelineBuilderOption {
	return func(p *pipeline) {
		p.source = source
		p.vertexEntryPoint = common.Coalesce(vertexEntry, p.vertexEntryPoint)
		p.fragmentEntryPoint = common.Coalesce(fragmentEntry, p.fragmentEntryPoint)
	}
}

// WithColorFormats sets the color target formats in attachment order.
//
// Parameters:
//   - formats: one format per color target
//
// Returns:
//   - PipelineBuilderOption: a function that sets the color target formats for this pipeline
func WithColorFormats(formats ...common.TextureFormat) PipelineBuilderOption {
	return func(p *pipeline) {
		p.colorFormats = formats
	}
}

// WithDepthStencilFormat sets the format of the depth-stencil attachment.
//
// Parameters:
//   - format: a depth or depth-stencil format
//
// Returns:
//   - PipelineBuilderOption: a function that sets the depth-stencil format for this pipeline
func WithDepthStencilFormat(format common.TextureFormat) PipelineBuilderOption {
	return func(p *pipeline) {
		p.depthStencilFormat = format
	}
}

// WithSampledInputs declares the formats of the textures sampled by the shader, in binding order after the uniform block.
//
// Parameters:
//   - formats: one format per sampled texture
//
// Returns:
//   - PipelineBuilderOption: a function that sets the sampled input formats for this pipeline
func WithSampledInputs(formats ...common.TextureFormat) PipelineBuilderOption {
	return func(p *pipeline) {
		p.sampledInputFormats = formats
	}
}

// WithUniformSize sets the size in bytes of the per-draw uniform block.
//
// Parameters:
//   - size: the uniform block size in bytes
//
// Returns:
//   - PipelineBuilderOption: a function that sets the uniform size for this pipeline
func WithUniformSize(size int) PipelineBuilderOption {
	return func(p *pipeline) {
		p.uniformSize = size
	}
}

// WithBufferBindings declares the buffer ranges every draw binds, in binding order after the sampled inputs.
//
// Parameters:
//   - sizes: the record size in bytes of each bound range
//
// Returns:
//   - PipelineBuilderOption: a function that sets the buffer bindings for this pipeline
func WithBufferBindings(sizes ...int) PipelineBuilderOption {
	return func(p *pipeline) {
		p.bufferBindingSizes = sizes
	}
}

// WithBlendMode sets how color output combines with the attachments.
//
// Parameters:
//   - mode: the blend mode
//
// Returns:
//   - PipelineBuilderOption: a function that sets the blend mode for this pipeline
func WithBlendMode(mode BlendMode) PipelineBuilderOption {
	return func(p *pipeline) {
		p.blendMode = mode
	}
}

// WithColorWriteEnabled sets whether color channels are written.
//
// Parameters:
//   - enabled: false for stencil-only passes
//
// Returns:
//   - PipelineBuilderOption: a function that sets the color write state for this pipeline
func WithColorWriteEnabled(enabled bool) PipelineBuilderOption {
	return func(p *pipeline) {
		p.colorWriteEnabled = enabled
	}
}

// WithCullMode sets the cull mode for this pipeline.
//
// Parameters:
//   - mode: the cull mode
//
// Returns:
//   - PipelineBuilderOption: a function that sets the cull mode for this pipeline
func WithCullMode(mode CullMode) PipelineBuilderOption {
	return func(p *pipeline) {
		p.cullMode = mode
	}
}

// WithFrontFace sets the front face winding order for this pipeline.
//
// Parameters:
//   - frontFace: the winding order
//
// Returns:
//   - PipelineBuilderOption: a function that sets the front face for this pipeline
func WithFrontFace(frontFace FrontFace) PipelineBuilderOption {
	return func(p *pipeline) {
		p.frontFace = frontFace
	}
}

// WithDepthCompare sets the depth test function.
//
// Parameters:
//   - compare: the depth comparison, CompareFunctionAlways to disable testing
//
// Returns:
//   - PipelineBuilderOption: a function that sets the depth compare for this pipeline
func WithDepthCompare(compare CompareFunction) PipelineBuilderOption {
	return func(p *pipeline) {
		p.depthCompare = compare
	}
}

// WithDepthWriteEnabled sets whether depth writing is enabled for this pipeline.
//
// Parameters:
//   - enabled: a boolean indicating whether depth writing should be enabled
//
// Returns:
//   - PipelineBuilderOption: a function that sets the depth write enabled state for this pipeline
func WithDepthWriteEnabled(enabled bool) PipelineBuilderOption {
	return func(p *pipeline) {
		p.depthWriteEnabled = enabled
	}
}

// WithVertexPositions declares that the vertex stage reads mesh positions from a vertex buffer.
//
// Returns:
//   - PipelineBuilderOption: a function that enables the position vertex input for this pipeline
func WithVertexPositions() PipelineBuilderOption {
	return func(p *pipeline) {
		p.vertexPositions = true
	}
}

// WithStencil sets the stencil state and enables stencil use.
//
// Parameters:
//   - state: the stencil configuration
//
// Returns:
//   - PipelineBuilderOption: a function that sets the stencil state for this pipeline
func WithStencil(state StencilState) PipelineBuilderOption {
	return func(p *pipeline) {
		state.Enabled = true
		if state.ReadMask == 0 {
			state.ReadMask = 0xFF
		}
		if state.WriteMask == 0 {
			state.WriteMask = 0xFF
		}
		p.stencil = state
	}
}
