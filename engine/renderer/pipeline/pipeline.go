package pipeline

import (
	"github.com/Carmen-Shannon/oxy-deferred/common"
)

// pipeline is the implementation of the Pipeline interface.
// It is a pure description: backends compile it into native objects keyed by PipelineKey.
type pipeline struct {
	// pipelineKey is the unique identifier for this pipeline, used for caching and lookups
	pipelineKey string

	source             string
	vertexEntryPoint   string
	fragmentEntryPoint string

	colorFormats        []common.TextureFormat
	depthStencilFormat  common.TextureFormat
	sampledInputFormats []common.TextureFormat
	uniformSize         int
	bufferBindingSizes  []int
	vertexPositions     bool

	blendMode         BlendMode
	colorWriteEnabled bool
	cullMode          CullMode
	frontFace         FrontFace
	depthCompare      CompareFunction
	depthWriteEnabled bool
	stencil           StencilState
}

// Pipeline describes a render pipeline: WGSL source, attachment formats, and the fixed-function
// state (blend, cull, depth, stencil) used when drawing with it. Pipelines are created once at
// setup and registered with a frame graph, which compiles them for its backend.
//
// Bind group 0 of every pipeline is laid out as binding 0 = uniform block of UniformSize bytes,
// followed by one texture binding per sampled input, then one uniform buffer binding per entry of
// BufferBindingSizes, in order.
type Pipeline interface {
	// PipelineKey returns the unique key associated with this pipeline, used for caching and lookups.
	//
	// Returns:
	//   - string: the unique key for this pipeline
	PipelineKey() string

	// Source returns the WGSL module source containing both entry points.
	//
	// Returns:
	//   - string: the WGSL source, empty for pipelines only run by CPU backends
	Source() string

	// VertexEntryPoint returns the name of the vertex stage entry point.
	//
	// Returns:
	//   - string: the entry point name
	VertexEntryPoint() string

	// FragmentEntryPoint returns the name of the fragment stage entry point.
	//
	// Returns:
	//   - string: the entry point name
	FragmentEntryPoint() string

	// ColorFormats returns the formats of the color targets, in attachment order.
	//
	// Returns:
	//   - []common.TextureFormat: one format per color target
	ColorFormats() []common.TextureFormat

	// DepthStencilFormat returns the format of the depth-stencil attachment, or TextureFormatUndefined if none.
	//
	// Returns:
	//   - common.TextureFormat: the depth-stencil format
	DepthStencilFormat() common.TextureFormat

	// SampledInputFormats returns the expected formats of the sampled texture inputs, in binding order.
	//
	// Returns:
	//   - []common.TextureFormat: one format per sampled input
	SampledInputFormats() []common.TextureFormat

	// UniformSize returns the size in bytes of the per-draw uniform block bound at group 0, binding 0.
	//
	// Returns:
	//   - int: the uniform block size, 0 if the pipeline has no uniforms
	UniformSize() int

	// BufferBindingSizes returns the record sizes of the buffer ranges each draw binds after the sampled
	// inputs. Draws bind them from long-lived buffers, such as the pages of a buffer pool.
	//
	// Returns:
	//   - []int: one record size in bytes per bound buffer range
	BufferBindingSizes() []int

	// VertexPositions returns whether the vertex stage reads a float32x3 position at location 0.
	// Pipelines without it generate their vertices from the vertex index (full-screen triangles).
	//
	// Returns:
	//   - bool: true if draws bind a position vertex buffer
	VertexPositions() bool

	// BlendMode returns how color output is combined with the attachments.
	//
	// Returns:
	//   - BlendMode: the blend mode
	BlendMode() BlendMode

	// ColorWriteEnabled returns whether the pipeline writes color at all.
	// Stencil-only passes disable color writes.
	//
	// Returns:
	//   - bool: true if color channels are written
	ColorWriteEnabled() bool

	// CullMode returns the cull mode configured for this pipeline.
	//
	// Returns:
	//   - CullMode: the cull mode
	CullMode() CullMode

	// FrontFace returns the front face winding order configured for this pipeline.
	//
	// Returns:
	//   - FrontFace: the winding order
	FrontFace() FrontFace

	// DepthCompare returns the depth test function. CompareFunctionAlways disables the test.
	//
	// Returns:
	//   - CompareFunction: the depth comparison
	DepthCompare() CompareFunction

	// DepthWriteEnabled returns whether depth writing is enabled for this pipeline.
	//
	// Returns:
	//   - bool: true if depth writing is enabled, false otherwise
	DepthWriteEnabled() bool

	// Stencil returns the stencil configuration.
	//
	// Returns:
	//   - StencilState: the stencil state, Enabled false when unused
	Stencil() StencilState
}

var _ Pipeline = &pipeline{}

// NewPipeline is the entry point to create a new Pipeline.
// Defaults: replace blending, color writes on, no culling, CCW front faces, depth test and write disabled.
//
// Parameters:
//   - pipelineKey: the unique key for this pipeline
//   - opts: a variadic list of PipelineBuilderOption functions to configure the pipeline
//
// Returns:
//   - Pipeline: a new Pipeline instance with the specified configuration
func NewPipeline(pipelineKey string, opts ...PipelineBuilderOption) Pipeline {
	p := &pipeline{
		pipelineKey:        pipelineKey,
		vertexEntryPoint:   "vs_main",
		fragmentEntryPoint: "fs_main",
		blendMode:          BlendModeReplace,
		colorWriteEnabled:  true,
		cullMode:           CullModeNone,
		frontFace:          FrontFaceCCW,
		depthCompare:       CompareFunctionAlways,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *pipeline) PipelineKey() string {
	return p.pipelineKey
}

func (p *pipeline) Source() string {
	return p.source
}

func (p *pipeline) VertexEntryPoint() string {
	return p.vertexEntryPoint
}

func (p *pipeline) FragmentEntryPoint() string {
	return p.fragmentEntryPoint
}

func (p *pipeline) ColorFormats() []common.TextureFormat {
	return p.colorFormats
}

func (p *pipeline) DepthStencilFormat() common.TextureFormat {
	return p.depthStencilFormat
}

func (p *pipeline) SampledInputFormats() []common.TextureFormat {
	return p.sampledInputFormats
}

func (p *pipeline) UniformSize() int {
	return p.uniformSize
}

func (p *pipeline) BufferBindingSizes() []int {
	return p.bufferBindingSizes
}

func (p *pipeline) VertexPositions() bool {
	return p.vertexPositions
}

func (p *pipeline) BlendMode() BlendMode {
	return p.blendMode
}

func (p *pipeline) ColorWriteEnabled() bool {
	return p.colorWriteEnabled
}

func (p *pipeline) CullMode() CullMode {
	return p.cullMode
}

func (p *pipeline) FrontFace() FrontFace {
	return p.frontFace
}

func (p *pipeline) DepthCompare() CompareFunction {
	return p.depthCompare
}

func (p *pipeline) DepthWriteEnabled() bool {
	return p.depthWriteEnabled
}

func (p *pipeline) Stencil() StencilState {
	return p.stencil
}
