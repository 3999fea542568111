// Package gbuffer fills the depth and normal images the lighting pass reads, and renders the depth-kind
// shadow maps of directional and spot lights.
package gbuffer

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Carmen-Shannon/oxy-deferred/common"
	"github.com/Carmen-Shannon/oxy-deferred/engine/camera"
	"github.com/Carmen-Shannon/oxy-deferred/engine/entity_ubo"
	"github.com/Carmen-Shannon/oxy-deferred/engine/lighting"
	"github.com/Carmen-Shannon/oxy-deferred/engine/logger"
	"github.com/Carmen-Shannon/oxy-deferred/engine/model"
	"github.com/Carmen-Shannon/oxy-deferred/engine/profiler"
	"github.com/Carmen-Shannon/oxy-deferred/engine/renderer/frame_graph"
	"github.com/Carmen-Shannon/oxy-deferred/engine/renderer/pipeline"
	"github.com/go-gl/mathgl/mgl32"
)

// PassLabel is the label the geometry pass reports to its PassTimer.
const PassLabel = "gbuffer"

// ErrInvalidSize is returned when images are requested with a non-positive size.
var ErrInvalidSize = errors.New("gbuffer: invalid size")

// Drawable is one model part placed in the world. The placement and material live in the entity's pooled
// records, so the passes bind those ranges instead of copying matrices into per-draw uniforms.
type Drawable struct {
	Model     model.Model
	Part      int
	Transform frame_graph.BufferBinding // entity_ubo.GPUEntityTransform
	Material  frame_graph.BufferBinding // entity_ubo.GPUMaterialIndices
}

type geometryPassImpl struct {
	mu *sync.Mutex

	graph    frame_graph.Graph
	pipeline pipeline.Pipeline
	timer    profiler.PassTimer
	logger   *slog.Logger
	clock    func() time.Time

	width, height int
	inputs        lighting.GBufferInputs
}

// GeometryPass draws every drawable's face normals and depth into the G-buffer.
type GeometryPass interface {
	// Render clears the G-buffer and draws every drawable into it.
	//
	// Parameters:
	//   - draws: the parts to draw
	//   - cam: the viewing camera
	//   - wait: the signal the pass waits on
	//
	// Returns:
	//   - lighting.GBufferInputs: the depth and normal images
	//   - frame_graph.Signal: the signal of the geometry pass
	//   - error: an error if the graph rejects the pass
	Render(draws []Drawable, cam camera.Camera, wait frame_graph.Signal) (lighting.GBufferInputs, frame_graph.Signal, error)

	// Resize recreates the images at the given size.
	//
	// Parameters:
	//   - width, height: the new size in pixels
	//
	// Returns:
	//   - error: ErrInvalidSize or an allocation error
	Resize(width, height int) error

	// Inputs returns the current images.
	Inputs() lighting.GBufferInputs

	// Release frees the images.
	Release()
}

var _ GeometryPass = &geometryPassImpl{}

// NewGeometryPass registers the geometry pipeline and creates the G-buffer images.
//
// Parameters:
//   - graph: the graph passes are submitted to
//   - options: functional options to configure the pass
//
// Returns:
//   - GeometryPass: the created pass
//   - error: an error if the pipeline fails to register or the images cannot be allocated
func NewGeometryPass(graph frame_graph.Graph, options ...GeometryPassBuilderOption) (GeometryPass, error) {
	gp := &geometryPassImpl{
		mu:     &sync.Mutex{},
		graph:  graph,
		clock:  time.Now,
		width:  1280,
		height: 720,
	}
	for _, option := range options {
		option(gp)
	}
	gp.logger = logger.Or(gp.logger)

	gp.pipeline = pipeline.NewPipeline("gbuffer_geometry",
		pipeline.WithShaderSource(model.GeometryShaderSource, "vs_main", "fs_main"),
		pipeline.WithColorFormats(common.TextureFormatRGBA16Float),
		pipeline.WithDepthStencilFormat(common.TextureFormatDepth24PlusStencil8),
		pipeline.WithUniformSize((&model.GPUSurfaceUniform{}).Size()),
		pipeline.WithBufferBindings((&entity_ubo.GPUEntityTransform{}).Size(), (&entity_ubo.GPUMaterialIndices{}).Size()),
		pipeline.WithVertexPositions(),
		pipeline.WithCullMode(pipeline.CullModeBack),
		pipeline.WithDepthCompare(pipeline.CompareFunctionLess),
		pipeline.WithDepthWriteEnabled(true),
	)
	if err := graph.RegisterPipeline(gp.pipeline); err != nil {
		return nil, fmt.Errorf("failed to register %s: %w", gp.pipeline.PipelineKey(), err)
	}
	if err := gp.createImages(gp.width, gp.height); err != nil {
		return nil, err
	}
	return gp, nil
}

func (gp *geometryPassImpl) Render(draws []Drawable, cam camera.Camera, wait frame_graph.Signal) (lighting.GBufferInputs, frame_graph.Signal, error) {
	gp.mu.Lock()
	defer gp.mu.Unlock()
	start := gp.clock()

	viewProj := cam.ViewProjectionMatrix()
	var commands []frame_graph.DrawCommand
	for _, d := range draws {
		if d.Model == nil || d.Part < 0 || d.Part >= d.Model.PartCount() {
			continue
		}
		buffers := []frame_graph.BufferBinding{d.Transform, d.Material}
		for _, face := range d.Model.Faces(d.Part) {
			u := model.GPUSurfaceUniform{ViewProj: viewProj, Normal: face.Normal}
			commands = append(commands, frame_graph.DrawCommand{
				Pipeline: gp.pipeline,
				Mesh:     face.Mesh,
				Uniforms: u.Marshal(),
				Buffers:  buffers,
				Vertex:   pooledVertex,
				Fragment: surfaceFragment,
			})
		}
	}

	sig, err := gp.graph.Submit(&frame_graph.Pass{
		Label: "gbuffer geometry",
		Wait:  wait,
		Color: []frame_graph.ColorAttachment{{Image: gp.inputs.Normals, LoadOp: frame_graph.LoadOpClear}},
		DepthStencil: &frame_graph.DepthStencilAttachment{
			Image:           gp.inputs.Depth,
			DepthLoadOp:     frame_graph.LoadOpClear,
			DepthClearValue: 1,
			StencilLoadOp:   frame_graph.LoadOpClear,
		},
		Draws: commands,
	})
	if err != nil {
		return lighting.GBufferInputs{}, frame_graph.NoSignal, fmt.Errorf("failed to submit geometry pass: %w", err)
	}
	if gp.timer != nil {
		gp.timer.RecordPass(PassLabel, 0, gp.clock().Sub(start))
	}
	return gp.inputs, sig, nil
}

// pooledVertex places a draw with the view-projection at the start of its uniforms and the model matrix at
// the start of its first bound buffer.
func pooledVertex(in *frame_graph.VertexInput) mgl32.Mat4 {
	return common.ReadMat4(in.Uniforms).Mul4(common.ReadMat4(in.Buffers[0]))
}

func surfaceFragment(in *frame_graph.FragmentInput, out [][4]float32) bool {
	normal := common.ReadVec3(in.Uniforms[64:])
	n := model.NormalMatrix(common.ReadMat4(in.Buffers[0])).Mul3x1(normal).Normalize()
	shininess := common.ReadFloat32(in.Buffers[1][28:])
	out[0] = [4]float32{n[0], n[1], n[2], shininess}
	return true
}

func (gp *geometryPassImpl) Resize(width, height int) error {
	gp.mu.Lock()
	defer gp.mu.Unlock()
	return gp.createImages(width, height)
}

// createImages replaces the G-buffer images. Caller must hold the mutex.
func (gp *geometryPassImpl) createImages(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidSize, width, height)
	}
	depth, err := gp.graph.CreateImage(frame_graph.ImageDescriptor{
		Label: "gbuffer depth", Width: width, Height: height, Format: common.TextureFormatDepth24PlusStencil8,
	})
	if err != nil {
		return fmt.Errorf("failed to create gbuffer depth: %w", err)
	}
	normals, err := gp.graph.CreateImage(frame_graph.ImageDescriptor{
		Label: "gbuffer normals", Width: width, Height: height, Format: common.TextureFormatRGBA16Float,
	})
	if err != nil {
		gp.graph.ReleaseImage(depth)
		return fmt.Errorf("failed to create gbuffer normals: %w", err)
	}
	gp.releaseImages()
	gp.inputs = lighting.GBufferInputs{Depth: depth, Normals: normals}
	gp.width, gp.height = width, height
	gp.logger.Debug("gbuffer images created", "width", width, "height", height)
	return nil
}

func (gp *geometryPassImpl) releaseImages() {
	if gp.inputs.Depth != nil {
		gp.graph.ReleaseImage(gp.inputs.Depth)
	}
	if gp.inputs.Normals != nil {
		gp.graph.ReleaseImage(gp.inputs.Normals)
	}
	gp.inputs = lighting.GBufferInputs{}
}

func (gp *geometryPassImpl) Inputs() lighting.GBufferInputs {
	gp.mu.Lock()
	defer gp.mu.Unlock()
	return gp.inputs
}

func (gp *geometryPassImpl) Release() {
	gp.mu.Lock()
	defer gp.mu.Unlock()
	gp.releaseImages()
}
