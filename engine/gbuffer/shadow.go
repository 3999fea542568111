package gbuffer

import (
	_ "embed"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Carmen-Shannon/oxy-deferred/common"
	"github.com/Carmen-Shannon/oxy-deferred/engine/entity_ubo"
	"github.com/Carmen-Shannon/oxy-deferred/engine/light"
	"github.com/Carmen-Shannon/oxy-deferred/engine/logger"
	"github.com/Carmen-Shannon/oxy-deferred/engine/renderer/frame_graph"
	"github.com/Carmen-Shannon/oxy-deferred/engine/renderer/pipeline"
)

//go:embed assets/shadow_depth.wgsl
var shadowDepthSource string

type shadowPassImpl struct {
	mu *sync.Mutex

	graph    frame_graph.Graph
	pipeline pipeline.Pipeline
	logger   *slog.Logger
	size     int

	// depth holds one depth attachment per shadow image size.
	depth    map[[2]int]frame_graph.Image
	attached map[*light.ShadowMap]frame_graph.Image
}

// ShadowPass renders depth-kind shadow maps for directional and spot lights and marks them populated.
// Point light maps are allocated but never rendered, so point lights fall back to unshadowed lighting.
type ShadowPass interface {
	// Attach allocates a depth-kind shadow map for l and sets it on the light.
	//
	// Parameters:
	//   - l: the light to attach a map to
	//
	// Returns:
	//   - *light.ShadowMap: the attached map
	//   - error: an error if the image cannot be allocated
	Attach(l light.Light) (*light.ShadowMap, error)

	// Render draws the shadow casters into the map of every shadow producing directional or spot light.
	// Each map is marked populated once its pass is submitted.
	//
	// Parameters:
	//   - lights: the scene lights
	//   - draws: the shadow casters
	//   - wait: the signal the first pass waits on
	//
	// Returns:
	//   - frame_graph.Signal: the signal of the last submitted pass, or wait if nothing was rendered
	//   - error: an error if the graph rejects a pass
	Render(lights []light.Light, draws []Drawable, wait frame_graph.Signal) (frame_graph.Signal, error)

	// Release frees every image the pass allocated.
	Release()
}

var _ ShadowPass = &shadowPassImpl{}

// NewShadowPass registers the shadow depth pipeline.
//
// Parameters:
//   - graph: the graph passes are submitted to
//   - options: functional options to configure the pass
//
// Returns:
//   - ShadowPass: the created pass
//   - error: an error if the pipeline fails to register
func NewShadowPass(graph frame_graph.Graph, options ...ShadowPassBuilderOption) (ShadowPass, error) {
	sp := &shadowPassImpl{
		mu:       &sync.Mutex{},
		graph:    graph,
		size:     1024,
		depth:    make(map[[2]int]frame_graph.Image),
		attached: make(map[*light.ShadowMap]frame_graph.Image),
	}
	for _, option := range options {
		option(sp)
	}
	sp.logger = logger.Or(sp.logger)

	sp.pipeline = pipeline.NewPipeline("shadow_depth",
		pipeline.WithShaderSource(shadowDepthSource, "vs_main", "fs_main"),
		pipeline.WithColorFormats(light.ShadowKindDepth.Format()),
		pipeline.WithDepthStencilFormat(common.TextureFormatDepth32Float),
		pipeline.WithUniformSize(64),
		pipeline.WithBufferBindings((&entity_ubo.GPUEntityTransform{}).Size()),
		pipeline.WithVertexPositions(),
		pipeline.WithCullMode(pipeline.CullModeNone),
		pipeline.WithDepthCompare(pipeline.CompareFunctionLess),
		pipeline.WithDepthWriteEnabled(true),
	)
	if err := graph.RegisterPipeline(sp.pipeline); err != nil {
		return nil, fmt.Errorf("failed to register %s: %w", sp.pipeline.PipelineKey(), err)
	}
	return sp, nil
}

func (sp *shadowPassImpl) Attach(l light.Light) (*light.ShadowMap, error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	width := sp.size
	if l.Type() == light.LightTypePoint {
		width = 6 * sp.size
	}
	img, err := sp.graph.CreateImage(frame_graph.ImageDescriptor{
		Label:  fmt.Sprintf("%s shadow map %s", l.Type(), l.ID()),
		Width:  width,
		Height: sp.size,
		Format: light.ShadowKindDepth.Format(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create shadow map for %s light %s: %w", l.Type(), l.ID(), err)
	}
	if old := l.ShadowMap(); old != nil {
		if prev, ok := sp.attached[old]; ok {
			sp.graph.ReleaseImage(prev)
			delete(sp.attached, old)
		}
	}
	sm := light.NewShadowMap(light.ShadowKindDepth, img, light.DefaultShadowBias)
	if l.Type() == light.LightTypeSpot {
		sm.SetLightVP(light.SpotLightVP(l))
	}
	sp.attached[sm] = img
	l.SetShadowMap(sm)
	return sm, nil
}

func (sp *shadowPassImpl) Render(lights []light.Light, draws []Drawable, wait frame_graph.Signal) (frame_graph.Signal, error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	sig := wait
	for _, l := range lights {
		sm := l.ShadowMap()
		if !l.Enabled() || !l.CastsShadows() || sm == nil || l.Type() == light.LightTypePoint {
			continue
		}
		if sm.Kind() != light.ShadowKindDepth {
			sp.logger.Debug("shadow map kind not rendered", "light", l.ID(), "kind", sm.Kind())
			continue
		}
		img := sm.Image()
		depth, err := sp.depthFor(img.Width(), img.Height())
		if err != nil {
			return frame_graph.NoSignal, err
		}

		uniforms := make([]byte, 64)
		common.PutMat4(uniforms, sm.LightVP())
		var commands []frame_graph.DrawCommand
		for _, d := range draws {
			if d.Model == nil || d.Part < 0 || d.Part >= d.Model.PartCount() {
				continue
			}
			buffers := []frame_graph.BufferBinding{d.Transform}
			for _, face := range d.Model.Faces(d.Part) {
				commands = append(commands, frame_graph.DrawCommand{
					Pipeline: sp.pipeline,
					Mesh:     face.Mesh,
					Uniforms: uniforms,
					Buffers:  buffers,
					Vertex:   pooledVertex,
					Fragment: depthFragment,
				})
			}
		}

		next, err := sp.graph.Submit(&frame_graph.Pass{
			Label: fmt.Sprintf("shadow %s light %s", l.Type(), l.ID()),
			Wait:  sig,
			Color: []frame_graph.ColorAttachment{{Image: img, LoadOp: frame_graph.LoadOpClear, ClearValue: [4]float32{1, 1, 1, 1}}},
			DepthStencil: &frame_graph.DepthStencilAttachment{
				Image:           depth,
				DepthLoadOp:     frame_graph.LoadOpClear,
				DepthClearValue: 1,
			},
			Draws: commands,
		})
		if err != nil {
			return frame_graph.NoSignal, fmt.Errorf("failed to submit shadow pass for %s light %s: %w", l.Type(), l.ID(), err)
		}
		sig = next
		sm.MarkPopulated()
	}
	return sig, nil
}

func depthFragment(in *frame_graph.FragmentInput, out [][4]float32) bool {
	out[0] = [4]float32{in.Depth, 0, 0, 1}
	return true
}

// depthFor returns the shared depth attachment for a shadow image size. Caller must hold the mutex.
func (sp *shadowPassImpl) depthFor(width, height int) (frame_graph.Image, error) {
	key := [2]int{width, height}
	if img, ok := sp.depth[key]; ok {
		return img, nil
	}
	img, err := sp.graph.CreateImage(frame_graph.ImageDescriptor{
		Label:  fmt.Sprintf("shadow depth %dx%d", width, height),
		Width:  width,
		Height: height,
		Format: common.TextureFormatDepth32Float,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create shadow depth: %w", err)
	}
	sp.depth[key] = img
	return img, nil
}

func (sp *shadowPassImpl) Release() {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	for key, img := range sp.depth {
		sp.graph.ReleaseImage(img)
		delete(sp.depth, key)
	}
	for sm, img := range sp.attached {
		sm.Invalidate()
		sp.graph.ReleaseImage(img)
		delete(sp.attached, sm)
	}
}
