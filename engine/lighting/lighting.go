// Package lighting accumulates the contribution of every visible light into HDR diffuse and specular
// targets, reading the depth and normals a geometry pass produced.
package lighting

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Carmen-Shannon/oxy-deferred/common"
	"github.com/Carmen-Shannon/oxy-deferred/engine/camera"
	"github.com/Carmen-Shannon/oxy-deferred/engine/light"
	"github.com/Carmen-Shannon/oxy-deferred/engine/logger"
	"github.com/Carmen-Shannon/oxy-deferred/engine/profiler"
	"github.com/Carmen-Shannon/oxy-deferred/engine/renderer/frame_graph"
	"github.com/Carmen-Shannon/oxy-deferred/engine/renderer/pipeline"
)

// PassLabel is the label the lighting pass reports to its PassTimer.
const PassLabel = "lighting"

// ErrInvalidInputs is returned by Render when the G-buffer inputs are missing or mismatched.
var ErrInvalidInputs = errors.New("lighting: invalid g-buffer inputs")

// LightSource supplies the lights to accumulate. scene.Scene implements it.
type LightSource interface {
	// VisibleLights returns the enabled lights of type t that may affect the camera's view.
	VisibleLights(t light.LightType, cam camera.Camera) []light.Light
}

// GBufferInputs are the images a geometry pass produced for this frame.
type GBufferInputs struct {
	// Depth is the scene depth in a depth-stencil format.
	Depth frame_graph.Image
	// Normals holds world-space normals in xyz and the specular exponent in w.
	Normals frame_graph.Image
}

// GBufferAttachments are the images owned by the lighting pass.
type GBufferAttachments struct {
	DepthCopy frame_graph.Image
	Diffuse   frame_graph.Image
	Specular  frame_graph.Image
	Width     int
	Height    int
}

// Result is the output of one lighting frame.
type Result struct {
	// Signal completes once every light of the frame has been accumulated.
	Signal   frame_graph.Signal
	Diffuse  frame_graph.Image
	Specular frame_graph.Image
}

type lightingPassImpl struct {
	mu *sync.Mutex

	graph  frame_graph.Graph
	timer  profiler.PassTimer
	logger *slog.Logger
	clock  func() time.Time

	width, height int

	targets  *frameTargets
	variants [len(light.LightTypes)][2]LightPassVariant
}

// LightingPass owns the accumulation targets and the six light pass variants.
type LightingPass interface {
	// Render accumulates every visible light of src into the diffuse and specular targets.
	//
	// Lights are drawn grouped by type in the order of light.LightTypes, each light's passes waiting on the
	// previous light's signal. A light with a missing or unpopulated shadow map is drawn unshadowed, and a
	// light that fails to update is skipped. With no visible lights the targets are cleared and incoming is
	// returned unchanged.
	//
	// Parameters:
	//   - src: the lights to accumulate
	//   - cam: the viewing camera
	//   - in: the geometry pass outputs
	//   - incoming: the signal of the geometry pass
	//
	// Returns:
	//   - Result: the final signal and the accumulation targets
	//   - error: ErrInvalidInputs, or a graph error that aborts the frame
	Render(src LightSource, cam camera.Camera, in GBufferInputs, incoming frame_graph.Signal) (Result, error)

	// Resize recreates the attachments at the given size.
	//
	// Parameters:
	//   - width, height: the new size in pixels
	//
	// Returns:
	//   - error: an error if the graph could not allocate the images
	Resize(width, height int) error

	// Attachments returns the current attachments.
	Attachments() GBufferAttachments

	// Variant returns the variant that renders lights of type t.
	//
	// Parameters:
	//   - t: the light type
	//   - shadowed: whether the variant samples a shadow map
	//
	// Returns:
	//   - LightPassVariant: the variant, or nil for an unknown type
	Variant(t light.LightType, shadowed bool) LightPassVariant

	// Release frees the attachments.
	Release()
}

var _ LightingPass = &lightingPassImpl{}

// NewLightingPass registers the light pipelines with graph and builds the variant table.
// Attachments are created by WithSize, by Resize, or on the first Render.
//
// Parameters:
//   - graph: the graph passes are submitted to
//   - options: functional options to configure the pass
//
// Returns:
//   - LightingPass: the created pass
//   - error: an error if a pipeline fails to register or the attachments cannot be allocated
func NewLightingPass(graph frame_graph.Graph, options ...LightingPassBuilderOption) (LightingPass, error) {
	lp := &lightingPassImpl{
		mu:      &sync.Mutex{},
		graph:   graph,
		clock:   time.Now,
		targets: &frameTargets{},
	}
	for _, option := range options {
		option(lp)
	}
	lp.logger = logger.Or(lp.logger)

	stencil := stencilPipeline()
	if err := graph.RegisterPipeline(stencil); err != nil {
		return nil, fmt.Errorf("failed to register %s: %w", stencil.PipelineKey(), err)
	}
	for i, t := range light.LightTypes {
		for s, shadowed := range [2]bool{false, true} {
			p := lightPipeline(t, shadowed)
			if err := graph.RegisterPipeline(p); err != nil {
				return nil, fmt.Errorf("failed to register %s: %w", p.PipelineKey(), err)
			}
			lp.variants[i][s] = newVariant(t, shadowed, p, stencil, graph, lp.targets)
		}
	}

	if lp.width > 0 && lp.height > 0 {
		if err := lp.createAttachments(lp.width, lp.height); err != nil {
			return nil, err
		}
	}
	return lp, nil
}

func newVariant(t light.LightType, shadowed bool, p, stencil pipeline.Pipeline, graph frame_graph.Graph, targets *frameTargets) LightPassVariant {
	base := variantBase{
		lightType: t,
		shadowed:  shadowed,
		pipeline:  p,
		graph:     graph,
		targets:   targets,
	}
	if t == light.LightTypeDirectional {
		return &directionalVariant{variantBase: base}
	}
	return &localVariant{variantBase: base, stencil: stencil, mesh: light.VolumeMesh(t)}
}

func (lp *lightingPassImpl) Render(src LightSource, cam camera.Camera, in GBufferInputs, incoming frame_graph.Signal) (Result, error) {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	start := lp.clock()

	if in.Depth == nil || in.Normals == nil {
		return Result{}, fmt.Errorf("%w: depth and normals are required", ErrInvalidInputs)
	}
	if in.Depth.Width() != in.Normals.Width() || in.Depth.Height() != in.Normals.Height() {
		return Result{}, fmt.Errorf("%w: depth is %dx%d, normals are %dx%d", ErrInvalidInputs,
			in.Depth.Width(), in.Depth.Height(), in.Normals.Width(), in.Normals.Height())
	}
	if in.Depth.Format() != common.TextureFormatDepth24PlusStencil8 {
		return Result{}, fmt.Errorf("%w: depth format %s", ErrInvalidInputs, in.Depth.Format())
	}
	if in.Depth.Width() != lp.width || in.Depth.Height() != lp.height || lp.targets.attachments.Diffuse == nil {
		lp.logger.Debug("recreating lighting attachments",
			"width", in.Depth.Width(), "height", in.Depth.Height(), "previous_width", lp.width, "previous_height", lp.height)
		if err := lp.createAttachments(in.Depth.Width(), in.Depth.Height()); err != nil {
			return Result{}, err
		}
	}
	lp.targets.inputs = in
	a := lp.targets.attachments
	result := Result{Signal: incoming, Diffuse: a.Diffuse, Specular: a.Specular}

	lights := lp.gather(src, cam)
	if len(lights) == 0 {
		if _, err := lp.graph.Submit(lp.clearPass(frame_graph.NoSignal)); err != nil {
			return Result{}, fmt.Errorf("failed to clear lighting targets: %w", err)
		}
		lp.record(0, start)
		return result, nil
	}

	copied, err := lp.graph.Submit(&frame_graph.Pass{
		Label: "lighting depth copy",
		Wait:  incoming,
		Copy:  &frame_graph.CopyCommand{Source: in.Depth, Destination: a.DepthCopy},
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to copy scene depth: %w", err)
	}
	sig, err := lp.graph.Submit(lp.clearPass(copied))
	if err != nil {
		return Result{}, fmt.Errorf("failed to clear lighting targets: %w", err)
	}

	view := NewView(cam, a.Width, a.Height)
	rendered := 0
	for _, l := range lights {
		v := lp.variantFor(l)
		if err := v.Update(l, view); err != nil {
			lp.logger.Warn("skipping light", "light", l.ID(), "type", l.Type(), "shadowed", v.Shadowed(), "error", err)
			continue
		}
		next, err := v.Render(sig)
		if err != nil {
			lp.logger.Error("lighting frame aborted", "light", l.ID(), "error", err)
			return Result{}, err
		}
		sig = next
		rendered++
	}

	result.Signal = sig
	lp.record(rendered, start)
	return result, nil
}

// gather collects the visible lights grouped by type in accumulation order.
func (lp *lightingPassImpl) gather(src LightSource, cam camera.Camera) []light.Light {
	var out []light.Light
	for _, t := range light.LightTypes {
		for _, l := range src.VisibleLights(t, cam) {
			if l == nil || !l.Enabled() || l.Type() != t {
				continue
			}
			if t != light.LightTypeDirectional && !cam.IsVisible(l.Bounds()) {
				continue
			}
			out = append(out, l)
		}
	}
	return out
}

// variantFor picks the shadowed variant when l has a populated shadow map, falling back to the unshadowed one.
func (lp *lightingPassImpl) variantFor(l light.Light) LightPassVariant {
	i := typeIndex(l.Type())
	if !l.CastsShadows() {
		return lp.variants[i][0]
	}
	sm := l.ShadowMap()
	if sm == nil || !sm.Populated() {
		lp.logger.Debug("shadow map unavailable, drawing light unshadowed", "light", l.ID(), "type", l.Type(), "missing", sm == nil)
		return lp.variants[i][0]
	}
	return lp.variants[i][1]
}

func (lp *lightingPassImpl) clearPass(wait frame_graph.Signal) *frame_graph.Pass {
	a := lp.targets.attachments
	return &frame_graph.Pass{
		Label: "lighting clear",
		Wait:  wait,
		Color: []frame_graph.ColorAttachment{
			{Image: a.Diffuse, LoadOp: frame_graph.LoadOpClear},
			{Image: a.Specular, LoadOp: frame_graph.LoadOpClear},
		},
	}
}

func (lp *lightingPassImpl) record(lights int, start time.Time) {
	if lp.timer != nil {
		lp.timer.RecordPass(PassLabel, lights, lp.clock().Sub(start))
	}
}

func (lp *lightingPassImpl) Resize(width, height int) error {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	return lp.createAttachments(width, height)
}

// createAttachments replaces the attachments. Caller must hold the mutex.
func (lp *lightingPassImpl) createAttachments(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: attachment size %dx%d", ErrInvalidInputs, width, height)
	}
	descs := []frame_graph.ImageDescriptor{
		{Label: "lighting depth copy", Width: width, Height: height, Format: common.TextureFormatDepth24PlusStencil8},
		{Label: "lighting diffuse", Width: width, Height: height, Format: common.TextureFormatRGBA16Float},
		{Label: "lighting specular", Width: width, Height: height, Format: common.TextureFormatRGBA16Float},
	}
	images := make([]frame_graph.Image, 0, len(descs))
	for _, d := range descs {
		img, err := lp.graph.CreateImage(d)
		if err != nil {
			for _, created := range images {
				lp.graph.ReleaseImage(created)
			}
			return fmt.Errorf("failed to create %s: %w", d.Label, err)
		}
		images = append(images, img)
	}

	lp.releaseAttachments()
	lp.targets.attachments = GBufferAttachments{
		DepthCopy: images[0],
		Diffuse:   images[1],
		Specular:  images[2],
		Width:     width,
		Height:    height,
	}
	lp.width, lp.height = width, height
	return nil
}

func (lp *lightingPassImpl) releaseAttachments() {
	a := lp.targets.attachments
	for _, img := range []frame_graph.Image{a.DepthCopy, a.Diffuse, a.Specular} {
		if img != nil {
			lp.graph.ReleaseImage(img)
		}
	}
	lp.targets.attachments = GBufferAttachments{}
	lp.width, lp.height = 0, 0
}

func (lp *lightingPassImpl) Attachments() GBufferAttachments {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	return lp.targets.attachments
}

func (lp *lightingPassImpl) Variant(t light.LightType, shadowed bool) LightPassVariant {
	i := typeIndex(t)
	if i < 0 {
		return nil
	}
	if shadowed {
		return lp.variants[i][1]
	}
	return lp.variants[i][0]
}

func (lp *lightingPassImpl) Release() {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	lp.releaseAttachments()
}

func typeIndex(t light.LightType) int {
	for i, lt := range light.LightTypes {
		if lt == t {
			return i
		}
	}
	return -1
}
