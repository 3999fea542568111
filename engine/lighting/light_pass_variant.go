package lighting

import (
	"errors"
	"fmt"

	"github.com/Carmen-Shannon/oxy-deferred/common"
	"github.com/Carmen-Shannon/oxy-deferred/engine/camera"
	"github.com/Carmen-Shannon/oxy-deferred/engine/light"
	"github.com/Carmen-Shannon/oxy-deferred/engine/renderer/frame_graph"
	"github.com/Carmen-Shannon/oxy-deferred/engine/renderer/pipeline"
	"github.com/go-gl/mathgl/mgl32"
)

var (
	// ErrVariantNotReady is returned by Render when no successful Update precedes it.
	ErrVariantNotReady = errors.New("lighting: variant rendered before update")

	// ErrLightTypeMismatch is returned by Update when the light's type differs from the variant's.
	ErrLightTypeMismatch = errors.New("lighting: light type does not match variant")

	// ErrInvalidLight is returned by Update for a local light without a positive range.
	ErrInvalidLight = errors.New("lighting: invalid light")

	// ErrShadowMapUnavailable is returned by a shadowed variant's Update when the light has no populated shadow map.
	ErrShadowMapUnavailable = errors.New("lighting: shadow map missing or unpopulated")
)

// View is the per-frame camera state every light pass needs.
type View struct {
	ViewProj       mgl32.Mat4
	InvViewProj    mgl32.Mat4
	CameraPosition mgl32.Vec3
	Width          int
	Height         int
}

// NewView captures the camera matrices for attachments of the given size.
//
// Parameters:
//   - cam: the viewing camera
//   - width, height: the attachment size in pixels
//
// Returns:
//   - View: the captured view
func NewView(cam camera.Camera, width, height int) View {
	return View{
		ViewProj:       cam.ViewProjectionMatrix(),
		InvViewProj:    cam.InverseViewProjectionMatrix(),
		CameraPosition: cam.Position(),
		Width:          width,
		Height:         height,
	}
}

// LightPassVariant renders one light of a fixed type, with or without shadows, into the accumulation targets.
//
// A variant is idle until Update prepares it for a light; Render then submits the light's passes and returns
// the variant to idle. Variants are created once with the LightingPass and reused for every light they render.
type LightPassVariant interface {
	// Type returns the light type the variant renders.
	Type() light.LightType

	// Shadowed reports whether the variant samples a shadow map.
	Shadowed() bool

	// UniformSize returns the size in bytes of the variant's per-draw uniform block.
	UniformSize() int

	// Update fills the per-draw uniform block for l.
	//
	// Parameters:
	//   - l: the light to render next
	//   - view: the camera state for this frame
	//
	// Returns:
	//   - error: ErrLightTypeMismatch, ErrInvalidLight or ErrShadowMapUnavailable; the variant stays idle
	Update(l light.Light, view View) error

	// Render submits the prepared light's passes.
	//
	// Parameters:
	//   - wait: the signal the first pass waits on
	//
	// Returns:
	//   - frame_graph.Signal: the signal of the last submitted pass
	//   - error: ErrVariantNotReady, or the graph's submission error
	Render(wait frame_graph.Signal) (frame_graph.Signal, error)
}

// frameTargets are the images the variants read and write during a frame. They are owned by the LightingPass
// and shared with every variant.
type frameTargets struct {
	attachments GBufferAttachments
	inputs      GBufferInputs
}

// Sampled image slots, matching the shader bindings 1 to 3.
const (
	sampledDepth = iota
	sampledNormals
	sampledShadow
)

// variantBase holds the state shared by directional and local variants.
type variantBase struct {
	lightType light.LightType
	shadowed  bool
	pipeline  pipeline.Pipeline
	graph     frame_graph.Graph
	targets   *frameTargets

	ready    bool
	label    string
	uniform  light.GPULightPassUniform
	shadow   light.GPUShadowData
	shadowIn frame_graph.Image
	bytes    []byte
}

func (v *variantBase) Type() light.LightType {
	return v.lightType
}

func (v *variantBase) Shadowed() bool {
	return v.shadowed
}

func (v *variantBase) UniformSize() int {
	return uniformSize(v.shadowed)
}

func uniformSize(shadowed bool) int {
	size := (&light.GPULightPassUniform{}).Size()
	if shadowed {
		size += (&light.GPUShadowData{}).Size()
	}
	return size
}

// prepare validates l and fills the uniform block with everything but the volume transform.
func (v *variantBase) prepare(l light.Light, view View) error {
	v.ready = false
	if l.Type() != v.lightType {
		return fmt.Errorf("%w: %s light on %s variant", ErrLightTypeMismatch, l.Type(), v.lightType)
	}
	if v.lightType != light.LightTypeDirectional && l.Range() <= 0 {
		return fmt.Errorf("%w: %s light %s has range %g", ErrInvalidLight, l.Type(), l.ID(), l.Range())
	}

	v.uniform = light.ToGPULightPassUniform(l)
	v.uniform.InvViewProj = view.InvViewProj
	v.uniform.CameraPosition = view.CameraPosition
	v.uniform.Viewport = mgl32.Vec2{float32(view.Width), float32(view.Height)}
	v.label = fmt.Sprintf("%s light %s", v.lightType, l.ID())

	v.shadowIn = nil
	if v.shadowed {
		sm := l.ShadowMap()
		if sm == nil || !sm.Populated() || sm.Image() == nil {
			return fmt.Errorf("%w: %s light %s", ErrShadowMapUnavailable, l.Type(), l.ID())
		}
		v.shadow = sm.ShadowData()
		v.shadowIn = sm.Image()
	}
	return nil
}

// seal marshals the uniform block and marks the variant ready.
func (v *variantBase) seal() {
	v.bytes = v.uniform.Marshal()
	if v.shadowed {
		v.bytes = append(v.bytes, v.shadow.Marshal()...)
	}
	v.ready = true
}

// sampled returns the images the lighting pipeline reads, in binding order.
func (v *variantBase) sampled() []frame_graph.Image {
	in := v.targets.inputs
	out := []frame_graph.Image{in.Depth, in.Normals}
	if v.shadowed {
		out = append(out, v.shadowIn)
	}
	return out
}

// accumulation returns the color attachments every light adds into.
func (v *variantBase) accumulation() []frame_graph.ColorAttachment {
	a := v.targets.attachments
	return []frame_graph.ColorAttachment{
		{Image: a.Diffuse, LoadOp: frame_graph.LoadOpLoad},
		{Image: a.Specular, LoadOp: frame_graph.LoadOpLoad},
	}
}

// fragment returns the host reference of the light shader bound to a snapshot of the current uniform block,
// so the draw keeps shading with this light's data even if the graph executes it after the next Update.
func (v *variantBase) fragment() frame_graph.FragmentFunc {
	u := v.uniform
	var shadow *light.GPUShadowData
	if v.shadowed {
		s := v.shadow
		shadow = &s
	}
	return func(in *frame_graph.FragmentInput, out [][4]float32) bool {
		depth := in.Sample(sampledDepth, in.X, in.Y)[0]
		if depth >= 1 {
			return false
		}
		n := in.Sample(sampledNormals, in.X, in.Y)
		world := light.WorldPosition(in.X, in.Y, depth, &u)
		visibility := float32(1)
		if shadow != nil {
			visibility = light.ShadowFactor(&u, shadow, world, func(x, y int) [4]float32 {
				return in.Sample(sampledShadow, x, y)
			})
		}
		diffuse, specular := light.Shade(&u, world, mgl32.Vec3{n[0], n[1], n[2]}, n[3], visibility)
		out[0] = [4]float32{diffuse[0], diffuse[1], diffuse[2], 0}
		out[1] = [4]float32{specular[0], specular[1], specular[2], 0}
		return true
	}
}

// directionalVariant shades every pixel with a full-screen triangle.
type directionalVariant struct {
	variantBase
}

var _ LightPassVariant = &directionalVariant{}

func (v *directionalVariant) Update(l light.Light, view View) error {
	if err := v.prepare(l, view); err != nil {
		return err
	}
	v.seal()
	return nil
}

func (v *directionalVariant) Render(wait frame_graph.Signal) (frame_graph.Signal, error) {
	if !v.ready {
		return frame_graph.NoSignal, ErrVariantNotReady
	}
	v.ready = false

	sig, err := v.graph.Submit(&frame_graph.Pass{
		Label:   v.label,
		Wait:    wait,
		Sampled: v.sampled(),
		Color:   v.accumulation(),
		Draws: []frame_graph.DrawCommand{{
			Pipeline:  v.pipeline,
			Transform: mgl32.Ident4(),
			Uniforms:  v.bytes,
			Fragment:  v.fragment(),
		}},
	})
	if err != nil {
		return frame_graph.NoSignal, fmt.Errorf("failed to submit %s: %w", v.label, err)
	}
	return sig, nil
}

// localVariant shades the pixels inside a point or spot light volume: a stencil pre-pass marks the pixels
// whose scene depth lies inside the volume, then the volume's back faces shade the marked pixels once.
type localVariant struct {
	variantBase
	stencil pipeline.Pipeline
	mesh    *frame_graph.Mesh
}

var _ LightPassVariant = &localVariant{}

func (v *localVariant) Update(l light.Light, view View) error {
	if err := v.prepare(l, view); err != nil {
		return err
	}
	v.uniform.VolumeMVP = view.ViewProj.Mul4(light.VolumeTransform(l))
	v.seal()
	return nil
}

func (v *localVariant) Render(wait frame_graph.Signal) (frame_graph.Signal, error) {
	if !v.ready {
		return frame_graph.NoSignal, ErrVariantNotReady
	}
	v.ready = false
	depth := v.targets.attachments.DepthCopy
	unshadowedSize := uniformSize(false)

	marked, err := v.graph.Submit(&frame_graph.Pass{
		Label: v.label + " stencil",
		Wait:  wait,
		DepthStencil: &frame_graph.DepthStencilAttachment{
			Image:             depth,
			DepthReadOnly:     true,
			StencilLoadOp:     frame_graph.LoadOpClear,
			StencilClearValue: 0,
		},
		Draws: []frame_graph.DrawCommand{{
			Pipeline:  v.stencil,
			Mesh:      v.mesh,
			Transform: v.uniform.VolumeMVP,
			Uniforms:  v.bytes[:unshadowedSize],
		}},
	})
	if err != nil {
		return frame_graph.NoSignal, fmt.Errorf("failed to submit stencil pass of %s: %w", v.label, err)
	}

	sig, err := v.graph.Submit(&frame_graph.Pass{
		Label:   v.label,
		Wait:    marked,
		Sampled: v.sampled(),
		Color:   v.accumulation(),
		DepthStencil: &frame_graph.DepthStencilAttachment{
			Image:         depth,
			DepthReadOnly: true,
			StencilLoadOp: frame_graph.LoadOpLoad,
		},
		Draws: []frame_graph.DrawCommand{{
			Pipeline:  v.pipeline,
			Mesh:      v.mesh,
			Transform: v.uniform.VolumeMVP,
			Uniforms:  v.bytes,
			Fragment:  v.fragment(),
		}},
	})
	if err != nil {
		return frame_graph.NoSignal, fmt.Errorf("failed to submit %s: %w", v.label, err)
	}
	return sig, nil
}

// lightPipeline describes the accumulation pipeline of one variant.
func lightPipeline(t light.LightType, shadowed bool) pipeline.Pipeline {
	key := "light_pass_" + t.String()
	sampled := []common.TextureFormat{common.TextureFormatDepth24PlusStencil8, common.TextureFormatRGBA16Float}
	if shadowed {
		key += "_shadowed"
		// Both shadow kinds are unfilterable float images, so one layout serves either.
		sampled = append(sampled, light.ShadowKindDepth.Format())
	}
	opts := []pipeline.PipelineBuilderOption{
		pipeline.WithShaderSource(light.ShaderSource(t, shadowed), "vs_main", "fs_main"),
		pipeline.WithColorFormats(common.TextureFormatRGBA16Float, common.TextureFormatRGBA16Float),
		pipeline.WithSampledInputs(sampled...),
		pipeline.WithUniformSize(uniformSize(shadowed)),
		pipeline.WithBlendMode(pipeline.BlendModeAdditive),
	}
	if t != light.LightTypeDirectional {
		opts = append(opts,
			pipeline.WithVertexPositions(),
			pipeline.WithDepthStencilFormat(common.TextureFormatDepth24PlusStencil8),
			pipeline.WithCullMode(pipeline.CullModeFront),
			pipeline.WithDepthCompare(pipeline.CompareFunctionAlways),
			pipeline.WithStencil(pipeline.StencilState{
				Front:     pipeline.StencilFaceState{Compare: pipeline.CompareFunctionEqual, PassOp: pipeline.StencilOperationZero},
				Back:      pipeline.StencilFaceState{Compare: pipeline.CompareFunctionEqual, PassOp: pipeline.StencilOperationZero},
				Reference: 1,
			}),
		)
	}
	return pipeline.NewPipeline(key, opts...)
}

// stencilPipeline describes the z-fail marking pre-pass shared by point and spot variants.
func stencilPipeline() pipeline.Pipeline {
	return pipeline.NewPipeline("light_volume_stencil",
		pipeline.WithShaderSource(light.StencilShaderSource(), "vs_main", "fs_main"),
		pipeline.WithDepthStencilFormat(common.TextureFormatDepth24PlusStencil8),
		pipeline.WithUniformSize(uniformSize(false)),
		pipeline.WithVertexPositions(),
		pipeline.WithColorWriteEnabled(false),
		pipeline.WithCullMode(pipeline.CullModeNone),
		pipeline.WithDepthCompare(pipeline.CompareFunctionLess),
		pipeline.WithStencil(pipeline.StencilState{
			Front: pipeline.StencilFaceState{Compare: pipeline.CompareFunctionAlways, DepthFailOp: pipeline.StencilOperationDecrementWrap},
			Back:  pipeline.StencilFaceState{Compare: pipeline.CompareFunctionAlways, DepthFailOp: pipeline.StencilOperationIncrementWrap},
		}),
	)
}
