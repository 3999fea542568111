package lighting

import (
	"testing"

	"github.com/Carmen-Shannon/oxy-deferred/common"
	"github.com/Carmen-Shannon/oxy-deferred/engine/camera"
	"github.com/Carmen-Shannon/oxy-deferred/engine/light"
	"github.com/Carmen-Shannon/oxy-deferred/engine/logger"
	"github.com/Carmen-Shannon/oxy-deferred/engine/renderer"
	"github.com/Carmen-Shannon/oxy-deferred/engine/renderer/frame_graph"
	"github.com/Carmen-Shannon/oxy-deferred/engine/renderer/pipeline"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pixelSize = 32

// gbuffer draws a wall in the z = 0 plane facing the camera and returns its depth and normals.
type gbuffer struct {
	r      renderer.Renderer
	cam    camera.Camera
	in     GBufferInputs
	signal frame_graph.Signal
}

func newGBuffer(t *testing.T, halfExtent float32) *gbuffer {
	t.Helper()
	r := renderer.NewRenderer(renderer.BackendTypeSoftware, renderer.WithLogger(logger.NewNop()))
	t.Cleanup(r.Release)
	cam := testCamera()

	depth, err := r.CreateImage(frame_graph.ImageDescriptor{Label: "scene depth", Width: pixelSize, Height: pixelSize, Format: common.TextureFormatDepth24PlusStencil8})
	require.NoError(t, err)
	normals, err := r.CreateImage(frame_graph.ImageDescriptor{Label: "scene normals", Width: pixelSize, Height: pixelSize, Format: common.TextureFormatRGBA16Float})
	require.NoError(t, err)

	geometry := pipeline.NewPipeline("test_geometry",
		pipeline.WithColorFormats(common.TextureFormatRGBA16Float),
		pipeline.WithDepthStencilFormat(common.TextureFormatDepth24PlusStencil8),
		pipeline.WithVertexPositions(),
		pipeline.WithCullMode(pipeline.CullModeNone),
		pipeline.WithDepthCompare(pipeline.CompareFunctionLess),
		pipeline.WithDepthWriteEnabled(true),
	)
	require.NoError(t, r.RegisterPipeline(geometry))

	e := halfExtent
	wall := &frame_graph.Mesh{
		Label:     "wall",
		Positions: []mgl32.Vec3{{-e, -e, 0}, {e, -e, 0}, {e, e, 0}, {-e, e, 0}},
		Indices:   []uint32{0, 1, 2, 0, 2, 3},
	}
	sig, err := r.Submit(&frame_graph.Pass{
		Label: "geometry",
		Color: []frame_graph.ColorAttachment{{Image: normals, LoadOp: frame_graph.LoadOpClear}},
		DepthStencil: &frame_graph.DepthStencilAttachment{
			Image:           depth,
			DepthLoadOp:     frame_graph.LoadOpClear,
			DepthClearValue: 1,
			StencilLoadOp:   frame_graph.LoadOpClear,
		},
		Draws: []frame_graph.DrawCommand{{
			Pipeline:  geometry,
			Mesh:      wall,
			Transform: cam.ViewProjectionMatrix(),
			Fragment: func(_ *frame_graph.FragmentInput, out [][4]float32) bool {
				out[0] = [4]float32{0, 0, 1, 16}
				return true
			},
		}},
	})
	require.NoError(t, err)
	return &gbuffer{r: r, cam: cam, in: GBufferInputs{Depth: depth, Normals: normals}, signal: sig}
}

// render accumulates lights and reads back the diffuse and specular targets.
func (g *gbuffer) render(t *testing.T, lp LightingPass, lights ...light.Light) (diffuse, specular *renderer.ImageData) {
	t.Helper()
	res, err := lp.Render(staticSource(lights), g.cam, g.in, g.signal)
	require.NoError(t, err)
	require.NoError(t, g.r.Wait(res.Signal))
	diffuse, err = g.r.ReadImage(res.Diffuse)
	require.NoError(t, err)
	specular, err = g.r.ReadImage(res.Specular)
	require.NoError(t, err)
	return diffuse, specular
}

func isZero(px [4]float32) bool {
	return px == [4]float32{}
}

func TestPointLightDoesNotLeakOutsideVolume(t *testing.T) {
	g := newGBuffer(t, 20)
	lp := newTestPass(t, g.r)
	point := light.NewLight(light.LightTypePoint, light.WithPosition(0, 0, 1), light.WithRange(2), light.WithIntensity(4))

	diffuse, specular := g.render(t, lp, point)

	center := diffuse.At(pixelSize/2, pixelSize/2)
	assert.Greater(t, center[0], float32(0))
	assert.Equal(t, float32(0), center[3])
	for _, corner := range [][2]int{{0, 0}, {pixelSize - 1, 0}, {0, pixelSize - 1}, {pixelSize - 1, pixelSize - 1}} {
		assert.True(t, isZero(diffuse.At(corner[0], corner[1])), "diffuse leaked at %v", corner)
		assert.True(t, isZero(specular.At(corner[0], corner[1])), "specular leaked at %v", corner)
	}

	// A light whose volume floats in front of the wall marks no pixels.
	floating := light.NewLight(light.LightTypePoint, light.WithPosition(0, 0, 5), light.WithRange(1))
	diffuse, specular = g.render(t, lp, floating)
	for y := range pixelSize {
		for x := range pixelSize {
			require.True(t, isZero(diffuse.At(x, y)), "diffuse at %d,%d", x, y)
			require.True(t, isZero(specular.At(x, y)), "specular at %d,%d", x, y)
		}
	}
}

func TestOverlappingLightsAccumulate(t *testing.T) {
	g := newGBuffer(t, 20)
	lp := newTestPass(t, g.r)
	a := light.NewLight(light.LightTypePoint, light.WithPosition(-0.5, 0, 1), light.WithRange(3), light.WithColor(1, 0, 0))
	b := light.NewLight(light.LightTypePoint, light.WithPosition(0.5, 0, 1), light.WithRange(3), light.WithColor(0, 1, 0))

	onlyA, _ := g.render(t, lp, a)
	onlyB, _ := g.render(t, lp, b)
	both, _ := g.render(t, lp, a, b)

	for y := range pixelSize {
		for x := range pixelSize {
			pa, pb, pab := onlyA.At(x, y), onlyB.At(x, y), both.At(x, y)
			assert.InDelta(t, pa[0]+pb[0], pab[0], 1e-2, "red at %d,%d", x, y)
			assert.InDelta(t, pa[1]+pb[1], pab[1], 1e-2, "green at %d,%d", x, y)
		}
	}
}

func TestDirectionalLightSkipsBackground(t *testing.T) {
	g := newGBuffer(t, 1)
	lp := newTestPass(t, g.r)
	sun := light.NewLight(light.LightTypeDirectional, light.WithDirection(0, 0, -1))

	diffuse, _ := g.render(t, lp, sun)

	assert.InDelta(t, 1, diffuse.At(pixelSize/2, pixelSize/2)[0], 1e-2)
	assert.True(t, isZero(diffuse.At(0, 0)))

	// The next frame starts from cleared targets.
	diffuse, _ = g.render(t, lp)
	assert.True(t, isZero(diffuse.At(pixelSize/2, pixelSize/2)))
}
