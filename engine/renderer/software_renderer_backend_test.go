package renderer

import (
	"testing"

	"github.com/Carmen-Shannon/oxy-deferred/common"
	"github.com/Carmen-Shannon/oxy-deferred/engine/logger"
	"github.com/Carmen-Shannon/oxy-deferred/engine/renderer/frame_graph"
	"github.com/Carmen-Shannon/oxy-deferred/engine/renderer/pipeline"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBackend(t *testing.T) *softwareRendererBackend {
	t.Helper()
	return newSoftwareRendererBackend(logger.NewNop())
}

func createImage(t *testing.T, b *softwareRendererBackend, label string, w, h int, f common.TextureFormat) frame_graph.Image {
	t.Helper()
	img, err := b.CreateImage(frame_graph.ImageDescriptor{Label: label, Width: w, Height: h, Format: f})
	require.NoError(t, err)
	return img
}

func constant(v [4]float32) frame_graph.FragmentFunc {
	return func(_ *frame_graph.FragmentInput, out [][4]float32) bool {
		for i := range out {
			out[i] = v
		}
		return true
	}
}

func additive(t *testing.T, b *softwareRendererBackend, key string, opts ...pipeline.PipelineBuilderOption) pipeline.Pipeline {
	t.Helper()
	base := []pipeline.PipelineBuilderOption{
		pipeline.WithColorFormats(common.TextureFormatRGBA16Float),
		pipeline.WithBlendMode(pipeline.BlendModeAdditive),
	}
	p := pipeline.NewPipeline(key, append(base, opts...)...)
	require.NoError(t, b.RegisterPipeline(p))
	return p
}

func quad(z float32) *frame_graph.Mesh {
	return &frame_graph.Mesh{
		Label:     "quad",
		Positions: []mgl32.Vec3{{-1, -1, z}, {1, -1, z}, {1, 1, z}, {-1, 1, z}},
		Indices:   []uint32{0, 1, 2, 0, 2, 3},
	}
}

func readChannel(t *testing.T, b *softwareRendererBackend, img frame_graph.Image) [][]float32 {
	t.Helper()
	data, err := b.ReadImage(img)
	require.NoError(t, err)
	rows := make([][]float32, data.Height)
	for y := range data.Height {
		rows[y] = make([]float32, data.Width)
		for x := range data.Width {
			rows[y][x] = data.At(x, y)[0]
		}
	}
	return rows
}

func TestFullscreenTriangleCoversEveryPixelOnce(t *testing.T) {
	b := newTestBackend(t)
	target := createImage(t, b, "target", 5, 3, common.TextureFormatRGBA16Float)
	p := additive(t, b, "fullscreen")

	sig := frame_graph.NoSignal
	for range 2 {
		var err error
		sig, err = b.Submit(&frame_graph.Pass{
			Label: "add",
			Wait:  sig,
			Color: []frame_graph.ColorAttachment{{Image: target}},
			Draws: []frame_graph.DrawCommand{{Pipeline: p, Fragment: constant([4]float32{1, 0, 0, 1})}},
		})
		require.NoError(t, err)
	}
	require.NoError(t, b.Wait(sig))

	for _, row := range readChannel(t, b, target) {
		for _, v := range row {
			assert.Equal(t, float32(2), v)
		}
	}
}

func TestSharedEdgeIsShadedOnce(t *testing.T) {
	b := newTestBackend(t)
	target := createImage(t, b, "target", 4, 4, common.TextureFormatRGBA16Float)
	p := additive(t, b, "quad", pipeline.WithVertexPositions())

	sig, err := b.Submit(&frame_graph.Pass{
		Label: "quad",
		Color: []frame_graph.ColorAttachment{{Image: target, LoadOp: frame_graph.LoadOpClear}},
		Draws: []frame_graph.DrawCommand{{Pipeline: p, Mesh: quad(0.5), Transform: mgl32.Ident4(), Fragment: constant([4]float32{1, 1, 1, 1})}},
	})
	require.NoError(t, err)
	require.NoError(t, b.Wait(sig))

	// The quad's diagonal passes exactly through the centers of the anti-diagonal pixels.
	for y, row := range readChannel(t, b, target) {
		for x, v := range row {
			assert.Equal(t, float32(1), v, "pixel (%d,%d)", x, y)
		}
	}
}

func TestCullModes(t *testing.T) {
	b := newTestBackend(t)
	target := createImage(t, b, "target", 2, 2, common.TextureFormatRGBA16Float)
	cullBack := additive(t, b, "cull_back", pipeline.WithCullMode(pipeline.CullModeBack))
	cullFront := additive(t, b, "cull_front", pipeline.WithCullMode(pipeline.CullModeFront))

	sig, err := b.Submit(&frame_graph.Pass{
		Label: "cull",
		Color: []frame_graph.ColorAttachment{{Image: target, LoadOp: frame_graph.LoadOpClear}},
		Draws: []frame_graph.DrawCommand{
			{Pipeline: cullBack, Fragment: constant([4]float32{1, 0, 0, 0})},
			{Pipeline: cullFront, Fragment: constant([4]float32{10, 0, 0, 0})},
		},
	})
	require.NoError(t, err)
	require.NoError(t, b.Wait(sig))
	assert.Equal(t, [][]float32{{1, 1}, {1, 1}}, readChannel(t, b, target), "the full-screen triangle is front facing")
}

func TestDeferredExecutionFollowsSignalsAndHazards(t *testing.T) {
	b := newTestBackend(t)
	x := createImage(t, b, "x", 1, 1, common.TextureFormatRGBA16Float)
	y := createImage(t, b, "y", 1, 1, common.TextureFormatRGBA16Float)
	p := additive(t, b, "add")

	_, err := b.Submit(&frame_graph.Pass{
		Label: "clear x",
		Color: []frame_graph.ColorAttachment{{Image: x, LoadOp: frame_graph.LoadOpClear, ClearValue: [4]float32{5, 0, 0, 0}}},
	})
	require.NoError(t, err)
	addX, err := b.Submit(&frame_graph.Pass{
		Label: "add x",
		Color: []frame_graph.ColorAttachment{{Image: x}},
		Draws: []frame_graph.DrawCommand{{Pipeline: p, Fragment: constant([4]float32{1, 0, 0, 0})}},
	})
	require.NoError(t, err)
	_, err = b.Submit(&frame_graph.Pass{
		Label: "clear y",
		Color: []frame_graph.ColorAttachment{{Image: y, LoadOp: frame_graph.LoadOpClear, ClearValue: [4]float32{3, 0, 0, 0}}},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, b.Pending(), "submission never executes")

	require.NoError(t, b.Wait(addX))
	assert.Equal(t, 1, b.Pending(), "the unrelated pass stays pending")
	assert.Equal(t, [][]float32{{6}}, readChannel(t, b, x))
	assert.Equal(t, [][]float32{{3}}, readChannel(t, b, y))
	assert.Equal(t, 0, b.Pending())
}

func TestSubmitRejectsUnknownSignalAndPipeline(t *testing.T) {
	b := newTestBackend(t)
	target := createImage(t, b, "target", 1, 1, common.TextureFormatRGBA16Float)

	_, err := b.Submit(&frame_graph.Pass{Label: "early", Wait: 42, Color: []frame_graph.ColorAttachment{{Image: target}}})
	assert.ErrorIs(t, err, frame_graph.ErrUnknownSignal)
	assert.ErrorIs(t, b.Wait(42), frame_graph.ErrUnknownSignal)

	unregistered := pipeline.NewPipeline("missing", pipeline.WithColorFormats(common.TextureFormatRGBA16Float))
	_, err = b.Submit(&frame_graph.Pass{
		Label: "draw",
		Color: []frame_graph.ColorAttachment{{Image: target}},
		Draws: []frame_graph.DrawCommand{{Pipeline: unregistered}},
	})
	assert.ErrorIs(t, err, frame_graph.ErrUnknownPipeline)
}

func TestDepthCopy(t *testing.T) {
	b := newTestBackend(t)
	src := createImage(t, b, "scene_depth", 2, 2, common.TextureFormatDepth24PlusStencil8)
	dst := createImage(t, b, "depth_copy", 2, 2, common.TextureFormatDepth24PlusStencil8)
	write := pipeline.NewPipeline("depth_write",
		pipeline.WithVertexPositions(),
		pipeline.WithDepthStencilFormat(common.TextureFormatDepth24PlusStencil8),
		pipeline.WithDepthCompare(pipeline.CompareFunctionLess),
		pipeline.WithDepthWriteEnabled(true),
	)
	require.NoError(t, b.RegisterPipeline(write))

	sig, err := b.Submit(&frame_graph.Pass{
		Label:        "geometry",
		DepthStencil: &frame_graph.DepthStencilAttachment{Image: src, DepthLoadOp: frame_graph.LoadOpClear, DepthClearValue: 1},
		Draws:        []frame_graph.DrawCommand{{Pipeline: write, Mesh: quad(0.25), Transform: mgl32.Ident4()}},
	})
	require.NoError(t, err)
	sig, err = b.Submit(&frame_graph.Pass{Label: "copy", Wait: sig, Copy: &frame_graph.CopyCommand{Source: src, Destination: dst}})
	require.NoError(t, err)
	require.NoError(t, b.Wait(sig))

	assert.Equal(t, [][]float32{{0.25, 0.25}, {0.25, 0.25}}, readChannel(t, b, dst))
}

// capBox returns the near (z0) and far (z1) caps of a box covering the middle of clip space,
// wound counter-clockwise as seen from outside.
func capBox(z0, z1 float32) *frame_graph.Mesh {
	return &frame_graph.Mesh{
		Label: "caps",
		Positions: []mgl32.Vec3{
			{-0.5, -0.5, z0}, {0.5, -0.5, z0}, {0.5, 0.5, z0}, {-0.5, 0.5, z0},
			{-0.5, -0.5, z1}, {0.5, -0.5, z1}, {0.5, 0.5, z1}, {-0.5, 0.5, z1},
		},
		Indices: []uint32{
			0, 1, 2, 0, 2, 3,
			4, 6, 5, 4, 7, 6,
		},
	}
}

func TestZFailStencilMarksOnlyEnclosedDepth(t *testing.T) {
	cases := []struct {
		name      string
		depth     float32
		wantInner uint8
		wantLight float32
	}{
		{name: "geometry inside volume", depth: 0.4, wantInner: 1, wantLight: 1},
		{name: "geometry in front of volume", depth: 0.1},
		{name: "geometry behind volume", depth: 0.9},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := newTestBackend(t)
			depth := createImage(t, b, "depth_copy", 4, 4, common.TextureFormatDepth24PlusStencil8)
			light := createImage(t, b, "diffuse", 4, 4, common.TextureFormatRGBA16Float)

			mark := pipeline.NewPipeline("stencil_mark",
				pipeline.WithVertexPositions(),
				pipeline.WithDepthStencilFormat(common.TextureFormatDepth24PlusStencil8),
				pipeline.WithColorWriteEnabled(false),
				pipeline.WithDepthCompare(pipeline.CompareFunctionLess),
				pipeline.WithStencil(pipeline.StencilState{
					Front: pipeline.StencilFaceState{Compare: pipeline.CompareFunctionAlways, DepthFailOp: pipeline.StencilOperationDecrementWrap},
					Back:  pipeline.StencilFaceState{Compare: pipeline.CompareFunctionAlways, DepthFailOp: pipeline.StencilOperationIncrementWrap},
				}),
			)
			shade := additive(t, b, "shade",
				pipeline.WithVertexPositions(),
				pipeline.WithDepthStencilFormat(common.TextureFormatDepth24PlusStencil8),
				pipeline.WithCullMode(pipeline.CullModeFront),
				pipeline.WithStencil(pipeline.StencilState{
					Front:     pipeline.StencilFaceState{Compare: pipeline.CompareFunctionEqual, PassOp: pipeline.StencilOperationZero},
					Back:      pipeline.StencilFaceState{Compare: pipeline.CompareFunctionEqual, PassOp: pipeline.StencilOperationZero},
					Reference: 1,
				}),
			)
			require.NoError(t, b.RegisterPipeline(mark))

			box := capBox(0.2, 0.6)
			sig, err := b.Submit(&frame_graph.Pass{
				Label:        "scene",
				DepthStencil: &frame_graph.DepthStencilAttachment{Image: depth, DepthLoadOp: frame_graph.LoadOpClear, DepthClearValue: tc.depth},
				Color:        []frame_graph.ColorAttachment{{Image: light, LoadOp: frame_graph.LoadOpClear}},
			})
			require.NoError(t, err)
			sig, err = b.Submit(&frame_graph.Pass{
				Label:        "mark",
				Wait:         sig,
				DepthStencil: &frame_graph.DepthStencilAttachment{Image: depth, DepthReadOnly: true, StencilLoadOp: frame_graph.LoadOpClear},
				Draws:        []frame_graph.DrawCommand{{Pipeline: mark, Mesh: box, Transform: mgl32.Ident4()}},
			})
			require.NoError(t, err)
			marked, err := b.ReadStencil(depth)
			require.NoError(t, err)
			for y := range 4 {
				for x := range 4 {
					want := uint8(0)
					if x >= 1 && x <= 2 && y >= 1 && y <= 2 {
						want = tc.wantInner
					}
					assert.Equal(t, want, marked[y*4+x], "stencil at (%d,%d)", x, y)
				}
			}

			sig, err = b.Submit(&frame_graph.Pass{
				Label:        "shade",
				Wait:         sig,
				Color:        []frame_graph.ColorAttachment{{Image: light}},
				DepthStencil: &frame_graph.DepthStencilAttachment{Image: depth, DepthReadOnly: true},
				Draws:        []frame_graph.DrawCommand{{Pipeline: shade, Mesh: box, Transform: mgl32.Ident4(), Fragment: constant([4]float32{1, 1, 1, 1})}},
			})
			require.NoError(t, err)
			require.NoError(t, b.Wait(sig))

			lit := readChannel(t, b, light)
			for y := range 4 {
				for x := range 4 {
					want := float32(0)
					if x >= 1 && x <= 2 && y >= 1 && y <= 2 {
						want = tc.wantLight
					}
					assert.Equal(t, want, lit[y][x], "light at (%d,%d)", x, y)
				}
			}
			cleared, err := b.ReadStencil(depth)
			require.NoError(t, err)
			for _, s := range cleared {
				assert.Zero(t, s, "the shading pass zeroes the stencil it consumes")
			}
		})
	}
}

func TestClipPolygonAgainstNearPlane(t *testing.T) {
	tri := []mgl32.Vec4{{0, 0, -1, 1}, {1, 0, 0.5, 1}, {0, 1, 0.5, 1}}
	clipped := clipPolygon(tri)
	require.Len(t, clipped, 4)
	for _, v := range clipped {
		assert.GreaterOrEqual(t, v.Z(), float32(-1e-6))
	}

	behind := []mgl32.Vec4{{0, 0, -1, 1}, {1, 0, -0.5, 1}, {0, 1, -0.5, 1}}
	assert.Empty(t, clipPolygon(behind))
}

func TestHalfToFloat32(t *testing.T) {
	assert.Equal(t, float32(1), halfToFloat32(0x3C00))
	assert.Equal(t, float32(-2), halfToFloat32(0xC000))
	assert.Equal(t, float32(65504), halfToFloat32(0x7BFF))
	assert.Equal(t, float32(0), halfToFloat32(0))
	assert.InDelta(t, 5.960464477539063e-08, halfToFloat32(0x0001), 1e-12)
}
