package light

import (
	"encoding/binary"
	"math"
	"strings"
	"testing"

	"github.com/Carmen-Shannon/oxy-deferred/common"
	"github.com/Carmen-Shannon/oxy-deferred/engine/renderer/frame_graph"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeImage struct {
	w, h   int
	format common.TextureFormat
}

func (f *fakeImage) Label() string                { return "shadow" }
func (f *fakeImage) Width() int                   { return f.w }
func (f *fakeImage) Height() int                  { return f.h }
func (f *fakeImage) Format() common.TextureFormat { return f.format }

func float32At(buf []byte, off int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(buf[off:]))
}

func TestGPULightPassUniformLayout(t *testing.T) {
	l := NewLight(LightTypeSpot, WithColor(1, 0.5, 0.25), WithIntensity(3), WithRange(7), WithPosition(1, 2, 3))
	u := ToGPULightPassUniform(l)
	u.Viewport = mgl32.Vec2{640, 480}
	u.CameraPosition = mgl32.Vec3{9, 8, 7}

	assert.Equal(t, 208, u.Size())
	buf := u.Marshal()
	require.Len(t, buf, 208)
	assert.Equal(t, float32(1), float32At(buf, 0), "volume transform defaults to identity")
	assert.Equal(t, float32(0.5), float32At(buf, 132))
	assert.Equal(t, float32(3), float32At(buf, 140))
	assert.Equal(t, float32(2), float32At(buf, 148))
	assert.Equal(t, float32(7), float32At(buf, 156))
	assert.Equal(t, l.InnerCone(), float32At(buf, 172))
	assert.Equal(t, float32(9), float32At(buf, 176))
	assert.Equal(t, l.OuterCone(), float32At(buf, 188))
	assert.Equal(t, float32(480), float32At(buf, 196))
	assert.Equal(t, uint32(LightTypeSpot), binary.LittleEndian.Uint32(buf[200:]))
}

func TestGPUShadowDataLayout(t *testing.T) {
	sm := NewShadowMap(ShadowKindVariance, &fakeImage{w: 256, h: 128, format: common.TextureFormatRG32Float}, 0.005)
	data := sm.ShadowData()

	assert.Equal(t, 80, data.Size())
	buf := data.Marshal()
	require.Len(t, buf, 80)
	assert.Equal(t, float32(1.0/256), float32At(buf, 64))
	assert.Equal(t, float32(1.0/128), float32At(buf, 68))
	assert.Equal(t, float32(0.005), float32At(buf, 72))
	assert.Equal(t, uint32(ShadowKindVariance), binary.LittleEndian.Uint32(buf[76:]))
}

func TestShadowMapPopulation(t *testing.T) {
	sm := NewShadowMap(ShadowKindDepth, &fakeImage{w: 4, h: 4, format: common.TextureFormatR32Float}, DefaultShadowBias)
	assert.False(t, sm.Populated())
	sm.MarkPopulated()
	assert.True(t, sm.Populated())
	sm.Invalidate()
	assert.False(t, sm.Populated())

	vp := mgl32.Translate3D(1, 2, 3)
	sm.SetLightVP(vp)
	assert.Equal(t, vp, sm.LightVP())
	assert.Equal(t, common.TextureFormatR32Float, ShadowKindDepth.Format())
	assert.Equal(t, common.TextureFormatRG32Float, ShadowKindVariance.Format())
}

func TestSpotConeIsClamped(t *testing.T) {
	l := NewLight(LightTypeSpot, WithSpotCone(120, 100))
	assert.InDelta(t, common.CosDeg(MaxSpotAngle), l.OuterCone(), 1e-6)
	assert.InDelta(t, l.OuterCone(), l.InnerCone(), 1e-6, "inner never exceeds outer")
}

// faces returns the outward unit normal and a point of every triangle in m.
func faces(m *frame_graph.Mesh) (normals, points []mgl32.Vec3) {
	for t := 0; t < len(m.Indices); t += 3 {
		a, b, c := m.Positions[m.Indices[t]], m.Positions[m.Indices[t+1]], m.Positions[m.Indices[t+2]]
		normals = append(normals, b.Sub(a).Cross(c.Sub(a)).Normalize())
		points = append(points, a)
	}
	return normals, points
}

func TestUnitSphereEnclosesUnitSphere(t *testing.T) {
	normals, points := faces(UnitSphere())
	require.NotEmpty(t, normals)
	for i, n := range normals {
		dist := n.Dot(points[i])
		assert.GreaterOrEqual(t, dist, float32(1-1e-5), "face %d cuts into the sphere", i)
	}
}

func TestUnitConeEnclosesUnitCone(t *testing.T) {
	normals, points := faces(UnitCone())
	require.NotEmpty(t, normals)

	samples := []mgl32.Vec3{{0, 0, 0}}
	for i := range 64 {
		theta := 2 * math.Pi * float64(i) / 64
		samples = append(samples, mgl32.Vec3{float32(math.Cos(theta)), float32(math.Sin(theta)), 1})
	}
	for i, n := range normals {
		for _, s := range samples {
			assert.LessOrEqual(t, n.Dot(s.Sub(points[i])), float32(1e-5), "face %d excludes %v", i, s)
		}
	}
}

func TestBoundsEncloseInfluence(t *testing.T) {
	lights := []Light{
		NewLight(LightTypePoint, WithPosition(3, -1, 2), WithRange(5)),
		NewLight(LightTypeSpot, WithPosition(0, 4, 0), WithDirection(0, -1, 0), WithRange(8), WithSpotCone(10, 20)),
		NewLight(LightTypeSpot, WithPosition(1, 1, 1), WithDirection(0, 0, -1), WithRange(3), WithSpotCone(50, 70)),
	}
	for _, l := range lights {
		bounds := l.Bounds()
		bounds.Radius *= 1 + 1e-4

		samples := []mgl32.Vec3{l.Position()}
		model := VolumeTransform(l)
		for i := range 32 {
			theta := 2 * math.Pi * float64(i) / 32
			c, s := float32(math.Cos(theta)), float32(math.Sin(theta))
			if l.Type() == LightTypePoint {
				samples = append(samples,
					l.Position().Add(mgl32.Vec3{c, s, 0}.Mul(l.Range())),
					l.Position().Add(mgl32.Vec3{0, c, s}.Mul(l.Range())))
				continue
			}
			// The unit circle at z = 1 maps onto the rim of the spot cone.
			samples = append(samples, model.Mul4x1(mgl32.Vec4{c, s, 1, 1}).Vec3())
		}
		for _, p := range samples {
			assert.True(t, bounds.Contains(p), "%s light point %v outside %v", l.Type(), p, l.Bounds())
		}
	}
}

func TestSpotVolumeOpensAlongDirection(t *testing.T) {
	l := NewLight(LightTypeSpot, WithPosition(0, 4, 0), WithDirection(0, -1, 0), WithRange(8))
	tip := VolumeTransform(l).Mul4x1(mgl32.Vec4{0, 0, 1, 1}).Vec3()
	assert.InDelta(t, 0, tip.Sub(mgl32.Vec3{0, -4, 0}).Len(), 1e-5)
	assert.True(t, NewLight(LightTypeDirectional).Bounds().Unbounded())
}

func TestIsVisible(t *testing.T) {
	view := mgl32.LookAtV(mgl32.Vec3{}, mgl32.Vec3{0, 0, -1}, mgl32.Vec3{0, 1, 0})
	proj := common.Perspective(mgl32.DegToRad(60), 1, 0.1, 100)
	frustum := common.ExtractFrustumFromMatrix(proj.Mul4(view))

	ahead := NewLight(LightTypePoint, WithPosition(0, 0, -10), WithRange(1))
	behind := NewLight(LightTypePoint, WithPosition(0, 0, 10), WithRange(1))
	straddling := NewLight(LightTypePoint, WithPosition(0, 0, 2), WithRange(3))
	sun := NewLight(LightTypeDirectional)
	off := NewLight(LightTypePoint, WithPosition(0, 0, -10), WithEnabled(false))

	assert.True(t, IsVisible(ahead, &frustum))
	assert.False(t, IsVisible(behind, &frustum))
	assert.True(t, IsVisible(straddling, &frustum))
	assert.True(t, IsVisible(sun, &frustum))
	assert.False(t, IsVisible(off, &frustum))

	visible := Cull([]Light{sun, behind, ahead, off, straddling}, LightTypePoint, &frustum)
	assert.Equal(t, []Light{ahead, straddling}, visible)
}

func TestCubeFaceUV(t *testing.T) {
	cases := []struct {
		dir  mgl32.Vec3
		face int
	}{
		{mgl32.Vec3{2, 0, 0}, 0},
		{mgl32.Vec3{-1, 0.2, 0}, 1},
		{mgl32.Vec3{0, 3, 0}, 2},
		{mgl32.Vec3{0.1, -1, 0}, 3},
		{mgl32.Vec3{0, 0, 1}, 4},
		{mgl32.Vec3{0, 0, -2}, 5},
	}
	for _, tc := range cases {
		u, v, face := CubeFaceUV(tc.dir)
		assert.Equal(t, tc.face, face, "direction %v", tc.dir)
		assert.True(t, u >= 0 && u <= 1 && v >= 0 && v <= 1)
	}
	u, v, _ := CubeFaceUV(mgl32.Vec3{1, 0, 0})
	assert.Equal(t, float32(0.5), u)
	assert.Equal(t, float32(0.5), v)
}

func TestWorldPositionInvertsViewProjection(t *testing.T) {
	view := mgl32.LookAtV(mgl32.Vec3{2, 3, 4}, mgl32.Vec3{}, mgl32.Vec3{0, 1, 0})
	proj := common.Perspective(mgl32.DegToRad(45), 2, 0.1, 50)
	viewProj := proj.Mul4(view)
	u := &GPULightPassUniform{InvViewProj: viewProj.Inv(), Viewport: mgl32.Vec2{8, 4}}

	world := WorldPosition(5, 1, 0.9, u)
	clip := viewProj.Mul4x1(world.Vec4(1))
	ndc := clip.Vec3().Mul(1 / clip.W())
	assert.InDelta(t, (5.5/8)*2-1, ndc.X(), 1e-3)
	assert.InDelta(t, 1-(1.5/4)*2, ndc.Y(), 1e-3)
	assert.InDelta(t, 0.9, ndc.Z(), 1e-3)
}

func TestShade(t *testing.T) {
	up := mgl32.Vec3{0, 1, 0}

	sun := ToGPULightPassUniform(NewLight(LightTypeDirectional, WithDirection(0, -1, 0), WithColor(1, 0.5, 0), WithIntensity(2)))
	sun.CameraPosition = mgl32.Vec3{0, 10, 0}
	diffuse, specular := Shade(&sun, mgl32.Vec3{}, up, 16, 1)
	assert.InDeltaSlice(t, []float32{2, 1, 0}, diffuse[:], 1e-6)
	assert.InDeltaSlice(t, []float32{2, 1, 0}, specular[:], 1e-6)

	diffuse, specular = Shade(&sun, mgl32.Vec3{}, up, 16, 0)
	assert.Equal(t, mgl32.Vec3{}, diffuse, "fully shadowed")
	assert.Equal(t, mgl32.Vec3{}, specular)

	diffuse, _ = Shade(&sun, mgl32.Vec3{}, mgl32.Vec3{}, 16, 1)
	assert.Equal(t, mgl32.Vec3{}, diffuse, "background has no normal")

	bulb := ToGPULightPassUniform(NewLight(LightTypePoint, WithPosition(0, 2, 0), WithRange(4)))
	diffuse, _ = Shade(&bulb, mgl32.Vec3{}, up, 16, 1)
	assert.InDelta(t, Attenuation(2, 4), diffuse.X(), 1e-6)
	diffuse, _ = Shade(&bulb, mgl32.Vec3{0, -3, 0}, up, 16, 1)
	assert.Equal(t, mgl32.Vec3{}, diffuse, "beyond range")

	spot := ToGPULightPassUniform(NewLight(LightTypeSpot, WithPosition(0, 2, 0), WithDirection(0, -1, 0), WithRange(10), WithSpotCone(10, 20)))
	inside, _ := Shade(&spot, mgl32.Vec3{}, up, 16, 1)
	outside, _ := Shade(&spot, mgl32.Vec3{3, 0, 0}, up, 16, 1)
	assert.Greater(t, inside.X(), float32(0))
	assert.Equal(t, float32(0), outside.X(), "outside the outer cone")
}

func TestHardSpotConeHasNoNaN(t *testing.T) {
	assert.Equal(t, float32(1), smoothstep(0.5, 0.5, 0.5))
	assert.Equal(t, float32(0), smoothstep(0.5, 0.5, 0.4))
	assert.Equal(t, float32(1), smoothstep(0.5, 0.5, 0.9))

	up := mgl32.Vec3{0, 1, 0}
	spot := ToGPULightPassUniform(NewLight(LightTypeSpot, WithPosition(0, 2, 0), WithDirection(0, -1, 0), WithRange(10)))
	spot.InnerCone, spot.OuterCone = 1, 1
	diffuse, specular := Shade(&spot, mgl32.Vec3{}, up, 16, 1)
	for i := range 3 {
		assert.False(t, math.IsNaN(float64(diffuse[i])))
		assert.False(t, math.IsNaN(float64(specular[i])))
	}
	assert.Greater(t, diffuse.X(), float32(0), "on the edge of a hard cone")

	edge := common.CosDeg(15)
	spot.InnerCone, spot.OuterCone = edge, edge
	outside, _ := Shade(&spot, mgl32.Vec3{3, 0, 0}, up, 16, 1)
	assert.Equal(t, float32(0), outside.X())
}

func TestShadowFactor(t *testing.T) {
	lightVP := DirectionalLightVP(mgl32.Vec3{0, -1, 0}, mgl32.Vec3{}, 10, 0.1, 100)
	receiver := lightVP.Mul4x1(mgl32.Vec4{0, 0, 0, 1})
	depth := receiver.Z() / receiver.W()

	u := &GPULightPassUniform{LightType: uint32(LightTypeDirectional)}
	s := &GPUShadowData{LightVP: lightVP, TexelSize: mgl32.Vec2{0.25, 0.25}, Bias: DefaultShadowBias}
	occluded := func(int, int) [4]float32 { return [4]float32{depth - 0.1} }
	unoccluded := func(int, int) [4]float32 { return [4]float32{1} }

	assert.Equal(t, float32(0), ShadowFactor(u, s, mgl32.Vec3{}, occluded))
	assert.Equal(t, float32(1), ShadowFactor(u, s, mgl32.Vec3{}, unoccluded))

	s.Kind = uint32(ShadowKindVariance)
	m1 := depth - 0.1
	partial := ShadowFactor(u, s, mgl32.Vec3{}, func(int, int) [4]float32 { return [4]float32{m1, m1*m1 + 0.001} })
	assert.Greater(t, partial, float32(0))
	assert.Less(t, partial, float32(1))

	point := &GPULightPassUniform{LightType: uint32(LightTypePoint), Position: mgl32.Vec3{0, 2, 0}, Range: 4}
	ps := &GPUShadowData{TexelSize: mgl32.Vec2{1.0 / 24, 1.0 / 4}, Bias: DefaultShadowBias}
	var sampledX, sampledY int
	ShadowFactor(point, ps, mgl32.Vec3{}, func(x, y int) [4]float32 {
		sampledX, sampledY = x, y
		return [4]float32{1}
	})
	assert.Equal(t, 3*4+2, sampledX, "straight down lands in the middle of the -Y face")
	assert.Equal(t, 2, sampledY)
}

func TestShaderSourceAssembly(t *testing.T) {
	shadowedPoint := ShaderSource(LightTypePoint, true)
	assert.Contains(t, shadowedPoint, "@binding(3) var shadow_map")
	assert.Contains(t, shadowedPoint, "@location(0) position: vec3<f32>")

	plainSun := ShaderSource(LightTypeDirectional, false)
	assert.NotContains(t, plainSun, "shadow_map")
	assert.Contains(t, plainSun, "@builtin(vertex_index)")

	stencil := StencilShaderSource()
	assert.Equal(t, 1, strings.Count(stencil, "@fragment"))
	assert.NotContains(t, stencil, "scene_depth")
}

func TestShaderSourceExpandsEveryAnnotation(t *testing.T) {
	for _, lt := range LightTypes {
		for _, shadowed := range []bool{false, true} {
			src := ShaderSource(lt, shadowed)
			assert.NotContains(t, src, "@oxy:", "%s shadowed=%v", lt, shadowed)
			assert.Equal(t, 1, strings.Count(src, "struct LightPassUniform"), "%s shadowed=%v", lt, shadowed)
		}
	}
	assert.NotContains(t, StencilShaderSource(), "@oxy:")
}
