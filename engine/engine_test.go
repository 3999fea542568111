package engine

import (
	"context"
	"testing"
	"time"

	"github.com/Carmen-Shannon/oxy-deferred/common"
	"github.com/Carmen-Shannon/oxy-deferred/engine/camera"
	"github.com/Carmen-Shannon/oxy-deferred/engine/entity_ubo"
	"github.com/Carmen-Shannon/oxy-deferred/engine/game_object"
	"github.com/Carmen-Shannon/oxy-deferred/engine/light"
	"github.com/Carmen-Shannon/oxy-deferred/engine/lighting"
	"github.com/Carmen-Shannon/oxy-deferred/engine/logger"
	"github.com/Carmen-Shannon/oxy-deferred/engine/model"
	"github.com/Carmen-Shannon/oxy-deferred/engine/renderer"
	"github.com/Carmen-Shannon/oxy-deferred/engine/scene"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const size = 32

func newTestEngine(t *testing.T, options ...EngineBuilderOption) (Engine, scene.Scene) {
	t.Helper()
	cam := camera.NewCamera(camera.WithController(
		camera.NewCameraController(camera.WithRadius(10), camera.WithAzimuth(0), camera.WithElevation(0)),
	))
	s := scene.NewScene("test", cam, scene.WithLogger(logger.NewNop()))
	base := []EngineBuilderOption{
		WithBackend(renderer.BackendTypeSoftware),
		WithSize(size, size),
		WithShadowSize(16),
		WithLogger(logger.NewNop()),
	}
	e, err := NewEngine(s, append(base, options...)...)
	require.NoError(t, err)
	t.Cleanup(e.Release)
	return e, s
}

func TestNewEngineRequiresScene(t *testing.T) {
	_, err := NewEngine(nil)
	assert.ErrorIs(t, err, ErrNoScene)
}

func TestFrameLightsVisibleGeometry(t *testing.T) {
	e, s := newTestEngine(t)
	cube := game_object.NewGameObject(game_object.WithModel(model.NewCube(16)), game_object.WithScale(2, 2, 2))
	require.NoError(t, s.Add(cube))
	s.AddLight(light.NewLight(light.LightTypePoint, light.WithPosition(0, 0, 3), light.WithRange(10)))

	res, err := e.Frame(context.Background(), 1.0/60)
	require.NoError(t, err)
	_, ok := e.Registry().Get(entityKey(cube, 0))
	assert.True(t, ok)

	diffuse, err := e.Renderer().ReadImage(res.Diffuse)
	require.NoError(t, err)
	assert.Greater(t, diffuse.At(size/2, size/2)[0], float32(0))
	assert.Equal(t, float32(0), diffuse.At(0, 0)[0])

	stats := e.Profiler().Pass(lighting.PassLabel)
	assert.Equal(t, 1, stats.Count)
	assert.Equal(t, 1, stats.Lights)
}

func TestFrameDrawsFromPooledRecords(t *testing.T) {
	e, s := newTestEngine(t)
	cube := game_object.NewGameObject(game_object.WithModel(model.NewCube(24)), game_object.WithScale(2, 2, 2))
	require.NoError(t, s.Add(cube))
	s.AddLight(light.NewLight(light.LightTypeDirectional, light.WithDirection(0, 0, -1)))

	_, err := e.Frame(context.Background(), 0)
	require.NoError(t, err)
	entry, ok := e.Registry().Get(entityKey(cube, 0))
	require.True(t, ok)
	mat, err := e.Registry().Materials().Read(entry.MaterialSlice())
	require.NoError(t, err)
	assert.Equal(t, float32(24), mat.Shininess)

	cube.SetPosition(mgl32.Vec3{0, 6, 0})
	res, err := e.Frame(context.Background(), 0)
	require.NoError(t, err)
	rec, err := e.Registry().Transforms().Read(entry.TransformSlice())
	require.NoError(t, err)
	assert.Equal(t, float32(6), rec.Model.Col(3).Y())

	diffuse, err := e.Renderer().ReadImage(res.Diffuse)
	require.NoError(t, err)
	assert.Equal(t, float32(0), diffuse.At(size/2, size/2)[0])
}

func TestFrameDropsRemovedInstances(t *testing.T) {
	e, s := newTestEngine(t)
	cube := game_object.NewGameObject(game_object.WithModel(model.NewCube(16)), game_object.WithScale(2, 2, 2))
	require.NoError(t, s.Add(cube))
	s.AddLight(light.NewLight(light.LightTypeDirectional, light.WithDirection(0, 0, -1)))

	_, err := e.Frame(context.Background(), 0)
	require.NoError(t, err)
	require.NoError(t, s.Remove(cube.ID()))
	assert.Equal(t, 0, e.Registry().Len())

	res, err := e.Frame(context.Background(), 0)
	require.NoError(t, err)
	diffuse, err := e.Renderer().ReadImage(res.Diffuse)
	require.NoError(t, err)
	assert.Equal(t, float32(0), diffuse.At(size/2, size/2)[0])
}

func TestFrameAttachesShadowMaps(t *testing.T) {
	e, s := newTestEngine(t)
	sun := light.NewLight(light.LightTypeDirectional, light.WithDirection(0, -1, 0), light.WithCastsShadows(true))
	lamp := light.NewLight(light.LightTypePoint, light.WithCastsShadows(true))
	s.AddLight(sun)
	s.AddLight(lamp)

	_, err := e.Frame(context.Background(), 0)
	require.NoError(t, err)
	require.NotNil(t, sun.ShadowMap())
	require.NotNil(t, lamp.ShadowMap())
	assert.True(t, sun.ShadowMap().Populated())
	assert.False(t, lamp.ShadowMap().Populated())
}

func TestRunStopsOnCancel(t *testing.T) {
	frames := 0
	e, _ := newTestEngine(t, WithFrameLimit(500), WithUpdateCallback(func(float32) { frames++ }))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, e.Run(ctx))
	assert.Positive(t, frames)
}

func TestResizeFollowsCamera(t *testing.T) {
	e, s := newTestEngine(t)
	require.NoError(t, e.Resize(64, 16))
	assert.InDelta(t, 4, s.Camera().Aspect(), 1e-6)
	assert.Equal(t, 64, e.Lighting().Attachments().Width)
	assert.NoError(t, e.Resize(0, 0))
}

func entityKey(obj game_object.GameObject, part uint32) entity_ubo.Key {
	return entity_ubo.Key{Instance: obj.ID(), SubPart: part, Pass: common.PassGBuffer}
}
