package game_object

import (
	"testing"

	"github.com/Carmen-Shannon/oxy-deferred/common"
	"github.com/Carmen-Shannon/oxy-deferred/engine/light"
	"github.com/Carmen-Shannon/oxy-deferred/engine/model"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
)

func TestDefaultPassesFollowModelParts(t *testing.T) {
	plain := NewGameObject()
	assert.Equal(t, []common.PassID{common.PassGBuffer}, plain.Passes())
	assert.Nil(t, plain.Model())

	m := model.NewModel(model.WithPart("a", model.CubeMesh(), 1), model.WithPart("b", model.PlaneMesh(), 1))
	obj := NewGameObject(WithModel(m))
	assert.Equal(t, []common.PassID{common.PassGBuffer, common.PassGBuffer}, obj.Passes())

	explicit := NewGameObject(WithModel(m), WithPasses(common.PassShadow))
	assert.Equal(t, []common.PassID{common.PassShadow}, explicit.Passes())
}

func TestSetPass(t *testing.T) {
	obj := NewGameObject(WithPasses(common.PassGBuffer, common.PassGBuffer))
	old, ok := obj.SetPass(1, common.PassPicking)
	assert.True(t, ok)
	assert.Equal(t, common.PassGBuffer, old)
	assert.Equal(t, []common.PassID{common.PassGBuffer, common.PassPicking}, obj.Passes())

	_, ok = obj.SetPass(2, common.PassShadow)
	assert.False(t, ok)

	passes := obj.Passes()
	passes[0] = common.PassShadow
	assert.Equal(t, common.PassGBuffer, obj.Passes()[0])
}

func TestTransformComposesTRS(t *testing.T) {
	obj := NewGameObject(WithPosition(1, 2, 3), WithScale(2, 2, 2), WithRotation(0, mgl32.DegToRad(90), 0))
	p := obj.Transform().Mul4x1(mgl32.Vec4{1, 0, 0, 1})
	assert.InDelta(t, 1, p.X(), 1e-5)
	assert.InDelta(t, 2, p.Y(), 1e-5)
	assert.InDelta(t, 1, p.Z(), 1e-5)
}

func TestTickSpinsAndMovesAttachedLight(t *testing.T) {
	l := light.NewLight(light.LightTypePoint)
	obj := NewGameObject(WithPosition(4, 0, 0), WithRotationSpeed(0, 1, 0), WithLight(l, mgl32.Vec3{0, 2, 0}))
	assert.Equal(t, mgl32.Vec3{4, 2, 0}, l.Position())

	obj.Tick(0.5)
	assert.InDelta(t, 0.5, obj.Rotation().Y(), 1e-6)

	obj.SetPosition(mgl32.Vec3{0, 0, -1})
	assert.Equal(t, mgl32.Vec3{0, 2, -1}, l.Position())

	obj.SetLight(nil, mgl32.Vec3{})
	obj.SetPosition(mgl32.Vec3{9, 9, 9})
	assert.Equal(t, mgl32.Vec3{0, 2, -1}, l.Position())
	assert.Nil(t, obj.Light())
}
