package camera

import (
	"math"
	"testing"

	"github.com/Carmen-Shannon/oxy-deferred/common"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
)

func TestControllerOrbitsTarget(t *testing.T) {
	cc := NewCameraController(WithTarget(1, 2, 3), WithRadius(10), WithElevation(0))
	assert.InDelta(t, 0, cc.Position().Sub(mgl32.Vec3{1, 2, 13}).Len(), 1e-5)

	cc.Orbit(math.Pi/2, 0)
	assert.InDelta(t, 0, cc.Position().Sub(mgl32.Vec3{11, 2, 3}).Len(), 1e-4)

	cc.Orbit(0, 10)
	assert.InDelta(t, math.Pi/2-0.1, cc.Elevation(), 1e-6, "elevation is clamped")

	cc.Zoom(100)
	assert.Equal(t, float32(1), cc.Radius(), "radius is clamped")
	assert.InDelta(t, 1, cc.Position().Sub(cc.Target()).Len(), 1e-5)
}

func TestCameraMatricesFollowController(t *testing.T) {
	cc := NewCameraController(WithRadius(5), WithElevation(0))
	cam := NewCamera(WithController(cc), WithAspect(2), WithNear(0.5), WithFar(50))

	assert.Equal(t, cc.Position(), cam.Position())
	identity := cam.ViewProjectionMatrix().Mul4(cam.InverseViewProjectionMatrix())
	assert.True(t, identity.ApproxEqualThreshold(mgl32.Ident4(), 1e-4))

	// The target projects to the center of the screen, between the near and far planes.
	clip := cam.ViewProjectionMatrix().Mul4x1(mgl32.Vec4{0, 0, 0, 1})
	ndc := clip.Vec3().Mul(1 / clip.W())
	assert.InDelta(t, 0, ndc.X(), 1e-5)
	assert.InDelta(t, 0, ndc.Y(), 1e-5)
	assert.Greater(t, ndc.Z(), float32(0))
	assert.Less(t, ndc.Z(), float32(1))

	cc.SetTarget(mgl32.Vec3{0, 0, -10})
	cam.Update()
	assert.Equal(t, cc.Position(), cam.Position())
}

func TestCameraIsVisible(t *testing.T) {
	cam := NewCamera(WithController(NewCameraController(WithRadius(10), WithElevation(0))), WithFar(100))

	assert.True(t, cam.IsVisible(common.Sphere{Center: mgl32.Vec3{}, Radius: 1}))
	assert.False(t, cam.IsVisible(common.Sphere{Center: mgl32.Vec3{0, 0, 30}, Radius: 1}), "behind the eye")
	assert.False(t, cam.IsVisible(common.Sphere{Center: mgl32.Vec3{100, 0, 0}, Radius: 1}), "far off to the side")
	assert.True(t, cam.IsVisible(common.Sphere{Center: mgl32.Vec3{0, 0, 30}, Radius: -1}), "unbounded")
	assert.False(t, cam.IsVisible(common.Sphere{Center: mgl32.Vec3{0, 0, -200}, Radius: 1}), "beyond the far plane")
}
