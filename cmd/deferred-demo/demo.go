package main

import (
	"math"
	"math/rand"

	"github.com/Carmen-Shannon/oxy-deferred/engine/camera"
	"github.com/Carmen-Shannon/oxy-deferred/engine/game_object"
	"github.com/Carmen-Shannon/oxy-deferred/engine/light"
	"github.com/Carmen-Shannon/oxy-deferred/engine/model"
	"github.com/Carmen-Shannon/oxy-deferred/engine/scene"
	"github.com/Carmen-Shannon/oxy-deferred/engine/window"
	"github.com/charmbracelet/harmonica"
	"github.com/go-gl/mathgl/mgl32"
)

const (
	cubeSpacing = 3
	lightHeight = 1.5
	orbitSpeed  = 0.005
)

type demoConfig struct {
	grid   int
	lights int
	fps    float64
	seed   int64
}

// springAxis is one coordinate chased by a harmonica spring.
type springAxis struct {
	pos, vel, target float64
}

type demoScene struct {
	scene scene.Scene
	sun   light.Light
	spot  light.Light
	rig   []light.Light
	axes  [][2]springAxis

	spring harmonica.Spring
	rng    *rand.Rand
	extent float64

	lightsOn bool
}

// newDemoScene lays out a floor, a grid of spinning cubes, a shadowed sun, a shadowed spot light and a rig
// of point lights scattered over the grid.
func newDemoScene(cfg demoConfig) *demoScene {
	fps := cfg.fps
	if fps <= 0 {
		fps = 60
	}
	grid := max(cfg.grid, 1)
	extent := float64(grid*cubeSpacing) / 2

	cam := camera.NewCamera(
		camera.WithFar(200),
		camera.WithController(camera.NewCameraController(
			camera.WithRadius(float32(extent*3)),
			camera.WithElevation(0.6),
			camera.WithRadiusBounds(2, 150),
		)),
	)
	d := &demoScene{
		spring:   harmonica.NewSpring(harmonica.FPS(int(fps)), 2.0, 0.5),
		rng:      rand.New(rand.NewSource(cfg.seed)),
		extent:   extent,
		lightsOn: true,
	}
	d.sun = light.NewLight(light.LightTypeDirectional,
		light.WithDirection(-0.4, -1, -0.3),
		light.WithColor(1, 0.95, 0.85),
		light.WithIntensity(0.4),
		light.WithCastsShadows(true),
	)
	d.spot = light.NewLight(light.LightTypeSpot,
		light.WithPosition(0, float32(extent), float32(extent)),
		light.WithDirection(0, -1, -1),
		light.WithSpotCone(20, 30),
		light.WithRange(float32(extent*4)),
		light.WithIntensity(2),
		light.WithCastsShadows(true),
	)
	d.scene = scene.NewScene("deferred-demo", cam, scene.WithLights(d.sun, d.spot), scene.WithShadowHalfExtent(float32(extent*1.5)))

	floor := game_object.NewGameObject(
		game_object.WithModel(model.NewPlane(4)),
		game_object.WithScale(float32(extent*2+cubeSpacing), 1, float32(extent*2+cubeSpacing)),
	)
	_ = d.scene.Add(floor)
	cube := model.NewCube(32)
	for i := 0; i < grid; i++ {
		for j := 0; j < grid; j++ {
			x := float32(i*cubeSpacing) - float32(extent) + cubeSpacing/2.0
			z := float32(j*cubeSpacing) - float32(extent) + cubeSpacing/2.0
			_ = d.scene.Add(game_object.NewGameObject(
				game_object.WithModel(cube),
				game_object.WithPosition(x, 0.5, z),
				game_object.WithRotationSpeed(0, 0.3+0.1*float32((i+j)%3), 0),
			))
		}
	}

	for i := 0; i < cfg.lights; i++ {
		hue := float64(i) / float64(max(cfg.lights, 1))
		r, g, b := hueToRGB(hue)
		l := light.NewLight(light.LightTypePoint,
			light.WithColor(r, g, b),
			light.WithRange(float32(cubeSpacing)*2),
			light.WithIntensity(1.5),
		)
		d.rig = append(d.rig, l)
		d.axes = append(d.axes, [2]springAxis{})
		d.scene.AddLight(l)
	}
	d.scatter()
	for i := range d.axes {
		d.axes[i][0].pos, d.axes[i][1].pos = d.axes[i][0].target, d.axes[i][1].target
	}
	d.place()
	return d
}

// update advances every light spring one step. Lights that settled get a new target.
func (d *demoScene) update(float32) {
	for i := range d.axes {
		settled := true
		for k := range d.axes[i] {
			a := &d.axes[i][k]
			a.pos, a.vel = d.spring.Update(a.pos, a.vel, a.target)
			if math.Abs(a.pos-a.target) > 0.05 || math.Abs(a.vel) > 0.05 {
				settled = false
			}
		}
		if settled {
			d.retarget(i)
		}
	}
	d.place()
}

func (d *demoScene) place() {
	for i, l := range d.rig {
		l.SetPosition(mgl32.Vec3{float32(d.axes[i][0].pos), lightHeight, float32(d.axes[i][1].pos)})
	}
}

func (d *demoScene) scatter() {
	for i := range d.axes {
		d.retarget(i)
	}
}

func (d *demoScene) retarget(i int) {
	d.axes[i][0].target = (d.rng.Float64()*2 - 1) * d.extent
	d.axes[i][1].target = (d.rng.Float64()*2 - 1) * d.extent
}

func (d *demoScene) toggleLights() {
	d.lightsOn = !d.lightsOn
	for _, l := range d.rig {
		l.SetEnabled(d.lightsOn)
	}
}

func (d *demoScene) toggleShadows() {
	on := !d.sun.CastsShadows()
	d.sun.SetCastsShadows(on)
	d.spot.SetCastsShadows(on)
}

func (d *demoScene) resetCamera() {
	ctrl := d.scene.Camera().Controller()
	ctrl.SetAzimuth(0)
	ctrl.SetElevation(0.6)
	ctrl.SetRadius(float32(d.extent * 3))
}

func (d *demoScene) bindInput(win window.Window, onSnapshot func()) {
	ctrl := d.scene.Camera().Controller()
	win.OnDrag(func(dx, dy float32) {
		ctrl.Orbit(-dx*orbitSpeed, dy*orbitSpeed)
	})
	win.OnScroll(func(delta float32) {
		ctrl.Zoom(delta)
	})
	win.OnKey(func(key window.Key, pressed bool) {
		if !pressed {
			return
		}
		switch key {
		case window.KeySpace:
			d.scatter()
		case window.KeyL:
			d.toggleLights()
		case window.KeyP:
			d.toggleShadows()
		case window.KeyS:
			onSnapshot()
		case window.KeyR:
			d.resetCamera()
		}
	})
}

// hueToRGB maps a hue in [0, 1) to a fully saturated colour.
func hueToRGB(h float64) (float32, float32, float32) {
	channel := func(offset float64) float32 {
		v := math.Abs(math.Mod(h*6+offset, 6)-3) - 1
		return float32(math.Max(0, math.Min(1, v)))
	}
	return channel(0), channel(4), channel(2)
}
