package main

import (
	"bytes"
	"image"
	"math"
	"testing"

	"github.com/Carmen-Shannon/oxy-deferred/engine/light"
	"github.com/Carmen-Shannon/oxy-deferred/engine/renderer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/tiff"
)

func TestDemoSceneLayout(t *testing.T) {
	d := newDemoScene(demoConfig{grid: 3, lights: 4, fps: 60, seed: 7})
	assert.Equal(t, 10, d.scene.Count())
	assert.Len(t, d.scene.Lights(), 6)
	for _, l := range d.rig {
		assert.Equal(t, light.LightTypePoint, l.Type())
		assert.LessOrEqual(t, math.Abs(float64(l.Position().X())), d.extent)
		assert.Equal(t, float32(lightHeight), l.Position().Y())
	}
}

func TestLightRigChasesTargets(t *testing.T) {
	d := newDemoScene(demoConfig{grid: 2, lights: 1, fps: 60, seed: 3})
	d.axes[0][0].target = d.axes[0][0].pos + 2
	start := d.rig[0].Position().X()

	for i := 0; i < 10; i++ {
		d.update(1.0 / 60)
	}
	moved := d.rig[0].Position().X()
	assert.Greater(t, moved, start)
	assert.Less(t, moved, start+2)
}

func TestToggles(t *testing.T) {
	d := newDemoScene(demoConfig{grid: 1, lights: 2, seed: 1})
	d.toggleLights()
	for _, l := range d.rig {
		assert.False(t, l.Enabled())
	}
	d.toggleShadows()
	assert.False(t, d.sun.CastsShadows())
	assert.False(t, d.spot.CastsShadows())
}

func TestHueToRGB(t *testing.T) {
	r, g, b := hueToRGB(0)
	assert.Equal(t, [3]float32{1, 0, 0}, [3]float32{r, g, b})
	r, g, b = hueToRGB(1.0 / 3)
	assert.InDelta(t, 0, r, 1e-6)
	assert.InDelta(t, 1, g, 1e-6)
	assert.InDelta(t, 0, b, 1e-6)
}

func TestCompositeWritesSixteenBitTIFF(t *testing.T) {
	diffuse := &renderer.ImageData{Width: 2, Height: 1, Channels: 4, Pixels: []float32{1, 0, 0, 0, 0, 0, 0, 0}}
	specular := &renderer.ImageData{Width: 2, Height: 1, Channels: 4, Pixels: []float32{0, 0, 0, 0, 0, 0, 3, 0}}

	img, err := composite(diffuse, specular)
	require.NoError(t, err)
	assert.Equal(t, toneMap(1), img.RGBA64At(0, 0).R)
	assert.Equal(t, uint16(0), img.RGBA64At(0, 0).G)
	assert.Equal(t, toneMap(3), img.RGBA64At(1, 0).B)

	var buf bytes.Buffer
	require.NoError(t, tiff.Encode(&buf, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true}))
	decoded, err := tiff.Decode(&buf)
	require.NoError(t, err)
	_, ok := decoded.(*image.RGBA64)
	assert.True(t, ok)

	_, err = composite(diffuse, &renderer.ImageData{Width: 1, Height: 1, Channels: 4, Pixels: make([]float32, 4)})
	assert.Error(t, err)
}

func TestToneMap(t *testing.T) {
	assert.Equal(t, uint16(0), toneMap(-1))
	assert.Equal(t, uint16(0), toneMap(float32(math.NaN())))
	assert.Less(t, toneMap(1), toneMap(10))
	assert.Less(t, toneMap(1000), uint16(math.MaxUint16))
}
