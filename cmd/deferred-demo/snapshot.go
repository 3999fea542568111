package main

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"os"

	"github.com/Carmen-Shannon/oxy-deferred/engine/renderer"
	"github.com/Carmen-Shannon/oxy-deferred/engine/renderer/frame_graph"
	"golang.org/x/image/tiff"
)

// snapshot reads both accumulation images back and writes their sum, tone mapped, as a 16-bit TIFF.
func snapshot(r renderer.Renderer, diffuse, specular frame_graph.Image, path string) error {
	if diffuse == nil || specular == nil {
		return fmt.Errorf("no accumulation images to snapshot")
	}
	d, err := r.ReadImage(diffuse)
	if err != nil {
		return fmt.Errorf("failed to read diffuse: %w", err)
	}
	s, err := r.ReadImage(specular)
	if err != nil {
		return fmt.Errorf("failed to read specular: %w", err)
	}
	img, err := composite(d, s)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := tiff.Encode(f, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true}); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return f.Close()
}

// composite sums diffuse and specular light per pixel and maps it to 16-bit with Reinhard and gamma 2.2.
func composite(diffuse, specular *renderer.ImageData) (*image.RGBA64, error) {
	if diffuse.Width != specular.Width || diffuse.Height != specular.Height {
		return nil, fmt.Errorf("accumulation images differ in size: %dx%d and %dx%d",
			diffuse.Width, diffuse.Height, specular.Width, specular.Height)
	}
	img := image.NewRGBA64(image.Rect(0, 0, diffuse.Width, diffuse.Height))
	for y := 0; y < diffuse.Height; y++ {
		for x := 0; x < diffuse.Width; x++ {
			a, b := diffuse.At(x, y), specular.At(x, y)
			img.SetRGBA64(x, y, color.RGBA64{
				R: toneMap(a[0] + b[0]),
				G: toneMap(a[1] + b[1]),
				B: toneMap(a[2] + b[2]),
				A: math.MaxUint16,
			})
		}
	}
	return img, nil
}

func toneMap(v float32) uint16 {
	if v <= 0 || math.IsNaN(float64(v)) {
		return 0
	}
	mapped := math.Pow(float64(v/(1+v)), 1/2.2)
	return uint16(math.Round(mapped * math.MaxUint16))
}
