package renderer

import (
	"github.com/Carmen-Shannon/oxy-deferred/engine/renderer/frame_graph"
)

// RendererBackendType identifies the backend implementation used by the Renderer.
type RendererBackendType int

const (
	// BackendTypeWGPU selects the WebGPU-based rendering backend.
	BackendTypeWGPU RendererBackendType = iota

	// BackendTypeSoftware selects the CPU rasterizer. It needs no device or window and runs each draw's
	// CPU fragment function, which makes it the backend of choice for tests and headless snapshots.
	BackendTypeSoftware
)

func (t RendererBackendType) String() string {
	switch t {
	case BackendTypeWGPU:
		return "wgpu"
	case BackendTypeSoftware:
		return "software"
	default:
		return "unknown"
	}
}

// PresentMode controls how rendered frames are presented to the display surface.
type PresentMode int

const (
	// PresentModeVSync waits for the next vertical blank before presenting, capping frame rate
	// to the monitor's refresh rate. Eliminates tearing.
	PresentModeVSync PresentMode = iota

	// PresentModeUncapped presents frames immediately without waiting for vertical blank.
	// May cause screen tearing but provides the lowest latency.
	PresentModeUncapped
)

// ImageData is a host copy of an image's contents. Pixels holds Channels float32 values per texel in
// row-major order; depth formats read back one channel holding depth.
type ImageData struct {
	Width    int
	Height   int
	Channels int
	Pixels   []float32
}

// At returns the texel at (x, y), with missing channels zero.
func (d *ImageData) At(x, y int) [4]float32 {
	var out [4]float32
	base := (y*d.Width + x) * d.Channels
	copy(out[:], d.Pixels[base:base+d.Channels])
	return out
}

// RendererBackend is the backend interface for the Renderer: a frame graph plus the frame-boundary
// operations the engine loop needs.
type RendererBackend interface {
	frame_graph.Graph

	// Wait blocks until the pass that produced sig, and everything it depends on, has completed.
	Wait(sig frame_graph.Signal) error

	// ReadImage completes every pending pass that writes img and copies its contents to the host.
	ReadImage(img frame_graph.Image) (*ImageData, error)

	// Present sums one or two HDR images, tone maps them onto the display surface and presents it.
	// Backends without a surface ignore it.
	Present(images ...frame_graph.Image) error

	// ConfigureSurface resizes the display surface.
	ConfigureSurface(width, height int)

	// SetPresentMode changes the surface present mode. Takes effect on the next ConfigureSurface.
	SetPresentMode(mode PresentMode)

	// Release frees every device object owned by the backend.
	Release()
}
