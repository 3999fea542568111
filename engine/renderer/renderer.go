package renderer

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/Carmen-Shannon/oxy-deferred/engine/logger"
	"github.com/Carmen-Shannon/oxy-deferred/engine/renderer/frame_graph"
	"github.com/Carmen-Shannon/oxy-deferred/engine/renderer/pipeline"
	"github.com/cogentcore/webgpu/wgpu"
)

// Surface is the window side of presentation. window.Window satisfies it.
type Surface interface {
	SurfaceDescriptor() *wgpu.SurfaceDescriptor
	Width() int
	Height() int
}

// renderer is the implementation of the Renderer interface.
type renderer struct {
	mu *sync.Mutex

	pipelineCache map[string]pipeline.Pipeline

	backendType RendererBackendType
	backend     RendererBackend

	// Pre-creation config collected from builder options
	surface              Surface
	forceFallbackAdapter bool
	pendingPresentMode   *PresentMode
	logger               *slog.Logger
}

// Renderer is the frame graph the engine submits its passes to, plus the frame-boundary operations of the
// selected backend.
//
// The Renderer caches every registered Pipeline by key so a pipeline is compiled once no matter how many
// passes register it. All Graph methods are safe for concurrent use, although passes are recorded from a
// single host thread per frame.
type Renderer interface {
	frame_graph.Graph

	// Pipeline retrieves the cached Pipeline associated with the given key.
	// If the Pipeline does not exist, this will return nil.
	//
	// Parameters:
	//   - key: the unique identifier for the Pipeline to retrieve
	//
	// Returns:
	//   - pipeline.Pipeline: the Pipeline associated with the key, or nil if not found
	Pipeline(key string) pipeline.Pipeline

	// Pipelines retrieves a copy of the pipeline cache.
	//
	// Returns:
	//   - map[string]pipeline.Pipeline: a map of pipeline keys to their corresponding Pipeline objects
	Pipelines() map[string]pipeline.Pipeline

	// RegisterPipelines registers several pipelines, stopping at the first failure.
	//
	// Parameters:
	//   - pipelines: the Pipelines to register
	//
	// Returns:
	//   - error: an error if pipeline creation fails
	RegisterPipelines(pipelines ...pipeline.Pipeline) error

	// Wait blocks until the pass that produced sig has completed.
	//
	// Parameters:
	//   - sig: the signal to wait on; NoSignal returns immediately
	//
	// Returns:
	//   - error: frame_graph.ErrUnknownSignal if sig was never produced
	Wait(sig frame_graph.Signal) error

	// ReadImage copies an image's contents to the host once every pass writing it has completed.
	//
	// Parameters:
	//   - img: the image to read
	//
	// Returns:
	//   - *ImageData: the decoded texels
	//   - error: an error if the image is not readable on this backend
	ReadImage(img frame_graph.Image) (*ImageData, error)

	// Present tone maps one or two HDR images (typically diffuse and specular light) onto the surface.
	//
	// Parameters:
	//   - images: the images to sum and present
	//
	// Returns:
	//   - error: an error if the surface texture could not be acquired
	Present(images ...frame_graph.Image) error

	// Resize configures the underlying backend to handle a new surface size.
	// This should be called when re-sizing the window or when the surface size should change.
	//
	// Parameters:
	//   - width: the new width of the surface in pixels
	//   - height: the new height of the surface in pixels
	Resize(width, height int)

	// SetPresentMode sets the surface present mode which controls how frames are delivered to the display.
	// A call to Resize is required after changing this for the new mode to take effect.
	//
	// Parameters:
	//   - mode: the PresentMode to use (VSync or Uncapped)
	SetPresentMode(mode PresentMode)

	// BackendType returns the backend selected at construction.
	//
	// Returns:
	//   - RendererBackendType: the backend type
	BackendType() RendererBackendType

	// Release frees every device object owned by the renderer.
	Release()
}

var _ Renderer = &renderer{}

// NewRenderer creates a new Renderer with the given backend.
//
// The wgpu backend presents to the Surface supplied through WithWindow, or runs headless without one.
// The software backend never needs a window. Device creation failures panic, as there is no renderer to
// fall back to.
//
// Parameters:
//   - backendType: the type of rendering backend to use
//   - options: variadic list of RendererBuilderOption functions to configure the Renderer
//
// Returns:
//   - Renderer: a new instance of Renderer configured with the specified backend and options
func NewRenderer(backendType RendererBackendType, options ...RendererBuilderOption) Renderer {
	r := &renderer{
		mu:            &sync.Mutex{},
		pipelineCache: make(map[string]pipeline.Pipeline),
		backendType:   backendType,
	}

	// Apply options first so config flags (e.g. forceFallbackAdapter) are
	// available before the backend requests a GPU adapter.
	for _, opt := range options {
		opt(r)
	}
	log := logger.Or(r.logger).With("component", "renderer", "backend", backendType.String())

	switch backendType {
	case BackendTypeSoftware:
		r.backend = newSoftwareRendererBackend(log)
	case BackendTypeWGPU:
		fallthrough
	default:
		var desc *wgpu.SurfaceDescriptor
		if r.surface != nil {
			desc = r.surface.SurfaceDescriptor()
		}
		r.backend = newWGPURendererBackend(desc, r.forceFallbackAdapter, log)
	}

	if r.pendingPresentMode != nil {
		r.backend.SetPresentMode(*r.pendingPresentMode)
	}
	if r.surface != nil {
		r.backend.ConfigureSurface(r.surface.Width(), r.surface.Height())
	}
	return r
}

func (r *renderer) BackendType() RendererBackendType {
	return r.backendType
}

func (r *renderer) Resize(width, height int) {
	r.backend.ConfigureSurface(width, height)
}

func (r *renderer) SetPresentMode(mode PresentMode) {
	r.backend.SetPresentMode(mode)
}

func (r *renderer) Pipeline(key string) pipeline.Pipeline {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pipelineCache[key]
}

func (r *renderer) Pipelines() map[string]pipeline.Pipeline {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]pipeline.Pipeline, len(r.pipelineCache))
	for k, v := range r.pipelineCache {
		out[k] = v
	}
	return out
}

func (r *renderer) RegisterPipeline(p pipeline.Pipeline) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := p.PipelineKey()
	if _, exists := r.pipelineCache[key]; exists {
		return nil
	}
	if err := r.backend.RegisterPipeline(p); err != nil {
		return fmt.Errorf("failed to register pipeline %q: %w", key, err)
	}
	r.pipelineCache[key] = p
	return nil
}

func (r *renderer) RegisterPipelines(pipelines ...pipeline.Pipeline) error {
	for _, p := range pipelines {
		if err := r.RegisterPipeline(p); err != nil {
			return err
		}
	}
	return nil
}

func (r *renderer) CreateImage(desc frame_graph.ImageDescriptor) (frame_graph.Image, error) {
	return r.backend.CreateImage(desc)
}

func (r *renderer) ReleaseImage(img frame_graph.Image) {
	r.backend.ReleaseImage(img)
}

func (r *renderer) CreateBuffer(desc frame_graph.BufferDescriptor) (frame_graph.Buffer, error) {
	return r.backend.CreateBuffer(desc)
}

func (r *renderer) WriteBuffer(buf frame_graph.Buffer, offset uint64, data []byte) error {
	return r.backend.WriteBuffer(buf, offset, data)
}

func (r *renderer) ReleaseBuffer(buf frame_graph.Buffer) {
	r.backend.ReleaseBuffer(buf)
}

func (r *renderer) Submit(pass *frame_graph.Pass) (frame_graph.Signal, error) {
	return r.backend.Submit(pass)
}

func (r *renderer) Wait(sig frame_graph.Signal) error {
	return r.backend.Wait(sig)
}

func (r *renderer) ReadImage(img frame_graph.Image) (*ImageData, error) {
	return r.backend.ReadImage(img)
}

func (r *renderer) Present(images ...frame_graph.Image) error {
	return r.backend.Present(images...)
}

func (r *renderer) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.pipelineCache)
	r.backend.Release()
}
