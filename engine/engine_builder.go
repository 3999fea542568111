package engine

import (
	"log/slog"
	"time"

	"github.com/Carmen-Shannon/oxy-deferred/engine/entity_ubo"
	"github.com/Carmen-Shannon/oxy-deferred/engine/profiler"
	"github.com/Carmen-Shannon/oxy-deferred/engine/renderer"
	"github.com/Carmen-Shannon/oxy-deferred/engine/window"
)

// EngineBuilderOption is a functional option for configuring an Engine.
// Use the With* functions to create options that are applied directly to the engine instance.
type EngineBuilderOption func(*engine)

// WithBackend selects the renderer backend. Defaults to renderer.BackendTypeWGPU.
//
// Parameters:
//   - backend: the backend type
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithBackend(backend renderer.RendererBackendType) EngineBuilderOption {
	return func(e *engine) {
		e.backend = backend
	}
}

// WithWindow presents every frame to w and follows its resize events. The window size overrides WithSize.
//
// Parameters:
//   - w: an opened Window
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithWindow(w window.Window) EngineBuilderOption {
	return func(e *engine) {
		e.window = w
	}
}

// WithSize sets the render size for headless engines. Defaults to 1280x720.
//
// Parameters:
//   - width, height: the size in pixels
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithSize(width, height int) EngineBuilderOption {
	return func(e *engine) {
		if width > 0 && height > 0 {
			e.width, e.height = width, height
		}
	}
}

// WithUpdateCallback registers the function called at the start of every frame, before the scene ticks.
//
// Parameters:
//   - fn: the callback receiving the frame time step in seconds
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithUpdateCallback(fn func(dt float32)) EngineBuilderOption {
	return func(e *engine) {
		e.onUpdate = fn
	}
}

// WithFrameLimit caps Run at fps frames per second. Values <= 0 leave it uncapped (default).
//
// Parameters:
//   - fps: maximum frames per second
//
// Returns:
//   - EngineBuilderOption: option function to apply
func WithFrameLimit(fps float64) EngineBuilderOption {
	return func(e *engine) {
		if fps <= 0 {
			e.frameLimit = 0
			return
		}
		e.frameLimit = time.Duration(float64(time.Second) / fps)
	}
}

// WithShadowSize sets the shadow map edge length in texels. Defaults to 1024.
func WithShadowSize(size int) EngineBuilderOption {
	return func(e *engine) {
		if size > 0 {
			e.shadowSize = size
		}
	}
}

// WithRegistryOptions forwards options to the entity buffer registry.
func WithRegistryOptions(opts ...entity_ubo.RegistryBuilderOption) EngineBuilderOption {
	return func(e *engine) {
		e.registryOpts = append(e.registryOpts, opts...)
	}
}

// WithProfiler sets the profiler every pass reports to. Defaults to a profiler logging through the engine
// logger once per second.
func WithProfiler(p *profiler.Profiler) EngineBuilderOption {
	return func(e *engine) {
		e.profiler = p
	}
}

// WithLogger sets the logger handed to every component. Defaults to logger.Logger().
func WithLogger(l *slog.Logger) EngineBuilderOption {
	return func(e *engine) {
		e.logger = l
	}
}
