package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Carmen-Shannon/oxy-deferred/common"
	"github.com/Carmen-Shannon/oxy-deferred/engine/buffer_pool"
	"github.com/Carmen-Shannon/oxy-deferred/engine/entity_ubo"
	"github.com/Carmen-Shannon/oxy-deferred/engine/gbuffer"
	"github.com/Carmen-Shannon/oxy-deferred/engine/lighting"
	"github.com/Carmen-Shannon/oxy-deferred/engine/logger"
	"github.com/Carmen-Shannon/oxy-deferred/engine/profiler"
	"github.com/Carmen-Shannon/oxy-deferred/engine/renderer"
	"github.com/Carmen-Shannon/oxy-deferred/engine/renderer/frame_graph"
	"github.com/Carmen-Shannon/oxy-deferred/engine/scene"
	"github.com/Carmen-Shannon/oxy-deferred/engine/window"
	"github.com/go-gl/mathgl/mgl32"
)

// ErrNoScene is returned by NewEngine when no scene is given.
var ErrNoScene = errors.New("engine: no scene")

// engine implements the Engine interface.
// Owns the renderer and every pass, and drives them from a single host thread.
type engine struct {
	mu *sync.Mutex

	backend       renderer.RendererBackendType
	window        window.Window
	width, height int
	frameLimit    time.Duration
	shadowSize    int
	registryOpts  []entity_ubo.RegistryBuilderOption
	onUpdate      func(dt float32)
	logger        *slog.Logger
	clock         func() time.Time

	scene    scene.Scene
	renderer renderer.Renderer
	registry entity_ubo.Registry
	geometry gbuffer.GeometryPass
	shadows  gbuffer.ShadowPass
	lighting lighting.LightingPass
	profiler *profiler.Profiler

	last time.Time
}

// Engine runs the deferred frame: scene update, entity buffer refresh, shadow maps, the geometry pass, light
// accumulation and presentation.
type Engine interface {
	// Scene returns the scene the engine renders.
	Scene() scene.Scene

	// Renderer returns the frame graph every pass is submitted to.
	Renderer() renderer.Renderer

	// Registry returns the per-entity GPU buffer registry. It listens to the scene.
	Registry() entity_ubo.Registry

	// Lighting returns the light accumulation pass.
	Lighting() lighting.LightingPass

	// Profiler returns the profiler every pass reports to.
	Profiler() *profiler.Profiler

	// Frame renders one frame and waits for it to complete. The result is presented when a window is
	// attached.
	//
	// Parameters:
	//   - ctx: cancels the entity buffer refresh
	//   - dt: the time step in seconds handed to the update callback and the scene
	//
	// Returns:
	//   - lighting.Result: the accumulation images of the frame
	//   - error: a wrapped error from the first stage that failed
	Frame(ctx context.Context, dt float32) (lighting.Result, error)

	// Run renders frames until ctx is cancelled or the window closes. A panic inside a frame is logged and
	// re-raised.
	//
	// Parameters:
	//   - ctx: stops the loop when cancelled
	//
	// Returns:
	//   - error: the first frame error, or nil when the loop stopped normally
	Run(ctx context.Context) error

	// Resize resizes the surface, the G-buffer and the accumulation targets, and updates the camera aspect.
	//
	// Parameters:
	//   - width, height: the new size in pixels
	//
	// Returns:
	//   - error: an error if a target cannot be recreated
	Resize(width, height int) error

	// Release frees every pass, the registry pools and the renderer.
	Release()
}

var _ Engine = &engine{}

// NewEngine creates the renderer for the configured backend, registers every pass pipeline and subscribes
// the entity registry to the scene.
//
// Parameters:
//   - s: the scene to render; its camera is the viewing camera
//   - options: functional options for engine configuration
//
// Returns:
//   - Engine: the ready engine
//   - error: an error if a pass cannot be created or the registry fails to replay the scene
func NewEngine(s scene.Scene, options ...EngineBuilderOption) (Engine, error) {
	if s == nil {
		return nil, ErrNoScene
	}
	e := &engine{
		mu:         &sync.Mutex{},
		backend:    renderer.BackendTypeWGPU,
		width:      1280,
		height:     720,
		shadowSize: 1024,
		clock:      time.Now,
		scene:      s,
	}
	for _, option := range options {
		option(e)
	}
	e.logger = logger.Or(e.logger)
	if e.profiler == nil {
		e.profiler = profiler.NewProfiler(profiler.WithLogger(e.logger))
	}
	if e.window != nil {
		e.width, e.height = e.window.Width(), e.window.Height()
	}

	rendererOpts := []renderer.RendererBuilderOption{renderer.WithLogger(e.logger)}
	if e.window != nil {
		rendererOpts = append(rendererOpts, renderer.WithWindow(e.window))
	}
	e.renderer = renderer.NewRenderer(e.backend, rendererOpts...)

	if err := e.createPasses(); err != nil {
		e.Release()
		return nil, err
	}

	e.registry = entity_ubo.NewRegistry(e.renderer, append([]entity_ubo.RegistryBuilderOption{entity_ubo.WithLogger(e.logger)}, e.registryOpts...)...)
	if err := s.AddListener(e.registry); err != nil {
		e.Release()
		return nil, fmt.Errorf("failed to subscribe registry to scene %q: %w", s.Name(), err)
	}

	if cam := s.Camera(); cam != nil {
		cam.SetAspect(float32(e.width) / float32(e.height))
	}
	if e.window != nil {
		e.window.OnResize(func(width, height int) {
			if err := e.Resize(width, height); err != nil {
				e.logger.Error("resize failed", "width", width, "height", height, "error", err)
			}
		})
	}
	e.logger.Info("engine created", "backend", e.backend, "width", e.width, "height", e.height, "scene", s.Name())
	return e, nil
}

func (e *engine) createPasses() error {
	var err error
	e.geometry, err = gbuffer.NewGeometryPass(e.renderer,
		gbuffer.WithSize(e.width, e.height),
		gbuffer.WithLogger(e.logger),
		gbuffer.WithTimer(e.profiler),
	)
	if err != nil {
		return fmt.Errorf("failed to create geometry pass: %w", err)
	}
	e.shadows, err = gbuffer.NewShadowPass(e.renderer,
		gbuffer.WithShadowSize(e.shadowSize),
		gbuffer.WithShadowLogger(e.logger),
	)
	if err != nil {
		return fmt.Errorf("failed to create shadow pass: %w", err)
	}
	e.lighting, err = lighting.NewLightingPass(e.renderer,
		lighting.WithSize(e.width, e.height),
		lighting.WithLogger(e.logger),
		lighting.WithTimer(e.profiler),
	)
	if err != nil {
		return fmt.Errorf("failed to create lighting pass: %w", err)
	}
	return nil
}

func (e *engine) Scene() scene.Scene { return e.scene }
func (e *engine) Renderer() renderer.Renderer { return e.renderer }
func (e *engine) Registry() entity_ubo.Registry { return e.registry }
func (e *engine) Lighting() lighting.LightingPass { return e.lighting }
func (e *engine) Profiler() *profiler.Profiler { return e.profiler }

func (e *engine) Frame(ctx context.Context, dt float32) (lighting.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.onUpdate != nil {
		e.onUpdate(dt)
	}
	e.scene.Update(dt)
	cam := e.scene.Camera()
	if cam == nil {
		return lighting.Result{}, fmt.Errorf("scene %q has no camera", e.scene.Name())
	}

	if err := e.attachShadowMaps(); err != nil {
		return lighting.Result{}, err
	}
	var center mgl32.Vec3
	if ctrl := cam.Controller(); ctrl != nil {
		center = ctrl.Target()
	}
	e.scene.UpdateShadowTransforms(center)

	if err := e.registry.Update(ctx, e.scene); err != nil {
		return lighting.Result{}, fmt.Errorf("failed to update entity buffers: %w", err)
	}
	draws, err := e.drawables()
	if err != nil {
		return lighting.Result{}, err
	}
	if err := e.registry.Upload(e.renderer); err != nil {
		return lighting.Result{}, fmt.Errorf("failed to upload entity buffers: %w", err)
	}

	inputs, sig, err := e.geometry.Render(draws, cam, frame_graph.NoSignal)
	if err != nil {
		return lighting.Result{}, err
	}
	sig, err = e.shadows.Render(e.scene.Lights(), draws, sig)
	if err != nil {
		return lighting.Result{}, err
	}
	res, err := e.lighting.Render(e.scene, cam, inputs, sig)
	if err != nil {
		return lighting.Result{}, err
	}
	if err := e.renderer.Wait(res.Signal); err != nil {
		return lighting.Result{}, fmt.Errorf("failed to wait for frame: %w", err)
	}
	if e.window != nil {
		if err := e.renderer.Present(res.Diffuse, res.Specular); err != nil {
			e.logger.Warn("present failed", "error", err)
		}
	}
	e.profiler.Tick()
	return res, nil
}

// attachShadowMaps gives every shadow casting light without a map one. Caller must hold the mutex.
func (e *engine) attachShadowMaps() error {
	for _, l := range e.scene.Lights() {
		if !l.CastsShadows() || l.ShadowMap() != nil {
			continue
		}
		if _, err := e.shadows.Attach(l); err != nil {
			return err
		}
		e.logger.Debug("shadow map attached", "light", l.ID(), "type", l.Type())
	}
	return nil
}

// drawables resolves the geometry pass entries of the registry to model parts bound to their pooled
// records, and copies each part's shininess into its material record. Entries whose instance has left the
// scene or carries no model are skipped. Caller must hold the mutex.
func (e *engine) drawables() ([]gbuffer.Drawable, error) {
	var draws []gbuffer.Drawable
	var err error
	transforms, materials := e.registry.Transforms(), e.registry.Materials()
	e.registry.ForEach(func(entry *entity_ubo.Entry) bool {
		key := entry.Key()
		if key.Pass != common.PassGBuffer {
			return true
		}
		obj, ok := e.scene.Get(key.Instance)
		if !ok || !obj.Enabled() || obj.Model() == nil {
			return true
		}
		parts := obj.Model().Parts()
		if int(key.SubPart) >= len(parts) {
			return true
		}
		if err = syncShininess(materials, entry.MaterialSlice(), parts[key.SubPart].Shininess); err != nil {
			return false
		}
		d := gbuffer.Drawable{Model: obj.Model(), Part: int(key.SubPart)}
		if d.Transform, err = transforms.Binding(entry.TransformSlice()); err != nil {
			return false
		}
		if d.Material, err = materials.Binding(entry.MaterialSlice()); err != nil {
			return false
		}
		draws = append(draws, d)
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to bind entity buffers: %w", err)
	}
	return draws, nil
}

// syncShininess writes shininess into a material record when it differs, so unchanged records stay clean.
func syncShininess(materials buffer_pool.Pool[entity_ubo.GPUMaterialIndices], s buffer_pool.Slice, shininess float32) error {
	rec, err := materials.Read(s)
	if err != nil {
		return err
	}
	if rec.Shininess == shininess {
		return nil
	}
	return materials.Update(s, func(rec *entity_ubo.GPUMaterialIndices) error {
		rec.Shininess = shininess
		return nil
	})
}

func (e *engine) Run(ctx context.Context) error {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("frame loop panicked", "panic", r)
			panic(r)
		}
	}()

	var ticker *time.Ticker
	if e.frameLimit > 0 {
		ticker = time.NewTicker(e.frameLimit)
		defer ticker.Stop()
	}
	e.last = e.clock()
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		if e.window != nil && !e.window.Poll() {
			return nil
		}

		now := e.clock()
		dt := float32(now.Sub(e.last).Seconds())
		e.last = now
		if _, err := e.Frame(ctx, dt); err != nil {
			if errors.Is(err, buffer_pool.ErrPoolExhausted) {
				e.logger.Error("entity buffers exhausted", "error", err)
			}
			return err
		}

		if ticker != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	}
}

func (e *engine) Resize(width, height int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if width <= 0 || height <= 0 {
		return nil
	}
	e.renderer.Resize(width, height)
	if err := e.geometry.Resize(width, height); err != nil {
		return err
	}
	if err := e.lighting.Resize(width, height); err != nil {
		return err
	}
	if cam := e.scene.Camera(); cam != nil {
		cam.SetAspect(float32(width) / float32(height))
	}
	e.width, e.height = width, height
	return nil
}

func (e *engine) Release() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lighting != nil {
		e.lighting.Release()
	}
	if e.shadows != nil {
		e.shadows.Release()
	}
	if e.geometry != nil {
		e.geometry.Release()
	}
	if e.registry != nil {
		e.registry.Close()
	}
	if e.renderer != nil {
		e.renderer.Release()
	}
}
