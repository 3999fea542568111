// deferred-demo renders a floor, a grid of cubes and a rig of sprung point lights with deferred light
// accumulation.
//
// With the wgpu backend it opens a window:
//
//	Mouse drag  - Orbit the camera
//	Scroll      - Zoom in/out
//	Space       - Scatter the point lights to new targets
//	L           - Toggle the point lights
//	P           - Toggle shadows
//	S           - Write a TIFF snapshot of the accumulation buffers
//	R           - Reset the camera
//	Esc         - Quit
//
// With the software backend it renders -frames frames headless and writes the last one to -out.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Carmen-Shannon/oxy-deferred/engine"
	"github.com/Carmen-Shannon/oxy-deferred/engine/entity_ubo"
	"github.com/Carmen-Shannon/oxy-deferred/engine/lighting"
	"github.com/Carmen-Shannon/oxy-deferred/engine/logger"
	"github.com/Carmen-Shannon/oxy-deferred/engine/renderer"
	"github.com/Carmen-Shannon/oxy-deferred/engine/window"
)

var (
	backendName = flag.String("backend", "wgpu", "Renderer backend (wgpu or software)")
	width       = flag.Int("width", 1280, "Render width in pixels")
	height      = flag.Int("height", 720, "Render height in pixels")
	numLights   = flag.Int("lights", 16, "Number of sprung point lights")
	gridSize    = flag.Int("grid", 5, "Cubes per grid side")
	frames      = flag.Int("frames", 30, "Frames to render headless before writing -out")
	outPath     = flag.String("out", "deferred.tiff", "Snapshot path")
	fps         = flag.Float64("fps", 60, "Frame limit (0 = uncapped)")
	shadowSize  = flag.Int("shadow-size", 1024, "Shadow map edge length in texels")
	seed        = flag.Int64("seed", 1, "Light rig random seed")
	verbose     = flag.Bool("v", false, "Debug logging")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "deferred-demo - deferred light accumulation demo\n\n")
		fmt.Fprintf(os.Stderr, "Usage: deferred-demo [options]\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	logger.SetLogger(log)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, log); err != nil {
		log.Error("demo failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, log *slog.Logger) error {
	var backend renderer.RendererBackendType
	switch *backendName {
	case "wgpu":
		backend = renderer.BackendTypeWGPU
	case "software":
		backend = renderer.BackendTypeSoftware
	default:
		return fmt.Errorf("unknown backend %q", *backendName)
	}

	demo := newDemoScene(demoConfig{
		grid:   *gridSize,
		lights: *numLights,
		fps:    *fps,
		seed:   *seed,
	})
	options := []engine.EngineBuilderOption{
		engine.WithBackend(backend),
		engine.WithSize(*width, *height),
		engine.WithFrameLimit(*fps),
		engine.WithShadowSize(*shadowSize),
		engine.WithUpdateCallback(demo.update),
		engine.WithRegistryOptions(entity_ubo.WithDebug(*verbose)),
		engine.WithLogger(log),
	}

	if backend == renderer.BackendTypeSoftware {
		return runHeadless(ctx, log, demo, options)
	}

	win, err := window.NewWindow(
		window.WithTitle("oxy-deferred"),
		window.WithSize(*width, *height),
		window.WithLogger(log),
	)
	if err != nil {
		return err
	}
	defer win.Close()

	e, err := engine.NewEngine(demo.scene, append(options, engine.WithWindow(win))...)
	if err != nil {
		return err
	}
	defer e.Release()
	demo.bindInput(win, func() {
		att := e.Lighting().Attachments()
		if err := snapshot(e.Renderer(), att.Diffuse, att.Specular, *outPath); err != nil {
			log.Error("snapshot failed", "error", err)
			return
		}
		log.Info("snapshot written", "path", *outPath)
	})
	return e.Run(ctx)
}

func runHeadless(ctx context.Context, log *slog.Logger, demo *demoScene, options []engine.EngineBuilderOption) error {
	e, err := engine.NewEngine(demo.scene, options...)
	if err != nil {
		return err
	}
	defer e.Release()

	step := float32(1.0 / 60)
	if *fps > 0 {
		step = float32(1 / *fps)
	}
	var res lighting.Result
	for i := 0; i < max(*frames, 1); i++ {
		if err := ctx.Err(); err != nil {
			return errors.Join(err, fmt.Errorf("stopped after %d frames", i))
		}
		if res, err = e.Frame(ctx, step); err != nil {
			return err
		}
	}
	if err := snapshot(e.Renderer(), res.Diffuse, res.Specular, *outPath); err != nil {
		return err
	}
	log.Info("snapshot written", "path", *outPath, "frames", *frames)
	return nil
}
