package gbuffer

import (
	"log/slog"

	"github.com/Carmen-Shannon/oxy-deferred/engine/profiler"
)

type GeometryPassBuilderOption func(*geometryPassImpl)

// WithSize sets the initial G-buffer size. Defaults to 1280x720.
//
// Parameters:
//   - width, height: the image size in pixels
//
// Returns:
//   - GeometryPassBuilderOption: a function that sets the size
func WithSize(width, height int) GeometryPassBuilderOption {
	return func(gp *geometryPassImpl) {
		gp.width, gp.height = width, height
	}
}

// WithLogger sets the geometry pass logger. Defaults to logger.Logger().
func WithLogger(l *slog.Logger) GeometryPassBuilderOption {
	return func(gp *geometryPassImpl) {
		gp.logger = l
	}
}

// WithTimer sets the PassTimer that receives the host duration of every geometry pass.
func WithTimer(timer profiler.PassTimer) GeometryPassBuilderOption {
	return func(gp *geometryPassImpl) {
		gp.timer = timer
	}
}

type ShadowPassBuilderOption func(*shadowPassImpl)

// WithShadowSize sets the edge length of the square shadow maps Attach allocates. Point light maps are six
// squares wide. Defaults to 1024.
//
// Parameters:
//   - size: the edge length in texels
//
// Returns:
//   - ShadowPassBuilderOption: a function that sets the size
func WithShadowSize(size int) ShadowPassBuilderOption {
	return func(sp *shadowPassImpl) {
		if size > 0 {
			sp.size = size
		}
	}
}

// WithShadowLogger sets the shadow pass logger. Defaults to logger.Logger().
func WithShadowLogger(l *slog.Logger) ShadowPassBuilderOption {
	return func(sp *shadowPassImpl) {
		sp.logger = l
	}
}
