package lighting

import (
	"log/slog"
	"time"

	"github.com/Carmen-Shannon/oxy-deferred/engine/profiler"
)

type LightingPassBuilderOption func(*lightingPassImpl)

// WithTimer sets the PassTimer that receives the host duration and light count of every frame.
//
// Parameters:
//   - timer: the timer to report to
//
// Returns:
//   - LightingPassBuilderOption: a function that sets the timer
func WithTimer(timer profiler.PassTimer) LightingPassBuilderOption {
	return func(lp *lightingPassImpl) {
		lp.timer = timer
	}
}

// WithLogger sets the logger for fallback and skip messages. Defaults to logger.Logger().
//
// Parameters:
//   - l: the logger to use
//
// Returns:
//   - LightingPassBuilderOption: a function that sets the logger
func WithLogger(l *slog.Logger) LightingPassBuilderOption {
	return func(lp *lightingPassImpl) {
		lp.logger = l
	}
}

// WithSize creates the attachments up front instead of on the first Render.
//
// Parameters:
//   - width, height: the attachment size in pixels
//
// Returns:
//   - LightingPassBuilderOption: a function that sets the initial size
func WithSize(width, height int) LightingPassBuilderOption {
	return func(lp *lightingPassImpl) {
		lp.width, lp.height = width, height
	}
}

// withClock replaces the clock used to time frames.
func withClock(now func() time.Time) LightingPassBuilderOption {
	return func(lp *lightingPassImpl) {
		lp.clock = now
	}
}
