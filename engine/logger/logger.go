// Package logger holds the module-wide structured logger. Components take a *slog.Logger through
// their WithLogger builder options and fall back to Logger() when none is supplied.
package logger

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// nopHandler discards every record. Enabled reports false so callers skip formatting entirely.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

// NewNop creates a logger that silently discards all output.
//
// Returns:
//   - *slog.Logger: a disabled logger
func NewNop() *slog.Logger { return slog.New(nopHandler{}) }

var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(NewNop())
}

// SetLogger replaces the default logger handed to components constructed without WithLogger.
// Passing nil restores the silent default. Safe for concurrent use.
//
// Log levels used by the engine:
//   - [slog.LevelDebug]: shadow fallbacks, attachment recreation, pool growth
//   - [slog.LevelInfo]: backend and adapter selection, profiler summaries
//   - [slog.LevelWarn]: skipped lights, stale registry entries
//   - [slog.LevelError]: failed frames
//
// Parameters:
//   - l: the logger to install, or nil for silence
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = NewNop()
	}
	loggerPtr.Store(l)
}

// Logger returns the current default logger. Safe for concurrent use.
//
// Returns:
//   - *slog.Logger: the installed logger, never nil
func Logger() *slog.Logger {
	return loggerPtr.Load()
}

// Or returns l when it is non-nil and the current default otherwise. Builders call it while
// resolving their WithLogger option.
func Or(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return Logger()
}
