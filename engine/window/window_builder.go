package window

import "log/slog"

// WindowBuilderOption is a functional option for configuring a Window.
type WindowBuilderOption func(w *windowImpl)

// WithTitle sets the title bar text.
//
// Parameters:
//   - title: the window title
//
// Returns:
//   - WindowBuilderOption: option function to apply
func WithTitle(title string) WindowBuilderOption {
	return func(w *windowImpl) {
		w.title = title
	}
}

// WithSize sets the requested client size. The framebuffer may differ on high-DPI displays, in which case
// Width and Height report the framebuffer.
//
// Parameters:
//   - width, height: the requested size in screen coordinates
//
// Returns:
//   - WindowBuilderOption: option function to apply
func WithSize(width, height int) WindowBuilderOption {
	return func(w *windowImpl) {
		if width > 0 && height > 0 {
			w.width, w.height = width, height
		}
	}
}

// WithResizable toggles user resizing. Defaults to true.
func WithResizable(resizable bool) WindowBuilderOption {
	return func(w *windowImpl) {
		w.resizable = resizable
	}
}

// WithLogger sets the window logger. Defaults to logger.Logger().
func WithLogger(l *slog.Logger) WindowBuilderOption {
	return func(w *windowImpl) {
		w.logger = l
	}
}
