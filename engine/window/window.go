// Package window opens the demo window and turns its input into the few events the demo reacts to.
package window

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/Carmen-Shannon/oxy-deferred/engine/logger"
	"github.com/cogentcore/webgpu/wgpu"
)

// ErrClosed is returned by operations on a window that has been closed.
var ErrClosed = errors.New("window: closed")

// Key identifies a keyboard key the demo binds. Keys outside this set are reported as KeyUnknown.
type Key int

const (
	KeyUnknown Key = iota
	KeyEscape
	KeySpace
	KeyL
	KeyS
	KeyP
	KeyR
)

var keyNames = [...]string{"unknown", "escape", "space", "l", "s", "p", "r"}

// String returns the lower case key name.
func (k Key) String() string {
	if k < 0 || int(k) >= len(keyNames) {
		return keyNames[KeyUnknown]
	}
	return keyNames[k]
}

// Window is a platform window that can back a wgpu surface.
//
// Callbacks fire from Poll on the thread that created the window.
type Window interface {
	// OnResize sets the function called with the new framebuffer size in pixels.
	OnResize(fn func(width, height int))

	// OnScroll sets the function called with the vertical scroll offset. Positive scrolls up.
	OnScroll(fn func(delta float32))

	// OnDrag sets the function called with the cursor movement in pixels while the left button is held.
	OnDrag(fn func(dx, dy float32))

	// OnKey sets the function called when a key is pressed or released.
	OnKey(fn func(key Key, pressed bool))

	// Poll processes pending events.
	//
	// Returns:
	//   - bool: false once the window has been asked to close
	Poll() bool

	// SurfaceDescriptor returns the platform surface descriptor, or nil after Close.
	SurfaceDescriptor() *wgpu.SurfaceDescriptor

	// Width returns the framebuffer width in pixels.
	Width() int

	// Height returns the framebuffer height in pixels.
	Height() int

	// Close destroys the window.
	//
	// Returns:
	//   - error: ErrClosed when the window was already closed
	Close() error
}

type windowImpl struct {
	mu *sync.Mutex

	title         string
	width, height int
	resizable     bool
	logger        *slog.Logger

	platform *glfwWindow

	onResize func(width, height int)
	onScroll func(delta float32)
	onDrag   func(dx, dy float32)
	onKey    func(key Key, pressed bool)
}

var _ Window = &windowImpl{}

// NewWindow opens a window with the given options. The calling goroutine is locked to its OS thread, which
// must then be the only one to call Poll.
//
// Parameters:
//   - options: functional options to configure the window
//
// Returns:
//   - Window: the opened window
//   - error: an error if the platform layer cannot create the window
func NewWindow(options ...WindowBuilderOption) (Window, error) {
	w := &windowImpl{
		mu:        &sync.Mutex{},
		title:     "oxy-deferred",
		width:     1280,
		height:    720,
		resizable: true,
	}
	for _, option := range options {
		option(w)
	}
	w.logger = logger.Or(w.logger)
	if err := openPlatformWindow(w); err != nil {
		return nil, err
	}
	w.logger.Info("window opened", "title", w.title, "width", w.width, "height", w.height)
	return w, nil
}

func (w *windowImpl) OnResize(fn func(width, height int)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onResize = fn
}

func (w *windowImpl) OnScroll(fn func(delta float32)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onScroll = fn
}

func (w *windowImpl) OnDrag(fn func(dx, dy float32)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onDrag = fn
}

func (w *windowImpl) OnKey(fn func(key Key, pressed bool)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onKey = fn
}

func (w *windowImpl) Poll() bool {
	if w.platform == nil {
		return false
	}
	return w.platform.poll()
}

func (w *windowImpl) SurfaceDescriptor() *wgpu.SurfaceDescriptor {
	if w.platform == nil {
		return nil
	}
	return w.platform.surfaceDescriptor()
}

func (w *windowImpl) Width() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.width
}

func (w *windowImpl) Height() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.height
}

func (w *windowImpl) Close() error {
	if w.platform == nil {
		return ErrClosed
	}
	w.platform.destroy()
	w.platform = nil
	w.logger.Info("window closed", "title", w.title)
	return nil
}

// resized records the new framebuffer size and forwards it. Minimised windows report 0x0 and are ignored.
func (w *windowImpl) resized(width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	w.mu.Lock()
	w.width, w.height = width, height
	fn := w.onResize
	w.mu.Unlock()
	w.logger.Debug("window resized", "width", width, "height", height)
	if fn != nil {
		fn(width, height)
	}
}

func (w *windowImpl) scrolled(delta float32) {
	w.mu.Lock()
	fn := w.onScroll
	w.mu.Unlock()
	if fn != nil {
		fn(delta)
	}
}

func (w *windowImpl) dragged(dx, dy float32) {
	w.mu.Lock()
	fn := w.onDrag
	w.mu.Unlock()
	if fn != nil {
		fn(dx, dy)
	}
}

func (w *windowImpl) keyed(key Key, pressed bool) {
	w.mu.Lock()
	fn := w.onKey
	w.mu.Unlock()
	if fn != nil {
		fn(key, pressed)
	}
}
