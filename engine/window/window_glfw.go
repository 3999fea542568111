package window

import (
	"fmt"
	"runtime"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/cogentcore/webgpu/wgpuglfw"
	"github.com/go-gl/glfw/v3.3/glfw"
)

var glfwKeys = map[glfw.Key]Key{
	glfw.KeyEscape: KeyEscape,
	glfw.KeySpace:  KeySpace,
	glfw.KeyL:      KeyL,
	glfw.KeyS:      KeyS,
	glfw.KeyP:      KeyP,
	glfw.KeyR:      KeyR,
}

func keyFromGLFW(k glfw.Key) Key {
	if key, ok := glfwKeys[k]; ok {
		return key
	}
	return KeyUnknown
}

type glfwWindow struct {
	window *glfw.Window

	dragging     bool
	lastX, lastY float64
}

// openPlatformWindow creates the GLFW window without a client API, since wgpu owns the surface.
func openPlatformWindow(w *windowImpl) error {
	runtime.LockOSThread()

	if err := glfw.Init(); err != nil {
		return fmt.Errorf("failed to initialize glfw: %w", err)
	}
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	resizable := glfw.False
	if w.resizable {
		resizable = glfw.True
	}
	glfw.WindowHint(glfw.Resizable, resizable)

	win, err := glfw.CreateWindow(w.width, w.height, w.title, nil, nil)
	if err != nil {
		glfw.Terminate()
		return fmt.Errorf("failed to create glfw window %q: %w", w.title, err)
	}
	gw := &glfwWindow{window: win}
	w.platform = gw

	win.SetKeyCallback(func(_ *glfw.Window, key glfw.Key, _ int, action glfw.Action, _ glfw.ModifierKey) {
		if action == glfw.Repeat {
			return
		}
		k := keyFromGLFW(key)
		if k == KeyEscape && action == glfw.Press {
			win.SetShouldClose(true)
		}
		w.keyed(k, action == glfw.Press)
	})
	win.SetScrollCallback(func(_ *glfw.Window, _, yoff float64) {
		w.scrolled(float32(yoff))
	})
	win.SetMouseButtonCallback(func(_ *glfw.Window, button glfw.MouseButton, action glfw.Action, _ glfw.ModifierKey) {
		if button != glfw.MouseButtonLeft {
			return
		}
		gw.dragging = action == glfw.Press
		gw.lastX, gw.lastY = win.GetCursorPos()
	})
	win.SetCursorPosCallback(func(_ *glfw.Window, x, y float64) {
		if !gw.dragging {
			return
		}
		dx, dy := x-gw.lastX, y-gw.lastY
		gw.lastX, gw.lastY = x, y
		w.dragged(float32(dx), float32(dy))
	})
	// Framebuffer size, not window size: the surface is configured in pixels.
	win.SetFramebufferSizeCallback(func(_ *glfw.Window, width, height int) {
		w.resized(width, height)
	})

	w.width, w.height = win.GetFramebufferSize()
	return nil
}

func (gw *glfwWindow) poll() bool {
	glfw.PollEvents()
	return !gw.window.ShouldClose()
}

func (gw *glfwWindow) surfaceDescriptor() *wgpu.SurfaceDescriptor {
	return wgpuglfw.GetSurfaceDescriptor(gw.window)
}

func (gw *glfwWindow) destroy() {
	gw.window.SetShouldClose(true)
	gw.window.Destroy()
	glfw.Terminate()
}
