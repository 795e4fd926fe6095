// Package window shows rendered frames in a native GLFW window and turns
// key presses into control actions.
//
// GLFW requires its calls to happen on the main OS thread. [Open] and
// [Window.Loop] must therefore be called from the main goroutine;
// [Window.Present] and [Window.Close] are safe from any goroutine.
package window

import (
	"context"
	"errors"
	"fmt"
	"image"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/go-gl/gl/v2.1/gl"
	"github.com/go-gl/glfw/v3.3/glfw"
)

func init() {
	// GLFW event processing must stay on the main thread.
	runtime.LockOSThread()
}

// pollInterval bounds how long the loop sleeps waiting for events before
// checking for a new frame.
const pollInterval = 1.0 / 120

// ErrClosed is returned by [Window.Present] after [Window.Close].
var ErrClosed = errors.New("window: closed")

// Action is a control triggered from the keyboard.
type Action int

const (
	ActionNone Action = iota
	// ActionToggle starts or stops a recording.
	ActionToggle
	// ActionRecordType switches between audio and humming.
	ActionRecordType
	// ActionQuit closes the window.
	ActionQuit
)

func (a Action) String() string {
	switch a {
	case ActionToggle:
		return "toggle"
	case ActionRecordType:
		return "record_type"
	case ActionQuit:
		return "quit"
	default:
		return "none"
	}
}

// KeyAction maps a key event to its action. Only presses trigger actions.
func KeyAction(key glfw.Key, action glfw.Action) Action {
	if action != glfw.Press {
		return ActionNone
	}
	switch key {
	case glfw.KeySpace, glfw.KeyEnter:
		return ActionToggle
	case glfw.KeyM:
		return ActionRecordType
	case glfw.KeyEscape, glfw.KeyQ:
		return ActionQuit
	default:
		return ActionNone
	}
}

// Handlers receive window events on the main thread. They must not block.
// Nil handlers are skipped.
type Handlers struct {
	OnToggle     func()
	OnRecordType func()
	OnQuit       func()
	// OnResize receives the framebuffer size in pixels.
	OnResize func(width, height int)
}

func (h Handlers) dispatch(a Action) {
	var fn func()
	switch a {
	case ActionToggle:
		fn = h.OnToggle
	case ActionRecordType:
		fn = h.OnRecordType
	case ActionQuit:
		fn = h.OnQuit
	}
	if fn != nil {
		fn()
	}
}

// Window is a GLFW window presenting RGBA frames with glDrawPixels.
type Window struct {
	win *glfw.Window

	frame  frameSlot
	closed atomic.Bool

	mu       sync.Mutex
	handlers Handlers
}

// Open initialises GLFW and OpenGL and creates a window of the given size.
// It must be called from the main goroutine.
func Open(title string, width, height int) (*Window, error) {
	if err := glfw.Init(); err != nil {
		return nil, fmt.Errorf("window: init glfw: %w", err)
	}
	glfw.WindowHint(glfw.ContextVersionMajor, 2)
	glfw.WindowHint(glfw.ContextVersionMinor, 1)
	glfw.WindowHint(glfw.Resizable, glfw.True)

	win, err := glfw.CreateWindow(width, height, title, nil, nil)
	if err != nil {
		glfw.Terminate()
		return nil, fmt.Errorf("window: create: %w", err)
	}
	win.MakeContextCurrent()
	glfw.SwapInterval(1)

	if err := gl.Init(); err != nil {
		win.Destroy()
		glfw.Terminate()
		return nil, fmt.Errorf("window: init gl: %w", err)
	}

	w := &Window{win: win}
	win.SetKeyCallback(func(_ *glfw.Window, key glfw.Key, _ int, action glfw.Action, _ glfw.ModifierKey) {
		a := KeyAction(key, action)
		if a == ActionQuit {
			win.SetShouldClose(true)
		}
		w.currentHandlers().dispatch(a)
	})
	win.SetFramebufferSizeCallback(func(_ *glfw.Window, fbw, fbh int) {
		gl.Viewport(0, 0, int32(fbw), int32(fbh))
		if fn := w.currentHandlers().OnResize; fn != nil {
			fn(fbw, fbh)
		}
	})
	win.SetCloseCallback(func(*glfw.Window) {
		if fn := w.currentHandlers().OnQuit; fn != nil {
			fn()
		}
	})
	return w, nil
}

// Bind installs the event handlers.
func (w *Window) Bind(h Handlers) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = h
}

func (w *Window) currentHandlers() Handlers {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.handlers
}

// FramebufferSize returns the drawable size in pixels.
func (w *Window) FramebufferSize() (int, int) {
	return w.win.GetFramebufferSize()
}

// Present queues img for display. img is copied, so the caller may reuse it.
func (w *Window) Present(img *image.RGBA) error {
	if w.closed.Load() {
		return ErrClosed
	}
	w.frame.put(img)
	glfw.PostEmptyEvent()
	return nil
}

// Close asks [Window.Loop] to return. The window itself is destroyed by
// the loop on the main thread.
func (w *Window) Close() error {
	if w.closed.CompareAndSwap(false, true) {
		glfw.PostEmptyEvent()
	}
	return nil
}

// Loop processes events and draws frames until the user closes the
// window, ctx is cancelled or [Window.Close] is called. It destroys the
// window and terminates GLFW before returning. Call it from the main
// goroutine.
func (w *Window) Loop(ctx context.Context) {
	defer glfw.Terminate()
	defer w.win.Destroy()

	stop := context.AfterFunc(ctx, func() { _ = w.Close() })
	defer stop()

	for !w.win.ShouldClose() && !w.closed.Load() {
		glfw.WaitEventsTimeout(pollInterval)
		w.frame.take(w.draw)
	}
	w.closed.Store(true)
}

func (w *Window) draw(img *image.RGBA) {
	if len(img.Pix) == 0 {
		return
	}
	gl.ClearColor(0, 0, 0, 1)
	gl.Clear(gl.COLOR_BUFFER_BIT)

	// Frames are stored top row first; draw downward from the top-left.
	gl.RasterPos2f(-1, 1)
	fbw, fbh := w.win.GetFramebufferSize()
	zx := float32(fbw) / float32(max(img.Rect.Dx(), 1))
	zy := float32(fbh) / float32(max(img.Rect.Dy(), 1))
	gl.PixelZoom(zx, -zy)
	gl.DrawPixels(int32(img.Rect.Dx()), int32(img.Rect.Dy()), gl.RGBA, gl.UNSIGNED_BYTE, gl.Ptr(img.Pix))
	w.win.SwapBuffers()
}
