// Package render drives the audio-reactive visualizer: a noise-displaced
// wireframe icosphere whose displacement and bloom follow the live spectrum
// average.
//
// The [Engine] owns all render state. Each frame it polls the attached
// spectrum source, updates the [VisualState], rasterizes the mesh through a
// render → bloom → output pass chain, and presents the result to the
// attached [Surface]. Frames are produced on an explicit ticker in
// [Engine.Run] or one at a time through [Engine.Frame].
package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/beatify/internal/analyzer"
	"github.com/MrWong99/beatify/internal/observe"
)

const (
	// FrequencyGain maps the spectrum average to the frequency uniform.
	FrequencyGain = 1.8
	// BloomGain maps intensity to bloom strength.
	BloomGain = 1.2
	// Decay is applied per frame to frequency and bloom while not driven.
	Decay = 0.98
	// DecayFloor is the magnitude below which decaying values snap to 0.
	DecayFloor = 1e-6

	RotationStepX = 0.001
	RotationStepY = 0.002

	SphereRadius   = 4.0
	BloomRadius    = 0.5
	BloomThreshold = 0.2

	DefaultFPS    = 60
	DefaultDetail = 32
)

// ErrClosed is returned by [Engine.Frame] and [Engine.Check] after Close.
var ErrClosed = errors.New("render: engine closed")

// Surface displays composed frames.
type Surface interface {
	// Present shows img. The image is reused by the next frame.
	Present(img *image.RGBA) error

	// Close detaches the surface and releases its resources.
	Close() error
}

// VisualState is the per-frame animation state.
type VisualState struct {
	Elapsed       time.Duration `json:"elapsed"`
	Frequency     float64       `json:"frequency"`
	Intensity     float64       `json:"intensity"`
	BloomStrength float64       `json:"bloom_strength"`
	RotationX     float64       `json:"rotation_x"`
	RotationY     float64       `json:"rotation_y"`
	Driven        bool          `json:"driven"`
	Frame         uint64        `json:"frame"`
}

// Option is a functional option for configuring an [Engine].
type Option func(*Engine)

// WithFPS sets the frame rate of [Engine.Run]. Defaults to 60.
func WithFPS(fps int) Option {
	return func(e *Engine) {
		if fps > 0 {
			e.fps = fps
		}
	}
}

// WithDetail sets the icosphere subdivision level. Defaults to 32.
func WithDetail(detail int) Option {
	return func(e *Engine) {
		if detail >= 0 {
			e.detail = detail
		}
	}
}

// WithSurface attaches a surface from the first frame on.
func WithSurface(s Surface) Option {
	return func(e *Engine) { e.surface = s }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithStartTime sets the reference time for the time uniform.
func WithStartTime(t time.Time) Option {
	return func(e *Engine) { e.start = t }
}

// sourceBox lets a nil interface be stored in an atomic.Pointer.
type sourceBox struct {
	src analyzer.Source
}

// Engine renders the visualizer. Its exported methods are safe for
// concurrent use.
type Engine struct {
	fps     int
	detail  int
	metrics *observe.Metrics
	start   time.Time

	source atomic.Pointer[sourceBox]
	state  atomic.Pointer[VisualState]

	// mu guards the pending resize and the surface handle.
	mu      sync.Mutex
	pending *image.Point
	surface Surface

	// frameMu serialises frames with each other and with Close.
	frameMu  sync.Mutex
	closed   bool
	vs       VisualState
	camera   *Camera
	geometry *Geometry
	mesh     *Mesh
	scene    *RenderPass
	bloom    *BloomPass
	composer *Composer

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	runDone chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// New creates an engine rendering at width×height.
func New(width, height int, opts ...Option) (*Engine, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("render: invalid size %dx%d", width, height)
	}
	e := &Engine{
		fps:    DefaultFPS,
		detail: DefaultDetail,
		start:  time.Now(),
	}
	for _, o := range opts {
		o(e)
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}

	e.camera = NewCamera(float64(width) / float64(height))
	e.geometry = NewIcosphere(SphereRadius, e.detail)
	e.mesh = &Mesh{Geometry: e.geometry}
	e.scene = NewRenderPass(e.mesh, e.camera)
	e.bloom = NewBloomPass(0, BloomRadius, BloomThreshold)
	e.composer = NewComposer(width, height, NewOutputPass(), e.scene, e.bloom)

	vs := VisualState{}
	e.state.Store(&vs)

	slog.Debug("render: engine created",
		"width", width,
		"height", height,
		"fps", e.fps,
		"vertices", len(e.geometry.Positions),
		"edges", len(e.geometry.Edges),
	)
	return e, nil
}

// SetSource attaches the spectrum source, or detaches it when src is nil.
// A source whose Poll fails is treated as detached.
func (e *Engine) SetSource(src analyzer.Source) {
	if src == nil {
		e.source.Store(nil)
		return
	}
	e.source.Store(&sourceBox{src: src})
}

// SetSurface attaches s for subsequent frames. Passing nil detaches the
// current surface without closing it.
func (e *Engine) SetSurface(s Surface) {
	e.mu.Lock()
	e.surface = s
	e.mu.Unlock()
}

// Resize schedules a new output size. It takes effect at the start of the
// next frame, for the camera and every render buffer at once. Non-positive
// sizes (a minimized window) are ignored.
func (e *Engine) Resize(w, h int) {
	if w <= 0 || h <= 0 {
		return
	}
	e.mu.Lock()
	e.pending = &image.Point{X: w, Y: h}
	e.mu.Unlock()
}

// State returns the state of the most recent frame.
func (e *Engine) State() VisualState {
	return *e.state.Load()
}

// Size returns the current render size and the camera aspect ratio.
func (e *Engine) Size() (w, h int, aspect float64) {
	e.frameMu.Lock()
	defer e.frameMu.Unlock()
	w, h = e.composer.Size()
	return w, h, e.camera.Aspect()
}

// BufferSizes returns the size of every render buffer: the pass outputs
// followed by the bloom mip levels.
func (e *Engine) BufferSizes() []image.Point {
	e.frameMu.Lock()
	defer e.frameMu.Unlock()
	return append(e.composer.PassSizes(), e.bloom.MipSizes()...)
}

// Frame advances the animation to now and renders one frame.
func (e *Engine) Frame(now time.Time) (VisualState, error) {
	e.frameMu.Lock()
	defer e.frameMu.Unlock()
	if e.closed {
		return VisualState{}, ErrClosed
	}
	begin := time.Now()

	e.mu.Lock()
	pending := e.pending
	e.pending = nil
	surface := e.surface
	e.mu.Unlock()

	if pending != nil {
		e.camera.SetAspect(float64(pending.X) / float64(pending.Y))
		e.composer.SetSize(pending.X, pending.Y)
		slog.Debug("render: resized", "width", pending.X, "height", pending.Y)
	}

	vs := &e.vs
	vs.Elapsed = now.Sub(e.start)
	vs.Driven = false
	if box := e.source.Load(); box != nil {
		if snap, err := box.src.Poll(); err == nil {
			vs.Driven = true
			vs.Frequency = snap.Average * FrequencyGain
			vs.Intensity = clamp01(snap.Average / 255)
			vs.BloomStrength = vs.Intensity * BloomGain
		}
	}
	if !vs.Driven {
		vs.Frequency = decay(vs.Frequency)
		vs.BloomStrength = decay(vs.BloomStrength)
		vs.Intensity = 0
	}
	vs.RotationX += RotationStepX
	vs.RotationY += RotationStepY
	vs.Frame++

	e.scene.Uniforms = Uniforms{
		Time:      vs.Elapsed.Seconds(),
		Frequency: vs.Frequency,
		Intensity: vs.Intensity,
	}
	e.mesh.RotationX, e.mesh.RotationY = vs.RotationX, vs.RotationY
	e.bloom.Strength = vs.BloomStrength

	var err error
	if surface != nil {
		img := e.composer.Render()
		if perr := surface.Present(img); perr != nil {
			err = fmt.Errorf("render: present: %w", perr)
		}
	}

	snapshot := *vs
	e.state.Store(&snapshot)
	e.metrics.RecordFrame(context.Background(), time.Since(begin), vs.Driven)
	return snapshot, err
}

// Run renders frames at the configured rate until ctx is cancelled or the
// engine is closed. Presentation errors are logged and do not stop the loop.
func (e *Engine) Run(ctx context.Context) error {
	e.runMu.Lock()
	if e.running {
		e.runMu.Unlock()
		return errors.New("render: already running")
	}
	e.frameMu.Lock()
	closed := e.closed
	e.frameMu.Unlock()
	if closed {
		e.runMu.Unlock()
		return ErrClosed
	}
	ctx, cancel := context.WithCancel(ctx)
	e.running = true
	e.cancel = cancel
	e.runDone = make(chan struct{})
	done := e.runDone
	e.runMu.Unlock()

	defer func() {
		cancel()
		e.runMu.Lock()
		e.running = false
		e.runMu.Unlock()
		close(done)
	}()

	ticker := time.NewTicker(time.Second / time.Duration(e.fps))
	defer ticker.Stop()

	slog.Info("render loop started", "fps", e.fps)
	var lastErr string
	for {
		select {
		case <-ctx.Done():
			slog.Info("render loop stopped")
			return nil
		case now := <-ticker.C:
			_, err := e.Frame(now)
			switch {
			case errors.Is(err, ErrClosed):
				return nil
			case err != nil && err.Error() != lastErr:
				lastErr = err.Error()
				slog.Warn("render: frame failed", "err", err)
			case err == nil:
				lastErr = ""
			}
		}
	}
}

// Check reports whether the engine can still render. It implements a
// readiness probe.
func (e *Engine) Check(_ context.Context) error {
	e.frameMu.Lock()
	defer e.frameMu.Unlock()
	if e.closed {
		return ErrClosed
	}
	return nil
}

// Close stops the loop, waits for the in-flight frame, closes the surface,
// and releases geometry, material, and render targets. It is idempotent.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.runMu.Lock()
		cancel, done := e.cancel, e.runDone
		e.runMu.Unlock()
		if cancel != nil {
			cancel()
			<-done
		}

		e.frameMu.Lock()
		defer e.frameMu.Unlock()
		e.closed = true
		e.source.Store(nil)

		e.mu.Lock()
		surface := e.surface
		e.surface = nil
		e.pending = nil
		e.mu.Unlock()
		if surface != nil {
			if err := surface.Close(); err != nil {
				e.closeErr = fmt.Errorf("render: close surface: %w", err)
			}
		}

		e.scene.Uniforms = Uniforms{}
		e.composer.Release()
		e.geometry.Release()
		slog.Debug("render: engine closed")
	})
	return e.closeErr
}

func decay(v float64) float64 {
	v *= Decay
	if v < DecayFloor {
		return 0
	}
	return v
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
