// Package app wires the beatify subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the render loop, control server and config
// watcher, and Shutdown tears everything down in order.
//
// For testing, inject fakes via functional options (WithDevice,
// WithRecognizer, etc.). When an option is not provided, New creates the
// real implementation from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/beatify/internal/capture"
	"github.com/MrWong99/beatify/internal/config"
	"github.com/MrWong99/beatify/internal/health"
	"github.com/MrWong99/beatify/internal/observe"
	"github.com/MrWong99/beatify/internal/render"
	"github.com/MrWong99/beatify/internal/resilience"
	"github.com/MrWong99/beatify/internal/server"
	"github.com/MrWong99/beatify/internal/window"
	"github.com/MrWong99/beatify/pkg/audio"
	"github.com/MrWong99/beatify/pkg/audio/portaudio"
	"github.com/MrWong99/beatify/pkg/audio/recorder"
	"github.com/MrWong99/beatify/pkg/recognize"
	"github.com/MrWong99/beatify/pkg/share"
)

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config

	// Injected or built in New.
	device         audio.Device
	newEncoder     capture.EncoderFactory
	recognizer     capture.Recognizer
	sharer         server.Sharer
	surface        render.Surface
	metrics        *observe.Metrics
	metricsHandler http.Handler
	logLevel       *slog.LevelVar
	configPath     string
	listener       net.Listener

	// Subsystems.
	breaker    *resilience.CircuitBreaker
	engine     *render.Engine
	controller *capture.Controller
	server     *server.Server
	watcher    *config.Watcher

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithDevice injects the microphone instead of opening PortAudio.
func WithDevice(d audio.Device) Option {
	return func(a *App) { a.device = d }
}

// WithEncoderFactory replaces the WebM/Opus recorder.
func WithEncoderFactory(f capture.EncoderFactory) Option {
	return func(a *App) { a.newEncoder = f }
}

// WithRecognizer injects the recognizer instead of the HTTP client. It is
// still guarded by the recognition circuit breaker.
func WithRecognizer(r capture.Recognizer) Option {
	return func(a *App) { a.recognizer = r }
}

// WithSharer injects the SMS sharer instead of the HTTP client.
func WithSharer(s server.Sharer) Option {
	return func(a *App) { a.sharer = s }
}

// WithSurface attaches a presentation surface, usually a [window.Window].
func WithSurface(s render.Surface) Option {
	return func(a *App) { a.surface = s }
}

// WithMetrics sets the instruments shared by all subsystems.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithLogLevel lets config reloads adjust the level of the process logger.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// WithConfigPath enables hot reload of the config file at path.
func WithConfigPath(path string) Option {
	return func(a *App) { a.configPath = path }
}

// WithListener serves the control API on ln instead of listening on
// server.listen_addr.
func WithListener(ln net.Listener) Option {
	return func(a *App) { a.listener = ln }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. cfg must already
// carry defaults and be validated.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Remote clients ────────────────────────────────────────────────
	if err := a.initClients(ctx); err != nil {
		return nil, fmt.Errorf("app: init clients: %w", err)
	}

	// ── 2. Render engine ─────────────────────────────────────────────────
	if err := a.initEngine(); err != nil {
		return nil, fmt.Errorf("app: init render engine: %w", err)
	}

	// ── 3. Capture controller ────────────────────────────────────────────
	if err := a.initCapture(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init capture: %w", err)
	}

	// ── 4. Config watcher ────────────────────────────────────────────────
	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.applyConfig)
		if err != nil {
			a.closeAll()
			return nil, fmt.Errorf("app: init config watcher: %w", err)
		}
		a.watcher = w
	}

	// ── 5. Control server ────────────────────────────────────────────────
	checks := health.New(
		health.Checker{Name: "recognition", Check: a.breaker.Check},
		health.Checker{Name: "render", Check: a.engine.Check},
	)
	a.server = server.New(server.Config{
		Capture:        a.controller,
		Visual:         a.engine,
		Sharer:         a.sharer,
		Health:         checks,
		MetricsHandler: a.metricsHandler,
		Metrics:        a.metrics,
	})

	observe.Logger(ctx).Info("app initialised",
		"record_type", a.controller.RecordType(),
		"headless", a.surface == nil,
		"share", a.sharer != nil,
		"spotify", a.cfg.Spotify.Enabled(),
	)
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initClients(ctx context.Context) error {
	if a.recognizer == nil {
		opts := []recognize.Option{recognize.WithTimeout(a.cfg.Recognition.Timeout)}
		if r := newSpotifyResolver(ctx, a.cfg.Spotify); r != nil {
			opts = append(opts, recognize.WithSpotify(r))
		}
		c, err := recognize.New(a.cfg.Recognition.URL, opts...)
		if err != nil {
			return err
		}
		a.recognizer = c
	}
	a.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         "recognition",
		MaxFailures:  a.cfg.Recognition.MaxFailures,
		ResetTimeout: a.cfg.Recognition.ResetTimeout,
		IsFailure:    recognize.IsTransient,
		OnStateChange: func(from, to resilience.State) {
			slog.Warn("recognition breaker state changed", "from", from, "to", to)
			a.metrics.RecordBreakerTransition(context.Background(), "recognition", to.String())
		},
	})
	a.recognizer = &guardedRecognizer{next: a.recognizer, cb: a.breaker}

	if a.sharer == nil && a.cfg.Share.URL != "" {
		c, err := share.New(a.cfg.Share.URL,
			share.WithTimeout(a.cfg.Share.Timeout),
			share.WithRatePerMinute(a.cfg.Share.RatePerMinute),
		)
		if err != nil {
			return err
		}
		a.sharer = c
	}
	return nil
}

func (a *App) initEngine() error {
	opts := []render.Option{
		render.WithFPS(a.cfg.Render.FPS),
		render.WithDetail(a.cfg.Render.Detail),
		render.WithMetrics(a.metrics),
	}
	if a.surface != nil {
		opts = append(opts, render.WithSurface(a.surface))
	}
	eng, err := render.New(a.cfg.Render.Width, a.cfg.Render.Height, opts...)
	if err != nil {
		return err
	}
	a.engine = eng
	a.closers = append(a.closers, eng.Close)
	return nil
}

func (a *App) initCapture() error {
	if a.device == nil {
		a.device = portaudio.New(portaudio.WithDeviceName(a.cfg.Capture.Device))
	}
	if a.newEncoder == nil {
		a.newEncoder = func() (capture.Encoder, error) {
			r, err := recorder.New()
			if err != nil {
				return nil, err
			}
			return r, nil
		}
	}
	ctrl, err := capture.New(capture.Config{
		Device:     a.device,
		NewEncoder: a.newEncoder,
		Recognizer: a.recognizer,
		Format:     audio.Format{SampleRate: a.cfg.Capture.SampleRate, Channels: 1},
		RecordType: a.cfg.Capture.RecordType,
		Sink:       a.engine,
		OnResult:   a.reportResult,
		Metrics:    a.metrics,
	})
	if err != nil {
		return err
	}
	a.controller = ctrl
	// The controller stops feeding the engine, so it closes first.
	a.closers = append([]func() error{ctrl.Close}, a.closers...)
	return nil
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the render loop, the control server and the config watcher,
// and blocks until ctx is cancelled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.engine.Run(gctx) })
	g.Go(func() error {
		if a.listener != nil {
			return a.server.Serve(gctx, a.listener)
		}
		return a.server.ListenAndServe(gctx, a.cfg.Server.ListenAddr)
	})
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}

	slog.Info("app running", "listen_addr", a.cfg.Server.ListenAddr)
	return g.Wait()
}

// Toggle starts a recording when idle and stops it while recording.
// It is a no-op while a previous recording is being finalized.
func (a *App) Toggle(ctx context.Context) error {
	switch a.controller.State() {
	case capture.StateIdle:
		return a.controller.Start(ctx)
	case capture.StateRecording:
		return a.controller.Stop(ctx)
	default:
		slog.Debug("toggle ignored while finalizing")
		return nil
	}
}

// Controller exposes the capture controller.
func (a *App) Controller() *capture.Controller { return a.controller }

// Engine exposes the render engine.
func (a *App) Engine() *render.Engine { return a.engine }

// Handler exposes the control API handler.
func (a *App) Handler() http.Handler { return a.server.Handler() }

// WindowHandlers returns the window callbacks that drive this app. quit is
// called when the user closes the window.
func (a *App) WindowHandlers(ctx context.Context, quit func()) window.Handlers {
	return window.Handlers{
		OnToggle: func() {
			// Opening the microphone can block; keep the event loop responsive.
			go func() {
				if err := a.Toggle(ctx); err != nil {
					slog.Warn("toggle recording", "err", err)
				}
			}()
		},
		OnRecordType: func() {
			slog.Info("record type changed", "record_type", a.controller.ToggleRecordType())
		},
		OnQuit:   quit,
		OnResize: a.engine.Resize,
	}
}

// reportResult logs the outcome of every session.
func (a *App) reportResult(res *recognize.Result, err error) {
	if err != nil {
		slog.Warn("recognition failed", "err", err)
		return
	}
	slog.Info("recognition result", "tracks", len(res.Tracks), "summary", res.Summary())
}

// applyConfig applies the hot-reloadable parts of a changed config file.
func (a *App) applyConfig(_, _ *config.Config, d config.ConfigDiff) {
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(ParseLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.RecordTypeChanged {
		if err := a.controller.SetRecordType(d.NewRecordType); err != nil {
			slog.Warn("config reload: record type", "err", err)
		} else {
			slog.Info("record type changed", "record_type", d.NewRecordType)
		}
	}
	if d.RestartRequired {
		slog.Warn("config changed; some settings take effect after a restart", "path", a.configPath)
	}
}

// ParseLevel maps a config log level to its slog level. Unknown values
// map to info.
func ParseLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		start := time.Now()

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete", "took", time.Since(start))
	})
	return shutdownErr
}

// closeAll releases whatever New built before failing.
func (a *App) closeAll() {
	for _, c := range a.closers {
		_ = c()
	}
	a.closers = nil
}
