// Command beatify records from the microphone, visualizes the live spectrum
// as a reactive sphere, and identifies the recording with a remote
// recognition service.
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
	"time"

	"github.com/joho/godotenv"

	"github.com/MrWong99/beatify/internal/app"
	"github.com/MrWong99/beatify/internal/config"
	"github.com/MrWong99/beatify/internal/observe"
	"github.com/MrWong99/beatify/internal/window"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	headless := flag.Bool("headless", false, "run without a window; the visual feed stays available over /ws/visual")
	flag.Parse()

	// ── Environment ───────────────────────────────────────────────────────────
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "beatify: load .env: %v\n", err)
		return 1
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "beatify: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "beatify: %v\n", err)
		}
		return 1
	}
	if *headless {
		cfg.Render.Headless = true
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(app.ParseLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("beatify starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	provider, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics, err := observe.NewMetrics(provider.MeterProvider)
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	opts := []app.Option{
		app.WithMetrics(metrics),
		app.WithMetricsHandler(provider.MetricsHandler),
		app.WithLogLevel(&level),
		app.WithConfigPath(*configPath),
	}

	// ── Window (main thread) ──────────────────────────────────────────────────
	var win *window.Window
	if !cfg.Render.Headless {
		win, err = window.Open("beatify", cfg.Render.Width, cfg.Render.Height)
		if err != nil {
			slog.Error("failed to open window, use -headless to run without one", "err", err)
			return 1
		}
		// The engine renders at framebuffer resolution, which differs from
		// the window size on HiDPI displays.
		cfg.Render.Width, cfg.Render.Height = win.FramebufferSize()
		opts = append(opts, app.WithSurface(win))
	}

	application, err := app.New(ctx, cfg, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		if win != nil {
			_ = win.Close()
			win.Loop(context.Background())
		}
		return 1
	}

	printStartupSummary(cfg, win != nil)

	// ── Run ───────────────────────────────────────────────────────────────────
	runErr := make(chan error, 1)
	go func() {
		runErr <- application.Run(ctx)
		stop()
	}()

	if win != nil {
		win.Bind(application.WindowHandlers(ctx, stop))
		slog.Info("ready: space starts and stops a recording, M switches audio/humming, Esc quits")
		win.Loop(ctx)
		stop()
	} else {
		slog.Info("ready: press Ctrl+C to shut down")
	}

	exitCode := 0
	if err := <-runErr; err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		exitCode = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	return exitCode
}

func printStartupSummary(cfg *config.Config, windowed bool) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         beatify · startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	fmt.Printf("║  Record type     : %-19s ║\n", cfg.Capture.RecordType)
	fmt.Printf("║  Sample rate     : %-19d ║\n", cfg.Capture.SampleRate)
	if windowed {
		fmt.Printf("║  Window          : %-19s ║\n", fmt.Sprintf("%dx%d @ %d fps", cfg.Render.Width, cfg.Render.Height, cfg.Render.FPS))
	} else {
		fmt.Printf("║  Window          : %-19s ║\n", "(headless)")
	}
	if cfg.Share.URL != "" {
		fmt.Printf("║  SMS sharing     : %-19s ║\n", "enabled")
	} else {
		fmt.Printf("║  SMS sharing     : %-19s ║\n", "(disabled)")
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}
