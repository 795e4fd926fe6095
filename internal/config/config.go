// Package config provides the configuration schema, loader, and hot-reload
// watcher for the beatify visualizer.
package config

import (
	"time"

	"github.com/MrWong99/beatify/pkg/recognize"
)

// LogLevel controls log verbosity for the beatify process.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for beatify.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Capture     CaptureConfig     `yaml:"capture"`
	Render      RenderConfig      `yaml:"render"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Share       ShareConfig       `yaml:"share"`
	Spotify     SpotifyConfig     `yaml:"spotify"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings for the control API.
type ServerConfig struct {
	// ListenAddr is the TCP address the control API listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// CaptureConfig configures the microphone and the recording cadence.
type CaptureConfig struct {
	// SampleRate is the microphone sample rate requested from the device in Hz.
	SampleRate int `yaml:"sample_rate"`

	// RecordType selects the recognition mode for new sessions.
	RecordType recognize.RecordType `yaml:"record_type"`

	// Device optionally names the input device. Empty selects the system default.
	Device string `yaml:"device"`
}

// RenderConfig configures the visualizer window and frame loop.
type RenderConfig struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`

	// FPS is the target frame rate of the render loop.
	FPS int `yaml:"fps"`

	// Detail is the icosphere subdivision level.
	Detail int `yaml:"detail"`

	// Headless disables the window. Frames are still rendered and streamed
	// over the visual feed.
	Headless bool `yaml:"headless"`
}

// RecognitionConfig points at the remote recognition service.
type RecognitionConfig struct {
	// URL is the recognition endpoint that accepts the multipart upload.
	URL string `yaml:"url"`

	// Timeout bounds a single recognition request.
	Timeout time.Duration `yaml:"timeout"`

	// MaxFailures is the number of consecutive transport failures that open
	// the circuit breaker.
	MaxFailures int `yaml:"max_failures"`

	// ResetTimeout is how long the breaker stays open before probing again.
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// ShareConfig points at the remote SMS-sharing service.
type ShareConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`

	// RatePerMinute limits outgoing share requests. Zero disables the limit.
	RatePerMinute int `yaml:"rate_per_minute"`
}

// SpotifyConfig holds client credentials for the Spotify Web API. Without
// them, matches are shown exactly as the recognition service reports them.
type SpotifyConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

// Enabled reports whether catalogue lookups are configured.
func (s SpotifyConfig) Enabled() bool {
	return s.ClientID != "" && s.ClientSecret != ""
}

// TelemetryConfig configures metrics and tracing.
type TelemetryConfig struct {
	// ServiceName is reported as the service.name resource attribute.
	ServiceName string `yaml:"service_name"`
}

// Default values applied by [ApplyDefaults].
const (
	DefaultListenAddr    = ":8080"
	DefaultSampleRate    = 44100
	DefaultWidth         = 800
	DefaultHeight        = 600
	DefaultFPS           = 60
	DefaultDetail        = 32
	DefaultRecognizeTO   = 30 * time.Second
	DefaultMaxFailures   = 5
	DefaultResetTimeout  = 30 * time.Second
	DefaultShareTimeout  = 10 * time.Second
	DefaultServiceName   = "beatify"
	DefaultRatePerMinute = 6
	defaultRecordTypeTag = recognize.RecordAudio
)

// ApplyDefaults fills every zero-valued field of cfg with its default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Capture.SampleRate == 0 {
		cfg.Capture.SampleRate = DefaultSampleRate
	}
	if cfg.Capture.RecordType == "" {
		cfg.Capture.RecordType = defaultRecordTypeTag
	}
	if cfg.Render.Width == 0 {
		cfg.Render.Width = DefaultWidth
	}
	if cfg.Render.Height == 0 {
		cfg.Render.Height = DefaultHeight
	}
	if cfg.Render.FPS == 0 {
		cfg.Render.FPS = DefaultFPS
	}
	if cfg.Render.Detail == 0 {
		cfg.Render.Detail = DefaultDetail
	}
	if cfg.Recognition.Timeout == 0 {
		cfg.Recognition.Timeout = DefaultRecognizeTO
	}
	if cfg.Recognition.MaxFailures == 0 {
		cfg.Recognition.MaxFailures = DefaultMaxFailures
	}
	if cfg.Recognition.ResetTimeout == 0 {
		cfg.Recognition.ResetTimeout = DefaultResetTimeout
	}
	if cfg.Share.Timeout == 0 {
		cfg.Share.Timeout = DefaultShareTimeout
	}
	if cfg.Share.RatePerMinute == 0 {
		cfg.Share.RatePerMinute = DefaultRatePerMinute
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
}
