package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"

	"gopkg.in/yaml.v3"
)

// Environment variables that override values from the YAML file. They are
// usually supplied through a .env file loaded before [Load].
const (
	EnvRecognitionURL = "BEATIFY_RECOGNITION_URL"
	EnvShareURL       = "BEATIFY_SHARE_URL"
	EnvSpotifyID      = "SPOTIFY_ID"
	EnvSpotifySecret  = "SPOTIFY_SECRET"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies environment overrides
// and defaults, and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyEnv(cfg, os.LookupEnv)
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides endpoint URLs and Spotify credentials from the environment. lookup is usually
// [os.LookupEnv].
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvRecognitionURL); ok && v != "" {
		cfg.Recognition.URL = v
	}
	if v, ok := lookup(EnvShareURL); ok && v != "" {
		cfg.Share.URL = v
	}
	if v, ok := lookup(EnvSpotifyID); ok && v != "" {
		cfg.Spotify.ClientID = v
	}
	if v, ok := lookup(EnvSpotifySecret); ok && v != "" {
		cfg.Spotify.ClientSecret = v
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Capture.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("capture.sample_rate %d must be positive", cfg.Capture.SampleRate))
	}
	if cfg.Capture.RecordType != "" && !cfg.Capture.RecordType.IsValid() {
		errs = append(errs, fmt.Errorf("capture.record_type %q is invalid; valid values: audio, humming", cfg.Capture.RecordType))
	}

	if cfg.Render.Width < 0 || cfg.Render.Height < 0 {
		errs = append(errs, fmt.Errorf("render size %dx%d must be positive", cfg.Render.Width, cfg.Render.Height))
	}
	if cfg.Render.FPS < 0 || cfg.Render.FPS > 240 {
		errs = append(errs, fmt.Errorf("render.fps %d is out of range [1, 240]", cfg.Render.FPS))
	}
	if cfg.Render.Detail < 0 || cfg.Render.Detail > 64 {
		errs = append(errs, fmt.Errorf("render.detail %d is out of range [0, 64]", cfg.Render.Detail))
	}

	if cfg.Recognition.URL == "" {
		errs = append(errs, fmt.Errorf("recognition.url is required (or set %s)", EnvRecognitionURL))
	} else if err := validateURL(cfg.Recognition.URL); err != nil {
		errs = append(errs, fmt.Errorf("recognition.url: %w", err))
	}
	if cfg.Share.URL != "" {
		if err := validateURL(cfg.Share.URL); err != nil {
			errs = append(errs, fmt.Errorf("share.url: %w", err))
		}
	}
	if cfg.Share.RatePerMinute < 0 {
		errs = append(errs, fmt.Errorf("share.rate_per_minute %d must not be negative", cfg.Share.RatePerMinute))
	}
	if (cfg.Spotify.ClientID == "") != (cfg.Spotify.ClientSecret == "") {
		errs = append(errs, fmt.Errorf("spotify.client_id and spotify.client_secret must be set together (or set %s and %s)", EnvSpotifyID, EnvSpotifySecret))
	}

	return errors.Join(errs...)
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme %q is not http or https", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("host is empty")
	}
	return nil
}
