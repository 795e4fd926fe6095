package config

import "github.com/MrWong99/beatify/pkg/recognize"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	RecordTypeChanged bool
	NewRecordType     recognize.RecordType

	// RestartRequired is set when a field changed that only takes effect
	// after a restart (listen address, endpoints, render size).
	RestartRequired bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Capture.RecordType != new.Capture.RecordType {
		d.RecordTypeChanged = true
		d.NewRecordType = new.Capture.RecordType
	}

	if old.Server.ListenAddr != new.Server.ListenAddr ||
		old.Recognition != new.Recognition ||
		old.Share != new.Share ||
		old.Spotify != new.Spotify ||
		old.Render != new.Render ||
		old.Capture.SampleRate != new.Capture.SampleRate ||
		old.Capture.Device != new.Capture.Device {
		d.RestartRequired = true
	}

	return d
}
