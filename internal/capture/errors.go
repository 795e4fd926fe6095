package capture

import (
	"errors"

	"github.com/MrWong99/beatify/pkg/audio"
)

// ErrSessionActive is returned by [Controller.Start] when a session is
// recording or still finalizing.
var ErrSessionActive = errors.New("capture: a session is already active")

// ErrClosed is returned by [Controller.Start] after [Controller.Close].
var ErrClosed = errors.New("capture: controller closed")

// DeviceError reports that the microphone could not be opened or failed
// while recording. It wraps [audio.ErrDeviceUnavailable] or
// [audio.ErrPermissionDenied] when the cause is known.
type DeviceError struct {
	Err error
}

func (e *DeviceError) Error() string {
	if e.PermissionDenied() {
		return "capture: microphone access denied: " + e.Err.Error()
	}
	return "capture: microphone unavailable: " + e.Err.Error()
}

func (e *DeviceError) Unwrap() error { return e.Err }

// PermissionDenied reports whether the operating system refused access.
func (e *DeviceError) PermissionDenied() bool {
	return errors.Is(e.Err, audio.ErrPermissionDenied)
}
