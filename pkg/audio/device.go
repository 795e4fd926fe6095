// Package audio defines the capture abstractions and PCM helpers shared by
// the microphone adapter, the recorder, and the capture controller.
//
// The two primary abstractions are:
//
//   - [Device] opens an input [Stream] for a requested [Format].
//   - [Stream] delivers [AudioFrame] values until it is closed.
//
// Implementations live in adapter packages (audio/portaudio for the system
// microphone, audio/mock for tests).
package audio

import (
	"context"
	"errors"
)

var (
	// ErrDeviceUnavailable is returned by [Device.Open] when no usable input
	// device exists or the device is busy.
	ErrDeviceUnavailable = errors.New("audio: input device unavailable")

	// ErrPermissionDenied is returned by [Device.Open] when the operating
	// system refused access to the microphone.
	ErrPermissionDenied = errors.New("audio: microphone permission denied")
)

// Device opens capture streams on an input device.
//
// Implementations must be safe for concurrent use.
type Device interface {
	// Open starts capturing in the requested format. Errors returned by Open
	// wrap [ErrDeviceUnavailable] or [ErrPermissionDenied] where the cause is
	// known. No retry is attempted.
	Open(ctx context.Context, f Format) (Stream, error)
}

// Stream is a live capture stream.
type Stream interface {
	// Format reports the format of the delivered frames.
	Format() Format

	// Frames returns the channel of captured frames. It is closed when the
	// stream stops, either through [Stream.Close] or a device error.
	Frames() <-chan AudioFrame

	// Err returns the error that ended the stream, or nil after a regular
	// Close. It is only meaningful once Frames is closed.
	Err() error

	// Close stops capture and releases the device. It is safe to call more
	// than once; later calls return nil.
	Close() error
}
