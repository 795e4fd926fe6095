// Package mock provides in-memory implementations of [audio.Device] and
// [audio.Stream] for use in unit tests.
//
// All mocks are safe for concurrent use. They record method calls so that
// tests can assert on call counts and arguments, and they expose exported
// fields that the test can set to control return values.
//
// Typical usage:
//
//	stream := mock.NewStream(audio.Format{SampleRate: 44100, Channels: 1}, 16)
//	dev := &mock.Device{OpenResult: stream}
//	s, err := dev.Open(ctx, audio.Format{SampleRate: 44100, Channels: 1})
//	stream.Emit(audio.AudioFrame{Data: pcm, SampleRate: 44100, Channels: 1})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/beatify/pkg/audio"
)

// ─── Device ──────────────────────────────────────────────────────────────────

// Device is a mock implementation of [audio.Device].
type Device struct {
	mu sync.Mutex

	// OpenResult is returned by Open. When nil and OpenError is nil, Open
	// returns a fresh [Stream] in the requested format.
	OpenResult audio.Stream

	// OpenError is returned by Open.
	OpenError error

	// OpenCalls records the format argument of every Open call.
	OpenCalls []audio.Format

	// Opened holds the streams handed out by Open, in order.
	Opened []audio.Stream
}

// Open implements [audio.Device].
func (d *Device) Open(_ context.Context, f audio.Format) (audio.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenCalls = append(d.OpenCalls, f)
	if d.OpenError != nil {
		return nil, d.OpenError
	}
	s := d.OpenResult
	if s == nil {
		s = NewStream(f, 64)
	}
	d.Opened = append(d.Opened, s)
	return s, nil
}

// CallCountOpen returns how many times Open was called.
func (d *Device) CallCountOpen() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.OpenCalls)
}

// LastStream returns the most recently opened stream, or nil.
func (d *Device) LastStream() audio.Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.Opened) == 0 {
		return nil
	}
	return d.Opened[len(d.Opened)-1]
}

// ─── Stream ──────────────────────────────────────────────────────────────────

// Stream is a mock implementation of [audio.Stream]. Frames are injected
// with [Stream.Emit]; [Stream.End] simulates a device failure.
type Stream struct {
	format audio.Format
	frames chan audio.AudioFrame

	mu     sync.Mutex
	closed bool
	err    error

	// CloseError is returned by the first Close call.
	CloseError error

	callCountClose int
}

// NewStream returns a Stream delivering frames in format f with the given
// channel buffer size.
func NewStream(f audio.Format, buffer int) *Stream {
	return &Stream{format: f, frames: make(chan audio.AudioFrame, buffer)}
}

// Format implements [audio.Stream].
func (s *Stream) Format() audio.Format { return s.format }

// Frames implements [audio.Stream].
func (s *Stream) Frames() <-chan audio.AudioFrame { return s.frames }

// Err implements [audio.Stream].
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Emit delivers f to readers. It reports false once the stream is closed.
func (s *Stream) Emit(f audio.AudioFrame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.frames <- f
	return true
}

// End closes the stream with err as if the device had failed.
func (s *Stream) End(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.frames)
}

// Close implements [audio.Stream].
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callCountClose++
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.frames)
	return s.CloseError
}

// CallCountClose returns how many times Close was called.
func (s *Stream) CallCountClose() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callCountClose
}

// Closed reports whether the stream has ended.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
