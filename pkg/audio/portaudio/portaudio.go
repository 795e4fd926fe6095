// Package portaudio captures microphone audio through the PortAudio library.
//
// Each opened stream holds its own PortAudio initialisation; PortAudio
// reference-counts Initialize/Terminate pairs, so streams may be opened and
// closed independently.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/beatify/pkg/audio"
)

const (
	defaultFramesPerBuffer = 1024
	frameBuffer            = 64
)

// Compile-time assertion that Device implements audio.Device.
var _ audio.Device = (*Device)(nil)

// Option is a functional option for configuring a [Device].
type Option func(*Device)

// WithDeviceName selects the input device whose name contains name
// (case-insensitive). Empty selects the system default input.
func WithDeviceName(name string) Option {
	return func(d *Device) {
		d.name = name
	}
}

// WithFramesPerBuffer sets how many samples are read per device callback.
// Defaults to 1024.
func WithFramesPerBuffer(n int) Option {
	return func(d *Device) {
		if n > 0 {
			d.framesPerBuffer = n
		}
	}
}

// Device is the system microphone.
type Device struct {
	name            string
	framesPerBuffer int
}

// New returns a Device. No hardware is touched until [Device.Open].
func New(opts ...Option) *Device {
	d := &Device{framesPerBuffer: defaultFramesPerBuffer}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Open implements [audio.Device]. Only mono and stereo capture are supported.
func (d *Device) Open(ctx context.Context, f audio.Format) (audio.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.Channels != 1 && f.Channels != 2 {
		return nil, fmt.Errorf("portaudio: unsupported channel count %d", f.Channels)
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, classify("initialize", err)
	}

	buf := make([]int16, d.framesPerBuffer*f.Channels)
	pa, err := d.openStream(f, buf)
	if err != nil {
		portaudio.Terminate()
		return nil, err
	}
	if err := pa.Start(); err != nil {
		pa.Close()
		portaudio.Terminate()
		return nil, classify("start stream", err)
	}

	s := &stream{
		pa:     pa,
		buf:    buf,
		format: f,
		frames: make(chan audio.AudioFrame, frameBuffer),
		done:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.readLoop()

	slog.Debug("portaudio: capture started", "format", f.String(), "device", d.name)
	return s, nil
}

func (d *Device) openStream(f audio.Format, buf []int16) (*portaudio.Stream, error) {
	if d.name == "" {
		pa, err := portaudio.OpenDefaultStream(f.Channels, 0, float64(f.SampleRate), d.framesPerBuffer, buf)
		if err != nil {
			return nil, classify("open default stream", err)
		}
		return pa, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, classify("list devices", err)
	}
	var in *portaudio.DeviceInfo
	for _, info := range devices {
		if info.MaxInputChannels > 0 && strings.Contains(strings.ToLower(info.Name), strings.ToLower(d.name)) {
			in = info
			break
		}
	}
	if in == nil {
		return nil, fmt.Errorf("portaudio: no input device matching %q: %w", d.name, audio.ErrDeviceUnavailable)
	}

	params := portaudio.LowLatencyParameters(in, nil)
	params.Input.Channels = f.Channels
	params.SampleRate = float64(f.SampleRate)
	params.FramesPerBuffer = d.framesPerBuffer
	pa, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return nil, classify("open stream", err)
	}
	return pa, nil
}

// classify wraps a PortAudio error with the matching audio sentinel.
func classify(op string, err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "permission") || strings.Contains(msg, "denied") || strings.Contains(msg, "not authorized") {
		return fmt.Errorf("portaudio: %s: %w: %w", op, audio.ErrPermissionDenied, err)
	}
	return fmt.Errorf("portaudio: %s: %w: %w", op, audio.ErrDeviceUnavailable, err)
}

type stream struct {
	pa     *portaudio.Stream
	buf    []int16
	format audio.Format
	frames chan audio.AudioFrame

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	mu  sync.Mutex
	err error
}

func (s *stream) Format() audio.Format             { return s.format }
func (s *stream) Frames() <-chan audio.AudioFrame { return s.frames }

func (s *stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *stream) readLoop() {
	defer s.wg.Done()
	defer close(s.frames)

	start := time.Now()
	for {
		select {
		case <-s.done:
			return
		default:
		}

		if err := s.pa.Read(); err != nil {
			if errors.Is(err, portaudio.InputOverflowed) {
				continue
			}
			select {
			case <-s.done:
			default:
				s.mu.Lock()
				s.err = classify("read", err)
				s.mu.Unlock()
				slog.Warn("portaudio: capture stopped", "err", err)
			}
			return
		}

		frame := audio.AudioFrame{
			Data:       audio.Int16ToBytes(s.buf),
			SampleRate: s.format.SampleRate,
			Channels:   s.format.Channels,
			Timestamp:  time.Since(start),
		}
		select {
		case s.frames <- frame:
		case <-s.done:
			return
		default:
			slog.Debug("portaudio: consumer too slow, dropping frame")
		}
	}
}

// Close waits for the in-flight read before stopping the device so that
// Read never races Stop.
func (s *stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
		err = errors.Join(s.pa.Stop(), s.pa.Close(), portaudio.Terminate())
		if err != nil {
			err = fmt.Errorf("portaudio: close: %w", err)
		}
	})
	return err
}
