// Package recorder encodes captured PCM into a WebM file with a single Opus
// track and hands the file out in fragments as it grows.
//
// The concatenation of every fragment returned by [Recorder.Cut] followed by
// the bytes returned from [Recorder.Close] is the complete WebM file.
package recorder

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/at-wat/ebml-go/webm"
	"layeh.com/gopus"

	"github.com/MrWong99/beatify/pkg/audio"
)

const (
	opusSampleRate = 48000
	opusChannels   = 1

	// opusFrameSize is 20 ms at 48 kHz.
	opusFrameSize = 960
	opusFrameMs   = 20

	// maxOpusPacket bounds a single encoded packet.
	maxOpusPacket = 4000

	defaultBitrate = 64000

	// MIMEType is the content type of the produced file.
	MIMEType = "audio/webm"

	closeTimeout = 2 * time.Second
)

// ErrClosed is returned by [Recorder.Write] after [Recorder.Close].
var ErrClosed = errors.New("recorder: closed")

// Option is a functional option for configuring a [Recorder].
type Option func(*Recorder)

// WithBitrate sets the Opus target bitrate in bits per second. Defaults to 64 kbit/s.
func WithBitrate(bps int) Option {
	return func(r *Recorder) {
		if bps > 0 {
			r.bitrate = bps
		}
	}
}

// Recorder is safe for concurrent use; Write and Cut are typically called
// from different goroutines.
type Recorder struct {
	bitrate int

	mu      sync.Mutex
	conv    audio.MonoConverter
	enc     *gopus.Encoder
	track   webm.BlockWriteCloser
	sink    *sink
	pending []int16
	decoded []int16
	ts      int64
	closed  bool
}

// New creates a Recorder and writes the WebM header into its first fragment.
func New(opts ...Option) (*Recorder, error) {
	r := &Recorder{
		bitrate: defaultBitrate,
		conv:    audio.MonoConverter{Rate: opusSampleRate},
		sink:    newSink(),
		pending: make([]int16, 0, opusFrameSize*2),
	}
	for _, o := range opts {
		o(r)
	}

	enc, err := gopus.NewEncoder(opusSampleRate, opusChannels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("recorder: create opus encoder: %w", err)
	}
	enc.SetBitrate(r.bitrate)
	r.enc = enc

	writers, err := webm.NewSimpleBlockWriter(r.sink, []webm.TrackEntry{{
		Name:            "Audio",
		TrackNumber:     1,
		TrackUID:        uint64(time.Now().UnixNano()),
		CodecID:         "A_OPUS",
		TrackType:       2,
		DefaultDuration: opusFrameMs * uint64(time.Millisecond),
		Audio: &webm.Audio{
			SamplingFrequency: opusSampleRate,
			Channels:          opusChannels,
		},
	}})
	if err != nil {
		return nil, fmt.Errorf("recorder: create webm writer: %w", err)
	}
	r.track = writers[0]
	return r, nil
}

// Write converts f to 48 kHz mono and encodes every complete 20 ms frame.
// Remaining samples are kept for the next call.
func (r *Recorder) Write(f audio.AudioFrame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}

	r.decoded = r.conv.Convert(r.decoded, f)
	r.pending = append(r.pending, r.decoded...)

	for len(r.pending) >= opusFrameSize {
		if err := r.encodeLocked(r.pending[:opusFrameSize]); err != nil {
			return err
		}
		r.pending = r.pending[:copy(r.pending, r.pending[opusFrameSize:])]
	}
	return nil
}

func (r *Recorder) encodeLocked(pcm []int16) error {
	packet, err := r.enc.Encode(pcm, opusFrameSize, maxOpusPacket)
	if err != nil {
		return fmt.Errorf("recorder: opus encode: %w", err)
	}
	if _, err := r.track.Write(true, r.ts, packet); err != nil {
		return fmt.Errorf("recorder: write block: %w", err)
	}
	r.ts += opusFrameMs
	return nil
}

// Cut returns the bytes written since the previous Cut, or nil when nothing
// new was written.
func (r *Recorder) Cut() []byte {
	return r.sink.take()
}

// Duration reports how much audio has been encoded so far.
func (r *Recorder) Duration() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return time.Duration(r.ts) * time.Millisecond
}

// Close encodes any partial frame (padded with silence), finishes the WebM
// stream, and returns the bytes not yet handed out by Cut. Later calls return
// nil, nil.
func (r *Recorder) Close() ([]byte, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, nil
	}
	r.closed = true

	var errs []error
	if n := len(r.pending); n > 0 {
		frame := make([]int16, opusFrameSize)
		copy(frame, r.pending)
		if err := r.encodeLocked(frame); err != nil {
			errs = append(errs, err)
		}
		r.pending = r.pending[:0]
	}
	if err := r.track.Close(); err != nil {
		errs = append(errs, fmt.Errorf("recorder: close track: %w", err))
	}
	r.mu.Unlock()

	// The WebM writer finishes on its own goroutine and closes the sink last.
	select {
	case <-r.sink.done:
	case <-time.After(closeTimeout):
		slog.Warn("recorder: webm writer did not finish in time")
	}
	return r.sink.take(), errors.Join(errs...)
}

// sink collects the WebM writer's output between cuts.
type sink struct {
	mu   sync.Mutex
	buf  bytes.Buffer
	done chan struct{}
	once sync.Once
}

func newSink() *sink {
	return &sink{done: make(chan struct{})}
}

func (s *sink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *sink) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

func (s *sink) take() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buf.Len() == 0 {
		return nil
	}
	out := bytes.Clone(s.buf.Bytes())
	s.buf.Reset()
	return out
}
