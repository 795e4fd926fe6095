// Package capture owns the microphone session lifecycle.
//
// A [Controller] moves through Idle → Recording → Finalizing → Idle. While
// recording it pumps PCM from the microphone into a frequency analyzer and an
// encoder, and cuts the encoder output into fragments on a fixed cadence.
// Stopping concatenates the fragments into one payload and hands it to the
// recognizer without blocking the caller.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/beatify/internal/analyzer"
	"github.com/MrWong99/beatify/internal/observe"
	"github.com/MrWong99/beatify/pkg/audio"
	"github.com/MrWong99/beatify/pkg/recognize"
)

// ChunkInterval is the fixed cadence at which encoded audio is cut into
// fragments while recording.
const ChunkInterval = 200 * time.Millisecond

// DefaultFormat is the microphone format requested when none is configured.
var DefaultFormat = audio.Format{SampleRate: 44100, Channels: 1}

// State is the controller's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateRecording
	StateFinalizing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateFinalizing:
		return "finalizing"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText renders the state name in JSON responses.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Encoder turns PCM frames into the uploaded container format.
// recorder.Recorder implements it.
type Encoder interface {
	// Write encodes a captured frame.
	Write(f audio.AudioFrame) error

	// Cut returns the bytes produced since the previous Cut, or nil.
	Cut() []byte

	// Close flushes the encoder and returns the remaining bytes.
	Close() ([]byte, error)
}

// EncoderFactory creates a fresh [Encoder] for each session.
type EncoderFactory func() (Encoder, error)

// Recognizer identifies a recorded payload.
type Recognizer interface {
	Recognize(ctx context.Context, p recognize.Payload) (*recognize.Result, error)
}

// SourceSink receives the live spectrum source of the active session, and
// nil once the session stops.
type SourceSink interface {
	SetSource(src analyzer.Source)
}

// ResultFunc receives the outcome of a session: a recognition result, a
// *recognize.RecognitionError, or a *DeviceError when the microphone failed
// mid-recording.
type ResultFunc func(res *recognize.Result, err error)

// Config holds the dependencies of a [Controller].
type Config struct {
	// Device opens the microphone. Required.
	Device audio.Device

	// NewEncoder creates the per-session encoder. Required.
	NewEncoder EncoderFactory

	// Recognizer receives the finalized payload. Required.
	Recognizer Recognizer

	// Format is requested from the device. Default: 44.1 kHz mono.
	Format audio.Format

	// RecordType is the initial record-type tag. Default: audio.
	RecordType recognize.RecordType

	// Sink is optional; the render engine in practice.
	Sink SourceSink

	// OnResult is optional and called from the recognition goroutine.
	OnResult ResultFunc

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// chunkInterval replaces [ChunkInterval] in tests.
	chunkInterval time.Duration
}

// SessionInfo is a snapshot of the controller's session.
type SessionInfo struct {
	State      State                `json:"state"`
	RecordType recognize.RecordType `json:"record_type"`

	// The fields below are zero while idle.
	StartedAt time.Time     `json:"started_at,omitzero"`
	Elapsed   time.Duration `json:"elapsed,omitempty"`
	Fragments int           `json:"fragments,omitempty"`
	Bytes     int           `json:"bytes,omitempty"`
}

// Controller manages at most one capture session at a time.
// All exported methods are safe for concurrent use.
type Controller struct {
	device     audio.Device
	newEncoder EncoderFactory
	recognizer Recognizer
	format     audio.Format
	interval   time.Duration
	sink       SourceSink
	onResult   ResultFunc
	metrics    *observe.Metrics

	// base bounds in-flight recognitions; Close cancels it.
	base       context.Context
	baseCancel context.CancelFunc
	inflight   sync.WaitGroup

	mu         sync.Mutex
	state      State
	closed     bool
	recordType recognize.RecordType
	sess       *session
	lastResult *recognize.Result
	lastErr    error
}

// New validates cfg and returns an idle Controller.
func New(cfg Config) (*Controller, error) {
	var errs []error
	if cfg.Device == nil {
		errs = append(errs, errors.New("capture: device is required"))
	}
	if cfg.NewEncoder == nil {
		errs = append(errs, errors.New("capture: encoder factory is required"))
	}
	if cfg.Recognizer == nil {
		errs = append(errs, errors.New("capture: recognizer is required"))
	}
	if cfg.RecordType != "" && !cfg.RecordType.IsValid() {
		errs = append(errs, fmt.Errorf("capture: invalid record type %q", cfg.RecordType))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	if cfg.Format.SampleRate <= 0 || cfg.Format.Channels <= 0 {
		cfg.Format = DefaultFormat
	}
	if cfg.chunkInterval <= 0 {
		cfg.chunkInterval = ChunkInterval
	}
	if cfg.RecordType == "" {
		cfg.RecordType = recognize.RecordAudio
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}

	base, cancel := context.WithCancel(context.Background())
	return &Controller{
		device:     cfg.Device,
		newEncoder: cfg.NewEncoder,
		recognizer: cfg.Recognizer,
		format:     cfg.Format,
		interval:   cfg.chunkInterval,
		sink:       cfg.Sink,
		onResult:   cfg.OnResult,
		metrics:    cfg.Metrics,
		base:       base,
		baseCancel: cancel,
		recordType: cfg.RecordType,
	}, nil
}

// Start opens the microphone and begins recording. It returns a
// *[DeviceError] when the device cannot be opened and [ErrSessionActive]
// unless the controller is idle.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.state != StateIdle {
		return fmt.Errorf("%w (state=%s)", ErrSessionActive, c.state)
	}

	stream, err := c.device.Open(ctx, c.format)
	if err != nil {
		c.metrics.DeviceErrors.Add(ctx, 1)
		return &DeviceError{Err: err}
	}
	enc, err := c.newEncoder()
	if err != nil {
		_ = stream.Close()
		return fmt.Errorf("capture: create encoder: %w", err)
	}

	cadenceCtx, cancel := context.WithCancel(context.Background())
	s := &session{
		stream:     stream,
		analyzer:   analyzer.New(),
		enc:        enc,
		recordType: c.recordType,
		startedAt:  time.Now(),
		cancel:     cancel,
	}
	s.wg.Add(2)
	go c.pump(s)
	go c.cadence(cadenceCtx, s)

	c.sess = s
	c.state = StateRecording
	c.lastResult = nil
	c.lastErr = nil
	c.metrics.ActiveCaptures.Add(ctx, 1)
	if c.sink != nil {
		c.sink.SetSource(s.analyzer)
	}

	slog.Info("capture started",
		"record_type", s.recordType,
		"format", stream.Format().String(),
		"chunk_interval", c.interval,
	)
	return nil
}

// Stop ends the active recording. It is a no-op unless the controller is
// recording. The payload is handed to the recognizer asynchronously; the
// controller stays in [StateFinalizing] until the recognizer returns.
//
// A non-nil error reports a failure while flushing the encoder or closing
// the stream. The recognizer is invoked regardless.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateRecording {
		c.mu.Unlock()
		return nil
	}
	s := c.sess
	c.sess = nil
	c.state = StateFinalizing
	c.inflight.Add(1)
	c.mu.Unlock()

	payload, err := c.finalize(ctx, s)

	rctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stopAfter := context.AfterFunc(c.base, cancel)
	go func() {
		defer c.inflight.Done()
		defer stopAfter()
		defer cancel()
		c.recognize(rctx, payload)
	}()
	return err
}

// finalize stops the session's activities and assembles the payload.
func (c *Controller) finalize(ctx context.Context, s *session) (recognize.Payload, error) {
	defer s.release()
	if c.sink != nil {
		c.sink.SetSource(nil)
	}

	s.cancel()
	closeErr := s.stream.Close()
	s.wg.Wait()

	tail, encErr := s.enc.Close()
	s.append(tail)

	audioBytes := s.payload()
	c.metrics.ActiveCaptures.Add(ctx, -1)
	c.metrics.PayloadBytes.Record(ctx, int64(len(audioBytes)))

	slog.Info("capture stopped",
		"record_type", s.recordType,
		"duration", time.Since(s.startedAt).Round(time.Millisecond),
		"fragments", s.fragmentCount(),
		"bytes", len(audioBytes),
	)

	var errs []error
	if closeErr != nil {
		errs = append(errs, fmt.Errorf("capture: close stream: %w", closeErr))
	}
	if encErr != nil {
		errs = append(errs, fmt.Errorf("capture: flush encoder: %w", encErr))
	}
	return recognize.Payload{Audio: audioBytes, RecordType: s.recordType}, errors.Join(errs...)
}

// recognize runs the recognizer and publishes the outcome.
func (c *Controller) recognize(ctx context.Context, p recognize.Payload) {
	ctx, span := observe.StartSpan(ctx, "capture.recognize")
	defer span.End()

	start := time.Now()
	res, err := c.recognizer.Recognize(ctx, p)
	status := "ok"
	switch {
	case err != nil:
		res = nil
		status = "error"
		var re *recognize.RecognitionError
		if !errors.As(err, &re) {
			err = &recognize.RecognitionError{Message: recognize.DefaultFailureMessage, Err: err}
		}
		span.RecordError(err)
		observe.Logger(ctx).Warn("capture: recognition failed", "err", err)
	case res == nil:
		// A recognizer without an answer found nothing.
		res = &recognize.Result{}
		observe.Logger(ctx).Info("capture: recognition finished without result")
	default:
		observe.Logger(ctx).Info("capture: recognition finished", "tracks", len(res.Tracks))
	}
	c.metrics.RecordRecognition(ctx, time.Since(start), status)

	c.mu.Lock()
	c.lastResult = res
	c.lastErr = err
	c.state = StateIdle
	c.mu.Unlock()

	if c.onResult != nil {
		c.onResult(res, err)
	}
}

// pump moves frames from the stream into the analyzer and the encoder.
func (c *Controller) pump(s *session) {
	defer s.wg.Done()

	var samples []int16
	for f := range s.stream.Frames() {
		samples = audio.ToMono(samples, f.Data, f.Channels)
		s.analyzer.Write(samples)

		if err := s.enc.Write(f); err != nil && !s.encFailed {
			s.encFailed = true
			slog.Warn("capture: encoder write failed", "err", err)
		}
	}

	if err := s.stream.Err(); err != nil {
		go c.fail(s, err)
	}
}

// cadence cuts a fragment every interval until ctx is cancelled.
func (c *Controller) cadence(ctx context.Context, s *session) {
	defer s.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.append(s.enc.Cut()); n > 0 {
				c.metrics.Fragments.Add(ctx, 1)
			}
		}
	}
}

// fail ends a session whose stream broke while recording. No recognition
// runs; the device error is published instead.
func (c *Controller) fail(s *session, cause error) {
	c.mu.Lock()
	if c.sess != s {
		c.mu.Unlock()
		return
	}
	c.sess = nil
	err := &DeviceError{Err: cause}
	c.state = StateIdle
	c.lastResult = nil
	c.lastErr = err
	c.mu.Unlock()

	defer s.release()
	if c.sink != nil {
		c.sink.SetSource(nil)
	}
	s.cancel()
	s.wg.Wait()
	_, _ = s.enc.Close()

	c.metrics.ActiveCaptures.Add(context.Background(), -1)
	c.metrics.DeviceErrors.Add(context.Background(), 1)
	slog.Error("capture: microphone stream failed", "err", cause)

	if c.onResult != nil {
		c.onResult(nil, err)
	}
}

// Wait blocks until every in-flight recognition has finished.
func (c *Controller) Wait() {
	c.inflight.Wait()
}

// Close aborts an active recording without recognizing it, cancels
// in-flight recognitions, and waits for them. Start fails afterwards.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	s := c.sess
	c.sess = nil
	if s != nil {
		c.state = StateIdle
	}
	c.mu.Unlock()

	var errs []error
	if s != nil {
		if c.sink != nil {
			c.sink.SetSource(nil)
		}
		s.cancel()
		if err := s.stream.Close(); err != nil {
			errs = append(errs, fmt.Errorf("capture: close stream: %w", err))
		}
		s.wg.Wait()
		if _, err := s.enc.Close(); err != nil {
			errs = append(errs, fmt.Errorf("capture: close encoder: %w", err))
		}
		s.release()
		c.metrics.ActiveCaptures.Add(context.Background(), -1)
		slog.Info("capture aborted on close", "record_type", s.recordType)
	}

	c.baseCancel()
	c.inflight.Wait()
	return errors.Join(errs...)
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns a snapshot of the active session, or only the state and
// record type while idle or finalizing.
func (c *Controller) Session() SessionInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	info := SessionInfo{State: c.state, RecordType: c.recordType}
	if s := c.sess; s != nil {
		info.RecordType = s.recordType
		info.StartedAt = s.startedAt
		info.Elapsed = time.Since(s.startedAt)
		info.Fragments, info.Bytes = s.stats()
	}
	return info
}

// RecordType returns the record-type tag used for the next session.
func (c *Controller) RecordType() recognize.RecordType {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recordType
}

// SetRecordType selects the record-type tag for the next session. An
// active session keeps the tag it started with.
func (c *Controller) SetRecordType(rt recognize.RecordType) error {
	if !rt.IsValid() {
		return fmt.Errorf("capture: invalid record type %q", rt)
	}
	c.mu.Lock()
	c.recordType = rt
	c.mu.Unlock()
	slog.Info("capture: record type changed", "record_type", rt)
	return nil
}

// ToggleRecordType flips between audio and humming and returns the new tag.
func (c *Controller) ToggleRecordType() recognize.RecordType {
	c.mu.Lock()
	c.recordType = c.recordType.Toggle()
	rt := c.recordType
	c.mu.Unlock()
	slog.Info("capture: record type changed", "record_type", rt)
	return rt
}

// LastResult returns the result of the most recent session, or nil.
func (c *Controller) LastResult() *recognize.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastResult
}

// LastError returns the error of the most recent session, or nil.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}
