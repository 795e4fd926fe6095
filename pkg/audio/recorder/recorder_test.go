package recorder_test

import (
	"bytes"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/MrWong99/beatify/pkg/audio"
	"github.com/MrWong99/beatify/pkg/audio/recorder"
)

// ebmlMagic starts every Matroska/WebM file.
var ebmlMagic = []byte{0x1A, 0x45, 0xDF, 0xA3}

// sineFrame returns n samples of a 440 Hz tone at rate, mono.
func sineFrame(n, rate int, offset int) audio.AudioFrame {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(offset+i)/float64(rate)))
	}
	return audio.AudioFrame{Data: audio.Int16ToBytes(samples), SampleRate: rate, Channels: 1}
}

func TestRecorder_FragmentsConcatenateToFile(t *testing.T) {
	t.Parallel()
	r, err := recorder.New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var fragments [][]byte
	cut := func() {
		if b := r.Cut(); len(b) > 0 {
			fragments = append(fragments, b)
		}
	}

	// One second of 44.1 kHz microphone audio in 1024-sample reads, cut
	// roughly every 200 ms.
	offset := 0
	for i := range 43 {
		if err := r.Write(sineFrame(1024, 44100, offset)); err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
		offset += 1024
		if i%8 == 7 {
			cut()
		}
	}
	tail, err := r.Close()
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(tail) > 0 {
		fragments = append(fragments, tail)
	}

	if len(fragments) < 2 {
		t.Fatalf("fragments: got %d, want at least 2", len(fragments))
	}
	for i, f := range fragments {
		if len(f) == 0 {
			t.Errorf("fragment %d is empty", i)
		}
	}
	file := bytes.Join(fragments, nil)
	if !bytes.HasPrefix(file, ebmlMagic) {
		t.Errorf("file does not start with the EBML header: % x", file[:min(8, len(file))])
	}
	if !bytes.Contains(file, []byte("A_OPUS")) {
		t.Error("file should declare an Opus track")
	}
	if d := r.Duration(); d < 980*time.Millisecond || d > 1040*time.Millisecond {
		t.Errorf("Duration() = %s, want about 1s", d)
	}
}

func TestRecorder_CutWithoutNewData(t *testing.T) {
	t.Parallel()
	r, err := recorder.New(recorder.WithBitrate(32000))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close()

	// Drain the header, then make sure a second cut has nothing to hand out.
	time.Sleep(10 * time.Millisecond)
	_ = r.Cut()
	if b := r.Cut(); b != nil {
		t.Errorf("second Cut() = %d bytes, want nil", len(b))
	}
}

func TestRecorder_WriteAfterClose(t *testing.T) {
	t.Parallel()
	r, err := recorder.New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := r.Write(sineFrame(960, 48000, 0)); !errors.Is(err, recorder.ErrClosed) {
		t.Errorf("Write after Close: err = %v, want ErrClosed", err)
	}
	if b, err := r.Close(); b != nil || err != nil {
		t.Errorf("second Close() = (%d bytes, %v), want (nil, nil)", len(b), err)
	}
}
