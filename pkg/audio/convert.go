package audio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns a human-readable form such as "44100Hz mono".
func (f Format) String() string {
	ch := "mono"
	switch {
	case f.Channels == 2:
		ch = "stereo"
	case f.Channels > 2:
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// ToMono decodes interleaved little-endian 16-bit PCM into dst, averaging
// the channels of every frame. dst is grown when too small and the filled
// slice is returned. A trailing partial frame is ignored.
func ToMono(dst []int16, pcm []byte, channels int) []int16 {
	channels = max(channels, 1)
	n := len(pcm) / (2 * channels)
	if cap(dst) < n {
		dst = make([]int16, n)
	}
	dst = dst[:n]
	if channels == 1 {
		for i := range n {
			dst[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		}
		return dst
	}
	for i := range n {
		var sum int32
		for c := range channels {
			sum += int32(int16(binary.LittleEndian.Uint16(pcm[(i*channels+c)*2:])))
		}
		dst[i] = int16(sum / int32(channels))
	}
	return dst
}

// Int16ToBytes encodes samples as little-endian 16-bit PCM.
func Int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// Resampler converts a continuous mono stream from one sample rate to
// another by linear interpolation. The read position and the last input
// sample carry over between calls, so consecutive blocks join without
// discontinuities. The zero value passes samples through until From and
// To are set.
type Resampler struct {
	From, To int

	// pos is the read position of the next output sample, where 0 is the
	// last sample of the previous block and 1 is the first of the next.
	pos    float64
	prev   int16
	primed bool
}

// Reset forgets the stream history.
func (r *Resampler) Reset() {
	r.pos, r.prev, r.primed = 0, 0, false
}

// Process appends the resampled form of src to dst[:0] and returns it.
func (r *Resampler) Process(dst, src []int16) []int16 {
	dst = dst[:0]
	if r.From <= 0 || r.To <= 0 || r.From == r.To {
		return append(dst, src...)
	}
	n := len(src)
	if n == 0 {
		return dst
	}
	if !r.primed {
		r.prev, r.pos, r.primed = src[0], 1, true
	}

	sample := func(i int) float64 {
		if i < 0 {
			return float64(r.prev)
		}
		return float64(src[i])
	}
	step := float64(r.From) / float64(r.To)
	for {
		right := int(r.pos)
		if right >= n {
			break
		}
		frac := r.pos - float64(right)
		v := sample(right-1)*(1-frac) + sample(right)*frac
		dst = append(dst, int16(math.Round(v)))
		r.pos += step
	}
	r.prev = src[n-1]
	r.pos -= float64(n)
	return dst
}

// MonoConverter turns captured frames into mono samples at Rate, e.g.
// microphone PCM into the 48 kHz mono the Opus encoder expects. It keeps
// resampler state between frames; use one per stream from one goroutine.
type MonoConverter struct {
	Rate int

	rs            Resampler
	mono          []int16
	warnedFormat  sync.Once
	warnedCorrupt sync.Once
}

// Convert appends the converted samples of f to dst[:0] and returns them.
// Frames whose byte count does not divide into whole sample frames are
// dropped with a one-time warning.
func (c *MonoConverter) Convert(dst []int16, f AudioFrame) []int16 {
	channels := max(f.Channels, 1)
	if len(f.Data)%(2*channels) != 0 {
		c.warnedCorrupt.Do(func() {
			slog.Warn("audio: misaligned PCM frame dropped",
				"bytes", len(f.Data),
				"format", Format{SampleRate: f.SampleRate, Channels: channels},
			)
		})
		return dst[:0]
	}

	if c.rs.From != f.SampleRate || c.rs.To != c.Rate {
		if c.rs.From != 0 {
			c.rs.Reset()
		}
		c.rs.From, c.rs.To = f.SampleRate, c.Rate
	}
	if f.SampleRate != c.Rate || channels != 1 {
		c.warnedFormat.Do(func() {
			slog.Debug("audio: converting capture format",
				"from", Format{SampleRate: f.SampleRate, Channels: channels},
				"to", Format{SampleRate: c.Rate, Channels: 1},
			)
		})
	}

	c.mono = ToMono(c.mono, f.Data, channels)
	return c.rs.Process(dst, c.mono)
}
