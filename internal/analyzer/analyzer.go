// Package analyzer turns live PCM into the byte spectrum that drives the
// visualizer.
//
// The computation matches a browser AnalyserNode with fftSize 256: the most
// recent 256 samples are Blackman-windowed, transformed, normalised by the
// window length, smoothed over time, converted to decibels, and mapped from
// [MinDecibels, MaxDecibels] onto 0..255.
package analyzer

import (
	"errors"
	"math"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	// WindowSize is the number of time-domain samples per transform.
	WindowSize = 256

	// BinCount is the number of frequency bins reported per snapshot.
	BinCount = WindowSize / 2

	// SmoothingTimeConstant blends each new magnitude with the previous one.
	SmoothingTimeConstant = 0.8

	MinDecibels = -100.0
	MaxDecibels = -30.0
)

// ErrClosed is returned by [Analyzer.Poll] after [Analyzer.Close].
var ErrClosed = errors.New("analyzer: closed")

// Snapshot is one spectrum reading.
type Snapshot struct {
	Bins [BinCount]uint8

	// Average is the arithmetic mean of Bins.
	Average float64
}

// Source yields spectrum snapshots. *Analyzer implements it; the render
// engine and the capture controller only depend on this interface.
type Source interface {
	Poll() (Snapshot, error)
}

// Analyzer is safe for concurrent use: the capture goroutine calls
// [Analyzer.Write] while the render loop calls [Analyzer.Poll].
type Analyzer struct {
	mu     sync.Mutex
	closed bool

	// ring holds the latest WindowSize samples in [-1, 1]; head is the
	// index of the oldest one.
	ring [WindowSize]float64
	head int

	// Preallocated transform state.
	fft      *fourier.FFT
	window   [WindowSize]float64
	input    []float64
	coeffs   []complex128
	smoothed [BinCount]float64
	snap     Snapshot
}

// New returns an Analyzer whose window starts out silent.
func New() *Analyzer {
	a := &Analyzer{
		fft:    fourier.NewFFT(WindowSize),
		input:  make([]float64, WindowSize),
		coeffs: make([]complex128, WindowSize/2+1),
	}
	const (
		a0 = 0.42
		a1 = 0.5
		a2 = 0.08
	)
	for i := range a.window {
		x := 2 * math.Pi * float64(i) / WindowSize
		a.window[i] = a0 - a1*math.Cos(x) + a2*math.Cos(2*x)
	}
	return a
}

// Write appends 16-bit samples to the analysis window. Only the latest
// WindowSize samples are kept.
func (a *Analyzer) Write(samples []int16) {
	if len(samples) > WindowSize {
		samples = samples[len(samples)-WindowSize:]
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	for _, s := range samples {
		a.ring[a.head] = float64(s) / 32768
		a.head = (a.head + 1) % WindowSize
	}
}

// Poll computes a fresh snapshot from the current window. It never returns
// a cached reading and does not allocate.
func (a *Analyzer) Poll() (Snapshot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return Snapshot{}, ErrClosed
	}

	for i := range WindowSize {
		a.input[i] = a.ring[(a.head+i)%WindowSize] * a.window[i]
	}
	a.coeffs = a.fft.Coefficients(a.coeffs, a.input)

	const scale = 255 / (MaxDecibels - MinDecibels)
	sum := 0
	for k := range BinCount {
		mag := cmplxAbs(a.coeffs[k]) / WindowSize
		v := SmoothingTimeConstant*a.smoothed[k] + (1-SmoothingTimeConstant)*mag
		if math.IsNaN(v) || math.IsInf(v, 0) {
			v = 0
		}
		a.smoothed[k] = v

		b := 0.0
		if v > 0 {
			db := 20 * math.Log10(v)
			b = scale * (db - MinDecibels)
		}
		a.snap.Bins[k] = clampByte(b)
		sum += int(a.snap.Bins[k])
	}
	a.snap.Average = float64(sum) / BinCount
	return a.snap, nil
}

// Close releases the analyzer. Later Poll calls return [ErrClosed].
func (a *Analyzer) Close() {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
}

func cmplxAbs(c complex128) float64 {
	return math.Hypot(real(c), imag(c))
}

func clampByte(v float64) uint8 {
	switch {
	case v <= 0 || math.IsNaN(v):
		return 0
	case v >= 255:
		return 255
	}
	return uint8(v)
}
