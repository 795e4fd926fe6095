package render

import "math"

// Target is a linear-light RGB float buffer.
type Target struct {
	W, H int
	Pix  []float32
}

// NewTarget allocates a w×h target.
func NewTarget(w, h int) *Target {
	t := &Target{}
	t.SetSize(w, h)
	return t
}

// SetSize reallocates the buffer when the size changes.
func (t *Target) SetSize(w, h int) {
	if t.W == w && t.H == h && t.Pix != nil {
		return
	}
	t.W, t.H = w, h
	t.Pix = make([]float32, w*h*3)
}

// Release drops the pixel buffer.
func (t *Target) Release() {
	t.Pix = nil
	t.W, t.H = 0, 0
}

// Fill sets every pixel to c.
func (t *Target) Fill(c [3]float32) {
	for i := 0; i < len(t.Pix); i += 3 {
		t.Pix[i], t.Pix[i+1], t.Pix[i+2] = c[0], c[1], c[2]
	}
}

// blend composites c with opacity a over the pixel at (x, y).
func (t *Target) blend(x, y int, c Vec3, a float64) {
	if x < 0 || y < 0 || x >= t.W || y >= t.H {
		return
	}
	i := (y*t.W + x) * 3
	af := float32(a)
	t.Pix[i] = float32(c.X)*af + t.Pix[i]*(1-af)
	t.Pix[i+1] = float32(c.Y)*af + t.Pix[i+1]*(1-af)
	t.Pix[i+2] = float32(c.Z)*af + t.Pix[i+2]*(1-af)
}

// line draws a color-interpolated line from (x0, y0) to (x1, y1).
func (t *Target) line(x0, y0, x1, y1 float64, c0, c1 Vec3, a float64) {
	dx, dy := x1-x0, y1-y0
	steps := int(math.Ceil(math.Max(math.Abs(dx), math.Abs(dy))))
	if steps == 0 {
		t.blend(int(x0), int(y0), c0, a)
		return
	}
	inv := 1 / float64(steps)
	for s := 0; s <= steps; s++ {
		f := float64(s) * inv
		c := Vec3{mix(c0.X, c1.X, f), mix(c0.Y, c1.Y, f), mix(c0.Z, c1.Z, f)}
		t.blend(int(x0+dx*f), int(y0+dy*f), c, a)
	}
}

// srgbToLinear converts an 8-bit sRGB channel to linear light.
func srgbToLinear(v uint8) float32 {
	c := float64(v) / 255
	if c <= 0.04045 {
		return float32(c / 12.92)
	}
	return float32(math.Pow((c+0.055)/1.055, 2.4))
}

// linearToSRGB encodes a linear channel as 8-bit sRGB with clamping.
func linearToSRGB(v float32) uint8 {
	c := float64(v)
	switch {
	case c <= 0 || math.IsNaN(c):
		return 0
	case c >= 1:
		return 255
	case c <= 0.0031308:
		c *= 12.92
	default:
		c = 1.055*math.Pow(c, 1/2.4) - 0.055
	}
	return uint8(math.Round(c * 255))
}
