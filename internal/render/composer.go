package render

import (
	"image"
	"image/color"
	"math"
)

// Pass is one stage of the post-processing chain.
type Pass interface {
	// SetSize resizes every buffer the pass owns.
	SetSize(w, h int)

	// Size reports the size of the pass's output buffer.
	Size() (w, h int)

	// Render consumes the previous pass's output (nil for the first pass)
	// and returns its own.
	Render(in *Target) *Target

	// Release drops all buffers.
	Release()
}

// Composer runs the passes in order and encodes the result through its
// output pass.
type Composer struct {
	passes []Pass
	output *OutputPass
	w, h   int
}

// NewComposer sizes every pass to w×h.
func NewComposer(w, h int, output *OutputPass, passes ...Pass) *Composer {
	c := &Composer{passes: passes, output: output}
	c.SetSize(w, h)
	return c
}

// SetSize resizes every pass together.
func (c *Composer) SetSize(w, h int) {
	c.w, c.h = w, h
	for _, p := range c.passes {
		p.SetSize(w, h)
	}
	c.output.SetSize(w, h)
}

// Size returns the composer size.
func (c *Composer) Size() (w, h int) { return c.w, c.h }

// PassSizes returns the output size of every pass, the output pass last.
func (c *Composer) PassSizes() []image.Point {
	sizes := make([]image.Point, 0, len(c.passes)+1)
	for _, p := range c.passes {
		w, h := p.Size()
		sizes = append(sizes, image.Pt(w, h))
	}
	w, h := c.output.Size()
	return append(sizes, image.Pt(w, h))
}

// Render runs the chain and returns the encoded frame. The image is reused
// by the next call.
func (c *Composer) Render() *image.RGBA {
	var t *Target
	for _, p := range c.passes {
		t = p.Render(t)
	}
	return c.output.Encode(t)
}

// Release releases every pass.
func (c *Composer) Release() {
	for _, p := range c.passes {
		p.Release()
	}
	c.output.Release()
}

// ─── RenderPass ──────────────────────────────────────────────────────────────

// Mesh is a line geometry with a rotation.
type Mesh struct {
	Geometry  *Geometry
	RotationX float64
	RotationY float64
}

// RenderPass rasterizes the mesh as a wireframe over the background color.
type RenderPass struct {
	Mesh       *Mesh
	Camera     *Camera
	Uniforms   Uniforms
	Background [3]float32

	target *Target

	// Per-vertex scratch space, sized to the geometry.
	screen []screenVertex
}

type screenVertex struct {
	x, y  float64
	color Vec3
	ok    bool
}

// NewRenderPass creates a render pass with a 0x111111 background.
func NewRenderPass(mesh *Mesh, camera *Camera) *RenderPass {
	bg := srgbToLinear(0x11)
	return &RenderPass{
		Mesh:       mesh,
		Camera:     camera,
		Background: [3]float32{bg, bg, bg},
		target:     &Target{},
	}
}

func (p *RenderPass) SetSize(w, h int) { p.target.SetSize(w, h) }

func (p *RenderPass) Size() (w, h int) { return p.target.W, p.target.H }

func (p *RenderPass) Render(_ *Target) *Target {
	t := p.target
	t.Fill(p.Background)

	g := p.Mesh.Geometry
	if len(p.screen) != len(g.Positions) {
		p.screen = make([]screenVertex, len(g.Positions))
	}

	mvp := p.Camera.ViewProjection().Mul(RotationX(p.Mesh.RotationX).Mul(RotationY(p.Mesh.RotationY)))
	fw, fh := float64(t.W), float64(t.H)
	var alpha float64
	for i, rest := range g.Positions {
		pos := VertexStage(p.Uniforms, rest, g.Normals[i])
		x, y, _, w := mvp.Transform(pos)
		sv := &p.screen[i]
		sv.ok = w > p.Camera.Near
		if !sv.ok {
			continue
		}
		sv.x = (x/w + 1) / 2 * fw
		sv.y = (1 - y/w) / 2 * fh
		sv.color, alpha = FragmentStage(p.Uniforms, rest)
	}

	for _, e := range g.Edges {
		a, b := &p.screen[e[0]], &p.screen[e[1]]
		if !a.ok || !b.ok {
			continue
		}
		t.line(a.x, a.y, b.x, b.y, a.color, b.color, alpha)
	}
	return t
}

func (p *RenderPass) Release() {
	p.target.Release()
	p.screen = nil
}

// ─── BloomPass ───────────────────────────────────────────────────────────────

// bloomFactors weight the blurred mip levels before radius mixing.
var bloomFactors = [...]float64{1.0, 0.8, 0.6, 0.4}

// bloomKernels are the blur radii of the mip levels in pixels.
var bloomKernels = [len(bloomFactors)]int{3, 5, 7, 9}

// BloomPass extracts pixels brighter than Threshold, blurs them at several
// resolutions, and adds them back scaled by Strength. A zero strength makes
// the pass a no-op.
type BloomPass struct {
	Strength  float64
	Radius    float64
	Threshold float64

	out  *Target
	mips [len(bloomFactors)]*Target
	tmp  [len(bloomFactors)]*Target
}

// NewBloomPass creates a bloom pass with the given parameters.
func NewBloomPass(strength, radius, threshold float64) *BloomPass {
	b := &BloomPass{Strength: strength, Radius: radius, Threshold: threshold, out: &Target{}}
	for i := range b.mips {
		b.mips[i] = &Target{}
		b.tmp[i] = &Target{}
	}
	return b
}

func (b *BloomPass) SetSize(w, h int) {
	b.out.SetSize(w, h)
	mw, mh := w, h
	for i := range b.mips {
		mw, mh = max(1, mw/2), max(1, mh/2)
		b.mips[i].SetSize(mw, mh)
		b.tmp[i].SetSize(mw, mh)
	}
}

func (b *BloomPass) Size() (w, h int) { return b.out.W, b.out.H }

// MipSizes returns the sizes of the blur levels.
func (b *BloomPass) MipSizes() []image.Point {
	s := make([]image.Point, len(b.mips))
	for i, m := range b.mips {
		s[i] = image.Pt(m.W, m.H)
	}
	return s
}

func (b *BloomPass) Render(in *Target) *Target {
	copy(b.out.Pix, in.Pix)
	if b.Strength <= 0 {
		return b.out
	}

	highPass(in, b.mips[0], b.Threshold)
	for i := 1; i < len(b.mips); i++ {
		downsample(b.mips[i-1], b.mips[i])
	}
	for i, m := range b.mips {
		blur(m, b.tmp[i], bloomKernels[i])
	}

	var weights [len(bloomFactors)]float32
	for i, f := range bloomFactors {
		weights[i] = float32(b.Strength * mix(f, 1.2-f, b.Radius))
	}

	o := b.out
	for y := range o.H {
		for x := range o.W {
			oi := (y*o.W + x) * 3
			for i, m := range b.mips {
				mx := min(x*m.W/o.W, m.W-1)
				my := min(y*m.H/o.H, m.H-1)
				mi := (my*m.W + mx) * 3
				o.Pix[oi] += weights[i] * m.Pix[mi]
				o.Pix[oi+1] += weights[i] * m.Pix[mi+1]
				o.Pix[oi+2] += weights[i] * m.Pix[mi+2]
			}
		}
	}
	return o
}

func (b *BloomPass) Release() {
	b.out.Release()
	for i := range b.mips {
		b.mips[i].Release()
		b.tmp[i].Release()
	}
}

// highPass writes the bright parts of src, box-filtered into dst.
func highPass(src, dst *Target, threshold float64) {
	downsample(src, dst)
	for i := 0; i < len(dst.Pix); i += 3 {
		r, g, bl := dst.Pix[i], dst.Pix[i+1], dst.Pix[i+2]
		l := 0.2126*float64(r) + 0.7152*float64(g) + 0.0722*float64(bl)
		a := float32(Smoothstep(threshold, threshold+0.01, l))
		dst.Pix[i], dst.Pix[i+1], dst.Pix[i+2] = r*a, g*a, bl*a
	}
}

// downsample box-filters src into the smaller dst.
func downsample(src, dst *Target) {
	for y := range dst.H {
		sy0 := y * src.H / dst.H
		sy1 := min(sy0+1, src.H-1)
		for x := range dst.W {
			sx0 := x * src.W / dst.W
			sx1 := min(sx0+1, src.W-1)
			di := (y*dst.W + x) * 3
			for c := range 3 {
				dst.Pix[di+c] = 0.25 * (src.Pix[(sy0*src.W+sx0)*3+c] +
					src.Pix[(sy0*src.W+sx1)*3+c] +
					src.Pix[(sy1*src.W+sx0)*3+c] +
					src.Pix[(sy1*src.W+sx1)*3+c])
			}
		}
	}
}

// blur applies a separable gaussian with the given radius to t in place.
func blur(t, tmp *Target, radius int) {
	sigma := float64(radius)
	kernel := make([]float32, radius+1)
	var sum float32
	for i := range kernel {
		kernel[i] = float32(math.Exp(-0.5 * float64(i*i) / (sigma * sigma)))
		if i == 0 {
			sum += kernel[i]
		} else {
			sum += 2 * kernel[i]
		}
	}
	for i := range kernel {
		kernel[i] /= sum
	}

	pass := func(src, dst *Target, dx, dy int) {
		for y := range src.H {
			for x := range src.W {
				var acc [3]float32
				for k := -radius; k <= radius; k++ {
					sx := min(max(x+k*dx, 0), src.W-1)
					sy := min(max(y+k*dy, 0), src.H-1)
					w := kernel[abs(k)]
					si := (sy*src.W + sx) * 3
					acc[0] += w * src.Pix[si]
					acc[1] += w * src.Pix[si+1]
					acc[2] += w * src.Pix[si+2]
				}
				di := (y*dst.W + x) * 3
				dst.Pix[di], dst.Pix[di+1], dst.Pix[di+2] = acc[0], acc[1], acc[2]
			}
		}
	}
	pass(t, tmp, 1, 0)
	pass(tmp, t, 0, 1)
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// ─── OutputPass ──────────────────────────────────────────────────────────────

// OutputPass encodes the linear buffer to an sRGB image.
type OutputPass struct {
	img *image.RGBA
}

// NewOutputPass creates an unsized output pass.
func NewOutputPass() *OutputPass { return &OutputPass{} }

func (o *OutputPass) SetSize(w, h int) {
	if o.img != nil && o.img.Rect.Dx() == w && o.img.Rect.Dy() == h {
		return
	}
	o.img = image.NewRGBA(image.Rect(0, 0, w, h))
}

func (o *OutputPass) Size() (w, h int) {
	if o.img == nil {
		return 0, 0
	}
	return o.img.Rect.Dx(), o.img.Rect.Dy()
}

// Encode writes in to the output image and returns it.
func (o *OutputPass) Encode(in *Target) *image.RGBA {
	for y := range in.H {
		for x := range in.W {
			i := (y*in.W + x) * 3
			o.img.SetRGBA(x, y, color.RGBA{
				R: linearToSRGB(in.Pix[i]),
				G: linearToSRGB(in.Pix[i+1]),
				B: linearToSRGB(in.Pix[i+2]),
				A: 0xff,
			})
		}
	}
	return o.img
}

func (o *OutputPass) Release() { o.img = nil }
