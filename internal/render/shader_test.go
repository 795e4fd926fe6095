package render

import (
	"math"
	"math/rand/v2"
	"testing"
)

func TestSmoothstep(t *testing.T) {
	t.Parallel()
	tests := []struct {
		x, want float64
	}{
		{0.5, 0},
		{0.8, 0},
		{0.9, 0.5},
		{1.0, 1},
		{2.0, 1},
	}
	for _, tc := range tests {
		if got := Smoothstep(0.8, 1.0, tc.x); math.Abs(got-tc.want) > 1e-12 {
			t.Errorf("Smoothstep(0.8, 1, %v) = %v, want %v", tc.x, got, tc.want)
		}
	}
}

func TestBoundaryFactor(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		p    Vec3
		want float64
	}{
		{"origin", Vec3{}, 1},
		{"sphere surface", Vec3{0, 4, 0}, 1},
		{"midway", Vec3{4.5, 0, 0}, 0.5},
		{"outer radius", Vec3{0, 0, 5}, 0},
		{"beyond", Vec3{10, 10, 10}, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := BoundaryFactor(tc.p); math.Abs(got-tc.want) > 1e-12 {
				t.Errorf("BoundaryFactor(%v) = %v, want %v", tc.p, got, tc.want)
			}
		})
	}

	r := rand.New(rand.NewPCG(1, 2))
	for range 1000 {
		p := Vec3{r.NormFloat64() * 4, r.NormFloat64() * 4, r.NormFloat64() * 4}
		if f := BoundaryFactor(p); f < 0 || f > 1 {
			t.Fatalf("BoundaryFactor(%v) = %v, outside [0,1]", p, f)
		}
	}
}

func TestPNoise(t *testing.T) {
	t.Parallel()
	rep := Vec3{10, 10, 10}

	// Lattice points have zero noise.
	for _, p := range []Vec3{{0, 0, 0}, {1, 2, 3}, {-4, 7, 9}} {
		if n := PNoise(p, rep); math.Abs(n) > 1e-12 {
			t.Errorf("PNoise(%v) = %v, want 0", p, n)
		}
	}

	r := rand.New(rand.NewPCG(3, 4))
	var nonZero bool
	for range 2000 {
		p := Vec3{r.Float64() * 20, r.Float64() * 20, r.Float64() * 20}
		n := PNoise(p, rep)
		if math.Abs(n) > 1.5 {
			t.Fatalf("PNoise(%v) = %v, want within ±1.5", p, n)
		}
		if n != 0 {
			nonZero = true
		}
		shifted := PNoise(p.Add(Vec3{10, 0, -10}), rep)
		if math.Abs(n-shifted) > 1e-9 {
			t.Fatalf("PNoise not periodic: %v vs %v at %v", n, shifted, p)
		}
	}
	if !nonZero {
		t.Error("PNoise returned 0 everywhere")
	}
}

func TestDisplacementScalesWithFrequency(t *testing.T) {
	t.Parallel()

	p := Vec3{0.3, 0.7, 0.2}
	quiet := Displacement(Uniforms{Time: 1}, p)
	loud := Displacement(Uniforms{Time: 1, Frequency: 128}, p)
	if quiet == 0 {
		t.Fatal("Displacement at rest is 0, pick another sample point")
	}
	// (0.2 + 128/128) / 0.2 = 6
	if ratio := loud / quiet; math.Abs(ratio-6) > 1e-9 {
		t.Errorf("loud/quiet = %v, want 6", ratio)
	}
}

func TestVertexStageRespectsBoundary(t *testing.T) {
	t.Parallel()

	p := Vec3{0, 0, 5}
	n := p.Normalize()
	got := VertexStage(Uniforms{Time: 0.37, Frequency: 400}, p, n)
	if got != p {
		t.Errorf("VertexStage at outer radius = %v, want unchanged %v", got, p)
	}
}

func TestFragmentStage(t *testing.T) {
	t.Parallel()

	c, a := FragmentStage(Uniforms{}, Vec3{})
	want := Vec3{0.29, 0.375, 1}
	if math.Abs(c.X-want.X) > 1e-12 || math.Abs(c.Y-want.Y) > 1e-12 || math.Abs(c.Z-want.Z) > 1e-12 {
		t.Errorf("color at origin = %v, want %v", c, want)
	}
	if a != 0.8 {
		t.Errorf("opacity at intensity 0 = %v, want 0.8", a)
	}

	// t = (x+y+z)*0.15 + 0.5 reaches 0 at x+y+z = -10/3.
	c, a = FragmentStage(Uniforms{Intensity: 1}, Vec3{-10.0 / 3.0, 0, 0})
	if math.Abs(c.X-colorCyan.X) > 1e-12 || math.Abs(c.Y-colorCyan.Y) > 1e-12 {
		t.Errorf("color at t=0 = %v, want %v", c, colorCyan)
	}
	if math.Abs(a-1) > 1e-12 {
		t.Errorf("opacity at intensity 1 = %v, want 1", a)
	}
}

func TestNewIcosphere(t *testing.T) {
	t.Parallel()
	for _, detail := range []int{0, 1, 2, 8} {
		g := NewIcosphere(4, detail)
		n := detail + 1
		if want := 10*n*n + 2; len(g.Positions) != want {
			t.Errorf("detail %d: vertices = %d, want %d", detail, len(g.Positions), want)
		}
		if want := 30 * n * n; len(g.Edges) != want {
			t.Errorf("detail %d: edges = %d, want %d", detail, len(g.Edges), want)
		}
		for i, p := range g.Positions {
			if math.Abs(p.Len()-4) > 1e-9 {
				t.Fatalf("detail %d: vertex %d radius = %v, want 4", detail, i, p.Len())
			}
			if math.Abs(g.Normals[i].Len()-1) > 1e-9 {
				t.Fatalf("detail %d: normal %d not unit length", detail, i)
			}
		}
	}
}

func TestCamera(t *testing.T) {
	t.Parallel()

	c := NewCamera(800.0 / 600.0)
	// The origin projects to the center of the screen.
	x, y, _, w := c.ViewProjection().Transform(Vec3{})
	if math.Abs(x/w) > 1e-12 || math.Abs(y/w) > 1e-12 {
		t.Errorf("origin projects to (%v, %v), want (0, 0)", x/w, y/w)
	}
	if w != 14 {
		t.Errorf("clip w of origin = %v, want camera distance 14", w)
	}

	c.SetAspect(0)
	if c.Aspect() != 1 {
		t.Errorf("Aspect after SetAspect(0) = %v, want fallback 1", c.Aspect())
	}
}

func TestSRGBRoundTrip(t *testing.T) {
	t.Parallel()
	for _, v := range []uint8{0, 0x11, 0x80, 0xff} {
		if got := linearToSRGB(srgbToLinear(v)); got != v {
			t.Errorf("round trip of %#x = %#x", v, got)
		}
	}
}
