package render

import "math"

// Shader constants. The mesh material is a fixed asset: these values and
// the two stage functions below are the whole of it.
const (
	noiseTimeScale    = 0.4
	noiseAmplitude    = 2.5
	noisePeriod       = 10.0
	displacementScale = 0.8
	baseResponse      = 0.2
	frequencyDivisor  = 128.0

	boundaryRadius = 5.0
	boundaryInner  = 0.8
	boundaryOuter  = 1.0

	gradientScale  = 0.15
	gradientOffset = 0.5
	baseOpacity    = 0.8
	opacityGain    = 0.2
)

var (
	colorCyan   = Vec3{0.0, 0.75, 1.0}
	colorPurple = Vec3{0.58, 0.0, 1.0}
)

// Uniforms are the per-frame shader inputs.
type Uniforms struct {
	Time      float64
	Frequency float64
	Intensity float64
}

// Smoothstep is the GLSL smoothstep: 0 below e0, 1 above e1, and a cubic
// Hermite blend in between.
func Smoothstep(e0, e1, x float64) float64 {
	t := math.Max(0, math.Min(1, (x-e0)/(e1-e0)))
	return t * t * (3 - 2*t)
}

// BoundaryFactor damps displacement for points near the outer radius. The
// result is always in [0, 1].
func BoundaryFactor(p Vec3) float64 {
	return 1 - Smoothstep(boundaryInner, boundaryOuter, p.Len()/boundaryRadius)
}

// Displacement is the signed offset along the normal for rest position p.
func Displacement(u Uniforms, p Vec3) float64 {
	noise := noiseAmplitude * PNoise(p.AddScalar(u.Time*noiseTimeScale), Vec3{noisePeriod, noisePeriod, noisePeriod})
	ff := u.Frequency / frequencyDivisor
	return noise * displacementScale * (baseResponse + ff)
}

// VertexStage returns the displaced position of a vertex.
func VertexStage(u Uniforms, p, n Vec3) Vec3 {
	return p.Add(n.Scale(Displacement(u, p) * BoundaryFactor(p)))
}

// FragmentStage returns the linear color and opacity for rest position p.
func FragmentStage(u Uniforms, p Vec3) (Vec3, float64) {
	t := (p.X+p.Y+p.Z)*gradientScale + gradientOffset
	c := Vec3{
		mix(colorCyan.X, colorPurple.X, t),
		mix(colorCyan.Y, colorPurple.Y, t),
		mix(colorCyan.Z, colorPurple.Z, t),
	}
	return c, baseOpacity + u.Intensity*opacityGain
}
