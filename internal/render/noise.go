package render

import "math"

// PNoise is classic periodic Perlin noise in three dimensions with period
// rep, scaled by 2.2 so the output roughly spans [-1, 1]. It is the scalar
// form of Stefan Gustavson's GLSL pnoise.
func PNoise(p, rep Vec3) float64 {
	pi0 := Vec3{glslMod(math.Floor(p.X), rep.X), glslMod(math.Floor(p.Y), rep.Y), glslMod(math.Floor(p.Z), rep.Z)}
	pi1 := Vec3{glslMod(pi0.X+1, rep.X), glslMod(pi0.Y+1, rep.Y), glslMod(pi0.Z+1, rep.Z)}
	pi0 = Vec3{mod289(pi0.X), mod289(pi0.Y), mod289(pi0.Z)}
	pi1 = Vec3{mod289(pi1.X), mod289(pi1.Y), mod289(pi1.Z)}
	pf0 := Vec3{fract(p.X), fract(p.Y), fract(p.Z)}
	pf1 := pf0.AddScalar(-1)

	ix := [4]float64{pi0.X, pi1.X, pi0.X, pi1.X}
	iy := [4]float64{pi0.Y, pi0.Y, pi1.Y, pi1.Y}

	var ixy, ixy0, ixy1 [4]float64
	for i := range 4 {
		ixy[i] = permute(permute(ix[i]) + iy[i])
		ixy0[i] = permute(ixy[i] + pi0.Z)
		ixy1[i] = permute(ixy[i] + pi1.Z)
	}

	g0 := gradients(ixy0)
	g1 := gradients(ixy1)

	// Corner order: g0 = {000, 100, 010, 110}, g1 = {001, 101, 011, 111}.
	n000 := g0[0].Dot(pf0)
	n100 := g0[1].Dot(Vec3{pf1.X, pf0.Y, pf0.Z})
	n010 := g0[2].Dot(Vec3{pf0.X, pf1.Y, pf0.Z})
	n110 := g0[3].Dot(Vec3{pf1.X, pf1.Y, pf0.Z})
	n001 := g1[0].Dot(Vec3{pf0.X, pf0.Y, pf1.Z})
	n101 := g1[1].Dot(Vec3{pf1.X, pf0.Y, pf1.Z})
	n011 := g1[2].Dot(Vec3{pf0.X, pf1.Y, pf1.Z})
	n111 := g1[3].Dot(pf1)

	fx, fy, fz := fade(pf0.X), fade(pf0.Y), fade(pf0.Z)
	nz0 := mix(n000, n001, fz)
	nz1 := mix(n100, n101, fz)
	nz2 := mix(n010, n011, fz)
	nz3 := mix(n110, n111, fz)
	nyz0 := mix(nz0, nz2, fy)
	nyz1 := mix(nz1, nz3, fy)
	return 2.2 * mix(nyz0, nyz1, fx)
}

// gradients derives four normalized corner gradients from hashed indices.
func gradients(h [4]float64) [4]Vec3 {
	var g [4]Vec3
	for i := range 4 {
		gx := h[i] * (1.0 / 7.0)
		gy := fract(math.Floor(gx)*(1.0/7.0)) - 0.5
		gx = fract(gx)
		gz := 0.5 - math.Abs(gx) - math.Abs(gy)
		sz := step(gz, 0)
		gx -= sz * (step(0, gx) - 0.5)
		gy -= sz * (step(0, gy) - 0.5)
		v := Vec3{gx, gy, gz}
		g[i] = v.Scale(taylorInvSqrt(v.Dot(v)))
	}
	return g
}

func mod289(x float64) float64 { return x - math.Floor(x*(1.0/289.0))*289.0 }

func permute(x float64) float64 { return mod289((x*34.0 + 10.0) * x) }

func taylorInvSqrt(r float64) float64 { return 1.79284291400159 - 0.85373472095314*r }

func fade(t float64) float64 { return t * t * t * (t*(t*6-15) + 10) }

func fract(x float64) float64 { return x - math.Floor(x) }

// glslMod matches GLSL mod: the result has the sign of y.
func glslMod(x, y float64) float64 { return x - y*math.Floor(x/y) }

// step returns 0 when x < edge and 1 otherwise.
func step(edge, x float64) float64 {
	if x < edge {
		return 0
	}
	return 1
}

func mix(a, b, t float64) float64 { return a*(1-t) + b*t }
