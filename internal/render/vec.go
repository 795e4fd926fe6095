package render

import "math"

// Vec3 is a 3-component vector.
type Vec3 struct {
	X, Y, Z float64
}

func (v Vec3) Add(o Vec3) Vec3 { return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }
func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }
func (v Vec3) Scale(s float64) Vec3 { return Vec3{v.X * s, v.Y * s, v.Z * s} }
func (v Vec3) AddScalar(s float64) Vec3 { return Vec3{v.X + s, v.Y + s, v.Z + s} }
func (v Vec3) Dot(o Vec3) float64 { return v.X*o.X + v.Y*o.Y + v.Z*o.Z }
func (v Vec3) Len() float64 { return math.Sqrt(v.Dot(v)) }

// Normalize returns v scaled to unit length, or the zero vector.
func (v Vec3) Normalize() Vec3 {
	l := v.Len()
	if l == 0 {
		return Vec3{}
	}
	return v.Scale(1 / l)
}

// Mat4 is a row-major 4x4 matrix.
type Mat4 [16]float64

// Identity returns the identity matrix.
func Identity() Mat4 {
	return Mat4{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// Mul returns m·o.
func (m Mat4) Mul(o Mat4) Mat4 {
	var r Mat4
	for i := range 4 {
		for j := range 4 {
			var s float64
			for k := range 4 {
				s += m[i*4+k] * o[k*4+j]
			}
			r[i*4+j] = s
		}
	}
	return r
}

// Transform applies m to the point p (w = 1) and returns clip coordinates.
func (m Mat4) Transform(p Vec3) (x, y, z, w float64) {
	x = m[0]*p.X + m[1]*p.Y + m[2]*p.Z + m[3]
	y = m[4]*p.X + m[5]*p.Y + m[6]*p.Z + m[7]
	z = m[8]*p.X + m[9]*p.Y + m[10]*p.Z + m[11]
	w = m[12]*p.X + m[13]*p.Y + m[14]*p.Z + m[15]
	return x, y, z, w
}

// Translation returns a translation by t.
func Translation(t Vec3) Mat4 {
	m := Identity()
	m[3], m[7], m[11] = t.X, t.Y, t.Z
	return m
}

// RotationX returns a rotation of a radians about the X axis.
func RotationX(a float64) Mat4 {
	s, c := math.Sincos(a)
	return Mat4{
		1, 0, 0, 0,
		0, c, -s, 0,
		0, s, c, 0,
		0, 0, 0, 1,
	}
}

// RotationY returns a rotation of a radians about the Y axis.
func RotationY(a float64) Mat4 {
	s, c := math.Sincos(a)
	return Mat4{
		c, 0, s, 0,
		0, 1, 0, 0,
		-s, 0, c, 0,
		0, 0, 0, 1,
	}
}

// Perspective returns an OpenGL style projection matrix. fovY is in degrees.
func Perspective(fovY, aspect, near, far float64) Mat4 {
	f := 1 / math.Tan(fovY*math.Pi/360)
	return Mat4{
		f / aspect, 0, 0, 0,
		0, f, 0, 0,
		0, 0, (far + near) / (near - far), 2 * far * near / (near - far),
		0, 0, -1, 0,
	}
}
