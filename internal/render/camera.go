package render

// Camera is a perspective camera on the +Z axis looking at the origin.
type Camera struct {
	FOV      float64
	Near     float64
	Far      float64
	Distance float64

	aspect     float64
	projection Mat4
	view       Mat4
}

// NewCamera returns the visualizer camera: fov 45°, near 0.1, far 1000,
// positioned at (0, 0, 14).
func NewCamera(aspect float64) *Camera {
	c := &Camera{FOV: 45, Near: 0.1, Far: 1000, Distance: 14}
	c.view = Translation(Vec3{0, 0, -c.Distance})
	c.SetAspect(aspect)
	return c
}

// SetAspect updates the aspect ratio and the projection matrix.
func (c *Camera) SetAspect(aspect float64) {
	if aspect <= 0 {
		aspect = 1
	}
	c.aspect = aspect
	c.projection = Perspective(c.FOV, aspect, c.Near, c.Far)
}

// Aspect returns the current aspect ratio.
func (c *Camera) Aspect() float64 { return c.aspect }

// ViewProjection returns projection·view.
func (c *Camera) ViewProjection() Mat4 {
	return c.projection.Mul(c.view)
}
