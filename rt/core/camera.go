package core

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// CameraState is the per-frame view the host hands in. Z-up, yaw around Z,
// pitch toward Z.
type CameraState struct {
	Position mgl32.Vec3
	Yaw      float32
	Pitch    float32
	FovY     float32 // vertical field of view, radians
}

func NewCameraState() *CameraState {
	return &CameraState{
		Position: mgl32.Vec3{0, 2, 20},
		Yaw:      0,
		Pitch:    0,
		FovY:     mgl32.DegToRad(60.0),
	}
}

func (c *CameraState) GetForward() mgl32.Vec3 {
	// Z-up: Forward in XY plane, Z for pitch
	return mgl32.Vec3{
		float32(math.Cos(float64(c.Pitch)) * math.Sin(float64(c.Yaw))),
		float32(-math.Cos(float64(c.Pitch)) * math.Cos(float64(c.Yaw))),
		float32(math.Sin(float64(c.Pitch))),
	}
}

func (c *CameraState) GetRight() mgl32.Vec3 {
	// Z-up: Right in XY plane
	return mgl32.Vec3{
		float32(-math.Sin(float64(c.Yaw))),
		float32(math.Cos(float64(c.Yaw))),
		0,
	}
}

func (c *CameraState) GetViewMatrix() mgl32.Mat4 {
	forward := c.GetForward()
	eye := c.Position
	target := eye.Add(forward)
	up := mgl32.Vec3{0, 0, 1} // Z-up
	return mgl32.LookAtV(eye, target, up)
}

// PrimaryRay builds the camera ray through pixel (px, py) of a width x height
// target. jx and jy in [0,1) jitter the sample inside the pixel.
func (c *CameraState) PrimaryRay(px, py, width, height int, jx, jy float32) Ray {
	// Normalized device coordinates, Y flipped so py grows downward.
	nx := (2.0*(float32(px)+jx))/float32(width) - 1.0
	ny := 1.0 - (2.0*(float32(py)+jy))/float32(height)

	forward := c.GetForward()
	right := c.GetRight()
	up := right.Cross(forward)

	aspect := float32(width) / float32(height)
	tanHalfFov := float32(math.Tan(float64(c.FovY / 2.0)))

	dir := forward.Add(right.Mul(nx * aspect * tanHalfFov)).Add(up.Mul(ny * tanHalfFov))

	r, _ := NewRay(c.Position, dir)
	r.TMin = 0
	return r
}

// Equals reports whether two states describe the same view. Used to detect
// camera cuts between frames.
func (c *CameraState) Equals(o *CameraState) bool {
	if o == nil {
		return false
	}
	return c.Position == o.Position && c.Yaw == o.Yaw && c.Pitch == o.Pitch && c.FovY == o.FovY
}
