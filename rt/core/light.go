package core

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

const (
	LIGHT_TYPE_POINT       = 0
	LIGHT_TYPE_DIRECTIONAL = 1
	LIGHT_TYPE_SPOT        = 2
)

// Light is the GPU representation of a light (64 bytes, std430).
type Light struct {
	Position  [4]float32 // xyz, pad
	Direction [4]float32 // xyz, pad
	Color     [4]float32 // rgb, intensity
	Params    [4]float32 // range, cone_angle_cos, type, pad
}

func NewPointLight(pos, color mgl32.Vec3, intensity, lightRange float32) Light {
	return Light{
		Position: [4]float32{pos.X(), pos.Y(), pos.Z(), 0},
		Color:    [4]float32{color.X(), color.Y(), color.Z(), intensity},
		Params:   [4]float32{lightRange, 0, LIGHT_TYPE_POINT, 0},
	}
}

func NewDirectionalLight(dir, color mgl32.Vec3, intensity float32) Light {
	d := dir.Normalize()
	return Light{
		Direction: [4]float32{d.X(), d.Y(), d.Z(), 0},
		Color:     [4]float32{color.X(), color.Y(), color.Z(), intensity},
		Params:    [4]float32{0, 0, LIGHT_TYPE_DIRECTIONAL, 0},
	}
}

func NewSpotLight(pos, dir, color mgl32.Vec3, intensity, lightRange, coneAngle float32) Light {
	d := dir.Normalize()
	return Light{
		Position:  [4]float32{pos.X(), pos.Y(), pos.Z(), 0},
		Direction: [4]float32{d.X(), d.Y(), d.Z(), 0},
		Color:     [4]float32{color.X(), color.Y(), color.Z(), intensity},
		Params:    [4]float32{lightRange, float32(math.Cos(float64(coneAngle))), LIGHT_TYPE_SPOT, 0},
	}
}

func (l *Light) Type() int {
	return int(l.Params[2])
}

func (l *Light) Pos() mgl32.Vec3 {
	return mgl32.Vec3{l.Position[0], l.Position[1], l.Position[2]}
}

func (l *Light) Dir() mgl32.Vec3 {
	return mgl32.Vec3{l.Direction[0], l.Direction[1], l.Direction[2]}
}

// Radiance returns color scaled by intensity.
func (l *Light) Radiance() mgl32.Vec3 {
	return mgl32.Vec3{
		l.Color[0] * l.Color[3],
		l.Color[1] * l.Color[3],
		l.Color[2] * l.Color[3],
	}
}

func (l *Light) Range() float32 {
	return l.Params[0]
}

func (l *Light) ConeCos() float32 {
	return l.Params[1]
}
