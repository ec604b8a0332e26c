package core

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Luminance returns the Rec. 709 luminance of a linear RGB color.
func Luminance(c mgl32.Vec3) float32 {
	return 0.2126*c.X() + 0.7152*c.Y() + 0.0722*c.Z()
}

// IsFinite reports whether f is neither NaN nor infinite.
func IsFinite(f float32) bool {
	f64 := float64(f)
	return !math.IsNaN(f64) && !math.IsInf(f64, 0)
}

// IsFiniteVec reports whether every component of v is finite.
func IsFiniteVec(v mgl32.Vec3) bool {
	return IsFinite(v.X()) && IsFinite(v.Y()) && IsFinite(v.Z())
}

// SanitizeColor replaces non-finite components with zero. Degenerate samples
// become black rather than poisoning an accumulation buffer.
func SanitizeColor(c mgl32.Vec3) mgl32.Vec3 {
	if IsFiniteVec(c) {
		return c
	}
	out := mgl32.Vec3{}
	for i := 0; i < 3; i++ {
		if IsFinite(c[i]) {
			out[i] = c[i]
		}
	}
	return out
}

// MaxComponent returns the largest of the three channels.
func MaxComponent(c mgl32.Vec3) float32 {
	m := c.X()
	if c.Y() > m {
		m = c.Y()
	}
	if c.Z() > m {
		m = c.Z()
	}
	return m
}

// MulVec multiplies two colors component-wise.
func MulVec(a, b mgl32.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{a.X() * b.X(), a.Y() * b.Y(), a.Z() * b.Z()}
}
