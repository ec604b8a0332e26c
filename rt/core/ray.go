package core

import (
	"github.com/go-gl/mathgl/mgl32"
)

const (
	// DefaultTMin keeps secondary rays from re-hitting their origin surface.
	DefaultTMin = 1e-3
	DefaultTMax = 1e30
)

// Ray is a world-space ray restricted to the interval [TMin, TMax].
// Dir is unit length; construction through NewRay guarantees it.
type Ray struct {
	Origin mgl32.Vec3
	Dir    mgl32.Vec3
	TMin   float32
	TMax   float32
	Depth  int
	IOR    float32 // refraction index of the medium the ray travels in
}

// NewRay builds a ray with a normalized direction and default interval.
// Returns ok=false for directions too short to normalize; such rays must
// not be traced.
func NewRay(origin, dir mgl32.Vec3) (Ray, bool) {
	lenSq := dir.LenSqr()
	if lenSq < 1e-12 || !IsFiniteVec(dir) {
		return Ray{}, false
	}
	return Ray{
		Origin: origin,
		Dir:    dir.Normalize(),
		TMin:   DefaultTMin,
		TMax:   DefaultTMax,
		IOR:    1.0,
	}, true
}

// At returns the point at parameter t along the ray.
func (r Ray) At(t float32) mgl32.Vec3 {
	return r.Origin.Add(r.Dir.Mul(t))
}

// HitInfo describes the closest intersection found for a ray.
type HitInfo struct {
	Hit       bool
	T         float32
	Position  mgl32.Vec3
	Normal    mgl32.Vec3 // shading normal, unit length, faces the incoming ray
	FrontFace bool
	U, V      float32 // barycentrics at the hit, for material lookup
	Instance  int32
	Primitive int32
	Material  MaterialSample
}

// SetFaceNormal orients outward into the half-space of the incoming ray and
// records which side was hit.
func (h *HitInfo) SetFaceNormal(rayDir, outward mgl32.Vec3) {
	h.FrontFace = rayDir.Dot(outward) < 0
	if h.FrontFace {
		h.Normal = outward
	} else {
		h.Normal = outward.Mul(-1)
	}
}
