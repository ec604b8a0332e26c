package trace

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// RayAABB runs the slab test against [minB, maxB] over the interval
// [tMin, tMax]. It returns the entry distance and whether the box is hit.
// Axes with a near-zero direction component take the containment branch so
// no division by zero can occur.
func RayAABB(origin, dir mgl32.Vec3, minB, maxB mgl32.Vec3, tMin, tMax float32) (float32, bool) {
	for axis := 0; axis < 3; axis++ {
		o := origin[axis]
		d := dir[axis]

		// Ray parallel to this slab: hit only if the origin lies inside it.
		if math.Abs(float64(d)) < 1e-8 {
			if o < minB[axis] || o > maxB[axis] {
				return 0, false
			}
			continue
		}

		invD := 1.0 / d
		t1 := (minB[axis] - o) * invD
		t2 := (maxB[axis] - o) * invD
		if t1 > t2 {
			t1, t2 = t2, t1
		}

		if t1 > tMin {
			tMin = t1
		}
		if t2 < tMax {
			tMax = t2
		}
		if tMin > tMax {
			return 0, false
		}
	}

	return tMin, true
}

// RayTriangle is the Möller-Trumbore intersection test. It returns the hit
// distance and barycentrics; ok is false for misses, near-parallel rays, and
// degenerate triangles, which never produce NaN results.
func RayTriangle(origin, dir mgl32.Vec3, v0, v1, v2 mgl32.Vec3, tMin, tMax float32) (t, u, v float32, ok bool) {
	const epsilon = 1e-8

	edge1 := v1.Sub(v0)
	edge2 := v2.Sub(v0)

	// Determinant near zero: ray parallel to the plane, or the triangle is
	// degenerate.
	h := dir.Cross(edge2)
	a := edge1.Dot(h)
	if a > -epsilon && a < epsilon {
		return 0, 0, 0, false
	}

	f := 1.0 / a
	s := origin.Sub(v0)
	u = f * s.Dot(h)
	if u < 0.0 || u > 1.0 {
		return 0, 0, 0, false
	}

	q := s.Cross(edge1)
	v = f * dir.Dot(q)
	if v < 0.0 || u+v > 1.0 {
		return 0, 0, 0, false
	}

	t = f * edge2.Dot(q)
	if t < tMin || t > tMax {
		return 0, 0, 0, false
	}

	return t, u, v, true
}
