package trace

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

func TestRayAABBBasic(t *testing.T) {
	minB := mgl32.Vec3{-1, -1, -1}
	maxB := mgl32.Vec3{1, 1, 1}

	entry, ok := RayAABB(mgl32.Vec3{0, 0, -5}, mgl32.Vec3{0, 0, 1}, minB, maxB, 0, 100)
	if !ok {
		t.Fatal("ray aimed at box should hit")
	}
	if math.Abs(float64(entry-4)) > 1e-5 {
		t.Errorf("entry = %f, want 4", entry)
	}

	if _, ok := RayAABB(mgl32.Vec3{0, 0, -5}, mgl32.Vec3{0, 0, -1}, minB, maxB, 0, 100); ok {
		t.Error("ray aimed away should miss")
	}
	if _, ok := RayAABB(mgl32.Vec3{5, 0, -5}, mgl32.Vec3{0, 0, 1}, minB, maxB, 0, 100); ok {
		t.Error("offset ray should miss")
	}
}

func TestRayAABBParallelAxis(t *testing.T) {
	minB := mgl32.Vec3{-1, -1, -1}
	maxB := mgl32.Vec3{1, 1, 1}

	// Direction has a zero X component; origin X inside the slab.
	if _, ok := RayAABB(mgl32.Vec3{0.5, 0, -5}, mgl32.Vec3{0, 0, 1}, minB, maxB, 0, 100); !ok {
		t.Error("parallel ray inside slab should hit")
	}
	// Origin X outside the slab.
	if _, ok := RayAABB(mgl32.Vec3{2, 0, -5}, mgl32.Vec3{0, 0, 1}, minB, maxB, 0, 100); ok {
		t.Error("parallel ray outside slab should miss")
	}
}

func TestRayAABBInsideBox(t *testing.T) {
	entry, ok := RayAABB(mgl32.Vec3{0, 0, 0}, mgl32.Vec3{1, 0, 0}, mgl32.Vec3{-1, -1, -1}, mgl32.Vec3{1, 1, 1}, 0, 100)
	if !ok {
		t.Fatal("ray starting inside should hit")
	}
	if entry != 0 {
		t.Errorf("entry from inside should clamp to tMin, got %f", entry)
	}
}

func TestRayTriangleHit(t *testing.T) {
	v0 := mgl32.Vec3{-1, -1, 0}
	v1 := mgl32.Vec3{1, -1, 0}
	v2 := mgl32.Vec3{0, 1, 0}

	tHit, u, v, ok := RayTriangle(mgl32.Vec3{0, -0.2, -3}, mgl32.Vec3{0, 0, 1}, v0, v1, v2, 0, 100)
	if !ok {
		t.Fatal("ray through triangle should hit")
	}
	if math.Abs(float64(tHit-3)) > 1e-4 {
		t.Errorf("t = %f, want 3", tHit)
	}
	if u < 0 || v < 0 || u+v > 1 {
		t.Errorf("barycentrics out of range: u=%f v=%f", u, v)
	}

	if _, _, _, ok := RayTriangle(mgl32.Vec3{5, 5, -3}, mgl32.Vec3{0, 0, 1}, v0, v1, v2, 0, 100); ok {
		t.Error("ray outside the triangle should miss")
	}
}

func TestRayTriangleRespectsInterval(t *testing.T) {
	v0 := mgl32.Vec3{-1, -1, 0}
	v1 := mgl32.Vec3{1, -1, 0}
	v2 := mgl32.Vec3{0, 1, 0}

	if _, _, _, ok := RayTriangle(mgl32.Vec3{0, 0, -3}, mgl32.Vec3{0, 0, 1}, v0, v1, v2, 0, 2.5); ok {
		t.Error("hit beyond tMax should be rejected")
	}
	if _, _, _, ok := RayTriangle(mgl32.Vec3{0, 0, -3}, mgl32.Vec3{0, 0, 1}, v0, v1, v2, 3.5, 100); ok {
		t.Error("hit before tMin should be rejected")
	}
}

func TestRayTriangleDegenerate(t *testing.T) {
	// All three corners collinear.
	v0 := mgl32.Vec3{0, 0, 0}
	v1 := mgl32.Vec3{1, 0, 0}
	v2 := mgl32.Vec3{2, 0, 0}

	tHit, u, v, ok := RayTriangle(mgl32.Vec3{0.5, -1, 0}, mgl32.Vec3{0, 1, 0}, v0, v1, v2, 0, 100)
	if ok {
		t.Error("degenerate triangle should never report a hit")
	}
	for _, f := range []float32{tHit, u, v} {
		if math.IsNaN(float64(f)) {
			t.Fatal("degenerate triangle produced NaN")
		}
	}

	// Ray parallel to the triangle plane.
	p0 := mgl32.Vec3{-1, -1, 0}
	p1 := mgl32.Vec3{1, -1, 0}
	p2 := mgl32.Vec3{0, 1, 0}
	if _, _, _, ok := RayTriangle(mgl32.Vec3{-5, 0, 0}, mgl32.Vec3{1, 0, 0}, p0, p1, p2, 0, 100); ok {
		t.Error("in-plane ray should miss")
	}
}
