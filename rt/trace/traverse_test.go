package trace

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/helio3d/helio/rt/bvh"
	"github.com/helio3d/helio/rt/core"
)

// quad in the XY plane, facing +Z
func quadZ() ([]mgl32.Vec3, []uint32) {
	verts := []mgl32.Vec3{
		{-1, -1, 0}, {1, -1, 0}, {1, 1, 0}, {-1, 1, 0},
	}
	return verts, []uint32{0, 1, 2, 0, 2, 3}
}

func sceneWithQuads(t *testing.T, zs ...float32) (*Scene, *bvh.Manager) {
	t.Helper()
	m := bvh.NewManager(0, 0)
	verts, indices := quadZ()
	h, err := m.CreateBLAS(verts, indices, false)
	if err != nil {
		t.Fatal(err)
	}
	for _, z := range zs {
		if _, err := m.AddInstance(h, mgl32.Translate3D(0, 0, z), 0); err != nil {
			t.Fatal(err)
		}
	}
	m.BuildOrRefreshTLAS()
	return NewScene(m), m
}

func TestIntersectClosestWins(t *testing.T) {
	s, _ := sceneWithQuads(t, 5, 2, 8)

	r, _ := core.NewRay(mgl32.Vec3{0, 0, -1}, mgl32.Vec3{0, 0, 1})
	hit := s.Intersect(r)

	if !hit.Hit {
		t.Fatal("expected a hit")
	}
	if math.Abs(float64(hit.T-3)) > 1e-4 {
		t.Errorf("closest quad is at z=2 (t=3), got t=%f", hit.T)
	}
	if hit.Instance != 1 {
		t.Errorf("hit instance = %d, want 1", hit.Instance)
	}
	if hit.Position.Sub(mgl32.Vec3{0, 0, 2}).Len() > 1e-4 {
		t.Errorf("hit position = %v", hit.Position)
	}
}

func TestIntersectNormalFacesRay(t *testing.T) {
	s, _ := sceneWithQuads(t, 0)

	front, _ := core.NewRay(mgl32.Vec3{0, 0, -4}, mgl32.Vec3{0, 0, 1})
	h := s.Intersect(front)
	if !h.Hit {
		t.Fatal("expected hit")
	}
	if math.Abs(float64(h.Normal.Len()-1)) > 1e-4 {
		t.Fatalf("normal not unit length: %v", h.Normal)
	}
	if h.Normal.Dot(front.Dir) >= 0 {
		t.Errorf("normal should face the incoming ray, got %v", h.Normal)
	}

	back, _ := core.NewRay(mgl32.Vec3{0, 0, 4}, mgl32.Vec3{0, 0, -1})
	h2 := s.Intersect(back)
	if !h2.Hit {
		t.Fatal("expected hit from behind")
	}
	if h2.Normal.Dot(back.Dir) >= 0 {
		t.Errorf("back-face normal should flip toward the ray, got %v", h2.Normal)
	}
}

func TestIntersectScaledInstanceWorldUnits(t *testing.T) {
	m := bvh.NewManager(0, 0)
	verts, indices := quadZ()
	h, err := m.CreateBLAS(verts, indices, false)
	if err != nil {
		t.Fatal(err)
	}
	// Scaled 3x and pushed to z=6: the quad spans [-3,3] in X/Y.
	o2w := mgl32.Translate3D(0, 0, 6).Mul4(mgl32.Scale3D(3, 3, 3))
	if _, err := m.AddInstance(h, o2w, 0); err != nil {
		t.Fatal(err)
	}
	m.BuildOrRefreshTLAS()
	s := NewScene(m)

	r, _ := core.NewRay(mgl32.Vec3{2.5, 0, 0}, mgl32.Vec3{0, 0, 1})
	hit := s.Intersect(r)
	if !hit.Hit {
		t.Fatal("scaled quad should be hit at x=2.5")
	}
	if math.Abs(float64(hit.T-6)) > 1e-3 {
		t.Errorf("t should be in world units: got %f, want 6", hit.T)
	}
}

func TestIntersectMissAndEmptyScene(t *testing.T) {
	s, _ := sceneWithQuads(t, 5)
	r, _ := core.NewRay(mgl32.Vec3{10, 10, 0}, mgl32.Vec3{0, 0, 1})
	if s.Intersect(r).Hit {
		t.Error("offset ray should miss")
	}

	empty := NewScene(bvh.NewManager(0, 0))
	if empty.Intersect(r).Hit {
		t.Error("empty scene cannot produce hits")
	}
	if empty.Occluded(r) {
		t.Error("empty scene cannot occlude")
	}
}

func TestOccludedAndVisible(t *testing.T) {
	s, _ := sceneWithQuads(t, 3)

	p := mgl32.Vec3{0, 0, 0}
	q := mgl32.Vec3{0, 0, 6}
	if s.Visible(p, q, 1e-3) {
		t.Error("quad at z=3 should block the segment")
	}

	side := mgl32.Vec3{5, 0, 6}
	if !s.Visible(mgl32.Vec3{5, 0, 0}, side, 1e-3) {
		t.Error("segment beside the quad should be clear")
	}

	// Segment ending before the quad is clear.
	if !s.Visible(p, mgl32.Vec3{0, 0, 2}, 1e-3) {
		t.Error("segment short of the quad should be clear")
	}
}

func TestIntersectRemovedInstanceInvisible(t *testing.T) {
	s, m := sceneWithQuads(t, 4)

	r, _ := core.NewRay(mgl32.Vec3{0, 0, 0}, mgl32.Vec3{0, 0, 1})
	if !s.Intersect(r).Hit {
		t.Fatal("expected initial hit")
	}

	if err := m.RemoveInstance(0); err != nil {
		t.Fatal(err)
	}
	m.BuildOrRefreshTLAS()

	if s.Intersect(r).Hit {
		t.Error("removed instance should not be hit")
	}
}

func TestIntersectManyTriangles(t *testing.T) {
	// A ribbon of triangles along X; checks deep BLAS traversal.
	var verts []mgl32.Vec3
	var indices []uint32
	for i := 0; i < 200; i++ {
		x := float32(i)
		base := uint32(len(verts))
		verts = append(verts,
			mgl32.Vec3{x, 0, 0},
			mgl32.Vec3{x + 1, 0, 0},
			mgl32.Vec3{x + 0.5, 1, 0},
		)
		indices = append(indices, base, base+1, base+2)
	}

	m := bvh.NewManager(0, 0)
	h, err := m.CreateBLAS(verts, indices, false)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.AddInstance(h, mgl32.Ident4(), 0); err != nil {
		t.Fatal(err)
	}
	m.BuildOrRefreshTLAS()
	s := NewScene(m)

	for _, x := range []float32{0.5, 57.5, 123.5, 199.5} {
		r, _ := core.NewRay(mgl32.Vec3{x, 0.25, -5}, mgl32.Vec3{0, 0, 1})
		hit := s.Intersect(r)
		if !hit.Hit {
			t.Errorf("ray at x=%f should hit the ribbon", x)
			continue
		}
		if math.Abs(float64(hit.T-5)) > 1e-3 {
			t.Errorf("ray at x=%f: t=%f, want 5", x, hit.T)
		}
	}
}
