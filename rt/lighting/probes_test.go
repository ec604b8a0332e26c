package lighting

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/helio3d/helio/rt/core"
	"github.com/helio3d/helio/rt/shade"
)

// seedUniform marks every probe as sampled with a long sight distance and
// the given value on all six faces.
func seedUniform(g *ProbeGrid, v mgl32.Vec3) {
	for i := range g.probes {
		for f := 0; f < 6; f++ {
			g.probes[i].Irradiance[f] = v
		}
		g.probes[i].MeanVis = 1e6
		g.probes[i].Samples = 1
	}
}

func TestProbeEvaluateAxial(t *testing.T) {
	var pr Probe
	pr.Irradiance[0] = mgl32.Vec3{1, 0, 0} // +X
	pr.Irradiance[4] = mgl32.Vec3{0, 0, 1} // +Z

	if got := pr.Evaluate(mgl32.Vec3{1, 0, 0}); got != (mgl32.Vec3{1, 0, 0}) {
		t.Errorf("+X normal: got %v", got)
	}
	if got := pr.Evaluate(mgl32.Vec3{0, 0, 1}); got != (mgl32.Vec3{0, 0, 1}) {
		t.Errorf("+Z normal: got %v", got)
	}
	if got := pr.Evaluate(mgl32.Vec3{-1, 0, 0}); got != (mgl32.Vec3{}) {
		t.Errorf("-X normal should see the dark face, got %v", got)
	}

	// A diagonal normal blends faces by squared components.
	diag := mgl32.Vec3{1, 0, 1}.Normalize()
	got := pr.Evaluate(diag)
	want := mgl32.Vec3{0.5, 0, 0.5}
	if got.Sub(want).Len() > 1e-5 {
		t.Errorf("diagonal normal: got %v, want %v", got, want)
	}
}

func TestSampleIrradianceAtProbeExact(t *testing.T) {
	g := NewProbeGrid(mgl32.Vec3{0, 0, 0}, 4, [3]int{2, 2, 2})
	seedUniform(g, mgl32.Vec3{})
	corner := g.probeAt(0, 0, 0)
	for f := 0; f < 6; f++ {
		corner.Irradiance[f] = mgl32.Vec3{2, 4, 6}
	}

	got := g.SampleIrradiance(g.probePos(0, 0, 0), mgl32.Vec3{0, 0, 1})
	want := mgl32.Vec3{2, 4, 6}
	if got.Sub(want).Len() > 1e-4 {
		t.Errorf("at the probe, got %v, want %v", got, want)
	}

	far := g.SampleIrradiance(g.probePos(1, 1, 1), mgl32.Vec3{0, 0, 1})
	if far != (mgl32.Vec3{}) {
		t.Errorf("opposite corner should read the dark probes, got %v", far)
	}
}

func TestSampleIrradianceMidCellBlend(t *testing.T) {
	g := NewProbeGrid(mgl32.Vec3{0, 0, 0}, 4, [3]int{2, 2, 2})
	seedUniform(g, mgl32.Vec3{1, 2, 3})

	mid := mgl32.Vec3{2, 2, 2}
	got := g.SampleIrradiance(mid, mgl32.Vec3{0, 1, 0})
	want := mgl32.Vec3{1, 2, 3}
	if got.Sub(want).Len() > 1e-4 {
		t.Errorf("uniform grid should interpolate to itself, got %v", got)
	}

	// Brighten the x=1 plane; the midpoint should land halfway.
	for z := 0; z < 2; z++ {
		for y := 0; y < 2; y++ {
			for f := 0; f < 6; f++ {
				g.probeAt(1, y, z).Irradiance[f] = mgl32.Vec3{3, 2, 3}
			}
		}
	}
	got = g.SampleIrradiance(mid, mgl32.Vec3{0, 1, 0})
	want = mgl32.Vec3{2, 2, 3}
	if got.Sub(want).Len() > 1e-4 {
		t.Errorf("midpoint blend: got %v, want %v", got, want)
	}
}

func TestSampleIrradianceClampsOutside(t *testing.T) {
	g := NewProbeGrid(mgl32.Vec3{0, 0, 0}, 4, [3]int{2, 2, 2})
	seedUniform(g, mgl32.Vec3{1, 1, 1})
	for f := 0; f < 6; f++ {
		g.probeAt(1, 1, 1).Irradiance[f] = mgl32.Vec3{5, 5, 5}
	}

	got := g.SampleIrradiance(mgl32.Vec3{100, 100, 100}, mgl32.Vec3{0, 0, 1})
	want := mgl32.Vec3{5, 5, 5}
	if got.Sub(want).Len() > 1e-3 {
		t.Errorf("outside the grid should clamp to the nearest probe, got %v", got)
	}
}

func TestSampleIrradianceSkipsUnsampledProbes(t *testing.T) {
	g := NewProbeGrid(mgl32.Vec3{0, 0, 0}, 4, [3]int{2, 2, 2})
	if got := g.SampleIrradiance(mgl32.Vec3{2, 2, 2}, mgl32.Vec3{0, 0, 1}); got != (mgl32.Vec3{}) {
		t.Errorf("unrefreshed grid should contribute nothing, got %v", got)
	}
}

func TestVisibilityWeight(t *testing.T) {
	var pr Probe
	if w := visibilityWeight(&pr, 1); w != 0 {
		t.Errorf("unsampled probe: got %v, want 0", w)
	}
	pr.Samples = 1
	pr.MeanVis = 10
	if w := visibilityWeight(&pr, 5); w != 1 {
		t.Errorf("probe that sees past the receiver: got %v, want 1", w)
	}
	if w := visibilityWeight(&pr, 20); w <= 0 || w >= 1 {
		t.Errorf("probe behind geometry should be discounted, got %v", w)
	}
}

func TestRefreshSomeRoundRobin(t *testing.T) {
	g := NewProbeGrid(mgl32.Vec3{0, 0, 0}, 4, [3]int{2, 1, 1})
	smp := shade.NewSampler(11)

	origins := map[float32]int{}
	fn := func(r core.Ray) (mgl32.Vec3, float32) {
		origins[r.Origin.X()]++
		return mgl32.Vec3{1, 2, 3}, -1
	}

	if n := g.RefreshSome(1, fn, smp); n != 1 {
		t.Fatalf("refreshed %d probes, want 1", n)
	}
	if n := g.RefreshSome(1, fn, smp); n != 1 {
		t.Fatalf("refreshed %d probes, want 1", n)
	}
	if len(origins) != 2 {
		t.Errorf("round robin should visit both probes, origins: %v", origins)
	}

	// Constant radiance on every face lands unchanged in the cube.
	got := g.SampleIrradiance(g.probePos(0, 0, 0), mgl32.Vec3{0, 0, 1})
	want := mgl32.Vec3{1, 2, 3}
	if got.Sub(want).Len() > 1e-4 {
		t.Errorf("refreshed probe reads %v, want %v", got, want)
	}
}

func TestRefreshBlendsOverTime(t *testing.T) {
	g := NewProbeGrid(mgl32.Vec3{0, 0, 0}, 4, [3]int{1, 1, 1})
	smp := shade.NewSampler(3)

	bright := func(core.Ray) (mgl32.Vec3, float32) { return mgl32.Vec3{4, 4, 4}, -1 }
	dark := func(core.Ray) (mgl32.Vec3, float32) { return mgl32.Vec3{}, -1 }

	g.RefreshSome(1, bright, smp)
	g.RefreshSome(1, dark, smp)

	got := g.SampleIrradiance(g.probePos(0, 0, 0), mgl32.Vec3{0, 0, 1})
	want := mgl32.Vec3{3, 3, 3} // one quarter of the way toward dark
	if got.Sub(want).Len() > 1e-4 {
		t.Errorf("blended probe reads %v, want %v", got, want)
	}
}

func TestRefreshBudgetClamped(t *testing.T) {
	g := NewProbeGrid(mgl32.Vec3{0, 0, 0}, 4, [3]int{2, 1, 1})
	smp := shade.NewSampler(5)
	fn := func(core.Ray) (mgl32.Vec3, float32) { return mgl32.Vec3{}, -1 }

	if n := g.RefreshSome(100, fn, smp); n != 2 {
		t.Errorf("budget should clamp to the probe count, got %d", n)
	}
	if n := g.RefreshSome(0, fn, smp); n != 0 {
		t.Errorf("zero budget should refresh nothing, got %d", n)
	}
	if n := g.RefreshSome(1, nil, smp); n != 0 {
		t.Errorf("nil radiance source should refresh nothing, got %d", n)
	}
}
