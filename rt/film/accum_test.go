package film

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/helio3d/helio/rt/core"
)

func TestAccumulateMatchesArithmeticMean(t *testing.T) {
	a := NewAccumBuffer(4, 4)
	for i := 1; i <= 4; i++ {
		v := float32(i)
		a.AccumulateSample(1, 2, mgl32.Vec3{v, v, v})
	}

	got := a.Color(1, 2)
	for i := 0; i < 3; i++ {
		if math.Abs(float64(got[i])-2.5) > 1e-5 {
			t.Fatalf("mean = %v, want 2.5 per channel", got)
		}
	}
	if a.SampleCount(1, 2) != 4 {
		t.Errorf("count = %d, want 4", a.SampleCount(1, 2))
	}
	if a.Color(0, 0) != (mgl32.Vec3{}) {
		t.Errorf("untouched pixel should stay zero, got %v", a.Color(0, 0))
	}
}

func TestAccumulateSanitizesSamples(t *testing.T) {
	a := NewAccumBuffer(2, 2)
	nan := float32(math.NaN())
	a.AccumulateSample(0, 0, mgl32.Vec3{nan, nan, nan})
	a.AccumulateSample(0, 0, mgl32.Vec3{2, 0, 0})

	got := a.Color(0, 0)
	if !core.IsFiniteVec(got) {
		t.Fatalf("mean went non-finite: %v", got)
	}
	if math.Abs(float64(got.X())-1) > 1e-6 {
		t.Errorf("NaN sample should count as zero, mean = %v", got)
	}
	if a.SampleCount(0, 0) != 2 {
		t.Errorf("count = %d, want 2", a.SampleCount(0, 0))
	}
}

// Alternating grey samples with luminances 0 and 2: the population variance
// is 1, so the unbiased estimate is n/(n-1).
func alternatingGreys(a *AccumBuffer, x, y, n int) {
	for i := 0; i < n; i++ {
		v := float32(2 * (i % 2))
		a.AccumulateSample(x, y, mgl32.Vec3{v, v, v})
	}
}

func TestVarianceAndRelativeError(t *testing.T) {
	a := NewAccumBuffer(2, 2)

	if a.RelativeError(0, 0) != math.MaxFloat32 {
		t.Error("unsampled pixel should report the maximum error")
	}
	a.AccumulateSample(0, 0, mgl32.Vec3{1, 1, 1})
	if a.Variance(0, 0) != 0 {
		t.Error("one sample has no variance estimate")
	}
	if a.RelativeError(0, 0) != math.MaxFloat32 {
		t.Error("one sample should still report the maximum error")
	}

	alternatingGreys(a, 1, 0, 8)
	want := 8.0 / 7.0
	if v := a.Variance(1, 0); math.Abs(float64(v)-want) > 2e-2 {
		t.Errorf("variance = %v, want ~%v", v, want)
	}
	wantErr := math.Sqrt(want/8) / 1.0
	if e := a.RelativeError(1, 0); math.Abs(float64(e)-wantErr) > 2e-2 {
		t.Errorf("relative error = %v, want ~%v", e, wantErr)
	}

	// Constant pixels converge immediately.
	a.AccumulateSample(0, 1, mgl32.Vec3{3, 3, 3})
	a.AccumulateSample(0, 1, mgl32.Vec3{3, 3, 3})
	if e := a.RelativeError(0, 1); e > 1e-3 {
		t.Errorf("constant pixel error = %v, want ~0", e)
	}
}

func TestRelativeErrorShrinksWithSamples(t *testing.T) {
	a := NewAccumBuffer(2, 1)
	alternatingGreys(a, 0, 0, 4)
	alternatingGreys(a, 1, 0, 64)

	few := a.RelativeError(0, 0)
	many := a.RelativeError(1, 0)
	if many >= few {
		t.Errorf("error should shrink with samples: 4 spp %v, 64 spp %v", few, many)
	}
}

func TestRegionErrorTracksWorstPixel(t *testing.T) {
	a := NewAccumBuffer(4, 4)
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			a.AccumulateSample(x, y, mgl32.Vec3{1, 1, 1})
			a.AccumulateSample(x, y, mgl32.Vec3{1, 1, 1})
		}
	}
	alternatingGreys(a, 2, 1, 8)

	if e := a.RegionError(0, 0, 4, 4); e <= 0 {
		t.Errorf("region holding a noisy pixel should rank above zero, got %v", e)
	}
	if e := a.RegionError(0, 2, 4, 4); e > 1e-3 {
		t.Errorf("converged region error = %v, want ~0", e)
	}
	// Out-of-range rectangles clamp instead of panicking.
	if e := a.RegionError(-5, -5, 50, 50); e <= 0 {
		t.Errorf("clamped region error = %v, want > 0", e)
	}
}

func TestResetZeroes(t *testing.T) {
	a := NewAccumBuffer(2, 2)
	alternatingGreys(a, 1, 1, 8)
	a.SetGuides(1, 1, mgl32.Vec3{0, 0, 1}, 7)

	a.Reset()

	if a.Color(1, 1) != (mgl32.Vec3{}) || a.SampleCount(1, 1) != 0 {
		t.Errorf("reset left color %v count %d", a.Color(1, 1), a.SampleCount(1, 1))
	}
	if a.Variance(1, 1) != 0 {
		t.Error("reset should clear moments")
	}
	var f Frame
	a.Snapshot(&f)
	if f.Normal[a.index(1, 1)] != (mgl32.Vec3{}) || f.Depth[a.index(1, 1)] != 0 {
		t.Error("reset should clear guides")
	}
}

func TestSnapshotCopiesColorSharesGuides(t *testing.T) {
	a := NewAccumBuffer(3, 2)
	a.AccumulateSample(0, 0, mgl32.Vec3{1, 2, 3})
	a.SetGuides(0, 0, mgl32.Vec3{0, 0, 1}, 4)

	var f Frame
	a.Snapshot(&f)
	if f.Width != 3 || f.Height != 2 || len(f.Color) != 6 {
		t.Fatalf("snapshot shape %dx%d len %d", f.Width, f.Height, len(f.Color))
	}
	if f.Color[0] != (mgl32.Vec3{1, 2, 3}) {
		t.Errorf("snapshot color = %v", f.Color[0])
	}
	if f.Normal[0] != (mgl32.Vec3{0, 0, 1}) || f.Depth[0] != 4 {
		t.Errorf("snapshot guides = %v %v", f.Normal[0], f.Depth[0])
	}

	// Filters write Color in place; the running mean must not move.
	f.Color[0] = mgl32.Vec3{9, 9, 9}
	if a.Color(0, 0) != (mgl32.Vec3{1, 2, 3}) {
		t.Errorf("snapshot aliased the accumulator: %v", a.Color(0, 0))
	}
}
