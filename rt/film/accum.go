package film

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/helio3d/helio/rt/core"
)

// AccumBuffer holds the progressive estimate of the image: a per-pixel
// running mean of radiance samples, luminance moments for variance
// estimation, and the primary-hit guides recorded by the tile workers.
// Workers own disjoint tiles, so no locking happens here.
type AccumBuffer struct {
	width  int
	height int

	mean   []mgl32.Vec3
	lumM1  []float32 // mean luminance
	lumM2  []float32 // mean squared luminance
	count  []uint32
	normal []mgl32.Vec3
	depth  []float32
}

func NewAccumBuffer(width, height int) *AccumBuffer {
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}
	n := width * height
	return &AccumBuffer{
		width:  width,
		height: height,
		mean:   make([]mgl32.Vec3, n),
		lumM1:  make([]float32, n),
		lumM2:  make([]float32, n),
		count:  make([]uint32, n),
		normal: make([]mgl32.Vec3, n),
		depth:  make([]float32, n),
	}
}

func (a *AccumBuffer) Width() int  { return a.width }
func (a *AccumBuffer) Height() int { return a.height }

func (a *AccumBuffer) index(x, y int) int { return y*a.width + x }

// AccumulateSample folds one radiance sample into the pixel's running mean,
// mean' = mean + (c - mean)/(n+1), so the stored value is always the
// average of everything seen so far. Non-finite components are zeroed
// before they can poison the history.
func (a *AccumBuffer) AccumulateSample(x, y int, c mgl32.Vec3) {
	c = core.SanitizeColor(c)
	i := a.index(x, y)
	inv := 1 / float32(a.count[i]+1)

	a.mean[i] = a.mean[i].Add(c.Sub(a.mean[i]).Mul(inv))
	l := core.Luminance(c)
	a.lumM1[i] += (l - a.lumM1[i]) * inv
	a.lumM2[i] += (l*l - a.lumM2[i]) * inv
	a.count[i]++
}

// SetGuides records the primary-hit attributes for pixel (x, y); the last
// write wins. Depth is negative when the primary ray missed.
func (a *AccumBuffer) SetGuides(x, y int, normal mgl32.Vec3, depth float32) {
	i := a.index(x, y)
	a.normal[i] = normal
	a.depth[i] = depth
}

// Color returns the current pre-tonemap mean for pixel (x, y).
func (a *AccumBuffer) Color(x, y int) mgl32.Vec3 {
	return a.mean[a.index(x, y)]
}

func (a *AccumBuffer) SampleCount(x, y int) uint32 {
	return a.count[a.index(x, y)]
}

// Variance returns the unbiased sample variance of pixel luminance, zero
// until two samples exist.
func (a *AccumBuffer) Variance(x, y int) float32 {
	i := a.index(x, y)
	n := a.count[i]
	if n < 2 {
		return 0
	}
	v := a.lumM2[i] - a.lumM1[i]*a.lumM1[i]
	if v <= 0 {
		return 0
	}
	return v * float32(n) / float32(n-1)
}

// RelativeError estimates the standard error of the pixel mean relative to
// its brightness. Pixels with fewer than two samples report the maximum so
// the scheduler visits them first.
func (a *AccumBuffer) RelativeError(x, y int) float32 {
	i := a.index(x, y)
	n := a.count[i]
	if n < 2 {
		return math.MaxFloat32
	}
	se := math.Sqrt(float64(a.Variance(x, y)) / float64(n))
	ref := a.lumM1[i]
	if ref < 1e-3 {
		ref = 1e-3
	}
	return float32(se) / ref
}

// RegionError returns the worst RelativeError inside the half-open pixel
// rectangle [x0,x1)x[y0,y1). The tile scheduler ranks tiles by it.
func (a *AccumBuffer) RegionError(x0, y0, x1, y1 int) float32 {
	if x0 < 0 {
		x0 = 0
	}
	if y0 < 0 {
		y0 = 0
	}
	if x1 > a.width {
		x1 = a.width
	}
	if y1 > a.height {
		y1 = a.height
	}
	var worst float32
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			if e := a.RelativeError(x, y); e > worst {
				worst = e
			}
		}
	}
	return worst
}

// Reset zeroes means, moments, counts, and guides. Callers log why.
func (a *AccumBuffer) Reset() {
	for i := range a.mean {
		a.mean[i] = mgl32.Vec3{}
		a.lumM1[i] = 0
		a.lumM2[i] = 0
		a.count[i] = 0
		a.normal[i] = mgl32.Vec3{}
		a.depth[i] = 0
	}
}

// Snapshot copies the accumulated image into f for film-space filtering.
// Color is copied so filters never disturb the running mean; the guides are
// shared and must be treated as read-only.
func (a *AccumBuffer) Snapshot(f *Frame) {
	n := len(a.mean)
	f.Width = a.width
	f.Height = a.height
	if cap(f.Color) < n {
		f.Color = make([]mgl32.Vec3, n)
	}
	f.Color = f.Color[:n]
	copy(f.Color, a.mean)
	f.Normal = a.normal
	f.Depth = a.depth
}
