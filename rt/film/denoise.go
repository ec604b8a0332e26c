package film

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Frame is one filterable image: accumulated radiance plus the primary-hit
// guides recorded alongside it. Filters rewrite Color in place and leave
// the guides untouched.
type Frame struct {
	Width  int
	Height int
	Color  []mgl32.Vec3
	Normal []mgl32.Vec3
	Depth  []float32
}

func (f *Frame) index(x, y int) int { return y*f.Width + x }

// Denoiser filters a frame in place. A nil denoiser, or one whose Apply
// fails, leaves the raw accumulation on screen; absence is not an error.
type Denoiser interface {
	Apply(f *Frame) error
}

const (
	defaultHistoryWeight = 0.7
	maxHistoryWeight     = 0.95
	defaultIterations    = 3
)

// atrousKernel is the 1D B3-spline footprint of one à-trous pass; the taps
// spread apart as the stride doubles.
var atrousKernel = [5]float32{1.0 / 16, 1.0 / 4, 3.0 / 8, 1.0 / 4, 1.0 / 16}

// SoftwareDenoiser blends the frame against its own filtered history, then
// runs an edge-aware à-trous wavelet filter guided by the primary normals
// and depth. It keeps per-resolution state and must not be shared between
// contexts.
type SoftwareDenoiser struct {
	HistoryWeight float32 // share of history in the temporal blend
	Iterations    int     // à-trous passes; the stride doubles each pass

	history    []mgl32.Vec3
	scratch    []mgl32.Vec3
	hasHistory bool
}

func NewSoftwareDenoiser() *SoftwareDenoiser {
	return &SoftwareDenoiser{
		HistoryWeight: defaultHistoryWeight,
		Iterations:    defaultIterations,
	}
}

// Reset drops the temporal history, e.g. after a camera cut.
func (d *SoftwareDenoiser) Reset() {
	d.hasHistory = false
}

func (d *SoftwareDenoiser) Apply(f *Frame) error {
	if f == nil {
		return fmt.Errorf("denoise: nil frame")
	}
	n := f.Width * f.Height
	if f.Width <= 0 || f.Height <= 0 ||
		len(f.Color) != n || len(f.Normal) != n || len(f.Depth) != n {
		return fmt.Errorf("denoise: frame buffers do not match %dx%d", f.Width, f.Height)
	}
	if len(d.history) != n {
		d.history = make([]mgl32.Vec3, n)
		d.scratch = make([]mgl32.Vec3, n)
		d.hasHistory = false
	}

	blend := d.HistoryWeight
	if blend > maxHistoryWeight {
		blend = maxHistoryWeight
	}
	if d.hasHistory && blend > 0 {
		for i, c := range f.Color {
			f.Color[i] = d.history[i].Mul(blend).Add(c.Mul(1 - blend))
		}
	}

	iters := d.Iterations
	if iters <= 0 {
		iters = defaultIterations
	}
	src, dst := f.Color, d.scratch
	stride := 1
	for i := 0; i < iters; i++ {
		atrousPass(f, src, dst, stride)
		src, dst = dst, src
		stride <<= 1
	}
	if iters%2 == 1 {
		copy(f.Color, src)
	}

	copy(d.history, f.Color)
	d.hasHistory = true
	return nil
}

// atrousPass runs one 5x5 cross-bilateral wavelet step from src into dst.
// Taps falling outside the frame are skipped and the remaining weight is
// renormalized; the center tap always contributes, so the denominator never
// vanishes.
func atrousPass(f *Frame, src, dst []mgl32.Vec3, stride int) {
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			i := f.index(x, y)
			np := f.Normal[i]
			dp := f.Depth[i]

			var sum mgl32.Vec3
			var wSum float32
			for ky := -2; ky <= 2; ky++ {
				qy := y + ky*stride
				if qy < 0 || qy >= f.Height {
					continue
				}
				for kx := -2; kx <= 2; kx++ {
					qx := x + kx*stride
					if qx < 0 || qx >= f.Width {
						continue
					}
					j := f.index(qx, qy)
					w := atrousKernel[kx+2] * atrousKernel[ky+2]
					if j != i {
						w *= normalWeight(np, f.Normal[j]) * depthWeight(dp, f.Depth[j])
						if w <= 0 {
							continue
						}
					}
					sum = sum.Add(src[j].Mul(w))
					wSum += w
				}
			}
			dst[i] = sum.Mul(1 / wSum)
		}
	}
}

// normalWeight falls off sharply as the guide normals diverge, keeping
// geometric edges out of each other's filter support.
func normalWeight(a, b mgl32.Vec3) float32 {
	d := a.Dot(b)
	if d <= 0 {
		return 0
	}
	d *= d
	d *= d
	d *= d
	d *= d
	d *= d // dot^32
	return d
}

// depthWeight compares primary depths with a tolerance that widens for
// distant hits. Hit and miss pixels never mix.
func depthWeight(dp, dq float32) float32 {
	if (dp < 0) != (dq < 0) {
		return 0
	}
	if dp < 0 {
		return 1
	}
	sigma := 0.1 * dp
	if sigma < 0.05 {
		sigma = 0.05
	}
	diff := dp - dq
	if diff < 0 {
		diff = -diff
	}
	return float32(math.Exp(float64(-diff / sigma)))
}
