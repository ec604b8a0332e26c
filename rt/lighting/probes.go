package lighting

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/helio3d/helio/rt/core"
	"github.com/helio3d/helio/rt/shade"
)

// Probe holds an ambient-cube irradiance estimate: one value per axial
// face, plus the mean unoccluded distance seen during refresh. Buried or
// cornered probes report a short visibility and get discounted at gather.
type Probe struct {
	Irradiance [6]mgl32.Vec3 // +X -X +Y -Y +Z -Z
	MeanVis    float32
	Samples    uint32
}

// RadianceFn estimates incoming radiance along a ray; the integrator
// provides it during refresh. The second return is the hit distance, or a
// negative value on miss.
type RadianceFn func(r core.Ray) (mgl32.Vec3, float32)

// ProbeGrid is a fixed world-aligned lattice of probes refreshed a few at
// a time. Gather is a trilinear blend of the 8 surrounding probes, each
// weighted by normal alignment and visibility.
type ProbeGrid struct {
	Origin  mgl32.Vec3
	Spacing float32
	Dims    [3]int

	probes []Probe
	cursor int // round-robin refresh position
}

const probeRaysPerFace = 4

// NewProbeGrid lays out dims[0]*dims[1]*dims[2] probes from origin with the
// given spacing.
func NewProbeGrid(origin mgl32.Vec3, spacing float32, dims [3]int) *ProbeGrid {
	for i := range dims {
		if dims[i] < 1 {
			dims[i] = 1
		}
	}
	if spacing <= 0 {
		spacing = 4
	}
	return &ProbeGrid{
		Origin:  origin,
		Spacing: spacing,
		Dims:    dims,
		probes:  make([]Probe, dims[0]*dims[1]*dims[2]),
	}
}

func (g *ProbeGrid) ProbeCount() int {
	return len(g.probes)
}

func (g *ProbeGrid) probeAt(x, y, z int) *Probe {
	return &g.probes[(z*g.Dims[1]+y)*g.Dims[0]+x]
}

func (g *ProbeGrid) probePos(x, y, z int) mgl32.Vec3 {
	return g.Origin.Add(mgl32.Vec3{
		float32(x) * g.Spacing,
		float32(y) * g.Spacing,
		float32(z) * g.Spacing,
	})
}

var axialDirs = [6]mgl32.Vec3{
	{1, 0, 0}, {-1, 0, 0},
	{0, 1, 0}, {0, -1, 0},
	{0, 0, 1}, {0, 0, -1},
}

// SampleIrradiance interpolates the grid at p for a surface facing n.
// Positions outside the grid clamp to the boundary cell.
func (g *ProbeGrid) SampleIrradiance(p, n mgl32.Vec3) mgl32.Vec3 {
	local := p.Sub(g.Origin).Mul(1 / g.Spacing)

	var cell [3]int
	var frac [3]float32
	for a := 0; a < 3; a++ {
		f := float64(local[a])
		c := int(math.Floor(f))
		if c < 0 {
			c, f = 0, 0
		} else if c >= g.Dims[a]-1 {
			c = g.Dims[a] - 1
			if g.Dims[a] > 1 {
				c = g.Dims[a] - 2
				f = 1
			} else {
				f = 0
			}
		} else {
			f -= float64(c)
		}
		cell[a] = c
		frac[a] = float32(f)
	}

	var sum mgl32.Vec3
	var wSum float32
	for dz := 0; dz < 2; dz++ {
		z := clampDim(cell[2]+dz, g.Dims[2])
		wz := cornerWeight(frac[2], dz)
		for dy := 0; dy < 2; dy++ {
			y := clampDim(cell[1]+dy, g.Dims[1])
			wy := cornerWeight(frac[1], dy)
			for dx := 0; dx < 2; dx++ {
				x := clampDim(cell[0]+dx, g.Dims[0])
				w := cornerWeight(frac[0], dx) * wy * wz
				if w <= 0 {
					continue
				}

				probe := g.probeAt(x, y, z)
				dist := g.probePos(x, y, z).Sub(p).Len()
				w *= visibilityWeight(probe, dist)
				if w <= 0 {
					continue
				}

				sum = sum.Add(probe.Evaluate(n).Mul(w))
				wSum += w
			}
		}
	}

	if wSum <= 1e-6 {
		return mgl32.Vec3{}
	}
	return sum.Mul(1 / wSum)
}

// Evaluate projects the ambient cube onto a shading normal: each axial
// face contributes by the squared normal component on its side.
func (pr *Probe) Evaluate(n mgl32.Vec3) mgl32.Vec3 {
	var out mgl32.Vec3
	for a := 0; a < 3; a++ {
		w := n[a] * n[a]
		if n[a] >= 0 {
			out = out.Add(pr.Irradiance[2*a].Mul(w))
		} else {
			out = out.Add(pr.Irradiance[2*a+1].Mul(w))
		}
	}
	return out
}

// RefreshSome re-integrates up to budget probes in round-robin order and
// returns how many were refreshed. Each face fires a small cosine-weighted
// bundle through fn at reduced depth; results blend into the stored values
// so single noisy refreshes cannot flash the grid.
func (g *ProbeGrid) RefreshSome(budget int, fn RadianceFn, smp *shade.Sampler) int {
	if budget <= 0 || fn == nil || len(g.probes) == 0 {
		return 0
	}
	if budget > len(g.probes) {
		budget = len(g.probes)
	}

	refreshed := 0
	for ; refreshed < budget; refreshed++ {
		idx := g.cursor
		g.cursor = (g.cursor + 1) % len(g.probes)

		x := idx % g.Dims[0]
		y := (idx / g.Dims[0]) % g.Dims[1]
		z := idx / (g.Dims[0] * g.Dims[1])
		g.refreshProbe(g.probeAt(x, y, z), g.probePos(x, y, z), fn, smp)
	}
	return refreshed
}

func (g *ProbeGrid) refreshProbe(pr *Probe, pos mgl32.Vec3, fn RadianceFn, smp *shade.Sampler) {
	var visSum float32
	var visCount int

	for face := 0; face < 6; face++ {
		var acc mgl32.Vec3
		for i := 0; i < probeRaysPerFace; i++ {
			u1, u2 := smp.Float2()
			dir := shade.CosineSampleHemisphere(axialDirs[face], u1, u2)
			r, ok := core.NewRay(pos, dir)
			if !ok {
				continue
			}

			radiance, dist := fn(r)
			acc = acc.Add(core.SanitizeColor(radiance))

			if dist >= 0 {
				visSum += dist
			} else {
				visSum += g.Spacing * 4
			}
			visCount++
		}
		acc = acc.Mul(1.0 / probeRaysPerFace)

		// Cosine-weighted samples of radiance estimate irradiance/pi; the
		// ambient cube stores the reflected-ready value.
		blend := float32(0.25)
		if pr.Samples == 0 {
			blend = 1
		}
		pr.Irradiance[face] = pr.Irradiance[face].Add(acc.Sub(pr.Irradiance[face]).Mul(blend))
	}

	if visCount > 0 {
		newVis := visSum / float32(visCount)
		if pr.Samples == 0 {
			pr.MeanVis = newVis
		} else {
			pr.MeanVis += (newVis - pr.MeanVis) * 0.25
		}
	}
	pr.Samples++
}

// visibilityWeight discounts probes whose average sight distance is shorter
// than their distance to the receiver; such probes are likely on the far
// side of geometry.
func visibilityWeight(pr *Probe, dist float32) float32 {
	if pr.Samples == 0 {
		return 0
	}
	if dist <= 1e-4 || pr.MeanVis >= dist {
		return 1
	}
	w := pr.MeanVis / dist
	return w * w
}

func cornerWeight(frac float32, side int) float32 {
	if side == 0 {
		return 1 - frac
	}
	return frac
}

func clampDim(v, dim int) int {
	if v < 0 {
		return 0
	}
	if v >= dim {
		return dim - 1
	}
	return v
}
