package integrator

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/helio3d/helio/rt/core"
	"github.com/helio3d/helio/rt/lighting"
	"github.com/helio3d/helio/rt/shade"
	"github.com/helio3d/helio/rt/trace"
)

// Environment supplies incoming radiance for rays that leave the scene.
// Hosts install their own sampler through SetEnvironment; the built-ins
// cover the common cases.
type Environment func(dir mgl32.Vec3) mgl32.Vec3

// ConstantEnvironment returns the same radiance for every direction.
func ConstantEnvironment(c mgl32.Vec3) Environment {
	return func(mgl32.Vec3) mgl32.Vec3 { return c }
}

// GradientEnvironment blends from horizon to zenith across the upper
// hemisphere (Z up) and holds the horizon color below it.
func GradientEnvironment(horizon, zenith mgl32.Vec3) Environment {
	return func(dir mgl32.Vec3) mgl32.Vec3 {
		t := dir.Z()
		if t < 0 {
			t = 0
		}
		return horizon.Mul(1 - t).Add(zenith.Mul(t))
	}
}

// Default sky used until a host installs its own environment. Both backends
// read these, so the gradient matches across software and hardware frames.
var (
	DefaultHorizon = mgl32.Vec3{0.09, 0.10, 0.12}
	DefaultZenith  = mgl32.Vec3{0.20, 0.28, 0.42}
)

const (
	rrFloor = 0.5
	rrCeil  = 0.95

	// Probe refresh rays walk at most this deep.
	probeTraceDepth = 2
)

// Params bounds the bounce loop. Zero values pick defaults; a negative
// CacheMinDepth or ProbeDepth disables that reuse stage.
type Params struct {
	MaxDepth      int // bounce count limit
	RRStartDepth  int // first depth where Russian roulette may kill a path
	CacheMinDepth int // first depth where the light cache serves diffuse hits
	ProbeDepth    int // depth where diffuse paths finish on the probe grid
}

func (p Params) normalized() Params {
	if p.MaxDepth < 1 {
		p.MaxDepth = 4
	}
	if p.RRStartDepth < 1 {
		p.RRStartDepth = 2
	}
	if p.CacheMinDepth == 0 {
		p.CacheMinDepth = 1
	}
	if p.ProbeDepth == 0 {
		p.ProbeDepth = 2
	}
	return p
}

// Scratch is per-worker working state. Reusing it keeps the bounce loop free
// of allocation; counters reset each frame and roll up into the profiler.
type Scratch struct {
	Sampler *shade.Sampler
	Rays    uint64
	NaNs    uint64 // samples zeroed by the finite guards
}

func NewScratch(seed int64) *Scratch {
	return &Scratch{Sampler: shade.NewSampler(seed)}
}

func (sc *Scratch) ResetCounters() {
	sc.Rays, sc.NaNs = 0, 0
}

// Integrator estimates radiance along rays with an iterative bounce loop.
// Configuration is fixed while a frame is in flight: tile workers share one
// instance read-only plus a Scratch each.
type Integrator struct {
	scene     *trace.Scene
	materials core.MaterialSource
	lights    []core.Light
	cache     *lighting.Cache
	probes    *lighting.ProbeGrid
	env       Environment
	params    Params
	frame     uint64
}

func New(scene *trace.Scene, materials core.MaterialSource, params Params) *Integrator {
	return &Integrator{
		scene:     scene,
		materials: materials,
		env:       GradientEnvironment(DefaultHorizon, DefaultZenith),
		params:    params.normalized(),
	}
}

// SetLights replaces the analytic light set. Call between frames only.
func (in *Integrator) SetLights(lights []core.Light) {
	in.lights = lights
}

// SetMaterials swaps the material source. Call between frames only.
func (in *Integrator) SetMaterials(src core.MaterialSource) {
	if src != nil {
		in.materials = src
	}
}

// UseCache attaches a light cache for diffuse indirect reuse.
func (in *Integrator) UseCache(c *lighting.Cache) {
	in.cache = c
}

// UseProbes attaches an irradiance probe grid for deep diffuse termination.
func (in *Integrator) UseProbes(g *lighting.ProbeGrid) {
	in.probes = g
}

func (in *Integrator) SetEnvironment(e Environment) {
	if e != nil {
		in.env = e
	}
}

// BeginFrame stamps cache reinforcement and decay with the frame index.
func (in *Integrator) BeginFrame(frame uint64) {
	in.frame = frame
}

// Aux carries primary-hit attributes for film-space filters. Depth is
// negative on a miss and Normal is zero.
type Aux struct {
	Depth  float32
	Normal mgl32.Vec3
}

// Trace estimates incoming radiance along a primary ray and reports the
// primary-hit attributes used as denoiser guides.
func (in *Integrator) Trace(r core.Ray, sc *Scratch) (mgl32.Vec3, Aux) {
	return in.walk(r, sc, in.params.MaxDepth, true)
}

// Radiance is Trace without the film guides.
func (in *Integrator) Radiance(r core.Ray, sc *Scratch) mgl32.Vec3 {
	c, _ := in.walk(r, sc, in.params.MaxDepth, true)
	return c
}

// ProbeRadiance serves probe refresh rays: a shortened walk that bypasses
// the cache and the probe grid so the grid never feeds itself. The second
// return is the primary hit distance, negative on miss.
func (in *Integrator) ProbeRadiance(r core.Ray, sc *Scratch) (mgl32.Vec3, float32) {
	depth := probeTraceDepth
	if in.params.MaxDepth < depth {
		depth = in.params.MaxDepth
	}
	c, aux := in.walk(r, sc, depth, false)
	return c, aux.Depth
}

// walk is the integrator loop. Depth 0 is the primary segment, every later
// iteration one bounce; each break below is a termination state. reuse
// enables the cache and probe stages.
func (in *Integrator) walk(r core.Ray, sc *Scratch, maxDepth int, reuse bool) (mgl32.Vec3, Aux) {
	var (
		radiance   mgl32.Vec3
		throughput = mgl32.Vec3{1, 1, 1}
		aux        = Aux{Depth: -1}
		prevSpec   = false
	)

	// Pending cache write, registered at the first cacheable diffuse hit
	// and resolved once the walk ends.
	var (
		cachePending         bool
		cachePos, cacheNorm  mgl32.Vec3
		cacheBase, cacheTput mgl32.Vec3
	)

	for depth := 0; depth < maxDepth; depth++ {
		sc.Rays++
		hit := in.scene.Intersect(r)
		if !hit.Hit {
			sky := core.SanitizeColor(in.env(r.Dir))
			radiance = radiance.Add(core.MulVec(throughput, sky))
			break
		}
		if depth == 0 {
			aux.Depth = hit.T
			aux.Normal = hit.Normal
		}

		mat := in.materials.QueryMaterial(hit.Instance, hit.Primitive, hit.U, hit.V).Clamped()

		// Emission counts when seen directly or through a specular chain;
		// diffuse transport carries emitters via lights and the cache.
		if depth == 0 || prevSpec {
			radiance = radiance.Add(core.MulVec(throughput, core.SanitizeColor(mat.Emission)))
		}

		// Stochastic transmission through transparent surfaces.
		if mat.Transparency > 0 && sc.Sampler.Float() < mat.Transparency {
			next, tint, ok := transmit(r, hit, mat, sc.Sampler)
			if !ok {
				break
			}
			throughput = core.MulVec(throughput, tint)
			r = next
			prevSpec = true
			continue
		}

		view := r.Dir.Mul(-1)
		direct := lighting.SampleOneLight(in.scene, in.lights, hit.Position, hit.Normal, view, mat, sc.Sampler)
		radiance = radiance.Add(core.MulVec(throughput, direct))

		if reuse && diffuseSurface(mat) {
			if in.cache != nil && in.params.CacheMinDepth >= 0 && depth >= in.params.CacheMinDepth {
				if cached, _, ok := in.cache.Query(hit.Position, hit.Normal, in.frame); ok {
					radiance = radiance.Add(core.MulVec(throughput, cached))
					break
				}
				if !cachePending {
					cachePending = true
					cachePos, cacheNorm = hit.Position, hit.Normal
					cacheBase, cacheTput = radiance, throughput
				}
			}
			if in.probes != nil && in.params.ProbeDepth >= 0 && depth >= in.params.ProbeDepth {
				gathered := in.probes.SampleIrradiance(hit.Position, hit.Normal)
				bounce := core.MulVec(mat.Albedo, gathered)
				radiance = radiance.Add(core.MulVec(throughput, bounce))
				break
			}
		}

		smp, ok := shade.SampleBRDF(view, hit.Normal, mat, sc.Sampler)
		if !ok {
			break
		}
		throughput = core.MulVec(throughput, smp.Weight)
		if core.MaxComponent(throughput) <= 0 {
			break
		}
		if !core.IsFiniteVec(throughput) {
			sc.NaNs++
			return mgl32.Vec3{}, aux
		}

		if depth+1 >= in.params.RRStartDepth {
			p := core.Luminance(throughput)
			if p < rrFloor {
				p = rrFloor
			} else if p > rrCeil {
				p = rrCeil
			}
			if sc.Sampler.Float() >= p {
				break
			}
			throughput = throughput.Mul(1 / p)
		}

		next, ok := core.NewRay(hit.Position, smp.Dir)
		if !ok {
			break
		}
		next.Depth = depth + 1
		next.IOR = r.IOR
		r = next
		prevSpec = smp.Specular
	}

	if !core.IsFiniteVec(radiance) {
		sc.NaNs++
		return mgl32.Vec3{}, aux
	}

	if cachePending {
		indirect := divideThroughput(radiance.Sub(cacheBase), cacheTput)
		in.cache.Update(cachePos, cacheNorm, indirect, in.frame)
	}

	return radiance, aux
}

// transmit continues a path through a dielectric boundary: Schlick-weighted
// choice between reflection and refraction, with total internal reflection
// forcing the reflective branch. The refracted branch is tinted by albedo.
func transmit(r core.Ray, hit core.HitInfo, mat core.MaterialSample, smp *shade.Sampler) (core.Ray, mgl32.Vec3, bool) {
	outIOR := mat.IOR
	if !hit.FrontFace {
		outIOR = 1.0
	}
	eta := r.IOR / outIOR

	cosTheta := -r.Dir.Dot(hit.Normal)
	if cosTheta > 1 {
		cosTheta = 1
	}

	dir, canRefract := shade.Refract(r.Dir, hit.Normal, eta)
	tint := mgl32.Vec3{1, 1, 1}
	newIOR := r.IOR

	if canRefract && smp.Float() >= shade.Reflectance(cosTheta, eta) {
		tint = mat.Albedo
		newIOR = outIOR
	} else {
		dir = shade.Reflect(r.Dir, hit.Normal)
	}

	next, ok := core.NewRay(hit.Position, dir)
	if !ok {
		return core.Ray{}, mgl32.Vec3{}, false
	}
	next.Depth = r.Depth + 1
	next.IOR = newIOR
	return next, tint, true
}

// diffuseSurface gates cache and probe reuse to surfaces broad enough for a
// positional estimate to transfer.
func diffuseSurface(m core.MaterialSample) bool {
	return m.Transparency <= 0 && m.Metallic < 0.5 && m.Roughness >= 0.25
}

// divideThroughput recovers the onward estimate at a path vertex. Channels
// whose throughput collapsed carry no signal and stay zero, as does any
// negative residue from float cancellation.
func divideThroughput(num, den mgl32.Vec3) mgl32.Vec3 {
	var out mgl32.Vec3
	for i := 0; i < 3; i++ {
		if den[i] > 1e-6 && num[i] > 0 {
			out[i] = num[i] / den[i]
		}
	}
	return out
}
