package shade

import (
	"math"
	"math/rand"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/helio3d/helio/rt/core"
)

// Sampler wraps a per-worker random source. Each tile worker owns one, so
// no locking happens on the sample path.
type Sampler struct {
	rng *rand.Rand
}

func NewSampler(seed int64) *Sampler {
	return &Sampler{rng: rand.New(rand.NewSource(seed))}
}

// Reseed restarts the sequence. The tile scheduler reseeds per tile so a
// tile's samples depend only on the configured seed, the tile, and the
// frame, not on which worker picked it up.
func (s *Sampler) Reseed(seed int64) {
	s.rng.Seed(seed)
}

func (s *Sampler) Float() float32 {
	return float32(s.rng.Float64())
}

func (s *Sampler) Float2() (float32, float32) {
	return float32(s.rng.Float64()), float32(s.rng.Float64())
}

// OrthonormalBasis builds tangent and bitangent around a unit normal.
func OrthonormalBasis(n mgl32.Vec3) (mgl32.Vec3, mgl32.Vec3) {
	var nt mgl32.Vec3
	if math.Abs(float64(n.X())) > 0.1 {
		nt = mgl32.Vec3{0, 1, 0}
	} else {
		nt = mgl32.Vec3{1, 0, 0}
	}
	tangent := nt.Cross(n).Normalize()
	bitangent := n.Cross(tangent)
	return tangent, bitangent
}

// CosineSampleHemisphere draws a cosine-weighted direction around the
// normal; the matching pdf is cos(theta)/pi.
func CosineSampleHemisphere(n mgl32.Vec3, u1, u2 float32) mgl32.Vec3 {
	a := 2 * math.Pi * float64(u1)
	r := math.Sqrt(float64(u2))

	x := float32(r * math.Cos(a))
	y := float32(r * math.Sin(a))
	z := float32(math.Sqrt(math.Max(0, 1-float64(u2))))

	tangent, bitangent := OrthonormalBasis(n)
	return tangent.Mul(x).Add(bitangent.Mul(y)).Add(n.Mul(z))
}

// Reflect mirrors v about n: v - 2*dot(v,n)*n.
func Reflect(v, n mgl32.Vec3) mgl32.Vec3 {
	return v.Sub(n.Mul(2 * v.Dot(n)))
}

// Refract bends a unit incident direction through a surface with the given
// ratio of refraction indices. ok is false under total internal reflection.
func Refract(v, n mgl32.Vec3, etaRatio float32) (mgl32.Vec3, bool) {
	cosTheta := float32(math.Min(float64(-v.Dot(n)), 1.0))
	sinTheta2 := 1 - cosTheta*cosTheta
	if etaRatio*etaRatio*sinTheta2 > 1 {
		return mgl32.Vec3{}, false
	}
	outPerp := v.Add(n.Mul(cosTheta)).Mul(etaRatio)
	outParallel := n.Mul(-float32(math.Sqrt(math.Abs(float64(1 - outPerp.LenSqr())))))
	return outPerp.Add(outParallel), true
}

// Reflectance is Schlick's approximation of Fresnel reflectance for a
// dielectric boundary.
func Reflectance(cosine, etaRatio float32) float32 {
	r0 := (1 - etaRatio) / (1 + etaRatio)
	r0 = r0 * r0
	return r0 + (1-r0)*float32(math.Pow(float64(1-cosine), 5))
}

// BRDFSample is one importance-sampled continuation direction. Weight is
// f * cos / pdf, ready to fold into path throughput.
type BRDFSample struct {
	Dir      mgl32.Vec3
	PDF      float32
	Weight   mgl32.Vec3
	Specular bool
}

const sampleRetries = 4

// SampleBRDF draws a continuation direction for the Cook-Torrance surface,
// choosing stochastically between the cosine-weighted diffuse lobe and the
// GGX specular lobe. Below-horizon draws retry a bounded number of times
// and then fall back to the shading normal; ok is false only when even the
// fallback carries no energy.
func SampleBRDF(view, normal mgl32.Vec3, mat core.MaterialSample, s *Sampler) (BRDFSample, bool) {
	if normal.Dot(view) <= 0 {
		return BRDFSample{}, false
	}

	pSpec := specularProbability(mat)

	for i := 0; i < sampleRetries; i++ {
		var dir mgl32.Vec3
		specular := s.Float() < pSpec

		u1, u2 := s.Float2()
		if specular {
			half := sampleGGXHalf(normal, mat.Roughness*mat.Roughness, u1, u2)
			dir = Reflect(view.Mul(-1), half)
		} else {
			dir = CosineSampleHemisphere(normal, u1, u2)
		}

		if normal.Dot(dir) <= 0 {
			continue
		}
		if smp, ok := finishSample(view, dir, normal, mat, pSpec, specular); ok {
			return smp, true
		}
	}

	// Fallback: continue along the shading normal.
	if smp, ok := finishSample(view, normal, normal, mat, pSpec, false); ok {
		return smp, true
	}
	return BRDFSample{}, false
}

func finishSample(view, dir, normal mgl32.Vec3, mat core.MaterialSample, pSpec float32, specular bool) (BRDFSample, bool) {
	pdf := combinedPDF(view, dir, normal, mat, pSpec)
	if pdf <= 1e-6 || !core.IsFinite(pdf) {
		return BRDFSample{}, false
	}

	nl := normal.Dot(dir)
	f := EvaluateBRDF(view, dir, normal, mat)
	weight := core.SanitizeColor(f.Mul(nl / pdf))

	return BRDFSample{
		Dir:      dir,
		PDF:      pdf,
		Weight:   weight,
		Specular: specular,
	}, true
}

// combinedPDF is the one-sample mixture density over both lobes.
func combinedPDF(view, dir, normal mgl32.Vec3, mat core.MaterialSample, pSpec float32) float32 {
	nl := normal.Dot(dir)
	if nl <= 0 {
		return 0
	}

	diffusePDF := nl / math.Pi

	specPDF := float32(0)
	half := view.Add(dir)
	if half.LenSqr() > 1e-12 {
		half = half.Normalize()
		nh := normal.Dot(half)
		vh := view.Dot(half)
		if nh > 0 && vh > 0 {
			alpha := mat.Roughness * mat.Roughness
			specPDF = ggxD(nh, alpha) * nh / (4 * vh)
		}
	}

	return pSpec*specPDF + (1-pSpec)*diffusePDF
}

// sampleGGXHalf draws a half vector from the GGX distribution around the
// normal.
func sampleGGXHalf(n mgl32.Vec3, alpha float32, u1, u2 float32) mgl32.Vec3 {
	a2 := float64(alpha * alpha)
	cosTheta := math.Sqrt((1 - float64(u1)) / (1 + (a2-1)*float64(u1)))
	sinTheta := math.Sqrt(math.Max(0, 1-cosTheta*cosTheta))
	phi := 2 * math.Pi * float64(u2)

	x := float32(sinTheta * math.Cos(phi))
	y := float32(sinTheta * math.Sin(phi))
	z := float32(cosTheta)

	tangent, bitangent := OrthonormalBasis(n)
	return tangent.Mul(x).Add(bitangent.Mul(y)).Add(n.Mul(z))
}

// specularProbability estimates how much of the reflected energy the
// specular lobe carries, clamped away from 0 and 1 so neither lobe starves.
func specularProbability(mat core.MaterialSample) float32 {
	specLum := core.Luminance(fresnelF0(mat))
	diffLum := core.Luminance(mat.Albedo) * (1 - mat.Metallic)

	total := specLum + diffLum
	if total <= 0 {
		return 0.5
	}
	p := specLum / total
	if p < 0.1 {
		p = 0.1
	}
	if p > 0.9 {
		p = 0.9
	}
	return p
}
