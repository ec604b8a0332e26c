package shade

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/helio3d/helio/rt/core"
)

// EvaluateBRDF returns the Cook-Torrance BRDF value for unit view and light
// directions, both pointing away from the surface. The cosine term is not
// included. Directions below the hemisphere evaluate to zero.
//
// Specular: GGX distribution, Smith shadowing, Schlick Fresnel with
// F0 = mix(0.04, albedo, metallic). Diffuse: Lambert weighted by the
// transmitted, non-metallic fraction.
func EvaluateBRDF(view, light, normal mgl32.Vec3, mat core.MaterialSample) mgl32.Vec3 {
	nv := normal.Dot(view)
	nl := normal.Dot(light)
	if nv <= 0 || nl <= 0 {
		return mgl32.Vec3{}
	}

	half := view.Add(light)
	if half.LenSqr() < 1e-12 {
		return mgl32.Vec3{}
	}
	half = half.Normalize()

	nh := normal.Dot(half)
	vh := view.Dot(half)
	alpha := mat.Roughness * mat.Roughness

	f0 := fresnelF0(mat)
	f := fresnelSchlick(vh, f0)

	d := ggxD(nh, alpha)
	g := smithG(nv, alpha) * smithG(nl, alpha)

	specScale := d * g / (4 * nv * nl)
	spec := f.Mul(specScale)

	// Energy left for the diffuse lobe after Fresnel and metallic take theirs.
	kd := mgl32.Vec3{1, 1, 1}.Sub(f).Mul(1 - mat.Metallic)
	diffuse := core.MulVec(kd, mat.Albedo).Mul(1 / math.Pi)

	return diffuse.Add(spec)
}

func fresnelF0(mat core.MaterialSample) mgl32.Vec3 {
	const dielectricF0 = 0.04
	base := mgl32.Vec3{dielectricF0, dielectricF0, dielectricF0}
	return base.Mul(1 - mat.Metallic).Add(mat.Albedo.Mul(mat.Metallic))
}

// fresnelSchlick approximates reflectance at angle cosTheta from F0.
func fresnelSchlick(cosTheta float32, f0 mgl32.Vec3) mgl32.Vec3 {
	if cosTheta < 0 {
		cosTheta = 0
	}
	m := 1 - cosTheta
	m5 := m * m * m * m * m
	return f0.Add(mgl32.Vec3{1, 1, 1}.Sub(f0).Mul(m5))
}

// ggxD is the GGX normal distribution, alpha = roughness^2.
func ggxD(nh, alpha float32) float32 {
	if nh <= 0 {
		return 0
	}
	a2 := alpha * alpha
	denom := nh*nh*(a2-1) + 1
	return a2 / (math.Pi * denom * denom)
}

// smithG is the separable Smith masking term for one direction.
func smithG(nx, alpha float32) float32 {
	a2 := alpha * alpha
	return 2 * nx / (nx + float32(math.Sqrt(float64(a2+(1-a2)*nx*nx))))
}
