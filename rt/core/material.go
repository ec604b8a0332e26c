package core

import (
	"github.com/go-gl/mathgl/mgl32"
)

// MaterialSample is the shading input resolved for a single hit point.
// Values are linear; Albedo and Emission are RGB.
type MaterialSample struct {
	Albedo       mgl32.Vec3
	Metallic     float32
	Roughness    float32
	Emission     mgl32.Vec3
	Normal       mgl32.Vec3 // tangent-space normal sample, zero means unperturbed
	IOR          float32
	Transparency float32
}

// MaterialSource resolves materials for hit points. Implemented by the host
// material system; instance and primitive come from the hit record, u and v
// are the barycentrics at the hit.
type MaterialSource interface {
	QueryMaterial(instance, primitive int32, u, v float32) MaterialSample
}

func NewMaterial(albedo mgl32.Vec3, metallic, roughness float32) MaterialSample {
	return MaterialSample{
		Albedo:    albedo,
		Metallic:  metallic,
		Roughness: clampRoughness(roughness),
		IOR:       1.5,
	}
}

func DefaultMaterial() MaterialSample {
	return MaterialSample{
		Albedo:    mgl32.Vec3{0.8, 0.8, 0.8},
		Metallic:  0.0,
		Roughness: 0.5,
		IOR:       1.5,
	}
}

// Clamped resolves query-time degeneracy: channels are forced finite and into
// their physical ranges so shading never sees invalid inputs.
func (m MaterialSample) Clamped() MaterialSample {
	m.Albedo = clampVec01(SanitizeColor(m.Albedo))
	m.Emission = SanitizeColor(m.Emission)
	m.Metallic = clamp01(m.Metallic)
	m.Roughness = clampRoughness(m.Roughness)
	m.Transparency = clamp01(m.Transparency)
	if !IsFinite(m.IOR) || m.IOR < 1.0 {
		m.IOR = 1.0
	}
	return m
}

// StaticMaterials is a MaterialSource with one material per instance.
// Hosts with per-triangle materials implement MaterialSource themselves.
type StaticMaterials struct {
	Materials []MaterialSample
}

func (s *StaticMaterials) QueryMaterial(instance, primitive int32, u, v float32) MaterialSample {
	if int(instance) < 0 || int(instance) >= len(s.Materials) {
		return DefaultMaterial()
	}
	return s.Materials[instance]
}

func clamp01(f float32) float32 {
	if !(f > 0) {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func clampRoughness(r float32) float32 {
	// A floor keeps the GGX distribution from collapsing to a delta.
	const minRoughness = 0.03
	if !(r > minRoughness) {
		return minRoughness
	}
	if r > 1 {
		return 1
	}
	return r
}

func clampVec01(v mgl32.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{clamp01(v.X()), clamp01(v.Y()), clamp01(v.Z())}
}
