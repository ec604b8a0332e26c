package lighting

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/helio3d/helio/rt/core"
	"github.com/helio3d/helio/rt/shade"
	"github.com/helio3d/helio/rt/trace"
)

const (
	shadowEps = 1e-3
	// Shadow rays for directional lights extend this far.
	directionalShadowRange = 1e5
)

// SampleOneLight picks one light uniformly, evaluates its shadowed
// contribution at the shading point, and compensates for the selection
// probability. One light per bounce keeps the per-ray cost flat regardless
// of scene light count.
func SampleOneLight(s *trace.Scene, lights []core.Light, p, n, view mgl32.Vec3, mat core.MaterialSample, smp *shade.Sampler) mgl32.Vec3 {
	if len(lights) == 0 {
		return mgl32.Vec3{}
	}
	pick := int(smp.Float() * float32(len(lights)))
	if pick >= len(lights) {
		pick = len(lights) - 1
	}
	c := LightContribution(s, &lights[pick], p, n, view, mat)
	return c.Mul(float32(len(lights)))
}

// LightContribution returns the single light's reflected radiance at p with
// binary shadow visibility. Points outside range or cone, backfacing
// geometry, and occluded segments all contribute zero.
func LightContribution(s *trace.Scene, l *core.Light, p, n, view mgl32.Vec3, mat core.MaterialSample) mgl32.Vec3 {
	var toLight mgl32.Vec3
	var incident mgl32.Vec3

	switch l.Type() {
	case core.LIGHT_TYPE_DIRECTIONAL:
		toLight = l.Dir().Mul(-1)
		incident = l.Radiance()

	case core.LIGHT_TYPE_POINT, core.LIGHT_TYPE_SPOT:
		d := l.Pos().Sub(p)
		dist2 := d.LenSqr()
		if dist2 < 1e-8 {
			return mgl32.Vec3{}
		}
		dist := d.Len()
		toLight = d.Mul(1 / dist)

		incident = l.Radiance().Mul(rangeWindow(dist, l.Range()) / dist2)

		if l.Type() == core.LIGHT_TYPE_SPOT {
			cosA := l.Dir().Dot(toLight.Mul(-1))
			incident = incident.Mul(coneFactor(cosA, l.ConeCos()))
		}

	default:
		return mgl32.Vec3{}
	}

	nl := n.Dot(toLight)
	if nl <= 0 || core.MaxComponent(incident) <= 0 {
		return mgl32.Vec3{}
	}

	if !shadowVisible(s, p, l, toLight) {
		return mgl32.Vec3{}
	}

	f := shade.EvaluateBRDF(view, toLight, n, mat)
	return core.MulVec(f, incident).Mul(nl)
}

func shadowVisible(s *trace.Scene, p mgl32.Vec3, l *core.Light, toLight mgl32.Vec3) bool {
	if l.Type() == core.LIGHT_TYPE_DIRECTIONAL {
		r, ok := core.NewRay(p, toLight)
		if !ok {
			return false
		}
		r.TMin = shadowEps
		r.TMax = directionalShadowRange
		return !s.Occluded(r)
	}
	return s.Visible(p, l.Pos(), shadowEps)
}

// rangeWindow fades inverse-square falloff to zero at the light's range so
// culling by range never pops. Range zero or below means unbounded.
func rangeWindow(dist, lightRange float32) float32 {
	if lightRange <= 0 {
		return 1
	}
	if dist >= lightRange {
		return 0
	}
	q := dist / lightRange
	q2 := q * q
	w := 1 - q2*q2
	return w * w
}

// coneFactor eases from the spot cone edge to full strength over the inner
// fifth of the cone.
func coneFactor(cosA, coneCos float32) float32 {
	if cosA <= coneCos {
		return 0
	}
	innerCos := coneCos + (1-coneCos)*0.2
	if cosA >= innerCos {
		return 1
	}
	t := (cosA - coneCos) / (innerCos - coneCos)
	return t * t
}
