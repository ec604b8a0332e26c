package core

import (
	"github.com/go-gl/mathgl/mgl32"
)

type Transform struct {
	Position mgl32.Vec3
	Rotation mgl32.Quat
	Scale    mgl32.Vec3
	Dirty    bool
}

func NewTransform() *Transform {
	return &Transform{
		Position: mgl32.Vec3{0, 0, 0},
		Rotation: mgl32.QuatIdent(),
		Scale:    mgl32.Vec3{1, 1, 1},
		Dirty:    true,
	}
}

func (t *Transform) ObjectToWorld() mgl32.Mat4 {
	// M = T * R * S
	translate := mgl32.Translate3D(t.Position.X(), t.Position.Y(), t.Position.Z())
	rotate := t.Rotation.Mat4()
	scale := mgl32.Scale3D(t.Scale.X(), t.Scale.Y(), t.Scale.Z())

	return translate.Mul4(rotate).Mul4(scale)
}

func (t *Transform) WorldToObject() mgl32.Mat4 {
	// inv(M) = inv(S) * inv(R) * inv(T), each component inverted cheaply.
	invScale := mgl32.Scale3D(1.0/t.Scale.X(), 1.0/t.Scale.Y(), 1.0/t.Scale.Z())
	invRotate := t.Rotation.Conjugate().Mat4()
	invTranslate := mgl32.Translate3D(-t.Position.X(), -t.Position.Y(), -t.Position.Z())

	return invScale.Mul4(invRotate).Mul4(invTranslate)
}

// TransformPoint applies the full affine transform to a point.
func TransformPoint(m mgl32.Mat4, p mgl32.Vec3) mgl32.Vec3 {
	v := m.Mul4x1(p.Vec4(1))
	return v.Vec3()
}

// TransformDirection applies only the linear part; directions ignore
// translation and are not renormalized here.
func TransformDirection(m mgl32.Mat4, d mgl32.Vec3) mgl32.Vec3 {
	v := m.Mul4x1(d.Vec4(0))
	return v.Vec3()
}

// TransformNormal maps a surface normal with the inverse-transpose of the
// object-to-world matrix, supplied here as the world-to-object matrix.
func TransformNormal(worldToObject mgl32.Mat4, n mgl32.Vec3) mgl32.Vec3 {
	t := worldToObject.Transpose()
	v := t.Mul4x1(n.Vec4(0)).Vec3()
	if v.LenSqr() < 1e-12 {
		return n
	}
	return v.Normalize()
}

// TransformAABB maps an axis-aligned box through m by transforming its 8
// corners and taking the bounds of the result.
func TransformAABB(m mgl32.Mat4, min, max mgl32.Vec3) (mgl32.Vec3, mgl32.Vec3) {
	corners := [8]mgl32.Vec3{
		{min.X(), min.Y(), min.Z()},
		{max.X(), min.Y(), min.Z()},
		{min.X(), max.Y(), min.Z()},
		{max.X(), max.Y(), min.Z()},
		{min.X(), min.Y(), max.Z()},
		{max.X(), min.Y(), max.Z()},
		{min.X(), max.Y(), max.Z()},
		{max.X(), max.Y(), max.Z()},
	}

	outMin := TransformPoint(m, corners[0])
	outMax := outMin
	for _, c := range corners[1:] {
		p := TransformPoint(m, c)
		for i := 0; i < 3; i++ {
			if p[i] < outMin[i] {
				outMin[i] = p[i]
			}
			if p[i] > outMax[i] {
				outMax[i] = p[i]
			}
		}
	}
	return outMin, outMax
}
