package trace

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/helio3d/helio/rt/bvh"
	"github.com/helio3d/helio/rt/core"
)

const maxStackDepth = 64

// Scene is the software intersection view over a built acceleration
// structure. It only reads; the dispatch ordering guarantees no rebuild
// happens while a trace is in flight, so Scene is safe for concurrent use
// by tile workers.
type Scene struct {
	accel *bvh.Manager
}

func NewScene(accel *bvh.Manager) *Scene {
	return &Scene{accel: accel}
}

// Intersect walks TLAS then BLAS and returns the globally closest hit in
// world units. The walk visits the nearer child first and prunes subtrees
// whose box entry lies beyond the closest hit found so far.
func (s *Scene) Intersect(r core.Ray) core.HitInfo {
	var hit core.HitInfo
	closest := r.TMax

	tlas := s.accel.TLASRef()
	instances := s.accel.Instances()
	if len(tlas.Nodes) == 0 {
		return hit
	}

	var stack [maxStackDepth]int32
	sp := 0
	stack[sp] = 0
	sp++

	for sp > 0 {
		sp--
		node := &tlas.Nodes[stack[sp]]

		// The clamp to closest prunes subtrees behind the best hit so far.
		if _, ok := RayAABB(r.Origin, r.Dir, node.Min, node.Max, r.TMin, closest); !ok {
			continue
		}

		if node.IsLeaf() {
			for k := node.LeafFirst; k < node.LeafFirst+node.LeafCount; k++ {
				idx := tlas.Order[k]
				inst := &instances[idx]
				if !inst.Active {
					continue
				}
				s.intersectInstance(r, idx, inst, &closest, &hit)
			}
			continue
		}

		// Nearer child on top of the stack.
		nearIdx, farIdx := node.Left, node.Right
		nearT, nearOk := RayAABB(r.Origin, r.Dir, tlas.Nodes[nearIdx].Min, tlas.Nodes[nearIdx].Max, r.TMin, closest)
		farT, farOk := RayAABB(r.Origin, r.Dir, tlas.Nodes[farIdx].Min, tlas.Nodes[farIdx].Max, r.TMin, closest)
		if nearOk && farOk && farT < nearT {
			nearIdx, farIdx = farIdx, nearIdx
		}
		if farOk && sp < maxStackDepth {
			stack[sp] = farIdx
			sp++
		}
		if nearOk && sp < maxStackDepth {
			stack[sp] = nearIdx
			sp++
		}
	}

	return hit
}

// intersectInstance maps the ray into object space and walks the BLAS. The
// object-space direction is left unnormalized so t stays in world units.
func (s *Scene) intersectInstance(r core.Ray, instIdx int32, inst *bvh.Instance, closest *float32, hit *core.HitInfo) {
	blas, err := s.accel.Get(inst.BLAS)
	if err != nil {
		return
	}

	ro := core.TransformPoint(inst.WorldToObject, r.Origin)
	rd := core.TransformDirection(inst.WorldToObject, r.Dir)

	var stack [maxStackDepth]int32
	sp := 0
	stack[sp] = 0
	sp++

	for sp > 0 {
		sp--
		node := &blas.Nodes[stack[sp]]

		if _, ok := RayAABB(ro, rd, node.Min, node.Max, r.TMin, *closest); !ok {
			continue
		}

		if node.IsLeaf() {
			for k := node.LeafFirst; k < node.LeafFirst+node.LeafCount; k++ {
				tri := blas.Order[k]
				v0, v1, v2 := blas.Triangle(tri)
				t, u, v, ok := RayTriangle(ro, rd, v0, v1, v2, r.TMin, *closest)
				if !ok {
					continue
				}

				*closest = t
				hit.Hit = true
				hit.T = t
				hit.Position = r.At(t)
				hit.U = u
				hit.V = v
				hit.Instance = instIdx
				hit.Primitive = tri

				objNormal := v1.Sub(v0).Cross(v2.Sub(v0))
				worldNormal := core.TransformNormal(inst.WorldToObject, objNormal)
				hit.SetFaceNormal(r.Dir, worldNormal)
			}
			continue
		}

		nearIdx, farIdx := node.Left, node.Right
		nearT, nearOk := RayAABB(ro, rd, blas.Nodes[nearIdx].Min, blas.Nodes[nearIdx].Max, r.TMin, *closest)
		farT, farOk := RayAABB(ro, rd, blas.Nodes[farIdx].Min, blas.Nodes[farIdx].Max, r.TMin, *closest)
		if nearOk && farOk && farT < nearT {
			nearIdx, farIdx = farIdx, nearIdx
		}
		if farOk && sp < maxStackDepth {
			stack[sp] = farIdx
			sp++
		}
		if nearOk && sp < maxStackDepth {
			stack[sp] = nearIdx
			sp++
		}
	}
}

// Occluded reports whether anything blocks the ray inside its interval.
// Any hit ends the walk; no material or normal work is done.
func (s *Scene) Occluded(r core.Ray) bool {
	tlas := s.accel.TLASRef()
	instances := s.accel.Instances()
	if len(tlas.Nodes) == 0 {
		return false
	}

	var stack [maxStackDepth]int32
	sp := 0
	stack[sp] = 0
	sp++

	for sp > 0 {
		sp--
		node := &tlas.Nodes[stack[sp]]

		if _, ok := RayAABB(r.Origin, r.Dir, node.Min, node.Max, r.TMin, r.TMax); !ok {
			continue
		}

		if node.IsLeaf() {
			for k := node.LeafFirst; k < node.LeafFirst+node.LeafCount; k++ {
				inst := &instances[tlas.Order[k]]
				if !inst.Active {
					continue
				}
				if s.instanceOccludes(r, inst) {
					return true
				}
			}
			continue
		}

		if sp+1 < maxStackDepth {
			stack[sp] = node.Left
			sp++
			stack[sp] = node.Right
			sp++
		}
	}

	return false
}

func (s *Scene) instanceOccludes(r core.Ray, inst *bvh.Instance) bool {
	blas, err := s.accel.Get(inst.BLAS)
	if err != nil {
		return false
	}

	ro := core.TransformPoint(inst.WorldToObject, r.Origin)
	rd := core.TransformDirection(inst.WorldToObject, r.Dir)

	var stack [maxStackDepth]int32
	sp := 0
	stack[sp] = 0
	sp++

	for sp > 0 {
		sp--
		node := &blas.Nodes[stack[sp]]

		if _, ok := RayAABB(ro, rd, node.Min, node.Max, r.TMin, r.TMax); !ok {
			continue
		}

		if node.IsLeaf() {
			for k := node.LeafFirst; k < node.LeafFirst+node.LeafCount; k++ {
				v0, v1, v2 := blas.Triangle(blas.Order[k])
				if _, _, _, ok := RayTriangle(ro, rd, v0, v1, v2, r.TMin, r.TMax); ok {
					return true
				}
			}
			continue
		}

		if sp+1 < maxStackDepth {
			stack[sp] = node.Left
			sp++
			stack[sp] = node.Right
			sp++
		}
	}

	return false
}

// Visible is the shadow-ray convenience: it reports whether the segment
// from p toward q is unobstructed, with both endpoints pulled in by eps to
// avoid self-intersection.
func (s *Scene) Visible(p, q mgl32.Vec3, eps float32) bool {
	d := q.Sub(p)
	dist := d.Len()
	if dist <= 2*eps {
		return true
	}
	r, ok := core.NewRay(p, d)
	if !ok {
		return false
	}
	r.TMin = eps
	r.TMax = dist - eps
	return !s.Occluded(r)
}
