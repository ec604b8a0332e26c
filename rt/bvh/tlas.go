package bvh

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/helio3d/helio/rt/core"
)

// Instance places a BLAS in the world. ObjectToWorld and WorldToObject are
// cached together so traversal never inverts per ray.
type Instance struct {
	BLAS          Handle
	ObjectToWorld mgl32.Mat4
	WorldToObject mgl32.Mat4
	WorldMin      mgl32.Vec3
	WorldMax      mgl32.Vec3
	Material      int32
	Active        bool
}

// TLAS is the top-level structure over instance world bounds. needsRebuild
// is set by every mutation and cleared only by Build; traversal while the
// flag is set is a dispatch-layer bug.
type TLAS struct {
	Nodes        []BVHNode
	Order        []int32
	needsRebuild bool
}

func (t *TLAS) MarkDirty() {
	t.needsRebuild = true
}

func (t *TLAS) NeedsRebuild() bool {
	return t.needsRebuild
}

// Build rebuilds the node array over the active instances and clears the
// rebuild flag. Instance counts are small next to triangle counts, so a
// full rebuild beats incremental maintenance here.
func (t *TLAS) Build(instances []Instance) {
	items := make([]AABBItem, 0, len(instances))
	for i := range instances {
		if !instances[i].Active {
			continue
		}
		items = append(items, AABBItem{
			Min:      instances[i].WorldMin,
			Max:      instances[i].WorldMax,
			Centroid: instances[i].WorldMin.Add(instances[i].WorldMax).Mul(0.5),
			Index:    i,
		})
	}

	builder := &Builder{LeafSize: 1}
	t.Nodes, t.Order = builder.Build(items)
	t.needsRebuild = false
}

// UpdateWorldBounds recomputes the instance's world AABB from the 8
// transformed corners of its BLAS root bounds.
func (in *Instance) UpdateWorldBounds(blas *BLAS) {
	in.WorldMin, in.WorldMax = core.TransformAABB(in.ObjectToWorld, blas.Min, blas.Max)
}
