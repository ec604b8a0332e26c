package bvh

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
)

// DefaultLeafSize bounds triangles per BLAS leaf. Small leaves keep the
// software traversal's triangle loop short.
const DefaultLeafSize = 4

// BLAS is the bottom-level structure for one mesh: an owned copy of the
// triangle soup plus a node array over it. Dynamic BLAS accept vertex
// updates through Refit; static ones are immutable after build.
type BLAS struct {
	Vertices []mgl32.Vec3
	Indices  []uint32
	Nodes    []BVHNode
	Order    []int32 // triangle visit order referenced by leaf ranges
	Min      mgl32.Vec3
	Max      mgl32.Vec3
	Dynamic  bool
}

// BuildBLAS copies the mesh data and builds the node array. indices is a
// triangle list; its length must be a multiple of 3 and every index must be
// in range.
func BuildBLAS(vertices []mgl32.Vec3, indices []uint32, dynamic bool) (*BLAS, error) {
	if len(vertices) == 0 {
		return nil, fmt.Errorf("build blas: no vertices")
	}
	if len(indices) == 0 || len(indices)%3 != 0 {
		return nil, fmt.Errorf("build blas: index count %d is not a triangle list", len(indices))
	}
	for _, ix := range indices {
		if int(ix) >= len(vertices) {
			return nil, fmt.Errorf("build blas: index %d out of range (%d vertices)", ix, len(vertices))
		}
	}

	b := &BLAS{
		Vertices: append([]mgl32.Vec3(nil), vertices...),
		Indices:  append([]uint32(nil), indices...),
		Dynamic:  dynamic,
	}

	triCount := len(indices) / 3
	items := make([]AABBItem, triCount)
	for t := 0; t < triCount; t++ {
		v0, v1, v2 := b.Triangle(int32(t))
		itMin := vecMin(v0, vecMin(v1, v2))
		itMax := vecMax(v0, vecMax(v1, v2))
		items[t] = AABBItem{
			Min:      itMin,
			Max:      itMax,
			Centroid: itMin.Add(itMax).Mul(0.5),
			Index:    t,
		}
	}

	builder := &Builder{LeafSize: DefaultLeafSize, UseSAH: true}
	b.Nodes, b.Order = builder.Build(items)
	b.Min = b.Nodes[0].Min
	b.Max = b.Nodes[0].Max
	return b, nil
}

// Triangle returns the three corners of triangle t.
func (b *BLAS) Triangle(t int32) (mgl32.Vec3, mgl32.Vec3, mgl32.Vec3) {
	i := t * 3
	return b.Vertices[b.Indices[i]], b.Vertices[b.Indices[i+1]], b.Vertices[b.Indices[i+2]]
}

func (b *BLAS) TriangleCount() int {
	return len(b.Indices) / 3
}

// Refit rewrites vertex positions and re-tightens node bounds bottom-up
// without re-splitting, so leaf order is preserved. Only dynamic BLAS
// accept refits, and the vertex count must match the build.
func (b *BLAS) Refit(vertices []mgl32.Vec3) error {
	if !b.Dynamic {
		return fmt.Errorf("refit: blas is static")
	}
	if len(vertices) != len(b.Vertices) {
		return fmt.Errorf("refit: vertex count %d does not match build count %d", len(vertices), len(b.Vertices))
	}
	copy(b.Vertices, vertices)

	// Nodes were appended parent-first, so walking the array backwards
	// visits every child before its parent.
	for i := len(b.Nodes) - 1; i >= 0; i-- {
		n := &b.Nodes[i]
		if n.IsLeaf() {
			if n.LeafCount == 0 {
				continue
			}
			first := true
			for k := n.LeafFirst; k < n.LeafFirst+n.LeafCount; k++ {
				v0, v1, v2 := b.Triangle(b.Order[k])
				triMin := vecMin(v0, vecMin(v1, v2))
				triMax := vecMax(v0, vecMax(v1, v2))
				if first {
					n.Min, n.Max = triMin, triMax
					first = false
				} else {
					n.Min = vecMin(n.Min, triMin)
					n.Max = vecMax(n.Max, triMax)
				}
			}
			continue
		}
		left := &b.Nodes[n.Left]
		right := &b.Nodes[n.Right]
		n.Min = vecMin(left.Min, right.Min)
		n.Max = vecMax(left.Max, right.Max)
	}

	b.Min = b.Nodes[0].Min
	b.Max = b.Nodes[0].Max
	return nil
}
