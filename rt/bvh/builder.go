package bvh

import (
	"encoding/binary"
	"math"
	"sort"

	"github.com/go-gl/mathgl/mgl32"
)

// Matches WGSL BVHNode
// struct BVHNode {
//    aabb_min : vec4<f32>; (16)
//    aabb_max : vec4<f32>; (16)
//    left : i32; (4)
//    right : i32; (4)
//    leaf_first : i32; (4)
//    leaf_count : i32; (4)
//    padding : i32[2]; (8)
// }; -> 64 bytes

const NodeBytes = 64

type BVHNode struct {
	Min       mgl32.Vec3
	Max       mgl32.Vec3
	Left      int32
	Right     int32
	LeafFirst int32
	LeafCount int32
}

func (n *BVHNode) IsLeaf() bool {
	return n.Left == -1
}

func (n *BVHNode) ToBytes() []byte {
	buf := make([]byte, NodeBytes)

	// Min (vec4)
	binary.LittleEndian.PutUint32(buf[0:4], math.Float32bits(n.Min.X()))
	binary.LittleEndian.PutUint32(buf[4:8], math.Float32bits(n.Min.Y()))
	binary.LittleEndian.PutUint32(buf[8:12], math.Float32bits(n.Min.Z()))
	binary.LittleEndian.PutUint32(buf[12:16], 0)

	// Max (vec4)
	binary.LittleEndian.PutUint32(buf[16:20], math.Float32bits(n.Max.X()))
	binary.LittleEndian.PutUint32(buf[20:24], math.Float32bits(n.Max.Y()))
	binary.LittleEndian.PutUint32(buf[24:28], math.Float32bits(n.Max.Z()))
	binary.LittleEndian.PutUint32(buf[28:32], 0)

	// Ints
	binary.LittleEndian.PutUint32(buf[32:36], uint32(n.Left))
	binary.LittleEndian.PutUint32(buf[36:40], uint32(n.Right))
	binary.LittleEndian.PutUint32(buf[40:44], uint32(n.LeafFirst))
	binary.LittleEndian.PutUint32(buf[44:48], uint32(n.LeafCount))

	// Padding
	return buf
}

// NodesToBytes serializes a node array in the GPU layout.
func NodesToBytes(nodes []BVHNode) []byte {
	if len(nodes) == 0 {
		return make([]byte, NodeBytes)
	}
	out := make([]byte, 0, len(nodes)*NodeBytes)
	for i := range nodes {
		out = append(out, nodes[i].ToBytes()...)
	}
	return out
}

type AABBItem struct {
	Min      mgl32.Vec3
	Max      mgl32.Vec3
	Centroid mgl32.Vec3
	Index    int
}

// Builder turns a set of bounded items into a node array plus a visit order.
// Leaf nodes reference contiguous ranges of the order slice, which holds the
// original item indices. UseSAH selects surface-area-scored splits instead of
// the centroid median; LeafSize bounds items per leaf.
type Builder struct {
	LeafSize int
	UseSAH   bool
}

func (b *Builder) Build(items []AABBItem) ([]BVHNode, []int32) {
	if b.LeafSize < 1 {
		b.LeafSize = 1
	}
	if len(items) == 0 {
		return []BVHNode{{Left: -1, Right: -1, LeafFirst: -1, LeafCount: 0}}, nil
	}

	nodes := make([]BVHNode, 0, 2*len(items))
	order := make([]int32, 0, len(items))
	b.recursiveBuild(items, &nodes, &order)
	return nodes, order
}

func (b *Builder) recursiveBuild(items []AABBItem, nodes *[]BVHNode, order *[]int32) int32 {
	idx := int32(len(*nodes))
	*nodes = append(*nodes, BVHNode{Left: -1, Right: -1, LeafFirst: -1, LeafCount: 0})

	// Compute bounds
	minB := mgl32.Vec3{float32(math.Inf(1)), float32(math.Inf(1)), float32(math.Inf(1))}
	maxB := mgl32.Vec3{float32(math.Inf(-1)), float32(math.Inf(-1)), float32(math.Inf(-1))}

	for _, it := range items {
		minB = mgl32.Vec3{min(minB.X(), it.Min.X()), min(minB.Y(), it.Min.Y()), min(minB.Z(), it.Min.Z())}
		maxB = mgl32.Vec3{max(maxB.X(), it.Max.X()), max(maxB.Y(), it.Max.Y()), max(maxB.Z(), it.Max.Z())}
	}

	(*nodes)[idx].Min = minB
	(*nodes)[idx].Max = maxB

	if len(items) <= b.LeafSize {
		(*nodes)[idx].LeafFirst = int32(len(*order))
		(*nodes)[idx].LeafCount = int32(len(items))
		for _, it := range items {
			*order = append(*order, int32(it.Index))
		}
		return idx
	}

	// Split along the longest axis. mgl32.Vec3 is [3]float32, index access is fine.
	extent := maxB.Sub(minB)
	axis := 0
	if extent.Y() > extent.X() {
		axis = 1
	}
	if extent.Z() > extent[axis] {
		axis = 2
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].Centroid[axis] < items[j].Centroid[axis]
	})

	mid := len(items) / 2
	if b.UseSAH {
		if s := sahSplit(items); s > 0 {
			mid = s
		}
	}

	(*nodes)[idx].Left = b.recursiveBuild(items[:mid], nodes, order)
	(*nodes)[idx].Right = b.recursiveBuild(items[mid:], nodes, order)

	return idx
}

// sahSplit sweeps the sorted items and returns the split index with the
// lowest count-times-area cost, or 0 when the median is at least as good.
// Ties fall back to the median so fully overlapping items never degrade
// into a chain.
func sahSplit(items []AABBItem) int {
	n := len(items)
	mid := n / 2

	// Suffix bounds, right to left.
	rightArea := make([]float32, n)
	rMin := items[n-1].Min
	rMax := items[n-1].Max
	rightArea[n-1] = surfaceArea(rMin, rMax)
	for i := n - 2; i >= 0; i-- {
		rMin = vecMin(rMin, items[i].Min)
		rMax = vecMax(rMax, items[i].Max)
		rightArea[i] = surfaceArea(rMin, rMax)
	}

	best := -1
	bestCost := float32(math.Inf(1))
	midCost := float32(math.Inf(1))
	lMin := items[0].Min
	lMax := items[0].Max
	for i := 1; i < n; i++ {
		leftArea := surfaceArea(lMin, lMax)
		cost := float32(i)*leftArea + float32(n-i)*rightArea[i]
		if i == mid {
			midCost = cost
		}
		if cost < bestCost {
			bestCost = cost
			best = i
		}
		lMin = vecMin(lMin, items[i].Min)
		lMax = vecMax(lMax, items[i].Max)
	}

	if best <= 0 || bestCost >= midCost {
		return 0
	}
	return best
}

func surfaceArea(minB, maxB mgl32.Vec3) float32 {
	d := maxB.Sub(minB)
	return 2 * (d.X()*d.Y() + d.Y()*d.Z() + d.Z()*d.X())
}

func vecMin(a, b mgl32.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{min(a.X(), b.X()), min(a.Y(), b.Y()), min(a.Z(), b.Z())}
}

func vecMax(a, b mgl32.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{max(a.X(), b.X()), max(a.Y(), b.Y()), max(a.Z(), b.Z())}
}

func min(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}
func max(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}
