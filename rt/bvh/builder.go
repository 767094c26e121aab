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

const NodeByteSize = 64

type Node struct {
	Min       mgl32.Vec3
	Max       mgl32.Vec3
	Left      int32
	Right     int32
	LeafFirst int32
	LeafCount int32
}

func (n *Node) ToBytes() []byte {
	buf := make([]byte, NodeByteSize)

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

// Primitive is one leaf candidate: a triangle's bounds, centroid and its
// index in the flattened geometry arrays.
type Primitive struct {
	Min      mgl32.Vec3
	Max      mgl32.Vec3
	Centroid mgl32.Vec3
	Index    int32
}

// NewPrimitive derives a primitive from a triangle's three corners.
func NewPrimitive(index int32, a, b, c mgl32.Vec3) Primitive {
	pMin := mgl32.Vec3{
		minf(a.X(), minf(b.X(), c.X())),
		minf(a.Y(), minf(b.Y(), c.Y())),
		minf(a.Z(), minf(b.Z(), c.Z())),
	}
	pMax := mgl32.Vec3{
		maxf(a.X(), maxf(b.X(), c.X())),
		maxf(a.Y(), maxf(b.Y(), c.Y())),
		maxf(a.Z(), maxf(b.Z(), c.Z())),
	}
	return Primitive{
		Min:      pMin,
		Max:      pMax,
		Centroid: pMin.Add(pMax).Mul(0.5),
		Index:    index,
	}
}

// Builder constructs a median-split BVH over triangle primitives. Leaves
// hold up to MaxLeafSize primitives; LeafFirst/LeafCount index into the
// primitive order returned by Build.
type Builder struct {
	MaxLeafSize int
}

func NewBuilder() *Builder {
	return &Builder{MaxLeafSize: 4}
}

// Build returns the node array and the primitive visitation order. The
// order slice maps leaf ranges back to original primitive indices, so the
// caller can upload it as an indirection table instead of reordering the
// geometry buffers. Build is deterministic for identical input ordering.
func (b *Builder) Build(prims []Primitive) ([]Node, []int32) {
	if len(prims) == 0 {
		return nil, nil
	}

	items := make([]Primitive, len(prims))
	copy(items, prims)

	nodes := []Node{}
	order := make([]int32, 0, len(prims))
	b.recursiveBuild(items, &nodes, &order)
	return nodes, order
}

// Linearize serializes nodes into the GPU buffer layout.
func Linearize(nodes []Node) []byte {
	if len(nodes) == 0 {
		return make([]byte, NodeByteSize)
	}
	out := make([]byte, 0, len(nodes)*NodeByteSize)
	for i := range nodes {
		out = append(out, nodes[i].ToBytes()...)
	}
	return out
}

func (b *Builder) recursiveBuild(items []Primitive, nodes *[]Node, order *[]int32) int32 {
	idx := int32(len(*nodes))
	*nodes = append(*nodes, Node{Left: -1, Right: -1, LeafFirst: -1, LeafCount: 0})

	// Compute bounds
	minB := mgl32.Vec3{float32(math.Inf(1)), float32(math.Inf(1)), float32(math.Inf(1))}
	maxB := mgl32.Vec3{float32(math.Inf(-1)), float32(math.Inf(-1)), float32(math.Inf(-1))}

	for _, it := range items {
		minB = mgl32.Vec3{minf(minB.X(), it.Min.X()), minf(minB.Y(), it.Min.Y()), minf(minB.Z(), it.Min.Z())}
		maxB = mgl32.Vec3{maxf(maxB.X(), it.Max.X()), maxf(maxB.Y(), it.Max.Y()), maxf(maxB.Z(), it.Max.Z())}
	}

	(*nodes)[idx].Min = minB
	(*nodes)[idx].Max = maxB

	maxLeaf := b.MaxLeafSize
	if maxLeaf < 1 {
		maxLeaf = 1
	}
	if len(items) <= maxLeaf {
		(*nodes)[idx].LeafFirst = int32(len(*order))
		(*nodes)[idx].LeafCount = int32(len(items))
		for _, it := range items {
			*order = append(*order, it.Index)
		}
		return idx
	}

	// Split along the widest axis at the median centroid.
	extent := maxB.Sub(minB)
	axis := 0
	if extent.Y() > extent.X() {
		axis = 1
	}
	if extent.Z() > extent[axis] {
		axis = 2
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Centroid[axis] < items[j].Centroid[axis]
	})

	mid := len(items) / 2
	(*nodes)[idx].Left = b.recursiveBuild(items[:mid], nodes, order)
	(*nodes)[idx].Right = b.recursiveBuild(items[mid:], nodes, order)

	return idx
}

func minf(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}
func maxf(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}
