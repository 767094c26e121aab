package bvh

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

func TestTwoTrianglesSplit(t *testing.T) {
	// Two triangles far apart along X.
	prims := []Primitive{
		NewPrimitive(0, mgl32.Vec3{-100, -1, 0}, mgl32.Vec3{-98, -1, 0}, mgl32.Vec3{-99, 1, 0}),
		NewPrimitive(1, mgl32.Vec3{100, -1, 0}, mgl32.Vec3{102, -1, 0}, mgl32.Vec3{101, 1, 0}),
	}

	builder := &Builder{MaxLeafSize: 1}
	nodes, order := builder.Build(prims)

	// Root, left leaf, right leaf.
	if len(nodes) != 3 {
		t.Fatalf("Expected 3 nodes, got %d", len(nodes))
	}
	if len(order) != 2 {
		t.Fatalf("Expected 2 ordered primitives, got %d", len(order))
	}

	root := nodes[0]
	t.Logf("Root AABB: min=%v max=%v", root.Min, root.Max)
	if root.Min.X() > -100 {
		t.Errorf("Root min X should be <= -100, got %f", root.Min.X())
	}
	if root.Max.X() < 100 {
		t.Errorf("Root max X should be >= 100, got %f", root.Max.X())
	}
	if root.Left == -1 || root.Right == -1 {
		t.Errorf("Root should have two children, got left=%d right=%d", root.Left, root.Right)
	}
	if root.Left == root.Right {
		t.Error("Left and right indices should be different")
	}

	// Children are leaves covering both primitives.
	seen := map[int32]bool{}
	for _, child := range []Node{nodes[root.Left], nodes[root.Right]} {
		if child.Left != -1 || child.Right != -1 {
			t.Errorf("Child should be a leaf, got left=%d right=%d", child.Left, child.Right)
		}
		if child.LeafCount != 1 {
			t.Errorf("Leaf count should be 1, got %d", child.LeafCount)
		}
		seen[order[child.LeafFirst]] = true
	}
	if !seen[0] || !seen[1] {
		t.Errorf("Leaves should cover both primitives, got %v", seen)
	}
}

func TestLeafGrouping(t *testing.T) {
	// 16 triangles on a line; default leaf size of 4 keeps the tree shallow.
	prims := make([]Primitive, 16)
	for i := range prims {
		x := float32(i) * 10
		prims[i] = NewPrimitive(int32(i),
			mgl32.Vec3{x, 0, 0}, mgl32.Vec3{x + 1, 0, 0}, mgl32.Vec3{x, 1, 0})
	}

	nodes, order := NewBuilder().Build(prims)
	if len(order) != len(prims) {
		t.Fatalf("Order should cover all primitives, got %d", len(order))
	}

	// Every primitive appears exactly once across all leaves.
	counts := make(map[int32]int)
	for _, n := range nodes {
		if n.LeafCount > 0 {
			if n.LeafCount > 4 {
				t.Errorf("Leaf holds %d primitives, max is 4", n.LeafCount)
			}
			for _, idx := range order[n.LeafFirst : n.LeafFirst+n.LeafCount] {
				counts[idx]++
			}
		}
	}
	for i := int32(0); i < 16; i++ {
		if counts[i] != 1 {
			t.Errorf("Primitive %d referenced %d times", i, counts[i])
		}
	}
}

func TestBuildDeterminism(t *testing.T) {
	prims := make([]Primitive, 33)
	for i := range prims {
		x := float32((i*37)%100) * 0.5
		y := float32((i*17)%50) * 0.25
		prims[i] = NewPrimitive(int32(i),
			mgl32.Vec3{x, y, 0}, mgl32.Vec3{x + 1, y, 0}, mgl32.Vec3{x, y + 1, 0})
	}

	n1, o1 := NewBuilder().Build(prims)
	n2, o2 := NewBuilder().Build(prims)

	if len(n1) != len(n2) {
		t.Fatalf("Node counts differ: %d vs %d", len(n1), len(n2))
	}
	for i := range o1 {
		if o1[i] != o2[i] {
			t.Fatalf("Order differs at %d: %d vs %d", i, o1[i], o2[i])
		}
	}
}

func TestLinearizeLayout(t *testing.T) {
	prims := []Primitive{
		NewPrimitive(0, mgl32.Vec3{-1, -1, -1}, mgl32.Vec3{1, -1, -1}, mgl32.Vec3{0, 1, 1}),
	}
	nodes, _ := NewBuilder().Build(prims)
	data := Linearize(nodes)

	if len(data) != NodeByteSize {
		t.Fatalf("Expected %d bytes, got %d", NodeByteSize, len(data))
	}
	minX := math.Float32frombits(binary.LittleEndian.Uint32(data[0:4]))
	maxZ := math.Float32frombits(binary.LittleEndian.Uint32(data[24:28]))
	if minX != -1 || maxZ != 1 {
		t.Errorf("Bounds not serialized correctly: minX=%f maxZ=%f", minX, maxZ)
	}
	leafCount := int32(binary.LittleEndian.Uint32(data[44:48]))
	if leafCount != 1 {
		t.Errorf("Leaf count should be 1, got %d", leafCount)
	}
}
