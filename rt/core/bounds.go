package core

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// BoundingBox is an axis-aligned box. The zero value from NewBoundingBox is
// inverted (invalid) so that the first Add establishes the bounds.
type BoundingBox struct {
	Min mgl32.Vec3
	Max mgl32.Vec3
}

func NewBoundingBox() BoundingBox {
	inf := float32(math.Inf(1))
	return BoundingBox{
		Min: mgl32.Vec3{inf, inf, inf},
		Max: mgl32.Vec3{-inf, -inf, -inf},
	}
}

// IsValid reports whether any point has been added.
func (b *BoundingBox) IsValid() bool { return b.Min.X() <= b.Max.X() }

// Add expands the bounds to include the point.
func (b *BoundingBox) Add(p mgl32.Vec3) {
	b.Min = mgl32.Vec3{minf(b.Min.X(), p.X()), minf(b.Min.Y(), p.Y()), minf(b.Min.Z(), p.Z())}
	b.Max = mgl32.Vec3{maxf(b.Max.X(), p.X()), maxf(b.Max.Y(), p.Y()), maxf(b.Max.Z(), p.Z())}
}

// AddBox expands the bounds to include another box.
func (b *BoundingBox) AddBox(other BoundingBox) {
	if other.IsValid() {
		b.Add(other.Min)
		b.Add(other.Max)
	}
}

// Center returns the center of the bounds.
func (b *BoundingBox) Center() mgl32.Vec3 {
	return b.Min.Add(b.Max).Mul(0.5)
}

// Size returns the extent of the bounds.
func (b *BoundingBox) Size() mgl32.Vec3 {
	return b.Max.Sub(b.Min)
}

// Transformed returns a conservative AABB enclosing the box after applying
// the given transform to its eight corners.
func (b *BoundingBox) Transformed(m mgl32.Mat4) BoundingBox {
	out := NewBoundingBox()
	if !b.IsValid() {
		return out
	}
	for _, x := range []float32{b.Min.X(), b.Max.X()} {
		for _, y := range []float32{b.Min.Y(), b.Max.Y()} {
			for _, z := range []float32{b.Min.Z(), b.Max.Z()} {
				c := m.Mul4x1(mgl32.Vec4{x, y, z, 1})
				out.Add(c.Vec3())
			}
		}
	}
	return out
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
