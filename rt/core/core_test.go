package core

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaterialBytes(t *testing.T) {
	m := NewMaterial(mgl32.Vec3{0.5, 0.25, 1})
	m.SetIOR(1.5)
	data := m.ToBytes()
	require.Len(t, data, MaterialByteSize)

	// Diffuse rgb at offset 16, texture id in w.
	r := math.Float32frombits(binary.LittleEndian.Uint32(data[16:20]))
	assert.InDelta(t, 0.5, r, 1e-6)
	texID := math.Float32frombits(binary.LittleEndian.Uint32(data[28:32]))
	assert.Equal(t, float32(-1), texID)

	// Transparency holds ior and its reciprocal.
	ior := math.Float32frombits(binary.LittleEndian.Uint32(data[104:108]))
	invIor := math.Float32frombits(binary.LittleEndian.Uint32(data[108:112]))
	assert.InDelta(t, 1.5, ior, 1e-6)
	assert.InDelta(t, 1.0/1.5, invIor, 1e-6)
}

func TestLightTypes(t *testing.T) {
	dir := NewDirectionalLight(mgl32.Vec3{0, -2, 0}, mgl32.Vec3{1, 1, 1}, 2)
	assert.True(t, dir.IsDirectional())
	assert.InDelta(t, -1.0, dir.Position.Y(), 1e-6, "direction should be normalized")
	assert.Equal(t, float32(2), dir.Emission.X())

	pt := NewPointLight(mgl32.Vec3{1, 2, 3}, mgl32.Vec3{1, 0, 0}, 1)
	assert.False(t, pt.IsDirectional())
	require.Len(t, pt.ToBytes(), LightByteSize)
}

func TestBoundingBox(t *testing.T) {
	b := NewBoundingBox()
	assert.False(t, b.IsValid())

	b.Add(mgl32.Vec3{1, 2, 3})
	b.Add(mgl32.Vec3{-1, 0, 5})
	require.True(t, b.IsValid())
	assert.Equal(t, mgl32.Vec3{-1, 0, 3}, b.Min)
	assert.Equal(t, mgl32.Vec3{1, 2, 5}, b.Max)
	assert.Equal(t, mgl32.Vec3{0, 1, 4}, b.Center())

	// Union with an invalid box is a no-op.
	b.AddBox(NewBoundingBox())
	assert.Equal(t, mgl32.Vec3{-1, 0, 3}, b.Min)
}

func TestBoundingBoxTransformed(t *testing.T) {
	b := NewBoundingBox()
	b.Add(mgl32.Vec3{-1, -1, -1})
	b.Add(mgl32.Vec3{1, 1, 1})

	tr := b.Transformed(mgl32.Translate3D(10, 0, 0))
	assert.InDelta(t, 9, tr.Min.X(), 1e-6)
	assert.InDelta(t, 11, tr.Max.X(), 1e-6)

	// Rotating a unit cube by 45 degrees around Z grows X/Y extent to sqrt(2).
	rot := b.Transformed(mgl32.HomogRotate3DZ(float32(math.Pi / 4)))
	assert.InDelta(t, math.Sqrt2, float64(rot.Max.X()), 1e-5)
}
