package gpu

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMat4ToBytes(t *testing.T) {
	m := mgl32.Translate3D(1, 2, 3)
	data := Mat4ToBytes(m)
	require.Len(t, data, 64)
	for i, v := range m {
		got := math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
		assert.Equal(t, v, got, "element %d", i)
	}
}

func TestVec3Padding(t *testing.T) {
	data := Vec3ToBytesPadded(mgl32.Vec3{1, 2, 3})
	require.Len(t, data, 16)
	assert.Equal(t, uint32(0), binary.LittleEndian.Uint32(data[12:16]))
}

func TestSlicePacking(t *testing.T) {
	fs := Float32SliceToBytes([]float32{0.5, -1})
	require.Len(t, fs, 8)
	assert.Equal(t, float32(0.5), math.Float32frombits(binary.LittleEndian.Uint32(fs[0:4])))

	is := Int32SliceToBytes([]int32{-1})
	assert.Equal(t, uint32(0xFFFFFFFF), binary.LittleEndian.Uint32(is))
}
