package sampler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampleRange(t *testing.T) {
	s := NewHaltonSampler()
	for dim := uint32(0); dim < NumDimensions; dim++ {
		for idx := uint32(0); idx < 4096; idx++ {
			v := s.Sample(dim, idx)
			if v < 0 || v >= 1 {
				t.Fatalf("Sample(%d, %d) = %f out of [0,1)", dim, idx, v)
			}
		}
	}
}

func TestSampleDeterminism(t *testing.T) {
	a := NewHaltonSampler()
	b := NewHaltonSampler()
	for dim := uint32(0); dim < NumDimensions; dim++ {
		for idx := uint32(0); idx < 1000; idx += 7 {
			require.Equal(t, a.Sample(dim, idx), a.Sample(dim, idx))
			require.Equal(t, a.Sample(dim, idx), b.Sample(dim, idx))
		}
	}
}

func TestUnknownDimensionReturnsZero(t *testing.T) {
	s := NewHaltonSampler()
	assert.Equal(t, float32(0), s.Sample(3, 42))
	assert.Equal(t, float32(0), s.Sample(99, 7))
}

func TestBase2BitReversal(t *testing.T) {
	s := NewHaltonSampler()
	// The base-2 radical inverse of small indices is exact.
	cases := map[uint32]float32{
		0: 0.0,
		1: 0.5,
		2: 0.25,
		3: 0.75,
		4: 0.125,
		5: 0.625,
		6: 0.375,
		7: 0.875,
	}
	for idx, want := range cases {
		assert.InDelta(t, want, s.Sample(0, idx), 1e-7, "index %d", idx)
	}
}

func TestSample2DMatchesDimensions(t *testing.T) {
	s := NewHaltonSampler()
	for idx := uint32(0); idx < 64; idx++ {
		x, y := s.Sample2D(idx)
		assert.Equal(t, s.Sample(0, idx), x)
		assert.Equal(t, s.Sample(1, idx), y)

		x3, y3, z3 := s.Sample3D(idx)
		assert.Equal(t, x, x3)
		assert.Equal(t, y, y3)
		assert.Equal(t, s.Sample(2, idx), z3)
	}
}

func TestLowDiscrepancyCoverage(t *testing.T) {
	// The first N points of a Halton sequence fill [0,1) much more evenly
	// than random points: every 1/16 stratum must be hit within 64 samples.
	s := NewHaltonSampler()
	for dim := uint32(0); dim < NumDimensions; dim++ {
		var hit [16]bool
		for idx := uint32(0); idx < 64; idx++ {
			bin := int(s.Sample(dim, idx) * 16)
			hit[bin] = true
		}
		for bin, ok := range hit {
			assert.True(t, ok, "dimension %d stratum %d not covered", dim, bin)
		}
	}
}
