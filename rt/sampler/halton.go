package sampler

import "math"

// NumDimensions is the number of supported sample dimensions (bases 2, 3, 5).
const NumDimensions = 3

// HaltonSampler computes points of the Halton sequence with digit-permutations
// for different bases. This is a low-discrepancy sequence generator used for
// quasi-Monte Carlo sampling in ray tracing; it provides better coverage than
// pseudo-random sampling and is fully deterministic, so identical
// (dimension, index) pairs always yield identical values.
type HaltonSampler struct {
	perm3 [243]uint16
	perm5 [125]uint16
}

// NewHaltonSampler builds the permutation lookup tables from nested Faure
// digit-permutations. The sampler is stateless after construction.
func NewHaltonSampler() *HaltonSampler {
	s := &HaltonSampler{}
	s.initFaure()
	return s
}

// Sample returns the Halton sample for the given dimension (0, 1 or 2) and
// sample index. The result lies in [0, 1). Dimensions outside {0, 1, 2}
// return 0.
func (s *HaltonSampler) Sample(dimension, index uint32) float32 {
	switch dimension {
	case 0:
		return halton2(index)
	case 1:
		return s.halton3(index)
	case 2:
		return s.halton5(index)
	}
	return 0
}

// Sample2D returns the 2D sample (x, y) for the given index.
func (s *HaltonSampler) Sample2D(index uint32) (float32, float32) {
	return halton2(index), s.halton3(index)
}

// Sample3D returns the 3D sample (x, y, z) for the given index.
func (s *HaltonSampler) Sample3D(index uint32) (float32, float32, float32) {
	return halton2(index), s.halton3(index), s.halton5(index)
}

func (s *HaltonSampler) initFaure() {
	const maxBase = 5
	perms := make([][]uint16, maxBase+1)

	// Identity permutations for bases 1..3.
	for k := 1; k <= 3; k++ {
		perms[k] = make([]uint16, k)
		for i := 0; i < k; i++ {
			perms[k][i] = uint16(i)
		}
	}

	// Faure permutations for bases 4 and 5, derived from the smaller bases.
	for base := 4; base <= maxBase; base++ {
		perms[base] = make([]uint16, base)
		b := base / 2
		if base&1 != 0 { // odd
			for i := 0; i < base-1; i++ {
				j := i
				if i >= b {
					j = i + 1
				}
				v := int(perms[base-1][i])
				if v >= b {
					v++
				}
				perms[base][j] = uint16(v)
			}
			perms[base][b] = uint16(b)
		} else { // even
			for i := 0; i < b; i++ {
				perms[base][i] = 2 * perms[b][i]
				perms[base][b+i] = 2*perms[b][i] + 1
			}
		}
	}

	for i := 0; i < 243; i++ {
		s.perm3[i] = invert(3, 5, uint16(i), perms[3])
	}
	for i := 0; i < 125; i++ {
		s.perm5[i] = invert(5, 3, uint16(i), perms[5])
	}
}

func invert(base, digits, index uint16, perm []uint16) uint16 {
	var result uint16
	for i := uint16(0); i < digits; i++ {
		result = result*base + perm[index%base]
		index /= base
	}
	return result
}

// halton2 is the radical inverse in base 2 using direct bit reversal, which
// is faster than the general permuted case.
func halton2(index uint32) float32 {
	index = (index << 16) | (index >> 16)
	index = ((index & 0x00ff00ff) << 8) | ((index & 0xff00ff00) >> 8)
	index = ((index & 0x0f0f0f0f) << 4) | ((index & 0xf0f0f0f0) >> 4)
	index = ((index & 0x33333333) << 2) | ((index & 0xcccccccc) >> 2)
	index = ((index & 0x55555555) << 1) | ((index & 0xaaaaaaaa) >> 1)

	// Write reversed bits directly into the float mantissa.
	return math.Float32frombits(0x3f800000|(index>>9)) - 1.0
}

func (s *HaltonSampler) halton3(index uint32) float32 {
	return float32(uint64(s.perm3[index%243])*14348907+
		uint64(s.perm3[(index/243)%243])*59049+
		uint64(s.perm3[(index/59049)%243])*243+
		uint64(s.perm3[(index/14348907)%243])) *
		float32(0.999999999999999/3486784401.0)
}

func (s *HaltonSampler) halton5(index uint32) float32 {
	return float32(uint64(s.perm5[index%125])*1953125+
		uint64(s.perm5[(index/125)%125])*15625+
		uint64(s.perm5[(index/15625)%125])*125+
		uint64(s.perm5[(index/1953125)%125])) *
		float32(0.999999999999999/244140625.0)
}
