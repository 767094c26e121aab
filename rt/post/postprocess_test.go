package post

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultParams(t *testing.T) {
	p := DefaultParams()
	assert.Equal(t, ToneMappingReinhard, p.Mode)
	assert.Equal(t, float32(1.0), p.Exposure)
	assert.Equal(t, float32(2.2), p.Gamma)
	assert.Equal(t, float32(4.0), p.WhitePoint)
	assert.False(t, p.BloomEnabled)
	assert.Equal(t, float32(1.0), p.BloomThreshold)
	assert.Equal(t, float32(0.3), p.BloomIntensity)
}

func TestReinhardExtended(t *testing.T) {
	// Black stays black, the white point maps to one.
	assert.Equal(t, float32(0), ReinhardExtended(0, 4))
	assert.InDelta(t, 1.0, ReinhardExtended(4, 4), 1e-6)

	// Monotonic and compressive above one.
	assert.Less(t, ReinhardExtended(2, 4), ReinhardExtended(3, 4))
	assert.Less(t, ReinhardExtended(10, 4), float32(10))
}

func TestACESFilmic(t *testing.T) {
	assert.Equal(t, float32(0), ACESFilmic(0))
	assert.LessOrEqual(t, ACESFilmic(100), float32(1))
	// Mid grey lands in a sensible range.
	mid := ACESFilmic(0.18)
	assert.Greater(t, mid, float32(0.1))
	assert.Less(t, mid, float32(0.4))
}

func TestUncharted2Filmic(t *testing.T) {
	assert.InDelta(t, 0.0, Uncharted2Filmic(0, 4), 1e-6)
	// Half the white point lands exactly at one after the exposure bias.
	assert.InDelta(t, 1.0, Uncharted2Filmic(2, 4), 1e-6)
	assert.Less(t, Uncharted2Filmic(0.5, 4), Uncharted2Filmic(1, 4))
}

func TestApplyCurveClampsWhenDisabled(t *testing.T) {
	assert.Equal(t, float32(1), ApplyCurve(ToneMappingNone, 5, 4))
	assert.Equal(t, float32(0), ApplyCurve(ToneMappingNone, -1, 4))
	assert.Equal(t, float32(0.5), ApplyCurve(ToneMappingNone, 0.5, 4))
}

func TestParamsBytesLayout(t *testing.T) {
	p := Params{
		Mode:           ToneMappingACES,
		Exposure:       1.5,
		Gamma:          2.4,
		WhitePoint:     4.0,
		BloomEnabled:   true,
		BloomThreshold: 0.8,
		BloomIntensity: 0.25,
	}
	buf := p.toBytes(800, 600)
	require.Len(t, buf, paramsByteSize)

	assert.Equal(t, uint32(800), binary.LittleEndian.Uint32(buf[0:]))
	assert.Equal(t, uint32(600), binary.LittleEndian.Uint32(buf[4:]))
	assert.Equal(t, uint32(ToneMappingACES), binary.LittleEndian.Uint32(buf[8:]))
	assert.Equal(t, float32(1.5), math.Float32frombits(binary.LittleEndian.Uint32(buf[16:])))
	assert.InDelta(t, 1.0/2.4, math.Float32frombits(binary.LittleEndian.Uint32(buf[20:])), 1e-6)
	assert.Equal(t, float32(4.0), math.Float32frombits(binary.LittleEndian.Uint32(buf[24:])))
	assert.Equal(t, float32(0.8), math.Float32frombits(binary.LittleEndian.Uint32(buf[28:])))
	assert.Equal(t, float32(0.25), math.Float32frombits(binary.LittleEndian.Uint32(buf[32:])))
}

func TestParamsBytesGammaFallback(t *testing.T) {
	p := Params{Gamma: 0}
	buf := p.toBytes(1, 1)
	assert.InDelta(t, 1.0/2.2, math.Float32frombits(binary.LittleEndian.Uint32(buf[20:])), 1e-6)
}

func TestToneMappingModeString(t *testing.T) {
	assert.Equal(t, "none", ToneMappingNone.String())
	assert.Equal(t, "reinhard", ToneMappingReinhard.String())
	assert.Equal(t, "aces", ToneMappingACES.String())
	assert.Equal(t, "uncharted2", ToneMappingUncharted2.String())
}
