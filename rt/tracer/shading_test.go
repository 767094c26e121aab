package tracer

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
)

func TestLambertShade(t *testing.T) {
	n := mgl32.Vec3{0, 1, 0}
	white := mgl32.Vec3{1, 1, 1}
	diffuse := mgl32.Vec3{0.5, 0.5, 0.5}

	// Light straight overhead gives the full diffuse response.
	got := LambertShade(n, mgl32.Vec3{0, 1, 0}, white, diffuse)
	assert.InDelta(t, 0.5, got.X(), 1e-6)

	// 45 degrees scales by cos.
	got = LambertShade(n, mgl32.Vec3{1, 1, 0}, white, diffuse)
	assert.InDelta(t, 0.5/math.Sqrt2, got.X(), 1e-5)

	// Light below the horizon contributes nothing.
	got = LambertShade(n, mgl32.Vec3{0, -1, 0}, white, diffuse)
	assert.Equal(t, mgl32.Vec3{}, got)

	// Colored light modulates per channel.
	got = LambertShade(n, mgl32.Vec3{0, 1, 0}, mgl32.Vec3{1, 0, 0}, diffuse)
	assert.InDelta(t, 0.5, got.X(), 1e-6)
	assert.InDelta(t, 0.0, got.Y(), 1e-6)
}

func TestFresnelSchlick(t *testing.T) {
	// Normal incidence returns f0, grazing approaches one.
	assert.InDelta(t, 0.04, FresnelSchlick(1, 0.04), 1e-6)
	assert.InDelta(t, 1.0, FresnelSchlick(0, 0.04), 1e-6)

	mid := FresnelSchlick(0.5, 0.04)
	assert.Greater(t, mid, float32(0.04))
	assert.Less(t, mid, float32(1.0))

	// Out-of-range cosines clamp instead of exploding.
	assert.InDelta(t, 0.04, FresnelSchlick(2, 0.04), 1e-6)
	assert.InDelta(t, 1.0, FresnelSchlick(-1, 0.04), 1e-6)
}

func TestGGXDistribution(t *testing.T) {
	// Perfect alignment at low roughness spikes, misalignment dies off.
	sharp := GGXDistribution(1, 0.1)
	off := GGXDistribution(0.7, 0.1)
	assert.Greater(t, sharp, off)
	assert.Greater(t, sharp, float32(100))

	// Rough surfaces flatten the lobe.
	roughPeak := GGXDistribution(1, 0.9)
	assert.Less(t, roughPeak, sharp)

	assert.Equal(t, float32(0), GGXDistribution(0, 0.5))
	assert.Equal(t, float32(0), GGXDistribution(-0.5, 0.5))
}

func TestSmithG1(t *testing.T) {
	// No masking head-on, total masking at grazing.
	assert.InDelta(t, 1.0, SmithG1(1, 0.2), 1e-5)
	assert.Equal(t, float32(0), SmithG1(0, 0.2))

	// More roughness means more masking at fixed angle.
	assert.Greater(t, SmithG1(0.5, 0.1), SmithG1(0.5, 0.9))
}

func TestRefract(t *testing.T) {
	n := mgl32.Vec3{0, 1, 0}

	// Straight-on transmission is undeflected regardless of eta.
	dir := mgl32.Vec3{0, -1, 0}
	out, ok := Refract(dir, n, 1.0/1.5)
	assert.True(t, ok)
	assert.InDelta(t, -1.0, out.Y(), 1e-5)

	// Entering glass bends toward the normal.
	dir = mgl32.Vec3{1, -1, 0}.Normalize()
	out, ok = Refract(dir, n, 1.0/1.5)
	assert.True(t, ok)
	sinIn := dir.X()
	sinOut := out.X()
	assert.Less(t, sinOut, sinIn)
	assert.InDelta(t, float64(sinIn)/1.5, float64(sinOut), 1e-5)

	// Shallow exit from glass hits total internal reflection.
	dir = mgl32.Vec3{0.9, -0.1, 0}.Normalize()
	_, ok = Refract(dir, n, 1.5)
	assert.False(t, ok)
}
