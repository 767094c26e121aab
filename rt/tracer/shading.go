package tracer

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// CPU reference implementations of the shading math used by the trace
// kernels. They exist so the BRDF terms and light integration can be tested
// without a device; the WGSL mirrors them term for term.

// LambertShade evaluates direct diffuse lighting for one light: the cosine
// term clamped at zero times the light color and surface diffuse color.
func LambertShade(normal, toLight mgl32.Vec3, lightColor, diffuse mgl32.Vec3) mgl32.Vec3 {
	n := normal
	if n.Len() > 0 {
		n = n.Normalize()
	}
	l := toLight
	if l.Len() > 0 {
		l = l.Normalize()
	}
	ndotl := n.Dot(l)
	if ndotl <= 0 {
		return mgl32.Vec3{}
	}
	return mgl32.Vec3{
		diffuse.X() * lightColor.X() * ndotl,
		diffuse.Y() * lightColor.Y() * ndotl,
		diffuse.Z() * lightColor.Z() * ndotl,
	}
}

// FresnelSchlick approximates the Fresnel reflectance at the given cosine of
// incidence, interpolating from f0 at normal incidence to one at grazing.
func FresnelSchlick(cosTheta, f0 float32) float32 {
	c := cosTheta
	if c < 0 {
		c = 0
	}
	if c > 1 {
		c = 1
	}
	m := 1 - c
	return f0 + (1-f0)*m*m*m*m*m
}

// GGXDistribution is the Trowbridge-Reitz normal distribution for the given
// cosine between normal and half vector at the given roughness.
func GGXDistribution(ndoth, roughness float32) float32 {
	if ndoth <= 0 {
		return 0
	}
	a := roughness * roughness
	a2 := a * a
	d := ndoth*ndoth*(a2-1) + 1
	return a2 / (math.Pi * d * d)
}

// SmithG1 is the Smith masking term for one direction under GGX.
func SmithG1(ndotv, roughness float32) float32 {
	if ndotv <= 0 {
		return 0
	}
	a := roughness * roughness
	a2 := a * a
	denom := ndotv + float32(math.Sqrt(float64(a2+(1-a2)*ndotv*ndotv)))
	return 2 * ndotv / denom
}

// Refract bends dir through a surface with the given normal and relative
// index of refraction eta. Returns false on total internal reflection.
func Refract(dir, normal mgl32.Vec3, eta float32) (mgl32.Vec3, bool) {
	cosi := -dir.Dot(normal)
	k := 1 - eta*eta*(1-cosi*cosi)
	if k < 0 {
		return mgl32.Vec3{}, false
	}
	t := dir.Mul(eta).Add(normal.Mul(eta*cosi - float32(math.Sqrt(float64(k)))))
	return t.Normalize(), true
}
