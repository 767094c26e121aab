package core

import (
	"encoding/binary"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// MaterialByteSize is the GPU footprint of one material record.
const MaterialByteSize = 112

// Material is the ray tracing material record, padded to 16-byte alignment
// to match the WGSL RaytraceMaterial layout.
//
// Matches WGSL:
//
//	struct RaytraceMaterial {
//	    ambient      : vec4<f32>, // rgb + pad
//	    diffuse      : vec4<f32>, // rgb + texture id (-1 = untextured)
//	    specular     : vec4<f32>, // rgb + roughness
//	    emission     : vec4<f32>, // rgb + pad
//	    reflection   : vec4<f32>, // coefficient
//	    refraction   : vec4<f32>, // coefficient
//	    transparency : vec4<f32>, // alpha, transparency, ior, 1/ior
//	}; // 112 bytes
type Material struct {
	Ambient      mgl32.Vec4
	Diffuse      mgl32.Vec4
	Specular     mgl32.Vec4
	Emission     mgl32.Vec4
	Reflection   mgl32.Vec4
	Refraction   mgl32.Vec4
	Transparency mgl32.Vec4
}

// NewMaterial returns an opaque diffuse material with the given base color.
func NewMaterial(diffuse mgl32.Vec3) Material {
	m := Material{
		Ambient:  mgl32.Vec4{0.1 * diffuse.X(), 0.1 * diffuse.Y(), 0.1 * diffuse.Z(), 0},
		Diffuse:  mgl32.Vec4{diffuse.X(), diffuse.Y(), diffuse.Z(), -1},
		Specular: mgl32.Vec4{0.2, 0.2, 0.2, 0.5},
	}
	m.SetIOR(1.0)
	return m
}

// DefaultMaterial returns a neutral white diffuse material.
func DefaultMaterial() Material {
	return NewMaterial(mgl32.Vec3{1, 1, 1})
}

// SetIOR sets the index of refraction, keeping the precomputed reciprocal
// consistent.
func (m *Material) SetIOR(ior float32) {
	if ior <= 0 {
		ior = 1
	}
	m.Transparency[2] = ior
	m.Transparency[3] = 1.0 / ior
}

// IOR returns the index of refraction.
func (m *Material) IOR() float32 { return m.Transparency[2] }

// SetTextureID assigns a diffuse texture array layer, or -1 for untextured.
func (m *Material) SetTextureID(id int32) { m.Diffuse[3] = float32(id) }

// SetRoughness sets the microfacet roughness used by specular shading and
// GGX importance sampling.
func (m *Material) SetRoughness(roughness float32) { m.Specular[3] = roughness }

// Roughness returns the microfacet roughness.
func (m *Material) Roughness() float32 { return m.Specular[3] }

// ToBytes serializes the material into the GPU buffer layout.
func (m *Material) ToBytes() []byte {
	buf := make([]byte, MaterialByteSize)
	off := 0
	for _, v := range []mgl32.Vec4{
		m.Ambient, m.Diffuse, m.Specular, m.Emission,
		m.Reflection, m.Refraction, m.Transparency,
	} {
		putVec4(buf[off:], v)
		off += 16
	}
	return buf
}

func putVec4(buf []byte, v mgl32.Vec4) {
	binary.LittleEndian.PutUint32(buf[0:4], math.Float32bits(v[0]))
	binary.LittleEndian.PutUint32(buf[4:8], math.Float32bits(v[1]))
	binary.LittleEndian.PutUint32(buf[8:12], math.Float32bits(v[2]))
	binary.LittleEndian.PutUint32(buf[12:16], math.Float32bits(v[3]))
}
