package core

import "github.com/go-gl/mathgl/mgl32"

// Light type discriminators, stored in the W component of Position.
const (
	LightDirectional float32 = 0
	LightPoint       float32 = 1
)

// LightByteSize is the GPU footprint of one light record.
const LightByteSize = 32

// Light is the ray tracing light source record.
//
// Matches WGSL:
//
//	struct RaytraceLight {
//	    emission : vec4<f32>, // color * intensity
//	    position : vec4<f32>, // xyz position-or-direction, w = type
//	}; // 32 bytes
type Light struct {
	Emission mgl32.Vec4
	Position mgl32.Vec4
}

// NewDirectionalLight creates a light shining along the given direction.
// The direction is stored normalized and points from the light toward the
// scene.
func NewDirectionalLight(direction, color mgl32.Vec3, intensity float32) Light {
	d := direction.Normalize()
	return Light{
		Emission: mgl32.Vec4{color.X() * intensity, color.Y() * intensity, color.Z() * intensity, 0},
		Position: mgl32.Vec4{d.X(), d.Y(), d.Z(), LightDirectional},
	}
}

// NewPointLight creates a light radiating from the given position.
func NewPointLight(position, color mgl32.Vec3, intensity float32) Light {
	return Light{
		Emission: mgl32.Vec4{color.X() * intensity, color.Y() * intensity, color.Z() * intensity, 0},
		Position: mgl32.Vec4{position.X(), position.Y(), position.Z(), LightPoint},
	}
}

// IsDirectional reports whether the light is a directional source.
func (l *Light) IsDirectional() bool { return l.Position.W() == LightDirectional }

// ToBytes serializes the light into the GPU buffer layout.
func (l *Light) ToBytes() []byte {
	buf := make([]byte, LightByteSize)
	putVec4(buf[0:], l.Emission)
	putVec4(buf[16:], l.Position)
	return buf
}
