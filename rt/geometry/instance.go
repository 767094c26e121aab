package geometry

import (
	"github.com/go-gl/mathgl/mgl32"
)

// Instance places a mesh in the scene with a transform. Multiple instances
// may share one mesh; the instance never owns it. TransformInverse is kept
// consistent with Transform for normal transformation: it is recomputed on
// every SetTransform and falls back to identity when the transform is not
// invertible (a degenerate instance still intersects correctly, only its
// normal quality degrades).
type Instance struct {
	Mesh             *Mesh
	Transform        mgl32.Mat4
	TransformInverse mgl32.Mat4
	MaterialOverride int32 // -1 = use mesh material
	Visible          bool
}

// NewInstance creates a visible instance of the mesh with an identity
// transform.
func NewInstance(mesh *Mesh) *Instance {
	return &Instance{
		Mesh:             mesh,
		Transform:        mgl32.Ident4(),
		TransformInverse: mgl32.Ident4(),
		MaterialOverride: -1,
		Visible:          true,
	}
}

// SetTransform sets the instance transform and recomputes its inverse.
func (in *Instance) SetTransform(transform mgl32.Mat4) {
	in.Transform = transform
	if transform.Det() == 0 {
		in.TransformInverse = mgl32.Ident4()
		return
	}
	in.TransformInverse = transform.Inv()
}

// MaterialIndex resolves the effective material: the override when set,
// otherwise the mesh material.
func (in *Instance) MaterialIndex() int32 {
	if in.MaterialOverride >= 0 {
		return in.MaterialOverride
	}
	if in.Mesh != nil {
		return in.Mesh.MaterialIndex()
	}
	return 0
}
