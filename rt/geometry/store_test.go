package geometry

import (
	"testing"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quadMesh() *Mesh {
	m := NewMesh("quad")
	m.SetVertices([]float32{
		0, 0, 0,
		1, 0, 0,
		1, 1, 0,
		0, 1, 0,
	})
	m.SetIndices([]uint32{0, 1, 2, 0, 2, 3})
	return m
}

func TestAddMeshAndInstanceIndices(t *testing.T) {
	s := NewStore(nil)
	m := quadMesh()
	assert.Equal(t, 0, s.AddMesh(m))
	assert.Equal(t, 0, s.AddInstance(NewInstance(m)))
	assert.Equal(t, 1, s.AddInstance(NewInstance(m)))
	assert.Equal(t, 2, s.InstanceCount())
	assert.True(t, s.IsDirty())
	assert.Equal(t, 4, s.TotalTriangleCount())
}

func TestFlattenGeometryDeterministic(t *testing.T) {
	s := NewStore(nil)
	m := quadMesh()
	s.AddMesh(m)
	i1 := NewInstance(m)
	i2 := NewInstance(m)
	i2.SetTransform(mgl32.Translate3D(5, 0, 0))
	s.AddInstance(i1)
	s.AddInstance(i2)

	a := s.FlattenGeometry()
	b := s.FlattenGeometry()
	require.Equal(t, a.Indices, b.Indices)
	require.Equal(t, a.Positions, b.Positions)

	// Two quads, four triangles, index-stable offsets.
	assert.Equal(t, 4, a.TriangleCount())
	assert.Equal(t, 8, len(a.Positions))
	assert.Equal(t, uint32(4), a.Indices[6], "second instance triangles offset by vertex base")

	// Second instance positions are translated.
	assert.InDelta(t, 5.0, a.Positions[4].X(), 1e-6)
}

func TestFlattenSkipsInvisible(t *testing.T) {
	s := NewStore(nil)
	m := quadMesh()
	s.AddMesh(m)
	in := NewInstance(m)
	in.Visible = false
	s.AddInstance(in)

	flat := s.FlattenGeometry()
	assert.Equal(t, 0, flat.TriangleCount())
	assert.Equal(t, 0, s.TotalTriangleCount())
}

func TestMaterialOverride(t *testing.T) {
	s := NewStore(nil)
	m := quadMesh()
	m.SetMaterialIndex(2)
	s.AddMesh(m)

	plain := NewInstance(m)
	overridden := NewInstance(m)
	overridden.MaterialOverride = 7
	s.AddInstance(plain)
	s.AddInstance(overridden)

	flat := s.FlattenGeometry()
	require.Equal(t, 4, flat.TriangleCount())
	assert.Equal(t, int32(2), flat.MaterialIndices[0])
	assert.Equal(t, int32(7), flat.MaterialIndices[2])
}

func TestComputeBoundingBox(t *testing.T) {
	s := NewStore(nil)
	m := quadMesh()
	s.AddMesh(m)
	in := NewInstance(m)
	in.SetTransform(mgl32.Translate3D(10, 0, 0))
	s.AddInstance(in)

	box := s.ComputeBoundingBox()
	require.True(t, box.IsValid())
	assert.InDelta(t, 10, box.Min.X(), 1e-6)
	assert.InDelta(t, 11, box.Max.X(), 1e-6)

	// Hidden instances contribute nothing.
	in.Visible = false
	hiddenBox := s.ComputeBoundingBox()
	assert.False(t, hiddenBox.IsValid())
}

func TestInstanceTransformInverse(t *testing.T) {
	m := quadMesh()
	in := NewInstance(m)

	tr := mgl32.Translate3D(3, -2, 1).Mul4(mgl32.HomogRotate3DY(0.7)).Mul4(mgl32.Scale3D(2, 2, 2))
	in.SetTransform(tr)

	// Inverse composed with transform is identity within tolerance.
	id := in.Transform.Mul4(in.TransformInverse)
	ident := mgl32.Ident4()
	for i := 0; i < 16; i++ {
		assert.InDelta(t, ident[i], id[i], 1e-5, "element %d", i)
	}
}

func TestDegenerateTransformFallsBackToIdentity(t *testing.T) {
	m := quadMesh()
	in := NewInstance(m)
	in.SetTransform(mgl32.Scale3D(1, 0, 1)) // non-invertible
	assert.Equal(t, mgl32.Ident4(), in.TransformInverse)
}

func TestUploadResidencyBookkeeping(t *testing.T) {
	s := NewStore(nil)
	m := quadMesh()
	s.AddMesh(m)
	s.AddInstance(NewInstance(m))

	assert.False(t, m.IsUploaded(), "new meshes start non-resident")
	require.True(t, s.needsMeshUpload())

	// Simulate a completed upload.
	s.PositionsBuf = &wgpu.Buffer{}
	s.NormalsBuf = &wgpu.Buffer{}
	s.markMeshesUploaded()
	assert.True(t, m.IsUploaded())
	assert.False(t, s.needsMeshUpload(), "resident scene needs no re-upload")

	// Editing mesh data invalidates residency.
	m.SetNormals([]float32{0, 0, 1, 0, 0, 1, 0, 0, 1, 0, 0, 1})
	assert.False(t, m.IsUploaded())
	assert.True(t, s.needsMeshUpload())

	// Adding a mesh does too, even with the first one resident.
	s.markMeshesUploaded()
	s.AddMesh(quadMesh())
	assert.True(t, s.needsMeshUpload())

	// Missing scene buffers always force an upload.
	s.markMeshesUploaded()
	s.PositionsBuf = nil
	assert.True(t, s.needsMeshUpload())
}

func TestClearResetsState(t *testing.T) {
	s := NewStore(nil)
	m := quadMesh()
	s.AddMesh(m)
	s.AddInstance(NewInstance(m))
	s.Clear()

	assert.Equal(t, 0, s.MeshCount())
	assert.Equal(t, 0, s.InstanceCount())
	assert.False(t, s.HasAccelerationStructure())
	assert.True(t, s.IsDirty())
}
