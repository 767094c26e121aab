package geometry

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"

	"github.com/FyrbyAdditive/OCCT-Metal/rt/core"
)

// Mesh stores triangle geometry for ray tracing: vertex positions, optional
// normals and texture coordinates, index triples and a material index.
// Meshes do not own GPU buffers themselves; the store flattens all visible
// instances into shared scene buffers and tracks per-mesh residency here.
type Mesh struct {
	id            string
	vertices      []float32 // 3 per vertex
	normals       []float32 // 3 per vertex, optional
	texCoords     []float32 // 2 per vertex, optional
	indices       []uint32  // 3 per triangle
	materialIndex int32
	bounds        core.BoundingBox

	needsUpload bool
}

// NewMesh creates an empty mesh. An empty id gets a generated one.
func NewMesh(id string) *Mesh {
	if id == "" {
		id = uuid.NewString()
	}
	return &Mesh{
		id:            id,
		materialIndex: 0,
		bounds:        core.NewBoundingBox(),
		needsUpload:   true,
	}
}

func (m *Mesh) Id() string { return m.id }

// SetVertices replaces vertex positions (3 floats per vertex) and updates
// the local bounds.
func (m *Mesh) SetVertices(vertices []float32) {
	m.vertices = append(m.vertices[:0], vertices...)
	m.bounds = core.NewBoundingBox()
	for i := 0; i+2 < len(vertices); i += 3 {
		m.bounds.Add(mgl32.Vec3{vertices[i], vertices[i+1], vertices[i+2]})
	}
	m.needsUpload = true
}

// SetNormals replaces per-vertex normals (3 floats per normal).
func (m *Mesh) SetNormals(normals []float32) {
	m.normals = append(m.normals[:0], normals...)
	m.needsUpload = true
}

// SetTexCoords replaces per-vertex texture coordinates (2 floats per vertex).
func (m *Mesh) SetTexCoords(texCoords []float32) {
	m.texCoords = append(m.texCoords[:0], texCoords...)
	m.needsUpload = true
}

// SetIndices replaces triangle indices (3 per triangle).
func (m *Mesh) SetIndices(indices []uint32) {
	m.indices = append(m.indices[:0], indices...)
	m.needsUpload = true
}

func (m *Mesh) SetMaterialIndex(materialID int32) { m.materialIndex = materialID }
func (m *Mesh) MaterialIndex() int32              { return m.materialIndex }

func (m *Mesh) VertexCount() int   { return len(m.vertices) / 3 }
func (m *Mesh) TriangleCount() int { return len(m.indices) / 3 }
func (m *Mesh) HasNormals() bool   { return len(m.normals) > 0 }
func (m *Mesh) HasTexCoords() bool { return len(m.texCoords) > 0 }

func (m *Mesh) Bounds() core.BoundingBox { return m.bounds }

// IsUploaded reports whether this mesh's data is current in the store's
// scene buffers.
func (m *Mesh) IsUploaded() bool { return !m.needsUpload }

// EstimatedDataSize returns the GPU memory estimate in bytes.
func (m *Mesh) EstimatedDataSize() uint64 {
	return uint64(len(m.vertices)+len(m.normals)+len(m.texCoords)+len(m.indices)) * 4
}

func (m *Mesh) markUploaded() { m.needsUpload = false }

func (m *Mesh) invalidateUpload() { m.needsUpload = true }
