package geometry

import (
	"github.com/cogentcore/webgpu/wgpu"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/FyrbyAdditive/OCCT-Metal/rt/bvh"
	"github.com/FyrbyAdditive/OCCT-Metal/rt/core"
	"github.com/FyrbyAdditive/OCCT-Metal/rt/gpu"
)

// FlatGeometry is the result of flattening all visible instances into one
// triangle index space: world-space positions/normals, texture coordinates,
// triangle index triples and per-triangle material indices.
type FlatGeometry struct {
	Positions       []mgl32.Vec3
	Normals         []mgl32.Vec3
	TexCoords       [][2]float32
	Indices         []uint32
	MaterialIndices []int32
}

// TriangleCount returns the number of flattened triangles.
func (f *FlatGeometry) TriangleCount() int { return len(f.Indices) / 3 }

// Store owns the ray-traceable scene representation: meshes, instances,
// materials, lights and the triangle acceleration structure built from the
// flattened geometry. Geometry or instance changes mark the structure dirty;
// it must be rebuilt before the next trace.
type Store struct {
	log core.Logger

	meshes    []*Mesh
	instances []*Instance
	materials []core.Material
	lights    []core.Light

	dirty      bool
	accelValid bool

	triangleCount int
	nodeCount     int

	// GPU-resident flattened scene, bound by the trace kernels. Vertex
	// records fold texture coordinates into w (position.w = u, normal.w = v).
	// TrianglesBuf holds one vec4<i32> per triangle in acceleration-structure
	// visitation order: xyz vertex indices, w material index.
	PositionsBuf *wgpu.Buffer
	NormalsBuf   *wgpu.Buffer
	TrianglesBuf *wgpu.Buffer
	NodesBuf     *wgpu.Buffer
	MaterialsBuf *wgpu.Buffer
	LightsBuf    *wgpu.Buffer
}

// NewStore creates an empty scene geometry store.
func NewStore(log core.Logger) *Store {
	if log == nil {
		log = core.NewNopLogger()
	}
	return &Store{log: log, dirty: true}
}

// AddMesh adds a mesh and returns its stable index.
func (s *Store) AddMesh(mesh *Mesh) int {
	s.meshes = append(s.meshes, mesh)
	s.SetDirty()
	return len(s.meshes) - 1
}

// Mesh returns the mesh at the given index.
func (s *Store) Mesh(index int) *Mesh { return s.meshes[index] }

// MeshCount returns the number of meshes.
func (s *Store) MeshCount() int { return len(s.meshes) }

// AddInstance adds an instance and returns its stable index.
func (s *Store) AddInstance(instance *Instance) int {
	s.instances = append(s.instances, instance)
	s.SetDirty()
	return len(s.instances) - 1
}

// Instance returns the instance at the given index.
func (s *Store) Instance(index int) *Instance { return s.instances[index] }

// InstanceCount returns the number of instances.
func (s *Store) InstanceCount() int { return len(s.instances) }

// SetMaterials replaces the material table.
func (s *Store) SetMaterials(materials []core.Material) {
	s.materials = append(s.materials[:0], materials...)
	s.SetDirty()
}

// MaterialCount returns the number of materials.
func (s *Store) MaterialCount() int { return len(s.materials) }

// SetLights replaces the light list. Lights do not affect the acceleration
// structure, so this does not dirty it; the buffer is rewritten on the next
// build or UploadLights call.
func (s *Store) SetLights(lights []core.Light) {
	s.lights = append(s.lights[:0], lights...)
}

// LightCount returns the number of lights.
func (s *Store) LightCount() int { return len(s.lights) }

// Clear removes all scene content and invalidates the acceleration
// structure.
func (s *Store) Clear() {
	s.meshes = nil
	s.instances = nil
	s.materials = nil
	s.lights = nil
	s.triangleCount = 0
	s.nodeCount = 0
	s.accelValid = false
	s.SetDirty()
}

// SetDirty marks the acceleration structure stale. Tracing against a dirty
// store is a programming error; rebuild first.
func (s *Store) SetDirty() { s.dirty = true }

// IsDirty reports whether the acceleration structure needs a rebuild.
func (s *Store) IsDirty() bool { return s.dirty }

// HasAccelerationStructure reports whether a valid structure is resident.
func (s *Store) HasAccelerationStructure() bool { return s.accelValid }

// TriangleCount returns the flattened triangle count at last build.
func (s *Store) TriangleCount() int { return s.triangleCount }

// NodeCount returns the BVH node count at last build.
func (s *Store) NodeCount() int { return s.nodeCount }

// TotalTriangleCount sums triangle counts over all visible instances.
func (s *Store) TotalTriangleCount() int {
	total := 0
	for _, in := range s.instances {
		if in.Visible && in.Mesh != nil {
			total += in.Mesh.TriangleCount()
		}
	}
	return total
}

// TotalVertexCount sums vertex counts over all visible instances.
func (s *Store) TotalVertexCount() int {
	total := 0
	for _, in := range s.instances {
		if in.Visible && in.Mesh != nil {
			total += in.Mesh.VertexCount()
		}
	}
	return total
}

// ComputeBoundingBox returns the union of all visible instances' transformed
// bounds.
func (s *Store) ComputeBoundingBox() core.BoundingBox {
	box := core.NewBoundingBox()
	for _, in := range s.instances {
		if !in.Visible || in.Mesh == nil {
			continue
		}
		meshBounds := in.Mesh.Bounds()
		box.AddBox(meshBounds.Transformed(in.Transform))
	}
	return box
}

// UploadMeshes uploads the flattened vertex records (ScenePositions and
// SceneNormals) when any mesh data changed since the last upload. Idempotent:
// with every mesh resident it is a no-op. Vertex records are indexed by the
// triangle buffer and independent of acceleration-structure order, so they
// can be refreshed without a rebuild. On failure meshes stay marked for
// upload so the caller can retry.
func (s *Store) UploadMeshes(ctx *gpu.Context) bool {
	if !s.needsMeshUpload() {
		return true
	}
	flat := s.FlattenGeometry()
	if !s.uploadVertexData(ctx, flat) {
		return false
	}
	s.markMeshesUploaded()
	return true
}

// needsMeshUpload reports whether the shared vertex buffers are missing or
// any mesh changed since they were last written.
func (s *Store) needsMeshUpload() bool {
	if s.PositionsBuf == nil || s.NormalsBuf == nil {
		return true
	}
	for _, m := range s.meshes {
		if !m.IsUploaded() {
			return true
		}
	}
	return false
}

func (s *Store) markMeshesUploaded() {
	for _, m := range s.meshes {
		m.markUploaded()
	}
}

// uploadVertexData writes the flattened vertex records. Texture coordinates
// fold into w (position.w = u, normal.w = v).
func (s *Store) uploadVertexData(ctx *gpu.Context, flat FlatGeometry) bool {
	posData := make([]float32, 0, len(flat.Positions)*4)
	normData := make([]float32, 0, len(flat.Normals)*4)
	for i := range flat.Positions {
		p, n, uv := flat.Positions[i], flat.Normals[i], flat.TexCoords[i]
		posData = append(posData, p.X(), p.Y(), p.Z(), uv[0])
		normData = append(normData, n.X(), n.Y(), n.Z(), uv[1])
	}
	if _, err := ctx.EnsureBuffer("ScenePositions", &s.PositionsBuf,
		gpu.Float32SliceToBytes(posData), wgpu.BufferUsageStorage, 0); err != nil {
		return false
	}
	if _, err := ctx.EnsureBuffer("SceneNormals", &s.NormalsBuf,
		gpu.Float32SliceToBytes(normData), wgpu.BufferUsageStorage, 0); err != nil {
		return false
	}
	return true
}

// FlattenGeometry flattens all visible instances into one index space.
// Enumeration follows instance order, so output is deterministic and
// index-stable for identical input ordering. Positions are world-space;
// normals are transformed by the inverse-transpose. Meshes without normals
// get zero normals (the shader falls back to the geometric normal).
func (s *Store) FlattenGeometry() FlatGeometry {
	flat := FlatGeometry{}
	for _, in := range s.instances {
		if !in.Visible || in.Mesh == nil || in.Mesh.TriangleCount() == 0 {
			continue
		}
		mesh := in.Mesh
		base := uint32(len(flat.Positions))
		normalMat := in.TransformInverse.Transpose()

		for v := 0; v < mesh.VertexCount(); v++ {
			p := mgl32.Vec3{mesh.vertices[v*3], mesh.vertices[v*3+1], mesh.vertices[v*3+2]}
			wp := in.Transform.Mul4x1(p.Vec4(1)).Vec3()
			flat.Positions = append(flat.Positions, wp)

			var n mgl32.Vec3
			if mesh.HasNormals() {
				ln := mgl32.Vec3{mesh.normals[v*3], mesh.normals[v*3+1], mesh.normals[v*3+2]}
				wn := normalMat.Mul4x1(ln.Vec4(0)).Vec3()
				if l := wn.Len(); l > 0 {
					n = wn.Mul(1 / l)
				}
			}
			flat.Normals = append(flat.Normals, n)

			var uv [2]float32
			if mesh.HasTexCoords() {
				uv = [2]float32{mesh.texCoords[v*2], mesh.texCoords[v*2+1]}
			}
			flat.TexCoords = append(flat.TexCoords, uv)
		}

		matIndex := in.MaterialIndex()
		for tri := 0; tri < mesh.TriangleCount(); tri++ {
			flat.Indices = append(flat.Indices,
				base+mesh.indices[tri*3],
				base+mesh.indices[tri*3+1],
				base+mesh.indices[tri*3+2])
			flat.MaterialIndices = append(flat.MaterialIndices, matIndex)
		}
	}
	return flat
}

// BuildAccelerationStructure flattens all visible geometry, builds the
// triangle BVH and uploads the flattened buffers. On failure the structure
// is explicitly invalid (HasAccelerationStructure reports false) and the
// caller must retry before the next trace; a failed build never leaves a
// partially updated structure marked valid.
func (s *Store) BuildAccelerationStructure(ctx *gpu.Context) bool {
	flat := s.FlattenGeometry()
	triCount := flat.TriangleCount()
	if triCount == 0 {
		s.log.Warnf("acceleration structure build skipped: no visible triangles")
		s.accelValid = false
		return false
	}

	prims := make([]bvh.Primitive, triCount)
	for t := 0; t < triCount; t++ {
		a := flat.Positions[flat.Indices[t*3]]
		b := flat.Positions[flat.Indices[t*3+1]]
		c := flat.Positions[flat.Indices[t*3+2]]
		prims[t] = bvh.NewPrimitive(int32(t), a, b, c)
	}
	nodes, order := bvh.NewBuilder().Build(prims)

	// Emit triangles in visitation order so BVH leaves address a
	// contiguous range without an indirection table.
	triData := make([]int32, 0, len(order)*4)
	for _, o := range order {
		triData = append(triData,
			int32(flat.Indices[o*3]),
			int32(flat.Indices[o*3+1]),
			int32(flat.Indices[o*3+2]),
			flat.MaterialIndices[o])
	}

	matData := []byte{}
	for i := range s.materials {
		matData = append(matData, s.materials[i].ToBytes()...)
	}
	if len(matData) == 0 {
		def := core.DefaultMaterial()
		matData = def.ToBytes()
	}

	if !s.uploadVertexData(ctx, flat) {
		s.accelValid = false
		return false
	}

	uploads := []struct {
		name string
		buf  **wgpu.Buffer
		data []byte
	}{
		{"SceneTriangles", &s.TrianglesBuf, gpu.Int32SliceToBytes(triData)},
		{"SceneBVHNodes", &s.NodesBuf, bvh.Linearize(nodes)},
		{"SceneMaterials", &s.MaterialsBuf, matData},
	}
	for _, u := range uploads {
		if _, err := ctx.EnsureBuffer(u.name, u.buf, u.data, wgpu.BufferUsageStorage, 0); err != nil {
			s.accelValid = false
			return false
		}
	}
	if !s.UploadLights(ctx) {
		s.accelValid = false
		return false
	}

	s.triangleCount = triCount
	s.nodeCount = len(nodes)
	s.markMeshesUploaded()
	s.accelValid = true
	s.dirty = false
	s.log.Debugf("acceleration structure built: %d triangles, %d nodes", triCount, len(nodes))
	return true
}

// UploadLights rewrites the light buffer. Safe with zero lights; the buffer
// is then a single dark record so bind groups stay valid and the shader's
// light count is zero.
func (s *Store) UploadLights(ctx *gpu.Context) bool {
	data := []byte{}
	for i := range s.lights {
		data = append(data, s.lights[i].ToBytes()...)
	}
	if len(data) == 0 {
		data = make([]byte, core.LightByteSize)
	}
	_, err := ctx.EnsureBuffer("SceneLights", &s.LightsBuf, data, wgpu.BufferUsageStorage, 0)
	return err == nil
}

// Release frees all GPU resources owned by the store.
func (s *Store) Release() {
	for _, m := range s.meshes {
		m.invalidateUpload()
	}
	for _, buf := range []**wgpu.Buffer{
		&s.PositionsBuf, &s.NormalsBuf, &s.TrianglesBuf,
		&s.NodesBuf, &s.MaterialsBuf, &s.LightsBuf,
	} {
		if *buf != nil {
			(*buf).Release()
			*buf = nil
		}
	}
	s.accelValid = false
	s.SetDirty()
}
