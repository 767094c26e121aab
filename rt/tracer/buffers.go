package tracer

import (
	"encoding/binary"
	"image"
	"math"
	"sync"

	"github.com/cogentcore/webgpu/wgpu"
	xdraw "golang.org/x/image/draw"

	"github.com/FyrbyAdditive/OCCT-Metal/rt/shaders"
)

const (
	rayByteSize   = 48
	hitByteSize   = 16
	statsByteSize = 32

	readbackIdle    = 0
	readbackCopied  = 1
	readbackMapping = 2
	readbackMapped  = 3
)

// frameResources bundles all GPU state owned by the engine for one viewport
// size. Ray queues are ping-ponged between bounces; accumulation textures
// alternate by frame parity.
type frameResources struct {
	paramsBuf   *wgpu.Buffer
	raysBuf     [2]*wgpu.Buffer
	hitsBuf     *wgpu.Buffer
	countersBuf *wgpu.Buffer
	indirectBuf *wgpu.Buffer
	radianceBuf *wgpu.Buffer
	statsBuf    *wgpu.Buffer
	varianceBuf *wgpu.Buffer
	readbackBuf *wgpu.Buffer

	accumTex  [2]*wgpu.Texture
	accumView [2]*wgpu.TextureView
	parity    int

	offsetsTex  *wgpu.Texture
	offsetsView *wgpu.TextureView
	samplesTex  *wgpu.Texture

	envTex     *wgpu.Texture
	envView    *wgpu.TextureView
	envSampler *wgpu.Sampler

	albedoTex     *wgpu.Texture
	albedoView    *wgpu.TextureView
	albedoSampler *wgpu.Sampler

	// bufferGroup is indexed by ray parity (which queue is rays_in),
	// texGroup by accumulation parity (which texture is previous).
	bufferGroup [2]*wgpu.BindGroup
	texGroup    [2]*wgpu.BindGroup

	readState    int
	readMu       sync.Mutex
	lastVariance []float32
}

// Current returns the accumulation texture written by the most recent frame.
func (fr *frameResources) Current() *wgpu.TextureView { return fr.accumView[fr.parity] }

// Previous returns the accumulation texture the next frame will read.
func (fr *frameResources) Previous() *wgpu.TextureView { return fr.accumView[fr.parity^1] }

func (fr *frameResources) release() {
	for _, b := range []*wgpu.Buffer{
		fr.paramsBuf, fr.raysBuf[0], fr.raysBuf[1], fr.hitsBuf, fr.countersBuf,
		fr.indirectBuf, fr.radianceBuf, fr.statsBuf, fr.varianceBuf, fr.readbackBuf,
	} {
		if b != nil {
			b.Release()
		}
	}
	for _, t := range []*wgpu.Texture{
		fr.accumTex[0], fr.accumTex[1], fr.offsetsTex, fr.samplesTex, fr.envTex, fr.albedoTex,
	} {
		if t != nil {
			t.Release()
		}
	}
	*fr = frameResources{}
}

// tracePipelines holds the compiled compute stages of the frame pipeline.
type tracePipelines struct {
	bufferLayout *wgpu.BindGroupLayout
	texLayout    *wgpu.BindGroupLayout
	layout       *wgpu.PipelineLayout

	reset      *wgpu.ComputePipeline
	raygen     *wgpu.ComputePipeline
	prepare    *wgpu.ComputePipeline
	intersect  *wgpu.ComputePipeline
	shade      *wgpu.ComputePipeline
	accumulate *wgpu.ComputePipeline
}

// createPipelines builds the shared bind group layouts and all compute
// pipelines of the trace kernel module. All stages share one explicit
// pipeline layout so every stage binds the same two groups.
func (r *RayTracing) createPipelines() bool {
	device := r.ctx.Device

	storage := func(binding uint32, readOnly bool) wgpu.BindGroupLayoutEntry {
		t := wgpu.BufferBindingTypeStorage
		if readOnly {
			t = wgpu.BufferBindingTypeReadOnlyStorage
		}
		return wgpu.BindGroupLayoutEntry{
			Binding:    binding,
			Visibility: wgpu.ShaderStageCompute,
			Buffer:     wgpu.BufferBindingLayout{Type: t},
		}
	}

	bufferLayout, err := device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "TraceBuffers",
		Entries: []wgpu.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: wgpu.ShaderStageCompute,
				Buffer:     wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeUniform},
			},
			storage(1, true),  // positions
			storage(2, true),  // normals
			storage(3, true),  // triangles
			storage(4, true),  // nodes
			storage(5, true),  // materials
			storage(6, true),  // lights
			storage(7, false), // rays in
			storage(8, false), // rays out
			storage(9, false), // hits
			storage(10, false), // counters
			storage(11, false), // indirect args
			storage(12, false), // frame radiance
			storage(13, false), // pixel stats
			storage(14, false), // variance feedback
		},
	})
	if err != nil {
		r.log.Errorf("failed to create buffer layout: %v", err)
		return false
	}

	texLayout, err := device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "TraceTextures",
		Entries: []wgpu.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: wgpu.ShaderStageCompute,
				Texture: wgpu.TextureBindingLayout{
					SampleType:    wgpu.TextureSampleTypeUnfilterableFloat,
					ViewDimension: wgpu.TextureViewDimension2D,
				},
			},
			{
				Binding:    1,
				Visibility: wgpu.ShaderStageCompute,
				StorageTexture: wgpu.StorageTextureBindingLayout{
					Access:        wgpu.StorageTextureAccessWriteOnly,
					Format:        wgpu.TextureFormatRGBA32Float,
					ViewDimension: wgpu.TextureViewDimension2D,
				},
			},
			{
				Binding:    2,
				Visibility: wgpu.ShaderStageCompute,
				Texture: wgpu.TextureBindingLayout{
					SampleType:    wgpu.TextureSampleTypeSint,
					ViewDimension: wgpu.TextureViewDimension2D,
				},
			},
			{
				Binding:    3,
				Visibility: wgpu.ShaderStageCompute,
				Texture: wgpu.TextureBindingLayout{
					SampleType:    wgpu.TextureSampleTypeFloat,
					ViewDimension: wgpu.TextureViewDimension2D,
				},
			},
			{
				Binding:    4,
				Visibility: wgpu.ShaderStageCompute,
				Sampler:    wgpu.SamplerBindingLayout{Type: wgpu.SamplerBindingTypeFiltering},
			},
			{
				Binding:    5,
				Visibility: wgpu.ShaderStageCompute,
				Texture: wgpu.TextureBindingLayout{
					SampleType:    wgpu.TextureSampleTypeFloat,
					ViewDimension: wgpu.TextureViewDimension2DArray,
				},
			},
			{
				Binding:    6,
				Visibility: wgpu.ShaderStageCompute,
				Sampler:    wgpu.SamplerBindingLayout{Type: wgpu.SamplerBindingTypeFiltering},
			},
		},
	})
	if err != nil {
		r.log.Errorf("failed to create texture layout: %v", err)
		return false
	}

	layout, err := device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		BindGroupLayouts: []*wgpu.BindGroupLayout{bufferLayout, texLayout},
	})
	if err != nil {
		r.log.Errorf("failed to create pipeline layout: %v", err)
		return false
	}

	module, err := r.ctx.CompileShader("Pathtrace", shaders.PathtraceWGSL)
	if err != nil {
		return false
	}
	defer module.Release()

	p := tracePipelines{bufferLayout: bufferLayout, texLayout: texLayout, layout: layout}
	for _, stage := range []struct {
		entry string
		dst   **wgpu.ComputePipeline
	}{
		{"reset_pass", &p.reset},
		{"raygen", &p.raygen},
		{"prepare_dispatch", &p.prepare},
		{"intersect", &p.intersect},
		{"shade", &p.shade},
		{"accumulate", &p.accumulate},
	} {
		pipe, err := r.ctx.CreateComputePipeline("Pathtrace", module, stage.entry, layout)
		if err != nil {
			return false
		}
		*stage.dst = pipe
	}
	r.pipes = p
	return true
}

// ensureFrameResources (re)allocates everything sized by the viewport or the
// tile grid. Partial failure leaves the engine unusable until the next
// successful Resize; nothing is traced against half-built state.
func (r *RayTracing) ensureFrameResources() bool {
	fr := &r.res
	device := r.ctx.Device
	pixels := r.width * r.height

	type alloc struct {
		name  string
		buf   **wgpu.Buffer
		size  int
		usage wgpu.BufferUsage
	}
	allocs := []alloc{
		{"TraceParams", &fr.paramsBuf, paramsByteSize, wgpu.BufferUsageUniform},
		{"TraceRaysA", &fr.raysBuf[0], pixels * rayByteSize, wgpu.BufferUsageStorage},
		{"TraceRaysB", &fr.raysBuf[1], pixels * rayByteSize, wgpu.BufferUsageStorage},
		{"TraceHits", &fr.hitsBuf, pixels * hitByteSize, wgpu.BufferUsageStorage},
		{"TraceCounters", &fr.countersBuf, 16, wgpu.BufferUsageStorage},
		{"TraceIndirect", &fr.indirectBuf, 12, wgpu.BufferUsageStorage | wgpu.BufferUsageIndirect},
		{"TraceRadiance", &fr.radianceBuf, pixels * 16, wgpu.BufferUsageStorage},
		{"TraceStats", &fr.statsBuf, pixels * statsByteSize, wgpu.BufferUsageStorage},
		{"TraceVariance", &fr.varianceBuf, pixels * 4, wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc},
		{"TraceVarianceRead", &fr.readbackBuf, pixels * 4, wgpu.BufferUsageMapRead},
	}
	for _, a := range allocs {
		if _, err := r.ctx.EnsureBuffer(a.name, a.buf, make([]byte, a.size), a.usage, 0); err != nil {
			return false
		}
	}

	for i := 0; i < 2; i++ {
		if fr.accumTex[i] != nil {
			fr.accumTex[i].Release()
		}
		tex, view, err := r.ctx.CreateStorageTexture("TraceAccum", uint32(r.width), uint32(r.height), wgpu.TextureFormatRGBA32Float)
		if err != nil {
			return false
		}
		fr.accumTex[i], fr.accumView[i] = tex, view
	}
	fr.parity = 0

	if fr.offsetsTex != nil {
		fr.offsetsTex.Release()
	}
	var err error
	fr.offsetsTex, fr.offsetsView, err = r.ctx.CreateDataTexture("TileOffsets",
		uint32(r.tiles.NbTilesX()), uint32(r.tiles.NbTilesY()), 1, wgpu.TextureFormatRG32Sint)
	if err != nil {
		return false
	}

	if fr.samplesTex != nil {
		fr.samplesTex.Release()
	}
	fr.samplesTex, _, err = r.ctx.CreateDataTexture("TileSamples",
		uint32(r.width), uint32(r.height), 1, wgpu.TextureFormatR32Uint)
	if err != nil {
		return false
	}

	if fr.envSampler == nil {
		fr.envSampler, err = device.CreateSampler(&wgpu.SamplerDescriptor{
			AddressModeU:  wgpu.AddressModeRepeat,
			AddressModeV:  wgpu.AddressModeClampToEdge,
			MinFilter:     wgpu.FilterModeLinear,
			MagFilter:     wgpu.FilterModeLinear,
			MaxAnisotropy: 1,
		})
		if err != nil {
			return false
		}
		fr.albedoSampler, err = device.CreateSampler(&wgpu.SamplerDescriptor{
			AddressModeU:  wgpu.AddressModeRepeat,
			AddressModeV:  wgpu.AddressModeRepeat,
			MinFilter:     wgpu.FilterModeLinear,
			MagFilter:     wgpu.FilterModeLinear,
			MaxAnisotropy: 1,
		})
		if err != nil {
			return false
		}
	}

	// Placeholder environment and albedo textures keep bind groups valid
	// until real content is supplied.
	if fr.envTex == nil {
		if !r.uploadEnvPixels([]byte{0, 0, 0, 255}, 1, 1) {
			return false
		}
	}
	if fr.albedoTex == nil {
		if !r.uploadAlbedoPixels([][]byte{{255, 255, 255, 255}}, 1, 1) {
			return false
		}
	}

	fr.readState = readbackIdle
	fr.lastVariance = nil
	return r.createBindGroups()
}

// createBindGroups rebuilds both parities of both groups. Called after any
// resize, scene rebuild or texture replacement, since those can reallocate
// underlying resources.
func (r *RayTracing) createBindGroups() bool {
	fr := &r.res
	s := r.scene
	if s.PositionsBuf == nil || s.NodesBuf == nil {
		// Scene not built yet; groups are created on the first trace.
		return true
	}
	device := r.ctx.Device

	for parity := 0; parity < 2; parity++ {
		group, err := device.CreateBindGroup(&wgpu.BindGroupDescriptor{
			Label:  "TraceBuffers",
			Layout: r.pipes.bufferLayout,
			Entries: []wgpu.BindGroupEntry{
				{Binding: 0, Buffer: fr.paramsBuf, Size: wgpu.WholeSize},
				{Binding: 1, Buffer: s.PositionsBuf, Size: wgpu.WholeSize},
				{Binding: 2, Buffer: s.NormalsBuf, Size: wgpu.WholeSize},
				{Binding: 3, Buffer: s.TrianglesBuf, Size: wgpu.WholeSize},
				{Binding: 4, Buffer: s.NodesBuf, Size: wgpu.WholeSize},
				{Binding: 5, Buffer: s.MaterialsBuf, Size: wgpu.WholeSize},
				{Binding: 6, Buffer: s.LightsBuf, Size: wgpu.WholeSize},
				{Binding: 7, Buffer: fr.raysBuf[parity], Size: wgpu.WholeSize},
				{Binding: 8, Buffer: fr.raysBuf[parity^1], Size: wgpu.WholeSize},
				{Binding: 9, Buffer: fr.hitsBuf, Size: wgpu.WholeSize},
				{Binding: 10, Buffer: fr.countersBuf, Size: wgpu.WholeSize},
				{Binding: 11, Buffer: fr.indirectBuf, Size: wgpu.WholeSize},
				{Binding: 12, Buffer: fr.radianceBuf, Size: wgpu.WholeSize},
				{Binding: 13, Buffer: fr.statsBuf, Size: wgpu.WholeSize},
				{Binding: 14, Buffer: fr.varianceBuf, Size: wgpu.WholeSize},
			},
		})
		if err != nil {
			r.log.Errorf("failed to create buffer bind group: %v", err)
			return false
		}
		fr.bufferGroup[parity] = group

		texGroup, err := device.CreateBindGroup(&wgpu.BindGroupDescriptor{
			Label:  "TraceTextures",
			Layout: r.pipes.texLayout,
			Entries: []wgpu.BindGroupEntry{
				{Binding: 0, TextureView: fr.accumView[parity^1]},
				{Binding: 1, TextureView: fr.accumView[parity]},
				{Binding: 2, TextureView: fr.offsetsView},
				{Binding: 3, TextureView: fr.envView},
				{Binding: 4, Sampler: fr.envSampler},
				{Binding: 5, TextureView: fr.albedoView},
				{Binding: 6, Sampler: fr.albedoSampler},
			},
		})
		if err != nil {
			r.log.Errorf("failed to create texture bind group: %v", err)
			return false
		}
		fr.texGroup[parity] = texGroup
	}
	return true
}

// SetEnvironmentMap uploads an equirectangular environment image. Enables
// nothing by itself; combine with SetEnvironmentMapEnabled.
func (r *RayTracing) SetEnvironmentMap(img image.Image) bool {
	if img == nil {
		return false
	}
	rgba := toRGBA(img)
	b := rgba.Bounds()
	if !r.uploadEnvPixels(rgba.Pix, uint32(b.Dx()), uint32(b.Dy())) {
		return false
	}
	if !r.createBindGroups() {
		return false
	}
	r.ResetAccumulation()
	return true
}

// SetTextures uploads the diffuse texture array referenced by material
// texture ids. All images are rescaled to the first image's dimensions.
func (r *RayTracing) SetTextures(images []image.Image) bool {
	if len(images) == 0 {
		return false
	}
	first := toRGBA(images[0])
	w, h := first.Bounds().Dx(), first.Bounds().Dy()
	layers := make([][]byte, len(images))
	layers[0] = first.Pix
	for i := 1; i < len(images); i++ {
		rgba := toRGBA(images[i])
		if rgba.Bounds().Dx() != w || rgba.Bounds().Dy() != h {
			scaled := image.NewRGBA(image.Rect(0, 0, w, h))
			xdraw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), rgba, rgba.Bounds(), xdraw.Over, nil)
			rgba = scaled
		}
		layers[i] = rgba.Pix
	}
	if !r.uploadAlbedoPixels(layers, uint32(w), uint32(h)) {
		return false
	}
	if !r.createBindGroups() {
		return false
	}
	r.ResetAccumulation()
	return true
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.Draw(rgba, rgba.Bounds(), img, b.Min, xdraw.Src)
	return rgba
}

func (r *RayTracing) uploadEnvPixels(pix []byte, w, h uint32) bool {
	fr := &r.res
	if fr.envTex != nil {
		fr.envTex.Release()
		fr.envTex = nil
	}
	tex, view, err := r.ctx.CreateDataTexture("Environment", w, h, 1, wgpu.TextureFormatRGBA8Unorm)
	if err != nil {
		return false
	}
	fr.envTex, fr.envView = tex, view
	r.ctx.Queue.WriteTexture(tex.AsImageCopy(), pix, &wgpu.TextureDataLayout{
		Offset:       0,
		BytesPerRow:  w * 4,
		RowsPerImage: h,
	}, &wgpu.Extent3D{Width: w, Height: h, DepthOrArrayLayers: 1})
	return true
}

func (r *RayTracing) uploadAlbedoPixels(layers [][]byte, w, h uint32) bool {
	fr := &r.res
	if fr.albedoTex != nil {
		fr.albedoTex.Release()
		fr.albedoTex = nil
	}
	count := uint32(len(layers))
	tex, err := r.ctx.Device.CreateTexture(&wgpu.TextureDescriptor{
		Label:         "AlbedoArray",
		Size:          wgpu.Extent3D{Width: w, Height: h, DepthOrArrayLayers: count},
		MipLevelCount: 1,
		Dimension:     wgpu.TextureDimension2D,
		Format:        wgpu.TextureFormatRGBA8Unorm,
		Usage:         wgpu.TextureUsageTextureBinding | wgpu.TextureUsageCopyDst,
		SampleCount:   1,
	})
	if err != nil {
		r.log.Errorf("failed to allocate albedo array (%dx%dx%d): %v", w, h, count, err)
		return false
	}
	view, err := tex.CreateView(&wgpu.TextureViewDescriptor{
		Format:          wgpu.TextureFormatRGBA8Unorm,
		Dimension:       wgpu.TextureViewDimension2DArray,
		MipLevelCount:   1,
		ArrayLayerCount: count,
		Aspect:          wgpu.TextureAspectAll,
	})
	if err != nil {
		tex.Release()
		return false
	}
	fr.albedoTex, fr.albedoView = tex, view

	for i, pix := range layers {
		r.ctx.Queue.WriteTexture(&wgpu.ImageCopyTexture{
			Texture:  tex,
			MipLevel: 0,
			Origin:   wgpu.Origin3D{X: 0, Y: 0, Z: uint32(i)},
			Aspect:   wgpu.TextureAspectAll,
		}, pix, &wgpu.TextureDataLayout{
			Offset:       0,
			BytesPerRow:  w * 4,
			RowsPerImage: h,
		}, &wgpu.Extent3D{Width: w, Height: h, DepthOrArrayLayers: 1})
	}
	return true
}

// varianceFeedback drives the asynchronous readback of the per-pixel
// variance buffer. Returns the most recent completed snapshot, or nil while
// none is available. The copy into the readback buffer is recorded by Trace;
// mapping happens across subsequent frames so the host never stalls.
func (r *RayTracing) varianceFeedback() []float32 {
	fr := &r.res

	fr.readMu.Lock()
	if fr.readState == readbackCopied {
		fr.readState = readbackMapping
		fr.readbackBuf.MapAsync(wgpu.MapModeRead, 0, fr.readbackBuf.GetSize(), func(status wgpu.BufferMapAsyncStatus) {
			fr.readMu.Lock()
			defer fr.readMu.Unlock()
			if status == wgpu.BufferMapAsyncStatusSuccess {
				fr.readState = readbackMapped
			} else {
				fr.readState = readbackIdle
			}
		})
	}
	fr.readMu.Unlock()

	fr.readMu.Lock()
	defer fr.readMu.Unlock()
	if fr.readState == readbackMapped {
		size := fr.readbackBuf.GetSize()
		data := fr.readbackBuf.GetMappedRange(0, uint(size))
		pixels := r.width * r.height
		if len(fr.lastVariance) != pixels {
			fr.lastVariance = make([]float32, pixels)
		}
		for i := 0; i < pixels && i*4+4 <= len(data); i++ {
			fr.lastVariance[i] = float32FromBytes(data[i*4:])
		}
		fr.readbackBuf.Unmap()
		fr.readState = readbackIdle
	}
	return fr.lastVariance
}

func float32FromBytes(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}
