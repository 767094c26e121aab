package post

import (
	"encoding/binary"
	"math"

	"github.com/cogentcore/webgpu/wgpu"

	"github.com/FyrbyAdditive/OCCT-Metal/rt/core"
	"github.com/FyrbyAdditive/OCCT-Metal/rt/gpu"
	"github.com/FyrbyAdditive/OCCT-Metal/rt/shaders"
)

// ToneMappingMode selects the response curve applied during composition.
type ToneMappingMode uint32

const (
	ToneMappingNone ToneMappingMode = iota
	ToneMappingReinhard
	ToneMappingACES
	ToneMappingUncharted2
)

func (m ToneMappingMode) String() string {
	switch m {
	case ToneMappingReinhard:
		return "reinhard"
	case ToneMappingACES:
		return "aces"
	case ToneMappingUncharted2:
		return "uncharted2"
	default:
		return "none"
	}
}

// Params configures composition of the accumulated HDR radiance into the
// display buffer.
type Params struct {
	Mode       ToneMappingMode
	Exposure   float32
	Gamma      float32
	WhitePoint float32

	BloomEnabled   bool
	BloomThreshold float32
	BloomIntensity float32
}

// DefaultParams returns the standard composition settings.
func DefaultParams() Params {
	return Params{
		Mode:           ToneMappingReinhard,
		Exposure:       1.0,
		Gamma:          2.2,
		WhitePoint:     4.0,
		BloomThreshold: 1.0,
		BloomIntensity: 0.3,
	}
}

const paramsByteSize = 48

func (p *Params) toBytes(width, height int) []byte {
	buf := make([]byte, paramsByteSize)
	binary.LittleEndian.PutUint32(buf[0:], uint32(width))
	binary.LittleEndian.PutUint32(buf[4:], uint32(height))
	binary.LittleEndian.PutUint32(buf[8:], uint32(p.Mode))
	binary.LittleEndian.PutUint32(buf[16:], math.Float32bits(p.Exposure))
	gamma := p.Gamma
	if gamma <= 0 {
		gamma = 2.2
	}
	binary.LittleEndian.PutUint32(buf[20:], math.Float32bits(1.0/gamma))
	binary.LittleEndian.PutUint32(buf[24:], math.Float32bits(p.WhitePoint))
	binary.LittleEndian.PutUint32(buf[28:], math.Float32bits(p.BloomThreshold))
	binary.LittleEndian.PutUint32(buf[32:], math.Float32bits(p.BloomIntensity))
	return buf
}

// CPU reference curves, per channel. The tonemap kernel mirrors these; tests
// exercise them directly.

// ReinhardExtended compresses with a white-point-normalized Reinhard curve.
func ReinhardExtended(c, whitePoint float32) float32 {
	w2 := whitePoint * whitePoint
	return c * (1 + c/w2) / (1 + c)
}

// ACESFilmic is Narkowicz's analytic fit of the ACES RRT+ODT.
func ACESFilmic(c float32) float32 {
	v := (c * (2.51*c + 0.03)) / (c*(2.43*c+0.59) + 0.14)
	return clamp01(v)
}

func uncharted2Curve(c float32) float32 {
	const a, b, cc, d, e, f = 0.15, 0.50, 0.10, 0.20, 0.02, 0.30
	return (c*(a*c+cc*b)+d*e)/(c*(a*c+b)+d*f) - e/f
}

// Uncharted2Filmic applies Hable's filmic curve scaled by the white point.
func Uncharted2Filmic(c, whitePoint float32) float32 {
	return uncharted2Curve(c*2.0) / uncharted2Curve(whitePoint)
}

// ApplyCurve maps one linear HDR channel value through the selected
// operator. ToneMappingNone clamps.
func ApplyCurve(mode ToneMappingMode, c, whitePoint float32) float32 {
	switch mode {
	case ToneMappingReinhard:
		return ReinhardExtended(c, whitePoint)
	case ToneMappingACES:
		return ACESFilmic(c)
	case ToneMappingUncharted2:
		return Uncharted2Filmic(c, whitePoint)
	default:
		return clamp01(c)
	}
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// PostProcess composes accumulated radiance into a displayable texture:
// optional bloom (bright pass, separable blur) followed by tone mapping and
// gamma encoding. All passes read the accumulation texture and work on
// transient targets; the accumulation buffer is never written here.
type PostProcess struct {
	ctx *gpu.Context
	log core.Logger

	width  int
	height int

	paramsBuf *wgpu.Buffer

	bloomTex  [2]*wgpu.Texture
	bloomView [2]*wgpu.TextureView

	tonemapLayout *wgpu.BindGroupLayout
	bloomLayout   *wgpu.BindGroupLayout

	// Bind groups are cached per source/destination view pair so steady-state
	// frames allocate nothing. Resize drops the cache along with the views.
	groups map[groupKey]*wgpu.BindGroup

	tonemap      *wgpu.ComputePipeline
	tonemapBloom *wgpu.ComputePipeline
	brightPass   *wgpu.ComputePipeline
	blurH        *wgpu.ComputePipeline
	blurV        *wgpu.ComputePipeline
}

type groupKey struct {
	src *wgpu.TextureView
	dst *wgpu.TextureView
}

// NewPostProcess compiles the composition pipelines. Returns nil on failure.
func NewPostProcess(ctx *gpu.Context) *PostProcess {
	p := &PostProcess{ctx: ctx, log: ctx.Logger(), groups: map[groupKey]*wgpu.BindGroup{}}
	if !p.createPipelines() {
		return nil
	}
	return p
}

func (p *PostProcess) createPipelines() bool {
	device := p.ctx.Device

	uniformEntry := wgpu.BindGroupLayoutEntry{
		Binding:    0,
		Visibility: wgpu.ShaderStageCompute,
		Buffer:     wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeUniform},
	}
	hdrTexture := func(binding uint32) wgpu.BindGroupLayoutEntry {
		return wgpu.BindGroupLayoutEntry{
			Binding:    binding,
			Visibility: wgpu.ShaderStageCompute,
			Texture: wgpu.TextureBindingLayout{
				SampleType:    wgpu.TextureSampleTypeUnfilterableFloat,
				ViewDimension: wgpu.TextureViewDimension2D,
			},
		}
	}
	storageTexture := func(binding uint32, format wgpu.TextureFormat) wgpu.BindGroupLayoutEntry {
		return wgpu.BindGroupLayoutEntry{
			Binding:    binding,
			Visibility: wgpu.ShaderStageCompute,
			StorageTexture: wgpu.StorageTextureBindingLayout{
				Access:        wgpu.StorageTextureAccessWriteOnly,
				Format:        format,
				ViewDimension: wgpu.TextureViewDimension2D,
			},
		}
	}

	var err error
	p.tonemapLayout, err = device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "Tonemap",
		Entries: []wgpu.BindGroupLayoutEntry{
			uniformEntry,
			hdrTexture(1),
			storageTexture(2, wgpu.TextureFormatRGBA8Unorm),
			hdrTexture(3),
		},
	})
	if err != nil {
		p.log.Errorf("failed to create tonemap layout: %v", err)
		return false
	}
	p.bloomLayout, err = device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "Bloom",
		Entries: []wgpu.BindGroupLayoutEntry{
			uniformEntry,
			hdrTexture(1),
			storageTexture(2, wgpu.TextureFormatRGBA32Float),
		},
	})
	if err != nil {
		p.log.Errorf("failed to create bloom layout: %v", err)
		return false
	}

	tonemapPL, err := device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		BindGroupLayouts: []*wgpu.BindGroupLayout{p.tonemapLayout},
	})
	if err != nil {
		return false
	}
	bloomPL, err := device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		BindGroupLayouts: []*wgpu.BindGroupLayout{p.bloomLayout},
	})
	if err != nil {
		return false
	}

	tonemapModule, err := p.ctx.CompileShader("Tonemap", shaders.TonemapWGSL)
	if err != nil {
		return false
	}
	defer tonemapModule.Release()
	bloomModule, err := p.ctx.CompileShader("Bloom", shaders.BloomWGSL)
	if err != nil {
		return false
	}
	defer bloomModule.Release()

	if p.tonemap, err = p.ctx.CreateComputePipeline("Tonemap", tonemapModule, "tonemap_pass", tonemapPL); err != nil {
		return false
	}
	if p.tonemapBloom, err = p.ctx.CreateComputePipeline("TonemapBloom", tonemapModule, "tonemap_bloom_pass", tonemapPL); err != nil {
		return false
	}
	if p.brightPass, err = p.ctx.CreateComputePipeline("BloomBright", bloomModule, "bright_pass", bloomPL); err != nil {
		return false
	}
	if p.blurH, err = p.ctx.CreateComputePipeline("BloomBlurH", bloomModule, "blur_horizontal", bloomPL); err != nil {
		return false
	}
	if p.blurV, err = p.ctx.CreateComputePipeline("BloomBlurV", bloomModule, "blur_vertical", bloomPL); err != nil {
		return false
	}
	return true
}

func (p *PostProcess) releaseGroups() {
	for k, g := range p.groups {
		g.Release()
		delete(p.groups, k)
	}
}

func (p *PostProcess) bloomGroup(src, dst *wgpu.TextureView) (*wgpu.BindGroup, error) {
	key := groupKey{src, dst}
	if g, ok := p.groups[key]; ok {
		return g, nil
	}
	g, err := p.ctx.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "Bloom",
		Layout: p.bloomLayout,
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: p.paramsBuf, Size: wgpu.WholeSize},
			{Binding: 1, TextureView: src},
			{Binding: 2, TextureView: dst},
		},
	})
	if err != nil {
		return nil, err
	}
	p.groups[key] = g
	return g, nil
}

func (p *PostProcess) tonemapGroup(src, dst *wgpu.TextureView) (*wgpu.BindGroup, error) {
	key := groupKey{src, dst}
	if g, ok := p.groups[key]; ok {
		return g, nil
	}
	g, err := p.ctx.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "Tonemap",
		Layout: p.tonemapLayout,
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: p.paramsBuf, Size: wgpu.WholeSize},
			{Binding: 1, TextureView: src},
			{Binding: 2, TextureView: dst},
			{Binding: 3, TextureView: p.bloomView[0]},
		},
	})
	if err != nil {
		return nil, err
	}
	p.groups[key] = g
	return g, nil
}

// Resize reallocates the transient bloom targets.
func (p *PostProcess) Resize(width, height int) bool {
	p.width = width
	p.height = height
	p.releaseGroups()
	if _, err := p.ctx.EnsureBuffer("PostParams", &p.paramsBuf, make([]byte, paramsByteSize), wgpu.BufferUsageUniform, 0); err != nil {
		return false
	}
	for i := 0; i < 2; i++ {
		if p.bloomTex[i] != nil {
			p.bloomTex[i].Release()
		}
		tex, view, err := p.ctx.CreateStorageTexture("BloomTarget", uint32(width), uint32(height), wgpu.TextureFormatRGBA32Float)
		if err != nil {
			return false
		}
		p.bloomTex[i], p.bloomView[i] = tex, view
	}
	return true
}

// Run records the composition passes: accumulated radiance in src is tone
// mapped (and bloomed when enabled) into dst, an rgba8unorm storage texture
// of the same size. src is only ever read.
func (p *PostProcess) Run(encoder *wgpu.CommandEncoder, src, dst *wgpu.TextureView, params Params) bool {
	p.ctx.Queue.WriteBuffer(p.paramsBuf, 0, params.toBytes(p.width, p.height))

	groupsX := uint32((p.width + 7) / 8)
	groupsY := uint32((p.height + 7) / 8)

	if params.BloomEnabled {
		stages := []struct {
			pipeline *wgpu.ComputePipeline
			src      *wgpu.TextureView
			dst      *wgpu.TextureView
		}{
			{p.brightPass, src, p.bloomView[0]},
			{p.blurH, p.bloomView[0], p.bloomView[1]},
			{p.blurV, p.bloomView[1], p.bloomView[0]},
		}
		for _, stage := range stages {
			group, err := p.bloomGroup(stage.src, stage.dst)
			if err != nil {
				p.log.Errorf("failed to create bloom bind group: %v", err)
				return false
			}
			pass := encoder.BeginComputePass(nil)
			pass.SetPipeline(stage.pipeline)
			pass.SetBindGroup(0, group, nil)
			pass.DispatchWorkgroups(groupsX, groupsY, 1)
			pass.End()
		}
	}

	pipeline := p.tonemap
	if params.BloomEnabled {
		pipeline = p.tonemapBloom
	}
	group, err := p.tonemapGroup(src, dst)
	if err != nil {
		p.log.Errorf("failed to create tonemap bind group: %v", err)
		return false
	}
	pass := encoder.BeginComputePass(nil)
	pass.SetPipeline(pipeline)
	pass.SetBindGroup(0, group, nil)
	pass.DispatchWorkgroups(groupsX, groupsY, 1)
	pass.End()
	return true
}

// Release frees the transient targets.
func (p *PostProcess) Release() {
	p.releaseGroups()
	if p.paramsBuf != nil {
		p.paramsBuf.Release()
		p.paramsBuf = nil
	}
	for i := 0; i < 2; i++ {
		if p.bloomTex[i] != nil {
			p.bloomTex[i].Release()
			p.bloomTex[i] = nil
		}
	}
}
