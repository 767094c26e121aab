package gpu

import (
	"github.com/cogentcore/webgpu/wgpu"

	"github.com/FyrbyAdditive/OCCT-Metal/rt/core"
)

// Context wraps the WebGPU device and queue used by the path tracer. The
// core never assumes a particular backing implementation beyond this handle
// set; windowing and surface management stay with the caller.
type Context struct {
	Adapter *wgpu.Adapter
	Device  *wgpu.Device
	Queue   *wgpu.Queue

	log core.Logger
}

// NewContext wraps an existing adapter/device pair. The adapter may be nil
// for headless device-only use.
func NewContext(adapter *wgpu.Adapter, device *wgpu.Device, log core.Logger) *Context {
	if log == nil {
		log = core.NewNopLogger()
	}
	return &Context{
		Adapter: adapter,
		Device:  device,
		Queue:   device.GetQueue(),
		log:     log,
	}
}

// Logger returns the context logger; never nil.
func (c *Context) Logger() core.Logger { return c.log }

// SupportsRayTracing reports whether this device can run the ray tracing
// pipelines. The shade stage binds the flattened scene and the ray queues
// in one group, so the device must allow at least fourteen storage buffers
// per compute stage (the WebGPU default of eight is not enough; request
// higher limits at device creation) and a reasonably sized workgroup.
func (c *Context) SupportsRayTracing() bool {
	if c.Device == nil {
		return false
	}
	limits := c.Device.GetLimits()
	if limits.Limits.MaxStorageBuffersPerShaderStage < 14 {
		return false
	}
	if limits.Limits.MaxComputeInvocationsPerWorkgroup < 64 {
		return false
	}
	return true
}

// EnsureBuffer creates or grows a GPU buffer to fit data plus headroom and
// writes the data into it. Returns whether the buffer was (re)created; an
// error leaves any previous buffer intact so the caller can retry.
func (c *Context) EnsureBuffer(name string, buf **wgpu.Buffer, data []byte, usage wgpu.BufferUsage, headroom int) (bool, error) {
	neededSize := uint64(len(data) + headroom)
	if neededSize == 0 {
		neededSize = 4
	}
	if neededSize%4 != 0 {
		neededSize += 4 - (neededSize % 4)
	}

	current := *buf
	if current == nil || current.GetSize() < neededSize {
		desc := &wgpu.BufferDescriptor{
			Label:            name,
			Size:             neededSize,
			Usage:            usage | wgpu.BufferUsageCopyDst,
			MappedAtCreation: false,
		}
		newBuf, err := c.Device.CreateBuffer(desc)
		if err != nil {
			c.log.Errorf("failed to allocate buffer %s (%d bytes): %v", name, neededSize, err)
			return false, err
		}
		if current != nil {
			current.Release()
		}
		*buf = newBuf

		if len(data) > 0 {
			c.Queue.WriteBuffer(*buf, 0, data)
		}
		return true, nil
	}

	if len(data) > 0 {
		c.Queue.WriteBuffer(*buf, 0, data)
	}
	return false, nil
}

// CreateStorageTexture allocates a 2D storage texture and its default view.
func (c *Context) CreateStorageTexture(label string, width, height uint32, format wgpu.TextureFormat) (*wgpu.Texture, *wgpu.TextureView, error) {
	tex, err := c.Device.CreateTexture(&wgpu.TextureDescriptor{
		Label:         label,
		Size:          wgpu.Extent3D{Width: width, Height: height, DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		Dimension:     wgpu.TextureDimension2D,
		Format:        format,
		Usage:         wgpu.TextureUsageStorageBinding | wgpu.TextureUsageTextureBinding | wgpu.TextureUsageCopySrc | wgpu.TextureUsageCopyDst,
		SampleCount:   1,
	})
	if err != nil {
		c.log.Errorf("failed to allocate texture %s (%dx%d): %v", label, width, height, err)
		return nil, nil, err
	}
	view, err := tex.CreateView(nil)
	if err != nil {
		tex.Release()
		return nil, nil, err
	}
	return tex, view, nil
}

// CreateDataTexture allocates a 2D texture (optionally layered) written by
// the host with queue.WriteTexture and read by shaders with textureLoad or
// textureSampleLevel.
func (c *Context) CreateDataTexture(label string, width, height, layers uint32, format wgpu.TextureFormat) (*wgpu.Texture, *wgpu.TextureView, error) {
	if layers == 0 {
		layers = 1
	}
	tex, err := c.Device.CreateTexture(&wgpu.TextureDescriptor{
		Label:         label,
		Size:          wgpu.Extent3D{Width: width, Height: height, DepthOrArrayLayers: layers},
		MipLevelCount: 1,
		Dimension:     wgpu.TextureDimension2D,
		Format:        format,
		Usage:         wgpu.TextureUsageTextureBinding | wgpu.TextureUsageCopyDst,
		SampleCount:   1,
	})
	if err != nil {
		c.log.Errorf("failed to allocate texture %s (%dx%dx%d): %v", label, width, height, layers, err)
		return nil, nil, err
	}
	view, err := tex.CreateView(nil)
	if err != nil {
		tex.Release()
		return nil, nil, err
	}
	return tex, view, nil
}

// CompileShader compiles a WGSL module. The caller releases it once all
// pipelines referring to it are created.
func (c *Context) CompileShader(label, code string) (*wgpu.ShaderModule, error) {
	module, err := c.Device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          label,
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: code},
	})
	if err != nil {
		c.log.Errorf("failed to compile shader %s: %v", label, err)
		return nil, err
	}
	return module, nil
}

// CreateComputePipeline builds a compute pipeline for one entry point of a
// compiled module. A nil layout derives the layout from the shader.
func (c *Context) CreateComputePipeline(label string, module *wgpu.ShaderModule, entryPoint string, layout *wgpu.PipelineLayout) (*wgpu.ComputePipeline, error) {
	pipeline, err := c.Device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  label,
		Layout: layout,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     module,
			EntryPoint: entryPoint,
		},
	})
	if err != nil {
		c.log.Errorf("failed to create pipeline %s (%s): %v", label, entryPoint, err)
		return nil, err
	}
	return pipeline, nil
}
