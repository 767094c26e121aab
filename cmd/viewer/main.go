package main

import (
	"fmt"
	"math"
	"runtime"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/cogentcore/webgpu/wgpuglfw"
	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/FyrbyAdditive/OCCT-Metal/rt/core"
	"github.com/FyrbyAdditive/OCCT-Metal/rt/geometry"
	"github.com/FyrbyAdditive/OCCT-Metal/rt/gpu"
	"github.com/FyrbyAdditive/OCCT-Metal/rt/post"
	"github.com/FyrbyAdditive/OCCT-Metal/rt/shaders"
	"github.com/FyrbyAdditive/OCCT-Metal/rt/tracer"
)

func init() {
	runtime.LockOSThread()
}

type viewer struct {
	window   *glfw.Window
	instance *wgpu.Instance
	surface  *wgpu.Surface
	config   *wgpu.SurfaceConfiguration
	ctx      *gpu.Context

	engine *tracer.RayTracing
	scene  *geometry.Store

	outputTex  *wgpu.Texture
	outputView *wgpu.TextureView

	blitPipeline *wgpu.RenderPipeline
	blitSampler  *wgpu.Sampler
	blitGroup    *wgpu.BindGroup

	// Orbit camera.
	yaw      float64
	pitch    float64
	distance float64
	target   mgl32.Vec3
	fov      float32

	dragging   bool
	lastCursor [2]float64

	resizePending [2]int
}

func main() {
	if err := glfw.Init(); err != nil {
		panic(err)
	}
	defer glfw.Terminate()

	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	window, err := glfw.CreateWindow(1280, 720, "Path Tracer", nil, nil)
	if err != nil {
		panic(err)
	}
	defer window.Destroy()

	v := &viewer{
		window:   window,
		yaw:      0.6,
		pitch:    0.35,
		distance: 9,
		target:   mgl32.Vec3{0, 1, 0},
		fov:      45,
	}
	if err := v.initGPU(); err != nil {
		panic(err)
	}
	v.buildScene()
	v.installCallbacks()

	log := core.NewDefaultLogger("viewer", false)
	v.engine = tracer.New(v.scene, log)
	v.engine.SetPathTracingEnabled(true)
	v.engine.SetReflectionsEnabled(true)
	v.engine.SetToneMappingEnabled(true)
	v.engine.SetToneMappingMode(post.ToneMappingACES)

	width, height := window.GetFramebufferSize()
	if !v.engine.Init(v.ctx, width, height) {
		panic("ray tracing init failed")
	}
	if !v.scene.UploadMeshes(v.ctx) {
		panic("mesh upload failed")
	}
	if !v.scene.BuildAccelerationStructure(v.ctx) {
		panic("acceleration structure build failed")
	}
	if !v.createOutput(width, height) {
		panic("output target creation failed")
	}

	frames := 0
	fpsTime := glfw.GetTime()
	for !window.ShouldClose() {
		glfw.PollEvents()
		v.applyResize()

		origin := v.cameraOrigin()
		if v.engine.Trace(v.outputView, origin, v.target, mgl32.Vec3{0, 1, 0}, v.fov) {
			v.present()
		}

		frames++
		if now := glfw.GetTime(); now-fpsTime >= 1.0 {
			window.SetTitle(fmt.Sprintf("Path Tracer | %d fps | %d frames accumulated",
				frames, v.engine.FrameIndex()))
			frames = 0
			fpsTime = now
		}
	}

	v.engine.Release()
	v.scene.Release()
}

func (v *viewer) initGPU() error {
	v.instance = wgpu.CreateInstance(nil)
	v.surface = v.instance.CreateSurface(wgpuglfw.GetSurfaceDescriptor(v.window))

	adapter, err := v.instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		CompatibleSurface: v.surface,
		PowerPreference:   wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		return err
	}

	// The trace kernels bind more storage buffers than the default device
	// limit allows, so raise it.
	limits := wgpu.DefaultLimits()
	limits.MaxStorageBuffersPerShaderStage = 16
	device, err := adapter.RequestDevice(&wgpu.DeviceDescriptor{
		Label:          "PathTracer",
		RequiredLimits: &wgpu.RequiredLimits{Limits: limits},
	})
	if err != nil {
		return err
	}
	v.ctx = gpu.NewContext(adapter, device, core.NewDefaultLogger("gpu", false))

	width, height := v.window.GetFramebufferSize()
	caps := v.surface.GetCapabilities(adapter)
	v.config = &wgpu.SurfaceConfiguration{
		Usage:       wgpu.TextureUsageRenderAttachment,
		Format:      caps.Formats[0],
		Width:       uint32(width),
		Height:      uint32(height),
		PresentMode: wgpu.PresentModeFifo,
		AlphaMode:   caps.AlphaModes[0],
	}
	v.surface.Configure(adapter, device, v.config)

	fsModule, err := device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          "Fullscreen VS/FS",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: shaders.FullscreenWGSL},
	})
	if err != nil {
		return err
	}
	defer fsModule.Release()

	v.blitPipeline, err = device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
		Label: "Blit Pipeline",
		Vertex: wgpu.VertexState{
			Module:     fsModule,
			EntryPoint: "vs_main",
		},
		Fragment: &wgpu.FragmentState{
			Module:     fsModule,
			EntryPoint: "fs_main",
			Targets: []wgpu.ColorTargetState{{
				Format:    v.config.Format,
				WriteMask: wgpu.ColorWriteMaskAll,
			}},
		},
		Primitive: wgpu.PrimitiveState{
			Topology: wgpu.PrimitiveTopologyTriangleList,
		},
		Multisample: wgpu.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	})
	if err != nil {
		return err
	}

	v.blitSampler, err = device.CreateSampler(&wgpu.SamplerDescriptor{
		MinFilter:     wgpu.FilterModeLinear,
		MagFilter:     wgpu.FilterModeLinear,
		MaxAnisotropy: 1,
	})
	return err
}

// buildScene assembles a small closed box with two blocks, one mirror and
// one glass, lit by a point light near the ceiling.
func (v *viewer) buildScene() {
	v.scene = geometry.NewStore(core.NewDefaultLogger("scene", false))

	white := core.NewMaterial(mgl32.Vec3{0.75, 0.75, 0.75})
	red := core.NewMaterial(mgl32.Vec3{0.75, 0.15, 0.15})
	green := core.NewMaterial(mgl32.Vec3{0.15, 0.75, 0.15})

	mirror := core.NewMaterial(mgl32.Vec3{0.9, 0.9, 0.9})
	mirror.Reflection = mgl32.Vec4{0.9, 0, 0, 0}
	mirror.SetRoughness(0.05)

	glass := core.NewMaterial(mgl32.Vec3{0.95, 0.95, 0.95})
	glass.Transparency[0] = 0.9
	glass.SetIOR(1.5)

	v.scene.SetMaterials([]core.Material{white, red, green, mirror, glass})

	floor := quad("floor", mgl32.Vec3{-4, 0, -4}, mgl32.Vec3{8, 0, 0}, mgl32.Vec3{0, 0, 8}, 0)
	ceiling := quad("ceiling", mgl32.Vec3{-4, 6, 4}, mgl32.Vec3{8, 0, 0}, mgl32.Vec3{0, 0, -8}, 0)
	back := quad("back", mgl32.Vec3{-4, 0, -4}, mgl32.Vec3{0, 6, 0}, mgl32.Vec3{8, 0, 0}, 0)
	left := quad("left", mgl32.Vec3{-4, 0, 4}, mgl32.Vec3{0, 6, 0}, mgl32.Vec3{0, 0, -8}, 1)
	right := quad("right", mgl32.Vec3{4, 0, -4}, mgl32.Vec3{0, 6, 0}, mgl32.Vec3{0, 0, 8}, 2)

	tall := box("tall", mgl32.Vec3{-2.2, 0, -1.5}, mgl32.Vec3{1.6, 3.2, 1.6}, 3)
	short := box("short", mgl32.Vec3{0.8, 0, 0.4}, mgl32.Vec3{1.8, 1.8, 1.8}, 4)

	for _, mesh := range []*geometry.Mesh{floor, ceiling, back, left, right, tall, short} {
		v.scene.AddMesh(mesh)
		v.scene.AddInstance(geometry.NewInstance(mesh))
	}

	v.scene.SetLights([]core.Light{
		core.NewPointLight(mgl32.Vec3{0, 5.6, 0}, mgl32.Vec3{1, 0.95, 0.9}, 40),
		core.NewDirectionalLight(mgl32.Vec3{-0.3, -1, -0.2}, mgl32.Vec3{0.4, 0.45, 0.5}, 0.5),
	})
}

type meshData struct {
	vertices  []float32
	normals   []float32
	texCoords []float32
	indices   []uint32
}

// appendQuad adds a rectangle from an origin and two edge vectors. The
// normal follows the right-hand rule on the edges.
func (d *meshData) appendQuad(origin, e1, e2 mgl32.Vec3) {
	n := e1.Cross(e2)
	if n.Len() > 0 {
		n = n.Normalize()
	}
	base := uint32(len(d.vertices) / 3)
	for _, p := range [4]mgl32.Vec3{origin, origin.Add(e1), origin.Add(e1).Add(e2), origin.Add(e2)} {
		d.vertices = append(d.vertices, p.X(), p.Y(), p.Z())
		d.normals = append(d.normals, n.X(), n.Y(), n.Z())
	}
	d.texCoords = append(d.texCoords, 0, 0, 1, 0, 1, 1, 0, 1)
	d.indices = append(d.indices, base, base+1, base+2, base, base+2, base+3)
}

func (d *meshData) build(id string, material int32) *geometry.Mesh {
	mesh := geometry.NewMesh(id)
	mesh.SetVertices(d.vertices)
	mesh.SetNormals(d.normals)
	mesh.SetTexCoords(d.texCoords)
	mesh.SetIndices(d.indices)
	mesh.SetMaterialIndex(material)
	return mesh
}

func quad(id string, origin, e1, e2 mgl32.Vec3, material int32) *geometry.Mesh {
	var d meshData
	d.appendQuad(origin, e1, e2)
	return d.build(id, material)
}

// box builds an axis-aligned box from its minimum corner and size, faces
// wound outward.
func box(id string, min, size mgl32.Vec3, material int32) *geometry.Mesh {
	max := min.Add(size)
	sx := mgl32.Vec3{size.X(), 0, 0}
	sy := mgl32.Vec3{0, size.Y(), 0}
	sz := mgl32.Vec3{0, 0, size.Z()}

	var d meshData
	d.appendQuad(mgl32.Vec3{min.X(), min.Y(), max.Z()}, sx, sy)
	d.appendQuad(mgl32.Vec3{max.X(), min.Y(), min.Z()}, sx.Mul(-1), sy)
	d.appendQuad(mgl32.Vec3{min.X(), min.Y(), min.Z()}, sz, sy)
	d.appendQuad(mgl32.Vec3{max.X(), min.Y(), max.Z()}, sz.Mul(-1), sy)
	d.appendQuad(mgl32.Vec3{min.X(), max.Y(), max.Z()}, sx, sz.Mul(-1))
	d.appendQuad(mgl32.Vec3{min.X(), min.Y(), min.Z()}, sx, sz)
	return d.build(id, material)
}

func (v *viewer) installCallbacks() {
	v.window.SetFramebufferSizeCallback(func(w *glfw.Window, width, height int) {
		if width > 0 && height > 0 {
			v.resizePending = [2]int{width, height}
		}
	})
	v.window.SetMouseButtonCallback(func(w *glfw.Window, button glfw.MouseButton, action glfw.Action, mods glfw.ModifierKey) {
		if button == glfw.MouseButtonLeft {
			v.dragging = action == glfw.Press
			v.lastCursor[0], v.lastCursor[1] = w.GetCursorPos()
		}
	})
	v.window.SetCursorPosCallback(func(w *glfw.Window, xpos, ypos float64) {
		if !v.dragging {
			return
		}
		dx := xpos - v.lastCursor[0]
		dy := ypos - v.lastCursor[1]
		v.lastCursor = [2]float64{xpos, ypos}
		v.yaw += dx * 0.005
		v.pitch += dy * 0.005
		if v.pitch > 1.5 {
			v.pitch = 1.5
		}
		if v.pitch < -1.5 {
			v.pitch = -1.5
		}
	})
	v.window.SetScrollCallback(func(w *glfw.Window, xoff, yoff float64) {
		v.distance -= yoff * 0.5
		if v.distance < 1 {
			v.distance = 1
		}
	})
	v.window.SetKeyCallback(func(w *glfw.Window, key glfw.Key, scancode int, action glfw.Action, mods glfw.ModifierKey) {
		if action != glfw.Press {
			return
		}
		e := v.engine
		switch key {
		case glfw.KeyEscape:
			w.SetShouldClose(true)
		case glfw.KeyS:
			e.SetShadowsEnabled(!e.IsShadowsEnabled())
		case glfw.KeyR:
			e.SetReflectionsEnabled(!e.IsReflectionsEnabled())
		case glfw.KeyF:
			e.SetRefractionsEnabled(!e.IsRefractionsEnabled())
		case glfw.KeyP:
			e.SetPathTracingEnabled(!e.IsPathTracingEnabled())
		case glfw.KeyG:
			e.SetBSDFSamplingEnabled(!e.IsBSDFSamplingEnabled())
		case glfw.KeyA:
			e.SetAdaptiveSamplingEnabled(!e.IsAdaptiveSamplingEnabled())
		case glfw.KeyT:
			e.SetToneMappingEnabled(!e.IsToneMappingEnabled())
		case glfw.KeyB:
			e.SetBloomEnabled(!e.IsBloomEnabled())
		case glfw.KeyD:
			e.SetDepthOfFieldEnabled(!e.IsDepthOfFieldEnabled())
		case glfw.KeyEqual, glfw.KeyKPAdd:
			e.SetMaxBounces(e.MaxBounces() + 1)
		case glfw.KeyMinus, glfw.KeyKPSubtract:
			e.SetMaxBounces(e.MaxBounces() - 1)
		}
	})
}

func (v *viewer) cameraOrigin() mgl32.Vec3 {
	cp := math.Cos(v.pitch)
	return v.target.Add(mgl32.Vec3{
		float32(v.distance * cp * math.Sin(v.yaw)),
		float32(v.distance * math.Sin(v.pitch)),
		float32(v.distance * cp * math.Cos(v.yaw)),
	})
}

func (v *viewer) applyResize() {
	width, height := v.resizePending[0], v.resizePending[1]
	if width == 0 {
		return
	}
	v.resizePending = [2]int{}

	v.config.Width = uint32(width)
	v.config.Height = uint32(height)
	v.surface.Configure(v.ctx.Adapter, v.ctx.Device, v.config)
	if !v.engine.Resize(width, height) {
		panic("resize failed")
	}
	if !v.createOutput(width, height) {
		panic("output target creation failed")
	}
}

func (v *viewer) createOutput(width, height int) bool {
	if v.blitGroup != nil {
		v.blitGroup.Release()
		v.blitGroup = nil
	}
	if v.outputTex != nil {
		v.outputTex.Release()
	}
	tex, view, err := v.ctx.CreateStorageTexture("Display", uint32(width), uint32(height), wgpu.TextureFormatRGBA8Unorm)
	if err != nil {
		return false
	}
	v.outputTex, v.outputView = tex, view

	group, err := v.ctx.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "Blit",
		Layout: v.blitPipeline.GetBindGroupLayout(0),
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, TextureView: view},
			{Binding: 1, Sampler: v.blitSampler},
		},
	})
	if err != nil {
		return false
	}
	v.blitGroup = group
	return true
}

func (v *viewer) present() {
	nextTexture, err := v.surface.GetCurrentTexture()
	if err != nil {
		fmt.Printf("ERROR: GetCurrentTexture failed: %v\n", err)
		return
	}
	defer nextTexture.Release()

	view, err := nextTexture.CreateView(nil)
	if err != nil {
		return
	}
	defer view.Release()

	encoder, err := v.ctx.Device.CreateCommandEncoder(nil)
	if err != nil {
		return
	}

	rPass := encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
		ColorAttachments: []wgpu.RenderPassColorAttachment{{
			View:       view,
			LoadOp:     wgpu.LoadOpClear,
			StoreOp:    wgpu.StoreOpStore,
			ClearValue: wgpu.Color{R: 0, G: 0, B: 0, A: 1},
		}},
	})
	rPass.SetPipeline(v.blitPipeline)
	rPass.SetBindGroup(0, v.blitGroup, nil)
	rPass.Draw(3, 1, 0, 0)
	rPass.End()

	cmd, err := encoder.Finish(nil)
	if err != nil {
		return
	}
	v.ctx.Queue.Submit(cmd)
	v.surface.Present()
	cmd.Release()
	encoder.Release()
}
