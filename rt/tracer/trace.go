package tracer

import (
	"encoding/binary"
	"math"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/FyrbyAdditive/OCCT-Metal/rt/post"
)

const paramsByteSize = 128

// packParams serializes the per-frame uniform block. Field order and padding
// mirror the Params struct in the trace kernels.
func (r *RayTracing) packParams(origin, lookAt, up mgl32.Vec3, fovDeg float32, adaptive bool) []byte {
	forward, right, upv, tanHalf := cameraBasis(origin, lookAt, up, fovDeg)
	aspect := float32(r.width) / float32(r.height)
	offW, offH := r.tiles.OffsetTilesViewport(adaptive)

	buf := make([]byte, paramsByteSize)
	o := 0
	putF := func(v float32) {
		binary.LittleEndian.PutUint32(buf[o:], math.Float32bits(v))
		o += 4
	}
	putU := func(v uint32) {
		binary.LittleEndian.PutUint32(buf[o:], v)
		o += 4
	}

	putF(origin.X())
	putF(origin.Y())
	putF(origin.Z())
	putF(tanHalf)
	putF(right.X())
	putF(right.Y())
	putF(right.Z())
	putF(aspect)
	putF(upv.X())
	putF(upv.Y())
	putF(upv.Z())
	putF(r.aperture)
	putF(forward.X())
	putF(forward.Y())
	putF(forward.Z())
	putF(r.focalDistance)
	putF(float32(r.width))
	putF(float32(r.height))
	putF(float32(offW))
	putF(float32(offH))
	putU(r.frameIndex)
	putU(r.featureFlags())
	putU(uint32(r.maxBounces))
	putU(uint32(r.scene.LightCount()))
	putF(r.envRotation)
	putF(r.envIntensity)
	putU(uint32(r.minSamples))
	putU(uint32(r.maxSamples))
	putF(r.varianceThreshold)
	putF(r.tiles.VarianceScaleFactor())
	putU(uint32(r.tiles.TileSize()))
	putU(0)
	return buf
}

// Trace renders one progressive frame into output, an rgba8unorm storage
// texture matching the viewport. The frame's radiance is blended into the
// accumulation buffer; a camera change detected here resets accumulation
// first. Returns false without touching output if the engine is
// uninitialized, the scene is dirty or no acceleration structure exists.
func (r *RayTracing) Trace(output *wgpu.TextureView, origin, lookAt, up mgl32.Vec3, fovDeg float32) bool {
	if !r.initialized {
		r.log.Errorf("trace called before successful init")
		return false
	}
	if r.scene.IsDirty() {
		r.log.Errorf("trace called with dirty scene; rebuild the acceleration structure first")
		return false
	}
	if !r.scene.HasAccelerationStructure() {
		r.log.Errorf("trace called without an acceleration structure")
		return false
	}
	fr := &r.res
	if fr.bufferGroup[0] == nil {
		if !r.createBindGroups() || fr.bufferGroup[0] == nil {
			r.log.Errorf("scene buffers not uploaded")
			return false
		}
	}

	if r.cameraChanged(origin, lookAt, up, fovDeg) {
		r.ResetAccumulation()
	}

	// Adaptive scheduling uses the variance snapshot of an earlier frame;
	// the readback is asynchronous and may lag by a few frames.
	adaptive := r.adaptive
	if adaptive {
		if variance := r.varianceFeedback(); variance != nil {
			r.tiles.GrabVarianceMap(variance, r.width, r.height)
		}
	}
	if !r.tiles.UploadOffsets(r.ctx, fr.offsetsTex, adaptive) {
		return false
	}
	r.tiles.UploadSamples(r.ctx, fr.samplesTex, adaptive)

	r.ctx.Queue.WriteBuffer(fr.paramsBuf, 0, r.packParams(origin, lookAt, up, fovDeg, adaptive))
	r.ctx.Queue.WriteBuffer(fr.countersBuf, 0, make([]byte, 16))

	encoder, err := r.ctx.Device.CreateCommandEncoder(nil)
	if err != nil {
		r.log.Errorf("failed to create command encoder: %v", err)
		return false
	}

	writeParity := fr.parity ^ 1
	groupsX := uint32((r.width + 7) / 8)
	groupsY := uint32((r.height + 7) / 8)

	dispatch := func(pipeline *wgpu.ComputePipeline, bufParity int, x, y uint32) {
		pass := encoder.BeginComputePass(nil)
		pass.SetPipeline(pipeline)
		pass.SetBindGroup(0, fr.bufferGroup[bufParity], nil)
		pass.SetBindGroup(1, fr.texGroup[writeParity], nil)
		pass.DispatchWorkgroups(x, y, 1)
		pass.End()
	}
	dispatchIndirect := func(pipeline *wgpu.ComputePipeline, bufParity int) {
		pass := encoder.BeginComputePass(nil)
		pass.SetPipeline(pipeline)
		pass.SetBindGroup(0, fr.bufferGroup[bufParity], nil)
		pass.SetBindGroup(1, fr.texGroup[writeParity], nil)
		pass.DispatchWorkgroupsIndirect(fr.indirectBuf, 0)
		pass.End()
	}

	if r.resetPending {
		// Zero both accumulation parities plus statistics and radiance.
		for parity := 0; parity < 2; parity++ {
			pass := encoder.BeginComputePass(nil)
			pass.SetPipeline(r.pipes.reset)
			pass.SetBindGroup(0, fr.bufferGroup[0], nil)
			pass.SetBindGroup(1, fr.texGroup[parity], nil)
			pass.DispatchWorkgroups(groupsX, groupsY, 1)
			pass.End()
		}
		r.resetPending = false
	}

	// Ray generation fills queue A, so the first bounce reads with buffer
	// parity zero.
	offW, offH := r.tiles.OffsetTilesViewport(adaptive)
	dispatch(r.pipes.raygen, 1, uint32((offW+7)/8), uint32((offH+7)/8))

	for bounce := 0; bounce < r.maxBounces; bounce++ {
		parity := bounce % 2
		dispatch(r.pipes.prepare, parity, 1, 1)
		dispatchIndirect(r.pipes.intersect, parity)
		dispatchIndirect(r.pipes.shade, parity)
	}

	dispatch(r.pipes.accumulate, 0, groupsX, groupsY)

	if adaptive {
		fr.readMu.Lock()
		if fr.readState == readbackIdle {
			encoder.CopyBufferToBuffer(fr.varianceBuf, 0, fr.readbackBuf, 0, fr.readbackBuf.GetSize())
			fr.readState = readbackCopied
		}
		fr.readMu.Unlock()
	}

	params := r.postParams
	if !r.toneMapping {
		params.Mode = post.ToneMappingNone
	}
	if !r.post.Run(encoder, fr.accumView[writeParity], output, params) {
		encoder.Release()
		return false
	}

	cmd, err := encoder.Finish(nil)
	if err != nil {
		r.log.Errorf("failed to finish command encoder: %v", err)
		encoder.Release()
		return false
	}
	r.ctx.Queue.Submit(cmd)
	cmd.Release()
	encoder.Release()

	fr.parity = writeParity
	r.frameIndex++
	return true
}
