package tracer

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/FyrbyAdditive/OCCT-Metal/rt/core"
	"github.com/FyrbyAdditive/OCCT-Metal/rt/geometry"
	"github.com/FyrbyAdditive/OCCT-Metal/rt/gpu"
	"github.com/FyrbyAdditive/OCCT-Metal/rt/post"
	"github.com/FyrbyAdditive/OCCT-Metal/rt/tiles"
)

// Feature flag bits shared with the trace kernels.
const (
	flagShadows     uint32 = 1 << 0
	flagReflections uint32 = 1 << 1
	flagRefractions uint32 = 1 << 2
	flagTexturing   uint32 = 1 << 3
	flagPathTracing uint32 = 1 << 4
	flagBSDF        uint32 = 1 << 5
	flagAdaptive    uint32 = 1 << 6
	flagEnvMap      uint32 = 1 << 7
	flagDOF         uint32 = 1 << 8
)

const (
	// DefaultMaxBounces bounds the length of any light path.
	DefaultMaxBounces = 3

	// Adaptive sampling defaults: a pixel stops receiving samples once it
	// has at least MinSamples and its variance estimate is below the
	// threshold, or unconditionally at MaxSamples.
	DefaultMinSamples        = 16
	DefaultMaxSamples        = 1024
	DefaultVarianceThreshold = 0.005
)

// RayTracing is the progressive path tracing engine. It owns the per-frame
// GPU pipeline (ray generation, intersection, shading, accumulation), the
// persistent accumulation state and the adaptive sampling control loop.
// One frame is rendered per Trace call; the image converges over successive
// calls while scene and camera are held fixed.
type RayTracing struct {
	log   core.Logger
	ctx   *gpu.Context
	scene *geometry.Store
	tiles *tiles.TileSampler
	post  *post.PostProcess

	width  int
	height int

	shadows     bool
	reflections bool
	refractions bool
	texturing   bool
	pathTracing bool
	bsdf        bool
	adaptive    bool
	envMap      bool
	dof         bool

	maxBounces        int
	minSamples        int
	maxSamples        int
	varianceThreshold float32

	envIntensity float32
	envRotation  float32

	aperture      float32
	focalDistance float32

	toneMapping bool
	postParams  post.Params

	frameIndex   uint32
	resetPending bool
	lastCamera   [10]float32

	pipes tracePipelines
	res   frameResources

	initialized bool
}

// New creates an engine with default feature configuration: shadows on,
// everything else off, matching a plain ray-casting baseline.
func New(scene *geometry.Store, log core.Logger) *RayTracing {
	if log == nil {
		log = core.NewNopLogger()
	}
	return &RayTracing{
		log:               log,
		scene:             scene,
		tiles:             tiles.NewTileSampler(log),
		shadows:           true,
		maxBounces:        DefaultMaxBounces,
		minSamples:        DefaultMinSamples,
		maxSamples:        DefaultMaxSamples,
		varianceThreshold: DefaultVarianceThreshold,
		envIntensity:      1.0,
		aperture:          0.0,
		focalDistance:     1.0,
		postParams:        post.DefaultParams(),
		resetPending:      true,
	}
}

// IsSupported reports whether the device can run the trace pipelines. Init
// refuses unsupported devices; there is no degraded mode.
func IsSupported(ctx *gpu.Context) bool { return ctx.SupportsRayTracing() }

// Init creates pipelines and frame resources for the given viewport.
// Returns false on an unsupported device or resource-creation failure; the
// engine must not be traced with until Init succeeds.
func (r *RayTracing) Init(ctx *gpu.Context, width, height int) bool {
	if !IsSupported(ctx) {
		r.log.Errorf("ray tracing unsupported on this device")
		return false
	}
	r.ctx = ctx
	if !r.createPipelines() {
		return false
	}
	r.post = post.NewPostProcess(ctx)
	if r.post == nil {
		return false
	}
	if !r.Resize(width, height) {
		return false
	}
	r.initialized = true
	return true
}

// Resize reallocates all size-dependent resources and resets accumulation.
func (r *RayTracing) Resize(width, height int) bool {
	if width <= 0 || height <= 0 {
		return false
	}
	r.width = width
	r.height = height
	r.tiles.SetSize(tiles.DefaultTileSize, width, height)
	if !r.ensureFrameResources() {
		return false
	}
	if r.post != nil && !r.post.Resize(width, height) {
		return false
	}
	r.ResetAccumulation()
	return true
}

// ResetAccumulation invalidates all accumulated radiance and statistics.
// Must be called on any scene or camera mutation; Trace also detects camera
// changes itself.
func (r *RayTracing) ResetAccumulation() {
	r.frameIndex = 0
	r.resetPending = true
	r.tiles.Reset()
}

// FrameIndex returns the number of frames accumulated since the last reset.
func (r *RayTracing) FrameIndex() uint32 { return r.frameIndex }

// ViewSize returns the current render viewport.
func (r *RayTracing) ViewSize() (int, int) { return r.width, r.height }

// TileSampler exposes the adaptive sampling scheduler.
func (r *RayTracing) TileSampler() *tiles.TileSampler { return r.tiles }

// Scene returns the scene geometry store the engine traces against.
func (r *RayTracing) Scene() *geometry.Store { return r.scene }

// Feature toggles. Each change invalidates accumulated radiance.

func (r *RayTracing) SetShadowsEnabled(on bool)      { r.setToggle(&r.shadows, on) }
func (r *RayTracing) IsShadowsEnabled() bool         { return r.shadows }
func (r *RayTracing) SetReflectionsEnabled(on bool)  { r.setToggle(&r.reflections, on) }
func (r *RayTracing) IsReflectionsEnabled() bool     { return r.reflections }
func (r *RayTracing) SetRefractionsEnabled(on bool)  { r.setToggle(&r.refractions, on) }
func (r *RayTracing) IsRefractionsEnabled() bool     { return r.refractions }
func (r *RayTracing) SetTexturingEnabled(on bool)    { r.setToggle(&r.texturing, on) }
func (r *RayTracing) IsTexturingEnabled() bool       { return r.texturing }
func (r *RayTracing) SetPathTracingEnabled(on bool)  { r.setToggle(&r.pathTracing, on) }
func (r *RayTracing) IsPathTracingEnabled() bool     { return r.pathTracing }
func (r *RayTracing) SetBSDFSamplingEnabled(on bool) { r.setToggle(&r.bsdf, on) }
func (r *RayTracing) IsBSDFSamplingEnabled() bool    { return r.bsdf }
func (r *RayTracing) SetEnvironmentMapEnabled(on bool) {
	r.setToggle(&r.envMap, on)
}
func (r *RayTracing) IsEnvironmentMapEnabled() bool { return r.envMap }
func (r *RayTracing) SetDepthOfFieldEnabled(on bool) {
	r.setToggle(&r.dof, on)
}
func (r *RayTracing) IsDepthOfFieldEnabled() bool { return r.dof }

// SetAdaptiveSamplingEnabled toggles variance-driven tile scheduling and the
// per-pixel convergence gate.
func (r *RayTracing) SetAdaptiveSamplingEnabled(on bool) { r.setToggle(&r.adaptive, on) }
func (r *RayTracing) IsAdaptiveSamplingEnabled() bool    { return r.adaptive }

func (r *RayTracing) setToggle(field *bool, on bool) {
	if *field == on {
		return
	}
	*field = on
	r.ResetAccumulation()
}

// SetMaxBounces bounds light path length. Rays reaching the cap keep their
// last-shaded radiance.
func (r *RayTracing) SetMaxBounces(n int) {
	if n < 1 {
		n = 1
	}
	if r.maxBounces != n {
		r.maxBounces = n
		r.ResetAccumulation()
	}
}
func (r *RayTracing) MaxBounces() int { return r.maxBounces }

// Adaptive sampling parameters.

func (r *RayTracing) SetMinSamples(n int) {
	if n < 1 {
		n = 1
	}
	r.minSamples = n
}
func (r *RayTracing) MinSamples() int { return r.minSamples }

func (r *RayTracing) SetMaxSamples(n int) {
	if n < r.minSamples {
		n = r.minSamples
	}
	r.maxSamples = n
}
func (r *RayTracing) MaxSamples() int { return r.maxSamples }

func (r *RayTracing) SetVarianceThreshold(v float32) { r.varianceThreshold = v }
func (r *RayTracing) VarianceThreshold() float32     { return r.varianceThreshold }

// Environment map parameters.

func (r *RayTracing) SetEnvironmentIntensity(v float32) {
	if r.envIntensity != v {
		r.envIntensity = v
		r.ResetAccumulation()
	}
}
func (r *RayTracing) EnvironmentIntensity() float32 { return r.envIntensity }

// SetEnvironmentRotation rotates the environment around the vertical axis,
// in radians.
func (r *RayTracing) SetEnvironmentRotation(v float32) {
	if r.envRotation != v {
		r.envRotation = v
		r.ResetAccumulation()
	}
}
func (r *RayTracing) EnvironmentRotation() float32 { return r.envRotation }

// Depth of field parameters.

func (r *RayTracing) SetAperture(v float32) {
	if r.aperture != v {
		r.aperture = v
		r.ResetAccumulation()
	}
}
func (r *RayTracing) Aperture() float32 { return r.aperture }

func (r *RayTracing) SetFocalDistance(v float32) {
	if v <= 0 {
		v = 1
	}
	if r.focalDistance != v {
		r.focalDistance = v
		r.ResetAccumulation()
	}
}
func (r *RayTracing) FocalDistance() float32 { return r.focalDistance }

// Tone mapping and bloom. These only affect composition, never the
// accumulated radiance, so they do not reset accumulation.

func (r *RayTracing) SetToneMappingEnabled(on bool) { r.toneMapping = on }
func (r *RayTracing) IsToneMappingEnabled() bool    { return r.toneMapping }

func (r *RayTracing) SetToneMappingMode(mode post.ToneMappingMode) { r.postParams.Mode = mode }
func (r *RayTracing) ToneMappingMode() post.ToneMappingMode        { return r.postParams.Mode }

func (r *RayTracing) SetExposure(v float32) { r.postParams.Exposure = v }
func (r *RayTracing) Exposure() float32     { return r.postParams.Exposure }

func (r *RayTracing) SetGamma(v float32) {
	if v > 0 {
		r.postParams.Gamma = v
	}
}
func (r *RayTracing) Gamma() float32 { return r.postParams.Gamma }

func (r *RayTracing) SetWhitePoint(v float32) {
	if v > 0 {
		r.postParams.WhitePoint = v
	}
}
func (r *RayTracing) WhitePoint() float32 { return r.postParams.WhitePoint }

func (r *RayTracing) SetBloomEnabled(on bool) { r.postParams.BloomEnabled = on }
func (r *RayTracing) IsBloomEnabled() bool    { return r.postParams.BloomEnabled }

func (r *RayTracing) SetBloomThreshold(v float32) { r.postParams.BloomThreshold = v }
func (r *RayTracing) BloomThreshold() float32     { return r.postParams.BloomThreshold }

func (r *RayTracing) SetBloomIntensity(v float32) { r.postParams.BloomIntensity = v }
func (r *RayTracing) BloomIntensity() float32     { return r.postParams.BloomIntensity }

// featureFlags packs the enabled feature set into the kernel bitmask.
func (r *RayTracing) featureFlags() uint32 {
	var flags uint32
	if r.shadows {
		flags |= flagShadows
	}
	if r.reflections {
		flags |= flagReflections
	}
	if r.refractions {
		flags |= flagRefractions
	}
	if r.texturing {
		flags |= flagTexturing
	}
	if r.pathTracing {
		flags |= flagPathTracing
	}
	if r.bsdf {
		flags |= flagBSDF
	}
	if r.adaptive {
		flags |= flagAdaptive
	}
	if r.envMap {
		flags |= flagEnvMap
	}
	if r.dof {
		flags |= flagDOF
	}
	return flags
}

// cameraChanged updates the cached camera state and reports whether it
// differs from the last traced frame.
func (r *RayTracing) cameraChanged(origin, lookAt, up mgl32.Vec3, fovDeg float32) bool {
	state := [10]float32{
		origin.X(), origin.Y(), origin.Z(),
		lookAt.X(), lookAt.Y(), lookAt.Z(),
		up.X(), up.Y(), up.Z(),
		fovDeg,
	}
	if state != r.lastCamera {
		r.lastCamera = state
		return true
	}
	return false
}

// cameraBasis derives the orthonormal camera frame and projection scale.
func cameraBasis(origin, lookAt, up mgl32.Vec3, fovDeg float32) (forward, right, upv mgl32.Vec3, tanHalf float32) {
	forward = lookAt.Sub(origin)
	if forward.Len() == 0 {
		forward = mgl32.Vec3{0, 0, -1}
	}
	forward = forward.Normalize()
	right = forward.Cross(up)
	if right.Len() == 0 {
		right = mgl32.Vec3{1, 0, 0}
	}
	right = right.Normalize()
	upv = right.Cross(forward)
	tanHalf = float32(math.Tan(float64(mgl32.DegToRad(fovDeg)) / 2))
	return
}

// Release frees all GPU resources owned by the engine.
func (r *RayTracing) Release() {
	r.res.release()
	if r.post != nil {
		r.post.Release()
		r.post = nil
	}
	r.initialized = false
}
