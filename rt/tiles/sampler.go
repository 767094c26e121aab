package tiles

import (
	"math"

	"github.com/cogentcore/webgpu/wgpu"

	"github.com/FyrbyAdditive/OCCT-Metal/rt/core"
	"github.com/FyrbyAdditive/OCCT-Metal/rt/gpu"
	"github.com/FyrbyAdditive/OCCT-Metal/rt/sampler"
)

const (
	// DefaultTileSize is the tile edge length in pixels.
	DefaultTileSize = 32

	// defaultScaleFactor quantizes visual error for variance accumulation.
	defaultScaleFactor = 1.0e6
)

// TileSampler partitions the render target into fixed-size tiles and
// produces a prioritized sequence of tile coordinates to sample next. Tiles
// with higher estimated variance are sampled more frequently, concentrating
// rays on noisy regions for faster perceptual convergence. Selection draws
// deterministic Halton samples against a marginal distribution built from
// the previous frame's variance feedback, so equal-variance tiles are
// visited in low-discrepancy order and no tile is starved indefinitely.
type TileSampler struct {
	log     core.Logger
	sampler *sampler.HaltonSampler

	tileSize int
	viewX    int
	viewY    int
	tilesX   int
	tilesY   int

	tiles       []uint32  // samples per tile, row-major
	varianceMap []float32 // per-tile variance estimate
	marginalMap []float32 // cumulative distribution over tiles

	lastSample  uint32
	scaleFactor float32

	// Redirect maps: slot index -> tile coordinate. The full layout has one
	// slot per tile; the shrunk layout covers only the per-frame adaptive
	// sampling budget once variance data exists.
	offsets       [][2]int32
	offsetsShrunk [][2]int32
	shrunkX       int
	shrunkY       int
}

// NewTileSampler creates a tile sampler in its initial (reset) state.
func NewTileSampler(log core.Logger) *TileSampler {
	if log == nil {
		log = core.NewNopLogger()
	}
	return &TileSampler{
		log:         log,
		sampler:     sampler.NewHaltonSampler(),
		tileSize:    DefaultTileSize,
		scaleFactor: defaultScaleFactor,
	}
}

// TileSize returns the tile edge length in pixels.
func (t *TileSampler) TileSize() int { return t.tileSize }

// VarianceScaleFactor returns the quantization scale for visual error.
func (t *TileSampler) VarianceScaleFactor() float32 { return t.scaleFactor }

// NbTilesX returns the number of tiles along X.
func (t *TileSampler) NbTilesX() int { return t.tilesX }

// NbTilesY returns the number of tiles along Y.
func (t *TileSampler) NbTilesY() int { return t.tilesY }

// NbTiles returns the total number of tiles.
func (t *TileSampler) NbTiles() int { return t.tilesX * t.tilesY }

// ViewSize returns the viewport size in pixels.
func (t *TileSampler) ViewSize() (int, int) { return t.viewX, t.viewY }

// CurrentSample returns the current low-discrepancy sample index.
func (t *TileSampler) CurrentSample() uint32 { return t.lastSample }

// SetCurrentSample overrides the sample index (used when restoring state).
func (t *TileSampler) SetCurrentSample(index uint32) { t.lastSample = index }

// NbOffsetTiles returns the redirect-map dimensions for the requested
// layout. The shrunk layout is empty until variance feedback arrives.
func (t *TileSampler) NbOffsetTiles(adaptive bool) (int, int) {
	if adaptive && t.shrunkX > 0 {
		return t.shrunkX, t.shrunkY
	}
	return t.tilesX, t.tilesY
}

// OffsetTilesViewport returns the pixel viewport covered by the redirect map.
func (t *TileSampler) OffsetTilesViewport(adaptive bool) (int, int) {
	x, y := t.NbOffsetTiles(adaptive)
	return x * t.tileSize, y * t.tileSize
}

// SetSize recomputes the tile grid for a new viewport or tile size and
// discards stale per-tile state.
func (t *TileSampler) SetSize(tileSize, width, height int) {
	if tileSize <= 0 {
		tileSize = DefaultTileSize
	}
	if t.tileSize == tileSize && t.viewX == width && t.viewY == height {
		return
	}
	t.tileSize = tileSize
	t.viewX = width
	t.viewY = height
	t.tilesX = (width + tileSize - 1) / tileSize
	t.tilesY = (height + tileSize - 1) / tileSize

	n := t.NbTiles()
	t.tiles = make([]uint32, n)
	t.varianceMap = make([]float32, n)
	t.marginalMap = make([]float32, n)
	t.offsets = make([][2]int32, n)
	t.offsetsShrunk = nil
	t.shrunkX = 0
	t.shrunkY = 0
	t.lastSample = 0
}

// Reset returns the sampler to its initial state: sample counter zero, no
// variance data. Call alongside accumulation reset.
func (t *TileSampler) Reset() {
	t.lastSample = 0
	for i := range t.tiles {
		t.tiles[i] = 0
	}
	for i := range t.varianceMap {
		t.varianceMap[i] = 0
	}
	for i := range t.marginalMap {
		t.marginalMap[i] = 0
	}
	t.offsetsShrunk = nil
	t.shrunkX = 0
	t.shrunkY = 0
}

// tileArea returns the pixel area of the tile, clipped at viewport edges.
func (t *TileSampler) tileArea(x, y int) int {
	sizeX := t.tileSize
	if rem := t.viewX - x*t.tileSize; rem < sizeX {
		sizeX = rem
	}
	sizeY := t.tileSize
	if rem := t.viewY - y*t.tileSize; rem < sizeY {
		sizeY = rem
	}
	return sizeX * sizeY
}

// GrabVarianceMap ingests the per-pixel variance estimate produced by the
// previous frame's shading pass and rebuilds the per-tile sampling
// distribution: priority proportional to estimated noise times tile pixel
// area. It also sizes the shrunk adaptive layout to the per-frame budget.
func (t *TileSampler) GrabVarianceMap(data []float32, width, height int) {
	if width != t.viewX || height != t.viewY || t.NbTiles() == 0 {
		t.log.Warnf("variance map size %dx%d does not match viewport %dx%d", width, height, t.viewX, t.viewY)
		return
	}

	for i := range t.varianceMap {
		t.varianceMap[i] = 0
	}
	for y := 0; y < height; y++ {
		tileRow := (y / t.tileSize) * t.tilesX
		for x := 0; x < width; x++ {
			v := data[y*width+x]
			if v > 0 && !float32IsNaN(v) {
				t.varianceMap[tileRow+x/t.tileSize] += v
			}
		}
	}

	// Normalize by tile area so edge tiles are not under-weighted, then
	// accumulate the cumulative distribution.
	sum := float32(0)
	for y := 0; y < t.tilesY; y++ {
		for x := 0; x < t.tilesX; x++ {
			i := y*t.tilesX + x
			area := t.tileArea(x, y)
			if area > 0 {
				sum += t.varianceMap[i] * float32(t.tileSize*t.tileSize) / float32(area)
			}
			t.marginalMap[i] = sum
		}
	}

	t.resizeShrunk()
}

// resizeShrunk lays the adaptive sampling budget out as a near-square grid,
// clamped to the tile grid so the offset texture write never exceeds the
// texture extent and slots never outnumber tiles.
func (t *TileSampler) resizeShrunk() {
	budget := t.NbTiles() / 4
	if budget < 1 {
		budget = 1
	}
	x := int(math.Ceil(math.Sqrt(float64(budget))))
	if x > t.tilesX {
		x = t.tilesX
	}
	y := (budget + x - 1) / x
	if y > t.tilesY {
		y = t.tilesY
		x = (budget + y - 1) / y
		if x > t.tilesX {
			x = t.tilesX
		}
	}
	t.shrunkX = x
	t.shrunkY = y
	t.offsetsShrunk = make([][2]int32, x*y)
}

// nextTileToSample draws one deterministic low-discrepancy sample against
// the current marginal distribution and returns the chosen tile coordinate.
// Degenerate distributions (no variance data yet) fall back to raster order.
func (t *TileSampler) nextTileToSample() (int, int) {
	n := t.NbTiles()
	if n == 0 {
		return 0, 0
	}
	total := t.marginalMap[n-1]
	index := int(t.lastSample) % n
	if total > 0 {
		u := t.sampler.Sample(0, t.lastSample) * total
		// Binary search the cumulative table; ties resolve to the first
		// tile whose cumulative weight exceeds the draw.
		lo, hi := 0, n-1
		for lo < hi {
			mid := (lo + hi) / 2
			if t.marginalMap[mid] <= u {
				lo = mid + 1
			} else {
				hi = mid
			}
		}
		index = lo
	}
	t.lastSample++
	return index % t.tilesX, index / t.tilesX
}

// nextDistinctTile draws variance-weighted tiles until one not yet chosen
// this frame comes up. When the distribution mass sits almost entirely on
// already-chosen tiles the draw loop would spin, so after a few attempts it
// walks the raster order for the next free tile instead.
func (t *TileSampler) nextDistinctTile(chosen map[int]struct{}) (int, int) {
	n := t.NbTiles()
	for attempt := 0; attempt < 16; attempt++ {
		x, y := t.nextTileToSample()
		if _, dup := chosen[y*t.tilesX+x]; !dup {
			return x, y
		}
	}
	start := int(t.lastSample) % n
	for i := 0; i < n; i++ {
		index := (start + i) % n
		if _, dup := chosen[index]; !dup {
			t.lastSample++
			return index % t.tilesX, index / t.tilesX
		}
	}
	return 0, 0
}

// planOffsets fills the slot layout for this frame and bumps the sample
// counter of every selected tile. Adaptive selection is without replacement:
// a tile appears in the redirect map at most once per frame, so no screen
// pixel receives more than one camera ray per dispatch and the accumulation
// pass's one-count-per-frame bookkeeping stays exact.
func (t *TileSampler) planOffsets(adaptive bool) ([][2]int32, int, int) {
	if adaptive && t.shrunkX > 0 {
		chosen := make(map[int]struct{}, len(t.offsetsShrunk))
		for i := range t.offsetsShrunk {
			x, y := t.nextDistinctTile(chosen)
			chosen[y*t.tilesX+x] = struct{}{}
			t.offsetsShrunk[i] = [2]int32{int32(x), int32(y)}
			t.tiles[y*t.tilesX+x]++
		}
		return t.offsetsShrunk, t.shrunkX, t.shrunkY
	}
	for i := range t.offsets {
		t.offsets[i] = [2]int32{int32(i % t.tilesX), int32(i / t.tilesX)}
		t.tiles[i]++
	}
	return t.offsets, t.tilesX, t.tilesY
}

// UploadOffsets refreshes the tile selection for this frame and pushes the
// redirect (offset) map to a GPU texture (RG32Sint). In adaptive mode each
// shrunk slot is filled via variance-weighted selection; otherwise the full
// identity layout is used.
func (t *TileSampler) UploadOffsets(ctx *gpu.Context, tex *wgpu.Texture, adaptive bool) bool {
	if t.NbTiles() == 0 || tex == nil {
		return false
	}

	slots, slotsX, slotsY := t.planOffsets(adaptive)

	data := make([]byte, len(slots)*8)
	for i, s := range slots {
		putInt32(data[i*8:], s[0])
		putInt32(data[i*8+4:], s[1])
	}
	ctx.Queue.WriteTexture(tex.AsImageCopy(), data, &wgpu.TextureDataLayout{
		Offset:       0,
		BytesPerRow:  uint32(slotsX * 8),
		RowsPerImage: uint32(slotsY),
	}, &wgpu.Extent3D{Width: uint32(slotsX), Height: uint32(slotsY), DepthOrArrayLayers: 1})
	return true
}

// UploadSamples pushes per-pixel accumulated sample counts to a GPU texture
// (R32Uint) covering the full viewport. The shading pass divides by this
// count when composing the image.
func (t *TileSampler) UploadSamples(ctx *gpu.Context, tex *wgpu.Texture, adaptive bool) bool {
	if t.NbTiles() == 0 || tex == nil {
		return false
	}
	data := make([]byte, t.viewX*t.viewY*4)
	for y := 0; y < t.viewY; y++ {
		tileRow := (y / t.tileSize) * t.tilesX
		for x := 0; x < t.viewX; x++ {
			count := t.tiles[tileRow+x/t.tileSize]
			putUint32(data[(y*t.viewX+x)*4:], count)
		}
	}
	ctx.Queue.WriteTexture(tex.AsImageCopy(), data, &wgpu.TextureDataLayout{
		Offset:       0,
		BytesPerRow:  uint32(t.viewX * 4),
		RowsPerImage: uint32(t.viewY),
	}, &wgpu.Extent3D{Width: uint32(t.viewX), Height: uint32(t.viewY), DepthOrArrayLayers: 1})
	return true
}

// MaxTileSamples returns the highest per-tile sample count.
func (t *TileSampler) MaxTileSamples() uint32 {
	var maxSamples uint32
	for _, s := range t.tiles {
		if s > maxSamples {
			maxSamples = s
		}
	}
	return maxSamples
}

// TileSamples returns the sample count of the tile at the given coordinate.
func (t *TileSampler) TileSamples(x, y int) uint32 {
	return t.tiles[y*t.tilesX+x]
}

func float32IsNaN(f float32) bool { return f != f }

func putUint32(buf []byte, v uint32) {
	buf[0] = byte(v)
	buf[1] = byte(v >> 8)
	buf[2] = byte(v >> 16)
	buf[3] = byte(v >> 24)
}

func putInt32(buf []byte, v int32) { putUint32(buf, uint32(v)) }
