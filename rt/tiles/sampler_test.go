package tiles

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetSizeGrid(t *testing.T) {
	ts := NewTileSampler(nil)
	ts.SetSize(32, 800, 600)

	assert.Equal(t, 25, ts.NbTilesX())
	assert.Equal(t, 19, ts.NbTilesY(), "600 px needs 19 tiles of 32 px")
	assert.Equal(t, 475, ts.NbTiles())

	w, h := ts.ViewSize()
	assert.Equal(t, 800, w)
	assert.Equal(t, 600, h)
}

func TestSetSizeSameDimensionsKeepsState(t *testing.T) {
	ts := NewTileSampler(nil)
	ts.SetSize(32, 64, 64)
	ts.SetCurrentSample(17)
	ts.SetSize(32, 64, 64)
	assert.Equal(t, uint32(17), ts.CurrentSample())

	ts.SetSize(32, 128, 64)
	assert.Equal(t, uint32(0), ts.CurrentSample(), "resize resets the sample counter")
}

func TestRasterFallbackWithoutVariance(t *testing.T) {
	ts := NewTileSampler(nil)
	ts.SetSize(32, 128, 64) // 4x2 tiles

	// No variance feedback yet: selection walks tiles in raster order.
	for i := 0; i < ts.NbTiles(); i++ {
		x, y := ts.nextTileToSample()
		assert.Equal(t, i%4, x)
		assert.Equal(t, i/4, y)
	}
	x, y := ts.nextTileToSample()
	assert.Equal(t, 0, x, "raster order wraps around")
	assert.Equal(t, 0, y)
}

func TestVarianceDrivenSelectionPrefersNoisyTiles(t *testing.T) {
	ts := NewTileSampler(nil)
	ts.SetSize(32, 128, 128) // 4x4 tiles

	// One noisy tile at (2, 1); everything else has a small uniform floor.
	w, h := ts.ViewSize()
	data := make([]float32, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := float32(0.01)
			if x/32 == 2 && y/32 == 1 {
				v = 10.0
			}
			data[y*w+x] = v
		}
	}
	ts.GrabVarianceMap(data, w, h)

	const draws = 1024
	noisy := 0
	for i := 0; i < draws; i++ {
		x, y := ts.nextTileToSample()
		if x == 2 && y == 1 {
			noisy++
		}
	}
	// The noisy tile holds ~98.5% of the total weight.
	assert.Greater(t, noisy, draws*9/10, "high-variance tile should dominate selection")
}

func TestVarianceSelectionIsDeterministic(t *testing.T) {
	run := func() []int {
		ts := NewTileSampler(nil)
		ts.SetSize(32, 128, 128)
		w, h := ts.ViewSize()
		data := make([]float32, w*h)
		for i := range data {
			data[i] = float32(i%7) * 0.1
		}
		ts.GrabVarianceMap(data, w, h)

		seq := make([]int, 64)
		for i := range seq {
			x, y := ts.nextTileToSample()
			seq[i] = y*ts.NbTilesX() + x
		}
		return seq
	}
	assert.Equal(t, run(), run())
}

func TestGrabVarianceMapIgnoresMismatchedSize(t *testing.T) {
	ts := NewTileSampler(nil)
	ts.SetSize(32, 128, 128)
	ts.GrabVarianceMap(make([]float32, 16), 4, 4)

	// Distribution stays degenerate: selection remains in raster order.
	x, y := ts.nextTileToSample()
	assert.Equal(t, 0, x)
	assert.Equal(t, 0, y)
}

func TestShrunkLayoutAfterFeedback(t *testing.T) {
	ts := NewTileSampler(nil)
	ts.SetSize(32, 256, 256) // 8x8 = 64 tiles

	x, y := ts.NbOffsetTiles(true)
	assert.Equal(t, 8, x, "before feedback the adaptive layout matches the full grid")
	assert.Equal(t, 8, y)

	w, h := ts.ViewSize()
	data := make([]float32, w*h)
	for i := range data {
		data[i] = 1.0
	}
	ts.GrabVarianceMap(data, w, h)

	sx, sy := ts.NbOffsetTiles(true)
	require.Greater(t, sx*sy, 0)
	assert.GreaterOrEqual(t, sx*sy, 16, "budget covers a quarter of the tiles")
	assert.Less(t, sx*sy, 64)

	fx, fy := ts.NbOffsetTiles(false)
	assert.Equal(t, 8, fx, "non-adaptive layout is unaffected")
	assert.Equal(t, 8, fy)
}

func TestOffsetSelectionWithoutReplacement(t *testing.T) {
	ts := NewTileSampler(nil)
	ts.SetSize(32, 256, 256) // 8x8 = 64 tiles

	// One dominant-variance tile at (2, 1) over a tiny floor: sampling with
	// replacement would point nearly every slot at the same tile, spawning
	// duplicate rays for its pixels in one frame.
	w, h := ts.ViewSize()
	data := make([]float32, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := float32(1e-4)
			if x/32 == 2 && y/32 == 1 {
				v = 100.0
			}
			data[y*w+x] = v
		}
	}
	ts.GrabVarianceMap(data, w, h)

	for frame := 0; frame < 4; frame++ {
		slots, sx, sy := ts.planOffsets(true)
		require.Equal(t, sx*sy, len(slots))
		seen := make(map[[2]int32]int)
		for _, s := range slots {
			seen[s]++
		}
		assert.Len(t, seen, len(slots), "each tile redirect appears at most once per frame")
		assert.Contains(t, seen, [2]int32{2, 1}, "the dominant tile is still selected every frame")
	}
}

func TestShrunkLayoutFitsTileGrid(t *testing.T) {
	feed := func(ts *TileSampler) {
		w, h := ts.ViewSize()
		data := make([]float32, w*h)
		for i := range data {
			data[i] = 1.0
		}
		ts.GrabVarianceMap(data, w, h)
	}

	// A single-column grid: the near-square layout must not be wider than
	// the offset texture allocated at the full grid size.
	ts := NewTileSampler(nil)
	ts.SetSize(32, 32, 256) // 1x8 tiles
	feed(ts)
	sx, sy := ts.NbOffsetTiles(true)
	assert.LessOrEqual(t, sx, ts.NbTilesX())
	assert.LessOrEqual(t, sy, ts.NbTilesY())
	assert.GreaterOrEqual(t, sx*sy, 2, "quarter budget of 8 tiles")

	// And a single-row grid must not be taller.
	ts = NewTileSampler(nil)
	ts.SetSize(32, 256, 32) // 8x1 tiles
	feed(ts)
	sx, sy = ts.NbOffsetTiles(true)
	assert.LessOrEqual(t, sx, ts.NbTilesX())
	assert.LessOrEqual(t, sy, ts.NbTilesY())

	// A strongly anisotropic grid keeps its budget by re-widening after the
	// clamp instead of shrinking to the corner.
	ts = NewTileSampler(nil)
	ts.SetSize(32, 3200, 64) // 100x2 tiles
	feed(ts)
	sx, sy = ts.NbOffsetTiles(true)
	assert.LessOrEqual(t, sx, 100)
	assert.LessOrEqual(t, sy, 2)
	assert.GreaterOrEqual(t, sx*sy, 50, "quarter budget of 200 tiles survives the clamp")
}

func TestResetClearsFeedback(t *testing.T) {
	ts := NewTileSampler(nil)
	ts.SetSize(32, 128, 128)

	w, h := ts.ViewSize()
	data := make([]float32, w*h)
	for i := range data {
		data[i] = 1.0
	}
	ts.GrabVarianceMap(data, w, h)
	ts.nextTileToSample()
	ts.Reset()

	assert.Equal(t, uint32(0), ts.CurrentSample())
	assert.Equal(t, uint32(0), ts.MaxTileSamples())
	x, y := ts.NbOffsetTiles(true)
	assert.Equal(t, ts.NbTilesX(), x)
	assert.Equal(t, ts.NbTilesY(), y)
}
