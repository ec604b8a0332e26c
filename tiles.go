package helio

import (
	"context"
	"sort"
	"sync"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/helio3d/helio/rt/core"
	"github.com/helio3d/helio/rt/integrator"
)

// tileRect is one half-open screen rectangle traced as a unit.
type tileRect struct {
	id             int
	x0, y0, x1, y1 int
}

func makeTiles(width, height, size int) []tileRect {
	var tiles []tileRect
	id := 0
	for y := 0; y < height; y += size {
		for x := 0; x < width; x += size {
			x1, y1 := x+size, y+size
			if x1 > width {
				x1 = width
			}
			if y1 > height {
				y1 = height
			}
			tiles = append(tiles, tileRect{id: id, x0: x, y0: y, x1: x1, y1: y1})
			id++
		}
	}
	return tiles
}

// tileOrder ranks tiles worst estimated error first, so a cancelled pass has
// spent its rays where the image was noisiest. A fresh buffer reports the
// maximum everywhere and the stable sort keeps scanline order. Ordering only
// affects scheduling: each tile's samples are fixed by seed, tile, and frame.
func (c *PathTracerContext) tileOrder() []int {
	order := make([]int, len(c.tiles))
	errs := make([]float32, len(c.tiles))
	for i := range c.tiles {
		order[i] = i
		t := &c.tiles[i]
		errs[i] = c.accum.RegionError(t.x0, t.y0, t.x1, t.y1)
	}
	sort.SliceStable(order, func(a, b int) bool {
		return errs[order[a]] > errs[order[b]]
	})
	return order
}

// traceSoftware fans tiles out to the worker pool and blocks until the pass
// completes or ctx cancels. The jobs channel is unbuffered so cancellation
// lands between tiles; finished tiles keep their samples and the accumulated
// image stays valid.
func (c *PathTracerContext) traceSoftware(ctx context.Context, order []int) error {
	p := c.cfg.preset()
	spp := p.SamplesPerFrame

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < len(c.scratch); w++ {
		wg.Add(1)
		go func(sc *integrator.Scratch) {
			defer wg.Done()
			for idx := range jobs {
				c.traceTile(c.tiles[idx], sc, spp)
			}
		}(c.scratch[w])
	}

	cancelled := false
feed:
	for _, idx := range order {
		select {
		case <-ctx.Done():
			cancelled = true
			break feed
		case jobs <- idx:
		}
	}
	close(jobs)
	wg.Wait()

	var rays, nans uint64
	for _, sc := range c.scratch {
		rays += sc.Rays
		nans += sc.NaNs
	}
	c.prof.SetCount("rays", int(rays))
	c.prof.SetCount("nan samples", int(nans))
	c.prof.SetCount("tiles", len(order))
	if nans > 0 {
		c.log.Debugf("frame %d: zeroed %d non-finite samples", c.frameIndex, nans)
	}

	if cancelled {
		return ctx.Err()
	}
	return nil
}

// traceTile renders one tile. The sampler is reseeded from the tile and
// frame, so the samples a tile receives do not depend on which worker picked
// it up or in what order.
func (c *PathTracerContext) traceTile(t tileRect, sc *integrator.Scratch, spp int) {
	sc.Sampler.Reseed(tileSeed(c.cfg.Seed, t.id, c.frameIndex))
	w, h := c.cfg.Width, c.cfg.Height
	for py := t.y0; py < t.y1; py++ {
		for px := t.x0; px < t.x1; px++ {
			for s := 0; s < spp; s++ {
				jx, jy := sc.Sampler.Float2()
				r := c.camera.PrimaryRay(px, py, w, h, jx, jy)
				color, aux := c.integ.Trace(r, sc)
				c.accum.AccumulateSample(px, py, color)
				if s == 0 {
					c.accum.SetGuides(px, py, aux.Normal, aux.Depth)
				}
			}
		}
	}
}

// probeStream keeps probe refresh rays on their own sample stream, apart
// from every tile's.
const (
	probeStream          = -1
	probeRefreshPerFrame = 1
)

// refreshProbes advances the probe grid's refresh rotation. It runs on the
// frame goroutine before tile workers start, so gathers inside the pass see
// settled probe values.
func (c *PathTracerContext) refreshProbes() {
	sc := c.scratch[0]
	sc.Sampler.Reseed(tileSeed(c.cfg.Seed, probeStream, c.frameIndex))
	n := c.probes.RefreshSome(probeRefreshPerFrame, func(r core.Ray) (mgl32.Vec3, float32) {
		return c.integ.ProbeRadiance(r, sc)
	}, sc.Sampler)
	c.prof.SetCount("probes refreshed", n)
}

// tileSeed mixes the configured seed with a tile and frame into one RNG
// stream id. The multipliers are splitmix64/xxhash constants.
func tileSeed(seed int64, tile int, frame uint64) int64 {
	h := uint64(seed) ^ uint64(int64(tile))*0x9E3779B97F4A7C15 ^ frame*0xC2B2AE3D27D4EB4F
	h ^= h >> 33
	h *= 0xFF51AFD7ED558CCD
	h ^= h >> 33
	return int64(h)
}
