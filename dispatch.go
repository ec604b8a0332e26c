package helio

import (
	"context"
	"errors"
	"fmt"

	"github.com/helio3d/helio/rt/film"
)

// frameState tracks where the frame pipeline is. Transitions are logged at
// debug level so a stalled host can see which stage it never left.
type frameState int

const (
	frameUnavailable frameState = iota
	frameAvailableIdle
	frameBuilding
	frameTracing
	frameDenoising
)

func (s frameState) String() string {
	switch s {
	case frameUnavailable:
		return "unavailable"
	case frameAvailableIdle:
		return "available-idle"
	case frameBuilding:
		return "building"
	case frameTracing:
		return "tracing"
	case frameDenoising:
		return "denoising"
	}
	return "unknown"
}

var (
	// ErrBusy reports a render entry point called while a frame is in flight.
	ErrBusy = errors.New("helio: a frame is already in flight")
	// ErrNotRunning reports a render request before Init or after Shutdown.
	ErrNotRunning = errors.New("helio: context is not initialized")
)

func (c *PathTracerContext) setState(s frameState) {
	if c.state == s {
		return
	}
	c.log.Debugf("frame state %s -> %s", c.state, s)
	c.state = s
}

// RenderPathTracedLighting runs one frame through build, trace, denoise and
// composite. A hardware failure downgrades the frame to the software path;
// the frame still completes. Returns ErrBusy if a frame is already in flight.
func (c *PathTracerContext) RenderPathTracedLighting() error {
	return c.renderOnce(context.Background())
}

func (c *PathTracerContext) renderOnce(ctx context.Context) error {
	if !c.initialized {
		return ErrNotRunning
	}
	if !c.cfg.Enabled() {
		return nil
	}
	if !c.rendering.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer c.rendering.Store(false)

	c.frameIndex++
	c.prof.Reset()
	for _, sc := range c.scratch {
		sc.ResetCounters()
	}
	c.integ.BeginFrame(c.frameIndex)

	c.setState(frameBuilding)
	c.prof.BeginScope("build")
	var buildDone chan struct{}
	if c.cfg.AsyncBuild {
		buildDone = make(chan struct{})
		go func() {
			c.accel.BuildOrRefreshTLAS()
			close(buildDone)
		}()
	} else {
		c.accel.BuildOrRefreshTLAS()
	}

	// Tile ordering only reads the accumulation buffer, so it overlaps an
	// async build.
	order := c.tileOrder()

	if buildDone != nil {
		<-buildDone
	}
	// Trace never starts on a dirty tree.
	for c.accel.NeedsRebuild() {
		c.accel.BuildOrRefreshTLAS()
	}
	c.prof.EndScope("build")

	c.setState(frameTracing)
	c.prof.BeginScope("trace")

	// Probes stay on their refresh rotation even on hardware frames, so a
	// downgraded frame lands on warm values.
	if c.probes != nil {
		c.refreshProbes()
	}

	hwFrame := false
	if c.activeBackend() == BackendHardware {
		fatal, err := c.renderHardware()
		if err != nil {
			c.noteHardwareFailure(err, fatal)
		} else {
			c.recoverHardware()
			hwFrame = true
		}
	}
	if !hwFrame {
		if err := c.traceSoftware(ctx, order); err != nil {
			c.prof.EndScope("trace")
			c.setState(frameAvailableIdle)
			return err
		}
	}
	c.prof.EndScope("trace")

	c.setState(frameDenoising)
	c.prof.BeginScope("denoise")
	c.accum.Snapshot(&c.frame)
	if c.denoiser != nil {
		if err := c.denoiser.Apply(&c.frame); err != nil {
			c.log.Warnf("denoise failed, frame keeps raw accumulation: %v", err)
		}
	}
	c.prof.EndScope("denoise")

	c.prof.BeginScope("composite")
	if err := film.CompositeLDR(c.frame.Color, c.ldr, c.exposure); err != nil {
		c.log.Errorf("composite: %v", err)
	}
	c.prof.EndScope("composite")

	c.publishCounters()
	c.setState(frameAvailableIdle)
	return nil
}

// renderHardware pushes the scene and one dispatch through the compute path,
// then folds any completed readback into the accumulation buffer. fatal marks
// errors that will not clear without a new pipeline.
func (c *PathTracerContext) renderHardware() (fatal bool, err error) {
	p := c.cfg.preset()
	maxBounces := uint32(p.MaxBounces)
	if c.cfg.Mode == ModeDynamicOnly {
		maxBounces = 1
	}
	w, h := uint32(c.cfg.Width), uint32(c.cfg.Height)

	resized, err := c.hw.EnsureTarget(w, h)
	if err != nil {
		return false, fmt.Errorf("target: %w", err)
	}
	grown, err := c.hw.UploadScene(c.accel, c.materials, c.lights)
	if err != nil {
		return false, fmt.Errorf("scene upload: %w", err)
	}
	if err := c.hw.UploadGlobals(&c.camera, w, h, uint32(c.frameIndex),
		uint32(p.SamplesPerFrame), maxBounces,
		uint32(len(c.lights)), uint32(len(c.accel.Instances())),
		c.envHorizon, c.envZenith); err != nil {
		return false, fmt.Errorf("globals upload: %w", err)
	}
	if resized || grown || c.hw.BindGroup0 == nil || c.hw.BindGroup1 == nil {
		if err := c.hw.CreateBindGroups(); err != nil {
			return true, fmt.Errorf("bind groups: %w", err)
		}
	}
	if err := c.hw.Dispatch(); err != nil {
		return false, fmt.Errorf("dispatch: %w", err)
	}
	c.harvestReadback()

	// The kernel does not report segment counts, so count dispatched samples.
	c.prof.SetCount("rays", int(w*h)*p.SamplesPerFrame)
	return false, nil
}

// harvestReadback folds a completed asynchronous readback into the
// accumulation buffer. Readbacks lag dispatch by at least a frame; while one
// is in flight the composite keeps serving the previous result.
func (c *PathTracerContext) harvestReadback() {
	radiance, w, h := c.hw.PollReadback()
	if radiance == nil {
		return
	}
	if c.discardReadback {
		// This readback was dispatched before the last accumulation reset.
		c.discardReadback = false
		return
	}
	if int(w) != c.cfg.Width || int(h) != c.cfg.Height {
		return
	}
	i := 0
	for y := 0; y < int(h); y++ {
		for x := 0; x < int(w); x++ {
			c.accum.AccumulateSample(x, y, radiance[i])
			i++
		}
	}
}

func (c *PathTracerContext) noteHardwareFailure(err error, fatal bool) {
	if fatal {
		c.hwPinned = true
		c.log.Errorf("hardware path disabled until re-init: %v", err)
		return
	}
	if c.hwStreak == 0 {
		c.log.Warnf("hardware path failed, frame downgraded to software: %v", err)
	}
	c.hwStreak++
}

func (c *PathTracerContext) recoverHardware() {
	if c.hwStreak > 0 {
		c.log.Infof("hardware path recovered after %d downgraded frames", c.hwStreak)
		c.hwStreak = 0
	}
}

func (c *PathTracerContext) publishCounters() {
	builds, refits, rebuilds := c.accel.Stats()
	c.prof.SetCount("blas builds", int(builds))
	c.prof.SetCount("blas refits", int(refits))
	c.prof.SetCount("tlas rebuilds", int(rebuilds))
	c.prof.SetCount("instances", len(c.accel.Instances()))
	c.prof.SetCount("meshes", c.geometry.MeshCount())
	c.prof.SetCount("lights", len(c.lights))
	if c.cache != nil {
		hits, misses, _ := c.cache.Stats()
		c.prof.SetCount("cache hits", int(hits))
		c.prof.SetCount("cache misses", int(misses))
	}
}

// PassInfo reports one completed accumulation pass.
type PassInfo struct {
	Pass    int
	Samples uint32  // per-pixel sample depth after the pass
	Error   float32 // worst-tile relative error estimate
}

const (
	progressiveTarget    = 0.02
	progressiveMaxPasses = 4096
)

// RenderProgressive accumulates frames until the worst-tile error estimate
// falls under the convergence target, the pass cap is reached, or ctx is
// cancelled. Pass reports arrive on the first channel; a terminal error, if
// any, on the second. Both close when the loop ends. The context belongs to
// the progressive loop until then.
func (c *PathTracerContext) RenderProgressive(ctx context.Context) (<-chan PassInfo, <-chan error) {
	passes := make(chan PassInfo)
	errc := make(chan error, 1)
	go func() {
		defer close(passes)
		defer close(errc)
		if !c.initialized {
			errc <- ErrNotRunning
			return
		}
		if !c.cfg.Enabled() {
			return
		}
		for pass := 1; pass <= progressiveMaxPasses; pass++ {
			if err := c.renderOnce(ctx); err != nil {
				errc <- err
				return
			}
			info := PassInfo{
				Pass:    pass,
				Samples: c.accum.SampleCount(0, 0),
				Error:   c.worstTileError(),
			}
			select {
			case passes <- info:
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			}
			if info.Error <= progressiveTarget {
				return
			}
		}
	}()
	return passes, errc
}

func (c *PathTracerContext) worstTileError() float32 {
	var worst float32
	for i := range c.tiles {
		t := &c.tiles[i]
		if e := c.accum.RegionError(t.x0, t.y0, t.x1, t.y1); e > worst {
			worst = e
		}
	}
	return worst
}
