package helio

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/helio3d/helio/rt/bvh"
	"github.com/helio3d/helio/rt/core"
	"github.com/helio3d/helio/rt/film"
	"github.com/helio3d/helio/rt/gpu"
	"github.com/helio3d/helio/rt/integrator"
	"github.com/helio3d/helio/rt/lighting"
	"github.com/helio3d/helio/rt/shaders"
	"github.com/helio3d/helio/rt/trace"
)

// PathTracerContext owns every piece of path-traced lighting state for one
// render target: the BLAS/TLAS arena, the light cache and probe grid, the
// accumulation buffer and the optional hardware backend. It is not safe for
// concurrent use; drive it from one goroutine. While RenderProgressive is
// active the context belongs to it, and the synchronous entry points report
// ErrBusy.
type PathTracerContext struct {
	cfg  Config
	log  Logger
	prof *Profiler

	accel    *bvh.Manager
	geometry *GeometryCache
	scene    *trace.Scene

	materials core.MaterialSource
	lights    []core.Light
	camera    core.CameraState

	cache  *lighting.Cache
	probes *lighting.ProbeGrid
	integ  *integrator.Integrator

	accum    *film.AccumBuffer
	frame    film.Frame
	denoiser film.Denoiser
	ldr      []byte
	exposure float32

	envHorizon mgl32.Vec3
	envZenith  mgl32.Vec3

	tiles   []tileRect
	scratch []*integrator.Scratch

	backend Backend
	caps    Capabilities
	device  *wgpu.Device
	hw      *gpu.Manager

	// hwPinned latches after a fatal pipeline error and holds the session on
	// the software path until the next Init. hwStreak counts consecutive
	// downgraded frames so transient failures log once, not per frame.
	hwPinned        bool
	hwStreak        int
	discardReadback bool

	frameIndex  uint64
	state       frameState
	rendering   atomic.Bool
	initialized bool

	overlay *TextRenderer
}

// Contexts sharing a device would trample each other's GPU buffers, so a
// second live claim on the same device is treated as a programmer error.
var (
	liveMu       sync.Mutex
	liveContexts = map[*wgpu.Device]*PathTracerContext{}
)

func claimDevice(dev *wgpu.Device, c *PathTracerContext) {
	liveMu.Lock()
	defer liveMu.Unlock()
	if prev, ok := liveContexts[dev]; ok && prev != c {
		c.log.Errorf("device is already owned by another live path tracer context")
		panic("helio: device is already owned by another live path tracer context")
	}
	liveContexts[dev] = c
}

func releaseDevice(dev *wgpu.Device, c *PathTracerContext) {
	liveMu.Lock()
	defer liveMu.Unlock()
	if liveContexts[dev] == c {
		delete(liveContexts, dev)
	}
}

// New validates the config and assembles a context around it. The context
// renders nothing until Init provides the backend capabilities.
func New(cfg Config) (*PathTracerContext, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	accel := bvh.NewManager(cfg.MaxBLAS, cfg.MaxInstances)
	scene := trace.NewScene(accel)
	materials := &core.StaticMaterials{}

	p := cfg.preset()
	params := integrator.Params{
		MaxDepth:     p.MaxBounces,
		RRStartDepth: p.RRStartDepth,
	}
	if cfg.Mode == ModeDynamicOnly {
		// Direct lighting only: one segment per path, no reuse systems.
		params.MaxDepth = 1
		params.CacheMinDepth = -1
		params.ProbeDepth = -1
	}
	integ := integrator.New(scene, materials, params)

	var cache *lighting.Cache
	var probes *lighting.ProbeGrid
	if cfg.Mode == ModeAll {
		cache = lighting.NewCache(cfg.CacheEntries, 0)
		integ.UseCache(cache)
		probes = defaultProbeGrid(cfg.ProbeSpacing)
		integ.UseProbes(probes)
	}

	var den film.Denoiser
	if cfg.Denoise {
		den = cfg.Denoiser
		if den == nil {
			den = film.NewSoftwareDenoiser()
		}
	}

	c := &PathTracerContext{
		cfg:        cfg,
		log:        cfg.Logger,
		prof:       NewProfiler(),
		accel:      accel,
		scene:      scene,
		materials:  materials,
		camera:     *core.NewCameraState(),
		cache:      cache,
		probes:     probes,
		integ:      integ,
		accum:      film.NewAccumBuffer(cfg.Width, cfg.Height),
		denoiser:   den,
		ldr:        make([]byte, cfg.Width*cfg.Height*4),
		exposure:   1,
		envHorizon: integrator.DefaultHorizon,
		envZenith:  integrator.DefaultZenith,
		tiles:      makeTiles(cfg.Width, cfg.Height, cfg.TileSize),
		state:      frameUnavailable,
	}
	c.geometry = NewGeometryCache(accel, c.log)
	c.scratch = make([]*integrator.Scratch, cfg.Workers)
	for i := range c.scratch {
		c.scratch[i] = integrator.NewScratch(cfg.Seed + int64(i))
	}
	return c, nil
}

// defaultProbeGrid centers a 12x12x6 lattice on the world origin with its
// lowest layer half a cell above the floor plane.
func defaultProbeGrid(spacing float32) *lighting.ProbeGrid {
	dims := [3]int{12, 12, 6}
	origin := mgl32.Vec3{
		-spacing * float32(dims[0]-1) * 0.5,
		-spacing * float32(dims[1]-1) * 0.5,
		spacing * 0.5,
	}
	return lighting.NewProbeGrid(origin, spacing, dims)
}

// Init selects the backend from the reported capabilities and, on the
// hardware path, claims the device and compiles the trace pipeline. A device
// without ray query support, or a pipeline that fails to compile, pins the
// session to the software path; that is a fallback, not an error. Init panics
// if another live context already owns the device.
func (c *PathTracerContext) Init(caps Capabilities, device *wgpu.Device) error {
	if c.initialized {
		return fmt.Errorf("helio: context is already initialized")
	}
	c.caps = caps
	c.device = device
	c.hwPinned = false
	c.hwStreak = 0
	c.backend = selectBackend(caps, device)

	if c.backend == BackendHardware {
		claimDevice(device, c)
		c.hw = gpu.NewManager(device)
		if err := c.hw.CreatePipeline(shaders.PathTraceWGSL); err != nil {
			c.log.Errorf("trace pipeline unavailable, falling back to software for this session: %v", err)
			c.hw.Release()
			c.hw = nil
			releaseDevice(device, c)
			c.backend = BackendSoftware
		}
	}

	c.initialized = true
	if c.cfg.Enabled() {
		c.setState(frameAvailableIdle)
	}
	c.log.Infof("path traced lighting ready: %dx%d quality=%s mode=%s backend=%s workers=%d",
		c.cfg.Width, c.cfg.Height, c.cfg.Quality, c.cfg.Mode, c.backend, len(c.scratch))
	return nil
}

// Shutdown releases GPU resources and the device claim. The context may be
// re-initialized afterwards; accumulated state survives so a re-init does not
// restart convergence.
func (c *PathTracerContext) Shutdown() {
	if !c.initialized {
		return
	}
	if c.hw != nil {
		c.hw.Release()
		c.hw = nil
	}
	if c.device != nil {
		releaseDevice(c.device, c)
		c.device = nil
	}
	c.initialized = false
	c.setState(frameUnavailable)
	c.log.Infof("path traced lighting shut down")
}

// Geometry exposes the mesh registry backing this context's scene.
func (c *PathTracerContext) Geometry() *GeometryCache { return c.geometry }

// Backend reports the path the next frame will take. A hardware context that
// hit a fatal pipeline error reports software until re-initialized.
func (c *PathTracerContext) Backend() Backend { return c.activeBackend() }

func (c *PathTracerContext) activeBackend() Backend {
	if c.backend == BackendHardware && !c.hwPinned {
		return BackendHardware
	}
	return BackendSoftware
}

// SetCamera installs the camera for subsequent frames. Any change restarts
// accumulation; re-sending an identical state each tick is free.
func (c *PathTracerContext) SetCamera(cam core.CameraState) {
	if c.camera.Equals(&cam) {
		return
	}
	c.camera = cam
	c.resetAccumulation("camera moved")
}

// SetLights replaces the analytic light set, truncating at the configured
// ceiling. The set is compared against the previous one so hosts can re-sync
// every tick without restarting accumulation.
func (c *PathTracerContext) SetLights(lights []core.Light) {
	if len(lights) > c.cfg.MaxLights {
		c.log.Warnf("light set truncated from %d to %d", len(lights), c.cfg.MaxLights)
		lights = lights[:c.cfg.MaxLights]
	}
	if lightsEqual(c.lights, lights) {
		return
	}
	c.lights = append(c.lights[:0], lights...)
	c.integ.SetLights(c.lights)
	c.resetAccumulation("lights changed")
}

func lightsEqual(a, b []core.Light) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// SetMaterialSource swaps where per-primitive materials come from. Both
// backends consult the same source, so uploads stay consistent with CPU
// shading.
func (c *PathTracerContext) SetMaterialSource(src core.MaterialSource) {
	if src == nil || src == c.materials {
		return
	}
	c.materials = src
	c.integ.SetMaterials(src)
	c.resetAccumulation("materials changed")
}

// SetEnvironmentGradient replaces the sky gradient sampled by escaping rays.
func (c *PathTracerContext) SetEnvironmentGradient(horizon, zenith mgl32.Vec3) {
	if horizon == c.envHorizon && zenith == c.envZenith {
		return
	}
	c.envHorizon = horizon
	c.envZenith = zenith
	c.integ.SetEnvironment(integrator.GradientEnvironment(horizon, zenith))
	c.resetAccumulation("environment changed")
}

// SetExposure adjusts the tonemap exposure used by the composite stage. It
// only affects LDR output, so accumulation is left alone.
func (c *PathTracerContext) SetExposure(exposure float32) {
	c.exposure = exposure
}

// ConfigureProbeGrid rebuilds the irradiance probe lattice over a new region.
// Ignored outside all-lighting mode, where no probes exist.
func (c *PathTracerContext) ConfigureProbeGrid(origin mgl32.Vec3, dims [3]int) error {
	if dims[0] < 1 || dims[1] < 1 || dims[2] < 1 {
		return fmt.Errorf("probe grid dims %v are not positive", dims)
	}
	if c.probes == nil {
		c.log.Debugf("probe grid ignored in mode %s", c.cfg.Mode)
		return nil
	}
	c.probes = lighting.NewProbeGrid(origin, c.cfg.ProbeSpacing, dims)
	c.integ.UseProbes(c.probes)
	c.resetAccumulation("probe grid changed")
	return nil
}

// NotifySceneEdit marks the accumulated image and cached transport stale
// after geometry or material edits. Probe values are left to re-integrate on
// their refresh rotation.
func (c *PathTracerContext) NotifySceneEdit() {
	if c.cache != nil {
		c.cache.Clear()
	}
	c.resetAccumulation("scene edit")
}

// NotifyCameraCut restarts accumulation for a discontinuous camera change,
// such as a teleport or cutscene jump, without waiting for SetCamera to
// detect the delta.
func (c *PathTracerContext) NotifyCameraCut() {
	c.resetAccumulation("camera cut")
}

func (c *PathTracerContext) resetAccumulation(reason string) {
	c.accum.Reset()
	if r, ok := c.denoiser.(interface{ Reset() }); ok {
		r.Reset()
	}
	if c.activeBackend() == BackendHardware {
		// A readback in flight still carries pre-reset radiance.
		c.discardReadback = true
	}
	c.log.Debugf("accumulation reset: %s", reason)
}

// GetAccumulatedColor returns the denoised color of the last completed frame
// at the given pixel, or the running accumulation mean before any frame has
// finished. Out-of-range coordinates return black. Read between frames only.
func (c *PathTracerContext) GetAccumulatedColor(x, y int) mgl32.Vec3 {
	if x < 0 || y < 0 || x >= c.cfg.Width || y >= c.cfg.Height {
		return mgl32.Vec3{}
	}
	if c.frame.Color != nil {
		return c.frame.Color[y*c.cfg.Width+x]
	}
	return c.accum.Color(x, y)
}

// CompositeLDR copies the last composited frame as RGBA8 into dst, which must
// hold width*height*4 bytes.
func (c *PathTracerContext) CompositeLDR(dst []byte) error {
	if len(dst) != len(c.ldr) {
		return fmt.Errorf("ldr buffer is %d bytes, want %d", len(dst), len(c.ldr))
	}
	copy(dst, c.ldr)
	return nil
}

// StatsString formats the last frame's stage timings and counters.
func (c *PathTracerContext) StatsString() string {
	return c.prof.GetStatsString()
}

// LoadOverlayFont prepares the debug overlay's glyph atlas from a TTF file.
// Without it OverlayVertices returns nothing.
func (c *PathTracerContext) LoadOverlayFont(path string, size float64) error {
	tr, err := NewTextRenderer(path, size)
	if err != nil {
		return err
	}
	c.overlay = tr
	return nil
}

// OverlayVertices builds textured quads rendering the profiler stats into a
// screen-space corner block. The host draws them with the overlay's atlas.
func (c *PathTracerContext) OverlayVertices(screenWidth, screenHeight int) []TextVertex {
	if c.overlay == nil {
		return nil
	}
	items := []TextItem{{
		Text:     c.prof.GetStatsString(),
		Position: [2]float32{overlayMargin, overlayMargin},
		Scale:    1,
		Color:    [4]float32{1, 1, 0, 1},
	}}
	return c.overlay.BuildVertices(items, screenWidth, screenHeight)
}

const overlayMargin = 10
