package helio

import (
	"context"
	"errors"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helio3d/helio/rt/core"
	"github.com/helio3d/helio/rt/film"
)

var quadIndices = []uint32{0, 1, 2, 0, 2, 3}

// buildFloorScene places a large floor, a small panel floating above it, and
// one point light offset to the side. Seen from a camera looking straight
// down, the panel casts a shadow band onto the floor around x in [-7, -5].
func buildFloorScene(t *testing.T, c *PathTracerContext) {
	t.Helper()

	floorVerts := []mgl32.Vec3{{-20, -20, 0}, {20, -20, 0}, {20, 20, 0}, {-20, 20, 0}}
	floor, err := c.Geometry().RegisterMesh(floorVerts, quadIndices, false)
	require.NoError(t, err)
	_, err = c.Geometry().AddInstance(floor, mgl32.Ident4(), 0)
	require.NoError(t, err)

	blockVerts := []mgl32.Vec3{{-1.5, -0.5, 3}, {-0.5, -0.5, 3}, {-0.5, 0.5, 3}, {-1.5, 0.5, 3}}
	block, err := c.Geometry().RegisterMesh(blockVerts, quadIndices, false)
	require.NoError(t, err)
	_, err = c.Geometry().AddInstance(block, mgl32.Ident4(), 1)
	require.NoError(t, err)

	gray := core.NewMaterial(mgl32.Vec3{0.8, 0.8, 0.8}, 0, 0.8)
	c.SetMaterialSource(&core.StaticMaterials{Materials: []core.MaterialSample{gray, gray}})
	c.SetLights([]core.Light{core.NewPointLight(mgl32.Vec3{4, 0, 6}, mgl32.Vec3{1, 1, 1}, 100, 50)})

	cam := *core.NewCameraState()
	cam.Position = mgl32.Vec3{0, 0, 12}
	cam.Pitch = mgl32.DegToRad(-90)
	c.SetCamera(cam)
}

func lookDown(c *PathTracerContext) {
	cam := *core.NewCameraState()
	cam.Position = mgl32.Vec3{0, 0, 12}
	cam.Pitch = mgl32.DegToRad(-90)
	c.SetCamera(cam)
}

func TestRenderEmissiveSurface(t *testing.T) {
	c, err := New(testConfig())
	require.NoError(t, err)
	require.NoError(t, c.Init(Capabilities{}, nil))

	panelVerts := []mgl32.Vec3{{-20, -20, 0}, {20, -20, 0}, {20, 20, 0}, {-20, 20, 0}}
	panel, err := c.Geometry().RegisterMesh(panelVerts, quadIndices, false)
	require.NoError(t, err)
	_, err = c.Geometry().AddInstance(panel, mgl32.Ident4(), 0)
	require.NoError(t, err)
	c.SetMaterialSource(&core.StaticMaterials{Materials: []core.MaterialSample{
		{Emission: mgl32.Vec3{2, 0, 0}},
	}})
	lookDown(c)

	for i := 0; i < 4; i++ {
		require.NoError(t, c.RenderPathTracedLighting())
	}

	// Primary hits see the emission directly; only the weak specular bounce
	// adds anything on top of it.
	got := c.GetAccumulatedColor(32, 32)
	assert.InDelta(t, 2.0, got.X(), 0.5)
	assert.Less(t, got.Y(), float32(0.3))
}

func TestRenderLightingAndOcclusion(t *testing.T) {
	cfg := testConfig()
	cfg.TileSize = 32
	c, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, c.Init(Capabilities{}, nil))
	buildFloorScene(t, c)

	for i := 0; i < 8; i++ {
		require.NoError(t, c.RenderPathTracedLighting())
	}

	// Pixel (31, 41) lands on lit floor near x=+2; pixel (31, 4) inside the
	// shadow band near x=-6.
	lit := c.GetAccumulatedColor(31, 41)
	shadowed := c.GetAccumulatedColor(31, 4)
	if lit.X() < 0.25 {
		t.Fatalf("lit floor too dark: %v", lit)
	}
	if lit.X() < 2*shadowed.X() {
		t.Errorf("no occlusion contrast: lit %v vs shadowed %v", lit, shadowed)
	}
}

func TestRenderBusy(t *testing.T) {
	c, err := New(testConfig())
	require.NoError(t, err)
	require.NoError(t, c.Init(Capabilities{}, nil))

	c.rendering.Store(true)
	assert.ErrorIs(t, c.RenderPathTracedLighting(), ErrBusy)
	c.rendering.Store(false)
	require.NoError(t, c.RenderPathTracedLighting())
}

func TestNotifySceneEditRestartsAccumulation(t *testing.T) {
	c, err := New(testConfig())
	require.NoError(t, err)
	require.NoError(t, c.Init(Capabilities{}, nil))
	lookDown(c)

	require.NoError(t, c.RenderPathTracedLighting())
	require.NoError(t, c.RenderPathTracedLighting())
	require.Equal(t, uint32(2), c.accum.SampleCount(0, 0))

	c.NotifySceneEdit()
	assert.Equal(t, uint32(0), c.accum.SampleCount(0, 0))

	require.NoError(t, c.RenderPathTracedLighting())
	assert.Equal(t, uint32(1), c.accum.SampleCount(0, 0))
}

func TestRenderCountersAndState(t *testing.T) {
	c, err := New(testConfig())
	require.NoError(t, err)
	require.NoError(t, c.Init(Capabilities{}, nil))
	lookDown(c)

	require.NoError(t, c.RenderPathTracedLighting())

	assert.Equal(t, frameAvailableIdle, c.state)
	assert.Equal(t, len(c.tiles), c.prof.Count("tiles"))
	assert.Greater(t, c.prof.Count("rays"), 0)

	stats := c.StatsString()
	for _, scope := range []string{"build", "trace", "denoise", "composite"} {
		assert.Contains(t, stats, scope)
	}
}

func TestDenoiseEnabledFrame(t *testing.T) {
	cfg := testConfig()
	cfg.Denoise = true
	c, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, c.Init(Capabilities{}, nil))

	require.NoError(t, c.RenderPathTracedLighting())
	got := c.GetAccumulatedColor(32, 32)
	assert.Greater(t, got.X(), float32(0))
}

type failingDenoiser struct{}

func (failingDenoiser) Apply(*film.Frame) error { return errors.New("vendor denoiser rejected frame") }

func TestDenoiseFailureKeepsRawFrame(t *testing.T) {
	cfg := testConfig()
	cfg.Denoise = true
	cfg.Denoiser = failingDenoiser{}
	c, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, c.Init(Capabilities{}, nil))

	// The frame completes; the snapshot keeps the raw accumulation.
	require.NoError(t, c.RenderPathTracedLighting())
	raw := c.accum.Color(32, 32)
	assert.Equal(t, raw, c.GetAccumulatedColor(32, 32))
}

func TestProgressiveConvergesOnFlatScene(t *testing.T) {
	c, err := New(testConfig())
	require.NoError(t, err)
	require.NoError(t, c.Init(Capabilities{}, nil))
	lookDown(c)

	// An empty scene yields identical samples every pass, so the error
	// estimate collapses as soon as variance is measurable.
	passes, errs := c.RenderProgressive(context.Background())
	var got []PassInfo
	for p := range passes {
		got = append(got, p)
	}
	err, ok := <-errs
	require.False(t, ok, "unexpected error: %v", err)

	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].Pass)
	assert.Equal(t, uint32(2), got[1].Samples)
	assert.Equal(t, float32(0), got[1].Error)
}

func TestProgressiveCancel(t *testing.T) {
	cfg := testConfig()
	cfg.TileSize = 32
	c, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, c.Init(Capabilities{}, nil))
	buildFloorScene(t, c)

	ctx, cancel := context.WithCancel(context.Background())
	passes, errs := c.RenderProgressive(ctx)

	first := <-passes
	require.Equal(t, 1, first.Pass)
	cancel()

	for range passes {
	}
	err, ok := <-errs
	require.True(t, ok, "progressive loop ended without reporting the cancel")
	assert.ErrorIs(t, err, context.Canceled)

	// The context is usable again once the loop has ended.
	require.NoError(t, c.RenderPathTracedLighting())
}

func TestProgressiveBeforeInit(t *testing.T) {
	c, err := New(testConfig())
	require.NoError(t, err)

	passes, errs := c.RenderProgressive(context.Background())
	_, ok := <-passes
	assert.False(t, ok)
	assert.ErrorIs(t, <-errs, ErrNotRunning)
}
