package helio

import (
	"fmt"
	"runtime"

	"github.com/helio3d/helio/rt/film"
)

// Quality scales the per-frame tracing effort. QualityOff disables the
// subsystem; render calls become no-ops.
type Quality int

const (
	QualityOff Quality = iota
	QualityLow
	QualityMedium
	QualityHigh
	QualityUltra
)

func (q Quality) String() string {
	switch q {
	case QualityOff:
		return "off"
	case QualityLow:
		return "low"
	case QualityMedium:
		return "medium"
	case QualityHigh:
		return "high"
	case QualityUltra:
		return "ultra"
	}
	return fmt.Sprintf("quality(%d)", int(q))
}

// Mode selects which lighting the tracer computes. ModeDynamicOnly keeps
// the per-frame analytic lighting (direct light, emission, shadows) and
// turns off the multi-bounce machinery and its reuse caches; ModeAll runs
// the full transport.
type Mode int

const (
	ModeOff Mode = iota
	ModeDynamicOnly
	ModeAll
)

func (m Mode) String() string {
	switch m {
	case ModeOff:
		return "off"
	case ModeDynamicOnly:
		return "dynamic-only"
	case ModeAll:
		return "all"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

const (
	DefaultTileSize     = 64
	DefaultProbeSpacing = 4.0
	DefaultMaxLights    = 256
)

// Config is the closed option set given to New. Zero values pick defaults
// where one exists; Validate normalizes them in place.
type Config struct {
	Width, Height int

	Quality Quality
	Mode    Mode

	Denoise    bool
	AsyncBuild bool

	Workers  int // 0 picks runtime.NumCPU()
	TileSize int // 0 picks DefaultTileSize
	Seed     int64

	MaxBLAS      int // BLAS arena capacity, 0 picks the bvh default
	MaxInstances int
	MaxLights    int // light set ceiling, 0 picks DefaultMaxLights

	CacheEntries int     // light cache capacity, 0 picks the lighting default
	ProbeSpacing float32 // probe lattice spacing in world units

	Logger   Logger        // nil picks DefaultLogger
	Denoiser film.Denoiser // nil picks the built-in software denoiser when Denoise is set
}

// preset fixes the tracing effort for a quality tier.
type preset struct {
	MaxBounces      int
	SamplesPerFrame int
	RRStartDepth    int
}

var qualityPresets = map[Quality]preset{
	QualityLow:    {MaxBounces: 2, SamplesPerFrame: 1, RRStartDepth: 1},
	QualityMedium: {MaxBounces: 4, SamplesPerFrame: 1, RRStartDepth: 2},
	QualityHigh:   {MaxBounces: 6, SamplesPerFrame: 2, RRStartDepth: 2},
	QualityUltra:  {MaxBounces: 8, SamplesPerFrame: 4, RRStartDepth: 3},
}

func (c Config) preset() preset {
	if p, ok := qualityPresets[c.Quality]; ok {
		return p
	}
	return preset{MaxBounces: 1, SamplesPerFrame: 1, RRStartDepth: 1}
}

// Enabled reports whether the configured quality and mode allow tracing
// at all.
func (c Config) Enabled() bool {
	return c.Quality != QualityOff && c.Mode != ModeOff
}

// Validate normalizes zero values and rejects impossible ones. It mutates
// the receiver, so callers validate their copy before handing it to New.
func (c *Config) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("config: target size %dx%d is not positive", c.Width, c.Height)
	}
	if c.Quality < QualityOff || c.Quality > QualityUltra {
		return fmt.Errorf("config: unknown quality %d", int(c.Quality))
	}
	if c.Mode < ModeOff || c.Mode > ModeAll {
		return fmt.Errorf("config: unknown mode %d", int(c.Mode))
	}
	if c.Workers < 0 || c.TileSize < 0 {
		return fmt.Errorf("config: negative workers or tile size")
	}

	if c.Workers == 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.TileSize == 0 {
		c.TileSize = DefaultTileSize
	}
	if c.ProbeSpacing <= 0 {
		c.ProbeSpacing = DefaultProbeSpacing
	}
	if c.MaxLights == 0 {
		c.MaxLights = DefaultMaxLights
	}
	if c.Logger == nil {
		c.Logger = NewDefaultLogger("helio", false)
	}
	return nil
}
