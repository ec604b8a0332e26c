package lighting

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/helio3d/helio/rt/core"
)

const (
	// NumShards must stay a power of two for the index mask.
	NumShards = 64

	// probeWindow is the linear probe span inside the slot array; eviction
	// picks the least recently used slot within it.
	probeWindow = 8

	confidenceGain  = 0.15
	confidenceDecay = 0.97 // per frame without reinforcement
	minConfidence   = 0.05
	minBlend        = 0.05
)

type shardLocks struct {
	mu [NumShards]sync.Mutex
}

func (sl *shardLocks) lock(idx int) {
	sl.mu[idx&(NumShards-1)].Lock()
}

func (sl *shardLocks) unlock(idx int) {
	sl.mu[idx&(NumShards-1)].Unlock()
}

// CacheEntry is one cached radiance estimate, valid around Position for
// surfaces aligned with Normal.
type CacheEntry struct {
	Position   mgl32.Vec3
	Normal     mgl32.Vec3
	Radiance   mgl32.Vec3
	Confidence float32
	LastUpdate uint64 // frame of last reinforcement
	LastUsed   uint64 // frame of last query hit or update
	used       bool
}

// Cache stores sparse incoming-radiance estimates over surfaces. Lookups
// key on a quantized cell of the query position plus a normal-alignment
// test. Slots live in a fixed arena; overflow evicts the least recently
// used slot inside the probe window. Shard locks serialize per-slot access
// so tile workers update concurrently without a global lock.
type Cache struct {
	entries []CacheEntry
	locks   shardLocks

	cellSize  float32
	normalCos float32

	hits    atomic.Uint64
	misses  atomic.Uint64
	evicted atomic.Uint64
}

const DefaultCacheEntries = 16384

// NewCache sizes the slot arena. cellSize is the spatial tolerance of a
// lookup in world units.
func NewCache(capacity int, cellSize float32) *Cache {
	if capacity <= 0 {
		capacity = DefaultCacheEntries
	}
	// Round up to a multiple of the probe window so windows never wrap
	// mid-slot.
	if r := capacity % probeWindow; r != 0 {
		capacity += probeWindow - r
	}
	if cellSize <= 0 {
		cellSize = 0.5
	}
	return &Cache{
		entries:   make([]CacheEntry, capacity),
		cellSize:  cellSize,
		normalCos: 0.9,
	}
}

// Query looks up a cached estimate near position p for a surface facing n.
// The returned confidence reflects decay since the last reinforcement; ok
// is false on a miss or when confidence has decayed away.
func (c *Cache) Query(p, n mgl32.Vec3, frame uint64) (mgl32.Vec3, float32, bool) {
	base := c.slotBase(p)

	c.locks.lock(base)
	defer c.locks.unlock(base)

	for i := 0; i < probeWindow; i++ {
		e := &c.entries[base+i]
		if !e.used {
			continue
		}
		if !c.matches(e, p, n) {
			continue
		}

		conf := decayedConfidence(e, frame)
		if conf < minConfidence {
			continue
		}
		e.LastUsed = frame
		c.hits.Add(1)
		return e.Radiance, conf, true
	}

	c.misses.Add(1)
	return mgl32.Vec3{}, 0, false
}

// Update folds a new radiance sample into the matching slot, or claims one.
// Blending weight shrinks as confidence grows, so converged entries resist
// noise; a full window evicts its least recently used slot.
func (c *Cache) Update(p, n, radiance mgl32.Vec3, frame uint64) {
	radiance = core.SanitizeColor(radiance)
	base := c.slotBase(p)

	c.locks.lock(base)
	defer c.locks.unlock(base)

	// Reinforce an existing entry.
	for i := 0; i < probeWindow; i++ {
		e := &c.entries[base+i]
		if e.used && c.matches(e, p, n) {
			conf := decayedConfidence(e, frame)
			alpha := 1 / (1 + conf*20)
			if alpha < minBlend {
				alpha = minBlend
			}
			e.Radiance = e.Radiance.Add(radiance.Sub(e.Radiance).Mul(alpha))
			e.Confidence = conf + (1-conf)*confidenceGain
			e.LastUpdate = frame
			e.LastUsed = frame
			return
		}
	}

	// Claim a free slot in the window.
	victim := -1
	var oldestUse uint64 = math.MaxUint64
	for i := 0; i < probeWindow; i++ {
		e := &c.entries[base+i]
		if !e.used {
			victim = base + i
			break
		}
		if e.LastUsed < oldestUse {
			oldestUse = e.LastUsed
			victim = base + i
		}
	}

	if c.entries[victim].used {
		c.evicted.Add(1)
	}

	c.entries[victim] = CacheEntry{
		Position:   p,
		Normal:     n,
		Radiance:   radiance,
		Confidence: confidenceGain,
		LastUpdate: frame,
		LastUsed:   frame,
		used:       true,
	}
}

// Clear drops every entry. Scene edits invalidate cached transport, so the
// dispatch layer calls this alongside an accumulation reset.
func (c *Cache) Clear() {
	for s := 0; s < NumShards; s++ {
		c.locks.mu[s].Lock()
	}
	for i := range c.entries {
		c.entries[i] = CacheEntry{}
	}
	for s := 0; s < NumShards; s++ {
		c.locks.mu[s].Unlock()
	}
}

// Stats returns lifetime hit, miss, and eviction counts.
func (c *Cache) Stats() (hits, misses, evicted uint64) {
	return c.hits.Load(), c.misses.Load(), c.evicted.Load()
}

// slotBase maps a position to the first slot of its probe window.
func (c *Cache) slotBase(p mgl32.Vec3) int {
	cx := int64(math.Floor(float64(p.X() / c.cellSize)))
	cy := int64(math.Floor(float64(p.Y() / c.cellSize)))
	cz := int64(math.Floor(float64(p.Z() / c.cellSize)))

	h := uint64(cx)*0x9E3779B185EBCA87 ^ uint64(cy)*0xC2B2AE3D27D4EB4F ^ uint64(cz)*0x165667B19E3779F9
	h ^= h >> 29
	windows := len(c.entries) / probeWindow
	return int(h%uint64(windows)) * probeWindow
}

func (c *Cache) matches(e *CacheEntry, p, n mgl32.Vec3) bool {
	if e.Position.Sub(p).Len() > c.cellSize {
		return false
	}
	return e.Normal.Dot(n) >= c.normalCos
}

func decayedConfidence(e *CacheEntry, frame uint64) float32 {
	if frame <= e.LastUpdate {
		return e.Confidence
	}
	age := frame - e.LastUpdate
	return e.Confidence * float32(math.Pow(confidenceDecay, float64(age)))
}
