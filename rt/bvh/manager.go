package bvh

import (
	"errors"
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
)

var (
	ErrPoolExhausted = errors.New("bvh: pool exhausted")
	ErrInvalidHandle = errors.New("bvh: invalid handle")
	ErrInUse         = errors.New("bvh: blas referenced by live instances")
)

// Handle addresses a BLAS slot in the manager's arena. Handles stay valid
// until RemoveBLAS; slot reuse never changes a live handle's meaning.
type Handle int32

// InstanceId addresses an instance slot.
type InstanceId int32

const (
	DefaultMaxBLAS      = 1024
	DefaultMaxInstances = 4096
)

// Manager owns the BLAS arena, the instance list, and the TLAS over them.
// All mutation runs between frames under the dispatch ordering; traversal
// never observes a partially built structure.
type Manager struct {
	blas     []*BLAS
	blasFree []int32

	instances []Instance
	instFree  []int32

	tlas TLAS

	maxBLAS      int
	maxInstances int

	builds   uint64
	refits   uint64
	rebuilds uint64
}

func NewManager(maxBLAS, maxInstances int) *Manager {
	if maxBLAS <= 0 {
		maxBLAS = DefaultMaxBLAS
	}
	if maxInstances <= 0 {
		maxInstances = DefaultMaxInstances
	}
	return &Manager{
		maxBLAS:      maxBLAS,
		maxInstances: maxInstances,
	}
}

// CreateBLAS copies the mesh and builds its structure, returning an arena
// handle. Fails with ErrPoolExhausted when the arena is at capacity; the
// caller drops the mesh and keeps rendering with what it has.
func (m *Manager) CreateBLAS(vertices []mgl32.Vec3, indices []uint32, dynamic bool) (Handle, error) {
	b, err := BuildBLAS(vertices, indices, dynamic)
	if err != nil {
		return -1, err
	}

	var slot int32
	switch {
	case len(m.blasFree) > 0:
		slot = m.blasFree[len(m.blasFree)-1]
		m.blasFree = m.blasFree[:len(m.blasFree)-1]
		m.blas[slot] = b
	case len(m.blas) < m.maxBLAS:
		slot = int32(len(m.blas))
		m.blas = append(m.blas, b)
	default:
		return -1, fmt.Errorf("create blas (%d slots): %w", m.maxBLAS, ErrPoolExhausted)
	}

	m.builds++
	return Handle(slot), nil
}

// UpdateBLAS refits a dynamic BLAS to moved vertices. Leaf order is
// preserved; the TLAS goes dirty because instance world bounds may grow.
func (m *Manager) UpdateBLAS(h Handle, vertices []mgl32.Vec3) error {
	b, err := m.Get(h)
	if err != nil {
		return err
	}
	if err := b.Refit(vertices); err != nil {
		return err
	}
	m.refits++
	m.tlas.MarkDirty()
	return nil
}

// RemoveBLAS frees a slot. Slots still referenced by active instances are
// refused; remove the instances first.
func (m *Manager) RemoveBLAS(h Handle) error {
	if _, err := m.Get(h); err != nil {
		return err
	}
	for i := range m.instances {
		if m.instances[i].Active && m.instances[i].BLAS == h {
			return fmt.Errorf("remove blas %d: %w", h, ErrInUse)
		}
	}
	m.blas[h] = nil
	m.blasFree = append(m.blasFree, int32(h))
	return nil
}

// Get resolves a handle to its BLAS.
func (m *Manager) Get(h Handle) (*BLAS, error) {
	if int(h) < 0 || int(h) >= len(m.blas) || m.blas[h] == nil {
		return nil, fmt.Errorf("blas %d: %w", h, ErrInvalidHandle)
	}
	return m.blas[h], nil
}

// AddInstance places a BLAS in the world. The transform must be invertible;
// the inverse is cached with the instance so traversal never inverts per ray.
func (m *Manager) AddInstance(h Handle, objectToWorld mgl32.Mat4, material int32) (InstanceId, error) {
	b, err := m.Get(h)
	if err != nil {
		return -1, err
	}
	if objectToWorld.Det() == 0 {
		return -1, fmt.Errorf("add instance: transform is singular")
	}

	inst := Instance{
		BLAS:          h,
		ObjectToWorld: objectToWorld,
		WorldToObject: objectToWorld.Inv(),
		Material:      material,
		Active:        true,
	}
	inst.UpdateWorldBounds(b)

	var id int32
	switch {
	case len(m.instFree) > 0:
		id = m.instFree[len(m.instFree)-1]
		m.instFree = m.instFree[:len(m.instFree)-1]
		m.instances[id] = inst
	case len(m.instances) < m.maxInstances:
		id = int32(len(m.instances))
		m.instances = append(m.instances, inst)
	default:
		return -1, fmt.Errorf("add instance (%d slots): %w", m.maxInstances, ErrPoolExhausted)
	}

	m.tlas.MarkDirty()
	return InstanceId(id), nil
}

func (m *Manager) SetInstanceTransform(id InstanceId, objectToWorld mgl32.Mat4) error {
	inst, err := m.instance(id)
	if err != nil {
		return err
	}
	if objectToWorld.Det() == 0 {
		return fmt.Errorf("set transform: transform is singular")
	}
	inst.ObjectToWorld = objectToWorld
	inst.WorldToObject = objectToWorld.Inv()
	m.tlas.MarkDirty()
	return nil
}

func (m *Manager) SetInstanceMaterial(id InstanceId, material int32) error {
	inst, err := m.instance(id)
	if err != nil {
		return err
	}
	inst.Material = material
	return nil
}

func (m *Manager) RemoveInstance(id InstanceId) error {
	inst, err := m.instance(id)
	if err != nil {
		return err
	}
	inst.Active = false
	m.instFree = append(m.instFree, int32(id))
	m.tlas.MarkDirty()
	return nil
}

func (m *Manager) instance(id InstanceId) (*Instance, error) {
	if int(id) < 0 || int(id) >= len(m.instances) || !m.instances[id].Active {
		return nil, fmt.Errorf("instance %d: %w", id, ErrInvalidHandle)
	}
	return &m.instances[id], nil
}

// NeedsRebuild reports whether any mutation since the last build left the
// TLAS stale.
func (m *Manager) NeedsRebuild() bool {
	return m.tlas.NeedsRebuild()
}

// BuildOrRefreshTLAS refreshes instance world bounds and rebuilds the TLAS
// when dirty. A clean TLAS is left untouched.
func (m *Manager) BuildOrRefreshTLAS() {
	if !m.tlas.NeedsRebuild() {
		return
	}
	for i := range m.instances {
		if !m.instances[i].Active {
			continue
		}
		if b, err := m.Get(m.instances[i].BLAS); err == nil {
			m.instances[i].UpdateWorldBounds(b)
		}
	}
	m.tlas.Build(m.instances)
	m.rebuilds++
}

// TLASRef exposes the node array for traversal and upload.
func (m *Manager) TLASRef() *TLAS {
	return &m.tlas
}

// Instances exposes the instance slots, inactive ones included; callers
// check Active.
func (m *Manager) Instances() []Instance {
	return m.instances
}

// Stats returns lifetime build, refit, and TLAS rebuild counts.
func (m *Manager) Stats() (builds, refits, rebuilds uint64) {
	return m.builds, m.refits, m.rebuilds
}

// BLASCount returns the number of live slots.
func (m *Manager) BLASCount() int {
	n := 0
	for _, b := range m.blas {
		if b != nil {
			n++
		}
	}
	return n
}
