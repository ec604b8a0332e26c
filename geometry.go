package helio

import (
	"errors"
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"

	"github.com/helio3d/helio/rt/bvh"
)

// MeshId identifies a registered mesh across BLAS rebuilds. The id is the
// stable handle hosts keep; the arena slot behind it is free to move.
type MeshId = uuid.UUID

var ErrUnknownMesh = errors.New("helio: unknown mesh")

// GeometryCache is the host-facing registry over the acceleration manager.
// Hosts speak MeshIds and instance ids; BLAS arena handles stay internal.
// Mutation is legal between frames only, matching the manager it wraps.
type GeometryCache struct {
	accel  *bvh.Manager
	meshes map[MeshId]bvh.Handle
	log    Logger
}

func NewGeometryCache(accel *bvh.Manager, log Logger) *GeometryCache {
	if log == nil {
		log = NewNopLogger()
	}
	return &GeometryCache{
		accel:  accel,
		meshes: make(map[MeshId]bvh.Handle),
		log:    log,
	}
}

// RegisterMesh copies the mesh into a new BLAS and returns its id. Pool
// exhaustion is non-fatal: the request is logged, dropped, and the caller
// keeps rendering with the meshes it has.
func (g *GeometryCache) RegisterMesh(vertices []mgl32.Vec3, indices []uint32, dynamic bool) (MeshId, error) {
	h, err := g.accel.CreateBLAS(vertices, indices, dynamic)
	if err != nil {
		if errors.Is(err, bvh.ErrPoolExhausted) {
			g.log.Warnf("mesh dropped: %v", err)
		}
		return uuid.Nil, err
	}

	id := uuid.New()
	g.meshes[id] = h
	g.log.Debugf("mesh %s registered (dynamic=%v, %d tris)", id, dynamic, len(indices)/3)
	return id, nil
}

// UpdateMeshVertices refits a dynamic mesh to moved vertices.
func (g *GeometryCache) UpdateMeshVertices(id MeshId, vertices []mgl32.Vec3) error {
	h, ok := g.meshes[id]
	if !ok {
		return fmt.Errorf("update mesh %s: %w", id, ErrUnknownMesh)
	}
	return g.accel.UpdateBLAS(h, vertices)
}

// RemoveMesh frees the mesh's BLAS slot. Meshes still referenced by live
// instances are refused; remove the instances first.
func (g *GeometryCache) RemoveMesh(id MeshId) error {
	h, ok := g.meshes[id]
	if !ok {
		return fmt.Errorf("remove mesh %s: %w", id, ErrUnknownMesh)
	}
	if err := g.accel.RemoveBLAS(h); err != nil {
		return err
	}
	delete(g.meshes, id)
	return nil
}

// AddInstance places a registered mesh in the world.
func (g *GeometryCache) AddInstance(id MeshId, objectToWorld mgl32.Mat4, material int32) (bvh.InstanceId, error) {
	h, ok := g.meshes[id]
	if !ok {
		return -1, fmt.Errorf("add instance of %s: %w", id, ErrUnknownMesh)
	}
	inst, err := g.accel.AddInstance(h, objectToWorld, material)
	if err != nil {
		if errors.Is(err, bvh.ErrPoolExhausted) {
			g.log.Warnf("instance dropped: %v", err)
		}
		return -1, err
	}
	return inst, nil
}

func (g *GeometryCache) SetInstanceTransform(id bvh.InstanceId, objectToWorld mgl32.Mat4) error {
	return g.accel.SetInstanceTransform(id, objectToWorld)
}

func (g *GeometryCache) SetInstanceMaterial(id bvh.InstanceId, material int32) error {
	return g.accel.SetInstanceMaterial(id, material)
}

func (g *GeometryCache) RemoveInstance(id bvh.InstanceId) error {
	return g.accel.RemoveInstance(id)
}

// MeshCount returns the number of registered meshes.
func (g *GeometryCache) MeshCount() int {
	return len(g.meshes)
}
