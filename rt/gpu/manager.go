package gpu

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/cogentcore/webgpu/wgpu"

	"github.com/helio3d/helio/rt/bvh"
	"github.com/helio3d/helio/rt/core"
)

const (
	HeadroomGeometry = 1024 * 1024
	HeadroomTables   = 64 * 1024

	globalsBytes  = 128
	instanceBytes = 144
	triangleBytes = 48
	materialBytes = 48
	lightBytes    = 64
)

// Manager owns the device-side mirror of the scene: acceleration nodes,
// geometry, instances, materials, and lights as storage buffers, plus the
// radiance target and its readback. Buffers grow in place and are only
// recreated when they run out, which is when bind groups go stale.
type Manager struct {
	Device *wgpu.Device

	GlobalsBuf   *wgpu.Buffer
	TLASNodesBuf *wgpu.Buffer
	TLASOrderBuf *wgpu.Buffer
	BLASNodesBuf *wgpu.Buffer
	BLASOrderBuf *wgpu.Buffer
	TrianglesBuf *wgpu.Buffer
	InstancesBuf *wgpu.Buffer
	MaterialsBuf *wgpu.Buffer
	LightsBuf    *wgpu.Buffer

	RadianceBuf *wgpu.Buffer
	ReadbackBuf *wgpu.Buffer

	Pipeline   *wgpu.ComputePipeline
	BindGroup0 *wgpu.BindGroup
	BindGroup1 *wgpu.BindGroup

	width  uint32
	height uint32

	// Readback state machine, shared with the MapAsync callback.
	StateMu       sync.Mutex
	readbackState int // 0 idle, 1 copied, 2 mapping, 3 mapped
	lastRadiance  []mgl32.Vec3
	lastW, lastH  uint32
}

// blasOffsets records where one BLAS landed in the concatenated buffers.
type blasOffsets struct {
	nodeBase  uint32
	orderBase uint32
	triBase   uint32
}

func NewManager(device *wgpu.Device) *Manager {
	return &Manager{Device: device}
}

// Release drops every device resource. The manager is unusable afterwards;
// callers build a fresh one on re-init.
func (m *Manager) Release() {
	for _, bg := range []*wgpu.BindGroup{m.BindGroup0, m.BindGroup1} {
		if bg != nil {
			bg.Release()
		}
	}
	m.BindGroup0, m.BindGroup1 = nil, nil

	if m.Pipeline != nil {
		m.Pipeline.Release()
		m.Pipeline = nil
	}

	bufs := []**wgpu.Buffer{
		&m.GlobalsBuf, &m.TLASNodesBuf, &m.TLASOrderBuf, &m.BLASNodesBuf,
		&m.BLASOrderBuf, &m.TrianglesBuf, &m.InstancesBuf, &m.MaterialsBuf,
		&m.LightsBuf, &m.RadianceBuf, &m.ReadbackBuf,
	}
	for _, b := range bufs {
		if *b != nil {
			(*b).Release()
			*b = nil
		}
	}

	m.StateMu.Lock()
	m.readbackState = 0
	m.StateMu.Unlock()
}

func (m *Manager) ensureBuffer(name string, buf **wgpu.Buffer, data []byte, usage wgpu.BufferUsage, headroom int) (bool, error) {
	neededSize := uint64(len(data) + headroom)
	if neededSize%4 != 0 {
		neededSize += 4 - (neededSize % 4)
	}

	current := *buf
	if current == nil || current.GetSize() < neededSize {
		if current != nil {
			current.Release()
		}
		newBuf, err := m.Device.CreateBuffer(&wgpu.BufferDescriptor{
			Label: name,
			Size:  neededSize,
			Usage: usage | wgpu.BufferUsageCopyDst,
		})
		if err != nil {
			return false, fmt.Errorf("create %s: %w", name, err)
		}
		*buf = newBuf
		if len(data) > 0 {
			m.Device.GetQueue().WriteBuffer(*buf, 0, data)
		}
		return true, nil
	}

	if len(data) > 0 {
		m.Device.GetQueue().WriteBuffer(*buf, 0, data)
	}
	return false, nil
}

// UploadScene mirrors the acceleration structures, geometry, per-instance
// materials, and lights into device buffers. The TLAS order array carries
// instance slot indices, so instances are packed by slot, inactive slots
// included. Returns true when any buffer was recreated and the bind groups
// need rebuilding.
func (m *Manager) UploadScene(mgr *bvh.Manager, materials core.MaterialSource, lights []core.Light) (bool, error) {
	tlas := mgr.TLASRef()
	instances := mgr.Instances()

	tlasNodes := bvh.NodesToBytes(tlas.Nodes)
	tlasOrder := int32sToBytes(tlas.Order)

	// Concatenate each referenced BLAS once; instances that share a mesh
	// share its span.
	var (
		blasNodes []byte
		blasOrder []byte
		triangles []byte
		seen      = map[bvh.Handle]blasOffsets{}
	)
	instData := make([]byte, 0, len(instances)*instanceBytes)
	matData := make([]byte, 0, len(instances)*materialBytes)

	for slot := range instances {
		inst := &instances[slot]

		var off blasOffsets
		if inst.Active {
			var ok bool
			if off, ok = seen[inst.BLAS]; !ok {
				b, err := mgr.Get(inst.BLAS)
				if err != nil {
					return false, fmt.Errorf("upload scene: %w", err)
				}
				off = blasOffsets{
					nodeBase:  uint32(len(blasNodes) / bvh.NodeBytes),
					orderBase: uint32(len(blasOrder) / 4),
					triBase:   uint32(len(triangles) / triangleBytes),
				}
				blasNodes = append(blasNodes, bvh.NodesToBytes(b.Nodes)...)
				blasOrder = append(blasOrder, int32sToBytes(b.Order)...)
				triangles = appendTriangles(triangles, b)
				seen[inst.BLAS] = off
			}
		}

		instData = appendInstance(instData, inst, off)
		matData = appendMaterial(matData, materials.QueryMaterial(int32(slot), 0, 0, 0).Clamped())
	}

	lightData := make([]byte, 0, len(lights)*lightBytes)
	for i := range lights {
		lightData = appendLight(lightData, &lights[i])
	}

	// WebGPU refuses zero-sized buffers.
	tlasNodes = padBuffer(tlasNodes, bvh.NodeBytes)
	tlasOrder = padBuffer(tlasOrder, 4)
	blasNodes = padBuffer(blasNodes, bvh.NodeBytes)
	blasOrder = padBuffer(blasOrder, 4)
	triangles = padBuffer(triangles, triangleBytes)
	instData = padBuffer(instData, instanceBytes)
	matData = padBuffer(matData, materialBytes)
	lightData = padBuffer(lightData, lightBytes)

	recreated := false
	for _, up := range []struct {
		name     string
		buf      **wgpu.Buffer
		data     []byte
		headroom int
	}{
		{"TLASNodesBuf", &m.TLASNodesBuf, tlasNodes, HeadroomTables},
		{"TLASOrderBuf", &m.TLASOrderBuf, tlasOrder, HeadroomTables},
		{"BLASNodesBuf", &m.BLASNodesBuf, blasNodes, HeadroomGeometry},
		{"BLASOrderBuf", &m.BLASOrderBuf, blasOrder, HeadroomTables},
		{"TrianglesBuf", &m.TrianglesBuf, triangles, HeadroomGeometry},
		{"InstancesBuf", &m.InstancesBuf, instData, HeadroomTables},
		{"MaterialsBuf", &m.MaterialsBuf, matData, HeadroomTables},
		{"LightsBuf", &m.LightsBuf, lightData, 0},
	} {
		r, err := m.ensureBuffer(up.name, up.buf, up.data, wgpu.BufferUsageStorage, up.headroom)
		if err != nil {
			return recreated, err
		}
		if r {
			recreated = true
		}
	}
	return recreated, nil
}

// UploadGlobals writes the per-dispatch uniform: camera basis, environment
// colors, target size, and trace parameters.
//
// Struct Globals {
//   cam_pos: vec4<f32>;      // xyz, w = tan(fovy/2)       -- 16
//   cam_forward: vec4<f32>;  // xyz, w = aspect            -- 32
//   cam_right: vec4<f32>;    //                            -- 48
//   cam_up: vec4<f32>;       //                            -- 64
//   env_horizon: vec4<f32>;  //                            -- 80
//   env_zenith: vec4<f32>;   //                            -- 96
//   width, height, frame_index, sample_count: u32;         -- 112
//   light_count, max_bounces, instance_count, pad: u32;    -- 128
// }
func (m *Manager) UploadGlobals(cam *core.CameraState, width, height, frameIndex, sampleCount, maxBounces, lightCount, instanceCount uint32, horizon, zenith mgl32.Vec3) error {
	forward := cam.GetForward()
	right := cam.GetRight()
	up := right.Cross(forward)
	tanHalfFov := float32(math.Tan(float64(cam.FovY / 2)))
	aspect := float32(width) / float32(height)

	buf := make([]byte, 0, globalsBytes)
	buf = appendVec4(buf, [4]float32{cam.Position.X(), cam.Position.Y(), cam.Position.Z(), tanHalfFov})
	buf = appendVec4(buf, [4]float32{forward.X(), forward.Y(), forward.Z(), aspect})
	buf = appendVec4(buf, [4]float32{right.X(), right.Y(), right.Z(), 0})
	buf = appendVec4(buf, [4]float32{up.X(), up.Y(), up.Z(), 0})
	buf = appendVec4(buf, [4]float32{horizon.X(), horizon.Y(), horizon.Z(), 0})
	buf = appendVec4(buf, [4]float32{zenith.X(), zenith.Y(), zenith.Z(), 0})
	buf = appendUint32(buf, width, height, frameIndex, sampleCount)
	buf = appendUint32(buf, lightCount, maxBounces, instanceCount, 0)

	if m.GlobalsBuf == nil {
		var err error
		m.GlobalsBuf, err = m.Device.CreateBuffer(&wgpu.BufferDescriptor{
			Label: "GlobalsUB",
			Size:  globalsBytes,
			Usage: wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
		})
		if err != nil {
			return fmt.Errorf("create GlobalsUB: %w", err)
		}
	}
	m.Device.GetQueue().WriteBuffer(m.GlobalsBuf, 0, buf)
	return nil
}

// EnsureTarget sizes the radiance and readback buffers for the render
// target. Returns true when they were (re)created.
func (m *Manager) EnsureTarget(width, height uint32) (bool, error) {
	if width < 1 || height < 1 {
		return false, fmt.Errorf("ensure target: bad size %dx%d", width, height)
	}
	if m.RadianceBuf != nil && m.width == width && m.height == height {
		return false, nil
	}

	if m.RadianceBuf != nil {
		m.RadianceBuf.Release()
	}
	if m.ReadbackBuf != nil {
		m.ReadbackBuf.Release()
	}

	size := uint64(width) * uint64(height) * 16
	var err error
	m.RadianceBuf, err = m.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "RadianceBuf",
		Size:  size,
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc,
	})
	if err != nil {
		return false, fmt.Errorf("create RadianceBuf: %w", err)
	}
	m.ReadbackBuf, err = m.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "RadianceReadback",
		Size:  size,
		Usage: wgpu.BufferUsageCopyDst | wgpu.BufferUsageMapRead,
	})
	if err != nil {
		return false, fmt.Errorf("create RadianceReadback: %w", err)
	}

	m.width = width
	m.height = height
	m.StateMu.Lock()
	m.readbackState = 0
	m.StateMu.Unlock()
	return true, nil
}

// appendInstance packs one 144-byte instance record. Inactive slots get
// zero offsets; the TLAS order never points at them.
func appendInstance(dst []byte, inst *bvh.Instance, off blasOffsets) []byte {
	dst = appendMat4(dst, inst.ObjectToWorld)
	dst = appendMat4(dst, inst.WorldToObject)
	dst = appendUint32(dst, off.nodeBase, off.orderBase, off.triBase, uint32(inst.Material))
	return dst
}

func appendTriangles(dst []byte, b *bvh.BLAS) []byte {
	for t := 0; t < b.TriangleCount(); t++ {
		v0, v1, v2 := b.Triangle(int32(t))
		dst = appendVec4(dst, [4]float32{v0.X(), v0.Y(), v0.Z(), 0})
		dst = appendVec4(dst, [4]float32{v1.X(), v1.Y(), v1.Z(), 0})
		dst = appendVec4(dst, [4]float32{v2.X(), v2.Y(), v2.Z(), 0})
	}
	return dst
}

func appendMaterial(dst []byte, mat core.MaterialSample) []byte {
	dst = appendVec4(dst, [4]float32{mat.Albedo.X(), mat.Albedo.Y(), mat.Albedo.Z(), mat.Metallic})
	dst = appendVec4(dst, [4]float32{mat.Emission.X(), mat.Emission.Y(), mat.Emission.Z(), mat.Roughness})
	dst = appendVec4(dst, [4]float32{mat.IOR, mat.Transparency, 0, 0})
	return dst
}

func appendLight(dst []byte, l *core.Light) []byte {
	dst = appendVec4(dst, l.Position)
	dst = appendVec4(dst, l.Direction)
	dst = appendVec4(dst, l.Color)
	return appendVec4(dst, l.Params)
}

func appendMat4(dst []byte, m mgl32.Mat4) []byte {
	for i := 0; i < 16; i++ {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(m[i]))
	}
	return dst
}

func appendVec4(dst []byte, v [4]float32) []byte {
	for i := 0; i < 4; i++ {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(v[i]))
	}
	return dst
}

func appendUint32(dst []byte, vals ...uint32) []byte {
	for _, v := range vals {
		dst = binary.LittleEndian.AppendUint32(dst, v)
	}
	return dst
}

func int32sToBytes(vals []int32) []byte {
	dst := make([]byte, 0, len(vals)*4)
	for _, v := range vals {
		dst = binary.LittleEndian.AppendUint32(dst, uint32(v))
	}
	return dst
}

func padBuffer(data []byte, stride int) []byte {
	if len(data) == 0 {
		return make([]byte, stride)
	}
	return data
}
