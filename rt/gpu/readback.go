package gpu

import (
	"encoding/binary"
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/cogentcore/webgpu/wgpu"
)

// PollReadback advances the readback state machine and returns the most
// recently completed radiance image, or nil when none has landed yet. The
// returned slice is reused between calls; consume it before the next poll.
//
// States: idle -> copied (Dispatch issued the copy) -> mapping (MapAsync in
// flight) -> mapped (unpack here, back to idle). A frame that finds the
// machine mid-flight simply keeps compositing the previous image.
func (m *Manager) PollReadback() ([]mgl32.Vec3, uint32, uint32) {
	if m.ReadbackBuf == nil {
		return nil, 0, 0
	}

	m.StateMu.Lock()
	if m.readbackState == 1 {
		m.readbackState = 2
		m.ReadbackBuf.MapAsync(wgpu.MapModeRead, 0, m.ReadbackBuf.GetSize(), func(status wgpu.BufferMapAsyncStatus) {
			m.StateMu.Lock()
			defer m.StateMu.Unlock()
			if status == wgpu.BufferMapAsyncStatusSuccess {
				m.readbackState = 3
			} else {
				m.readbackState = 0
			}
		})
	}
	m.StateMu.Unlock()

	m.Device.Poll(false, nil)

	m.StateMu.Lock()
	defer m.StateMu.Unlock()
	if m.readbackState == 3 {
		size := m.ReadbackBuf.GetSize()
		data := m.ReadbackBuf.GetMappedRange(0, uint(size))

		n := int(m.width) * int(m.height)
		if len(m.lastRadiance) != n {
			m.lastRadiance = make([]mgl32.Vec3, n)
		}
		m.lastW, m.lastH = m.width, m.height

		for i := 0; i < n; i++ {
			o := i * 16
			if o+12 > len(data) {
				break
			}
			m.lastRadiance[i] = mgl32.Vec3{
				math.Float32frombits(binary.LittleEndian.Uint32(data[o : o+4])),
				math.Float32frombits(binary.LittleEndian.Uint32(data[o+4 : o+8])),
				math.Float32frombits(binary.LittleEndian.Uint32(data[o+8 : o+12])),
			}
		}

		m.ReadbackBuf.Unmap()
		m.readbackState = 0
	}

	if len(m.lastRadiance) == 0 {
		return nil, 0, 0
	}
	return m.lastRadiance, m.lastW, m.lastH
}
