package gpu

import (
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
)

// CreatePipeline compiles the path trace kernel. Failures here are fatal
// for the hardware backend; the dispatch layer pins software until re-Init.
func (m *Manager) CreatePipeline(shaderCode string) error {
	module, err := m.Device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label: "PathTraceShader",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{
			Code: shaderCode,
		},
	})
	if err != nil {
		return fmt.Errorf("create path trace shader module: %w", err)
	}
	defer module.Release()

	m.Pipeline, err = m.Device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label: "PathTracePipeline",
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     module,
			EntryPoint: "main",
		},
	})
	if err != nil {
		return fmt.Errorf("create path trace pipeline: %w", err)
	}
	return nil
}

// CreateBindGroups rebinds the current buffers. Call after any upload that
// reported a recreation and after EnsureTarget resizes.
func (m *Manager) CreateBindGroups() error {
	if m.Pipeline == nil {
		return fmt.Errorf("bind groups: pipeline not created")
	}
	if m.GlobalsBuf == nil || m.RadianceBuf == nil {
		return fmt.Errorf("bind groups: globals or target missing")
	}

	var err error
	m.BindGroup0, err = m.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Layout: m.Pipeline.GetBindGroupLayout(0),
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: m.GlobalsBuf, Size: wgpu.WholeSize},
			{Binding: 1, Buffer: m.RadianceBuf, Size: wgpu.WholeSize},
		},
	})
	if err != nil {
		return fmt.Errorf("create bind group 0: %w", err)
	}

	m.BindGroup1, err = m.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Layout: m.Pipeline.GetBindGroupLayout(1),
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: m.TLASNodesBuf, Size: wgpu.WholeSize},
			{Binding: 1, Buffer: m.TLASOrderBuf, Size: wgpu.WholeSize},
			{Binding: 2, Buffer: m.BLASNodesBuf, Size: wgpu.WholeSize},
			{Binding: 3, Buffer: m.BLASOrderBuf, Size: wgpu.WholeSize},
			{Binding: 4, Buffer: m.TrianglesBuf, Size: wgpu.WholeSize},
			{Binding: 5, Buffer: m.InstancesBuf, Size: wgpu.WholeSize},
			{Binding: 6, Buffer: m.MaterialsBuf, Size: wgpu.WholeSize},
			{Binding: 7, Buffer: m.LightsBuf, Size: wgpu.WholeSize},
		},
	})
	if err != nil {
		return fmt.Errorf("create bind group 1: %w", err)
	}
	return nil
}

// Dispatch encodes one full-target trace with 8x8 workgroups and submits
// it. When the readback buffer is idle, the fresh radiance is also copied
// out and the state machine advances; otherwise the copy is skipped and the
// frame composites the last completed readback.
func (m *Manager) Dispatch() error {
	if m.Pipeline == nil || m.BindGroup0 == nil || m.BindGroup1 == nil {
		return fmt.Errorf("dispatch: pipeline or bind groups missing")
	}

	encoder, err := m.Device.CreateCommandEncoder(nil)
	if err != nil {
		return fmt.Errorf("dispatch: create encoder: %w", err)
	}

	pass := encoder.BeginComputePass(nil)
	pass.SetPipeline(m.Pipeline)
	pass.SetBindGroup(0, m.BindGroup0, nil)
	pass.SetBindGroup(1, m.BindGroup1, nil)
	pass.DispatchWorkgroups((m.width+7)/8, (m.height+7)/8, 1)
	pass.End()

	m.StateMu.Lock()
	idle := m.readbackState == 0
	if idle {
		m.readbackState = 1
	}
	m.StateMu.Unlock()
	if idle {
		size := uint64(m.width) * uint64(m.height) * 16
		encoder.CopyBufferToBuffer(m.RadianceBuf, 0, m.ReadbackBuf, 0, size)
	}

	cmdBuf, err := encoder.Finish(nil)
	if err != nil {
		if idle {
			m.StateMu.Lock()
			m.readbackState = 0
			m.StateMu.Unlock()
		}
		return fmt.Errorf("dispatch: finish encoder: %w", err)
	}
	m.Device.GetQueue().Submit(cmdBuf)
	return nil
}
