package helio

import (
	"github.com/cogentcore/webgpu/wgpu"
)

// Backend names a ray dispatch path. The set is closed: frame code switches
// on it explicitly rather than going through an interface, so every path is
// visible at the dispatch site.
type Backend int

const (
	BackendSoftware Backend = iota
	BackendHardware
)

func (b Backend) String() string {
	if b == BackendHardware {
		return "hardware"
	}
	return "software"
}

// Capabilities is what the host's device layer reports about the GPU.
// HasDenoiser refers to a vendor denoiser the host may substitute through
// Config.Denoiser; it does not gate the built-in one.
type Capabilities struct {
	HasRayQuery           bool
	HasRayTracingPipeline bool
	HasDenoiser           bool
}

// selectBackend decides the dispatch path for the session. Hardware needs a
// live device and ray-query support; anything less runs the software
// engine with identical shading semantics.
func selectBackend(caps Capabilities, device *wgpu.Device) Backend {
	if device != nil && caps.HasRayQuery {
		return BackendHardware
	}
	return BackendSoftware
}
