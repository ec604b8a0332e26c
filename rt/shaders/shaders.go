package shaders

import (
	_ "embed"
)

//go:embed pathtrace.wgsl
var PathTraceWGSL string
