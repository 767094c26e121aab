package shaders

import (
	_ "embed"
)

//go:embed pathtrace.wgsl
var PathtraceWGSL string

//go:embed tonemap.wgsl
var TonemapWGSL string

//go:embed bloom.wgsl
var BloomWGSL string

//go:embed fullscreen.wgsl
var FullscreenWGSL string
