package gpucore

import "github.com/gogpu/gx/rootsig"

// PipelineKind tells which root entry points a pipeline state binds through.
type PipelineKind uint8

// Pipeline kinds.
const (
	PipelineCompute PipelineKind = iota
	PipelineGraphics
)

// String implements fmt.Stringer.
func (k PipelineKind) String() string {
	if k == PipelineGraphics {
		return "graphics"
	}
	return "compute"
}

// PipelineState is a compiled pipeline together with the root signature it
// was built against. Pipeline states are created by backend-specific
// builders and are immutable.
type PipelineState interface {
	Label() string
	Kind() PipelineKind

	// RootSignature returns the binding layout. The returned metadata must
	// not be modified.
	RootSignature() *rootsig.Metadata
}
