//go:build !nogpu

package native

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gx/gpucore"
	"github.com/gogpu/gx/rootsig"
)

// CompileWGSL compiles WGSL source to SPIR-V words.
func CompileWGSL(source string) ([]uint32, error) {
	spirvBytes, err := naga.Compile(source)
	if err != nil {
		return nil, fmt.Errorf("native: compile shader: %w", err)
	}
	if len(spirvBytes)%4 != 0 {
		return nil, fmt.Errorf("native: SPIR-V length %d is not a multiple of 4", len(spirvBytes))
	}
	words := make([]uint32, len(spirvBytes)/4)
	for i := range words {
		words[i] = uint32(spirvBytes[i*4]) |
			uint32(spirvBytes[i*4+1])<<8 |
			uint32(spirvBytes[i*4+2])<<16 |
			uint32(spirvBytes[i*4+3])<<24
	}
	return words, nil
}

// Binding is one buffer binding of group 0.
type Binding struct {
	Binding   uint32
	RootIndex uint32
	Slot      uint32 // index within the descriptor table; 0 for root views
	Kind      rootsig.ViewKind
}

// BindingLayout assigns bind group 0 bindings to the root parameters of md,
// in root-index order: a root view takes one binding and a descriptor table
// one binding per slot. tableKinds gives the view kind of each table slot;
// slots it leaves out are read-only storage buffers.
func BindingLayout(md *rootsig.Metadata, tableKinds map[uint32][]rootsig.ViewKind) []Binding {
	if md == nil {
		return nil
	}
	var out []Binding
	next := uint32(0)
	for root := range md.NumParameters() {
		if v, ok := md.View(root); ok {
			out = append(out, Binding{Binding: next, RootIndex: root, Kind: v.Kind})
			next++
			continue
		}
		t, ok := md.Table(root)
		if !ok {
			continue
		}
		kinds := tableKinds[root]
		for i := range t.TableCapacity {
			kind := rootsig.ViewSRV
			if int(i) < len(kinds) {
				kind = kinds[i]
			}
			out = append(out, Binding{Binding: next, RootIndex: root, Slot: i, Kind: kind})
			next++
		}
	}
	return out
}

func bufferBindingType(k rootsig.ViewKind) gputypes.BufferBindingType {
	switch k {
	case rootsig.ViewCBV:
		return gputypes.BufferBindingTypeUniform
	case rootsig.ViewUAV:
		return gputypes.BufferBindingTypeStorage
	default:
		return gputypes.BufferBindingTypeReadOnlyStorage
	}
}

// ComputePipelineDesc describes a compute pipeline.
type ComputePipelineDesc struct {
	Label string

	// WGSL is the shader source. If Precompile is set it is compiled to
	// SPIR-V with naga before reaching the HAL.
	WGSL       string
	Precompile bool
	EntryPoint string

	RootSignature *rootsig.Metadata
	TableKinds    map[uint32][]rootsig.ViewKind
}

// RenderPipelineDesc describes a render pipeline. Create builds the HAL
// pipeline against the pipeline layout derived from the root signature.
type RenderPipelineDesc struct {
	Label         string
	RootSignature *rootsig.Metadata
	TableKinds    map[uint32][]rootsig.ViewKind
	Create        func(layout hal.PipelineLayout) (hal.RenderPipeline, error)
}

// PipelineState is a HAL pipeline with the layout its root signature maps
// to. It implements gpucore.PipelineState.
type PipelineState struct {
	dev      *Device
	label    string
	kind     gpucore.PipelineKind
	md       *rootsig.Metadata
	bindings []Binding

	shader      hal.ShaderModule
	groupLayout hal.BindGroupLayout
	pipeLayout  hal.PipelineLayout
	compute     hal.ComputePipeline
	render      hal.RenderPipeline
}

var _ gpucore.PipelineState = (*PipelineState)(nil)

// Label implements gpucore.PipelineState.
func (p *PipelineState) Label() string { return p.label }

// Kind implements gpucore.PipelineState.
func (p *PipelineState) Kind() gpucore.PipelineKind { return p.kind }

// RootSignature implements gpucore.PipelineState.
func (p *PipelineState) RootSignature() *rootsig.Metadata { return p.md }

// Bindings returns the group 0 layout.
func (p *PipelineState) Bindings() []Binding { return p.bindings }

// NewComputePipeline compiles and creates a compute pipeline.
func (d *Device) NewComputePipeline(desc ComputePipelineDesc) (*PipelineState, error) {
	if desc.RootSignature != nil {
		if err := desc.RootSignature.Validate(); err != nil {
			return nil, err
		}
	}
	entry := desc.EntryPoint
	if entry == "" {
		entry = "main"
	}

	src := hal.ShaderSource{WGSL: desc.WGSL}
	if desc.Precompile {
		words, err := CompileWGSL(desc.WGSL)
		if err != nil {
			return nil, err
		}
		src = hal.ShaderSource{SPIRV: words}
	}

	p := &PipelineState{dev: d, label: desc.Label, kind: gpucore.PipelineCompute, md: desc.RootSignature}
	shader, err := d.hal.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  desc.Label + "_shader",
		Source: src,
	})
	if err != nil {
		return nil, gpucore.WrapBackend("create shader module", err)
	}
	p.shader = shader

	if err := p.createLayouts(desc.TableKinds, true); err != nil {
		p.Destroy()
		return nil, err
	}

	pipe, err := d.hal.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  desc.Label,
		Layout: p.pipeLayout,
		Compute: hal.ComputeState{
			Module:     shader,
			EntryPoint: entry,
		},
	})
	if err != nil {
		p.Destroy()
		return nil, gpucore.WrapBackend("create compute pipeline", err)
	}
	p.compute = pipe
	slogger().Debug("native: compute pipeline created", "label", desc.Label, "bindings", len(p.bindings))
	return p, nil
}

// NewRenderPipeline creates a render pipeline through desc.Create.
func (d *Device) NewRenderPipeline(desc RenderPipelineDesc) (*PipelineState, error) {
	if desc.Create == nil {
		return nil, errors.New("native: render pipeline needs a Create function")
	}
	if desc.RootSignature != nil {
		if err := desc.RootSignature.Validate(); err != nil {
			return nil, err
		}
	}
	p := &PipelineState{dev: d, label: desc.Label, kind: gpucore.PipelineGraphics, md: desc.RootSignature}
	if err := p.createLayouts(desc.TableKinds, false); err != nil {
		p.Destroy()
		return nil, err
	}
	pipe, err := desc.Create(p.pipeLayout)
	if err != nil {
		p.Destroy()
		return nil, fmt.Errorf("native: create render pipeline %q: %w", desc.Label, err)
	}
	if pipe == nil {
		p.Destroy()
		return nil, fmt.Errorf("native: render pipeline %q: Create returned nil", desc.Label)
	}
	p.render = pipe
	return p, nil
}

func (p *PipelineState) createLayouts(tableKinds map[uint32][]rootsig.ViewKind, compute bool) error {
	p.bindings = BindingLayout(p.md, tableKinds)
	stages := gputypes.ShaderStageCompute
	if !compute {
		stages = gputypes.ShaderStageVertex | gputypes.ShaderStageFragment
	}
	entries := make([]gputypes.BindGroupLayoutEntry, len(p.bindings))
	for i, b := range p.bindings {
		entries[i] = gputypes.BindGroupLayoutEntry{
			Binding:    b.Binding,
			Visibility: stages,
			Buffer:     &gputypes.BufferBindingLayout{Type: bufferBindingType(b.Kind)},
		}
	}
	layout, err := p.dev.hal.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   p.label + "_group0",
		Entries: entries,
	})
	if err != nil {
		return gpucore.WrapBackend("create bind group layout", err)
	}
	p.groupLayout = layout

	pipeLayout, err := p.dev.hal.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            p.label + "_layout",
		BindGroupLayouts: []hal.BindGroupLayout{layout},
	})
	if err != nil {
		return gpucore.WrapBackend("create pipeline layout", err)
	}
	p.pipeLayout = pipeLayout
	return nil
}

// Destroy frees the HAL objects in reverse creation order.
func (p *PipelineState) Destroy() {
	d := p.dev.hal
	if p.compute != nil {
		d.DestroyComputePipeline(p.compute)
		p.compute = nil
	}
	if p.render != nil {
		d.DestroyRenderPipeline(p.render)
		p.render = nil
	}
	if p.pipeLayout != nil {
		d.DestroyPipelineLayout(p.pipeLayout)
		p.pipeLayout = nil
	}
	if p.groupLayout != nil {
		d.DestroyBindGroupLayout(p.groupLayout)
		p.groupLayout = nil
	}
	if p.shader != nil {
		d.DestroyShaderModule(p.shader)
		p.shader = nil
	}
}
