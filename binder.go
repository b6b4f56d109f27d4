package gx

import "github.com/gogpu/gx/gpucore"

// binder routes root bindings to the compute or graphics entry points of a
// command list.
type binder interface {
	kind() gpucore.PipelineKind
	setRootCBV(l gpucore.CommandList, root uint32, addr gpucore.GPUAddress)
	setRootSRV(l gpucore.CommandList, root uint32, addr gpucore.GPUAddress)
	setRootUAV(l gpucore.CommandList, root uint32, addr gpucore.GPUAddress)
	setRootTable(l gpucore.CommandList, root uint32, base gpucore.GPUHandle)
}

type computeBinder struct{}

func (computeBinder) kind() gpucore.PipelineKind { return gpucore.PipelineCompute }

func (computeBinder) setRootCBV(l gpucore.CommandList, root uint32, addr gpucore.GPUAddress) {
	l.SetComputeRootConstantBufferView(root, addr)
}

func (computeBinder) setRootSRV(l gpucore.CommandList, root uint32, addr gpucore.GPUAddress) {
	l.SetComputeRootShaderResourceView(root, addr)
}

func (computeBinder) setRootUAV(l gpucore.CommandList, root uint32, addr gpucore.GPUAddress) {
	l.SetComputeRootUnorderedAccessView(root, addr)
}

func (computeBinder) setRootTable(l gpucore.CommandList, root uint32, base gpucore.GPUHandle) {
	l.SetComputeRootDescriptorTable(root, base)
}

type graphicsBinder struct{}

func (graphicsBinder) kind() gpucore.PipelineKind { return gpucore.PipelineGraphics }

func (graphicsBinder) setRootCBV(l gpucore.CommandList, root uint32, addr gpucore.GPUAddress) {
	l.SetGraphicsRootConstantBufferView(root, addr)
}

func (graphicsBinder) setRootSRV(l gpucore.CommandList, root uint32, addr gpucore.GPUAddress) {
	l.SetGraphicsRootShaderResourceView(root, addr)
}

func (graphicsBinder) setRootUAV(l gpucore.CommandList, root uint32, addr gpucore.GPUAddress) {
	l.SetGraphicsRootUnorderedAccessView(root, addr)
}

func (graphicsBinder) setRootTable(l gpucore.CommandList, root uint32, base gpucore.GPUHandle) {
	l.SetGraphicsRootDescriptorTable(root, base)
}
