package gpucore

import "context"

// CommandAllocator owns the memory command lists record into.
type CommandAllocator interface {
	// Reset reclaims all memory. The caller guarantees that the GPU has
	// finished every list recorded into the allocator.
	Reset() error
}

// CommandList records GPU commands.
//
// A list is either recording or closed. Reset opens it against an
// allocator; Close ends recording and makes it submittable. Recording
// methods do not return errors; backends defer failures to Close.
type CommandList interface {
	// Reset starts recording into alloc.
	Reset(alloc CommandAllocator, label string) error

	// Close ends recording.
	Close() error

	// ResourceBarrier records all barriers as one batch.
	ResourceBarrier(barriers []Barrier)

	SetDescriptorHeaps(heaps ...DescriptorHeap)

	// SetPipelineState binds the pipeline and its root signature.
	SetPipelineState(pso PipelineState)

	SetComputeRootConstantBufferView(root uint32, addr GPUAddress)
	SetComputeRootShaderResourceView(root uint32, addr GPUAddress)
	SetComputeRootUnorderedAccessView(root uint32, addr GPUAddress)
	SetComputeRootDescriptorTable(root uint32, base GPUHandle)

	SetGraphicsRootConstantBufferView(root uint32, addr GPUAddress)
	SetGraphicsRootShaderResourceView(root uint32, addr GPUAddress)
	SetGraphicsRootUnorderedAccessView(root uint32, addr GPUAddress)
	SetGraphicsRootDescriptorTable(root uint32, base GPUHandle)

	Dispatch(x, y, z uint32)

	// SetRenderTargets binds color targets and an optional depth target.
	SetRenderTargets(targets []Resource, depth Resource)
	ClearRenderTarget(target Resource, color [4]float32)
	ClearDepthStencil(depth Resource, value float32, stencil uint8)
	SetViewports(viewports ...Viewport)
	SetScissorRects(rects ...Rect)
	SetVertexBuffers(start uint32, views ...VertexBufferView)
	SetIndexBuffer(view IndexBufferView)
	DrawInstanced(vertexCount, instanceCount, startVertex, startInstance uint32)
	DrawIndexedInstanced(indexCount, instanceCount, startIndex uint32, baseVertex int32, startInstance uint32)
}

// Queue executes closed command lists in order.
type Queue interface {
	Type() WorkType

	// Submit executes list and signals fence once the GPU is done with it.
	// Fence values passed to one queue must increase strictly.
	Submit(list CommandList, fence uint64) error

	// Completed returns the highest fence value the GPU has signaled.
	Completed() uint64

	// Wait blocks until fence has been signaled or ctx is done.
	Wait(ctx context.Context, fence uint64) error
}

// Device creates and destroys native objects.
type Device interface {
	CreateCommandAllocator(t WorkType) (CommandAllocator, error)

	// CreateCommandList returns a closed list bound to no allocator.
	CreateCommandList(t WorkType) (CommandList, error)

	CreateQueue(t WorkType) (Queue, error)
	CreateDescriptorHeap(desc DescriptorHeapDesc) (DescriptorHeap, error)
	CreateUploadPage(size uint64) (UploadPage, error)

	// CreateConstantBufferView writes a constant-buffer descriptor at dst.
	CreateConstantBufferView(desc ConstantBufferViewDesc, dst CPUHandle)

	// CopyDescriptorsSimple copies n consecutive descriptors of type t.
	CopyDescriptorsSimple(n uint32, dst, src CPUHandle, t DescriptorHeapType)

	DestroyCommandAllocator(alloc CommandAllocator)
	DestroyCommandList(list CommandList)
	DestroyQueue(q Queue)
	DestroyDescriptorHeap(heap DescriptorHeap)
	DestroyUploadPage(page UploadPage)
}
