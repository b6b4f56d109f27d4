package trace

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/gogpu/gx/gpucore"
)

// Allocator is a command allocator that tracks the lists recording into it
// and the fences they were submitted with.
type Allocator struct {
	workType gpucore.WorkType

	mu      sync.Mutex
	open    int
	pending []inflight
	resets  int
}

type inflight struct {
	q     *Queue
	fence uint64
}

// Reset implements gpucore.CommandAllocator. It fails while a list is
// recording into the allocator, and with gpucore.ErrInFlight while a
// submitted list has not been retired.
func (a *Allocator) Reset() error {
	a.mu.Lock()
	if a.open > 0 {
		a.mu.Unlock()
		return errors.New("trace: allocator reset while a list is recording")
	}
	pending := slices.Clone(a.pending)
	a.mu.Unlock()

	for _, p := range pending {
		if p.q.Completed() < p.fence {
			return fmt.Errorf("trace: allocator reset before fence %d: %w", p.fence, gpucore.ErrInFlight)
		}
	}

	a.mu.Lock()
	a.pending = a.pending[:0]
	a.resets++
	a.mu.Unlock()
	return nil
}

// Resets returns the number of successful resets.
func (a *Allocator) Resets() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.resets
}

func (a *Allocator) track(q *Queue, fence uint64) {
	a.mu.Lock()
	a.pending = append(a.pending, inflight{q: q, fence: fence})
	a.mu.Unlock()
}

// CommandList records Command values.
type CommandList struct {
	id        int
	workType  gpucore.WorkType
	label     string
	alloc     *Allocator
	recording bool
	commands  []Command
}

var _ gpucore.CommandList = (*CommandList)(nil)

// ID returns a device-unique list number.
func (l *CommandList) ID() int { return l.id }

// Label returns the label given to the last Reset.
func (l *CommandList) Label() string { return l.label }

// Commands returns the commands recorded since the last Reset.
func (l *CommandList) Commands() []Command { return slices.Clone(l.commands) }

// Recording reports whether the list is open.
func (l *CommandList) Recording() bool { return l.recording }

// Reset implements gpucore.CommandList.
func (l *CommandList) Reset(alloc gpucore.CommandAllocator, label string) error {
	a, ok := alloc.(*Allocator)
	if !ok {
		return fmt.Errorf("trace: foreign allocator %T", alloc)
	}
	if l.recording {
		return errors.New("trace: reset of a recording list")
	}
	if a.workType != l.workType {
		return fmt.Errorf("trace: %s allocator for %s list", a.workType, l.workType)
	}
	a.mu.Lock()
	a.open++
	a.mu.Unlock()
	l.alloc = a
	l.label = label
	l.commands = nil
	l.recording = true
	return nil
}

// Close implements gpucore.CommandList.
func (l *CommandList) Close() error {
	if !l.recording {
		return errors.New("trace: close of a closed list")
	}
	l.recording = false
	l.alloc.mu.Lock()
	l.alloc.open--
	l.alloc.mu.Unlock()
	return nil
}

func (l *CommandList) record(c Command) {
	if !l.recording {
		panic(fmt.Errorf("trace: %s: %w", c.Type(), gpucore.ErrNotRecording))
	}
	l.commands = append(l.commands, c)
}

// ResourceBarrier implements gpucore.CommandList.
func (l *CommandList) ResourceBarrier(barriers []gpucore.Barrier) {
	l.record(BarrierCommand{Barriers: slices.Clone(barriers)})
}

// SetDescriptorHeaps implements gpucore.CommandList.
func (l *CommandList) SetDescriptorHeaps(heaps ...gpucore.DescriptorHeap) {
	l.record(SetDescriptorHeapsCommand{Heaps: slices.Clone(heaps)})
}

// SetPipelineState implements gpucore.CommandList.
func (l *CommandList) SetPipelineState(pso gpucore.PipelineState) {
	l.record(SetPipelineStateCommand{PSO: pso})
}

// SetComputeRootConstantBufferView implements gpucore.CommandList.
func (l *CommandList) SetComputeRootConstantBufferView(root uint32, addr gpucore.GPUAddress) {
	l.record(SetRootViewCommand{Bind: BindCompute, Kind: ViewCBV, Root: root, Address: addr})
}

// SetComputeRootShaderResourceView implements gpucore.CommandList.
func (l *CommandList) SetComputeRootShaderResourceView(root uint32, addr gpucore.GPUAddress) {
	l.record(SetRootViewCommand{Bind: BindCompute, Kind: ViewSRV, Root: root, Address: addr})
}

// SetComputeRootUnorderedAccessView implements gpucore.CommandList.
func (l *CommandList) SetComputeRootUnorderedAccessView(root uint32, addr gpucore.GPUAddress) {
	l.record(SetRootViewCommand{Bind: BindCompute, Kind: ViewUAV, Root: root, Address: addr})
}

// SetComputeRootDescriptorTable implements gpucore.CommandList.
func (l *CommandList) SetComputeRootDescriptorTable(root uint32, base gpucore.GPUHandle) {
	l.record(SetRootTableCommand{Bind: BindCompute, Root: root, Base: base})
}

// SetGraphicsRootConstantBufferView implements gpucore.CommandList.
func (l *CommandList) SetGraphicsRootConstantBufferView(root uint32, addr gpucore.GPUAddress) {
	l.record(SetRootViewCommand{Bind: BindGraphics, Kind: ViewCBV, Root: root, Address: addr})
}

// SetGraphicsRootShaderResourceView implements gpucore.CommandList.
func (l *CommandList) SetGraphicsRootShaderResourceView(root uint32, addr gpucore.GPUAddress) {
	l.record(SetRootViewCommand{Bind: BindGraphics, Kind: ViewSRV, Root: root, Address: addr})
}

// SetGraphicsRootUnorderedAccessView implements gpucore.CommandList.
func (l *CommandList) SetGraphicsRootUnorderedAccessView(root uint32, addr gpucore.GPUAddress) {
	l.record(SetRootViewCommand{Bind: BindGraphics, Kind: ViewUAV, Root: root, Address: addr})
}

// SetGraphicsRootDescriptorTable implements gpucore.CommandList.
func (l *CommandList) SetGraphicsRootDescriptorTable(root uint32, base gpucore.GPUHandle) {
	l.record(SetRootTableCommand{Bind: BindGraphics, Root: root, Base: base})
}

// Dispatch implements gpucore.CommandList.
func (l *CommandList) Dispatch(x, y, z uint32) {
	l.record(DispatchCommand{X: x, Y: y, Z: z})
}

// SetRenderTargets implements gpucore.CommandList.
func (l *CommandList) SetRenderTargets(targets []gpucore.Resource, depth gpucore.Resource) {
	l.record(SetRenderTargetsCommand{Targets: slices.Clone(targets), Depth: depth})
}

// ClearRenderTarget implements gpucore.CommandList.
func (l *CommandList) ClearRenderTarget(target gpucore.Resource, color [4]float32) {
	l.record(ClearRenderTargetCommand{Target: target, Color: color})
}

// ClearDepthStencil implements gpucore.CommandList.
func (l *CommandList) ClearDepthStencil(depth gpucore.Resource, value float32, stencil uint8) {
	l.record(ClearDepthStencilCommand{Depth: depth, Value: value, Stencil: stencil})
}

// SetViewports implements gpucore.CommandList.
func (l *CommandList) SetViewports(viewports ...gpucore.Viewport) {
	l.record(SetViewportsCommand{Viewports: slices.Clone(viewports)})
}

// SetScissorRects implements gpucore.CommandList.
func (l *CommandList) SetScissorRects(rects ...gpucore.Rect) {
	l.record(SetScissorRectsCommand{Rects: slices.Clone(rects)})
}

// SetVertexBuffers implements gpucore.CommandList.
func (l *CommandList) SetVertexBuffers(start uint32, views ...gpucore.VertexBufferView) {
	l.record(SetVertexBuffersCommand{Start: start, Views: slices.Clone(views)})
}

// SetIndexBuffer implements gpucore.CommandList.
func (l *CommandList) SetIndexBuffer(view gpucore.IndexBufferView) {
	l.record(SetIndexBufferCommand{View: view})
}

// DrawInstanced implements gpucore.CommandList.
func (l *CommandList) DrawInstanced(vertexCount, instanceCount, startVertex, startInstance uint32) {
	l.record(DrawInstancedCommand{
		VertexCount:   vertexCount,
		InstanceCount: instanceCount,
		StartVertex:   startVertex,
		StartInstance: startInstance,
	})
}

// DrawIndexedInstanced implements gpucore.CommandList.
func (l *CommandList) DrawIndexedInstanced(indexCount, instanceCount, startIndex uint32, baseVertex int32, startInstance uint32) {
	l.record(DrawIndexedInstancedCommand{
		IndexCount:    indexCount,
		InstanceCount: instanceCount,
		StartIndex:    startIndex,
		BaseVertex:    baseVertex,
		StartInstance: startInstance,
	})
}
