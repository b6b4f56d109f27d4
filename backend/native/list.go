//go:build !nogpu

package native

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gx/gpucore"
)

// Allocator owns a HAL command encoder plus the command buffers and
// transient bind groups encoded through it. Reset frees them.
type Allocator struct {
	dev      *Device
	workType gpucore.WorkType
	enc      hal.CommandEncoder

	mu       sync.Mutex
	open     bool
	pending  []inflight
	cmdBufs  []hal.CommandBuffer
	groups   []hal.BindGroup
	resets   int
	released bool
}

type inflight struct {
	q     *Queue
	fence uint64
}

// Reset implements gpucore.CommandAllocator. It fails with
// gpucore.ErrInFlight while a list encoded through the allocator has not
// finished on the GPU.
func (a *Allocator) Reset() error {
	a.mu.Lock()
	if a.open {
		a.mu.Unlock()
		return errors.New("native: allocator reset while a list is recording")
	}
	pending := slices.Clone(a.pending)
	a.mu.Unlock()

	for _, p := range pending {
		if p.q.Completed() < p.fence {
			return fmt.Errorf("native: allocator reset before fence %d: %w", p.fence, gpucore.ErrInFlight)
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.freeLocked()
	a.pending = a.pending[:0]
	a.resets++
	return nil
}

// Resets returns the number of successful resets.
func (a *Allocator) Resets() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.resets
}

func (a *Allocator) freeLocked() {
	for _, cb := range a.cmdBufs {
		a.dev.hal.FreeCommandBuffer(cb)
	}
	for _, bg := range a.groups {
		a.dev.hal.DestroyBindGroup(bg)
	}
	a.cmdBufs = a.cmdBufs[:0]
	a.groups = a.groups[:0]
}

func (a *Allocator) release() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.released {
		return
	}
	a.released = true
	a.freeLocked()
}

func (a *Allocator) begin() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.released {
		return errors.New("native: allocator destroyed")
	}
	if a.open {
		return errors.New("native: allocator already has a recording list")
	}
	a.open = true
	return nil
}

func (a *Allocator) end(cb hal.CommandBuffer, groups []hal.BindGroup) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.open = false
	if cb != nil {
		a.cmdBufs = append(a.cmdBufs, cb)
	}
	a.groups = append(a.groups, groups...)
}

func (a *Allocator) track(q *Queue, fence uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending = append(a.pending, inflight{q: q, fence: fence})
}

// CommandList records commands as closures and encodes them into a HAL
// command buffer on Close.
type CommandList struct {
	dev      *Device
	workType gpucore.WorkType

	label     string
	alloc     *Allocator
	recording bool
	ops       []func(*encoder) error
	cmdBuf    hal.CommandBuffer
}

var _ gpucore.CommandList = (*CommandList)(nil)

// Label returns the label of the current recording.
func (l *CommandList) Label() string { return l.label }

// Reset implements gpucore.CommandList.
func (l *CommandList) Reset(alloc gpucore.CommandAllocator, label string) error {
	a, ok := alloc.(*Allocator)
	if !ok {
		return fmt.Errorf("native: foreign allocator %T", alloc)
	}
	if a.workType != l.workType {
		return fmt.Errorf("native: %s allocator for %s list", a.workType, l.workType)
	}
	if l.recording {
		return errors.New("native: reset of a recording list")
	}
	if err := a.begin(); err != nil {
		return err
	}
	l.alloc = a
	l.label = label
	l.recording = true
	l.ops = l.ops[:0]
	l.cmdBuf = nil
	return nil
}

// Close implements gpucore.CommandList. It encodes the recorded commands;
// the first encoding error discards the buffer and is returned.
func (l *CommandList) Close() error {
	if !l.recording {
		return errors.New("native: close of a closed list")
	}
	l.recording = false

	e := &encoder{dev: l.dev, label: l.label}
	cb, err := e.run(l.alloc.enc, l.ops)
	l.alloc.end(cb, e.groups)
	l.ops = l.ops[:0]
	if err != nil {
		return fmt.Errorf("native: encode %q: %w", l.label, err)
	}
	l.cmdBuf = cb
	return nil
}

func (l *CommandList) record(op func(*encoder) error) {
	if !l.recording {
		panic(fmt.Errorf("native: record into closed list %q: %w", l.label, gpucore.ErrNotRecording))
	}
	l.ops = append(l.ops, op)
}

// ResourceBarrier implements gpucore.CommandList.
func (l *CommandList) ResourceBarrier(barriers []gpucore.Barrier) {
	b := slices.Clone(barriers)
	l.record(func(e *encoder) error { return e.barrier(b) })
}

// SetDescriptorHeaps implements gpucore.CommandList. Heaps are host memory,
// so there is nothing to bind.
func (l *CommandList) SetDescriptorHeaps(...gpucore.DescriptorHeap) {
	l.record(func(*encoder) error { return nil })
}

// SetPipelineState implements gpucore.CommandList.
func (l *CommandList) SetPipelineState(pso gpucore.PipelineState) {
	l.record(func(e *encoder) error { return e.setPipeline(pso) })
}

// SetComputeRootConstantBufferView implements gpucore.CommandList.
func (l *CommandList) SetComputeRootConstantBufferView(root uint32, addr gpucore.GPUAddress) {
	l.record(func(e *encoder) error { e.compute.setView(root, addr); return nil })
}

// SetComputeRootShaderResourceView implements gpucore.CommandList.
func (l *CommandList) SetComputeRootShaderResourceView(root uint32, addr gpucore.GPUAddress) {
	l.record(func(e *encoder) error { e.compute.setView(root, addr); return nil })
}

// SetComputeRootUnorderedAccessView implements gpucore.CommandList.
func (l *CommandList) SetComputeRootUnorderedAccessView(root uint32, addr gpucore.GPUAddress) {
	l.record(func(e *encoder) error { e.compute.setView(root, addr); return nil })
}

// SetComputeRootDescriptorTable implements gpucore.CommandList.
func (l *CommandList) SetComputeRootDescriptorTable(root uint32, base gpucore.GPUHandle) {
	l.record(func(e *encoder) error { e.compute.setTable(root, base); return nil })
}

// SetGraphicsRootConstantBufferView implements gpucore.CommandList.
func (l *CommandList) SetGraphicsRootConstantBufferView(root uint32, addr gpucore.GPUAddress) {
	l.record(func(e *encoder) error { e.graphics.setView(root, addr); return nil })
}

// SetGraphicsRootShaderResourceView implements gpucore.CommandList.
func (l *CommandList) SetGraphicsRootShaderResourceView(root uint32, addr gpucore.GPUAddress) {
	l.record(func(e *encoder) error { e.graphics.setView(root, addr); return nil })
}

// SetGraphicsRootUnorderedAccessView implements gpucore.CommandList.
func (l *CommandList) SetGraphicsRootUnorderedAccessView(root uint32, addr gpucore.GPUAddress) {
	l.record(func(e *encoder) error { e.graphics.setView(root, addr); return nil })
}

// SetGraphicsRootDescriptorTable implements gpucore.CommandList.
func (l *CommandList) SetGraphicsRootDescriptorTable(root uint32, base gpucore.GPUHandle) {
	l.record(func(e *encoder) error { e.graphics.setTable(root, base); return nil })
}

// Dispatch implements gpucore.CommandList.
func (l *CommandList) Dispatch(x, y, z uint32) {
	l.record(func(e *encoder) error { return e.dispatch(x, y, z) })
}

// SetRenderTargets implements gpucore.CommandList. Targets must be
// *Texture values.
func (l *CommandList) SetRenderTargets(targets []gpucore.Resource, depth gpucore.Resource) {
	t := slices.Clone(targets)
	l.record(func(e *encoder) error { return e.setRenderTargets(t, depth) })
}

// ClearRenderTarget implements gpucore.CommandList.
func (l *CommandList) ClearRenderTarget(target gpucore.Resource, color [4]float32) {
	l.record(func(e *encoder) error { return e.clearColor(target, color) })
}

// ClearDepthStencil implements gpucore.CommandList.
func (l *CommandList) ClearDepthStencil(depth gpucore.Resource, value float32, stencil uint8) {
	l.record(func(e *encoder) error { return e.clearDepth(depth, value, stencil) })
}

// SetViewports implements gpucore.CommandList. The HAL has one viewport;
// only the first is used.
func (l *CommandList) SetViewports(viewports ...gpucore.Viewport) {
	if len(viewports) == 0 {
		return
	}
	vp := viewports[0]
	l.record(func(e *encoder) error { e.viewport = &vp; return nil })
}

// SetScissorRects implements gpucore.CommandList. Only the first rectangle
// is used.
func (l *CommandList) SetScissorRects(rects ...gpucore.Rect) {
	if len(rects) == 0 {
		return
	}
	r := rects[0]
	l.record(func(e *encoder) error { e.scissor = &r; return nil })
}

// SetVertexBuffers implements gpucore.CommandList.
func (l *CommandList) SetVertexBuffers(start uint32, views ...gpucore.VertexBufferView) {
	v := slices.Clone(views)
	l.record(func(e *encoder) error {
		for i, view := range v {
			e.vertex[start+uint32(i)] = view //nolint:gosec // G115: slot count is small
		}
		return nil
	})
}

// SetIndexBuffer implements gpucore.CommandList.
func (l *CommandList) SetIndexBuffer(view gpucore.IndexBufferView) {
	l.record(func(e *encoder) error { e.index = &view; return nil })
}

// DrawInstanced implements gpucore.CommandList.
func (l *CommandList) DrawInstanced(vertexCount, instanceCount, startVertex, startInstance uint32) {
	l.record(func(e *encoder) error {
		rp, err := e.prepareDraw(false)
		if err != nil {
			return err
		}
		rp.Draw(vertexCount, instanceCount, startVertex, startInstance)
		return nil
	})
}

// DrawIndexedInstanced implements gpucore.CommandList.
func (l *CommandList) DrawIndexedInstanced(indexCount, instanceCount, startIndex uint32, baseVertex int32, startInstance uint32) {
	l.record(func(e *encoder) error {
		rp, err := e.prepareDraw(true)
		if err != nil {
			return err
		}
		rp.DrawIndexed(indexCount, instanceCount, startIndex, baseVertex, startInstance)
		return nil
	})
}
