package gx

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/gogpu/gx/cmdlist"
	"github.com/gogpu/gx/gpucore"
	"github.com/gogpu/gx/heap"
	"github.com/gogpu/gx/internal/descriptor"
	"github.com/gogpu/gx/internal/upload"
	"github.com/gogpu/gx/rootsig"
)

// BarrierCapacity is the number of barriers a context batches before they
// must be flushed.
const BarrierCapacity = 16

// contextState is the recording state of a CommandContext.
//
// State machine:
//
//	Idle → Recording → Submitted → (Reset) → Idle
//
// A context is Idle right after creation or Reset: it holds a fresh command
// buffer with nothing recorded. The first recording call moves it to
// Recording. Submit moves it to Submitted, after which recording panics with
// ErrNotRecording until Reset.
type contextState uint8

const (
	stateIdle contextState = iota
	stateRecording
	stateSubmitted
	stateClosed
)

var contextStateNames = [...]string{
	stateIdle:      "idle",
	stateRecording: "recording",
	stateSubmitted: "submitted",
	stateClosed:    "closed",
}

func (s contextState) String() string { return contextStateNames[s] }

// ContextStats counts what a context recorded since its last Reset.
type ContextStats struct {
	// BarrierBatches is the number of native barrier calls.
	BarrierBatches int

	// Barriers is the number of barriers flushed.
	Barriers int

	// TableCommits is the number of shader-visible allocations made.
	TableCommits int

	// Descriptors is the number of shader-visible descriptors allocated.
	Descriptors uint32

	// Dispatches and Draws count native work calls.
	Dispatches int
	Draws      int

	// UploadBytes is the upload memory consumed, including alignment.
	UploadBytes uint64
}

// String returns a human-readable string of context stats.
func (s ContextStats) String() string {
	return fmt.Sprintf("Context[%d barriers in %d batches, %d tables (%d descriptors), %d dispatches, %d draws, %d upload bytes]",
		s.Barriers, s.BarrierBatches, s.TableCommits, s.Descriptors, s.Dispatches, s.Draws, s.UploadBytes)
}

// CommandContext records commands into one command buffer while managing
// upload memory, descriptor scratch space, descriptor tables and a batch of
// pending barriers.
//
// Binding calls only update caches. Immediately before each dispatch or
// draw, pending barriers are flushed and dirty descriptor tables are
// committed into one shader-visible range, in that order.
//
// A CommandContext is owned by one goroutine at a time and is not safe for
// concurrent use. Use ComputeContext or GraphicsContext, which add the
// commands of their kind.
type CommandContext struct {
	sys      *System
	workType gpucore.WorkType
	binder   binder
	opts     options
	log      *slog.Logger

	buf     *cmdlist.CommandBuffer
	upload  *upload.Allocator
	scratch *descriptor.ScratchCache
	tables  *descriptor.TableCache

	barriers  [BarrierCapacity]gpucore.Barrier
	nBarriers int

	state      contextState
	pso        gpucore.PipelineState
	heapsBound bool
	fence      uint64
	stats      ContextStats
}

func newCommandContext(sys *System, t gpucore.WorkType, b binder, opts options) (*CommandContext, error) {
	c := &CommandContext{
		sys:      sys,
		workType: t,
		binder:   b,
		opts:     opts,
		log:      opts.logger,
		upload:   upload.New(sys.heaps),
		scratch:  descriptor.NewScratchCache(sys.heaps),
		tables:   descriptor.NewTableCache(sys.dev),
	}
	if c.log == nil {
		c.log = Logger()
	}
	if err := c.acquire(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *CommandContext) acquire() error {
	buf, err := c.sys.pool.AcquireLabeled(c.workType, c.opts.label)
	if err != nil {
		return fmt.Errorf("gx: acquire command buffer: %w", err)
	}
	c.buf = buf
	c.state = stateIdle
	return nil
}

// base returns the context itself; it lets ComputeContext and
// GraphicsContext satisfy Context.
func (c *CommandContext) base() *CommandContext { return c }

// WorkType returns the queue type the context records for.
func (c *CommandContext) WorkType() gpucore.WorkType { return c.workType }

// Label returns the debug label.
func (c *CommandContext) Label() string { return c.opts.label }

// Buffer returns the command buffer currently held, or nil once closed.
func (c *CommandContext) Buffer() *cmdlist.CommandBuffer { return c.buf }

// Fence returns the fence value of the last submission, or zero.
func (c *CommandContext) Fence() uint64 { return c.fence }

// Stats returns what the context recorded since its last Reset.
func (c *CommandContext) Stats() ContextStats {
	s := c.stats
	s.UploadBytes = c.upload.Used()
	return s
}

// PendingBarriers returns the number of queued, unflushed barriers.
func (c *CommandContext) PendingBarriers() int { return c.nBarriers }

// PipelineState returns the bound pipeline state, or nil.
func (c *CommandContext) PipelineState() gpucore.PipelineState { return c.pso }

// record checks that the context may record and moves it to Recording.
func (c *CommandContext) record() {
	switch c.state {
	case stateIdle:
		c.state = stateRecording
	case stateRecording:
	default:
		panic(fmt.Errorf("gx: context %q is %s: %w", c.opts.label, c.state, ErrNotRecording))
	}
}

func (c *CommandContext) list() gpucore.CommandList { return c.buf.List }

// TransitionResource queues a barrier moving r from before to after.
func (c *CommandContext) TransitionResource(r gpucore.Resource, before, after gpucore.ResourceState) {
	c.QueueBarrier(gpucore.Barrier{Resource: r, Before: before, After: after})
}

// QueueBarrier appends b to the pending batch. When the batch already holds
// BarrierCapacity barriers, BarrierAutoFlush flushes it first and
// BarrierStrict panics with an error wrapping ErrBarrierOverflow.
func (c *CommandContext) QueueBarrier(b gpucore.Barrier) {
	c.record()
	if c.nBarriers == BarrierCapacity {
		if c.opts.barrierPolicy == BarrierStrict {
			panic(fmt.Errorf("gx: %d barriers pending: %w", BarrierCapacity, ErrBarrierOverflow))
		}
		c.FlushResourceBarriers()
	}
	c.barriers[c.nBarriers] = b
	c.nBarriers++
}

// FlushResourceBarriers records every pending barrier as one native call.
// It does nothing when no barrier is pending.
func (c *CommandContext) FlushResourceBarriers() {
	if c.nBarriers == 0 {
		return
	}
	c.record()
	c.list().ResourceBarrier(c.barriers[:c.nBarriers])
	c.stats.BarrierBatches++
	c.stats.Barriers += c.nBarriers
	clear(c.barriers[:c.nBarriers])
	c.nBarriers = 0
}

// SetPipelineState binds pso and loads its root signature into the
// descriptor table cache, dropping every staged table descriptor. The
// pipeline kind must match the context.
func (c *CommandContext) SetPipelineState(pso gpucore.PipelineState) {
	c.record()
	if pso == nil {
		panic(fmt.Errorf("gx: nil pipeline state: %w", ErrInvalidBinding))
	}
	if pso.Kind() != c.binder.kind() {
		panic(fmt.Errorf("gx: %s pipeline %q on %s context: %w",
			pso.Kind(), pso.Label(), c.binder.kind(), ErrInvalidBinding))
	}
	c.tables.LoadMetadata(pso.RootSignature())
	c.pso = pso
	c.list().SetPipelineState(pso)
}

// SetDescriptorHeaps binds heaps. Contexts bind the shader-visible frame
// heap themselves before committing tables; call this only to bind tables
// from other heaps with SetRootDescriptorTable.
func (c *CommandContext) SetDescriptorHeaps(heaps ...gpucore.DescriptorHeap) {
	c.record()
	c.list().SetDescriptorHeaps(heaps...)
	c.heapsBound = false
}

// requireRootView panics unless the bound pipeline declares a root view of
// kind at root.
func (c *CommandContext) requireRootView(root uint32, kind rootsig.ViewKind) {
	if c.pso == nil {
		panic(fmt.Errorf("gx: root %d bound before SetPipelineState: %w", root, ErrInvalidBinding))
	}
	v, ok := c.pso.RootSignature().View(root)
	if !ok || v.Kind != kind {
		panic(fmt.Errorf("gx: root %d of %q is not a %s view: %w",
			root, c.pso.Label(), kind, ErrInvalidBinding))
	}
}

// SetConstantBuffer copies data into upload memory aligned to 256 bytes and
// binds it as the root constant buffer view at root.
func (c *CommandContext) SetConstantBuffer(root uint32, data []byte) error {
	c.record()
	c.requireRootView(root, rootsig.ViewCBV)
	alloc, err := c.uploadData(data, heap.ConstantBufferAlignment)
	if err != nil {
		return err
	}
	c.binder.setRootCBV(c.list(), root, alloc.GPU)
	return nil
}

// SetConstantBufferAddress binds constant data already in GPU memory as the
// root constant buffer view at root.
func (c *CommandContext) SetConstantBufferAddress(root uint32, addr gpucore.GPUAddress) {
	c.record()
	c.requireRootView(root, rootsig.ViewCBV)
	c.binder.setRootCBV(c.list(), root, addr)
}

// SetSRVBuffer binds a buffer as the root shader resource view at root.
// Address zero unbinds it.
func (c *CommandContext) SetSRVBuffer(root uint32, addr gpucore.GPUAddress) {
	c.record()
	c.requireRootView(root, rootsig.ViewSRV)
	c.binder.setRootSRV(c.list(), root, addr)
}

// SetUAVBuffer binds a buffer as the root unordered access view at root.
// Address zero unbinds it.
func (c *CommandContext) SetUAVBuffer(root uint32, addr gpucore.GPUAddress) {
	c.record()
	c.requireRootView(root, rootsig.ViewUAV)
	c.binder.setRootUAV(c.list(), root, addr)
}

// SetDynamicConstantBuffer copies data into upload memory, creates a
// constant buffer view of it in scratch space and stages that view at
// offset of the descriptor table at root.
func (c *CommandContext) SetDynamicConstantBuffer(root, offset uint32, data []byte) error {
	c.record()
	alloc, err := c.uploadData(data, heap.ConstantBufferAlignment)
	if err != nil {
		return err
	}
	h, err := c.scratch.AllocateOne()
	if err != nil {
		return err
	}
	//nolint:gosec // G115: upload allocations are smaller than a page
	size := uint32((alloc.Size + heap.ConstantBufferAlignment - 1) &^ (heap.ConstantBufferAlignment - 1))
	c.sys.dev.CreateConstantBufferView(gpucore.ConstantBufferViewDesc{Address: alloc.GPU, Size: size}, h)
	c.tables.SetHandles(root, offset, h)
	return nil
}

// SetDynamicDescriptor stages one CPU descriptor at offset of the table at
// root. The descriptor is copied when the table is committed, so it may be
// overwritten afterwards.
func (c *CommandContext) SetDynamicDescriptor(root, offset uint32, h gpucore.CPUHandle) {
	c.SetDynamicDescriptors(root, offset, h)
}

// SetDynamicDescriptors stages consecutive CPU descriptors starting at
// offset of the table at root. Ranges past the table capacity panic with an
// error wrapping ErrInvalidBinding.
func (c *CommandContext) SetDynamicDescriptors(root, offset uint32, handles ...gpucore.CPUHandle) {
	c.record()
	c.tables.SetHandles(root, offset, handles...)
}

// SetRootDescriptorTable binds a table the caller built itself, bypassing
// the table cache. A later commit of the same root replaces it.
func (c *CommandContext) SetRootDescriptorTable(root uint32, base gpucore.GPUHandle) {
	c.record()
	c.binder.setRootTable(c.list(), root, base)
}

// AllocateUpload returns upload memory valid until the next Reset.
func (c *CommandContext) AllocateUpload(size, alignment uint64) (upload.Allocation, error) {
	alloc, err := c.upload.Allocate(size, alignment)
	if err != nil {
		return upload.Allocation{}, fmt.Errorf("gx: upload %d bytes: %w", size, err)
	}
	return alloc, nil
}

func (c *CommandContext) uploadData(data []byte, alignment uint64) (upload.Allocation, error) {
	alloc, err := c.AllocateUpload(uint64(len(data)), alignment)
	if err != nil {
		return upload.Allocation{}, err
	}
	if err := alloc.Write(data); err != nil {
		return upload.Allocation{}, err
	}
	return alloc, nil
}

// CommitRootDescriptorTables copies every dirty descriptor table into one
// freshly allocated shader-visible range and binds each table. It does
// nothing when no table is dirty. Dispatch and draw calls commit
// automatically.
func (c *CommandContext) CommitRootDescriptorTables() error {
	c.record()
	if !c.tables.Dirty() {
		return nil
	}
	if !c.heapsBound {
		c.list().SetDescriptorHeaps(c.sys.heaps.ShaderVisibleHeaps()...)
		c.heapsBound = true
		c.tables.MarkAllDirty()
	}
	n := c.tables.TotalSize()
	dst, err := c.sys.heaps.AllocateShaderVisible(n)
	if err != nil {
		return fmt.Errorf("gx: commit %d descriptors: %w", n, err)
	}
	list := c.list()
	err = c.tables.Flush(dst, func(root uint32, base gpucore.GPUHandle) {
		c.binder.setRootTable(list, root, base)
	})
	if err != nil {
		return fmt.Errorf("gx: commit descriptor tables: %w", err)
	}
	c.stats.TableCommits++
	c.stats.Descriptors += n
	return nil
}

// prepareWork flushes barriers and commits tables, in that order.
func (c *CommandContext) prepareWork() error {
	c.record()
	if c.pso == nil {
		panic(fmt.Errorf("gx: work recorded before SetPipelineState: %w", ErrInvalidBinding))
	}
	c.FlushResourceBarriers()
	return c.CommitRootDescriptorTables()
}

// Submit flushes pending barriers, closes the command buffer and submits it
// to the context's queue. It returns the fence value signaled when the GPU
// is done. The context must be Reset before it records again.
func (c *CommandContext) Submit() (uint64, error) {
	if c.state == stateSubmitted || c.state == stateClosed {
		return 0, fmt.Errorf("gx: submit %s context: %w", c.state, ErrNotRecording)
	}
	c.FlushResourceBarriers()
	fence, err := c.sys.queues[c.workType].Submit(c.buf)
	if err != nil {
		return 0, fmt.Errorf("gx: submit: %w", err)
	}
	c.state = stateSubmitted
	c.fence = fence
	c.log.Debug("gx: context submitted",
		"label", c.opts.label,
		"type", c.workType,
		"fence", fence,
		"stats", c.Stats())
	return fence, nil
}

// Completed reports whether the last submission has finished on the GPU.
// A context that never submitted is complete.
func (c *CommandContext) Completed() bool {
	return c.sys.queues[c.workType].IsFenceComplete(c.fence)
}

// Reset prepares the context for a new frame: the held command buffer goes
// back to the pool and a fresh one is acquired, the upload allocator and the
// scratch cache rewind, and staged descriptors and pending barriers are
// dropped. An Idle context keeps its unused buffer.
//
// Reset returns ErrInFlight, changing nothing, while the last submission has
// not finished. A failure to return the old buffer is reported after the
// context has been reset and holds a fresh buffer.
func (c *CommandContext) Reset() error {
	switch c.state {
	case stateClosed:
		return ErrClosed
	case stateSubmitted:
		if !c.Completed() {
			return fmt.Errorf("gx: reset before fence %d: %w", c.fence, ErrInFlight)
		}
	}

	var relErr error
	if c.state != stateIdle {
		buf := c.buf
		c.buf = nil
		if err := c.sys.pool.Release(buf); err != nil {
			relErr = fmt.Errorf("gx: release command buffer: %w", err)
		}
		if err := c.acquire(); err != nil {
			c.state = stateClosed
			return errors.Join(relErr, err)
		}
	}

	c.upload.Reset()
	c.scratch.Reset()
	c.tables.LoadMetadata(nil)
	clear(c.barriers[:c.nBarriers])
	c.nBarriers = 0
	c.pso = nil
	c.heapsBound = false
	c.stats = ContextStats{}
	c.state = stateIdle
	return relErr
}

// Close returns every borrowed resource. It returns ErrInFlight, changing
// nothing, while the last submission has not finished.
func (c *CommandContext) Close() error {
	if c.state == stateClosed {
		return nil
	}
	if c.state == stateSubmitted && !c.Completed() {
		return fmt.Errorf("gx: close before fence %d: %w", c.fence, ErrInFlight)
	}
	var err error
	if c.buf != nil {
		err = c.sys.pool.Release(c.buf)
		c.buf = nil
	}
	c.upload.Release()
	c.scratch.Release()
	c.state = stateClosed
	return err
}
