// Package cmdlist pools native command lists and submits them to queues.
//
// A [Pool] hands out [CommandBuffer] values, each pairing a command list with
// the allocator it records into. Released buffers are recycled only after the
// fence they were submitted with has been reached on their [Queue], so an
// allocator is never reset under the GPU.
//
//	pool := cmdlist.NewPool(dev, queue)
//	buf, err := pool.Acquire(gpucore.WorkCompute)
//	// ... record into buf.List ...
//	fence, err := queue.Submit(buf)
//	err = pool.Release(buf)
package cmdlist

import (
	"fmt"

	"github.com/gogpu/gx/gpucore"
)

// Handle identifies a pool slot and the acquisition that produced a buffer.
// A handle whose generation no longer matches its slot is stale.
type Handle struct {
	Index      uint32
	Generation uint32
}

// String implements fmt.Stringer.
func (h Handle) String() string {
	return fmt.Sprintf("%d#%d", h.Index, h.Generation)
}

// CommandBuffer is a command list plus its allocator, owned by one holder
// between Acquire and Release.
//
// A buffer is recording from Acquire until it is submitted. After that the
// list must not be touched; Release it and acquire a new one.
type CommandBuffer struct {
	List      gpucore.CommandList
	Allocator gpucore.CommandAllocator

	workType gpucore.WorkType
	handle   Handle
	label    string

	fence     uint64
	submitted bool
	closed    bool
	released  bool
}

// WorkType returns the queue type the buffer records for.
func (b *CommandBuffer) WorkType() gpucore.WorkType { return b.workType }

// Handle returns the pool handle of this acquisition.
func (b *CommandBuffer) Handle() Handle { return b.handle }

// Label returns the debug label given at acquisition.
func (b *CommandBuffer) Label() string { return b.label }

// Fence returns the fence value the buffer was submitted with, or zero.
func (b *CommandBuffer) Fence() uint64 { return b.fence }

// Submitted reports whether the buffer has been handed to a queue.
func (b *CommandBuffer) Submitted() bool { return b.submitted }

// Recording reports whether commands may still be recorded.
func (b *CommandBuffer) Recording() bool { return !b.closed && !b.released }

// Released reports whether the buffer went back to its pool.
func (b *CommandBuffer) Released() bool { return b.released }

// close ends recording once; later calls are no-ops.
func (b *CommandBuffer) close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	if err := b.List.Close(); err != nil {
		return gpucore.WrapBackend("CommandList.Close", err)
	}
	return nil
}
