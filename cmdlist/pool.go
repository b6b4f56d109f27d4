package cmdlist

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/gx/gpucore"
)

// ErrPoolClosed is returned when operating on a closed pool.
var ErrPoolClosed = errors.New("cmdlist: pool closed")

// PoolStats contains command list pool statistics.
type PoolStats struct {
	// Created is the number of native list/allocator pairs created.
	Created int

	// Live is the number of buffers currently acquired.
	Live int

	// Retired is the number of released buffers waiting for reuse.
	Retired int

	// Reused counts acquisitions served by a recycled allocator.
	Reused uint64
}

// String returns a human-readable string of pool stats.
func (s PoolStats) String() string {
	return fmt.Sprintf("CommandPool[%d created, %d live, %d retired, %d reused]",
		s.Created, s.Live, s.Retired, s.Reused)
}

// poolEntry is one native list/allocator pair.
type poolEntry struct {
	list       gpucore.CommandList
	alloc      gpucore.CommandAllocator
	workType   gpucore.WorkType
	generation uint32
	live       bool

	// fence is the value the last holder submitted with; zero if it never
	// submitted.
	fence uint64
}

// Pool recycles command lists and their allocators, keyed by work type.
//
// Pool is safe for concurrent use.
type Pool struct {
	mu sync.Mutex

	dev    gpucore.Device
	queues [gpucore.NumWorkTypes]*Queue

	entries []poolEntry

	// retired holds indices of released entries per work type, oldest first.
	retired [gpucore.NumWorkTypes][]uint32

	reused uint64
	closed bool
}

// NewPool creates a pool over dev. Retired buffers of a work type are only
// recycled when a queue of that type is given; without one, a buffer that
// was submitted is never reused.
func NewPool(dev gpucore.Device, queues ...*Queue) *Pool {
	p := &Pool{dev: dev}
	for _, q := range queues {
		p.queues[q.Type()] = q
	}
	return p
}

// Acquire returns a command buffer ready for recording.
func (p *Pool) Acquire(t gpucore.WorkType) (*CommandBuffer, error) {
	return p.AcquireLabeled(t, "")
}

// AcquireLabeled is Acquire with a debug label passed to the native list.
func (p *Pool) AcquireLabeled(t gpucore.WorkType, label string) (*CommandBuffer, error) {
	if t >= gpucore.NumWorkTypes {
		return nil, fmt.Errorf("cmdlist: invalid work type %d", t)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPoolClosed
	}

	if idx, ok := p.takeRetiredLocked(t); ok {
		e := &p.entries[idx]
		if err := e.alloc.Reset(); err != nil {
			p.retired[t] = append(p.retired[t], idx)
			return nil, gpucore.WrapBackend("CommandAllocator.Reset", err)
		}
		if err := e.list.Reset(e.alloc, label); err != nil {
			p.retired[t] = append(p.retired[t], idx)
			return nil, gpucore.WrapBackend("CommandList.Reset", err)
		}
		e.generation++
		e.live = true
		e.fence = 0
		p.reused++
		return p.bufferLocked(idx, label), nil
	}

	alloc, err := p.dev.CreateCommandAllocator(t)
	if err != nil {
		return nil, gpucore.WrapBackend("CreateCommandAllocator", err)
	}
	list, err := p.dev.CreateCommandList(t)
	if err != nil {
		p.dev.DestroyCommandAllocator(alloc)
		return nil, gpucore.WrapBackend("CreateCommandList", err)
	}
	if err := list.Reset(alloc, label); err != nil {
		p.dev.DestroyCommandList(list)
		p.dev.DestroyCommandAllocator(alloc)
		return nil, gpucore.WrapBackend("CommandList.Reset", err)
	}

	//nolint:gosec // G115: pool sizes stay far below 2^32
	idx := uint32(len(p.entries))
	p.entries = append(p.entries, poolEntry{
		list:       list,
		alloc:      alloc,
		workType:   t,
		generation: 1,
		live:       true,
	})
	slogger().Debug("cmdlist: created command list",
		"type", t, "index", idx, "label", label)
	return p.bufferLocked(idx, label), nil
}

// takeRetiredLocked pops the oldest retired entry of type t whose fence has
// been reached.
func (p *Pool) takeRetiredLocked(t gpucore.WorkType) (uint32, bool) {
	list := p.retired[t]
	for i, idx := range list {
		fence := p.entries[idx].fence
		if fence != 0 {
			q := p.queues[t]
			if q == nil || !q.IsFenceComplete(fence) {
				continue
			}
		}
		p.retired[t] = append(list[:i], list[i+1:]...)
		return idx, true
	}
	return 0, false
}

func (p *Pool) bufferLocked(idx uint32, label string) *CommandBuffer {
	e := &p.entries[idx]
	return &CommandBuffer{
		List:      e.list,
		Allocator: e.alloc,
		workType:  e.workType,
		handle:    Handle{Index: idx, Generation: e.generation},
		label:     label,
	}
}

// Release returns buf to the pool. The allocator is recycled once the fence
// the buffer was submitted with has been reached. A buffer that was never
// submitted is closed and becomes reusable immediately.
//
// Releasing the same buffer twice returns gpucore.ErrAlreadyReleased and
// leaves the pool unchanged.
func (p *Pool) Release(buf *CommandBuffer) error {
	if buf == nil {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	h := buf.handle
	if buf.released || int(h.Index) >= len(p.entries) {
		return fmt.Errorf("cmdlist: release %s: %w", h, gpucore.ErrAlreadyReleased)
	}
	e := &p.entries[h.Index]
	if !e.live || e.generation != h.Generation {
		return fmt.Errorf("cmdlist: release %s: %w", h, gpucore.ErrAlreadyReleased)
	}

	buf.released = true
	e.live = false
	e.fence = buf.fence

	var closeErr error
	if !buf.submitted {
		closeErr = buf.close()
		if closeErr != nil {
			slogger().Warn("cmdlist: closing released list failed",
				"handle", h, "err", closeErr)
		}
	}

	if p.closed {
		p.destroyEntryLocked(e)
		return closeErr
	}
	p.retired[e.workType] = append(p.retired[e.workType], h.Index)
	return closeErr
}

// Stats returns current pool statistics.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := PoolStats{Created: len(p.entries), Reused: p.reused}
	for i := range p.entries {
		if p.entries[i].live {
			s.Live++
		}
	}
	for _, r := range p.retired {
		s.Retired += len(r)
	}
	return s
}

// Close destroys every retired list and allocator. Buffers still held are
// destroyed when they are released. The caller must ensure the GPU is idle.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	for t := range p.retired {
		for _, idx := range p.retired[t] {
			p.destroyEntryLocked(&p.entries[idx])
		}
		p.retired[t] = nil
	}
}

func (p *Pool) destroyEntryLocked(e *poolEntry) {
	if e.list != nil {
		p.dev.DestroyCommandList(e.list)
		e.list = nil
	}
	if e.alloc != nil {
		p.dev.DestroyCommandAllocator(e.alloc)
		e.alloc = nil
	}
}
