package gx

import (
	"context"
	"fmt"
	"sync"

	"github.com/gogpu/gx/gpucore"
)

// frameSegments is implemented by frame heaps that split the shader-visible
// heap into per-frame segments, such as *heap.Heaps.
type frameSegments interface {
	FrameCount() int
	BeginFrame(slot int)
}

// FramePacer limits the number of frames in flight to the number of
// shader-visible segments of the system's heaps. Each frame slot remembers
// the fences submitted during it; BeginFrame waits for the slot it is about
// to reuse and then recycles that slot's descriptor segment.
//
// BeginFrame must be called from one goroutine. Track and Submit are safe
// for concurrent use by the workers recording the frame.
type FramePacer struct {
	sys      *System
	segments frameSegments

	mu      sync.Mutex
	slots   [][gpucore.NumWorkTypes]uint64
	cur     int
	frame   uint64
	started bool
}

// NewFramePacer creates a pacer over the system's frame heaps. It returns
// ErrNoFrameSegments if the heaps do not implement frame segments.
func NewFramePacer(sys *System) (*FramePacer, error) {
	seg, ok := sys.heaps.(frameSegments)
	if !ok {
		return nil, ErrNoFrameSegments
	}
	return &FramePacer{
		sys:      sys,
		segments: seg,
		slots:    make([][gpucore.NumWorkTypes]uint64, seg.FrameCount()),
	}, nil
}

// Frame returns the number of frames begun.
func (f *FramePacer) Frame() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frame
}

// Slot returns the current frame slot.
func (f *FramePacer) Slot() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cur
}

// BeginFrame advances to the next slot, waits until the GPU has finished the
// work submitted the last time the slot was used, and recycles the slot's
// shader-visible segment.
func (f *FramePacer) BeginFrame(ctx context.Context) (int, error) {
	f.mu.Lock()
	next := 0
	if f.started {
		next = (f.cur + 1) % len(f.slots)
	}
	fences := f.slots[next]
	f.mu.Unlock()

	for t, fence := range fences {
		if fence == 0 {
			continue
		}
		if err := f.sys.queues[t].WaitForFence(ctx, fence); err != nil {
			return 0, fmt.Errorf("gx: frame slot %d: %w", next, err)
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.slots[next] = [gpucore.NumWorkTypes]uint64{}
	f.segments.BeginFrame(next)
	f.cur = next
	f.started = true
	f.frame++
	return next, nil
}

// Track records that fence on the queue of type t belongs to the current
// frame.
func (f *FramePacer) Track(t gpucore.WorkType, fence uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slots[f.cur][t] = max(f.slots[f.cur][t], fence)
}

// Submit submits ctx and tracks its fence in the current frame.
func (f *FramePacer) Submit(ctx Context) (uint64, error) {
	c := ctx.base()
	fence, err := c.Submit()
	if err != nil {
		return 0, err
	}
	f.Track(c.workType, fence)
	return fence, nil
}
