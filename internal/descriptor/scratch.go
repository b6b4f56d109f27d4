// Package descriptor stages CPU descriptors for a command context and commits
// them into shader-visible tables.
//
// A [ScratchCache] hands out single CPU descriptor slots from a block the
// context borrows for its lifetime. A [TableCache] records, per root
// descriptor table, which CPU descriptors should back it, and copies the
// dirty tables into one contiguous shader-visible range on [TableCache.Flush].
package descriptor

import (
	"fmt"

	"github.com/gogpu/gx/gpucore"
)

// BlockSource lends blocks of CPU descriptors.
type BlockSource interface {
	AcquireScratchBlock() (gpucore.DescriptorRange, error)
	ReleaseScratchBlock(r gpucore.DescriptorRange)
}

// ScratchCache is a linear allocator of CPU descriptor handles.
//
// ScratchCache is not safe for concurrent use.
type ScratchCache struct {
	src   BlockSource
	block gpucore.DescriptorRange
	next  uint32
}

// NewScratchCache creates a cache. The block is borrowed on first use.
func NewScratchCache(src BlockSource) *ScratchCache {
	return &ScratchCache{src: src}
}

// AllocateOne returns the next free CPU descriptor handle.
// An exhausted block fails with gpucore.ErrOutOfMemory.
func (c *ScratchCache) AllocateOne() (gpucore.CPUHandle, error) {
	if c.block.Heap == nil {
		b, err := c.src.AcquireScratchBlock()
		if err != nil {
			return 0, fmt.Errorf("descriptor: acquire scratch block: %w", err)
		}
		c.block = b
		c.next = 0
	}
	if c.next >= c.block.Count {
		return 0, fmt.Errorf("descriptor: scratch block of %d exhausted: %w",
			c.block.Count, gpucore.ErrOutOfMemory)
	}
	h := c.block.CPUAt(c.next)
	c.next++
	return h, nil
}

// Reset makes every handle of the block available again.
func (c *ScratchCache) Reset() { c.next = 0 }

// Release returns the block to its source.
func (c *ScratchCache) Release() {
	if c.block.Heap != nil {
		c.src.ReleaseScratchBlock(c.block)
	}
	c.block = gpucore.DescriptorRange{}
	c.next = 0
}

// Used returns the number of handles allocated since the last reset.
func (c *ScratchCache) Used() uint32 { return c.next }
