package descriptor

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/gogpu/gx/gpucore"
	"github.com/gogpu/gx/rootsig"
)

// Copier copies descriptors between heaps. gpucore.Device implements it.
type Copier interface {
	CopyDescriptorsSimple(n uint32, dst, src gpucore.CPUHandle, t gpucore.DescriptorHeapType)
}

// tableEntry stages the CPU descriptors of one root descriptor table.
type tableEntry struct {
	root      uint32
	handles   []gpucore.CPUHandle
	assigned  []bool
	nAssigned uint32

	// stale is set by LoadMetadata and SetHandles and cleared by Flush.
	stale bool
}

func (e *tableEntry) capacity() uint32 {
	//nolint:gosec // G115: capacity comes from uint32 metadata
	return uint32(len(e.handles))
}

// dirty reports whether the table needs a commit. A table nobody assigned a
// descriptor to is never dirty.
func (e *tableEntry) dirty() bool { return e.stale && e.nAssigned > 0 }

// TableCache tracks the descriptor tables of the active root signature.
//
// TableCache is not safe for concurrent use.
type TableCache struct {
	copier   Copier
	heapType gpucore.DescriptorHeapType
	entries  []tableEntry
	byRoot   [rootsig.MaxRootIndex + 1]int16
	metadata *rootsig.Metadata
}

// NewTableCache creates an empty cache copying CBV/SRV/UAV descriptors
// through c.
func NewTableCache(c Copier) *TableCache {
	tc := &TableCache{copier: c, heapType: gpucore.HeapCBVSRVUAV}
	tc.clearIndex()
	return tc
}

func (c *TableCache) clearIndex() {
	for i := range c.byRoot {
		c.byRoot[i] = -1
	}
}

// LoadMetadata replaces every table definition with those of md and marks
// every table stale. Previously staged descriptors are dropped. A nil md
// leaves the cache with no tables. Tables are kept in root-index order
// whatever order md declares them in.
//
// Metadata that does not validate panics with an error wrapping
// gpucore.ErrInvalidBinding; the cache is left empty.
func (c *TableCache) LoadMetadata(md *rootsig.Metadata) {
	c.clearIndex()
	c.entries = c.entries[:0]
	c.metadata = nil
	if md == nil {
		return
	}
	if err := md.Validate(); err != nil {
		panic(fmt.Errorf("%w: %w", gpucore.ErrInvalidBinding, err))
	}
	c.metadata = md
	tables := slices.SortedFunc(slices.Values(md.Tables), func(a, b rootsig.Table) int {
		return cmp.Compare(a.RootIndex, b.RootIndex)
	})
	for _, t := range tables {
		//nolint:gosec // G115: bounded by MaxRootIndex tables
		c.byRoot[t.RootIndex] = int16(len(c.entries))
		c.entries = append(c.entries, tableEntry{
			root:     t.RootIndex,
			handles:  make([]gpucore.CPUHandle, t.TableCapacity),
			assigned: make([]bool, t.TableCapacity),
			stale:    true,
		})
	}
}

// Metadata returns the metadata last loaded.
func (c *TableCache) Metadata() *rootsig.Metadata { return c.metadata }

func (c *TableCache) entry(root uint32) *tableEntry {
	if root > rootsig.MaxRootIndex || c.byRoot[root] < 0 {
		return nil
	}
	return &c.entries[c.byRoot[root]]
}

// SetHandles stages handles at [offset, offset+len(handles)) of the table at
// root and marks it dirty.
//
// A root that is not a descriptor table, or a range past the table's
// capacity, is a programmer error: SetHandles panics with an error wrapping
// gpucore.ErrInvalidBinding.
func (c *TableCache) SetHandles(root, offset uint32, handles ...gpucore.CPUHandle) {
	e := c.entry(root)
	if e == nil {
		panic(fmt.Errorf("%w: root index %d is not a descriptor table", gpucore.ErrInvalidBinding, root))
	}
	//nolint:gosec // G115: checked against capacity below
	if uint64(offset)+uint64(len(handles)) > uint64(e.capacity()) {
		panic(fmt.Errorf("%w: root index %d: %d handles at offset %d exceed capacity %d",
			gpucore.ErrInvalidBinding, root, len(handles), offset, e.capacity()))
	}
	for i, h := range handles {
		j := offset + uint32(i) //nolint:gosec // G115: bounded by capacity
		e.handles[j] = h
		if !e.assigned[j] {
			e.assigned[j] = true
			e.nAssigned++
		}
	}
	e.stale = true
}

// Dirty reports whether any table needs a commit.
func (c *TableCache) Dirty() bool {
	for i := range c.entries {
		if c.entries[i].dirty() {
			return true
		}
	}
	return false
}

// TotalSize returns the sum of capacities of the dirty tables, the size of
// the shader-visible range the next Flush needs.
func (c *TableCache) TotalSize() uint32 {
	var n uint32
	for i := range c.entries {
		if e := &c.entries[i]; e.dirty() {
			n += e.capacity()
		}
	}
	return n
}

// MarkAllDirty marks every table with staged descriptors for a commit, e.g.
// after the descriptor heaps were rebound.
func (c *TableCache) MarkAllDirty() {
	for i := range c.entries {
		c.entries[i].stale = true
	}
}

// Flush copies the dirty tables, in root-index order, into consecutive
// sub-ranges of dst, one descriptor at a time, and calls fn with the root
// index and the GPU handle of each sub-range. Each table occupies its full
// capacity in dst; slots nobody assigned are left untouched. Flush clears
// the dirty flags. With nothing dirty it does nothing.
//
// dst must hold at least TotalSize descriptors.
func (c *TableCache) Flush(dst gpucore.DescriptorRange, fn func(root uint32, base gpucore.GPUHandle)) error {
	need := c.TotalSize()
	if need == 0 {
		return nil
	}
	if dst.Count < need {
		return fmt.Errorf("descriptor: flush needs %d descriptors, destination holds %d", need, dst.Count)
	}

	var cursor uint32
	for i := range c.entries {
		e := &c.entries[i]
		if !e.dirty() {
			continue
		}
		for j, ok := range e.assigned {
			if ok {
				//nolint:gosec // G115: j < capacity
				c.copier.CopyDescriptorsSimple(1, dst.CPUAt(cursor+uint32(j)), e.handles[j], c.heapType)
			}
		}
		fn(e.root, dst.GPUAt(cursor))
		e.stale = false
		cursor += e.capacity()
	}
	return nil
}

// Reset drops every staged descriptor but keeps the table definitions.
func (c *TableCache) Reset() {
	for i := range c.entries {
		e := &c.entries[i]
		clear(e.handles)
		clear(e.assigned)
		e.nAssigned = 0
		e.stale = true
	}
}
