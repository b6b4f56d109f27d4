package descriptor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/gx/backend/trace"
	"github.com/gogpu/gx/gpucore"
	"github.com/gogpu/gx/rootsig"
)

// blockSource lends fixed-size blocks of one trace heap.
type blockSource struct {
	heap     gpucore.DescriptorHeap
	size     uint32
	next     uint32
	released int
}

func (s *blockSource) AcquireScratchBlock() (gpucore.DescriptorRange, error) {
	if s.next+s.size > s.heap.Desc().Capacity {
		return gpucore.DescriptorRange{}, gpucore.ErrOutOfMemory
	}
	r := gpucore.DescriptorRange{Heap: s.heap, Offset: s.next, Count: s.size}
	s.next += s.size
	return r, nil
}

func (s *blockSource) ReleaseScratchBlock(gpucore.DescriptorRange) { s.released++ }

func newHeap(t *testing.T, dev *trace.Device, n uint32, visible bool) gpucore.DescriptorHeap {
	t.Helper()
	h, err := dev.CreateDescriptorHeap(gpucore.DescriptorHeapDesc{Capacity: n, ShaderVisible: visible})
	require.NoError(t, err)
	return h
}

func TestScratchCache(t *testing.T) {
	dev := trace.New()
	src := &blockSource{heap: newHeap(t, dev, 4, false), size: 2}
	c := NewScratchCache(src)

	a, err := c.AllocateOne()
	require.NoError(t, err)
	b, err := c.AllocateOne()
	require.NoError(t, err)
	assert.Equal(t, a.Offset(1, src.heap.Increment()), b)
	assert.Equal(t, uint32(2), c.Used())

	_, err = c.AllocateOne()
	assert.ErrorIs(t, err, gpucore.ErrOutOfMemory)

	c.Reset()
	again, err := c.AllocateOne()
	require.NoError(t, err)
	assert.Equal(t, a, again, "reset reuses the same block")

	c.Release()
	assert.Equal(t, 1, src.released)
	c.Release()
	assert.Equal(t, 1, src.released, "nothing left to release")
}

// stage writes n SRV descriptors into a CPU heap and returns their handles.
func stage(t *testing.T, dev *trace.Device, n uint32) []gpucore.CPUHandle {
	t.Helper()
	h := newHeap(t, dev, n, false)
	out := make([]gpucore.CPUHandle, n)
	for i := range n {
		out[i] = h.CPUStart().Offset(i, h.Increment())
		dev.WriteDescriptor(out[i], trace.Descriptor{Kind: trace.KindSRV, Address: gpucore.GPUAddress(0x100 * (i + 1))})
	}
	return out
}

type bound struct {
	root uint32
	base gpucore.GPUHandle
}

func TestTableCacheFlush(t *testing.T) {
	dev := trace.New()
	gpu := newHeap(t, dev, 16, true)
	dst := gpucore.DescriptorRange{Heap: gpu, Offset: 0, Count: 16}
	src := stage(t, dev, 3)

	c := NewTableCache(dev)
	md := rootsig.New(rootsig.Table{RootIndex: 0, TableCapacity: 4}, rootsig.Table{RootIndex: 1, TableCapacity: 2})
	c.LoadMetadata(md)
	assert.Same(t, md, c.Metadata())
	assert.False(t, c.Dirty(), "no descriptors assigned yet")
	assert.Zero(t, c.TotalSize())

	c.SetHandles(0, 1, src[0], src[1])
	c.SetHandles(1, 0, src[2])
	require.True(t, c.Dirty())
	assert.Equal(t, uint32(6), c.TotalSize())

	var got []bound
	require.NoError(t, c.Flush(dst, func(root uint32, base gpucore.GPUHandle) {
		got = append(got, bound{root, base})
	}))
	assert.Equal(t, []bound{{0, dst.GPUAt(0)}, {1, dst.GPUAt(4)}}, got)

	table, err := dev.Table(dst.GPUAt(0), 6)
	require.NoError(t, err)
	assert.Equal(t, trace.KindNone, table[0].Kind, "unassigned slot untouched")
	assert.Equal(t, gpucore.GPUAddress(0x100), table[1].Address)
	assert.Equal(t, gpucore.GPUAddress(0x200), table[2].Address)
	assert.Equal(t, gpucore.GPUAddress(0x300), table[4].Address)
	assert.Equal(t, uint64(3), dev.Stats().DescriptorCopies, "one copy per assigned slot")

	// A second flush with nothing dirty does nothing.
	assert.False(t, c.Dirty())
	got = nil
	require.NoError(t, c.Flush(dst, func(root uint32, base gpucore.GPUHandle) {
		got = append(got, bound{root, base})
	}))
	assert.Empty(t, got)

	// Only the re-staged table is committed next time.
	c.SetHandles(1, 1, src[0])
	assert.Equal(t, uint32(2), c.TotalSize())
	require.NoError(t, c.Flush(dst.Sub(6, 2), func(root uint32, base gpucore.GPUHandle) {
		got = append(got, bound{root, base})
	}))
	assert.Equal(t, []bound{{1, dst.GPUAt(6)}}, got)

	c.MarkAllDirty()
	assert.Equal(t, uint32(6), c.TotalSize())
	assert.Error(t, c.Flush(dst.Sub(0, 5), func(uint32, gpucore.GPUHandle) {}), "destination too small")
}

func TestTableCacheFlushOneOfTwoTables(t *testing.T) {
	dev := trace.New()
	gpu := newHeap(t, dev, 8, true)
	dst := gpucore.DescriptorRange{Heap: gpu, Offset: 0, Count: 8}
	src := stage(t, dev, 2)

	c := NewTableCache(dev)
	c.LoadMetadata(rootsig.New(rootsig.Table{RootIndex: 0, TableCapacity: 4}, rootsig.Table{RootIndex: 1, TableCapacity: 2}))
	c.SetHandles(0, 1, src[0], src[1])
	assert.Equal(t, uint32(4), c.TotalSize(), "root 1 has nothing assigned")

	var got []bound
	require.NoError(t, c.Flush(dst, func(root uint32, base gpucore.GPUHandle) {
		got = append(got, bound{root, base})
	}))
	assert.Equal(t, []bound{{0, dst.GPUAt(0)}}, got)
	assert.Equal(t, uint64(2), dev.Stats().DescriptorCopies)
	assert.False(t, c.Dirty(), "root 1 stays clean")
}

func TestTableCacheUnsortedMetadata(t *testing.T) {
	dev := trace.New()
	gpu := newHeap(t, dev, 8, true)
	dst := gpucore.DescriptorRange{Heap: gpu, Offset: 0, Count: 8}
	src := stage(t, dev, 2)

	c := NewTableCache(dev)
	c.LoadMetadata(&rootsig.Metadata{Tables: []rootsig.Table{
		{RootIndex: 1, TableCapacity: 2},
		{RootIndex: 0, TableCapacity: 4},
	}})
	c.SetHandles(1, 0, src[1])
	c.SetHandles(0, 0, src[0])

	var got []bound
	require.NoError(t, c.Flush(dst, func(root uint32, base gpucore.GPUHandle) {
		got = append(got, bound{root, base})
	}))
	assert.Equal(t, []bound{{0, dst.GPUAt(0)}, {1, dst.GPUAt(4)}}, got)

	d, ok := dev.DescriptorAt(dst.GPUAt(4))
	require.True(t, ok)
	assert.Equal(t, gpucore.GPUAddress(0x200), d.Address)
}

func TestTableCacheRejectsInvalidMetadata(t *testing.T) {
	c := NewTableCache(trace.New())
	for name, md := range map[string]*rootsig.Metadata{
		"root index too large": {Tables: []rootsig.Table{{RootIndex: rootsig.MaxRootIndex + 1, TableCapacity: 1}}},
		"duplicate root":       {Tables: []rootsig.Table{{RootIndex: 3, TableCapacity: 1}, {RootIndex: 3, TableCapacity: 2}}},
		"zero capacity":        {Tables: []rootsig.Table{{RootIndex: 0}}},
	} {
		t.Run(name, func(t *testing.T) {
			assertInvalidBinding(t, func() { c.LoadMetadata(md) })
			assert.Nil(t, c.Metadata())
			assert.Zero(t, c.TotalSize())
		})
	}
}

func TestTableCacheResetAndReload(t *testing.T) {
	dev := trace.New()
	src := stage(t, dev, 1)
	c := NewTableCache(dev)
	c.LoadMetadata(rootsig.New(rootsig.Table{RootIndex: 2, TableCapacity: 1}))

	c.SetHandles(2, 0, src[0])
	assert.True(t, c.Dirty())
	c.Reset()
	assert.False(t, c.Dirty(), "reset drops staged descriptors")

	c.SetHandles(2, 0, src[0])
	c.LoadMetadata(nil)
	assert.False(t, c.Dirty())
	assert.Nil(t, c.Metadata())
}

func TestTableCacheInvalidBinding(t *testing.T) {
	dev := trace.New()
	src := stage(t, dev, 3)
	c := NewTableCache(dev)
	c.LoadMetadata(&rootsig.Metadata{
		Tables: []rootsig.Table{{RootIndex: 0, TableCapacity: 2}},
		Views:  []rootsig.View{{RootIndex: 1, Kind: rootsig.ViewCBV}},
	})

	for name, fn := range map[string]func(){
		"root view":     func() { c.SetHandles(1, 0, src[0]) },
		"unknown root":  func() { c.SetHandles(5, 0, src[0]) },
		"out of range":  func() { c.SetHandles(rootsig.MaxRootIndex+1, 0, src[0]) },
		"past capacity": func() { c.SetHandles(0, 1, src[0], src[1]) },
		"too many":      func() { c.SetHandles(0, 0, src...) },
	} {
		t.Run(name, func(t *testing.T) {
			assertInvalidBinding(t, fn)
		})
	}
}

func assertInvalidBinding(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		err, ok := recover().(error)
		require.True(t, ok, "expected a panic with an error value")
		assert.ErrorIs(t, err, gpucore.ErrInvalidBinding)
	}()
	fn()
}
