package upload

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/gx/backend/trace"
	"github.com/gogpu/gx/gpucore"
)

// pageSource lends trace pages and counts what is out.
type pageSource struct {
	dev      *trace.Device
	size     uint64
	max      int
	created  int
	free     []gpucore.UploadPage
	released int
}

func newPageSource(size uint64, maxPages int) *pageSource {
	return &pageSource{dev: trace.New(), size: size, max: maxPages}
}

func (s *pageSource) AcquireUploadPage() (gpucore.UploadPage, error) {
	if n := len(s.free); n > 0 {
		p := s.free[n-1]
		s.free = s.free[:n-1]
		return p, nil
	}
	if s.created == s.max {
		return nil, gpucore.ErrOutOfMemory
	}
	s.created++
	return s.dev.CreateUploadPage(s.size)
}

func (s *pageSource) ReleaseUploadPage(p gpucore.UploadPage) {
	s.released++
	s.free = append(s.free, p)
}

func (s *pageSource) UploadPageSize() uint64 { return s.size }

func TestAllocateAlignment(t *testing.T) {
	src := newPageSource(1024, 4)
	a := New(src)
	assert.Zero(t, a.Pages(), "pages are acquired lazily")

	first, err := a.Allocate(10, 0)
	require.NoError(t, err)
	second, err := a.Allocate(16, 256)
	require.NoError(t, err)
	third, err := a.Allocate(4, 4)
	require.NoError(t, err)

	base := first.GPU
	assert.Equal(t, base+256, second.GPU)
	assert.Equal(t, base+256+256, third.GPU, "offset advanced by the aligned size")
	assert.Len(t, second.CPU, 16)
	assert.Equal(t, 256, cap(second.CPU))
	assert.Equal(t, uint64(10+256+4), a.Used())

	assert.Panics(t, func() { _, _ = a.Allocate(8, 3) })
}

func TestAllocateGrowsAndResets(t *testing.T) {
	src := newPageSource(512, 3)
	a := New(src)

	var addrs []gpucore.GPUAddress
	for range 4 {
		alloc, err := a.Allocate(256, 256)
		require.NoError(t, err)
		addrs = append(addrs, alloc.GPU)
	}
	assert.Equal(t, 2, a.Pages())
	assert.Equal(t, addrs[0]+256, addrs[1])
	assert.NotEqual(t, addrs[1]+256, addrs[2], "third allocation moved to a new page")

	a.Reset()
	assert.Equal(t, 1, a.Pages())
	assert.Equal(t, 1, src.released)
	assert.Zero(t, a.Used())

	again, err := a.Allocate(256, 256)
	require.NoError(t, err)
	assert.Equal(t, addrs[0], again.GPU, "reset rewinds to the first page")

	a.Release()
	assert.Zero(t, a.Pages())
	assert.Equal(t, 2, src.released)
}

func TestAllocateOutOfMemory(t *testing.T) {
	src := newPageSource(256, 1)
	a := New(src)

	_, err := a.Allocate(257, 1)
	assert.ErrorIs(t, err, gpucore.ErrOutOfMemory, "larger than a page")

	_, err = a.Allocate(math.MaxUint64-100, 256)
	assert.ErrorIs(t, err, gpucore.ErrOutOfMemory, "size wraps when aligned")
	assert.Zero(t, a.Pages(), "rejected before a page is taken")

	_, err = a.Allocate(256, 256)
	require.NoError(t, err)
	_, err = a.Allocate(1, 1)
	assert.ErrorIs(t, err, gpucore.ErrOutOfMemory, "source exhausted")
}

func TestAllocationWrite(t *testing.T) {
	src := newPageSource(256, 1)
	a := New(src)

	alloc, err := a.Allocate(4, 4)
	require.NoError(t, err)
	require.NoError(t, alloc.Write([]byte{1, 2, 3, 4}))
	assert.Equal(t, []byte{1, 2, 3, 4}, alloc.CPU)
	assert.Equal(t, uint64(1), alloc.page.(*trace.UploadPage).Flushes())

	assert.Error(t, alloc.Write(make([]byte, 5)))
}
