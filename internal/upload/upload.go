// Package upload implements the per-context linear allocator over shared
// upload pages.
package upload

import (
	"fmt"
	"math/bits"

	"github.com/gogpu/gx/gpucore"
)

// PageSource lends upload pages to allocators.
type PageSource interface {
	AcquireUploadPage() (gpucore.UploadPage, error)
	ReleaseUploadPage(p gpucore.UploadPage)
	UploadPageSize() uint64
}

// Allocation is a region of an upload page. It is valid until the allocator
// that produced it is reset.
type Allocation struct {
	// CPU is the writable mapping of the region.
	CPU []byte

	// GPU is the address of the first byte of the region.
	GPU gpucore.GPUAddress

	Size uint64

	page   gpucore.UploadPage
	offset uint64
}

// Write copies data to the start of the region and makes it visible to the
// GPU. data must fit in the allocation.
func (a Allocation) Write(data []byte) error {
	if uint64(len(data)) > a.Size {
		return fmt.Errorf("upload: write of %d bytes into %d-byte allocation", len(data), a.Size)
	}
	copy(a.CPU, data)
	if err := a.page.Flush(a.offset, uint64(len(data))); err != nil {
		return gpucore.WrapBackend("UploadPage.Flush", err)
	}
	return nil
}

// Allocator bump-allocates from a chain of upload pages. When the current page
// cannot satisfy a request, the next page is taken from the source.
//
// Allocator is not safe for concurrent use.
type Allocator struct {
	src    PageSource
	pages  []gpucore.UploadPage
	cur    int
	offset uint64
	used   uint64
}

// New creates an allocator. No page is acquired until the first Allocate.
func New(src PageSource) *Allocator {
	return &Allocator{src: src}
}

// Allocate returns size bytes at an offset aligned to alignment, which must
// be zero or a power of two. The offset advances by size rounded up to
// alignment. Requests larger than a page fail with gpucore.ErrOutOfMemory,
// as does a source with no pages left.
func (a *Allocator) Allocate(size, alignment uint64) (Allocation, error) {
	if alignment == 0 {
		alignment = 1
	}
	if bits.OnesCount64(alignment) != 1 {
		panic(fmt.Sprintf("upload: alignment %d is not a power of two", alignment))
	}

	pageSize := a.src.UploadPageSize()
	aligned := alignUp(size, alignment)
	if size > pageSize || aligned > pageSize || aligned < size {
		return Allocation{}, fmt.Errorf("upload: %d bytes exceed page size %d: %w",
			size, pageSize, gpucore.ErrOutOfMemory)
	}

	if len(a.pages) == 0 {
		if err := a.grow(); err != nil {
			return Allocation{}, err
		}
	}

	off := alignUp(a.offset, alignment)
	if off+aligned > pageSize {
		if err := a.grow(); err != nil {
			return Allocation{}, err
		}
		off = 0
	}

	page := a.pages[a.cur]
	a.offset = off + aligned
	a.used += aligned
	return Allocation{
		CPU:    page.Bytes()[off : off+size : off+aligned],
		GPU:    page.GPUAddress() + gpucore.GPUAddress(off),
		Size:   size,
		page:   page,
		offset: off,
	}, nil
}

// grow appends a page from the source and makes it current.
func (a *Allocator) grow() error {
	p, err := a.src.AcquireUploadPage()
	if err != nil {
		return fmt.Errorf("upload: acquire page: %w", err)
	}
	a.pages = append(a.pages, p)
	a.cur = len(a.pages) - 1
	a.offset = 0
	return nil
}

// Reset rewinds to offset zero of the first page and returns every other
// page to the source. Allocations made before Reset become invalid.
func (a *Allocator) Reset() {
	for _, p := range a.pages[min(1, len(a.pages)):] {
		a.src.ReleaseUploadPage(p)
	}
	if len(a.pages) > 1 {
		clear(a.pages[1:])
		a.pages = a.pages[:1]
	}
	a.cur = 0
	a.offset = 0
	a.used = 0
}

// Release returns every page, including the first, to the source.
func (a *Allocator) Release() {
	for _, p := range a.pages {
		a.src.ReleaseUploadPage(p)
	}
	a.pages = nil
	a.cur = 0
	a.offset = 0
	a.used = 0
}

// Used returns the number of bytes handed out since the last reset,
// including alignment padding of each request.
func (a *Allocator) Used() uint64 { return a.used }

// Pages returns the number of pages currently held.
func (a *Allocator) Pages() int { return len(a.pages) }

func alignUp(v, a uint64) uint64 {
	return (v + a - 1) &^ (a - 1)
}
