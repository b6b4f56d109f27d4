// Package heap provides the frame-lifetime memory shared by all command
// contexts of a device: upload pages, blocks of CPU descriptor scratch
// space, and per-frame segments of one shader-visible descriptor heap.
//
// Contexts borrow from a [Heaps] and give everything back on reset. The
// shader-visible heap is split into one segment per frame in flight;
// [Heaps.BeginFrame] recycles a segment once the caller knows the GPU has
// finished the frame that last used it.
package heap

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/gx/gpucore"
)

// ErrClosed is returned when operating on closed heaps.
var ErrClosed = errors.New("heap: closed")

// Defaults.
const (
	// DefaultUploadPageSize is the size of one upload page (64 KiB).
	DefaultUploadPageSize = 64 * 1024

	// DefaultMaxUploadPages bounds the shared upload heap (16 MiB by default).
	DefaultMaxUploadPages = 256

	// DefaultScratchBlockSize is the number of CPU descriptors per context block.
	DefaultScratchBlockSize = 256

	// DefaultScratchBlocks is the number of scratch blocks in the CPU heap.
	DefaultScratchBlocks = 64

	// DefaultShaderVisibleCapacity is the total shader-visible descriptor count.
	DefaultShaderVisibleCapacity = 1 << 16

	// DefaultFrameCount is the number of frames in flight.
	DefaultFrameCount = 2

	// ConstantBufferAlignment is the placement alignment of constant buffer data.
	ConstantBufferAlignment = 256
)

// Config holds configuration for creating Heaps.
type Config struct {
	// UploadPageSize is the size of one upload page in bytes. It is rounded
	// up to ConstantBufferAlignment. Defaults to DefaultUploadPageSize if 0.
	UploadPageSize uint64 `mapstructure:"upload_page_size"`

	// MaxUploadPages bounds the number of live upload pages.
	// Defaults to DefaultMaxUploadPages if <= 0.
	MaxUploadPages int `mapstructure:"max_upload_pages"`

	// ScratchBlockSize is the number of descriptors one context may stage.
	// Defaults to DefaultScratchBlockSize if 0.
	ScratchBlockSize uint32 `mapstructure:"scratch_block_size"`

	// ScratchBlocks is the number of scratch blocks, i.e. the number of
	// contexts that can hold one at a time. Defaults to DefaultScratchBlocks if <= 0.
	ScratchBlocks int `mapstructure:"scratch_blocks"`

	// ShaderVisibleCapacity is the size of the shader-visible heap.
	// Defaults to DefaultShaderVisibleCapacity if 0.
	ShaderVisibleCapacity uint32 `mapstructure:"shader_visible_capacity"`

	// FrameCount is the number of shader-visible segments.
	// Defaults to DefaultFrameCount if <= 0.
	FrameCount int `mapstructure:"frame_count"`
}

// withDefaults returns c with zero fields replaced by defaults.
func (c Config) withDefaults() Config {
	if c.UploadPageSize == 0 {
		c.UploadPageSize = DefaultUploadPageSize
	}
	c.UploadPageSize = alignUp(c.UploadPageSize, ConstantBufferAlignment)
	if c.MaxUploadPages <= 0 {
		c.MaxUploadPages = DefaultMaxUploadPages
	}
	if c.ScratchBlockSize == 0 {
		c.ScratchBlockSize = DefaultScratchBlockSize
	}
	if c.ScratchBlocks <= 0 {
		c.ScratchBlocks = DefaultScratchBlocks
	}
	if c.ShaderVisibleCapacity == 0 {
		c.ShaderVisibleCapacity = DefaultShaderVisibleCapacity
	}
	if c.FrameCount <= 0 {
		c.FrameCount = DefaultFrameCount
	}
	return c
}

// Stats contains heap usage statistics.
type Stats struct {
	// UploadPages is the number of upload pages created.
	UploadPages int

	// UploadPagesInUse is the number of pages held by contexts.
	UploadPagesInUse int

	// ScratchBlocksInUse is the number of scratch blocks held by contexts.
	ScratchBlocksInUse int

	// Frame is the current shader-visible segment.
	Frame int

	// FrameDescriptors is the number of shader-visible descriptors allocated
	// in the current segment.
	FrameDescriptors uint32

	// FrameCapacity is the size of one segment.
	FrameCapacity uint32
}

// String returns a human-readable string of heap stats.
func (s Stats) String() string {
	return fmt.Sprintf("Heaps[%d/%d upload pages, %d scratch blocks, frame %d: %d/%d descriptors]",
		s.UploadPagesInUse, s.UploadPages, s.ScratchBlocksInUse,
		s.Frame, s.FrameDescriptors, s.FrameCapacity)
}

// Heaps is the frame heap provider of one device.
//
// Heaps is safe for concurrent use.
type Heaps struct {
	mu  sync.Mutex
	dev gpucore.Device
	cfg Config

	pages     []gpucore.UploadPage
	freePages []gpucore.UploadPage

	cpuHeap     gpucore.DescriptorHeap
	freeBlocks  []uint32
	blocksInUse int

	gpuHeap     gpucore.DescriptorHeap
	segmentSize uint32
	frame       int
	frameUsed   uint32

	closed bool
}

// New creates the descriptor heaps described by cfg on dev. Upload pages are
// created lazily.
func New(dev gpucore.Device, cfg Config) (*Heaps, error) {
	cfg = cfg.withDefaults()

	//nolint:gosec // G115: ScratchBlocks is small
	cpuCap := cfg.ScratchBlockSize * uint32(cfg.ScratchBlocks)
	cpuHeap, err := dev.CreateDescriptorHeap(gpucore.DescriptorHeapDesc{
		Label:    "gx scratch descriptors",
		Type:     gpucore.HeapCBVSRVUAV,
		Capacity: cpuCap,
	})
	if err != nil {
		return nil, gpucore.WrapBackend("CreateDescriptorHeap", err)
	}
	gpuHeap, err := dev.CreateDescriptorHeap(gpucore.DescriptorHeapDesc{
		Label:         "gx frame descriptors",
		Type:          gpucore.HeapCBVSRVUAV,
		Capacity:      cfg.ShaderVisibleCapacity,
		ShaderVisible: true,
	})
	if err != nil {
		dev.DestroyDescriptorHeap(cpuHeap)
		return nil, gpucore.WrapBackend("CreateDescriptorHeap", err)
	}

	h := &Heaps{
		dev:     dev,
		cfg:     cfg,
		cpuHeap: cpuHeap,
		gpuHeap: gpuHeap,
		//nolint:gosec // G115: FrameCount is small
		segmentSize: cfg.ShaderVisibleCapacity / uint32(cfg.FrameCount),
	}
	for i := cfg.ScratchBlocks - 1; i >= 0; i-- {
		//nolint:gosec // G115: bounded by ScratchBlocks
		h.freeBlocks = append(h.freeBlocks, uint32(i))
	}
	slogger().Debug("heap: created",
		"upload_page_size", cfg.UploadPageSize,
		"scratch_descriptors", cpuCap,
		"shader_visible", cfg.ShaderVisibleCapacity,
		"frames", cfg.FrameCount)
	return h, nil
}

// Config returns the effective configuration.
func (h *Heaps) Config() Config { return h.cfg }

// UploadPageSize returns the size of every upload page.
func (h *Heaps) UploadPageSize() uint64 { return h.cfg.UploadPageSize }

// AcquireUploadPage returns a free upload page, creating one if the heap is
// below MaxUploadPages.
func (h *Heaps) AcquireUploadPage() (gpucore.UploadPage, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrClosed
	}
	if n := len(h.freePages); n > 0 {
		p := h.freePages[n-1]
		h.freePages = h.freePages[:n-1]
		return p, nil
	}
	if len(h.pages) >= h.cfg.MaxUploadPages {
		return nil, fmt.Errorf("heap: %d upload pages in use: %w",
			len(h.pages), gpucore.ErrOutOfMemory)
	}
	p, err := h.dev.CreateUploadPage(h.cfg.UploadPageSize)
	if err != nil {
		return nil, gpucore.WrapBackend("CreateUploadPage", err)
	}
	h.pages = append(h.pages, p)
	slogger().Debug("heap: upload page created", "pages", len(h.pages))
	return p, nil
}

// ReleaseUploadPage returns a page for reuse. The caller guarantees the GPU
// no longer reads it.
func (h *Heaps) ReleaseUploadPage(p gpucore.UploadPage) {
	if p == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		h.dev.DestroyUploadPage(p)
		return
	}
	h.freePages = append(h.freePages, p)
}

// AcquireScratchBlock returns a range of ScratchBlockSize CPU descriptors.
func (h *Heaps) AcquireScratchBlock() (gpucore.DescriptorRange, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return gpucore.DescriptorRange{}, ErrClosed
	}
	n := len(h.freeBlocks)
	if n == 0 {
		return gpucore.DescriptorRange{}, fmt.Errorf("heap: all %d scratch blocks in use: %w",
			h.cfg.ScratchBlocks, gpucore.ErrOutOfMemory)
	}
	b := h.freeBlocks[n-1]
	h.freeBlocks = h.freeBlocks[:n-1]
	h.blocksInUse++
	size := h.cfg.ScratchBlockSize
	return gpucore.DescriptorRange{Heap: h.cpuHeap, Offset: b * size, Count: size}, nil
}

// ReleaseScratchBlock returns a block obtained from AcquireScratchBlock.
func (h *Heaps) ReleaseScratchBlock(r gpucore.DescriptorRange) {
	if r.Heap == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.freeBlocks = append(h.freeBlocks, r.Offset/h.cfg.ScratchBlockSize)
	h.blocksInUse--
}

// AllocateShaderVisible reserves n contiguous shader-visible descriptors in
// the current frame segment. The range is valid until BeginFrame recycles
// the segment.
func (h *Heaps) AllocateShaderVisible(n uint32) (gpucore.DescriptorRange, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return gpucore.DescriptorRange{}, ErrClosed
	}
	if h.frameUsed+n > h.segmentSize {
		return gpucore.DescriptorRange{}, fmt.Errorf("heap: frame %d needs %d descriptors, %d free: %w",
			h.frame, n, h.segmentSize-h.frameUsed, gpucore.ErrOutOfMemory)
	}
	//nolint:gosec // G115: frame < FrameCount
	off := uint32(h.frame)*h.segmentSize + h.frameUsed
	h.frameUsed += n
	return gpucore.DescriptorRange{Heap: h.gpuHeap, Offset: off, Count: n}, nil
}

// ShaderVisibleHeaps returns the heaps contexts must bind before using
// ranges from AllocateShaderVisible.
func (h *Heaps) ShaderVisibleHeaps() []gpucore.DescriptorHeap {
	return []gpucore.DescriptorHeap{h.gpuHeap}
}

// FrameCount returns the number of shader-visible segments.
func (h *Heaps) FrameCount() int { return h.cfg.FrameCount }

// BeginFrame makes segment slot current and empties it. The caller
// guarantees the GPU has finished the frame that last used the segment.
func (h *Heaps) BeginFrame(slot int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if slot < 0 || slot >= h.cfg.FrameCount {
		panic(fmt.Sprintf("heap: frame slot %d out of range [0,%d)", slot, h.cfg.FrameCount))
	}
	if h.frameUsed > 0 {
		slogger().Debug("heap: frame segment retired",
			"frame", h.frame, "descriptors", h.frameUsed)
	}
	h.frame = slot
	h.frameUsed = 0
}

// Stats returns current heap statistics.
func (h *Heaps) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Stats{
		UploadPages:        len(h.pages),
		UploadPagesInUse:   len(h.pages) - len(h.freePages),
		ScratchBlocksInUse: h.blocksInUse,
		Frame:              h.frame,
		FrameDescriptors:   h.frameUsed,
		FrameCapacity:      h.segmentSize,
	}
}

// Close destroys the descriptor heaps and every free upload page. Pages
// still held by contexts are destroyed when released.
func (h *Heaps) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for _, p := range h.freePages {
		h.dev.DestroyUploadPage(p)
	}
	h.freePages = nil
	h.dev.DestroyDescriptorHeap(h.cpuHeap)
	h.dev.DestroyDescriptorHeap(h.gpuHeap)
}

func alignUp(v, a uint64) uint64 {
	return (v + a - 1) &^ (a - 1)
}
