//go:build !nogpu

package native

import (
	"fmt"
	"sync"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gx/gpucore"
)

// maxBufferSize is the size of one buffer's address window.
const maxBufferSize = 1 << 32

// addressSpace hands out address windows. Window n starts at n<<32, so
// address zero is never valid.
type addressSpace struct {
	mu      sync.RWMutex
	buffers map[uint32]*Buffer
	next    uint32
}

func newAddressSpace() *addressSpace {
	return &addressSpace{buffers: make(map[uint32]*Buffer), next: 1}
}

func (s *addressSpace) insert(b *Buffer) gpucore.GPUAddress {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	s.buffers[id] = b
	return gpucore.GPUAddress(uint64(id) << 32)
}

func (s *addressSpace) remove(base gpucore.GPUAddress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buffers, uint32(uint64(base)>>32)) //nolint:gosec // G115: window id
}

func (s *addressSpace) lookup(addr gpucore.GPUAddress) (*Buffer, uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.buffers[uint32(uint64(addr)>>32)] //nolint:gosec // G115: window id
	if !ok {
		return nil, 0, false
	}
	off := uint64(addr) - uint64(b.base)
	if off >= b.size {
		return nil, 0, false
	}
	return b, off, true
}

// Buffer is a HAL buffer with a GPU address. It implements gpucore.Resource.
type Buffer struct {
	dev   *Device
	label string
	hal   hal.Buffer
	size  uint64
	base  gpucore.GPUAddress
}

// Label implements gpucore.Resource.
func (b *Buffer) Label() string { return b.label }

// HAL returns the underlying HAL buffer.
func (b *Buffer) HAL() hal.Buffer { return b.hal }

// Size returns the buffer size in bytes.
func (b *Buffer) Size() uint64 { return b.size }

// Address returns the GPU address of byte off.
func (b *Buffer) Address(off uint64) gpucore.GPUAddress {
	return b.base + gpucore.GPUAddress(off)
}

// Destroy frees the HAL buffer. Its addresses stop resolving.
func (b *Buffer) Destroy() {
	if b.hal == nil {
		return
	}
	b.dev.space.remove(b.base)
	b.dev.hal.DestroyBuffer(b.hal)
	b.hal = nil
}

// UploadPage is a HAL buffer with a host-side shadow.
type UploadPage struct {
	dev    *Device
	buf    *Buffer
	shadow []byte
}

// Bytes implements gpucore.UploadPage.
func (p *UploadPage) Bytes() []byte { return p.shadow }

// GPUAddress implements gpucore.UploadPage.
func (p *UploadPage) GPUAddress() gpucore.GPUAddress { return p.buf.base }

// Size implements gpucore.UploadPage.
func (p *UploadPage) Size() uint64 { return p.buf.size }

// Flush implements gpucore.UploadPage.
func (p *UploadPage) Flush(off, size uint64) error {
	if off+size > uint64(len(p.shadow)) {
		return fmt.Errorf("native: flush [%d,%d) outside page of %d", off, off+size, len(p.shadow))
	}
	return p.dev.WriteBuffer(p.buf, off, p.shadow[off:off+size])
}

// Texture is a HAL texture and the view render passes attach. It implements
// gpucore.Resource.
type Texture struct {
	label string
	tex   hal.Texture
	view  hal.TextureView
}

// NewTexture wraps a texture and its attachment view. The caller keeps
// ownership of both.
func NewTexture(label string, tex hal.Texture, view hal.TextureView) *Texture {
	return &Texture{label: label, tex: tex, view: view}
}

// Label implements gpucore.Resource.
func (t *Texture) Label() string { return t.label }
