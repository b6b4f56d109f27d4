// Package memheap implements descriptor heaps in host memory for backends
// whose native API has no descriptor heaps of its own.
//
// Handles encode the heap id in the upper half and the byte offset of the
// slot in the lower half; GPU handles of shader-visible heaps additionally
// carry gpuBit. Handle zero is never valid.
package memheap

import (
	"fmt"
	"sync"

	"github.com/gogpu/gx/gpucore"
)

// Increment is the handle distance between consecutive descriptors.
const Increment = 32

const gpuBit = 1 << 63

// Kind is the kind of view a descriptor holds.
type Kind uint8

// Descriptor kinds.
const (
	KindNone Kind = iota
	KindCBV
	KindSRV
	KindUAV
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindCBV:
		return "cbv"
	case KindSRV:
		return "srv"
	case KindUAV:
		return "uav"
	default:
		return "none"
	}
}

// Descriptor is the content of one descriptor slot.
type Descriptor struct {
	Kind    Kind
	Address gpucore.GPUAddress
	Size    uint32
}

// Heap is a descriptor heap stored in a slice.
type Heap struct {
	id    uint32
	desc  gpucore.DescriptorHeapDesc
	slots []Descriptor
}

// Desc implements gpucore.DescriptorHeap.
func (h *Heap) Desc() gpucore.DescriptorHeapDesc { return h.desc }

// CPUStart implements gpucore.DescriptorHeap.
func (h *Heap) CPUStart() gpucore.CPUHandle {
	return gpucore.CPUHandle(uint64(h.id) << 32)
}

// GPUStart implements gpucore.DescriptorHeap.
func (h *Heap) GPUStart() gpucore.GPUHandle {
	if !h.desc.ShaderVisible {
		return 0
	}
	return gpucore.GPUHandle(gpuBit | uint64(h.id)<<32)
}

// Increment implements gpucore.DescriptorHeap.
func (h *Heap) Increment() uint32 { return Increment }

// Slots returns the backing slice. Callers must not retain it past the
// heap's lifetime.
func (h *Heap) Slots() []Descriptor { return h.slots }

// Registry owns heaps and resolves handles to slots.
//
// Heap creation and destruction are serialized; slot reads and writes are
// not, so concurrent writers must touch distinct slots.
type Registry struct {
	mu     sync.RWMutex
	heaps  map[uint32]*Heap
	nextID uint32
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{heaps: make(map[uint32]*Heap), nextID: 1}
}

// NewHeap creates a heap.
func (r *Registry) NewHeap(desc gpucore.DescriptorHeapDesc) *Heap {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := &Heap{id: r.nextID, desc: desc, slots: make([]Descriptor, desc.Capacity)}
	r.heaps[h.id] = h
	r.nextID++
	return h
}

// Remove forgets a heap; its handles stop resolving.
func (r *Registry) Remove(h *Heap) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.heaps, h.id)
}

func (r *Registry) resolve(v uint64) (*Heap, uint32, bool) {
	id := uint32(v >> 32 &^ (gpuBit >> 32))
	off := uint32(v) //nolint:gosec // G115: lower half by construction
	if off%Increment != 0 {
		return nil, 0, false
	}
	r.mu.RLock()
	h := r.heaps[id]
	r.mu.RUnlock()
	if h == nil {
		return nil, 0, false
	}
	idx := off / Increment
	if int(idx) >= len(h.slots) {
		return nil, 0, false
	}
	return h, idx, true
}

// Resolve maps a CPU handle to its heap and slot index.
func (r *Registry) Resolve(handle gpucore.CPUHandle) (*Heap, uint32, bool) {
	if uint64(handle)&gpuBit != 0 {
		return nil, 0, false
	}
	return r.resolve(uint64(handle))
}

// ResolveGPU maps a GPU handle to its heap and slot index.
func (r *Registry) ResolveGPU(handle gpucore.GPUHandle) (*Heap, uint32, bool) {
	if uint64(handle)&gpuBit == 0 {
		return nil, 0, false
	}
	h, idx, ok := r.resolve(uint64(handle))
	if !ok || !h.desc.ShaderVisible {
		return nil, 0, false
	}
	return h, idx, true
}

// Read returns the descriptor at a CPU handle.
func (r *Registry) Read(handle gpucore.CPUHandle) (Descriptor, bool) {
	h, idx, ok := r.Resolve(handle)
	if !ok {
		return Descriptor{}, false
	}
	return h.slots[idx], true
}

// ReadGPU returns the descriptor at a GPU handle.
func (r *Registry) ReadGPU(handle gpucore.GPUHandle) (Descriptor, bool) {
	h, idx, ok := r.ResolveGPU(handle)
	if !ok {
		return Descriptor{}, false
	}
	return h.slots[idx], true
}

// ReadTable returns n descriptors starting at a GPU handle.
func (r *Registry) ReadTable(base gpucore.GPUHandle, n uint32) ([]Descriptor, error) {
	h, idx, ok := r.ResolveGPU(base)
	if !ok {
		return nil, fmt.Errorf("memheap: invalid GPU handle %#x", uint64(base))
	}
	if int(idx)+int(n) > len(h.slots) {
		return nil, fmt.Errorf("memheap: table of %d at slot %d overruns heap of %d", n, idx, len(h.slots))
	}
	return h.slots[idx : idx+n], nil
}

// Write stores d at a CPU handle. It panics on an invalid handle.
func (r *Registry) Write(handle gpucore.CPUHandle, d Descriptor) {
	h, idx, ok := r.Resolve(handle)
	if !ok {
		panic(fmt.Sprintf("memheap: write to invalid handle %#x", uint64(handle)))
	}
	h.slots[idx] = d
}

// Copy copies n descriptors from src to dst. It panics if either run leaves
// its heap.
func (r *Registry) Copy(n uint32, dst, src gpucore.CPUHandle) {
	dh, di, ok := r.Resolve(dst)
	if !ok || int(di)+int(n) > len(dh.slots) {
		panic(fmt.Sprintf("memheap: invalid copy destination %#x (+%d)", uint64(dst), n))
	}
	sh, si, ok := r.Resolve(src)
	if !ok || int(si)+int(n) > len(sh.slots) {
		panic(fmt.Sprintf("memheap: invalid copy source %#x (+%d)", uint64(src), n))
	}
	copy(dh.slots[di:di+n], sh.slots[si:si+n])
}
