// Package trace provides an in-memory gpucore.Device that records commands
// instead of executing them.
//
// Descriptor heaps live in Go slices, upload pages are byte slices with
// synthetic GPU addresses, and each command list keeps the typed [Command]
// values recorded into it. Queues either retire every submission at once
// ([WithAutoRetire]) or wait for an explicit [Queue.Retire], which makes it
// possible to test behavior while work is in flight.
//
// The device checks the rules a real driver enforces: lists must be closed
// before submission and reset, and an allocator must not be reset while a
// list recorded into it is still executing.
package trace

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gx/gpucore"
	"github.com/gogpu/gx/internal/memheap"
	"github.com/gogpu/gx/rootsig"
)

// Descriptor is the content of one descriptor slot.
type Descriptor = memheap.Descriptor

// Descriptor kinds.
const (
	KindNone = memheap.KindNone
	KindCBV  = memheap.KindCBV
	KindSRV  = memheap.KindSRV
	KindUAV  = memheap.KindUAV
)

// Option configures a Device.
type Option func(*Device)

// WithAutoRetire makes queues signal every fence as soon as it is submitted.
func WithAutoRetire() Option {
	return func(d *Device) { d.autoRetire = true }
}

// Stats counts device-level calls.
type Stats struct {
	Allocators      int
	Lists           int
	Queues          int
	UploadPages     int
	DescriptorHeaps int

	// DescriptorCopies counts CopyDescriptorsSimple calls.
	DescriptorCopies uint64

	// CBVs counts CreateConstantBufferView calls.
	CBVs uint64
}

// Device is an in-memory gpucore.Device.
//
// Device is safe for concurrent use.
type Device struct {
	reg        *memheap.Registry
	autoRetire bool

	mu         sync.Mutex
	nextPage   uint32
	nextList   int
	allocators int
	lists      int
	queues     int
	pages      int
	heaps      int

	copies atomic.Uint64
	cbvs   atomic.Uint64
}

var _ gpucore.Device = (*Device)(nil)

// New creates a device.
func New(opts ...Option) *Device {
	d := &Device{reg: memheap.NewRegistry(), nextPage: 1}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// CreateCommandAllocator implements gpucore.Device.
func (d *Device) CreateCommandAllocator(t gpucore.WorkType) (gpucore.CommandAllocator, error) {
	d.mu.Lock()
	d.allocators++
	d.mu.Unlock()
	return &Allocator{workType: t}, nil
}

// CreateCommandList implements gpucore.Device.
func (d *Device) CreateCommandList(t gpucore.WorkType) (gpucore.CommandList, error) {
	d.mu.Lock()
	d.lists++
	d.nextList++
	id := d.nextList
	d.mu.Unlock()
	return &CommandList{id: id, workType: t}, nil
}

// CreateQueue implements gpucore.Device.
func (d *Device) CreateQueue(t gpucore.WorkType) (gpucore.Queue, error) {
	d.mu.Lock()
	d.queues++
	d.mu.Unlock()
	return newQueue(t, d.autoRetire), nil
}

// CreateDescriptorHeap implements gpucore.Device.
func (d *Device) CreateDescriptorHeap(desc gpucore.DescriptorHeapDesc) (gpucore.DescriptorHeap, error) {
	if desc.Capacity == 0 {
		return nil, fmt.Errorf("trace: descriptor heap %q has zero capacity", desc.Label)
	}
	d.mu.Lock()
	d.heaps++
	d.mu.Unlock()
	return d.reg.NewHeap(desc), nil
}

// CreateUploadPage implements gpucore.Device. Page n is placed at GPU
// address n<<32.
func (d *Device) CreateUploadPage(size uint64) (gpucore.UploadPage, error) {
	d.mu.Lock()
	id := d.nextPage
	d.nextPage++
	d.pages++
	d.mu.Unlock()
	return &UploadPage{
		data: make([]byte, size),
		addr: gpucore.GPUAddress(uint64(id) << 32),
	}, nil
}

// CreateConstantBufferView implements gpucore.Device.
func (d *Device) CreateConstantBufferView(desc gpucore.ConstantBufferViewDesc, dst gpucore.CPUHandle) {
	d.cbvs.Add(1)
	d.reg.Write(dst, Descriptor{Kind: KindCBV, Address: desc.Address, Size: desc.Size})
}

// WriteDescriptor stores an arbitrary descriptor at dst; tests use it to
// stage SRVs and UAVs.
func (d *Device) WriteDescriptor(dst gpucore.CPUHandle, desc Descriptor) {
	d.reg.Write(dst, desc)
}

// CopyDescriptorsSimple implements gpucore.Device.
func (d *Device) CopyDescriptorsSimple(n uint32, dst, src gpucore.CPUHandle, _ gpucore.DescriptorHeapType) {
	d.copies.Add(1)
	d.reg.Copy(n, dst, src)
}

// Descriptor returns the descriptor at a CPU handle.
func (d *Device) Descriptor(h gpucore.CPUHandle) (Descriptor, bool) {
	return d.reg.Read(h)
}

// DescriptorAt returns the descriptor at a GPU handle.
func (d *Device) DescriptorAt(h gpucore.GPUHandle) (Descriptor, bool) {
	return d.reg.ReadGPU(h)
}

// Table returns n descriptors starting at a GPU handle.
func (d *Device) Table(base gpucore.GPUHandle, n uint32) ([]Descriptor, error) {
	return d.reg.ReadTable(base, n)
}

// DestroyCommandAllocator implements gpucore.Device.
func (d *Device) DestroyCommandAllocator(gpucore.CommandAllocator) {
	d.mu.Lock()
	d.allocators--
	d.mu.Unlock()
}

// DestroyCommandList implements gpucore.Device.
func (d *Device) DestroyCommandList(gpucore.CommandList) {
	d.mu.Lock()
	d.lists--
	d.mu.Unlock()
}

// DestroyQueue implements gpucore.Device.
func (d *Device) DestroyQueue(gpucore.Queue) {
	d.mu.Lock()
	d.queues--
	d.mu.Unlock()
}

// DestroyDescriptorHeap implements gpucore.Device.
func (d *Device) DestroyDescriptorHeap(h gpucore.DescriptorHeap) {
	if mh, ok := h.(*memheap.Heap); ok {
		d.reg.Remove(mh)
	}
	d.mu.Lock()
	d.heaps--
	d.mu.Unlock()
}

// DestroyUploadPage implements gpucore.Device.
func (d *Device) DestroyUploadPage(gpucore.UploadPage) {
	d.mu.Lock()
	d.pages--
	d.mu.Unlock()
}

// Stats returns the number of live objects and call counters.
func (d *Device) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{
		Allocators:       d.allocators,
		Lists:            d.lists,
		Queues:           d.queues,
		UploadPages:      d.pages,
		DescriptorHeaps:  d.heaps,
		DescriptorCopies: d.copies.Load(),
		CBVs:             d.cbvs.Load(),
	}
}

// UploadPage is a byte slice with a synthetic GPU address.
type UploadPage struct {
	data    []byte
	addr    gpucore.GPUAddress
	flushes atomic.Uint64
}

// Bytes implements gpucore.UploadPage.
func (p *UploadPage) Bytes() []byte { return p.data }

// GPUAddress implements gpucore.UploadPage.
func (p *UploadPage) GPUAddress() gpucore.GPUAddress { return p.addr }

// Size implements gpucore.UploadPage.
func (p *UploadPage) Size() uint64 { return uint64(len(p.data)) }

// Flush implements gpucore.UploadPage.
func (p *UploadPage) Flush(off, size uint64) error {
	if off+size > uint64(len(p.data)) {
		return fmt.Errorf("trace: flush [%d,%d) outside page of %d", off, off+size, len(p.data))
	}
	p.flushes.Add(1)
	return nil
}

// Flushes returns the number of Flush calls.
func (p *UploadPage) Flushes() uint64 { return p.flushes.Load() }

// Resource is a named buffer or texture.
type Resource struct {
	label string
}

// NewResource creates a resource.
func NewResource(label string) *Resource { return &Resource{label: label} }

// Label implements gpucore.Resource.
func (r *Resource) Label() string { return r.label }

// PipelineState is a pipeline state with no compiled code.
type PipelineState struct {
	label string
	kind  gpucore.PipelineKind
	md    *rootsig.Metadata
}

// NewPipelineState creates a pipeline state with the given root signature.
func NewPipelineState(label string, kind gpucore.PipelineKind, md *rootsig.Metadata) *PipelineState {
	return &PipelineState{label: label, kind: kind, md: md}
}

// Label implements gpucore.PipelineState.
func (p *PipelineState) Label() string { return p.label }

// Kind implements gpucore.PipelineState.
func (p *PipelineState) Kind() gpucore.PipelineKind { return p.kind }

// RootSignature implements gpucore.PipelineState.
func (p *PipelineState) RootSignature() *rootsig.Metadata { return p.md }
