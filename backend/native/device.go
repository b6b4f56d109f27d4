//go:build !nogpu

package native

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gx/gpucore"
	"github.com/gogpu/gx/internal/memheap"
)

var (
	// ErrNoHALDevice is returned when a provider does not expose a HAL
	// device and queue.
	ErrNoHALDevice = errors.New("native: provider does not expose HAL types")

	// ErrUnknownAddress is returned when a GPU address does not fall inside
	// a live buffer.
	ErrUnknownAddress = errors.New("native: address outside any buffer")

	// ErrUnboundDescriptor is returned when a table slot read by a draw or
	// dispatch holds no descriptor.
	ErrUnboundDescriptor = errors.New("native: descriptor slot is empty")
)

// uploadUsage is the usage of upload pages: anything gx may point a root
// view, vertex buffer or index buffer at.
const uploadUsage = gputypes.BufferUsageUniform | gputypes.BufferUsageStorage |
	gputypes.BufferUsageVertex | gputypes.BufferUsageIndex | gputypes.BufferUsageCopyDst

// Device is a gpucore.Device backed by a HAL device and queue.
//
// Device is safe for concurrent use.
type Device struct {
	hal   hal.Device
	queue hal.Queue

	reg   *memheap.Registry
	space *addressSpace

	// submitMu serializes use of the shared HAL queue.
	submitMu sync.Mutex
}

var _ gpucore.Device = (*Device)(nil)

// New wraps a HAL device and queue. The caller keeps ownership of both.
func New(device hal.Device, queue hal.Queue) *Device {
	return &Device{
		hal:   device,
		queue: queue,
		reg:   memheap.NewRegistry(),
		space: newAddressSpace(),
	}
}

// NewFromProvider wraps the HAL device of a gpucontext provider, such as a
// gogpu application. The provider must implement HalDevice() any and
// HalQueue() any.
func NewFromProvider(provider gpucontext.DeviceProvider) (*Device, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, ErrNoHALDevice
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("%w: HalDevice is %T", ErrNoHALDevice, hp.HalDevice())
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("%w: HalQueue is %T", ErrNoHALDevice, hp.HalQueue())
	}
	return New(device, queue), nil
}

// HAL returns the wrapped HAL device.
func (d *Device) HAL() hal.Device { return d.hal }

// CreateCommandAllocator implements gpucore.Device.
func (d *Device) CreateCommandAllocator(t gpucore.WorkType) (gpucore.CommandAllocator, error) {
	enc, err := d.hal.CreateCommandEncoder(&hal.CommandEncoderDescriptor{
		Label: "gx_" + t.String(),
	})
	if err != nil {
		return nil, gpucore.WrapBackend("create command encoder", err)
	}
	return &Allocator{dev: d, workType: t, enc: enc}, nil
}

// CreateCommandList implements gpucore.Device.
func (d *Device) CreateCommandList(t gpucore.WorkType) (gpucore.CommandList, error) {
	return &CommandList{dev: d, workType: t}, nil
}

// CreateQueue implements gpucore.Device.
func (d *Device) CreateQueue(t gpucore.WorkType) (gpucore.Queue, error) {
	fence, err := d.hal.CreateFence()
	if err != nil {
		return nil, gpucore.WrapBackend("create fence", err)
	}
	return &Queue{dev: d, workType: t, fence: fence}, nil
}

// CreateDescriptorHeap implements gpucore.Device.
func (d *Device) CreateDescriptorHeap(desc gpucore.DescriptorHeapDesc) (gpucore.DescriptorHeap, error) {
	if desc.Capacity == 0 {
		return nil, fmt.Errorf("native: descriptor heap %q has zero capacity", desc.Label)
	}
	return d.reg.NewHeap(desc), nil
}

// CreateUploadPage implements gpucore.Device. The page is a HAL buffer with
// a host shadow; Flush copies the shadow range with Queue.WriteBuffer.
func (d *Device) CreateUploadPage(size uint64) (gpucore.UploadPage, error) {
	buf, err := d.NewBuffer("gx_upload", size, uploadUsage)
	if err != nil {
		return nil, err
	}
	return &UploadPage{dev: d, buf: buf, shadow: make([]byte, size)}, nil
}

// CreateConstantBufferView implements gpucore.Device.
func (d *Device) CreateConstantBufferView(desc gpucore.ConstantBufferViewDesc, dst gpucore.CPUHandle) {
	d.reg.Write(dst, memheap.Descriptor{Kind: memheap.KindCBV, Address: desc.Address, Size: desc.Size})
}

// CreateShaderResourceView writes a read-only buffer descriptor at dst.
func (d *Device) CreateShaderResourceView(addr gpucore.GPUAddress, size uint32, dst gpucore.CPUHandle) {
	d.reg.Write(dst, memheap.Descriptor{Kind: memheap.KindSRV, Address: addr, Size: size})
}

// CreateUnorderedAccessView writes a read-write buffer descriptor at dst.
func (d *Device) CreateUnorderedAccessView(addr gpucore.GPUAddress, size uint32, dst gpucore.CPUHandle) {
	d.reg.Write(dst, memheap.Descriptor{Kind: memheap.KindUAV, Address: addr, Size: size})
}

// CopyDescriptorsSimple implements gpucore.Device.
func (d *Device) CopyDescriptorsSimple(n uint32, dst, src gpucore.CPUHandle, _ gpucore.DescriptorHeapType) {
	d.reg.Copy(n, dst, src)
}

// DestroyCommandAllocator implements gpucore.Device.
func (d *Device) DestroyCommandAllocator(alloc gpucore.CommandAllocator) {
	a, ok := alloc.(*Allocator)
	if !ok {
		return
	}
	a.release()
}

// DestroyCommandList implements gpucore.Device.
func (d *Device) DestroyCommandList(gpucore.CommandList) {}

// DestroyQueue implements gpucore.Device.
func (d *Device) DestroyQueue(q gpucore.Queue) {
	nq, ok := q.(*Queue)
	if !ok || nq.fence == nil {
		return
	}
	d.hal.DestroyFence(nq.fence)
	nq.fence = nil
}

// DestroyDescriptorHeap implements gpucore.Device.
func (d *Device) DestroyDescriptorHeap(h gpucore.DescriptorHeap) {
	if mh, ok := h.(*memheap.Heap); ok {
		d.reg.Remove(mh)
	}
}

// DestroyUploadPage implements gpucore.Device.
func (d *Device) DestroyUploadPage(page gpucore.UploadPage) {
	if p, ok := page.(*UploadPage); ok {
		p.buf.Destroy()
	}
}

// NewBuffer creates a HAL buffer and assigns it a GPU address range.
func (d *Device) NewBuffer(label string, size uint64, usage gputypes.BufferUsage) (*Buffer, error) {
	if size == 0 || size > maxBufferSize {
		return nil, fmt.Errorf("native: buffer %q size %d out of range", label, size)
	}
	hb, err := d.hal.CreateBuffer(&hal.BufferDescriptor{
		Label: label,
		Size:  size,
		Usage: usage,
	})
	if err != nil {
		return nil, gpucore.WrapBackend("create buffer "+label, err)
	}
	b := &Buffer{dev: d, label: label, hal: hb, size: size}
	b.base = d.space.insert(b)
	slogger().Debug("native: buffer created", "label", label, "size", size, "address", uint64(b.base))
	return b, nil
}

// WriteBuffer copies data into b at offset through the HAL queue.
func (d *Device) WriteBuffer(b *Buffer, offset uint64, data []byte) error {
	if offset+uint64(len(data)) > b.size {
		return fmt.Errorf("native: write [%d,%d) outside buffer %q of %d", offset, offset+uint64(len(data)), b.label, b.size)
	}
	d.submitMu.Lock()
	defer d.submitMu.Unlock()
	d.queue.WriteBuffer(b.hal, offset, data)
	return nil
}

// resolve maps an address to the buffer containing it and the offset
// within that buffer.
func (d *Device) resolve(addr gpucore.GPUAddress) (*Buffer, uint64, error) {
	b, off, ok := d.space.lookup(addr)
	if !ok {
		return nil, 0, fmt.Errorf("%w: %#x", ErrUnknownAddress, uint64(addr))
	}
	return b, off, nil
}

// SetLogger sets the backend logger; gx.SetLogger reaches it through the
// System that owns the device.
func (d *Device) SetLogger(l *slog.Logger) { SetLogger(l) }
