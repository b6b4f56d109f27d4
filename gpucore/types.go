package gpucore

import (
	"fmt"
	"strings"
)

// WorkType selects the kind of hardware queue a command list targets.
type WorkType uint8

// Work types.
const (
	// WorkDirect lists may record graphics, compute and copy work.
	WorkDirect WorkType = iota

	// WorkCompute lists may record compute and copy work.
	WorkCompute

	// WorkCopy lists may record copy work only.
	WorkCopy

	// NumWorkTypes is the number of distinct work types.
	NumWorkTypes
)

var workTypeNames = [...]string{
	WorkDirect:  "direct",
	WorkCompute: "compute",
	WorkCopy:    "copy",
}

// String returns the lowercase name of the work type.
func (w WorkType) String() string {
	if int(w) < len(workTypeNames) {
		return workTypeNames[w]
	}
	return fmt.Sprintf("WorkType(%d)", w)
}

// ParseWorkType converts a name produced by String back to a WorkType.
func ParseWorkType(s string) (WorkType, error) {
	for i, name := range workTypeNames {
		if strings.EqualFold(name, s) {
			return WorkType(i), nil
		}
	}
	return 0, fmt.Errorf("gpucore: unknown work type %q", s)
}

// ResourceState is a bitmask describing how a resource is being used.
// The zero value is StateCommon.
type ResourceState uint32

// Resource states.
const (
	StateCommon                  ResourceState = 0
	StateVertexAndConstantBuffer ResourceState = 1 << 0
	StateIndexBuffer             ResourceState = 1 << 1
	StateRenderTarget            ResourceState = 1 << 2
	StateUnorderedAccess         ResourceState = 1 << 3
	StateDepthWrite              ResourceState = 1 << 4
	StateDepthRead               ResourceState = 1 << 5
	StateShaderResource          ResourceState = 1 << 6
	StateCopyDest                ResourceState = 1 << 7
	StateCopySource              ResourceState = 1 << 8
	StateIndirectArgument        ResourceState = 1 << 9
	StatePresent                 ResourceState = 1 << 10

	// StateGenericRead is the state upload-heap resources live in.
	StateGenericRead = StateVertexAndConstantBuffer | StateIndexBuffer |
		StateShaderResource | StateIndirectArgument | StateCopySource
)

var stateNames = [...]string{
	"vertex_cbv", "index", "render_target", "uav", "depth_write",
	"depth_read", "srv", "copy_dest", "copy_source", "indirect", "present",
}

// String returns a "|"-joined list of set flags, or "common".
func (s ResourceState) String() string {
	if s == StateCommon {
		return "common"
	}
	var parts []string
	for i, name := range stateNames {
		if s&(1<<i) != 0 {
			parts = append(parts, name)
		}
	}
	if rest := s &^ (1<<len(stateNames) - 1); rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", uint32(rest)))
	}
	return strings.Join(parts, "|")
}

// Resource is any GPU object a barrier or binding can refer to.
// Backends define concrete buffer and texture types.
type Resource interface {
	Label() string
}

// Barrier is a state transition of one resource.
type Barrier struct {
	Resource Resource
	Before   ResourceState
	After    ResourceState
}

// String implements fmt.Stringer.
func (b Barrier) String() string {
	label := "<nil>"
	if b.Resource != nil {
		label = b.Resource.Label()
	}
	return fmt.Sprintf("%s: %s -> %s", label, b.Before, b.After)
}

// CPUHandle addresses a descriptor slot for writing and copying.
type CPUHandle uint64

// Offset returns the handle n descriptors after h.
func (h CPUHandle) Offset(n, increment uint32) CPUHandle {
	return h + CPUHandle(uint64(n)*uint64(increment))
}

// GPUHandle addresses a descriptor slot in a shader-visible heap.
type GPUHandle uint64

// Offset returns the handle n descriptors after h.
func (h GPUHandle) Offset(n, increment uint32) GPUHandle {
	return h + GPUHandle(uint64(n)*uint64(increment))
}

// GPUAddress is a virtual address of buffer memory as seen by the GPU.
type GPUAddress uint64

// DescriptorHeapType selects which descriptors a heap stores.
type DescriptorHeapType uint8

// Descriptor heap types.
const (
	HeapCBVSRVUAV DescriptorHeapType = iota
	HeapSampler
	HeapRTV
	HeapDSV
)

// String implements fmt.Stringer.
func (t DescriptorHeapType) String() string {
	switch t {
	case HeapCBVSRVUAV:
		return "cbv_srv_uav"
	case HeapSampler:
		return "sampler"
	case HeapRTV:
		return "rtv"
	case HeapDSV:
		return "dsv"
	default:
		return fmt.Sprintf("DescriptorHeapType(%d)", t)
	}
}

// DescriptorHeapDesc describes a descriptor heap.
type DescriptorHeapDesc struct {
	// Label is an optional debug label.
	Label string

	// Type is the kind of descriptor stored.
	Type DescriptorHeapType

	// Capacity is the number of descriptor slots.
	Capacity uint32

	// ShaderVisible heaps can be bound with SetDescriptorHeaps and expose
	// GPU handles.
	ShaderVisible bool
}

// DescriptorHeap is a fixed-size array of descriptor slots.
type DescriptorHeap interface {
	Desc() DescriptorHeapDesc
	CPUStart() CPUHandle

	// GPUStart returns zero for heaps that are not shader-visible.
	GPUStart() GPUHandle

	// Increment is the handle distance between consecutive slots.
	Increment() uint32
}

// DescriptorRange is a contiguous run of slots within one heap.
type DescriptorRange struct {
	Heap   DescriptorHeap
	Offset uint32
	Count  uint32
}

// CPUAt returns the CPU handle of slot i of the range.
func (r DescriptorRange) CPUAt(i uint32) CPUHandle {
	return r.Heap.CPUStart().Offset(r.Offset+i, r.Heap.Increment())
}

// GPUAt returns the GPU handle of slot i of the range.
func (r DescriptorRange) GPUAt(i uint32) GPUHandle {
	return r.Heap.GPUStart().Offset(r.Offset+i, r.Heap.Increment())
}

// Sub returns the count slots starting at slot off of the range.
func (r DescriptorRange) Sub(off, count uint32) DescriptorRange {
	return DescriptorRange{Heap: r.Heap, Offset: r.Offset + off, Count: count}
}

// ConstantBufferViewDesc describes a constant-buffer view.
type ConstantBufferViewDesc struct {
	Address GPUAddress
	Size    uint32
}

// UploadPage is a CPU-writable, GPU-readable block of memory.
type UploadPage interface {
	// Bytes returns the CPU mapping of the whole page.
	Bytes() []byte

	// GPUAddress returns the address of byte zero of the page.
	GPUAddress() GPUAddress

	Size() uint64

	// Flush makes CPU writes to [off, off+size) visible to the GPU.
	// Backends with coherent memory implement it as a no-op.
	Flush(off, size uint64) error
}

// Viewport is a render-target viewport in pixels.
type Viewport struct {
	X, Y, Width, Height float32
	MinDepth, MaxDepth  float32
}

// Rect is a scissor rectangle in pixels.
type Rect struct {
	X, Y, Width, Height uint32
}

// VertexBufferView binds vertex data by GPU address.
type VertexBufferView struct {
	Address GPUAddress
	Size    uint32
	Stride  uint32
}

// IndexFormat is the element type of an index buffer.
type IndexFormat uint8

// Index formats.
const (
	IndexUint16 IndexFormat = iota
	IndexUint32
)

// Size returns the byte size of one index.
func (f IndexFormat) Size() uint32 {
	if f == IndexUint16 {
		return 2
	}
	return 4
}

// IndexBufferView binds index data by GPU address.
type IndexBufferView struct {
	Address GPUAddress
	Size    uint32
	Format  IndexFormat
}
