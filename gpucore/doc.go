// Package gpucore defines the native GPU API contract the gx command contexts
// record against.
//
// The contract is deliberately shaped like an explicit API (command
// allocators, command lists, queues with fences, descriptor heaps) so that
// the recording layer above it stays backend-agnostic:
//
//	               +-----------------+
//	               |   gx contexts   |
//	               +--------+--------+
//	                        |
//	               +--------v--------+
//	               |     gpucore     |
//	               +--------+--------+
//	                        |
//	         +--------------+--------------+
//	         |                             |
//	+--------v--------+          +--------v--------+
//	|  backend/trace  |          | backend/native  |
//	|   (in-memory)   |          |  (hal.Device)   |
//	+-----------------+          +--------+--------+
//	                                      |
//	                             +--------v--------+
//	                             |   gogpu/wgpu    |
//	                             +-----------------+
//
// # Objects
//
// A [Device] creates every other object. A [CommandList] records into the
// memory owned by a [CommandAllocator]; an allocator may only be reset once
// the GPU has finished with every list recorded into it. A [Queue] executes
// closed lists in submission order and signals a monotonically increasing
// fence value for each.
//
// Descriptors live in [DescriptorHeap] objects and are addressed by
// [CPUHandle] (for writes and copies) and, for shader-visible heaps,
// [GPUHandle] (for binding). A [DescriptorRange] names a contiguous run of
// slots in one heap.
//
// # Handles
//
// Handles are plain integers. Consecutive descriptors in a heap are
// [DescriptorHeap.Increment] apart, so handle arithmetic is the same on every
// backend.
//
// # Errors
//
// Backend failures are reported as [*BackendError]. The remaining sentinels
// classify errors raised by the recording layer; see errors.go.
package gpucore
