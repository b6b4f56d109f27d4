//go:build !nogpu

// Package native implements gpucore.Device on top of the gogpu/wgpu HAL.
//
// The HAL follows the WebGPU binding model, so the device emulates the
// pieces gpucore expects from an explicit API:
//
//   - GPU addresses are synthetic. Every [Buffer] owns a 4 GiB window of
//     the address space and root views resolve back to (buffer, offset).
//   - Descriptor heaps live in host memory. At each dispatch or draw the
//     bound root views and descriptor tables are turned into one transient
//     bind group at group 0, laid out by [BindingLayout].
//   - Command lists record into a slice and are encoded into a HAL command
//     buffer on Close. Draws share a render pass until the targets change
//     or a barrier, dispatch or clear intervenes; each clear is a render
//     pass of its own.
//   - Each queue owns a HAL fence. All queues share the device's HAL queue.
//
// Texture barriers become TransitionTextures calls. Buffer barriers have no
// HAL equivalent and are dropped.
package native
