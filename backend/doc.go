// Package backend selects the gpucore.Device a program records into.
//
// Device packages register a [Factory] from init, so importing them is
// enough to make them available:
//
//	import (
//		_ "github.com/gogpu/gx/backend/native"
//		_ "github.com/gogpu/gx/backend/trace"
//	)
//
// Use [Open] to request a backend by name, or [Default] to take the best
// one that opens:
//
//	name, dev, closeDev, err := backend.Default()
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer closeDev()
//	sys, err := gx.Open(dev, heap.Config{})
//
// Priority order is vulkan, hal-noop, trace. The vulkan backend also needs
// the HAL driver imported: _ "github.com/gogpu/wgpu/hal/vulkan".
package backend
