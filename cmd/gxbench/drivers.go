//go:build !nogpu

package main

// Registers the Vulkan HAL driver for the "vulkan" backend.
import _ "github.com/gogpu/wgpu/hal/vulkan"
