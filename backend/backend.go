package backend

import (
	"errors"

	"github.com/gogpu/gx/gpucore"
)

// Backend names.
const (
	// NameTrace is the in-memory recording device of package trace.
	NameTrace = "trace"

	// NameNoop is the native device over the noop HAL backend.
	NameNoop = "hal-noop"

	// NameVulkan is the native device over the Vulkan HAL backend.
	NameVulkan = "vulkan"
)

// Common backend errors.
var (
	// ErrBackendNotAvailable is returned when a requested backend is not
	// registered or fails to open.
	ErrBackendNotAvailable = errors.New("backend: not available")
)

// Factory opens a device. The returned function releases it and must be
// called once the device is no longer used.
type Factory func() (gpucore.Device, func(), error)
