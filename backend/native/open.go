//go:build !nogpu

package native

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/gx/gpucore"
)

// ErrNoAdapter is returned when a HAL backend enumerates no adapters.
var ErrNoAdapter = errors.New("native: no GPU adapters found")

// OpenBackend opens a device on a registered HAL backend, preferring
// discrete and integrated GPUs. The backend package must be imported for
// its side effect, e.g. _ "github.com/gogpu/wgpu/hal/vulkan".
//
// The returned function destroys the HAL device and instance.
func OpenBackend(kind gputypes.Backend) (*Device, func(), error) {
	backend, ok := hal.GetBackend(kind)
	if !ok {
		return nil, nil, fmt.Errorf("native: HAL backend %v not registered", kind)
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, nil, gpucore.WrapBackend("create instance", err)
	}
	return openInstance(instance)
}

// OpenNoop opens a device on the noop HAL backend. Commands are accepted
// and fences signal on submission; nothing executes.
func OpenNoop() (*Device, func(), error) {
	instance, err := noop.API{}.CreateInstance(nil)
	if err != nil {
		return nil, nil, gpucore.WrapBackend("create instance", err)
	}
	return openInstance(instance)
}

func openInstance(instance hal.Instance) (*Device, func(), error) {
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, nil, ErrNoAdapter
	}
	selected := &adapters[0]
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, nil, gpucore.WrapBackend("open device", err)
	}
	slogger().Info("native: device opened", "adapter", selected.Info.Name)
	closeFn := func() {
		openDev.Device.Destroy()
		instance.Destroy()
	}
	return New(openDev.Device, openDev.Queue), closeFn, nil
}
