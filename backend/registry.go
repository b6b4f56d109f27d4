package backend

import (
	"fmt"
	"slices"
	"sync"

	"github.com/gogpu/gx/gpucore"
)

// registry holds registered device factories.
var (
	registryMu sync.RWMutex
	factories  = make(map[string]Factory)
	// Priority order for Default (first that opens wins). Real GPUs come
	// before the noop HAL, which comes before the trace device.
	backendPriority = []string{NameVulkan, NameNoop, NameTrace}
)

// Register registers a device factory under name. Backend packages call it
// from init. Registering a name again replaces the factory.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	factories[name] = factory
}

// Unregister removes a factory. This is useful for testing.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(factories, name)
}

// Available returns the registered names, sorted.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// IsRegistered reports whether a factory is registered under name.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := factories[name]
	return ok
}

// Open opens the device registered under name.
func Open(name string) (gpucore.Device, func(), error) {
	registryMu.RLock()
	factory, ok := factories[name]
	registryMu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrBackendNotAvailable, name)
	}
	dev, closeFn, err := factory()
	if err != nil {
		return nil, nil, fmt.Errorf("backend %q: %w", name, err)
	}
	if closeFn == nil {
		closeFn = func() {}
	}
	return dev, closeFn, nil
}

// Default opens the first backend in priority order that opens
// successfully, then any other registered backend. It returns the name of
// the opened backend.
func Default() (string, gpucore.Device, func(), error) {
	names := Available()
	order := make([]string, 0, len(names))
	for _, name := range backendPriority {
		if slices.Contains(names, name) {
			order = append(order, name)
		}
	}
	for _, name := range names {
		if !slices.Contains(order, name) {
			order = append(order, name)
		}
	}

	for _, name := range order {
		dev, closeFn, err := Open(name)
		if err != nil {
			slogger().Debug("backend: open failed, trying next", "backend", name, "err", err)
			continue
		}
		return name, dev, closeFn, nil
	}
	return "", nil, nil, ErrBackendNotAvailable
}
