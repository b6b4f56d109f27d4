//go:build !nogpu

package native

import (
	"github.com/gogpu/gputypes"

	"github.com/gogpu/gx/backend"
	"github.com/gogpu/gx/gpucore"
)

func init() {
	backend.Register(backend.NameNoop, factory(OpenNoop))
	backend.Register(backend.NameVulkan, factory(func() (*Device, func(), error) {
		return OpenBackend(gputypes.BackendVulkan)
	}))
}

func factory(open func() (*Device, func(), error)) backend.Factory {
	return func() (gpucore.Device, func(), error) {
		d, closeFn, err := open()
		if err != nil {
			return nil, nil, err
		}
		return d, closeFn, nil
	}
}
