package trace

import (
	"github.com/gogpu/gx/backend"
	"github.com/gogpu/gx/gpucore"
)

func init() {
	backend.Register(backend.NameTrace, func() (gpucore.Device, func(), error) {
		return New(WithAutoRetire()), func() {}, nil
	})
}
