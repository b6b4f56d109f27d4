package gx

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/gx/cmdlist"
	"github.com/gogpu/gx/gpucore"
	"github.com/gogpu/gx/heap"
)

// FrameHeaps provides the frame-lifetime memory contexts borrow from.
// *heap.Heaps implements it.
type FrameHeaps interface {
	AcquireUploadPage() (gpucore.UploadPage, error)
	ReleaseUploadPage(p gpucore.UploadPage)
	UploadPageSize() uint64

	AcquireScratchBlock() (gpucore.DescriptorRange, error)
	ReleaseScratchBlock(r gpucore.DescriptorRange)

	// AllocateShaderVisible reserves n contiguous descriptors in the heap
	// returned by ShaderVisibleHeaps.
	AllocateShaderVisible(n uint32) (gpucore.DescriptorRange, error)
	ShaderVisibleHeaps() []gpucore.DescriptorHeap
}

var _ FrameHeaps = (*heap.Heaps)(nil)

// System wires a device to its queues, its command list pool and the frame
// heaps, and creates command contexts.
//
// System is safe for concurrent use. The contexts it creates are not.
type System struct {
	dev    gpucore.Device
	heaps  FrameHeaps
	queues [gpucore.NumWorkTypes]*cmdlist.Queue
	pool   *cmdlist.Pool
	opts   options

	// ownedHeaps is set by Open; Close closes it.
	ownedHeaps *heap.Heaps

	mu     sync.Mutex
	closed bool
}

// New creates a system with one queue per work type.
func New(dev gpucore.Device, heaps FrameHeaps, opts ...Option) (*System, error) {
	s := &System{dev: dev, heaps: heaps, opts: defaultOptions().with(opts)}
	for t := range gpucore.NumWorkTypes {
		q, err := cmdlist.NewQueue(dev, t)
		if err != nil {
			s.closeQueues()
			return nil, fmt.Errorf("gx: create %s queue: %w", t, err)
		}
		s.queues[t] = q
	}
	s.pool = cmdlist.NewPool(dev, s.queues[:]...)
	trackDevice(dev)
	Logger().Info("gx: system created", "device", fmt.Sprintf("%T", dev))
	return s, nil
}

// Open creates frame heaps from cfg and a system that owns them.
func Open(dev gpucore.Device, cfg heap.Config, opts ...Option) (*System, error) {
	h, err := heap.New(dev, cfg)
	if err != nil {
		return nil, fmt.Errorf("gx: create heaps: %w", err)
	}
	s, err := New(dev, h, opts...)
	if err != nil {
		h.Close()
		return nil, err
	}
	s.ownedHeaps = h
	return s, nil
}

// Device returns the device.
func (s *System) Device() gpucore.Device { return s.dev }

// Heaps returns the frame heaps.
func (s *System) Heaps() FrameHeaps { return s.heaps }

// Queue returns the queue of work type t.
func (s *System) Queue(t gpucore.WorkType) *cmdlist.Queue { return s.queues[t] }

// Pool returns the command list pool.
func (s *System) Pool() *cmdlist.Pool { return s.pool }

// NewComputeContext creates a compute context recording for the compute
// queue.
func (s *System) NewComputeContext(opts ...Option) (*ComputeContext, error) {
	c, err := s.newContext(gpucore.WorkCompute, computeBinder{}, opts)
	if err != nil {
		return nil, err
	}
	return &ComputeContext{c}, nil
}

// NewGraphicsContext creates a graphics context recording for the direct
// queue.
func (s *System) NewGraphicsContext(opts ...Option) (*GraphicsContext, error) {
	c, err := s.newContext(gpucore.WorkDirect, graphicsBinder{}, opts)
	if err != nil {
		return nil, err
	}
	return &GraphicsContext{c}, nil
}

func (s *System) newContext(t gpucore.WorkType, b binder, opts []Option) (*CommandContext, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	return newCommandContext(s, t, b, s.opts.with(opts))
}

// WaitIdle waits until every queue has finished all submitted work.
func (s *System) WaitIdle(ctx context.Context) error {
	var errs []error
	for _, q := range s.queues {
		if q == nil {
			continue
		}
		if err := q.Idle(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close waits for the GPU, then destroys the pool, the queues and, for a
// system made by Open, the heaps. Contexts must be closed first.
func (s *System) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.WaitIdle(ctx)
	s.pool.Close()
	s.closeQueues()
	if s.ownedHeaps != nil {
		s.ownedHeaps.Close()
	}
	untrackDevice(s.dev)
	Logger().Debug("gx: system closed", "pool", s.pool.Stats())
	return err
}

func (s *System) closeQueues() {
	for _, q := range s.queues {
		if q != nil {
			q.Close()
		}
	}
}
