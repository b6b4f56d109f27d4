package cmdlist

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/gx/gpucore"
)

// Queue submits command buffers to one native queue and hands out fence
// values. Fence values start at 1 and increase by one per submission.
//
// Queue is safe for concurrent use. Submission order is the order in which
// Submit calls acquire the queue lock.
type Queue struct {
	mu     sync.Mutex
	native gpucore.Queue
	dev    gpucore.Device
	last   uint64
}

// NewQueue creates a native queue of type t on dev.
func NewQueue(dev gpucore.Device, t gpucore.WorkType) (*Queue, error) {
	nq, err := dev.CreateQueue(t)
	if err != nil {
		return nil, gpucore.WrapBackend("CreateQueue", err)
	}
	return &Queue{native: nq, dev: dev}, nil
}

// Type returns the work type of the queue.
func (q *Queue) Type() gpucore.WorkType { return q.native.Type() }

// Native returns the underlying queue.
func (q *Queue) Native() gpucore.Queue { return q.native }

// Submit closes buf and executes it. It returns the fence value that will be
// signaled when the GPU has finished with the buffer.
func (q *Queue) Submit(buf *CommandBuffer) (uint64, error) {
	switch {
	case buf.released:
		return 0, fmt.Errorf("cmdlist: submit %s: %w", buf.handle, gpucore.ErrAlreadyReleased)
	case buf.submitted:
		return 0, fmt.Errorf("cmdlist: submit %s: %w", buf.handle, gpucore.ErrNotRecording)
	case buf.workType != q.Type():
		return 0, fmt.Errorf("cmdlist: submit %s: %s buffer on %s queue",
			buf.handle, buf.workType, q.Type())
	}

	if err := buf.close(); err != nil {
		return 0, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	fence := q.last + 1
	if err := q.native.Submit(buf.List, fence); err != nil {
		return 0, gpucore.WrapBackend("Queue.Submit", err)
	}
	q.last = fence
	buf.fence = fence
	buf.submitted = true
	return fence, nil
}

// LastSubmitted returns the fence value of the most recent submission.
func (q *Queue) LastSubmitted() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.last
}

// Completed returns the highest fence value the GPU has reached.
func (q *Queue) Completed() uint64 {
	return q.native.Completed()
}

// IsFenceComplete reports whether the GPU has reached fence.
// Fence zero is always complete.
func (q *Queue) IsFenceComplete(fence uint64) bool {
	return fence <= q.native.Completed()
}

// WaitForFence blocks until fence has been reached or ctx is done.
func (q *Queue) WaitForFence(ctx context.Context, fence uint64) error {
	if q.IsFenceComplete(fence) {
		return nil
	}
	start := time.Now()
	if err := q.native.Wait(ctx, fence); err != nil {
		slogger().Warn("cmdlist: fence wait failed",
			"type", q.Type(), "fence", fence, "err", err)
		return fmt.Errorf("cmdlist: wait for fence %d: %w", fence, err)
	}
	slogger().Debug("cmdlist: fence reached",
		"type", q.Type(), "fence", fence, "waited", time.Since(start))
	return nil
}

// Idle waits for every submission made so far.
func (q *Queue) Idle(ctx context.Context) error {
	return q.WaitForFence(ctx, q.LastSubmitted())
}

// Close destroys the native queue. The caller must ensure it is idle.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.native != nil && q.dev != nil {
		q.dev.DestroyQueue(q.native)
		q.dev = nil
	}
}
