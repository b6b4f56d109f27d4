//go:build !nogpu

package native

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gx/gpucore"
)

// pollInterval bounds each HAL wait so Wait can observe cancellation.
const pollInterval = 5 * time.Millisecond

// Queue submits to the device's HAL queue and signals its own HAL fence.
type Queue struct {
	dev      *Device
	workType gpucore.WorkType
	fence    hal.Fence

	mu        sync.Mutex
	last      uint64
	completed uint64
}

var _ gpucore.Queue = (*Queue)(nil)

// Type implements gpucore.Queue.
func (q *Queue) Type() gpucore.WorkType { return q.workType }

// Submit implements gpucore.Queue.
func (q *Queue) Submit(list gpucore.CommandList, fence uint64) error {
	l, ok := list.(*CommandList)
	if !ok {
		return fmt.Errorf("native: foreign command list %T", list)
	}
	if l.recording {
		return errors.New("native: submit of a recording list")
	}
	if l.workType != q.workType {
		return fmt.Errorf("native: %s list on %s queue", l.workType, q.workType)
	}
	if l.cmdBuf == nil {
		return errors.New("native: submit of a list that failed to encode")
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if fence <= q.last {
		return fmt.Errorf("native: fence %d not greater than %d", fence, q.last)
	}

	q.dev.submitMu.Lock()
	err := q.dev.queue.Submit([]hal.CommandBuffer{l.cmdBuf}, q.fence, fence)
	q.dev.submitMu.Unlock()
	if err != nil {
		return gpucore.WrapBackend("submit", err)
	}
	q.last = fence
	l.cmdBuf = nil
	l.alloc.track(q, fence)
	return nil
}

// Completed implements gpucore.Queue. It polls the HAL fence without
// blocking.
func (q *Queue) Completed() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pollLocked(q.last, 0)
	return q.completed
}

// pollLocked waits up to timeout for value and updates completed.
func (q *Queue) pollLocked(value uint64, timeout time.Duration) bool {
	if value <= q.completed {
		return true
	}
	ok, err := q.dev.hal.Wait(q.fence, value, timeout)
	if err != nil {
		slogger().Warn("native: fence wait failed", "queue", q.workType.String(), "value", value, "err", err)
		return false
	}
	if ok {
		q.completed = value
	}
	return ok
}

// Wait implements gpucore.Queue.
func (q *Queue) Wait(ctx context.Context, fence uint64) error {
	q.mu.Lock()
	if fence > q.last {
		q.mu.Unlock()
		return fmt.Errorf("native: wait for unsubmitted fence %d (last %d)", fence, q.last)
	}
	q.mu.Unlock()

	for {
		q.mu.Lock()
		done := q.pollLocked(fence, pollInterval)
		q.mu.Unlock()
		if done {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}
