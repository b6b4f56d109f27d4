package trace

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/gogpu/gx/gpucore"
)

// Submission is one list executed by a queue.
type Submission struct {
	Fence    uint64
	ListID   int
	Label    string
	Commands []Command
}

// Queue records submissions and signals fences on Retire.
type Queue struct {
	workType gpucore.WorkType
	auto     bool

	mu        sync.Mutex
	last      uint64
	completed uint64
	subs      []Submission

	// signal is closed and replaced whenever completed advances.
	signal chan struct{}
}

var _ gpucore.Queue = (*Queue)(nil)

func newQueue(t gpucore.WorkType, auto bool) *Queue {
	return &Queue{workType: t, auto: auto, signal: make(chan struct{})}
}

// Type implements gpucore.Queue.
func (q *Queue) Type() gpucore.WorkType { return q.workType }

// Submit implements gpucore.Queue.
func (q *Queue) Submit(list gpucore.CommandList, fence uint64) error {
	l, ok := list.(*CommandList)
	if !ok {
		return fmt.Errorf("trace: foreign command list %T", list)
	}
	if l.recording {
		return errors.New("trace: submit of a recording list")
	}
	if l.workType != q.workType {
		return fmt.Errorf("trace: %s list on %s queue", l.workType, q.workType)
	}

	q.mu.Lock()
	if fence <= q.last {
		q.mu.Unlock()
		return fmt.Errorf("trace: fence %d not greater than %d", fence, q.last)
	}
	q.last = fence
	q.subs = append(q.subs, Submission{
		Fence:    fence,
		ListID:   l.id,
		Label:    l.label,
		Commands: l.commands,
	})
	q.mu.Unlock()

	l.alloc.track(q, fence)
	if q.auto {
		q.Retire(fence)
	}
	return nil
}

// Completed implements gpucore.Queue.
func (q *Queue) Completed() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.completed
}

// Retire signals every fence up to fence. Values past the last submission
// are clamped to it.
func (q *Queue) Retire(fence uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	fence = min(fence, q.last)
	if fence <= q.completed {
		return
	}
	q.completed = fence
	close(q.signal)
	q.signal = make(chan struct{})
}

// RetireAll signals the last submitted fence.
func (q *Queue) RetireAll() {
	q.Retire(^uint64(0))
}

// Wait implements gpucore.Queue.
func (q *Queue) Wait(ctx context.Context, fence uint64) error {
	for {
		q.mu.Lock()
		if fence <= q.completed {
			q.mu.Unlock()
			return nil
		}
		if fence > q.last {
			q.mu.Unlock()
			return fmt.Errorf("trace: wait for unsubmitted fence %d (last %d)", fence, q.last)
		}
		ch := q.signal
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

// Submissions returns every submission so far.
func (q *Queue) Submissions() []Submission {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.subs)
}
