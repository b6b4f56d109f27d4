package gx

import (
	"errors"
	"sync"

	"github.com/gogpu/gx/gpucore"
)

// Context is implemented by *CommandContext, *ComputeContext and
// *GraphicsContext.
type Context interface {
	base() *CommandContext
}

// ContextPool hands out recycled contexts. A context put back is reused only
// once its last submission has finished; until then Get creates new ones.
//
// ContextPool is safe for concurrent use.
type ContextPool struct {
	sys  *System
	opts []Option

	mu       sync.Mutex
	compute  []*CommandContext
	graphics []*CommandContext
	created  int
	closed   bool
}

// NewContextPool creates a pool whose new contexts get opts.
func (s *System) NewContextPool(opts ...Option) *ContextPool {
	return &ContextPool{sys: s, opts: opts}
}

// Compute returns an Idle compute context.
func (p *ContextPool) Compute() (*ComputeContext, error) {
	c, err := p.get(gpucore.PipelineCompute)
	if err != nil {
		return nil, err
	}
	return &ComputeContext{c}, nil
}

// Graphics returns an Idle graphics context.
func (p *ContextPool) Graphics() (*GraphicsContext, error) {
	c, err := p.get(gpucore.PipelineGraphics)
	if err != nil {
		return nil, err
	}
	return &GraphicsContext{c}, nil
}

func (p *ContextPool) get(kind gpucore.PipelineKind) (*CommandContext, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	free := p.freeList(kind)
	for i, c := range *free {
		if !c.Completed() {
			continue
		}
		*free = append((*free)[:i], (*free)[i+1:]...)
		p.mu.Unlock()
		if err := c.Reset(); err != nil {
			return nil, errors.Join(err, c.Close())
		}
		return c, nil
	}
	p.created++
	p.mu.Unlock()

	if kind == gpucore.PipelineGraphics {
		g, err := p.sys.NewGraphicsContext(p.opts...)
		if err != nil {
			return nil, err
		}
		return g.CommandContext, nil
	}
	cc, err := p.sys.NewComputeContext(p.opts...)
	if err != nil {
		return nil, err
	}
	return cc.CommandContext, nil
}

func (p *ContextPool) freeList(kind gpucore.PipelineKind) *[]*CommandContext {
	if kind == gpucore.PipelineGraphics {
		return &p.graphics
	}
	return &p.compute
}

// Put returns a context to the pool. The caller must not use it afterwards.
func (p *ContextPool) Put(ctx Context) {
	c := ctx.base()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		if err := c.Close(); err != nil {
			c.log.Warn("gx: closing pooled context failed", "label", c.opts.label, "err", err)
		}
		return
	}
	free := p.freeList(c.binder.kind())
	*free = append(*free, c)
}

// Len returns the number of contexts waiting for reuse.
func (p *ContextPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.compute) + len(p.graphics)
}

// Created returns the number of contexts the pool has created.
func (p *ContextPool) Created() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.created
}

// Close closes every pooled context. Call System.WaitIdle first; contexts
// still in flight make Close return ErrInFlight errors.
func (p *ContextPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	var errs []error
	for _, c := range append(p.compute, p.graphics...) {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	p.compute, p.graphics = nil, nil
	return errors.Join(errs...)
}
