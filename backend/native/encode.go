//go:build !nogpu

package native

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gx/gpucore"
	"github.com/gogpu/gx/internal/memheap"
)

// rootState is the root parameter state of one bind point.
type rootState struct {
	views  map[uint32]gpucore.GPUAddress
	tables map[uint32]gpucore.GPUHandle
}

func (r *rootState) setView(root uint32, addr gpucore.GPUAddress) {
	if r.views == nil {
		r.views = make(map[uint32]gpucore.GPUAddress)
	}
	r.views[root] = addr
}

func (r *rootState) setTable(root uint32, base gpucore.GPUHandle) {
	if r.tables == nil {
		r.tables = make(map[uint32]gpucore.GPUHandle)
	}
	r.tables[root] = base
}

// encoder replays recorded commands into a HAL command encoder.
type encoder struct {
	dev   *Device
	enc   hal.CommandEncoder
	label string

	pso      *PipelineState
	compute  rootState
	graphics rootState

	targets []*Texture
	depth   *Texture
	rp      hal.RenderPassEncoder

	viewport *gpucore.Viewport
	scissor  *gpucore.Rect
	vertex   map[uint32]gpucore.VertexBufferView
	index    *gpucore.IndexBufferView

	groups []hal.BindGroup
}

func (e *encoder) run(enc hal.CommandEncoder, ops []func(*encoder) error) (hal.CommandBuffer, error) {
	e.enc = enc
	e.vertex = make(map[uint32]gpucore.VertexBufferView)
	if err := enc.BeginEncoding(e.label); err != nil {
		return nil, gpucore.WrapBackend("begin encoding", err)
	}
	for _, op := range ops {
		if err := op(e); err != nil {
			e.endRenderPass()
			enc.DiscardEncoding()
			return nil, err
		}
	}
	e.endRenderPass()
	cb, err := enc.EndEncoding()
	if err != nil {
		return nil, gpucore.WrapBackend("end encoding", err)
	}
	return cb, nil
}

func (e *encoder) endRenderPass() {
	if e.rp != nil {
		e.rp.End()
		e.rp = nil
	}
}

func (e *encoder) barrier(barriers []gpucore.Barrier) error {
	e.endRenderPass()
	var tex []hal.TextureBarrier
	for _, b := range barriers {
		t, ok := b.Resource.(*Texture)
		if !ok {
			slogger().Debug("native: buffer barrier dropped", "barrier", b.String())
			continue
		}
		tex = append(tex, hal.TextureBarrier{
			Texture: t.tex,
			Usage: hal.TextureUsageTransition{
				OldUsage: textureUsage(b.Before),
				NewUsage: textureUsage(b.After),
			},
		})
	}
	if len(tex) > 0 {
		e.enc.TransitionTextures(tex)
	}
	return nil
}

// textureUsage maps a resource state to the HAL usage a texture in that
// state has.
func textureUsage(s gpucore.ResourceState) gputypes.TextureUsage {
	var u gputypes.TextureUsage
	if s&(gpucore.StateRenderTarget|gpucore.StateDepthWrite|gpucore.StateDepthRead|gpucore.StatePresent) != 0 {
		u |= gputypes.TextureUsageRenderAttachment
	}
	if s&gpucore.StateShaderResource != 0 {
		u |= gputypes.TextureUsageTextureBinding
	}
	if s&gpucore.StateUnorderedAccess != 0 {
		u |= gputypes.TextureUsageStorageBinding
	}
	if s&gpucore.StateCopyDest != 0 {
		u |= gputypes.TextureUsageCopyDst
	}
	if s&gpucore.StateCopySource != 0 {
		u |= gputypes.TextureUsageCopySrc
	}
	return u
}

func (e *encoder) setPipeline(pso gpucore.PipelineState) error {
	p, ok := pso.(*PipelineState)
	if !ok {
		return fmt.Errorf("native: foreign pipeline state %T", pso)
	}
	e.pso = p
	return nil
}

// bindGroup builds group 0 from the root state of the bound pipeline. It
// returns nil if the pipeline has no bindings.
func (e *encoder) bindGroup(rs *rootState) (hal.BindGroup, error) {
	p := e.pso
	if len(p.bindings) == 0 {
		return nil, nil
	}
	entries := make([]gputypes.BindGroupEntry, 0, len(p.bindings))
	for _, b := range p.bindings {
		addr, size, err := e.bindingSource(p, rs, b)
		if err != nil {
			return nil, err
		}
		buf, off, err := e.dev.resolve(addr)
		if err != nil {
			return nil, fmt.Errorf("binding %d (root %d): %w", b.Binding, b.RootIndex, err)
		}
		sz := buf.size - off
		if size != 0 {
			sz = min(uint64(size), sz)
		}
		entries = append(entries, gputypes.BindGroupEntry{
			Binding:  b.Binding,
			Resource: gputypes.BufferBinding{Buffer: buf.hal.NativeHandle(), Offset: off, Size: sz},
		})
	}
	bg, err := e.dev.hal.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   p.label + "_bind",
		Layout:  p.groupLayout,
		Entries: entries,
	})
	if err != nil {
		return nil, gpucore.WrapBackend("create bind group", err)
	}
	e.groups = append(e.groups, bg)
	return bg, nil
}

func (e *encoder) bindingSource(p *PipelineState, rs *rootState, b Binding) (gpucore.GPUAddress, uint32, error) {
	if _, ok := p.md.View(b.RootIndex); ok {
		addr, ok := rs.views[b.RootIndex]
		if !ok {
			return 0, 0, fmt.Errorf("root view %d not set: %w", b.RootIndex, gpucore.ErrInvalidBinding)
		}
		return addr, 0, nil
	}
	base, ok := rs.tables[b.RootIndex]
	if !ok {
		return 0, 0, fmt.Errorf("descriptor table %d not set: %w", b.RootIndex, gpucore.ErrInvalidBinding)
	}
	desc, ok := e.dev.reg.ReadGPU(base.Offset(b.Slot, memheap.Increment))
	if !ok || desc.Kind == memheap.KindNone {
		return 0, 0, fmt.Errorf("table %d slot %d: %w", b.RootIndex, b.Slot, ErrUnboundDescriptor)
	}
	return desc.Address, desc.Size, nil
}

func (e *encoder) dispatch(x, y, z uint32) error {
	if e.pso == nil || e.pso.compute == nil {
		return errors.New("dispatch without a compute pipeline")
	}
	e.endRenderPass()
	bg, err := e.bindGroup(&e.compute)
	if err != nil {
		return err
	}
	pass := e.enc.BeginComputePass(&hal.ComputePassDescriptor{Label: e.label})
	pass.SetPipeline(e.pso.compute)
	if bg != nil {
		pass.SetBindGroup(0, bg, nil)
	}
	pass.Dispatch(x, y, z)
	pass.End()
	return nil
}

func asTexture(r gpucore.Resource) (*Texture, error) {
	if r == nil {
		return nil, nil
	}
	t, ok := r.(*Texture)
	if !ok {
		return nil, fmt.Errorf("render target %q is %T, not a texture", r.Label(), r)
	}
	return t, nil
}

func (e *encoder) setRenderTargets(targets []gpucore.Resource, depth gpucore.Resource) error {
	e.endRenderPass()
	e.targets = e.targets[:0]
	for _, r := range targets {
		t, err := asTexture(r)
		if err != nil {
			return err
		}
		if t != nil {
			e.targets = append(e.targets, t)
		}
	}
	d, err := asTexture(depth)
	if err != nil {
		return err
	}
	e.depth = d
	return nil
}

// clearColor encodes a clear as a render pass of its own.
func (e *encoder) clearColor(target gpucore.Resource, color [4]float32) error {
	t, err := asTexture(target)
	if err != nil {
		return err
	}
	if t == nil {
		return errors.New("clear of a nil render target")
	}
	e.endRenderPass()
	rp := e.enc.BeginRenderPass(&hal.RenderPassDescriptor{
		Label: e.label + "_clear",
		ColorAttachments: []hal.RenderPassColorAttachment{{
			View:    t.view,
			LoadOp:  gputypes.LoadOpClear,
			StoreOp: gputypes.StoreOpStore,
			ClearValue: gputypes.Color{
				R: float64(color[0]), G: float64(color[1]),
				B: float64(color[2]), A: float64(color[3]),
			},
		}},
	})
	rp.End()
	return nil
}

func (e *encoder) clearDepth(depth gpucore.Resource, value float32, stencil uint8) error {
	t, err := asTexture(depth)
	if err != nil {
		return err
	}
	if t == nil {
		return errors.New("clear of a nil depth target")
	}
	e.endRenderPass()
	rp := e.enc.BeginRenderPass(&hal.RenderPassDescriptor{
		Label: e.label + "_clear_depth",
		DepthStencilAttachment: &hal.RenderPassDepthStencilAttachment{
			View:              t.view,
			DepthLoadOp:       gputypes.LoadOpClear,
			DepthStoreOp:      gputypes.StoreOpStore,
			DepthClearValue:   value,
			StencilLoadOp:     gputypes.LoadOpClear,
			StencilStoreOp:    gputypes.StoreOpStore,
			StencilClearValue: uint32(stencil),
		},
	})
	rp.End()
	return nil
}

// prepareDraw opens a render pass over the bound targets if none is open
// and applies the pipeline, bindings and fixed-function state.
func (e *encoder) prepareDraw(indexed bool) (hal.RenderPassEncoder, error) {
	if e.pso == nil || e.pso.render == nil {
		return nil, errors.New("draw without a render pipeline")
	}
	if len(e.targets) == 0 && e.depth == nil {
		return nil, errors.New("draw without render targets")
	}
	bg, err := e.bindGroup(&e.graphics)
	if err != nil {
		return nil, err
	}

	if e.rp == nil {
		desc := &hal.RenderPassDescriptor{Label: e.label}
		for _, t := range e.targets {
			desc.ColorAttachments = append(desc.ColorAttachments, hal.RenderPassColorAttachment{
				View:    t.view,
				LoadOp:  gputypes.LoadOpLoad,
				StoreOp: gputypes.StoreOpStore,
			})
		}
		if e.depth != nil {
			desc.DepthStencilAttachment = &hal.RenderPassDepthStencilAttachment{
				View:           e.depth.view,
				DepthLoadOp:    gputypes.LoadOpLoad,
				DepthStoreOp:   gputypes.StoreOpStore,
				StencilLoadOp:  gputypes.LoadOpLoad,
				StencilStoreOp: gputypes.StoreOpStore,
			}
		}
		e.rp = e.enc.BeginRenderPass(desc)
	}
	rp := e.rp

	rp.SetPipeline(e.pso.render)
	if bg != nil {
		rp.SetBindGroup(0, bg, nil)
	}
	if vp := e.viewport; vp != nil {
		rp.SetViewport(vp.X, vp.Y, vp.Width, vp.Height, vp.MinDepth, vp.MaxDepth)
	}
	if r := e.scissor; r != nil {
		rp.SetScissorRect(r.X, r.Y, r.Width, r.Height)
	}
	for slot, v := range e.vertex {
		buf, off, err := e.dev.resolve(v.Address)
		if err != nil {
			return nil, fmt.Errorf("vertex buffer %d: %w", slot, err)
		}
		rp.SetVertexBuffer(slot, buf.hal, off)
	}
	if indexed {
		if e.index == nil {
			return nil, errors.New("indexed draw without an index buffer")
		}
		buf, off, err := e.dev.resolve(e.index.Address)
		if err != nil {
			return nil, fmt.Errorf("index buffer: %w", err)
		}
		format := gputypes.IndexFormatUint16
		if e.index.Format == gpucore.IndexUint32 {
			format = gputypes.IndexFormatUint32
		}
		rp.SetIndexBuffer(buf.hal, format, off)
	}
	return rp, nil
}
