package gx

import (
	"encoding/binary"
	"errors"

	"github.com/gogpu/gx/gpucore"
)

// GraphicsContext records rendering work for the direct queue.
type GraphicsContext struct {
	*CommandContext
}

// SetRenderTarget binds one color target and an optional depth target.
func (c *GraphicsContext) SetRenderTarget(target, depth gpucore.Resource) {
	var targets []gpucore.Resource
	if target != nil {
		targets = []gpucore.Resource{target}
	}
	c.SetRenderTargets(targets, depth)
}

// SetRenderTargets binds color targets and an optional depth target.
func (c *GraphicsContext) SetRenderTargets(targets []gpucore.Resource, depth gpucore.Resource) {
	c.record()
	c.list().SetRenderTargets(targets, depth)
}

// ClearRenderTarget clears target to an RGBA color. Pending barriers are
// flushed first so the target is in the render-target state.
func (c *GraphicsContext) ClearRenderTarget(target gpucore.Resource, color [4]float32) {
	c.FlushResourceBarriers()
	c.record()
	c.list().ClearRenderTarget(target, color)
}

// ClearDepth clears the depth plane of depth to value and stencil to zero.
func (c *GraphicsContext) ClearDepth(depth gpucore.Resource, value float32) {
	c.FlushResourceBarriers()
	c.record()
	c.list().ClearDepthStencil(depth, value, 0)
}

// SetViewport sets a single viewport.
func (c *GraphicsContext) SetViewport(vp gpucore.Viewport) {
	c.record()
	c.list().SetViewports(vp)
}

// SetScissor sets a single scissor rectangle.
func (c *GraphicsContext) SetScissor(r gpucore.Rect) {
	c.record()
	c.list().SetScissorRects(r)
}

// SetViewportAndScissor covers a w*h area at x,y with both a viewport of
// depth range [0,1] and a scissor rectangle.
func (c *GraphicsContext) SetViewportAndScissor(x, y, w, h uint32) {
	c.SetViewport(gpucore.Viewport{
		X: float32(x), Y: float32(y),
		Width: float32(w), Height: float32(h),
		MinDepth: 0, MaxDepth: 1,
	})
	c.SetScissor(gpucore.Rect{X: x, Y: y, Width: w, Height: h})
}

// SetVertexBuffer copies vertex data into upload memory and binds it at slot.
func (c *GraphicsContext) SetVertexBuffer(slot uint32, data []byte, stride uint32) error {
	c.record()
	if stride == 0 {
		return errors.New("gx: vertex stride must be greater than zero")
	}
	alloc, err := c.uploadData(data, 16)
	if err != nil {
		return err
	}
	c.list().SetVertexBuffers(slot, gpucore.VertexBufferView{
		Address: alloc.GPU,
		Size:    uint32(alloc.Size), //nolint:gosec // G115: smaller than a page
		Stride:  stride,
	})
	return nil
}

// SetVertexBufferView binds vertex data already in GPU memory at slot.
func (c *GraphicsContext) SetVertexBufferView(slot uint32, view gpucore.VertexBufferView) {
	c.record()
	c.list().SetVertexBuffers(slot, view)
}

// SetIndexBuffer16 copies 16-bit indices into upload memory and binds them.
func (c *GraphicsContext) SetIndexBuffer16(indices []uint16) error {
	data := make([]byte, 0, 2*len(indices))
	for _, i := range indices {
		data = binary.LittleEndian.AppendUint16(data, i)
	}
	return c.setIndexData(data, gpucore.IndexUint16)
}

// SetIndexBuffer32 copies 32-bit indices into upload memory and binds them.
func (c *GraphicsContext) SetIndexBuffer32(indices []uint32) error {
	data := make([]byte, 0, 4*len(indices))
	for _, i := range indices {
		data = binary.LittleEndian.AppendUint32(data, i)
	}
	return c.setIndexData(data, gpucore.IndexUint32)
}

func (c *GraphicsContext) setIndexData(data []byte, f gpucore.IndexFormat) error {
	c.record()
	alloc, err := c.uploadData(data, 16)
	if err != nil {
		return err
	}
	c.list().SetIndexBuffer(gpucore.IndexBufferView{
		Address: alloc.GPU,
		Size:    uint32(alloc.Size), //nolint:gosec // G115: smaller than a page
		Format:  f,
	})
	return nil
}

// SetIndexBufferView binds index data already in GPU memory.
func (c *GraphicsContext) SetIndexBufferView(view gpucore.IndexBufferView) {
	c.record()
	c.list().SetIndexBuffer(view)
}

// Draw records a non-instanced draw of vertexCount vertices.
func (c *GraphicsContext) Draw(vertexCount, startVertex uint32) error {
	return c.DrawInstanced(vertexCount, 1, startVertex, 0)
}

// DrawIndexed records a non-instanced indexed draw.
func (c *GraphicsContext) DrawIndexed(indexCount, startIndex uint32, baseVertex int32) error {
	return c.DrawIndexedInstanced(indexCount, 1, startIndex, baseVertex, 0)
}

// DrawInstanced flushes pending barriers, commits dirty descriptor tables,
// then records an instanced draw.
func (c *GraphicsContext) DrawInstanced(vertexCount, instanceCount, startVertex, startInstance uint32) error {
	if err := c.prepareWork(); err != nil {
		return err
	}
	c.list().DrawInstanced(vertexCount, instanceCount, startVertex, startInstance)
	c.stats.Draws++
	return nil
}

// DrawIndexedInstanced flushes pending barriers, commits dirty descriptor
// tables, then records an instanced indexed draw.
func (c *GraphicsContext) DrawIndexedInstanced(indexCount, instanceCount, startIndex uint32, baseVertex int32, startInstance uint32) error {
	if err := c.prepareWork(); err != nil {
		return err
	}
	c.list().DrawIndexedInstanced(indexCount, instanceCount, startIndex, baseVertex, startInstance)
	c.stats.Draws++
	return nil
}
