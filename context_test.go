package gx_test

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/gx"
	"github.com/gogpu/gx/backend/trace"
	"github.com/gogpu/gx/gpucore"
	"github.com/gogpu/gx/heap"
	"github.com/gogpu/gx/rootsig"
)

// newSystem opens a system on a trace device. Without trace.WithAutoRetire
// the test drives fences with retire.
func newSystem(t *testing.T, cfg heap.Config, devOpts []trace.Option, opts ...gx.Option) (*trace.Device, *gx.System) {
	t.Helper()
	dev := trace.New(devOpts...)
	sys, err := gx.Open(dev, cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		retireAll(sys)
		require.NoError(t, sys.Close(context.Background()))
	})
	return dev, sys
}

func traceQueue(sys *gx.System, t gpucore.WorkType) *trace.Queue {
	return sys.Queue(t).Native().(*trace.Queue)
}

func retireAll(sys *gx.System) {
	for t := range gpucore.NumWorkTypes {
		traceQueue(sys, t).RetireAll()
	}
}

// lastSubmission returns the commands of the most recent submission on t.
func lastSubmission(t *testing.T, sys *gx.System, wt gpucore.WorkType) []trace.Command {
	t.Helper()
	subs := traceQueue(sys, wt).Submissions()
	require.NotEmpty(t, subs)
	return subs[len(subs)-1].Commands
}

func commandTypes(cmds []trace.Command) []trace.CommandType {
	out := make([]trace.CommandType, len(cmds))
	for i, c := range cmds {
		out[i] = c.Type()
	}
	return out
}

func commandsOf[T trace.Command](cmds []trace.Command) []T {
	var out []T
	for _, c := range cmds {
		if v, ok := c.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

// assertPanicsWith checks that fn panics with an error wrapping target.
func assertPanicsWith(t *testing.T, target error, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		require.NotNil(t, r, "expected a panic")
		err, ok := r.(error)
		require.True(t, ok, "panic value %v is not an error", r)
		assert.ErrorIs(t, err, target)
	}()
	fn()
}

// tableSignature has tables {0:4, 1:2} and a CBV at root 2.
func tableSignature() *rootsig.Metadata {
	return &rootsig.Metadata{
		Tables: []rootsig.Table{{RootIndex: 0, TableCapacity: 4}, {RootIndex: 1, TableCapacity: 2}},
		Views:  []rootsig.View{{RootIndex: 2, Kind: rootsig.ViewCBV}},
	}
}

// stageDescriptors writes n SRVs to a CPU heap and returns their handles.
func stageDescriptors(t *testing.T, dev *trace.Device, n uint32) []gpucore.CPUHandle {
	t.Helper()
	h, err := dev.CreateDescriptorHeap(gpucore.DescriptorHeapDesc{Label: "staging", Capacity: n})
	require.NoError(t, err)
	out := make([]gpucore.CPUHandle, n)
	for i := range n {
		out[i] = h.CPUStart().Offset(i, h.Increment())
		dev.WriteDescriptor(out[i], trace.Descriptor{
			Kind:    trace.KindSRV,
			Address: gpucore.GPUAddress(0x1000 * (i + 1)),
			Size:    64,
		})
	}
	return out
}

func TestDispatchOrdersBarriersTablesWork(t *testing.T) {
	dev, sys := newSystem(t, heap.Config{}, []trace.Option{trace.WithAutoRetire()})
	src := stageDescriptors(t, dev, 3)
	pso := trace.NewPipelineState("blur", gpucore.PipelineCompute, tableSignature())
	res := []gpucore.Resource{trace.NewResource("a"), trace.NewResource("b"), trace.NewResource("c")}

	cc, err := sys.NewComputeContext(gx.WithLabel("blur"))
	require.NoError(t, err)
	cc.SetPipelineState(pso)
	for _, r := range res {
		cc.TransitionResource(r, gpucore.StateShaderResource, gpucore.StateUnorderedAccess)
	}
	assert.Equal(t, 3, cc.PendingBarriers())
	cc.SetDynamicDescriptor(0, 1, src[0])
	cc.SetDynamicDescriptors(1, 0, src[1], src[2])
	require.NoError(t, cc.Dispatch(8, 8, 1))
	assert.Zero(t, cc.PendingBarriers())

	_, err = cc.Submit()
	require.NoError(t, err)
	cmds := lastSubmission(t, sys, gpucore.WorkCompute)
	assert.Equal(t, []trace.CommandType{
		trace.CmdSetPipelineState,
		trace.CmdBarrier,
		trace.CmdSetDescriptorHeaps,
		trace.CmdSetRootTable,
		trace.CmdSetRootTable,
		trace.CmdDispatch,
	}, commandTypes(cmds))

	barriers := commandsOf[trace.BarrierCommand](cmds)
	require.Len(t, barriers, 1)
	require.Len(t, barriers[0].Barriers, 3)
	for i, b := range barriers[0].Barriers {
		assert.Same(t, res[i], b.Resource, "barrier order preserved")
	}

	// The tables occupy one contiguous range, root 0 first.
	tables := commandsOf[trace.SetRootTableCommand](cmds)
	assert.Equal(t, uint32(0), tables[0].Root)
	assert.Equal(t, uint32(1), tables[1].Root)
	assert.Equal(t, tables[0].Base.Offset(4, 32), tables[1].Base)
	assert.Equal(t, trace.BindCompute, tables[0].Bind)

	got, err := dev.Table(tables[0].Base, 6)
	require.NoError(t, err)
	assert.Equal(t, trace.KindNone, got[0].Kind)
	assert.Equal(t, gpucore.GPUAddress(0x1000), got[1].Address)
	assert.Equal(t, gpucore.GPUAddress(0x2000), got[4].Address)
	assert.Equal(t, gpucore.GPUAddress(0x3000), got[5].Address)

	assert.Equal(t, gx.ContextStats{
		BarrierBatches: 1, Barriers: 3, TableCommits: 1, Descriptors: 6, Dispatches: 1,
	}, cc.Stats())
	require.NoError(t, cc.Close())
}

func TestTablesCommitOnlyWhenDirty(t *testing.T) {
	dev, sys := newSystem(t, heap.Config{}, []trace.Option{trace.WithAutoRetire()})
	src := stageDescriptors(t, dev, 2)

	cc, err := sys.NewComputeContext()
	require.NoError(t, err)
	cc.SetPipelineState(trace.NewPipelineState("p", gpucore.PipelineCompute, tableSignature()))

	// No table has a descriptor: nothing is committed.
	require.NoError(t, cc.Dispatch(1, 1, 1))
	assert.Zero(t, cc.Stats().TableCommits)

	cc.SetDynamicDescriptor(1, 0, src[0])
	require.NoError(t, cc.Dispatch(1, 1, 1))
	require.NoError(t, cc.Dispatch(1, 1, 1))
	assert.Equal(t, 1, cc.Stats().TableCommits, "second dispatch reuses the bound table")
	assert.Equal(t, uint32(2), cc.Stats().Descriptors, "only the dirty table is committed")

	cc.SetDynamicDescriptor(0, 3, src[1])
	require.NoError(t, cc.Dispatch(1, 1, 1))
	assert.Equal(t, 2, cc.Stats().TableCommits)
	assert.Equal(t, uint32(6), cc.Stats().Descriptors)

	_, err = cc.Submit()
	require.NoError(t, err)
	tables := commandsOf[trace.SetRootTableCommand](lastSubmission(t, sys, gpucore.WorkCompute))
	require.Len(t, tables, 2)
	assert.Equal(t, uint32(1), tables[0].Root)
	assert.Equal(t, uint32(0), tables[1].Root)
	require.NoError(t, cc.Close())
}

func TestBarrierBatchBoundary(t *testing.T) {
	r := trace.NewResource("r")
	queue := func(c *gx.ComputeContext, n int) {
		for range n {
			c.TransitionResource(r, gpucore.StateCommon, gpucore.StateCopyDest)
		}
	}

	t.Run("autoflush", func(t *testing.T) {
		_, sys := newSystem(t, heap.Config{}, []trace.Option{trace.WithAutoRetire()})
		cc, err := sys.NewComputeContext()
		require.NoError(t, err)

		queue(cc, gx.BarrierCapacity)
		assert.Equal(t, gx.BarrierCapacity, cc.PendingBarriers())
		assert.Zero(t, cc.Stats().BarrierBatches, "a full batch is not flushed yet")

		queue(cc, 1)
		assert.Equal(t, 1, cc.PendingBarriers())
		assert.Equal(t, 1, cc.Stats().BarrierBatches)

		cc.FlushResourceBarriers()
		cc.FlushResourceBarriers()
		_, err = cc.Submit()
		require.NoError(t, err)

		batches := commandsOf[trace.BarrierCommand](lastSubmission(t, sys, gpucore.WorkCompute))
		require.Len(t, batches, 2)
		assert.Len(t, batches[0].Barriers, gx.BarrierCapacity)
		assert.Len(t, batches[1].Barriers, 1)
		require.NoError(t, cc.Close())
	})

	t.Run("strict", func(t *testing.T) {
		_, sys := newSystem(t, heap.Config{}, []trace.Option{trace.WithAutoRetire()},
			gx.WithBarrierPolicy(gx.BarrierStrict))
		cc, err := sys.NewComputeContext()
		require.NoError(t, err)

		queue(cc, gx.BarrierCapacity)
		assertPanicsWith(t, gx.ErrBarrierOverflow, func() { queue(cc, 1) })
		assert.Equal(t, gx.BarrierCapacity, cc.PendingBarriers())

		cc.FlushResourceBarriers()
		queue(cc, 1)
		assert.Equal(t, 1, cc.PendingBarriers())
		require.NoError(t, cc.Close())
	})

	t.Run("submit flushes", func(t *testing.T) {
		_, sys := newSystem(t, heap.Config{}, []trace.Option{trace.WithAutoRetire()})
		cc, err := sys.NewComputeContext()
		require.NoError(t, err)
		queue(cc, 2)
		_, err = cc.Submit()
		require.NoError(t, err)
		assert.Equal(t, []trace.CommandType{trace.CmdBarrier},
			commandTypes(lastSubmission(t, sys, gpucore.WorkCompute)))
		require.NoError(t, cc.Close())
	})
}

func TestRootViews(t *testing.T) {
	_, sys := newSystem(t, heap.Config{}, []trace.Option{trace.WithAutoRetire()})
	md := &rootsig.Metadata{
		Tables: []rootsig.Table{{RootIndex: 0, TableCapacity: 1}},
		Views: []rootsig.View{
			{RootIndex: 1, Kind: rootsig.ViewCBV},
			{RootIndex: 2, Kind: rootsig.ViewSRV},
			{RootIndex: 3, Kind: rootsig.ViewUAV},
		},
	}

	cc, err := sys.NewComputeContext()
	require.NoError(t, err)
	assertPanicsWith(t, gx.ErrInvalidBinding, func() { _ = cc.SetConstantBuffer(1, []byte{1}) })

	cc.SetPipelineState(trace.NewPipelineState("p", gpucore.PipelineCompute, md))
	require.NoError(t, cc.SetConstantBuffer(1, []byte{1, 2, 3, 4}))
	require.NoError(t, cc.SetConstantBuffer(1, []byte{5}))
	cc.SetSRVBuffer(2, 0x5000)
	cc.SetUAVBuffer(3, 0x6000)

	assertPanicsWith(t, gx.ErrInvalidBinding, func() { _ = cc.SetConstantBuffer(0, nil) })
	assertPanicsWith(t, gx.ErrInvalidBinding, func() { cc.SetSRVBuffer(1, 0x5000) })
	assertPanicsWith(t, gx.ErrInvalidBinding, func() { cc.SetDynamicDescriptor(1, 0, 0) })
	assertPanicsWith(t, gx.ErrInvalidBinding, func() { cc.SetDynamicDescriptors(0, 0, 0, 0) })

	_, err = cc.Submit()
	require.NoError(t, err)
	views := commandsOf[trace.SetRootViewCommand](lastSubmission(t, sys, gpucore.WorkCompute))
	require.Len(t, views, 4)
	assert.Equal(t, trace.ViewCBV, views[0].Kind)
	assert.Zero(t, uint64(views[0].Address)%heap.ConstantBufferAlignment)
	assert.Equal(t, views[0].Address+heap.ConstantBufferAlignment, views[1].Address)
	assert.Equal(t, trace.SetRootViewCommand{Bind: trace.BindCompute, Kind: trace.ViewSRV, Root: 2, Address: 0x5000}, views[2])
	assert.Equal(t, trace.ViewUAV, views[3].Kind)
	assert.Equal(t, uint64(2*heap.ConstantBufferAlignment), cc.Stats().UploadBytes)
	require.NoError(t, cc.Close())
}

func TestDynamicConstantBuffer(t *testing.T) {
	dev, sys := newSystem(t, heap.Config{}, []trace.Option{trace.WithAutoRetire()})
	cc, err := sys.NewComputeContext()
	require.NoError(t, err)
	cc.SetPipelineState(trace.NewPipelineState("p", gpucore.PipelineCompute, tableSignature()))

	require.NoError(t, cc.SetDynamicConstantBuffer(1, 1, []byte{1, 2, 3}))
	require.NoError(t, cc.Dispatch(1, 1, 1))
	_, err = cc.Submit()
	require.NoError(t, err)

	tables := commandsOf[trace.SetRootTableCommand](lastSubmission(t, sys, gpucore.WorkCompute))
	require.Len(t, tables, 1)
	d, ok := dev.DescriptorAt(tables[0].Base.Offset(1, 32))
	require.True(t, ok)
	assert.Equal(t, trace.KindCBV, d.Kind)
	assert.Equal(t, uint32(heap.ConstantBufferAlignment), d.Size)
	assert.Equal(t, uint64(1), dev.Stats().CBVs)
	require.NoError(t, cc.Close())
}

func TestPipelineKindMismatch(t *testing.T) {
	_, sys := newSystem(t, heap.Config{}, []trace.Option{trace.WithAutoRetire()})
	gc, err := sys.NewGraphicsContext()
	require.NoError(t, err)
	assertPanicsWith(t, gx.ErrInvalidBinding, func() {
		gc.SetPipelineState(trace.NewPipelineState("c", gpucore.PipelineCompute, nil))
	})
	assertPanicsWith(t, gx.ErrInvalidBinding, func() { _ = gc.Draw(3, 0) })
	assertPanicsWith(t, gx.ErrInvalidBinding, func() { gc.SetPipelineState(nil) })
	require.NoError(t, gc.Close())
}

func TestShaderVisibleExhaustion(t *testing.T) {
	dev, sys := newSystem(t, heap.Config{ShaderVisibleCapacity: 4, FrameCount: 1}, []trace.Option{trace.WithAutoRetire()})
	src := stageDescriptors(t, dev, 1)
	cc, err := sys.NewComputeContext()
	require.NoError(t, err)
	cc.SetPipelineState(trace.NewPipelineState("p", gpucore.PipelineCompute, tableSignature()))
	cc.SetDynamicDescriptor(0, 0, src[0])
	cc.SetDynamicDescriptor(1, 0, src[0])

	err = cc.Dispatch(1, 1, 1)
	assert.ErrorIs(t, err, gx.ErrOutOfMemory)
	assert.Zero(t, cc.Stats().Dispatches)
	require.NoError(t, cc.Close())
}

func TestContextLifecycle(t *testing.T) {
	_, sys := newSystem(t, heap.Config{}, nil)
	q := traceQueue(sys, gpucore.WorkCompute)

	cc, err := sys.NewComputeContext(gx.WithLabel("life"))
	require.NoError(t, err)
	assert.Equal(t, "life", cc.Label())
	assert.Equal(t, gpucore.WorkCompute, cc.WorkType())
	assert.True(t, cc.Completed(), "never submitted")

	// Reset of an Idle context keeps its buffer.
	first := cc.Buffer()
	require.NoError(t, cc.Reset())
	assert.Same(t, first, cc.Buffer())

	cc.SetPipelineState(trace.NewPipelineState("p", gpucore.PipelineCompute, nil))
	require.NoError(t, cc.Dispatch(1, 1, 1))
	fence, err := cc.Submit()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), fence)
	assert.Equal(t, fence, cc.Fence())

	_, err = cc.Submit()
	assert.ErrorIs(t, err, gx.ErrNotRecording)
	assertPanicsWith(t, gx.ErrNotRecording, func() { _ = cc.Dispatch(1, 1, 1) })
	assertPanicsWith(t, gx.ErrNotRecording, func() {
		cc.TransitionResource(trace.NewResource("r"), gpucore.StateCommon, gpucore.StateCopyDest)
	})

	assert.False(t, cc.Completed())
	assert.ErrorIs(t, cc.Reset(), gx.ErrInFlight)
	assert.ErrorIs(t, cc.Close(), gx.ErrInFlight)
	assert.Same(t, first, cc.Buffer(), "failed reset changes nothing")

	q.Retire(fence)
	require.NoError(t, sys.Queue(gpucore.WorkCompute).WaitForFence(t.Context(), fence))
	require.NoError(t, cc.Reset())

	// The buffer went back once and the same native pair came out again.
	stats := sys.Pool().Stats()
	assert.Equal(t, 1, stats.Created)
	assert.Equal(t, 1, stats.Live)
	assert.Equal(t, uint64(1), stats.Reused)
	assert.Nil(t, cc.PipelineState())
	assert.Equal(t, gx.ContextStats{}, cc.Stats())

	require.NoError(t, cc.Close())
	require.NoError(t, cc.Close())
	assert.ErrorIs(t, cc.Reset(), gx.ErrClosed)
	assert.Zero(t, sys.Pool().Stats().Live)
}

func TestGraphicsDraw(t *testing.T) {
	_, sys := newSystem(t, heap.Config{}, []trace.Option{trace.WithAutoRetire()})
	md := &rootsig.Metadata{Views: []rootsig.View{{RootIndex: 0, Kind: rootsig.ViewCBV}}}
	rt := trace.NewResource("color")
	depth := trace.NewResource("depth")

	gc, err := sys.NewGraphicsContext(gx.WithLabel("draw"))
	require.NoError(t, err)
	assert.Equal(t, gpucore.WorkDirect, gc.WorkType())

	gc.TransitionResource(rt, gpucore.StatePresent, gpucore.StateRenderTarget)
	gc.ClearRenderTarget(rt, [4]float32{0, 0, 0, 1})
	gc.ClearDepth(depth, 1)
	gc.SetPipelineState(trace.NewPipelineState("mesh", gpucore.PipelineGraphics, md))
	gc.SetRenderTarget(rt, depth)
	gc.SetViewportAndScissor(0, 0, 640, 480)
	require.NoError(t, gc.SetVertexBuffer(0, make([]byte, 36), 12))
	require.NoError(t, gc.SetIndexBuffer16([]uint16{0, 1, 2}))
	require.NoError(t, gc.SetConstantBuffer(0, []byte{1, 2, 3, 4}))
	require.NoError(t, gc.DrawIndexed(3, 0, 0))
	require.NoError(t, gc.Draw(3, 0))
	assert.Error(t, gc.SetVertexBuffer(1, nil, 0))

	_, err = gc.Submit()
	require.NoError(t, err)
	cmds := lastSubmission(t, sys, gpucore.WorkDirect)
	assert.Equal(t, []trace.CommandType{
		trace.CmdBarrier,
		trace.CmdClearRenderTarget,
		trace.CmdClearDepthStencil,
		trace.CmdSetPipelineState,
		trace.CmdSetRenderTargets,
		trace.CmdSetViewports,
		trace.CmdSetScissorRects,
		trace.CmdSetVertexBuffers,
		trace.CmdSetIndexBuffer,
		trace.CmdSetRootView,
		trace.CmdDrawIndexedInstanced,
		trace.CmdDrawInstanced,
	}, commandTypes(cmds))

	vp := commandsOf[trace.SetViewportsCommand](cmds)[0].Viewports
	assert.Equal(t, []gpucore.Viewport{{Width: 640, Height: 480, MaxDepth: 1}}, vp)
	ib := commandsOf[trace.SetIndexBufferCommand](cmds)[0].View
	assert.Equal(t, gpucore.IndexUint16, ib.Format)
	assert.Equal(t, uint32(6), ib.Size)
	vb := commandsOf[trace.SetVertexBuffersCommand](cmds)[0].Views[0]
	assert.Equal(t, uint32(12), vb.Stride)
	assert.Equal(t, trace.BindGraphics, commandsOf[trace.SetRootViewCommand](cmds)[0].Bind)
	assert.Equal(t, 2, gc.Stats().Draws)
	require.NoError(t, gc.Close())
}

func TestContextPoolReuse(t *testing.T) {
	_, sys := newSystem(t, heap.Config{}, nil)
	pool := sys.NewContextPool(gx.WithLabel("pooled"))

	cc, err := pool.Compute()
	require.NoError(t, err)
	cc.SetPipelineState(trace.NewPipelineState("p", gpucore.PipelineCompute, nil))
	require.NoError(t, cc.Dispatch(1, 1, 1))
	_, err = cc.Submit()
	require.NoError(t, err)
	pool.Put(cc)
	assert.Equal(t, 1, pool.Len())

	// Still in flight: a new context is created.
	other, err := pool.Compute()
	require.NoError(t, err)
	assert.NotSame(t, cc.CommandContext, other.CommandContext)
	assert.Equal(t, 2, pool.Created())
	pool.Put(other)

	retireAll(sys)
	again, err := pool.Compute()
	require.NoError(t, err)
	assert.Same(t, cc.CommandContext, again.CommandContext)
	assert.Equal(t, "pooled", again.Label())
	assert.Nil(t, again.PipelineState(), "reused contexts are reset")
	pool.Put(again)

	gc, err := pool.Graphics()
	require.NoError(t, err)
	assert.Equal(t, gpucore.WorkDirect, gc.WorkType())
	pool.Put(gc)

	require.NoError(t, pool.Close())
	_, err = pool.Compute()
	assert.ErrorIs(t, err, gx.ErrClosed)
}

func TestFramePacer(t *testing.T) {
	_, sys := newSystem(t, heap.Config{FrameCount: 2}, nil)
	pacer, err := gx.NewFramePacer(sys)
	require.NoError(t, err)
	h := sys.Heaps().(*heap.Heaps)

	submit := func() uint64 {
		cc, err := sys.NewComputeContext()
		require.NoError(t, err)
		cc.SetPipelineState(trace.NewPipelineState("p", gpucore.PipelineCompute, nil))
		require.NoError(t, cc.Dispatch(1, 1, 1))
		fence, err := pacer.Submit(cc)
		require.NoError(t, err)
		return fence
	}

	slot, err := pacer.BeginFrame(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 0, slot)
	first := submit()
	_, err = h.AllocateShaderVisible(3)
	require.NoError(t, err)

	slot, err = pacer.BeginFrame(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, slot)
	assert.Equal(t, 1, h.Stats().Frame)

	// Slot 0 is still waiting on its fence.
	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	_, err = pacer.BeginFrame(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, pacer.Slot())

	traceQueue(sys, gpucore.WorkCompute).Retire(first)
	slot, err = pacer.BeginFrame(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 0, slot)
	assert.Equal(t, uint64(3), pacer.Frame())
	assert.Zero(t, h.Stats().FrameDescriptors, "segment recycled")
}

func TestSystemClosed(t *testing.T) {
	sys, err := gx.Open(trace.New(trace.WithAutoRetire()), heap.Config{})
	require.NoError(t, err)
	require.NoError(t, sys.Close(t.Context()))
	require.NoError(t, sys.Close(t.Context()))

	_, err = sys.NewComputeContext()
	assert.ErrorIs(t, err, gx.ErrClosed)
	_, err = sys.NewGraphicsContext()
	assert.ErrorIs(t, err, gx.ErrClosed)
}

func TestDispatchGroupCounts(t *testing.T) {
	_, sys := newSystem(t, heap.Config{}, []trace.Option{trace.WithAutoRetire()})
	cc, err := sys.NewComputeContext()
	require.NoError(t, err)
	cc.SetPipelineState(trace.NewPipelineState("p", gpucore.PipelineCompute, nil))

	require.NoError(t, cc.Dispatch1D(1000, 64))
	require.NoError(t, cc.Dispatch1D(math.MaxUint32, 64))
	require.NoError(t, cc.Dispatch2D(math.MaxUint32, 17, 1<<16, 0))
	_, err = cc.Submit()
	require.NoError(t, err)

	got := commandsOf[trace.DispatchCommand](lastSubmission(t, sys, gpucore.WorkCompute))
	assert.Equal(t, []trace.DispatchCommand{
		{X: 16, Y: 1, Z: 1},
		{X: 1 << 26, Y: 1, Z: 1},
		{X: 1 << 16, Y: 17, Z: 1},
	}, got)
	require.NoError(t, cc.Close())
}

func TestInvalidRootSignature(t *testing.T) {
	_, sys := newSystem(t, heap.Config{}, []trace.Option{trace.WithAutoRetire()})
	cc, err := sys.NewComputeContext()
	require.NoError(t, err)

	md := &rootsig.Metadata{Tables: []rootsig.Table{{RootIndex: rootsig.MaxRootIndex + 1, TableCapacity: 1}}}
	assertPanicsWith(t, gx.ErrInvalidBinding, func() {
		cc.SetPipelineState(trace.NewPipelineState("bad", gpucore.PipelineCompute, md))
	})
	assert.Nil(t, cc.PipelineState(), "rejected pipeline is not bound")
	require.NoError(t, cc.Close())
}

func TestResetTwiceReleasesOnce(t *testing.T) {
	_, sys := newSystem(t, heap.Config{}, nil)
	cc, err := sys.NewComputeContext()
	require.NoError(t, err)
	cc.SetPipelineState(trace.NewPipelineState("p", gpucore.PipelineCompute, nil))
	require.NoError(t, cc.Dispatch(1, 1, 1))
	fence, err := cc.Submit()
	require.NoError(t, err)
	traceQueue(sys, gpucore.WorkCompute).Retire(fence)

	old := cc.Buffer()
	require.NoError(t, cc.Reset())
	fresh := cc.Buffer()
	require.NoError(t, cc.Reset())
	assert.Same(t, fresh, cc.Buffer(), "second reset keeps the fresh buffer")

	stats := sys.Pool().Stats()
	assert.Equal(t, 1, stats.Live)
	assert.Zero(t, stats.Retired)
	assert.Equal(t, uint64(1), stats.Reused)
	assert.ErrorIs(t, sys.Pool().Release(old), gpucore.ErrAlreadyReleased)
	require.NoError(t, cc.Close())
}

var errListClose = errors.New("list close failed")

// closeFailDevice hands out lists whose Close reports an error while fail is
// set.
type closeFailDevice struct {
	*trace.Device
	fail atomic.Bool
}

func (d *closeFailDevice) CreateCommandList(t gpucore.WorkType) (gpucore.CommandList, error) {
	l, err := d.Device.CreateCommandList(t)
	if err != nil {
		return nil, err
	}
	return &closeFailList{CommandList: l.(*trace.CommandList), fail: &d.fail}, nil
}

type closeFailList struct {
	*trace.CommandList
	fail *atomic.Bool
}

func (l *closeFailList) Close() error {
	if err := l.CommandList.Close(); err != nil {
		return err
	}
	if l.fail.Load() {
		return errListClose
	}
	return nil
}

func TestResetReportsReleaseFailure(t *testing.T) {
	dev := &closeFailDevice{Device: trace.New(trace.WithAutoRetire())}
	sys, err := gx.Open(dev, heap.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, sys.Close(context.Background())) })

	cc, err := sys.NewComputeContext()
	require.NoError(t, err)
	cc.SetPipelineState(trace.NewPipelineState("p", gpucore.PipelineCompute, nil))

	dev.fail.Store(true)
	err = cc.Reset()
	dev.fail.Store(false)
	require.ErrorIs(t, err, errListClose)
	var be *gpucore.BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "CommandList.Close", be.Op)

	// The reset itself went through.
	require.NotNil(t, cc.Buffer())
	assert.True(t, cc.Buffer().Recording())
	assert.Nil(t, cc.PipelineState())
	assert.Equal(t, 1, sys.Pool().Stats().Live)
	require.NoError(t, cc.Close())
}
