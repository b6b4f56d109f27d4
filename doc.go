// Package gx records GPU commands through per-goroutine command contexts.
//
// # Overview
//
// A [CommandContext] translates dispatch, draw and binding calls into a
// native command list while managing three scarce frame-lifetime resources:
// upload memory for constants and transient geometry, CPU descriptor scratch
// space, and shader-visible descriptor tables. It batches resource barriers,
// defers descriptor table materialization until work is recorded, and
// recycles command lists and allocators across frames without resetting
// anything the GPU is still reading.
//
// # Quick Start
//
//	dev := trace.New(trace.WithAutoRetire()) // or a backend/native device
//	sys, err := gx.Open(dev, heap.Config{})
//	if err != nil {
//	    return err
//	}
//	defer sys.Close(context.Background())
//
//	cc, err := sys.NewComputeContext(gx.WithLabel("blur"))
//	if err != nil {
//	    return err
//	}
//	cc.SetPipelineState(pso)
//	cc.TransitionResource(tex, gpucore.StateShaderResource, gpucore.StateUnorderedAccess)
//	if err := cc.SetConstantBuffer(2, params); err != nil {
//	    return err
//	}
//	cc.SetDynamicDescriptors(0, 0, srv, uav)
//	if err := cc.Dispatch(64, 64, 1); err != nil {
//	    return err
//	}
//	fence, err := cc.Submit()
//
// # Lifecycle
//
// Contexts move through Idle, Recording and Submitted. A submitted context
// must be [CommandContext.Reset] before it records again; Reset returns
// [ErrInFlight] until the GPU has reached the context's fence. Use a
// [ContextPool] to recycle contexts and a [FramePacer] to bound the number
// of frames in flight.
//
// # Barriers
//
// Up to [BarrierCapacity] barriers are batched and flushed as one native
// call before the next dispatch, draw, clear or submission. What happens to
// a 17th barrier is chosen with [WithBarrierPolicy].
//
// # Descriptor Tables
//
// Table bindings are staged per root parameter and committed just before
// each dispatch or draw: the dirty tables are copied, in root-index order,
// into one contiguous range of the shader-visible heap, so there is one
// shader-visible allocation per dispatch or draw however many tables changed.
//
// # Concurrency
//
// A context belongs to one goroutine. [System], [ContextPool], the
// command list pool, the queues and the heaps synchronize internally.
//
// # Logging
//
// gx logs through [log/slog]; see [SetLogger].
package gx
