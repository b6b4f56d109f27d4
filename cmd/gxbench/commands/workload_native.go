//go:build !nogpu

package commands

import (
	"errors"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gx/backend/native" // registers hal-noop and vulkan
	"github.com/gogpu/gx/gpucore"
	"github.com/gogpu/gx/rootsig"
)

// scaleShader matches builtinSignature: a two-slot table (src, dst) and a
// constant buffer.
const scaleShader = `
struct Params { factor: f32 }

@group(0) @binding(0) var<storage, read> src: array<f32>;
@group(0) @binding(1) var<storage, read_write> dst: array<f32>;
@group(0) @binding(2) var<uniform> params: Params;

@compute @workgroup_size(64)
fn main(@builtin(global_invocation_id) id: vec3<u32>) {
    dst[id.x] = src[id.x] * params.factor;
}
`

const nativeBufferSize = 64 * 1024

var errCustomSignature = errors.New("--rootsig is only supported on the trace backend")

func init() {
	workloadBuilders = append(workloadBuilders, newNativeWorkload)
}

type nativeWorkload struct {
	dev      *native.Device
	pso      *native.PipelineState
	src, dst *native.Buffer
	staging  gpucore.DescriptorHeap
	table    []gpucore.CPUHandle
}

func newNativeWorkload(dev gpucore.Device, md *rootsig.Metadata, custom bool) (workload, bool, error) {
	nd, ok := dev.(*native.Device)
	if !ok {
		return nil, false, nil
	}
	if custom {
		return nil, true, errCustomSignature
	}
	w := &nativeWorkload{dev: nd}
	ok = false
	defer func() {
		if !ok {
			w.Close()
		}
	}()

	var err error
	w.pso, err = nd.NewComputePipeline(native.ComputePipelineDesc{
		Label:         "gxbench_scale",
		WGSL:          scaleShader,
		RootSignature: md,
		TableKinds:    map[uint32][]rootsig.ViewKind{0: {rootsig.ViewSRV, rootsig.ViewUAV}},
	})
	if err != nil {
		return nil, true, err
	}
	if w.src, err = nd.NewBuffer("gxbench_src", nativeBufferSize, gputypes.BufferUsageStorage|gputypes.BufferUsageCopyDst); err != nil {
		return nil, true, err
	}
	if w.dst, err = nd.NewBuffer("gxbench_dst", nativeBufferSize, gputypes.BufferUsageStorage|gputypes.BufferUsageCopySrc); err != nil {
		return nil, true, err
	}
	if w.staging, err = nd.CreateDescriptorHeap(gpucore.DescriptorHeapDesc{
		Label: "gxbench_staging", Type: gpucore.HeapCBVSRVUAV, Capacity: 2,
	}); err != nil {
		return nil, true, err
	}
	srv := w.staging.CPUStart()
	uav := srv.Offset(1, w.staging.Increment())
	nd.CreateShaderResourceView(w.src.Address(0), nativeBufferSize, srv)
	nd.CreateUnorderedAccessView(w.dst.Address(0), nativeBufferSize, uav)
	w.table = []gpucore.CPUHandle{srv, uav}
	ok = true
	return w, true, nil
}

func (w *nativeWorkload) Pipeline() gpucore.PipelineState { return w.pso }

func (w *nativeWorkload) Resources() []gpucore.Resource {
	return []gpucore.Resource{w.src, w.dst}
}

func (w *nativeWorkload) Table(root uint32) []gpucore.CPUHandle {
	if root != 0 {
		return nil
	}
	return w.table
}

func (w *nativeWorkload) Close() {
	if w.staging != nil {
		w.dev.DestroyDescriptorHeap(w.staging)
	}
	if w.dst != nil {
		w.dst.Destroy()
	}
	if w.src != nil {
		w.src.Destroy()
	}
	if w.pso != nil {
		w.pso.Destroy()
	}
}
