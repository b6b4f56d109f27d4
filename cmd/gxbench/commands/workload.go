package commands

import (
	"fmt"

	"github.com/gogpu/gx/backend/trace"
	"github.com/gogpu/gx/gpucore"
	"github.com/gogpu/gx/rootsig"
)

// workload is the pipeline and resources each worker binds per dispatch.
type workload interface {
	Pipeline() gpucore.PipelineState
	// Resources are transitioned back and forth to generate barriers.
	Resources() []gpucore.Resource
	// Table returns the staged descriptors for the table at root.
	Table(root uint32) []gpucore.CPUHandle
	Close()
}

// builtinSignature is used when no --rootsig file is given.
func builtinSignature() *rootsig.Metadata {
	return &rootsig.Metadata{
		Tables: []rootsig.Table{{RootIndex: 0, TableCapacity: 2}},
		Views:  []rootsig.View{{RootIndex: 1, Kind: rootsig.ViewCBV}},
	}
}

// workloadBuilders try each known device type in turn.
var workloadBuilders = []func(gpucore.Device, *rootsig.Metadata, bool) (workload, bool, error){
	newTraceWorkload,
}

func newWorkload(dev gpucore.Device, md *rootsig.Metadata, custom bool) (workload, error) {
	for _, build := range workloadBuilders {
		w, ok, err := build(dev, md, custom)
		if ok {
			return w, err
		}
	}
	return nil, fmt.Errorf("no workload for device %T", dev)
}

type traceWorkload struct {
	dev       *trace.Device
	pso       *trace.PipelineState
	staging   gpucore.DescriptorHeap
	tables    map[uint32][]gpucore.CPUHandle
	resources []gpucore.Resource
}

func newTraceWorkload(dev gpucore.Device, md *rootsig.Metadata, _ bool) (workload, bool, error) {
	td, ok := dev.(*trace.Device)
	if !ok {
		return nil, false, nil
	}
	w := &traceWorkload{
		dev:       td,
		pso:       trace.NewPipelineState("gxbench", gpucore.PipelineCompute, md),
		tables:    make(map[uint32][]gpucore.CPUHandle),
		resources: []gpucore.Resource{trace.NewResource("src"), trace.NewResource("dst")},
	}
	total := md.TotalCapacity()
	if total == 0 {
		return w, true, nil
	}
	staging, err := td.CreateDescriptorHeap(gpucore.DescriptorHeapDesc{
		Label: "gxbench_staging", Type: gpucore.HeapCBVSRVUAV, Capacity: total,
	})
	if err != nil {
		return nil, true, err
	}
	w.staging = staging
	slot := uint32(0)
	for _, t := range md.Tables {
		handles := make([]gpucore.CPUHandle, t.TableCapacity)
		for i := range handles {
			h := staging.CPUStart().Offset(slot, staging.Increment())
			td.WriteDescriptor(h, trace.Descriptor{
				Kind:    trace.KindSRV,
				Address: gpucore.GPUAddress(0x1000 * uint64(slot+1)),
				Size:    256,
			})
			handles[i] = h
			slot++
		}
		w.tables[t.RootIndex] = handles
	}
	return w, true, nil
}

func (w *traceWorkload) Pipeline() gpucore.PipelineState       { return w.pso }
func (w *traceWorkload) Resources() []gpucore.Resource         { return w.resources }
func (w *traceWorkload) Table(root uint32) []gpucore.CPUHandle { return w.tables[root] }

func (w *traceWorkload) Close() {
	if w.staging != nil {
		w.dev.DestroyDescriptorHeap(w.staging)
	}
}
