package memheap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/gx/gpucore"
)

func TestHandles(t *testing.T) {
	r := NewRegistry()
	cpu := r.NewHeap(gpucore.DescriptorHeapDesc{Label: "cpu", Capacity: 4})
	gpu := r.NewHeap(gpucore.DescriptorHeapDesc{Label: "gpu", Capacity: 4, ShaderVisible: true})

	assert.NotZero(t, cpu.CPUStart())
	assert.Zero(t, cpu.GPUStart(), "CPU-only heaps have no GPU handles")
	assert.NotZero(t, gpu.GPUStart())
	assert.NotEqual(t, cpu.CPUStart(), gpu.CPUStart())
	assert.Equal(t, uint32(Increment), cpu.Increment())

	h, idx, ok := r.Resolve(cpu.CPUStart().Offset(3, Increment))
	require.True(t, ok)
	assert.Same(t, cpu, h)
	assert.Equal(t, uint32(3), idx)

	_, _, ok = r.Resolve(cpu.CPUStart().Offset(4, Increment))
	assert.False(t, ok, "past the end")
	_, _, ok = r.Resolve(cpu.CPUStart() + 1)
	assert.False(t, ok, "misaligned")
	_, _, ok = r.Resolve(gpucore.CPUHandle(gpu.GPUStart()))
	assert.False(t, ok, "GPU handle used as CPU handle")
	_, _, ok = r.ResolveGPU(gpucore.GPUHandle(cpu.CPUStart()))
	assert.False(t, ok, "CPU handle used as GPU handle")

	h, idx, ok = r.ResolveGPU(gpu.GPUStart().Offset(2, Increment))
	require.True(t, ok)
	assert.Same(t, gpu, h)
	assert.Equal(t, uint32(2), idx)

	r.Remove(cpu)
	_, _, ok = r.Resolve(cpu.CPUStart())
	assert.False(t, ok)
}

func TestWriteCopyRead(t *testing.T) {
	r := NewRegistry()
	src := r.NewHeap(gpucore.DescriptorHeapDesc{Capacity: 4})
	dst := r.NewHeap(gpucore.DescriptorHeapDesc{Capacity: 8, ShaderVisible: true})

	a := Descriptor{Kind: KindSRV, Address: 0x1000, Size: 64}
	b := Descriptor{Kind: KindUAV, Address: 0x2000, Size: 128}
	r.Write(src.CPUStart(), a)
	r.Write(src.CPUStart().Offset(1, Increment), b)

	got, ok := r.Read(src.CPUStart().Offset(1, Increment))
	require.True(t, ok)
	assert.Equal(t, b, got)

	r.Copy(2, dst.CPUStart().Offset(5, Increment), src.CPUStart())
	table, err := r.ReadTable(dst.GPUStart().Offset(5, Increment), 2)
	require.NoError(t, err)
	assert.Equal(t, []Descriptor{a, b}, table)

	d, ok := r.ReadGPU(dst.GPUStart().Offset(6, Increment))
	require.True(t, ok)
	assert.Equal(t, "uav", d.Kind.String())

	_, err = r.ReadTable(dst.GPUStart().Offset(7, Increment), 2)
	assert.Error(t, err, "overruns heap")
	_, err = r.ReadTable(0, 1)
	assert.Error(t, err)

	assert.Panics(t, func() { r.Write(0, a) })
	assert.Panics(t, func() { r.Copy(2, dst.CPUStart().Offset(7, Increment), src.CPUStart()) })
	assert.Panics(t, func() { r.Copy(5, dst.CPUStart(), src.CPUStart()) })
}
