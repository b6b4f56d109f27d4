package gpucore

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkType(t *testing.T) {
	for w := range NumWorkTypes {
		got, err := ParseWorkType(w.String())
		require.NoError(t, err)
		assert.Equal(t, w, got)
	}
	got, err := ParseWorkType("COMPUTE")
	require.NoError(t, err)
	assert.Equal(t, WorkCompute, got)

	_, err = ParseWorkType("video")
	assert.Error(t, err)
	assert.Equal(t, "WorkType(9)", WorkType(9).String())
}

func TestResourceStateString(t *testing.T) {
	tests := []struct {
		state ResourceState
		want  string
	}{
		{StateCommon, "common"},
		{StateRenderTarget, "render_target"},
		{StateShaderResource | StateCopySource, "srv|copy_source"},
		{StatePresent | 1<<20, "present|0x100000"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
	}
}

type named string

func (n named) Label() string { return string(n) }

func TestBarrierString(t *testing.T) {
	b := Barrier{Resource: named("tex"), Before: StateCommon, After: StateUnorderedAccess}
	assert.Equal(t, "tex: common -> uav", b.String())
	assert.Equal(t, "<nil>: common -> common", Barrier{}.String())
}

func TestHandleOffsets(t *testing.T) {
	assert.Equal(t, CPUHandle(0x1000+3*32), CPUHandle(0x1000).Offset(3, 32))
	assert.Equal(t, GPUHandle(64), GPUHandle(0).Offset(2, 32))
	assert.Equal(t, uint32(2), IndexUint16.Size())
	assert.Equal(t, uint32(4), IndexUint32.Size())
	assert.Equal(t, "graphics", PipelineGraphics.String())
	assert.Equal(t, "compute", PipelineCompute.String())
	assert.Equal(t, "cbv_srv_uav", HeapCBVSRVUAV.String())
	assert.Equal(t, "DescriptorHeapType(7)", DescriptorHeapType(7).String())
}

func TestWrapBackend(t *testing.T) {
	assert.NoError(t, WrapBackend("op", nil))

	err := WrapBackend("CreateQueue", io.EOF)
	var be *BackendError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, "CreateQueue", be.Op)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "gpucore: CreateQueue failed: EOF", err.Error())

	assert.Same(t, err, WrapBackend("outer", err), "already wrapped")

	be = &BackendError{Op: "Submit", Status: -4, Err: io.ErrUnexpectedEOF}
	assert.Equal(t, "gpucore: Submit failed (status -4): unexpected EOF", be.Error())
}
