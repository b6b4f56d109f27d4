package gx

import (
	"errors"

	"github.com/gogpu/gx/gpucore"
)

// Errors shared with the lower layers, re-exported for convenience.
var (
	// ErrOutOfMemory is returned when upload memory, scratch descriptors or
	// shader-visible descriptors run out.
	ErrOutOfMemory = gpucore.ErrOutOfMemory

	// ErrInvalidBinding is the panic value for bindings outside the active
	// root signature.
	ErrInvalidBinding = gpucore.ErrInvalidBinding

	// ErrBarrierOverflow is the panic value for a 17th pending barrier under
	// BarrierStrict.
	ErrBarrierOverflow = gpucore.ErrBarrierOverflow

	// ErrInFlight is returned when a context is reset or closed before the
	// GPU finished its last submission.
	ErrInFlight = gpucore.ErrInFlight

	// ErrAlreadyReleased is returned when a command buffer is released twice.
	ErrAlreadyReleased = gpucore.ErrAlreadyReleased

	// ErrNotRecording is the panic value for recording into a submitted or
	// closed context.
	ErrNotRecording = gpucore.ErrNotRecording

	// ErrUnsupported is returned for commands a backend cannot express.
	ErrUnsupported = gpucore.ErrUnsupported
)

// Errors raised by this package.
var (
	// ErrClosed is returned when operating on a closed system or context.
	ErrClosed = errors.New("gx: closed")

	// ErrNoFrameSegments is returned by NewFramePacer for frame heaps that
	// cannot recycle shader-visible segments.
	ErrNoFrameSegments = errors.New("gx: frame heaps have no frame segments")
)

// BackendError wraps a failure reported by the native API.
type BackendError = gpucore.BackendError
