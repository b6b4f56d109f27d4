package gpucore

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by every layer. Callers test them with errors.Is.
var (
	// ErrOutOfMemory is returned when an upload page, descriptor block or
	// shader-visible range cannot be allocated.
	ErrOutOfMemory = errors.New("gpucore: out of memory")

	// ErrInvalidBinding reports a descriptor binding outside the bounds
	// declared by the current root signature. It is raised as a panic value.
	ErrInvalidBinding = errors.New("gpucore: invalid descriptor binding")

	// ErrBarrierOverflow reports a barrier enqueued into a full batch under
	// the strict barrier policy. It is raised as a panic value.
	ErrBarrierOverflow = errors.New("gpucore: barrier batch overflow")

	// ErrInFlight is returned when a command buffer is reset or reused
	// before the GPU has finished executing it.
	ErrInFlight = errors.New("gpucore: command buffer still in flight")

	// ErrAlreadyReleased is returned when a pooled object is released twice.
	ErrAlreadyReleased = errors.New("gpucore: already released")

	// ErrNotRecording reports a recording call on a closed or submitted
	// command buffer. It is raised as a panic value.
	ErrNotRecording = errors.New("gpucore: command buffer is not recording")

	// ErrUnsupported is returned by backends for commands they cannot express.
	ErrUnsupported = errors.New("gpucore: unsupported by backend")
)

// BackendError wraps a failure reported by the native API.
type BackendError struct {
	// Op is the failing operation, e.g. "CreateCommandList".
	Op string

	// Status is the backend status code, if it has one.
	Status int

	Err error
}

// Error implements the error interface.
func (e *BackendError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("gpucore: %s failed (status %d): %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("gpucore: %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *BackendError) Unwrap() error { return e.Err }

// WrapBackend wraps err in a BackendError for op. It returns nil for a nil err
// and leaves errors that already are a BackendError untouched.
func WrapBackend(op string, err error) error {
	if err == nil {
		return nil
	}
	var be *BackendError
	if errors.As(err, &be) {
		return err
	}
	return &BackendError{Op: op, Err: err}
}
