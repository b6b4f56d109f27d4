package trace

import (
	"github.com/gogpu/gx/gpucore"
)

// CommandType identifies the type of a recorded command.
type CommandType uint8

const (
	// State commands
	CmdBarrier            CommandType = iota // Batch of resource barriers
	CmdSetDescriptorHeaps                    // Bind shader-visible heaps
	CmdSetPipelineState                      // Bind pipeline and root signature
	CmdSetRootView                           // Bind a root CBV/SRV/UAV by address
	CmdSetRootTable                          // Bind a root descriptor table

	// Compute commands
	CmdDispatch // Dispatch compute work

	// Graphics commands
	CmdSetRenderTargets     // Bind color and depth targets
	CmdClearRenderTarget    // Clear a color target
	CmdClearDepthStencil    // Clear a depth target
	CmdSetViewports         // Set viewports
	CmdSetScissorRects      // Set scissor rectangles
	CmdSetVertexBuffers     // Bind vertex buffers
	CmdSetIndexBuffer       // Bind an index buffer
	CmdDrawInstanced        // Non-indexed draw
	CmdDrawIndexedInstanced // Indexed draw
)

var commandTypeNames = [...]string{
	CmdBarrier:              "Barrier",
	CmdSetDescriptorHeaps:   "SetDescriptorHeaps",
	CmdSetPipelineState:     "SetPipelineState",
	CmdSetRootView:          "SetRootView",
	CmdSetRootTable:         "SetRootTable",
	CmdDispatch:             "Dispatch",
	CmdSetRenderTargets:     "SetRenderTargets",
	CmdClearRenderTarget:    "ClearRenderTarget",
	CmdClearDepthStencil:    "ClearDepthStencil",
	CmdSetViewports:         "SetViewports",
	CmdSetScissorRects:      "SetScissorRects",
	CmdSetVertexBuffers:     "SetVertexBuffers",
	CmdSetIndexBuffer:       "SetIndexBuffer",
	CmdDrawInstanced:        "DrawInstanced",
	CmdDrawIndexedInstanced: "DrawIndexedInstanced",
}

// String returns the string representation of a CommandType.
func (c CommandType) String() string {
	if int(c) < len(commandTypeNames) {
		return commandTypeNames[c]
	}
	return "Unknown"
}

// Command is the interface implemented by all recorded commands.
type Command interface {
	// Type returns the CommandType for this command.
	Type() CommandType
}

// BindPoint tells whether a root binding went through the compute or the
// graphics entry points.
type BindPoint uint8

// Bind points.
const (
	BindCompute BindPoint = iota
	BindGraphics
)

// ViewKind is the kind of a root view binding.
type ViewKind uint8

// Root view kinds.
const (
	ViewCBV ViewKind = iota
	ViewSRV
	ViewUAV
)

// BarrierCommand is one native barrier call.
type BarrierCommand struct {
	Barriers []gpucore.Barrier
}

// Type implements Command.
func (BarrierCommand) Type() CommandType { return CmdBarrier }

// SetDescriptorHeapsCommand binds shader-visible heaps.
type SetDescriptorHeapsCommand struct {
	Heaps []gpucore.DescriptorHeap
}

// Type implements Command.
func (SetDescriptorHeapsCommand) Type() CommandType { return CmdSetDescriptorHeaps }

// SetPipelineStateCommand binds a pipeline state.
type SetPipelineStateCommand struct {
	PSO gpucore.PipelineState
}

// Type implements Command.
func (SetPipelineStateCommand) Type() CommandType { return CmdSetPipelineState }

// SetRootViewCommand binds a root view.
type SetRootViewCommand struct {
	Bind    BindPoint
	Kind    ViewKind
	Root    uint32
	Address gpucore.GPUAddress
}

// Type implements Command.
func (SetRootViewCommand) Type() CommandType { return CmdSetRootView }

// SetRootTableCommand binds a root descriptor table.
type SetRootTableCommand struct {
	Bind BindPoint
	Root uint32
	Base gpucore.GPUHandle
}

// Type implements Command.
func (SetRootTableCommand) Type() CommandType { return CmdSetRootTable }

// DispatchCommand dispatches compute work.
type DispatchCommand struct {
	X, Y, Z uint32
}

// Type implements Command.
func (DispatchCommand) Type() CommandType { return CmdDispatch }

// SetRenderTargetsCommand binds render targets.
type SetRenderTargetsCommand struct {
	Targets []gpucore.Resource
	Depth   gpucore.Resource
}

// Type implements Command.
func (SetRenderTargetsCommand) Type() CommandType { return CmdSetRenderTargets }

// ClearRenderTargetCommand clears a color target.
type ClearRenderTargetCommand struct {
	Target gpucore.Resource
	Color  [4]float32
}

// Type implements Command.
func (ClearRenderTargetCommand) Type() CommandType { return CmdClearRenderTarget }

// ClearDepthStencilCommand clears a depth target.
type ClearDepthStencilCommand struct {
	Depth   gpucore.Resource
	Value   float32
	Stencil uint8
}

// Type implements Command.
func (ClearDepthStencilCommand) Type() CommandType { return CmdClearDepthStencil }

// SetViewportsCommand sets viewports.
type SetViewportsCommand struct {
	Viewports []gpucore.Viewport
}

// Type implements Command.
func (SetViewportsCommand) Type() CommandType { return CmdSetViewports }

// SetScissorRectsCommand sets scissor rectangles.
type SetScissorRectsCommand struct {
	Rects []gpucore.Rect
}

// Type implements Command.
func (SetScissorRectsCommand) Type() CommandType { return CmdSetScissorRects }

// SetVertexBuffersCommand binds vertex buffers starting at slot Start.
type SetVertexBuffersCommand struct {
	Start uint32
	Views []gpucore.VertexBufferView
}

// Type implements Command.
func (SetVertexBuffersCommand) Type() CommandType { return CmdSetVertexBuffers }

// SetIndexBufferCommand binds an index buffer.
type SetIndexBufferCommand struct {
	View gpucore.IndexBufferView
}

// Type implements Command.
func (SetIndexBufferCommand) Type() CommandType { return CmdSetIndexBuffer }

// DrawInstancedCommand is a non-indexed draw.
type DrawInstancedCommand struct {
	VertexCount, InstanceCount, StartVertex, StartInstance uint32
}

// Type implements Command.
func (DrawInstancedCommand) Type() CommandType { return CmdDrawInstanced }

// DrawIndexedInstancedCommand is an indexed draw.
type DrawIndexedInstancedCommand struct {
	IndexCount, InstanceCount, StartIndex uint32
	BaseVertex                            int32
	StartInstance                         uint32
}

// Type implements Command.
func (DrawIndexedInstancedCommand) Type() CommandType { return CmdDrawIndexedInstanced }
