// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package imgraph

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/gogpu/imgraph/gpucore"
)

// Tag is a capability label used for registry lookup and input checks.
type Tag string

// Well-known tags.
const (
	TagImage  Tag = "image"  // produces an image
	TagSource Tag = "source" // has no inputs
	TagColor  Tag = "color"  // per-pixel color transform
	TagOutput Tag = "output" // consumes pixels on the host
)

// ExecutionKind selects between the one-shot setup pass and the
// steady-state per-frame pass.
type ExecutionKind int

// Execution kinds.
const (
	// Setup is the first pass after a node joins the graph, and after any
	// topology change upstream of it.
	Setup ExecutionKind = iota
	// Execution is the steady-state per-frame pass.
	Execution
)

// String returns the string representation of the kind.
func (k ExecutionKind) String() string {
	switch k {
	case Setup:
		return "setup"
	case Execution:
		return "execution"
	default:
		return fmt.Sprintf("Unknown(%d)", int(k))
	}
}

// LifecycleState is the position of a node in its lifecycle.
type LifecycleState int

// Lifecycle states.
const (
	StateUnbuilt LifecycleState = iota
	StateInitialized
	StateAllocated
	StateExecuted
	StateDeallocated
)

// String returns the string representation of the state.
func (s LifecycleState) String() string {
	switch s {
	case StateUnbuilt:
		return "unbuilt"
	case StateInitialized:
		return "initialized"
	case StateAllocated:
		return "allocated"
	case StateExecuted:
		return "executed"
	case StateDeallocated:
		return "deallocated"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// BuildContext carries what nodes need during Init and PostInit.
type BuildContext struct {
	Device gpucore.Device
	Logger *slog.Logger
}

// Node is the unit of graph composition.
//
// The graph drives every node through its lifecycle:
//
//	Inputs -> Init -> PostInit                      (build)
//	Update -> Allocate -> Commands -> Execute       (each stale frame)
//	Deallocate                                      (end of every frame)
//	Destroy                                         (removal or Close)
//
// Inputs are non-owning references; the graph guarantees that upstream nodes
// outlive their consumers for the duration of a frame.
type Node interface {
	// ID returns the unique node identifier within a graph.
	ID() string

	// Tags returns the capability labels of the node type.
	Tags() []Tag

	// Params returns the node's parameters.
	Params() *Params

	// State returns the lifecycle state.
	State() LifecycleState

	// Inputs validates and stores upstream nodes, one per input slot
	// (nil for an unconnected optional slot). All problems are reported.
	Inputs(in []Node) error

	// Init performs one-time setup after wiring is known. Upstream nodes
	// have already been initialized.
	Init(b *BuildContext) error

	// PostInit runs after every node of the build pass has been initialized.
	PostInit(b *BuildContext) error

	// Update consumes parameter changes and reports whether the node's
	// output is stale. It must clear every consumed flag.
	Update(kind ExecutionKind) bool

	// Allocate acquires per-frame resources for recording into cmd.
	Allocate(cmd *CommandBuffer) error

	// Commands records GPU work. width and height are the dimensions of the
	// node's first image input, or zero for sources. It must not submit.
	Commands(cmd *CommandBuffer, width, height int) error

	// Execute submits the recorded work, waiting on wait (nil for the first
	// stale node). A non-nil fence marks the terminal node of the frame: it
	// signals the fence instead of its semaphore.
	Execute(kind ExecutionKind, wait *Semaphore, fence *Fence) error

	// Semaphore returns the semaphore signaled by Execute.
	Semaphore() *Semaphore

	// Deallocate releases per-frame resources. It is called on every frame
	// exit path and must be safe to call when nothing is allocated.
	Deallocate()

	// Destroy releases everything acquired by Init.
	Destroy()

	// Clone returns an independent node of the same type with default
	// state. Clones share no mutable state with the original.
	Clone() Node
}

// ImageOutput is implemented by nodes that produce an image.
type ImageOutput interface {
	// OutputImage returns the node's output, or nil before Init.
	OutputImage() *Image
}

// AsImageOutput queries the image output capability.
func AsImageOutput(n Node) (ImageOutput, bool) {
	if n == nil {
		return nil, false
	}
	out, ok := n.(ImageOutput)
	return out, ok
}

// FrameInfo describes a frame to FrameCompleters and Presenters.
type FrameInfo struct {
	ID    uuid.UUID
	Index uint64
	Kind  ExecutionKind
	// Fence is the frame fence, signaled by the time completers run.
	Fence *Fence
	// Tasks runs background work that outlives the frame.
	Tasks  TaskRunner
	Logger *slog.Logger
}

// FrameCompleter is implemented by nodes that consume results on the host.
// Complete is called after the frame fence has signaled and before
// Deallocate.
type FrameCompleter interface {
	Complete(ctx context.Context, info FrameInfo) error
}

// TaskRunner runs independent background tasks.
type TaskRunner interface {
	// Go schedules fn; its error is reported by Wait.
	Go(name string, fn func() error) error
	// Wait blocks until all scheduled tasks are done.
	Wait() error
	// Close waits and stops the runner.
	Close() error
}

// Presenter receives the terminal image of every executed frame.
type Presenter interface {
	Present(ctx context.Context, img *Image, info FrameInfo) error
}

// PresenterFunc adapts a function to Presenter.
type PresenterFunc func(ctx context.Context, img *Image, info FrameInfo) error

// Present calls f.
func (f PresenterFunc) Present(ctx context.Context, img *Image, info FrameInfo) error {
	return f(ctx, img, info)
}

// InputSlot declares one input of a node type.
type InputSlot struct {
	Name     string
	Optional bool
	// Accepts checks an upstream node; nil accepts any node.
	Accepts func(Node) error
}

// ImageInput declares a required input that must produce an image.
func ImageInput(name string) InputSlot {
	return InputSlot{Name: name, Accepts: requireImage}
}

func requireImage(n Node) error {
	if _, ok := AsImageOutput(n); !ok {
		return fmt.Errorf("node %q does not produce an image", n.ID())
	}
	return nil
}
