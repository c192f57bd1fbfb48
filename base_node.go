// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package imgraph

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/gogpu/imgraph/gpucore"
)

// BaseNode implements the bookkeeping shared by all nodes: identity, tags,
// parameters, input validation, lifecycle state, the node semaphore and
// submission of the recorded command buffer.
//
// Concrete nodes embed BaseNode and override Init, Commands and friends,
// calling the BaseNode versions first.
type BaseNode struct {
	id     string
	tags   []Tag
	slots  []InputSlot
	params *Params

	inputs []Node
	state  LifecycleState
	dev    gpucore.Device
	log    *slog.Logger
	sem    *Semaphore
	cmd    *CommandBuffer
	first  bool
}

// NewBaseNode creates the base of a node with the given tags, input slots
// and parameters.
func NewBaseNode(tags []Tag, slots []InputSlot, params ...*Parameter) BaseNode {
	return BaseNode{
		tags:   slices.Clone(tags),
		slots:  slices.Clone(slots),
		params: NewParams(params...),
		log:    NopLogger(),
	}
}

// CloneBase returns a BaseNode with the same identity, tags, slots and
// parameter defaults, and no wiring or device state.
func (b *BaseNode) CloneBase() BaseNode {
	return BaseNode{
		id:     b.id,
		tags:   slices.Clone(b.tags),
		slots:  slices.Clone(b.slots),
		params: b.params.Clone(),
		log:    NopLogger(),
	}
}

// ID returns the node identifier.
func (b *BaseNode) ID() string { return b.id }

// SetID assigns the identifier. Registry.Create calls it on fresh clones.
func (b *BaseNode) SetID(id string) { b.id = id }

// Tags returns the capability labels.
func (b *BaseNode) Tags() []Tag { return slices.Clone(b.tags) }

// HasTag reports whether the node carries t.
func (b *BaseNode) HasTag(t Tag) bool { return slices.Contains(b.tags, t) }

// Params returns the parameter set.
func (b *BaseNode) Params() *Params { return b.params }

// Param returns the named parameter, or nil.
func (b *BaseNode) Param(name string) *Parameter {
	p, _ := b.params.Get(name)
	return p
}

// Slots returns the declared input slots.
func (b *BaseNode) Slots() []InputSlot { return slices.Clone(b.slots) }

// State returns the lifecycle state.
func (b *BaseNode) State() LifecycleState { return b.state }

// SetState records a lifecycle transition made by an embedding node.
func (b *BaseNode) SetState(s LifecycleState) { b.state = s }

// Device returns the device given to Init, or nil.
func (b *BaseNode) Device() gpucore.Device { return b.dev }

// Logger returns the node logger, scoped with the node ID after Init.
func (b *BaseNode) Logger() *slog.Logger { return b.log }

// Input returns the i-th validated upstream node, or nil.
func (b *BaseNode) Input(i int) Node {
	if i < 0 || i >= len(b.inputs) {
		return nil
	}
	return b.inputs[i]
}

// InputImage returns the output image of the i-th input, or nil.
func (b *BaseNode) InputImage(i int) *Image {
	out, ok := AsImageOutput(b.Input(i))
	if !ok {
		return nil
	}
	return out.OutputImage()
}

// Inputs validates in against the declared slots and stores it. Every
// problem is reported, joined.
func (b *BaseNode) Inputs(in []Node) error {
	var errs []error
	if len(in) > len(b.slots) {
		errs = append(errs, wiringf(b.id, "", "got %d inputs, accepts at most %d", len(in), len(b.slots)))
	}
	for i, slot := range b.slots {
		var n Node
		if i < len(in) {
			n = in[i]
		}
		if n == nil {
			if !slot.Optional {
				errs = append(errs, wiringf(b.id, slot.Name, "required input is missing"))
			}
			continue
		}
		if slot.Accepts != nil {
			if err := slot.Accepts(n); err != nil {
				errs = append(errs, wiringf(b.id, slot.Name, "%v", err))
			}
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	b.inputs = slices.Clone(in)
	return nil
}

// Init creates the node semaphore.
func (b *BaseNode) Init(ctx *BuildContext) error {
	if b.sem != nil {
		return fmt.Errorf("imgraph: node %q initialized twice", b.id)
	}
	b.dev = ctx.Device
	b.log = orNop(ctx.Logger).With("node", b.id)
	sem, err := NewSemaphore(ctx.Device, b.id)
	if err != nil {
		return err
	}
	b.sem = sem
	b.first = true
	b.state = StateInitialized
	return nil
}

// PostInit does nothing.
func (b *BaseNode) PostInit(*BuildContext) error { return nil }

// Update acknowledges every parameter. It reports true for the setup pass,
// on the first run, and when any parameter committed a valid change.
// Rejected edits are logged and do not make the node stale.
func (b *BaseNode) Update(kind ExecutionKind) bool {
	changed, rejected := b.params.AcknowledgeAll()
	for _, err := range rejected {
		b.log.Warn("imgraph: parameter edit rejected", "err", err)
	}
	stale := kind == Setup || b.first || changed
	b.first = false
	return stale
}

// Allocate stores cmd for Execute.
func (b *BaseNode) Allocate(cmd *CommandBuffer) error {
	if b.cmd != nil {
		return fmt.Errorf("node %q: command buffer: %w", b.id, ErrAlreadyAllocated)
	}
	b.cmd = cmd
	b.state = StateAllocated
	return nil
}

// Commands records nothing.
func (b *BaseNode) Commands(*CommandBuffer, int, int) error { return nil }

// Execute submits the finished command buffer. The node waits on wait and
// signals its semaphore, or only the fence when it is the terminal node.
func (b *BaseNode) Execute(_ ExecutionKind, wait *Semaphore, fence *Fence) error {
	if b.cmd == nil || b.cmd.List() == nil {
		return fmt.Errorf("node %q: execute without a finished command buffer: %w", b.id, ErrNotAllocated)
	}
	sub := &gpucore.Submission{
		Label:    b.id,
		Commands: []gpucore.CommandList{b.cmd.List()},
	}
	if wait != nil {
		sub.Wait = []gpucore.SemaphoreID{wait.ID()}
	}
	if fence != nil {
		sub.Fence = fence.ID()
	} else {
		sub.Signal = []gpucore.SemaphoreID{b.sem.ID()}
	}
	if err := b.dev.Submit(sub); err != nil {
		return runtimeError("submit", b.id, err)
	}
	b.state = StateExecuted
	b.log.Debug("imgraph: submitted", "wait", wait != nil, "terminal", fence != nil)
	return nil
}

// Semaphore returns the node semaphore.
func (b *BaseNode) Semaphore() *Semaphore { return b.sem }

// Deallocate drops the frame's command buffer reference. The graph owns and
// releases the buffer itself.
func (b *BaseNode) Deallocate() {
	b.cmd = nil
	if b.state == StateAllocated || b.state == StateExecuted {
		b.state = StateDeallocated
	}
}

// Destroy releases the semaphore and the input references.
func (b *BaseNode) Destroy() {
	b.sem.Destroy()
	b.sem = nil
	b.cmd = nil
	b.inputs = nil
	b.dev = nil
	b.state = StateUnbuilt
}
