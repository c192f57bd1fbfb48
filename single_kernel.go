// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package imgraph

import (
	"fmt"

	"github.com/gogpu/imgraph/gpucore"
)

// SingleKernelSpec configures a SingleKernel node.
type SingleKernelSpec struct {
	// Path is the shader path, for example "color/saturation".
	Path string

	// Push lists the parameters pushed after the image header, in order.
	// Nil pushes every pushable parameter in declaration order.
	Push []string

	// Format is the output format. Zero means gpucore.FormatRGBA32Float.
	Format gpucore.Format

	// OutputSize maps the input size to the output size.
	// Nil keeps the input size.
	OutputSize func(n *SingleKernel, width, height int) (int, int)

	// KernelDim maps the output size to the dispatch domain.
	// Nil dispatches one invocation per output pixel.
	KernelDim func(n *SingleKernel, width, height int) (int, int)
}

// SingleKernel is the base of nodes that transform one input image into
// one output image with one kernel, pushing their parameters as push
// constants.
//
// The output image is held across frames: it is allocated in Init, resized
// when the input size changes, and released in Destroy.
type SingleKernel struct {
	BaseNode

	spec   SingleKernelSpec
	kernel *Kernel
	output *Image
}

// NewSingleKernel creates the base of a single-kernel node with one image
// input named "in".
func NewSingleKernel(spec SingleKernelSpec, tags []Tag, params ...*Parameter) SingleKernel {
	if spec.Format == 0 {
		spec.Format = gpucore.FormatRGBA32Float
	}
	return SingleKernel{
		BaseNode: NewBaseNode(tags, []InputSlot{ImageInput("in")}, params...),
		spec:     spec,
	}
}

// CloneSingleKernel returns an unbuilt copy with default parameters.
func (n *SingleKernel) CloneSingleKernel() SingleKernel {
	return SingleKernel{BaseNode: n.CloneBase(), spec: n.spec}
}

// Spec returns the node configuration.
func (n *SingleKernel) Spec() SingleKernelSpec { return n.spec }

// Kernel returns the node kernel, or nil before Init.
func (n *SingleKernel) Kernel() *Kernel { return n.kernel }

// OutputImage returns the output image, or nil before Init.
func (n *SingleKernel) OutputImage() *Image { return n.output }

// OutputSize returns the output size for an input size.
func (n *SingleKernel) OutputSize(width, height int) (int, int) {
	if n.spec.OutputSize != nil {
		return n.spec.OutputSize(n, width, height)
	}
	return width, height
}

// KernelDim returns the dispatch domain for an output size.
func (n *SingleKernel) KernelDim(width, height int) (int, int) {
	if n.spec.KernelDim != nil {
		return n.spec.KernelDim(n, width, height)
	}
	return width, height
}

// Init resolves the input image, allocates the output image and builds the
// kernel bound to (input, output, parameters).
func (n *SingleKernel) Init(ctx *BuildContext) error {
	in := n.InputImage(0)
	if in == nil {
		return wiringf(n.ID(), "in", "input has no image after init")
	}
	if err := n.BaseNode.Init(ctx); err != nil {
		return err
	}

	w, h := n.OutputSize(in.Width(), in.Height())
	n.output = NewImage(n.ID()+"/out", w, h, n.spec.Format)
	if err := n.output.Allocate(ctx.Device); err != nil {
		n.Destroy()
		return err
	}

	k, err := n.buildKernel()
	if err != nil {
		n.Destroy()
		return err
	}
	k.BindImage(0, in)
	k.BindImage(1, n.output)
	if err := k.Create(ctx.Device); err != nil {
		n.Destroy()
		return err
	}
	n.kernel = k
	return nil
}

func (n *SingleKernel) buildKernel() (*Kernel, error) {
	k, err := NewKernel(n.spec.Path, n.ID())
	if err != nil {
		return nil, err
	}
	if err := k.DeclareHeader(); err != nil {
		return nil, err
	}
	if n.spec.Push == nil {
		for _, p := range n.Params().List() {
			if _, err := PushKindOf(p.Kind()); err == nil {
				if err := k.DeclareParam(p); err != nil {
					return nil, err
				}
			}
		}
		return k, nil
	}
	for _, name := range n.spec.Push {
		p, ok := n.Params().Get(name)
		if !ok {
			return nil, fmt.Errorf("imgraph: node %q: push of unknown parameter %q", n.ID(), name)
		}
		if err := k.DeclareParam(p); err != nil {
			return nil, err
		}
	}
	return k, nil
}

// Commands writes the push constants and records one dispatch followed by
// a barrier. The output is resized first if the input size changed.
func (n *SingleKernel) Commands(cmd *CommandBuffer, width, height int) error {
	in := n.InputImage(0)
	if in == nil || n.kernel == nil {
		return fmt.Errorf("node %q: commands before init: %w", n.ID(), ErrNotAllocated)
	}
	if width == 0 || height == 0 {
		width, height = in.Size()
	}
	ow, oh := n.OutputSize(width, height)
	if ow != n.output.Width() || oh != n.output.Height() {
		n.Logger().Debug("imgraph: resizing output", "from_w", n.output.Width(), "from_h", n.output.Height(), "w", ow, "h", oh)
		n.output.Deallocate()
		if err := n.output.Resize(ow, oh); err != nil {
			return err
		}
		if err := n.output.Allocate(cmd.Device()); err != nil {
			return err
		}
	}

	k := n.kernel
	header := []struct {
		name string
		v    int
	}{{PushWidth, width}, {PushHeight, height}, {PushOutWidth, ow}, {PushOutHeight, oh}}
	for _, f := range header {
		if err := k.SetPush(f.name, uint32(f.v)); err != nil {
			return err
		}
	}
	for _, name := range k.PushFields()[len(header):] {
		p, _ := n.Params().Get(name)
		if err := k.SetParam(p); err != nil {
			return err
		}
	}

	dw, dh := n.KernelDim(ow, oh)
	if err := cmd.Dispatch(k, k.Groups(dw, dh)); err != nil {
		return err
	}
	cmd.Barrier()
	return nil
}

// Destroy releases the kernel, the output image and the base resources.
func (n *SingleKernel) Destroy() {
	if n.kernel != nil {
		n.kernel.Destroy()
		n.kernel = nil
	}
	if n.output != nil {
		n.output.Deallocate()
		n.output = nil
	}
	n.BaseNode.Destroy()
}
