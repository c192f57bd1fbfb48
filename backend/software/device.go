// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package software

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	sync "github.com/sasha-s/go-deadlock"

	"github.com/gogpu/imgraph/backend"
	"github.com/gogpu/imgraph/gpucore"
	"github.com/gogpu/imgraph/internal/parallel"
)

// init registers the software backend on package import.
func init() {
	backend.Register(backend.BackendSoftware, func() (gpucore.Device, error) {
		return New(), nil
	})
}

// ErrDestroyed is returned by every call on a destroyed device.
var ErrDestroyed = errors.New("software: device destroyed")

// EventOp is the kind of an allocation log entry.
type EventOp string

// Allocation log operations.
const (
	EventAlloc EventOp = "alloc"
	EventFree  EventOp = "free"
)

// Event is one entry of the allocation log.
type Event struct {
	Op    EventOp
	Kind  string // "image" or "buffer"
	ID    uint64
	Label string
}

type image struct {
	desc gpucore.ImageDesc
	host *gpucore.HostImage
}

type buffer struct {
	desc gpucore.BufferDesc
	data []byte
	// pending counts held submissions that write this buffer.
	pending int
}

type semaphore struct {
	label    string
	signaled bool
}

type fence struct {
	label    string
	signaled bool
	done     chan struct{}
}

// Device is the CPU reference implementation of gpucore.Device.
//
// Device is safe for concurrent use.
type Device struct {
	opts options
	log  *slog.Logger
	pool *parallel.WorkerPool

	mu         sync.Mutex
	nextID     uint64
	images     map[gpucore.ImageID]*image
	buffers    map[gpucore.BufferID]*buffer
	kernels    map[gpucore.KernelID]*gpucore.KernelDesc
	semaphores map[gpucore.SemaphoreID]*semaphore
	fences     map[gpucore.FenceID]*fence

	held      bool
	queue     []func() error
	completed []string
	events    []Event
	destroyed bool
}

// New creates a software device.
func New(opts ...Option) *Device {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	d := &Device{
		opts:       o,
		log:        o.logger,
		pool:       parallel.NewWorkerPool(o.workers),
		images:     make(map[gpucore.ImageID]*image),
		buffers:    make(map[gpucore.BufferID]*buffer),
		kernels:    make(map[gpucore.KernelID]*gpucore.KernelDesc),
		semaphores: make(map[gpucore.SemaphoreID]*semaphore),
		fences:     make(map[gpucore.FenceID]*fence),
	}
	d.log.Debug("software: device created", "workers", d.pool.Workers())
	return d
}

// Name returns a human-readable device name.
func (d *Device) Name() string {
	return fmt.Sprintf("software (%d workers)", d.pool.Workers())
}

// Limits returns the device limits.
func (d *Device) Limits() gpucore.Limits {
	return d.opts.limits
}

// newID returns the next resource ID. Caller must hold d.mu.
func (d *Device) newID() uint64 {
	d.nextID++
	return d.nextID
}

// failAlloc reports whether fault injection rejects the allocation.
// Caller must hold d.mu.
func (d *Device) failAlloc(kind, label string) bool {
	return d.opts.failAlloc != nil && d.opts.failAlloc(kind, label)
}

// =============================================================================
// Images and buffers
// =============================================================================

// CreateImage allocates a host-backed image.
func (d *Device) CreateImage(desc *gpucore.ImageDesc) (gpucore.ImageID, error) {
	if desc == nil {
		return gpucore.InvalidID, gpucore.Errorf("create_image", gpucore.ResultInvalidArgument, "nil descriptor")
	}
	if !desc.Format.Valid() {
		return gpucore.InvalidID, gpucore.Errorf("create_image", gpucore.ResultUnsupported, "format %s", desc.Format)
	}
	maxDim := d.opts.limits.MaxImageDimension
	if desc.Width == 0 || desc.Height == 0 || desc.Width > maxDim || desc.Height > maxDim {
		return gpucore.InvalidID, gpucore.Errorf("create_image", gpucore.ResultInvalidArgument,
			"%q: size %dx%d outside 1..%d", desc.Label, desc.Width, desc.Height, maxDim)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return gpucore.InvalidID, ErrDestroyed
	}
	if d.failAlloc("image", desc.Label) {
		return gpucore.InvalidID, gpucore.Errorf("create_image", gpucore.ResultOutOfMemory, "%q: injected failure", desc.Label)
	}

	id := d.newID()
	d.images[gpucore.ImageID(id)] = &image{
		desc: *desc,
		host: &gpucore.HostImage{
			Width:  int(desc.Width),
			Height: int(desc.Height),
			Format: desc.Format,
			Pix:    make([]float32, int(desc.Width)*int(desc.Height)*4),
		},
	}
	d.events = append(d.events, Event{Op: EventAlloc, Kind: "image", ID: id, Label: desc.Label})
	return gpucore.ImageID(id), nil
}

// DestroyImage releases an image.
func (d *Device) DestroyImage(id gpucore.ImageID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	img, ok := d.images[id]
	if !ok {
		return
	}
	delete(d.images, id)
	d.events = append(d.events, Event{Op: EventFree, Kind: "image", ID: uint64(id), Label: img.desc.Label})
}

// WriteImage uploads RGBA float pixels. When the device is held, the write
// is queued behind the held submissions.
func (d *Device) WriteImage(id gpucore.ImageID, pix []float32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return ErrDestroyed
	}
	img, ok := d.images[id]
	if !ok {
		return gpucore.Errorf("write_image", gpucore.ResultInvalidHandle, "image %d", id)
	}
	if len(pix) != len(img.host.Pix) {
		return gpucore.Errorf("write_image", gpucore.ResultInvalidArgument,
			"%q: got %d values, want %d", img.desc.Label, len(pix), len(img.host.Pix))
	}

	data := append([]float32(nil), pix...)
	write := func() error {
		if img, ok := d.images[id]; ok {
			copy(img.host.Pix, data)
		}
		return nil
	}
	if d.held {
		d.queue = append(d.queue, write)
		return nil
	}
	return write()
}

// CreateBuffer allocates a host-backed buffer.
func (d *Device) CreateBuffer(desc *gpucore.BufferDesc) (gpucore.BufferID, error) {
	if desc == nil {
		return gpucore.InvalidID, gpucore.Errorf("create_buffer", gpucore.ResultInvalidArgument, "nil descriptor")
	}
	if desc.Size == 0 || desc.Size > d.opts.limits.MaxBufferSize {
		return gpucore.InvalidID, gpucore.Errorf("create_buffer", gpucore.ResultInvalidArgument,
			"%q: size %d outside 1..%d", desc.Label, desc.Size, d.opts.limits.MaxBufferSize)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return gpucore.InvalidID, ErrDestroyed
	}
	if d.failAlloc("buffer", desc.Label) {
		return gpucore.InvalidID, gpucore.Errorf("create_buffer", gpucore.ResultOutOfMemory, "%q: injected failure", desc.Label)
	}

	id := d.newID()
	d.buffers[gpucore.BufferID(id)] = &buffer{desc: *desc, data: make([]byte, desc.Size)}
	d.events = append(d.events, Event{Op: EventAlloc, Kind: "buffer", ID: id, Label: desc.Label})
	return gpucore.BufferID(id), nil
}

// DestroyBuffer releases a buffer.
func (d *Device) DestroyBuffer(id gpucore.BufferID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	buf, ok := d.buffers[id]
	if !ok {
		return
	}
	delete(d.buffers, id)
	d.events = append(d.events, Event{Op: EventFree, Kind: "buffer", ID: uint64(id), Label: buf.desc.Label})
}

// ReadBuffer copies bytes out of a host-visible buffer. Reading a buffer
// that held work has not yet written fails with ResultBusy.
func (d *Device) ReadBuffer(id gpucore.BufferID, offset uint64, dst []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return ErrDestroyed
	}
	buf, ok := d.buffers[id]
	if !ok {
		return gpucore.Errorf("read_buffer", gpucore.ResultInvalidHandle, "buffer %d", id)
	}
	if !buf.desc.Usage.Has(gpucore.BufferUsageMapRead) {
		return gpucore.Errorf("read_buffer", gpucore.ResultInvalidArgument, "%q is not host visible", buf.desc.Label)
	}
	if buf.pending > 0 {
		return gpucore.Errorf("read_buffer", gpucore.ResultBusy, "%q has %d pending writes", buf.desc.Label, buf.pending)
	}
	if offset+uint64(len(dst)) > uint64(len(buf.data)) {
		return gpucore.Errorf("read_buffer", gpucore.ResultInvalidArgument,
			"%q: range %d+%d exceeds size %d", buf.desc.Label, offset, len(dst), len(buf.data))
	}
	copy(dst, buf.data[offset:])
	return nil
}

// ImagePixels returns a copy of an image's RGBA float pixels.
// It is a debugging aid with no GPU counterpart.
func (d *Device) ImagePixels(id gpucore.ImageID) ([]float32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	img, ok := d.images[id]
	if !ok {
		return nil, gpucore.Errorf("image_pixels", gpucore.ResultInvalidHandle, "image %d", id)
	}
	return append([]float32(nil), img.host.Pix...), nil
}

// =============================================================================
// Kernels
// =============================================================================

// CreateKernel registers a kernel. The software device requires a host
// implementation and ignores the WGSL source.
func (d *Device) CreateKernel(desc *gpucore.KernelDesc) (gpucore.KernelID, error) {
	if desc == nil {
		return gpucore.InvalidID, gpucore.Errorf("create_kernel", gpucore.ResultInvalidArgument, "nil descriptor")
	}
	if desc.Host == nil {
		return gpucore.InvalidID, gpucore.Errorf("create_kernel", gpucore.ResultUnsupported, "%s: no host implementation", desc.Path)
	}
	for i, n := range desc.WorkgroupSize {
		if n == 0 {
			return gpucore.InvalidID, gpucore.Errorf("create_kernel", gpucore.ResultInvalidArgument,
				"%s: workgroup size[%d] is zero", desc.Path, i)
		}
	}
	if desc.PushSize > d.opts.limits.MaxPushSize {
		return gpucore.InvalidID, gpucore.Errorf("create_kernel", gpucore.ResultInvalidArgument,
			"%s: push block of %d bytes exceeds %d", desc.Path, desc.PushSize, d.opts.limits.MaxPushSize)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return gpucore.InvalidID, ErrDestroyed
	}
	k := *desc
	k.Bindings = append([]gpucore.BindingLayout(nil), desc.Bindings...)
	id := gpucore.KernelID(d.newID())
	d.kernels[id] = &k
	d.log.Debug("software: kernel created", "path", desc.Path, "id", id)
	return id, nil
}

// DestroyKernel releases a kernel.
func (d *Device) DestroyKernel(id gpucore.KernelID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.kernels, id)
}

// =============================================================================
// Synchronization
// =============================================================================

// CreateSemaphore creates an unsignaled binary semaphore.
func (d *Device) CreateSemaphore(label string) (gpucore.SemaphoreID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return gpucore.InvalidID, ErrDestroyed
	}
	id := gpucore.SemaphoreID(d.newID())
	d.semaphores[id] = &semaphore{label: label}
	return id, nil
}

// DestroySemaphore releases a semaphore.
func (d *Device) DestroySemaphore(id gpucore.SemaphoreID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.semaphores, id)
}

// CreateFence creates an unsignaled fence.
func (d *Device) CreateFence(label string) (gpucore.FenceID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return gpucore.InvalidID, ErrDestroyed
	}
	id := gpucore.FenceID(d.newID())
	d.fences[id] = &fence{label: label, done: make(chan struct{})}
	return id, nil
}

// DestroyFence releases a fence.
func (d *Device) DestroyFence(id gpucore.FenceID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.fences, id)
}

// FenceSignaled reports whether the fence has signaled.
func (d *Device) FenceSignaled(id gpucore.FenceID) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.fences[id]
	if !ok {
		return false, gpucore.Errorf("fence_status", gpucore.ResultInvalidHandle, "fence %d", id)
	}
	return f.signaled, nil
}

// WaitFence blocks until the fence signals or the timeout expires.
func (d *Device) WaitFence(id gpucore.FenceID, timeout time.Duration) (bool, error) {
	d.mu.Lock()
	f, ok := d.fences[id]
	if !ok {
		d.mu.Unlock()
		return false, gpucore.Errorf("wait_fence", gpucore.ResultInvalidHandle, "fence %d", id)
	}
	done := f.done
	d.mu.Unlock()

	if timeout <= 0 {
		select {
		case <-done:
			return true, nil
		default:
			return false, nil
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true, nil
	case <-timer.C:
		d.log.Warn("software: fence wait timed out", "fence", f.label, "timeout", timeout)
		return false, nil
	}
}

// ResetFence returns a signaled fence to the unsignaled state.
func (d *Device) ResetFence(id gpucore.FenceID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.fences[id]
	if !ok {
		return gpucore.Errorf("reset_fence", gpucore.ResultInvalidHandle, "fence %d", id)
	}
	if f.signaled {
		f.signaled = false
		f.done = make(chan struct{})
	}
	return nil
}

// signalFence signals f unless fences are stalled. Caller must hold d.mu.
func (d *Device) signalFence(f *fence) {
	if d.opts.stall || f.signaled {
		return
	}
	f.signaled = true
	close(f.done)
}

// =============================================================================
// Submission
// =============================================================================

// Submit executes the submission, or queues it while the device is held.
func (d *Device) Submit(sub *gpucore.Submission) error {
	if sub == nil {
		return gpucore.Errorf("submit", gpucore.ResultInvalidArgument, "nil submission")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return ErrDestroyed
	}

	lists := make([]*commandList, 0, len(sub.Commands))
	for _, c := range sub.Commands {
		cl, ok := c.(*commandList)
		if !ok || cl.dev != d {
			return gpucore.Errorf("submit", gpucore.ResultInvalidArgument, "%q: foreign command list", sub.Label)
		}
		if cl.released {
			return gpucore.Errorf("submit", gpucore.ResultInvalidHandle, "%q: command list %q was released", sub.Label, cl.label)
		}
		lists = append(lists, cl)
	}
	for _, id := range sub.Wait {
		if _, ok := d.semaphores[id]; !ok {
			return gpucore.Errorf("submit", gpucore.ResultInvalidHandle, "%q: wait semaphore %d", sub.Label, id)
		}
	}
	for _, id := range sub.Signal {
		if _, ok := d.semaphores[id]; !ok {
			return gpucore.Errorf("submit", gpucore.ResultInvalidHandle, "%q: signal semaphore %d", sub.Label, id)
		}
	}
	if sub.Fence != gpucore.InvalidID {
		if _, ok := d.fences[sub.Fence]; !ok {
			return gpucore.Errorf("submit", gpucore.ResultInvalidHandle, "%q: fence %d", sub.Label, sub.Fence)
		}
	}

	s := submission{
		label:  sub.Label,
		lists:  lists,
		wait:   append([]gpucore.SemaphoreID(nil), sub.Wait...),
		signal: append([]gpucore.SemaphoreID(nil), sub.Signal...),
		fence:  sub.Fence,
	}
	if d.held {
		written := s.writtenBuffers()
		for _, id := range written {
			if buf, ok := d.buffers[id]; ok {
				buf.pending++
			}
		}
		d.queue = append(d.queue, func() error {
			for _, id := range written {
				if buf, ok := d.buffers[id]; ok {
					buf.pending--
				}
			}
			return d.execute(&s)
		})
		return nil
	}
	return d.execute(&s)
}

// submission is a validated copy of a gpucore.Submission.
type submission struct {
	label  string
	lists  []*commandList
	wait   []gpucore.SemaphoreID
	signal []gpucore.SemaphoreID
	fence  gpucore.FenceID
}

// writtenBuffers lists the buffers the submission may write.
func (s *submission) writtenBuffers() []gpucore.BufferID {
	var ids []gpucore.BufferID
	for _, cl := range s.lists {
		for i := range cl.cmds {
			c := &cl.cmds[i]
			switch c.op {
			case opCopy:
				ids = append(ids, c.dst)
			case opDispatch:
				for _, b := range c.bindings {
					if b.Buffer != gpucore.InvalidID {
						ids = append(ids, b.Buffer)
					}
				}
			}
		}
	}
	return ids
}

// execute runs one submission. Caller must hold d.mu.
func (d *Device) execute(s *submission) error {
	for _, id := range s.wait {
		sem, ok := d.semaphores[id]
		if !ok {
			return gpucore.Errorf("submit", gpucore.ResultInvalidHandle, "%q: wait semaphore %d destroyed", s.label, id)
		}
		if !sem.signaled {
			return gpucore.Errorf("submit", gpucore.ResultInvalidArgument,
				"%q waits on semaphore %q that no earlier submission signals", s.label, sem.label)
		}
		sem.signaled = false
	}

	for _, cl := range s.lists {
		for i := range cl.cmds {
			if err := d.run(&cl.cmds[i]); err != nil {
				return fmt.Errorf("software: submission %q, list %q: %w", s.label, cl.label, err)
			}
		}
	}

	for _, id := range s.signal {
		sem, ok := d.semaphores[id]
		if !ok {
			return gpucore.Errorf("submit", gpucore.ResultInvalidHandle, "%q: signal semaphore %d destroyed", s.label, id)
		}
		if sem.signaled {
			return gpucore.Errorf("submit", gpucore.ResultInvalidArgument,
				"%q signals binary semaphore %q that was never consumed", s.label, sem.label)
		}
		sem.signaled = true
	}

	d.completed = append(d.completed, s.label)
	if s.fence != gpucore.InvalidID {
		if f, ok := d.fences[s.fence]; ok {
			d.signalFence(f)
		}
	}
	d.log.Debug("software: submission complete", "label", s.label, "lists", len(s.lists))
	return nil
}

// run executes one recorded command. Caller must hold d.mu.
func (d *Device) run(c *command) error {
	switch c.op {
	case opDispatch:
		return d.runDispatch(c)
	case opCopy:
		src, ok := d.buffers[c.src]
		if !ok {
			return gpucore.Errorf("copy_buffer", gpucore.ResultInvalidHandle, "source buffer %d", c.src)
		}
		dst, ok := d.buffers[c.dst]
		if !ok {
			return gpucore.Errorf("copy_buffer", gpucore.ResultInvalidHandle, "destination buffer %d", c.dst)
		}
		copy(dst.data[:c.size], src.data[:c.size])
	case opBarrier:
		// Commands run in order; nothing to do.
	}
	return nil
}

func (d *Device) runDispatch(c *command) error {
	k, ok := d.kernels[c.kernel]
	if !ok {
		return gpucore.Errorf("dispatch", gpucore.ResultInvalidHandle, "kernel %d", c.kernel)
	}
	inv := &gpucore.HostInvocation{
		Images:        make(map[uint32]*gpucore.HostImage),
		Buffers:       make(map[uint32][]byte),
		Push:          c.push,
		Groups:        c.groups,
		WorkgroupSize: k.WorkgroupSize,
		Parallel:      d.pool.Range,
	}
	for _, b := range c.bindings {
		if b.Image != gpucore.InvalidID {
			img, ok := d.images[b.Image]
			if !ok {
				return gpucore.Errorf("dispatch", gpucore.ResultInvalidHandle, "%s: image %d at slot %d", k.Path, b.Image, b.Slot)
			}
			inv.Images[b.Slot] = img.host
			continue
		}
		buf, ok := d.buffers[b.Buffer]
		if !ok {
			return gpucore.Errorf("dispatch", gpucore.ResultInvalidHandle, "%s: buffer %d at slot %d", k.Path, b.Buffer, b.Slot)
		}
		inv.Buffers[b.Slot] = buf.data
	}
	if err := k.Host(inv); err != nil {
		return gpucore.Errorf("dispatch", gpucore.ResultUnknown, "%s: %w", k.Path, err)
	}
	return nil
}

// WaitIdle completes all held work. Fences still honour StallFences.
func (d *Device) WaitIdle() error {
	return d.Flush()
}

// =============================================================================
// Fault injection and inspection
// =============================================================================

// Hold defers execution of subsequent submissions until Flush.
func (d *Device) Hold() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.held = true
}

// Flush executes every held submission in order and stops holding.
// Errors from individual submissions are joined.
func (d *Device) Flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.held = false
	queue := d.queue
	d.queue = nil

	var errs []error
	for _, fn := range queue {
		if err := fn(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// StallFences makes fences stop (true) or resume (false) signaling.
// Resuming does not signal fences whose work completed while stalled.
func (d *Device) StallFences(stall bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opts.stall = stall
}

// FailAllocations installs an allocation failure filter; nil clears it.
func (d *Device) FailAllocations(f AllocFilter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opts.failAlloc = f
}

// Completed returns the labels of executed submissions in completion order.
func (d *Device) Completed() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.completed...)
}

// ResetLogs clears the completion and allocation logs.
func (d *Device) ResetLogs() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.completed = nil
	d.events = nil
}

// Events returns the allocation log.
func (d *Device) Events() []Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Event(nil), d.events...)
}

// Live returns the number of live images and buffers.
func (d *Device) Live() (images, buffers int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.images), len(d.buffers)
}

// Destroy releases the device and its worker pool.
// Leaked resources are reported at warn level.
func (d *Device) Destroy() {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return
	}
	d.destroyed = true
	if n := len(d.images) + len(d.buffers) + len(d.kernels); n > 0 {
		d.log.Warn("software: device destroyed with live resources",
			"images", len(d.images), "buffers", len(d.buffers), "kernels", len(d.kernels))
	}
	d.mu.Unlock()

	d.pool.Close()
}
