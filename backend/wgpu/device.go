// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nogpu

package wgpu

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	sync "github.com/sasha-s/go-deadlock"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	// Import Vulkan backend so it registers via init().
	_ "github.com/gogpu/wgpu/hal/vulkan"

	"github.com/gogpu/imgraph/backend"
	"github.com/gogpu/imgraph/gpucore"
	"github.com/gogpu/imgraph/shaders"
)

// init registers the wgpu backend on package import.
func init() {
	backend.Register(backend.BackendWGPU, func() (gpucore.Device, error) {
		d, err := New()
		if err != nil {
			return nil, err
		}
		return d, nil
	})
}

// Errors returned while opening a device.
var (
	// ErrNoAdapter is returned when the hal backend reports no adapter.
	ErrNoAdapter = errors.New("wgpu: no GPU adapter found")

	// ErrNotHAL is returned by NewFromProvider when the provider does not
	// expose hal.Device and hal.Queue.
	ErrNotHAL = errors.New("wgpu: provider does not expose HAL types")

	// ErrDestroyed is returned by every call on a destroyed device.
	ErrDestroyed = errors.New("wgpu: device destroyed")
)

// texelSize is the storage size of one image texel (vec4<f32>).
const texelSize = 16

type image struct {
	desc gpucore.ImageDesc
	buf  hal.Buffer
	size uint64
}

type buffer struct {
	desc gpucore.BufferDesc
	buf  hal.Buffer
}

type kernel struct {
	path       string
	pushSize   uint32
	bindings   []gpucore.BindingLayout
	module     hal.ShaderModule
	bindLayout hal.BindGroupLayout
	pipeLayout hal.PipelineLayout
	pipeline   hal.ComputePipeline
}

type semaphore struct {
	label    string
	signaled bool
}

// fence is a gpucore fence: the serial of the submission that signals it,
// or 0 while unsubmitted.
type fence struct {
	label  string
	serial uint64
}

// Device implements gpucore.Device on a hal device and queue.
//
// Device is safe for concurrent use.
type Device struct {
	opts options
	log  *slog.Logger
	name string

	instance hal.Instance
	device   hal.Device
	queue    hal.Queue
	external bool // true when using a shared device (don't destroy on Destroy)

	mu         sync.Mutex
	nextID     uint64
	images     map[gpucore.ImageID]*image
	buffers    map[gpucore.BufferID]*buffer
	kernels    map[gpucore.KernelID]*kernel
	semaphores map[gpucore.SemaphoreID]*semaphore
	fences     map[gpucore.FenceID]*fence

	timeline  hal.Fence
	serial    uint64 // last submitted
	completed uint64 // last known complete
	deferred  []*commandList
	destroyed bool
}

// New opens a device on the first suitable adapter of the selected hal
// backend, preferring discrete and integrated GPUs.
func New(opts ...Option) (*Device, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	api, ok := hal.GetBackend(o.api)
	if !ok {
		return nil, fmt.Errorf("wgpu: hal backend %v not available", o.api)
	}
	instance, err := api.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create instance: %w", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, ErrNoAdapter
	}
	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}
	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("wgpu: open device: %w", err)
	}

	d, err := newDevice(o, openDev.Device, openDev.Queue, selected.Info.Name)
	if err != nil {
		openDev.Device.Destroy()
		instance.Destroy()
		return nil, err
	}
	d.instance = instance
	d.log.Info("wgpu: device opened", "adapter", selected.Info.Name, "type", selected.Info.DeviceType)
	return d, nil
}

// NewFromHAL wraps a device and queue owned by the caller. Destroy releases
// the resources created through the Device but leaves device and queue
// alive.
func NewFromHAL(device hal.Device, queue hal.Queue, opts ...Option) (*Device, error) {
	if device == nil || queue == nil {
		return nil, fmt.Errorf("wgpu: nil device or queue")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	d, err := newDevice(o, device, queue, "shared")
	if err != nil {
		return nil, err
	}
	d.external = true
	return d, nil
}

// NewFromProvider shares the GPU device of a host application. The provider
// must implement HalDevice() any and HalQueue() any returning hal.Device and
// hal.Queue.
func NewFromProvider(provider gpucontext.DeviceProvider, opts ...Option) (*Device, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, ErrNotHAL
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("%w: HalDevice is not hal.Device", ErrNotHAL)
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("%w: HalQueue is not hal.Queue", ErrNotHAL)
	}
	d, err := NewFromHAL(device, queue, opts...)
	if err != nil {
		return nil, err
	}
	d.log.Info("wgpu: switched to shared GPU device")
	return d, nil
}

func newDevice(o options, device hal.Device, queue hal.Queue, name string) (*Device, error) {
	timeline, err := device.CreateFence()
	if err != nil {
		return nil, fmt.Errorf("wgpu: create timeline fence: %w", err)
	}
	return &Device{
		opts:       o,
		log:        o.logger,
		name:       name,
		device:     device,
		queue:      queue,
		timeline:   timeline,
		images:     make(map[gpucore.ImageID]*image),
		buffers:    make(map[gpucore.BufferID]*buffer),
		kernels:    make(map[gpucore.KernelID]*kernel),
		semaphores: make(map[gpucore.SemaphoreID]*semaphore),
		fences:     make(map[gpucore.FenceID]*fence),
	}, nil
}

// Name returns the adapter name.
func (d *Device) Name() string {
	return fmt.Sprintf("wgpu (%s)", d.name)
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

// Live returns the number of live images and buffers.
func (d *Device) Live() (images, buffers int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.images), len(d.buffers)
}

// =============================================================================
// Images and buffers
// =============================================================================

// CreateImage allocates a storage buffer of width*height RGBA float texels.
// The declared format is kept for the download path; storage is always
// 32-bit float.
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
	size := uint64(desc.Width) * uint64(desc.Height) * texelSize
	if size > d.opts.limits.MaxBufferSize {
		return gpucore.InvalidID, gpucore.Errorf("create_image", gpucore.ResultOutOfMemory,
			"%q: %d bytes exceeds %d", desc.Label, size, d.opts.limits.MaxBufferSize)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return gpucore.InvalidID, ErrDestroyed
	}
	buf, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: desc.Label,
		Size:  size,
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return gpucore.InvalidID, &gpucore.Error{Op: "create_image", Code: gpucore.ResultOutOfMemory, Err: err}
	}
	id := gpucore.ImageID(d.newID())
	d.images[id] = &image{desc: *desc, buf: buf, size: size}
	return id, nil
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
	d.device.DestroyBuffer(img.buf)
}

// WriteImage uploads RGBA float pixels through the queue.
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
	if uint64(len(pix))*4 != img.size {
		return gpucore.Errorf("write_image", gpucore.ResultInvalidArgument,
			"%q: got %d values, want %d", img.desc.Label, len(pix), img.size/4)
	}
	d.queue.WriteBuffer(img.buf, 0, float32Bytes(pix))
	return nil
}

// float32Bytes encodes pix as little-endian IEEE 754 words.
func float32Bytes(pix []float32) []byte {
	data := make([]byte, len(pix)*4)
	for i, v := range pix {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
	}
	return data
}

// CreateBuffer allocates a device buffer.
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
	buf, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: desc.Label,
		Size:  desc.Size,
		Usage: bufferUsage(desc.Usage),
	})
	if err != nil {
		return gpucore.InvalidID, &gpucore.Error{Op: "create_buffer", Code: gpucore.ResultOutOfMemory, Err: err}
	}
	id := gpucore.BufferID(d.newID())
	d.buffers[id] = &buffer{desc: *desc, buf: buf}
	return id, nil
}

// bufferUsage maps gpucore usage flags to gputypes.
func bufferUsage(u gpucore.BufferUsage) gputypes.BufferUsage {
	var out gputypes.BufferUsage
	if u.Has(gpucore.BufferUsageStorage) {
		out |= gputypes.BufferUsageStorage
	}
	if u.Has(gpucore.BufferUsageCopySrc) {
		out |= gputypes.BufferUsageCopySrc
	}
	if u.Has(gpucore.BufferUsageCopyDst) {
		out |= gputypes.BufferUsageCopyDst
	}
	if u.Has(gpucore.BufferUsageMapRead) {
		out |= gputypes.BufferUsageMapRead
	}
	return out
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
	d.device.DestroyBuffer(buf.buf)
}

// ReadBuffer copies bytes out of a host-visible buffer.
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
	if offset+uint64(len(dst)) > buf.desc.Size {
		return gpucore.Errorf("read_buffer", gpucore.ResultInvalidArgument,
			"%q: range %d+%d exceeds size %d", buf.desc.Label, offset, len(dst), buf.desc.Size)
	}
	if err := d.queue.ReadBuffer(buf.buf, offset, dst); err != nil {
		return &gpucore.Error{Op: "read_buffer", Code: gpucore.ResultDeviceLost, Err: err}
	}
	return nil
}

// =============================================================================
// Kernels
// =============================================================================

// CreateKernel compiles the WGSL source and builds the compute pipeline.
// The push block, when present, is bound as a uniform at binding 0.
func (d *Device) CreateKernel(desc *gpucore.KernelDesc) (gpucore.KernelID, error) {
	if desc == nil {
		return gpucore.InvalidID, gpucore.Errorf("create_kernel", gpucore.ResultInvalidArgument, "nil descriptor")
	}
	if desc.Source == "" {
		return gpucore.InvalidID, gpucore.Errorf("create_kernel", gpucore.ResultUnsupported, "%s: no WGSL source", desc.Path)
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
	entry := desc.EntryPoint
	if entry == "" {
		entry = "main"
	}

	source := hal.ShaderSource{WGSL: desc.Source}
	if !d.opts.wgsl {
		spirv, err := shaders.CompileSPIRV(desc.Source)
		if err != nil {
			return gpucore.InvalidID, &gpucore.Error{Op: "create_kernel", Code: gpucore.ResultInvalidArgument, Err: err}
		}
		source = hal.ShaderSource{SPIRV: spirv}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return gpucore.InvalidID, ErrDestroyed
	}

	k := &kernel{
		path:     desc.Path,
		pushSize: desc.PushSize,
		bindings: append([]gpucore.BindingLayout(nil), desc.Bindings...),
	}
	if err := d.buildKernel(k, desc.Label, entry, source); err != nil {
		d.destroyKernel(k)
		return gpucore.InvalidID, &gpucore.Error{Op: "create_kernel", Code: gpucore.ResultUnknown, Err: fmt.Errorf("%s: %w", desc.Path, err)}
	}
	id := gpucore.KernelID(d.newID())
	d.kernels[id] = k
	d.log.Debug("wgpu: kernel created", "path", desc.Path, "id", id)
	return id, nil
}

// buildKernel creates the module, layouts and pipeline. Caller must hold d.mu.
func (d *Device) buildKernel(k *kernel, label, entry string, source hal.ShaderSource) error {
	module, err := d.device.CreateShaderModule(&hal.ShaderModuleDescriptor{Label: label, Source: source})
	if err != nil {
		return fmt.Errorf("compile shader: %w", err)
	}
	k.module = module

	bindLayout, err := d.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   label + "_bind_layout",
		Entries: layoutEntries(k.pushSize, k.bindings),
	})
	if err != nil {
		return fmt.Errorf("create bind group layout: %w", err)
	}
	k.bindLayout = bindLayout

	pipeLayout, err := d.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label: label + "_pipe_layout", BindGroupLayouts: []hal.BindGroupLayout{k.bindLayout},
	})
	if err != nil {
		return fmt.Errorf("create pipeline layout: %w", err)
	}
	k.pipeLayout = pipeLayout

	pipeline, err := d.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label: label + "_pipeline", Layout: k.pipeLayout,
		Compute: hal.ComputeState{Module: k.module, EntryPoint: entry},
	})
	if err != nil {
		return fmt.Errorf("create compute pipeline: %w", err)
	}
	k.pipeline = pipeline
	return nil
}

// layoutEntries declares the uniform push block and the shifted slots.
func layoutEntries(pushSize uint32, bindings []gpucore.BindingLayout) []gputypes.BindGroupLayoutEntry {
	entries := make([]gputypes.BindGroupLayoutEntry, 0, len(bindings)+1)
	if pushSize > 0 {
		entries = append(entries, gputypes.BindGroupLayoutEntry{
			Binding: 0, Visibility: gputypes.ShaderStageCompute,
			Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform},
		})
	}
	for _, b := range bindings {
		typ := gputypes.BufferBindingTypeStorage
		if b.Kind == gpucore.BindingImageRead || b.Kind == gpucore.BindingBufferRead {
			typ = gputypes.BufferBindingTypeReadOnlyStorage
		}
		entries = append(entries, gputypes.BindGroupLayoutEntry{
			Binding: b.Slot + 1, Visibility: gputypes.ShaderStageCompute,
			Buffer: &gputypes.BufferBindingLayout{Type: typ},
		})
	}
	return entries
}

// destroyKernel releases whatever part of k was created. Caller must hold d.mu.
func (d *Device) destroyKernel(k *kernel) {
	if k.pipeline != nil {
		d.device.DestroyComputePipeline(k.pipeline)
	}
	if k.pipeLayout != nil {
		d.device.DestroyPipelineLayout(k.pipeLayout)
	}
	if k.bindLayout != nil {
		d.device.DestroyBindGroupLayout(k.bindLayout)
	}
	if k.module != nil {
		d.device.DestroyShaderModule(k.module)
	}
}

// DestroyKernel releases a kernel.
func (d *Device) DestroyKernel(id gpucore.KernelID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	k, ok := d.kernels[id]
	if !ok {
		return
	}
	delete(d.kernels, id)
	d.destroyKernel(k)
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
	d.fences[id] = &fence{label: label}
	return id, nil
}

// DestroyFence releases a fence.
func (d *Device) DestroyFence(id gpucore.FenceID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.fences, id)
}

// reached polls whether the timeline passed serial. Caller must hold d.mu.
func (d *Device) reached(serial uint64) (bool, error) {
	if serial <= d.completed {
		return true, nil
	}
	ok, err := d.device.Wait(d.timeline, serial, 0)
	if err != nil {
		return false, &gpucore.Error{Op: "fence_status", Code: gpucore.ResultDeviceLost, Err: err}
	}
	if ok {
		d.completed = serial
	}
	return ok, nil
}

// FenceSignaled reports whether the fence has signaled.
func (d *Device) FenceSignaled(id gpucore.FenceID) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.fences[id]
	if !ok {
		return false, gpucore.Errorf("fence_status", gpucore.ResultInvalidHandle, "fence %d", id)
	}
	if f.serial == 0 {
		return false, nil
	}
	return d.reached(f.serial)
}

// WaitFence blocks until the fence signals or the timeout expires.
// The device lock is not held while waiting.
func (d *Device) WaitFence(id gpucore.FenceID, timeout time.Duration) (bool, error) {
	d.mu.Lock()
	f, ok := d.fences[id]
	if !ok {
		d.mu.Unlock()
		return false, gpucore.Errorf("wait_fence", gpucore.ResultInvalidHandle, "fence %d", id)
	}
	serial, label := f.serial, f.label
	if serial == 0 || timeout <= 0 {
		defer d.mu.Unlock()
		if serial == 0 {
			return false, nil
		}
		return d.reached(serial)
	}
	if serial <= d.completed {
		d.mu.Unlock()
		return true, nil
	}
	timeline := d.timeline
	d.mu.Unlock()

	ok, err := d.device.Wait(timeline, serial, timeout)
	if err != nil {
		return false, &gpucore.Error{Op: "wait_fence", Code: gpucore.ResultDeviceLost, Err: err}
	}
	if !ok {
		d.log.Warn("wgpu: fence wait timed out", "fence", label, "timeout", timeout)
		return false, nil
	}
	d.mu.Lock()
	d.completed = max(d.completed, serial)
	d.collect()
	d.mu.Unlock()
	return true, nil
}

// ResetFence returns a signaled fence to the unsignaled state.
func (d *Device) ResetFence(id gpucore.FenceID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.fences[id]
	if !ok {
		return gpucore.Errorf("reset_fence", gpucore.ResultInvalidHandle, "fence %d", id)
	}
	f.serial = 0
	return nil
}

// =============================================================================
// Submission
// =============================================================================

// Submit hands the command lists to the queue. The submission signals the
// timeline at the next serial; its fence and semaphores record that serial.
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
	cmdBufs := make([]hal.CommandBuffer, 0, len(sub.Commands))
	for _, c := range sub.Commands {
		cl, ok := c.(*commandList)
		if !ok || cl.dev != d {
			return gpucore.Errorf("submit", gpucore.ResultInvalidArgument, "%q: foreign command list", sub.Label)
		}
		if cl.released {
			return gpucore.Errorf("submit", gpucore.ResultInvalidHandle, "%q: command list %q was released", sub.Label, cl.label)
		}
		lists = append(lists, cl)
		cmdBufs = append(cmdBufs, cl.cmd)
	}
	waits := make([]*semaphore, 0, len(sub.Wait))
	for _, id := range sub.Wait {
		sem, ok := d.semaphores[id]
		if !ok {
			return gpucore.Errorf("submit", gpucore.ResultInvalidHandle, "%q: wait semaphore %d", sub.Label, id)
		}
		if !sem.signaled {
			return gpucore.Errorf("submit", gpucore.ResultInvalidArgument,
				"%q waits on semaphore %q that no earlier submission signals", sub.Label, sem.label)
		}
		waits = append(waits, sem)
	}
	signals := make([]*semaphore, 0, len(sub.Signal))
	for _, id := range sub.Signal {
		sem, ok := d.semaphores[id]
		if !ok {
			return gpucore.Errorf("submit", gpucore.ResultInvalidHandle, "%q: signal semaphore %d", sub.Label, id)
		}
		if sem.signaled && !containsSemaphore(waits, sem) {
			return gpucore.Errorf("submit", gpucore.ResultInvalidArgument,
				"%q signals binary semaphore %q that was never consumed", sub.Label, sem.label)
		}
		signals = append(signals, sem)
	}
	var f *fence
	if sub.Fence != gpucore.InvalidID {
		var ok bool
		if f, ok = d.fences[sub.Fence]; !ok {
			return gpucore.Errorf("submit", gpucore.ResultInvalidHandle, "%q: fence %d", sub.Label, sub.Fence)
		}
	}

	serial := d.serial + 1
	if err := d.queue.Submit(cmdBufs, d.timeline, serial); err != nil {
		return &gpucore.Error{Op: "submit", Code: gpucore.ResultDeviceLost, Err: fmt.Errorf("%q: %w", sub.Label, err)}
	}
	d.serial = serial

	// The queue executes in submission order, so a semaphore is satisfied
	// by the time any later submission runs.
	for _, sem := range waits {
		sem.signaled = false
	}
	for _, sem := range signals {
		sem.signaled = true
	}
	for _, cl := range lists {
		cl.serial = serial
	}
	if f != nil {
		f.serial = serial
	}
	d.collect()
	d.log.Debug("wgpu: submitted", "label", sub.Label, "lists", len(lists), "serial", serial)
	return nil
}

func containsSemaphore(list []*semaphore, s *semaphore) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

// collect frees released command lists whose work has completed.
// Caller must hold d.mu.
func (d *Device) collect() {
	if len(d.deferred) == 0 {
		return
	}
	keep := d.deferred[:0]
	for _, cl := range d.deferred {
		if ok, err := d.reached(cl.serial); err == nil && ok {
			cl.free()
			continue
		}
		keep = append(keep, cl)
	}
	clear(d.deferred[len(keep):])
	d.deferred = keep
}

// WaitIdle waits for every submission to complete.
func (d *Device) WaitIdle() error {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return ErrDestroyed
	}
	serial, timeline := d.serial, d.timeline
	if serial <= d.completed {
		d.collect()
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	ok, err := d.device.Wait(timeline, serial, d.opts.idleTimeout)
	if err != nil {
		return &gpucore.Error{Op: "wait_idle", Code: gpucore.ResultDeviceLost, Err: err}
	}
	if !ok {
		return gpucore.Errorf("wait_idle", gpucore.ResultTimeout, "serial %d not reached after %v", serial, d.opts.idleTimeout)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.completed = max(d.completed, serial)
	d.collect()
	return nil
}

// Destroy waits for outstanding work and releases every resource the
// Device created. A device from New is destroyed with it; a shared one is
// left to its owner. Leaked resources are reported at warn level.
func (d *Device) Destroy() {
	if err := d.WaitIdle(); err != nil {
		if errors.Is(err, ErrDestroyed) {
			return
		}
		d.log.Warn("wgpu: destroying busy device", "err", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return
	}
	d.destroyed = true
	if n := len(d.images) + len(d.buffers) + len(d.kernels); n > 0 {
		d.log.Warn("wgpu: device destroyed with live resources",
			"images", len(d.images), "buffers", len(d.buffers), "kernels", len(d.kernels))
	}
	for _, cl := range d.deferred {
		cl.free()
	}
	d.deferred = nil
	for id, img := range d.images {
		d.device.DestroyBuffer(img.buf)
		delete(d.images, id)
	}
	for id, buf := range d.buffers {
		d.device.DestroyBuffer(buf.buf)
		delete(d.buffers, id)
	}
	for id, k := range d.kernels {
		d.destroyKernel(k)
		delete(d.kernels, id)
	}
	d.device.DestroyFence(d.timeline)
	d.timeline = nil

	if !d.external {
		d.device.Destroy()
		if d.instance != nil {
			d.instance.Destroy()
		}
	}
	d.device, d.queue, d.instance = nil, nil, nil
}
