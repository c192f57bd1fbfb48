// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package imgraph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gogpu/imgraph/gpucore"
	"github.com/gogpu/imgraph/internal/parallel"
)

// entry is one arena slot. Edges are indices into Graph.entries and are
// resolved from the input IDs at every build.
type entry struct {
	node   Node
	inputs []string
	deps   []int

	built bool
	// setup forces the Setup pass at the next frame.
	setup bool
	// rerun forces re-execution after a failed frame consumed the
	// node's parameter changes.
	rerun bool
}

// FrameReport describes a completed frame.
type FrameReport struct {
	ID    uuid.UUID
	Index uint64
	// Kind is Setup when any node ran its setup pass.
	Kind ExecutionKind
	// Executed lists the IDs of the nodes that submitted work, in order.
	Executed []string
	Duration time.Duration
}

// Graph owns a set of nodes wired by input edges and drives them through
// their lifecycle on one device queue.
//
// Every frame, all nodes are updated in topological order. Nodes that are
// stale (a parameter changed, an input re-executed, or a setup pass is due)
// record their work into per-node command buffers. Only when every stale
// node has recorded successfully is the work submitted, node after node,
// each submission waiting on the semaphore of the previous one. The last
// submission signals the frame fence, which the host waits on before
// frame completers read results back.
//
// Frame, Build, Remove and Close are serialized. SetParam may be called
// from any goroutine at any time.
type Graph struct {
	dev          gpucore.Device
	log          *slog.Logger
	fenceTimeout time.Duration
	presenter    Presenter
	workers      int

	// frameMu serializes frames against each other and against topology
	// changes, so a rebuild never overlaps in-flight work.
	frameMu sync.Mutex

	// mu guards the arena. Frame holds it for reading.
	mu      sync.RWMutex
	entries []*entry
	index   map[string]int
	order   []int
	dirty   bool
	built   bool

	fence     *Fence
	fenceUsed bool
	frames    uint64
	poisoned  error
	closed    bool

	// unfinished holds the per-frame resources of a frame whose work was
	// submitted but never seen to complete. Close releases them once the
	// device is idle.
	unfinished *frameResources

	tasks    TaskRunner
	ownTasks bool
}

// NewGraph creates an empty graph on dev.
func NewGraph(dev gpucore.Device, opts ...GraphOption) *Graph {
	o := defaultGraphOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Graph{
		dev:          dev,
		log:          orNop(o.logger),
		fenceTimeout: o.fenceTimeout,
		presenter:    o.presenter,
		workers:      o.workers,
		tasks:        o.tasks,
		index:        make(map[string]int),
	}
}

// Device returns the graph device.
func (g *Graph) Device() gpucore.Device { return g.dev }

// Add adds node with the given upstream node IDs, one per input slot.
// An empty ID leaves an optional slot unconnected. Inputs are resolved and
// validated by Build, so nodes may be added in any order.
func (g *Graph) Add(node Node, inputs ...string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return ErrClosed
	}
	id := node.ID()
	if id == "" {
		return wiringf("", "", "node has no id")
	}
	if _, dup := g.index[id]; dup {
		return wiringf(id, "", "duplicate node id")
	}
	g.index[id] = len(g.entries)
	g.entries = append(g.entries, &entry{node: node, inputs: slices.Clone(inputs)})
	g.dirty = true
	return nil
}

// Remove destroys and removes a node. Removing a node that other nodes
// consume is a wiring error. The next frame rebuilds the graph.
func (g *Graph) Remove(id string) error {
	g.frameMu.Lock()
	defer g.frameMu.Unlock()
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return ErrClosed
	}
	i, ok := g.index[id]
	if !ok {
		return wiringf(id, "", "no such node")
	}
	var consumers []string
	for _, e := range g.entries {
		if slices.Contains(e.inputs, id) {
			consumers = append(consumers, e.node.ID())
		}
	}
	if len(consumers) > 0 {
		return wiringf(id, "", "still consumed by %v", consumers)
	}

	e := g.entries[i]
	if e.built {
		e.node.Deallocate()
		e.node.Destroy()
	}
	g.entries = slices.Delete(g.entries, i, i+1)
	g.order = slices.DeleteFunc(g.order, func(j int) bool { return j == i })
	for k, j := range g.order {
		if j > i {
			g.order[k] = j - 1
		}
	}
	g.reindex()
	g.dirty = true
	g.log.Info("imgraph: node removed", "node", id)
	return nil
}

func (g *Graph) reindex() {
	clear(g.index)
	for i, e := range g.entries {
		g.index[e.node.ID()] = i
	}
}

// Build validates the wiring, computes the execution order and initializes
// every node that is not yet built. All wiring problems are reported,
// joined. When initialization fails, the nodes initialized by this call are
// destroyed again and the graph is left as before.
//
// Build may be called again after Add or Remove; Frame does so
// automatically. Nodes added since the previous build, and everything
// downstream of them, run a setup pass at the next frame.
func (g *Graph) Build(ctx context.Context) error {
	g.frameMu.Lock()
	defer g.frameMu.Unlock()
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.build(ctx)
}

// build requires frameMu and mu held for writing.
func (g *Graph) build(ctx context.Context) error {
	if g.closed {
		return ErrClosed
	}
	if g.poisoned != nil {
		return fmt.Errorf("%w: %w", ErrPoisoned, g.poisoned)
	}

	if err := g.wire(); err != nil {
		return err
	}
	order, err := g.sort()
	if err != nil {
		return err
	}

	bctx := &BuildContext{Device: g.dev, Logger: g.log}
	var fresh []int
	undo := func() {
		for _, i := range slices.Backward(fresh) {
			g.entries[i].node.Destroy()
			g.entries[i].built = false
		}
	}
	for _, i := range order {
		e := g.entries[i]
		if e.built {
			continue
		}
		if err := ctx.Err(); err != nil {
			undo()
			return err
		}
		if err := e.node.Init(bctx); err != nil {
			// Init cleans up after itself on failure.
			undo()
			return fmt.Errorf("init %q: %w", e.node.ID(), err)
		}
		e.built = true
		fresh = append(fresh, i)
	}
	for _, i := range fresh {
		if err := g.entries[i].node.PostInit(bctx); err != nil {
			undo()
			return fmt.Errorf("post-init %q: %w", g.entries[i].node.ID(), err)
		}
	}

	if g.fence == nil {
		f, err := NewFence(g.dev, "imgraph/frame")
		if err != nil {
			undo()
			return err
		}
		g.fence = f
	}

	for _, i := range fresh {
		g.entries[i].setup = true
	}
	for _, i := range order {
		e := g.entries[i]
		for _, d := range e.deps {
			if d >= 0 && g.entries[d].setup {
				e.setup = true
			}
		}
	}

	g.order = order
	g.dirty = false
	g.built = true
	g.log.Info("imgraph: graph built", "nodes", len(order), "new", len(fresh))
	return nil
}

// wire resolves input IDs to indices and lets every node validate its
// inputs. It reports every problem.
func (g *Graph) wire() error {
	var errs []error
	for _, e := range g.entries {
		e.deps = make([]int, len(e.inputs))
		in := make([]Node, len(e.inputs))
		resolved := true
		for s, id := range e.inputs {
			e.deps[s] = -1
			if id == "" {
				continue
			}
			j, ok := g.index[id]
			if !ok {
				errs = append(errs, wiringf(e.node.ID(), slotName(e.node, s), "unknown input node %q", id))
				resolved = false
				continue
			}
			e.deps[s] = j
			in[s] = g.entries[j].node
		}
		if !resolved {
			continue
		}
		if err := e.node.Inputs(in); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func slotName(n Node, i int) string {
	if s, ok := n.(interface{ Slots() []InputSlot }); ok {
		if slots := s.Slots(); i < len(slots) {
			return slots[i].Name
		}
	}
	return fmt.Sprintf("#%d", i)
}

// sort returns a topological order, breaking ties by insertion order, or a
// cycle error naming one cycle.
func (g *Graph) sort() ([]int, error) {
	n := len(g.entries)
	if path := g.findCycle(); path != nil {
		return nil, cycleError(path)
	}

	indeg := make([]int, n)
	out := make([][]int, n)
	for i, e := range g.entries {
		for _, d := range e.deps {
			if d < 0 {
				continue
			}
			indeg[i]++
			out[d] = append(out[d], i)
		}
	}
	var ready []int
	for i := range n {
		if indeg[i] == 0 {
			ready = append(ready, i)
		}
	}
	order := make([]int, 0, n)
	for len(ready) > 0 {
		v := ready[0]
		ready = ready[1:]
		order = append(order, v)
		for _, u := range out[v] {
			indeg[u]--
			if indeg[u] == 0 {
				pos, _ := slices.BinarySearch(ready, u)
				ready = slices.Insert(ready, pos, u)
			}
		}
	}
	return order, nil
}

// findCycle returns the node IDs of a cycle, first node repeated last, or
// nil.
func (g *Graph) findCycle() []string {
	const (
		white = iota
		grey
		black
	)
	color := make([]int, len(g.entries))
	var stack []int
	var cycle []string

	var visit func(i int) bool
	visit = func(i int) bool {
		color[i] = grey
		stack = append(stack, i)
		for _, d := range g.entries[i].deps {
			if d < 0 {
				continue
			}
			switch color[d] {
			case grey:
				start := slices.Index(stack, d)
				for _, j := range stack[start:] {
					cycle = append(cycle, g.entries[j].node.ID())
				}
				cycle = append(cycle, g.entries[d].node.ID())
				return true
			case white:
				if visit(d) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[i] = black
		return false
	}
	for i := range g.entries {
		if color[i] == white && visit(i) {
			return cycle
		}
	}
	return nil
}

// Frame runs one frame. A graph with pending topology changes is rebuilt
// first.
//
// Errors are fail-closed: if any stale node fails to allocate or record,
// nothing of the frame is submitted, every node is deallocated, and the
// stale nodes re-execute at the next frame. A failed submission or a fence
// timeout leaves the device in an unknown state; the graph then refuses
// further frames with ErrPoisoned and keeps the resources of the submitted
// work until Close.
func (g *Graph) Frame(ctx context.Context) (*FrameReport, error) {
	g.frameMu.Lock()
	defer g.frameMu.Unlock()

	if err := g.rebuildIfDirty(ctx); err != nil {
		return nil, err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	switch {
	case g.closed:
		return nil, ErrClosed
	case g.poisoned != nil:
		return nil, fmt.Errorf("%w: %w", ErrPoisoned, g.poisoned)
	case !g.built:
		return nil, ErrNotBuilt
	}
	return g.frame(ctx)
}

func (g *Graph) rebuildIfDirty(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.dirty || !g.built || g.closed {
		return nil
	}
	g.log.Info("imgraph: rebuilding after topology change")
	return g.build(ctx)
}

// frame requires frameMu held and mu held for reading.
func (g *Graph) frame(ctx context.Context) (*FrameReport, error) {
	start := time.Now()
	g.frames++
	report := &FrameReport{ID: uuid.New(), Index: g.frames, Kind: Execution}
	log := g.log.With("frame", report.ID.String(), "index", report.Index)

	// Update every node so that every change flag is consumed exactly
	// once, whether or not the node ends up executing.
	stale := make([]bool, len(g.entries))
	kinds := make([]ExecutionKind, len(g.entries))
	var run []int
	for _, i := range g.order {
		e := g.entries[i]
		kinds[i] = Execution
		if e.setup {
			kinds[i] = Setup
			report.Kind = Setup
		}
		s := e.node.Update(kinds[i]) || e.setup || e.rerun
		for _, d := range e.deps {
			if d >= 0 && stale[d] {
				s = true
			}
		}
		stale[i] = s
		if s {
			run = append(run, i)
		}
	}
	if len(run) == 0 {
		report.Duration = time.Since(start)
		log.Debug("imgraph: frame up to date")
		return report, nil
	}

	// Per-frame resources are released on every exit path, except when
	// submitted work may still be running: then they are kept until Close
	// sees the device idle.
	res := &frameResources{
		nodes: make([]int, 0, len(run)),
		cmds:  make([]*CommandBuffer, 0, len(run)),
	}
	submitted, completed := false, false
	defer func() {
		if submitted && !completed {
			g.unfinished = res
			log.Warn("imgraph: keeping resources of an unfinished frame", "nodes", len(res.nodes))
			return
		}
		g.release(res)
	}()
	fail := func(err error) (*FrameReport, error) {
		for _, i := range run {
			g.entries[i].rerun = true
		}
		return nil, err
	}

	// Phase 1: record every stale node. Nothing is submitted unless all
	// recordings succeed.
	for _, i := range run {
		n := g.entries[i].node
		cmd, err := NewCommandBuffer(g.dev, n.ID())
		if err != nil {
			return fail(err)
		}
		res.cmds = append(res.cmds, cmd)
		res.nodes = append(res.nodes, i)
		if err := n.Allocate(cmd); err != nil {
			return fail(fmt.Errorf("allocate %q: %w", n.ID(), err))
		}
		w, h := g.inputSize(i)
		if err := n.Commands(cmd, w, h); err != nil {
			return fail(fmt.Errorf("commands %q: %w", n.ID(), err))
		}
		if err := cmd.Finish(); err != nil {
			return fail(err)
		}
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	// Phase 2: submit in order, chaining semaphores. The last stale node
	// signals the frame fence instead of its semaphore.
	if g.fenceUsed {
		if err := g.fence.Reset(); err != nil {
			g.poisoned = err
			return nil, err
		}
	}
	var wait *Semaphore
	for k, i := range run {
		n := g.entries[i].node
		var fence *Fence
		if k == len(run)-1 {
			fence = g.fence
		}
		if err := n.Execute(kinds[i], wait, fence); err != nil {
			g.poisoned = err
			return nil, err
		}
		submitted = true
		g.fenceUsed = g.fenceUsed || fence != nil
		wait = n.Semaphore()
		report.Executed = append(report.Executed, n.ID())
	}

	if err := g.fence.Wait(g.fenceTimeout); err != nil {
		g.poisoned = err
		log.Warn("imgraph: frame did not complete", "timeout", g.fenceTimeout, "err", err)
		return nil, err
	}
	completed = true

	for _, i := range run {
		e := g.entries[i]
		e.setup, e.rerun = false, false
	}

	info := FrameInfo{ID: report.ID, Index: report.Index, Kind: report.Kind, Fence: g.fence, Logger: log}
	var errs []error
	for _, i := range run {
		c, ok := g.entries[i].node.(FrameCompleter)
		if !ok {
			continue
		}
		info.Tasks = g.taskRunner()
		if err := c.Complete(ctx, info); err != nil {
			errs = append(errs, fmt.Errorf("complete %q: %w", g.entries[i].node.ID(), err))
		}
	}
	if g.presenter != nil {
		if img := g.terminalImage(); img != nil {
			info.Tasks = g.taskRunner()
			if err := g.presenter.Present(ctx, img, info); err != nil {
				errs = append(errs, fmt.Errorf("present: %w", err))
			}
		}
	}

	report.Duration = time.Since(start)
	log.Debug("imgraph: frame done", "kind", report.Kind, "executed", len(report.Executed), "duration", report.Duration)
	if err := errors.Join(errs...); err != nil {
		return report, err
	}
	return report, nil
}

// frameResources are the nodes allocated and the command buffers recorded
// by one frame.
type frameResources struct {
	nodes []int
	cmds  []*CommandBuffer
}

// release deallocates the nodes in reverse order and releases the command
// buffers.
func (g *Graph) release(res *frameResources) {
	for _, i := range slices.Backward(res.nodes) {
		g.entries[i].node.Deallocate()
	}
	for _, c := range res.cmds {
		c.Release()
	}
}

// inputSize returns the size of the first image input of entry i, or zero.
func (g *Graph) inputSize(i int) (int, int) {
	e := g.entries[i]
	if len(e.deps) == 0 || e.deps[0] < 0 {
		return 0, 0
	}
	out, ok := AsImageOutput(g.entries[e.deps[0]].node)
	if !ok {
		return 0, 0
	}
	img := out.OutputImage()
	if img == nil {
		return 0, 0
	}
	return img.Size()
}

// terminalImage returns the output of the last image-producing node in
// execution order.
func (g *Graph) terminalImage() *Image {
	for _, i := range slices.Backward(g.order) {
		if out, ok := AsImageOutput(g.entries[i].node); ok {
			if img := out.OutputImage(); img != nil {
				return img
			}
		}
	}
	return nil
}

// taskRunner returns the task runner, creating the default one on first
// use. It requires frameMu held.
func (g *Graph) taskRunner() TaskRunner {
	if g.tasks == nil {
		g.tasks = parallel.NewScheduler(g.workers)
		g.ownTasks = true
	}
	return g.tasks
}

// SetParam records an edit of a node parameter. It takes effect at the
// next frame. It is safe to call concurrently with Frame.
func (g *Graph) SetParam(nodeID, name string, value any) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	i, ok := g.index[nodeID]
	if !ok {
		return wiringf(nodeID, "", "no such node")
	}
	p, ok := g.entries[i].node.Params().Get(name)
	if !ok {
		return wiringf(nodeID, "", "unknown parameter %q", name)
	}
	p.Set(value)
	return nil
}

// Order returns the node IDs in execution order as of the last build.
func (g *Graph) Order() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ids := make([]string, len(g.order))
	for k, i := range g.order {
		ids[k] = g.entries[i].node.ID()
	}
	return ids
}

// Node returns the node with the given ID.
func (g *Graph) Node(id string) (Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	i, ok := g.index[id]
	if !ok {
		return nil, false
	}
	return g.entries[i].node, true
}

// Nodes returns all nodes in insertion order.
func (g *Graph) Nodes() []Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	nodes := make([]Node, len(g.entries))
	for i, e := range g.entries {
		nodes[i] = e.node
	}
	return nodes
}

// WaitTasks blocks until the background tasks scheduled so far are done and
// returns their errors.
func (g *Graph) WaitTasks() error {
	g.frameMu.Lock()
	tasks := g.tasks
	g.frameMu.Unlock()
	if tasks == nil {
		return nil
	}
	return tasks.Wait()
}

// Close waits for the device to go idle, destroys every node in reverse
// execution order, and waits for background tasks. Close is safe to call
// multiple times.
//
// If the device does not become idle, device resources are leaked rather
// than freed under work that may still reference them.
func (g *Graph) Close() error {
	g.frameMu.Lock()
	defer g.frameMu.Unlock()
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil
	}
	g.closed = true

	var errs []error
	if err := g.dev.WaitIdle(); err != nil {
		errs = append(errs, runtimeError("wait_idle", "", err))
		g.log.Error("imgraph: device not idle at close, leaking node resources", "err", err)
	} else {
		if g.unfinished != nil {
			g.release(g.unfinished)
		}
		for _, i := range slices.Backward(g.order) {
			if e := g.entries[i]; e.built {
				e.node.Deallocate()
				e.node.Destroy()
				e.built = false
			}
		}
		g.fence.Destroy()
	}
	g.unfinished = nil
	g.fence = nil

	if g.tasks != nil {
		var err error
		if g.ownTasks {
			err = g.tasks.Close()
		} else {
			err = g.tasks.Wait()
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	g.log.Info("imgraph: graph closed", "frames", g.frames)
	return errors.Join(errs...)
}
