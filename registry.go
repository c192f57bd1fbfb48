// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package imgraph

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"golang.org/x/text/cases"

	"github.com/gogpu/imgraph/gpucore"
)

// NodeType describes a registered node type.
type NodeType struct {
	// Name is the unique registry key, for example "saturation".
	Name string

	// Tags are additional lookup keys and capability labels. A tag that is
	// carried by a single type resolves to it in Create.
	Tags []Tag

	// Prototype is cloned for every created node.
	Prototype Node

	// Description is a one-line summary for listings.
	Description string
}

// Slots returns the input slots declared by the prototype, or nil.
func (t NodeType) Slots() []InputSlot {
	if s, ok := t.Prototype.(interface{ Slots() []InputSlot }); ok {
		return s.Slots()
	}
	return nil
}

// Registry maps names and tags to node types.
// It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]NodeType
	byTag  map[string][]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]NodeType),
		byTag:  make(map[string][]string),
	}
}

// fold case-folds a registry key. A Caser is stateful, so each call gets
// its own.
func fold(s string) string {
	return cases.Fold().String(s)
}

// Register adds a node type. Names are case-insensitive and must be unique.
func (r *Registry) Register(t NodeType) error {
	if t.Name == "" {
		return errors.New("imgraph: register: empty node type name")
	}
	if t.Prototype == nil {
		return fmt.Errorf("imgraph: register %q: nil prototype", t.Name)
	}
	key := fold(t.Name)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.byName[key]; dup {
		return fmt.Errorf("imgraph: register %q: already registered", t.Name)
	}
	t.Tags = slices.Clone(t.Tags)
	r.byName[key] = t
	for _, tag := range t.Tags {
		tk := fold(string(tag))
		r.byTag[tk] = append(r.byTag[tk], key)
	}
	return nil
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(t NodeType) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

// Lookup resolves a name, or a tag carried by exactly one type.
func (r *Registry) Lookup(key string) (NodeType, error) {
	k := fold(key)

	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.byName[k]; ok {
		return t, nil
	}
	switch names := r.byTag[k]; len(names) {
	case 0:
		return NodeType{}, fmt.Errorf("unknown node type %q", key)
	case 1:
		return r.byName[names[0]], nil
	default:
		return NodeType{}, fmt.Errorf("tag %q is ambiguous: %v", key, names)
	}
}

// WithTag returns the names of the types carrying tag, sorted.
func (r *Registry) WithTag(tag Tag) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := slices.Clone(r.byTag[fold(string(tag))])
	sort.Strings(names)
	return names
}

// Names returns all registered type names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for _, t := range r.byName {
		names = append(names, t.Name)
	}
	sort.Strings(names)
	return names
}

// Create clones the prototype registered under key and assigns id.
func (r *Registry) Create(key, id string) (Node, error) {
	t, err := r.Lookup(key)
	if err != nil {
		return nil, &WiringError{Kind: ErrWiring, Node: id, Msg: err.Error()}
	}
	n := t.Prototype.Clone()
	s, ok := n.(interface{ SetID(string) })
	if !ok {
		return nil, wiringf(id, "", "node type %q cannot be assigned an id", t.Name)
	}
	s.SetID(id)
	return n, nil
}

// Description is a declarative graph: nodes by type, wired by ID.
type Description struct {
	Nodes []NodeDesc

	// Frames is the number of frames to run, for drivers that honor it.
	Frames int
}

// NodeDesc describes one node of a Description.
type NodeDesc struct {
	// Type is a registry name or unambiguous tag.
	Type string
	// ID is the unique node ID.
	ID string
	// Inputs are upstream node IDs, one per input slot ("" leaves an
	// optional slot unconnected).
	Inputs []string
	// Params are initial parameter edits, validated at the first frame.
	Params map[string]any
}

// Build instantiates desc on dev and builds the graph. Every unknown type,
// unknown parameter and wiring problem is reported, joined. Parameter values
// are applied as edits, so out-of-range values keep the default.
func (r *Registry) Build(ctx context.Context, dev gpucore.Device, desc *Description, opts ...GraphOption) (*Graph, error) {
	g := NewGraph(dev, opts...)

	var errs []error
	for _, nd := range desc.Nodes {
		n, err := r.Create(nd.Type, nd.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		names := make([]string, 0, len(nd.Params))
		for name := range nd.Params {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			p, ok := n.Params().Get(name)
			if !ok {
				errs = append(errs, wiringf(nd.ID, "", "unknown parameter %q", name))
				continue
			}
			p.Set(nd.Params[name])
		}
		if err := g.Add(n, nd.Inputs...); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		if err := g.Build(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		if err := g.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close: %w", err))
		}
		return nil, errors.Join(errs...)
	}
	return g, nil
}
