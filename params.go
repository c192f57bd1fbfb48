// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package imgraph

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
)

// Params is an ordered set of parameters keyed by name.
type Params struct {
	order  []*Parameter
	byName map[string]*Parameter
}

// NewParams creates a parameter set. It panics on duplicate names, which
// are a programming error in a node constructor.
func NewParams(ps ...*Parameter) *Params {
	set := &Params{byName: make(map[string]*Parameter, len(ps))}
	for _, p := range ps {
		set.Add(p)
	}
	return set
}

// Add appends a parameter. It panics on a duplicate name.
func (ps *Params) Add(p *Parameter) *Parameter {
	if _, dup := ps.byName[p.Name()]; dup {
		panic(fmt.Sprintf("imgraph: duplicate parameter %q", p.Name()))
	}
	ps.order = append(ps.order, p)
	ps.byName[p.Name()] = p
	return p
}

// Get returns the named parameter.
func (ps *Params) Get(name string) (*Parameter, bool) {
	if ps == nil {
		return nil, false
	}
	p, ok := ps.byName[name]
	return p, ok
}

// List returns the parameters in declaration order.
func (ps *Params) List() []*Parameter {
	if ps == nil {
		return nil
	}
	return append([]*Parameter(nil), ps.order...)
}

// Names returns the parameter names in declaration order.
func (ps *Params) Names() []string {
	if ps == nil {
		return nil
	}
	names := make([]string, len(ps.order))
	for i, p := range ps.order {
		names[i] = p.Name()
	}
	return names
}

// Len returns the number of parameters.
func (ps *Params) Len() int {
	if ps == nil {
		return 0
	}
	return len(ps.order)
}

// AcknowledgeAll acknowledges every parameter, without short-circuiting, and
// reports whether any committed a change, along with the rejected edits.
func (ps *Params) AcknowledgeAll() (bool, []error) {
	changed := false
	var rejected []error
	for _, p := range ps.List() {
		ok, err := p.Acknowledge()
		if err != nil {
			rejected = append(rejected, err)
		}
		changed = changed || ok
	}
	return changed, rejected
}

// Hash returns the combined content hash of all current values as a hex
// string. Each field is length-prefixed so that adjacent values cannot
// collide by concatenation.
func (ps *Params) Hash() string {
	h := sha256.New()
	for _, p := range ps.List() {
		writeField(h, p.Name())
		writeField(h, p.Kind().String())
		writeField(h, formatValue(p.Value()))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Clone returns independent copies of every parameter at default values.
func (ps *Params) Clone() *Params {
	c := &Params{byName: make(map[string]*Parameter, ps.Len())}
	for _, p := range ps.List() {
		c.Add(p.Clone())
	}
	return c
}

// writeField writes a length-prefixed string to h.
func writeField(h hash.Hash, s string) {
	var n [8]byte
	binary.LittleEndian.PutUint64(n[:], uint64(len(s)))
	h.Write(n[:])
	h.Write([]byte(s))
}
