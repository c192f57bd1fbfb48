// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package imgraph

import (
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"slices"
	"strconv"
	"strings"
	"sync"
)

// ParamKind is the semantic type of a Parameter.
type ParamKind int

// Parameter kinds.
const (
	ParamFloat ParamKind = iota + 1
	ParamInt
	ParamBool
	ParamString
	ParamEnum
	ParamVec4
)

// String returns the string representation of the kind.
func (k ParamKind) String() string {
	switch k {
	case ParamFloat:
		return "float"
	case ParamInt:
		return "int"
	case ParamBool:
		return "bool"
	case ParamString:
		return "string"
	case ParamEnum:
		return "enum"
	case ParamVec4:
		return "vec4"
	default:
		return fmt.Sprintf("Unknown(%d)", int(k))
	}
}

// Vec4 is a four-component float vector parameter value.
type Vec4 [4]float32

// Parameter validation errors. They never cross the Node boundary: an
// invalid edit is reverted by Acknowledge and reported only to the caller
// of Acknowledge, for logging.
var (
	errParamType  = errors.New("wrong type")
	errParamRange = errors.New("out of range")
	errParamEnum  = errors.New("not an option")
	errParamNaN   = errors.New("not a finite number")
)

// Parameter is a named, typed, change-tracked value.
//
// Edits arrive through Set from any goroutine. The graph observes them once
// per frame through Acknowledge, which validates the pending edit, commits it
// or reverts it to the last known good value, and clears the changed flag.
//
// Values are normalized to float64 (Float), int64 (Int), bool, string
// (String and Enum) and Vec4.
type Parameter struct {
	name string
	kind ParamKind
	def  any

	// Validation; immutable after construction.
	hasRange bool
	min, max float64
	options  []string
	validate func(v any) error

	mu      sync.Mutex
	cur     any
	pending any
	changed bool
}

func newParameter(name string, kind ParamKind, def any) *Parameter {
	return &Parameter{name: name, kind: kind, def: def, cur: def}
}

// FloatParam creates a float parameter restricted to [lo, hi].
func FloatParam(name string, def, lo, hi float64) *Parameter {
	p := newParameter(name, ParamFloat, def)
	p.hasRange, p.min, p.max = true, lo, hi
	return p
}

// IntParam creates an integer parameter restricted to [lo, hi].
func IntParam(name string, def, lo, hi int64) *Parameter {
	p := newParameter(name, ParamInt, def)
	p.hasRange, p.min, p.max = true, float64(lo), float64(hi)
	return p
}

// BoolParam creates a boolean parameter.
func BoolParam(name string, def bool) *Parameter {
	return newParameter(name, ParamBool, def)
}

// StringParam creates a free-form string parameter.
func StringParam(name, def string) *Parameter {
	return newParameter(name, ParamString, def)
}

// EnumParam creates a parameter that takes one of options.
// def must be one of options.
func EnumParam(name, def string, options ...string) *Parameter {
	p := newParameter(name, ParamEnum, def)
	p.options = slices.Clone(options)
	return p
}

// Vec4Param creates a four-component vector parameter.
func Vec4Param(name string, def Vec4) *Parameter {
	return newParameter(name, ParamVec4, def)
}

// WithValidator adds a custom check run after type and range validation.
// It must be called before the parameter is shared.
func (p *Parameter) WithValidator(fn func(v any) error) *Parameter {
	p.validate = fn
	return p
}

// Name returns the parameter name.
func (p *Parameter) Name() string { return p.name }

// Kind returns the parameter kind.
func (p *Parameter) Kind() ParamKind { return p.kind }

// Default returns the default value.
func (p *Parameter) Default() any { return p.def }

// Options returns the enum options, or nil.
func (p *Parameter) Options() []string { return slices.Clone(p.options) }

// Range returns the numeric bounds and whether the parameter has any.
func (p *Parameter) Range() (lo, hi float64, ok bool) { return p.min, p.max, p.hasRange }

// Value returns the current (last acknowledged) value.
func (p *Parameter) Value() any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cur
}

// Float returns the current value of a Float or Int parameter.
func (p *Parameter) Float() float64 {
	switch v := p.Value().(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	}
	return 0
}

// Int returns the current value of an Int parameter.
func (p *Parameter) Int() int64 {
	v, _ := p.Value().(int64)
	return v
}

// Bool returns the current value of a Bool parameter.
func (p *Parameter) Bool() bool {
	v, _ := p.Value().(bool)
	return v
}

// Text returns the current value of a String or Enum parameter.
func (p *Parameter) Text() string {
	v, _ := p.Value().(string)
	return v
}

// Vec4 returns the current value of a Vec4 parameter.
func (p *Parameter) Vec4() Vec4 {
	v, _ := p.Value().(Vec4)
	return v
}

// EnumIndex returns the index of the current option, or -1.
func (p *Parameter) EnumIndex() int {
	return slices.Index(p.options, p.Text())
}

// Set records an edit. The edit takes effect at the next Acknowledge.
// Setting the current value cancels a pending edit.
func (p *Parameter) Set(v any) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if nv, err := p.normalize(v); err == nil && nv == p.cur {
		p.pending, p.changed = nil, false
		return
	}
	p.pending, p.changed = v, true
}

// Reset records an edit back to the default value.
func (p *Parameter) Reset() { p.Set(p.def) }

// Changed reports whether an edit is pending, without consuming it.
func (p *Parameter) Changed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.changed
}

// Acknowledge consumes the changed flag. It reports true when a valid edit
// that differs from the current value was committed. An invalid edit is
// dropped, the last known good value is kept, and the rejection reason is
// returned for logging.
func (p *Parameter) Acknowledge() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.changed {
		return false, nil
	}
	raw := p.pending
	p.pending, p.changed = nil, false

	nv, err := p.normalize(raw)
	if err == nil {
		err = p.check(nv)
	}
	if err != nil {
		return false, fmt.Errorf("parameter %q: rejected %v: %w", p.name, raw, err)
	}
	if nv == p.cur {
		return false, nil
	}
	p.cur = nv
	return true, nil
}

// normalize converts v to the canonical Go type of the kind.
func (p *Parameter) normalize(v any) (any, error) {
	switch p.kind {
	case ParamFloat:
		switch x := v.(type) {
		case float64:
			return x, nil
		case float32:
			return float64(x), nil
		case int:
			return float64(x), nil
		case int64:
			return float64(x), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
			if err != nil {
				return nil, fmt.Errorf("%w: %q is not a float", errParamType, x)
			}
			return f, nil
		}
	case ParamInt:
		switch x := v.(type) {
		case int64:
			return x, nil
		case int:
			return int64(x), nil
		case float64:
			if x != math.Trunc(x) {
				return nil, fmt.Errorf("%w: %v is not an integer", errParamType, x)
			}
			return int64(x), nil
		case string:
			n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: %q is not an integer", errParamType, x)
			}
			return n, nil
		}
	case ParamBool:
		switch x := v.(type) {
		case bool:
			return x, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(x))
			if err != nil {
				return nil, fmt.Errorf("%w: %q is not a bool", errParamType, x)
			}
			return b, nil
		}
	case ParamString, ParamEnum:
		if x, ok := v.(string); ok {
			return x, nil
		}
	case ParamVec4:
		switch x := v.(type) {
		case Vec4:
			return x, nil
		case [4]float32:
			return Vec4(x), nil
		case []float64:
			if len(x) == 4 {
				return Vec4{float32(x[0]), float32(x[1]), float32(x[2]), float32(x[3])}, nil
			}
		case string:
			fields := strings.Split(x, ",")
			if len(fields) != 4 {
				return nil, fmt.Errorf("%w: %q is not four comma-separated floats", errParamType, x)
			}
			var out Vec4
			for i, f := range fields {
				c, err := strconv.ParseFloat(strings.TrimSpace(f), 32)
				if err != nil {
					return nil, fmt.Errorf("%w: %q is not four comma-separated floats", errParamType, x)
				}
				out[i] = float32(c)
			}
			return out, nil
		}
	}
	return nil, fmt.Errorf("%w: %T for %s parameter", errParamType, v, p.kind)
}

// check validates a normalized value.
func (p *Parameter) check(v any) error {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return errParamNaN
		}
		if p.hasRange && (x < p.min || x > p.max) {
			return fmt.Errorf("%w: %v not in [%v, %v]", errParamRange, x, p.min, p.max)
		}
	case int64:
		if p.hasRange && (float64(x) < p.min || float64(x) > p.max) {
			return fmt.Errorf("%w: %v not in [%v, %v]", errParamRange, x, p.min, p.max)
		}
	case string:
		if p.kind == ParamEnum && !slices.Contains(p.options, x) {
			return fmt.Errorf("%w: %q, want one of %v", errParamEnum, x, p.options)
		}
	case Vec4:
		for _, c := range x {
			if math.IsNaN(float64(c)) || math.IsInf(float64(c), 0) {
				return errParamNaN
			}
		}
	}
	if p.validate != nil {
		return p.validate(v)
	}
	return nil
}

// Hash returns a content hash of the name, kind and current value.
func (p *Parameter) Hash() uint64 {
	h := fnv.New64a()
	writeField(h, p.name)
	writeField(h, p.kind.String())
	writeField(h, formatValue(p.Value()))
	return h.Sum64()
}

// formatValue renders a normalized value deterministically.
func formatValue(v any) string {
	switch x := v.(type) {
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	case string:
		return x
	case Vec4:
		parts := make([]string, 4)
		for i, c := range x {
			parts[i] = strconv.FormatFloat(float64(c), 'g', -1, 32)
		}
		return strings.Join(parts, ",")
	}
	return fmt.Sprint(v)
}

// Clone returns an independent parameter with the same name, kind, default
// and validation, holding the default value and no pending edit.
func (p *Parameter) Clone() *Parameter {
	return &Parameter{
		name:     p.name,
		kind:     p.kind,
		def:      p.def,
		cur:      p.def,
		hasRange: p.hasRange,
		min:      p.min,
		max:      p.max,
		options:  slices.Clone(p.options),
		validate: p.validate,
	}
}
