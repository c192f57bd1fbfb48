// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package config loads graph descriptions from HCL files.
//
// A description file declares nodes by type and ID, wired by input IDs:
//
//	frames        = 10
//	fence_timeout = "5s"
//
//	node "pattern" "src" {
//	  params = {
//	    width = 640
//	    kind  = "ramp"
//	    color = [1, 0.5, 0, 1]
//	  }
//	}
//
//	node "writer" "out" {
//	  inputs = ["src"]
//	  params = { path = "out/frame-{frame}.png" }
//	}
//
// Numbers decode as float64, lists of four numbers as []float64 (a Vec4
// parameter). Parameter values are validated when the graph first runs.
package config

import (
	"fmt"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"github.com/gogpu/imgraph"
)

// Config is a loaded description file.
type Config struct {
	// Description is the graph to build.
	Description *imgraph.Description
	// FenceTimeout is the per-frame GPU timeout, or zero for the default.
	FenceTimeout time.Duration
}

// hclFile is the top-level structure of a description file.
type hclFile struct {
	Frames       *int       `hcl:"frames,optional"`
	FenceTimeout *string    `hcl:"fence_timeout,optional"`
	Nodes        []*hclNode `hcl:"node,block"`
}

// hclNode is a node block.
type hclNode struct {
	Type   string         `hcl:"type,label"`
	ID     string         `hcl:"id,label"`
	Inputs []string       `hcl:"inputs,optional"`
	Params hcl.Expression `hcl:"params,optional"`
}

// Load parses the description file at path.
func Load(path string) (*Config, error) {
	f, diags := hclparse.NewParser().ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %w", path, diags)
	}
	return decode(f, path)
}

// Parse parses a description from src. filename is used in diagnostics.
func Parse(src []byte, filename string) (*Config, error) {
	f, diags := hclparse.NewParser().ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %w", filename, diags)
	}
	return decode(f, filename)
}

func decode(f *hcl.File, filename string) (*Config, error) {
	var parsed hclFile
	if diags := gohcl.DecodeBody(f.Body, nil, &parsed); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL file %s: %w", filename, diags)
	}

	cfg := &Config{Description: &imgraph.Description{}}
	if parsed.Frames != nil {
		if *parsed.Frames < 0 {
			return nil, fmt.Errorf("%s: frames must not be negative, got %d", filename, *parsed.Frames)
		}
		cfg.Description.Frames = *parsed.Frames
	}
	if parsed.FenceTimeout != nil {
		d, err := time.ParseDuration(*parsed.FenceTimeout)
		if err != nil {
			return nil, fmt.Errorf("%s: fence_timeout: %w", filename, err)
		}
		cfg.FenceTimeout = d
	}

	for _, n := range parsed.Nodes {
		params, err := decodeParams(n.Params)
		if err != nil {
			return nil, fmt.Errorf("%s: node %q: %w", filename, n.ID, err)
		}
		cfg.Description.Nodes = append(cfg.Description.Nodes, imgraph.NodeDesc{
			Type:   n.Type,
			ID:     n.ID,
			Inputs: n.Inputs,
			Params: params,
		})
	}
	return cfg, nil
}

// decodeParams evaluates a params expression to parameter edits.
func decodeParams(expr hcl.Expression) (map[string]any, error) {
	if expr == nil {
		return nil, nil
	}
	val, diags := expr.Value(nil)
	if diags.HasErrors() {
		return nil, diags
	}
	if val.IsNull() {
		return nil, nil
	}
	if !val.Type().IsObjectType() && !val.Type().IsMapType() {
		return nil, fmt.Errorf("params must be an object, got %s", val.Type().FriendlyName())
	}
	out := make(map[string]any)
	for it := val.ElementIterator(); it.Next(); {
		k, v := it.Element()
		pv, err := paramValue(v)
		if err != nil {
			return nil, fmt.Errorf("param %q: %w", k.AsString(), err)
		}
		out[k.AsString()] = pv
	}
	return out, nil
}

// paramValue converts a cty value to a parameter edit.
func paramValue(val cty.Value) (any, error) {
	if !val.IsKnown() || val.IsNull() {
		return nil, fmt.Errorf("value is null or unknown")
	}
	ty := val.Type()
	switch {
	case ty == cty.String:
		return val.AsString(), nil
	case ty == cty.Number:
		f, _ := val.AsBigFloat().Float64()
		return f, nil
	case ty == cty.Bool:
		return val.True(), nil
	case ty.IsTupleType() || ty.IsListType():
		var out []float64
		for it := val.ElementIterator(); it.Next(); {
			_, v := it.Element()
			if !v.IsKnown() || v.IsNull() || v.Type() != cty.Number {
				return nil, fmt.Errorf("lists may hold only numbers")
			}
			f, _ := v.AsBigFloat().Float64()
			out = append(out, f)
		}
		if len(out) != 4 {
			return nil, fmt.Errorf("lists must hold four numbers, got %d", len(out))
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported type %s", ty.FriendlyName())
}
