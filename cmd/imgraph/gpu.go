//go:build !nogpu

package main

// The GPU backend registers itself as "wgpu".
import _ "github.com/gogpu/imgraph/backend/wgpu"
