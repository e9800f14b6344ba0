// File: control/debug.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Named debug probes evaluated on demand for /debug/state.

package control

import (
	"github.com/puzpuzpuz/xsync/v3"
)

// DebugProbes holds registered probe functions. Safe for concurrent use.
type DebugProbes struct {
	probes *xsync.MapOf[string, func() any]
}

// NewDebugProbes creates an empty probe registry.
func NewDebugProbes() *DebugProbes {
	return &DebugProbes{probes: xsync.NewMapOf[string, func() any]()}
}

// RegisterProbe inserts or replaces a named probe.
func (dp *DebugProbes) RegisterProbe(name string, fn func() any) {
	dp.probes.Store(name, fn)
}

// Unregister removes a probe.
func (dp *DebugProbes) Unregister(name string) {
	dp.probes.Delete(name)
}

// Len is the number of registered probes.
func (dp *DebugProbes) Len() int { return dp.probes.Size() }

// DumpState evaluates every probe.
func (dp *DebugProbes) DumpState() map[string]any {
	out := make(map[string]any, dp.probes.Size())
	dp.probes.Range(func(name string, fn func() any) bool {
		out[name] = fn()
		return true
	})
	return out
}
