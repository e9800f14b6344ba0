//go:build linux
// +build linux

// File: control/platform_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Linux platform probes.

package control

import (
	"runtime"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-ingest/internal/transport"
)

// RegisterPlatformProbes adds host facts relevant to the completion backends.
func RegisterPlatformProbes(dp *DebugProbes) {
	dp.RegisterProbe("platform.cpus", func() any {
		return runtime.NumCPU()
	})
	dp.RegisterProbe("platform.goroutines", func() any {
		return runtime.NumGoroutine()
	})
	dp.RegisterProbe("platform.kernel", func() any {
		var u unix.Utsname
		if err := unix.Uname(&u); err != nil {
			return err.Error()
		}
		return unix.ByteSliceToString(u.Release[:])
	})
	dp.RegisterProbe("platform.io_uring", func() any {
		return transport.HasIoUringSupport()
	})
}
