// File: internal/transport/feature_detect.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Runtime backend selection.

package transport

import "runtime"

const (
	KindAuto     = "auto"
	KindIoUring  = "io_uring"
	KindEmulated = "emulated"
)

// RuntimeTransportSelector returns the best available backend for the current platform.
func RuntimeTransportSelector() string {
	if runtime.GOOS == "linux" && HasIoUringSupport() {
		return KindIoUring
	}
	return KindEmulated
}

// HasIoUringSupport checks if the kernel supports io_uring (stub for non-Linux)
// The actual implementation is in Linux-specific file
var HasIoUringSupport = func() bool {
	return false
}
