// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Platform-neutral API for CPU affinity. Platform-specific implementations are
// located in separate files guarded by build tags.

package affinity

// SetAffinity pins the calling OS thread to cpuID. The caller must hold
// runtime.LockOSThread, otherwise the goroutine may migrate off the pinned
// thread. Unsupported platforms return api.ErrNotSupported.
func SetAffinity(cpuID int) error {
	return setAffinityPlatform(cpuID)
}

// CPUs lists the logical CPUs the calling thread may run on.
func CPUs() ([]int, error) {
	return allowedCPUs()
}
