//go:build !linux && !darwin && !freebsd

// File: pool/region_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Heap fallback for platforms without anonymous mmap: over-allocate and slice
// at the first page boundary.

package pool

import (
	"os"
	"unsafe"
)

type region struct {
	buf []byte
}

func newRegion(size int) (*region, error) {
	align := PageSize()
	raw := make([]byte, size+align)
	off := 0
	if rem := int(uintptr(unsafe.Pointer(&raw[0])) % uintptr(align)); rem != 0 {
		off = align - rem
	}
	return &region{buf: raw[off : off+size : off+size]}, nil
}

func (r *region) release() error {
	r.buf = nil
	return nil
}

// PageSize reports the platform page size used for region alignment.
func PageSize() int { return os.Getpagesize() }
