//go:build linux || darwin || freebsd

// File: pool/region_unix.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Anonymous mmap backing for slot regions. mmap returns page-aligned,
// zero-filled memory that the Go GC never moves.

package pool

import (
	"fmt"

	"golang.org/x/sys/unix"
)

type region struct {
	buf    []byte
	mapped bool
}

func newRegion(size int) (*region, error) {
	buf, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mmap %d bytes: %w", size, err)
	}
	return &region{buf: buf, mapped: true}, nil
}

func (r *region) release() error {
	if !r.mapped {
		return nil
	}
	r.mapped = false
	buf := r.buf
	r.buf = nil
	return unix.Munmap(buf)
}

// PageSize reports the platform page size used for region alignment.
func PageSize() int { return unix.Getpagesize() }
