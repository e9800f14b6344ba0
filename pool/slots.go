// File: pool/slots.go
// Package pool
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Fixed buffer-slot allocator: one page-aligned region carved into equal
// slots, registered once with the I/O subsystem for zero-copy reads.
// Acquire/Release are O(1) on a LIFO free list. Not safe for concurrent use;
// the owning reactor is the only caller.

package pool

import (
	"fmt"

	"github.com/momentics/hioload-ingest/api"
)

// SlotAllocator implements api.SlotPool over one registered region.
type SlotAllocator struct {
	region   *region
	slotSize int
	count    int
	free     []int32
	owned    []bool
}

// NewSlotAllocator allocates slotCount*slotSize page-aligned, zeroed bytes,
// registers them through reg (nil skips registration) and seeds the free pool
// with every slot index.
func NewSlotAllocator(slotCount, slotSize int, reg api.Registrar) (*SlotAllocator, error) {
	if slotCount <= 0 || slotSize <= 0 {
		return nil, fmt.Errorf("slot allocator: count=%d size=%d: %w", slotCount, slotSize, api.ErrInvalidArgument)
	}
	r, err := newRegion(slotCount * slotSize)
	if err != nil {
		return nil, fmt.Errorf("slot allocator: aligned allocation: %w", err)
	}
	clear(r.buf)

	if reg != nil {
		if err := reg.RegisterBuffers(r.buf); err != nil {
			_ = r.release()
			return nil, fmt.Errorf("slot allocator: buffer registration: %w", err)
		}
	}

	a := &SlotAllocator{
		region:   r,
		slotSize: slotSize,
		count:    slotCount,
		free:     make([]int32, 0, slotCount),
		owned:    make([]bool, slotCount),
	}
	for i := 0; i < slotCount; i++ {
		a.free = append(a.free, int32(i))
	}
	return a, nil
}

// Acquire pops the most recently released slot.
func (a *SlotAllocator) Acquire() (int, bool) {
	n := len(a.free)
	if n == 0 {
		return -1, false
	}
	idx := int(a.free[n-1])
	a.free = a.free[:n-1]
	a.owned[idx] = true
	return idx, true
}

// Release pushes slot back onto the free pool.
func (a *SlotAllocator) Release(slot int) error {
	if slot < 0 || slot >= a.count {
		return fmt.Errorf("release slot %d: %w", slot, api.ErrInvalidSlot)
	}
	if !a.owned[slot] {
		return fmt.Errorf("release slot %d: %w", slot, api.ErrDoubleRelease)
	}
	a.owned[slot] = false
	a.free = append(a.free, int32(slot))
	return nil
}

// Bytes returns the memory of slot. Pure address arithmetic.
func (a *SlotAllocator) Bytes(slot int) []byte {
	off := slot * a.slotSize
	return a.region.buf[off : off+a.slotSize : off+a.slotSize]
}

// Region exposes the whole registered region.
func (a *SlotAllocator) Region() []byte { return a.region.buf }

func (a *SlotAllocator) Fixed() bool { return true }
func (a *SlotAllocator) Capacity() int { return a.count }
func (a *SlotAllocator) Free() int { return len(a.free) }
func (a *SlotAllocator) Owned() int { return a.count - len(a.free) }
func (a *SlotAllocator) SlotSize() int { return a.slotSize }

// Close unmaps the region. Registered buffers must be unregistered (or the
// ring closed) beforehand.
func (a *SlotAllocator) Close() error {
	if a.region == nil {
		return nil
	}
	err := a.region.release()
	a.region = nil
	a.free = nil
	return err
}

var _ api.SlotPool = (*SlotAllocator)(nil)
