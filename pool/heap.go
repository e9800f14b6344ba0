// File: pool/heap.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Heap buffer strategy: every slot is an independent heap buffer that is not
// registered with the I/O subsystem. Admission accounting is identical to the
// fixed pool, so the reactor treats both strategies the same way.

package pool

import (
	"fmt"

	"github.com/momentics/hioload-ingest/api"
)

// HeapBuffers implements api.SlotPool with per-slot heap allocations.
type HeapBuffers struct {
	bufs     [][]byte
	slotSize int
	free     []int32
	owned    []bool
}

// NewHeapBuffers creates slotCount lazily allocated buffers of slotSize bytes.
func NewHeapBuffers(slotCount, slotSize int) (*HeapBuffers, error) {
	if slotCount <= 0 || slotSize <= 0 {
		return nil, fmt.Errorf("heap buffers: count=%d size=%d: %w", slotCount, slotSize, api.ErrInvalidArgument)
	}
	h := &HeapBuffers{
		bufs:     make([][]byte, slotCount),
		slotSize: slotSize,
		free:     make([]int32, 0, slotCount),
		owned:    make([]bool, slotCount),
	}
	for i := 0; i < slotCount; i++ {
		h.free = append(h.free, int32(i))
	}
	return h, nil
}

func (h *HeapBuffers) Acquire() (int, bool) {
	n := len(h.free)
	if n == 0 {
		return -1, false
	}
	idx := int(h.free[n-1])
	h.free = h.free[:n-1]
	h.owned[idx] = true
	if h.bufs[idx] == nil {
		h.bufs[idx] = make([]byte, h.slotSize)
	}
	return idx, true
}

func (h *HeapBuffers) Release(slot int) error {
	if slot < 0 || slot >= len(h.bufs) {
		return fmt.Errorf("release slot %d: %w", slot, api.ErrInvalidSlot)
	}
	if !h.owned[slot] {
		return fmt.Errorf("release slot %d: %w", slot, api.ErrDoubleRelease)
	}
	h.owned[slot] = false
	h.free = append(h.free, int32(slot))
	return nil
}

func (h *HeapBuffers) Bytes(slot int) []byte { return h.bufs[slot] }
func (h *HeapBuffers) Fixed() bool { return false }
func (h *HeapBuffers) Capacity() int { return len(h.bufs) }
func (h *HeapBuffers) Free() int { return len(h.free) }
func (h *HeapBuffers) Owned() int { return len(h.bufs) - len(h.free) }
func (h *HeapBuffers) SlotSize() int { return h.slotSize }

func (h *HeapBuffers) Close() error {
	h.bufs = nil
	h.free = nil
	return nil
}

var _ api.SlotPool = (*HeapBuffers)(nil)
