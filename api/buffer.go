// Package api
// Author: momentics
//
// Slot-based buffer contracts for connection I/O.
//
// A slot is a fixed-size region handed to exactly one connection at a time.
// All slots are interchangeable; the index carries no meaning.

package api

// SlotPool hands out fixed-size buffer slots by index.
type SlotPool interface {
	// Acquire pops a free slot; ok is false when every slot is owned.
	Acquire() (slot int, ok bool)

	// Release returns slot to the free pool. The caller guarantees that no
	// in-flight operation still references the slot memory.
	Release(slot int) error

	// Bytes returns the slot memory, base + slot*SlotSize().
	Bytes(slot int) []byte

	// Fixed reports whether slot memory is registered for zero-copy transfers.
	Fixed() bool

	// Capacity is the total number of slots.
	Capacity() int

	// Free is the number of slots currently in the free pool.
	Free() int

	// Owned is the number of slots held by connections; Free()+Owned() is
	// always Capacity().
	Owned() int

	// SlotSize is the byte length of every slot.
	SlotSize() int

	// Close releases the backing memory.
	Close() error
}

// Registrar pins a memory region with an I/O subsystem.
type Registrar interface {
	RegisterBuffers(region []byte) error
}
