// File: api/transport.go
// Author: momentics <momentics@gmail.com>
//
// Completion-queue abstraction: operations are submitted and their results are
// collected later, correlated by an opaque 64-bit tag.

package api

import "time"

// OpKind enumerates the operations a reactor keeps in flight.
type OpKind uint8

const (
	OpNone OpKind = iota
	OpAccept
	OpRead
	OpWrite
)

func (k OpKind) String() string {
	switch k {
	case OpAccept:
		return "accept"
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	default:
		return "none"
	}
}

// Completion is the result of one submitted operation.
// Res carries the syscall result: a descriptor, a byte count or -errno.
type Completion struct {
	Tag uint64
	Res int32
}

// CompletionQueue is a proactor backend. It is driven by exactly one goroutine.
type CompletionQueue interface {
	// RegisterBuffers pins region for fixed-buffer transfers.
	RegisterBuffers(region []byte) error

	// PrepareAccept queues an accept on the listening descriptor.
	PrepareAccept(listenFD int, tag uint64) error

	// PrepareRead queues a read of up to len(buf) bytes. When fixed is true,
	// buf must lie inside the registered region.
	PrepareRead(fd int, buf []byte, fixed bool, tag uint64) error

	// PrepareWrite queues a write of buf.
	PrepareWrite(fd int, buf []byte, fixed bool, tag uint64) error

	// Submit flushes prepared operations to the executor.
	Submit() error

	// Peek returns the next completion without blocking.
	Peek() (Completion, bool, error)

	// Wait blocks until a completion is available or timeout elapses.
	Wait(timeout time.Duration) (Completion, bool, error)

	// Seen marks the completion last returned by Peek/Wait as consumed.
	Seen(c Completion)

	// Name reports the backend name, e.g. "io_uring".
	Name() string

	// Close releases the backend. In-flight operations are abandoned.
	Close() error
}
