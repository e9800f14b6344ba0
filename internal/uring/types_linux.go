//go:build linux
// +build linux

// File: internal/uring/types_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Kernel ABI for io_uring: setup/enter/register flags, opcodes and the
// shared-memory record layouts. Values follow include/uapi/linux/io_uring.h.

package uring

const (
	setupIOPoll = 1 << 0
	setupSQPoll = 1 << 1
	setupSQAff  = 1 << 2
	setupCQSize = 1 << 3
	setupClamp  = 1 << 4

	enterGetEvents = 1 << 0
	enterSQWakeup  = 1 << 1
	enterSQWait    = 1 << 2

	sqNeedWakeup = 1 << 0

	registerBuffers   = 0
	unregisterBuffers = 1

	offSQRing = 0
	offCQRing = 0x8000000
	offSQEs   = 0x10000000
)

// Opcode is an io_uring operation code.
type Opcode uint8

const (
	OpNop        Opcode = 0
	OpReadv      Opcode = 1
	OpWritev     Opcode = 2
	OpReadFixed  Opcode = 4
	OpWriteFixed Opcode = 5
	OpTimeout    Opcode = 11
	OpAccept     Opcode = 13
	OpCancel     Opcode = 14
	OpClose      Opcode = 19
	OpRead       Opcode = 22
	OpWrite      Opcode = 23
	OpSend       Opcode = 26
	OpRecv       Opcode = 27
)

// sqe is struct io_uring_sqe (64 bytes).
type sqe struct {
	opcode      uint8
	flags       uint8
	ioprio      uint16
	fd          int32
	off         uint64
	addr        uint64
	len         uint32
	opFlags     uint32
	userData    uint64
	bufIndex    uint16
	personality uint16
	spliceFdIn  int32
	addr3       uint64
	_pad        uint64
}

// CQE is struct io_uring_cqe (16 bytes).
type CQE struct {
	UserData uint64
	Res      int32
	Flags    uint32
}

type sqRingOffsets struct {
	head        uint32
	tail        uint32
	ringMask    uint32
	ringEntries uint32
	flags       uint32
	dropped     uint32
	array       uint32
	resv1       uint32
	userAddr    uint64
}

type cqRingOffsets struct {
	head        uint32
	tail        uint32
	ringMask    uint32
	ringEntries uint32
	overflow    uint32
	cqes        uint32
	flags       uint32
	resv1       uint32
	userAddr    uint64
}

// params is struct io_uring_params (120 bytes).
type params struct {
	sqEntries    uint32
	cqEntries    uint32
	flags        uint32
	sqThreadCPU  uint32
	sqThreadIdle uint32
	features     uint32
	wqFd         uint32
	resv         [3]uint32
	sqOff        sqRingOffsets
	cqOff        cqRingOffsets
}

// kernelTimespec is struct __kernel_timespec, 64-bit on every arch.
type kernelTimespec struct {
	sec  int64
	nsec int64
}
