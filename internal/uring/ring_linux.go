//go:build linux
// +build linux

// File: internal/uring/ring_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Minimal io_uring driver over raw syscalls. A Ring has exactly one owner
// goroutine: preparation, submission and completion reaping are not
// synchronised.

package uring

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// TimeoutTag is the user data reserved for internal wait timeouts.
// Completions carrying it are consumed by the ring and never surfaced.
const TimeoutTag = ^uint64(0)

// ErrSQFull is returned when no submission entry is free even after a flush.
var ErrSQFull = errors.New("uring: submission queue full")

// Options configures New.
type Options struct {
	// Entries is the requested submission queue depth (rounded up by the kernel).
	Entries uint32
	// SQPoll asks for a kernel submission thread. Falls back to plain
	// submission when the kernel or privileges refuse it.
	SQPoll bool
	// SQThreadIdle is the idle period before the submission thread sleeps.
	SQThreadIdle time.Duration
	Logger       logrus.FieldLogger
}

// Ring is one io_uring instance with its mapped queues.
type Ring struct {
	fd  int
	log logrus.FieldLogger

	sqRing  []byte
	cqRing  []byte
	sqesMap []byte

	sqHead    *uint32
	sqTail    *uint32
	sqFlags   *uint32
	sqMask    uint32
	sqEntries uint32
	sqArray   []uint32
	sqes      []sqe

	cqHead *uint32
	cqTail *uint32
	cqMask uint32
	cqes   []CQE

	sqPoll      bool
	unsubmitted uint32

	registered bool
	peeked     bool

	timeoutArmed bool
	ts           kernelTimespec
}

// New sets up a ring and maps its queues.
func New(opts Options) (*Ring, error) {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	if opts.Entries == 0 {
		return nil, fmt.Errorf("uring setup: zero entries: %w", unix.EINVAL)
	}

	type attempt struct {
		flags uint32
		idle  uint32
	}
	attempts := []attempt{{flags: setupClamp}}
	if opts.SQPoll {
		idle := uint32(opts.SQThreadIdle / time.Millisecond)
		if idle == 0 {
			idle = 2
		}
		attempts = append([]attempt{{flags: setupClamp | setupSQPoll, idle: idle}}, attempts...)
	}

	var (
		p     params
		fd    uintptr
		errno unix.Errno
	)
	for i, a := range attempts {
		p = params{flags: a.flags, sqThreadIdle: a.idle}
		fd, _, errno = unix.Syscall(unix.SYS_IO_URING_SETUP, uintptr(opts.Entries), uintptr(unsafe.Pointer(&p)), 0)
		if errno == 0 {
			break
		}
		if i < len(attempts)-1 && (errno == unix.EPERM || errno == unix.EINVAL) {
			log.WithFields(logrus.Fields{
				"flags": a.flags,
				"errno": errno.Error(),
			}).Warn("io_uring setup refused flags, retrying without sqpoll")
			continue
		}
		return nil, fmt.Errorf("io_uring_setup: %w", errno)
	}

	r := &Ring{
		fd:     int(fd),
		log:    log,
		sqPoll: p.flags&setupSQPoll != 0,
	}
	if err := r.mapRings(&p); err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("io_uring mmap: %w", err)
	}
	log.WithFields(logrus.Fields{
		"sq_entries": p.sqEntries,
		"cq_entries": p.cqEntries,
		"sqpoll":     r.sqPoll,
	}).Debug("io_uring ready")
	return r, nil
}

func alignUp(v, alignment int) int {
	if mod := v % alignment; mod != 0 {
		return v + alignment - mod
	}
	return v
}

func (r *Ring) mapRings(p *params) error {
	page := unix.Getpagesize()
	sqRingSize := alignUp(int(p.sqOff.array+p.sqEntries*4), page)
	cqRingSize := alignUp(int(p.cqOff.cqes+p.cqEntries*uint32(unsafe.Sizeof(CQE{}))), page)
	sqesSize := alignUp(int(p.sqEntries)*int(unsafe.Sizeof(sqe{})), page)

	var err error
	if r.sqRing, err = unix.Mmap(r.fd, offSQRing, sqRingSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE); err != nil {
		return fmt.Errorf("sq ring: %w", err)
	}
	if r.cqRing, err = unix.Mmap(r.fd, offCQRing, cqRingSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE); err != nil {
		return fmt.Errorf("cq ring: %w", err)
	}
	if r.sqesMap, err = unix.Mmap(r.fd, offSQEs, sqesSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE); err != nil {
		return fmt.Errorf("sqes: %w", err)
	}

	r.sqHead = (*uint32)(unsafe.Pointer(&r.sqRing[p.sqOff.head]))
	r.sqTail = (*uint32)(unsafe.Pointer(&r.sqRing[p.sqOff.tail]))
	r.sqFlags = (*uint32)(unsafe.Pointer(&r.sqRing[p.sqOff.flags]))
	r.sqMask = *(*uint32)(unsafe.Pointer(&r.sqRing[p.sqOff.ringMask]))
	r.sqEntries = *(*uint32)(unsafe.Pointer(&r.sqRing[p.sqOff.ringEntries]))
	r.sqArray = unsafe.Slice((*uint32)(unsafe.Pointer(&r.sqRing[p.sqOff.array])), p.sqEntries)
	r.sqes = unsafe.Slice((*sqe)(unsafe.Pointer(&r.sqesMap[0])), p.sqEntries)

	r.cqHead = (*uint32)(unsafe.Pointer(&r.cqRing[p.cqOff.head]))
	r.cqTail = (*uint32)(unsafe.Pointer(&r.cqRing[p.cqOff.tail]))
	r.cqMask = *(*uint32)(unsafe.Pointer(&r.cqRing[p.cqOff.ringMask]))
	r.cqes = unsafe.Slice((*CQE)(unsafe.Pointer(&r.cqRing[p.cqOff.cqes])), p.cqEntries)
	return nil
}

// SQPoll reports whether the kernel submission thread is active.
func (r *Ring) SQPoll() bool { return r.sqPoll }

// Entries is the submission queue depth granted by the kernel.
func (r *Ring) Entries() uint32 { return r.sqEntries }

// RegisterBuffers registers region as fixed buffer index 0.
func (r *Ring) RegisterBuffers(region []byte) error {
	if len(region) == 0 {
		return fmt.Errorf("register buffers: empty region: %w", unix.EINVAL)
	}
	iov := []unix.Iovec{{Base: &region[0]}}
	iov[0].SetLen(len(region))
	if err := r.register(registerBuffers, unsafe.Pointer(&iov[0]), 1); err != nil {
		return fmt.Errorf("register buffers: %w", err)
	}
	r.registered = true
	return nil
}

// UnregisterBuffers drops the fixed buffer table. No-op when none is registered.
func (r *Ring) UnregisterBuffers() error {
	if !r.registered {
		return nil
	}
	if err := r.register(unregisterBuffers, nil, 0); err != nil {
		return fmt.Errorf("unregister buffers: %w", err)
	}
	r.registered = false
	return nil
}

func (r *Ring) register(op uintptr, arg unsafe.Pointer, n uintptr) error {
	for {
		_, _, errno := unix.Syscall6(unix.SYS_IO_URING_REGISTER, uintptr(r.fd), op, uintptr(arg), n, 0, 0)
		if errno == 0 {
			return nil
		}
		if errno == unix.EINTR {
			continue
		}
		return errno
	}
}

// getSqe returns a zeroed submission entry, flushing once when the ring is
// full. The entry becomes visible to the kernel only on commit.
func (r *Ring) getSqe() (*sqe, error) {
	for attempt := 0; ; attempt++ {
		head := atomic.LoadUint32(r.sqHead)
		tail := *r.sqTail
		if tail-head < r.sqEntries {
			e := &r.sqes[tail&r.sqMask]
			*e = sqe{}
			return e, nil
		}
		if attempt > 0 {
			return nil, ErrSQFull
		}
		r.log.WithFields(logrus.Fields{"head": head, "tail": tail}).Debug("io_uring submission queue full, flushing")
		if _, err := r.Submit(); err != nil {
			return nil, err
		}
	}
}

// commit publishes the entry handed out by the last getSqe.
func (r *Ring) commit() {
	tail := *r.sqTail
	idx := tail & r.sqMask
	r.sqArray[idx] = idx
	atomic.StoreUint32(r.sqTail, tail+1)
	r.unsubmitted++
}

// PrepAccept queues an accept on the listening socket lfd.
func (r *Ring) PrepAccept(lfd int, userData uint64) error {
	e, err := r.getSqe()
	if err != nil {
		return err
	}
	e.opcode = uint8(OpAccept)
	e.fd = int32(lfd)
	e.opFlags = unix.SOCK_CLOEXEC
	e.userData = userData
	r.commit()
	return nil
}

func (r *Ring) prepRW(op Opcode, fd int, buf []byte, userData uint64) (*sqe, error) {
	if len(buf) == 0 {
		return nil, fmt.Errorf("uring op %d: empty buffer: %w", op, unix.EINVAL)
	}
	e, err := r.getSqe()
	if err != nil {
		return nil, err
	}
	e.opcode = uint8(op)
	e.fd = int32(fd)
	e.addr = uint64(uintptr(unsafe.Pointer(&buf[0])))
	e.len = uint32(len(buf))
	e.userData = userData
	return e, nil
}

// PrepRead queues a plain read into buf.
func (r *Ring) PrepRead(fd int, buf []byte, userData uint64) error {
	if _, err := r.prepRW(OpRead, fd, buf, userData); err != nil {
		return err
	}
	r.commit()
	return nil
}

// PrepReadFixed queues a read into buf, which must lie inside the
// registered buffer bufIndex.
func (r *Ring) PrepReadFixed(fd int, buf []byte, bufIndex uint16, userData uint64) error {
	if !r.registered {
		return fmt.Errorf("read fixed: no registered buffers: %w", unix.EINVAL)
	}
	e, err := r.prepRW(OpReadFixed, fd, buf, userData)
	if err != nil {
		return err
	}
	e.bufIndex = bufIndex
	r.commit()
	return nil
}

// PrepWrite queues a plain write of buf.
func (r *Ring) PrepWrite(fd int, buf []byte, userData uint64) error {
	if _, err := r.prepRW(OpWrite, fd, buf, userData); err != nil {
		return err
	}
	r.commit()
	return nil
}

// PrepWriteFixed queues a write of buf from registered buffer bufIndex.
func (r *Ring) PrepWriteFixed(fd int, buf []byte, bufIndex uint16, userData uint64) error {
	if !r.registered {
		return fmt.Errorf("write fixed: no registered buffers: %w", unix.EINVAL)
	}
	e, err := r.prepRW(OpWriteFixed, fd, buf, userData)
	if err != nil {
		return err
	}
	e.bufIndex = bufIndex
	r.commit()
	return nil
}

// prepTimeout arms the internal wait timeout. Only one is outstanding.
func (r *Ring) prepTimeout(d time.Duration) error {
	r.ts = kernelTimespec{sec: int64(d / time.Second), nsec: int64(d % time.Second)}
	e, err := r.getSqe()
	if err != nil {
		return err
	}
	e.opcode = uint8(OpTimeout)
	e.fd = -1
	e.addr = uint64(uintptr(unsafe.Pointer(&r.ts)))
	e.len = 1
	e.userData = TimeoutTag
	r.commit()
	r.timeoutArmed = true
	return nil
}

func (r *Ring) enter(submit, minComplete uint32, flags uintptr) (int, error) {
	for {
		n, _, errno := unix.Syscall6(unix.SYS_IO_URING_ENTER, uintptr(r.fd), uintptr(submit), uintptr(minComplete), flags, 0, 0)
		switch errno {
		case 0:
			return int(n), nil
		case unix.EINTR:
			if minComplete > 0 {
				return 0, nil
			}
			continue
		case unix.EAGAIN, unix.EBUSY:
			// kernel is short on resources or the CQ is backed up; the
			// entries stay queued and go out with the next enter
			return 0, nil
		default:
			return 0, errno
		}
	}
}

// Submit hands every prepared entry to the kernel and returns how many
// were consumed.
func (r *Ring) Submit() (int, error) {
	if r.unsubmitted == 0 {
		return 0, nil
	}
	if r.sqPoll {
		n := int(r.unsubmitted)
		r.unsubmitted = 0
		if atomic.LoadUint32(r.sqFlags)&sqNeedWakeup != 0 {
			if _, err := r.enter(0, 0, enterSQWakeup); err != nil {
				return 0, fmt.Errorf("io_uring_enter wakeup: %w", err)
			}
		}
		return n, nil
	}
	n, err := r.enter(r.unsubmitted, 0, 0)
	if err != nil {
		return 0, fmt.Errorf("io_uring_enter submit: %w", err)
	}
	r.unsubmitted -= uint32(n)
	return n, nil
}

// Peek returns the oldest completion without consuming it.
func (r *Ring) Peek() (CQE, bool) {
	for {
		head := *r.cqHead
		if head == atomic.LoadUint32(r.cqTail) {
			return CQE{}, false
		}
		c := r.cqes[head&r.cqMask]
		if c.UserData == TimeoutTag {
			r.timeoutArmed = false
			atomic.StoreUint32(r.cqHead, head+1)
			continue
		}
		r.peeked = true
		return c, true
	}
}

// Seen consumes the completion returned by the last Peek or Wait.
// Calling it twice for the same completion is a no-op.
func (r *Ring) Seen() {
	if !r.peeked {
		return
	}
	r.peeked = false
	atomic.StoreUint32(r.cqHead, *r.cqHead+1)
}

// Wait flushes pending submissions and blocks for one completion. A
// positive timeout bounds the wait; false is returned when it expires or a
// signal interrupts the wait.
func (r *Ring) Wait(timeout time.Duration) (CQE, bool, error) {
	if c, ok := r.Peek(); ok {
		return c, true, nil
	}
	if timeout > 0 && !r.timeoutArmed {
		if err := r.prepTimeout(timeout); err != nil {
			return CQE{}, false, err
		}
	}

	flags := uintptr(enterGetEvents)
	submit := r.unsubmitted
	if r.sqPoll {
		submit = 0
		r.unsubmitted = 0
		if atomic.LoadUint32(r.sqFlags)&sqNeedWakeup != 0 {
			flags |= enterSQWakeup
		}
	}
	n, err := r.enter(submit, 1, flags)
	if err != nil && !errors.Is(err, unix.ETIME) {
		return CQE{}, false, fmt.Errorf("io_uring_enter wait: %w", err)
	}
	if !r.sqPoll {
		r.unsubmitted -= uint32(n)
	}
	c, ok := r.Peek()
	return c, ok, nil
}

// Close unmaps the queues and closes the ring descriptor. The kernel
// cancels every operation still in flight.
func (r *Ring) Close() error {
	if r.sqesMap != nil {
		_ = unix.Munmap(r.sqesMap)
		r.sqesMap = nil
	}
	if r.cqRing != nil {
		_ = unix.Munmap(r.cqRing)
		r.cqRing = nil
	}
	if r.sqRing != nil {
		_ = unix.Munmap(r.sqRing)
		r.sqRing = nil
	}
	if r.fd < 0 {
		return nil
	}
	err := unix.Close(r.fd)
	r.fd = -1
	r.registered = false
	return err
}
