//go:build unix
// +build unix

// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Completion-driven ingest reactor. Construction order is listener, queue,
// buffers; teardown drains in-flight operations before the queue and the
// buffer region go away.

package reactor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-ingest/affinity"
	"github.com/momentics/hioload-ingest/api"
	"github.com/momentics/hioload-ingest/internal/transport"
	"github.com/momentics/hioload-ingest/pool"
)

const (
	stateNew int32 = iota
	stateReady
	stateRunning
	stateClosed
)

// connState tracks one admitted connection; it lives at the index of its slot.
type connState struct {
	fd         int
	serial     uint32
	active     bool
	reaping    bool
	ackPending bool
	accepted   time.Time
	lastActive time.Time
	bytes      uint64
	packets    uint64
}

// Reactor owns the listener, the completion queue, the buffer slots and
// every connection. Only the goroutine running Run may touch it, except for
// Stats and Addr.
type Reactor struct {
	cfg Config
	log logrus.FieldLogger
	obs Observer
	now func() time.Time

	state   atomic.Int32
	backend atomic.Value

	listenFD  int
	addr      *net.TCPAddr
	queue     api.CompletionQueue
	ownsQueue bool
	slots     api.SlotPool
	ops       *opTable
	conns     []connState
	acks      []byte

	acceptArmed bool
	closing     bool
	lastReap    time.Time

	stats counters
}

// New builds an unstarted reactor.
func New(cfg Config, opts ...Option) (*Reactor, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &Reactor{
		cfg:      cfg,
		listenFD: -1,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logrus.StandardLogger()
	}
	if r.obs == nil {
		r.obs = nopObserver{}
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r, nil
}

// Setup creates the listening socket, the completion queue and the buffer
// slots. On failure everything created so far is released.
func (r *Reactor) Setup() (err error) {
	if !r.state.CompareAndSwap(stateNew, stateReady) {
		return fmt.Errorf("reactor setup: already set up: %w", api.ErrInvalidArgument)
	}
	defer func() {
		if err != nil {
			r.teardown()
			r.state.Store(stateClosed)
		}
	}()

	r.listenFD, r.addr, err = listenTCP(r.cfg.Host, r.cfg.Port, r.cfg.Backlog)
	if err != nil {
		return api.Wrap(api.ErrCodeSetup, "listener", err).WithContext("port", r.cfg.Port)
	}

	if r.queue == nil {
		r.queue, err = transport.Open(transport.Options{
			Kind:         r.cfg.Backend,
			Depth:        r.cfg.QueueDepth,
			SQPoll:       r.cfg.SQPoll,
			SQThreadIdle: r.cfg.SQThreadIdle,
			Logger:       r.log,
		})
		if err != nil {
			return api.Wrap(api.ErrCodeSetup, "completion queue", err)
		}
		r.ownsQueue = true
	}

	switch r.cfg.Buffers {
	case BuffersFixed:
		r.slots, err = pool.NewSlotAllocator(r.cfg.MaxConnections, r.cfg.SlotSize, r.queue)
	default:
		r.slots, err = pool.NewHeapBuffers(r.cfg.MaxConnections, r.cfg.SlotSize)
	}
	if err != nil {
		return api.Wrap(api.ErrCodeSetup, "buffer slots", err).WithContext("strategy", r.cfg.Buffers)
	}

	r.ops = newOpTable(r.cfg.opCapacity())
	r.conns = make([]connState, r.cfg.MaxConnections)
	r.acks = make([]byte, r.cfg.MaxConnections)
	r.backend.Store(r.queue.Name())
	r.publish()

	r.log.WithFields(logrus.Fields{
		"addr":     r.addr.String(),
		"backend":  r.queue.Name(),
		"buffers":  r.cfg.Buffers,
		"capacity": r.cfg.MaxConnections,
		"mode":     r.cfg.Mode,
	}).Info("reactor listening")
	return nil
}

// Addr returns the bound listener address, nil before Setup.
func (r *Reactor) Addr() net.Addr {
	if r.addr == nil {
		return nil
	}
	return r.addr
}

// Run drives the event loop until ctx is cancelled (nil) or the completion
// queue fails (wrapped error, fatal for the process).
func (r *Reactor) Run(ctx context.Context) error {
	if !r.state.CompareAndSwap(stateReady, stateRunning) {
		return fmt.Errorf("reactor run: not set up: %w", api.ErrInvalidArgument)
	}
	defer r.state.CompareAndSwap(stateRunning, stateReady)

	runtime.LockOSThread()
	if !r.pin() {
		defer runtime.UnlockOSThread()
	}

	r.lastReap = r.now()
	if err := r.armAccept(); err != nil {
		return api.Wrap(api.ErrCodeQueue, "arm accept", err)
	}
	if err := r.queue.Submit(); err != nil {
		return api.Wrap(api.ErrCodeQueue, "submit", err)
	}

	for {
		select {
		case <-ctx.Done():
			r.log.Info("reactor loop stopped")
			return nil
		default:
		}
		if err := r.step(); err != nil {
			return err
		}
	}
}

// pin binds the locked thread to the configured CPU. A pinned thread is
// never unlocked, so it exits together with Run.
func (r *Reactor) pin() bool {
	if !r.cfg.PinCPU {
		return false
	}
	if err := affinity.SetAffinity(r.cfg.CPU); err != nil {
		r.log.WithError(err).WithField("cpu", r.cfg.CPU).Warn("reactor thread not pinned")
		return false
	}
	r.log.WithField("cpu", r.cfg.CPU).Info("reactor thread pinned")
	return true
}

// step retrieves at most one completion, dispatches it, runs the reaper and
// flushes queued submissions.
func (r *Reactor) step() error {
	c, ok, err := r.next()
	if err != nil {
		return api.Wrap(api.ErrCodeQueue, "completion queue", err)
	}
	if ok {
		r.dispatch(c)
	}
	r.reap(r.now())
	if !r.acceptArmed {
		if err := r.armAccept(); err != nil {
			r.log.WithError(err).Warn("accept not re-armed")
		}
	}
	if err := r.queue.Submit(); err != nil {
		return api.Wrap(api.ErrCodeQueue, "submit", err)
	}
	r.publish()
	return nil
}

func (r *Reactor) next() (api.Completion, bool, error) {
	if r.cfg.Mode == ModePoll {
		c, ok, err := r.queue.Peek()
		if !ok && err == nil {
			runtime.Gosched()
		}
		return c, ok, err
	}
	timeout := r.cfg.WaitTimeout
	if r.cfg.IdleTimeout > 0 && r.cfg.ReapInterval < timeout {
		timeout = r.cfg.ReapInterval
	}
	return r.queue.Wait(timeout)
}

// dispatch handles c and marks it seen exactly once.
func (r *Reactor) dispatch(c api.Completion) {
	defer r.queue.Seen(c)

	req, err := r.ops.take(c.Tag)
	if err != nil {
		r.stats.errors.Add(1)
		r.log.WithError(err).WithField("res", c.Res).Warn("completion without request context")
		return
	}
	switch req.kind {
	case api.OpAccept:
		r.onAccept(c.Res)
	case api.OpRead:
		r.onRead(req, c.Res)
	case api.OpWrite:
		r.onWrite(req, c.Res)
	}
}

// prepare registers req in the op table and queues it; the entry is
// released again when queueing fails. A full submission queue is flushed
// and retried once.
func (r *Reactor) prepare(req request, queue func(tag uint64) error) error {
	tag, err := r.ops.acquire(req)
	if err != nil {
		return err
	}
	err = queue(tag)
	if errors.Is(err, api.ErrQueueFull) {
		if serr := r.queue.Submit(); serr == nil {
			err = queue(tag)
		}
	}
	if err != nil {
		_, _ = r.ops.take(tag)
		return fmt.Errorf("queue %s: %w", req.kind, err)
	}
	return nil
}

func (r *Reactor) armAccept() error {
	err := r.prepare(request{kind: api.OpAccept, fd: r.listenFD, slot: -1}, func(tag uint64) error {
		return r.queue.PrepareAccept(r.listenFD, tag)
	})
	r.acceptArmed = err == nil
	return err
}

func (r *Reactor) submitRead(slot int) error {
	cs := &r.conns[slot]
	buf := r.slots.Bytes(slot)
	return r.prepare(request{kind: api.OpRead, fd: cs.fd, slot: slot, serial: cs.serial}, func(tag uint64) error {
		return r.queue.PrepareRead(cs.fd, buf, r.slots.Fixed(), tag)
	})
}

func (r *Reactor) submitAck(slot int, verdict byte) error {
	cs := &r.conns[slot]
	r.acks[slot] = verdict
	buf := r.acks[slot : slot+1 : slot+1]
	return r.prepare(request{kind: api.OpWrite, fd: cs.fd, slot: slot, serial: cs.serial}, func(tag uint64) error {
		return r.queue.PrepareWrite(cs.fd, buf, false, tag)
	})
}

// closeConn closes the descriptor, frees the slot and forgets the connection.
func (r *Reactor) closeConn(slot int, reason CloseReason) {
	cs := &r.conns[slot]
	if !cs.active {
		return
	}
	if err := unix.Close(cs.fd); err != nil {
		r.log.WithError(err).WithField("fd", cs.fd).Debug("close")
	}
	if err := r.slots.Release(slot); err != nil {
		r.log.WithError(err).WithField("slot", slot).Error("slot release")
	}
	r.log.WithFields(logrus.Fields{
		"fd":      cs.fd,
		"slot":    slot,
		"bytes":   cs.bytes,
		"packets": cs.packets,
		"reason":  string(reason),
		"age":     r.now().Sub(cs.accepted).String(),
	}).Debug("connection closed")

	cs.active = false
	cs.reaping = false
	cs.ackPending = false
	cs.fd = -1
	r.stats.closed.Add(1)
	if reason == CloseIdle {
		r.stats.reaped.Add(1)
	}
	r.obs.OnClose(reason)
}

// publish mirrors owner-only state into the atomics read by Stats.
func (r *Reactor) publish() {
	if r.slots != nil {
		r.stats.free.Store(int64(r.slots.Free()))
		r.stats.live.Store(int64(r.slots.Owned()))
	}
	if r.ops != nil {
		r.stats.inFlight.Store(int64(r.ops.inFlight()))
	}
}

// Stats returns a snapshot of reactor counters.
func (r *Reactor) Stats() Stats {
	s := Stats{
		Buffers:      r.cfg.Buffers,
		Capacity:     r.cfg.MaxConnections,
		FreeSlots:    int(r.stats.free.Load()),
		LiveConns:    int(r.stats.live.Load()),
		InFlight:     int(r.stats.inFlight.Load()),
		Accepted:     r.stats.accepted.Load(),
		Rejected:     r.stats.rejected.Load(),
		Closed:       r.stats.closed.Load(),
		Reaped:       r.stats.reaped.Load(),
		Reads:        r.stats.reads.Load(),
		Bytes:        r.stats.bytes.Load(),
		Packets:      r.stats.packets.Load(),
		AdminPackets: r.stats.admin.Load(),
		Drops:        r.stats.drops.Load(),
		Acks:         r.stats.acks.Load(),
		Errors:       r.stats.errors.Load(),
	}
	if name, ok := r.backend.Load().(string); ok {
		s.Backend = name
	}
	return s
}

// Close shuts every connection down, drains in-flight operations for at
// most DrainTimeout, then releases queue, buffers and listener. It must not
// run concurrently with Run.
func (r *Reactor) Close() error {
	switch r.state.Swap(stateClosed) {
	case stateClosed:
		return nil
	case stateNew:
		return nil
	}
	r.closing = true

	if r.listenFD >= 0 {
		_ = unix.Shutdown(r.listenFD, unix.SHUT_RDWR)
	}
	for slot := range r.conns {
		if cs := &r.conns[slot]; cs.active {
			_ = unix.Shutdown(cs.fd, unix.SHUT_RDWR)
		}
	}

	drained := r.drain(r.cfg.DrainTimeout)
	if !drained {
		r.log.WithField("in_flight", r.ops.inFlight()).Warn("drain timed out, buffer memory retained")
	}
	r.teardown()
	r.publish()
	r.log.Info("reactor closed")
	return nil
}

func (r *Reactor) drain(limit time.Duration) bool {
	if r.ops == nil || r.queue == nil {
		return true
	}
	_ = r.queue.Submit()
	deadline := time.Now().Add(limit)
	for r.ops.inFlight() > 0 && time.Now().Before(deadline) {
		c, ok, err := r.queue.Wait(50 * time.Millisecond)
		if err != nil {
			r.log.WithError(err).Warn("drain aborted")
			return false
		}
		if ok {
			r.dispatch(c)
		}
		_ = r.queue.Submit()
	}
	return r.ops.inFlight() == 0
}

// teardown releases resources in reverse construction order. Buffer memory
// is only returned when no operation can still reference it.
func (r *Reactor) teardown() {
	for slot := range r.conns {
		if cs := &r.conns[slot]; cs.active {
			r.closeConn(slot, CloseShutdown)
		}
	}
	if r.queue != nil && r.ownsQueue {
		if err := r.queue.Close(); err != nil {
			r.log.WithError(err).Warn("completion queue close")
		}
	}
	if r.slots != nil && (r.ops == nil || r.ops.inFlight() == 0) {
		if err := r.slots.Close(); err != nil {
			r.log.WithError(err).Warn("buffer slots close")
		}
	}
	if r.listenFD >= 0 {
		_ = unix.Close(r.listenFD)
		r.listenFD = -1
	}
}
