//go:build unix
// +build unix

// File: internal/transport/emulated.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Portable completion queue. Submit starts one goroutine per prepared
// operation running the equivalent blocking syscall; results are appended to
// a mutex-guarded FIFO and the single consumer is woken through a one-slot
// channel. Each worker touches only the buffer of its own operation.

package transport

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/eapache/queue"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-ingest/api"
)

const closeGrace = time.Second

type emuOp struct {
	kind api.OpKind
	fd   int
	buf  []byte
	tag  uint64
}

type emulated struct {
	log      logrus.FieldLogger
	depth    int
	prepared *queue.Queue

	mu     sync.Mutex
	done   *queue.Queue
	peeked bool
	closed bool

	notify  chan struct{}
	running sync.WaitGroup
}

func newEmulated(depth int, log logrus.FieldLogger) *emulated {
	log.WithField("depth", depth).Info("completion queue opened")
	return &emulated{
		log:      log,
		depth:    depth,
		prepared: queue.New(),
		done:     queue.New(),
		notify:   make(chan struct{}, 1),
	}
}

// RegisterBuffers is accepted for interface parity; plain reads are used.
func (e *emulated) RegisterBuffers([]byte) error { return nil }

func (e *emulated) prepare(op emuOp) error {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return api.ErrClosed
	}
	if e.prepared.Length() >= e.depth {
		return fmt.Errorf("emulated %s: %w", op.kind, api.ErrQueueFull)
	}
	e.prepared.Add(op)
	return nil
}

func (e *emulated) PrepareAccept(listenFD int, tag uint64) error {
	return e.prepare(emuOp{kind: api.OpAccept, fd: listenFD, tag: tag})
}

func (e *emulated) PrepareRead(fd int, buf []byte, _ bool, tag uint64) error {
	if len(buf) == 0 {
		return fmt.Errorf("emulated read: empty buffer: %w", api.ErrInvalidArgument)
	}
	return e.prepare(emuOp{kind: api.OpRead, fd: fd, buf: buf, tag: tag})
}

func (e *emulated) PrepareWrite(fd int, buf []byte, _ bool, tag uint64) error {
	if len(buf) == 0 {
		return fmt.Errorf("emulated write: empty buffer: %w", api.ErrInvalidArgument)
	}
	return e.prepare(emuOp{kind: api.OpWrite, fd: fd, buf: buf, tag: tag})
}

func (e *emulated) Submit() error {
	for e.prepared.Length() > 0 {
		op := e.prepared.Remove().(emuOp)
		e.running.Add(1)
		go e.execute(op)
	}
	return nil
}

func (e *emulated) execute(op emuOp) {
	defer e.running.Done()
	res := perform(op)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.done.Add(api.Completion{Tag: op.tag, Res: res})
	e.mu.Unlock()

	select {
	case e.notify <- struct{}{}:
	default:
	}
}

func perform(op emuOp) int32 {
	for {
		var (
			n   int
			err error
		)
		switch op.kind {
		case api.OpAccept:
			n, _, err = unix.Accept(op.fd)
			if err == nil {
				unix.CloseOnExec(n)
			}
		case api.OpRead:
			n, err = unix.Read(op.fd, op.buf)
		case api.OpWrite:
			n, err = unix.Write(op.fd, op.buf)
		default:
			return -int32(unix.EINVAL)
		}
		if err == nil {
			return int32(n)
		}
		if errors.Is(err, unix.EINTR) {
			continue
		}
		var errno unix.Errno
		if errors.As(err, &errno) {
			return -int32(errno)
		}
		return -int32(unix.EIO)
	}
}

func (e *emulated) Peek() (api.Completion, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return api.Completion{}, false, api.ErrClosed
	}
	if e.done.Length() == 0 {
		return api.Completion{}, false, nil
	}
	e.peeked = true
	return e.done.Peek().(api.Completion), true, nil
}

func (e *emulated) Wait(timeout time.Duration) (api.Completion, bool, error) {
	if err := e.Submit(); err != nil {
		return api.Completion{}, false, err
	}
	if c, ok, err := e.Peek(); ok || err != nil {
		return c, ok, err
	}

	var expire <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expire = t.C
	}
	for {
		select {
		case <-e.notify:
			if c, ok, err := e.Peek(); ok || err != nil {
				return c, ok, err
			}
		case <-expire:
			return api.Completion{}, false, nil
		}
	}
}

func (e *emulated) Seen(api.Completion) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.peeked || e.done.Length() == 0 {
		return
	}
	e.done.Remove()
	e.peeked = false
}

func (e *emulated) Name() string { return KindEmulated }

// Close stops accepting work and waits briefly for running workers. Workers
// still blocked in a syscall are abandoned; their results are discarded.
func (e *emulated) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	for e.prepared.Length() > 0 {
		e.prepared.Remove()
	}

	finished := make(chan struct{})
	go func() {
		e.running.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(closeGrace):
		e.log.Warn("emulated queue closed with blocked workers")
	}
	return nil
}
