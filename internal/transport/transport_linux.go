// internal/transport/transport_linux.go
//go:build linux
// +build linux

//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// io_uring backend: a thin adapter from api.CompletionQueue onto uring.Ring.

package transport

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/momentics/hioload-ingest/api"
	"github.com/momentics/hioload-ingest/internal/uring"
)

var (
	probeOnce sync.Once
	probeOK   bool
)

func init() {
	HasIoUringSupport = func() bool {
		probeOnce.Do(func() {
			r, err := uring.New(uring.Options{Entries: 4, Logger: discardLogger()})
			if err != nil {
				return
			}
			_ = r.Close()
			probeOK = true
		})
		return probeOK
	}
}

type uringQueue struct {
	ring *uring.Ring
	log  logrus.FieldLogger
}

func openUring(opts Options, log logrus.FieldLogger) (api.CompletionQueue, error) {
	r, err := uring.New(uring.Options{
		Entries:      opts.Depth,
		SQPoll:       opts.SQPoll,
		SQThreadIdle: opts.SQThreadIdle,
		Logger:       log,
	})
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"entries": r.Entries(),
		"sqpoll":  r.SQPoll(),
	}).Info("completion queue opened")
	return &uringQueue{ring: r, log: log}, nil
}

func (q *uringQueue) RegisterBuffers(region []byte) error {
	return q.ring.RegisterBuffers(region)
}

func (q *uringQueue) PrepareAccept(listenFD int, tag uint64) error {
	return classify(q.ring.PrepAccept(listenFD, tag))
}

func (q *uringQueue) PrepareRead(fd int, buf []byte, fixed bool, tag uint64) error {
	if fixed {
		return classify(q.ring.PrepReadFixed(fd, buf, 0, tag))
	}
	return classify(q.ring.PrepRead(fd, buf, tag))
}

func (q *uringQueue) PrepareWrite(fd int, buf []byte, fixed bool, tag uint64) error {
	if fixed {
		return classify(q.ring.PrepWriteFixed(fd, buf, 0, tag))
	}
	return classify(q.ring.PrepWrite(fd, buf, tag))
}

func (q *uringQueue) Submit() error {
	_, err := q.ring.Submit()
	return err
}

func (q *uringQueue) Peek() (api.Completion, bool, error) {
	c, ok := q.ring.Peek()
	return api.Completion{Tag: c.UserData, Res: c.Res}, ok, nil
}

func (q *uringQueue) Wait(timeout time.Duration) (api.Completion, bool, error) {
	c, ok, err := q.ring.Wait(timeout)
	if err != nil {
		return api.Completion{}, false, err
	}
	return api.Completion{Tag: c.UserData, Res: c.Res}, ok, nil
}

func (q *uringQueue) Seen(api.Completion) { q.ring.Seen() }

func (q *uringQueue) Name() string { return KindIoUring }

func (q *uringQueue) Close() error {
	uerr := q.ring.UnregisterBuffers()
	cerr := q.ring.Close()
	if uerr != nil {
		return uerr
	}
	return cerr
}

func classify(err error) error {
	if errors.Is(err, uring.ErrSQFull) {
		return fmt.Errorf("%w: %v", api.ErrQueueFull, err)
	}
	return err
}
