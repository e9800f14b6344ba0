//go:build unix

package reactor

import (
	"errors"
	"time"

	"github.com/momentics/hioload-ingest/api"
)

type fakeOp struct {
	kind  api.OpKind
	fd    int
	buf   []byte
	fixed bool
	tag   uint64
}

// fakeQueue records submissions and replays scripted completions.
type fakeQueue struct {
	registered []byte
	prepared   []fakeOp
	pending    map[uint64]fakeOp
	done       []api.Completion
	seen       map[uint64]int
	waitErr    error
	closed     bool
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{
		pending: make(map[uint64]fakeOp),
		seen:    make(map[uint64]int),
	}
}

func (q *fakeQueue) RegisterBuffers(region []byte) error {
	q.registered = region
	return nil
}

func (q *fakeQueue) add(op fakeOp) error {
	if q.closed {
		return api.ErrClosed
	}
	q.prepared = append(q.prepared, op)
	q.pending[op.tag] = op
	return nil
}

func (q *fakeQueue) PrepareAccept(fd int, tag uint64) error {
	return q.add(fakeOp{kind: api.OpAccept, fd: fd, tag: tag})
}

func (q *fakeQueue) PrepareRead(fd int, buf []byte, fixed bool, tag uint64) error {
	return q.add(fakeOp{kind: api.OpRead, fd: fd, buf: buf, fixed: fixed, tag: tag})
}

func (q *fakeQueue) PrepareWrite(fd int, buf []byte, fixed bool, tag uint64) error {
	return q.add(fakeOp{kind: api.OpWrite, fd: fd, buf: buf, fixed: fixed, tag: tag})
}

func (q *fakeQueue) Submit() error { return nil }

func (q *fakeQueue) Peek() (api.Completion, bool, error) {
	if len(q.done) == 0 {
		return api.Completion{}, false, nil
	}
	return q.done[0], true, nil
}

func (q *fakeQueue) Wait(time.Duration) (api.Completion, bool, error) {
	if q.waitErr != nil {
		return api.Completion{}, false, q.waitErr
	}
	return q.Peek()
}

func (q *fakeQueue) Seen(c api.Completion) {
	if len(q.done) == 0 || q.done[0] != c {
		return
	}
	q.done = q.done[1:]
	q.seen[c.Tag]++
}

func (q *fakeQueue) Name() string { return "fake" }

func (q *fakeQueue) Close() error {
	q.closed = true
	return nil
}

// complete resolves the pending operation of the given kind (and fd, when
// fd >= 0) with res. It returns the operation that was completed.
func (q *fakeQueue) complete(kind api.OpKind, fd int, res int32) (fakeOp, error) {
	for tag, op := range q.pending {
		if op.kind == kind && (fd < 0 || op.fd == fd) {
			delete(q.pending, tag)
			q.done = append(q.done, api.Completion{Tag: tag, Res: res})
			return op, nil
		}
	}
	return fakeOp{}, errors.New("no pending operation")
}

func (q *fakeQueue) countPending(kind api.OpKind, fd int) int {
	n := 0
	for _, op := range q.pending {
		if op.kind == kind && (fd < 0 || op.fd == fd) {
			n++
		}
	}
	return n
}
