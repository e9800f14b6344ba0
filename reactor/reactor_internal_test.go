//go:build unix

package reactor

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"
	"unsafe"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-ingest/api"
	"github.com/momentics/hioload-ingest/packet"
)

type testClock struct{ t time.Time }

func (c *testClock) now() time.Time { return c.t }

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type harness struct {
	r     *Reactor
	q     *fakeQueue
	clock *testClock
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	cfg.MaxConnections = 2
	cfg.DrainTimeout = 10 * time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}
	h := &harness{q: newFakeQueue(), clock: &testClock{t: time.Unix(1_700_000_000, 0)}}
	r, err := New(cfg, WithQueue(h.q), WithLogger(quietLogger()), WithClock(h.clock.now))
	require.NoError(t, err)
	require.NoError(t, r.Setup())
	t.Cleanup(func() { _ = r.Close() })
	require.NoError(t, r.armAccept())
	h.r = r
	return h
}

// connect fabricates an accept completion for a fresh socketpair and
// returns the server-side descriptor and the client end.
func (h *harness) connect(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = unix.Close(fds[1]) })
	_, err = h.q.complete(api.OpAccept, -1, int32(fds[0]))
	require.NoError(t, err)
	require.NoError(t, h.r.step())
	return fds[0], fds[1]
}

func (h *harness) read(t *testing.T, fd int, payload []byte) fakeOp {
	t.Helper()
	var op fakeOp
	for _, p := range h.q.pending {
		if p.kind == api.OpRead && p.fd == fd {
			op = p
		}
	}
	require.NotNil(t, op.buf, "no read pending for fd %d", fd)
	n := copy(op.buf, payload)
	_, err := h.q.complete(api.OpRead, fd, int32(n))
	require.NoError(t, err)
	require.NoError(t, h.r.step())
	return op
}

func fdClosed(fd int) bool {
	_, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	return errors.Is(err, unix.EBADF)
}

func alternatingBatch() []byte {
	var b packet.Batch
	for i := range b {
		b[i].Sequence = uint64(i)
		if i%2 == 0 {
			b[i].Header = packet.AdminMask
		}
	}
	return packet.AppendBatch(nil, &b)
}

func TestReactor_AcceptQueuesFixedRead(t *testing.T) {
	h := newHarness(t, nil)
	fd, _ := h.connect(t)

	st := h.r.Stats()
	assert.Equal(t, uint64(1), st.Accepted)
	assert.Equal(t, 1, st.LiveConns)
	assert.Equal(t, 1, st.FreeSlots)
	assert.Equal(t, 1, h.q.countPending(api.OpAccept, -1), "accept re-armed")
	require.Equal(t, 1, h.q.countPending(api.OpRead, fd))

	for _, op := range h.q.pending {
		if op.kind != api.OpRead {
			continue
		}
		assert.True(t, op.fixed)
		assert.Len(t, op.buf, DefaultSlotSize)
		base := uintptr(unsafe.Pointer(&h.q.registered[0]))
		addr := uintptr(unsafe.Pointer(&op.buf[0]))
		assert.GreaterOrEqual(t, addr, base)
		assert.Less(t, addr, base+uintptr(len(h.q.registered)))
	}
}

func TestReactor_HeapStrategyUsesPlainReads(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Buffers = BuffersHeap })
	fd, _ := h.connect(t)
	assert.Nil(t, h.q.registered)
	for _, op := range h.q.pending {
		if op.kind == api.OpRead && op.fd == fd {
			assert.False(t, op.fixed)
		}
	}
}

func TestReactor_RejectsBeyondCapacity(t *testing.T) {
	h := newHarness(t, nil)
	h.connect(t)
	h.connect(t)
	third, _ := h.connect(t)

	assert.True(t, fdClosed(third), "over-capacity descriptor must be closed")
	assert.Zero(t, h.q.countPending(api.OpRead, third), "no read for a rejected descriptor")
	assert.Equal(t, 1, h.q.countPending(api.OpAccept, -1))

	st := h.r.Stats()
	assert.Equal(t, uint64(2), st.Accepted)
	assert.Equal(t, uint64(1), st.Rejected)
	assert.Equal(t, 0, st.FreeSlots)
}

func TestReactor_FirstBitGatesDropAndReadContinues(t *testing.T) {
	h := newHarness(t, nil)
	fd, _ := h.connect(t)

	first := h.read(t, fd, alternatingBatch())
	st := h.r.Stats()
	assert.Equal(t, uint64(1), st.Drops)
	assert.Equal(t, uint64(8), st.Packets)
	assert.Equal(t, uint64(4), st.AdminPackets)
	assert.Equal(t, 1, h.q.countPending(api.OpRead, fd), "read resubmitted")
	assert.Equal(t, 1, h.q.seen[first.tag])

	// same slot memory is reused for the next read on this connection
	var next fakeOp
	for _, op := range h.q.pending {
		if op.kind == api.OpRead {
			next = op
		}
	}
	assert.Equal(t, unsafe.Pointer(&first.buf[0]), unsafe.Pointer(&next.buf[0]))

	var quiet packet.Batch
	h.read(t, fd, packet.AppendBatch(nil, &quiet))
	st = h.r.Stats()
	assert.Equal(t, uint64(1), st.Drops)
	assert.Equal(t, uint64(2), st.Reads)
	assert.False(t, fdClosed(fd))
}

func TestReactor_DisconnectReleasesExactlyOneSlot(t *testing.T) {
	h := newHarness(t, nil)
	fd, _ := h.connect(t)
	require.Equal(t, 1, h.r.Stats().FreeSlots)

	h.read(t, fd, nil)

	st := h.r.Stats()
	assert.Equal(t, 2, st.FreeSlots)
	assert.Equal(t, 0, st.LiveConns)
	assert.Equal(t, uint64(1), st.Closed)
	assert.True(t, fdClosed(fd))
	assert.Zero(t, h.q.countPending(api.OpRead, fd))
}

func TestReactor_ReadErrorClosesConnection(t *testing.T) {
	h := newHarness(t, nil)
	fd, _ := h.connect(t)

	_, err := h.q.complete(api.OpRead, fd, -int32(unix.ECONNRESET))
	require.NoError(t, err)
	require.NoError(t, h.r.step())

	st := h.r.Stats()
	assert.Equal(t, uint64(1), st.Errors)
	assert.Equal(t, 2, st.FreeSlots)
	assert.True(t, fdClosed(fd))
}

func TestReactor_AcceptFailureRearms(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.q.complete(api.OpAccept, -1, -int32(unix.EAGAIN))
	require.NoError(t, err)
	require.NoError(t, h.r.step())
	assert.Zero(t, h.r.Stats().Errors, "EAGAIN is not an error")
	assert.Equal(t, 1, h.q.countPending(api.OpAccept, -1))

	_, err = h.q.complete(api.OpAccept, -1, -int32(unix.EMFILE))
	require.NoError(t, err)
	require.NoError(t, h.r.step())
	assert.Equal(t, uint64(1), h.r.Stats().Errors)
	assert.Equal(t, 1, h.q.countPending(api.OpAccept, -1))
}

func TestReactor_UnknownTagIsSeenOnce(t *testing.T) {
	h := newHarness(t, nil)
	h.q.done = append(h.q.done, api.Completion{Tag: 0xdead_0000_0042, Res: 5})
	require.NoError(t, h.r.step())

	assert.Equal(t, 1, h.q.seen[0xdead_0000_0042])
	assert.Equal(t, uint64(1), h.r.Stats().Errors)
	assert.Empty(t, h.q.done)
}

func TestReactor_VerdictAck(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.VerdictAck = true })
	fd, _ := h.connect(t)

	h.read(t, fd, alternatingBatch())
	require.Equal(t, 1, h.q.countPending(api.OpWrite, fd))
	var ack fakeOp
	for _, op := range h.q.pending {
		if op.kind == api.OpWrite {
			ack = op
		}
	}
	require.Len(t, ack.buf, 1)
	assert.Equal(t, byte(0b0101_0101), ack.buf[0])

	h.read(t, fd, alternatingBatch())
	assert.Equal(t, 1, h.q.countPending(api.OpWrite, fd), "one ack in flight per connection")

	_, err := h.q.complete(api.OpWrite, fd, 1)
	require.NoError(t, err)
	require.NoError(t, h.r.step())
	assert.Equal(t, uint64(1), h.r.Stats().Acks)

	h.read(t, fd, alternatingBatch())
	assert.Equal(t, 1, h.q.countPending(api.OpWrite, fd))
}

func TestReactor_IdleReaper(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.IdleTimeout = 5 * time.Second
		c.ReapInterval = time.Second
	})
	h.r.lastReap = h.clock.t
	idle, idlePeer := h.connect(t)
	busy, _ := h.connect(t)

	h.clock.t = h.clock.t.Add(4 * time.Second)
	h.read(t, busy, []byte("ping"))

	h.clock.t = h.clock.t.Add(2 * time.Second)
	require.NoError(t, h.r.step())

	// the idle socket was shut down; its peer sees EOF
	buf := make([]byte, 1)
	n, err := unix.Read(idlePeer, buf)
	require.NoError(t, err)
	assert.Zero(t, n)

	h.read(t, idle, nil)
	st := h.r.Stats()
	assert.Equal(t, uint64(1), st.Reaped)
	assert.Equal(t, 1, st.LiveConns)
	assert.False(t, fdClosed(busy))
}

func TestReactor_ReaperDisabledByDefault(t *testing.T) {
	h := newHarness(t, nil)
	h.connect(t)
	h.clock.t = h.clock.t.Add(24 * time.Hour)
	require.NoError(t, h.r.step())
	assert.Zero(t, h.r.reap(h.clock.t))
	assert.Equal(t, 1, h.r.Stats().LiveConns)
}

func TestReactor_RunReturnsQueueFailure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	cfg.DrainTimeout = 10 * time.Millisecond
	q := newFakeQueue()
	r, err := New(cfg, WithQueue(q), WithLogger(quietLogger()))
	require.NoError(t, err)
	require.NoError(t, r.Setup())
	defer r.Close()

	q.waitErr = errors.New("ring broken")
	err = r.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, api.ErrCodeQueue, api.CodeOf(err))
}

func TestReactor_RunStopsOnCancel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	cfg.DrainTimeout = 10 * time.Millisecond
	r, err := New(cfg, WithQueue(newFakeQueue()), WithLogger(quietLogger()))
	require.NoError(t, err)
	require.NoError(t, r.Setup())
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, r.Run(ctx))
}

func TestReactor_CloseShutsConnectionsDown(t *testing.T) {
	h := newHarness(t, nil)
	fd, peer := h.connect(t)

	require.NoError(t, h.r.Close())
	assert.True(t, fdClosed(fd))
	assert.False(t, h.q.closed, "injected queue stays open")

	buf := make([]byte, 1)
	n, _ := unix.Read(peer, buf)
	assert.Zero(t, n)
	assert.NoError(t, h.r.Close())
}

func TestNew_RejectsBadConfig(t *testing.T) {
	for name, mutate := range map[string]func(*Config){
		"buffers": func(c *Config) { c.Buffers = "numa" },
		"mode":    func(c *Config) { c.Mode = "spin" },
		"port":    func(c *Config) { c.Port = 70000 },
		"slot":    func(c *Config) { c.SlotSize = 8 },
		"idle":    func(c *Config) { c.IdleTimeout = -time.Second },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			_, err := New(cfg)
			assert.ErrorIs(t, err, api.ErrInvalidArgument)
		})
	}
}
