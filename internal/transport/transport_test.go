package transport_test

import (
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-ingest/api"
	"github.com/momentics/hioload-ingest/internal/transport"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func backends(t *testing.T) []string {
	kinds := []string{transport.KindEmulated}
	if transport.HasIoUringSupport() {
		kinds = append(kinds, transport.KindIoUring)
	} else {
		t.Log("io_uring unavailable, exercising the emulated backend only")
	}
	return kinds
}

func open(t *testing.T, kind string, depth uint32) api.CompletionQueue {
	t.Helper()
	q, err := transport.Open(transport.Options{Kind: kind, Depth: depth, Logger: quietLogger()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func socketPair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func waitOne(t *testing.T, q api.CompletionQueue) api.Completion {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		c, ok, err := q.Wait(100 * time.Millisecond)
		require.NoError(t, err)
		if ok {
			q.Seen(c)
			return c
		}
	}
	t.Fatal("no completion before deadline")
	return api.Completion{}
}

func TestOpen_RejectsBadOptions(t *testing.T) {
	_, err := transport.Open(transport.Options{Kind: transport.KindEmulated})
	assert.ErrorIs(t, err, api.ErrInvalidArgument)

	_, err = transport.Open(transport.Options{Kind: "dpdk", Depth: 8})
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
}

func TestOpen_AutoPicksRuntimeBackend(t *testing.T) {
	q := open(t, transport.KindAuto, 8)
	assert.Equal(t, transport.RuntimeTransportSelector(), q.Name())
}

func TestQueue_WriteThenRead(t *testing.T) {
	for _, kind := range backends(t) {
		t.Run(kind, func(t *testing.T) {
			q := open(t, kind, 8)
			a, b := socketPair(t)

			msg := []byte("Testing Phase 2")
			require.NoError(t, q.PrepareWrite(a, msg, false, 11))
			require.NoError(t, q.Submit())
			c := waitOne(t, q)
			assert.Equal(t, uint64(11), c.Tag)
			assert.Equal(t, int32(len(msg)), c.Res)

			buf := make([]byte, 64)
			require.NoError(t, q.PrepareRead(b, buf, false, 12))
			require.NoError(t, q.Submit())
			c = waitOne(t, q)
			assert.Equal(t, uint64(12), c.Tag)
			require.Equal(t, int32(len(msg)), c.Res)
			assert.Equal(t, msg, buf[:c.Res])
		})
	}
}

func TestQueue_ReadSeesPeerShutdown(t *testing.T) {
	for _, kind := range backends(t) {
		t.Run(kind, func(t *testing.T) {
			q := open(t, kind, 8)
			a, b := socketPair(t)

			buf := make([]byte, 16)
			require.NoError(t, q.PrepareRead(b, buf, false, 5))
			require.NoError(t, q.Submit())
			require.NoError(t, unix.Shutdown(a, unix.SHUT_WR))

			c := waitOne(t, q)
			assert.Equal(t, uint64(5), c.Tag)
			assert.Equal(t, int32(0), c.Res)
		})
	}
}

func TestQueue_Accept(t *testing.T) {
	for _, kind := range backends(t) {
		t.Run(kind, func(t *testing.T) {
			q := open(t, kind, 8)

			lfd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
			require.NoError(t, err)
			defer unix.Close(lfd)
			require.NoError(t, unix.Bind(lfd, &unix.SockaddrInet4{Addr: [4]byte{127, 0, 0, 1}}))
			require.NoError(t, unix.Listen(lfd, 16))
			sa, err := unix.Getsockname(lfd)
			require.NoError(t, err)
			port := sa.(*unix.SockaddrInet4).Port

			require.NoError(t, q.PrepareAccept(lfd, 1))
			require.NoError(t, q.Submit())

			conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
			require.NoError(t, err)
			defer conn.Close()

			c := waitOne(t, q)
			assert.Equal(t, uint64(1), c.Tag)
			require.GreaterOrEqual(t, c.Res, int32(0))
			_ = unix.Close(int(c.Res))
		})
	}
}

func TestQueue_WaitTimesOut(t *testing.T) {
	for _, kind := range backends(t) {
		t.Run(kind, func(t *testing.T) {
			q := open(t, kind, 8)
			_, b := socketPair(t)

			require.NoError(t, q.PrepareRead(b, make([]byte, 8), false, 9))
			_, ok, err := q.Wait(20 * time.Millisecond)
			require.NoError(t, err)
			assert.False(t, ok)

			_, ok, err = q.Peek()
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestQueue_SeenConsumesOnce(t *testing.T) {
	for _, kind := range backends(t) {
		t.Run(kind, func(t *testing.T) {
			q := open(t, kind, 8)
			a, _ := socketPair(t)

			require.NoError(t, q.PrepareWrite(a, []byte("x"), false, 1))
			require.NoError(t, q.PrepareWrite(a, []byte("y"), false, 2))
			require.NoError(t, q.Submit())

			seen := map[uint64]int{}
			for i := 0; i < 2; i++ {
				var (
					c   api.Completion
					ok  bool
					err error
				)
				for !ok {
					c, ok, err = q.Wait(100 * time.Millisecond)
					require.NoError(t, err)
				}
				q.Seen(c)
				q.Seen(c)
				seen[c.Tag]++
			}
			assert.Equal(t, map[uint64]int{1: 1, 2: 1}, seen)

			_, ok, err := q.Peek()
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestEmulated_DepthBoundsPreparedOps(t *testing.T) {
	q := open(t, transport.KindEmulated, 2)
	a, _ := socketPair(t)

	require.NoError(t, q.PrepareWrite(a, []byte("1"), false, 1))
	require.NoError(t, q.PrepareWrite(a, []byte("2"), false, 2))
	assert.ErrorIs(t, q.PrepareWrite(a, []byte("3"), false, 3), api.ErrQueueFull)

	require.NoError(t, q.Submit())
	assert.NoError(t, q.PrepareWrite(a, []byte("3"), false, 3))
}

func TestEmulated_ClosedRejectsWork(t *testing.T) {
	q, err := transport.Open(transport.Options{Kind: transport.KindEmulated, Depth: 4, Logger: quietLogger()})
	require.NoError(t, err)
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())
	assert.ErrorIs(t, q.PrepareAccept(3, 1), api.ErrClosed)
}
