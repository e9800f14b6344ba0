package pool_test

import (
	"math/rand"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-ingest/api"
	"github.com/momentics/hioload-ingest/pool"
)

type recordingRegistrar struct {
	calls  int
	region []byte
	err    error
}

func (r *recordingRegistrar) RegisterBuffers(region []byte) error {
	r.calls++
	r.region = region
	return r.err
}

func newPools(t *testing.T, count, size int) map[string]api.SlotPool {
	t.Helper()
	fixed, err := pool.NewSlotAllocator(count, size, nil)
	require.NoError(t, err)
	heap, err := pool.NewHeapBuffers(count, size)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = fixed.Close()
		_ = heap.Close()
	})
	return map[string]api.SlotPool{"fixed": fixed, "heap": heap}
}

func TestSlotAllocator_RegionAlignedZeroedRegistered(t *testing.T) {
	reg := &recordingRegistrar{}
	a, err := pool.NewSlotAllocator(16, 1024, reg)
	require.NoError(t, err)
	defer a.Close()

	require.Equal(t, 1, reg.calls)
	assert.Len(t, reg.region, 16*1024)
	assert.Zero(t, uintptr(unsafe.Pointer(&a.Region()[0]))%uintptr(pool.PageSize()))
	for _, b := range a.Region() {
		require.Zero(t, b)
	}
}

func TestSlotAllocator_RegistrationFailure(t *testing.T) {
	reg := &recordingRegistrar{err: api.ErrNotSupported}
	_, err := pool.NewSlotAllocator(4, 1024, reg)
	require.Error(t, err)
	assert.ErrorIs(t, err, api.ErrNotSupported)
}

func TestSlotAllocator_InvalidArguments(t *testing.T) {
	_, err := pool.NewSlotAllocator(0, 1024, nil)
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
	_, err = pool.NewHeapBuffers(4, 0)
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
}

func TestSlotAllocator_AddressOf(t *testing.T) {
	a, err := pool.NewSlotAllocator(8, 1024, nil)
	require.NoError(t, err)
	defer a.Close()

	base := uintptr(unsafe.Pointer(&a.Region()[0]))
	for i := 0; i < 8; i++ {
		b := a.Bytes(i)
		assert.Len(t, b, 1024)
		assert.Equal(t, 1024, cap(b))
		assert.Equal(t, base+uintptr(i*1024), uintptr(unsafe.Pointer(&b[0])))
	}
}

func TestSlotPools_LIFOAndExhaustion(t *testing.T) {
	for name, p := range newPools(t, 4, 64) {
		t.Run(name, func(t *testing.T) {
			got := make([]int, 0, 4)
			for i := 0; i < 4; i++ {
				s, ok := p.Acquire()
				require.True(t, ok)
				got = append(got, s)
			}
			assert.Equal(t, []int{3, 2, 1, 0}, got)

			_, ok := p.Acquire()
			assert.False(t, ok, "acquire on empty pool must report none")
			assert.Equal(t, 0, p.Free())

			require.NoError(t, p.Release(1))
			s, ok := p.Acquire()
			require.True(t, ok)
			assert.Equal(t, 1, s, "last released slot is reused first")
		})
	}
}

func TestSlotPools_ReleaseErrors(t *testing.T) {
	for name, p := range newPools(t, 2, 64) {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, p.Release(5), api.ErrInvalidSlot)
			assert.ErrorIs(t, p.Release(-1), api.ErrInvalidSlot)
			assert.ErrorIs(t, p.Release(0), api.ErrDoubleRelease)

			s, ok := p.Acquire()
			require.True(t, ok)
			require.NoError(t, p.Release(s))
			assert.ErrorIs(t, p.Release(s), api.ErrDoubleRelease)
			assert.Equal(t, 2, p.Free(), "failed releases must not grow the pool")
		})
	}
}

func TestSlotPools_ConservationAndNoDoubleAllocation(t *testing.T) {
	const capacity = 32
	for name, p := range newPools(t, capacity, 128) {
		t.Run(name, func(t *testing.T) {
			rng := rand.New(rand.NewSource(1))
			owned := map[int]bool{}
			for step := 0; step < 5000; step++ {
				if rng.Intn(2) == 0 {
					s, ok := p.Acquire()
					if len(owned) == capacity {
						require.False(t, ok)
					} else {
						require.True(t, ok)
						require.False(t, owned[s], "slot %d handed out twice", s)
						owned[s] = true
					}
				} else if len(owned) > 0 {
					for s := range owned {
						require.NoError(t, p.Release(s))
						delete(owned, s)
						break
					}
				}
				require.Equal(t, len(owned), p.Owned())
				require.Equal(t, capacity, p.Free()+p.Owned())
			}
		})
	}
}

func TestHeapBuffers_NotFixed(t *testing.T) {
	h, err := pool.NewHeapBuffers(2, 256)
	require.NoError(t, err)
	assert.False(t, h.Fixed())
	s, ok := h.Acquire()
	require.True(t, ok)
	assert.Len(t, h.Bytes(s), 256)
	assert.Equal(t, 256, h.SlotSize())
}
