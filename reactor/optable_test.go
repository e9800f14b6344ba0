//go:build unix

package reactor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-ingest/api"
)

func TestOpTable_TakeExactlyOnce(t *testing.T) {
	tab := newOpTable(4)
	tag, err := tab.acquire(request{kind: api.OpRead, fd: 7, slot: 3})
	require.NoError(t, err)
	assert.Equal(t, 1, tab.inFlight())

	req, err := tab.take(tag)
	require.NoError(t, err)
	assert.Equal(t, request{kind: api.OpRead, fd: 7, slot: 3}, req)
	assert.Equal(t, 0, tab.inFlight())

	_, err = tab.take(tag)
	assert.ErrorIs(t, err, api.ErrUnknownTag)
}

func TestOpTable_StaleTagAfterReuse(t *testing.T) {
	tab := newOpTable(1)
	old, err := tab.acquire(request{kind: api.OpAccept, fd: 3, slot: -1})
	require.NoError(t, err)
	_, err = tab.take(old)
	require.NoError(t, err)

	fresh, err := tab.acquire(request{kind: api.OpRead, fd: 9, slot: 0})
	require.NoError(t, err)
	assert.Equal(t, uint32(old), uint32(fresh), "index is reused")
	assert.NotEqual(t, old, fresh, "generation differs")

	_, err = tab.take(old)
	assert.ErrorIs(t, err, api.ErrUnknownTag)
	req, err := tab.take(fresh)
	require.NoError(t, err)
	assert.Equal(t, 9, req.fd)
}

func TestOpTable_CapacityAndForeignTags(t *testing.T) {
	tab := newOpTable(2)
	_, err := tab.acquire(request{})
	require.NoError(t, err)
	_, err = tab.acquire(request{})
	require.NoError(t, err)
	_, err = tab.acquire(request{})
	assert.ErrorIs(t, err, api.ErrResourceExhausted)

	_, err = tab.take(makeTag(0, 99))
	assert.ErrorIs(t, err, api.ErrUnknownTag)
	_, err = tab.take(^uint64(0))
	assert.ErrorIs(t, err, api.ErrUnknownTag)
	assert.Equal(t, 2, tab.inFlight())
}

func TestOpTable_FirstTagsAreLowIndices(t *testing.T) {
	tab := newOpTable(3)
	tag, err := tab.acquire(request{})
	require.NoError(t, err)
	assert.Equal(t, uint64(0), tag)
}
