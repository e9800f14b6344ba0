// File: reactor/optable.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Fixed-capacity table of in-flight operations. A completion tag is
// generation<<32 | index; the generation is bumped on every release so a
// stale or duplicated tag never resolves to a live entry.

package reactor

import (
	"fmt"

	"github.com/momentics/hioload-ingest/api"
)

// request is the context attached to one submitted operation.
type request struct {
	kind   api.OpKind
	fd     int
	slot   int
	serial uint32
}

type opEntry struct {
	req  request
	gen  uint32
	busy bool
}

type opTable struct {
	entries []opEntry
	free    []uint32
}

func newOpTable(capacity int) *opTable {
	t := &opTable{
		entries: make([]opEntry, capacity),
		free:    make([]uint32, 0, capacity),
	}
	for i := capacity - 1; i >= 0; i-- {
		t.free = append(t.free, uint32(i))
	}
	return t
}

func makeTag(gen, idx uint32) uint64 { return uint64(gen)<<32 | uint64(idx) }

// acquire stores req and returns its completion tag.
func (t *opTable) acquire(req request) (uint64, error) {
	n := len(t.free)
	if n == 0 {
		return 0, fmt.Errorf("op table full (%d): %w", len(t.entries), api.ErrResourceExhausted)
	}
	idx := t.free[n-1]
	t.free = t.free[:n-1]
	e := &t.entries[idx]
	e.req = req
	e.busy = true
	return makeTag(e.gen, idx), nil
}

// take resolves tag and releases its entry. Each tag resolves once.
func (t *opTable) take(tag uint64) (request, error) {
	idx := uint32(tag)
	gen := uint32(tag >> 32)
	if int(idx) >= len(t.entries) {
		return request{}, fmt.Errorf("tag %#x: %w", tag, api.ErrUnknownTag)
	}
	e := &t.entries[idx]
	if !e.busy || e.gen != gen {
		return request{}, fmt.Errorf("tag %#x: %w", tag, api.ErrUnknownTag)
	}
	req := e.req
	e.req = request{}
	e.busy = false
	e.gen++
	t.free = append(t.free, idx)
	return req, nil
}

func (t *opTable) inFlight() int { return len(t.entries) - len(t.free) }

func (t *opTable) capacity() int { return len(t.entries) }
