// File: packet/filter.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Batched admission filter. Bit i of a result mask is set when packet i of the
// batch carries the admin mask. Two forms exist: a branching scalar reference
// and a branch-free SWAR form (four 64-bit lanes holding two headers each).
// Both must agree bit for bit on every input.

package packet

import "math/bits"

const (
	swarLow  uint64 = 0x7FFF_FFFF_7FFF_FFFF
	swarHigh uint64 = 0x8000_0000_8000_0000
)

// ClassifyScalar is the reference implementation.
func ClassifyScalar(h *[BatchSize]uint32, mask uint32) uint8 {
	var out uint8
	for i := 0; i < BatchSize; i++ {
		if h[i]&mask != 0 {
			out |= 1 << i
		}
	}
	return out
}

// ClassifySWAR is the vectorized implementation.
func ClassifySWAR(h *[BatchSize]uint32, mask uint32) uint8 {
	m := uint64(mask) | uint64(mask)<<32

	w0 := (uint64(h[0]) | uint64(h[1])<<32) & m
	w1 := (uint64(h[2]) | uint64(h[3])<<32) & m
	w2 := (uint64(h[4]) | uint64(h[5])<<32) & m
	w3 := (uint64(h[6]) | uint64(h[7])<<32) & m

	// high bit of each 32-bit lane is set iff the lane is non-zero;
	// low 31 bits plus 0x7FFFFFFF never carry across the lane boundary
	w0 = (((w0 & swarLow) + swarLow) | w0) & swarHigh
	w1 = (((w1 & swarLow) + swarLow) | w1) & swarHigh
	w2 = (((w2 & swarLow) + swarLow) | w2) & swarHigh
	w3 = (((w3 & swarLow) + swarLow) | w3) & swarHigh

	return uint8(movemask(w0) | movemask(w1)<<2 | movemask(w2)<<4 | movemask(w3)<<6)
}

// movemask packs the two lane sign bits of w into bits 0 and 1.
func movemask(w uint64) uint64 {
	return (w>>31)&1 | (w>>62)&2
}

// GatherHeaders loads the headers of one full batch from buf.
// buf must hold at least BatchBytes bytes.
func GatherHeaders(buf []byte, h *[BatchSize]uint32) {
	_ = buf[BatchBytes-1]
	h[0] = HeaderAt(buf, 0)
	h[1] = HeaderAt(buf, 1)
	h[2] = HeaderAt(buf, 2)
	h[3] = HeaderAt(buf, 3)
	h[4] = HeaderAt(buf, 4)
	h[5] = HeaderAt(buf, 5)
	h[6] = HeaderAt(buf, 6)
	h[7] = HeaderAt(buf, 7)
}

// ClassifyBatch runs the vectorized filter over a decoded batch with AdminMask.
func ClassifyBatch(b *Batch) uint8 {
	var h [BatchSize]uint32
	for i := range b {
		h[i] = b[i].Header
	}
	return ClassifySWAR(&h, AdminMask)
}

// Verdict summarises the admission filter over one read.
type Verdict struct {
	// Mask is the classification of the first batch, or of the leading
	// partial batch when fewer than BatchSize packets arrived.
	Mask uint8
	// Packets is the number of whole packets inspected.
	Packets int
	// Batches is the number of full batches run through the vector path.
	Batches int
	// Admin is the number of inspected packets carrying the mask.
	Admin int
	// Drop is the admission decision: bit 0 of Mask.
	Drop bool
}

// Inspect classifies every whole packet of buf. Full batches take the SWAR
// path; a trailing partial batch falls back to per-packet scalar checks.
// Bytes past the last whole packet are ignored.
func Inspect(buf []byte, mask uint32) Verdict {
	var v Verdict
	var h [BatchSize]uint32

	full := len(buf) / BatchBytes
	for b := 0; b < full; b++ {
		GatherHeaders(buf[b*BatchBytes:], &h)
		m := ClassifySWAR(&h, mask)
		if b == 0 {
			v.Mask = m
		}
		v.Admin += bits.OnesCount8(m)
	}
	v.Batches = full
	v.Packets = full * BatchSize

	rest := buf[full*BatchBytes:]
	tail := len(rest) / Size
	var tm uint8
	for i := 0; i < tail; i++ {
		if HeaderAt(rest, i)&mask != 0 {
			tm |= 1 << i
		}
	}
	if full == 0 {
		v.Mask = tm
	}
	v.Admin += bits.OnesCount8(tm)
	v.Packets += tail

	v.Drop = v.Packets > 0 && v.Mask&1 != 0
	return v
}
