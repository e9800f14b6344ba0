// File: packet/packet.go
// Package packet
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Fixed-layout packet record carried on the ingest stream.
// Records are little-endian and tightly packed; a read yields raw bytes that
// are interpreted as consecutive records with no framing.

package packet

import (
	"encoding/binary"
	"fmt"

	"github.com/momentics/hioload-ingest/api"
)

const (
	// Size is the wire size of one Packet.
	Size = 32

	// BatchSize is the number of packets classified in one filter pass.
	BatchSize = 8

	// BatchBytes is the wire size of one full batch.
	BatchBytes = Size * BatchSize

	// PayloadSize is the inline payload capacity of one Packet.
	PayloadSize = 16

	// AdminMask marks a privileged packet in Header.
	AdminMask uint32 = 0x8000_0000
)

// Packet is one fixed-size record. Header must stay the first field.
type Packet struct {
	Header   uint32
	Length   uint32
	Sequence uint64
	Payload  [PayloadSize]byte
}

// Batch is the unit processed by the admission filter.
type Batch [BatchSize]Packet

// IsAdmin reports whether the header carries any bit of mask.
func (p *Packet) IsAdmin(mask uint32) bool {
	return p.Header&mask != 0
}

// Encode writes p into dst, which must hold at least Size bytes.
func (p *Packet) Encode(dst []byte) error {
	if len(dst) < Size {
		return fmt.Errorf("packet encode: short buffer %d: %w", len(dst), api.ErrInvalidArgument)
	}
	binary.LittleEndian.PutUint32(dst[0:4], p.Header)
	binary.LittleEndian.PutUint32(dst[4:8], p.Length)
	binary.LittleEndian.PutUint64(dst[8:16], p.Sequence)
	copy(dst[16:Size], p.Payload[:])
	return nil
}

// Decode fills p from src, which must hold at least Size bytes.
func (p *Packet) Decode(src []byte) error {
	if len(src) < Size {
		return fmt.Errorf("packet decode: short buffer %d: %w", len(src), api.ErrInvalidArgument)
	}
	p.Header = binary.LittleEndian.Uint32(src[0:4])
	p.Length = binary.LittleEndian.Uint32(src[4:8])
	p.Sequence = binary.LittleEndian.Uint64(src[8:16])
	copy(p.Payload[:], src[16:Size])
	return nil
}

// AppendBatch encodes every packet of b to dst.
func AppendBatch(dst []byte, b *Batch) []byte {
	var rec [Size]byte
	for i := range b {
		_ = b[i].Encode(rec[:])
		dst = append(dst, rec[:]...)
	}
	return dst
}

// HeaderAt reads the header of the i-th record in buf without decoding the rest.
func HeaderAt(buf []byte, i int) uint32 {
	off := i * Size
	return binary.LittleEndian.Uint32(buf[off : off+4])
}
