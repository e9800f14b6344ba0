// File: client/client.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Packet client for the ingest server: dials, writes whole batches of
// fixed-size packets and optionally reads the 1-byte verdict acknowledgement.

package client

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/momentics/hioload-ingest/packet"
)

// Conn is one client connection. Not safe for concurrent use.
type Conn struct {
	conn         net.Conn
	seq          uint64
	buf          []byte
	writeTimeout time.Duration
}

// Dial connects to addr.
func Dial(ctx context.Context, addr string, writeTimeout time.Duration) (*Conn, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &Conn{
		conn:         c,
		buf:          make([]byte, 0, packet.BatchBytes),
		writeTimeout: writeTimeout,
	}, nil
}

// NextBatch fills a batch with consecutive sequence numbers; packet i
// carries packet.AdminMask when bit i of admin is set.
func (c *Conn) NextBatch(admin uint8) packet.Batch {
	var b packet.Batch
	for i := range b {
		b[i].Sequence = c.seq
		b[i].Length = packet.PayloadSize
		c.seq++
		if admin&(1<<i) != 0 {
			b[i].Header = packet.AdminMask
		}
	}
	return b
}

// SendBatch writes b as one contiguous 256-byte record.
func (c *Conn) SendBatch(b *packet.Batch) error {
	c.buf = packet.AppendBatch(c.buf[:0], b)
	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	_, err := c.conn.Write(c.buf)
	return err
}

// ReadAck waits for one verdict byte.
func (c *Conn) ReadAck(timeout time.Duration) (uint8, error) {
	if timeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	}
	var ack [1]byte
	if _, err := io.ReadFull(c.conn, ack[:]); err != nil {
		return 0, err
	}
	return ack[0], nil
}

// Sent is the number of packets written so far.
func (c *Conn) Sent() uint64 { return c.seq }

// LocalAddr is the client side of the connection.
func (c *Conn) LocalAddr() net.Addr { return c.conn.LocalAddr() }

func (c *Conn) Close() error { return c.conn.Close() }
