// File: reactor/observer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor

import (
	"sync/atomic"

	"github.com/momentics/hioload-ingest/api"
	"github.com/momentics/hioload-ingest/packet"
)

// CloseReason tells why a connection left the reactor.
type CloseReason string

const (
	ClosePeer     CloseReason = "peer"
	CloseError    CloseReason = "error"
	CloseIdle     CloseReason = "idle"
	CloseShutdown CloseReason = "shutdown"
)

// Observer receives reactor events. Calls happen on the reactor goroutine
// and must not block.
type Observer interface {
	OnAccept(admitted bool)
	OnRead(n int, v packet.Verdict)
	OnClose(reason CloseReason)
	OnError(kind api.OpKind)
}

type nopObserver struct{}

func (nopObserver) OnAccept(bool) {}
func (nopObserver) OnRead(int, packet.Verdict) {}
func (nopObserver) OnClose(CloseReason) {}
func (nopObserver) OnError(api.OpKind) {}

// Stats is a point-in-time view of the reactor. Safe to request from any goroutine.
type Stats struct {
	Backend  string `json:"backend"`
	Buffers  string `json:"buffers"`
	Capacity int    `json:"capacity"`

	FreeSlots int `json:"free_slots"`
	LiveConns int `json:"live_conns"`
	InFlight  int `json:"in_flight"`

	Accepted     uint64 `json:"accepted"`
	Rejected     uint64 `json:"rejected"`
	Closed       uint64 `json:"closed"`
	Reaped       uint64 `json:"reaped"`
	Reads        uint64 `json:"reads"`
	Bytes        uint64 `json:"bytes"`
	Packets      uint64 `json:"packets"`
	AdminPackets uint64 `json:"admin_packets"`
	Drops        uint64 `json:"drops"`
	Acks         uint64 `json:"acks"`
	Errors       uint64 `json:"errors"`
}

type counters struct {
	free     atomic.Int64
	live     atomic.Int64
	inFlight atomic.Int64

	accepted atomic.Uint64
	rejected atomic.Uint64
	closed   atomic.Uint64
	reaped   atomic.Uint64
	reads    atomic.Uint64
	bytes    atomic.Uint64
	packets  atomic.Uint64
	admin    atomic.Uint64
	drops    atomic.Uint64
	acks     atomic.Uint64
	errors   atomic.Uint64
}
