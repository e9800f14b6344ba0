// File: control/metrics.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Reactor telemetry exported in Prometheus text format. Counters are fed by
// reactor events; gauges sample the reactor's Stats snapshot on scrape.

package control

import (
	"fmt"
	"io"

	"github.com/VictoriaMetrics/metrics"

	"github.com/momentics/hioload-ingest/api"
	"github.com/momentics/hioload-ingest/packet"
	"github.com/momentics/hioload-ingest/reactor"
)

// Metrics implements reactor.Observer over a private metrics set.
type Metrics struct {
	set *metrics.Set

	accepted *metrics.Counter
	rejected *metrics.Counter
	closed   map[reactor.CloseReason]*metrics.Counter
	reads    *metrics.Counter
	bytes    *metrics.Counter
	packets  *metrics.Counter
	admin    *metrics.Counter
	drops    *metrics.Counter
	errs     map[api.OpKind]*metrics.Counter
	readSize *metrics.Histogram
}

// NewMetrics registers the event counters.
func NewMetrics() *Metrics {
	s := metrics.NewSet()
	m := &Metrics{
		set:      s,
		accepted: s.NewCounter("hioload_connections_accepted_total"),
		rejected: s.NewCounter("hioload_connections_rejected_total"),
		closed:   make(map[reactor.CloseReason]*metrics.Counter),
		reads:    s.NewCounter("hioload_reads_total"),
		bytes:    s.NewCounter("hioload_read_bytes_total"),
		packets:  s.NewCounter("hioload_packets_total"),
		admin:    s.NewCounter("hioload_admin_packets_total"),
		drops:    s.NewCounter("hioload_batches_dropped_total"),
		errs:     make(map[api.OpKind]*metrics.Counter),
		readSize: s.NewHistogram("hioload_read_size_bytes"),
	}
	for _, r := range []reactor.CloseReason{reactor.ClosePeer, reactor.CloseError, reactor.CloseIdle, reactor.CloseShutdown} {
		m.closed[r] = s.NewCounter(fmt.Sprintf(`hioload_connections_closed_total{reason=%q}`, r))
	}
	for _, k := range []api.OpKind{api.OpAccept, api.OpRead, api.OpWrite} {
		m.errs[k] = s.NewCounter(fmt.Sprintf(`hioload_op_errors_total{op=%q}`, k))
	}
	return m
}

// TrackStats adds gauges sampled from stats at scrape time. Call once.
func (m *Metrics) TrackStats(stats func() reactor.Stats) {
	m.set.NewGauge("hioload_slots_free", func() float64 { return float64(stats().FreeSlots) })
	m.set.NewGauge("hioload_connections_live", func() float64 { return float64(stats().LiveConns) })
	m.set.NewGauge("hioload_ops_in_flight", func() float64 { return float64(stats().InFlight) })
	m.set.NewGauge("hioload_slots_capacity", func() float64 { return float64(stats().Capacity) })
}

func (m *Metrics) OnAccept(admitted bool) {
	if admitted {
		m.accepted.Inc()
		return
	}
	m.rejected.Inc()
}

func (m *Metrics) OnRead(n int, v packet.Verdict) {
	m.reads.Inc()
	m.bytes.Add(n)
	m.packets.Add(v.Packets)
	m.admin.Add(v.Admin)
	if v.Drop {
		m.drops.Inc()
	}
	m.readSize.Update(float64(n))
}

func (m *Metrics) OnClose(reason reactor.CloseReason) {
	if c, ok := m.closed[reason]; ok {
		c.Inc()
	}
}

func (m *Metrics) OnError(kind api.OpKind) {
	if c, ok := m.errs[kind]; ok {
		c.Inc()
	}
}

// WritePrometheus writes every metric in text exposition format.
func (m *Metrics) WritePrometheus(w io.Writer) {
	m.set.WritePrometheus(w)
}

var _ reactor.Observer = (*Metrics)(nil)
