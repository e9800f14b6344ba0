//go:build unix
// +build unix

// File: reactor/handlers.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Per-kind completion handlers.

package reactor

import (
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-ingest/api"
	"github.com/momentics/hioload-ingest/packet"
)

// onAccept re-arms the accept first, then admits the new descriptor or
// closes it when no slot is free.
func (r *Reactor) onAccept(res int32) {
	r.acceptArmed = false
	if r.closing {
		if res >= 0 {
			_ = unix.Close(int(res))
		}
		return
	}
	if err := r.armAccept(); err != nil {
		r.log.WithError(err).Warn("accept re-arm")
	}

	if res < 0 {
		errno := unix.Errno(-res)
		if errno != unix.EAGAIN && errno != unix.EINTR {
			r.stats.errors.Add(1)
			r.obs.OnError(api.OpAccept)
			r.log.WithField("errno", errno.Error()).Warn("accept failed")
		}
		return
	}

	fd := int(res)
	slot, ok := r.slots.Acquire()
	if !ok {
		_ = unix.Close(fd)
		r.stats.rejected.Add(1)
		r.obs.OnAccept(false)
		r.log.WithField("fd", fd).Debug("capacity reached, connection rejected")
		return
	}

	now := r.now()
	cs := &r.conns[slot]
	cs.serial++
	*cs = connState{
		fd:         fd,
		serial:     cs.serial,
		active:     true,
		accepted:   now,
		lastActive: now,
	}
	r.stats.accepted.Add(1)
	r.obs.OnAccept(true)
	r.log.WithFields(logrus.Fields{"fd": fd, "slot": slot}).Debug("connection accepted")

	if err := r.submitRead(slot); err != nil {
		r.stats.errors.Add(1)
		r.log.WithError(err).WithField("fd", fd).Warn("initial read not queued")
		r.closeConn(slot, CloseError)
	}
}

// onRead filters what arrived in the slot, then resubmits the read on the
// same slot or closes the connection.
func (r *Reactor) onRead(req request, res int32) {
	cs := &r.conns[req.slot]
	if !cs.active || cs.serial != req.serial {
		return
	}

	if res <= 0 || r.closing {
		reason := ClosePeer
		switch {
		case r.closing:
			reason = CloseShutdown
		case cs.reaping:
			reason = CloseIdle
		case res < 0:
			reason = CloseError
			r.stats.errors.Add(1)
			r.obs.OnError(api.OpRead)
			r.log.WithFields(logrus.Fields{
				"fd":    cs.fd,
				"errno": unix.Errno(-res).Error(),
			}).Debug("read failed")
		}
		r.closeConn(req.slot, reason)
		return
	}

	n := int(res)
	v := packet.Inspect(r.slots.Bytes(req.slot)[:n], r.cfg.AdminMask)
	cs.lastActive = r.now()
	cs.bytes += uint64(n)
	cs.packets += uint64(v.Packets)

	r.stats.reads.Add(1)
	r.stats.bytes.Add(uint64(n))
	r.stats.packets.Add(uint64(v.Packets))
	r.stats.admin.Add(uint64(v.Admin))
	if v.Drop {
		r.stats.drops.Add(1)
		r.log.WithFields(logrus.Fields{
			"fd":   cs.fd,
			"slot": req.slot,
			"mask": v.Mask,
		}).Debug("admin batch dropped")
	}
	r.obs.OnRead(n, v)

	if r.cfg.VerdictAck && !cs.ackPending {
		if err := r.submitAck(req.slot, v.Mask); err != nil {
			r.log.WithError(err).WithField("fd", cs.fd).Debug("verdict ack not queued")
		} else {
			cs.ackPending = true
		}
	}

	if err := r.submitRead(req.slot); err != nil {
		r.stats.errors.Add(1)
		r.log.WithError(err).WithField("fd", cs.fd).Warn("read resubmit")
		r.closeConn(req.slot, CloseError)
	}
}

func (r *Reactor) onWrite(req request, res int32) {
	cs := &r.conns[req.slot]
	if cs.active && cs.serial == req.serial {
		cs.ackPending = false
	}
	if res < 0 {
		r.log.WithFields(logrus.Fields{
			"fd":    req.fd,
			"errno": unix.Errno(-res).Error(),
		}).Debug("verdict ack failed")
		return
	}
	r.stats.acks.Add(1)
}
