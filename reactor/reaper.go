//go:build unix
// +build unix

// File: reactor/reaper.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Idle connection reaper. Shutting the socket down completes the pending
// read with zero bytes, so the slot comes back through the regular
// disconnect path and never while the kernel may still write into it.

package reactor

import (
	"time"

	"golang.org/x/sys/unix"
)

func (r *Reactor) reap(now time.Time) int {
	if r.cfg.IdleTimeout <= 0 || r.closing {
		return 0
	}
	if now.Sub(r.lastReap) < r.cfg.ReapInterval {
		return 0
	}
	r.lastReap = now

	n := 0
	for slot := range r.conns {
		cs := &r.conns[slot]
		if !cs.active || cs.reaping || now.Sub(cs.lastActive) < r.cfg.IdleTimeout {
			continue
		}
		if err := unix.Shutdown(cs.fd, unix.SHUT_RDWR); err != nil {
			r.log.WithError(err).WithField("fd", cs.fd).Debug("idle shutdown")
			continue
		}
		cs.reaping = true
		n++
	}
	if n > 0 {
		r.log.WithField("count", n).Info("idle connections shut down")
	}
	return n
}
