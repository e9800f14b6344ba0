//go:build unix
// +build unix

// File: reactor/options.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/momentics/hioload-ingest/api"
)

// Option customizes reactor construction.
type Option func(*Reactor)

// WithLogger sets the structured logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(r *Reactor) {
		r.log = log
	}
}

// WithObserver attaches a metrics sink.
func WithObserver(obs Observer) Option {
	return func(r *Reactor) {
		r.obs = obs
	}
}

// WithQueue injects a completion queue instead of opening one in Setup.
// The reactor does not close an injected queue.
func WithQueue(q api.CompletionQueue) Option {
	return func(r *Reactor) {
		r.queue = q
	}
}

// WithClock overrides the time source used for activity tracking.
func WithClock(now func() time.Time) Option {
	return func(r *Reactor) {
		r.now = now
	}
}
