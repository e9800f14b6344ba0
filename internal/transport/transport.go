// Package transport
// Author: momentics <momentics@gmail.com>
//
// Platform-independent factory for completion-queue backends.

package transport

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/momentics/hioload-ingest/api"
)

// Options selects and sizes a backend.
type Options struct {
	// Kind is "auto", "io_uring" or "emulated".
	Kind string
	// Depth bounds the number of prepared, not yet submitted operations.
	Depth uint32
	// SQPoll enables the kernel submission thread on io_uring.
	SQPoll       bool
	SQThreadIdle time.Duration
	Logger       logrus.FieldLogger
}

// Open creates the completion queue described by opts.
func Open(opts Options) (api.CompletionQueue, error) {
	if opts.Depth == 0 {
		return nil, fmt.Errorf("queue depth must be positive: %w", api.ErrInvalidArgument)
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	kind := strings.ToLower(strings.TrimSpace(opts.Kind))
	if kind == "" || kind == KindAuto {
		kind = RuntimeTransportSelector()
	}
	log := opts.Logger.WithField("backend", kind)

	switch kind {
	case KindIoUring:
		q, err := openUring(opts, log)
		if err != nil {
			return nil, api.Wrap(api.ErrCodeSetup, "io_uring backend", err)
		}
		return q, nil
	case KindEmulated:
		return newEmulated(int(opts.Depth), log), nil
	default:
		return nil, fmt.Errorf("unknown backend %q: %w", opts.Kind, api.ErrInvalidArgument)
	}
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
