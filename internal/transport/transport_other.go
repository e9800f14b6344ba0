//go:build !linux
// +build !linux

// File: internal/transport/transport_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import (
	"github.com/sirupsen/logrus"

	"github.com/momentics/hioload-ingest/api"
)

func openUring(Options, logrus.FieldLogger) (api.CompletionQueue, error) {
	return nil, api.ErrNotSupported
}
