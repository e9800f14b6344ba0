// File: internal/transport/doc.go
// Package transport
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Completion-queue backends behind api.CompletionQueue. The io_uring backend
// drives the kernel rings through internal/uring; the emulated backend runs
// each prepared operation as a blocking syscall on a goroutine and funnels
// results into a FIFO, keeping the same single-consumer contract so the
// reactor is oblivious to which one it drives.

package transport
