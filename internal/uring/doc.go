// File: internal/uring/doc.go
// Package uring
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Thin io_uring binding used by the completion-queue transport: ring setup
// with optional kernel submission polling, one registered buffer region,
// accept/read/write (plain and fixed) preparation and single-consumer
// completion reaping with a bounded wait. Linux only; other platforms see an
// empty package.

package uring
