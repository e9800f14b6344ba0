// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor implements the single-threaded completion-driven ingest
// reactor: one armed accept, one slot-backed read per connection, the batch
// admission filter on every read and an opt-in idle reaper. All reactor state
// is owned by the goroutine calling Run.
package reactor
