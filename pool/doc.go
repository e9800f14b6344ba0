// Package pool
// Author: momentics <momentics@gmail.com>
//
// Memory layer for hioload-ingest connection I/O.
// SlotAllocator carves one page-aligned, kernel-registered region into fixed
// slots for zero-copy reads; HeapBuffers offers the same slot contract over
// ordinary heap buffers. Both hand out at most one slot per connection and
// double as the server's admission-control limit.
package pool
