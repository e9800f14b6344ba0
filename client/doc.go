// Package client
// Author: momentics <momentics@gmail.com>
//
// Client side of the ingest protocol: a packet connection and a concurrent
// load generator used by the send command and the end-to-end benchmarks.
package client
