// Package cmd
// Author: momentics <momentics@gmail.com>
//
// Command-line entry: serve runs the ingest reactor, version reports the
// build and the completion backends available on this host.
package cmd
