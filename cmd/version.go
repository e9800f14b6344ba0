// File: cmd/version.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/momentics/hioload-ingest/internal/transport"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and backend availability",
	Run: func(cmd *cobra.Command, _ []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "hioload-ingest v%s (%s %s/%s)\n", Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		fmt.Fprintf(out, "io_uring: %t, auto backend: %s\n", transport.HasIoUringSupport(), transport.RuntimeTransportSelector())
	},
}
