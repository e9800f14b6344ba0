// File: cmd/root.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Version of the ingest server.
const Version = "0.3.0"

// RootCmd is the base command when called without any subcommands.
var RootCmd = &cobra.Command{
	Use:   "hioload-ingest",
	Short: "completion-queue TCP ingest server",
	Long: fmt.Sprintf(`hioload-ingest (v%s)

Single-threaded proactor that accepts TCP connections, reads fixed 32-byte
packets into pre-registered buffer slots and runs an 8-wide admission filter
over every batch. Linux io_uring is used when available.`, Version),
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(loadEnvFiles)
	RootCmd.AddCommand(serveCmd, versionCmd)
}

// loadEnvFiles reads .env and .env.local; variables already set win.
func loadEnvFiles() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
