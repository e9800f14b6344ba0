// File: cmd/send.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/momentics/hioload-ingest/client"
	applog "github.com/momentics/hioload-ingest/internal/log"
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Generate packet traffic against a running server",
	Long: `Open --connections concurrent connections and write --batches batches of
eight packets on each. --admin-ratio sets the share of packets carrying the
admin mask; --acks expects the server to run with --verdict-ack.`,
	PreRunE: func(cmd *cobra.Command, _ []string) error {
		return viper.BindPFlags(cmd.Flags())
	},
	RunE: runSend,
}

func init() {
	f := sendCmd.Flags()
	f.String("addr", "127.0.0.1:9090", "server address")
	f.Int("connections", 4, "concurrent connections")
	f.Int("batches", 1000, "batches per connection")
	f.Float64("admin-ratio", 0, "probability that a packet carries the admin mask (0..1)")
	f.Duration("interval", 0, "pause between batches on one connection")
	f.Bool("acks", false, "read the verdict byte after each batch")
	f.Int64("seed", time.Now().UnixNano(), "random seed for admin selection")
	f.String("send-log-level", "info", "log level")
	RootCmd.AddCommand(sendCmd)
}

func runSend(cmd *cobra.Command, _ []string) error {
	logger, _, err := applog.New(applog.Config{Level: viper.GetString("send-log-level")})
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rep, err := client.Run(ctx, client.Config{
		Addr:         viper.GetString("addr"),
		Connections:  viper.GetInt("connections"),
		Batches:      viper.GetInt("batches"),
		AdminRatio:   viper.GetFloat64("admin-ratio"),
		Interval:     viper.GetDuration("interval"),
		WriteTimeout: 5 * time.Second,
		Acks:         viper.GetBool("acks"),
		Seed:         viper.GetInt64("seed"),
	}, logger)
	if err != nil {
		return err
	}

	rate := 0.0
	if rep.Elapsed > 0 {
		rate = float64(rep.Packets) / rep.Elapsed.Seconds()
	}
	logger.WithFields(logrus.Fields{
		"connections":    rep.Connections,
		"failed":         rep.Failed,
		"batches":        rep.Batches,
		"packets":        rep.Packets,
		"admin_packets":  rep.AdminPackets,
		"drop_expected":  rep.DropExpected,
		"acks":           rep.Acks,
		"ack_mismatches": rep.AckMismatches,
		"elapsed":        rep.Elapsed.String(),
		"packets_per_s":  fmt.Sprintf("%.0f", rate),
	}).Info("load finished")
	return nil
}
