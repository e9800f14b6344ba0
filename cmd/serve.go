// File: cmd/serve.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/momentics/hioload-ingest/api"
	"github.com/momentics/hioload-ingest/control"
	applog "github.com/momentics/hioload-ingest/internal/log"
	"github.com/momentics/hioload-ingest/reactor"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ingest reactor",
	Long: `Run the ingest reactor until SIGINT or SIGTERM.

Every flag can also be set in the config file (--config) or through the
environment as HIOLOAD_<SECTION>_<KEY>, e.g. HIOLOAD_REACTOR_MAX_CONNECTIONS=256.
.env and .env.local in the working directory are loaded first.`,
	RunE: runServe,
}

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"config":          control.KeyConfigFile,
	"host":            "reactor.host",
	"port":            "reactor.port",
	"backlog":         "reactor.backlog",
	"max-connections": "reactor.max-connections",
	"queue-depth":     "reactor.queue-depth",
	"slot-size":       "reactor.slot-size",
	"backend":         "reactor.backend",
	"sqpoll":          "reactor.sqpoll",
	"sqpoll-idle":     "reactor.sqpoll-idle",
	"buffers":         "reactor.buffers",
	"mode":            "reactor.mode",
	"verdict-ack":     "reactor.verdict-ack",
	"pin-cpu":         "reactor.pin-cpu",
	"cpu":             "reactor.cpu",
	"idle-timeout":    "reactor.idle-timeout",
	"reap-interval":   "reactor.reap-interval",
	"drain-timeout":   "reactor.drain-timeout",
	"log-level":       "log.level",
	"log-format":      "log.format",
	"log-file":        "log.file.path",
	"control-listen":  "control.listen",
	"watch-config":    "control.watch",
}

func init() {
	addServeFlags(serveCmd.Flags())
}

func addServeFlags(f *pflag.FlagSet) {
	d := reactor.DefaultConfig()
	f.String("config", "", "configuration file (yaml, toml or json)")
	f.String("host", d.Host, "listen address, empty for all interfaces")
	f.Int("port", d.Port, "listen port")
	f.Int("backlog", d.Backlog, "listen backlog")
	f.Int("max-connections", d.MaxConnections, "buffer slots, one per connection")
	f.Uint32("queue-depth", d.QueueDepth, "submission queue depth")
	f.Int("slot-size", d.SlotSize, "bytes per buffer slot")
	f.String("backend", d.Backend, "completion backend: auto, io_uring or emulated")
	f.Bool("sqpoll", d.SQPoll, "kernel submission polling thread (io_uring)")
	f.Duration("sqpoll-idle", d.SQThreadIdle, "submission thread idle time before it sleeps")
	f.String("buffers", d.Buffers, "buffer strategy: fixed (registered region) or heap")
	f.String("mode", d.Mode, "completion retrieval: blocking or poll")
	f.Bool("verdict-ack", d.VerdictAck, "write the 1-byte filter mask back after each read")
	f.Bool("pin-cpu", d.PinCPU, "pin the reactor thread to --cpu")
	f.Int("cpu", d.CPU, "logical CPU for --pin-cpu")
	f.Duration("idle-timeout", d.IdleTimeout, "close connections idle this long, 0 disables")
	f.Duration("reap-interval", d.ReapInterval, "idle scan period")
	f.Duration("drain-timeout", d.DrainTimeout, "bound on in-flight drain at shutdown")
	f.String("log-level", "info", "log level (trace, debug, info, warn, error)")
	f.String("log-format", "text", "log format: text or json")
	f.String("log-file", "", "also log to this rotated file")
	f.String("control-listen", "", "metrics and debug HTTP address, empty disables")
	f.Bool("watch-config", false, "reload the log level when the config file changes")
}

// loadConfig binds flags into v and decodes the layered configuration.
func loadConfig(v *viper.Viper, flags *pflag.FlagSet) (*control.Config, error) {
	for name, key := range flagKeys {
		if f := flags.Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}
	return control.Load(v)
}

func runServe(cmd *cobra.Command, _ []string) error {
	v := viper.GetViper()
	cfg, err := loadConfig(v, cmd.Flags())
	if err != nil {
		return err
	}

	logger, closer, err := applog.New(cfg.Log)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := control.NewMetrics()
	r, err := reactor.New(cfg.ReactorConfig(), reactor.WithLogger(logger), reactor.WithObserver(metrics))
	if err != nil {
		return err
	}
	if err := r.Setup(); err != nil {
		return fmt.Errorf("reactor setup: %w", err)
	}
	metrics.TrackStats(r.Stats)

	probes := control.NewDebugProbes()
	control.RegisterPlatformProbes(probes)
	probes.RegisterProbe("reactor", func() any { return r.Stats() })

	if cfg.Control.Listen != "" {
		srv := control.NewServer(metrics, probes, logger)
		go func() {
			if err := srv.ListenAndServe(ctx, cfg.Control.Listen); err != nil {
				logger.WithError(err).Error("control endpoint stopped")
			}
		}()
	}
	if cfg.Control.Watch {
		reloader := control.NewReloader(v, logger)
		reloader.OnReload(func(c *control.Config) {
			if err := applog.SetLevel(logger, c.Log.Level); err == nil {
				logger.WithField("level", c.Log.Level).Info("log level reloaded")
			}
		})
		reloader.Watch()
	}

	runErr := r.Run(ctx)
	closeErr := r.Close()
	if runErr != nil {
		logger.WithError(runErr).WithFields(logrus.Fields{
			"code":    api.CodeOf(runErr).String(),
			"backend": r.Stats().Backend,
		}).Fatal("reactor failed")
	}
	return closeErr
}
