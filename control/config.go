// File: control/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Layered configuration: defaults, optional config file, HIOLOAD_* environment
// and bound command-line flags, decoded through viper.

package control

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/momentics/hioload-ingest/internal/log"
	"github.com/momentics/hioload-ingest/reactor"
)

// EnvPrefix namespaces environment overrides, e.g. HIOLOAD_REACTOR_PORT.
const EnvPrefix = "HIOLOAD"

// KeyConfigFile names the optional configuration file.
const KeyConfigFile = "config"

// Config is the full process configuration.
type Config struct {
	Reactor ReactorConfig `mapstructure:"reactor"`
	Log     log.Config    `mapstructure:"log"`
	Control ServerConfig  `mapstructure:"control"`
}

// ReactorConfig mirrors reactor.Config with configuration keys.
type ReactorConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	Backlog        int           `mapstructure:"backlog"`
	MaxConnections int           `mapstructure:"max-connections"`
	QueueDepth     uint32        `mapstructure:"queue-depth"`
	SlotSize       int           `mapstructure:"slot-size"`
	Backend        string        `mapstructure:"backend"`
	SQPoll         bool          `mapstructure:"sqpoll"`
	SQThreadIdle   time.Duration `mapstructure:"sqpoll-idle"`
	Buffers        string        `mapstructure:"buffers"`
	Mode           string        `mapstructure:"mode"`
	WaitTimeout    time.Duration `mapstructure:"wait-timeout"`
	AdminMask      uint32        `mapstructure:"admin-mask"`
	VerdictAck     bool          `mapstructure:"verdict-ack"`
	PinCPU         bool          `mapstructure:"pin-cpu"`
	CPU            int           `mapstructure:"cpu"`
	IdleTimeout    time.Duration `mapstructure:"idle-timeout"`
	ReapInterval   time.Duration `mapstructure:"reap-interval"`
	DrainTimeout   time.Duration `mapstructure:"drain-timeout"`
}

// ServerConfig configures the HTTP control listener. An empty Listen
// disables it.
type ServerConfig struct {
	Listen string `mapstructure:"listen"`
	// Watch reloads the config file on change (log level only).
	Watch bool `mapstructure:"watch"`
}

// SetDefaults registers every key with its default so that environment
// overrides are seen by Unmarshal.
func SetDefaults(v *viper.Viper) {
	d := reactor.DefaultConfig()
	v.SetDefault("reactor.host", d.Host)
	v.SetDefault("reactor.port", d.Port)
	v.SetDefault("reactor.backlog", d.Backlog)
	v.SetDefault("reactor.max-connections", d.MaxConnections)
	v.SetDefault("reactor.queue-depth", d.QueueDepth)
	v.SetDefault("reactor.slot-size", d.SlotSize)
	v.SetDefault("reactor.backend", d.Backend)
	v.SetDefault("reactor.sqpoll", d.SQPoll)
	v.SetDefault("reactor.sqpoll-idle", d.SQThreadIdle)
	v.SetDefault("reactor.buffers", d.Buffers)
	v.SetDefault("reactor.mode", d.Mode)
	v.SetDefault("reactor.wait-timeout", d.WaitTimeout)
	v.SetDefault("reactor.admin-mask", d.AdminMask)
	v.SetDefault("reactor.verdict-ack", d.VerdictAck)
	v.SetDefault("reactor.pin-cpu", d.PinCPU)
	v.SetDefault("reactor.cpu", d.CPU)
	v.SetDefault("reactor.idle-timeout", d.IdleTimeout)
	v.SetDefault("reactor.reap-interval", d.ReapInterval)
	v.SetDefault("reactor.drain-timeout", d.DrainTimeout)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file.path", "")
	v.SetDefault("log.file.max-size-mb", 100)
	v.SetDefault("log.file.max-backups", 5)
	v.SetDefault("log.file.max-age-days", 30)
	v.SetDefault("log.file.compress", true)

	v.SetDefault("control.listen", "")
	v.SetDefault("control.watch", false)
}

// Load applies defaults and environment binding to v, reads the config file
// named by KeyConfigFile when set, and decodes the result.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path := v.GetString(KeyConfigFile); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}
	return Decode(v)
}

// Decode unmarshals and validates the current state of v.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	if err := c.ReactorConfig().Validate(); err != nil {
		return fmt.Errorf("reactor: %w", err)
	}
	return nil
}

// ReactorConfig converts the reactor section.
func (c *Config) ReactorConfig() reactor.Config {
	r := c.Reactor
	return reactor.Config{
		Host:           r.Host,
		Port:           r.Port,
		Backlog:        r.Backlog,
		MaxConnections: r.MaxConnections,
		QueueDepth:     r.QueueDepth,
		SlotSize:       r.SlotSize,
		Backend:        r.Backend,
		SQPoll:         r.SQPoll,
		SQThreadIdle:   r.SQThreadIdle,
		Buffers:        r.Buffers,
		Mode:           r.Mode,
		WaitTimeout:    r.WaitTimeout,
		AdminMask:      r.AdminMask,
		VerdictAck:     r.VerdictAck,
		PinCPU:         r.PinCPU,
		CPU:            r.CPU,
		IdleTimeout:    r.IdleTimeout,
		ReapInterval:   r.ReapInterval,
		DrainTimeout:   r.DrainTimeout,
	}
}
