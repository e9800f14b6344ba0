// File: control/hotreload.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Config file watching. The reactor geometry is fixed after Setup, so hooks
// only apply settings that are safe to change at runtime.

package control

import (
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Reloader re-decodes the configuration when the watched file changes and
// passes the result to the registered hooks.
type Reloader struct {
	v   *viper.Viper
	log logrus.FieldLogger

	mu    sync.Mutex
	hooks []func(*Config)
}

// NewReloader binds a reloader to an already loaded viper instance.
func NewReloader(v *viper.Viper, log logrus.FieldLogger) *Reloader {
	return &Reloader{v: v, log: log}
}

// OnReload registers a hook.
func (r *Reloader) OnReload(fn func(*Config)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, fn)
}

// Watch starts watching the config file. No-op without one.
func (r *Reloader) Watch() {
	if r.v.ConfigFileUsed() == "" {
		return
	}
	r.v.OnConfigChange(func(e fsnotify.Event) {
		r.log.WithField("file", e.Name).Info("config file changed")
		_ = r.Reload()
	})
	r.v.WatchConfig()
}

// Reload decodes the current configuration and runs every hook. An invalid
// configuration is logged and leaves the running one in place.
func (r *Reloader) Reload() error {
	cfg, err := Decode(r.v)
	if err != nil {
		r.log.WithError(err).Warn("config reload rejected")
		return err
	}
	r.mu.Lock()
	hooks := append(([]func(*Config))(nil), r.hooks...)
	r.mu.Unlock()
	for _, fn := range hooks {
		fn(cfg)
	}
	return nil
}
